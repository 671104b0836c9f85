package collector

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/0gfoundation/0g-escrow/internal/events"
	"github.com/0gfoundation/0g-escrow/internal/payment"
	"github.com/0gfoundation/0g-escrow/internal/store"
)

const PreApprovalName = "pre-approval"

// AllowanceSpender moves tokens on behalf of an owner who approved the caller.
type AllowanceSpender interface {
	TransferFrom(ctx context.Context, spender, token, from, to common.Address, amount *big.Int) error
}

// StateReader exposes the escrow ledger entry for a payment.
type StateReader interface {
	PaymentState(ctx context.Context, info payment.Info) (payment.State, error)
}

// PreApproval collects through a token allowance the payer granted to this
// collector, but only for payments the payer explicitly registered first.
// An approval is consumed by the collection it enables.
type PreApproval struct {
	bound
	db     *store.DB
	hasher payment.Hasher
	tokens AllowanceSpender
	states StateReader
	now    func() time.Time
}

func NewPreApproval(escrow common.Address, db *store.DB, hasher payment.Hasher, tokens AllowanceSpender, states StateReader) *PreApproval {
	return &PreApproval{
		bound:  newBound(escrow, PreApprovalName),
		db:     db,
		hasher: hasher,
		tokens: tokens,
		states: states,
		now:    time.Now,
	}
}

// SetClock overrides the time source used for the pre-approval window.
func (c *PreApproval) SetClock(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	c.now = now
}

func (c *PreApproval) Type() Type { return TypePayment }

func preApprovalKey(hash common.Hash) string {
	return "collector:preapproval:" + strings.ToLower(hash.Hex())
}

// PreApprove registers info for collection. Only the payer may call it, and
// only before preApprovalExpiry for a payment that was not collected yet.
func (c *PreApproval) PreApprove(ctx context.Context, sender common.Address, info payment.Info) error {
	if sender != info.Payer {
		return ErrOnlyPayer
	}
	now := c.now()
	if uint64(now.Unix()) >= info.PreApprovalExpiry {
		return ErrPreApprovalExpired
	}
	return c.db.Update(ctx, func(ctx context.Context, tx *store.Tx) error {
		st, err := c.states.PaymentState(ctx, info)
		if err != nil {
			return err
		}
		if st.Collected {
			return ErrAlreadyCollected
		}
		hash := c.hasher.Hash(info)
		tx.Put(preApprovalKey(hash), []byte("1"))

		ev := events.New(events.TypePaymentPreApproved, now)
		ev.PaymentHash = hash
		cp := info.Clone()
		ev.Info = &cp
		ev.Collector = events.Addr(c.address)
		tx.Emit(ev)
		return nil
	})
}

// IsPreApproved reports whether info has an unused pre-approval.
func (c *PreApproval) IsPreApproved(ctx context.Context, info payment.Info) (bool, error) {
	var ok bool
	err := c.db.View(ctx, func(ctx context.Context, tx *store.Tx) error {
		_, found, err := tx.Get(ctx, preApprovalKey(c.hasher.Hash(info)))
		ok = found
		return err
	})
	return ok, err
}

func (c *PreApproval) CollectTokens(ctx context.Context, sender common.Address, info payment.Info, custody common.Address, amount *big.Int, _ []byte) error {
	if err := c.checkSender(sender); err != nil {
		return err
	}
	return c.db.Update(ctx, func(ctx context.Context, tx *store.Tx) error {
		key := preApprovalKey(c.hasher.Hash(info))
		_, found, err := tx.Get(ctx, key)
		if err != nil {
			return err
		}
		if !found {
			return ErrNotPreApproved
		}
		tx.Delete(key)
		return c.tokens.TransferFrom(ctx, c.address, info.Token, info.Payer, custody, amount)
	})
}
