// Package token keeps fungible token balances and allowances in the shared
// transactional store, so token movements commit or roll back together with
// the escrow ledger entries that caused them.
package token

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/0gfoundation/0g-escrow/internal/store"
)

var (
	ErrInvalidAmount         = errors.New("token: invalid amount")
	ErrInsufficientBalance   = errors.New("token: insufficient balance")
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
	ErrBalanceOverflow       = errors.New("token: balance overflow")
	ErrDenylisted            = errors.New("token: address is denylisted")
	ErrZeroAddress           = errors.New("token: zero address")
	ErrRecipientHookFailed   = errors.New("token: recipient hook failed")
)

// ReceiveHook runs after tokens are credited to the holder it is registered
// for. It executes inside the transferring transaction; returning an error
// fails the transfer.
type ReceiveHook func(ctx context.Context, token, from common.Address, amount *big.Int) error

// Ledger is the token book. Denylists and receive hooks are process-local
// policy and are not persisted.
type Ledger struct {
	db      *store.DB
	chainID *big.Int
	now     func() time.Time

	mu     sync.RWMutex
	denied map[common.Address]map[common.Address]bool
	hooks  map[common.Address]ReceiveHook
}

func NewLedger(db *store.DB, chainID *big.Int) *Ledger {
	return &Ledger{
		db:      db,
		chainID: new(big.Int).Set(chainID),
		now:     time.Now,
		denied:  make(map[common.Address]map[common.Address]bool),
		hooks:   make(map[common.Address]ReceiveHook),
	}
}

// SetClock overrides the time source used for authorization validity windows.
func (l *Ledger) SetClock(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	l.now = now
}

// ChainID returns the chain ID used in authorization domains.
func (l *Ledger) ChainID() *big.Int { return new(big.Int).Set(l.chainID) }

// Deny blocks every transfer of token to or from holder.
func (l *Ledger) Deny(token, holder common.Address) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.denied[token] == nil {
		l.denied[token] = make(map[common.Address]bool)
	}
	l.denied[token][holder] = true
}

// Allow lifts a previous Deny.
func (l *Ledger) Allow(token, holder common.Address) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.denied[token], holder)
}

func (l *Ledger) isDenied(token, holder common.Address) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.denied[token][holder]
}

// SetReceiveHook registers (or, with nil, removes) a hook for holder.
func (l *Ledger) SetReceiveHook(holder common.Address, hook ReceiveHook) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if hook == nil {
		delete(l.hooks, holder)
		return
	}
	l.hooks[holder] = hook
}

func (l *Ledger) hook(holder common.Address) ReceiveHook {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.hooks[holder]
}

// ── keys ──────────────────────────────────────────────────────────────────────

func addrKey(a common.Address) string { return strings.ToLower(a.Hex()) }

func balanceKey(token, holder common.Address) string {
	return "token:" + addrKey(token) + ":balance:" + addrKey(holder)
}

func allowanceKey(token, owner, spender common.Address) string {
	return "token:" + addrKey(token) + ":allowance:" + addrKey(owner) + ":" + addrKey(spender)
}

func authorizationKey(token, from common.Address, nonce common.Hash) string {
	return "token:" + addrKey(token) + ":authorization:" + addrKey(from) + ":" + nonce.Hex()
}

// ── reads ─────────────────────────────────────────────────────────────────────

func (l *Ledger) BalanceOf(ctx context.Context, token, holder common.Address) (*big.Int, error) {
	var out *big.Int
	err := l.db.View(ctx, func(ctx context.Context, tx *store.Tx) error {
		v, err := readUint(ctx, tx, balanceKey(token, holder))
		if err != nil {
			return err
		}
		out = v.ToBig()
		return nil
	})
	return out, err
}

func (l *Ledger) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	var out *big.Int
	err := l.db.View(ctx, func(ctx context.Context, tx *store.Tx) error {
		v, err := readUint(ctx, tx, allowanceKey(token, owner, spender))
		if err != nil {
			return err
		}
		out = v.ToBig()
		return nil
	})
	return out, err
}

// ── writes ────────────────────────────────────────────────────────────────────

// Mint credits amount of token to holder out of thin air.
func (l *Ledger) Mint(ctx context.Context, token, to common.Address, amount *big.Int) error {
	amt, err := toUint(amount)
	if err != nil {
		return err
	}
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	return l.db.Update(ctx, func(ctx context.Context, tx *store.Tx) error {
		bal, err := readUint(ctx, tx, balanceKey(token, to))
		if err != nil {
			return err
		}
		sum, overflow := new(uint256.Int).AddOverflow(bal, amt)
		if overflow {
			return ErrBalanceOverflow
		}
		writeUint(tx, balanceKey(token, to), sum)
		return nil
	})
}

// Transfer moves amount of token from one holder to another.
func (l *Ledger) Transfer(ctx context.Context, token, from, to common.Address, amount *big.Int) error {
	amt, err := toUint(amount)
	if err != nil {
		return err
	}
	return l.db.Update(ctx, func(ctx context.Context, tx *store.Tx) error {
		return l.move(ctx, tx, token, from, to, amt)
	})
}

// Approve sets the amount spender may move out of owner's balance.
func (l *Ledger) Approve(ctx context.Context, token, owner, spender common.Address, amount *big.Int) error {
	amt, err := toUint(amount)
	if err != nil {
		return err
	}
	if spender == (common.Address{}) {
		return ErrZeroAddress
	}
	return l.db.Update(ctx, func(ctx context.Context, tx *store.Tx) error {
		writeUint(tx, allowanceKey(token, owner, spender), amt)
		return nil
	})
}

// TransferFrom moves amount out of from's balance on behalf of spender,
// consuming allowance.
func (l *Ledger) TransferFrom(ctx context.Context, spender, token, from, to common.Address, amount *big.Int) error {
	amt, err := toUint(amount)
	if err != nil {
		return err
	}
	return l.db.Update(ctx, func(ctx context.Context, tx *store.Tx) error {
		key := allowanceKey(token, from, spender)
		allowed, err := readUint(ctx, tx, key)
		if err != nil {
			return err
		}
		if allowed.Lt(amt) {
			return fmt.Errorf("%w: spender %s has %s, needs %s", ErrInsufficientAllowance, spender.Hex(), allowed.Dec(), amt.Dec())
		}
		writeUint(tx, key, new(uint256.Int).Sub(allowed, amt))
		return l.move(ctx, tx, token, from, to, amt)
	})
}

func (l *Ledger) move(ctx context.Context, tx *store.Tx, token, from, to common.Address, amt *uint256.Int) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	if l.isDenied(token, from) {
		return fmt.Errorf("%w: %s", ErrDenylisted, from.Hex())
	}
	if l.isDenied(token, to) {
		return fmt.Errorf("%w: %s", ErrDenylisted, to.Hex())
	}
	fromBal, err := readUint(ctx, tx, balanceKey(token, from))
	if err != nil {
		return err
	}
	if fromBal.Lt(amt) {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, from.Hex(), fromBal.Dec(), amt.Dec())
	}
	if from != to {
		toBal, err := readUint(ctx, tx, balanceKey(token, to))
		if err != nil {
			return err
		}
		sum, overflow := new(uint256.Int).AddOverflow(toBal, amt)
		if overflow {
			return ErrBalanceOverflow
		}
		writeUint(tx, balanceKey(token, from), new(uint256.Int).Sub(fromBal, amt))
		writeUint(tx, balanceKey(token, to), sum)
	}
	if hook := l.hook(to); hook != nil {
		if err := hook(ctx, token, from, amt.ToBig()); err != nil {
			return fmt.Errorf("%w: %w", ErrRecipientHookFailed, err)
		}
	}
	return nil
}

// ── encoding ──────────────────────────────────────────────────────────────────

func toUint(v *big.Int) (*uint256.Int, error) {
	if v == nil || v.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	out, overflow := uint256.FromBig(v)
	if overflow {
		return nil, fmt.Errorf("%w: exceeds 256 bits", ErrInvalidAmount)
	}
	return out, nil
}

func readUint(ctx context.Context, tx *store.Tx, key string) (*uint256.Int, error) {
	raw, ok, err := tx.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return new(uint256.Int), nil
	}
	v, err := uint256.FromDecimal(string(raw))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return v, nil
}

func writeUint(tx *store.Tx, key string, v *uint256.Int) {
	if v.IsZero() {
		tx.Delete(key)
		return
	}
	tx.Put(key, []byte(v.Dec()))
}
