package escrow

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/0gfoundation/0g-escrow/internal/collector"
	"github.com/0gfoundation/0g-escrow/internal/events"
	"github.com/0gfoundation/0g-escrow/internal/payment"
	"github.com/0gfoundation/0g-escrow/internal/store"
)

// Authorize pulls amount from the payer into the operator's custody store and
// leaves it capturable. Only info.Operator may call it, once per payment.
func (e *Escrow) Authorize(ctx context.Context, sender common.Address, info payment.Info, amount *big.Int, collectorAddr common.Address, data []byte) error {
	hash := e.hasher.Hash(info)
	return e.run(ctx, "authorize", hash, func(ctx context.Context, tx *store.Tx) error {
		if sender != info.Operator {
			return ErrInvalidSender
		}
		if err := checkAmount(amount, false); err != nil {
			return err
		}
		if err := e.validatePayment(info, amount); err != nil {
			return err
		}
		st, err := loadState(ctx, tx, hash)
		if err != nil {
			return err
		}
		if st.Collected {
			return ErrPaymentAlreadyCollected
		}

		st = payment.State{Collected: true, Capturable: new(big.Int).Set(amount), Refundable: new(big.Int)}
		if err := saveState(tx, hash, st); err != nil {
			return err
		}
		if err := tx.PutJSON(openKey(hash), info); err != nil {
			return err
		}
		ev := e.event(events.TypePaymentAuthorized, hash, info, amount)
		ev.Collector = events.Addr(collectorAddr)
		tx.Emit(ev)

		return e.collect(ctx, info, amount, collectorAddr, data, collector.TypePayment)
	})
}

// Capture moves amount of an authorization to the receiver, less the fee.
// Several captures may draw down one authorization, each with its own fee
// terms inside the payment's range.
func (e *Escrow) Capture(ctx context.Context, sender common.Address, info payment.Info, amount *big.Int, feeBps uint16, feeReceiver common.Address) error {
	hash := e.hasher.Hash(info)
	return e.run(ctx, "capture", hash, func(ctx context.Context, tx *store.Tx) error {
		if sender != info.Operator {
			return ErrInvalidSender
		}
		if err := checkAmount(amount, true); err != nil {
			return err
		}
		if e.nowUnix() >= info.AuthorizationExpiry {
			return ErrAfterAuthorizationExpiry
		}
		st, err := loadState(ctx, tx, hash)
		if err != nil {
			return err
		}
		if st.Capturable.Cmp(amount) < 0 {
			return fmt.Errorf("%w: capturable %s, requested %s", ErrInsufficientAuthorization, st.Capturable, amount)
		}
		if err := validateFee(info, feeBps, feeReceiver); err != nil {
			return err
		}
		if amount.Sign() == 0 {
			return nil
		}

		st.Capturable.Sub(st.Capturable, amount)
		st.Refundable.Add(st.Refundable, amount)
		if err := saveState(tx, hash, st); err != nil {
			return err
		}
		if st.Capturable.Sign() == 0 {
			tx.Delete(openKey(hash))
		}
		ev := e.event(events.TypePaymentCaptured, hash, info, amount)
		ev.FeeBps = feeBps
		ev.FeeReceiver = events.Addr(feeReceiver)
		tx.Emit(ev)

		return e.distribute(ctx, info, amount, feeBps, feeReceiver)
	})
}

// Charge authorizes and captures amount in one step.
func (e *Escrow) Charge(ctx context.Context, sender common.Address, info payment.Info, amount *big.Int, collectorAddr common.Address, data []byte, feeBps uint16, feeReceiver common.Address) error {
	hash := e.hasher.Hash(info)
	return e.run(ctx, "charge", hash, func(ctx context.Context, tx *store.Tx) error {
		if sender != info.Operator {
			return ErrInvalidSender
		}
		if err := checkAmount(amount, false); err != nil {
			return err
		}
		if err := e.validatePayment(info, amount); err != nil {
			return err
		}
		if err := validateFee(info, feeBps, feeReceiver); err != nil {
			return err
		}
		st, err := loadState(ctx, tx, hash)
		if err != nil {
			return err
		}
		if st.Collected {
			return ErrPaymentAlreadyCollected
		}

		st = payment.State{Collected: true, Capturable: new(big.Int), Refundable: new(big.Int).Set(amount)}
		if err := saveState(tx, hash, st); err != nil {
			return err
		}
		ev := e.event(events.TypePaymentCharged, hash, info, amount)
		ev.Collector = events.Addr(collectorAddr)
		ev.FeeBps = feeBps
		ev.FeeReceiver = events.Addr(feeReceiver)
		tx.Emit(ev)

		if err := e.collect(ctx, info, amount, collectorAddr, data, collector.TypePayment); err != nil {
			return err
		}
		return e.distribute(ctx, info, amount, feeBps, feeReceiver)
	})
}

// Void returns the whole capturable balance to the payer. The operator may
// void at any time.
func (e *Escrow) Void(ctx context.Context, sender common.Address, info payment.Info) error {
	hash := e.hasher.Hash(info)
	return e.run(ctx, "void", hash, func(ctx context.Context, tx *store.Tx) error {
		if sender != info.Operator {
			return ErrInvalidSender
		}
		return e.release(ctx, tx, hash, info, events.TypePaymentVoided)
	})
}

// Reclaim lets the payer take back an authorization the operator left open
// past its authorization expiry.
func (e *Escrow) Reclaim(ctx context.Context, sender common.Address, info payment.Info) error {
	hash := e.hasher.Hash(info)
	return e.run(ctx, "reclaim", hash, func(ctx context.Context, tx *store.Tx) error {
		if sender != info.Payer {
			return ErrInvalidSender
		}
		if e.nowUnix() < info.AuthorizationExpiry {
			return ErrBeforeAuthorizationExpiry
		}
		return e.release(ctx, tx, hash, info, events.TypePaymentReclaimed)
	})
}

func (e *Escrow) release(ctx context.Context, tx *store.Tx, hash common.Hash, info payment.Info, t events.Type) error {
	st, err := loadState(ctx, tx, hash)
	if err != nil {
		return err
	}
	if st.Capturable.Sign() == 0 {
		return ErrZeroAuthorization
	}
	amount := new(big.Int).Set(st.Capturable)
	st.Capturable.SetInt64(0)
	if err := saveState(tx, hash, st); err != nil {
		return err
	}
	tx.Delete(openKey(hash))
	tx.Emit(e.event(t, hash, info, amount))

	return e.send(ctx, info, info.Payer, amount)
}

// Refund returns up to the refundable balance to the payer, sourcing the
// tokens through a refund collector.
func (e *Escrow) Refund(ctx context.Context, sender common.Address, info payment.Info, amount *big.Int, collectorAddr common.Address, data []byte) error {
	hash := e.hasher.Hash(info)
	return e.run(ctx, "refund", hash, func(ctx context.Context, tx *store.Tx) error {
		if sender != info.Operator {
			return ErrInvalidSender
		}
		if err := checkAmount(amount, true); err != nil {
			return err
		}
		if e.nowUnix() >= info.RefundExpiry {
			return ErrAfterRefundExpiry
		}
		st, err := loadState(ctx, tx, hash)
		if err != nil {
			return err
		}
		if st.Refundable.Cmp(amount) < 0 {
			return fmt.Errorf("%w: refundable %s, requested %s", ErrRefundExceedsCapture, st.Refundable, amount)
		}
		if amount.Sign() == 0 {
			return nil
		}

		st.Refundable.Sub(st.Refundable, amount)
		if err := saveState(tx, hash, st); err != nil {
			return err
		}
		ev := e.event(events.TypePaymentRefunded, hash, info, amount)
		ev.Collector = events.Addr(collectorAddr)
		tx.Emit(ev)

		if err := e.collect(ctx, info, amount, collectorAddr, data, collector.TypeRefund); err != nil {
			return err
		}
		return e.send(ctx, info, info.Payer, amount)
	})
}

func checkAmount(amount *big.Int, allowZero bool) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if amount.Sign() == 0 && !allowZero {
		return ErrZeroAmount
	}
	if !payment.FitsAmount(amount) {
		return ErrAmountOverflow
	}
	return nil
}

func (e *Escrow) validatePayment(info payment.Info, amount *big.Int) error {
	if info.MaxAmount == nil || info.MaxAmount.Sign() < 0 || !payment.FitsAmount(info.MaxAmount) {
		return fmt.Errorf("%w: max amount", ErrInvalidPaymentInfo)
	}
	if !payment.ValidSalt(info.Salt) {
		return fmt.Errorf("%w: salt", ErrInvalidPaymentInfo)
	}
	if amount.Cmp(info.MaxAmount) > 0 {
		return ErrExceedsMaxAmount
	}
	if e.nowUnix() >= info.PreApprovalExpiry {
		return ErrAfterPreApprovalExpiry
	}
	if info.PreApprovalExpiry > info.AuthorizationExpiry || info.AuthorizationExpiry > info.RefundExpiry {
		return ErrInvalidExpiries
	}
	if info.MaxFeeBps > payment.FeeDenominator {
		return ErrFeeBpsOverflow
	}
	if info.MinFeeBps > info.MaxFeeBps {
		return ErrInvalidFeeBpsRange
	}
	return nil
}

// collect invokes the collector and requires the custody store balance to grow
// by exactly amount.
func (e *Escrow) collect(ctx context.Context, info payment.Info, amount *big.Int, addr common.Address, data []byte, want collector.Type) error {
	c, err := e.collectors.Lookup(addr)
	if err != nil {
		return err
	}
	if c.Type() != want {
		return fmt.Errorf("%w: %s collector used for %s", ErrInvalidCollectorForOperation, c.Type(), want)
	}
	vault, err := e.custody.Get(ctx, info.Operator)
	if err != nil {
		return err
	}
	before, err := e.tokens.BalanceOf(ctx, info.Token, vault.Address())
	if err != nil {
		return err
	}
	fr := &inflow{custody: vault.Address(), token: info.Token, nested: new(big.Int)}
	if err := c.CollectTokens(context.WithValue(ctx, inflowKey{}, fr), e.address, info, vault.Address(), amount, data); err != nil {
		return fmt.Errorf("%w: %w", ErrCollectorFailed, err)
	}
	after, err := e.tokens.BalanceOf(ctx, info.Token, vault.Address())
	if err != nil {
		return err
	}
	got := new(big.Int).Sub(after, before)
	got.Sub(got, fr.nested)
	if got.Cmp(amount) != 0 {
		return fmt.Errorf("%w: expected %s, received %s", ErrTokenCollectionFailed, amount, got)
	}
	return nil
}

// inflow tracks one collector call. Escrow operations that complete while the
// collector runs add their net effect on the same custody balance to nested,
// so the delivery check counts only what the collector itself delivered.
type inflow struct {
	custody common.Address
	token   common.Address
	nested  *big.Int
}

type inflowKey struct{}

// reportInflow wraps an operation so that, when it runs inside a collector
// call, its net change to that call's custody balance is added to the
// call's inflow once the operation succeeds. Operations it starts in turn
// report only to their own collector calls.
func (e *Escrow) reportInflow(ctx context.Context, fn func(ctx context.Context, tx *store.Tx) error) func(ctx context.Context, tx *store.Tx) error {
	fr, _ := ctx.Value(inflowKey{}).(*inflow)
	if fr == nil {
		return fn
	}
	return func(ctx context.Context, tx *store.Tx) error {
		before, err := e.tokens.BalanceOf(ctx, fr.token, fr.custody)
		if err != nil {
			return err
		}
		if err := fn(context.WithValue(ctx, inflowKey{}, (*inflow)(nil)), tx); err != nil {
			return err
		}
		after, err := e.tokens.BalanceOf(ctx, fr.token, fr.custody)
		if err != nil {
			return err
		}
		fr.nested.Add(fr.nested, after.Sub(after, before))
		return nil
	}
}

// distribute pays the fee first, then the remainder to the receiver.
func (e *Escrow) distribute(ctx context.Context, info payment.Info, amount *big.Int, feeBps uint16, feeReceiver common.Address) error {
	fee, rest := SplitFee(amount, feeBps)
	if fee.Sign() > 0 {
		if err := e.send(ctx, info, feeReceiver, fee); err != nil {
			return err
		}
	}
	if rest.Sign() > 0 {
		return e.send(ctx, info, info.Receiver, rest)
	}
	return nil
}

func (e *Escrow) send(ctx context.Context, info payment.Info, to common.Address, amount *big.Int) error {
	vault, err := e.custody.Get(ctx, info.Operator)
	if err != nil {
		return err
	}
	if err := vault.SendTokens(ctx, e.address, info.Token, to, amount); err != nil {
		return fmt.Errorf("%w: to %s: %w", ErrTransferFailed, to.Hex(), err)
	}
	return nil
}
