package payment

import "math/big"

// Stage is the coarse lifecycle position derived from a State.
type Stage string

const (
	StageUncollected Stage = "uncollected"
	StageAuthorized  Stage = "authorized"
	StageCaptured    Stage = "captured"
	StageClosed      Stage = "closed"
)

// State is the mutable ledger entry for one payment.
type State struct {
	Collected  bool     `json:"collected"`
	Capturable *big.Int `json:"capturable_amount"`
	Refundable *big.Int `json:"refundable_amount"`
}

// NewState returns the zero entry of a payment that was never collected.
func NewState() State {
	return State{Capturable: new(big.Int), Refundable: new(big.Int)}
}

func (s State) Clone() State {
	return State{
		Collected:  s.Collected,
		Capturable: orZero(s.Capturable),
		Refundable: orZero(s.Refundable),
	}
}

// Stage reports where the payment sits in its lifecycle. A captured payment
// stays StageCaptured while any refundable balance remains.
func (s State) Stage() Stage {
	switch {
	case !s.Collected:
		return StageUncollected
	case s.Capturable != nil && s.Capturable.Sign() > 0:
		return StageAuthorized
	case s.Refundable != nil && s.Refundable.Sign() > 0:
		return StageCaptured
	default:
		return StageClosed
	}
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
