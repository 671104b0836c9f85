package payment

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

const (
	// AmountBits is the width of every amount accepted by the escrow.
	AmountBits = 120
	// FeeDenominator is the basis-point denominator.
	FeeDenominator = 10_000
)

// MaxAmount is the largest amount representable in AmountBits.
var MaxAmount = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), AmountBits), big.NewInt(1))

var maxSalt = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// Info is the full set of terms for one payment. It is agreed off-ledger by
// payer, operator and receiver and supplied again on every lifecycle call;
// two values with identical fields are the same payment.
type Info struct {
	Operator            common.Address `json:"operator"`
	Payer               common.Address `json:"payer"`
	Receiver            common.Address `json:"receiver"`
	Token               common.Address `json:"token"`
	MaxAmount           *big.Int       `json:"max_amount"`
	PreApprovalExpiry   uint64         `json:"pre_approval_expiry"`
	AuthorizationExpiry uint64         `json:"authorization_expiry"`
	RefundExpiry        uint64         `json:"refund_expiry"`
	MinFeeBps           uint16         `json:"min_fee_bps"`
	MaxFeeBps           uint16         `json:"max_fee_bps"`
	FeeReceiver         common.Address `json:"fee_receiver"`
	Salt                *big.Int       `json:"salt"`
}

// Clone returns a deep copy so callers can mutate the copy freely.
func (i Info) Clone() Info {
	out := i
	out.MaxAmount = cloneInt(i.MaxAmount)
	out.Salt = cloneInt(i.Salt)
	return out
}

// WithPayer returns a copy of the terms with the payer replaced.
func (i Info) WithPayer(payer common.Address) Info {
	out := i.Clone()
	out.Payer = payer
	return out
}

// HasFixedFeeReceiver reports whether the fee recipient is pinned in the terms.
func (i Info) HasFixedFeeReceiver() bool {
	return i.FeeReceiver != (common.Address{})
}

// FitsAmount reports whether v is a non-negative value of at most AmountBits.
func FitsAmount(v *big.Int) bool {
	return v != nil && v.Sign() >= 0 && v.Cmp(MaxAmount) <= 0
}

// ValidSalt reports whether the salt fits in a 256-bit word.
func ValidSalt(v *big.Int) bool {
	return v == nil || (v.Sign() >= 0 && v.Cmp(maxSalt) <= 0)
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
