package escrow

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/0gfoundation/0g-escrow/internal/payment"
)

// SplitFee returns the fee share of amount at feeBps, rounded down, and the
// remainder. The two always sum to amount.
func SplitFee(amount *big.Int, feeBps uint16) (fee, rest *big.Int) {
	fee = new(big.Int).Mul(amount, big.NewInt(int64(feeBps)))
	fee.Quo(fee, big.NewInt(payment.FeeDenominator))
	rest = new(big.Int).Sub(amount, fee)
	return fee, rest
}

func validateFee(info payment.Info, feeBps uint16, feeReceiver common.Address) error {
	if feeBps < info.MinFeeBps || feeBps > info.MaxFeeBps {
		return ErrFeeBpsOutOfRange
	}
	if feeBps > 0 && feeReceiver == (common.Address{}) {
		return ErrZeroFeeReceiver
	}
	if info.HasFixedFeeReceiver() && info.FeeReceiver != feeReceiver {
		return ErrInvalidFeeReceiver
	}
	return nil
}
