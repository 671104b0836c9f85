package collector

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/0gfoundation/0g-escrow/internal/payment"
)

const OperatorRefundName = "operator-refund"

// OperatorRefund sources refund liquidity from the payment's operator, who
// must have approved this collector on the payment token.
type OperatorRefund struct {
	bound
	tokens AllowanceSpender
}

func NewOperatorRefund(escrow common.Address, tokens AllowanceSpender) *OperatorRefund {
	return &OperatorRefund{bound: newBound(escrow, OperatorRefundName), tokens: tokens}
}

func (c *OperatorRefund) Type() Type { return TypeRefund }

func (c *OperatorRefund) CollectTokens(ctx context.Context, sender common.Address, info payment.Info, custody common.Address, amount *big.Int, _ []byte) error {
	if err := c.checkSender(sender); err != nil {
		return err
	}
	return c.tokens.TransferFrom(ctx, c.address, info.Token, info.Operator, custody, amount)
}
