package collector

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/0gfoundation/0g-escrow/internal/payment"
	"github.com/0gfoundation/0g-escrow/internal/token"
)

const SignedTransferName = "signed-transfer"

// SignedTransferer is the slice of the token ledger the signed collector needs.
type SignedTransferer interface {
	Transfer(ctx context.Context, token, from, to common.Address, amount *big.Int) error
	ReceiveWithAuthorization(ctx context.Context, caller, token common.Address, a token.Authorization, sig []byte) error
}

// SignedTransfer collects with a payer-signed transfer authorization for the
// payment's full maxAmount. The authorization nonce is the payer-agnostic
// payment hash and it expires at preApprovalExpiry, so one signature funds
// exactly one payment. Whatever is not needed goes straight back to the payer.
type SignedTransfer struct {
	bound
	hasher payment.Hasher
	tokens SignedTransferer
}

func NewSignedTransfer(escrow common.Address, hasher payment.Hasher, tokens SignedTransferer) *SignedTransfer {
	return &SignedTransfer{
		bound:  newBound(escrow, SignedTransferName),
		hasher: hasher,
		tokens: tokens,
	}
}

func (c *SignedTransfer) Type() Type { return TypePayment }

// Authorization returns the transfer the payer must sign to fund info through
// this collector. The signature is the collectorData.
func (c *SignedTransfer) Authorization(info payment.Info) token.Authorization {
	var value *big.Int
	if info.MaxAmount != nil {
		value = new(big.Int).Set(info.MaxAmount)
	}
	return token.Authorization{
		From:        info.Payer,
		To:          c.address,
		Value:       value,
		ValidAfter:  0,
		ValidBefore: info.PreApprovalExpiry,
		Nonce:       c.hasher.PayerAgnosticHash(info),
	}
}

func (c *SignedTransfer) CollectTokens(ctx context.Context, sender common.Address, info payment.Info, custody common.Address, amount *big.Int, data []byte) error {
	if err := c.checkSender(sender); err != nil {
		return err
	}
	a := c.Authorization(info)
	if a.Value == nil || amount == nil || amount.Cmp(a.Value) > 0 {
		return fmt.Errorf("%w: amount exceeds authorized value", ErrInvalidCollectorArg)
	}
	if err := c.tokens.ReceiveWithAuthorization(ctx, c.address, info.Token, a, data); err != nil {
		return fmt.Errorf("signed transfer: %w", err)
	}
	if err := c.tokens.Transfer(ctx, info.Token, c.address, custody, amount); err != nil {
		return fmt.Errorf("forward to custody: %w", err)
	}
	if excess := new(big.Int).Sub(a.Value, amount); excess.Sign() > 0 {
		if err := c.tokens.Transfer(ctx, info.Token, c.address, info.Payer, excess); err != nil {
			return fmt.Errorf("return excess: %w", err)
		}
	}
	return nil
}
