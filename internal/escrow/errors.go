package escrow

import (
	"errors"

	"github.com/0gfoundation/0g-escrow/internal/collector"
)

var (
	ErrInvalidSender                = errors.New("escrow: invalid sender")
	ErrInvalidAmount                = errors.New("escrow: invalid amount")
	ErrZeroAmount                   = errors.New("escrow: zero amount")
	ErrAmountOverflow               = errors.New("escrow: amount overflows 120 bits")
	ErrInvalidPaymentInfo           = errors.New("escrow: invalid payment info")
	ErrExceedsMaxAmount             = errors.New("escrow: amount exceeds max amount")
	ErrAfterPreApprovalExpiry       = errors.New("escrow: after pre-approval expiry")
	ErrInvalidExpiries              = errors.New("escrow: invalid expiries")
	ErrFeeBpsOverflow               = errors.New("escrow: fee bps overflow")
	ErrInvalidFeeBpsRange           = errors.New("escrow: invalid fee bps range")
	ErrFeeBpsOutOfRange             = errors.New("escrow: fee bps out of range")
	ErrZeroFeeReceiver              = errors.New("escrow: zero fee receiver")
	ErrInvalidFeeReceiver           = errors.New("escrow: invalid fee receiver")
	ErrPaymentAlreadyCollected      = errors.New("escrow: payment already collected")
	ErrAfterAuthorizationExpiry     = errors.New("escrow: after authorization expiry")
	ErrBeforeAuthorizationExpiry    = errors.New("escrow: before authorization expiry")
	ErrInsufficientAuthorization    = errors.New("escrow: insufficient authorization")
	ErrZeroAuthorization            = errors.New("escrow: zero authorization")
	ErrAfterRefundExpiry            = errors.New("escrow: after refund expiry")
	ErrRefundExceedsCapture         = errors.New("escrow: refund exceeds capture")
	ErrInvalidCollectorForOperation = errors.New("escrow: invalid collector for operation")
	ErrCollectorFailed              = errors.New("escrow: collector failed")
	ErrTokenCollectionFailed        = errors.New("escrow: token collection failed")
	ErrTransferFailed               = errors.New("escrow: transfer failed")
)

// codes is ordered so that the more specific condition wins when an error
// wraps several sentinels.
var codes = []struct {
	err  error
	code string
}{
	{ErrInvalidSender, "invalid_sender"},
	{ErrInvalidAmount, "invalid_amount"},
	{ErrZeroAmount, "zero_amount"},
	{ErrAmountOverflow, "amount_overflow"},
	{ErrInvalidPaymentInfo, "invalid_payment_info"},
	{ErrExceedsMaxAmount, "exceeds_max_amount"},
	{ErrAfterPreApprovalExpiry, "after_pre_approval_expiry"},
	{ErrInvalidExpiries, "invalid_expiries"},
	{ErrFeeBpsOverflow, "fee_bps_overflow"},
	{ErrInvalidFeeBpsRange, "invalid_fee_bps_range"},
	{ErrFeeBpsOutOfRange, "fee_bps_out_of_range"},
	{ErrZeroFeeReceiver, "zero_fee_receiver"},
	{ErrInvalidFeeReceiver, "invalid_fee_receiver"},
	{ErrPaymentAlreadyCollected, "payment_already_collected"},
	{ErrAfterAuthorizationExpiry, "after_authorization_expiry"},
	{ErrBeforeAuthorizationExpiry, "before_authorization_expiry"},
	{ErrInsufficientAuthorization, "insufficient_authorization"},
	{ErrZeroAuthorization, "zero_authorization"},
	{ErrAfterRefundExpiry, "after_refund_expiry"},
	{ErrRefundExceedsCapture, "refund_exceeds_capture"},
	{ErrInvalidCollectorForOperation, "invalid_collector_for_operation"},
	{collector.ErrUnknownCollector, "unknown_collector"},
	{ErrTokenCollectionFailed, "token_collection_failed"},
	{ErrCollectorFailed, "collector_failed"},
	{ErrTransferFailed, "transfer_failed"},
}

// Code returns a stable short identifier for err, "ok" for nil and
// "internal" for anything the escrow does not define.
func Code(err error) string {
	if err == nil {
		return "ok"
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal"
}

// IsRejection reports whether err is a validation or state failure rather
// than a fault in a collaborator.
func IsRejection(err error) bool {
	switch Code(err) {
	case "ok", "internal", "collector_failed", "token_collection_failed", "transfer_failed":
		return false
	}
	return true
}
