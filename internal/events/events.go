// Package events defines the notifications emitted by escrow transitions and
// the publishers that deliver them once the producing transaction commits.
package events

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/0gfoundation/0g-escrow/internal/payment"
)

type Type string

const (
	TypeCustodyCreated     Type = "custody.created"
	TypePaymentAuthorized  Type = "payment.authorized"
	TypePaymentCharged     Type = "payment.charged"
	TypePaymentCaptured    Type = "payment.captured"
	TypePaymentVoided      Type = "payment.voided"
	TypePaymentReclaimed   Type = "payment.reclaimed"
	TypePaymentRefunded    Type = "payment.refunded"
	TypePaymentPreApproved Type = "payment.preapproved"
	TypePaymentReclaimable Type = "payment.reclaimable"
)

// Redis list keys used by QueuePublisher and the relay.
const (
	QueueKey = "escrow:events"
	DLQKey   = "escrow:events:dlq"
)

// Event is one notification. Only the fields relevant to Type are set.
type Event struct {
	ID          string          `json:"id"`
	Type        Type            `json:"type"`
	PaymentHash common.Hash     `json:"payment_hash"`
	Info        *payment.Info   `json:"payment_info,omitempty"`
	Amount      *big.Int        `json:"amount,omitempty"`
	FeeBps      uint16          `json:"fee_bps,omitempty"`
	FeeReceiver *common.Address `json:"fee_receiver,omitempty"`
	Collector   *common.Address `json:"collector,omitempty"`
	Operator    *common.Address `json:"operator,omitempty"`
	Custody     *common.Address `json:"custody_store,omitempty"`
	Timestamp   int64           `json:"timestamp"`
}

// New returns an event of type t stamped with a fresh ID.
func New(t Type, at time.Time) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      t,
		Timestamp: at.Unix(),
	}
}

// Addr returns a pointer to a copy of a, for optional address fields.
func Addr(a common.Address) *common.Address { return &a }
