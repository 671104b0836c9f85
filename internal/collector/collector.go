// Package collector holds the fund-collection strategies the escrow invokes to
// pull tokens into a custody store. Each collector is bound to one escrow and
// refuses calls from anyone else.
package collector

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/0gfoundation/0g-escrow/internal/payment"
)

var (
	ErrOnlyEscrow          = errors.New("collector: caller is not the escrow")
	ErrUnknownCollector    = errors.New("collector: unknown collector")
	ErrDuplicateCollector  = errors.New("collector: address already registered")
	ErrOnlyPayer           = errors.New("collector: caller is not the payer")
	ErrPreApprovalExpired  = errors.New("collector: pre-approval window closed")
	ErrAlreadyCollected    = errors.New("collector: payment already collected")
	ErrNotPreApproved      = errors.New("collector: payment not pre-approved")
	ErrInvalidCollectorArg = errors.New("collector: invalid argument")
)

// Type tells the escrow which operations a collector may serve.
type Type uint8

const (
	TypePayment Type = iota
	TypeRefund
)

func (t Type) String() string {
	switch t {
	case TypePayment:
		return "payment"
	case TypeRefund:
		return "refund"
	default:
		return "unknown"
	}
}

// Collector pulls amount of info.Token into custody. It must either deliver
// exactly amount or return an error; the escrow verifies the delivery.
type Collector interface {
	Address() common.Address
	Type() Type
	CollectTokens(ctx context.Context, sender common.Address, info payment.Info, custody common.Address, amount *big.Int, data []byte) error
}

// DeriveAddress returns the deterministic address of a named collector
// deployed next to escrow.
func DeriveAddress(escrow common.Address, name string) common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte("escrow.collector."+name), escrow.Bytes())[12:])
}

// bound carries the identity shared by the built-in collectors.
type bound struct {
	escrow  common.Address
	address common.Address
}

func newBound(escrow common.Address, name string) bound {
	return bound{escrow: escrow, address: DeriveAddress(escrow, name)}
}

func (b bound) Address() common.Address { return b.address }

func (b bound) checkSender(sender common.Address) error {
	if sender != b.escrow {
		return ErrOnlyEscrow
	}
	return nil
}

// Registry resolves collectors by address.
type Registry struct {
	mu     sync.RWMutex
	byAddr map[common.Address]Collector
}

func NewRegistry() *Registry {
	return &Registry{byAddr: make(map[common.Address]Collector)}
}

func (r *Registry) Register(c Collector) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byAddr[c.Address()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateCollector, c.Address().Hex())
	}
	r.byAddr[c.Address()] = c
	return nil
}

func (r *Registry) Lookup(addr common.Address) (Collector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byAddr[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCollector, addr.Hex())
	}
	return c, nil
}

// All returns every registered collector ordered by address.
func (r *Registry) All() []Collector {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Collector, 0, len(r.byAddr))
	for _, c := range r.byAddr {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Address().Cmp(out[j].Address()) < 0
	})
	return out
}
