// Package custody implements the per-operator holding accounts. A store holds
// tokens for exactly one operator and moves them only when the escrow that
// owns it says so; it keeps no accounting of its own.
package custody

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/0gfoundation/0g-escrow/internal/events"
	"github.com/0gfoundation/0g-escrow/internal/store"
)

var ErrOnlyEscrow = errors.New("custody: caller is not the escrow")

// Transferer moves tokens between holders.
type Transferer interface {
	Transfer(ctx context.Context, token, from, to common.Address, amount *big.Int) error
}

// Address derives the custody store address for operator under escrow,
// CREATE2-style, so it is known before the store is ever used.
func Address(escrow, operator common.Address) common.Address {
	var salt [32]byte
	copy(salt[12:], operator.Bytes())
	initHash := crypto.Keccak256([]byte("escrow.custody.v1"), escrow.Bytes())
	return crypto.CreateAddress2(escrow, salt, initHash)
}

// Store is one operator's vault.
type Store struct {
	address  common.Address
	operator common.Address
	escrow   common.Address
	tokens   Transferer
}

func (s *Store) Address() common.Address  { return s.address }
func (s *Store) Operator() common.Address { return s.operator }

// SendTokens pushes amount of token to recipient. Only the owning escrow may call it.
func (s *Store) SendTokens(ctx context.Context, sender, token, recipient common.Address, amount *big.Int) error {
	if sender != s.escrow {
		return ErrOnlyEscrow
	}
	return s.tokens.Transfer(ctx, token, s.address, recipient, amount)
}

// Registry hands out stores, creating each one lazily on first use.
type Registry struct {
	db     *store.DB
	escrow common.Address
	tokens Transferer
	now    func() time.Time

	mu     sync.Mutex
	stores map[common.Address]*Store
}

func NewRegistry(db *store.DB, escrow common.Address, tokens Transferer) *Registry {
	return &Registry{
		db:     db,
		escrow: escrow,
		tokens: tokens,
		now:    time.Now,
		stores: make(map[common.Address]*Store),
	}
}

// SetClock overrides the time source used to stamp creation events.
func (r *Registry) SetClock(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	r.now = now
}

// AddressOf returns the store address for operator without creating it.
func (r *Registry) AddressOf(operator common.Address) common.Address {
	return Address(r.escrow, operator)
}

func storeKey(operator common.Address) string {
	return "custody:store:" + strings.ToLower(operator.Hex())
}

// Exists reports whether operator's store has been created.
func (r *Registry) Exists(ctx context.Context, operator common.Address) (bool, error) {
	var found bool
	err := r.db.View(ctx, func(ctx context.Context, tx *store.Tx) error {
		_, ok, err := tx.Get(ctx, storeKey(operator))
		found = ok
		return err
	})
	return found, err
}

// Get returns operator's store. The first call records the store in the
// ledger and emits a custody.created event as part of the caller's transaction.
func (r *Registry) Get(ctx context.Context, operator common.Address) (*Store, error) {
	s := r.handle(operator)
	err := r.db.Update(ctx, func(ctx context.Context, tx *store.Tx) error {
		key := storeKey(operator)
		_, ok, err := tx.Get(ctx, key)
		if err != nil || ok {
			return err
		}
		tx.Put(key, []byte(s.address.Hex()))
		ev := events.New(events.TypeCustodyCreated, r.now())
		ev.Operator = events.Addr(operator)
		ev.Custody = events.Addr(s.address)
		tx.Emit(ev)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (r *Registry) handle(operator common.Address) *Store {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.stores[operator]; ok {
		return s
	}
	s := &Store{
		address:  Address(r.escrow, operator),
		operator: operator,
		escrow:   r.escrow,
		tokens:   r.tokens,
	}
	r.stores[operator] = s
	return s
}
