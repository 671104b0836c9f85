// Package escrow implements the authorize-and-capture payment protocol: it
// tracks how much of each payment is capturable and refundable, drives fund
// collectors and custody stores, and emits one event per transition.
package escrow

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-escrow/internal/collector"
	"github.com/0gfoundation/0g-escrow/internal/custody"
	"github.com/0gfoundation/0g-escrow/internal/events"
	"github.com/0gfoundation/0g-escrow/internal/payment"
	"github.com/0gfoundation/0g-escrow/internal/store"
)

// Tokens is the part of the token ledger the escrow needs.
type Tokens interface {
	custody.Transferer
	BalanceOf(ctx context.Context, token, holder common.Address) (*big.Int, error)
}

// Observer is told about every operation after it finished.
type Observer interface {
	ObserveOperation(op string, err error, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveOperation(string, error, time.Duration) {}

// Escrow is one deployment, identified by its chain id and address.
type Escrow struct {
	address    common.Address
	chainID    *big.Int
	hasher     payment.Hasher
	db         *store.DB
	tokens     Tokens
	custody    *custody.Registry
	collectors *collector.Registry
	now        func() time.Time
	observer   Observer
	log        *zap.Logger
}

func New(chainID *big.Int, address common.Address, db *store.DB, tokens Tokens, log *zap.Logger) *Escrow {
	return &Escrow{
		address:    address,
		chainID:    new(big.Int).Set(chainID),
		hasher:     payment.NewHasher(chainID, address),
		db:         db,
		tokens:     tokens,
		custody:    custody.NewRegistry(db, address, tokens),
		collectors: collector.NewRegistry(),
		now:        time.Now,
		observer:   nopObserver{},
		log:        log,
	}
}

// SetClock overrides the time source used for expiry checks and event stamps.
func (e *Escrow) SetClock(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	e.now = now
	e.custody.SetClock(now)
}

func (e *Escrow) SetObserver(o Observer) {
	if o == nil {
		o = nopObserver{}
	}
	e.observer = o
}

func (e *Escrow) RegisterCollector(c collector.Collector) error {
	return e.collectors.Register(c)
}

func (e *Escrow) Address() common.Address         { return e.address }
func (e *Escrow) ChainID() *big.Int               { return new(big.Int).Set(e.chainID) }
func (e *Escrow) Hasher() payment.Hasher          { return e.hasher }
func (e *Escrow) Collectors() *collector.Registry { return e.collectors }
func (e *Escrow) PaymentHash(info payment.Info) common.Hash {
	return e.hasher.Hash(info)
}

// CustodyAddress returns operator's custody store address whether or not the
// store exists yet.
func (e *Escrow) CustodyAddress(operator common.Address) common.Address {
	return e.custody.AddressOf(operator)
}

// EnsureCustody creates operator's custody store if needed and returns its address.
func (e *Escrow) EnsureCustody(ctx context.Context, operator common.Address) (common.Address, error) {
	s, err := e.custody.Get(ctx, operator)
	if err != nil {
		return common.Address{}, err
	}
	return s.Address(), nil
}

func (e *Escrow) CustodyExists(ctx context.Context, operator common.Address) (bool, error) {
	return e.custody.Exists(ctx, operator)
}

func paymentKey(hash common.Hash) string {
	return "escrow:payment:" + strings.ToLower(hash.Hex())
}

const openPrefix = "escrow:open:"

func openKey(hash common.Hash) string {
	return openPrefix + strings.ToLower(hash.Hex())
}

// PaymentState returns the ledger entry for info.
func (e *Escrow) PaymentState(ctx context.Context, info payment.Info) (payment.State, error) {
	return e.PaymentStateByHash(ctx, e.hasher.Hash(info))
}

// PaymentStateByHash returns the ledger entry for hash. Unknown payments read
// as uncollected with zero balances.
func (e *Escrow) PaymentStateByHash(ctx context.Context, hash common.Hash) (payment.State, error) {
	var st payment.State
	err := e.db.View(ctx, func(ctx context.Context, tx *store.Tx) error {
		var err error
		st, err = loadState(ctx, tx, hash)
		return err
	})
	return st, err
}

func loadState(ctx context.Context, tx *store.Tx, hash common.Hash) (payment.State, error) {
	st := payment.NewState()
	if _, err := tx.GetJSON(ctx, paymentKey(hash), &st); err != nil {
		return payment.State{}, err
	}
	return st.Clone(), nil
}

func saveState(tx *store.Tx, hash common.Hash, st payment.State) error {
	return tx.PutJSON(paymentKey(hash), st)
}

// OpenAuthorization is a payment that still has a capturable balance.
type OpenAuthorization struct {
	Hash  common.Hash   `json:"payment_hash"`
	Info  payment.Info  `json:"payment_info"`
	State payment.State `json:"state"`
}

// OpenAuthorizations lists every payment with a non-zero capturable amount.
func (e *Escrow) OpenAuthorizations(ctx context.Context) ([]OpenAuthorization, error) {
	var out []OpenAuthorization
	err := e.db.View(ctx, func(ctx context.Context, tx *store.Tx) error {
		keys, err := tx.Scan(ctx, openPrefix)
		if err != nil {
			return err
		}
		for _, k := range keys {
			var info payment.Info
			ok, err := tx.GetJSON(ctx, k, &info)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			hash := common.HexToHash(strings.TrimPrefix(k, openPrefix))
			st, err := loadState(ctx, tx, hash)
			if err != nil {
				return err
			}
			out = append(out, OpenAuthorization{Hash: hash, Info: info, State: st})
		}
		return nil
	})
	return out, err
}

// run executes fn as one atomic operation and reports it to the observer.
func (e *Escrow) run(ctx context.Context, op string, hash common.Hash, fn func(ctx context.Context, tx *store.Tx) error) error {
	start := time.Now()
	err := e.db.Update(ctx, e.reportInflow(ctx, fn))
	e.observer.ObserveOperation(op, err, time.Since(start))
	if err != nil {
		lvl := zap.InfoLevel
		if !IsRejection(err) {
			lvl = zap.WarnLevel
		}
		e.log.Check(lvl, "escrow operation failed").Write(
			zap.String("op", op),
			zap.String("payment", hash.Hex()),
			zap.String("code", Code(err)),
			zap.Error(err),
		)
		return err
	}
	e.log.Debug("escrow operation", zap.String("op", op), zap.String("payment", hash.Hex()))
	return nil
}

func (e *Escrow) event(t events.Type, hash common.Hash, info payment.Info, amount *big.Int) events.Event {
	ev := events.New(t, e.now())
	ev.PaymentHash = hash
	cp := info.Clone()
	ev.Info = &cp
	if amount != nil {
		ev.Amount = new(big.Int).Set(amount)
	}
	return ev
}

func (e *Escrow) nowUnix() uint64 {
	return uint64(e.now().Unix())
}
