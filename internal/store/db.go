package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// maxAttempts bounds how often a top-level transaction is run again after a
// commit conflict.
const maxAttempts = 8

// CommitHook receives the logs of a transaction after it committed.
type CommitHook func(ctx context.Context, logs []any)

// DB serializes transactions within the process and validates them against
// the backend at commit, so processes sharing a backend do not lose updates.
//
// Code that hands control to a callback while inside Update must pass the
// context it received; a callback that starts a fresh context would block on
// the DB lock.
type DB struct {
	backend Backend
	mu      sync.Mutex
	hooks   []CommitHook
}

func New(backend Backend) *DB {
	return &DB{backend: backend}
}

// OnCommit registers a hook. Hooks run in commit order while the DB lock is
// held, so they see logs in the order transactions committed.
func (db *DB) OnCommit(h CommitHook) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.hooks = append(db.hooks, h)
}

type txKey struct{}

// FromContext returns the transaction carried by ctx, if any.
func FromContext(ctx context.Context) (*Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(*Tx)
	return tx, ok
}

func (db *DB) joined(ctx context.Context) (*Tx, bool) {
	tx, ok := FromContext(ctx)
	if !ok || tx.db != db {
		return nil, false
	}
	return tx, true
}

// Update runs fn in a transaction. If ctx already carries a transaction of
// this DB, fn joins it and a failure reverts only fn's own changes; otherwise
// a new transaction is opened and committed when fn succeeds. A top-level fn
// is run again from scratch when its reads went stale before commit, so it
// must keep its side effects inside the transaction.
func (db *DB) Update(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) error {
	if tx, ok := db.joined(ctx); ok {
		snap := tx.Snapshot()
		if err := fn(ctx, tx); err != nil {
			tx.RevertTo(snap)
			return err
		}
		return nil
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	for attempt := 1; ; attempt++ {
		tx := newTx(db)
		if err := fn(context.WithValue(ctx, txKey{}, tx), tx); err != nil {
			return err
		}
		err := db.backend.Apply(ctx, tx.readSet(), tx.writes())
		if errors.Is(err, ErrConflict) && attempt < maxAttempts {
			continue
		}
		if err != nil {
			return fmt.Errorf("store: commit: %w", err)
		}
		if len(tx.logs) > 0 {
			for _, h := range db.hooks {
				h(ctx, tx.logs)
			}
		}
		return nil
	}
}

// View runs fn against a read view. Writes made by fn are discarded unless it
// joined an enclosing Update.
func (db *DB) View(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) error {
	if tx, ok := db.joined(ctx); ok {
		return fn(ctx, tx)
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	tx := newTx(db)
	return fn(context.WithValue(ctx, txKey{}, tx), tx)
}
