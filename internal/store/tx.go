package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

type slot struct {
	value   []byte
	deleted bool
}

type change struct {
	key  string
	prev *slot // nil: key was not dirty before
}

// Snapshot marks a point a Tx can be reverted to.
type Snapshot struct {
	journal int
	logs    int
}

// Tx buffers writes and emitted logs until the owning DB commits it.
// Reads observe the transaction's own uncommitted writes.
type Tx struct {
	db      *DB
	dirty   map[string]*slot
	journal []change
	logs    []any
	reads   map[string]Read
}

func newTx(db *DB) *Tx {
	return &Tx{db: db, dirty: make(map[string]*slot), reads: make(map[string]Read)}
}

func (tx *Tx) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if s, ok := tx.dirty[key]; ok {
		if s.deleted {
			return nil, false, nil
		}
		return bytes.Clone(s.value), true, nil
	}
	v, ok, err := tx.db.backend.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if _, seen := tx.reads[key]; !seen {
		tx.reads[key] = Read{Key: key, Value: bytes.Clone(v), Exists: ok}
	}
	return v, ok, nil
}

func (tx *Tx) Put(key string, value []byte) {
	tx.set(key, &slot{value: bytes.Clone(value)})
}

func (tx *Tx) Delete(key string) {
	tx.set(key, &slot{deleted: true})
}

func (tx *Tx) set(key string, s *slot) {
	tx.journal = append(tx.journal, change{key: key, prev: tx.dirty[key]})
	tx.dirty[key] = s
}

// GetJSON decodes the value at key into v. It reports false when the key is absent.
func (tx *Tx) GetJSON(ctx context.Context, key string, v any) (bool, error) {
	raw, ok, err := tx.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (tx *Tx) PutJSON(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	tx.Put(key, raw)
	return nil
}

// Emit records a log entry delivered to commit hooks if the transaction commits.
func (tx *Tx) Emit(log any) {
	tx.logs = append(tx.logs, log)
}

func (tx *Tx) Snapshot() Snapshot {
	return Snapshot{journal: len(tx.journal), logs: len(tx.logs)}
}

// RevertTo undoes every write and log recorded after s.
func (tx *Tx) RevertTo(s Snapshot) {
	for i := len(tx.journal) - 1; i >= s.journal; i-- {
		c := tx.journal[i]
		if c.prev == nil {
			delete(tx.dirty, c.key)
		} else {
			tx.dirty[c.key] = c.prev
		}
	}
	tx.journal = tx.journal[:s.journal]
	tx.logs = tx.logs[:s.logs]
}

// Scan lists keys under prefix, merging committed keys with this
// transaction's pending writes.
func (tx *Tx) Scan(ctx context.Context, prefix string) ([]string, error) {
	committed, err := tx.db.backend.Scan(ctx, prefix)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(committed))
	for _, k := range committed {
		seen[k] = true
	}
	for k, s := range tx.dirty {
		if strings.HasPrefix(k, prefix) {
			seen[k] = !s.deleted
		}
	}
	keys := make([]string, 0, len(seen))
	for k, live := range seen {
		if live {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// readSet lists the first backend observation of every key read, reverted
// calls included.
func (tx *Tx) readSet() []Read {
	out := make([]Read, 0, len(tx.reads))
	for _, r := range tx.reads {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (tx *Tx) writes() []Write {
	out := make([]Write, 0, len(tx.dirty))
	for k, s := range tx.dirty {
		out = append(out, Write{Key: k, Value: s.value, Delete: s.deleted})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
