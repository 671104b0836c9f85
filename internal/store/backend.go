// Package store provides the transactional key/value layer the escrow ledger
// and token balances live in. A DB serializes top-level transactions; nested
// calls that carry the transaction in their context join it with
// snapshot/revert semantics, so a failed inner call undoes only its own writes.
//
// Commits are optimistic: every key a transaction read from the backend is
// checked again at commit, and a transaction whose reads went stale is run
// again. Several processes can therefore share one backend.
package store

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
)

// ErrConflict reports that a key read by the transaction changed before it
// could commit.
var ErrConflict = errors.New("store: transaction conflict")

// Read is what a transaction observed for a key when it first read it from
// the backend.
type Read struct {
	Key    string
	Value  []byte
	Exists bool
}

// Write is one pending mutation applied at commit.
type Write struct {
	Key    string
	Value  []byte
	Delete bool
}

// Backend is the durable layer under a DB. Apply must be all-or-nothing and
// must return ErrConflict, writing nothing, when any of reads no longer
// matches the stored value.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Apply(ctx context.Context, reads []Read, writes []Write) error
	Scan(ctx context.Context, prefix string) ([]string, error)
}

// MemoryBackend keeps everything in process memory.
type MemoryBackend struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: make(map[string][]byte)}
}

func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	return bytes.Clone(v), true, nil
}

func (m *MemoryBackend) Apply(_ context.Context, reads []Read, writes []Write) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range reads {
		v, ok := m.data[r.Key]
		if ok != r.Exists || !bytes.Equal(v, r.Value) {
			return ErrConflict
		}
	}
	for _, w := range writes {
		if w.Delete {
			delete(m.data, w.Key)
			continue
		}
		m.data[w.Key] = bytes.Clone(w.Value)
	}
	return nil
}

func (m *MemoryBackend) Scan(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}
