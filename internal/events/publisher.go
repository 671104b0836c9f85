package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-escrow/internal/store"
)

// Publisher delivers committed events.
type Publisher interface {
	Publish(ctx context.Context, evs []Event) error
}

// QueuePublisher pushes events onto a Redis list for the relay to drain.
type QueuePublisher struct {
	rdb *redis.Client
	key string
}

func NewQueuePublisher(rdb *redis.Client) *QueuePublisher {
	return &QueuePublisher{rdb: rdb, key: QueueKey}
}

func (p *QueuePublisher) Publish(ctx context.Context, evs []Event) error {
	if len(evs) == 0 {
		return nil
	}
	vals := make([]any, 0, len(evs))
	for _, ev := range evs {
		raw, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal event: %w", err)
		}
		vals = append(vals, string(raw))
	}
	return p.rdb.RPush(ctx, p.key, vals...).Err()
}

// LogPublisher writes each event to the logger.
type LogPublisher struct {
	log *zap.Logger
}

func NewLogPublisher(log *zap.Logger) *LogPublisher {
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(_ context.Context, evs []Event) error {
	for _, ev := range evs {
		fields := []zap.Field{
			zap.String("id", ev.ID),
			zap.String("payment", ev.PaymentHash.Hex()),
		}
		if ev.Amount != nil {
			fields = append(fields, zap.String("amount", ev.Amount.String()))
		}
		p.log.Info(string(ev.Type), fields...)
	}
	return nil
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, evs []Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evs...)
	return nil
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Types returns the recorded event types in order.
func (r *Recorder) Types() []Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Type, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

// Multi fans out to every publisher and returns the first error.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, evs []Event) error {
	var first error
	for _, p := range m {
		if err := p.Publish(ctx, evs); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// CommitHook forwards the Event logs of committed transactions to p. State is
// already durable when the hook runs, so a publish failure is logged rather
// than returned.
func CommitHook(p Publisher, log *zap.Logger) store.CommitHook {
	return func(ctx context.Context, logs []any) {
		evs := make([]Event, 0, len(logs))
		for _, l := range logs {
			if ev, ok := l.(Event); ok {
				evs = append(evs, ev)
			}
		}
		if len(evs) == 0 {
			return
		}
		if err := p.Publish(ctx, evs); err != nil {
			log.Error("publish events", zap.Int("count", len(evs)), zap.Error(err))
		}
	}
}
