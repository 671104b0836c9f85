// Package relay drains the event queue and pushes each event to a webhook.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-escrow/internal/events"
)

// Sender delivers one queued event body and returns the HTTP status.
type Sender interface {
	Deliver(ctx context.Context, eventID string, body []byte) (int, error)
}

// Recorder receives delivery statistics.
type Recorder interface {
	RecordDelivery(outcome string)
	SetQueueDepth(n int64)
}

type nopRecorder struct{}

func (nopRecorder) RecordDelivery(string) {}
func (nopRecorder) SetQueueDepth(int64)   {}

type Relay struct {
	rdb       *redis.Client
	sender    Sender
	queueKey  string
	dlqKey    string
	batchSize int
	wait      time.Duration
	metrics   Recorder
	log       *zap.Logger

	last []Outcome
}

func New(rdb *redis.Client, sender Sender, batchSize int, wait time.Duration, log *zap.Logger) *Relay {
	if batchSize <= 0 {
		batchSize = 1
	}
	return &Relay{
		rdb:       rdb,
		sender:    sender,
		queueKey:  events.QueueKey,
		dlqKey:    events.DLQKey,
		batchSize: batchSize,
		wait:      wait,
		metrics:   nopRecorder{},
		log:       log,
	}
}

func (r *Relay) SetMetrics(m Recorder) {
	if m == nil {
		m = nopRecorder{}
	}
	r.metrics = m
}

// Run is the relay loop: BLPOP → deliver → handle outcomes.
func (r *Relay) Run(ctx context.Context) {
	r.log.Info("relay started", zap.String("queue", r.queueKey), zap.Int("batch", r.batchSize))
	for {
		if ctx.Err() != nil {
			r.log.Info("relay stopped")
			return
		}
		n, err := r.DrainOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.log.Error("relay: drain", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		if n > 0 && r.requeuedAll() {
			// Subscriber is failing; back off before retrying the same events.
			select {
			case <-ctx.Done():
			case <-time.After(r.wait):
			}
		}
	}
}

// DrainOnce waits up to the configured interval for an event, then delivers
// it together with up to batchSize-1 queued followers. It returns how many
// events were handled.
func (r *Relay) DrainOnce(ctx context.Context) (int, error) {
	results, err := r.rdb.BLPop(ctx, r.wait, r.queueKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, err
	}
	firstItem := results[1]

	// Peek the rest; they are popped one by one as their outcome is handled.
	remaining, err := r.rdb.LRange(ctx, r.queueKey, 0, int64(r.batchSize-2)).Result()
	if err != nil {
		r.log.Error("relay: LRANGE", zap.Error(err))
		remaining = nil
	}
	items := append([]string{firstItem}, remaining...)

	outcomes := make([]Outcome, len(items))
	ids := make([]string, len(items))
	for i, raw := range items {
		outcomes[i], ids[i] = r.deliver(ctx, raw)
	}
	r.handleOutcomes(ctx, items, ids, outcomes)

	if depth, err := r.rdb.LLen(ctx, r.queueKey).Result(); err == nil {
		r.metrics.SetQueueDepth(depth)
	}
	r.last = outcomes
	return len(items), nil
}

// deliver attempts one event and returns its outcome and ID. Events that do
// not decode have no ID and are dead-lettered.
func (r *Relay) deliver(ctx context.Context, raw string) (Outcome, string) {
	var ev events.Event
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		r.log.Error("relay: unmarshal event", zap.String("raw", raw), zap.Error(err))
		return DeadLetter, ""
	}
	status, err := r.sender.Deliver(ctx, ev.ID, []byte(raw))
	out := Classify(status, err)
	if out != Delivered {
		r.log.Warn("relay: delivery failed",
			zap.String("event", ev.ID),
			zap.String("type", string(ev.Type)),
			zap.Int("status", status),
			zap.String("outcome", out.String()),
			zap.Error(err),
		)
	}
	return out, ev.ID
}
