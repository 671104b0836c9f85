package relay

import (
	"context"
	"errors"
	"net/http"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Outcome is what happens to a queued event after one delivery attempt.
type Outcome int

const (
	Delivered Outcome = iota
	DeadLetter
	Requeue
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case DeadLetter:
		return "dead_letter"
	default:
		return "requeued"
	}
}

// Classify maps a delivery result: 2xx is delivered, 4xx means the subscriber
// rejected the event for good, anything else is retried.
func Classify(status int, err error) Outcome {
	switch {
	case err != nil:
		return Requeue
	case status >= 200 && status < 300:
		return Delivered
	case status >= 400 && status < 500 && status != http.StatusTooManyRequests && status != http.StatusRequestTimeout:
		return DeadLetter
	default:
		return Requeue
	}
}

// handleOutcomes settles a batch. items[0] was already BLPOP'd; the others
// are LPOP'd here as they are processed. A dead letter that cannot be parked
// goes back on the queue instead.
func (r *Relay) handleOutcomes(ctx context.Context, items, ids []string, outcomes []Outcome) {
	for i, out := range outcomes {
		if i > 0 {
			if err := r.rdb.LPop(ctx, r.queueKey).Err(); err != nil {
				r.log.Error("relay: LPOP settled event", zap.String("event", ids[i]), zap.Error(err))
			}
		}
		r.metrics.RecordDelivery(out.String())
		switch out {
		case DeadLetter:
			if err := r.rdb.RPush(ctx, r.dlqKey, items[i]).Err(); err != nil {
				r.log.Error("relay: dead-letter push failed, requeueing",
					zap.String("event", ids[i]), zap.String("dlq", r.dlqKey), zap.Error(err))
				r.push(ctx, ids[i], items[i])
			}
		case Requeue:
			r.push(ctx, ids[i], items[i])
		}
	}
}

func (r *Relay) push(ctx context.Context, id, raw string) {
	if err := r.rdb.RPush(ctx, r.queueKey, raw).Err(); err != nil {
		r.log.Error("relay: requeue failed, event dropped",
			zap.String("event", id), zap.String("raw", raw), zap.Error(err))
	}
}

func (r *Relay) requeuedAll() bool {
	for _, o := range r.last {
		if o != Requeue {
			return false
		}
	}
	return len(r.last) > 0
}

// DeadLetters returns up to n events from the dead-letter queue.
func (r *Relay) DeadLetters(ctx context.Context, n int64) ([]string, error) {
	return r.rdb.LRange(ctx, r.dlqKey, 0, n-1).Result()
}

// Replay moves every dead-lettered event back onto the queue.
func (r *Relay) Replay(ctx context.Context) (int, error) {
	moved := 0
	for {
		_, err := r.rdb.LMove(ctx, r.dlqKey, r.queueKey, "LEFT", "RIGHT").Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return moved, nil
			}
			return moved, err
		}
		moved++
	}
}
