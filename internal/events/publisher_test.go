package events

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func TestQueuePublisher_PushesInOrder(t *testing.T) {
	rdb := newTestRedis(t)
	p := NewQueuePublisher(rdb)
	ctx := context.Background()

	a := New(TypePaymentAuthorized, time.Unix(10, 0))
	a.Amount = big.NewInt(5)
	b := New(TypePaymentCaptured, time.Unix(11, 0))
	if err := p.Publish(ctx, []Event{a, b}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	raw, err := rdb.LRange(ctx, QueueKey, 0, -1).Result()
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) != 2 {
		t.Fatalf("queue len = %d, want 2", len(raw))
	}
	var got Event
	if err := json.Unmarshal([]byte(raw[0]), &got); err != nil {
		t.Fatal(err)
	}
	if got.ID != a.ID || got.Type != TypePaymentAuthorized || got.Amount.Int64() != 5 || got.Timestamp != 10 {
		t.Errorf("first = %+v", got)
	}
}

func TestNew_UniqueIDs(t *testing.T) {
	a, b := New(TypePaymentVoided, time.Now()), New(TypePaymentVoided, time.Now())
	if a.ID == "" || a.ID == b.ID {
		t.Errorf("ids %q %q", a.ID, b.ID)
	}
}

type failing struct{}

func (failing) Publish(context.Context, []Event) error { return errors.New("down") }

func TestMulti_DeliversToAll(t *testing.T) {
	r1, r2 := &Recorder{}, &Recorder{}
	err := Multi{r1, failing{}, r2}.Publish(context.Background(), []Event{New(TypePaymentRefunded, time.Now())})
	if err == nil {
		t.Fatal("expected error from failing publisher")
	}
	if len(r1.Events()) != 1 || len(r2.Events()) != 1 {
		t.Errorf("recorders got %d/%d", len(r1.Events()), len(r2.Events()))
	}
}

func TestCommitHook_FiltersNonEvents(t *testing.T) {
	rec := &Recorder{}
	hook := CommitHook(rec, zap.NewNop())
	hook(context.Background(), []any{"not an event", New(TypePaymentCharged, time.Now())})
	if types := rec.Types(); len(types) != 1 || types[0] != TypePaymentCharged {
		t.Errorf("types = %v", types)
	}
	hook(context.Background(), []any{42})
	if len(rec.Events()) != 1 {
		t.Error("empty batch published")
	}
}
