// Package watcher notices authorizations whose capture window has closed and
// announces that the payer may reclaim them.
package watcher

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-escrow/internal/escrow"
	"github.com/0gfoundation/0g-escrow/internal/events"
)

// noticeTTL bounds how long a dedupe marker lives; an authorization still
// open after this is announced again.
const noticeTTL = 7 * 24 * time.Hour

// Source lists open authorizations.
type Source interface {
	OpenAuthorizations(ctx context.Context) ([]escrow.OpenAuthorization, error)
}

// Recorder counts published notices.
type Recorder interface {
	RecordReclaimable()
}

type Watcher struct {
	src       Source
	rdb       *redis.Client
	publisher events.Publisher
	now       func() time.Time
	metrics   Recorder
	log       *zap.Logger
}

func New(src Source, rdb *redis.Client, publisher events.Publisher, log *zap.Logger) *Watcher {
	return &Watcher{src: src, rdb: rdb, publisher: publisher, now: time.Now, log: log}
}

func (w *Watcher) SetClock(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	w.now = now
}

func (w *Watcher) SetMetrics(m Recorder) { w.metrics = m }

func noticeKey(hash string) string {
	return "escrow:reclaimable:" + strings.ToLower(hash)
}

// Run scans every interval until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.log.Info("reclaim watcher started", zap.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			w.log.Info("reclaim watcher stopped")
			return
		case <-ticker.C:
			if _, err := w.Scan(ctx); err != nil {
				w.log.Error("watcher: scan", zap.Error(err))
			}
		}
	}
}

// Scan publishes a payment.reclaimable notice for each expired open
// authorization not announced before, and returns how many it published.
func (w *Watcher) Scan(ctx context.Context) (int, error) {
	open, err := w.src.OpenAuthorizations(ctx)
	if err != nil {
		return 0, err
	}
	now := w.now()
	published := 0
	for _, a := range open {
		if uint64(now.Unix()) < a.Info.AuthorizationExpiry {
			continue
		}
		hash := a.Hash.Hex()
		first, err := w.rdb.SetNX(ctx, noticeKey(hash), now.Unix(), noticeTTL).Result()
		if err != nil {
			w.log.Error("watcher: dedupe", zap.String("payment", hash), zap.Error(err))
			continue
		}
		if !first {
			continue
		}

		ev := events.New(events.TypePaymentReclaimable, now)
		ev.PaymentHash = a.Hash
		info := a.Info.Clone()
		ev.Info = &info
		ev.Amount = a.State.Clone().Capturable
		if err := w.publisher.Publish(ctx, []events.Event{ev}); err != nil {
			// Release the marker so the next scan retries.
			w.rdb.Del(ctx, noticeKey(hash))
			w.log.Error("watcher: publish", zap.String("payment", hash), zap.Error(err))
			continue
		}
		published++
		if w.metrics != nil {
			w.metrics.RecordReclaimable()
		}
		w.log.Info("authorization reclaimable",
			zap.String("payment", hash),
			zap.String("payer", a.Info.Payer.Hex()),
			zap.String("amount", ev.Amount.String()),
		)
	}
	return published, nil
}
