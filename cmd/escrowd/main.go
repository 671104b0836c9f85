package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/0gfoundation/0g-escrow/internal/api"
	"github.com/0gfoundation/0g-escrow/internal/auth"
	"github.com/0gfoundation/0g-escrow/internal/collector"
	"github.com/0gfoundation/0g-escrow/internal/config"
	"github.com/0gfoundation/0g-escrow/internal/escrow"
	"github.com/0gfoundation/0g-escrow/internal/events"
	"github.com/0gfoundation/0g-escrow/internal/health"
	"github.com/0gfoundation/0g-escrow/internal/metrics"
	"github.com/0gfoundation/0g-escrow/internal/relay"
	"github.com/0gfoundation/0g-escrow/internal/store"
	"github.com/0gfoundation/0g-escrow/internal/token"
	"github.com/0gfoundation/0g-escrow/internal/watcher"
	"github.com/0gfoundation/0g-escrow/internal/webhook"
)

func main() {
	boot, _ := zap.NewProduction()

	cfg, err := config.Load()
	if err != nil {
		boot.Fatal("config load failed", zap.Error(err))
	}
	log, err := newLogger(cfg.Log)
	if err != nil {
		boot.Fatal("logger init failed", zap.Error(err))
	}
	defer log.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Redis ─────────────────────────────────────────────────────────────────
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("redis ping failed", zap.Error(err))
	}

	a, err := newApp(cfg, rdb, log)
	if err != nil {
		log.Fatal("init failed", zap.Error(err))
	}

	// ── Goroutines ────────────────────────────────────────────────────────────
	a.start(ctx, cfg)

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		log.Fatal("grpc listen failed", zap.Error(err))
	}
	go func() {
		if err := a.checker.Serve(ctx, lis); err != nil {
			log.Error("grpc health server error", zap.Error(err))
		}
	}()

	// ── HTTP server ───────────────────────────────────────────────────────────
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("HTTP server starting", zap.Int("port", cfg.Server.Port),
			zap.String("escrow", cfg.EscrowAddress().Hex()),
			zap.Int64("chain_id", cfg.Escrow.ChainID),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	<-quit

	log.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	log.Info("shutdown complete")
}

// newLogger builds a JSON logger on stdout, teed to a rotating file when
// log.file is set.
func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	sinks := []zapcore.WriteSyncer{zapcore.Lock(os.Stdout)}
	if cfg.File != "" {
		sinks = append(sinks, zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			Compress:   true,
		}))
	}
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		zapcore.NewMultiWriteSyncer(sinks...),
		level,
	)
	return zap.New(core, zap.AddCaller()), nil
}

// app holds the wired components of one escrow process.
type app struct {
	esc     *escrow.Escrow
	ledger  *token.Ledger
	signed  *collector.SignedTransfer
	pre     *collector.PreApproval
	router  *gin.Engine
	checker *health.Checker
	limiter *auth.RateLimiter
	watcher *watcher.Watcher
	relay   *relay.Relay // nil when no webhook is configured
}

func newApp(cfg *config.Config, rdb *redis.Client, log *zap.Logger) (*app, error) {
	m := metrics.Escrow()
	queue := events.NewQueuePublisher(rdb)

	// ── Ledger state ──────────────────────────────────────────────────────────
	db := store.New(store.NewRedisBackend(rdb, cfg.Redis.Prefix))
	db.OnCommit(events.CommitHook(events.Multi{queue, events.NewLogPublisher(log)}, log))

	chainID := big.NewInt(cfg.Escrow.ChainID)
	escrowAddr := cfg.EscrowAddress()
	ledger := token.NewLedger(db, chainID)
	esc := escrow.New(chainID, escrowAddr, db, ledger, log)
	esc.SetObserver(m)

	// ── Collectors ────────────────────────────────────────────────────────────
	signed := collector.NewSignedTransfer(escrowAddr, esc.Hasher(), ledger)
	pre := collector.NewPreApproval(escrowAddr, db, esc.Hasher(), ledger, esc)
	for _, c := range []collector.Collector{signed, pre, collector.NewOperatorRefund(escrowAddr, ledger)} {
		if err := esc.RegisterCollector(c); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
		log.Info("collector registered", zap.String("address", c.Address().Hex()), zap.String("type", c.Type().String()))
	}

	a := &app{
		esc:     esc,
		ledger:  ledger,
		signed:  signed,
		pre:     pre,
		checker: health.NewChecker(rdb, log),
		limiter: auth.NewRateLimiter(cfg.API.RatePerMinute, cfg.API.Burst),
		watcher: watcher.New(esc, rdb, queue, log),
	}
	a.watcher.SetMetrics(m)

	// ── Relay ─────────────────────────────────────────────────────────────────
	if cfg.RelayEnabled() {
		client, err := webhook.NewClientFromHex(cfg.Relay.WebhookURL, cfg.Relay.SigningKey)
		if err != nil {
			return nil, fmt.Errorf("webhook client: %w", err)
		}
		a.relay = relay.New(rdb, client, cfg.Relay.BatchSize, time.Duration(cfg.Relay.IntervalSec)*time.Second, log)
		a.relay.SetMetrics(m)
		log.Info("relay enabled", zap.String("url", cfg.Relay.WebhookURL), zap.String("signer", client.Signer().Hex()))
	}

	// ── HTTP routes ───────────────────────────────────────────────────────────
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) {
		if err := a.checker.Check(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false, "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := api.NewHandler(esc, ledger, pre, log)
	if cfg.API.DevMint {
		log.Warn("dev mint endpoint enabled")
		h.EnableDevMint()
	}
	h.Register(r, auth.NewVerifier(rdb).Middleware(), a.limiter.Middleware())
	a.router = r
	return a, nil
}

// start launches the background loops; they exit when ctx ends.
func (a *app) start(ctx context.Context, cfg *config.Config) {
	go a.checker.Run(ctx, 15*time.Second)
	go a.watcher.Run(ctx, time.Duration(cfg.Watcher.IntervalSec)*time.Second)
	if a.relay != nil {
		go a.relay.Run(ctx)
	}
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.limiter.Sweep()
			}
		}
	}()
}
