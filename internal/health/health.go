// Package health reports service liveness over gRPC and HTTP.
package health

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Service is the name reported for the escrow ledger in the health service.
const Service = "escrow.v1.Ledger"

// Checker pings Redis and mirrors the result into a gRPC health server.
type Checker struct {
	rdb *redis.Client
	srv *grpchealth.Server
	log *zap.Logger
}

func NewChecker(rdb *redis.Client, log *zap.Logger) *Checker {
	srv := grpchealth.NewServer()
	srv.SetServingStatus(Service, healthpb.HealthCheckResponse_NOT_SERVING)
	srv.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	return &Checker{rdb: rdb, srv: srv, log: log}
}

// Check pings Redis and updates the serving status.
func (c *Checker) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	err := c.rdb.Ping(ctx).Err()
	status := healthpb.HealthCheckResponse_SERVING
	if err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		err = fmt.Errorf("redis: %w", err)
	}
	c.srv.SetServingStatus(Service, status)
	c.srv.SetServingStatus("", status)
	return err
}

// Run re-checks every interval until ctx is cancelled, then marks the
// service as shutting down.
func (c *Checker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := c.Check(ctx); err != nil && ctx.Err() == nil {
			c.log.Warn("health check failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			c.srv.Shutdown()
			return
		case <-ticker.C:
		}
	}
}

// Serve runs a gRPC server exposing the health service on lis until ctx ends.
func (c *Checker) Serve(ctx context.Context, lis net.Listener) error {
	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, c.srv)
	go func() {
		<-ctx.Done()
		gs.GracefulStop()
	}()
	c.log.Info("grpc health listening", zap.String("addr", lis.Addr().String()))
	if err := gs.Serve(lis); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
