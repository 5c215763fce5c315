package main

import (
	"context"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const readinessInterval = 5 * time.Second

// runHealthServer serves grpc.health.v1 and flips the overall status with
// the result of ready.
func runHealthServer(ctx context.Context, lis net.Listener, ready func(context.Context) error) error {
	s := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)

	probe := func() {
		pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		status := healthpb.HealthCheckResponse_SERVING
		if err := ready(pctx); err != nil {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		hs.SetServingStatus("", status)
	}
	probe()

	go func() {
		t := time.NewTicker(readinessInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				hs.Shutdown()
				stopped := make(chan struct{})
				go func() {
					s.GracefulStop()
					close(stopped)
				}()
				select {
				case <-stopped:
				case <-time.After(2 * time.Second):
					s.Stop()
				}
				_ = lis.Close()
				return
			case <-t.C:
				probe()
			}
		}
	}()

	slog.Info("gRPC health server listening", "addr", lis.Addr().String())
	if err := s.Serve(lis); err != nil && ctx.Err() == nil {
		return err
	}
	<-ctx.Done()
	return ctx.Err()
}
