package main

import (
	"context"
	"log/slog"
	"net"

	"github.com/BearBump/ParcelSync/config"
	"github.com/BearBump/ParcelSync/internal/app"
	"github.com/pkg/errors"
)

type workerOpts struct {
	httpAddr    string
	grpcAddr    string
	swaggerPath string

	onListen func(httpAddr, grpcAddr string)
}

// RunParcelWorker runs the poller, the admin HTTP surface and the gRPC
// health service until ctx is cancelled or one of them fails.
func RunParcelWorker(ctx context.Context, cfg *config.Config, f app.Factories, opts workerOpts) error {
	if opts.httpAddr == "" {
		opts.httpAddr = ":8082"
	}
	if opts.grpcAddr == "" {
		opts.grpcAddr = ":50051"
	}

	eng, err := app.Build(cfg, f)
	if err != nil {
		return err
	}
	defer eng.Close()

	if ctx.Err() != nil {
		return ctx.Err()
	}

	if err := checkSwagger(opts.swaggerPath); err != nil {
		return err
	}

	httpLis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return errors.Wrap(err, "listen http")
	}
	grpcLis, err := net.Listen("tcp", opts.grpcAddr)
	if err != nil {
		_ = httpLis.Close()
		return errors.Wrap(err, "listen grpc")
	}
	if opts.onListen != nil {
		opts.onListen(httpLis.Addr().String(), grpcLis.Addr().String())
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	eng.Start(ctx)

	pollErr := make(chan error, 1)
	go func() { pollErr <- eng.Poller.Run(ctx) }()

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- runWorkerHTTPServer(ctx, httpLis, workerHTTPOpts{swaggerPath: opts.swaggerPath, engine: eng, cfg: cfg})
	}()

	grpcErr := make(chan error, 1)
	go func() { grpcErr <- runHealthServer(ctx, grpcLis, eng.Ready) }()

	slog.Info("parcel worker started", "http_addr", httpLis.Addr().String(), "grpc_addr", grpcLis.Addr().String())

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-pollErr:
		return err
	case err := <-httpErr:
		return errors.Wrap(err, "http server")
	case err := <-grpcErr:
		return errors.Wrap(err, "grpc server")
	}
}
