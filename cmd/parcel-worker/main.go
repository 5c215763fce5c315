package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/BearBump/ParcelSync/config"
	"github.com/BearBump/ParcelSync/internal/app"
)

func main() {
	cfg, err := config.LoadConfig(os.Getenv("configPath"))
	if err != nil {
		panic(fmt.Sprintf("config parse error, %v", err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	opts := workerOpts{
		httpAddr:    cfg.ParcelSync.WorkerHTTPAddr,
		grpcAddr:    cfg.ParcelSync.GRPCAddr,
		swaggerPath: cfg.ParcelSync.SwaggerPath,
	}
	if opts.swaggerPath == "" {
		opts.swaggerPath = os.Getenv("swaggerPath")
	}

	if err := RunParcelWorker(ctx, cfg, app.DefaultFactories(), opts); err != nil && !errors.Is(err, context.Canceled) {
		panic(err)
	}
}
