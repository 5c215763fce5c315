package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/BearBump/ParcelSync/config"
	adminapi "github.com/BearBump/ParcelSync/internal/api/admin_api"
	"github.com/BearBump/ParcelSync/internal/app"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	httpSwagger "github.com/swaggo/http-swagger"
)

type workerHTTPOpts struct {
	swaggerPath string

	engine *app.Engine
	cfg    *config.Config
}

func checkSwagger(path string) error {
	if path == "" {
		return fmt.Errorf("worker swaggerPath is required")
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("worker swagger file not found: %s", path)
	}
	return nil
}

func newWorkerRouter(opts workerHTTPOpts) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := opts.engine.Ready(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})

	r.Get("/stats/poller", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(opts.engine.Poller.Stats())
	})

	r.Get("/config", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		// Operational settings only; tokens and secrets stay out.
		pc := app.PlannerConfig(opts.cfg)
		out := map[string]any{
			"intervalSeconds":       opts.cfg.ParcelSync.IntervalSeconds,
			"intervalJitterSeconds": opts.cfg.ParcelSync.IntervalJitterSeconds,
			"startDelaySeconds":     opts.cfg.ParcelSync.StartDelaySeconds,
			"batchSize":             pc.BatchSize,
			"concurrency":           pc.Concurrency,
			"carrierMode":           opts.cfg.Carriers.Mode,
			"carrierPaceMillis":     opts.cfg.Carriers.PaceMillis,
			"spxPerMinute":          opts.cfg.Carriers.SPXPerMinute,
			"ghnPerMinute":          opts.cfg.Carriers.GHNPerMinute,
			"notifierEnabled":       opts.cfg.Notifier.URL != "",
			"redisEnabled":          opts.cfg.Redis.Enabled(),
			"kafkaEnabled":          opts.cfg.Kafka.Enabled(),
			"inMemoryStore":         opts.cfg.ParcelSync.UseInMemoryStore,
		}
		_ = json.NewEncoder(w).Encode(out)
	})

	r.Handle("/metrics", opts.engine.Metrics.Handler())

	r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		http.ServeFile(w, r, opts.swaggerPath)
	})
	swaggerURL := "/swagger.json"
	if fi, err := os.Stat(opts.swaggerPath); err == nil {
		swaggerURL = fmt.Sprintf("/swagger.json?v=%d", fi.ModTime().Unix())
	}
	r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL(swaggerURL)))

	admin := adminapi.New(opts.engine.Poller, opts.engine.Sessions, opts.engine.Orders, opts.engine.Bus)
	r.Mount("/api/v1", admin.Routes())
	return r
}

func runWorkerHTTPServer(ctx context.Context, lis net.Listener, opts workerHTTPOpts) error {
	srv := &http.Server{Handler: newWorkerRouter(opts), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()

	err := srv.Serve(lis)
	if err == http.ErrServerClosed {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}
