// Package app assembles the reconciliation engine from config. Both the
// worker and parcelctl build through it.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BearBump/ParcelSync/config"
	"github.com/BearBump/ParcelSync/internal/broker/kafka"
	"github.com/BearBump/ParcelSync/internal/cache/rediscache"
	"github.com/BearBump/ParcelSync/internal/events"
	"github.com/BearBump/ParcelSync/internal/integrations/carrier"
	"github.com/BearBump/ParcelSync/internal/integrations/carrier/fake"
	"github.com/BearBump/ParcelSync/internal/integrations/carrier/ghn"
	"github.com/BearBump/ParcelSync/internal/integrations/carrier/spx"
	"github.com/BearBump/ParcelSync/internal/integrations/marketplace"
	"github.com/BearBump/ParcelSync/internal/metrics"
	"github.com/BearBump/ParcelSync/internal/models"
	"github.com/BearBump/ParcelSync/internal/notify"
	"github.com/BearBump/ParcelSync/internal/services/orders"
	"github.com/BearBump/ParcelSync/internal/services/poller"
	"github.com/BearBump/ParcelSync/internal/services/reconciler"
	"github.com/BearBump/ParcelSync/internal/services/sessions"
	"github.com/BearBump/ParcelSync/internal/storage"
	"github.com/BearBump/ParcelSync/internal/storage/memstore"
	"github.com/BearBump/ParcelSync/internal/storage/pgstore"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

const (
	DefaultEventsTopic = "parcelsync.events"
	DefaultCachePrefix = "parcelsync:"

	defaultPace     = 500 * time.Millisecond
	defaultLockTTL  = 10 * time.Minute
	defaultReadTTL  = 30 * time.Second
	defaultNotifyTO = notify.DefaultTimeout
)

// Notifier is the outbound notification channel.
type Notifier interface {
	SendOrders(ctx context.Context, orders []*models.Order) error
	SendDelivered(ctx context.Context, d models.DeliveredOrder) error
}

type Factories struct {
	NewStore func(cfg *config.Config) (st storage.Store, closeFn func(), err error)
	// NewRedis returns nil when Redis is not configured.
	NewRedis func(cfg *config.Config) *redis.Client
	// NewProducer returns nil when Kafka is not configured.
	NewProducer    func(cfg *config.Config) (events.Producer, func())
	NewCarriers    func(cfg *config.Config) carrier.Registry
	NewMarketplace func(cfg *config.Config) poller.Marketplace
	NewNotifier    func(cfg *config.Config) Notifier
}

func DefaultFactories() Factories {
	return Factories{
		NewStore: func(cfg *config.Config) (storage.Store, func(), error) {
			if cfg.ParcelSync.UseInMemoryStore {
				slog.Warn("using in-memory store, state is lost on restart")
				return memstore.New(), nil, nil
			}
			st, err := OpenPostgresWithRetry(cfg.Database.ConnString(), 60*time.Second)
			if err != nil {
				return nil, nil, err
			}
			if d := seconds(cfg.Database.QueryTimeoutSeconds, 0); d > 0 {
				st.WithQueryTimeout(d)
			}
			return st, st.Close, nil
		},
		NewRedis: func(cfg *config.Config) *redis.Client {
			if !cfg.Redis.Enabled() {
				return nil
			}
			return rediscache.NewClient(fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port))
		},
		NewProducer: func(cfg *config.Config) (events.Producer, func()) {
			if !cfg.Kafka.Enabled() {
				return nil, nil
			}
			p := kafka.NewProducer([]string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)})
			return p, func() { _ = p.Close() }
		},
		NewCarriers: func(cfg *config.Config) carrier.Registry {
			if cfg.Carriers.Mode != "live" {
				return carrier.Registry{carrier.SPX: fake.New(carrier.SPX), carrier.GHN: fake.New(carrier.GHN)}
			}
			to := seconds(cfg.Carriers.TimeoutSeconds, 15*time.Second)
			return carrier.Registry{
				carrier.SPX: spx.New(cfg.Carriers.SPXBaseURL, to),
				carrier.GHN: ghn.New(cfg.Carriers.GHNBaseURL, to),
			}
		},
		NewMarketplace: func(cfg *config.Config) poller.Marketplace {
			return marketplace.New(cfg.Marketplace.BaseURL, cfg.Marketplace.ServiceToken).
				WithTimeouts(
					seconds(cfg.Marketplace.BaseTimeoutSeconds, marketplace.DefaultBaseTimeout),
					seconds(cfg.Marketplace.PerCredentialTimeoutSeconds, marketplace.DefaultPerCredentialTimeout),
				)
		},
		NewNotifier: func(cfg *config.Config) Notifier {
			if cfg.Notifier.URL == "" {
				return notify.Nop{}
			}
			return notify.NewWebhook(cfg.Notifier.URL, cfg.Notifier.Secret, seconds(cfg.Notifier.TimeoutSeconds, defaultNotifyTO))
		},
	}
}

// OpenPostgresWithRetry keeps dialing until the database answers or wait runs out.
func OpenPostgresWithRetry(connString string, wait time.Duration) (*pgstore.Storage, error) {
	deadline := time.Now().Add(wait)
	var lastErr error
	for {
		st, err := pgstore.New(connString)
		if err == nil {
			return st, nil
		}
		lastErr = err
		if time.Now().After(deadline) {
			return nil, errors.Wrapf(lastErr, "postgres is not ready after %s", wait)
		}
		time.Sleep(time.Second)
	}
}

type Engine struct {
	Config *config.Config

	Store      storage.Store
	Bus        *events.Bus
	Metrics    *metrics.Metrics
	Sessions   *sessions.Manager
	Reconciler *reconciler.Reconciler
	Poller     *poller.Poller
	Orders     *orders.Service

	redis     *redis.Client
	forwarder *events.Forwarder
	closers   []func()
}

// Build wires every component. Close must be called even when only part
// of the engine is used.
func Build(cfg *config.Config, f Factories) (*Engine, error) {
	e := &Engine{Config: cfg}

	st, closeStore, err := f.NewStore(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "open store")
	}
	e.Store = st
	e.onClose(closeStore)

	e.Metrics = metrics.New()
	e.Bus = events.NewBus().OnDrop(func(events.Kind) { e.Metrics.EventDropped() })

	e.redis = f.NewRedis(cfg)
	if e.redis != nil {
		rc := e.redis
		e.onClose(func() { _ = rc.Close() })
	}

	producer, closeProducer := f.NewProducer(cfg)
	e.onClose(closeProducer)
	if producer != nil {
		topic := cfg.Kafka.EventsTopicName
		if topic == "" {
			topic = DefaultEventsTopic
		}
		e.forwarder = events.NewForwarder(e.Bus, producer, topic)
	}

	notifier := f.NewNotifier(cfg)
	e.Sessions = sessions.New(st, e.Bus)

	pace := time.Duration(cfg.Carriers.PaceMillis) * time.Millisecond
	if pace <= 0 {
		pace = defaultPace
	}
	e.Reconciler = reconciler.New(st, e.Sessions, f.NewCarriers(cfg), e.Bus).
		WithNotifier(notifier).
		WithMetrics(e.Metrics).
		WithPacing(rate.NewLimiter(rate.Every(pace), 1))

	e.Poller = poller.New(st, f.NewMarketplace(cfg), e.Sessions, e.Reconciler, e.Bus).
		WithPlanner(PlannerConfig(cfg)).
		WithNotifier(notifier).
		WithMetrics(e.Metrics)

	readTTL := seconds(cfg.ParcelSync.ReadCacheSeconds, defaultReadTTL)
	if e.redis != nil {
		rc := rediscache.New(e.redis, DefaultCachePrefix)
		e.Poller.
			WithLocker(rediscache.NewLocker(e.redis, seconds(cfg.ParcelSync.CycleLockSeconds, defaultLockTTL))).
			WithSummaryCache(rc)
		if limits := carrierLimits(cfg); len(limits) > 0 {
			e.Reconciler.WithCarrierLimits(rediscache.NewRateLimiter(e.redis), limits)
		}
		e.Orders = orders.New(st, rc, readTTL)
	} else {
		e.Orders = orders.New(st, nil, 0)
	}

	return e, nil
}

// PlannerConfig maps the yaml knobs onto the cycle planner. Zero values
// keep the planner's defaults.
func PlannerConfig(cfg *config.Config) poller.PlannerConfig {
	c := cfg.ParcelSync
	return poller.PlannerConfig{
		BatchSize:        c.BatchSize,
		Concurrency:      c.Concurrency,
		BatchBudget:      seconds(c.BatchBudgetSeconds, 0),
		PerSessionBudget: seconds(c.PerSessionSeconds, 0),
		StartDelay:       seconds(c.StartDelaySeconds, 0),
		Interval:         seconds(c.IntervalSeconds, 0),
		IntervalJitter:   seconds(c.IntervalJitterSeconds, 0),
	}
}

func carrierLimits(cfg *config.Config) map[string]int64 {
	out := map[string]int64{}
	if n := cfg.Carriers.SPXPerMinute; n > 0 {
		out[carrier.SPX] = int64(n)
	}
	if n := cfg.Carriers.GHNPerMinute; n > 0 {
		out[carrier.GHN] = int64(n)
	}
	return out
}

// Start runs the background consumers of the bus: cache invalidation and,
// when Kafka is configured, the event forwarder. They stop with ctx.
func (e *Engine) Start(ctx context.Context) {
	sub := e.Bus.Subscribe(e.Config.ParcelSync.EventBuffer)
	go func() {
		defer sub.Unsubscribe()
		e.Orders.Watch(ctx, sub)
	}()

	if e.forwarder != nil {
		go func() {
			if err := e.forwarder.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("event forwarder stopped", "error", err.Error())
			}
		}()
	}
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Ready reports whether the store and Redis answer.
func (e *Engine) Ready(ctx context.Context) error {
	if p, ok := e.Store.(pinger); ok {
		if err := p.Ping(ctx); err != nil {
			return errors.Wrap(err, "store")
		}
	}
	if e.redis != nil {
		if err := e.redis.Ping(ctx).Err(); err != nil {
			return errors.Wrap(err, "redis")
		}
	}
	return nil
}

func (e *Engine) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
	e.closers = nil
}

func (e *Engine) onClose(fn func()) {
	if fn != nil {
		e.closers = append(e.closers, fn)
	}
}

func seconds(n int, def time.Duration) time.Duration {
	if n <= 0 {
		return def
	}
	return time.Duration(n) * time.Second
}
