// Package poller drives reconciliation cycles: consistency repair,
// marketplace polling in batches, the carrier pass, and the broadcast of
// active orders to the notification channel.
package poller

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/ParcelSync/internal/cache"
	"github.com/BearBump/ParcelSync/internal/events"
	"github.com/BearBump/ParcelSync/internal/integrations/marketplace"
	"github.com/BearBump/ParcelSync/internal/metrics"
	"github.com/BearBump/ParcelSync/internal/models"
	"github.com/BearBump/ParcelSync/internal/services/reconciler"
	"github.com/BearBump/ParcelSync/internal/services/sessions"
	"github.com/pkg/errors"
)

var (
	// ErrCycleInProgress is returned when another cycle, here or on another
	// replica, still holds the single-flight guard.
	ErrCycleInProgress = errors.New("reconciliation cycle already in progress")
	ErrSessionNotFound = errors.New("session not found")
)

const (
	LockKey    = "lock:cycle"
	SummaryKey = "cycle:last"

	summaryTTL = 7 * 24 * time.Hour
)

type Store interface {
	GetSession(ctx context.Context, id uint64) (*models.Session, error)
	ListSessionsByStatus(ctx context.Context, status models.SessionStatus) ([]models.Session, error)
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	ListOrdersBySessions(ctx context.Context, sessionIDs []uint64) ([]models.Order, error)
	ListActiveOrders(ctx context.Context) ([]models.Order, error)
}

type Marketplace interface {
	FetchBatch(ctx context.Context, credentials []string) (marketplace.BatchResult, error)
}

type SessionManager interface {
	Observe(ctx context.Context, s models.Session, drafts []models.OrderDraft) (sessions.Verdict, error)
	Expire(ctx context.Context, s models.Session) ([]models.Order, error)
}

type Reconciler interface {
	RepairAwaiting(ctx context.Context) (reconciler.Tally, error)
	ReconcileSession(ctx context.Context, s models.Session, drafts []models.OrderDraft, cached []models.Order) reconciler.Tally
	CarrierPass(ctx context.Context) (reconciler.Tally, error)
}

type OrdersNotifier interface {
	SendOrders(ctx context.Context, orders []*models.Order) error
}

// Locker guards cycles across replicas. release must be called once.
type Locker interface {
	TryLock(ctx context.Context, key string) (release func(context.Context) error, ok bool, err error)
}

type Poller struct {
	store    Store
	market   Marketplace
	sessions SessionManager
	rec      Reconciler

	notifier OrdersNotifier
	locker   Locker
	cache    cache.BytesCache
	pub      events.Publisher
	metrics  *metrics.Metrics

	planner *Planner
	now     func() time.Time

	running   atomic.Bool
	triggerCh chan struct{}

	startedAtUnixNano   int64
	lastCycleUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalCycles         atomic.Int64
	skippedCycles       atomic.Int64
	totalErrors         atomic.Int64
	sessionsPolled      atomic.Int64
	inFlight            atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string

	lastMu sync.Mutex
	last   *Summary
}

func New(store Store, market Marketplace, sm SessionManager, rec Reconciler, pub events.Publisher) *Poller {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Poller{
		store:             store,
		market:            market,
		sessions:          sm,
		rec:               rec,
		pub:               pub,
		planner:           DefaultPlanner(),
		now:               func() time.Time { return time.Now().UTC() },
		triggerCh:         make(chan struct{}, 1),
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

func DefaultPlanner() *Planner {
	return NewPlanner(DefaultPlannerConfig(), nil)
}

func (p *Poller) WithPlanner(cfg PlannerConfig) *Poller {
	p.planner = NewPlanner(cfg, nil)
	return p
}

func (p *Poller) WithNotifier(n OrdersNotifier) *Poller {
	p.notifier = n
	return p
}

// WithLocker adds a cross-replica guard on top of the in-process flag.
func (p *Poller) WithLocker(l Locker) *Poller {
	p.locker = l
	return p
}

// WithSummaryCache stores the last cycle summary under SummaryKey.
func (p *Poller) WithSummaryCache(c cache.BytesCache) *Poller {
	p.cache = c
	return p
}

func (p *Poller) WithMetrics(m *metrics.Metrics) *Poller {
	p.metrics = m
	return p
}

func (p *Poller) WithClock(now func() time.Time) *Poller {
	p.now = now
	return p
}

// Trigger queues a cycle on the Run loop. Repeated triggers before the
// loop picks one up collapse into a single cycle.
func (p *Poller) Trigger() {
	p.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case p.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt      time.Time  `json:"startedAt"`
	LastCycleAt    *time.Time `json:"lastCycleAt,omitempty"`
	LastTriggerAt  *time.Time `json:"lastTriggerAt,omitempty"`
	Running        bool       `json:"running"`
	TotalCycles    int64      `json:"totalCycles"`
	SkippedCycles  int64      `json:"skippedCycles"`
	TotalErrors    int64      `json:"totalErrors"`
	SessionsPolled int64      `json:"sessionsPolled"`
	InFlight       int64      `json:"inFlight"`
	LastError      string     `json:"lastError,omitempty"`
}

func (p *Poller) Stats() Stats {
	st := Stats{
		StartedAt:      time.Unix(0, p.startedAtUnixNano).UTC(),
		Running:        p.running.Load(),
		TotalCycles:    p.totalCycles.Load(),
		SkippedCycles:  p.skippedCycles.Load(),
		TotalErrors:    p.totalErrors.Load(),
		SessionsPolled: p.sessionsPolled.Load(),
		InFlight:       p.inFlight.Load(),
	}
	if n := p.lastCycleUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastCycleAt = &t
	}
	if n := p.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	p.lastErrorMu.Lock()
	st.LastError = p.lastError
	p.lastErrorMu.Unlock()
	return st
}

// Run waits StartDelay, runs a cycle, then runs one more every interval
// after the previous finished, plus one per coalesced Trigger.
func (p *Poller) Run(ctx context.Context) error {
	cfg := p.planner.Config()
	slog.Info("poller started", "start_delay", cfg.StartDelay.String(), "interval", cfg.Interval.String())

	t := time.NewTimer(cfg.StartDelay)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			p.runScheduled(ctx)
			t.Reset(p.planner.NextDelay())
		case <-p.triggerCh:
			p.runScheduled(ctx)
		}
	}
}

func (p *Poller) runScheduled(ctx context.Context) {
	if _, err := p.RunCycle(ctx); err != nil && !errors.Is(err, ErrCycleInProgress) {
		slog.Error("reconciliation cycle failed", "error", err.Error())
	}
}

// acquire takes the single-flight guard. A busy guard counts as a skipped
// cycle.
func (p *Poller) acquire(ctx context.Context, what string) (func(), error) {
	if !p.running.CompareAndSwap(false, true) {
		p.skip(what, "local")
		return nil, ErrCycleInProgress
	}
	if p.locker == nil {
		return func() { p.running.Store(false) }, nil
	}

	unlock, ok, err := p.locker.TryLock(ctx, LockKey)
	if err != nil {
		// Without the shared lock this replica still has its own flag.
		slog.Warn("cycle lock unavailable", "error", err.Error())
		return func() { p.running.Store(false) }, nil
	}
	if !ok {
		p.running.Store(false)
		p.skip(what, "remote")
		return nil, ErrCycleInProgress
	}
	return func() {
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := unlock(rctx); err != nil {
			slog.Warn("release cycle lock", "error", err.Error())
		}
		p.running.Store(false)
	}, nil
}

func (p *Poller) skip(what, holder string) {
	p.skippedCycles.Add(1)
	slog.Info("cycle skipped", "run", what, "holder", holder)
	p.metrics.Cycle(metrics.CycleSkipped)
	p.pub.Publish(events.Event{Kind: events.CycleSkipped, Data: map[string]any{"run": what, "holder": holder}})
}

func (p *Poller) setLastError(err error) {
	p.totalErrors.Add(1)
	p.lastErrorMu.Lock()
	p.lastError = err.Error()
	p.lastErrorMu.Unlock()
}

// LastSummary returns the most recent completed cycle, preferring the
// shared cache so every replica reports the same one.
func (p *Poller) LastSummary(ctx context.Context) (*Summary, error) {
	if p.cache != nil {
		b, ok, err := p.cache.Get(ctx, SummaryKey)
		if err != nil {
			slog.Warn("read cycle summary", "error", err.Error())
		} else if ok {
			var s Summary
			if err := json.Unmarshal(b, &s); err == nil {
				return &s, nil
			}
		}
	}
	p.lastMu.Lock()
	defer p.lastMu.Unlock()
	if p.last == nil {
		return nil, nil
	}
	s := *p.last
	return &s, nil
}

func (p *Poller) remember(ctx context.Context, s Summary) {
	p.lastMu.Lock()
	p.last = &s
	p.lastMu.Unlock()

	if p.cache == nil {
		return
	}
	b, err := json.Marshal(s)
	if err != nil {
		return
	}
	if err := p.cache.Set(ctx, SummaryKey, b, summaryTTL); err != nil {
		slog.Warn("store cycle summary", "error", err.Error())
	}
}
