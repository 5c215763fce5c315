package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BearBump/ParcelSync/internal/events"
	"github.com/BearBump/ParcelSync/internal/integrations/marketplace"
	"github.com/BearBump/ParcelSync/internal/metrics"
	"github.com/BearBump/ParcelSync/internal/models"
	"github.com/BearBump/ParcelSync/internal/services/attribution"
	"github.com/BearBump/ParcelSync/internal/services/reconciler"
	"github.com/BearBump/ParcelSync/internal/services/sessions"
	"github.com/BearBump/ParcelSync/internal/storage"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

type Summary struct {
	CycleID    string    `json:"cycleId"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`

	NewlyTracked  int `json:"newlyTracked"`
	StatusUpdated int `json:"statusUpdated"`
	Delivered     int `json:"delivered"`
	Cancelled     int `json:"cancelled"`
	Errored       int `json:"errored"`

	Skipped bool `json:"skipped"`
}

func (s *Summary) apply(t reconciler.Tally) {
	s.NewlyTracked = t.NewlyTracked
	s.StatusUpdated = t.StatusUpdated
	s.Delivered = t.Delivered
	s.Cancelled = t.Cancelled
	s.Errored = t.Errored
}

// RunCycle runs one full reconciliation cycle. Component failures are
// counted in the summary; only a store timeout or a busy guard is returned.
func (p *Poller) RunCycle(ctx context.Context) (Summary, error) {
	release, err := p.acquire(ctx, "cycle")
	if err != nil {
		return Summary{Skipped: true}, err
	}
	defer release()

	sum := Summary{CycleID: uuid.NewString(), StartedAt: p.now()}
	p.totalCycles.Add(1)
	p.lastCycleUnixNano.Store(sum.StartedAt.UnixNano())
	slog.Info("cycle started", "cycle_id", sum.CycleID)

	var t reconciler.Tally
	phases := []struct {
		name string
		run  func(context.Context) (reconciler.Tally, error)
	}{
		{"repair", p.rec.RepairAwaiting},
		{"marketplace", p.marketplacePass},
		{"carrier", p.rec.CarrierPass},
		{"broadcast", p.broadcast},
	}
	for _, ph := range phases {
		if ctx.Err() != nil {
			slog.Warn("cycle interrupted", "cycle_id", sum.CycleID, "phase", ph.name)
			break
		}
		pt, err := ph.run(ctx)
		t.Add(pt)
		if err == nil {
			continue
		}
		if errors.Is(err, storage.ErrStoreTimeout) {
			sum.apply(t)
			sum.FinishedAt = p.now()
			p.setLastError(err)
			p.metrics.Cycle(metrics.CycleFailed)
			slog.Error("cycle aborted", "cycle_id", sum.CycleID, "phase", ph.name, "error", err.Error())
			return sum, errors.Wrapf(err, "cycle phase %s", ph.name)
		}
		t.Errored++
		p.setLastError(err)
		slog.Error("cycle phase failed", "cycle_id", sum.CycleID, "phase", ph.name, "error", err.Error())
	}

	sum.apply(t)
	sum.FinishedAt = p.now()
	p.metrics.CycleFinished(sum.FinishedAt.Sub(sum.StartedAt), metrics.OrderCounts{
		NewlyTracked:  t.NewlyTracked,
		StatusUpdated: t.StatusUpdated,
		Delivered:     t.Delivered,
		Cancelled:     t.Cancelled,
		Errored:       t.Errored,
	})
	p.remember(context.WithoutCancel(ctx), sum)
	p.pub.Publish(events.Event{Kind: events.CycleCompleted, Data: sum})
	slog.Info("cycle completed",
		"cycle_id", sum.CycleID,
		"duration", sum.FinishedAt.Sub(sum.StartedAt).String(),
		"newly_tracked", t.NewlyTracked,
		"status_updated", t.StatusUpdated,
		"delivered", t.Delivered,
		"cancelled", t.Cancelled,
		"errored", t.Errored,
	)
	return sum, nil
}

// marketplacePass polls every active session, batch after batch.
func (p *Poller) marketplacePass(ctx context.Context) (reconciler.Tally, error) {
	var t reconciler.Tally
	active, err := p.store.ListSessionsByStatus(ctx, models.SessionActive)
	if err != nil {
		return t, errors.Wrap(err, "list active sessions")
	}
	batches := p.planner.Split(active)
	slog.Info("marketplace pass", "sessions", len(active), "batches", len(batches))

	for i, batch := range batches {
		if ctx.Err() != nil {
			return t, nil
		}
		bt, err := p.pollBatch(ctx, batch)
		t.Add(bt)
		switch {
		case err == nil:
		case errors.Is(err, storage.ErrStoreTimeout):
			return t, err
		case errors.Is(err, marketplace.ErrServiceUnauthorized):
			// Every later batch would hit the same rejected token.
			t.Errored += len(batch)
			p.setLastError(err)
			slog.Error("marketplace token rejected, skipping remaining batches", "batch", i+1, "remaining", len(batches)-i-1)
			return t, nil
		default:
			t.Errored += len(batch)
			p.setLastError(err)
			slog.Error("marketplace batch failed", "batch", i+1, "sessions", len(batch), "error", err.Error())
		}
	}
	return t, nil
}

func (p *Poller) pollBatch(ctx context.Context, batch []models.Session) (reconciler.Tally, error) {
	var t reconciler.Tally
	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, p.planner.BatchDeadline(len(batch)))
	defer cancel()

	p.sessionsPolled.Add(int64(len(batch)))
	p.inFlight.Add(int64(len(batch)))
	defer p.inFlight.Add(-int64(len(batch)))

	res, err := p.market.FetchBatch(ctx, credentials(batch))
	switch {
	case err == nil:
		p.metrics.MarketplaceBatch(metrics.ResultOK)
	case errors.Is(err, marketplace.ErrCredentialExpired) && len(batch) == 1:
		p.metrics.MarketplaceBatch(metrics.ResultExpired)
		return t, p.expire(ctx, batch[0])
	case errors.Is(err, marketplace.ErrCredentialExpired):
		// The banner did not say whose credential died; ask one at a time.
		p.metrics.MarketplaceBatch(metrics.ResultExpired)
		slog.Warn("unlocalised expiry in batch, polling sessions alone", "sessions", len(batch))
		return p.pollEach(parent, batch)
	default:
		p.metrics.MarketplaceBatch(metrics.ResultError)
		return t, errors.Wrap(err, "fetch marketplace batch")
	}

	ids := make([]uint64, 0, len(batch))
	for _, s := range batch {
		ids = append(ids, s.ID)
	}
	cached, err := p.store.ListOrdersBySessions(ctx, ids)
	if err != nil {
		return t, errors.Wrap(err, "load cached orders")
	}
	cachedBy := make(map[uint64][]models.Order, len(batch))
	for _, o := range cached {
		cachedBy[o.SessionID] = append(cachedBy[o.SessionID], o)
	}

	drafts, err := p.attribute(ctx, res.Drafts, attribution.NewBatch(batch, cached), &t)
	if err != nil {
		return t, err
	}
	expired := make(map[int]bool, len(res.Expired))
	for _, o := range res.Expired {
		expired[o] = true
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.planner.Config().Concurrency)
	for i, s := range batch {
		if expired[i+1] {
			g.Go(func() error { return p.expire(gctx, s) })
			continue
		}
		g.Go(func() error {
			st, err := p.pollSession(gctx, s, drafts[s.ID], cachedBy[s.ID], len(batch) > 1)
			mu.Lock()
			t.Add(st)
			mu.Unlock()
			return err
		})
	}
	return t, g.Wait()
}

// attribute assigns each draft to one session of the batch or drops it.
func (p *Poller) attribute(ctx context.Context, in []models.OrderDraft, b *attribution.Batch, t *reconciler.Tally) (map[uint64][]models.OrderDraft, error) {
	out := make(map[uint64][]models.OrderDraft, len(b.Sessions))
	for _, d := range in {
		r, err := attribution.Resolve(ctx, d, b, p.store)
		if err != nil {
			if errors.Is(err, storage.ErrStoreTimeout) {
				return nil, err
			}
			t.Errored++
			slog.Error("attribution lookup", "order_id", d.ID, "error", err.Error())
			continue
		}
		if !r.OK() {
			p.metrics.AttributionFailure()
			slog.Warn("order record not attributed", "order_id", d.ID, "ordinal", d.Ordinal, "batch_size", len(b.Sessions))
			continue
		}
		out[r.SessionID] = append(out[r.SessionID], d)
	}
	return out, nil
}

// pollSession applies one session's share of a batch. A session left with
// nothing inside a shared batch is asked again alone before its cached
// orders are judged, so an attribution gap never reads as cancellation.
func (p *Poller) pollSession(ctx context.Context, s models.Session, drafts []models.OrderDraft, cached []models.Order, shared bool) (reconciler.Tally, error) {
	var t reconciler.Tally
	if len(drafts) == 0 && shared && len(cached) > 0 {
		res, err := p.market.FetchBatch(ctx, []string{s.Credential})
		switch {
		case errors.Is(err, marketplace.ErrCredentialExpired):
			return t, p.expire(ctx, s)
		case err != nil:
			t.Errored++
			slog.Warn("solo re-poll failed", "session_id", s.ID, "error", err.Error())
			return t, nil
		}
		drafts = res.Drafts
	}
	return p.apply(ctx, s, drafts, cached)
}

// pollEach polls every session of batch alone, each under its own
// single-session deadline.
func (p *Poller) pollEach(ctx context.Context, batch []models.Session) (reconciler.Tally, error) {
	var t reconciler.Tally
	for _, s := range batch {
		if ctx.Err() != nil {
			break
		}
		sctx, cancel := context.WithTimeout(ctx, p.planner.BatchDeadline(1))
		st, err := p.pollOne(sctx, s)
		cancel()
		t.Add(st)
		if errors.Is(err, storage.ErrStoreTimeout) {
			return t, err
		}
		if err != nil {
			t.Errored++
			slog.Warn("session poll failed", "session_id", s.ID, "error", err.Error())
		}
	}
	return t, nil
}

// pollOne polls a single session and reconciles it. Expiry is handled;
// other marketplace errors are returned.
func (p *Poller) pollOne(ctx context.Context, s models.Session) (reconciler.Tally, error) {
	var t reconciler.Tally
	res, err := p.market.FetchBatch(ctx, []string{s.Credential})
	if errors.Is(err, marketplace.ErrCredentialExpired) {
		return t, p.expire(ctx, s)
	}
	if err != nil {
		return t, errors.Wrapf(err, "poll session %d", s.ID)
	}
	cached, err := p.store.ListOrdersBySessions(ctx, []uint64{s.ID})
	if err != nil {
		return t, errors.Wrap(err, "load cached orders")
	}
	return p.apply(ctx, s, res.Drafts, cached)
}

func (p *Poller) apply(ctx context.Context, s models.Session, drafts []models.OrderDraft, cached []models.Order) (reconciler.Tally, error) {
	var t reconciler.Tally
	verdict, err := p.sessions.Observe(ctx, s, drafts)
	if err != nil {
		t.Errored++
		slog.Error("observe session", "session_id", s.ID, "error", err.Error())
		return t, nil
	}
	if verdict == sessions.VerdictImplausible {
		return t, nil
	}
	return p.rec.ReconcileSession(ctx, s, drafts, cached), nil
}

func (p *Poller) expire(ctx context.Context, s models.Session) error {
	if _, err := p.sessions.Expire(ctx, s); err != nil {
		if errors.Is(err, storage.ErrStoreTimeout) {
			return err
		}
		p.setLastError(err)
		slog.Error("expire session", "session_id", s.ID, "error", err.Error())
	}
	return nil
}

// broadcast hands every active order to the notification channel. It is a
// snapshot for the chat bot, not an event.
func (p *Poller) broadcast(ctx context.Context) (reconciler.Tally, error) {
	var t reconciler.Tally
	if p.notifier == nil {
		return t, nil
	}
	orders, err := p.store.ListActiveOrders(ctx)
	if err != nil {
		return t, errors.Wrap(err, "list active orders")
	}
	if len(orders) == 0 {
		slog.Info("no active orders to broadcast")
		return t, nil
	}
	out := make([]*models.Order, 0, len(orders))
	for i := range orders {
		out = append(out, &orders[i])
	}
	if err := p.notifier.SendOrders(ctx, out); err != nil {
		slog.Warn("broadcast active orders", "orders", len(out), "error", err.Error())
		return t, nil
	}
	slog.Info("active orders broadcast", "orders", len(out))
	return t, nil
}

func credentials(batch []models.Session) []string {
	out := make([]string, 0, len(batch))
	for _, s := range batch {
		out = append(out, s.Credential)
	}
	return out
}
