// Package reconciler turns marketplace drafts and carrier snapshots into
// order-cache writes, archive entries and events.
package reconciler

import (
	"context"
	"log/slog"
	"time"

	"github.com/BearBump/ParcelSync/internal/cache/rediscache"
	"github.com/BearBump/ParcelSync/internal/events"
	"github.com/BearBump/ParcelSync/internal/integrations/carrier"
	"github.com/BearBump/ParcelSync/internal/metrics"
	"github.com/BearBump/ParcelSync/internal/models"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// ErrThrottled means the shared per-minute carrier budget is spent.
// The call is skipped and retried next cycle.
var ErrThrottled = errors.New("carrier rate limit reached")

type Store interface {
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	GetDelivered(ctx context.Context, orderID string) (*models.DeliveredOrder, error)
	ListOrdersByMethod(ctx context.Context, methods ...models.TrackingMethod) ([]models.Order, error)
	UpsertOrder(ctx context.Context, o models.Order) error
	ApplyStatusUpdate(ctx context.Context, orderID string, upd models.StatusUpdate) error
	AssignTracking(ctx context.Context, orderID string, a models.TrackingAssignment) error
	DeleteOrder(ctx context.Context, id string) error
	ArchiveDelivered(ctx context.Context, d models.DeliveredOrder) error
	GetJourney(ctx context.Context, trackingCode string) (*models.TrackingJourney, error)
	UpsertJourney(ctx context.Context, j models.TrackingJourney) error
	DeleteJourney(ctx context.Context, trackingCode string) error
}

type SessionPurger interface {
	TryPurge(ctx context.Context, id uint64) (bool, error)
}

// DeliveryNotifier announces finalized orders. Failures are logged only.
type DeliveryNotifier interface {
	SendDelivered(ctx context.Context, d models.DeliveredOrder) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

// Tally counts what one pass changed.
type Tally struct {
	NewlyTracked  int `json:"newlyTracked"`
	StatusUpdated int `json:"statusUpdated"`
	Delivered     int `json:"delivered"`
	Cancelled     int `json:"cancelled"`
	Errored       int `json:"errored"`
}

func (t *Tally) Add(o Tally) {
	t.NewlyTracked += o.NewlyTracked
	t.StatusUpdated += o.StatusUpdated
	t.Delivered += o.Delivered
	t.Cancelled += o.Cancelled
	t.Errored += o.Errored
}

type Reconciler struct {
	store    Store
	sessions SessionPurger
	carriers carrier.Registry
	notifier DeliveryNotifier
	pub      events.Publisher
	metrics  *metrics.Metrics

	pace      *rate.Limiter
	rl        RateLimiter
	perMinute map[string]int64

	now func() time.Time
}

func New(store Store, sessions SessionPurger, carriers carrier.Registry, pub events.Publisher) *Reconciler {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Reconciler{
		store:    store,
		sessions: sessions,
		carriers: carriers,
		pub:      pub,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (r *Reconciler) WithNotifier(n DeliveryNotifier) *Reconciler {
	r.notifier = n
	return r
}

func (r *Reconciler) WithMetrics(m *metrics.Metrics) *Reconciler {
	r.metrics = m
	return r
}

// WithPacing spaces carrier calls made by this process.
func (r *Reconciler) WithPacing(l *rate.Limiter) *Reconciler {
	r.pace = l
	return r
}

// WithCarrierLimits caps calls per carrier per minute across replicas.
func (r *Reconciler) WithCarrierLimits(rl RateLimiter, perMinute map[string]int64) *Reconciler {
	r.rl = rl
	r.perMinute = perMinute
	return r
}

func (r *Reconciler) WithClock(now func() time.Time) *Reconciler {
	r.now = now
	return r
}

func (r *Reconciler) wait(ctx context.Context, carrierID string) error {
	if r.pace != nil {
		if err := r.pace.Wait(ctx); err != nil {
			return errors.Wrap(err, "carrier pacing")
		}
	}
	if r.rl == nil {
		return nil
	}
	limit := r.perMinute[carrierID]
	if limit <= 0 {
		return nil
	}
	allowed, n, err := r.rl.Allow(ctx, rediscache.MinuteKey(carrierID, r.now()), limit, 70*time.Second)
	if err != nil {
		// The shared budget is advisory; local pacing still applies.
		slog.Warn("carrier rate limiter unavailable", "carrier", carrierID, "error", err.Error())
		return nil
	}
	if !allowed {
		slog.Warn("rate limit exceeded", "carrier", carrierID, "count", n)
		return errors.Wrapf(ErrThrottled, "%s: %d calls this minute", carrierID, n)
	}
	return nil
}

// fetch makes one paced carrier call for code.
func (r *Reconciler) fetch(ctx context.Context, carrierID, code string) (carrier.Snapshot, error) {
	client, ok := r.carriers.Lookup(carrierID)
	if !ok {
		return carrier.Snapshot{}, errors.Errorf("no status client for carrier %q", carrierID)
	}
	if err := r.wait(ctx, carrierID); err != nil {
		r.metrics.CarrierCall(carrierID, metrics.ResultThrottled)
		return carrier.Snapshot{}, err
	}
	snap, err := client.FetchStatus(ctx, code)
	switch {
	case err == nil:
		r.metrics.CarrierCall(carrierID, metrics.ResultOK)
		if snap.Carrier == "" {
			snap.Carrier = carrierID
		}
	case errors.Is(err, carrier.ErrNotThisCarrier):
		r.metrics.CarrierCall(carrierID, metrics.ResultNotThisCarrier)
	default:
		r.metrics.CarrierCall(carrierID, metrics.ResultError)
	}
	return snap, err
}

// verification is the outcome of checking a newly seen tracking code.
type verification struct {
	assignment models.TrackingAssignment
	snapshot   *carrier.Snapshot
}

// verify resolves the carrier of code and confirms it with one call.
// NotThisCarrier is folded into an UNSUPPORTED assignment; any other error
// is returned and nothing should be persisted.
func (r *Reconciler) verify(ctx context.Context, code string) (verification, error) {
	carrierID := carrier.DetectCarrier(code)
	snap, err := r.fetch(ctx, carrierID, code)
	if errors.Is(err, carrier.ErrNotThisCarrier) {
		slog.Info("tracking code not recognised by carrier", "tracking_code", code, "carrier", carrierID)
		return verification{assignment: models.TrackingAssignment{
			TrackingCode: code,
			Method:       models.MethodUnsupported,
		}}, nil
	}
	if err != nil {
		return verification{}, errors.Wrapf(err, "verify %s with %s", code, carrierID)
	}
	return verification{
		assignment: models.TrackingAssignment{
			TrackingCode: code,
			Carrier:      carrierID,
			Method:       carrier.MethodOf(carrierID),
		},
		snapshot: &snap,
	}, nil
}

// syncJourney stores the carrier history when it grew or changed length.
func (r *Reconciler) syncJourney(ctx context.Context, code string, snap carrier.Snapshot) error {
	if len(snap.History) == 0 {
		return nil
	}
	cur, err := r.store.GetJourney(ctx, code)
	if err != nil {
		return err
	}
	if cur != nil && len(cur.Events) == len(snap.History) {
		return nil
	}
	return r.store.UpsertJourney(ctx, models.TrackingJourney{
		TrackingCode: code,
		Carrier:      snap.Carrier,
		Events:       snap.History,
	})
}

// finalize archives o as delivered and announces it once.
func (r *Reconciler) finalize(ctx context.Context, o models.Order, via string) error {
	d := models.DeliveredOrder{Order: o, DeliveredVia: via, DeliveredAt: r.now()}
	if err := r.store.ArchiveDelivered(ctx, d); err != nil {
		return errors.Wrapf(err, "archive %s", o.ID)
	}
	slog.Info("order delivered", "order_id", o.ID, "session_id", o.SessionID, "via", via)

	if r.sessions != nil {
		if _, err := r.sessions.TryPurge(ctx, o.SessionID); err != nil {
			slog.Error("purge session after delivery", "session_id", o.SessionID, "error", err.Error())
		}
	}
	r.pub.Publish(events.Event{
		Kind:      events.OrderDelivered,
		SessionID: o.SessionID,
		OrderID:   o.ID,
		Data:      map[string]any{"trackingCode": o.TrackingCode, "deliveredVia": via},
	})
	if r.notifier != nil {
		if err := r.notifier.SendDelivered(ctx, d); err != nil {
			slog.Warn("delivered notification failed", "order_id", o.ID, "error", err.Error())
		}
	}
	return nil
}
