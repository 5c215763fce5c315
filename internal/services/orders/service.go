// Package orders serves the read side: active orders, journeys, the
// delivered archive and counters, with cache-aside reads for the hot paths.
package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BearBump/ParcelSync/internal/cache"
	"github.com/BearBump/ParcelSync/internal/events"
	"github.com/BearBump/ParcelSync/internal/models"
	"github.com/BearBump/ParcelSync/internal/storage"
	"github.com/pkg/errors"
)

const activeKey = "orders:active"

var ErrInvalidEdit = errors.New("invalid delivered edit")

type Repository interface {
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	ListActiveOrders(ctx context.Context) ([]models.Order, error)
	GetJourney(ctx context.Context, trackingCode string) (*models.TrackingJourney, error)
	ListDelivered(ctx context.Context, cursor *storage.DeliveredCursor, limit int) (storage.DeliveredPage, error)
	UpdateDelivered(ctx context.Context, orderID string, edit models.DeliveredEdit) error
	DeleteDelivered(ctx context.Context, orderID string) error
	ListSessionsByStatus(ctx context.Context, status models.SessionStatus) ([]models.Session, error)
	CountSessionsByStatus(ctx context.Context) (models.SessionCounts, error)
}

type Service struct {
	repo  Repository
	cache cache.BytesCache
	ttl   time.Duration
}

// New builds the service. A nil cache or a non-positive ttl disables caching.
func New(repo Repository, c cache.BytesCache, ttl time.Duration) *Service {
	return &Service{repo: repo, cache: c, ttl: ttl}
}

func (s *Service) cached() bool { return s.cache != nil && s.ttl > 0 }

// Active lists every order still being tracked, most recently changed first.
func (s *Service) Active(ctx context.Context) ([]models.Order, error) {
	var out []models.Order
	if s.load(ctx, activeKey, &out) {
		return out, nil
	}
	out, err := s.repo.ListActiveOrders(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list active orders")
	}
	s.store(ctx, activeKey, out)
	return out, nil
}

// Journey returns the carrier history of an active order.
func (s *Service) Journey(ctx context.Context, orderID string) (*models.TrackingJourney, error) {
	key := journeyKey(orderID)
	var j models.TrackingJourney
	if s.load(ctx, key, &j) {
		return &j, nil
	}

	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	if o == nil || !models.HasTrackingCode(o.TrackingCode) {
		return nil, errors.Wrapf(storage.ErrNotFound, "journey for order %s", orderID)
	}
	got, err := s.repo.GetJourney(ctx, o.TrackingCode)
	if err != nil {
		return nil, errors.Wrap(err, "get journey")
	}
	if got == nil {
		return nil, errors.Wrapf(storage.ErrNotFound, "journey for order %s", orderID)
	}
	s.store(ctx, key, got)
	return got, nil
}

// History pages the delivered archive. The store's timeout error passes
// through untouched so callers can tell it apart.
func (s *Service) History(ctx context.Context, cursor *storage.DeliveredCursor, limit int) (storage.DeliveredPage, error) {
	return s.repo.ListDelivered(ctx, cursor, storage.ClampLimit(limit))
}

func (s *Service) EditDelivered(ctx context.Context, orderID string, edit models.DeliveredEdit) error {
	if orderID == "" {
		return errors.Wrap(ErrInvalidEdit, "order id is required")
	}
	if edit.StatusText == nil && edit.TrackingCode == nil && edit.DeliveredVia == nil {
		return errors.Wrap(ErrInvalidEdit, "nothing to change")
	}
	if edit.DeliveredVia != nil && strings.TrimSpace(*edit.DeliveredVia) == "" {
		return errors.Wrap(ErrInvalidEdit, "deliveredVia must not be empty")
	}
	return s.repo.UpdateDelivered(ctx, orderID, edit)
}

func (s *Service) DeleteDelivered(ctx context.Context, orderID string) error {
	if orderID == "" {
		return errors.Wrap(ErrInvalidEdit, "order id is required")
	}
	return s.repo.DeleteDelivered(ctx, orderID)
}

func (s *Service) Sessions(ctx context.Context, status models.SessionStatus) ([]models.Session, error) {
	if !status.Valid() {
		return nil, errors.Errorf("unknown session status %q", status)
	}
	return s.repo.ListSessionsByStatus(ctx, status)
}

func (s *Service) Stats(ctx context.Context) (models.SessionCounts, error) {
	return s.repo.CountSessionsByStatus(ctx)
}

// Invalidate drops cache entries an engine event may have made stale.
func (s *Service) Invalidate(ctx context.Context, e events.Event) {
	if !s.cached() || e.OrderID == "" {
		return
	}
	if err := s.cache.Delete(ctx, activeKey, journeyKey(e.OrderID)); err != nil {
		slog.Warn("invalidate order cache", "order_id", e.OrderID, "error", err.Error())
	}
}

// Watch invalidates on every event until sub is closed or ctx ends.
func (s *Service) Watch(ctx context.Context, sub *events.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub.C():
			if !ok {
				return
			}
			s.Invalidate(ctx, e)
		}
	}
}

func (s *Service) load(ctx context.Context, key string, v any) bool {
	if !s.cached() {
		return false
	}
	b, ok, err := s.cache.Get(ctx, key)
	if err != nil || !ok {
		return false
	}
	return json.Unmarshal(b, v) == nil
}

func (s *Service) store(ctx context.Context, key string, v any) {
	if !s.cached() {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	_ = s.cache.Set(ctx, key, b, s.ttl)
}

func journeyKey(orderID string) string {
	return fmt.Sprintf("order:%s:journey", orderID)
}
