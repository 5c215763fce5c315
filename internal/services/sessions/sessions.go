// Package sessions owns the credential state machine:
// pending -> active -> disabled -> purged.
package sessions

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/BearBump/ParcelSync/internal/events"
	"github.com/BearBump/ParcelSync/internal/integrations/marketplace"
	"github.com/BearBump/ParcelSync/internal/models"
	"github.com/pkg/errors"
)

const (
	MinCredentialLength = 10
	MaxCredentialLength = 5000
)

var ErrInvalidCredential = errors.New("invalid credential")

var dangerousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<script`),
	regexp.MustCompile(`(?i)javascript:`),
	regexp.MustCompile(`(?i)data:`),
	regexp.MustCompile(`(?i)vbscript:`),
}

type Store interface {
	CreateSession(ctx context.Context, credential string) (*models.Session, error)
	GetSession(ctx context.Context, id uint64) (*models.Session, error)
	UpdateSessionStatus(ctx context.Context, id uint64, status models.SessionStatus) error
	DeleteSession(ctx context.Context, id uint64) error
	DisableSessionAndPurgeOrders(ctx context.Context, id uint64) ([]models.Order, error)
	PurgeSessionIfOrphaned(ctx context.Context, id uint64) (bool, error)
	ListSessionsByStatus(ctx context.Context, status models.SessionStatus) ([]models.Session, error)
}

// Verdict is the outcome of observing one successful poll.
type Verdict int

const (
	// VerdictEmpty: the poll returned no records; status is left alone.
	VerdictEmpty Verdict = iota
	VerdictPlausible
	VerdictImplausible
)

func (v Verdict) String() string {
	switch v {
	case VerdictPlausible:
		return "plausible"
	case VerdictImplausible:
		return "implausible"
	default:
		return "empty"
	}
}

type Manager struct {
	store Store
	pub   events.Publisher
	locks keyedMutex
}

func New(store Store, pub events.Publisher) *Manager {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Manager{store: store, pub: pub}
}

// Lock serialises callers working on the same session.
func (m *Manager) Lock(id uint64) func() {
	return m.locks.Lock(id)
}

// ValidateCredential trims raw and rejects values that are too short, too
// long or look like markup injection.
func ValidateCredential(raw string) (string, error) {
	c := strings.TrimSpace(raw)
	if len(c) < MinCredentialLength {
		return "", errors.Wrap(ErrInvalidCredential, "credential too short")
	}
	if len(c) > MaxCredentialLength {
		return "", errors.Wrapf(ErrInvalidCredential, "credential too long (max %d chars)", MaxCredentialLength)
	}
	for _, re := range dangerousPatterns {
		if re.MatchString(c) {
			return "", errors.Wrap(ErrInvalidCredential, "credential format")
		}
	}
	return c, nil
}

// Submit stores a new credential as pending.
func (m *Manager) Submit(ctx context.Context, raw string) (*models.Session, error) {
	c, err := ValidateCredential(raw)
	if err != nil {
		return nil, err
	}
	s, err := m.store.CreateSession(ctx, c)
	if err != nil {
		return nil, errors.Wrap(err, "submit credential")
	}
	slog.Info("session submitted", "session_id", s.ID)
	return s, nil
}

// Observe applies the plausibility rule to a successful poll of s.
// Disabled sessions are never promoted here.
func (m *Manager) Observe(ctx context.Context, s models.Session, drafts []models.OrderDraft) (Verdict, error) {
	if len(drafts) == 0 {
		return VerdictEmpty, nil
	}
	unlock := m.Lock(s.ID)
	defer unlock()

	if marketplace.Plausible(drafts) {
		if s.Status == models.SessionPending || s.Status == models.SessionActive {
			if err := m.setStatus(ctx, s, models.SessionActive, events.SessionActivated, len(drafts)); err != nil {
				return VerdictPlausible, err
			}
		}
		return VerdictPlausible, nil
	}

	if s.Status != models.SessionDisabled {
		slog.Warn("session returned placeholder data", "session_id", s.ID, "records", len(drafts))
		if err := m.setStatus(ctx, s, models.SessionDisabled, events.SessionDisabled, len(drafts)); err != nil {
			return VerdictImplausible, err
		}
	}
	return VerdictImplausible, nil
}

func (m *Manager) setStatus(ctx context.Context, s models.Session, to models.SessionStatus, kind events.Kind, records int) error {
	if s.Status == to {
		return nil
	}
	if err := m.store.UpdateSessionStatus(ctx, s.ID, to); err != nil {
		return errors.Wrapf(err, "session %d -> %s", s.ID, to)
	}
	slog.Info("session status changed", "session_id", s.ID, "from", s.Status, "to", to)
	m.pub.Publish(events.Event{
		Kind:      kind,
		SessionID: s.ID,
		Data:      map[string]any{"from": s.Status, "records": records},
	})
	return nil
}

// Expire disables the session and purges every order it owns in one
// store transaction. The session row itself is kept, disabled.
func (m *Manager) Expire(ctx context.Context, s models.Session) ([]models.Order, error) {
	unlock := m.Lock(s.ID)
	defer unlock()

	purged, err := m.store.DisableSessionAndPurgeOrders(ctx, s.ID)
	if err != nil {
		return nil, errors.Wrapf(err, "expire session %d", s.ID)
	}
	if s.Status == models.SessionDisabled && len(purged) == 0 {
		return nil, nil
	}

	slog.Warn("session credential expired", "session_id", s.ID, "purged_orders", len(purged))
	m.pub.Publish(events.Event{Kind: events.SessionExpired, SessionID: s.ID, Data: map[string]any{"orders": len(purged)}})
	for _, o := range purged {
		m.pub.Publish(events.Event{Kind: events.OrderPurged, SessionID: s.ID, OrderID: o.ID, Data: map[string]any{"reason": "credential_expired"}})
	}
	return purged, nil
}

// TryPurge deletes an active or disabled session once no order references it.
func (m *Manager) TryPurge(ctx context.Context, id uint64) (bool, error) {
	unlock := m.Lock(id)
	defer unlock()

	purged, err := m.store.PurgeSessionIfOrphaned(ctx, id)
	if err != nil {
		return false, errors.Wrapf(err, "purge session %d", id)
	}
	if purged {
		slog.Info("session purged", "session_id", id)
		m.pub.Publish(events.Event{Kind: events.SessionPurged, SessionID: id})
	}
	return purged, nil
}

// CleanupOrphans purges disabled sessions that own no orders.
func (m *Manager) CleanupOrphans(ctx context.Context) (int, error) {
	disabled, err := m.store.ListSessionsByStatus(ctx, models.SessionDisabled)
	if err != nil {
		return 0, errors.Wrap(err, "list disabled sessions")
	}
	n := 0
	for _, s := range disabled {
		ok, err := m.TryPurge(ctx, s.ID)
		if err != nil {
			slog.Error("cleanup orphan session", "session_id", s.ID, "error", err.Error())
			continue
		}
		if ok {
			n++
		}
	}
	return n, nil
}

// Remove is the operator delete: owned orders are purged, then the session.
func (m *Manager) Remove(ctx context.Context, id uint64) error {
	unlock := m.Lock(id)
	defer unlock()

	purged, err := m.store.DisableSessionAndPurgeOrders(ctx, id)
	if err != nil {
		return errors.Wrapf(err, "remove session %d", id)
	}
	for _, o := range purged {
		m.pub.Publish(events.Event{Kind: events.OrderPurged, SessionID: id, OrderID: o.ID, Data: map[string]any{"reason": "session_removed"}})
	}
	if err := m.store.DeleteSession(ctx, id); err != nil {
		return errors.Wrapf(err, "remove session %d", id)
	}
	m.pub.Publish(events.Event{Kind: events.SessionPurged, SessionID: id})
	return nil
}
