// Package storage defines the persistent-store contract shared by the
// Postgres and in-memory implementations.
package storage

import (
	"context"
	"strings"
	"time"

	"github.com/BearBump/ParcelSync/internal/models"
	"github.com/pkg/errors"
)

var (
	// ErrStoreTimeout is returned when a bounded query exceeds its deadline.
	ErrStoreTimeout = errors.New("store temporarily unavailable: query timed out")
	ErrNotFound     = errors.New("not found")
	ErrDuplicate    = errors.New("already exists")
	// ErrMethodRegression rejects moving a carrier-verified order back to
	// AWAITING_CODE or UNSUPPORTED.
	ErrMethodRegression = errors.New("tracking method may not leave a verified carrier")
)

const (
	DefaultQueryTimeout = 10 * time.Second
	DefaultPageLimit    = 30
	MaxPageLimit        = 100
)

func ClampLimit(n int) int {
	if n <= 0 {
		return DefaultPageLimit
	}
	if n > MaxPageLimit {
		return MaxPageLimit
	}
	return n
}

// DeliveredPage is one page of the delivered archive, newest first.
// NextCursor is nil on the last page.
type DeliveredPage struct {
	Items      []models.DeliveredOrder `json:"items"`
	NextCursor *DeliveredCursor        `json:"nextCursor,omitempty"`
}

// DeliveredCursor is the position of the last item of a page. The archive
// is ordered by (delivered_at, order_id) descending, so rows sharing a
// timestamp are split by id.
type DeliveredCursor struct {
	At      time.Time
	OrderID string
}

var ErrInvalidCursor = errors.New("cursor must be <RFC3339 timestamp>_<order id>")

// CursorAfter returns the cursor pointing past d.
func CursorAfter(d models.DeliveredOrder) *DeliveredCursor {
	return &DeliveredCursor{At: d.DeliveredAt, OrderID: d.ID}
}

// Before reports whether a row at (at, orderID) comes after the cursor in
// newest-first order.
func (c DeliveredCursor) Before(at time.Time, orderID string) bool {
	if at.Equal(c.At) {
		return orderID < c.OrderID
	}
	return at.Before(c.At)
}

func (c DeliveredCursor) String() string {
	return c.At.UTC().Format(time.RFC3339Nano) + "_" + c.OrderID
}

func (c DeliveredCursor) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *DeliveredCursor) UnmarshalText(b []byte) error {
	parsed, err := ParseDeliveredCursor(string(b))
	if err != nil {
		return err
	}
	*c = *parsed
	return nil
}

// ParseDeliveredCursor reads the String form. A bare timestamp is accepted
// and resumes strictly before that instant.
func ParseDeliveredCursor(raw string) (*DeliveredCursor, error) {
	ts, id, _ := strings.Cut(strings.TrimSpace(raw), "_")
	at, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidCursor, err.Error())
	}
	return &DeliveredCursor{At: at, OrderID: id}, nil
}

// CheckMethodTransition enforces that verified carrier methods are final.
func CheckMethodTransition(from, to models.TrackingMethod) error {
	if from.Verified() && !to.Verified() {
		return ErrMethodRegression
	}
	return nil
}

// Store is the full set of operations the engine needs. Get* methods
// return (nil, nil) when the record does not exist.
type Store interface {
	CreateSession(ctx context.Context, credential string) (*models.Session, error)
	GetSession(ctx context.Context, id uint64) (*models.Session, error)
	ListSessionsByStatus(ctx context.Context, status models.SessionStatus) ([]models.Session, error)
	UpdateSessionStatus(ctx context.Context, id uint64, status models.SessionStatus) error
	DeleteSession(ctx context.Context, id uint64) error
	DisableSessionAndPurgeOrders(ctx context.Context, id uint64) ([]models.Order, error)
	PurgeSessionIfOrphaned(ctx context.Context, id uint64) (bool, error)
	CountSessionsByStatus(ctx context.Context) (models.SessionCounts, error)

	GetOrder(ctx context.Context, id string) (*models.Order, error)
	ListOrdersBySession(ctx context.Context, sessionID uint64) ([]models.Order, error)
	ListOrdersBySessions(ctx context.Context, sessionIDs []uint64) ([]models.Order, error)
	ListOrdersByMethod(ctx context.Context, methods ...models.TrackingMethod) ([]models.Order, error)
	ListOrdersWithoutCode(ctx context.Context) ([]models.Order, error)
	ListActiveOrders(ctx context.Context) ([]models.Order, error)
	CountOrdersBySession(ctx context.Context, sessionID uint64) (int, error)
	UpsertOrder(ctx context.Context, o models.Order) error
	ApplyStatusUpdate(ctx context.Context, orderID string, upd models.StatusUpdate) error
	AssignTracking(ctx context.Context, orderID string, a models.TrackingAssignment) error
	DeleteOrder(ctx context.Context, id string) error

	ArchiveDelivered(ctx context.Context, d models.DeliveredOrder) error
	GetDelivered(ctx context.Context, orderID string) (*models.DeliveredOrder, error)
	ListDelivered(ctx context.Context, cursor *DeliveredCursor, limit int) (DeliveredPage, error)
	UpdateDelivered(ctx context.Context, orderID string, edit models.DeliveredEdit) error
	DeleteDelivered(ctx context.Context, orderID string) error

	UpsertJourney(ctx context.Context, j models.TrackingJourney) error
	GetJourney(ctx context.Context, trackingCode string) (*models.TrackingJourney, error)
	DeleteJourney(ctx context.Context, trackingCode string) error
}
