package carrier

import (
	"context"
	"time"

	"github.com/BearBump/ParcelSync/internal/models"
	"github.com/pkg/errors"
)

// ErrNotThisCarrier means the carrier affirmatively reports no such shipment.
// It is a classification signal, not a transient failure.
var ErrNotThisCarrier = errors.New("carrier reports no such shipment")

// Snapshot is a normalized carrier status. History is oldest-first.
type Snapshot struct {
	Carrier         string
	Delivered       bool
	StatusCode      string
	StatusText      string
	StatusAt        *time.Time
	CurrentLocation *string
	NextLocation    *string
	History         []models.JourneyEvent
}

// Update returns the status fields a snapshot may write onto an order.
func (s Snapshot) Update() models.StatusUpdate {
	return models.StatusUpdate{
		StatusText:      s.StatusText,
		StatusAt:        s.StatusAt,
		CurrentLocation: s.CurrentLocation,
		NextLocation:    s.NextLocation,
	}
}

type StatusClient interface {
	FetchStatus(ctx context.Context, code string) (Snapshot, error)
}

// Registry maps carrier ids to their status clients.
type Registry map[string]StatusClient

func (r Registry) Lookup(carrierID string) (StatusClient, bool) {
	c, ok := r[carrierID]
	return c, ok && c != nil
}
