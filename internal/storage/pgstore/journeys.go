package pgstore

import (
	"context"
	"encoding/json"

	"github.com/BearBump/ParcelSync/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

func (s *Storage) UpsertJourney(ctx context.Context, j models.TrackingJourney) error {
	events := j.Events
	if events == nil {
		events = []models.JourneyEvent{}
	}
	data, err := json.Marshal(events)
	if err != nil {
		return errors.Wrap(err, "marshal journey")
	}
	_, err = s.db.Exec(ctx, `
INSERT INTO tracking_journeys (tracking_code, carrier, events, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (tracking_code) DO UPDATE SET
  carrier = EXCLUDED.carrier,
  events = EXCLUDED.events,
  updated_at = EXCLUDED.updated_at
`, j.TrackingCode, j.Carrier, data)
	return errors.Wrap(err, "upsert journey")
}

func (s *Storage) GetJourney(ctx context.Context, trackingCode string) (*models.TrackingJourney, error) {
	var j models.TrackingJourney
	var data []byte
	err := s.db.QueryRow(ctx, `
SELECT tracking_code, carrier, events, updated_at
FROM tracking_journeys
WHERE tracking_code = $1
`, trackingCode).Scan(&j.TrackingCode, &j.Carrier, &data, &j.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select journey")
	}
	if err := json.Unmarshal(data, &j.Events); err != nil {
		return nil, errors.Wrap(err, "unmarshal journey")
	}
	return &j, nil
}

func (s *Storage) DeleteJourney(ctx context.Context, trackingCode string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM tracking_journeys WHERE tracking_code = $1`, trackingCode)
	return errors.Wrap(err, "delete journey")
}
