package pgstore

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/BearBump/ParcelSync/internal/models"
	"github.com/BearBump/ParcelSync/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const deliveredColumns = `data, tracking_code, status_text, delivered_via, delivered_at, updated_at`

// ArchiveDelivered copies the order into the append-only archive and drops
// the live order and its journey in one transaction. Archiving an order
// twice keeps the first record.
func (s *Storage) ArchiveDelivered(ctx context.Context, d models.DeliveredOrder) error {
	if d.DeliveredAt.IsZero() {
		d.DeliveredAt = time.Now().UTC()
	}
	data, err := json.Marshal(d.Order)
	if err != nil {
		return errors.Wrap(err, "marshal delivered order")
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
INSERT INTO delivered (
  order_id, session_id, tracking_code, status_text, delivered_via, data, delivered_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$7)
ON CONFLICT (order_id) DO NOTHING
`, d.ID, d.SessionID, trackingCodeArg(d.TrackingCode), d.StatusText, d.DeliveredVia, data, d.DeliveredAt.UTC())
	if err != nil {
		return errors.Wrap(err, "insert delivered")
	}

	if _, err := tx.Exec(ctx, `DELETE FROM orders WHERE order_id = $1`, d.ID); err != nil {
		return errors.Wrap(err, "delete delivered order")
	}
	if models.HasTrackingCode(d.TrackingCode) {
		if _, err := tx.Exec(ctx, `DELETE FROM tracking_journeys WHERE tracking_code = $1`, d.TrackingCode); err != nil {
			return errors.Wrap(err, "delete delivered journey")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit tx")
	}
	return nil
}

func scanDelivered(row pgx.Row) (models.DeliveredOrder, error) {
	var d models.DeliveredOrder
	var data []byte
	var code *string
	var statusText string
	var updatedAt time.Time
	if err := row.Scan(&data, &code, &statusText, &d.DeliveredVia, &d.DeliveredAt, &updatedAt); err != nil {
		return d, err
	}
	if err := json.Unmarshal(data, &d.Order); err != nil {
		return d, errors.Wrap(err, "unmarshal delivered order")
	}
	// Editable columns win over the snapshot.
	d.TrackingCode = ""
	if code != nil {
		d.TrackingCode = *code
	}
	d.StatusText = statusText
	d.UpdatedAt = updatedAt
	return d, nil
}

func (s *Storage) GetDelivered(ctx context.Context, orderID string) (*models.DeliveredOrder, error) {
	d, err := scanDelivered(s.db.QueryRow(ctx, `SELECT `+deliveredColumns+` FROM delivered WHERE order_id = $1`, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select delivered")
	}
	return &d, nil
}

// ListDelivered returns the archive newest first. The query runs under
// the store's query timeout and reports storage.ErrStoreTimeout when it
// is exceeded.
func (s *Storage) ListDelivered(ctx context.Context, cursor *storage.DeliveredCursor, limit int) (storage.DeliveredPage, error) {
	limit = storage.ClampLimit(limit)

	var (
		afterAt *time.Time
		afterID string
	)
	if cursor != nil {
		afterAt, afterID = &cursor.At, cursor.OrderID
	}

	qctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	rows, err := s.db.Query(qctx, `
SELECT `+deliveredColumns+`
FROM delivered
WHERE ($1::timestamptz IS NULL OR (delivered_at, order_id) < ($1::timestamptz, $2::text))
ORDER BY delivered_at DESC, order_id DESC
LIMIT $3
`, afterAt, afterID, limit+1)
	if err != nil {
		return storage.DeliveredPage{}, timeoutErr(ctx, qctx, err, "select delivered")
	}
	defer rows.Close()

	items := make([]models.DeliveredOrder, 0, limit)
	for rows.Next() {
		d, err := scanDelivered(rows)
		if err != nil {
			return storage.DeliveredPage{}, timeoutErr(ctx, qctx, err, "scan delivered")
		}
		items = append(items, d)
	}
	if rows.Err() != nil {
		return storage.DeliveredPage{}, timeoutErr(ctx, qctx, rows.Err(), "rows")
	}

	page := storage.DeliveredPage{Items: items}
	if len(items) > limit {
		page.Items = items[:limit]
		page.NextCursor = storage.CursorAfter(page.Items[limit-1])
	}
	return page, nil
}

func (s *Storage) UpdateDelivered(ctx context.Context, orderID string, edit models.DeliveredEdit) error {
	var code *string
	if edit.TrackingCode != nil {
		c := strings.TrimSpace(*edit.TrackingCode)
		code = &c
	}
	tag, err := s.db.Exec(ctx, `
UPDATE delivered
SET
  status_text = COALESCE($2, status_text),
  tracking_code = CASE WHEN $3::text IS NULL THEN tracking_code ELSE NULLIF($3::text, '') END,
  delivered_via = COALESCE($4, delivered_via),
  updated_at = now()
WHERE order_id = $1
`, orderID, edit.StatusText, code, edit.DeliveredVia)
	if err != nil {
		return errors.Wrap(err, "update delivered")
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrap(storage.ErrNotFound, "update delivered")
	}
	return nil
}

func (s *Storage) DeleteDelivered(ctx context.Context, orderID string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM delivered WHERE order_id = $1`, orderID)
	if err != nil {
		return errors.Wrap(err, "delete delivered")
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrap(storage.ErrNotFound, "delete delivered")
	}
	return nil
}
