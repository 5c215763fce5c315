package pgstore

import (
	"context"
	"time"

	"github.com/BearBump/ParcelSync/internal/models"
	"github.com/BearBump/ParcelSync/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

const orderColumns = `
  order_id, session_id, product, shop, image, quantity,
  unit_price::text, total_price::text,
  recipient_name, recipient_phone,
  tracking_code, carrier, tracking_method,
  status_text, status_at, current_location, next_location,
  created_at, updated_at`

func scanOrder(row pgx.Row) (models.Order, error) {
	var o models.Order
	var unit, total string
	var code, carrier *string
	var method int16
	if err := row.Scan(
		&o.ID, &o.SessionID, &o.Product, &o.Shop, &o.Image, &o.Quantity,
		&unit, &total,
		&o.RecipientName, &o.RecipientPhone,
		&code, &carrier, &method,
		&o.StatusText, &o.StatusAt, &o.CurrentLocation, &o.NextLocation,
		&o.CreatedAt, &o.UpdatedAt,
	); err != nil {
		return o, err
	}

	var err error
	if o.UnitPrice, err = decimal.NewFromString(unit); err != nil {
		return o, errors.Wrap(err, "parse unit price")
	}
	if o.TotalPrice, err = decimal.NewFromString(total); err != nil {
		return o, errors.Wrap(err, "parse total price")
	}
	if code != nil {
		o.TrackingCode = *code
	}
	if carrier != nil {
		o.Carrier = *carrier
	}
	o.Method = models.TrackingMethod(method)
	return o, nil
}

func collectOrders(rows pgx.Rows) ([]models.Order, error) {
	defer rows.Close()
	out := make([]models.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan order")
		}
		out = append(out, o)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// trackingCodeArg stores marketplace placeholders as NULL.
func trackingCodeArg(code string) *string {
	if !models.HasTrackingCode(code) {
		return nil
	}
	return &code
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func (s *Storage) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	o, err := scanOrder(s.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select order")
	}
	return &o, nil
}

func (s *Storage) queryOrders(ctx context.Context, query string, args ...any) ([]models.Order, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "select orders")
	}
	return collectOrders(rows)
}

func (s *Storage) ListOrdersBySession(ctx context.Context, sessionID uint64) ([]models.Order, error) {
	return s.queryOrders(ctx, `SELECT `+orderColumns+` FROM orders WHERE session_id = $1 ORDER BY order_id`, sessionID)
}

func (s *Storage) ListOrdersBySessions(ctx context.Context, sessionIDs []uint64) ([]models.Order, error) {
	if len(sessionIDs) == 0 {
		return []models.Order{}, nil
	}
	return s.queryOrders(ctx, `SELECT `+orderColumns+` FROM orders WHERE session_id = ANY($1) ORDER BY order_id`, sessionIDs)
}

func (s *Storage) ListOrdersByMethod(ctx context.Context, methods ...models.TrackingMethod) ([]models.Order, error) {
	ms := make([]int16, 0, len(methods))
	for _, m := range methods {
		ms = append(ms, int16(m))
	}
	return s.queryOrders(ctx, `SELECT `+orderColumns+` FROM orders WHERE tracking_method = ANY($1) ORDER BY order_id`, ms)
}

func (s *Storage) ListOrdersWithoutCode(ctx context.Context) ([]models.Order, error) {
	return s.queryOrders(ctx, `SELECT `+orderColumns+` FROM orders WHERE tracking_code IS NULL ORDER BY order_id`)
}

func (s *Storage) ListActiveOrders(ctx context.Context) ([]models.Order, error) {
	return s.queryOrders(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY updated_at DESC, order_id`)
}

func (s *Storage) CountOrdersBySession(ctx context.Context, sessionID uint64) (int, error) {
	var n int
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM orders WHERE session_id = $1`, sessionID).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "count orders")
	}
	return n, nil
}

// UpsertOrder inserts or replaces an order. Replacing a carrier-verified
// order with an unverified method is refused with storage.ErrMethodRegression.
func (s *Storage) UpsertOrder(ctx context.Context, o models.Order) error {
	now := time.Now().UTC()
	tag, err := s.db.Exec(ctx, `
INSERT INTO orders (
  order_id, session_id, product, shop, image, quantity,
  unit_price, total_price, recipient_name, recipient_phone,
  tracking_code, carrier, tracking_method,
  status_text, status_at, current_location, next_location,
  created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7::numeric,$8::numeric,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$18)
ON CONFLICT (order_id) DO UPDATE SET
  session_id = EXCLUDED.session_id,
  product = EXCLUDED.product,
  shop = EXCLUDED.shop,
  image = EXCLUDED.image,
  quantity = EXCLUDED.quantity,
  unit_price = EXCLUDED.unit_price,
  total_price = EXCLUDED.total_price,
  recipient_name = EXCLUDED.recipient_name,
  recipient_phone = EXCLUDED.recipient_phone,
  tracking_code = EXCLUDED.tracking_code,
  carrier = EXCLUDED.carrier,
  tracking_method = EXCLUDED.tracking_method,
  status_text = EXCLUDED.status_text,
  status_at = EXCLUDED.status_at,
  current_location = EXCLUDED.current_location,
  next_location = EXCLUDED.next_location,
  updated_at = EXCLUDED.updated_at
WHERE NOT (orders.tracking_method IN (1, 2) AND EXCLUDED.tracking_method NOT IN (1, 2))
`,
		o.ID, o.SessionID, o.Product, o.Shop, o.Image, o.Quantity,
		o.UnitPrice.String(), o.TotalPrice.String(), o.RecipientName, o.RecipientPhone,
		trackingCodeArg(o.TrackingCode), optional(o.Carrier), int16(o.Method),
		o.StatusText, o.StatusAt, o.CurrentLocation, o.NextLocation,
		now,
	)
	if err != nil {
		return errors.Wrapf(err, "upsert order %s", o.ID)
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(storage.ErrMethodRegression, "upsert order %s", o.ID)
	}
	return nil
}

func (s *Storage) ApplyStatusUpdate(ctx context.Context, orderID string, upd models.StatusUpdate) error {
	tag, err := s.db.Exec(ctx, `
UPDATE orders
SET
  status_text = $2,
  status_at = $3,
  current_location = $4,
  next_location = $5,
  updated_at = now()
WHERE order_id = $1
`, orderID, upd.StatusText, upd.StatusAt, upd.CurrentLocation, upd.NextLocation)
	if err != nil {
		return errors.Wrap(err, "apply status update")
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrap(storage.ErrNotFound, "apply status update")
	}
	return nil
}

func (s *Storage) AssignTracking(ctx context.Context, orderID string, a models.TrackingAssignment) error {
	tag, err := s.db.Exec(ctx, `
UPDATE orders
SET
  tracking_code = $2,
  carrier = $3,
  tracking_method = $4::smallint,
  updated_at = now()
WHERE order_id = $1
  AND (tracking_method NOT IN (1, 2) OR $4::smallint IN (1, 2))
`, orderID, trackingCodeArg(a.TrackingCode), optional(a.Carrier), int16(a.Method))
	if err != nil {
		return errors.Wrap(err, "assign tracking")
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	cur, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if cur == nil {
		return errors.Wrap(storage.ErrNotFound, "assign tracking")
	}
	return errors.Wrapf(storage.ErrMethodRegression, "assign tracking %s", orderID)
}

func (s *Storage) DeleteOrder(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM orders WHERE order_id = $1`, id)
	return errors.Wrap(err, "delete order")
}
