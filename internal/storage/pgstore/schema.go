package pgstore

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS sessions (
  id BIGSERIAL PRIMARY KEY,
  credential TEXT NOT NULL UNIQUE,
  status TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status)`,
		`
CREATE TABLE IF NOT EXISTS orders (
  order_id TEXT PRIMARY KEY,
  session_id BIGINT NOT NULL REFERENCES sessions(id),
  product TEXT NOT NULL DEFAULT '',
  shop TEXT NOT NULL DEFAULT '',
  image TEXT NOT NULL DEFAULT '',
  quantity INT NOT NULL DEFAULT 1,
  unit_price NUMERIC(14,2) NOT NULL DEFAULT 0,
  total_price NUMERIC(14,2) NOT NULL DEFAULT 0,
  recipient_name TEXT NOT NULL DEFAULT '',
  recipient_phone TEXT NOT NULL DEFAULT '',
  tracking_code TEXT NULL,
  carrier TEXT NULL,
  tracking_method SMALLINT NOT NULL DEFAULT 0,
  status_text TEXT NOT NULL DEFAULT '',
  status_at TIMESTAMPTZ NULL,
  current_location TEXT NULL,
  next_location TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL,
  CHECK (tracking_method BETWEEN 0 AND 3)
)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_session_id ON orders(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_tracking_method ON orders(tracking_method)`,
		`
CREATE TABLE IF NOT EXISTS delivered (
  order_id TEXT PRIMARY KEY,
  session_id BIGINT NOT NULL,
  tracking_code TEXT NULL,
  status_text TEXT NOT NULL DEFAULT '',
  delivered_via TEXT NOT NULL,
  data JSONB NOT NULL,
  delivered_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_delivered_delivered_at ON delivered(delivered_at DESC, order_id DESC)`,
		`
CREATE TABLE IF NOT EXISTS tracking_journeys (
  tracking_code TEXT PRIMARY KEY,
  carrier TEXT NOT NULL,
  events JSONB NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
