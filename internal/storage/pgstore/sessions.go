package pgstore

import (
	"context"
	"time"

	"github.com/BearBump/ParcelSync/internal/models"
	"github.com/BearBump/ParcelSync/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
)

const pgUniqueViolation = "23505"

func (s *Storage) CreateSession(ctx context.Context, credential string) (*models.Session, error) {
	now := time.Now().UTC()
	sess := models.Session{Credential: credential, Status: models.SessionPending, CreatedAt: now, UpdatedAt: now}

	err := s.db.QueryRow(ctx, `
INSERT INTO sessions (credential, status, created_at, updated_at)
VALUES ($1, $2, $3, $3)
RETURNING id
`, credential, string(models.SessionPending), now).Scan(&sess.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, errors.Wrap(storage.ErrDuplicate, "create session")
		}
		return nil, errors.Wrap(err, "insert session")
	}
	return &sess, nil
}

func scanSession(row pgx.Row) (*models.Session, error) {
	var sess models.Session
	var status string
	if err := row.Scan(&sess.ID, &sess.Credential, &status, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
		return nil, err
	}
	sess.Status = models.SessionStatus(status)
	return &sess, nil
}

func (s *Storage) GetSession(ctx context.Context, id uint64) (*models.Session, error) {
	sess, err := scanSession(s.db.QueryRow(ctx, `
SELECT id, credential, status, created_at, updated_at
FROM sessions
WHERE id = $1
`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select session")
	}
	return sess, nil
}

func (s *Storage) ListSessionsByStatus(ctx context.Context, status models.SessionStatus) ([]models.Session, error) {
	rows, err := s.db.Query(ctx, `
SELECT id, credential, status, created_at, updated_at
FROM sessions
WHERE status = $1
ORDER BY id
`, string(status))
	if err != nil {
		return nil, errors.Wrap(err, "select sessions")
	}
	defer rows.Close()

	out := make([]models.Session, 0)
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan session")
		}
		out = append(out, *sess)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) UpdateSessionStatus(ctx context.Context, id uint64, status models.SessionStatus) error {
	tag, err := s.db.Exec(ctx, `
UPDATE sessions
SET status = $2, updated_at = now()
WHERE id = $1 AND status <> $2
`, id, string(status))
	if err != nil {
		return errors.Wrap(err, "update session status")
	}
	if tag.RowsAffected() == 0 {
		sess, err := s.GetSession(ctx, id)
		if err != nil {
			return err
		}
		if sess == nil {
			return errors.Wrap(storage.ErrNotFound, "update session status")
		}
	}
	return nil
}

func (s *Storage) DeleteSession(ctx context.Context, id uint64) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "delete session")
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrap(storage.ErrNotFound, "delete session")
	}
	return nil
}

// DisableSessionAndPurgeOrders flips the session to disabled and removes
// every order it owns, together with their journeys, in one transaction.
func (s *Storage) DisableSessionAndPurgeOrders(ctx context.Context, id uint64) ([]models.Order, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `UPDATE sessions SET status = $2, updated_at = now() WHERE id = $1`, id, string(models.SessionDisabled))
	if err != nil {
		return nil, errors.Wrap(err, "disable session")
	}
	if tag.RowsAffected() == 0 {
		return nil, errors.Wrap(storage.ErrNotFound, "disable session")
	}

	rows, err := tx.Query(ctx, `DELETE FROM orders WHERE session_id = $1 RETURNING `+orderColumns, id)
	if err != nil {
		return nil, errors.Wrap(err, "purge orders")
	}
	purged, err := collectOrders(rows)
	if err != nil {
		return nil, err
	}

	codes := make([]string, 0, len(purged))
	for _, o := range purged {
		if models.HasTrackingCode(o.TrackingCode) {
			codes = append(codes, o.TrackingCode)
		}
	}
	if len(codes) > 0 {
		if _, err := tx.Exec(ctx, `DELETE FROM tracking_journeys WHERE tracking_code = ANY($1)`, codes); err != nil {
			return nil, errors.Wrap(err, "purge journeys")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return purged, nil
}

func (s *Storage) PurgeSessionIfOrphaned(ctx context.Context, id uint64) (bool, error) {
	tag, err := s.db.Exec(ctx, `
DELETE FROM sessions
WHERE id = $1
  AND status <> $2
  AND NOT EXISTS (SELECT 1 FROM orders WHERE session_id = $1)
`, id, string(models.SessionPending))
	if err != nil {
		return false, errors.Wrap(err, "purge session")
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Storage) CountSessionsByStatus(ctx context.Context) (models.SessionCounts, error) {
	var c models.SessionCounts
	rows, err := s.db.Query(ctx, `SELECT status, count(*) FROM sessions GROUP BY status`)
	if err != nil {
		return c, errors.Wrap(err, "count sessions")
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return c, errors.Wrap(err, "scan session count")
		}
		switch models.SessionStatus(status) {
		case models.SessionPending:
			c.Pending = n
		case models.SessionActive:
			c.Active = n
		case models.SessionDisabled:
			c.Disabled = n
		}
	}
	if rows.Err() != nil {
		return c, errors.Wrap(rows.Err(), "rows")
	}

	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM delivered`).Scan(&c.Delivered); err != nil {
		return c, errors.Wrap(err, "count delivered")
	}
	return c, nil
}
