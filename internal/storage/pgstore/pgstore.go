package pgstore

import (
	"context"
	"time"

	"github.com/BearBump/ParcelSync/internal/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

type Storage struct {
	db           *pgxpool.Pool
	queryTimeout time.Duration
}

var _ storage.Store = (*Storage)(nil)

func New(connString string) (*Storage, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, errors.Wrap(err, "parse pg config")
	}

	db, err := pgxpool.NewWithConfig(context.Background(), cfg)
	if err != nil {
		return nil, errors.Wrap(err, "connect pg")
	}

	s := &Storage{db: db, queryTimeout: storage.DefaultQueryTimeout}
	if err := s.initSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// WithQueryTimeout bounds the cursor queries over the delivered archive.
func (s *Storage) WithQueryTimeout(d time.Duration) *Storage {
	if d > 0 {
		s.queryTimeout = d
	}
	return s
}

func (s *Storage) Ping(ctx context.Context) error {
	return errors.Wrap(s.db.Ping(ctx), "ping pg")
}

func (s *Storage) Close() {
	if s.db != nil {
		s.db.Close()
	}
}

// timeoutErr turns a deadline hit on the bounded child context into
// storage.ErrStoreTimeout. Cancellation of the parent is passed through.
func timeoutErr(parent, bounded context.Context, err error, op string) error {
	if parent.Err() == nil && errors.Is(bounded.Err(), context.DeadlineExceeded) {
		return errors.Wrap(storage.ErrStoreTimeout, op)
	}
	return errors.Wrap(err, op)
}
