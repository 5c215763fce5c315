package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/BearBump/ParcelSync/internal/models"
	"github.com/BearBump/ParcelSync/internal/storage"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, s *Store) (*models.Session, models.Order) {
	t.Helper()
	ctx := context.Background()
	sess, err := s.CreateSession(ctx, "SPC_ST=abcdefghij")
	require.NoError(t, err)
	o := models.Order{ID: "240001", SessionID: sess.ID, Product: "Áo thun", StatusText: "Đang giao"}
	require.NoError(t, s.UpsertOrder(ctx, o))
	return sess, o
}

func TestStore_DuplicateCredential(t *testing.T) {
	s := New()
	_, err := s.CreateSession(context.Background(), "SPC_ST=abcdefghij")
	require.NoError(t, err)
	_, err = s.CreateSession(context.Background(), "SPC_ST=abcdefghij")
	require.True(t, errors.Is(err, storage.ErrDuplicate))
}

func TestStore_AssignTrackingIsMonotonic(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, o := seed(t, s)

	require.NoError(t, s.AssignTracking(ctx, o.ID, models.TrackingAssignment{
		TrackingCode: "SPXVN01", Carrier: "SPX", Method: models.MethodCarrierA,
	}))
	err := s.AssignTracking(ctx, o.ID, models.TrackingAssignment{TrackingCode: "X", Method: models.MethodUnsupported})
	require.True(t, errors.Is(err, storage.ErrMethodRegression))

	got, err := s.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	require.Equal(t, models.MethodCarrierA, got.Method)
	require.Equal(t, "SPXVN01", got.TrackingCode)
}

func TestStore_PurgeSessionIfOrphaned(t *testing.T) {
	s := New()
	ctx := context.Background()
	sess, o := seed(t, s)

	purged, err := s.PurgeSessionIfOrphaned(ctx, sess.ID)
	require.NoError(t, err)
	require.False(t, purged, "pending sessions are never purged")

	require.NoError(t, s.UpdateSessionStatus(ctx, sess.ID, models.SessionActive))
	purged, err = s.PurgeSessionIfOrphaned(ctx, sess.ID)
	require.NoError(t, err)
	require.False(t, purged, "session still owns an order")

	require.NoError(t, s.DeleteOrder(ctx, o.ID))
	purged, err = s.PurgeSessionIfOrphaned(ctx, sess.ID)
	require.NoError(t, err)
	require.True(t, purged)

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestStore_DisableSessionAndPurgeOrders(t *testing.T) {
	s := New()
	ctx := context.Background()
	sess, o := seed(t, s)

	purged, err := s.DisableSessionAndPurgeOrders(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, purged, 1)
	require.Equal(t, o.ID, purged[0].ID)

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, models.SessionDisabled, got.Status)

	n, err := s.CountOrdersBySession(ctx, sess.ID)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestStore_ArchiveDeliveredRemovesOrderAndJourney(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, o := seed(t, s)
	o.TrackingCode = "GHN123"
	require.NoError(t, s.UpsertJourney(ctx, models.TrackingJourney{TrackingCode: "GHN123", Carrier: "GHN"}))

	require.NoError(t, s.ArchiveDelivered(ctx, models.DeliveredOrder{Order: o, DeliveredVia: "GHN"}))

	got, err := s.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	require.Nil(t, got)
	j, err := s.GetJourney(ctx, "GHN123")
	require.NoError(t, err)
	require.Nil(t, j)

	d, err := s.GetDelivered(ctx, o.ID)
	require.NoError(t, err)
	require.Equal(t, "GHN", d.DeliveredVia)
	require.False(t, d.DeliveredAt.IsZero())
}

func TestStore_ListDeliveredPaginates(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := New()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.ArchiveDelivered(ctx, models.DeliveredOrder{
			Order:       models.Order{ID: string(rune('a' + i))},
			DeliveredAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	page, err := s.ListDelivered(ctx, nil, 2)
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	require.Equal(t, "e", page.Items[0].ID)
	require.Equal(t, "d", page.Items[1].ID)
	require.NotNil(t, page.NextCursor)

	page, err = s.ListDelivered(ctx, page.NextCursor, 2)
	require.NoError(t, err)
	require.Equal(t, []string{"c", "b"}, []string{page.Items[0].ID, page.Items[1].ID})

	page, err = s.ListDelivered(ctx, page.NextCursor, 2)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	require.Nil(t, page.NextCursor)
}

func TestStore_ListDeliveredSplitsEqualTimestamps(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := New()
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.ArchiveDelivered(ctx, models.DeliveredOrder{Order: models.Order{ID: id}, DeliveredAt: at}))
	}

	var seen []string
	var cursor *storage.DeliveredCursor
	for {
		page, err := s.ListDelivered(ctx, cursor, 2)
		require.NoError(t, err)
		for _, d := range page.Items {
			seen = append(seen, d.ID)
		}
		if page.NextCursor == nil {
			break
		}
		cursor = page.NextCursor
	}
	require.Equal(t, []string{"c", "b", "a"}, seen)
}

func TestStore_WritesCountOnlyChanges(t *testing.T) {
	s := New()
	ctx := context.Background()
	sess, _ := seed(t, s)
	before := s.Writes()

	require.NoError(t, s.UpdateSessionStatus(ctx, sess.ID, models.SessionPending))
	require.NoError(t, s.DeleteOrder(ctx, "missing"))
	require.Equal(t, before, s.Writes())
}

func TestStore_FailHook(t *testing.T) {
	s := New()
	s.Fail = func(op string) error {
		if op == "ListDelivered" {
			return storage.ErrStoreTimeout
		}
		return nil
	}
	_, err := s.ListDelivered(context.Background(), nil, 10)
	require.ErrorIs(t, err, storage.ErrStoreTimeout)
}
