package sessions

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/BearBump/ParcelSync/internal/events"
	"github.com/BearBump/ParcelSync/internal/models"
	"github.com/BearBump/ParcelSync/internal/storage"
	"github.com/BearBump/ParcelSync/internal/storage/memstore"
	"github.com/stretchr/testify/require"
)

func newManager(t *testing.T) (*Manager, *memstore.Store, *events.Recorder) {
	t.Helper()
	st := memstore.New()
	rec := &events.Recorder{}
	return New(st, rec), st, rec
}

func TestValidateCredential(t *testing.T) {
	cases := []struct {
		name string
		in   string
		ok   bool
	}{
		{"trimmed", "   SPC_ST=abcdefghij  ", true},
		{"short", "SPC_ST=a", false},
		{"long", strings.Repeat("x", MaxCredentialLength+1), false},
		{"script", "SPC_ST=<script>alert(1)</script>", false},
		{"js uri", "JavaScript:alert(document.cookie)", false},
		{"data uri", "data:text/html;base64,AAAA", false},
		{"vbscript", "vbscript:msgbox(1) padding", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := ValidateCredential(tc.in)
			if !tc.ok {
				require.ErrorIs(t, err, ErrInvalidCredential)
				return
			}
			require.NoError(t, err)
			require.Equal(t, strings.TrimSpace(tc.in), out)
		})
	}
}

func TestManager_SubmitRejectsDuplicates(t *testing.T) {
	m, _, _ := newManager(t)
	ctx := context.Background()

	s, err := m.Submit(ctx, "SPC_ST=abcdefghij")
	require.NoError(t, err)
	require.Equal(t, models.SessionPending, s.Status)

	_, err = m.Submit(ctx, "  SPC_ST=abcdefghij ")
	require.ErrorIs(t, err, storage.ErrDuplicate)
}

func TestManager_ObservePromotesPending(t *testing.T) {
	m, st, rec := newManager(t)
	ctx := context.Background()
	s, err := m.Submit(ctx, "SPC_ST=abcdefghij")
	require.NoError(t, err)

	v, err := m.Observe(ctx, *s, []models.OrderDraft{{ID: "123456", Product: "Bình giữ nhiệt"}})
	require.NoError(t, err)
	require.Equal(t, VerdictPlausible, v)

	got, err := st.GetSession(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, models.SessionActive, got.Status)
	require.Equal(t, 1, rec.Count(events.SessionActivated))

	_, err = m.Observe(ctx, *got, []models.OrderDraft{{ID: "123456", Product: "Bình giữ nhiệt"}})
	require.NoError(t, err)
	require.Equal(t, 1, rec.Count(events.SessionActivated), "no event without a transition")
}

func TestManager_ObservePlaceholderDisables(t *testing.T) {
	m, st, rec := newManager(t)
	ctx := context.Background()
	s, err := m.Submit(ctx, "SPC_ST=abcdefghij")
	require.NoError(t, err)
	require.NoError(t, st.UpdateSessionStatus(ctx, s.ID, models.SessionActive))
	s.Status = models.SessionActive
	require.NoError(t, st.UpsertOrder(ctx, models.Order{ID: "999", SessionID: s.ID}))

	v, err := m.Observe(ctx, *s, []models.OrderDraft{{ID: "999", Product: "Sản phẩm - Mặc định"}})
	require.NoError(t, err)
	require.Equal(t, VerdictImplausible, v)

	got, err := st.GetSession(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, models.SessionDisabled, got.Status)
	require.Equal(t, 1, rec.Count(events.SessionDisabled))

	n, err := st.CountOrdersBySession(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, 1, n, "implausible data disables without purging")
}

func TestManager_ObserveEmptyLeavesStatus(t *testing.T) {
	m, st, rec := newManager(t)
	ctx := context.Background()
	s, err := m.Submit(ctx, "SPC_ST=abcdefghij")
	require.NoError(t, err)

	v, err := m.Observe(ctx, *s, nil)
	require.NoError(t, err)
	require.Equal(t, VerdictEmpty, v)

	got, _ := st.GetSession(ctx, s.ID)
	require.Equal(t, models.SessionPending, got.Status)
	require.Empty(t, rec.Events())
}

func TestManager_ExpirePurgesOwnedOrders(t *testing.T) {
	m, st, rec := newManager(t)
	ctx := context.Background()
	s, err := m.Submit(ctx, "SPC_ST=abcdefghij")
	require.NoError(t, err)
	require.NoError(t, st.UpdateSessionStatus(ctx, s.ID, models.SessionActive))
	s.Status = models.SessionActive
	for _, id := range []string{"111", "222"} {
		require.NoError(t, st.UpsertOrder(ctx, models.Order{ID: id, SessionID: s.ID}))
	}

	purged, err := m.Expire(ctx, *s)
	require.NoError(t, err)
	require.Len(t, purged, 2)

	got, err := st.GetSession(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, models.SessionDisabled, got.Status)
	require.Equal(t, 1, rec.Count(events.SessionExpired))
	require.Equal(t, 2, rec.Count(events.OrderPurged))
	require.Zero(t, rec.Count(events.OrderDelivered))
}

func TestManager_TryPurgeAndCleanup(t *testing.T) {
	m, st, rec := newManager(t)
	ctx := context.Background()

	pending, err := m.Submit(ctx, "SPC_ST=pending-one")
	require.NoError(t, err)
	disabled, err := m.Submit(ctx, "SPC_ST=disabled-one")
	require.NoError(t, err)
	require.NoError(t, st.UpdateSessionStatus(ctx, disabled.ID, models.SessionDisabled))

	ok, err := m.TryPurge(ctx, pending.ID)
	require.NoError(t, err)
	require.False(t, ok)

	n, err := m.CleanupOrphans(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, 1, rec.Count(events.SessionPurged))

	got, err := st.GetSession(ctx, disabled.ID)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestManager_Remove(t *testing.T) {
	m, st, rec := newManager(t)
	ctx := context.Background()
	s, err := m.Submit(ctx, "SPC_ST=abcdefghij")
	require.NoError(t, err)
	require.NoError(t, st.UpsertOrder(ctx, models.Order{ID: "555", SessionID: s.ID}))

	require.NoError(t, m.Remove(ctx, s.ID))
	got, err := st.GetSession(ctx, s.ID)
	require.NoError(t, err)
	require.Nil(t, got)
	require.Equal(t, 1, rec.Count(events.OrderPurged))
}

func TestKeyedMutex_SerialisesSameKey(t *testing.T) {
	var k keyedMutex
	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock(7)
			counter++
			unlock()
		}()
	}
	wg.Wait()
	require.Equal(t, 50, counter)
	require.Empty(t, k.locks)
}
