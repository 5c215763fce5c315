package attribution

import (
	"context"
	"errors"
	"testing"

	"github.com/BearBump/ParcelSync/internal/models"
	"github.com/stretchr/testify/require"
)

type mapLookup map[string]*models.Order

func (m mapLookup) GetOrder(_ context.Context, id string) (*models.Order, error) {
	return m[id], nil
}

type failingLookup struct{}

func (failingLookup) GetOrder(context.Context, string) (*models.Order, error) {
	return nil, errors.New("store down")
}

func batchOf(ids ...uint64) []models.Session {
	out := make([]models.Session, 0, len(ids))
	for _, id := range ids {
		out = append(out, models.Session{ID: id, Status: models.SessionActive})
	}
	return out
}

func TestResolve_Chain(t *testing.T) {
	ctx := context.Background()
	b := NewBatch(batchOf(10, 20, 30), []models.Order{
		{ID: "known-20", SessionID: 20},
		{ID: "foreign", SessionID: 99},
	})
	lookup := mapLookup{
		"late-30":   {ID: "late-30", SessionID: 30},
		"elsewhere": {ID: "elsewhere", SessionID: 77},
		"known-20":  {ID: "known-20", SessionID: 20},
	}

	cases := []struct {
		name string
		d    models.OrderDraft
		want Result
	}{
		{"ordinal", models.OrderDraft{ID: "x", Ordinal: 2}, Result{SessionID: 20, Rule: RuleOrdinal}},
		{"ordinal beats cache", models.OrderDraft{ID: "known-20", Ordinal: 3}, Result{SessionID: 30, Rule: RuleOrdinal}},
		{"out of range ordinal falls back", models.OrderDraft{ID: "known-20", Ordinal: 4}, Result{SessionID: 20, Rule: RulePriorOwner}},
		{"prior owner", models.OrderDraft{ID: "known-20"}, Result{SessionID: 20, Rule: RulePriorOwner}},
		{"cache lookup", models.OrderDraft{ID: "late-30"}, Result{SessionID: 30, Rule: RuleCacheLookup}},
		{"owner outside batch", models.OrderDraft{ID: "elsewhere"}, Result{Rule: RuleNone}},
		{"foreign preload ignored", models.OrderDraft{ID: "foreign"}, Result{Rule: RuleNone}},
		{"unknown", models.OrderDraft{ID: "nobody"}, Result{Rule: RuleNone}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Resolve(ctx, tc.d, b, lookup)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
			require.Equal(t, tc.want.Rule != RuleNone, got.OK())
		})
	}
}

func TestResolve_LookupErrorLeavesUnattributed(t *testing.T) {
	b := NewBatch(batchOf(1, 2), nil)
	got, err := Resolve(context.Background(), models.OrderDraft{ID: "abc"}, b, failingLookup{})
	require.Error(t, err)
	require.False(t, got.OK())
}

func TestResolve_NilLookup(t *testing.T) {
	b := NewBatch(batchOf(1, 2), nil)
	got, err := Resolve(context.Background(), models.OrderDraft{ID: "abc"}, b, nil)
	require.NoError(t, err)
	require.False(t, got.OK())
}

// Every attributed record either carries the ordinal of its session or is
// already cached under it.
func TestResolve_AttributionSafety(t *testing.T) {
	ctx := context.Background()
	sessions := batchOf(5, 6, 7, 8)
	cached := []models.Order{{ID: "c5", SessionID: 5}, {ID: "c8", SessionID: 8}, {ID: "x1", SessionID: 1}}
	b := NewBatch(sessions, cached)
	lookup := mapLookup{}
	for i := range cached {
		lookup[cached[i].ID] = &cached[i]
	}
	owner := map[string]uint64{}
	for _, o := range cached {
		owner[o.ID] = o.SessionID
	}

	ids := []string{"c5", "c8", "x1", "new"}
	for ordinal := -1; ordinal <= len(sessions)+1; ordinal++ {
		for _, id := range ids {
			d := models.OrderDraft{ID: id, Ordinal: ordinal}
			got, err := Resolve(ctx, d, b, lookup)
			require.NoError(t, err)
			if !got.OK() {
				continue
			}
			byOrdinal := ordinal >= 1 && ordinal <= len(sessions) && sessions[ordinal-1].ID == got.SessionID
			byCache := owner[id] == got.SessionID
			require.True(t, byOrdinal || byCache, "id=%s ordinal=%d -> %d", id, ordinal, got.SessionID)
		}
	}
}
