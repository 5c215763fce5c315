package storage

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/BearBump/ParcelSync/internal/models"
	"github.com/stretchr/testify/require"
)

func TestDeliveredCursor_RoundTrip(t *testing.T) {
	at := time.Date(2026, 9, 1, 10, 30, 0, 123000, time.UTC)
	c := CursorAfter(models.DeliveredOrder{Order: models.Order{ID: "240901ABC"}, DeliveredAt: at})

	b, err := json.Marshal(DeliveredPage{NextCursor: c})
	require.NoError(t, err)
	require.JSONEq(t, `{"items":null,"nextCursor":"2026-09-01T10:30:00.000123Z_240901ABC"}`, string(b))

	var page DeliveredPage
	require.NoError(t, json.Unmarshal(b, &page))
	require.True(t, page.NextCursor.At.Equal(at))
	require.Equal(t, "240901ABC", page.NextCursor.OrderID)
}

func TestParseDeliveredCursor(t *testing.T) {
	c, err := ParseDeliveredCursor("2026-09-01T10:00:00Z")
	require.NoError(t, err)
	require.Empty(t, c.OrderID)

	_, err = ParseDeliveredCursor("yesterday_1")
	require.ErrorIs(t, err, ErrInvalidCursor)
}

func TestDeliveredCursor_Before(t *testing.T) {
	at := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	c := DeliveredCursor{At: at, OrderID: "b"}

	require.True(t, c.Before(at, "a"))
	require.False(t, c.Before(at, "b"))
	require.False(t, c.Before(at, "c"))
	require.True(t, c.Before(at.Add(-time.Second), "z"))
	require.False(t, c.Before(at.Add(time.Second), "a"))
}
