package fake

import (
	"context"
	"hash/fnv"
	"time"

	"github.com/BearBump/ParcelSync/internal/integrations/carrier"
	"github.com/BearBump/ParcelSync/internal/models"
)

// FakeClient answers deterministically per tracking code, for local runs
// without carrier access: one code in seven is unknown to the carrier and
// one in five of the rest is delivered.
type FakeClient struct {
	carrierID string
}

func New(carrierID string) *FakeClient { return &FakeClient{carrierID: carrierID} }

func (f *FakeClient) FetchStatus(ctx context.Context, code string) (carrier.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return carrier.Snapshot{}, err
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(f.carrierID))
	_, _ = h.Write([]byte("|"))
	_, _ = h.Write([]byte(code))
	v := h.Sum32()

	if v%7 == 0 {
		return carrier.Snapshot{}, carrier.ErrNotThisCarrier
	}

	// Fixed per-code timestamp so repeated polls look unchanged.
	at := time.Unix(1_700_000_000+int64(v%86_400), 0).UTC()
	text := "Đang vận chuyển"
	delivered := v%5 == 0
	if delivered {
		text = "Giao hàng thành công"
	}
	loc := "fake hub"

	return carrier.Snapshot{
		Carrier:         f.carrierID,
		Delivered:       delivered,
		StatusCode:      "FAKE",
		StatusText:      text,
		StatusAt:        &at,
		CurrentLocation: &loc,
		History: []models.JourneyEvent{
			{Code: "FAKE", Text: text, At: &at, Location: loc},
		},
	}, nil
}
