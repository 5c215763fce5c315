package carrier

import (
	"testing"

	"github.com/BearBump/ParcelSync/internal/models"
	"github.com/stretchr/testify/require"
)

func TestDetectCarrier(t *testing.T) {
	cases := map[string]string{
		"SPXVN000111222333": SPX,
		"spxvn0001":         SPX,
		"VN262287118779V":   SPX,
		"  SPXVN42  ":       SPX,
		"GYH7K9LX":          GHN,
		"VNX123":            GHN,
		"":                  "",
		"   ":               "",
		"UNKNOWN":           "",
		"Không xác định":    "",
	}
	for code, want := range cases {
		require.Equal(t, want, DetectCarrier(code), code)
	}
}

func TestMethodOf_RoundTrip(t *testing.T) {
	require.Equal(t, models.MethodCarrierA, MethodOf(SPX))
	require.Equal(t, models.MethodCarrierB, MethodOf(GHN))
	require.Equal(t, models.MethodAwaitingCode, MethodOf("DHL"))
	require.Equal(t, models.MethodAwaitingCode, MethodOf(""))

	require.Equal(t, SPX, CarrierOf(models.MethodCarrierA))
	require.Equal(t, GHN, CarrierOf(models.MethodCarrierB))
	require.Equal(t, "", CarrierOf(models.MethodUnsupported))
	require.Equal(t, "", CarrierOf(models.MethodAwaitingCode))
}

func TestRegistry_Lookup(t *testing.T) {
	r := Registry{SPX: nil}
	_, ok := r.Lookup(SPX)
	require.False(t, ok)
	_, ok = r.Lookup(GHN)
	require.False(t, ok)
}
