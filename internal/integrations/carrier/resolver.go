package carrier

import (
	"regexp"
	"strings"

	"github.com/BearBump/ParcelSync/internal/models"
)

const (
	SPX = "SPX"
	GHN = "GHN"
)

// DefaultCarrier receives every well-formed code no prefix rule claims.
const DefaultCarrier = GHN

type prefixRule struct {
	re      *regexp.Regexp
	carrier string
}

var prefixRules = []prefixRule{
	{re: regexp.MustCompile(`(?i)^(SPXVN|VN\d+)`), carrier: SPX},
}

// DetectCarrier classifies a tracking code. Empty and placeholder codes yield "".
func DetectCarrier(code string) string {
	if !models.HasTrackingCode(code) {
		return ""
	}
	c := strings.TrimSpace(code)
	for _, r := range prefixRules {
		if r.re.MatchString(c) {
			return r.carrier
		}
	}
	return DefaultCarrier
}

func MethodOf(carrierID string) models.TrackingMethod {
	switch carrierID {
	case SPX:
		return models.MethodCarrierA
	case GHN:
		return models.MethodCarrierB
	default:
		return models.MethodAwaitingCode
	}
}

func CarrierOf(m models.TrackingMethod) string {
	switch m {
	case models.MethodCarrierA:
		return SPX
	case models.MethodCarrierB:
		return GHN
	default:
		return ""
	}
}
