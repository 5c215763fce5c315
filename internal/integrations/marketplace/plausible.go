package marketplace

import (
	"strings"

	"github.com/BearBump/ParcelSync/internal/models"
)

// ProductPlaceholder is what the marketplace shows when product data is missing.
const ProductPlaceholder = "Sản phẩm"

// MinOrderIDLength guards against parser false positives.
const MinOrderIDLength = 3

var expiredMarkers = []string{"Cookie Hết Hạn", "Error 19"}

func hasExpiredMarker(s string) bool {
	for _, m := range expiredMarkers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

// IsPlaceholderProduct reports whether product text carries no real data.
func IsPlaceholderProduct(product string) bool {
	p := strings.TrimSpace(product)
	return p == "" || p == ProductPlaceholder || strings.HasPrefix(p, ProductPlaceholder+" -")
}

// Plausible reports whether any draft carries real product data.
func Plausible(drafts []models.OrderDraft) bool {
	for _, d := range drafts {
		if !IsPlaceholderProduct(d.Product) {
			return true
		}
	}
	return false
}
