package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TrackingMethod says where an order's delivery status currently comes from.
type TrackingMethod int

const (
	MethodAwaitingCode TrackingMethod = 0
	MethodCarrierA     TrackingMethod = 1
	MethodCarrierB     TrackingMethod = 2
	MethodUnsupported  TrackingMethod = 3
)

func (m TrackingMethod) String() string {
	switch m {
	case MethodAwaitingCode:
		return "AWAITING_CODE"
	case MethodCarrierA:
		return "CARRIER_A"
	case MethodCarrierB:
		return "CARRIER_B"
	case MethodUnsupported:
		return "UNSUPPORTED"
	default:
		return "UNKNOWN"
	}
}

// Verified reports whether the method is backed by a carrier API.
func (m TrackingMethod) Verified() bool {
	return m == MethodCarrierA || m == MethodCarrierB
}

// Placeholders the marketplace puts in place of a missing tracking code.
const (
	TrackingCodeUnknownVI = "Không xác định"
	TrackingCodeUnknown   = "UNKNOWN"
)

// HasTrackingCode reports whether code is a real tracking code.
func HasTrackingCode(code string) bool {
	c := strings.TrimSpace(code)
	if c == "" {
		return false
	}
	return !strings.EqualFold(c, TrackingCodeUnknown) && c != TrackingCodeUnknownVI
}

type Order struct {
	ID        string `json:"id"`
	SessionID uint64 `json:"sessionId"`

	Product    string          `json:"product"`
	Shop       string          `json:"shop,omitempty"`
	Image      string          `json:"image,omitempty"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unitPrice"`
	TotalPrice decimal.Decimal `json:"totalPrice"`

	RecipientName  string `json:"recipientName,omitempty"`
	RecipientPhone string `json:"recipientPhone,omitempty"`

	TrackingCode string         `json:"trackingCode,omitempty"`
	Carrier      string         `json:"carrier,omitempty"`
	Method       TrackingMethod `json:"trackingMethod"`

	StatusText      string     `json:"statusText"`
	StatusAt        *time.Time `json:"statusAt,omitempty"`
	CurrentLocation *string    `json:"currentLocation,omitempty"`
	NextLocation    *string    `json:"nextLocation,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// StatusUpdate is the only set of fields a status refresh may change.
type StatusUpdate struct {
	StatusText      string
	StatusAt        *time.Time
	CurrentLocation *string
	NextLocation    *string
}

// TrackingAssignment is the only set of fields a tracking verification may change.
type TrackingAssignment struct {
	TrackingCode string
	Carrier      string
	Method       TrackingMethod
}

// Delivery channels recorded on archived orders.
const (
	DeliveredViaMarketplace = "marketplace"
)

type DeliveredOrder struct {
	Order
	DeliveredVia string    `json:"deliveredVia"`
	DeliveredAt  time.Time `json:"deliveredAt"`
}

// DeliveredEdit carries the admin-editable fields of an archived order.
type DeliveredEdit struct {
	StatusText   *string
	TrackingCode *string
	DeliveredVia *string
}
