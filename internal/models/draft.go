package models

import "github.com/shopspring/decimal"

// OrderDraft is one order record parsed from a marketplace response.
type OrderDraft struct {
	ID string `json:"id"`
	// Ordinal is the 1-based position of the credential that produced the
	// record inside its batch, or 0 when the response did not say.
	Ordinal int `json:"ordinal,omitempty"`

	TrackingCode string          `json:"trackingCode,omitempty"`
	StatusText   string          `json:"statusText"`
	Shop         string          `json:"shop,omitempty"`
	Product      string          `json:"product"`
	Image        string          `json:"image,omitempty"`
	Quantity     int             `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unitPrice"`
	TotalPrice   decimal.Decimal `json:"totalPrice"`

	RecipientName  string `json:"recipientName,omitempty"`
	RecipientPhone string `json:"recipientPhone,omitempty"`

	Completed bool `json:"completed,omitempty"`
	Cancelled bool `json:"cancelled,omitempty"`
}
