package marketplace

import (
	"encoding/json"
	"strings"

	"github.com/BearBump/ParcelSync/internal/classify"
	"github.com/BearBump/ParcelSync/internal/models"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// legacyResponse is the older JSON shape: one group per credential, in
// request order.
type legacyResponse struct {
	Error           string        `json:"error"`
	AllOrderDetails []legacyGroup `json:"allOrderDetails"`
}

type legacyGroup struct {
	Error        string        `json:"error"`
	OrderDetails []legacyOrder `json:"orderDetails"`
}

type legacyOrder struct {
	OrderID                 json.Number `json:"order_id"`
	TrackingNumber          string      `json:"tracking_number"`
	TrackingInfoDescription string      `json:"tracking_info_description"`
	Address                 struct {
		ShippingName  string `json:"shipping_name"`
		ShippingPhone string `json:"shipping_phone"`
	} `json:"address"`
	ProductInfo []struct {
		ShopID    json.Number `json:"shop_id"`
		Name      string      `json:"name"`
		ModelName string      `json:"model_name"`
		Image     string      `json:"image"`
		Amount    int         `json:"amount"`
		ItemPrice int64       `json:"item_price"`
	} `json:"product_info"`
}

// Legacy prices are scaled by 10^5.
const legacyPriceExp = -5

func parseJSON(body []byte) (BatchResult, error) {
	var lr legacyResponse
	if err := json.Unmarshal(body, &lr); err != nil {
		return BatchResult{}, errors.Wrap(err, "decode marketplace json")
	}
	if hasExpiredMarker(lr.Error) {
		return BatchResult{}, ErrCredentialExpired
	}

	var res BatchResult
	for gi, g := range lr.AllOrderDetails {
		ordinal := gi + 1
		if hasExpiredMarker(g.Error) {
			res.Expired = append(res.Expired, ordinal)
			continue
		}
		for _, o := range g.OrderDetails {
			d := legacyDraft(o)
			if len(d.ID) < MinOrderIDLength {
				continue
			}
			d.Ordinal = ordinal
			res.Drafts = append(res.Drafts, d)
		}
	}
	return res, nil
}

func legacyDraft(o legacyOrder) models.OrderDraft {
	d := models.OrderDraft{
		ID:             strings.TrimSpace(o.OrderID.String()),
		TrackingCode:   o.TrackingNumber,
		StatusText:     o.TrackingInfoDescription,
		RecipientName:  o.Address.ShippingName,
		RecipientPhone: o.Address.ShippingPhone,
		Product:        ProductPlaceholder,
		Quantity:       1,
		UnitPrice:      decimal.Zero,
		TotalPrice:     decimal.Zero,
	}
	if !models.HasTrackingCode(d.TrackingCode) {
		d.TrackingCode = models.TrackingCodeUnknownVI
	}
	if d.StatusText == "" {
		d.StatusText = defaultStatusText
	}
	if len(o.ProductInfo) > 0 {
		p := o.ProductInfo[0]
		if p.Name != "" {
			d.Product = p.Name
		}
		if p.ModelName != "" {
			d.Product += " - " + p.ModelName
		}
		if p.Amount > 0 {
			d.Quantity = p.Amount
		}
		d.Image = p.Image
		if sid := p.ShopID.String(); sid != "" {
			d.Shop = "Shop ID " + sid
		}
		d.UnitPrice = decimal.New(p.ItemPrice, legacyPriceExp)
		d.TotalPrice = d.UnitPrice.Mul(decimal.NewFromInt(int64(d.Quantity)))
	}

	v := classify.Classify(classify.SourceMarketplace, d.StatusText)
	d.Completed = v.Completed
	d.Cancelled = v.Cancelled
	return d
}
