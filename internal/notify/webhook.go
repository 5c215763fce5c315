package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/BearBump/ParcelSync/internal/models"
	"github.com/BearBump/ParcelSync/internal/signing"
	"github.com/pkg/errors"
)

const (
	DefaultBaseURL = "http://localhost:3002"
	DefaultTimeout = 10 * time.Second

	HeaderSecret    = "X-Webhook-Secret"
	HeaderSignature = "X-ParcelSync-Signature"
	HeaderTimestamp = "X-ParcelSync-Timestamp"

	userAgent = "ParcelSync/1.0"
)

// Webhook pushes order snapshots and delivery announcements to the chat bot.
type Webhook struct {
	baseURL string
	secret  string
	client  *http.Client
}

func NewWebhook(baseURL, secret string, timeout time.Duration) *Webhook {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Webhook{
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
		client:  &http.Client{Timeout: timeout},
	}
}

type ordersPayload struct {
	Orders []*models.Order `json:"orders"`
}

type deliveredPayload struct {
	Order models.DeliveredOrder `json:"order"`
}

// SendOrders broadcasts the current active orders. An empty list sends nothing.
func (w *Webhook) SendOrders(ctx context.Context, orders []*models.Order) error {
	if len(orders) == 0 {
		return nil
	}
	return w.post(ctx, "/webhook/orders", ordersPayload{Orders: orders})
}

func (w *Webhook) SendDelivered(ctx context.Context, d models.DeliveredOrder) error {
	return w.post(ctx, "/webhook/delivered", deliveredPayload{Order: d})
}

func (w *Webhook) post(ctx context.Context, path string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "marshal webhook payload")
	}
	sig, ts := signing.Sign(w.secret, body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build webhook request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(HeaderSecret, w.secret)
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(HeaderSignature, sig)

	resp, err := w.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "post %s", path)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return errors.Errorf("post %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Nop drops every notification.
type Nop struct{}

func (Nop) SendOrders(context.Context, []*models.Order) error          { return nil }
func (Nop) SendDelivered(context.Context, models.DeliveredOrder) error { return nil }
