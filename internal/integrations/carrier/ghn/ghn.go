package ghn

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/BearBump/ParcelSync/internal/classify"
	"github.com/BearBump/ParcelSync/internal/integrations/carrier"
	"github.com/BearBump/ParcelSync/internal/models"
	"github.com/pkg/errors"
)

const (
	DefaultBaseURL = "https://fe-online-gateway.ghn.vn/order-tracking/public-api/client/tracking-logs"
	origin         = "https://donhang.ghn.vn"
)

type Client struct {
	baseURL string
	httpc   *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		httpc: &http.Client{
			Timeout: timeout,
		},
	}
}

type trackingLog struct {
	ActionCode string `json:"action_code"`
	Status     string `json:"status"`
	StatusName string `json:"status_name"`
	ActionAt   string `json:"action_at"`
	Location   *struct {
		Address string `json:"address"`
	} `json:"location"`
}

type respBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    *struct {
		TrackingLogs []trackingLog `json:"tracking_logs"`
	} `json:"data"`
}

func (c *Client) FetchStatus(ctx context.Context, code string) (carrier.Snapshot, error) {
	body, err := json.Marshal(map[string]string{"order_code": code})
	if err != nil {
		return carrier.Snapshot{}, errors.Wrap(err, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return carrier.Snapshot{}, errors.Wrap(err, "new request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", origin)
	req.Header.Set("Referer", origin+"/")
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return carrier.Snapshot{}, errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return carrier.Snapshot{}, carrier.ErrNotThisCarrier
	}
	if resp.StatusCode >= 500 {
		return carrier.Snapshot{}, fmt.Errorf("ghn http %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return carrier.Snapshot{}, errors.Wrap(err, "read body")
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return carrier.Snapshot{}, carrier.ErrNotThisCarrier
	}

	var rb respBody
	if err := json.Unmarshal(raw, &rb); err != nil {
		return carrier.Snapshot{}, errors.Wrap(err, "decode")
	}
	if rb.Code != http.StatusOK {
		if rb.Data == nil {
			return carrier.Snapshot{}, carrier.ErrNotThisCarrier
		}
		return carrier.Snapshot{}, fmt.Errorf("ghn code=%d message=%q", rb.Code, rb.Message)
	}
	if rb.Data == nil || len(rb.Data.TrackingLogs) == 0 {
		return carrier.Snapshot{}, errors.New("ghn: no tracking logs")
	}

	// GHN lists logs oldest-first.
	logs := rb.Data.TrackingLogs
	history := make([]models.JourneyEvent, 0, len(logs))
	for _, l := range logs {
		ev := models.JourneyEvent{
			Code:        l.ActionCode,
			Text:        l.Status,
			Description: l.StatusName,
			At:          parseTime(l.ActionAt),
		}
		if l.Location != nil {
			ev.Location = l.Location.Address
		}
		history = append(history, ev)
	}
	latest := logs[len(logs)-1]

	text := latest.StatusName
	if text == "" {
		text = latest.Status
	}

	snap := carrier.Snapshot{
		Carrier:    carrier.GHN,
		Delivered:  classify.Classify(classify.SourceGHN, latest.Status).Completed,
		StatusCode: latest.ActionCode,
		StatusText: text,
		StatusAt:   parseTime(latest.ActionAt),
		History:    history,
	}
	if latest.Location != nil && latest.Location.Address != "" {
		addr := latest.Location.Address
		snap.CurrentLocation = &addr
	}
	return snap, nil
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}
