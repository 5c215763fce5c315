package spx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/BearBump/ParcelSync/internal/classify"
	"github.com/BearBump/ParcelSync/internal/integrations/carrier"
	"github.com/BearBump/ParcelSync/internal/models"
	"github.com/pkg/errors"
)

const (
	DefaultBaseURL = "https://tramavandon.com/api/spx.php"

	// milestoneDelivered is the last SPX milestone.
	milestoneDelivered = 8
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

type location struct {
	LocationName string `json:"location_name"`
}

type record struct {
	TrackingCode     string    `json:"tracking_code"`
	TrackingName     string    `json:"tracking_name"`
	BuyerDescription string    `json:"buyer_description"`
	ActualTime       int64     `json:"actual_time"`
	MilestoneCode    int       `json:"milestone_code"`
	CurrentLocation  *location `json:"current_location"`
	NextLocation     *location `json:"next_location"`
}

type respBody struct {
	Message string `json:"message"`
	Data    *struct {
		SLSTrackingInfo *struct {
			Records []record `json:"records"`
		} `json:"sls_tracking_info"`
	} `json:"data"`
}

func (c *Client) FetchStatus(ctx context.Context, code string) (carrier.Snapshot, error) {
	body, err := json.Marshal(map[string]string{"tracking_id": code})
	if err != nil {
		return carrier.Snapshot{}, errors.Wrap(err, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return carrier.Snapshot{}, errors.Wrap(err, "new request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return carrier.Snapshot{}, errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return carrier.Snapshot{}, carrier.ErrNotThisCarrier
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return carrier.Snapshot{}, fmt.Errorf("spx rate limit (429)")
	}
	if resp.StatusCode/100 != 2 {
		return carrier.Snapshot{}, fmt.Errorf("spx http %d", resp.StatusCode)
	}

	var rb respBody
	if err := json.NewDecoder(resp.Body).Decode(&rb); err != nil {
		return carrier.Snapshot{}, errors.Wrap(err, "decode")
	}
	if rb.Message != "success" {
		return carrier.Snapshot{}, fmt.Errorf("spx message=%q", rb.Message)
	}
	if rb.Data == nil || rb.Data.SLSTrackingInfo == nil || len(rb.Data.SLSTrackingInfo.Records) == 0 {
		return carrier.Snapshot{}, errors.New("spx: no tracking records")
	}

	// SPX lists records newest-first.
	recs := rb.Data.SLSTrackingInfo.Records
	latest := recs[0]

	history := make([]models.JourneyEvent, 0, len(recs))
	for i := len(recs) - 1; i >= 0; i-- {
		r := recs[i]
		ev := models.JourneyEvent{
			Code:        r.TrackingCode,
			Text:        r.TrackingName,
			Description: r.BuyerDescription,
			At:          unixPtr(r.ActualTime),
		}
		if r.CurrentLocation != nil {
			ev.Location = r.CurrentLocation.LocationName
		}
		history = append(history, ev)
	}

	text := latest.BuyerDescription
	if text == "" {
		text = latest.TrackingName
	}

	snap := carrier.Snapshot{
		Carrier:    carrier.SPX,
		StatusCode: latest.TrackingCode,
		StatusText: text,
		StatusAt:   unixPtr(latest.ActualTime),
		History:    history,
		Delivered: latest.MilestoneCode == milestoneDelivered ||
			classify.Classify(classify.SourceSPX, latest.TrackingName).Completed,
	}
	if latest.CurrentLocation != nil {
		snap.CurrentLocation = strPtr(latest.CurrentLocation.LocationName)
	}
	if latest.NextLocation != nil {
		snap.NextLocation = strPtr(latest.NextLocation.LocationName)
	}
	return snap, nil
}

func unixPtr(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
