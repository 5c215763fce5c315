package admin_api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/BearBump/ParcelSync/internal/events"
	"github.com/BearBump/ParcelSync/internal/models"
	"github.com/BearBump/ParcelSync/internal/services/orders"
	"github.com/BearBump/ParcelSync/internal/services/poller"
	"github.com/BearBump/ParcelSync/internal/services/sessions"
	"github.com/BearBump/ParcelSync/internal/storage"
	"github.com/BearBump/ParcelSync/internal/storage/memstore"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type stubEngine struct {
	cycleErr  error
	summary   poller.Summary
	last      *poller.Summary
	triggered int
	checked   []uint64
	probe     poller.ProbeResult
}

func (e *stubEngine) RunCycle(context.Context) (poller.Summary, error) {
	if e.cycleErr != nil {
		return poller.Summary{Skipped: true}, e.cycleErr
	}
	return e.summary, nil
}

func (e *stubEngine) Trigger() { e.triggered++ }

func (e *stubEngine) LastSummary(context.Context) (*poller.Summary, error) { return e.last, nil }

func (e *stubEngine) CheckSession(_ context.Context, id uint64) (poller.SessionReport, error) {
	e.checked = append(e.checked, id)
	if id == 404 {
		return poller.SessionReport{SessionID: id}, poller.ErrSessionNotFound
	}
	return poller.SessionReport{SessionID: id, Status: models.SessionActive, Verdict: "plausible", Records: 1}, nil
}

func (e *stubEngine) CheckQueue(context.Context) ([]poller.SessionReport, error) { return nil, nil }

func (e *stubEngine) Probe(_ context.Context, raw string) (poller.ProbeResult, error) {
	if _, err := sessions.ValidateCredential(raw); err != nil {
		return poller.ProbeResult{}, err
	}
	return e.probe, nil
}

type AdminAPISuite struct {
	suite.Suite
	store  *memstore.Store
	engine *stubEngine
	bus    *events.Bus
	srv    *httptest.Server
}

func TestAdminAPISuite(t *testing.T) {
	suite.Run(t, new(AdminAPISuite))
}

func (s *AdminAPISuite) SetupTest() {
	s.store = memstore.New()
	s.engine = &stubEngine{}
	s.bus = events.NewBus()
	api := New(s.engine, sessions.New(s.store, s.bus), orders.New(s.store, nil, 0), s.bus).
		WithHeartbeat(time.Hour)
	s.srv = httptest.NewServer(api.Routes())
	s.T().Cleanup(s.srv.Close)
}

func (s *AdminAPISuite) do(method, path, body string) *http.Response {
	req, err := http.NewRequest(method, s.srv.URL+path, strings.NewReader(body))
	s.Require().NoError(err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	s.T().Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (s *AdminAPISuite) decode(resp *http.Response, v any) {
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(v))
}

func (s *AdminAPISuite) TestRunCycle() {
	s.engine.summary = poller.Summary{CycleID: "c1", NewlyTracked: 2}
	resp := s.do(http.MethodPost, "/cycles", "")
	s.Require().Equal(http.StatusOK, resp.StatusCode)

	var got poller.Summary
	s.decode(resp, &got)
	s.Require().Equal("c1", got.CycleID)
	s.Require().Equal(2, got.NewlyTracked)
}

func (s *AdminAPISuite) TestRunCycle_Busy() {
	s.engine.cycleErr = poller.ErrCycleInProgress
	resp := s.do(http.MethodPost, "/cycles", "")
	s.Require().Equal(http.StatusConflict, resp.StatusCode)
}

func (s *AdminAPISuite) TestRunCycle_StoreTimeout() {
	s.engine.cycleErr = errors.Wrap(storage.ErrStoreTimeout, "repair phase")
	resp := s.do(http.MethodPost, "/cycles", "")
	s.Require().Equal(http.StatusServiceUnavailable, resp.StatusCode)
}

func (s *AdminAPISuite) TestTriggerAndLast() {
	resp := s.do(http.MethodPost, "/trigger", "")
	s.Require().Equal(http.StatusAccepted, resp.StatusCode)
	s.Require().Equal(1, s.engine.triggered)

	resp = s.do(http.MethodGet, "/cycles/last", "")
	s.Require().Equal(http.StatusNotFound, resp.StatusCode)

	s.engine.last = &poller.Summary{CycleID: "prev"}
	resp = s.do(http.MethodGet, "/cycles/last", "")
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var got poller.Summary
	s.decode(resp, &got)
	s.Require().Equal("prev", got.CycleID)
}

func (s *AdminAPISuite) TestSubmitSession() {
	resp := s.do(http.MethodPost, "/sessions", `{"credential":"SPC_ST=abcdefghijkl","checkNow":true}`)
	s.Require().Equal(http.StatusCreated, resp.StatusCode)

	var got submitResponse
	s.decode(resp, &got)
	s.Require().NotNil(got.Session)
	s.Require().Equal(models.SessionPending, got.Session.Status)
	s.Require().NotNil(got.Check)
	s.Require().Equal([]uint64{got.Session.ID}, s.engine.checked)

	resp = s.do(http.MethodPost, "/sessions", `{"credential":"SPC_ST=abcdefghijkl"}`)
	s.Require().Equal(http.StatusConflict, resp.StatusCode)
}

func (s *AdminAPISuite) TestSubmitSession_Invalid() {
	resp := s.do(http.MethodPost, "/sessions", `{"credential":"short"}`)
	s.Require().Equal(http.StatusBadRequest, resp.StatusCode)

	resp = s.do(http.MethodPost, "/sessions", `{"credential":"<script>alert(1)</script>"}`)
	s.Require().Equal(http.StatusBadRequest, resp.StatusCode)

	resp = s.do(http.MethodPost, "/sessions", `not json`)
	s.Require().Equal(http.StatusBadRequest, resp.StatusCode)
}

func (s *AdminAPISuite) TestListSessions() {
	_, err := s.store.CreateSession(context.Background(), "SPC_ST=pending-one")
	s.Require().NoError(err)

	resp := s.do(http.MethodGet, "/sessions?status=pending", "")
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var got struct {
		Sessions []models.Session `json:"sessions"`
	}
	s.decode(resp, &got)
	s.Require().Len(got.Sessions, 1)

	resp = s.do(http.MethodGet, "/sessions", "")
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	got.Sessions = nil
	s.decode(resp, &got)
	s.Require().Empty(got.Sessions)

	resp = s.do(http.MethodGet, "/sessions?status=purged", "")
	s.Require().Equal(http.StatusBadRequest, resp.StatusCode)
}

func (s *AdminAPISuite) TestCheckSession() {
	resp := s.do(http.MethodPost, "/sessions/7/check", "")
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var rep poller.SessionReport
	s.decode(resp, &rep)
	s.Require().Equal(uint64(7), rep.SessionID)

	resp = s.do(http.MethodPost, "/sessions/404/check", "")
	s.Require().Equal(http.StatusNotFound, resp.StatusCode)

	resp = s.do(http.MethodPost, "/sessions/abc/check", "")
	s.Require().Equal(http.StatusBadRequest, resp.StatusCode)
}

func (s *AdminAPISuite) TestCheckQueue() {
	resp := s.do(http.MethodPost, "/sessions/check-queue", "")
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var got map[string][]poller.SessionReport
	s.decode(resp, &got)
	s.Require().Contains(got, "reports")
	s.Require().Empty(got["reports"])
}

func (s *AdminAPISuite) TestProbe() {
	s.engine.probe = poller.ProbeResult{Valid: true, Order: &models.OrderDraft{ID: "5001", Product: "Tai nghe"}}
	resp := s.do(http.MethodPost, "/sessions/probe", `{"credential":"SPC_ST=abcdefghijkl"}`)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var got poller.ProbeResult
	s.decode(resp, &got)
	s.Require().True(got.Valid)
	s.Require().Equal("5001", got.Order.ID)

	resp = s.do(http.MethodPost, "/sessions/probe", `{"credential":"x"}`)
	s.Require().Equal(http.StatusBadRequest, resp.StatusCode)
}

func (s *AdminAPISuite) TestRemoveSession() {
	ctx := context.Background()
	sess, err := s.store.CreateSession(ctx, "SPC_ST=to-be-removed")
	s.Require().NoError(err)
	s.Require().NoError(s.store.UpsertOrder(ctx, models.Order{ID: "9001", SessionID: sess.ID, StatusText: "Đang xử lý"}))

	resp := s.do(http.MethodDelete, "/sessions/"+uintStr(sess.ID), "")
	s.Require().Equal(http.StatusNoContent, resp.StatusCode)

	got, err := s.store.GetSession(ctx, sess.ID)
	s.Require().NoError(err)
	s.Require().Nil(got)
	o, err := s.store.GetOrder(ctx, "9001")
	s.Require().NoError(err)
	s.Require().Nil(o)

	resp = s.do(http.MethodDelete, "/sessions/"+uintStr(sess.ID), "")
	s.Require().Equal(http.StatusNotFound, resp.StatusCode)
}

func (s *AdminAPISuite) TestOrdersAndJourney() {
	ctx := context.Background()
	sess, err := s.store.CreateSession(ctx, "SPC_ST=orders-owner")
	s.Require().NoError(err)
	s.Require().NoError(s.store.UpsertOrder(ctx, models.Order{
		ID: "7001", SessionID: sess.ID, TrackingCode: "SPXVN0123456789", Carrier: "SPX", Method: models.MethodCarrierA,
	}))
	s.Require().NoError(s.store.UpsertOrder(ctx, models.Order{ID: "7002", SessionID: sess.ID}))
	s.Require().NoError(s.store.UpsertJourney(ctx, models.TrackingJourney{
		TrackingCode: "SPXVN0123456789", Carrier: "SPX", Events: []models.JourneyEvent{{Text: "Đang vận chuyển"}},
	}))

	resp := s.do(http.MethodGet, "/orders/active", "")
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var active struct {
		Orders []models.Order `json:"orders"`
	}
	s.decode(resp, &active)
	s.Require().NotEmpty(active.Orders)

	resp = s.do(http.MethodGet, "/orders/7001/journey", "")
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var j models.TrackingJourney
	s.decode(resp, &j)
	s.Require().Len(j.Events, 1)

	resp = s.do(http.MethodGet, "/orders/7002/journey", "")
	s.Require().Equal(http.StatusNotFound, resp.StatusCode)
}

func (s *AdminAPISuite) TestHistory() {
	ctx := context.Background()
	base := time.Date(2026, 10, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"h1", "h2", "h3"} {
		s.Require().NoError(s.store.ArchiveDelivered(ctx, models.DeliveredOrder{
			Order:        models.Order{ID: id, TrackingCode: "GHN00" + id},
			DeliveredVia: "GHN",
			DeliveredAt:  base.Add(time.Duration(i) * time.Hour),
		}))
	}

	resp := s.do(http.MethodGet, "/history?limit=2", "")
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var page storage.DeliveredPage
	s.decode(resp, &page)
	s.Require().Len(page.Items, 2)
	s.Require().Equal("h3", page.Items[0].ID)
	s.Require().NotNil(page.NextCursor)

	resp = s.do(http.MethodGet, "/history?limit=2&cursor="+url.QueryEscape(page.NextCursor.String()), "")
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	page = storage.DeliveredPage{}
	s.decode(resp, &page)
	s.Require().Len(page.Items, 1)
	s.Require().Equal("h1", page.Items[0].ID)
	s.Require().Nil(page.NextCursor)

	resp = s.do(http.MethodGet, "/history?cursor=yesterday", "")
	s.Require().Equal(http.StatusBadRequest, resp.StatusCode)
	resp = s.do(http.MethodGet, "/history?limit=ten", "")
	s.Require().Equal(http.StatusBadRequest, resp.StatusCode)
}

func (s *AdminAPISuite) TestHistory_Timeout() {
	s.store.Fail = func(op string) error {
		if op == "ListDelivered" {
			return errors.Wrap(storage.ErrStoreTimeout, "list delivered")
		}
		return nil
	}
	resp := s.do(http.MethodGet, "/history", "")
	s.Require().Equal(http.StatusServiceUnavailable, resp.StatusCode)
}

func (s *AdminAPISuite) TestEditAndDeleteDelivered() {
	ctx := context.Background()
	s.Require().NoError(s.store.ArchiveDelivered(ctx, models.DeliveredOrder{
		Order: models.Order{ID: "d1", StatusText: "Đã giao"}, DeliveredVia: "marketplace",
	}))

	resp := s.do(http.MethodPut, "/history/d1", `{"deliveredVia":"SPX"}`)
	s.Require().Equal(http.StatusNoContent, resp.StatusCode)
	d, err := s.store.GetDelivered(ctx, "d1")
	s.Require().NoError(err)
	s.Require().Equal("SPX", d.DeliveredVia)

	resp = s.do(http.MethodPut, "/history/d1", `{}`)
	s.Require().Equal(http.StatusBadRequest, resp.StatusCode)
	resp = s.do(http.MethodPut, "/history/missing", `{"statusText":"x"}`)
	s.Require().Equal(http.StatusNotFound, resp.StatusCode)

	resp = s.do(http.MethodDelete, "/history/d1", "")
	s.Require().Equal(http.StatusNoContent, resp.StatusCode)
	resp = s.do(http.MethodDelete, "/history/d1", "")
	s.Require().Equal(http.StatusNotFound, resp.StatusCode)
}

func (s *AdminAPISuite) TestStats() {
	ctx := context.Background()
	_, err := s.store.CreateSession(ctx, "SPC_ST=counted-one")
	s.Require().NoError(err)

	resp := s.do(http.MethodGet, "/stats", "")
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var c models.SessionCounts
	s.decode(resp, &c)
	s.Require().Equal(int64(1), c.Pending)
}

func (s *AdminAPISuite) TestEventStream() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.srv.URL+"/events", nil)
	s.Require().NoError(err)
	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	defer resp.Body.Close()
	s.Require().Equal("text/event-stream", resp.Header.Get("Content-Type"))

	rd := bufio.NewReader(resp.Body)
	line, err := rd.ReadString('\n')
	s.Require().NoError(err)
	s.Require().Equal(": connected\n", line)

	s.Require().Eventually(func() bool { return s.bus.Subscribers() == 1 }, time.Second, 10*time.Millisecond)
	s.bus.Publish(events.Event{Kind: events.OrderDelivered, OrderID: "42"})

	var eventLine, dataLine string
	for eventLine == "" || dataLine == "" {
		line, err := rd.ReadString('\n')
		s.Require().NoError(err)
		switch {
		case strings.HasPrefix(line, "event: "):
			eventLine = strings.TrimSpace(strings.TrimPrefix(line, "event: "))
		case strings.HasPrefix(line, "data: "):
			dataLine = strings.TrimSpace(strings.TrimPrefix(line, "data: "))
		}
	}
	s.Require().Equal("order_delivered", eventLine)
	var e events.Event
	s.Require().NoError(json.Unmarshal([]byte(dataLine), &e))
	s.Require().Equal("42", e.OrderID)

	cancel()
	s.Require().Eventually(func() bool { return s.bus.Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestStatusOf(t *testing.T) {
	require.Equal(t, http.StatusConflict, statusOf(errors.Wrap(poller.ErrCycleInProgress, "x")))
	require.Equal(t, http.StatusServiceUnavailable, statusOf(errors.Wrap(storage.ErrStoreTimeout, "x")))
	require.Equal(t, http.StatusNotFound, statusOf(errors.Wrap(storage.ErrNotFound, "x")))
	require.Equal(t, http.StatusBadRequest, statusOf(errors.Wrap(orders.ErrInvalidEdit, "x")))
	require.Equal(t, http.StatusInternalServerError, statusOf(errors.New("boom")))
}

func uintStr(n uint64) string {
	return strconv.FormatUint(n, 10)
}
