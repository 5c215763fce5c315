// Package admin_api is the operator HTTP surface of the worker: cycles,
// sessions, order reads, the delivered archive and a live event stream.
package admin_api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/BearBump/ParcelSync/internal/events"
	"github.com/BearBump/ParcelSync/internal/models"
	"github.com/BearBump/ParcelSync/internal/services/orders"
	"github.com/BearBump/ParcelSync/internal/services/poller"
	"github.com/BearBump/ParcelSync/internal/services/sessions"
	"github.com/BearBump/ParcelSync/internal/storage"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
)

type Engine interface {
	RunCycle(ctx context.Context) (poller.Summary, error)
	Trigger()
	LastSummary(ctx context.Context) (*poller.Summary, error)
	CheckSession(ctx context.Context, id uint64) (poller.SessionReport, error)
	CheckQueue(ctx context.Context) ([]poller.SessionReport, error)
	Probe(ctx context.Context, raw string) (poller.ProbeResult, error)
}

type SessionAdmin interface {
	Submit(ctx context.Context, raw string) (*models.Session, error)
	Remove(ctx context.Context, id uint64) error
}

type Reads interface {
	Active(ctx context.Context) ([]models.Order, error)
	Journey(ctx context.Context, orderID string) (*models.TrackingJourney, error)
	History(ctx context.Context, cursor *storage.DeliveredCursor, limit int) (storage.DeliveredPage, error)
	EditDelivered(ctx context.Context, orderID string, edit models.DeliveredEdit) error
	DeleteDelivered(ctx context.Context, orderID string) error
	Sessions(ctx context.Context, status models.SessionStatus) ([]models.Session, error)
	Stats(ctx context.Context) (models.SessionCounts, error)
}

type EventSource interface {
	Subscribe(buffer int) *events.Subscription
}

type AdminAPI struct {
	engine   Engine
	sessions SessionAdmin
	reads    Reads
	events   EventSource

	heartbeat time.Duration
}

func New(engine Engine, sm SessionAdmin, reads Reads, src EventSource) *AdminAPI {
	return &AdminAPI{engine: engine, sessions: sm, reads: reads, events: src, heartbeat: 15 * time.Second}
}

// WithHeartbeat sets the SSE keep-alive interval.
func (a *AdminAPI) WithHeartbeat(d time.Duration) *AdminAPI {
	if d > 0 {
		a.heartbeat = d
	}
	return a
}

func (a *AdminAPI) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/cycles", a.runCycle)
	r.Get("/cycles/last", a.lastCycle)
	r.Post("/trigger", a.trigger)

	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", a.submitSession)
		r.Get("/", a.listSessions)
		r.Post("/check-queue", a.checkQueue)
		r.Post("/probe", a.probe)
		r.Post("/{id}/check", a.checkSession)
		r.Delete("/{id}", a.removeSession)
	})

	r.Get("/orders/active", a.activeOrders)
	r.Get("/orders/{id}/journey", a.journey)

	r.Get("/history", a.history)
	r.Put("/history/{orderID}", a.editDelivered)
	r.Delete("/history/{orderID}", a.deleteDelivered)

	r.Get("/stats", a.stats)
	r.Get("/events", a.stream)
	return r
}

func (a *AdminAPI) runCycle(w http.ResponseWriter, r *http.Request) {
	sum, err := a.engine.RunCycle(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (a *AdminAPI) lastCycle(w http.ResponseWriter, r *http.Request) {
	sum, err := a.engine.LastSummary(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if sum == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "no cycle has completed yet"})
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (a *AdminAPI) trigger(w http.ResponseWriter, _ *http.Request) {
	a.engine.Trigger()
	writeJSON(w, http.StatusAccepted, map[string]bool{"triggered": true})
}

type submitRequest struct {
	Credential string `json:"credential"`
	CheckNow   bool   `json:"checkNow"`
}

type submitResponse struct {
	Session *models.Session       `json:"session"`
	Check   *poller.SessionReport `json:"check,omitempty"`
}

func (a *AdminAPI) submitSession(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body"})
		return
	}
	s, err := a.sessions.Submit(r.Context(), req.Credential)
	if err != nil {
		writeError(w, err)
		return
	}
	out := submitResponse{Session: s}
	if req.CheckNow {
		rep, err := a.engine.CheckSession(r.Context(), s.ID)
		if err != nil {
			// The session is stored either way; the next cycle or check picks it up.
			slog.Warn("check after submit", "session_id", s.ID, "error", err.Error())
		}
		out.Check = &rep
	}
	writeJSON(w, http.StatusCreated, out)
}

func (a *AdminAPI) listSessions(w http.ResponseWriter, r *http.Request) {
	status := models.SessionStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = models.SessionActive
	}
	if !status.Valid() {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: fmt.Sprintf("unknown status %q", status)})
		return
	}
	list, err := a.reads.Sessions(r.Context(), status)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": nonNil(list)})
}

func (a *AdminAPI) checkSession(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	rep, err := a.engine.CheckSession(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (a *AdminAPI) checkQueue(w http.ResponseWriter, r *http.Request) {
	reps, err := a.engine.CheckQueue(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": nonNil(reps)})
}

func (a *AdminAPI) probe(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body"})
		return
	}
	res, err := a.engine.Probe(r.Context(), req.Credential)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *AdminAPI) removeSession(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	if err := a.sessions.Remove(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *AdminAPI) activeOrders(w http.ResponseWriter, r *http.Request) {
	list, err := a.reads.Active(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": nonNil(list)})
}

func (a *AdminAPI) journey(w http.ResponseWriter, r *http.Request) {
	j, err := a.reads.Journey(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (a *AdminAPI) history(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var cursor *storage.DeliveredCursor
	if raw := q.Get("cursor"); raw != "" {
		c, err := storage.ParseDeliveredCursor(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: storage.ErrInvalidCursor.Error()})
			return
		}
		cursor = c
	}
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "limit must be an integer"})
			return
		}
		limit = n
	}

	page, err := a.reads.History(r.Context(), cursor, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if page.Items == nil {
		page.Items = []models.DeliveredOrder{}
	}
	writeJSON(w, http.StatusOK, page)
}

type editRequest struct {
	StatusText   *string `json:"statusText"`
	TrackingCode *string `json:"trackingCode"`
	DeliveredVia *string `json:"deliveredVia"`
}

func (a *AdminAPI) editDelivered(w http.ResponseWriter, r *http.Request) {
	var req editRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body"})
		return
	}
	edit := models.DeliveredEdit{StatusText: req.StatusText, TrackingCode: req.TrackingCode, DeliveredVia: req.DeliveredVia}
	if err := a.reads.EditDelivered(r.Context(), chi.URLParam(r, "orderID"), edit); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *AdminAPI) deleteDelivered(w http.ResponseWriter, r *http.Request) {
	if err := a.reads.DeleteDelivered(r.Context(), chi.URLParam(r, "orderID")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *AdminAPI) stats(w http.ResponseWriter, r *http.Request) {
	c, err := a.reads.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// stream writes bus events as server-sent events until the client leaves.
func (a *AdminAPI) stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "streaming unsupported"})
		return
	}
	sub := a.events.Subscribe(0)
	defer sub.Unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	hb := time.NewTicker(a.heartbeat)
	defer hb.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-hb.C:
			_, _ = fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case e, ok := <-sub.C():
			if !ok {
				return
			}
			b, err := json.Marshal(e)
			if err != nil {
				slog.Warn("encode sse event", "kind", string(e.Kind), "error", err.Error())
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Kind, b); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusOf(err), errorBody{Error: err.Error()})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, poller.ErrCycleInProgress), errors.Is(err, storage.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, storage.ErrStoreTimeout):
		return http.StatusServiceUnavailable
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, poller.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, sessions.ErrInvalidCredential), errors.Is(err, orders.ErrInvalidEdit):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func sessionID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "session id must be a positive integer"})
		return 0, false
	}
	return id, true
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
