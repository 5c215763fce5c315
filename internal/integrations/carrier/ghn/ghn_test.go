package ghn

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BearBump/ParcelSync/internal/integrations/carrier"
	"github.com/stretchr/testify/require"
)

func TestClient_FetchStatus_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "https://donhang.ghn.vn", r.Header.Get("Origin"))
		var in map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		require.Equal(t, "GYH7K9LX", in["order_code"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
  "code": 200,
  "message": "Success",
  "data": {"tracking_logs": [
    {"action_code":"PICKED","status":"picked","status_name":"Đã lấy hàng","action_at":"2025-01-01T01:00:00Z","location":{"address":"Kho Tân Bình"}},
    {"action_code":"DELIVER_IN_TRIP","status":"delivering","status_name":"Đang giao hàng","action_at":"2025-01-02T03:00:00Z","location":{"address":"Bưu cục Quận 1"}}
  ]}
}`))
	}))
	defer srv.Close()

	snap, err := New(srv.URL, time.Second).FetchStatus(context.Background(), "GYH7K9LX")
	require.NoError(t, err)
	require.False(t, snap.Delivered)
	require.Equal(t, carrier.GHN, snap.Carrier)
	require.Equal(t, "DELIVER_IN_TRIP", snap.StatusCode)
	require.Equal(t, "Đang giao hàng", snap.StatusText)
	require.Equal(t, time.Date(2025, 1, 2, 3, 0, 0, 0, time.UTC), *snap.StatusAt)
	require.Equal(t, "Bưu cục Quận 1", *snap.CurrentLocation)
	require.Len(t, snap.History, 2)
	require.Equal(t, "PICKED", snap.History[0].Code)
}

func TestClient_FetchStatus_DeliveredIsLastLog(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":200,"data":{"tracking_logs":[
{"action_code":"DELIVER_IN_TRIP","status":"delivering","status_name":"Đang giao hàng","action_at":"2025-01-02T03:00:00Z"},
{"action_code":"DELIVERED","status":"delivered","status_name":"Giao hàng thành công","action_at":"2025-01-02T05:00:00Z"}]}}`))
	}))
	defer srv.Close()

	snap, err := New(srv.URL, time.Second).FetchStatus(context.Background(), "GYH7K9LX")
	require.NoError(t, err)
	require.True(t, snap.Delivered)
	require.Equal(t, "Giao hàng thành công", snap.StatusText)
	require.Nil(t, snap.CurrentLocation)
}

func TestClient_FetchStatus_NotThisCarrier(t *testing.T) {
	handlers := map[string]http.HandlerFunc{
		"204": func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) },
		"empty body": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		},
		"no data": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"code":400,"message":"order not found","data":null}`))
		},
	}
	for name, h := range handlers {
		srv := httptest.NewServer(h)
		_, err := New(srv.URL, time.Second).FetchStatus(context.Background(), "GYH7K9LX")
		srv.Close()
		require.ErrorIs(t, err, carrier.ErrNotThisCarrier, name)
	}
}

func TestClient_FetchStatus_Transient(t *testing.T) {
	handlers := map[string]http.HandlerFunc{
		"5xx": func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadGateway) },
		"error with data": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"code":429,"message":"slow down","data":{}}`))
		},
		"no logs": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"code":200,"data":{"tracking_logs":[]}}`))
		},
		"garbage": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`<html>`))
		},
	}
	for name, h := range handlers {
		srv := httptest.NewServer(h)
		_, err := New(srv.URL, time.Second).FetchStatus(context.Background(), "GYH7K9LX")
		srv.Close()
		require.Error(t, err, name)
		require.NotErrorIs(t, err, carrier.ErrNotThisCarrier, name)
	}
}
