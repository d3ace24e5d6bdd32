// ABOUTME: Tests for the HTTP API handlers
// ABOUTME: Covers call listing, CDR queries, SSE streaming, and auth wiring

package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/agi-gateway/internal/auth"
	"github.com/2389/agi-gateway/internal/call"
	"github.com/2389/agi-gateway/internal/config"
	"github.com/2389/agi-gateway/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			FastAGIAddr: "127.0.0.1:0",
			HTTPAddr:    "127.0.0.1:0",
		},
		Database: config.DatabaseConfig{Path: ":memory:"},
		AGI:      config.AGIConfig{CommandTimeout: 2 * time.Second},
	}
}

func newTestGateway(t *testing.T, mutate ...func(*config.Config)) *Gateway {
	t.Helper()
	cfg := testConfig()
	for _, m := range mutate {
		m(cfg)
	}

	gw, err := New(cfg, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { gw.store.Close() })
	return gw
}

func TestHandleHealth(t *testing.T) {
	gw := newTestGateway(t)

	rec := httptest.NewRecorder()
	gw.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestHandleReady(t *testing.T) {
	gw := newTestGateway(t)

	// Not listening yet.
	rec := httptest.NewRecorder()
	gw.handleReady(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	require.NoError(t, gw.fastagi.Listen())
	defer gw.fastagi.Close()

	rec = httptest.NewRecorder()
	gw.handleReady(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ready (0 active calls)")
}

func TestHandleListCalls(t *testing.T) {
	gw := newTestGateway(t)

	base := time.Now().Add(-time.Minute)
	require.NoError(t, gw.registry.Register(&call.Call{
		ID:        "call-2",
		Channel:   "SIP/101-00000002",
		Script:    "app/echo",
		StartedAt: base.Add(30 * time.Second),
	}))
	require.NoError(t, gw.registry.Register(&call.Call{
		ID:        "call-1",
		Channel:   "SIP/100-00000001",
		Script:    "app/echo",
		StartedAt: base,
	}))

	rec := httptest.NewRecorder()
	gw.handleListCalls(rec, httptest.NewRequest(http.MethodGet, "/api/calls", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp CallsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
	require.Len(t, resp.Calls, 2)
	assert.Equal(t, "call-1", resp.Calls[0].ID)
	assert.Equal(t, "call-2", resp.Calls[1].ID)
}

func TestHandleListCalls_MethodNotAllowed(t *testing.T) {
	gw := newTestGateway(t)

	rec := httptest.NewRecorder()
	gw.handleListCalls(rec, httptest.NewRequest(http.MethodPost, "/api/calls", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func seedCDR(t *testing.T, gw *Gateway, id, script string, started time.Time) {
	t.Helper()
	err := gw.store.SaveCDR(context.Background(), &store.CDR{
		ID:          id,
		Channel:     "SIP/100-" + id,
		Script:      script,
		StartedAt:   started,
		EndedAt:     started.Add(10 * time.Second),
		Duration:    10 * time.Second,
		Disposition: store.DispositionCompleted,
		Commands:    2,
	})
	require.NoError(t, err)
}

func TestHandleListCDRs(t *testing.T) {
	gw := newTestGateway(t)

	base := time.Now().Add(-time.Hour)
	seedCDR(t, gw, "cdr-1", "app/echo", base)
	seedCDR(t, gw, "cdr-2", "dial/100", base.Add(10*time.Minute))
	seedCDR(t, gw, "cdr-3", "app/echo", base.Add(20*time.Minute))

	rec := httptest.NewRecorder()
	gw.handleListCDRs(rec, httptest.NewRequest(http.MethodGet, "/api/cdr", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp CDRListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Count)
	// Newest first.
	assert.Equal(t, "cdr-3", resp.CDRs[0].ID)
	assert.Equal(t, int64(10000), resp.CDRs[0].DurationMS)
	assert.Equal(t, store.DispositionCompleted, resp.CDRs[0].Disposition)

	// Script filter.
	rec = httptest.NewRecorder()
	gw.handleListCDRs(rec, httptest.NewRequest(http.MethodGet, "/api/cdr?script=dial/100", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
	assert.Equal(t, "cdr-2", resp.CDRs[0].ID)

	// Since filter.
	since := base.Add(5 * time.Minute).UTC().Format(time.RFC3339)
	rec = httptest.NewRecorder()
	gw.handleListCDRs(rec, httptest.NewRequest(http.MethodGet, "/api/cdr?since="+since, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)

	// Limit.
	rec = httptest.NewRecorder()
	gw.handleListCDRs(rec, httptest.NewRequest(http.MethodGet, "/api/cdr?limit=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
}

func TestHandleListCDRs_BadParams(t *testing.T) {
	gw := newTestGateway(t)

	tests := []struct {
		name string
		url  string
	}{
		{"non-numeric limit", "/api/cdr?limit=abc"},
		{"zero limit", "/api/cdr?limit=0"},
		{"negative limit", "/api/cdr?limit=-5"},
		{"malformed since", "/api/cdr?since=yesterday"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			gw.handleListCDRs(rec, httptest.NewRequest(http.MethodGet, tt.url, nil))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), "error")
		})
	}
}

// readSSEEvent reads one complete SSE event block from the stream.
func readSSEEvent(t *testing.T, br *bufio.Reader) (event, data string) {
	t.Helper()
	for {
		line, err := br.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			return event, data
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func TestHandleCallStream(t *testing.T) {
	gw := newTestGateway(t)

	srv := httptest.NewServer(http.HandlerFunc(gw.handleCallStream))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	br := bufio.NewReader(resp.Body)

	// The first event confirms the subscription is live.
	event, data := readSSEEvent(t, br)
	assert.Equal(t, "connected", event)
	assert.JSONEq(t, `{"active_calls":0}`, data)

	c := &call.Call{ID: "call-1", Channel: "SIP/100-00000001", Script: "app/echo", StartedAt: time.Now()}
	gw.broadcaster.Publish(call.Event{Type: call.EventCallStarted, Call: c.Info(), At: time.Now()})

	event, data = readSSEEvent(t, br)
	assert.Equal(t, "call_started", event)

	var ev call.Event
	require.NoError(t, json.Unmarshal([]byte(data), &ev))
	assert.Equal(t, call.EventCallStarted, ev.Type)
	assert.Equal(t, "call-1", ev.Call.ID)

	gw.broadcaster.Publish(call.Event{Type: call.EventCallEnded, Call: c.Info(), At: time.Now()})

	event, _ = readSSEEvent(t, br)
	assert.Equal(t, "call_ended", event)
}

func TestAPIAuth(t *testing.T) {
	const secret = "integration-test-secret"
	gw := newTestGateway(t, func(cfg *config.Config) {
		cfg.Auth.APISecret = secret
	})

	srv := httptest.NewServer(gw.httpServer.Handler)
	defer srv.Close()

	// API rejects missing credentials.
	resp, err := http.Get(srv.URL + "/api/calls")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// A valid bearer token gets through.
	token, err := auth.NewJWTVerifier([]byte(secret)).Generate("tester", time.Hour)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/calls", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Health stays open.
	resp, err = http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPIOpenWithoutSecret(t *testing.T) {
	gw := newTestGateway(t)

	srv := httptest.NewServer(gw.httpServer.Handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/calls")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
