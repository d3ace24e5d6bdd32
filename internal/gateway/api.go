// ABOUTME: HTTP API handlers exposing live calls and CDR history
// ABOUTME: Provides JSON endpoints plus an SSE stream of call events

package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/2389/agi-gateway/internal/call"
	"github.com/2389/agi-gateway/internal/store"
)

// maxCDRLimit caps how many records one request can page through.
const maxCDRLimit = 1000

// CallsResponse is the JSON response for GET /api/calls.
type CallsResponse struct {
	Calls []call.Info `json:"calls"`
	Count int         `json:"count"`
}

// CDRResponse is the JSON shape of one call detail record.
type CDRResponse struct {
	ID          string `json:"id"`
	Channel     string `json:"channel"`
	CallerID    string `json:"caller_id"`
	Script      string `json:"script"`
	RemoteAddr  string `json:"remote_addr"`
	StartedAt   string `json:"started_at"`
	EndedAt     string `json:"ended_at"`
	DurationMS  int64  `json:"duration_ms"`
	Disposition string `json:"disposition"`
	Commands    int    `json:"commands"`
}

// CDRListResponse is the JSON response for GET /api/cdr.
type CDRListResponse struct {
	CDRs  []CDRResponse `json:"cdrs"`
	Count int           `json:"count"`
}

// handleListCalls handles GET /api/calls requests. It returns the calls
// currently in progress, oldest first.
func (g *Gateway) handleListCalls(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	calls := g.registry.List()
	response := CallsResponse{
		Calls: calls,
		Count: len(calls),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleCallStream handles GET /api/calls/stream requests. It subscribes
// the client to the call event feed and relays events as SSE until the
// client disconnects.
func (g *Gateway) handleCallStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	events, subID := g.broadcaster.Subscribe(r.Context())
	g.logger.Debug("call stream subscribed", "subscriber_id", subID)

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	// Initial event so clients know the stream is live and what is already
	// in progress.
	g.writeSSEEvent(w, "connected", map[string]int{"active_calls": g.registry.Count()})
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				// Broadcaster shut down with the gateway.
				return
			}
			g.writeSSEEvent(w, string(ev.Type), ev)
			flusher.Flush()
		}
	}
}

// handleListCDRs handles GET /api/cdr requests. Supports ?limit=N,
// ?since=RFC3339, and ?script=X filters.
func (g *Gateway) handleListCDRs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	filter, err := parseCDRFilter(r)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	cdrs, err := g.store.ListCDRs(r.Context(), filter)
	if err != nil {
		g.logger.Error("failed to list CDRs", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	response := CDRListResponse{
		CDRs:  make([]CDRResponse, len(cdrs)),
		Count: len(cdrs),
	}
	for i, cdr := range cdrs {
		response.CDRs[i] = cdrToResponse(cdr)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// parseCDRFilter builds a store filter from request query parameters.
func parseCDRFilter(r *http.Request) (store.CDRFilter, error) {
	var filter store.CDRFilter

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			return filter, fmt.Errorf("limit must be a positive integer")
		}
		if parsed > maxCDRLimit {
			parsed = maxCDRLimit
		}
		filter.Limit = parsed
	}

	if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		since, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			return filter, fmt.Errorf("since must be an RFC3339 timestamp")
		}
		filter.Since = since
	}

	filter.Script = r.URL.Query().Get("script")
	return filter, nil
}

func cdrToResponse(cdr *store.CDR) CDRResponse {
	return CDRResponse{
		ID:          cdr.ID,
		Channel:     cdr.Channel,
		CallerID:    cdr.CallerID,
		Script:      cdr.Script,
		RemoteAddr:  cdr.RemoteAddr,
		StartedAt:   cdr.StartedAt.Format(time.RFC3339),
		EndedAt:     cdr.EndedAt.Format(time.RFC3339),
		DurationMS:  cdr.Duration.Milliseconds(),
		Disposition: cdr.Disposition,
		Commands:    cdr.Commands,
	}
}

// writeSSEEvent writes a single SSE event to the response writer.
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, event string, data interface{}) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("failed to marshal SSE data", "error", err)
		return
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", dataJSON)
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
