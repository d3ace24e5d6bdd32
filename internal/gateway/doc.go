// Package gateway orchestrates the agi-gateway server components.
//
// # Overview
//
// The gateway package is the central coordinator of the agi-gateway daemon.
// It owns and manages all major components: the FastAGI server, the HTTP
// monitoring server, the script router, the call registry, the event
// broadcaster, and the CDR store.
//
// # Gateway Struct
//
// The Gateway struct is the main entry point:
//
//	type Gateway struct {
//	    config      *config.Config
//	    store       store.Store
//	    registry    *call.Registry
//	    broadcaster *call.Broadcaster
//	    router      *fastagi.Router
//	    fastagi     *fastagi.Server
//	    httpServer  *http.Server
//	    // ... and more
//	}
//
// # HTTP API
//
// The gateway exposes HTTP endpoints in api.go:
//
//   - GET /api/calls - List calls currently in progress
//   - GET /api/calls/stream - SSE feed of call lifecycle events
//   - GET /api/cdr - Recent call detail records (?limit=, ?since=, ?script=)
//   - GET /health - Liveness check
//   - GET /health/ready - Readiness check (FastAGI listener up)
//
// API routes sit behind JWT bearer auth when auth.api_secret is configured;
// health endpoints are always open.
//
// # SSE Streaming
//
// Call events are streamed as Server-Sent Events:
//
//	event: connected
//	data: {"active_calls": 2}
//
//	event: call_started
//	data: {"type":"call_started","call":{...},"at":"..."}
//
//	event: call_ended
//	data: {"type":"call_ended","call":{...},"at":"..."}
//
// # Lifecycle
//
// Start the gateway:
//
//	gw, err := gateway.New(cfg, logger)
//	ctx, cancel := context.WithCancel(context.Background())
//	err = gw.Run(ctx)
//
// Run blocks until the context is canceled or a server fails, then performs
// a bounded graceful shutdown: the HTTP server drains, in-flight AGI
// sessions get their sockets closed, and the store closes last so every
// finished call still lands a CDR.
package gateway
