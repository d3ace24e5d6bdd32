// ABOUTME: Gateway orchestrator that coordinates the FastAGI and HTTP servers
// ABOUTME: Manages store, call registry, event broadcaster, and health endpoints lifecycle

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/2389/agi-gateway/internal/apps"
	"github.com/2389/agi-gateway/internal/auth"
	"github.com/2389/agi-gateway/internal/call"
	"github.com/2389/agi-gateway/internal/config"
	"github.com/2389/agi-gateway/internal/fastagi"
	"github.com/2389/agi-gateway/internal/store"
)

// Gateway orchestrates the agi-gateway server components. It manages the
// FastAGI server for switch connections and the HTTP server for the
// monitoring API and health checks.
type Gateway struct {
	config      *config.Config
	store       store.Store
	registry    *call.Registry
	broadcaster *call.Broadcaster
	router      *fastagi.Router
	fastagi     *fastagi.Server
	httpServer  *http.Server
	logger      *slog.Logger

	mu     sync.Mutex
	httpLn net.Listener

	// fastagiDone closes once the FastAGI serve loop has fully wound down,
	// in-flight sessions included.
	fastagiDone chan struct{}
}

// initStore creates the CDR store based on config and environment.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("AGI_GATEWAY_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// registerHTTPAPIRoutes registers API routes on the mux with or without auth
// middleware, depending on whether an API secret is configured.
func (g *Gateway) registerHTTPAPIRoutes(mux *http.ServeMux, cfg *config.Config, logger *slog.Logger) {
	if cfg.Auth.APISecret != "" {
		verifier := auth.NewJWTVerifier([]byte(cfg.Auth.APISecret))
		authMiddleware := auth.HTTPAuthMiddleware(verifier)
		mux.Handle("/api/calls", authMiddleware(http.HandlerFunc(g.handleListCalls)))
		mux.Handle("/api/calls/stream", authMiddleware(http.HandlerFunc(g.handleCallStream)))
		mux.Handle("/api/cdr", authMiddleware(http.HandlerFunc(g.handleListCDRs)))
		logger.Info("HTTP auth middleware enabled")
		return
	}

	mux.HandleFunc("/api/calls", g.handleListCalls)
	mux.HandleFunc("/api/calls/stream", g.handleCallStream)
	mux.HandleFunc("/api/cdr", g.handleListCDRs)
	logger.Warn("HTTP auth disabled - no api_secret configured")
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	registry := call.NewRegistry(logger.With("component", "registry"))
	broadcaster := call.NewBroadcaster(logger.With("component", "broadcaster"))

	router := fastagi.NewRouter(logger)
	if err := apps.Bind(router, cfg.Apps.Routes, logger); err != nil {
		return nil, fmt.Errorf("binding app routes: %w", err)
	}

	gw := &Gateway{
		config:      cfg,
		store:       s,
		registry:    registry,
		broadcaster: broadcaster,
		router:      router,
		logger:      logger.With("component", "gateway"),
	}

	gw.fastagi = fastagi.New(fastagi.Config{
		Addr:           cfg.Server.FastAGIAddr,
		MaxConns:       cfg.Server.MaxConns,
		CommandTimeout: cfg.AGI.CommandTimeout,
		Handler:        router,
		Registry:       registry,
		Broadcaster:    broadcaster,
		Store:          s,
		Logger:         logger,
	})

	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("/health", gw.handleHealth)
	mux.HandleFunc("/health/ready", gw.handleReady)

	// API endpoints - auth required if an API secret is configured
	gw.registerHTTPAPIRoutes(mux, cfg, logger)

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// Router exposes the script router so callers can register handlers beyond
// the configured app routes before Run.
func (g *Gateway) Router() *fastagi.Router {
	return g.router
}

// setupListeners binds the FastAGI and HTTP addresses.
func (g *Gateway) setupListeners() (net.Listener, error) {
	g.logger.Info("starting gateway",
		"fastagi_addr", g.config.Server.FastAGIAddr,
		"http_addr", g.config.Server.HTTPAddr,
	)

	if err := g.fastagi.Listen(); err != nil {
		return nil, err
	}

	httpLn, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		_ = g.fastagi.Close()
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}

	g.mu.Lock()
	g.httpLn = httpLn
	g.mu.Unlock()
	return httpLn, nil
}

// HTTPAddr returns the bound HTTP listener address, nil before Run.
func (g *Gateway) HTTPAddr() net.Addr {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.httpLn == nil {
		return nil
	}
	return g.httpLn.Addr()
}

// FastAGIAddr returns the bound FastAGI listener address, nil before Run.
func (g *Gateway) FastAGIAddr() net.Addr {
	return g.fastagi.Addr()
}

// startServers starts the FastAGI and HTTP servers in goroutines, returning
// an error channel fed by whichever fails.
func (g *Gateway) startServers(ctx context.Context, httpLn net.Listener) chan error {
	errCh := make(chan error, 2)

	g.fastagiDone = make(chan struct{})
	go func() {
		defer close(g.fastagiDone)
		if err := g.fastagi.Serve(ctx); err != nil {
			errCh <- fmt.Errorf("FastAGI server: %w", err)
		}
	}()

	go func() {
		g.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := g.httpServer.Serve(httpLn); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// waitForShutdownSignal waits for context cancellation or a server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		g.drainErrors(errCh)
		return err
	}
}

// drainErrors drains any remaining errors from the channel.
func (g *Gateway) drainErrors(errCh chan error) {
	select {
	case additionalErr := <-errCh:
		g.logger.Error("additional server error", "error", additionalErr)
	default:
	}
}

// Run starts the gateway servers and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if a server fails.
func (g *Gateway) Run(ctx context.Context) error {
	httpLn, err := g.setupListeners()
	if err != nil {
		return err
	}

	// Derived context so one failing server tears the other down too.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := g.startServers(runCtx, httpLn)
	serverErr := g.waitForShutdownSignal(runCtx, errCh)
	cancel()

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is
// already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// waitFastAGIStopped waits for the FastAGI serve loop to finish tearing
// down sessions, bounded by the shutdown context.
func (g *Gateway) waitFastAGIStopped(ctx context.Context) {
	if g.fastagiDone == nil {
		return
	}
	select {
	case <-g.fastagiDone:
	case <-ctx.Done():
		g.logger.Warn("gave up waiting for FastAGI sessions to finish")
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown gracefully stops all gateway servers and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	g.waitFastAGIStopped(ctx)

	g.broadcaster.Close()
	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once the FastAGI listener is accepting calls.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if g.fastagi.Addr() == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("FastAGI listener not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d active calls)", g.registry.Count())
}
