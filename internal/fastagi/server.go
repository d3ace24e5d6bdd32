// ABOUTME: TCP server speaking FastAGI, one AGI session per accepted connection
// ABOUTME: Wires sessions into the call registry, event broadcaster, and CDR store

package fastagi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/2389/agi-gateway/internal/agi"
	"github.com/2389/agi-gateway/internal/call"
	"github.com/2389/agi-gateway/internal/store"
)

// keepalivePeriod is how often idle AGI connections are probed. Calls sit
// quiet for long stretches while media flows elsewhere, so the probe is the
// only way to notice a switch that died without closing the socket.
const keepalivePeriod = 30 * time.Second

// cdrWriteTimeout bounds the store write after a session ends, which must
// finish even when the server context is already canceled.
const cdrWriteTimeout = 5 * time.Second

// Config holds the server wiring. Handler is required; Registry,
// Broadcaster, and Store are optional collaborators skipped when nil.
type Config struct {
	Addr           string
	MaxConns       int // 0 = unlimited
	CommandTimeout time.Duration

	Handler     agi.Handler
	Registry    *call.Registry
	Broadcaster *call.Broadcaster
	Store       store.Store
	Logger      *slog.Logger
}

// Server accepts FastAGI connections from the switch and runs one AGI
// session per connection.
type Server struct {
	cfg    Config
	logger *slog.Logger

	wg sync.WaitGroup

	mu     sync.Mutex
	ln     net.Listener
	active int
}

// New creates a FastAGI server. Call Listen before Serve, or use Run.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:    cfg,
		logger: logger.With("component", "fastagi"),
	}
}

// Listen binds the configured address. Safe to call once.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	s.logger.Info("FastAGI server listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound listener address, nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Close releases the bound listener without waiting for sessions. Serve
// performs the full teardown; Close exists for error paths between Listen
// and Serve.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Close()
}

// Run is Listen followed by Serve.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Serve accepts connections until the context is canceled, then waits for
// in-flight sessions to tear down. Session teardown is driven by the same
// context: cancellation closes each session's socket through its close hook.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		return fmt.Errorf("fastagi: Serve called before Listen")
	}

	// Shut the listener down when the context expires.
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				s.wg.Wait()
				return nil
			default:
				return fmt.Errorf("accept: %w", err)
			}
		}

		if !s.admit() {
			s.logger.Warn("connection rejected, at capacity",
				"remote_addr", conn.RemoteAddr().String(),
				"max_conns", s.cfg.MaxConns)
			conn.Close()
			continue
		}

		s.wg.Add(1)
		go s.handleConn(ctx, conn)
	}
}

// admit reserves a connection slot, refusing past MaxConns.
func (s *Server) admit() bool {
	if s.cfg.MaxConns <= 0 {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active >= s.cfg.MaxConns {
		return false
	}
	s.active++
	return true
}

func (s *Server) release() {
	if s.cfg.MaxConns <= 0 {
		return
	}
	s.mu.Lock()
	s.active--
	s.mu.Unlock()
}

// handleConn runs one connection's full life: session bootstrap, handler,
// teardown, then the CDR write.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer s.release()

	remoteAddr := conn.RemoteAddr().String()
	started := time.Now()

	sess := agi.NewSession(agi.SessionConfig{
		Reader:         conn,
		Writer:         conn,
		Init:           func() error { return enableKeepalive(conn) },
		Close:          conn.Close,
		CommandTimeout: s.cfg.CommandTimeout,
		Logger:         s.logger,
	})

	var handlerRan bool
	wrapped := agi.HandlerFunc(func(hctx context.Context, sess *agi.Session) {
		handlerRan = true
		c := &call.Call{
			ID:         sess.ID(),
			Channel:    preambleVar(sess, "agi_channel"),
			CallerID:   preambleVar(sess, "agi_callerid"),
			Script:     preambleVar(sess, "agi_network_script"),
			RemoteAddr: remoteAddr,
			StartedAt:  started,
			Session:    sess,
		}

		if s.cfg.Registry != nil {
			if err := s.cfg.Registry.Register(c); err != nil {
				s.logger.Warn("registering call", "call_id", c.ID, "error", err)
			} else {
				defer s.cfg.Registry.Unregister(c.ID)
			}
		}
		if s.cfg.Broadcaster != nil {
			s.cfg.Broadcaster.Publish(call.Event{
				Type: call.EventCallStarted,
				Call: c.Info(),
				At:   time.Now(),
			})
			defer func() {
				s.cfg.Broadcaster.Publish(call.Event{
					Type: call.EventCallEnded,
					Call: c.Info(),
					At:   time.Now(),
				})
			}()
		}

		s.cfg.Handler.ServeCall(hctx, sess)
	})

	err := sess.Run(ctx, wrapped)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, agi.ErrHangup) {
		s.logger.Warn("session ended with error",
			"session_id", sess.ID(),
			"remote_addr", remoteAddr,
			"error", err)
	}

	s.writeCDR(sess, remoteAddr, started, handlerRan)
}

// writeCDR records the finished session. Runs against its own context so
// records survive server shutdown.
func (s *Server) writeCDR(sess *agi.Session, remoteAddr string, started time.Time, handlerRan bool) {
	if s.cfg.Store == nil {
		return
	}

	ended := time.Now()
	vars := sess.Variables()
	if len(vars) == 0 {
		vars = nil
	}

	cdr := &store.CDR{
		ID:          sess.ID(),
		Channel:     preambleVar(sess, "agi_channel"),
		CallerID:    preambleVar(sess, "agi_callerid"),
		Script:      preambleVar(sess, "agi_network_script"),
		RemoteAddr:  remoteAddr,
		StartedAt:   started,
		EndedAt:     ended,
		Duration:    ended.Sub(started),
		Disposition: disposition(sess, handlerRan),
		Commands:    sess.CommandCount(),
		Variables:   vars,
	}

	saveCtx, cancel := context.WithTimeout(context.Background(), cdrWriteTimeout)
	defer cancel()
	if err := s.cfg.Store.SaveCDR(saveCtx, cdr); err != nil {
		s.logger.Error("writing CDR", "session_id", sess.ID(), "error", err)
	}
}

// disposition classifies how the session ended.
func disposition(sess *agi.Session, handlerRan bool) string {
	if !handlerRan {
		return store.DispositionFailed
	}
	err := sess.Err()
	switch {
	case err == nil:
		return store.DispositionCompleted
	case errors.Is(err, agi.ErrHangup), errors.Is(err, io.EOF):
		return store.DispositionHangup
	default:
		return store.DispositionFailed
	}
}

func preambleVar(sess *agi.Session, name string) string {
	v, _ := sess.Variable(name)
	return v
}

// enableKeepalive arms TCP keepalive probing on AGI sockets.
func enableKeepalive(conn net.Conn) error {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}
	if err := tc.SetKeepAlive(true); err != nil {
		return fmt.Errorf("enabling keepalive: %w", err)
	}
	if err := tc.SetKeepAlivePeriod(keepalivePeriod); err != nil {
		return fmt.Errorf("setting keepalive period: %w", err)
	}
	return nil
}
