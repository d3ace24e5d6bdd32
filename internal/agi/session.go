// ABOUTME: Stateful AGI session engine covering lifecycle, command dispatch, and termination
// ABOUTME: A single actor goroutine owns the transport; callers go through the request queue

package agi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrSessionClosed reports that the session has terminated: the transport
	// reached end-of-stream, the switch hung up, or Close was called.
	ErrSessionClosed = errors.New("agi: session closed")

	// ErrTimeout reports that no response arrived within the command
	// allowance. The session stays usable; the late response, if it ever
	// arrives, dies with the request that stopped waiting for it.
	ErrTimeout = errors.New("agi: command timed out")

	// ErrNotImplemented answers requests the session actor does not
	// recognize.
	ErrNotImplemented = errors.New("agi: not implemented")
)

// DefaultCommandTimeout bounds a single command round trip unless the
// session is configured otherwise.
const DefaultCommandTimeout = 5 * time.Second

// State is the lifecycle phase of a Session.
type State int

const (
	StateInitializing State = iota
	StateBootstrapping
	StateReady
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateBootstrapping:
		return "bootstrapping"
	case StateReady:
		return "ready"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Handler is the application callback a Session hands control to once the
// variable preamble has been read. The session itself is the handle through
// which the application issues commands back to the switch.
type Handler interface {
	ServeCall(ctx context.Context, sess *Session)
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, sess *Session)

func (f HandlerFunc) ServeCall(ctx context.Context, sess *Session) {
	f(ctx, sess)
}

// SessionConfig carries the transport and hooks a Session runs against.
// Reader and Writer are the two halves of a duplex byte stream; the session
// assumes nothing about what is underneath beyond one line in, one line out.
type SessionConfig struct {
	Reader io.Reader
	Writer io.Writer

	// Init runs once before the variable preamble is read. A failure is
	// fatal: the handler is never invoked.
	Init func() error

	// Close runs exactly once when the session terminates, whatever the
	// trigger. For socket transports this is where the connection gets
	// closed, which is also what unblocks a read the switch never answered.
	Close func() error

	// CommandTimeout bounds each command round trip. Zero means
	// DefaultCommandTimeout.
	CommandTimeout time.Duration

	Logger *slog.Logger
}

// requestKind discriminates the messages the session actor accepts.
type requestKind int

const (
	reqExecute requestKind = iota
	reqClose
)

// request is one message to the session actor. Every request carries its own
// buffered reply handle, so a response that outlives its caller lands in the
// abandoned buffer and is discarded with it, never delivered to a later
// command.
type request struct {
	kind  requestKind
	name  string
	args  []string
	reply chan reply
}

type reply struct {
	result *Result
	err    error
}

// Session is the protocol engine of one AGI conversation with the switch.
// All exported methods are safe for concurrent use; internally a single
// goroutine owns the transport and processes one command at a time, so at
// most one command is ever in flight on the wire.
type Session struct {
	id     string
	cfg    SessionConfig
	lr     *lineReader
	logger *slog.Logger

	vars map[string]string

	reqCh chan request
	done  chan struct{}

	mu       sync.Mutex
	state    State
	commands int

	closeOnce sync.Once
	closeErr  error
	termErr   error
}

// NewSession wraps a duplex transport in a session engine. The session does
// nothing until Run is called.
func NewSession(cfg SessionConfig) *Session {
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = DefaultCommandTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Session{
		id:    uuid.New().String(),
		cfg:   cfg,
		lr:    newLineReader(cfg.Reader),
		reqCh: make(chan request),
		done:  make(chan struct{}),
		state: StateInitializing,
	}
	s.logger = logger.With("session_id", s.id)
	return s
}

// ID returns the session identifier, unique per accepted call.
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// CommandCount returns how many commands have been written to the wire.
func (s *Session) CommandCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commands
}

// Done is closed once the session has terminated and the close hook has run.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the cause of termination once the session is done: nil after
// an orderly close, ErrHangup after an in-band hangup, the transport error
// otherwise. Before termination it returns nil.
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.termErr
	default:
		return nil
	}
}

// Variables returns a copy of the preamble variables.
func (s *Session) Variables() map[string]string {
	out := make(map[string]string, len(s.vars))
	for k, v := range s.vars {
		out[k] = v
	}
	return out
}

// Variable looks up a single preamble variable.
func (s *Session) Variable(name string) (string, bool) {
	v, ok := s.vars[name]
	return v, ok
}

// Run drives the session: the init hook, the variable preamble, then the
// handler. The handler executes in the calling goroutine while an internal
// goroutine owns the transport; the handler's context is canceled as soon as
// the session terminates underneath it. Run returns after the handler has
// returned and teardown has finished, surfacing the bootstrap error or the
// close hook's error, if any.
func (s *Session) Run(ctx context.Context, h Handler) error {
	if err := s.start(ctx); err != nil {
		return err
	}

	hctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.done:
			cancel()
		case <-hctx.Done():
		}
	}()

	h.ServeCall(hctx, s)
	return s.Close()
}

// start runs the init hook and the bootstrap read, then hands the transport
// to the actor goroutine. The watchdog is armed before the bootstrap read so
// context cancellation can unblock it through the close hook.
func (s *Session) start(ctx context.Context) error {
	if s.cfg.Init != nil {
		if err := s.cfg.Init(); err != nil {
			err = fmt.Errorf("agi: init hook: %w", err)
			s.shutdown(err)
			return err
		}
	}
	go s.watchContext(ctx)

	s.setState(StateBootstrapping)
	vars, err := readVariables(s.lr)
	if err != nil {
		s.shutdown(err)
		return fmt.Errorf("agi: bootstrap: %w", err)
	}
	s.vars = vars
	s.setState(StateReady)
	s.logger.Debug("session ready", "variables", len(vars))

	go s.loop()
	return nil
}

// watchContext forces teardown when the context is canceled, unblocking any
// read in progress through the close hook.
func (s *Session) watchContext(ctx context.Context) {
	select {
	case <-ctx.Done():
		s.shutdown(ctx.Err())
	case <-s.done:
	}
}

// loop is the session actor: the only goroutine that touches the transport
// after bootstrap. The request channel is unbuffered, so a successful send
// means the actor has the request in hand; blocked senders fall through to
// the done channel once the loop exits.
func (s *Session) loop() {
	for {
		select {
		case req := <-s.reqCh:
			if !s.dispatch(req) {
				return
			}
		case <-s.done:
			return
		}
	}
}

// dispatch processes one request, replying on its handle whether or not the
// caller is still waiting. It reports false once the session must stop.
func (s *Session) dispatch(req request) bool {
	switch req.kind {
	case reqExecute:
		res, err := s.roundTrip(req.name, req.args)
		req.reply <- reply{result: res, err: err}
		if err != nil {
			s.shutdown(terminalCause(err))
			return false
		}
		return true
	case reqClose:
		req.reply <- reply{}
		s.shutdown(nil)
		return false
	default:
		s.logger.Warn("unrecognized session request", "kind", int(req.kind))
		req.reply <- reply{err: ErrNotImplemented}
		return true
	}
}

// roundTrip writes one command line and reads one response line. The caller
// may stop waiting, but the round trip itself always completes or kills the
// session; the wire never carries two commands at once.
func (s *Session) roundTrip(name string, args []string) (*Result, error) {
	line := serializeCommand(name, args)
	if _, err := io.WriteString(s.cfg.Writer, line+"\n"); err != nil {
		return nil, fmt.Errorf("agi: write command: %w", err)
	}
	s.bumpCommands()

	resp, err := s.lr.readLine()
	if err != nil {
		if errors.Is(err, ErrHangup) {
			return nil, ErrHangup
		}
		if errors.Is(err, io.EOF) {
			return nil, ErrSessionClosed
		}
		return nil, fmt.Errorf("agi: read response: %w", err)
	}
	res := parseResponseLine(resp)
	return &res, nil
}

// terminalCause normalizes the error recorded as the session's cause of
// death. An orderly-looking EOF is recorded as-is so callers can tell a
// vanished switch from an in-band hangup.
func terminalCause(err error) error {
	if errors.Is(err, ErrSessionClosed) {
		return io.EOF
	}
	return err
}

// Execute runs one AGI command and returns its decoded response. At most one
// command is in flight per session; concurrent callers queue in arrival
// order. On timeout the caller gets ErrTimeout while the wire keeps its
// lockstep: the pending read finishes against the abandoned request's own
// reply handle, and only then does the next command reach the transport.
func (s *Session) Execute(name string, args ...string) (*Result, error) {
	return s.execute(s.cfg.CommandTimeout, name, args)
}

// ExecuteTimeout is Execute with an explicit per-command allowance, for
// commands that legitimately outlast the session default.
func (s *Session) ExecuteTimeout(timeout time.Duration, name string, args ...string) (*Result, error) {
	return s.execute(timeout, name, args)
}

func (s *Session) execute(timeout time.Duration, name string, args []string) (*Result, error) {
	if timeout <= 0 {
		timeout = s.cfg.CommandTimeout
	}
	req := request{
		kind:  reqExecute,
		name:  name,
		args:  args,
		reply: make(chan reply, 1),
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case s.reqCh <- req:
	case <-s.done:
		return nil, ErrSessionClosed
	case <-timer.C:
		return nil, ErrTimeout
	}

	select {
	case rep := <-req.reply:
		return rep.result, rep.err
	case <-timer.C:
		s.logger.Warn("command timed out", "command", name, "timeout", timeout)
		return nil, ErrTimeout
	case <-s.done:
		// Terminated while waiting. Prefer a reply that raced in.
		select {
		case rep := <-req.reply:
			return rep.result, rep.err
		default:
			return nil, ErrSessionClosed
		}
	}
}

// Close requests orderly termination. The first trigger to terminate the
// session wins; later calls are no-ops that return the same teardown
// outcome. The close hook runs exactly once across all triggers.
func (s *Session) Close() error {
	req := request{kind: reqClose, reply: make(chan reply, 1)}
	select {
	case s.reqCh <- req:
	case <-s.done:
	}
	<-s.done
	return s.closeErr
}

// shutdown is the single funnel for every termination path: fatal reads,
// context cancellation, orderly close. The close hook runs exactly once,
// then the done channel is closed to release queued and waiting callers.
func (s *Session) shutdown(cause error) {
	s.closeOnce.Do(func() {
		s.setState(StateTerminated)
		s.termErr = cause
		if s.cfg.Close != nil {
			if err := s.cfg.Close(); err != nil {
				s.closeErr = fmt.Errorf("agi: close hook: %w", err)
				s.logger.Warn("close hook failed", "error", err)
			}
		}
		if cause != nil {
			s.logger.Debug("session terminated", "cause", cause)
		} else {
			s.logger.Debug("session terminated")
		}
		close(s.done)
	})
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) bumpCommands() {
	s.mu.Lock()
	s.commands++
	s.mu.Unlock()
}
