// ABOUTME: Tests for the session engine lifecycle and command dispatch
// ABOUTME: Drives a scripted switch over net.Pipe to cover hangup, timeout, and teardown

package agi

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSwitch scripts the Asterisk side of a net.Pipe transport.
type fakeSwitch struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func newFakeSwitch(t *testing.T, conn net.Conn) *fakeSwitch {
	return &fakeSwitch{t: t, conn: conn, r: bufio.NewReader(conn)}
}

func (f *fakeSwitch) sendLines(lines ...string) {
	f.t.Helper()
	for _, l := range lines {
		_, err := io.WriteString(f.conn, l+"\n")
		require.NoError(f.t, err)
	}
}

func (f *fakeSwitch) readCommand() string {
	f.t.Helper()
	line, err := f.r.ReadString('\n')
	require.NoError(f.t, err)
	return strings.TrimSuffix(line, "\n")
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startSession runs a session over one half of a net.Pipe and returns the
// scripted switch for the other half. Run's error arrives on the returned
// channel once the handler has finished.
func startSession(t *testing.T, cfg SessionConfig, h Handler) (*Session, *fakeSwitch, <-chan error) {
	t.Helper()
	sessConn, swConn := net.Pipe()

	cfg.Reader = sessConn
	cfg.Writer = sessConn
	if cfg.Close == nil {
		cfg.Close = sessConn.Close
	}
	if cfg.Logger == nil {
		cfg.Logger = testLogger()
	}

	sess := NewSession(cfg)
	errCh := make(chan error, 1)
	go func() {
		errCh <- sess.Run(context.Background(), h)
	}()

	t.Cleanup(func() {
		sessConn.Close()
		swConn.Close()
	})
	return sess, newFakeSwitch(t, swConn), errCh
}

func waitErr(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for session to finish")
		return nil
	}
}

func TestSession_BootstrapPopulatesVariables(t *testing.T) {
	var gotVars map[string]string
	var gotState State

	handler := HandlerFunc(func(ctx context.Context, s *Session) {
		gotVars = s.Variables()
		gotState = s.State()
	})

	_, sw, errCh := startSession(t, SessionConfig{}, handler)
	sw.sendLines("foo: 1", "bar: baz", "")

	require.NoError(t, waitErr(t, errCh))
	assert.Equal(t, StateReady, gotState)
	assert.Equal(t, map[string]string{"foo": "1", "bar": "baz"}, gotVars)
}

func TestSession_BootstrapEOFNeverInvokesHandler(t *testing.T) {
	var handlerCalled atomic.Bool
	var closeCount atomic.Int32

	sessConn, swConn := net.Pipe()
	sess := NewSession(SessionConfig{
		Reader: sessConn,
		Writer: sessConn,
		Close: func() error {
			closeCount.Add(1)
			return sessConn.Close()
		},
		Logger: testLogger(),
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- sess.Run(context.Background(), HandlerFunc(func(ctx context.Context, s *Session) {
			handlerCalled.Store(true)
		}))
	}()

	// Close the switch side mid-preamble.
	sw := newFakeSwitch(t, swConn)
	sw.sendLines("foo: 1")
	require.NoError(t, swConn.Close())

	err := waitErr(t, errCh)
	require.Error(t, err)
	assert.ErrorIs(t, err, io.EOF)
	assert.False(t, handlerCalled.Load())
	assert.Equal(t, int32(1), closeCount.Load())
	assert.Equal(t, StateTerminated, sess.State())
}

func TestSession_ExecuteRoundTrip(t *testing.T) {
	var res *Result
	var execErr error

	handler := HandlerFunc(func(ctx context.Context, s *Session) {
		res, execErr = s.Execute("ANSWER")
	})

	sess, sw, errCh := startSession(t, SessionConfig{}, handler)
	sw.sendLines("agi_network: yes", "")

	assert.Equal(t, `"ANSWER" `, sw.readCommand())
	sw.sendLines("200 result=0")

	require.NoError(t, waitErr(t, errCh))
	require.NoError(t, execErr)
	assert.Equal(t, "200", res.Status)
	assert.Equal(t, "result=0", res.Extra)
	assert.Equal(t, 1, sess.CommandCount())
}

func TestSession_ExecuteQuotesEveryToken(t *testing.T) {
	handler := HandlerFunc(func(ctx context.Context, s *Session) {
		_, _ = s.Execute("SET VARIABLE", "caller", "alice smith")
	})

	_, sw, errCh := startSession(t, SessionConfig{}, handler)
	sw.sendLines("")

	assert.Equal(t, `"SET VARIABLE" "caller" "alice smith" `, sw.readCommand())
	sw.sendLines("200 result=1")

	require.NoError(t, waitErr(t, errCh))
}

func TestSession_TimeoutDiscardsLateResponse(t *testing.T) {
	var timeoutErr error
	var second *Result
	var secondErr error

	handler := HandlerFunc(func(ctx context.Context, s *Session) {
		_, timeoutErr = s.Execute("SLOW COMMAND")
		// The wire is still busy with the abandoned read, so give the second
		// command room to queue behind it.
		second, secondErr = s.ExecuteTimeout(2*time.Second, "ANSWER")
	})

	_, sw, errCh := startSession(t, SessionConfig{CommandTimeout: 50 * time.Millisecond}, handler)
	sw.sendLines("")

	// Take the first command but sit on the response until the caller has
	// given up on it.
	assert.Equal(t, `"SLOW COMMAND" `, sw.readCommand())
	time.Sleep(150 * time.Millisecond)
	sw.sendLines("200 result=42 (stale)")

	// The late response must die with the abandoned request, not leak into
	// the next command's reply.
	assert.Equal(t, `"ANSWER" `, sw.readCommand())
	sw.sendLines("200 result=0")

	require.NoError(t, waitErr(t, errCh))
	assert.ErrorIs(t, timeoutErr, ErrTimeout)
	require.NoError(t, secondErr)
	assert.Equal(t, "result=0", second.Extra)
}

func TestSession_HangupTerminates(t *testing.T) {
	var closeCount atomic.Int32
	var hangupErr, afterErr error

	sessConn, swConn := net.Pipe()
	sess := NewSession(SessionConfig{
		Reader: sessConn,
		Writer: sessConn,
		Close: func() error {
			closeCount.Add(1)
			return sessConn.Close()
		},
		Logger: testLogger(),
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- sess.Run(context.Background(), HandlerFunc(func(ctx context.Context, s *Session) {
			_, hangupErr = s.Execute("STREAM FILE", "welcome", "")
			_, afterErr = s.Execute("ANSWER")
		}))
	}()

	sw := newFakeSwitch(t, swConn)
	sw.sendLines("agi_channel: SIP/100-1", "")
	assert.Equal(t, `"STREAM FILE" "welcome" "" `, sw.readCommand())
	sw.sendLines("HANGUP")

	require.NoError(t, waitErr(t, errCh))
	assert.ErrorIs(t, hangupErr, ErrHangup)
	assert.ErrorIs(t, afterErr, ErrSessionClosed)
	assert.Equal(t, int32(1), closeCount.Load())
	assert.Equal(t, StateTerminated, sess.State())
	assert.ErrorIs(t, sess.Err(), ErrHangup)

	// Nothing may touch the wire after the hangup: the switch side sees EOF,
	// not another command line.
	_, err := sw.r.ReadString('\n')
	assert.ErrorIs(t, err, io.EOF)
}

func TestSession_EOFMidCommand(t *testing.T) {
	var execErr error

	handler := HandlerFunc(func(ctx context.Context, s *Session) {
		_, execErr = s.Execute("ANSWER")
	})

	sess, sw, errCh := startSession(t, SessionConfig{}, handler)
	sw.sendLines("")

	assert.Equal(t, `"ANSWER" `, sw.readCommand())
	require.NoError(t, sw.conn.Close())

	require.NoError(t, waitErr(t, errCh))
	assert.ErrorIs(t, execErr, ErrSessionClosed)
	assert.Equal(t, StateTerminated, sess.State())
}

func TestSession_CloseIdempotent(t *testing.T) {
	var closeCount atomic.Int32

	sessConn, swConn := net.Pipe()
	sess := NewSession(SessionConfig{
		Reader: sessConn,
		Writer: sessConn,
		Close: func() error {
			closeCount.Add(1)
			return sessConn.Close()
		},
		Logger: testLogger(),
	})

	errCh := make(chan error, 1)
	go func() {
		// Run closes once more after the handler's own Close.
		errCh <- sess.Run(context.Background(), HandlerFunc(func(ctx context.Context, s *Session) {
			require.NoError(t, s.Close())
			require.NoError(t, s.Close())
		}))
	}()

	sw := newFakeSwitch(t, swConn)
	sw.sendLines("")

	require.NoError(t, waitErr(t, errCh))
	assert.Equal(t, int32(1), closeCount.Load())
	assert.Equal(t, StateTerminated, sess.State())
	assert.NoError(t, sess.Err())
}

func TestSession_CloseHookErrorSurfaces(t *testing.T) {
	hookErr := errors.New("flush failed")

	sessConn, swConn := net.Pipe()
	sess := NewSession(SessionConfig{
		Reader: sessConn,
		Writer: sessConn,
		Close: func() error {
			sessConn.Close()
			return hookErr
		},
		Logger: testLogger(),
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- sess.Run(context.Background(), HandlerFunc(func(ctx context.Context, s *Session) {}))
	}()

	newFakeSwitch(t, swConn).sendLines("")

	err := waitErr(t, errCh)
	require.Error(t, err)
	assert.ErrorIs(t, err, hookErr)
	assert.Equal(t, StateTerminated, sess.State())
}

func TestSession_InitHookFailure(t *testing.T) {
	var handlerCalled atomic.Bool
	var closeCount atomic.Int32
	initErr := errors.New("no controlling terminal")

	sessConn, _ := net.Pipe()
	sess := NewSession(SessionConfig{
		Reader: sessConn,
		Writer: sessConn,
		Init:   func() error { return initErr },
		Close: func() error {
			closeCount.Add(1)
			return sessConn.Close()
		},
		Logger: testLogger(),
	})

	err := sess.Run(context.Background(), HandlerFunc(func(ctx context.Context, s *Session) {
		handlerCalled.Store(true)
	}))

	require.Error(t, err)
	assert.ErrorIs(t, err, initErr)
	assert.False(t, handlerCalled.Load())
	assert.Equal(t, int32(1), closeCount.Load())
	assert.Equal(t, StateTerminated, sess.State())
}

func TestSession_ContextCancelUnblocksCommand(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	sessConn, swConn := net.Pipe()
	sess := NewSession(SessionConfig{
		Reader: sessConn,
		Writer: sessConn,
		Close:  sessConn.Close,
		Logger: testLogger(),
	})

	var execErr error
	errCh := make(chan error, 1)
	go func() {
		errCh <- sess.Run(ctx, HandlerFunc(func(ctx context.Context, s *Session) {
			_, execErr = s.Execute("ANSWER")
		}))
	}()

	sw := newFakeSwitch(t, swConn)
	sw.sendLines("")
	assert.Equal(t, `"ANSWER" `, sw.readCommand())

	// The switch never answers; cancellation must tear the session down and
	// unblock the pending command through the close hook.
	cancel()

	require.NoError(t, waitErr(t, errCh))
	require.Error(t, execErr)
	assert.Equal(t, StateTerminated, sess.State())
}

func TestSession_UnrecognizedRequestLeavesSessionUsable(t *testing.T) {
	var bogusErr error
	var res *Result
	var execErr error

	handler := HandlerFunc(func(ctx context.Context, s *Session) {
		req := request{kind: requestKind(42), reply: make(chan reply, 1)}
		s.reqCh <- req
		bogusErr = (<-req.reply).err

		res, execErr = s.Execute("ANSWER")
	})

	_, sw, errCh := startSession(t, SessionConfig{}, handler)
	sw.sendLines("")

	assert.Equal(t, `"ANSWER" `, sw.readCommand())
	sw.sendLines("200 result=0")

	require.NoError(t, waitErr(t, errCh))
	assert.ErrorIs(t, bogusErr, ErrNotImplemented)
	require.NoError(t, execErr)
	assert.Equal(t, "200", res.Status)
}

func TestSession_ConcurrentCallersSerialize(t *testing.T) {
	handler := HandlerFunc(func(ctx context.Context, s *Session) {
		done := make(chan struct{})
		go func() {
			defer close(done)
			_, _ = s.Execute("ANSWER")
		}()
		_, _ = s.Execute("ANSWER")
		<-done
	})

	_, sw, errCh := startSession(t, SessionConfig{}, handler)
	sw.sendLines("")

	// Whatever the arrival order, the wire sees strictly one command, one
	// response, then the next command.
	for i := 0; i < 2; i++ {
		assert.Equal(t, `"ANSWER" `, sw.readCommand())
		sw.sendLines("200 result=0")
	}

	require.NoError(t, waitErr(t, errCh))
}

func TestSession_ExecuteAfterCloseFails(t *testing.T) {
	var afterErr error

	handler := HandlerFunc(func(ctx context.Context, s *Session) {
		require.NoError(t, s.Close())
		_, afterErr = s.Execute("ANSWER")
	})

	_, sw, errCh := startSession(t, SessionConfig{}, handler)
	sw.sendLines("")

	require.NoError(t, waitErr(t, errCh))
	assert.ErrorIs(t, afterErr, ErrSessionClosed)
}

func TestSession_IDsAreUnique(t *testing.T) {
	a := NewSession(SessionConfig{Reader: strings.NewReader(""), Writer: io.Discard, Logger: testLogger()})
	b := NewSession(SessionConfig{Reader: strings.NewReader(""), Writer: io.Discard, Logger: testLogger()})

	assert.NotEmpty(t, a.ID())
	assert.NotEmpty(t, b.ID())
	assert.NotEqual(t, a.ID(), b.ID())
}
