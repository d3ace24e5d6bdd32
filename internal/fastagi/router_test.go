// ABOUTME: Tests for script routing
// ABOUTME: Covers exact matches, glob patterns, precedence, and the not-found default

package fastagi

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/2389/agi-gateway/internal/agi"
)

func routerTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingHandler resolves to a name so tests can tell handlers apart.
func recordingHandler(name string, got *string) agi.Handler {
	return agi.HandlerFunc(func(ctx context.Context, sess *agi.Session) {
		*got = name
	})
}

func TestRouter_ExactMatch(t *testing.T) {
	r := NewRouter(routerTestLogger())

	var got string
	r.Handle("app/echo", recordingHandler("echo", &got))
	r.Handle("app/dial", recordingHandler("dial", &got))

	r.Resolve("app/echo").ServeCall(context.Background(), nil)
	assert.Equal(t, "echo", got)

	r.Resolve("app/dial").ServeCall(context.Background(), nil)
	assert.Equal(t, "dial", got)
}

func TestRouter_GlobMatch(t *testing.T) {
	r := NewRouter(routerTestLogger())

	var got string
	r.Handle("ivr/*", recordingHandler("ivr", &got))

	r.Resolve("ivr/menu-1").ServeCall(context.Background(), nil)
	assert.Equal(t, "ivr", got)
}

func TestRouter_ExactBeatsGlob(t *testing.T) {
	r := NewRouter(routerTestLogger())

	var got string
	r.Handle("ivr/*", recordingHandler("glob", &got))
	r.Handle("ivr/menu", recordingHandler("exact", &got))

	r.Resolve("ivr/menu").ServeCall(context.Background(), nil)
	assert.Equal(t, "exact", got)
}

func TestRouter_GlobRegistrationOrder(t *testing.T) {
	r := NewRouter(routerTestLogger())

	var got string
	r.Handle("ivr/*", recordingHandler("first", &got))
	r.Handle("ivr/**", recordingHandler("second", &got))

	r.Resolve("ivr/anything").ServeCall(context.Background(), nil)
	assert.Equal(t, "first", got)
}

func TestRouter_NotFoundCustom(t *testing.T) {
	r := NewRouter(routerTestLogger())

	var got string
	r.NotFound(recordingHandler("fallback", &got))

	r.Resolve("no/such/script").ServeCall(context.Background(), nil)
	assert.Equal(t, "fallback", got)
}

func TestRouter_ExactReplacement(t *testing.T) {
	r := NewRouter(routerTestLogger())

	var got string
	r.Handle("app/echo", recordingHandler("old", &got))
	r.Handle("app/echo", recordingHandler("new", &got))

	r.Resolve("app/echo").ServeCall(context.Background(), nil)
	assert.Equal(t, "new", got)
}

func TestRouter_HandleFunc(t *testing.T) {
	r := NewRouter(routerTestLogger())

	called := false
	r.HandleFunc("app/echo", func(ctx context.Context, sess *agi.Session) {
		called = true
	})

	r.Resolve("app/echo").ServeCall(context.Background(), nil)
	assert.True(t, called)
}

func TestIsGlobPattern(t *testing.T) {
	assert.True(t, isGlobPattern("ivr/*"))
	assert.True(t, isGlobPattern("app/?cho"))
	assert.True(t, isGlobPattern("app/{echo,dial}"))
	assert.False(t, isGlobPattern("app/echo"))
	assert.False(t, isGlobPattern(""))
}
