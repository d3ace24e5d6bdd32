// ABOUTME: Routes agi_network_script values to call handlers
// ABOUTME: Exact matches first, then registration-ordered glob patterns

package fastagi

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/2389/agi-gateway/internal/agi"
)

// Router maps the agi_network_script preamble variable to handlers. Exact
// registrations win over patterns; patterns are tried in registration order.
// Router implements agi.Handler itself, so a Server can be given either a
// Router or a single handler.
type Router struct {
	mu       sync.RWMutex
	exact    map[string]agi.Handler
	patterns []patternRoute
	notFound agi.Handler
	logger   *slog.Logger
}

type patternRoute struct {
	pattern string
	handler agi.Handler
}

// NewRouter creates a router whose default not-found behavior is to log the
// unknown script and hang the call up.
func NewRouter(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		exact:  make(map[string]agi.Handler),
		logger: logger.With("component", "router"),
	}
	r.notFound = agi.HandlerFunc(r.defaultNotFound)
	return r
}

// Handle registers a handler for a script value. Patterns containing glob
// metacharacters (*, ?, [, {) participate in pattern matching; everything
// else is an exact registration. Registering the same exact script twice
// replaces the earlier handler.
func (r *Router) Handle(pattern string, h agi.Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if isGlobPattern(pattern) {
		if !doublestar.ValidatePattern(pattern) {
			r.logger.Warn("invalid route pattern, registering anyway", "pattern", pattern)
		}
		r.patterns = append(r.patterns, patternRoute{pattern: pattern, handler: h})
		return
	}
	r.exact[pattern] = h
}

// HandleFunc registers a plain function for a script value.
func (r *Router) HandleFunc(pattern string, h func(ctx context.Context, sess *agi.Session)) {
	r.Handle(pattern, agi.HandlerFunc(h))
}

// NotFound replaces the default handler for unmatched scripts.
func (r *Router) NotFound(h agi.Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notFound = h
}

// Resolve returns the handler for a script value, falling back to the
// not-found handler.
func (r *Router) Resolve(script string) agi.Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if h, ok := r.exact[script]; ok {
		return h
	}
	for _, pr := range r.patterns {
		matched, err := doublestar.Match(pr.pattern, script)
		if err == nil && matched {
			return pr.handler
		}
	}
	return r.notFound
}

// ServeCall implements agi.Handler by dispatching on the session's
// agi_network_script variable.
func (r *Router) ServeCall(ctx context.Context, sess *agi.Session) {
	script, _ := sess.Variable("agi_network_script")
	r.Resolve(script).ServeCall(ctx, sess)
}

func (r *Router) defaultNotFound(ctx context.Context, sess *agi.Session) {
	script, _ := sess.Variable("agi_network_script")
	r.logger.Warn("no handler for script, hanging up",
		"script", script,
		"session_id", sess.ID())
	_, _ = sess.Hangup()
}

// isGlobPattern returns true if the pattern contains glob metacharacters.
func isGlobPattern(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[{")
}
