// ABOUTME: Binds named built-in applications to router scripts from config
// ABOUTME: Unknown apps and missing targets fail at bind time, not at call time

package apps

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/2389/agi-gateway/internal/agi"
	"github.com/2389/agi-gateway/internal/config"
	"github.com/2389/agi-gateway/internal/fastagi"
)

// ErrUnknownApp is returned when a route names an application this build
// does not provide.
var ErrUnknownApp = errors.New("unknown application")

// New returns the named built-in application handler.
func New(name, target string, logger *slog.Logger) (agi.Handler, error) {
	switch name {
	case "echo":
		return Echo(logger), nil
	case "dialout":
		if target == "" {
			return nil, errors.New("dialout requires a target")
		}
		return Dialout(target, logger), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownApp, name)
	}
}

// Bind resolves each configured route and attaches it to the router.
func Bind(router *fastagi.Router, routes []config.RouteConfig, logger *slog.Logger) error {
	for _, rc := range routes {
		h, err := New(rc.App, rc.Target, logger)
		if err != nil {
			return fmt.Errorf("route %q: %w", rc.Script, err)
		}
		router.Handle(rc.Script, h)
	}
	return nil
}
