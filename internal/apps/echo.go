// ABOUTME: Echo application: answers and runs the switch's Echo dialplan app
// ABOUTME: Useful as a media loopback smoke test for new deployments

package apps

import (
	"context"
	"log/slog"

	"github.com/2389/agi-gateway/internal/agi"
)

// Echo answers the call and hands the channel to the Echo dialplan
// application, which plays the caller's audio back until they hang up.
func Echo(logger *slog.Logger) agi.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "app.echo")

	return agi.HandlerFunc(func(ctx context.Context, sess *agi.Session) {
		res, err := sess.Answer()
		if err != nil {
			log.Warn("answer failed", "session_id", sess.ID(), "error", err)
			return
		}
		if !res.OK() {
			log.Warn("answer refused", "session_id", sess.ID(), "status", res.Status)
			return
		}

		if _, err := sess.Exec("Echo"); err != nil {
			log.Warn("echo ended with error", "session_id", sess.ID(), "error", err)
		}
	})
}
