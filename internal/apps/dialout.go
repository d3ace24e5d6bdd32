// ABOUTME: Dialout application: answers and bridges the caller to a dial string
// ABOUTME: The {ext} placeholder is filled from the script suffix or agi_extension

package apps

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/2389/agi-gateway/internal/agi"
)

const (
	// extPlaceholder marks where the requested extension lands in a target.
	extPlaceholder = "{ext}"

	defaultDialTimeoutSec = 30
)

// Dialout answers the call and dials the configured target. A {ext}
// placeholder in the target is replaced with the caller's requested
// extension: the final path segment of the network script when the route
// pattern leaves one, otherwise the agi_extension preamble variable. A
// target without the placeholder dials as-is.
func Dialout(target string, logger *slog.Logger) agi.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "app.dialout")

	return agi.HandlerFunc(func(ctx context.Context, sess *agi.Session) {
		dial, err := dialString(target, sess)
		if err != nil {
			log.Warn("cannot build dial string",
				"session_id", sess.ID(),
				"target", target,
				"error", err)
			_, _ = sess.Hangup()
			return
		}

		res, err := sess.Answer()
		if err != nil {
			log.Warn("answer failed", "session_id", sess.ID(), "error", err)
			return
		}
		if !res.OK() {
			log.Warn("answer refused", "session_id", sess.ID(), "status", res.Status)
			return
		}

		log.Info("dialing", "session_id", sess.ID(), "dial_string", dial)
		res, err = sess.Dial(dial, defaultDialTimeoutSec, nil)
		if err != nil {
			log.Warn("dial ended with error", "session_id", sess.ID(), "error", err)
			return
		}
		log.Info("dial finished", "session_id", sess.ID(), "status", res.Status)
	})
}

func dialString(target string, sess *agi.Session) (string, error) {
	if !strings.Contains(target, extPlaceholder) {
		return target, nil
	}
	ext := extension(sess)
	if ext == "" {
		return "", errors.New("no extension for placeholder")
	}
	return strings.ReplaceAll(target, extPlaceholder, ext), nil
}

// extension picks the dialed extension: the script's final path segment
// when one exists, otherwise the agi_extension preamble variable.
func extension(sess *agi.Session) string {
	script, _ := sess.Variable("agi_network_script")
	if i := strings.LastIndexByte(script, '/'); i >= 0 && i+1 < len(script) {
		return script[i+1:]
	}
	ext, _ := sess.Variable("agi_extension")
	return ext
}
