// ABOUTME: Call-control verbs built on Session.Execute
// ABOUTME: Each maps one convenience method to its AGI wire form

package agi

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// parenValue captures the value a GET FULL VARIABLE response carries inside
// parentheses. The span runs from the first opening to the last closing
// paren, so values containing parentheses of their own survive intact. This
// grammar belongs to that one command and is deliberately not generalized
// into Result.
var parenValue = regexp.MustCompile(`\((.*)\)`)

// Answer answers the channel.
func (s *Session) Answer() (*Result, error) {
	return s.Execute("ANSWER")
}

// Hangup hangs up the current channel, or a named one if given.
func (s *Session) Hangup(channel ...string) (*Result, error) {
	if len(channel) > 0 && channel[0] != "" {
		return s.Execute("HANGUP", channel[0])
	}
	return s.Execute("HANGUP")
}

// SetVariable sets a channel variable on the switch.
func (s *Session) SetVariable(name, value string) (*Result, error) {
	return s.Execute("SET VARIABLE", name, value)
}

// GetFullVariable fetches a channel variable with full expression expansion
// on the switch side. The name is wrapped in ${...} before it goes on the
// wire. ok is false when the switch reports no value, which it signals by
// omitting the parenthesized payload.
func (s *Session) GetFullVariable(name string) (value string, ok bool, err error) {
	res, err := s.Execute("GET FULL VARIABLE", "${"+name+"}")
	if err != nil {
		return "", false, err
	}
	if !res.OK() {
		return "", false, nil
	}
	value, ok = firstParenthesized(res.Extra)
	return value, ok, nil
}

func firstParenthesized(extra string) (string, bool) {
	m := parenValue.FindStringSubmatch(extra)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Dial originates a call through the Dial application and waits for it to
// wrap up. The round-trip allowance is the dial timeout plus the session's
// command timeout, so the protocol wait always outlives the telephony wait.
func (s *Session) Dial(dialString string, timeoutSec int, options []string) (*Result, error) {
	wait := time.Duration(timeoutSec)*time.Second + s.cfg.CommandTimeout
	args := []string{dialString, strconv.Itoa(timeoutSec), strings.Join(options, ",")}
	return s.execute(wait, "DIAL", args)
}

// Exec runs an arbitrary dialplan application, the pass-through for verbs
// the session has no dedicated method for.
func (s *Session) Exec(app string, args ...string) (*Result, error) {
	return s.Execute("EXEC", append([]string{app}, args...)...)
}

// StreamFile plays a sound file on the channel, interruptible by any of the
// given DTMF escape digits.
func (s *Session) StreamFile(file, escapeDigits string) (*Result, error) {
	return s.Execute("STREAM FILE", file, escapeDigits)
}

// SayDigits says a digit string on the channel.
func (s *Session) SayDigits(digits, escapeDigits string) (*Result, error) {
	return s.Execute("SAY DIGITS", digits, escapeDigits)
}

// WaitForDigit waits up to the given allowance for a single DTMF digit. The
// protocol wait is padded past the digit wait the same way Dial pads past
// the telephony wait.
func (s *Session) WaitForDigit(timeout time.Duration) (*Result, error) {
	ms := strconv.FormatInt(timeout.Milliseconds(), 10)
	return s.execute(timeout+s.cfg.CommandTimeout, "WAIT FOR DIGIT", []string{ms})
}

// Verbose logs a message on the switch console at the given level.
func (s *Session) Verbose(message string, level int) (*Result, error) {
	return s.Execute("VERBOSE", message, strconv.Itoa(level))
}
