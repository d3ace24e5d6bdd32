// ABOUTME: Line-level codec for the AGI wire protocol
// ABOUTME: Serializes command lines and splits response lines; no semantic validation

package agi

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// ErrHangup reports an in-band HANGUP line from the switch. It is handled
// exactly like a transport end-of-stream: the session is gone.
var ErrHangup = errors.New("agi: channel hangup")

// hangupToken is the literal prefix Asterisk emits in-band when the channel
// hangs up mid-session.
const hangupToken = "HANGUP"

// serializeCommand renders one outbound command line: every token, command
// first, wrapped in double quotes with a trailing space. Quote characters
// inside arguments are not escaped; that is an accepted limitation of the
// wire format, not something to sanitize here. The trailing newline is the
// writer's job.
func serializeCommand(name string, args []string) string {
	var b strings.Builder
	n := len(name) + 3
	for _, a := range args {
		n += len(a) + 3
	}
	b.Grow(n)

	b.WriteByte('"')
	b.WriteString(name)
	b.WriteString(`" `)
	for _, a := range args {
		b.WriteByte('"')
		b.WriteString(a)
		b.WriteString(`" `)
	}
	return b.String()
}

// parseResponseLine splits a response line into its leading status token and
// the free-form remainder. The remainder is kept verbatim; command-specific
// decoding is the caller's business.
func parseResponseLine(line string) Result {
	status, extra, _ := strings.Cut(line, " ")
	return Result{Status: status, Extra: extra}
}

// lineReader reads newline-terminated protocol lines from the transport.
type lineReader struct {
	r *bufio.Reader
}

func newLineReader(r io.Reader) *lineReader {
	return &lineReader{r: bufio.NewReader(r)}
}

// readLine returns the next line with its final newline stripped. A line
// beginning with the HANGUP token is reported as ErrHangup, equivalent to
// end-of-stream. A final unterminated line before EOF is still delivered;
// the EOF surfaces on the following call.
func (lr *lineReader) readLine() (string, error) {
	line, err := lr.r.ReadString('\n')
	if err != nil {
		if err != io.EOF || line == "" {
			return "", err
		}
	}
	line = strings.TrimSuffix(line, "\n")
	if strings.HasPrefix(line, hangupToken) {
		return "", ErrHangup
	}
	return line, nil
}
