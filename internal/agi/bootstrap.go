// ABOUTME: Variable preamble reader for session bootstrap
// ABOUTME: Parses KEY: VALUE lines into the session variables map

package agi

import "strings"

// readVariables consumes the bootstrap preamble the switch sends before any
// command exchange: KEY: VALUE lines up to the terminator, which is any line
// shorter than two characters. Each line splits on its first colon with
// surrounding whitespace trimmed from both halves. End-of-stream or an
// in-band hangup before the terminator aborts the session; the partial map
// is discarded.
func readVariables(lr *lineReader) (map[string]string, error) {
	vars := make(map[string]string)
	for {
		line, err := lr.readLine()
		if err != nil {
			return nil, err
		}
		if len(line) < 2 {
			return vars, nil
		}
		key, value, _ := strings.Cut(line, ":")
		vars[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
}
