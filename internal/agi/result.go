// ABOUTME: Result value decoded from a single AGI response line
// ABOUTME: Carries the leading status token and the uninterpreted remainder

package agi

// StatusSuccess is the AGI status code for a command the switch executed.
const StatusSuccess = "200"

// Result is the decoded form of one response line: the leading status token
// and whatever free-form payload followed it. The payload stays verbatim,
// result codes and values included; individual commands layer their own
// decoding on top.
type Result struct {
	Status string
	Extra  string
}

// OK reports whether the status token is the AGI success code.
func (r *Result) OK() bool {
	return r.Status == StatusSuccess
}
