// Package agi implements the Asterisk Gateway Interface protocol engine.
//
// # Overview
//
// AGI is a line-oriented, synchronous request/response protocol spoken over
// any duplex byte stream. Asterisk opens the conversation with a variable
// preamble, then the application drives: it writes one command line, the
// switch answers with one response line, and nothing else moves on the wire
// in between. This package owns that conversation; transports (TCP for
// FastAGI, pipes for process AGI, in-memory for tests) stay outside.
//
// # Session Lifecycle
//
// A Session moves through four states:
//
//	Initializing -> Bootstrapping -> Ready -> Terminated
//
// Run drives the whole lifecycle:
//
//	sess := agi.NewSession(agi.SessionConfig{
//	    Reader: conn,
//	    Writer: conn,
//	    Close:  conn.Close,
//	    Logger: logger,
//	})
//	err := sess.Run(ctx, handler)
//
//  1. The Init hook runs once. A failure is fatal and the handler is never
//     invoked.
//  2. Bootstrap reads KEY: VALUE lines into the variables map until the
//     terminator (any line shorter than two characters).
//  3. The handler runs with the session as its command handle.
//  4. Teardown runs the Close hook exactly once, whatever the trigger:
//     transport EOF, in-band HANGUP line, context cancellation, or Close.
//
// # Command Execution
//
// Execute serializes a command, writes it, and blocks for the response:
//
//	res, err := sess.Execute("SET VARIABLE", "caller", "alice")
//
// Every token goes on the wire double-quoted with a trailing space:
//
//	"SET VARIABLE" "caller" "alice"
//
// At most one command is in flight per session. A single actor goroutine
// owns the transport and processes requests in arrival order; concurrent
// callers queue. Each request carries its own reply handle, so a response
// arriving after its caller timed out is discarded with the abandoned
// request instead of being delivered to whatever command comes next.
//
// # Termination
//
// A response line beginning with HANGUP and a transport EOF mean the same
// thing: the call is over. The session transitions to Terminated, the Close
// hook runs, and queued or future Execute calls fail with ErrSessionClosed.
// No command is ever written after either signal has been observed.
//
// # Thread Safety
//
// All exported methods on Session are safe for concurrent use. The handler
// may hand the session to as many goroutines as it likes; the actor
// serializes them onto the wire.
package agi
