// Package call tracks the gateway's live AGI sessions.
//
// The Registry is the authoritative record of in-flight calls: the FastAGI
// server registers each accepted session and unregisters it at teardown. The
// Broadcaster fans call_started/call_ended events out to API subscribers so
// dashboards can follow the switch without polling.
//
// Both types are safe for concurrent use.
package call
