// Package store provides persistent storage for the gateway using SQLite.
//
// # Architecture
//
// The Store interface is the persistence boundary; SQLiteStore implements it
// on modernc.org/sqlite (pure Go, no cgo) with WAL journaling and the schema
// created on open.
//
// # Data Model
//
//   - CDR: one call detail record per finished AGI session, with start/end
//     times, duration, disposition, and the number of commands exchanged
//   - cdr_variables: the bootstrap preamble snapshot, one row per variable,
//     cascading with its record
//
// Dispositions are "completed" (handler ran to completion), "hangup" (the
// switch ended the call mid-session), and "failed" (the session never got
// past bootstrap or died on a transport error).
//
// # Usage
//
//	s, err := store.NewSQLiteStore("/var/lib/agi-gateway/cdr.db")
//	...
//	err = s.SaveCDR(ctx, cdr)
//	recent, err := s.ListCDRs(ctx, store.CDRFilter{Limit: 50})
//
// Timestamps are stored as UTC RFC 3339 strings; durations as integer
// milliseconds.
package store
