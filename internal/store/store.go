// ABOUTME: Store interface and data types for agi-gateway persistence
// ABOUTME: Defines the CDR struct and the Store interface for database operations

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Disposition constants describing how a call ended
const (
	DispositionCompleted = "completed" // handler finished and closed the session
	DispositionHangup    = "hangup"    // switch hung up or the transport hit EOF
	DispositionFailed    = "failed"    // bootstrap or transport failure
)

// CDR is the call detail record written when a session ends
type CDR struct {
	ID          string
	Channel     string
	CallerID    string
	Script      string
	RemoteAddr  string
	StartedAt   time.Time
	EndedAt     time.Time
	Duration    time.Duration
	Disposition string // "completed", "hangup", "failed"
	Commands    int    // commands written to the wire during the session

	// Variables is the bootstrap preamble snapshot, persisted alongside the
	// record. Nil when the session died before bootstrap completed.
	Variables map[string]string
}

// CDRFilter narrows ListCDRs. Zero values mean "no constraint" except Limit,
// which callers should always set.
type CDRFilter struct {
	Limit  int
	Since  time.Time
	Script string
}

// Store is the persistence boundary for call detail records
type Store interface {
	// CDRs
	SaveCDR(ctx context.Context, cdr *CDR) error
	GetCDR(ctx context.Context, id string) (*CDR, error)
	ListCDRs(ctx context.Context, filter CDRFilter) ([]*CDR, error)

	// Close releases any resources held by the store
	Close() error
}
