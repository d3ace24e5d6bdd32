// ABOUTME: Tracks live AGI sessions, handles registration and lookup
// ABOUTME: Central record of which calls are on the wire right now

package call

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/2389/agi-gateway/internal/agi"
)

// ErrCallAlreadyRegistered indicates a call with the same ID is already live.
var ErrCallAlreadyRegistered = errors.New("call already registered")

// ErrCallNotFound indicates the specified call was not found.
var ErrCallNotFound = errors.New("call not found")

// Call is the live record of one in-flight AGI session.
type Call struct {
	ID         string
	Channel    string
	CallerID   string
	Script     string
	RemoteAddr string
	StartedAt  time.Time

	Session *agi.Session
}

// Info is the JSON-ready snapshot of a call for the API and the event feed.
type Info struct {
	ID         string    `json:"id"`
	Channel    string    `json:"channel,omitempty"`
	CallerID   string    `json:"caller_id,omitempty"`
	Script     string    `json:"script,omitempty"`
	RemoteAddr string    `json:"remote_addr,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	State      string    `json:"state"`
	Commands   int       `json:"commands"`
}

// Info snapshots the call's current state.
func (c *Call) Info() Info {
	info := Info{
		ID:         c.ID,
		Channel:    c.Channel,
		CallerID:   c.CallerID,
		Script:     c.Script,
		RemoteAddr: c.RemoteAddr,
		StartedAt:  c.StartedAt,
	}
	if c.Session != nil {
		info.State = c.Session.State().String()
		info.Commands = c.Session.CommandCount()
	}
	return info
}

// Registry coordinates all live calls.
type Registry struct {
	calls  map[string]*Call
	mu     sync.RWMutex
	logger *slog.Logger
}

// NewRegistry creates a new Registry instance.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		calls:  make(map[string]*Call),
		logger: logger,
	}
}

// Register adds a live call to the registry.
// Returns ErrCallAlreadyRegistered if a call with the same ID exists.
func (r *Registry) Register(c *Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.calls[c.ID]; exists {
		return ErrCallAlreadyRegistered
	}

	r.calls[c.ID] = c
	r.logger.Info("=== CALL CONNECTED ===",
		"call_id", c.ID,
		"channel", c.Channel,
		"script", c.Script,
		"remote_addr", c.RemoteAddr,
		"total_calls", len(r.calls),
	)
	return nil
}

// Unregister removes a call from the registry.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, exists := r.calls[id]; exists {
		delete(r.calls, id)
		r.logger.Info("=== CALL ENDED ===",
			"call_id", id,
			"channel", c.Channel,
			"duration", time.Since(c.StartedAt).Round(time.Millisecond),
			"total_calls", len(r.calls),
		)
	}
}

// Get returns a live call by ID.
func (r *Registry) Get(id string) (*Call, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.calls[id]
	return c, ok
}

// List returns snapshots of all live calls, oldest first.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.calls))
	for _, c := range r.calls {
		infos = append(infos, c.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].StartedAt.Equal(infos[j].StartedAt) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].StartedAt.Before(infos[j].StartedAt)
	})
	return infos
}

// Count returns the number of live calls.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.calls)
}
