// Package registry tracks the live analytics legs of every bridged call.
package registry

import (
	"slices"
	"sync"
	"time"

	"github.com/tjfontaine/callbridge/internal/core/domain"
	"github.com/tjfontaine/callbridge/internal/core/ports"
)

// Entry holds the legs of one session. Either leg may be nil while the session
// is being set up; both are set before the relay starts.
type Entry struct {
	SessionID string
	Agent     ports.Leg
	Customer  ports.Leg
	CreatedAt time.Time
}

// Leg returns the leg registered for role.
func (e Entry) Leg(role domain.Role) ports.Leg {
	switch role {
	case domain.RoleAgent:
		return e.Agent
	case domain.RoleCustomer:
		return e.Customer
	}
	return nil
}

// Ready reports whether both legs are registered.
func (e Entry) Ready() bool {
	return e.Agent != nil && e.Customer != nil
}

// Option configures a Registry.
type Option func(*Registry)

// WithOnCreate registers a hook run after an entry is inserted.
func WithOnCreate(fn func(sessionID string)) Option {
	return func(r *Registry) {
		r.onCreate = append(r.onCreate, fn)
	}
}

// WithOnRemove registers a hook run after an entry is evicted.
func WithOnRemove(fn func(entry Entry)) Option {
	return func(r *Registry) {
		r.onRemove = append(r.onRemove, fn)
	}
}

// Registry maps session ids to their legs. Entries are removed by the caller
// when the call ends; there is no expiry.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry

	onCreate []func(string)
	onRemove []func(Entry)
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		entries: make(map[string]*Entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create inserts an empty entry for sessionID.
func (r *Registry) Create(sessionID string) error {
	r.mu.Lock()
	if _, exists := r.entries[sessionID]; exists {
		r.mu.Unlock()
		return domain.Errorf(domain.ErrorKindDuplicateSession, "session %s already exists", sessionID)
	}
	r.entries[sessionID] = &Entry{SessionID: sessionID, CreatedAt: time.Now()}
	r.mu.Unlock()

	for _, fn := range r.onCreate {
		fn(sessionID)
	}
	return nil
}

// SetConnection assigns the leg for role. Assigning the same leg twice is a
// no-op. A role whose current leg is still open cannot be reassigned.
func (r *Registry) SetConnection(sessionID string, role domain.Role, leg ports.Leg) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.entries[sessionID]
	if !exists {
		return domain.Errorf(domain.ErrorKindSessionNotFound, "session %s not found", sessionID)
	}

	var slot *ports.Leg
	switch role {
	case domain.RoleAgent:
		slot = &e.Agent
	case domain.RoleCustomer:
		slot = &e.Customer
	default:
		return domain.Errorf(domain.ErrorKindInvalidInput, "unknown role %q", role)
	}

	if current := *slot; current != nil && current != leg && !current.Closed() {
		return domain.Errorf(domain.ErrorKindDuplicateConnection,
			"session %s already has a live %s connection", sessionID, role)
	}
	*slot = leg
	return nil
}

// Get returns a copy of the entry for sessionID.
func (r *Registry) Get(sessionID string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.entries[sessionID]
	if !exists {
		return Entry{}, false
	}
	return *e, true
}

// Remove evicts the entry for sessionID and returns it. Removing an unknown
// session is a no-op.
func (r *Registry) Remove(sessionID string) (Entry, bool) {
	r.mu.Lock()
	e, exists := r.entries[sessionID]
	if exists {
		delete(r.entries, sessionID)
	}
	r.mu.Unlock()

	if !exists {
		return Entry{}, false
	}
	for _, fn := range r.onRemove {
		fn(*e)
	}
	return *e, true
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// IDs returns the live session ids, oldest first.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	entries := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	slices.SortFunc(entries, func(a, b *Entry) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.SessionID
	}
	return ids
}
