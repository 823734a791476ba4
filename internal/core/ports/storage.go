package ports

import (
	"context"

	"github.com/tjfontaine/callbridge/internal/core/domain"
)

// SessionStore persists session lifecycle records. Transcripts and insights are
// never stored; they only flow to the log.
type SessionStore interface {
	// CreateSession records a new pending session
	CreateSession(ctx context.Context, sess *domain.Session) error

	// GetSession retrieves a session by ID
	GetSession(ctx context.Context, id string) (*domain.Session, error)

	// UpdateSession applies a status transition and optional call id / error message
	UpdateSession(ctx context.Context, id string, update SessionUpdate) error

	// ListSessions lists the most recent sessions first
	ListSessions(ctx context.Context, opts ListOptions) ([]*domain.Session, error)

	// Close closes the storage connection
	Close() error
}

// SessionUpdate describes a session status transition. Empty fields are left unchanged.
type SessionUpdate struct {
	Status domain.SessionStatus
	CallID string
	Error  string
}

// ListOptions contains pagination options
type ListOptions struct {
	Status domain.SessionStatus
	Limit  int
	Offset int
}
