package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tjfontaine/callbridge/internal/core/domain"
	"github.com/tjfontaine/callbridge/internal/core/ports"
)

var _ ports.SessionStore = (*Store)(nil)

// Store is an in-memory implementation of SessionStore
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
}

// New creates a new in-memory store
func New() *Store {
	return &Store{
		sessions: make(map[string]*domain.Session),
	}
}

func (s *Store) CreateSession(ctx context.Context, sess *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[sess.ID]; exists {
		return domain.Errorf(domain.ErrorKindDuplicateSession, "session %s already exists", sess.ID)
	}

	now := time.Now().UTC()
	sess.CreatedAt = now
	sess.UpdatedAt = now
	if sess.Status == "" {
		sess.Status = domain.SessionStatusPending
	}

	stored := *sess
	s.sessions[sess.ID] = &stored
	return nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, exists := s.sessions[id]
	if !exists {
		return nil, domain.Errorf(domain.ErrorKindSessionNotFound, "session %s not found", id)
	}

	out := *sess
	return &out, nil
}

func (s *Store) UpdateSession(ctx context.Context, id string, update ports.SessionUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, exists := s.sessions[id]
	if !exists {
		return domain.Errorf(domain.ErrorKindSessionNotFound, "session %s not found", id)
	}

	if update.Status != "" {
		sess.Status = update.Status
	}
	if update.CallID != "" {
		sess.CallID = update.CallID
	}
	if update.Error != "" {
		sess.Error = update.Error
	}
	sess.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) ListSessions(ctx context.Context, opts ports.ListOptions) ([]*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Session
	for _, sess := range s.sessions {
		if opts.Status != "" && sess.Status != opts.Status {
			continue
		}
		out := *sess
		result = append(result, &out)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	// Simple pagination
	start := opts.Offset
	if start >= len(result) {
		return []*domain.Session{}, nil
	}

	end := start + opts.Limit
	if opts.Limit == 0 || end > len(result) {
		end = len(result)
	}

	return result[start:end], nil
}

func (s *Store) Close() error {
	return nil
}
