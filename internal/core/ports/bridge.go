// Package ports defines the interfaces the call orchestration core consumes.
package ports

import (
	"context"

	"github.com/tjfontaine/callbridge/internal/core/domain"
)

// Leg is one live analytics connection, bound to a (session, role) pair.
type Leg interface {
	// Role returns the leg's fixed role.
	Role() domain.Role

	// SendAudio transmits one mono PCM frame. It fails with domain.ErrConnectionClosed
	// once the leg is no longer streaming.
	SendAudio(mono []byte) error

	// Stop sends a best-effort stop notification to the backend.
	Stop() error

	// Close closes the transport. It is safe to call more than once.
	Close() error

	// Closed reports whether the leg has been closed.
	Closed() bool

	// Done is closed when the leg's connection ends.
	Done() <-chan struct{}
}

// CallControl is the telephony platform's call API.
type CallControl interface {
	CreateCall(ctx context.Context, req domain.CreateCallRequest) (*domain.Call, error)
	GetCall(ctx context.Context, id string) (*domain.Call, error)
}

// AnalyticsDialer opens analytics legs.
type AnalyticsDialer interface {
	Open(ctx context.Context, sessionID string, speaker domain.Speaker) (Leg, error)
}

// TokenSource issues bearer tokens for the analytics backend.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// AudioRelay attaches both legs of a session to a call's monitor stream.
type AudioRelay interface {
	Attach(ctx context.Context, sessionID, monitorURL string, customer, agent Leg) (RelayStream, error)
}

// RelayStream is one attached monitor connection.
type RelayStream interface {
	// Done is closed once the monitor stream has ended.
	Done() <-chan struct{}

	// Close disconnects from the monitor stream and waits for teardown.
	Close() error
}
