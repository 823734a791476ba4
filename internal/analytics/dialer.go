// Package analytics connects call legs to the real-time conversational
// analytics backend. Each leg is its own websocket, authenticated with a
// freshly issued application token.
package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tjfontaine/callbridge/internal/audio"
	"github.com/tjfontaine/callbridge/internal/core/domain"
	"github.com/tjfontaine/callbridge/internal/core/ports"
)

const (
	defaultStreamURL        = "wss://api.symbl.ai/v1/realtime/assist"
	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 5 * time.Second
)

// DefaultAssistants is the assistant set requested when none is configured.
var DefaultAssistants = []string{"objection-handling"}

var _ ports.AnalyticsDialer = (*Dialer)(nil)

// Option configures a Dialer.
type Option func(*Dialer)

// WithStreamURL sets the websocket base URL. The RTA id is appended as a path segment.
func WithStreamURL(u string) Option {
	return func(d *Dialer) {
		if u != "" {
			d.streamURL = strings.TrimSuffix(u, "/")
		}
	}
}

// WithRTAID sets the real-time assist configuration id.
func WithRTAID(id string) Option {
	return func(d *Dialer) {
		d.rtaID = id
	}
}

// WithAssistants overrides the assistants requested in the start message.
func WithAssistants(names ...string) Option {
	return func(d *Dialer) {
		if len(names) > 0 {
			d.assistants = names
		}
	}
}

// WithFormat sets the audio format announced to the backend.
func WithFormat(f audio.Format) Option {
	return func(d *Dialer) {
		d.format = f
	}
}

// WithWebsocketDialer replaces the underlying websocket dialer.
func WithWebsocketDialer(ws *websocket.Dialer) Option {
	return func(d *Dialer) {
		if ws != nil {
			d.ws = ws
		}
	}
}

// WithWriteTimeout bounds each websocket write.
func WithWriteTimeout(timeout time.Duration) Option {
	return func(d *Dialer) {
		d.writeTimeout = timeout
	}
}

// WithEventHandler sets the handler that receives inbound events.
func WithEventHandler(h EventHandler) Option {
	return func(d *Dialer) {
		d.handler = h
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dialer) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// Dialer opens analytics legs.
type Dialer struct {
	tokens       ports.TokenSource
	streamURL    string
	rtaID        string
	assistants   []string
	format       audio.Format
	ws           *websocket.Dialer
	writeTimeout time.Duration
	handler      EventHandler
	logger       *slog.Logger
}

// NewDialer creates a Dialer that authenticates every leg through tokens.
func NewDialer(tokens ports.TokenSource, opts ...Option) *Dialer {
	d := &Dialer{
		tokens:       tokens,
		streamURL:    defaultStreamURL,
		assistants:   DefaultAssistants,
		format:       audio.Linear16Mono16K,
		ws:           &websocket.Dialer{HandshakeTimeout: defaultHandshakeTimeout},
		writeTimeout: defaultWriteTimeout,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.handler == nil {
		d.handler = LogEvents(d.logger)
	}
	return d
}

// Open satisfies ports.AnalyticsDialer.
func (d *Dialer) Open(ctx context.Context, sessionID string, speaker domain.Speaker) (ports.Leg, error) {
	c, err := d.Dial(ctx, sessionID, speaker)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Dial authenticates, connects and sends the start request for one leg.
// It returns once the start request is written; the backend's acknowledgment
// is not awaited.
func (d *Dialer) Dial(ctx context.Context, sessionID string, speaker domain.Speaker) (*Conn, error) {
	if !speaker.Role.Valid() {
		return nil, domain.Errorf(domain.ErrorKindInvalidInput, "invalid speaker role %q", speaker.Role)
	}
	if sessionID == "" {
		return nil, domain.NewError(domain.ErrorKindInvalidInput, "session id is required")
	}

	c := newConn(sessionID, speaker, d.writeTimeout, d.handler, d.logger)

	c.setState(StateAuthenticating)
	token, err := d.tokens.Token(ctx)
	if err != nil {
		c.setState(StateDisconnected)
		return nil, fmt.Errorf("authenticate %s leg: %w", speaker.Role, err)
	}

	c.setState(StateConnecting)
	target := d.endpoint(token)
	ws, resp, err := d.ws.DialContext(ctx, target, nil)
	if err != nil {
		c.setState(StateDisconnected)
		e := domain.Errorf(domain.ErrorKindConnect, "dial %s leg", speaker.Role).WithCause(err)
		if resp != nil {
			e = e.WithStatusCode(resp.StatusCode)
		}
		return nil, e
	}
	c.ws = ws

	c.setState(StateHandshaking)
	start := newStartRequest(sessionID, d.rtaID, d.assistants, speaker, d.format)
	if err := c.writeJSON(start); err != nil {
		c.Close()
		return nil, domain.Errorf(domain.ErrorKindConnect, "send start request for %s leg", speaker.Role).WithCause(err)
	}

	c.setState(StateStreaming)
	go c.readLoop()

	c.logger.Info("analytics leg connected", slog.String("speaker", speaker.Name))
	return c, nil
}

func (d *Dialer) endpoint(token string) string {
	u := d.streamURL
	if d.rtaID != "" {
		u += "/" + url.PathEscape(d.rtaID)
	}
	return u + "?access_token=" + url.QueryEscape(token)
}
