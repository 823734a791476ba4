// Package relay reads a call's stereo monitor stream and fans each channel
// out to its analytics leg.
package relay

import (
	"context"
	"crypto/tls"
	"log/slog"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tjfontaine/callbridge/internal/audio"
	"github.com/tjfontaine/callbridge/internal/core/domain"
	"github.com/tjfontaine/callbridge/internal/core/ports"
	"github.com/tjfontaine/callbridge/internal/pkg/safehttp"
)

const (
	DefaultRetries       = 3
	DefaultRetryDelay    = 2 * time.Second
	DefaultQueueSize     = 256
	DefaultStallTimeout  = 5 * time.Second
	DefaultProgressEvery = 100
)

// Option configures a Relay.
type Option func(*Relay)

// WithRetries sets how many times a failed monitor connection is retried.
func WithRetries(n int) Option {
	return func(r *Relay) {
		if n >= 0 {
			r.retries = n
		}
	}
}

// WithRetryDelay sets the fixed delay between connection attempts.
func WithRetryDelay(d time.Duration) Option {
	return func(r *Relay) {
		if d >= 0 {
			r.retryDelay = d
		}
	}
}

// WithLayout sets which stereo channel carries the customer.
func WithLayout(l audio.ChannelLayout) Option {
	return func(r *Relay) {
		r.layout = l
	}
}

// WithQueueSize bounds the number of chunks buffered per leg.
func WithQueueSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.queueSize = n
		}
	}
}

// WithStallTimeout sets how long a leg's send may be in flight before the
// leg counts as stalled. A full queue holds the stream back for a healthy
// leg and drops chunks only for a stalled one.
func WithStallTimeout(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.stallTimeout = d
		}
	}
}

// WithProgressEvery logs progress after every n chunks. Zero disables it.
func WithProgressEvery(n int) Option {
	return func(r *Relay) {
		if n >= 0 {
			r.progressEvery = n
		}
	}
}

// WithInsecureSkipVerify disables TLS certificate checks on the monitor stream.
func WithInsecureSkipVerify(skip bool) Option {
	return func(r *Relay) {
		r.insecure = skip
	}
}

// WithPrivateAddressGuard refuses monitor URLs that resolve to loopback,
// private or link-local addresses.
func WithPrivateAddressGuard(on bool) Option {
	return func(r *Relay) {
		r.guard = on
	}
}

// WithDialer replaces the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(r *Relay) {
		if d != nil {
			r.dialer = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// Relay attaches analytics legs to monitor streams.
type Relay struct {
	retries       int
	retryDelay    time.Duration
	layout        audio.ChannelLayout
	queueSize     int
	stallTimeout  time.Duration
	progressEvery int
	insecure      bool
	guard         bool
	dialer        *websocket.Dialer
	logger        *slog.Logger
}

// New creates a Relay.
func New(opts ...Option) *Relay {
	r := &Relay{
		retries:       DefaultRetries,
		retryDelay:    DefaultRetryDelay,
		layout:        audio.CustomerLeft,
		queueSize:     DefaultQueueSize,
		stallTimeout:  DefaultStallTimeout,
		progressEvery: DefaultProgressEvery,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.dialer == nil {
		r.dialer = &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: websocket.DefaultDialer.HandshakeTimeout,
		}
	}
	if r.insecure || r.guard {
		d := *r.dialer
		if r.insecure {
			d.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
		}
		if r.guard {
			d.NetDialContext = safehttp.DialContext
		}
		r.dialer = &d
	}
	return r
}

// Attach connects to monitorURL and starts forwarding audio. Either leg may
// be nil, in which case its channel is discarded.
func (r *Relay) Attach(ctx context.Context, sessionID, monitorURL string, customer, agent ports.Leg) (*Stream, error) {
	logger := r.logger.With(slog.String("session_id", sessionID))

	ws, err := r.connect(ctx, monitorURL, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("connected to monitor stream", slog.String("url", redact(monitorURL)))

	s := newStream(ws, r.layout, r.progressEvery, logger)
	s.customer = newForwarder(domain.RoleCustomer, customer, r.queueSize, r.stallTimeout, logger)
	s.agent = newForwarder(domain.RoleAgent, agent, r.queueSize, r.stallTimeout, logger)
	s.start()
	return s, nil
}

func (r *Relay) connect(ctx context.Context, monitorURL string, logger *slog.Logger) (*websocket.Conn, error) {
	attempts := r.retries + 1
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			logger.Info("retrying monitor connection",
				slog.Duration("delay", r.retryDelay),
				slog.Int("retries_left", attempts-attempt+1))

			timer := time.NewTimer(r.retryDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, domain.NewError(domain.ErrorKindRelayConnect, "monitor connection cancelled").WithCause(ctx.Err())
			case <-timer.C:
			}
		}

		ws, resp, err := r.dialer.DialContext(ctx, monitorURL, nil)
		if err == nil {
			return ws, nil
		}
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		lastErr = err
		logger.Warn("failed to connect to monitor stream",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))
	}

	return nil, domain.Errorf(domain.ErrorKindRelayConnect,
		"failed to connect to monitor stream after %d attempts", attempts).WithCause(lastErr)
}

// redact strips the query string, which may carry credentials.
func redact(raw string) string {
	base, _, _ := strings.Cut(raw, "?")
	return base
}

// Port adapts r to ports.AudioRelay.
func (r *Relay) Port() ports.AudioRelay {
	return relayPort{r}
}

type relayPort struct {
	r *Relay
}

func (p relayPort) Attach(ctx context.Context, sessionID, monitorURL string, customer, agent ports.Leg) (ports.RelayStream, error) {
	s, err := p.r.Attach(ctx, sessionID, monitorURL, customer, agent)
	if err != nil {
		return nil, err
	}
	return s, nil
}
