// Package runtime assembles the bridge from configuration and manages its
// lifecycle.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/tjfontaine/callbridge/internal/analytics"
	"github.com/tjfontaine/callbridge/internal/audio"
	"github.com/tjfontaine/callbridge/internal/config"
	"github.com/tjfontaine/callbridge/internal/core/ports"
	"github.com/tjfontaine/callbridge/internal/frontdoor"
	"github.com/tjfontaine/callbridge/internal/orchestrator"
	"github.com/tjfontaine/callbridge/internal/registry"
	"github.com/tjfontaine/callbridge/internal/relay"
	"github.com/tjfontaine/callbridge/internal/server"
	"github.com/tjfontaine/callbridge/internal/storage"
	"github.com/tjfontaine/callbridge/internal/telemetry"
	"github.com/tjfontaine/callbridge/internal/telephony"
)

// Bridge wires the telephony client, analytics dialer, relay and
// orchestrator behind the HTTP front door.
type Bridge struct {
	cfg        *config.Config
	configPath string
	logger     *slog.Logger
	level      *slog.LevelVar

	store     ports.SessionStore
	calls     ports.CallControl
	analytics ports.AnalyticsDialer
	relay     ports.AudioRelay
	orch      *orchestrator.Orchestrator

	server         *server.Server
	listener       net.Listener
	served         chan error
	shutdownTracer telemetry.ShutdownFunc

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
}

// New builds a Bridge. Components not supplied through options are created
// from the configuration.
func New(opts ...Option) (*Bridge, error) {
	b := &Bridge{logger: slog.Default()}
	for _, opt := range opts {
		if err := opt(b); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("config required (use WithConfigFile or WithConfig)")
	}

	layout, err := audio.ParseChannelLayout(b.cfg.Relay.ChannelLayout)
	if err != nil {
		return nil, err
	}

	if b.store == nil {
		b.store, err = storage.Open(b.cfg.Storage.Type, b.cfg.Storage.Path)
		if err != nil {
			return nil, fmt.Errorf("open session store: %w", err)
		}
		if b.store == nil {
			b.logger.Info("session persistence disabled")
		}
	}

	if b.calls == nil {
		b.calls = telephony.NewClient(b.cfg.Telephony.Token,
			telephony.WithBaseURL(b.cfg.Telephony.BaseURL))
	}

	if b.analytics == nil {
		tokens := analytics.NewAppTokenSource(b.cfg.Analytics.AppID, b.cfg.Analytics.AppSecret,
			analytics.WithTokenURL(b.cfg.Analytics.TokenURL))
		b.analytics = analytics.NewDialer(tokens,
			analytics.WithStreamURL(b.cfg.Analytics.StreamURL),
			analytics.WithRTAID(b.cfg.Analytics.RTAID),
			analytics.WithAssistants(b.cfg.Analytics.Assistants...),
			analytics.WithLogger(b.logger.With(slog.String("component", "analytics"))))
	}

	if b.relay == nil {
		b.relay = relay.New(
			relay.WithRetries(b.cfg.Relay.Retries),
			relay.WithRetryDelay(b.cfg.Relay.RetryDelay),
			relay.WithQueueSize(b.cfg.Relay.QueueSize),
			relay.WithStallTimeout(b.cfg.Relay.StallTimeout),
			relay.WithProgressEvery(b.cfg.Relay.ProgressEvery),
			relay.WithLayout(layout),
			relay.WithInsecureSkipVerify(b.cfg.Relay.InsecureSkipVerify),
			relay.WithPrivateAddressGuard(b.cfg.Relay.BlockPrivateAddresses),
			relay.WithLogger(b.logger.With(slog.String("component", "relay"))),
		).Port()
	}

	reg := registry.New(
		registry.WithOnCreate(func(id string) {
			b.logger.Debug("session registered", slog.String("session_id", id))
		}),
		registry.WithOnRemove(func(e registry.Entry) {
			b.logger.Debug("session removed",
				slog.String("session_id", e.SessionID),
				slog.Duration("age", time.Since(e.CreatedAt)))
		}),
	)

	orchOpts := []orchestrator.Option{
		orchestrator.WithRegistry(reg),
		orchestrator.WithLogger(b.logger.With(slog.String("component", "orchestrator"))),
	}
	if b.store != nil {
		orchOpts = append(orchOpts, orchestrator.WithStore(b.store))
	}
	b.orch = orchestrator.New(orchestrator.Config{
		AssistantID:       b.cfg.Telephony.AssistantID,
		PhoneNumberID:     b.cfg.Telephony.PhoneNumberID,
		AgentName:         b.cfg.Analytics.AgentName,
		PollInterval:      b.cfg.Orchestrator.PollInterval,
		PollTimeout:       b.cfg.Orchestrator.PollTimeout,
		ObservationWindow: b.cfg.Orchestrator.ObservationWindow,
		StopGrace:         b.cfg.Orchestrator.StopGrace,
	}, b.calls, b.analytics, b.relay, orchOpts...)

	return b, nil
}

// Orchestrator returns the call orchestrator, for callers that bypass HTTP.
func (b *Bridge) Orchestrator() *orchestrator.Orchestrator {
	return b.orch
}

// Start begins serving HTTP. It returns once the listener is bound.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.ctx, b.cancel = context.WithCancel(ctx)

	b.shutdownTracer = telemetry.Noop
	if b.cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer(b.cfg.Telemetry.ServiceName, nil, b.logger)
		if err != nil {
			return fmt.Errorf("init tracer: %w", err)
		}
		b.shutdownTracer = shutdown
	}

	b.server = server.New(b.cfg.Server.Port, b.logger,
		server.WithRequestTimeout(b.cfg.Server.RequestTimeout),
		server.WithOperationName(b.cfg.Telemetry.ServiceName),
		server.WithBaseContext(b.ctx))
	frontdoor.NewHandler(b.orch, b.logger).Routes(b.server.Router)

	ln, err := net.Listen("tcp", b.server.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", b.server.Addr(), err)
	}
	b.listener = ln
	b.served = make(chan error, 1)
	go func() {
		b.served <- b.server.Serve(ln)
	}()

	if b.configPath != "" && b.level != nil {
		if err := config.Watch(b.ctx, b.configPath, b.logger, b.applyReload); err != nil {
			b.logger.Warn("config watch unavailable", slog.String("error", err.Error()))
		}
	}

	b.logger.Info("bridge started",
		slog.String("addr", ln.Addr().String()),
		slog.String("storage", b.cfg.Storage.Type),
		slog.Duration("observation_window", b.cfg.Orchestrator.ObservationWindow))
	return nil
}

// Addr returns the bound listen address, or "" before Start.
func (b *Bridge) Addr() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listener == nil {
		return ""
	}
	return b.listener.Addr().String()
}

// Wait blocks until the HTTP server stops.
func (b *Bridge) Wait() error {
	b.mu.Lock()
	served := b.served
	b.mu.Unlock()
	if served == nil {
		return nil
	}
	return <-served
}

func (b *Bridge) applyReload(cfg *config.Config) {
	if err := telemetry.SetLevel(b.level, cfg.Log.Level); err != nil {
		b.logger.Warn("ignoring reloaded log level", slog.String("error", err.Error()))
		return
	}
	b.logger.Info("log level updated", slog.String("level", b.level.Level().String()))
}

// Shutdown stops the HTTP server and waits for in-flight calls until ctx is
// done. Calls still running after that are cancelled, which stops their
// analytics legs. The store is closed and traces flushed last.
func (b *Bridge) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.logger.Info("shutting down bridge")

	var errs []error
	if b.server != nil {
		if err := b.server.Shutdown(ctx); err != nil {
			b.logger.Error("failed to shutdown server", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if b.cancel != nil {
		b.cancel()
	}

	if b.store != nil {
		if err := b.store.Close(); err != nil {
			b.logger.Error("failed to close storage", slog.String("error", err.Error()))
		}
	}

	if b.shutdownTracer != nil {
		if err := b.shutdownTracer(ctx); err != nil {
			b.logger.Error("failed to flush traces", slog.String("error", err.Error()))
		}
	}

	b.logger.Info("bridge shutdown complete")
	return errors.Join(errs...)
}
