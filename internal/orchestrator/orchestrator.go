// Package orchestrator runs the lifecycle of one bridged call: place it,
// open both analytics legs, wait for it to connect, relay its audio for the
// observation window, and tear everything down.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/tjfontaine/callbridge/internal/core/domain"
	"github.com/tjfontaine/callbridge/internal/core/ports"
	"github.com/tjfontaine/callbridge/internal/registry"
)

const (
	DefaultPollInterval      = 100 * time.Millisecond
	DefaultPollTimeout       = 2 * time.Minute
	DefaultObservationWindow = 10 * time.Minute
	DefaultStopGrace         = 5 * time.Second
	DefaultAgentName         = "Ava"
)

// Config holds the per-deployment call settings.
type Config struct {
	AssistantID   string
	PhoneNumberID string
	AgentName     string

	PollInterval      time.Duration
	PollTimeout       time.Duration
	ObservationWindow time.Duration
	// StopGrace is how long teardown waits for the backend to finish each leg
	// after the stop request before closing it.
	StopGrace time.Duration
}

func (c *Config) setDefaults() {
	if c.AgentName == "" {
		c.AgentName = DefaultAgentName
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = DefaultPollTimeout
	}
	if c.ObservationWindow <= 0 {
		c.ObservationWindow = DefaultObservationWindow
	}
	if c.StopGrace < 0 {
		c.StopGrace = 0
	} else if c.StopGrace == 0 {
		c.StopGrace = DefaultStopGrace
	}
}

// StartRequest asks for one outbound call to be bridged.
type StartRequest struct {
	// SessionID is optional; a random one is generated when empty.
	SessionID string
	Customer  domain.Customer
}

// EndReason says why the observation of a call stopped.
type EndReason string

const (
	EndReasonWindowElapsed EndReason = "observation_window_elapsed"
	EndReasonStreamEnded   EndReason = "monitor_stream_ended"
	EndReasonLegsClosed    EndReason = "analytics_legs_closed"
	EndReasonCancelled     EndReason = "cancelled"
)

// Result describes a bridged call that reached the relay stage.
type Result struct {
	SessionID string
	CallID    string
	Reason    EndReason
	Duration  time.Duration
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithStore persists session lifecycle records.
func WithStore(store ports.SessionStore) Option {
	return func(o *Orchestrator) {
		o.store = store
	}
}

// WithRegistry shares a registry with other components.
func WithRegistry(r *registry.Registry) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.registry = r
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithTracer sets the tracer used for call spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) {
		if t != nil {
			o.tracer = t
		}
	}
}

// Orchestrator bridges calls. It is safe for concurrent use; each StartCall
// owns its own session.
type Orchestrator struct {
	cfg       Config
	calls     ports.CallControl
	analytics ports.AnalyticsDialer
	relay     ports.AudioRelay
	registry  *registry.Registry
	store     ports.SessionStore
	logger    *slog.Logger
	tracer    trace.Tracer
}

// New creates an Orchestrator.
func New(cfg Config, calls ports.CallControl, analytics ports.AnalyticsDialer, relay ports.AudioRelay, opts ...Option) *Orchestrator {
	cfg.setDefaults()
	o := &Orchestrator{
		cfg:       cfg,
		calls:     calls,
		analytics: analytics,
		relay:     relay,
		registry:  registry.New(),
		logger:    slog.Default(),
		tracer:    otel.Tracer("github.com/tjfontaine/callbridge/internal/orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Config returns the effective settings, defaults applied.
func (o *Orchestrator) Config() Config {
	return o.cfg
}

// Registry returns the registry of live sessions.
func (o *Orchestrator) Registry() *registry.Registry {
	return o.registry
}

// Session returns the stored record for id.
func (o *Orchestrator) Session(ctx context.Context, id string) (*domain.Session, error) {
	if o.store == nil {
		if _, ok := o.registry.Get(id); ok {
			return &domain.Session{ID: id, Status: domain.SessionStatusActive}, nil
		}
		return nil, domain.Errorf(domain.ErrorKindSessionNotFound, "session %s not found", id)
	}
	return o.store.GetSession(ctx, id)
}

// StartCall places the call and blocks until observation ends. Setup failures
// are returned as errors; once the relay is running, the call ends with a
// Result whose Reason says why.
func (o *Orchestrator) StartCall(ctx context.Context, req StartRequest) (*Result, error) {
	if strings.TrimSpace(req.Customer.Number) == "" {
		return nil, domain.NewError(domain.ErrorKindInvalidInput, "customer number is required")
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	logger := o.logger.With(slog.String("session_id", sessionID))

	ctx, span := o.tracer.Start(ctx, "callbridge.StartCall",
		trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()

	if err := o.registry.Create(sessionID); err != nil {
		return nil, o.fail(span, err)
	}
	defer o.registry.Remove(sessionID)

	o.recordCreate(ctx, logger, &domain.Session{ID: sessionID, Customer: req.Customer})

	s := &session{id: sessionID, customer: req.Customer, logger: logger}
	defer s.closeLegs()

	res, err := o.run(ctx, s)
	if err != nil {
		o.recordUpdate(ctx, logger, sessionID, ports.SessionUpdate{Status: domain.SessionStatusFailed, Error: err.Error()})
		logger.Error("call setup failed", slog.String("error", err.Error()))
		return nil, o.fail(span, err)
	}

	o.recordUpdate(ctx, logger, sessionID, ports.SessionUpdate{Status: domain.SessionStatusCompleted})
	span.SetAttributes(attribute.String("call.end_reason", string(res.Reason)))
	logger.Info("call observation finished",
		slog.String("reason", string(res.Reason)),
		slog.Duration("duration", res.Duration))
	return res, nil
}

// session is the per-call state owned by one StartCall.
type session struct {
	id       string
	customer domain.Customer
	callID   string
	agent    ports.Leg
	cust     ports.Leg
	logger   *slog.Logger
}

func (s *session) closeLegs() {
	for _, leg := range []ports.Leg{s.agent, s.cust} {
		if leg != nil {
			leg.Close()
		}
	}
}

func (o *Orchestrator) run(ctx context.Context, s *session) (*Result, error) {
	call, err := o.createCall(ctx, s)
	if err != nil {
		return nil, err
	}

	if err := o.openLegs(ctx, s); err != nil {
		return nil, err
	}

	active, err := o.awaitInProgress(ctx, s)
	if err != nil {
		return nil, err
	}

	monitorURL := active.Monitor.ListenURL
	if monitorURL == "" {
		monitorURL = call.Monitor.ListenURL
	}
	if monitorURL == "" {
		return nil, domain.NewError(domain.ErrorKindCallControl, "call has no monitor listen URL")
	}

	stream, err := o.attach(ctx, s, monitorURL)
	if err != nil {
		return nil, err
	}
	o.recordUpdate(ctx, s.logger, s.id, ports.SessionUpdate{Status: domain.SessionStatusActive})

	return o.observe(ctx, s, stream), nil
}

func (o *Orchestrator) createCall(ctx context.Context, s *session) (*domain.Call, error) {
	ctx, span := o.tracer.Start(ctx, "callbridge.CreateCall")
	defer span.End()

	call, err := o.calls.CreateCall(ctx, domain.CreateCallRequest{
		AssistantID:   o.cfg.AssistantID,
		PhoneNumberID: o.cfg.PhoneNumberID,
		Customer:      s.customer,
	})
	if err != nil {
		return nil, o.fail(span, fmt.Errorf("create call: %w", err))
	}

	s.callID = call.ID
	span.SetAttributes(attribute.String("call.id", call.ID))
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("call.id", call.ID))
	o.recordUpdate(ctx, s.logger, s.id, ports.SessionUpdate{CallID: call.ID})
	s.logger.Info("call created", slog.String("call_id", call.ID), slog.String("status", string(call.Status)))
	return call, nil
}

// openLegs opens both analytics legs concurrently. If either fails, the
// other is closed by the caller's deferred cleanup.
func (o *Orchestrator) openLegs(ctx context.Context, s *session) error {
	ctx, span := o.tracer.Start(ctx, "callbridge.OpenLegs")
	defer span.End()

	speakers := map[domain.Role]domain.Speaker{
		domain.RoleAgent: {
			UserID: o.cfg.PhoneNumberID,
			Name:   o.cfg.AgentName,
			Role:   domain.RoleAgent,
		},
		domain.RoleCustomer: {
			UserID: s.customer.Number,
			Name:   s.customer.Name,
			Role:   domain.RoleCustomer,
		},
	}

	legs := make([]ports.Leg, len(domain.Roles))
	g, gctx := errgroup.WithContext(ctx)
	for i, role := range domain.Roles {
		g.Go(func() error {
			leg, err := o.analytics.Open(gctx, s.id, speakers[role])
			if err != nil {
				return fmt.Errorf("open %s leg: %w", role, err)
			}
			legs[i] = leg
			return nil
		})
	}
	err := g.Wait()

	// keep whatever opened so the deferred cleanup can close it
	for i, role := range domain.Roles {
		if legs[i] == nil {
			continue
		}
		if role == domain.RoleAgent {
			s.agent = legs[i]
		} else {
			s.cust = legs[i]
		}
		if serr := o.registry.SetConnection(s.id, role, legs[i]); serr != nil && err == nil {
			err = serr
		}
	}
	if err != nil {
		return o.fail(span, err)
	}
	return nil
}

// awaitInProgress polls the call until it is live, bounded by the poll timeout.
func (o *Orchestrator) awaitInProgress(ctx context.Context, s *session) (*domain.Call, error) {
	ctx, span := o.tracer.Start(ctx, "callbridge.AwaitInProgress")
	defer span.End()

	pollCtx, cancel := context.WithTimeout(ctx, o.cfg.PollTimeout)
	defer cancel()

	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	polls := 0
	for {
		select {
		case <-pollCtx.Done():
			if ctx.Err() != nil {
				return nil, o.fail(span, fmt.Errorf("wait for call %s: %w", s.callID, ctx.Err()))
			}
			return nil, o.fail(span, domain.Errorf(domain.ErrorKindCallTimeout,
				"call %s did not connect within %s", s.callID, o.cfg.PollTimeout))
		case <-ticker.C:
		}

		polls++
		call, err := o.calls.GetCall(pollCtx, s.callID)
		if err != nil {
			if pollCtx.Err() != nil {
				continue
			}
			return nil, o.fail(span, fmt.Errorf("poll call %s: %w", s.callID, err))
		}

		switch call.Status {
		case domain.CallStatusInProgress:
			span.SetAttributes(attribute.Int("call.polls", polls))
			s.logger.Info("call connected", slog.String("call_id", s.callID), slog.Int("polls", polls))
			return call, nil
		case domain.CallStatusFailed:
			return nil, o.fail(span, domain.Errorf(domain.ErrorKindCallFailed,
				"call failed to connect%s", reasonSuffix(call.EndedReason)))
		case domain.CallStatusCompleted, domain.CallStatusEnded:
			return nil, o.fail(span, domain.Errorf(domain.ErrorKindCallCompletedPrematurely,
				"call completed before the relay connected%s", reasonSuffix(call.EndedReason)))
		}
	}
}

func reasonSuffix(reason string) string {
	if reason == "" {
		return ""
	}
	return " (" + reason + ")"
}

func (o *Orchestrator) attach(ctx context.Context, s *session, monitorURL string) (ports.RelayStream, error) {
	ctx, span := o.tracer.Start(ctx, "callbridge.AttachRelay")
	defer span.End()

	stream, err := o.relay.Attach(ctx, s.id, monitorURL, s.cust, s.agent)
	if err != nil {
		return nil, o.fail(span, err)
	}
	return stream, nil
}

// observe waits for the first end condition and tears the call down.
func (o *Orchestrator) observe(ctx context.Context, s *session, stream ports.RelayStream) *Result {
	_, span := o.tracer.Start(ctx, "callbridge.Observe")
	defer span.End()

	start := time.Now()
	window := time.NewTimer(o.cfg.ObservationWindow)
	defer window.Stop()

	legsDone := make(chan struct{})
	go func() {
		<-s.agent.Done()
		<-s.cust.Done()
		close(legsDone)
	}()

	var reason EndReason
	select {
	case <-window.C:
		reason = EndReasonWindowElapsed
	case <-stream.Done():
		reason = EndReasonStreamEnded
	case <-legsDone:
		reason = EndReasonLegsClosed
	case <-ctx.Done():
		reason = EndReasonCancelled
	}
	s.logger.Info("ending call observation", slog.String("reason", string(reason)))

	// closing the stream sends the stop request to every open leg
	if err := stream.Close(); err != nil {
		s.logger.Debug("monitor stream close", slog.String("error", err.Error()))
	}

	grace := time.NewTimer(o.cfg.StopGrace)
	defer grace.Stop()
	select {
	case <-legsDone:
	case <-grace.C:
		s.logger.Warn("analytics legs did not finish after stop, closing")
	}
	s.closeLegs()
	<-legsDone

	span.SetAttributes(attribute.String("call.end_reason", string(reason)))
	return &Result{
		SessionID: s.id,
		CallID:    s.callID,
		Reason:    reason,
		Duration:  time.Since(start),
	}
}

func (o *Orchestrator) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func (o *Orchestrator) recordCreate(ctx context.Context, logger *slog.Logger, sess *domain.Session) {
	if o.store == nil {
		return
	}
	if err := o.store.CreateSession(ctx, sess); err != nil {
		logger.Warn("failed to record session", slog.String("error", err.Error()))
	}
}

// recordUpdate ignores cancellation of ctx.
func (o *Orchestrator) recordUpdate(ctx context.Context, logger *slog.Logger, id string, update ports.SessionUpdate) {
	if o.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := o.store.UpdateSession(ctx, id, update); err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
		logger.Warn("failed to update session record", slog.String("error", err.Error()))
	}
}

// Sessions lists stored sessions, most recent first. Without a store it
// lists the live sessions held by the registry.
func (o *Orchestrator) Sessions(ctx context.Context, opts ports.ListOptions) ([]*domain.Session, error) {
	if o.store != nil {
		return o.store.ListSessions(ctx, opts)
	}
	if opts.Status != "" && opts.Status != domain.SessionStatusActive {
		return nil, nil
	}
	ids := o.registry.IDs()
	sessions := make([]*domain.Session, 0, len(ids))
	for _, id := range ids {
		sessions = append(sessions, &domain.Session{ID: id, Status: domain.SessionStatusActive})
	}
	return sessions, nil
}
