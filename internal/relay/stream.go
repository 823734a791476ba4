package relay

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tjfontaine/callbridge/internal/audio"
	"github.com/tjfontaine/callbridge/internal/core/domain"
	"github.com/tjfontaine/callbridge/internal/core/ports"
)

// LegStats counts what happened to one leg's channel.
type LegStats struct {
	SentChunks    int64 `json:"sent_chunks"`
	DroppedChunks int64 `json:"dropped_chunks"`
	Failures      int64 `json:"failures"`
}

// Stats is a snapshot of a stream's counters.
type Stats struct {
	Chunks         int64    `json:"chunks"`
	TruncatedBytes int64    `json:"truncated_bytes"`
	Customer       LegStats `json:"customer"`
	Agent          LegStats `json:"agent"`
}

// Stream is one attached monitor connection.
type Stream struct {
	ws            *websocket.Conn
	layout        audio.ChannelLayout
	progressEvery int
	logger        *slog.Logger

	customer *forwarder
	agent    *forwarder

	chunks    atomic.Int64
	truncated atomic.Int64

	closing   atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

func newStream(ws *websocket.Conn, layout audio.ChannelLayout, progressEvery int, logger *slog.Logger) *Stream {
	return &Stream{
		ws:            ws,
		layout:        layout,
		progressEvery: progressEvery,
		logger:        logger,
		done:          make(chan struct{}),
	}
}

func (s *Stream) start() {
	s.customer.start()
	s.agent.start()
	go s.readLoop()
}

// Done is closed once the monitor stream has ended and both legs were told to stop.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Close disconnects from the monitor stream and waits for teardown.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closing.Store(true)
		err = s.ws.Close()
	})
	<-s.done
	return err
}

// Stats returns the current counters.
func (s *Stream) Stats() Stats {
	return Stats{
		Chunks:         s.chunks.Load(),
		TruncatedBytes: s.truncated.Load(),
		Customer:       s.customer.stats(),
		Agent:          s.agent.stats(),
	}
}

func (s *Stream) readLoop() {
	defer s.finish()

	for {
		messageType, data, err := s.ws.ReadMessage()
		if err != nil {
			switch {
			case s.closing.Load():
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				s.logger.Info("monitor stream closed")
			default:
				s.logger.Error("monitor stream failed", slog.String("error", err.Error()))
			}
			return
		}

		if messageType != websocket.BinaryMessage {
			s.logger.Info("monitor stream message", slog.String("message", string(data)))
			continue
		}
		s.relay(data)
	}
}

func (s *Stream) relay(data []byte) {
	split, err := audio.SplitStereo(data)
	if err != nil {
		s.logger.Warn("dropping audio chunk", slog.String("error", err.Error()))
		return
	}
	if split.Truncated() {
		s.truncated.Add(int64(split.Dropped))
		s.logger.Warn("audio chunk is not frame aligned, trailing bytes dropped",
			slog.Int("length", len(data)),
			slog.Int("dropped", split.Dropped))
	}

	customer, agent := s.layout.Route(split)
	s.customer.enqueue(customer)
	s.agent.enqueue(agent)

	n := s.chunks.Add(1)
	if s.progressEvery > 0 && n%int64(s.progressEvery) == 0 {
		s.logger.Info("relayed audio chunks", slog.Int64("chunks", n))
	}
}

// finish drains both forwarders so queued audio precedes the stop request,
// then asks every open leg to stop.
func (s *Stream) finish() {
	s.ws.Close()
	s.customer.drain()
	s.agent.drain()
	s.customer.stop()
	s.agent.stop()

	st := s.Stats()
	s.logger.Info("monitor stream ended",
		slog.Int64("chunks", st.Chunks),
		slog.Int64("customer_dropped", st.Customer.DroppedChunks),
		slog.Int64("agent_dropped", st.Agent.DroppedChunks))
	close(s.done)
}

// forwarder delivers one channel to one leg in order. A nil forwarder leg
// discards everything.
type forwarder struct {
	role   domain.Role
	leg    ports.Leg
	queue  chan []byte
	stall  time.Duration
	logger *slog.Logger
	exited chan struct{}

	// sendStarted is the start of the in-flight SendAudio in unix nanoseconds, or 0.
	sendStarted atomic.Int64

	sent     atomic.Int64
	dropped  atomic.Int64
	failures atomic.Int64
}

func newForwarder(role domain.Role, leg ports.Leg, size int, stall time.Duration, logger *slog.Logger) *forwarder {
	return &forwarder{
		role:   role,
		leg:    leg,
		queue:  make(chan []byte, size),
		stall:  stall,
		logger: logger.With(slog.String("role", string(role))),
		exited: make(chan struct{}),
	}
}

func (f *forwarder) start() {
	go f.run()
}

func (f *forwarder) run() {
	defer close(f.exited)

	for chunk := range f.queue {
		if f.leg == nil || f.leg.Closed() {
			f.dropped.Add(1)
			continue
		}
		f.sendStarted.Store(time.Now().UnixNano())
		err := f.leg.SendAudio(chunk)
		f.sendStarted.Store(0)
		if err != nil {
			// log the first failure only, a dead leg fails every chunk
			if f.failures.Add(1) == 1 {
				f.logger.Warn("failed to send audio to analytics leg", slog.String("error", err.Error()))
			}
			continue
		}
		f.sent.Add(1)
	}
}

// stalledFor reports how long the in-flight send has been running.
func (f *forwarder) stalledFor() time.Duration {
	started := f.sendStarted.Load()
	if started == 0 {
		return 0
	}
	return time.Since(time.Unix(0, started))
}

// enqueue waits for queue space while the leg keeps up. It drops the chunk
// only when the leg's current send has been in flight for the stall timeout.
func (f *forwarder) enqueue(chunk []byte) {
	if f.leg == nil {
		return
	}
	select {
	case f.queue <- chunk:
		return
	default:
	}

	for {
		wait := f.stall - f.stalledFor()
		if wait <= 0 {
			if f.dropped.Add(1) == 1 {
				f.logger.Warn("analytics leg is stalled, dropping audio",
					slog.Duration("stalled_for", f.stalledFor()))
			}
			return
		}

		timer := time.NewTimer(wait)
		select {
		case f.queue <- chunk:
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (f *forwarder) drain() {
	close(f.queue)
	<-f.exited
}

func (f *forwarder) stop() {
	if f.leg == nil || f.leg.Closed() {
		return
	}
	if err := f.leg.Stop(); err != nil {
		f.logger.Debug("stop request failed", slog.String("error", err.Error()))
	}
}

func (f *forwarder) stats() LegStats {
	return LegStats{
		SentChunks:    f.sent.Load(),
		DroppedChunks: f.dropped.Load(),
		Failures:      f.failures.Load(),
	}
}
