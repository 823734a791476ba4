package analytics

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tjfontaine/callbridge/internal/core/domain"
	"github.com/tjfontaine/callbridge/internal/core/ports"
)

// State is a point in a leg's connection lifecycle.
type State int32

const (
	StateDisconnected State = iota
	StateAuthenticating
	StateConnecting
	StateHandshaking
	StateStreaming
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateAuthenticating:
		return "authenticating"
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

var _ ports.Leg = (*Conn)(nil)

// Conn is one analytics leg: a websocket bound to a (session, role) pair.
type Conn struct {
	sessionID    string
	speaker      domain.Speaker
	ws           *websocket.Conn
	writeTimeout time.Duration
	handler      EventHandler
	logger       *slog.Logger

	state     atomic.Int32
	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

func newConn(sessionID string, speaker domain.Speaker, writeTimeout time.Duration, handler EventHandler, logger *slog.Logger) *Conn {
	return &Conn{
		sessionID:    sessionID,
		speaker:      speaker,
		writeTimeout: writeTimeout,
		handler:      handler,
		logger: logger.With(
			slog.String("session_id", sessionID),
			slog.String("role", string(speaker.Role))),
		done: make(chan struct{}),
	}
}

// SessionID returns the session the leg belongs to.
func (c *Conn) SessionID() string { return c.sessionID }

// Role returns the leg's fixed role.
func (c *Conn) Role() domain.Role { return c.speaker.Role }

// Speaker returns the identity announced in the start request.
func (c *Conn) Speaker() domain.Speaker { return c.speaker }

// State returns the current lifecycle state.
func (c *Conn) State() State { return State(c.state.Load()) }

// Closed reports whether the leg has been closed.
func (c *Conn) Closed() bool { return c.State() == StateClosed }

// Done is closed when the connection ends.
func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) setState(s State) {
	// Closed is terminal
	for {
		cur := c.state.Load()
		if State(cur) == StateClosed {
			return
		}
		if c.state.CompareAndSwap(cur, int32(s)) {
			return
		}
	}
}

func (c *Conn) closedError() error {
	return domain.Errorf(domain.ErrorKindConnectionClosed, "%s leg of session %s is %s", c.speaker.Role, c.sessionID, c.State())
}

// SendAudio writes one binary frame of mono PCM.
func (c *Conn) SendAudio(mono []byte) error {
	if c.State() != StateStreaming {
		return c.closedError()
	}
	if err := c.write(websocket.BinaryMessage, mono); err != nil {
		if c.Closed() {
			return c.closedError()
		}
		c.logger.Warn("audio send failed, closing leg", slog.String("error", err.Error()))
		c.Close()
		return fmt.Errorf("send audio: %w", err)
	}
	return nil
}

// Stop asks the backend to end the conversation. The backend answers with a
// conversation_completed message, after which the leg closes itself.
func (c *Conn) Stop() error {
	if c.State() != StateStreaming {
		return c.closedError()
	}
	if err := c.writeJSON(stopRequest{Type: typeStopRequest}); err != nil {
		return fmt.Errorf("send stop request: %w", err)
	}
	c.logger.Debug("stop request sent")
	return nil
}

// Close closes the transport. Only the first call has any effect.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosed))
		if c.ws != nil {
			deadline := time.Now().Add(time.Second)
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			err = c.ws.Close()
		}
		close(c.done)
		c.logger.Info("analytics leg closed")
	})
	return err
}

func (c *Conn) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.write(websocket.TextMessage, data)
}

func (c *Conn) write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	return c.ws.WriteMessage(messageType, data)
}

// readLoop dispatches inbound frames until the connection ends.
func (c *Conn) readLoop() {
	defer c.Close()

	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			if !c.Closed() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("analytics leg read failed", slog.String("error", err.Error()))
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		if done := c.dispatch(data); done {
			return
		}
	}
}

// dispatch handles one text frame and reports whether the leg should close.
func (c *Conn) dispatch(data []byte) bool {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		perr := domain.NewError(domain.ErrorKindBackendProtocol, "malformed analytics message").WithCause(err)
		c.logger.Warn("ignoring analytics message", slog.String("error", perr.Error()))
		return false
	}

	switch msg.Type {
	case typeError:
		text := errorText(msg.Message)
		c.logger.Error("analytics backend error", slog.String("error", text))
		c.emit(Event{Kind: EventError, Text: text, Raw: data})
		return true

	case typeInsight:
		c.emit(Event{Kind: EventInsight, Raw: msg.Insight})

	case typeObjectionResponse:
		c.emit(Event{Kind: EventAssist, Raw: data})

	case typeTranscript, typeMessage:
		var nested nestedMessage
		if len(msg.Message) > 0 {
			if err := json.Unmarshal(msg.Message, &nested); err != nil {
				perr := domain.NewError(domain.ErrorKindBackendProtocol, "malformed "+msg.Type+" payload").WithCause(err)
				c.logger.Warn("ignoring analytics message", slog.String("error", perr.Error()))
				return false
			}
		}
		return c.dispatchNested(msg.Type, nested, data)

	default:
		c.logger.Debug("unhandled analytics message", slog.String("type", msg.Type))
	}
	return false
}

func (c *Conn) dispatchNested(envelope string, m nestedMessage, raw []byte) bool {
	switch {
	case m.Type == typeConversationCompleted:
		c.emit(Event{Kind: EventCompleted, Raw: raw})
		return true

	case m.Type == typeRecognitionStarted:
		c.emit(Event{Kind: EventRecognitionStarted, Raw: raw})

	case m.Type == typeRecognitionResult || envelope == typeTranscript:
		ev := Event{
			Kind:    EventTranscript,
			Text:    m.Punctuated.Transcript,
			IsFinal: m.IsFinal,
			Raw:     raw,
		}
		if m.User != nil {
			ev.SpeakerRole = m.User.Role
		}
		c.emit(ev)
	}
	return false
}

func (c *Conn) emit(ev Event) {
	if c.handler == nil {
		return
	}
	ev.SessionID = c.sessionID
	ev.Role = c.speaker.Role
	c.handler(ev)
}
