package analytics

import (
	"encoding/json"
	"log/slog"

	"github.com/tjfontaine/callbridge/internal/core/domain"
)

// EventKind classifies an inbound analytics event.
type EventKind string

const (
	EventRecognitionStarted EventKind = "recognition_started"
	EventTranscript         EventKind = "transcript"
	EventInsight            EventKind = "insight"
	EventAssist             EventKind = "assist"
	EventCompleted          EventKind = "conversation_completed"
	EventError              EventKind = "error"
)

// Event is one decoded message from an analytics leg.
type Event struct {
	Kind      EventKind
	SessionID string
	// Role is the leg the event arrived on.
	Role domain.Role
	// SpeakerRole is the role the backend attributed the utterance to, when present.
	SpeakerRole string
	Text        string
	IsFinal     bool
	Raw         json.RawMessage
}

// EventHandler receives events from a leg's read loop. It must not block.
type EventHandler func(Event)

// LogEvents returns a handler that writes transcripts and insights to logger.
// Errors are already logged by the connection itself.
func LogEvents(logger *slog.Logger) EventHandler {
	return func(ev Event) {
		attrs := []any{
			slog.String("session_id", ev.SessionID),
			slog.String("role", string(ev.Role)),
		}

		switch ev.Kind {
		case EventTranscript:
			speaker := ev.SpeakerRole
			if speaker == "" {
				speaker = string(ev.Role)
			}
			logger.Info("transcript", append(attrs,
				slog.String("speaker", speaker),
				slog.Bool("final", ev.IsFinal),
				slog.String("text", ev.Text))...)
		case EventInsight:
			logger.Info("insight detected", append(attrs, slog.String("insight", string(ev.Raw)))...)
		case EventAssist:
			logger.Info("assistant response", append(attrs, slog.String("payload", string(ev.Raw)))...)
		case EventRecognitionStarted:
			logger.Info("recognition started", attrs...)
		case EventCompleted:
			logger.Info("conversation completed", attrs...)
		}
	}
}
