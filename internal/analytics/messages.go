package analytics

import (
	"encoding/json"

	"github.com/tjfontaine/callbridge/internal/audio"
	"github.com/tjfontaine/callbridge/internal/core/domain"
)

// Outbound control message types.
const (
	typeStartRequest = "start_request"
	typeStopRequest  = "stop_request"
)

// Inbound message types.
const (
	typeError             = "error"
	typeInsight           = "insight"
	typeTranscript        = "transcript"
	typeMessage           = "message"
	typeObjectionResponse = "objection_response"

	typeRecognitionStarted    = "recognition_started"
	typeRecognitionResult     = "recognition_result"
	typeConversationCompleted = "conversation_completed"
)

type startRequest struct {
	Type       string         `json:"type"`
	ID         string         `json:"id"`
	RTAID      string         `json:"RTAId,omitempty"`
	Assistants []string       `json:"assistants,omitempty"`
	Config     startConfig    `json:"config"`
	Speaker    domain.Speaker `json:"speaker"`
}

type startConfig struct {
	SpeechRecognition speechRecognition `json:"speechRecognition"`
}

type speechRecognition struct {
	Encoding        string `json:"encoding"`
	SampleRateHertz int    `json:"sampleRateHertz"`
}

type stopRequest struct {
	Type string `json:"type"`
}

func newStartRequest(sessionID, rtaID string, assistants []string, speaker domain.Speaker, f audio.Format) startRequest {
	return startRequest{
		Type:       typeStartRequest,
		ID:         sessionID,
		RTAID:      rtaID,
		Assistants: assistants,
		Config: startConfig{
			SpeechRecognition: speechRecognition{
				Encoding:        f.Encoding,
				SampleRateHertz: f.SampleRate,
			},
		},
		Speaker: speaker,
	}
}

// inboundMessage is the envelope of every text frame from the backend.
type inboundMessage struct {
	Type    string          `json:"type"`
	Message json.RawMessage `json:"message,omitempty"`
	Insight json.RawMessage `json:"insight,omitempty"`
}

// nestedMessage is the payload of "message" and "transcript" envelopes.
type nestedMessage struct {
	Type       string `json:"type"`
	IsFinal    bool   `json:"isFinal"`
	Punctuated struct {
		Transcript string `json:"transcript"`
	} `json:"punctuated"`
	User *struct {
		UserID string `json:"userId"`
		Name   string `json:"name"`
		Role   string `json:"role"`
	} `json:"user,omitempty"`
}

// errorText renders an error payload, which may be a string or an object.
func errorText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	return string(raw)
}
