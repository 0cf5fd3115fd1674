package assemblyai

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"voicenotes/internal/domain"
)

// ErrUnknownEvent is returned for messages whose type is not handled.
var ErrUnknownEvent = errors.New("unknown event type")

// ServerError is an error message pushed by the transcription service.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return "assemblyai: " + e.Message
}

type message struct {
	Type string `json:"type"`

	// Begin
	ID        string `json:"id"`
	ExpiresAt int64  `json:"expires_at"`

	// Turn
	Transcript      string `json:"transcript"`
	EndOfTurn       bool   `json:"end_of_turn"`
	TurnIsFormatted bool   `json:"turn_is_formatted"`

	// Termination
	AudioDurationSeconds   float64 `json:"audio_duration_seconds"`
	SessionDurationSeconds float64 `json:"session_duration_seconds"`

	// Error
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ParseEvent decodes one inbound JSON message. When formatTurns is set a turn
// only counts as final once the formatted version arrives.
func ParseEvent(payload []byte, formatTurns bool) (domain.TranscriptionEvent, error) {
	var msg message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("failed to decode event: %w", err)
	}

	// Errors may arrive as a bare {"error": "..."} object.
	if msg.Type == "" && msg.Error != "" {
		msg.Type = "Error"
	}

	switch msg.Type {
	case "Begin":
		event := domain.BeginEvent{SessionID: msg.ID}
		if msg.ExpiresAt > 0 {
			event.ExpiresAt = time.Unix(msg.ExpiresAt, 0)
		}
		return event, nil
	case "Turn":
		return domain.TurnEvent{
			Text:  strings.TrimSpace(msg.Transcript),
			Final: msg.EndOfTurn && (msg.TurnIsFormatted || !formatTurns),
		}, nil
	case "Termination":
		return domain.TerminationEvent{
			AudioDuration:   seconds(msg.AudioDurationSeconds),
			SessionDuration: seconds(msg.SessionDurationSeconds),
		}, nil
	case "Error":
		text := strings.TrimSpace(msg.Error)
		if text == "" {
			text = strings.TrimSpace(msg.Message)
		}
		if text == "" {
			text = "unknown server error"
		}
		return nil, &ServerError{Message: text}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, msg.Type)
	}
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
