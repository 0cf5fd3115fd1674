package ports

import (
	"context"
	"io"
	"time"

	"voicenotes/internal/domain"
)

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate      int
	Channels        int
	FramesPerBuffer int
	InputFormat     string
	InputDevice     string
}

// AudioSession is a live capture session producing little-endian 16-bit PCM.
type AudioSession interface {
	io.ReadCloser
	Stop() error
}

// AudioCapture creates microphone capture sessions.
type AudioCapture interface {
	Start(ctx context.Context, cfg AudioConfig) (AudioSession, error)
}

// StreamingConfig describes provider-agnostic streaming settings.
type StreamingConfig struct {
	SampleRate int
	Channels   int
	Encoding   string
}

// StreamingSession is an active transcription websocket session.
type StreamingSession interface {
	SendAudio(chunk []byte) error
	// CloseSend stops audio forwarding and sends the termination notice.
	CloseSend() error
	Events() <-chan domain.TranscriptionEvent
	Wait() error
	Close() error
}

// TranscriptionProvider starts streaming transcription sessions.
type TranscriptionProvider interface {
	StartStreaming(ctx context.Context, cfg StreamingConfig) (StreamingSession, error)
}

// NoteGenerator turns a full transcript into markdown notes.
type NoteGenerator interface {
	Generate(ctx context.Context, transcript string) (string, error)
}

// ArtifactStore persists session artifacts and returns their paths.
type ArtifactStore interface {
	SaveNotes(text string) (string, error)
	SaveAudio(data []byte) (string, error)
}

// Clipboard writes text into the system clipboard.
type Clipboard interface {
	SetText(ctx context.Context, text string) error
}

// EventSink receives human-facing lifecycle updates.
type EventSink interface {
	SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason)
	SessionBegan(id string, expiresAt time.Time)
	PartialTranscript(text string)
	FinalTranscript(text string)
	ArtifactSaved(kind domain.ArtifactKind, path string)
	SessionError(code domain.ErrorCode, detail string)
}
