package domain

import "time"

// SessionState models the voice-note session lifecycle.
type SessionState string

const (
	SessionStateConnecting SessionState = "connecting"
	SessionStateRecording  SessionState = "recording"
	SessionStateFinalizing SessionState = "finalizing"
	SessionStateClosed     SessionState = "closed"
	SessionStateError      SessionState = "error"
)

// SessionStateReason provides a structured reason for state transitions.
type SessionStateReason string

const (
	SessionReasonConnecting          SessionStateReason = "connecting"
	SessionReasonRecordingStarted    SessionStateReason = "recording_started"
	SessionReasonTerminationReceived SessionStateReason = "termination_received"
	SessionReasonStreamClosed        SessionStateReason = "stream_closed"
	SessionReasonInterrupted         SessionStateReason = "interrupted"
	SessionReasonAudioEnded          SessionStateReason = "audio_ended"
	SessionReasonFault               SessionStateReason = "fault"
	SessionReasonStartupFailed       SessionStateReason = "startup_failed"
	SessionReasonFinalized           SessionStateReason = "finalized"
)

// ErrorCode identifies non-fatal and fatal backend errors.
type ErrorCode string

const (
	ErrorCodeStartup       ErrorCode = "startup"
	ErrorCodeAudioStop     ErrorCode = "audio_stop"
	ErrorCodeAudioStream   ErrorCode = "audio_stream"
	ErrorCodeTranscription ErrorCode = "transcription"
	ErrorCodeNotes         ErrorCode = "notes"
	ErrorCodeArtifact      ErrorCode = "artifact"
	ErrorCodeClipboard     ErrorCode = "clipboard"
	ErrorCodeFault         ErrorCode = "fault"
)

// ArtifactKind names a file produced at the end of a session.
type ArtifactKind string

const (
	ArtifactNotes ArtifactKind = "notes"
	ArtifactAudio ArtifactKind = "audio"
)

// TranscriptionEvent is one inbound message from the transcription peer.
// The set of implementations is closed: BeginEvent, TurnEvent and
// TerminationEvent.
type TranscriptionEvent interface {
	transcriptionEvent()
}

// BeginEvent announces an opened transcription session.
type BeginEvent struct {
	SessionID string
	ExpiresAt time.Time
}

// TurnEvent carries the text of one turn. Interim versions of a turn arrive
// with Final unset; exactly one final version follows.
type TurnEvent struct {
	Text  string
	Final bool
}

// TerminationEvent reports that the peer ended the session.
type TerminationEvent struct {
	AudioDuration   time.Duration
	SessionDuration time.Duration
}

func (BeginEvent) transcriptionEvent()       {}
func (TurnEvent) transcriptionEvent()        {}
func (TerminationEvent) transcriptionEvent() {}

// FinalizeResult summarizes the artifacts written by one finalize pass.
type FinalizeResult struct {
	NotesPath string
	AudioPath string
	Errors    []error
}

// SessionResult is returned once a session has been finalized.
type SessionResult struct {
	Reason     SessionStateReason
	Transcript string
	NotesPath  string
	AudioPath  string
}
