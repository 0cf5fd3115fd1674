// Package console renders session lifecycle updates as terminal status lines.
package console

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"voicenotes/internal/domain"
)

const clearLine = "\r\033[2K"

// Sink implements ports.EventSink on a terminal. Partial turns overwrite a
// single transient line; final turns are printed as completed lines.
type Sink struct {
	mu  sync.Mutex
	out io.Writer

	partialShown bool
	lastReason   domain.SessionStateReason

	status   lipgloss.Style
	partial  lipgloss.Style
	final    lipgloss.Style
	artifact lipgloss.Style
	failure  lipgloss.Style
}

func NewSink(out io.Writer) *Sink {
	r := lipgloss.NewRenderer(out)
	return &Sink{
		out:      out,
		status:   r.NewStyle().Foreground(lipgloss.Color("#00FFFF")),
		partial:  r.NewStyle().Foreground(lipgloss.Color("#666666")).Italic(true),
		final:    r.NewStyle().Foreground(lipgloss.Color("#FFFFFF")),
		artifact: r.NewStyle().Foreground(lipgloss.Color("#00FF00")).Bold(true),
		failure:  r.NewStyle().Foreground(lipgloss.Color("#FF0000")).Bold(true),
	}
}

// SessionStateChanged prints one line per reason; repeats are dropped.
func (s *Sink) SessionStateChanged(_ domain.SessionState, reason domain.SessionStateReason) {
	s.mu.Lock()
	repeated := reason == s.lastReason
	s.lastReason = reason
	s.mu.Unlock()

	message := sessionReasonMessage(reason)
	if message == "" || repeated {
		return
	}
	s.line(s.status.Render(message))
}

func (s *Sink) SessionBegan(id string, expiresAt time.Time) {
	message := "Transcription session " + id + " open"
	if !expiresAt.IsZero() {
		message += " until " + expiresAt.Local().Format(time.Kitchen)
	}
	s.line(s.status.Render(message))
}

func (s *Sink) PartialTranscript(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprint(s.out, clearLine+s.partial.Render(text))
	s.partialShown = true
}

func (s *Sink) FinalTranscript(text string) {
	s.line(s.final.Render(text))
}

func (s *Sink) ArtifactSaved(kind domain.ArtifactKind, path string) {
	label := "Saved"
	switch kind {
	case domain.ArtifactNotes:
		label = "Notes saved to"
	case domain.ArtifactAudio:
		label = "Audio saved to"
	}
	s.line(s.artifact.Render(label + " " + path))
}

func (s *Sink) SessionError(code domain.ErrorCode, detail string) {
	message := errorMessage(code, detail)
	if detail != "" && detail != message {
		message += ": " + detail
	}
	s.line(s.failure.Render(message))
}

func (s *Sink) line(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.partialShown {
		fmt.Fprint(s.out, clearLine)
		s.partialShown = false
	}
	fmt.Fprintln(s.out, text)
}

func sessionReasonMessage(reason domain.SessionStateReason) string {
	switch reason {
	case domain.SessionReasonConnecting:
		return "Connecting to transcription service..."
	case domain.SessionReasonRecordingStarted:
		return "Recording. Press Ctrl+C to stop."
	case domain.SessionReasonTerminationReceived:
		return "Transcription session ended. Writing notes..."
	case domain.SessionReasonStreamClosed:
		return "Connection closed. Writing notes..."
	case domain.SessionReasonInterrupted:
		return "Stopping. Waiting for the last words..."
	case domain.SessionReasonAudioEnded:
		return "Audio input ended. Writing notes..."
	case domain.SessionReasonFault:
		return "Unexpected failure. Saving what we have..."
	case domain.SessionReasonStartupFailed:
		return "Could not start the session"
	case domain.SessionReasonFinalized:
		return "Done"
	default:
		return ""
	}
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "Startup failed"
	case domain.ErrorCodeAudioStop:
		return "Audio stop issue"
	case domain.ErrorCodeAudioStream:
		return "Audio streaming issue"
	case domain.ErrorCodeTranscription:
		return "Transcription error"
	case domain.ErrorCodeNotes:
		return "Note generation failed"
	case domain.ErrorCodeArtifact:
		return "Could not save audio"
	case domain.ErrorCodeClipboard:
		return "Clipboard write failed"
	case domain.ErrorCodeFault:
		return "Unexpected failure"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}
