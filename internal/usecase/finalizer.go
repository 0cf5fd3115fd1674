package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"voicenotes/internal/domain"
	"voicenotes/internal/ports"
	"voicenotes/internal/wav"
)

// artifactWriter persists what a session produced. It does not decide when
// to run; the controller calls it from Finalize.
type artifactWriter struct {
	generator ports.NoteGenerator
	store     ports.ArtifactStore
	clipboard ports.Clipboard
	events    ports.EventSink
	logger    *slog.Logger
	copyNotes bool
}

// writeNotes generates notes once per session and saves them. A save that
// failed earlier is retried without asking the generator again.
func (w artifactWriter) writeNotes(ctx context.Context, s *Session) (string, error) {
	transcript := s.fullTranscript()
	if transcript == "" || s.notesSaved {
		return "", nil
	}

	if !s.notesGenerated {
		notes, err := w.generator.Generate(ctx, transcript)
		if err != nil {
			return "", fmt.Errorf("failed to generate notes: %w", err)
		}
		s.notes = notes
		s.notesGenerated = true
	}

	path, err := w.store.SaveNotes(s.notes)
	if err != nil {
		return "", fmt.Errorf("failed to save notes: %w", err)
	}
	s.notesSaved = true
	w.events.ArtifactSaved(domain.ArtifactNotes, path)
	w.logger.Info("notes saved", "path", path, "transcript_chars", len(transcript))

	if w.copyNotes && w.clipboard != nil {
		if err := w.clipboard.SetText(ctx, s.notes); err != nil {
			w.logger.Warn("clipboard write failed", "error", err)
			w.events.SessionError(domain.ErrorCodeClipboard, "notes saved but clipboard write failed")
		}
	}
	return path, nil
}

func (w artifactWriter) writeAudio(s *Session) (string, error) {
	if s.audioSaved {
		return "", nil
	}

	data, err := wav.Encode(s.frames, s.SampleRate, s.Channels)
	if errors.Is(err, wav.ErrNoAudio) {
		w.logger.Info("nothing recorded, skipping audio artifact")
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to encode audio: %w", err)
	}

	path, err := w.store.SaveAudio(data)
	if err != nil {
		return "", fmt.Errorf("failed to save audio: %w", err)
	}
	s.audioSaved = true
	w.events.ArtifactSaved(domain.ArtifactAudio, path)
	w.logger.Info("audio saved", "path", path, "bytes", s.recordedBytes())
	return path, nil
}

// runStep isolates one finalize step so that neither an error nor a panic
// keeps the remaining steps from running.
func runStep(logger *slog.Logger, events ports.EventSink, code domain.ErrorCode, step func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			logger.Error("finalize step failed", "step", string(code), "error", err)
			events.SessionError(code, err.Error())
		}
	}()
	return step()
}
