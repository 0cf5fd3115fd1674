package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"voicenotes/internal/domain"
	"voicenotes/internal/ports"
)

// ErrSessionFault marks a session that ended because of an unexpected panic.
var ErrSessionFault = errors.New("session fault")

const (
	defaultChunkSize    = 3200
	defaultCloseTimeout = 4 * time.Second
)

// Config controls recording and shutdown behavior.
type Config struct {
	Audio          ports.AudioConfig
	Streaming      ports.StreamingConfig
	ChunkSize      int
	StreamingGrace time.Duration
	CloseTimeout   time.Duration
	CopyNotes      bool
}

// SessionController runs one voice-note session: it streams microphone audio
// to the transcription service, collects final turns and writes notes and
// audio exactly once, whichever shutdown trigger fires first.
type SessionController struct {
	audio    ports.AudioCapture
	provider ports.TranscriptionProvider
	events   ports.EventSink
	writer   artifactWriter
	logger   *slog.Logger
	cfg      Config

	mu           sync.Mutex
	session      *Session
	audioSession ports.AudioSession
	audioRunning bool
	pump         *audioPump
	stream       ports.StreamingSession
	streamOpen   bool
	closeSent    bool
	sendFailed   bool
	reason       domain.SessionStateReason
	notesPath    string
	audioPath    string
}

func NewSessionController(
	audio ports.AudioCapture,
	provider ports.TranscriptionProvider,
	generator ports.NoteGenerator,
	store ports.ArtifactStore,
	clipboard ports.Clipboard,
	events ports.EventSink,
	logger *slog.Logger,
	cfg Config,
) *SessionController {
	if cfg.ChunkSize < 256 {
		cfg.ChunkSize = defaultChunkSize
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = defaultCloseTimeout
	}
	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionController{
		audio:    audio,
		provider: provider,
		events:   events,
		writer: artifactWriter{
			generator: generator,
			store:     store,
			clipboard: clipboard,
			events:    events,
			logger:    logger,
			copyNotes: cfg.CopyNotes,
		},
		logger:  logger,
		cfg:     cfg,
		session: newSession(cfg.Audio.SampleRate, cfg.Audio.Channels),
	}
}

// Start opens the transcription stream and then the audio source. When the
// audio source cannot start, the session is finalized before returning.
func (c *SessionController) Start(ctx context.Context) error {
	c.events.SessionStateChanged(domain.SessionStateConnecting, domain.SessionReasonConnecting)

	// The stream outlives ctx so the terminate notice can still be sent
	// after an interrupt.
	stream, err := c.provider.StartStreaming(context.WithoutCancel(ctx), c.cfg.Streaming)
	if err != nil {
		c.events.SessionError(domain.ErrorCodeStartup, err.Error())
		c.setReason(domain.SessionReasonStartupFailed)
		c.events.SessionStateChanged(domain.SessionStateError, domain.SessionReasonStartupFailed)
		return fmt.Errorf("failed to open transcription stream: %w", err)
	}

	c.mu.Lock()
	c.stream = stream
	c.streamOpen = true
	c.mu.Unlock()

	audioSession, err := c.audio.Start(context.WithoutCancel(ctx), c.cfg.Audio)
	if err != nil {
		c.events.SessionError(domain.ErrorCodeStartup, err.Error())
		c.setReason(domain.SessionReasonStartupFailed)
		c.Finalize(ctx)
		return fmt.Errorf("failed to start audio capture: %w", err)
	}

	c.mu.Lock()
	c.audioSession = audioSession
	c.audioRunning = true
	c.pump = startAudioPump(audioSession, c.cfg.ChunkSize)
	c.mu.Unlock()

	c.logger.Info("recording started", "sample_rate", c.cfg.Audio.SampleRate, "channels", c.cfg.Audio.Channels)
	c.events.SessionStateChanged(domain.SessionStateRecording, domain.SessionReasonRecordingStarted)
	return nil
}

// OnEvent handles one transcription event.
func (c *SessionController) OnEvent(ctx context.Context, event domain.TranscriptionEvent) {
	switch ev := event.(type) {
	case domain.BeginEvent:
		c.logger.Info("transcription session began", "id", ev.SessionID, "expires_at", ev.ExpiresAt)
		c.events.SessionBegan(ev.SessionID, ev.ExpiresAt)
	case domain.TurnEvent:
		if !ev.Final {
			c.events.PartialTranscript(ev.Text)
			return
		}
		c.mu.Lock()
		c.session.appendFinal(ev.Text)
		c.mu.Unlock()
		c.events.FinalTranscript(ev.Text)
	case domain.TerminationEvent:
		c.logger.Info("transcription session terminated",
			"audio_duration", ev.AudioDuration,
			"session_duration", ev.SessionDuration,
		)
		c.setReason(domain.SessionReasonTerminationReceived)
		c.Finalize(ctx)
	}
}

// Finalize writes notes and audio, stops the audio source and closes the
// stream. It may be called any number of times; completed steps are not
// repeated.
func (c *SessionController) Finalize(ctx context.Context) domain.FinalizeResult {
	ctx = context.WithoutCancel(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.session.stopRequested = true
	reason := c.reason
	if reason == "" {
		reason = domain.SessionReasonFinalized
	}
	c.events.SessionStateChanged(domain.SessionStateFinalizing, reason)

	var result domain.FinalizeResult
	collect := func(err error) {
		if err != nil {
			result.Errors = append(result.Errors, err)
		}
	}

	collect(runStep(c.logger, c.events, domain.ErrorCodeNotes, func() error {
		path, err := c.writer.writeNotes(ctx, c.session)
		if path != "" {
			c.notesPath = path
		}
		return err
	}))
	collect(runStep(c.logger, c.events, domain.ErrorCodeArtifact, func() error {
		path, err := c.writer.writeAudio(c.session)
		if path != "" {
			c.audioPath = path
		}
		return err
	}))
	collect(runStep(c.logger, c.events, domain.ErrorCodeAudioStop, c.stopAudioLocked))
	collect(runStep(c.logger, c.events, domain.ErrorCodeTranscription, c.closeStreamLocked))

	c.session.finalized = true
	result.NotesPath = c.notesPath
	result.AudioPath = c.audioPath

	c.events.SessionStateChanged(domain.SessionStateClosed, domain.SessionReasonFinalized)
	return result
}

// Run starts the session and processes audio, transcription events and
// cancellation of ctx until the session has been finalized. The returned
// error is non-nil only for startup failures and faults.
func (c *SessionController) Run(ctx context.Context) (result domain.SessionResult, err error) {
	if err := c.Start(ctx); err != nil {
		return c.result(), err
	}

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("session fault", "panic", r, "stack", string(debug.Stack()))
			c.reportFault(r)
			c.mu.Lock()
			c.reason = domain.SessionReasonFault
			c.mu.Unlock()
			c.finalizeAfterFault(ctx)
			result = c.result()
			err = fmt.Errorf("%w: %v", ErrSessionFault, r)
		}
		c.haltPump()
	}()

	c.mu.Lock()
	frames := c.pump.frames
	events := c.stream.Events()
	c.mu.Unlock()

	interrupted := ctx.Done()
	var grace <-chan time.Time
	shuttingDown := false

	for !c.isFinalized() {
		select {
		case frame, ok := <-frames:
			if ok {
				c.forwardFrame(frame)
				continue
			}
			frames = nil
			if shuttingDown {
				continue
			}
			if pumpErr := c.pump.err; pumpErr != nil {
				c.logger.Error("audio capture failed", "error", pumpErr)
				c.events.SessionError(domain.ErrorCodeAudioStream, fmt.Sprintf("audio capture error: %v", pumpErr))
			}
			c.setReason(domain.SessionReasonAudioEnded)
			shuttingDown = true
			grace = c.beginShutdown()

		case event, ok := <-events:
			if ok {
				c.OnEvent(ctx, event)
				continue
			}
			events = nil
			c.setReason(domain.SessionReasonStreamClosed)
			c.Finalize(ctx)

		case <-interrupted:
			interrupted = nil
			c.logger.Info("interrupt received, finishing session")
			c.setReason(domain.SessionReasonInterrupted)
			shuttingDown = true
			grace = c.beginShutdown()

		case <-grace:
			c.Finalize(ctx)
		}
	}

	return c.result(), nil
}

// beginShutdown stops capture and asks the service to terminate, leaving the
// stream open so trailing turns still arrive. It returns the channel that
// fires when the grace period is over.
func (c *SessionController) beginShutdown() <-chan time.Time {
	func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.session.stopRequested = true
		if err := c.stopAudioLocked(); err != nil {
			c.events.SessionError(domain.ErrorCodeAudioStop, "failed to stop audio capture cleanly")
		}
		if c.streamOpen {
			if err := c.closeSendLocked(); err != nil {
				c.logger.Warn("failed to end audio stream", "error", err)
				c.events.SessionError(domain.ErrorCodeTranscription, err.Error())
			}
		}
	}()

	c.events.SessionStateChanged(domain.SessionStateFinalizing, c.currentReason())

	if c.cfg.StreamingGrace <= 0 {
		// Fires on the next loop iteration.
		ch := make(chan time.Time, 1)
		ch <- time.Now()
		return ch
	}
	return time.After(c.cfg.StreamingGrace)
}

func (c *SessionController) forwardFrame(frame []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session.stopRequested || !c.streamOpen {
		return
	}
	c.session.appendFrame(frame)
	if err := c.stream.SendAudio(frame); err != nil && !c.sendFailed {
		c.sendFailed = true
		c.logger.Warn("failed to stream audio", "error", err)
		c.events.SessionError(domain.ErrorCodeAudioStream, fmt.Sprintf("failed to stream audio: %v", err))
	}
}

func (c *SessionController) stopAudioLocked() error {
	if c.pump != nil {
		c.pump.halt()
	}
	if !c.audioRunning {
		return nil
	}
	c.audioRunning = false
	if err := c.audioSession.Stop(); err != nil {
		return fmt.Errorf("failed to stop audio capture: %w", err)
	}
	return nil
}

func (c *SessionController) closeStreamLocked() error {
	if !c.streamOpen {
		return nil
	}
	c.streamOpen = false
	closeErr := c.closeSendLocked()
	if err := waitForStream(c.stream, c.cfg.CloseTimeout); err != nil {
		return errors.Join(closeErr, fmt.Errorf("transcription stream ended with error: %w", err))
	}
	return closeErr
}

// closeSendLocked tells the peer no more audio follows. Only the first call
// reaches the stream, so a failure is reported once.
func (c *SessionController) closeSendLocked() error {
	if c.closeSent {
		return nil
	}
	c.closeSent = true
	if err := c.stream.CloseSend(); err != nil {
		return fmt.Errorf("failed to end audio stream: %w", err)
	}
	return nil
}

func (c *SessionController) haltPump() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pump != nil {
		c.pump.halt()
	}
}

// finalizeAfterFault runs Finalize for a session that already panicked; a
// second panic is logged instead of escaping.
func (c *SessionController) finalizeAfterFault(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("finalize after fault failed", "panic", r)
		}
	}()
	c.Finalize(ctx)
}

func (c *SessionController) reportFault(r any) {
	defer func() { _ = recover() }()
	c.events.SessionError(domain.ErrorCodeFault, fmt.Sprint(r))
}

func (c *SessionController) setReason(reason domain.SessionStateReason) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reason == "" {
		c.reason = reason
	}
}

func (c *SessionController) currentReason() domain.SessionStateReason {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

func (c *SessionController) isFinalized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.finalized
}

func (c *SessionController) result() domain.SessionResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	reason := c.reason
	if reason == "" {
		reason = domain.SessionReasonFinalized
	}
	return domain.SessionResult{
		Reason:     reason,
		Transcript: c.session.fullTranscript(),
		NotesPath:  c.notesPath,
		AudioPath:  c.audioPath,
	}
}
