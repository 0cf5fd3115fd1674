package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"voicenotes/internal/domain"
	"voicenotes/internal/ports"
)

type harness struct {
	audio     *fakeAudioSession
	capture   *fakeAudioCapture
	stream    *fakeStream
	provider  *fakeProvider
	generator *fakeGenerator
	store     *fakeStore
	clipboard *fakeClipboard
	events    *fakeEventSink
	cfg       Config
}

func newHarness(stream *fakeStream, chunks ...[]byte) *harness {
	audio := newFakeAudioSession(chunks...)
	return &harness{
		audio:     audio,
		capture:   &fakeAudioCapture{session: audio},
		stream:    stream,
		provider:  &fakeProvider{session: stream},
		generator: &fakeGenerator{},
		store:     &fakeStore{},
		clipboard: &fakeClipboard{},
		events:    &fakeEventSink{},
		cfg: Config{
			Audio:          ports.AudioConfig{SampleRate: 16000, Channels: 1},
			ChunkSize:      512,
			StreamingGrace: time.Second,
			CloseTimeout:   time.Second,
		},
	}
}

func (h *harness) controller() *SessionController {
	return NewSessionController(h.capture, h.provider, h.generator, h.store, h.clipboard, h.events, nil, h.cfg)
}

func runWithTimeout(t *testing.T, ctx context.Context, c *SessionController) (domain.SessionResult, error) {
	t.Helper()

	type outcome struct {
		result domain.SessionResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := c.Run(ctx)
		done <- outcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-time.After(5 * time.Second):
		t.Fatalf("session did not finish")
		return domain.SessionResult{}, nil
	}
}

func final(text string) domain.TurnEvent   { return domain.TurnEvent{Text: text, Final: true} }
func interim(text string) domain.TurnEvent { return domain.TurnEvent{Text: text} }

func TestOnEventAccumulatesOnlyFinalTurns(t *testing.T) {
	t.Parallel()

	h := newHarness(newFakeStream())
	c := h.controller()
	ctx := context.Background()

	for _, event := range []domain.TranscriptionEvent{
		interim("hel"),
		final("hello there"),
		interim("gen"),
		interim("general"),
		final("general kenobi"),
		interim("trailing"),
	} {
		c.OnEvent(ctx, event)
	}

	if got := c.session.fullTranscript(); got != "hello there general kenobi " {
		t.Fatalf("unexpected transcript: %q", got)
	}
	if len(h.events.partials) != 4 || len(h.events.finals) != 2 {
		t.Fatalf("unexpected display events: partials=%v finals=%v", h.events.partials, h.events.finals)
	}
}

func TestOnEventTrimsFinalsAndSkipsBlankOnes(t *testing.T) {
	t.Parallel()

	h := newHarness(newFakeStream())
	c := h.controller()
	ctx := context.Background()

	for _, event := range []domain.TranscriptionEvent{
		final("a"),
		final(""),
		final("   "),
		final("  b \n"),
	} {
		c.OnEvent(ctx, event)
	}

	if got := c.session.fullTranscript(); got != "a b " {
		t.Fatalf("unexpected transcript: %q", got)
	}

	c.Finalize(ctx)
	if calls := h.generator.snapshot(); len(calls) != 1 || calls[0] != "a b " {
		t.Fatalf("unexpected generator calls: %v", calls)
	}
}

func TestFinalizeWithOnlyBlankFinalsSkipsGenerator(t *testing.T) {
	t.Parallel()

	h := newHarness(newFakeStream())
	c := h.controller()
	ctx := context.Background()

	c.OnEvent(ctx, final(""))
	c.OnEvent(ctx, final(" \t "))
	c.Finalize(ctx)

	if calls := h.generator.snapshot(); len(calls) != 0 {
		t.Fatalf("generator should not run for blank finals: %v", calls)
	}
	if notes, _ := h.store.counts(); notes != 0 {
		t.Fatalf("expected no notes artifact, got %d", notes)
	}
}

func TestOnEventBeginIsDisplayOnly(t *testing.T) {
	t.Parallel()

	h := newHarness(newFakeStream())
	c := h.controller()
	c.OnEvent(context.Background(), domain.BeginEvent{SessionID: "s-1", ExpiresAt: time.Unix(1, 0)})

	if len(h.events.began) != 1 || h.events.began[0] != "s-1" {
		t.Fatalf("expected begin to be displayed, got %v", h.events.began)
	}
	if c.session.fullTranscript() != "" {
		t.Fatalf("begin must not touch the transcript")
	}
}

func TestFinalizeTwiceWritesNotesOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(newFakeStream())
	c := h.controller()
	ctx := context.Background()
	c.OnEvent(ctx, final("water the plants"))

	first := c.Finalize(ctx)
	second := c.Finalize(ctx)

	notes, audio := h.store.counts()
	if notes != 1 {
		t.Fatalf("expected one notes artifact, got %d", notes)
	}
	if audio != 0 {
		t.Fatalf("expected no audio artifact without frames, got %d", audio)
	}
	if calls := h.generator.snapshot(); len(calls) != 1 {
		t.Fatalf("expected one generator call, got %d", len(calls))
	}
	if first.NotesPath == "" || first.NotesPath != second.NotesPath {
		t.Fatalf("unexpected notes paths: %q %q", first.NotesPath, second.NotesPath)
	}
	if len(first.Errors) != 0 || len(second.Errors) != 0 {
		t.Fatalf("unexpected errors: %v %v", first.Errors, second.Errors)
	}
}

func TestFinalizeWithEmptyTranscriptSkipsGenerator(t *testing.T) {
	t.Parallel()

	h := newHarness(newFakeStream())
	c := h.controller()
	c.OnEvent(context.Background(), interim("only interim"))
	c.Finalize(context.Background())

	if calls := h.generator.snapshot(); len(calls) != 0 {
		t.Fatalf("generator must not run without final turns, got %v", calls)
	}
	if notes, _ := h.store.counts(); notes != 0 {
		t.Fatalf("expected no notes artifact, got %d", notes)
	}
}

func TestFinalizeStepsAreIndependent(t *testing.T) {
	t.Parallel()

	cases := map[string]func(h *harness){
		"generator error": func(h *harness) { h.generator.err = errBoom },
		"generator panic": func(h *harness) { h.generator.panic = true },
		"notes save":      func(h *harness) { h.store.notesErr = errBoom },
	}

	for name, breakNotes := range cases {
		breakNotes := breakNotes
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			stream := newFakeStream()
			h := newHarness(stream)
			breakNotes(h)
			c := h.controller()
			ctx := context.Background()

			if err := c.Start(ctx); err != nil {
				t.Fatalf("start failed: %v", err)
			}
			c.OnEvent(ctx, final("something"))
			c.forwardFrame([]byte{1, 2, 3, 4})
			stream.onCloseSend = endOnCloseSend

			result := c.Finalize(ctx)
			if len(result.Errors) != 1 {
				t.Fatalf("expected exactly one step error, got %v", result.Errors)
			}
			if _, audio := h.store.counts(); audio != 1 {
				t.Fatalf("expected audio to be saved despite notes failure, got %d", audio)
			}
			if h.audio.stops() == 0 {
				t.Fatalf("expected audio source to be stopped")
			}
			if _, closeSend := stream.snapshot(); closeSend == 0 {
				t.Fatalf("expected stream to be closed")
			}
			if !h.events.hasError(domain.ErrorCodeNotes) {
				t.Fatalf("expected notes error event")
			}
		})
	}
}

func TestFinalizeAudioFailureStillWritesNotes(t *testing.T) {
	t.Parallel()

	h := newHarness(newFakeStream())
	h.store.audioErr = errBoom
	c := h.controller()
	ctx := context.Background()
	c.OnEvent(ctx, final("keep me"))
	c.session.appendFrame([]byte{0, 0})

	result := c.Finalize(ctx)
	if len(result.Errors) != 1 || !errors.Is(result.Errors[0], errBoom) {
		t.Fatalf("expected audio save error, got %v", result.Errors)
	}
	if notes, _ := h.store.counts(); notes != 1 {
		t.Fatalf("expected notes artifact, got %d", notes)
	}
	if !h.events.hasError(domain.ErrorCodeArtifact) {
		t.Fatalf("expected artifact error event")
	}
}

func TestFinalizeRetriesNotesSaveWithoutRegenerating(t *testing.T) {
	t.Parallel()

	h := newHarness(newFakeStream())
	h.store.notesErr = errBoom
	c := h.controller()
	ctx := context.Background()
	c.OnEvent(ctx, final("retry"))

	c.Finalize(ctx)
	h.store.mu.Lock()
	h.store.notesErr = nil
	h.store.mu.Unlock()
	c.Finalize(ctx)

	if notes, _ := h.store.counts(); notes != 1 {
		t.Fatalf("expected notes to be saved on retry, got %d", notes)
	}
	if calls := h.generator.snapshot(); len(calls) != 1 {
		t.Fatalf("expected a single generator call, got %d", len(calls))
	}
}

func TestFinalizeCopiesNotesWhenEnabled(t *testing.T) {
	t.Parallel()

	h := newHarness(newFakeStream())
	h.cfg.CopyNotes = true
	c := h.controller()
	ctx := context.Background()
	c.OnEvent(ctx, final("copy this"))
	c.Finalize(ctx)

	if h.clipboard.lastText != "notes: copy this " {
		t.Fatalf("unexpected clipboard text: %q", h.clipboard.lastText)
	}
}

func TestFinalizeClipboardFailureIsNonFatal(t *testing.T) {
	t.Parallel()

	h := newHarness(newFakeStream())
	h.cfg.CopyNotes = true
	h.clipboard.err = errBoom
	c := h.controller()
	ctx := context.Background()
	c.OnEvent(ctx, final("copy this"))

	result := c.Finalize(ctx)
	if len(result.Errors) != 0 {
		t.Fatalf("clipboard failure must not fail finalize: %v", result.Errors)
	}
	if result.NotesPath == "" {
		t.Fatalf("expected notes to be saved")
	}
	if !h.events.hasError(domain.ErrorCodeClipboard) {
		t.Fatalf("expected clipboard error event")
	}
}

func TestFramesAreIgnoredAfterFinalize(t *testing.T) {
	t.Parallel()

	stream := newFakeStream()
	stream.onCloseSend = endOnCloseSend
	h := newHarness(stream)
	c := h.controller()
	ctx := context.Background()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	c.Finalize(ctx)
	c.forwardFrame([]byte{1, 2})

	if sent, _ := stream.snapshot(); sent != 0 {
		t.Fatalf("expected no audio forwarded after finalize, got %d", sent)
	}
	if len(c.session.frames) != 0 {
		t.Fatalf("expected no frames recorded after finalize")
	}
}

func TestRunFinalizesOnTermination(t *testing.T) {
	t.Parallel()

	stream := newFakeStream(final("buy milk"), domain.TerminationEvent{})
	stream.onCloseSend = func(f *fakeStream) { f.finish() }
	h := newHarness(stream, []byte{1, 0, 2, 0}, []byte{3, 0})

	result, err := runWithTimeout(t, context.Background(), h.controller())
	if err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}

	assertOneOfEach(t, h)
	if result.Reason != domain.SessionReasonTerminationReceived {
		t.Fatalf("unexpected reason: %s", result.Reason)
	}
	if result.Transcript != "buy milk " {
		t.Fatalf("unexpected transcript: %q", result.Transcript)
	}
}

func TestRunFinalizesOnStreamClose(t *testing.T) {
	t.Parallel()

	stream := newFakeStream(final("call mom"))
	stream.endAfterScript = true
	h := newHarness(stream, []byte{1, 0, 2, 0})

	result, err := runWithTimeout(t, context.Background(), h.controller())
	if err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}

	assertOneOfEach(t, h)
	if result.Reason != domain.SessionReasonStreamClosed {
		t.Fatalf("unexpected reason: %s", result.Reason)
	}
}

func TestRunFinalizesOnInterruptAndKeepsLateTurns(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream := newFakeStream(final("first"))
	stream.onFirstSend = cancel
	stream.onCloseSend = func(f *fakeStream) {
		f.emit(final("late"))
		endOnCloseSend(f)
	}
	h := newHarness(stream, []byte{1, 0, 2, 0})

	result, err := runWithTimeout(t, ctx, h.controller())
	if err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}

	assertOneOfEach(t, h)
	if result.Reason != domain.SessionReasonInterrupted {
		t.Fatalf("unexpected reason: %s", result.Reason)
	}
	if result.Transcript != "first late " {
		t.Fatalf("expected late turn to be kept, got %q", result.Transcript)
	}
	if calls := h.generator.snapshot(); len(calls) != 1 || calls[0] != "first late " {
		t.Fatalf("unexpected generator calls: %v", calls)
	}
}

func TestRunInterruptWithoutPeerAnswerFinalizesAfterGrace(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream := newFakeStream(final("quiet"))
	stream.onFirstSend = cancel
	h := newHarness(stream, []byte{1, 0})
	h.cfg.StreamingGrace = 20 * time.Millisecond
	h.cfg.CloseTimeout = 20 * time.Millisecond

	result, err := runWithTimeout(t, ctx, h.controller())
	if err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}
	assertOneOfEach(t, h)
	if result.Reason != domain.SessionReasonInterrupted {
		t.Fatalf("unexpected reason: %s", result.Reason)
	}
	if stream.closeCalls == 0 {
		t.Fatalf("expected stream to be force-closed after the close timeout")
	}
}

func TestRunEndToEndGeneratesNotesOnce(t *testing.T) {
	t.Parallel()

	stream := newFakeStream(
		domain.BeginEvent{SessionID: "abc"},
		final("buy milk"),
		interim("call mom"),
		final("call mom"),
		domain.TerminationEvent{},
	)
	stream.onCloseSend = func(f *fakeStream) { f.finish() }
	h := newHarness(stream, []byte{1, 0})

	if _, err := runWithTimeout(t, context.Background(), h.controller()); err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}

	calls := h.generator.snapshot()
	if len(calls) != 1 {
		t.Fatalf("expected one generator call, got %d", len(calls))
	}
	if calls[0] != "buy milk call mom " {
		t.Fatalf("unexpected transcript: %q", calls[0])
	}
}

func TestRunAudioErrorFinalizes(t *testing.T) {
	t.Parallel()

	stream := newFakeStream(final("partial recording"))
	stream.onCloseSend = endOnCloseSend
	h := newHarness(stream, []byte{1, 0})
	h.audio.readErr = errors.New("device unplugged")
	h.cfg.StreamingGrace = 0

	result, err := runWithTimeout(t, context.Background(), h.controller())
	if err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}
	if result.Reason != domain.SessionReasonAudioEnded {
		t.Fatalf("unexpected reason: %s", result.Reason)
	}
	if !h.events.hasError(domain.ErrorCodeAudioStream) {
		t.Fatalf("expected audio stream error event")
	}
	if _, audio := h.store.counts(); audio != 1 {
		t.Fatalf("expected recorded audio to be saved, got %d", audio)
	}
}

func TestRunFaultFinalizesAndReportsFault(t *testing.T) {
	t.Parallel()

	stream := newFakeStream(final("before the crash"), interim("boom"))
	stream.onCloseSend = func(f *fakeStream) { f.finish() }
	h := newHarness(stream, []byte{1, 0, 2, 0})
	h.events.panicOnPartial = true

	result, err := runWithTimeout(t, context.Background(), h.controller())
	if !errors.Is(err, ErrSessionFault) {
		t.Fatalf("expected ErrSessionFault, got %v", err)
	}
	assertOneOfEach(t, h)
	if result.Reason != domain.SessionReasonFault {
		t.Fatalf("unexpected reason: %s", result.Reason)
	}
	if !h.events.hasError(domain.ErrorCodeFault) {
		t.Fatalf("expected fault error event")
	}
}

func TestRunStartFailsWhenStreamCannotOpen(t *testing.T) {
	t.Parallel()

	h := newHarness(nil)
	h.provider = &fakeProvider{err: errors.New("missing key")}

	result, err := h.controller().Run(context.Background())
	if err == nil {
		t.Fatalf("expected startup error")
	}
	if h.capture.calls != 0 {
		t.Fatalf("audio must not start without a stream")
	}
	if result.Reason != domain.SessionReasonStartupFailed {
		t.Fatalf("unexpected reason: %s", result.Reason)
	}
	if !h.events.hasError(domain.ErrorCodeStartup) {
		t.Fatalf("expected startup error event")
	}
}

func TestStartAudioFailureClosesStream(t *testing.T) {
	t.Parallel()

	stream := newFakeStream()
	stream.onCloseSend = func(f *fakeStream) { f.finish() }
	h := newHarness(stream)
	h.capture.err = errors.New("no microphone")

	err := h.controller().Start(context.Background())
	if err == nil {
		t.Fatalf("expected audio start error")
	}
	if _, closeSend := stream.snapshot(); closeSend == 0 {
		t.Fatalf("expected stream to be closed after audio failure")
	}
	states := h.events.snapshotStates()
	if states[len(states)-1].state != domain.SessionStateClosed {
		t.Fatalf("expected session to be finalized, got %+v", states[len(states)-1])
	}
}

func TestRunReportsStreamSendFailureOnce(t *testing.T) {
	t.Parallel()

	stream := newFakeStream()
	stream.sendErr = errors.New("socket gone")
	h := newHarness(stream, []byte{1, 0}, []byte{2, 0}, []byte{3, 0})
	h.audio.eof = true
	h.cfg.StreamingGrace = 0
	stream.onCloseSend = func(f *fakeStream) { f.finish() }

	if _, err := runWithTimeout(t, context.Background(), h.controller()); err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}

	count := 0
	for _, e := range h.events.snapshotErrors() {
		if e.code == domain.ErrorCodeAudioStream {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected one audio stream error, got %d", count)
	}
}

func TestRunReportsStreamErrorOnClose(t *testing.T) {
	t.Parallel()

	stream := newFakeStream(final("x"))
	stream.endAfterScript = true
	stream.waitErr = errors.New("server said no")
	h := newHarness(stream, []byte{1, 0})

	if _, err := runWithTimeout(t, context.Background(), h.controller()); err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}
	if !h.events.hasError(domain.ErrorCodeTranscription) {
		t.Fatalf("expected transcription error event")
	}
	assertOneOfEach(t, h)
}

func TestRunReportsCloseSendFailureOnce(t *testing.T) {
	t.Parallel()

	stream := newFakeStream(final("ship it"))
	stream.closeSendErr = errors.New("terminate rejected")
	stream.onCloseSend = func(f *fakeStream) { f.finish() }
	h := newHarness(stream, []byte{1, 0}, []byte{2, 0})
	h.audio.eof = true
	h.cfg.StreamingGrace = 0

	if _, err := runWithTimeout(t, context.Background(), h.controller()); err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}

	var messages []string
	for _, e := range h.events.snapshotErrors() {
		if e.code == domain.ErrorCodeTranscription {
			messages = append(messages, e.detail)
		}
	}
	if len(messages) != 1 || !strings.Contains(messages[0], "terminate rejected") {
		t.Fatalf("expected one close error event, got %v", messages)
	}
	if _, closeSend := stream.snapshot(); closeSend != 1 {
		t.Fatalf("expected a single close request, got %d", closeSend)
	}
	assertOneOfEach(t, h)
}

func assertOneOfEach(t *testing.T, h *harness) {
	t.Helper()

	notes, audio := h.store.counts()
	if notes != 1 {
		t.Fatalf("expected exactly one notes artifact, got %d", notes)
	}
	if audio != 1 {
		t.Fatalf("expected exactly one audio artifact, got %d", audio)
	}
}
