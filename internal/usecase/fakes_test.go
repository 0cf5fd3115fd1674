package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"voicenotes/internal/domain"
	"voicenotes/internal/ports"
)

type fakeAudioCapture struct {
	session ports.AudioSession
	err     error
	calls   int
}

func (f *fakeAudioCapture) Start(_ context.Context, _ ports.AudioConfig) (ports.AudioSession, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.session, nil
}

// fakeAudioSession yields its chunks and then behaves like an open
// microphone: Read blocks until Stop, unless eof or readErr is set.
type fakeAudioSession struct {
	mu        sync.Mutex
	chunks    [][]byte
	index     int
	eof       bool
	readErr   error
	stopCalls int
	stopErr   error

	stopOnce sync.Once
	stopped  chan struct{}
}

func newFakeAudioSession(chunks ...[]byte) *fakeAudioSession {
	return &fakeAudioSession{chunks: chunks, stopped: make(chan struct{})}
}

func (f *fakeAudioSession) Read(p []byte) (int, error) {
	f.mu.Lock()
	if f.index < len(f.chunks) {
		n := copy(p, f.chunks[f.index])
		f.index++
		f.mu.Unlock()
		return n, nil
	}
	eof, readErr := f.eof, f.readErr
	f.mu.Unlock()

	if readErr != nil {
		return 0, readErr
	}
	if eof {
		return 0, io.EOF
	}
	<-f.stopped
	return 0, io.EOF
}

func (f *fakeAudioSession) Close() error { return nil }

func (f *fakeAudioSession) Stop() error {
	f.mu.Lock()
	f.stopCalls++
	err := f.stopErr
	f.mu.Unlock()
	f.stopOnce.Do(func() { close(f.stopped) })
	return err
}

func (f *fakeAudioSession) stops() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopCalls
}

type fakeProvider struct {
	session ports.StreamingSession
	err     error
	calls   int
}

func (f *fakeProvider) StartStreaming(_ context.Context, _ ports.StreamingConfig) (ports.StreamingSession, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.session, nil
}

// fakeStream plays script once the first audio chunk arrives, optionally
// ending the stream right after it. onCloseSend plays the part of a peer
// answering the terminate notice.
type fakeStream struct {
	mu             sync.Mutex
	events         chan domain.TranscriptionEvent
	done           chan struct{}
	sent           [][]byte
	script         []domain.TranscriptionEvent
	endAfterScript bool
	onFirstSend    func()
	onCloseSend    func(f *fakeStream)
	scriptPlayed   bool
	closeSendCalls int
	closeCalls     int
	finished       bool
	sendErr        error
	closeSendErr   error
	waitErr        error
}

func newFakeStream(script ...domain.TranscriptionEvent) *fakeStream {
	return &fakeStream{
		events: make(chan domain.TranscriptionEvent, 64),
		done:   make(chan struct{}),
		script: script,
	}
}

func (f *fakeStream) SendAudio(chunk []byte) error {
	f.mu.Lock()
	if f.sendErr != nil {
		f.mu.Unlock()
		return f.sendErr
	}
	f.sent = append(f.sent, append([]byte(nil), chunk...))
	first := !f.scriptPlayed
	f.scriptPlayed = true
	f.mu.Unlock()

	if !first {
		return nil
	}
	for _, event := range f.script {
		f.emit(event)
	}
	if f.onFirstSend != nil {
		f.onFirstSend()
	}
	if f.endAfterScript {
		f.finish()
	}
	return nil
}

func (f *fakeStream) CloseSend() error {
	f.mu.Lock()
	f.closeSendCalls++
	first := f.closeSendCalls == 1
	hook := f.onCloseSend
	err := f.closeSendErr
	f.mu.Unlock()

	if first && hook != nil {
		hook(f)
	}
	return err
}

func (f *fakeStream) Events() <-chan domain.TranscriptionEvent { return f.events }

func (f *fakeStream) Wait() error {
	<-f.done
	return f.waitErr
}

func (f *fakeStream) Close() error {
	f.mu.Lock()
	f.closeCalls++
	f.mu.Unlock()
	f.finish()
	return f.waitErr
}

func (f *fakeStream) emit(event domain.TranscriptionEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.finished {
		return
	}
	f.events <- event
}

func (f *fakeStream) finish() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.finished {
		return
	}
	f.finished = true
	close(f.events)
	close(f.done)
}

func (f *fakeStream) snapshot() (sent int, closeSend int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent), f.closeSendCalls
}

// endOnCloseSend answers the terminate notice the way the service does.
func endOnCloseSend(f *fakeStream) {
	f.emit(domain.TerminationEvent{AudioDuration: time.Second, SessionDuration: time.Second})
	f.finish()
}

type fakeGenerator struct {
	mu    sync.Mutex
	calls []string
	err   error
	panic bool
}

func (f *fakeGenerator) Generate(_ context.Context, transcript string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, transcript)
	if f.panic {
		panic("generator exploded")
	}
	if f.err != nil {
		return "", f.err
	}
	return "notes: " + transcript, nil
}

func (f *fakeGenerator) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeStore struct {
	mu       sync.Mutex
	notes    []string
	audio    [][]byte
	notesErr error
	audioErr error
}

func (f *fakeStore) SaveNotes(text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.notesErr != nil {
		return "", f.notesErr
	}
	f.notes = append(f.notes, text)
	return fmt.Sprintf("notes_%d.md", len(f.notes)), nil
}

func (f *fakeStore) SaveAudio(data []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.audioErr != nil {
		return "", f.audioErr
	}
	f.audio = append(f.audio, append([]byte(nil), data...))
	return fmt.Sprintf("recorded_audio_%d.wav", len(f.audio)), nil
}

func (f *fakeStore) counts() (notes int, audio int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.notes), len(f.audio)
}

type fakeClipboard struct {
	lastText string
	err      error
}

func (f *fakeClipboard) SetText(_ context.Context, text string) error {
	f.lastText = text
	return f.err
}

type fakeEventSink struct {
	mu sync.Mutex

	states         []stateEvent
	began          []string
	partials       []string
	finals         []string
	artifacts      []domain.ArtifactKind
	errors         []errEvent
	panicOnPartial bool
}

type stateEvent struct {
	state  domain.SessionState
	reason domain.SessionStateReason
}

type errEvent struct {
	code   domain.ErrorCode
	detail string
}

func (f *fakeEventSink) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, stateEvent{state: state, reason: reason})
}

func (f *fakeEventSink) SessionBegan(id string, _ time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.began = append(f.began, id)
}

func (f *fakeEventSink) PartialTranscript(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicOnPartial {
		panic("sink exploded")
	}
	f.partials = append(f.partials, text)
}

func (f *fakeEventSink) FinalTranscript(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finals = append(f.finals, text)
}

func (f *fakeEventSink) ArtifactSaved(kind domain.ArtifactKind, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.artifacts = append(f.artifacts, kind)
}

func (f *fakeEventSink) SessionError(code domain.ErrorCode, detail string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, errEvent{code: code, detail: detail})
}

func (f *fakeEventSink) snapshotStates() []stateEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]stateEvent, len(f.states))
	copy(out, f.states)
	return out
}

func (f *fakeEventSink) snapshotErrors() []errEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]errEvent, len(f.errors))
	copy(out, f.errors)
	return out
}

func (f *fakeEventSink) hasError(code domain.ErrorCode) bool {
	for _, e := range f.snapshotErrors() {
		if e.code == code {
			return true
		}
	}
	return false
}

var errBoom = errors.New("boom")
