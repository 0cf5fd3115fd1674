package assemblyai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"voicenotes/internal/domain"
	"voicenotes/internal/ports"
)

const defaultStreamingURL = "wss://streaming.assemblyai.com/v3/ws"

var (
	// ErrMissingAPIKey is returned before dialing when no key is configured.
	ErrMissingAPIKey = errors.New("ASSEMBLYAI_API_KEY is not configured")
	// ErrSendBacklog is returned when the socket is not keeping up; the
	// chunk is dropped rather than blocking the caller.
	ErrSendBacklog = errors.New("audio send buffer is full")
)

// Config controls AssemblyAI websocket settings.
type Config struct {
	APIKey       string
	StreamingURL string
	FormatTurns  bool
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	Logger       *slog.Logger
}

// Provider implements ports.TranscriptionProvider for AssemblyAI's v3
// streaming API.
type Provider struct {
	cfg    Config
	dialer *websocket.Dialer
}

func NewProvider(cfg Config) *Provider {
	if cfg.StreamingURL == "" {
		cfg.StreamingURL = defaultStreamingURL
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Provider{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.DialTimeout,
		},
	}
}

func (p *Provider) StartStreaming(ctx context.Context, cfg ports.StreamingConfig) (ports.StreamingSession, error) {
	if strings.TrimSpace(p.cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}

	wsURL, err := buildStreamingURL(p.cfg, cfg)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	headers.Set("Authorization", p.cfg.APIKey)

	conn, resp, err := p.dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect to AssemblyAI websocket (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to connect to AssemblyAI websocket: %w", err)
	}

	session := &streamingSession{
		conn:        conn,
		logger:      p.cfg.Logger,
		formatTurns:  p.cfg.FormatTurns,
		writeTimeout: p.cfg.WriteTimeout,
		events:       make(chan domain.TranscriptionEvent, 64),
		audio:        make(chan []byte, 32),
		done:         make(chan struct{}),
		closing:      make(chan struct{}),
		readDone:     make(chan struct{}),
		writeFailed:  make(chan struct{}),
	}

	session.wg.Add(2)
	go session.readLoop()
	go session.writeLoop()
	go func() {
		session.wg.Wait()
		close(session.events)
		close(session.done)
		_ = conn.Close()
	}()

	go func() {
		select {
		case <-ctx.Done():
			_ = session.Close()
		case <-session.done:
		}
	}()

	return session, nil
}

type streamingSession struct {
	conn         *websocket.Conn
	logger       *slog.Logger
	formatTurns  bool
	writeTimeout time.Duration

	events      chan domain.TranscriptionEvent
	audio       chan []byte
	done        chan struct{}
	closing     chan struct{}
	readDone    chan struct{}
	writeFailed chan struct{}

	wg sync.WaitGroup

	errMu sync.Mutex
	err   error

	closeSendOnce sync.Once
	closeOnce     sync.Once
	sendMu        sync.RWMutex
	sendClosed    bool
}

// SendAudio queues chunk for the write loop without waiting on the network.
func (s *streamingSession) SendAudio(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}

	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.sendClosed {
		return errors.New("audio stream is already closed")
	}

	select {
	case <-s.writeFailed:
		if err := s.waitErr(); err != nil {
			return err
		}
		return errors.New("audio stream is no longer writable")
	case <-s.done:
		if err := s.waitErr(); err != nil {
			return err
		}
		return errors.New("session closed")
	default:
	}

	copied := append([]byte(nil), chunk...)
	select {
	case s.audio <- copied:
		return nil
	default:
		return ErrSendBacklog
	}
}

// CloseSend stops audio forwarding; the write loop then sends Terminate.
func (s *streamingSession) CloseSend() error {
	s.closeSendOnce.Do(func() {
		s.sendMu.Lock()
		s.sendClosed = true
		close(s.audio)
		s.sendMu.Unlock()
	})
	return nil
}

func (s *streamingSession) Events() <-chan domain.TranscriptionEvent {
	return s.events
}

func (s *streamingSession) Wait() error {
	<-s.done
	return s.waitErr()
}

func (s *streamingSession) Close() error {
	s.closeOnce.Do(func() {
		close(s.closing)
		_ = s.CloseSend()
		_ = s.conn.Close()
	})
	<-s.done
	return s.waitErr()
}

func (s *streamingSession) waitErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *streamingSession) setErr(err error) {
	if err == nil {
		return
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		return
	}

	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *streamingSession) closingRequested() bool {
	select {
	case <-s.closing:
		return true
	default:
		return false
	}
}

// peerGone reports whether writing is pointless: either Close was called or
// the read side already saw the connection end.
func (s *streamingSession) peerGone() bool {
	if s.closingRequested() {
		return true
	}
	select {
	case <-s.readDone:
		return true
	default:
		return false
	}
}

func (s *streamingSession) writeLoop() {
	defer s.wg.Done()

	for chunk := range s.audio {
		if err := s.write(websocket.BinaryMessage, chunk); err != nil {
			if !s.peerGone() {
				s.setErr(fmt.Errorf("failed to send audio: %w", err))
			}
			close(s.writeFailed)
			for range s.audio {
			}
			return
		}
	}

	if s.peerGone() {
		return
	}
	if err := s.write(websocket.TextMessage, []byte(`{"type":"Terminate"}`)); err != nil {
		s.setErr(fmt.Errorf("failed to send terminate: %w", err))
	}
}

// write bounds every frame by the write timeout so a peer that stops
// reading fails the write instead of stalling it.
func (s *streamingSession) write(messageType int, payload []byte) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
		return err
	}
	return s.conn.WriteMessage(messageType, payload)
}

func (s *streamingSession) readLoop() {
	defer s.wg.Done()
	defer func() { _ = s.CloseSend() }()
	defer close(s.readDone)

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			if !s.closingRequested() {
				s.setErr(fmt.Errorf("failed to read provider event: %w", err))
			}
			return
		}

		event, err := ParseEvent(payload, s.formatTurns)
		if err != nil {
			var serverErr *ServerError
			switch {
			case errors.As(err, &serverErr):
				s.logger.Error("transcription service reported an error", "error", serverErr.Message)
				s.setErr(serverErr)
			case errors.Is(err, ErrUnknownEvent):
			default:
				s.logger.Warn("dropping malformed transcription event", "error", err)
			}
			continue
		}

		if !s.emit(event) {
			return
		}
	}
}

func (s *streamingSession) emit(event domain.TranscriptionEvent) bool {
	select {
	case s.events <- event:
		return true
	case <-s.closing:
		return false
	}
}

func buildStreamingURL(providerCfg Config, streamCfg ports.StreamingConfig) (string, error) {
	base := strings.TrimSpace(providerCfg.StreamingURL)
	if base == "" {
		base = defaultStreamingURL
	}

	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}

	streamURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid AssemblyAI streaming URL: %w", err)
	}
	if streamURL.Scheme != "ws" && streamURL.Scheme != "wss" {
		return "", fmt.Errorf("invalid AssemblyAI streaming URL scheme %q", streamURL.Scheme)
	}

	if streamCfg.Encoding == "" {
		streamCfg.Encoding = "pcm_s16le"
	}
	if streamCfg.SampleRate <= 0 {
		streamCfg.SampleRate = 16000
	}

	query := streamURL.Query()
	query.Set("sample_rate", strconv.Itoa(streamCfg.SampleRate))
	query.Set("format_turns", strconv.FormatBool(providerCfg.FormatTurns))
	query.Set("encoding", streamCfg.Encoding)
	streamURL.RawQuery = query.Encode()
	return streamURL.String(), nil
}
