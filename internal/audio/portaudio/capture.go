// Package portaudio records from and plays to the default sound devices
// through PortAudio.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"

	"voicenotes/internal/audio"
	"voicenotes/internal/ports"
)

// Capture implements ports.AudioCapture for the default input device.
type Capture struct {
	logger *slog.Logger
}

func NewCapture(logger *slog.Logger) *Capture {
	if logger == nil {
		logger = slog.Default()
	}
	return &Capture{logger: logger}
}

func (c *Capture) Start(_ context.Context, cfg ports.AudioConfig) (ports.AudioSession, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.FramesPerBuffer <= 0 {
		cfg.FramesPerBuffer = cfg.SampleRate / 10
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize portaudio: %w", err)
	}

	in := make([]int16, cfg.FramesPerBuffer*cfg.Channels)
	stream, err := portaudio.OpenDefaultStream(cfg.Channels, 0, float64(cfg.SampleRate), cfg.FramesPerBuffer, in)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("failed to open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("failed to start input stream: %w", err)
	}

	pr, pw := io.Pipe()
	s := &captureSession{
		stream: stream,
		in:     in,
		reader: pr,
		writer: pw,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: c.logger,
	}
	go s.loop()
	return s, nil
}

type captureSession struct {
	stream *portaudio.Stream
	in     []int16
	reader *io.PipeReader
	writer *io.PipeWriter
	logger *slog.Logger

	stop chan struct{}
	done chan struct{}

	stopOnce sync.Once
	stopErr  error
}

// loop copies device buffers into the pipe as little-endian PCM.
func (s *captureSession) loop() {
	defer close(s.done)

	buf := make([]byte, 0, len(s.in)*2)
	for {
		select {
		case <-s.stop:
			_ = s.writer.Close()
			return
		default:
		}

		if err := s.stream.Read(); err != nil {
			if errors.Is(err, portaudio.InputOverflowed) {
				s.logger.Warn("audio input overflowed, samples were dropped")
				continue
			}
			_ = s.writer.CloseWithError(fmt.Errorf("failed to read from input device: %w", err))
			return
		}

		buf = audio.AppendPCM(buf[:0], s.in)
		if _, err := s.writer.Write(buf); err != nil {
			return
		}
	}
}

func (s *captureSession) Read(p []byte) (int, error) {
	return s.reader.Read(p)
}

func (s *captureSession) Close() error {
	return s.Stop()
}

func (s *captureSession) Stop() error {
	s.stopOnce.Do(func() {
		close(s.stop)
		// Readers see EOF and a pending pipe write is released.
		_ = s.writer.Close()
		<-s.done

		err := s.stream.Stop()
		if closeErr := s.stream.Close(); err == nil {
			err = closeErr
		}
		if termErr := portaudio.Terminate(); err == nil {
			err = termErr
		}
		if err != nil {
			s.stopErr = fmt.Errorf("failed to stop input stream: %w", err)
		}
	})
	return s.stopErr
}
