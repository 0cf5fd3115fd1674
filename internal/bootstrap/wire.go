package bootstrap

import (
	"fmt"
	"log/slog"

	"voicenotes/internal/artifacts"
	"voicenotes/internal/audio"
	"voicenotes/internal/audio/portaudio"
	"voicenotes/internal/clipboard"
	"voicenotes/internal/config"
	"voicenotes/internal/ports"
	"voicenotes/internal/providers/assemblyai"
	"voicenotes/internal/providers/openai"
	"voicenotes/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Controller *usecase.SessionController
	Config     config.Config
}

// Build wires all recording dependencies for cfg.
func Build(cfg config.Config, eventSink ports.EventSink, logger *slog.Logger) (Services, error) {
	if logger == nil {
		logger = slog.Default()
	}

	capture, err := NewAudioCapture(cfg.Audio, logger)
	if err != nil {
		return Services{}, err
	}

	generator, err := openai.NewGenerator(openai.Config{
		APIKey:  cfg.OpenAI.APIKey,
		BaseURL: cfg.OpenAI.BaseURL,
		Model:   cfg.OpenAI.Model,
	})
	if err != nil {
		return Services{}, fmt.Errorf("failed to create note generator: %w", err)
	}

	controller := usecase.NewSessionController(
		capture,
		assemblyai.NewProvider(assemblyai.Config{
			APIKey:       cfg.AssemblyAI.APIKey,
			StreamingURL: cfg.AssemblyAI.StreamingURL,
			FormatTurns:  cfg.AssemblyAI.FormatTurns,
			Logger:       logger.With("component", "assemblyai"),
		}),
		generator,
		artifacts.NewStore(cfg.Output.Dir),
		clipboard.System{},
		eventSink,
		logger.With("component", "session"),
		usecase.Config{
			Audio: ports.AudioConfig{
				SampleRate:      cfg.Audio.SampleRate,
				Channels:        cfg.Audio.Channels,
				FramesPerBuffer: cfg.Audio.FramesPerBuffer,
				InputFormat:     cfg.Audio.InputFormat,
				InputDevice:     cfg.Audio.InputDevice,
			},
			Streaming: ports.StreamingConfig{
				SampleRate: cfg.Audio.SampleRate,
				Channels:   cfg.Audio.Channels,
				Encoding:   "pcm_s16le",
			},
			ChunkSize:      cfg.Session.ChunkSize,
			StreamingGrace: cfg.Session.StreamingGrace,
			CloseTimeout:   cfg.Session.CloseTimeout,
			CopyNotes:      cfg.Output.CopyNotes,
		},
	)

	return Services{Controller: controller, Config: cfg}, nil
}

// NewAudioCapture selects the microphone backend.
func NewAudioCapture(cfg config.AudioConfig, logger *slog.Logger) (ports.AudioCapture, error) {
	switch cfg.Backend {
	case config.BackendPortAudio, "":
		return portaudio.NewCapture(logger.With("component", "portaudio")), nil
	case config.BackendFFMPEG:
		return audio.NewFFMPEGCapture(cfg.RecorderCommand, logger.With("component", "ffmpeg")), nil
	default:
		return nil, fmt.Errorf("unknown audio backend %q", cfg.Backend)
	}
}
