package portaudio

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/gordonklaus/portaudio"

	"voicenotes/internal/audio"
)

const playbackFrames = 1024

// Player plays recorded WAV files on the default output device.
type Player struct {
	logger *slog.Logger
}

func NewPlayer(logger *slog.Logger) *Player {
	if logger == nil {
		logger = slog.Default()
	}
	return &Player{logger: logger}
}

// PlayFile blocks until the file has played or ctx is cancelled.
func (p *Player) PlayFile(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open audio file: %w", err)
	}
	defer f.Close()

	clip, err := audio.LoadWAV(f)
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	p.logger.Info("playing recording", "path", path, "duration", clip.Duration(), "sample_rate", clip.SampleRate)

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize portaudio: %w", err)
	}
	defer portaudio.Terminate()

	out := make([]int16, playbackFrames*clip.Channels)
	stream, err := portaudio.OpenDefaultStream(0, clip.Channels, float64(clip.SampleRate), playbackFrames, out)
	if err != nil {
		return fmt.Errorf("failed to open output stream: %w", err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return fmt.Errorf("failed to start output stream: %w", err)
	}
	defer stream.Stop()

	for offset := 0; offset < len(clip.Samples); offset += len(out) {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := copy(out, clip.Samples[offset:])
		clear(out[n:])
		if err := stream.Write(); err != nil {
			return fmt.Errorf("failed to write to output stream: %w", err)
		}
	}
	return nil
}
