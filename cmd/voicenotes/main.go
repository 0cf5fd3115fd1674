// Command voicenotes records a voice note, transcribes it live and writes
// markdown notes plus the raw recording to the working directory.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"voicenotes/internal/audio/portaudio"
	"voicenotes/internal/bootstrap"
	"voicenotes/internal/config"
	"voicenotes/internal/console"
	"voicenotes/internal/usecase"
)

const usage = `usage: voicenotes [flags] [record | play <file.wav>]

Commands:
  record        capture the microphone until Ctrl+C, then write notes (default)
  play <file>   play back a recorded WAV file

Flags:
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout io.Writer, stderr io.Writer) int {
	flags := flag.NewFlagSet("voicenotes", flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.Usage = func() {
		fmt.Fprint(stderr, usage)
		flags.PrintDefaults()
	}
	configPath := flags.String("config", "", "path to an optional YAML configuration file")
	envFile := flags.String("env-file", ".env", "dotenv file with credentials")
	logLevel := flags.String("log-level", "", "debug, info, warn or error (overrides VOICENOTES_LOG_LEVEL)")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintf(stderr, "voicenotes: %v\n", err)
		return 1
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "voicenotes: %v\n", err)
		return 1
	}

	level := cfg.SlogLevel()
	if *logLevel != "" {
		level = config.ParseLogLevel(*logLevel)
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	command, rest := "record", flags.Args()
	if len(rest) > 0 {
		command, rest = rest[0], rest[1:]
	}

	switch command {
	case "record":
		return record(ctx, cfg, logger, stdout, stderr)
	case "play":
		if len(rest) != 1 {
			flags.Usage()
			return 2
		}
		return play(ctx, rest[0], logger, stderr)
	default:
		fmt.Fprintf(stderr, "voicenotes: unknown command %q\n", command)
		flags.Usage()
		return 2
	}
}

func record(ctx context.Context, cfg config.Config, logger *slog.Logger, stdout io.Writer, stderr io.Writer) int {
	// Credentials are checked before anything connects.
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "voicenotes: %v\n", err)
		return 1
	}

	services, err := bootstrap.Build(cfg, console.NewSink(stdout), logger)
	if err != nil {
		fmt.Fprintf(stderr, "voicenotes: %v\n", err)
		return 1
	}

	result, err := services.Controller.Run(ctx)
	switch {
	case errors.Is(err, usecase.ErrSessionFault):
		logger.Error("session ended with a fault", "error", err, "notes", result.NotesPath, "audio", result.AudioPath)
		// Give pending output a moment to land before exiting.
		time.Sleep(cfg.Session.ExitGrace)
		return 1
	case err != nil:
		logger.Error("session failed to start", "error", err)
		return 1
	}

	logger.Info("session finished",
		"reason", result.Reason,
		"notes", result.NotesPath,
		"audio", result.AudioPath,
		"transcript_chars", len(result.Transcript),
	)
	return 0
}

func play(ctx context.Context, path string, logger *slog.Logger, stderr io.Writer) int {
	player := portaudio.NewPlayer(logger.With("component", "player"))
	if err := player.PlayFile(ctx, path); err != nil {
		if errors.Is(err, context.Canceled) {
			return 0
		}
		fmt.Fprintf(stderr, "voicenotes: %v\n", err)
		return 1
	}
	return 0
}
