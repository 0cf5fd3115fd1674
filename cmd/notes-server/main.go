// Command notes-server serves user accounts and generated notes over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"voicenotes/internal/config"
	"voicenotes/internal/metrics"
	"voicenotes/internal/notes"
	"voicenotes/internal/ports"
	"voicenotes/internal/providers/openai"
)

const shutdownTimeout = 10 * time.Second

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

func run(args []string, stderr io.Writer) int {
	flags := flag.NewFlagSet("notes-server", flag.ContinueOnError)
	flags.SetOutput(stderr)
	configPath := flags.String("config", "", "path to an optional YAML configuration file")
	envFile := flags.String("env-file", ".env", "dotenv file with credentials")
	addr := flags.String("addr", "", "listen address (overrides NOTES_SERVER_ADDR)")
	dataFile := flags.String("data", "", "JSON document path (overrides NOTES_SERVER_DATA_FILE)")
	useLLM := flags.Bool("llm", false, "generate notes with the OpenAI chat completion API")
	logLevel := flags.String("log-level", "", "debug, info, warn or error")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintf(stderr, "notes-server: %v\n", err)
		return 1
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "notes-server: %v\n", err)
		return 1
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *dataFile != "" {
		cfg.Server.DataFile = *dataFile
	}

	level := cfg.SlogLevel()
	if *logLevel != "" {
		level = config.ParseLogLevel(*logLevel)
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	store, err := notes.OpenStore(cfg.Server.DataFile)
	if err != nil {
		logger.Error("failed to open notes document", "path", cfg.Server.DataFile, "error", err)
		return 1
	}

	var generator ports.NoteGenerator = notes.EchoGenerator{}
	if *useLLM {
		g, err := openai.NewGenerator(openai.Config{
			APIKey:  cfg.OpenAI.APIKey,
			BaseURL: cfg.OpenAI.BaseURL,
			Model:   cfg.OpenAI.Model,
		})
		if err != nil {
			logger.Error("failed to create note generator", "error", err)
			return 1
		}
		generator = g
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           notes.NewServer(store, generator, metrics.New(), logger.With("component", "http")),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("notes server listening", "addr", srv.Addr, "data", cfg.Server.DataFile, "llm", *useLLM)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("notes server stopped", "error", err)
		return 1
	}
	logger.Info("notes server stopped")
	return 0
}
