package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrMissingCredentials is wrapped once per credential that is not set.
var ErrMissingCredentials = errors.New("missing credentials")

const (
	BackendPortAudio = "portaudio"
	BackendFFMPEG    = "ffmpeg"
)

// Config stores runtime configuration for the recorder and the notes server.
type Config struct {
	AssemblyAI AssemblyAIConfig
	OpenAI     OpenAIConfig
	Audio      AudioConfig
	Session    SessionConfig
	Output     OutputConfig
	Server     ServerConfig
	LogLevel   string
}

type AssemblyAIConfig struct {
	APIKey       string
	StreamingURL string
	FormatTurns  bool
}

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

type AudioConfig struct {
	Backend         string
	RecorderCommand string
	InputFormat     string
	InputDevice     string
	SampleRate      int
	Channels        int
	FramesPerBuffer int
}

type SessionConfig struct {
	ChunkSize      int
	StreamingGrace time.Duration
	CloseTimeout   time.Duration
	ExitGrace      time.Duration
}

type OutputConfig struct {
	Dir       string
	CopyNotes bool
}

type ServerConfig struct {
	Addr     string
	DataFile string
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		AssemblyAI: AssemblyAIConfig{
			StreamingURL: "wss://streaming.assemblyai.com/v3/ws",
			FormatTurns:  true,
		},
		OpenAI: OpenAIConfig{
			Model: "gpt-4o-mini",
		},
		Audio: AudioConfig{
			Backend:         BackendPortAudio,
			RecorderCommand: "ffmpeg",
			InputFormat:     "pulse",
			InputDevice:     "default",
			SampleRate:      16000,
			Channels:        1,
			FramesPerBuffer: 1600,
		},
		Session: SessionConfig{
			ChunkSize:      3200,
			StreamingGrace: 2 * time.Second,
			CloseTimeout:   4 * time.Second,
			ExitGrace:      2 * time.Second,
		},
		Output: OutputConfig{
			Dir:       ".",
			CopyNotes: false,
		},
		Server: ServerConfig{
			Addr:     ":8080",
			DataFile: "notes.json",
		},
		LogLevel: "info",
	}
}

// LoadDotEnv exports variables from the given .env files, or ./.env when
// none are named. Missing files are skipped and variables that are already
// set keep their value.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, file := range files {
		if err := godotenv.Load(file); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", file, err)
		}
	}
	return nil
}

// Load resolves configuration from defaults, an optional YAML file and
// environment variables, in increasing priority.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := applyYAML(&cfg, data); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	normalize(&cfg)
	return cfg, nil
}

// Validate checks what a recording session needs before anything connects.
// Every problem is reported at once.
func (c Config) Validate() error {
	var errs []error
	if c.AssemblyAI.APIKey == "" {
		errs = append(errs, fmt.Errorf("%w: ASSEMBLYAI_API_KEY is not set", ErrMissingCredentials))
	}
	if c.OpenAI.APIKey == "" {
		errs = append(errs, fmt.Errorf("%w: OPENAI_API_KEY is not set", ErrMissingCredentials))
	}
	switch c.Audio.Backend {
	case BackendPortAudio, BackendFFMPEG:
	default:
		errs = append(errs, fmt.Errorf("unknown audio backend %q (want %s or %s)", c.Audio.Backend, BackendPortAudio, BackendFFMPEG))
	}
	return errors.Join(errs...)
}

// SlogLevel maps LogLevel onto slog, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	return ParseLogLevel(c.LogLevel)
}

func ParseLogLevel(value string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type fileConfig struct {
	AssemblyAI struct {
		APIKey       string `yaml:"api_key"`
		StreamingURL string `yaml:"streaming_url"`
		FormatTurns  *bool  `yaml:"format_turns"`
	} `yaml:"assemblyai"`
	OpenAI struct {
		APIKey  string `yaml:"api_key"`
		BaseURL string `yaml:"base_url"`
		Model   string `yaml:"model"`
	} `yaml:"openai"`
	Audio struct {
		Backend         string `yaml:"backend"`
		FFMPEGCommand   string `yaml:"ffmpeg_command"`
		InputFormat     string `yaml:"input_format"`
		InputDevice     string `yaml:"input_device"`
		SampleRate      int    `yaml:"sample_rate"`
		Channels        int    `yaml:"channels"`
		FramesPerBuffer int    `yaml:"frames_per_buffer"`
	} `yaml:"audio"`
	Session struct {
		ChunkSize        int  `yaml:"chunk_size"`
		StreamingGraceMS *int `yaml:"streaming_grace_ms"`
		CloseTimeoutMS   int  `yaml:"close_timeout_ms"`
		ExitGraceMS      *int `yaml:"exit_grace_ms"`
	} `yaml:"session"`
	Output struct {
		Dir       string `yaml:"dir"`
		CopyNotes *bool  `yaml:"copy_notes"`
	} `yaml:"output"`
	Server struct {
		Addr     string `yaml:"addr"`
		DataFile string `yaml:"data_file"`
	} `yaml:"server"`
	LogLevel string `yaml:"log_level"`
}

func applyYAML(cfg *Config, data []byte) error {
	var fc fileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
		return err
	}

	setString(&cfg.AssemblyAI.APIKey, fc.AssemblyAI.APIKey)
	setString(&cfg.AssemblyAI.StreamingURL, fc.AssemblyAI.StreamingURL)
	if fc.AssemblyAI.FormatTurns != nil {
		cfg.AssemblyAI.FormatTurns = *fc.AssemblyAI.FormatTurns
	}

	setString(&cfg.OpenAI.APIKey, fc.OpenAI.APIKey)
	setString(&cfg.OpenAI.BaseURL, fc.OpenAI.BaseURL)
	setString(&cfg.OpenAI.Model, fc.OpenAI.Model)

	setString(&cfg.Audio.Backend, fc.Audio.Backend)
	setString(&cfg.Audio.RecorderCommand, fc.Audio.FFMPEGCommand)
	setString(&cfg.Audio.InputFormat, fc.Audio.InputFormat)
	setString(&cfg.Audio.InputDevice, fc.Audio.InputDevice)
	setInt(&cfg.Audio.SampleRate, fc.Audio.SampleRate)
	setInt(&cfg.Audio.Channels, fc.Audio.Channels)
	setInt(&cfg.Audio.FramesPerBuffer, fc.Audio.FramesPerBuffer)

	setInt(&cfg.Session.ChunkSize, fc.Session.ChunkSize)
	if ms := fc.Session.StreamingGraceMS; ms != nil && *ms >= 0 {
		cfg.Session.StreamingGrace = time.Duration(*ms) * time.Millisecond
	}
	if fc.Session.CloseTimeoutMS > 0 {
		cfg.Session.CloseTimeout = time.Duration(fc.Session.CloseTimeoutMS) * time.Millisecond
	}
	if ms := fc.Session.ExitGraceMS; ms != nil && *ms >= 0 {
		cfg.Session.ExitGrace = time.Duration(*ms) * time.Millisecond
	}

	setString(&cfg.Output.Dir, fc.Output.Dir)
	if fc.Output.CopyNotes != nil {
		cfg.Output.CopyNotes = *fc.Output.CopyNotes
	}

	setString(&cfg.Server.Addr, fc.Server.Addr)
	setString(&cfg.Server.DataFile, fc.Server.DataFile)
	setString(&cfg.LogLevel, fc.LogLevel)
	return nil
}

func applyEnv(cfg *Config) {
	cfg.AssemblyAI.APIKey = envOrDefault("ASSEMBLYAI_API_KEY", cfg.AssemblyAI.APIKey)
	cfg.AssemblyAI.StreamingURL = envOrDefault("ASSEMBLYAI_STREAMING_URL", cfg.AssemblyAI.StreamingURL)
	cfg.AssemblyAI.FormatTurns = envOrDefaultBool("ASSEMBLYAI_FORMAT_TURNS", cfg.AssemblyAI.FormatTurns)

	cfg.OpenAI.APIKey = envOrDefault("OPENAI_API_KEY", cfg.OpenAI.APIKey)
	cfg.OpenAI.BaseURL = envOrDefault("OPENAI_BASE_URL", cfg.OpenAI.BaseURL)
	cfg.OpenAI.Model = envOrDefault("OPENAI_MODEL", cfg.OpenAI.Model)

	cfg.Audio.Backend = strings.ToLower(envOrDefault("VOICENOTES_AUDIO_BACKEND", cfg.Audio.Backend))
	cfg.Audio.RecorderCommand = envOrDefault("VOICENOTES_FFMPEG_COMMAND", cfg.Audio.RecorderCommand)
	cfg.Audio.InputFormat = envOrDefault("VOICENOTES_AUDIO_INPUT_FORMAT", cfg.Audio.InputFormat)
	cfg.Audio.InputDevice = envOrDefault("VOICENOTES_AUDIO_INPUT_DEVICE", cfg.Audio.InputDevice)
	cfg.Audio.SampleRate = envOrDefaultInt("VOICENOTES_SAMPLE_RATE", cfg.Audio.SampleRate)
	cfg.Audio.Channels = envOrDefaultInt("VOICENOTES_CHANNELS", cfg.Audio.Channels)
	cfg.Audio.FramesPerBuffer = envOrDefaultInt("VOICENOTES_FRAMES_PER_BUFFER", cfg.Audio.FramesPerBuffer)

	cfg.Session.ChunkSize = envOrDefaultInt("VOICENOTES_AUDIO_CHUNK_SIZE", cfg.Session.ChunkSize)
	cfg.Session.StreamingGrace = envOrDefaultMillis("VOICENOTES_STREAMING_GRACE_MS", cfg.Session.StreamingGrace)
	cfg.Session.CloseTimeout = envOrDefaultMillis("VOICENOTES_CLOSE_TIMEOUT_MS", cfg.Session.CloseTimeout)
	cfg.Session.ExitGrace = envOrDefaultMillis("VOICENOTES_EXIT_GRACE_MS", cfg.Session.ExitGrace)

	cfg.Output.Dir = envOrDefault("VOICENOTES_OUTPUT_DIR", cfg.Output.Dir)
	cfg.Output.CopyNotes = envOrDefaultBool("VOICENOTES_COPY_NOTES", cfg.Output.CopyNotes)

	cfg.Server.Addr = envOrDefault("NOTES_SERVER_ADDR", cfg.Server.Addr)
	cfg.Server.DataFile = envOrDefault("NOTES_SERVER_DATA_FILE", cfg.Server.DataFile)
	cfg.LogLevel = envOrDefault("VOICENOTES_LOG_LEVEL", cfg.LogLevel)
}

func normalize(cfg *Config) {
	defaults := Default()
	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = defaults.Audio.SampleRate
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = defaults.Audio.Channels
	}
	if cfg.Audio.FramesPerBuffer <= 0 {
		cfg.Audio.FramesPerBuffer = defaults.Audio.FramesPerBuffer
	}
	if cfg.Session.ChunkSize < 256 {
		cfg.Session.ChunkSize = defaults.Session.ChunkSize
	}
	if cfg.Session.CloseTimeout <= 0 {
		cfg.Session.CloseTimeout = defaults.Session.CloseTimeout
	}
}

func setString(dst *string, value string) {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		*dst = trimmed
	}
}

func setInt(dst *int, value int) {
	if value != 0 {
		*dst = value
	}
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// envOrDefaultMillis reads a non-negative millisecond count.
func envOrDefaultMillis(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return time.Duration(parsed) * time.Millisecond
}
