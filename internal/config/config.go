// Package config provides the configuration schema, loader, and recognizer
// registry for streamscribe.
package config

import (
	"log/slog"
	"time"

	"github.com/MrWong99/streamscribe/pkg/audio"
	"github.com/MrWong99/streamscribe/pkg/mel"
	"github.com/MrWong99/streamscribe/pkg/pipeline"
	"github.com/MrWong99/streamscribe/pkg/vad"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l onto a [slog.Level]. Unknown and empty values map to Info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// StdinPath selects standard input as the audio source.
const StdinPath = "-"

// Config is the root configuration structure.
type Config struct {
	Server     ServerConfig          `yaml:"server"`
	Input      InputConfig           `yaml:"input"`
	Mel        mel.Config            `yaml:"mel"`
	Detection  vad.DetectionSettings `yaml:"detection"`
	Pipeline   pipeline.Buffers      `yaml:"pipeline"`
	Recognizer ProviderEntry         `yaml:"recognizer"`
	Failover   FailoverConfig        `yaml:"failover"`
	Debug      DebugConfig           `yaml:"debug"`
}

// ServerConfig holds process-level settings.
type ServerConfig struct {
	// ListenAddr is the address of the diagnostics HTTP server (health,
	// metrics). Empty disables the server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel sets the minimum log level. Hot-reloaded by [Watcher].
	LogLevel LogLevel `yaml:"log_level"`
}

// InputConfig describes where audio comes from and how it is encoded.
type InputConfig struct {
	// Path is a file to read, or "-" for standard input.
	Path string `yaml:"path"`

	// Format is the sample encoding.
	Format audio.SampleFormat `yaml:"format"`

	// Channels is the interleaved channel count of raw input. Only the first
	// channel is analysed.
	Channels int `yaml:"channels"`

	// ChunkBytes is the read size for raw input. Zero selects the default.
	ChunkBytes int `yaml:"chunk_bytes"`
}

// ProviderEntry is the common configuration block for a recognizer.
type ProviderEntry struct {
	// Name selects the registered factory (e.g. "whisper", "describe").
	Name string `yaml:"name"`

	// Model is the path to the model file, for recognizers that load one.
	Model string `yaml:"model"`

	// Language is the recognition language code.
	Language string `yaml:"language"`

	// Threads caps decoder threads. Zero leaves the recognizer default.
	Threads int `yaml:"threads"`

	// Options holds recognizer-specific settings not covered above.
	Options map[string]any `yaml:"options"`
}

// FailoverConfig lists backup recognizers for segments the primary fails.
type FailoverConfig struct {
	// Fallbacks are tried in order after the primary recognizer.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`

	// MaxFailures is the run of consecutive errors that takes a recognizer
	// out of rotation. Zero selects 3.
	MaxFailures int `yaml:"max_failures"`

	// Cooldown is how long a recognizer stays out of rotation before it is
	// tried again. Zero selects 30s.
	Cooldown time.Duration `yaml:"cooldown"`
}

// DebugConfig holds diagnostic output settings.
type DebugConfig struct {
	// MelOut is the directory that receives one mel image per segment.
	// Empty disables image output.
	MelOut string `yaml:"mel_out"`
}

// Default returns the configuration used when no file is given: stdin f32le
// mono audio, whisper geometry, stock detection settings, and the whisper
// recognizer.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			LogLevel: LogInfo,
		},
		Input: InputConfig{
			Path:     StdinPath,
			Format:   audio.FormatF32LE,
			Channels: 1,
		},
		Mel:       mel.DefaultConfig(),
		Detection: vad.DefaultDetectionSettings(),
		Pipeline:  pipeline.DefaultBuffers(),
		Recognizer: ProviderEntry{
			Name:     "whisper",
			Model:    "./models/ggml-medium.en.bin",
			Language: "en",
		},
		Debug: DebugConfig{
			MelOut: "./mel_out",
		},
	}
}

// PipelineConfig assembles the immutable pipeline configuration.
func (c *Config) PipelineConfig() pipeline.Config {
	return pipeline.Config{
		Mel:       c.Mel,
		Detection: c.Detection,
		Buffers:   c.Pipeline,
	}
}
