package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/streamscribe/pkg/audio"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"recognizer": {"whisper", "describe"},
}

// whisperRate is the only sampling rate the whisper recognizer accepts.
const whisperRate = 16000

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Default] and
// validates the result. Keys absent from the document keep their defaults; an
// empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg, err := decode(r)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseFile decodes the file at path on top of [Default] without validating
// it, so callers can apply overrides first. An empty path returns the
// defaults.
func ParseFile(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := decode(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

func decode(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Input
	if cfg.Input.Path == "" {
		errs = append(errs, errors.New("input.path is required; use \"-\" for standard input"))
	}
	if !cfg.Input.Format.IsValid() {
		errs = append(errs, fmt.Errorf("input.format %q is invalid; valid values: f32le, s16le, wav", cfg.Input.Format))
	}
	if cfg.Input.Channels < 1 {
		errs = append(errs, fmt.Errorf("input.channels must be >= 1, got %d", cfg.Input.Channels))
	}
	if cfg.Input.ChunkBytes < 0 {
		errs = append(errs, fmt.Errorf("input.chunk_bytes must be >= 0, got %d", cfg.Input.ChunkBytes))
	} else if w := cfg.Input.Format.Width(); cfg.Input.ChunkBytes > 0 && w > 0 && cfg.Input.Channels > 0 &&
		cfg.Input.ChunkBytes < w*cfg.Input.Channels {
		errs = append(errs, fmt.Errorf("input.chunk_bytes %d is smaller than one %s frame of %d channels",
			cfg.Input.ChunkBytes, cfg.Input.Format, cfg.Input.Channels))
	}
	if cfg.Input.Format == audio.FormatWAV && cfg.Input.Path == StdinPath {
		errs = append(errs, errors.New("input.format wav requires a file path; standard input is not seekable"))
	}

	// Signal processing
	if err := cfg.PipelineConfig().Validate(); err != nil {
		errs = append(errs, err)
	}

	// Recognizer
	if cfg.Recognizer.Name == "" {
		errs = append(errs, errors.New("recognizer.name is required"))
	}
	errs = append(errs, validateRecognizer("recognizer", cfg.Recognizer, cfg.Mel.SamplingRate)...)

	// Failover
	for i, fb := range cfg.Failover.Fallbacks {
		key := fmt.Sprintf("failover.fallbacks[%d]", i)
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", key))
		}
		errs = append(errs, validateRecognizer(key, fb, cfg.Mel.SamplingRate)...)
	}
	if cfg.Failover.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("failover.max_failures must be >= 0, got %d", cfg.Failover.MaxFailures))
	}
	if cfg.Failover.Cooldown < 0 {
		errs = append(errs, fmt.Errorf("failover.cooldown must be >= 0, got %s", cfg.Failover.Cooldown))
	}

	return errors.Join(errs...)
}

// validateRecognizer checks one recognizer entry found at key.
func validateRecognizer(key string, e ProviderEntry, rate float64) []error {
	var errs []error
	validateProviderName("recognizer", e.Name)
	if e.Threads < 0 {
		errs = append(errs, fmt.Errorf("%s.threads must be >= 0, got %d", key, e.Threads))
	}
	if e.Name == "whisper" {
		if e.Model == "" && e.Options["model_path"] == nil {
			errs = append(errs, fmt.Errorf("%s.model is required for the whisper recognizer", key))
		}
		if rate != whisperRate {
			errs = append(errs, fmt.Errorf("mel.sampling_rate %g is not supported by the whisper recognizer; want %d",
				rate, whisperRate))
		}
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not in the
// known list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if !slices.Contains(known, name) {
		slog.Warn("unknown provider name; it must be registered at runtime",
			"kind", kind,
			"name", name,
			"known", known,
		)
	}
}
