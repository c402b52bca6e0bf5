package main

import (
	"errors"
	"testing"

	"github.com/spf13/cobra"

	"github.com/MrWong99/streamscribe/internal/config"
	"github.com/MrWong99/streamscribe/internal/resilience"
	"github.com/MrWong99/streamscribe/pkg/audio"
)

func TestApplyFlags_OnlyChangedFlagsOverride(t *testing.T) {
	t.Parallel()

	o := &options{}
	cmd := newRootCmd(o, func(*cobra.Command) {})
	err := cmd.ParseFlags([]string{
		"-m", "/models/tiny.bin",
		"--energy-threshold", "0.75",
		"--min-frames", "40",
		"--format", "s16le",
		"-o", "",
		"--fallback", "describe",
	})
	if err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}

	cfg := config.Default()
	cfg.Detection.MinIntersections = 7 // as if loaded from a file
	applyFlags(cmd, o, cfg)

	if cfg.Recognizer.Model != "/models/tiny.bin" {
		t.Errorf("model: got %q", cfg.Recognizer.Model)
	}
	if cfg.Detection.EnergyThreshold != 0.75 || cfg.Detection.MinFrames != 40 {
		t.Errorf("detection: got %+v", cfg.Detection)
	}
	if cfg.Detection.MinIntersections != 7 {
		t.Errorf("unset flag overrode file value: min_intersections = %d", cfg.Detection.MinIntersections)
	}
	if cfg.Input.Format != audio.FormatS16LE {
		t.Errorf("format: got %q", cfg.Input.Format)
	}
	if cfg.Debug.MelOut != "" {
		t.Errorf("out-path: got %q, want empty", cfg.Debug.MelOut)
	}
	if len(cfg.Failover.Fallbacks) != 1 || cfg.Failover.Fallbacks[0].Name != "describe" {
		t.Errorf("fallbacks: got %+v", cfg.Failover.Fallbacks)
	}
}

func TestRootCmd_Defaults(t *testing.T) {
	t.Parallel()

	o := &options{}
	cmd := newRootCmd(o, func(*cobra.Command) {})
	if err := cmd.ParseFlags(nil); err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}
	def := config.Default()
	if o.energyThreshold != 1.0 || o.minIntersections != 5 || o.intersectionThreshold != 10 ||
		o.minMel != 10 || o.minFrames != 100 {
		t.Errorf("detection flag defaults = %+v", o)
	}
	if o.outPath != "./mel_out" || o.modelPath != def.Recognizer.Model {
		t.Errorf("path defaults: out=%q model=%q", o.outPath, o.modelPath)
	}
	if o.input != config.StdinPath {
		t.Errorf("input default: got %q", o.input)
	}
}

func TestRegisterBuiltinRecognizers(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	registerBuiltinRecognizers(reg)

	if _, err := reg.CreateRecognizer(config.ProviderEntry{Name: "describe"}); err != nil {
		t.Errorf("describe: %v", err)
	}
	if _, err := reg.CreateRecognizer(config.ProviderEntry{Name: "whisper"}); err == nil {
		t.Error("whisper without a model path should fail")
	}
	if _, err := reg.CreateRecognizer(config.ProviderEntry{Name: "deepspeech"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("unknown recognizer: got %v", err)
	}
}

func TestBuildRecognizer(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	registerBuiltinRecognizers(reg)

	cfg := config.Default()
	cfg.Recognizer = config.ProviderEntry{Name: "describe"}
	p, err := buildRecognizer(reg, cfg)
	if err != nil {
		t.Fatalf("single recognizer: %v", err)
	}
	if _, ok := p.(*resilience.Recognizer); ok {
		t.Error("recognizer without fallbacks should not be wrapped")
	}

	cfg.Failover.Fallbacks = []config.ProviderEntry{{Name: "describe"}}
	p, err = buildRecognizer(reg, cfg)
	if err != nil {
		t.Fatalf("with fallback: %v", err)
	}
	if _, ok := p.(*resilience.Recognizer); !ok {
		t.Errorf("recognizer with fallbacks = %T, want *resilience.Recognizer", p)
	}

	cfg.Failover.Fallbacks = []config.ProviderEntry{{Name: "deepspeech"}}
	if _, err := buildRecognizer(reg, cfg); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("unknown fallback: got %v", err)
	}
}

func TestOptString(t *testing.T) {
	t.Parallel()
	opts := map[string]any{"model_path": "/m.bin", "beam": 5}
	if got := optString(opts, "model_path"); got != "/m.bin" {
		t.Errorf("got %q", got)
	}
	if got := optString(opts, "beam"); got != "" {
		t.Errorf("non-string value: got %q", got)
	}
	if got := optString(nil, "x"); got != "" {
		t.Errorf("nil map: got %q", got)
	}
}
