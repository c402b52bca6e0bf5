// Command streamscribe reads PCM audio, cuts it into speech segments with an
// energy-based detector on the mel spectrogram, and prints one transcript line
// per segment.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/MrWong99/streamscribe/internal/app"
	"github.com/MrWong99/streamscribe/internal/config"
	"github.com/MrWong99/streamscribe/internal/observe"
	"github.com/MrWong99/streamscribe/internal/resilience"
	"github.com/MrWong99/streamscribe/pkg/audio"
	"github.com/MrWong99/streamscribe/pkg/provider/stt"
	"github.com/MrWong99/streamscribe/pkg/provider/stt/describe"
	"github.com/MrWong99/streamscribe/pkg/provider/stt/whisper"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

// options holds the raw command-line values. Only flags the user actually set
// override the config file.
type options struct {
	configPath string
	watch      bool

	modelPath  string
	outPath    string
	recognizer string
	fallbacks  []string
	language   string
	threads    int

	input    string
	format   string
	channels int

	energyThreshold       float64
	minIntersections      int
	intersectionThreshold int
	minMel                int
	minFrames             int
	maxFrames             int

	logLevel string
	listen   string
}

func main() {
	os.Exit(run())
}

func run() int {
	opts := &options{}
	code := 0
	cmd := newRootCmd(opts, func(cmd *cobra.Command) { code = transcribe(cmd, opts) })
	if err := cmd.Execute(); err != nil {
		return 2
	}
	return code
}

// ── CLI flags ─────────────────────────────────────────────────────────────────

func newRootCmd(o *options, action func(*cobra.Command)) *cobra.Command {
	def := config.Default()
	cmd := &cobra.Command{
		Use:   "streamscribe",
		Short: "Segment streaming audio on the mel spectrogram and transcribe each segment",
		Long: `streamscribe reads mono PCM from standard input or a file, computes a
log-mel spectrogram frame by frame, detects speech segments by counting mel
bins above an energy threshold, and prints "<frame> [mm:ss.mmm] <text>" for
every segment the recognizer returns text for.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		Version:      version,
		Run: func(cmd *cobra.Command, _ []string) {
			action(cmd)
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.configPath, "config", "", "path to a YAML configuration file")
	f.BoolVar(&o.watch, "watch", false, "reload the config file on change (log level applies live)")

	f.StringVarP(&o.modelPath, "model-path", "m", def.Recognizer.Model, "whisper model file")
	f.StringVarP(&o.outPath, "out-path", "o", def.Debug.MelOut, "directory for per-segment mel images (empty disables)")
	f.StringVar(&o.recognizer, "recognizer", def.Recognizer.Name, "recognizer: whisper or describe")
	f.StringSliceVar(&o.fallbacks, "fallback", nil, "recognizers to try, in order, when the primary fails a segment")
	f.StringVar(&o.language, "language", def.Recognizer.Language, "recognition language code")
	f.IntVar(&o.threads, "threads", 0, "decoder threads (0 = recognizer default)")

	f.StringVarP(&o.input, "input", "i", def.Input.Path, `audio input file, or "-" for standard input`)
	f.StringVar(&o.format, "format", string(def.Input.Format), "input sample format: f32le, s16le, or wav")
	f.IntVar(&o.channels, "channels", def.Input.Channels, "interleaved channels in raw input")

	f.Float64Var(&o.energyThreshold, "energy-threshold", def.Detection.EnergyThreshold, "mel bin energy that counts as an intersection")
	f.IntVar(&o.minIntersections, "min-intersections", def.Detection.MinIntersections, "intersections that make a frame active")
	f.IntVar(&o.intersectionThreshold, "intersection-threshold", def.Detection.IntersectionThreshold, "inactive frames tolerated inside a segment")
	f.IntVar(&o.minMel, "min-mel", def.Detection.MinMel, "minimum total intersections per segment")
	f.IntVar(&o.minFrames, "min-frames", def.Detection.MinFrames, "minimum frames per segment")
	f.IntVar(&o.maxFrames, "max-frames", def.Detection.MaxFrames, "force-close segments at this many frames (0 = unlimited)")

	f.StringVar(&o.logLevel, "log-level", string(def.Server.LogLevel), "log level: debug, info, warn, error")
	f.StringVar(&o.listen, "listen", def.Server.ListenAddr, "diagnostics address for /healthz, /readyz, /metrics (empty disables)")
	return cmd
}

// applyFlags copies every flag the user set onto cfg.
func applyFlags(cmd *cobra.Command, o *options, cfg *config.Config) {
	set := cmd.Flags().Changed
	if set("model-path") {
		cfg.Recognizer.Model = o.modelPath
	}
	if set("out-path") {
		cfg.Debug.MelOut = o.outPath
	}
	if set("recognizer") {
		cfg.Recognizer.Name = o.recognizer
	}
	if set("language") {
		cfg.Recognizer.Language = o.language
	}
	if set("fallback") {
		cfg.Failover.Fallbacks = nil
		for _, name := range o.fallbacks {
			cfg.Failover.Fallbacks = append(cfg.Failover.Fallbacks, config.ProviderEntry{Name: name})
		}
	}
	if set("threads") {
		cfg.Recognizer.Threads = o.threads
	}
	if set("input") {
		cfg.Input.Path = o.input
	}
	if set("format") {
		cfg.Input.Format = audio.SampleFormat(o.format)
	}
	if set("channels") {
		cfg.Input.Channels = o.channels
	}
	if set("energy-threshold") {
		cfg.Detection.EnergyThreshold = o.energyThreshold
	}
	if set("min-intersections") {
		cfg.Detection.MinIntersections = o.minIntersections
	}
	if set("intersection-threshold") {
		cfg.Detection.IntersectionThreshold = o.intersectionThreshold
	}
	if set("min-mel") {
		cfg.Detection.MinMel = o.minMel
	}
	if set("min-frames") {
		cfg.Detection.MinFrames = o.minFrames
	}
	if set("max-frames") {
		cfg.Detection.MaxFrames = o.maxFrames
	}
	if set("log-level") {
		cfg.Server.LogLevel = config.LogLevel(o.logLevel)
	}
	if set("listen") {
		cfg.Server.ListenAddr = o.listen
	}
}

// ── Run ───────────────────────────────────────────────────────────────────────

func transcribe(cmd *cobra.Command, o *options) int {
	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.ParseFile(o.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "streamscribe: %v\n", err)
		return 1
	}
	applyFlags(cmd, o, cfg)
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "streamscribe: invalid configuration:\n%v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.Level())
	slog.SetDefault(newLogger(level))

	slog.Info("streamscribe starting",
		"version", version,
		"config", o.configPath,
		"input", cfg.Input.Path,
		"recognizer", cfg.Recognizer.Name,
		"log_level", cfg.Server.LogLevel,
	)

	if o.watch && o.configPath != "" {
		w, err := config.NewWatcher(o.configPath, func(_, _ *config.Config, d config.ConfigDiff) {
			if d.LogLevelChanged {
				level.Set(d.NewLogLevel.Level())
				slog.Info("log level changed", "level", d.NewLogLevel)
			}
			if len(d.RestartRequired) > 0 {
				slog.Warn("config changes take effect on the next run", "sections", d.RestartRequired)
			}
		}, config.WithOverrides(func(c *config.Config) { applyFlags(cmd, o, c) }))
		if err != nil {
			slog.Error("failed to watch config", "err", err)
			return 1
		}
		defer w.Stop()
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	runID := uuid.NewString()
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
		InstanceID:     runID,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Recognizer ────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinRecognizers(reg)

	recognizer, err := buildRecognizer(reg, cfg)
	if err != nil {
		slog.Error("failed to create recognizer", "name", cfg.Recognizer.Name, "err", err)
		return 1
	}
	slog.Info("recognizer created",
		"name", cfg.Recognizer.Name,
		"model", cfg.Recognizer.Model,
		"fallbacks", len(cfg.Failover.Fallbacks),
	)

	// ── Input ─────────────────────────────────────────────────────────────────
	src, closeInput, err := app.OpenInput(cfg.Input, int(cfg.Mel.SamplingRate))
	if err != nil {
		slog.Error("failed to open input", "err", err)
		if c, ok := recognizer.(interface{ Close() error }); ok {
			_ = c.Close()
		}
		return 1
	}
	defer closeInput()

	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, recognizer, app.WithRunID(runID))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// A second signal during the drain aborts without waiting.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
			return
		}
		stop()
		slog.Info("draining buffered audio; interrupt again to abort")
		hard := make(chan os.Signal, 1)
		signal.Notify(hard, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(hard)
		select {
		case <-hard:
			slog.Warn("aborting")
			application.Abort()
		case <-done:
		}
	}()

	code := 0
	if err := application.Run(ctx, src); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		code = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return code
}

// ── Recognizer wiring ─────────────────────────────────────────────────────────

// registerBuiltinRecognizers wires the recognizers that ship with streamscribe
// into reg.
func registerBuiltinRecognizers(reg *config.Registry) {
	reg.RegisterRecognizer("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisper.Option
		if entry.Language != "" {
			opts = append(opts, whisper.WithLanguage(entry.Language))
		}
		if entry.Threads > 0 {
			opts = append(opts, whisper.WithThreads(entry.Threads))
		}
		return whisper.New(modelPath, opts...)
	})

	reg.RegisterRecognizer("describe", func(config.ProviderEntry) (stt.Provider, error) {
		return describe.New(), nil
	})

	for _, name := range reg.Recognizers() {
		slog.Debug("registered recognizer", "name", name)
	}
}

// buildRecognizer creates the configured recognizer. With fallbacks it
// returns a [resilience.Recognizer] that moves failed segments down the list.
func buildRecognizer(reg *config.Registry, cfg *config.Config) (stt.Provider, error) {
	primary, err := reg.CreateRecognizer(cfg.Recognizer)
	if err != nil {
		return nil, err
	}
	if len(cfg.Failover.Fallbacks) == 0 {
		return primary, nil
	}

	r := resilience.NewRecognizer(cfg.Recognizer.Name, primary, resilience.BreakerConfig{
		MaxFailures: cfg.Failover.MaxFailures,
		Cooldown:    cfg.Failover.Cooldown,
	})
	for i, entry := range cfg.Failover.Fallbacks {
		if entry.Language == "" {
			entry.Language = cfg.Recognizer.Language
		}
		fb, err := reg.CreateRecognizer(entry)
		if err != nil {
			_ = r.Close()
			return nil, fmt.Errorf("fallback %d: %w", i, err)
		}
		r.AddFallback(entry.Name, fb)
	}
	return r, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

// printStartupSummary goes to stderr; stdout carries only transcript lines.
func printStartupSummary(cfg *config.Config) {
	w := os.Stderr
	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(w, "║      streamscribe - startup summary   ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════╣")
	printRow("Recognizer", cfg.Recognizer.Name)
	for _, fb := range cfg.Failover.Fallbacks {
		printRow("Fallback", fb.Name)
	}
	printRow("Input", fmt.Sprintf("%s %s", cfg.Input.Path, cfg.Input.Format))
	printRow("Mel", fmt.Sprintf("%d/%d/%d @%gHz", cfg.Mel.FFTSize, cfg.Mel.HopSize, cfg.Mel.NMels, cfg.Mel.SamplingRate))
	printRow("Threshold", fmt.Sprintf("%g x%d", cfg.Detection.EnergyThreshold, cfg.Detection.MinIntersections))
	printRow("Frames", fmt.Sprintf("%d..%d", cfg.Detection.MinFrames, cfg.Detection.MaxFrames))
	if cfg.Debug.MelOut != "" {
		printRow("Mel images", cfg.Debug.MelOut)
	}
	if cfg.Server.ListenAddr != "" {
		printRow("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Fprintf(os.Stderr, "║  %-12s    : %-19s ║\n", label, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level slog.Leveler) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}
