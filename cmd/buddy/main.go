// Command buddy is the main entry point for the Buddy voice assistant.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"go.opentelemetry.io/otel"

	"github.com/buddy-assistant/buddy/internal/adapter"
	"github.com/buddy-assistant/buddy/internal/adapter/builtin"
	"github.com/buddy-assistant/buddy/internal/audiodev"
	"github.com/buddy-assistant/buddy/internal/brain"
	"github.com/buddy-assistant/buddy/internal/config"
	"github.com/buddy-assistant/buddy/internal/health"
	"github.com/buddy-assistant/buddy/internal/observe"
	"github.com/buddy-assistant/buddy/internal/orchestrator"
	"github.com/buddy-assistant/buddy/internal/resilience"
	"github.com/buddy-assistant/buddy/internal/router"
	"github.com/buddy-assistant/buddy/internal/state"
	"github.com/buddy-assistant/buddy/pkg/event"
	"github.com/buddy-assistant/buddy/pkg/memory"
	"github.com/buddy-assistant/buddy/pkg/memory/postgres"
	"github.com/buddy-assistant/buddy/pkg/provider/embeddings"
	oaembed "github.com/buddy-assistant/buddy/pkg/provider/embeddings/openai"
	"github.com/buddy-assistant/buddy/pkg/provider/llm"
	"github.com/buddy-assistant/buddy/pkg/provider/llm/anyllm"
	"github.com/buddy-assistant/buddy/pkg/provider/stt"
	"github.com/buddy-assistant/buddy/pkg/provider/stt/whisper"
	"github.com/buddy-assistant/buddy/pkg/provider/tts"
	"github.com/buddy-assistant/buddy/pkg/provider/tts/coqui"
)

// restartExitCode tells the process manager to start a fresh instance.
const restartExitCode = 3

const (
	defaultInputQueueSize     = 100
	defaultInterruptQueueSize = 20
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", config.DefaultPath(), "path to the YAML configuration file")
	flag.Parse()

	// A .env next to the binary is a convenience for API keys on the Pi; the
	// real environment always wins.
	_ = godotenv.Load()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "buddy: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "buddy: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("buddy starting",
		"config", *configPath,
		"metrics_addr", cfg.Server.MetricsAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}
	if providers.LLM == nil {
		slog.Error("no LLM provider configured — set providers.llm in the config")
		return 1
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "buddy"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Long-term memory (optional) ───────────────────────────────────────────
	var (
		history  memory.HistoryStore
		facts    memory.FactStore
		checkers []health.Checker
	)
	if dsn := cfg.Memory.PostgresDSN; dsn != "" {
		store, err := postgres.NewStore(ctx, dsn, cfg.Memory.EmbeddingDimensions)
		if err != nil {
			slog.Error("failed to connect to the memory store", "err", err)
			return 1
		}
		defer store.Close()
		history, facts = store, store
		checkers = append(checkers, health.Checker{Name: "postgres", Check: store.Ping})
		slog.Info("memory store connected", "dimensions", cfg.Memory.EmbeddingDimensions)
	}

	if cfg.Server.MetricsAddr != "" {
		go func() {
			if err := observe.Serve(ctx, cfg.Server.MetricsAddr, checkers...); err != nil {
				slog.Error("observability server error", "err", err)
			}
		}()
	}

	// ── Core plumbing ─────────────────────────────────────────────────────────
	inputSize := cfg.Queues.InputMaxSize
	if inputSize <= 0 {
		inputSize = defaultInputQueueSize
	}
	interruptSize := cfg.Queues.InterruptMaxSize
	if interruptSize <= 0 {
		interruptSize = defaultInterruptQueueSize
	}

	input := event.NewQueue(inputSize)
	st := &state.Global{}
	audio := audiodev.New()

	session := brain.NewSession(providers.LLM, cfg.Brain.SystemInstruction, cfg.Brain.Temperature, metrics)
	brn := brain.New(brain.Config{
		SystemInstruction: cfg.Brain.SystemInstruction,
		Temperature:       cfg.Brain.Temperature,
		ArchivistInterval: cfg.Brain.ArchivistInterval.Std(),
		LightOffTimeout:   cfg.Brain.LightOffTimeout.Std(),
	}, session, st, logger, metrics)

	manager := adapter.NewManager(input, interruptSize, logger)
	rtr := router.New(logger, metrics)

	// ── Adapters ──────────────────────────────────────────────────────────────
	areg := adapter.NewRegistry()
	builtin.Register(areg)

	env := adapter.Env{
		Log:        logger,
		Pub:        manager,
		State:      st,
		Audio:      audio,
		LLM:        providers.LLM,
		STT:        providers.STT,
		TTS:        providers.TTS,
		Embeddings: providers.Embeddings,
		History:    history,
		Facts:      facts,
		SessionID:  brn.SessionID,
		Home:       config.Home(),
	}

	for _, entry := range cfg.Adapters.Inputs {
		a, err := areg.CreateInput(entry.Class, entry.Options, env)
		if err != nil {
			slog.Error("failed to create input adapter", "class", entry.Class, "err", err)
			return 1
		}
		manager.AddInput(a)
		slog.Info("input adapter created", "class", entry.Class)
	}
	for _, entry := range cfg.Adapters.Outputs {
		a, err := areg.CreateOutput(entry.Class, entry.Options, env)
		if err != nil {
			slog.Error("failed to create output adapter", "class", entry.Class, "err", err)
			return 1
		}
		manager.AddOutput(a)
		for _, kind := range a.Kinds() {
			rtr.Register(kind, a)
		}
		slog.Info("output adapter created", "class", entry.Class, "kinds", a.Kinds())
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	orch := orchestrator.New(input, manager, rtr, brn, logger, metrics)

	slog.Info("assistant ready — press Ctrl+C to shut down")

	err = orch.Run(ctx)
	switch {
	case errors.Is(err, orchestrator.ErrRestartRequested):
		slog.Info("restart requested, exiting for the process manager to respawn")
		return restartExitCode
	case err != nil && !errors.Is(err, context.Canceled):
		slog.Error("run error", "err", err)
		return 1
	}

	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	// openai, anthropic, gemini, deepseek, mistral, groq and llamacpp all share
	// the same pattern: optional APIKey + optional BaseURL.
	for _, providerName := range []string{
		"openai", "anthropic", "gemini",
		"deepseek", "mistral", "groq", "llamacpp",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		if rate := optInt(entry.Options, "sample_rate"); rate > 0 {
			opts = append(opts, whisper.WithSampleRate(rate))
		}
		if ms := optInt(entry.Options, "silence_threshold_ms"); ms > 0 {
			opts = append(opts, whisper.WithSilenceThresholdMs(ms))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if speaker := optString(entry.Options, "speaker"); speaker != "" {
			opts = append(opts, coqui.WithSpeaker(speaker))
		}
		return coqui.New(entry.BaseURL, opts...), nil
	})

	// ── Embeddings ────────────────────────────────────────────────────────────

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	for kind, names := range config.ValidProviderNames {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// providerSet holds the instantiated providers shared with the adapters.
type providerSet struct {
	LLM        llm.Provider
	STT        stt.Provider
	TTS        tts.Provider
	Embeddings embeddings.Provider
}

// buildProviders instantiates all providers named in cfg using the registry.
// The LLM, STT and TTS providers are wrapped in circuit breakers: remote
// backends flap, and a tripped breaker fails fast instead of hanging the
// conversation.
func buildProviders(cfg *config.Config, reg *config.Registry) (*providerSet, error) {
	ps := &providerSet{}

	if name := cfg.Providers.LLM.Name; name != "" {
		p, err := reg.CreateLLM(cfg.Providers.LLM)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not yet implemented — skipping", "kind", "llm", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create llm provider %q: %w", name, err)
		} else {
			ps.LLM = resilience.NewLLMFallback(p, name, resilience.FallbackConfig{})
			slog.Info("provider created", "kind", "llm", "name", name)
		}
	}

	if name := cfg.Providers.STT.Name; name != "" {
		p, err := reg.CreateSTT(cfg.Providers.STT)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not yet implemented — skipping", "kind", "stt", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create stt provider %q: %w", name, err)
		} else {
			ps.STT = resilience.NewSTTFallback(p, name, resilience.FallbackConfig{})
			slog.Info("provider created", "kind", "stt", "name", name)
		}
	}

	if name := cfg.Providers.TTS.Name; name != "" {
		p, err := reg.CreateTTS(cfg.Providers.TTS)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not yet implemented — skipping", "kind", "tts", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create tts provider %q: %w", name, err)
		} else {
			ps.TTS = resilience.NewTTSFallback(p, name, resilience.FallbackConfig{})
			slog.Info("provider created", "kind", "tts", "name", name)
		}
	}

	if name := cfg.Providers.Embeddings.Name; name != "" {
		p, err := reg.CreateEmbeddings(cfg.Providers.Embeddings)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not yet implemented — skipping", "kind", "embeddings", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create embeddings provider %q: %w", name, err)
		} else {
			ps.Embeddings = p
			slog.Info("provider created", "kind", "embeddings", "name", name)
		}
	}

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          Buddy — startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	printProvider("Embeddings", cfg.Providers.Embeddings.Name, cfg.Providers.Embeddings.Model)
	if cfg.Memory.PostgresDSN != "" {
		fmt.Printf("║  Memory          : %-19s ║\n", "postgres")
	} else {
		fmt.Printf("║  Memory          : %-19s ║\n", "(disabled)")
	}
	fmt.Printf("║  Input adapters  : %-19d ║\n", len(cfg.Adapters.Inputs))
	fmt.Printf("║  Output adapters : %-19d ║\n", len(cfg.Adapters.Outputs))
	if cfg.Server.MetricsAddr != "" {
		fmt.Printf("║  Metrics addr    : %-19s ║\n", cfg.Server.MetricsAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	s, _ := opts[key].(string)
	return s
}

// optInt extracts an int value from a provider Options map[string]any.
// Returns 0 if the map is nil, the key is absent, or the value is not an int.
func optInt(opts map[string]any, key string) int {
	if opts == nil {
		return 0
	}
	n, _ := opts[key].(int)
	return n
}
