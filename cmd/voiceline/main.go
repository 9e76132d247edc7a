// Command voiceline is the turn-based voice call orchestration server.
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

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/voicelinehq/voiceline/internal/app"
	"github.com/voicelinehq/voiceline/internal/config"
	"github.com/voicelinehq/voiceline/internal/observe"
	"github.com/voicelinehq/voiceline/pkg/provider/reasoning"
	"github.com/voicelinehq/voiceline/pkg/provider/reasoning/anyllm"
	oaireason "github.com/voicelinehq/voiceline/pkg/provider/reasoning/openai"
	"github.com/voicelinehq/voiceline/pkg/provider/synthesis"
	"github.com/voicelinehq/voiceline/pkg/provider/synthesis/coqui"
	"github.com/voicelinehq/voiceline/pkg/provider/synthesis/elevenlabs"
	"github.com/voicelinehq/voiceline/pkg/provider/transcription"
	"github.com/voicelinehq/voiceline/pkg/provider/transcription/deepgram"
	"github.com/voicelinehq/voiceline/pkg/provider/transcription/whisper"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voiceline: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voiceline: %v\n", err)
		}
		return 1
	}

	logger, level := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("voiceline starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)
	printStartupSummary(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Metrics and tracing, with the Prometheus bridge behind /metrics.
	shutdownObserve, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "voiceline",
	})
	if err != nil {
		slog.Error("failed to initialise observability", "err", err)
		return 1
	}
	defer func() {
		if err := shutdownObserve(context.Background()); err != nil {
			slog.Warn("observability shutdown error", "err", err)
		}
	}()

	providers := config.NewRegistry()
	registerBuiltinProviders(providers)

	application, err := app.New(ctx, cfg, providers,
		app.WithLogger(logger),
		app.WithLogLevelVar(level),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	watcher, err := config.NewWatcher(*configPath, application.ApplyConfig)
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// anyllmBackends are the reasoning backends routed through any-llm-go. They
// share the same pattern: optional APIKey + optional BaseURL.
var anyllmBackends = []string{
	"anthropic", "ollama", "gemini",
	"deepseek", "mistral", "groq", "llamacpp", "llamafile",
}

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the provider
// from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Transcription ─────────────────────────────────────────────────────────

	reg.RegisterTranscription("whisper", func(entry config.ProviderEntry) (transcription.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterTranscription("deepgram", func(entry config.ProviderEntry) (transcription.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	// ── Reasoning ─────────────────────────────────────────────────────────────

	reg.RegisterReasoning("openai", func(entry config.ProviderEntry) (reasoning.Provider, error) {
		var opts []oaireason.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaireason.WithBaseURL(entry.BaseURL))
		}
		if temp, ok := optFloat(entry.Options, "temperature"); ok {
			opts = append(opts, oaireason.WithTemperature(temp))
		}
		if n, ok := optInt(entry.Options, "max_tokens"); ok {
			opts = append(opts, oaireason.WithMaxTokens(n))
		}
		return oaireason.New(entry.APIKey, entry.Model, opts...)
	})

	for _, backend := range anyllmBackends {
		reg.RegisterReasoning(backend, func(entry config.ProviderEntry) (reasoning.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(backend, entry.Model, opts...)
		})
	}

	// ── Synthesis ─────────────────────────────────────────────────────────────

	reg.RegisterSynthesis("elevenlabs", func(entry config.ProviderEntry) (synthesis.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if format := optString(entry.Options, "output_format"); format != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(format))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterSynthesis("coqui", func(entry config.ProviderEntry) (synthesis.Provider, error) {
		var opts []coqui.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if rate, ok := optInt(entry.Options, "output_sample_rate"); ok {
			opts = append(opts, coqui.WithOutputSampleRate(rate))
		}
		return coqui.New(entry.BaseURL, opts...)
	})
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	printChain := func(kind string, entries []config.ProviderEntry) {
		names := make([]string, len(entries))
		for i, e := range entries {
			names[i] = e.Name
		}
		slog.Info("provider chain", "capability", kind, "order", names)
	}
	printChain("transcription", cfg.Providers.Transcription)
	printChain("reasoning", cfg.Providers.Reasoning)
	printChain("synthesis", cfg.Providers.Synthesis)

	if cfg.Export.PostgresDSN != "" {
		slog.Info("transcript export", "store", "postgres")
	} else {
		slog.Info("transcript export", "store", "log")
	}
}

// ── Logger ────────────────────────────────────────────────────────────────────

// newLogger builds the process logger. The returned LevelVar lets config
// reloads retune verbosity without replacing the handler.
func newLogger(level config.LogLevel) (*slog.Logger, *slog.LevelVar) {
	lvl := &slog.LevelVar{}
	lvl.Set(level.Slog())
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), lvl
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optFloat extracts a numeric option. YAML decodes numbers as int or
// float64 depending on their spelling, so both are accepted.
func optFloat(opts map[string]any, key string) (float64, bool) {
	switch v := opts[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

// optInt extracts an integer option.
func optInt(opts map[string]any, key string) (int, bool) {
	switch v := opts[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	}
	return 0, false
}
