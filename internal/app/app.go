// Package app wires all voiceline subsystems into a running server.
//
// The App struct owns the full lifecycle: New builds the provider chains,
// the call registry, the transcript exporter, and the HTTP transport from
// configuration; Run serves until the context is cancelled; Shutdown tears
// everything down in order.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/voicelinehq/voiceline/internal/agent"
	"github.com/voicelinehq/voiceline/internal/call"
	"github.com/voicelinehq/voiceline/internal/config"
	"github.com/voicelinehq/voiceline/internal/export"
	"github.com/voicelinehq/voiceline/internal/health"
	"github.com/voicelinehq/voiceline/internal/observe"
	"github.com/voicelinehq/voiceline/internal/transport"
)

const (
	// shutdownTimeout bounds the graceful teardown of the HTTP server, live
	// sessions, and background exports.
	shutdownTimeout = 10 * time.Second

	readHeaderTimeout = 10 * time.Second
)

// App owns all subsystem lifetimes.
type App struct {
	cfg      *config.Config
	log      *slog.Logger
	level    *slog.LevelVar
	exporter call.Exporter

	registry *call.Registry
	server   *http.Server
	store    *export.Store

	// closers run in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for [New]. Use these to inject test doubles
// or wire in pieces main owns.
type Option func(*App)

// WithLogger sets the application logger instead of [slog.Default].
func WithLogger(log *slog.Logger) Option {
	return func(a *App) { a.log = log }
}

// WithLogLevelVar hands the App the level var backing the process logger so
// config reloads can retune verbosity.
func WithLogLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithExporter injects a transcript exporter instead of building one from
// the export configuration.
func WithExporter(e call.Exporter) Option {
	return func(a *App) { a.exporter = e }
}

// New wires the application from a validated config and a provider registry
// populated with the factories main registers.
func New(ctx context.Context, cfg *config.Config, providers *config.Registry, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, log: slog.Default()}
	for _, o := range opts {
		o(a)
	}
	metrics := observe.DefaultMetrics()

	// Provider chains, in configured fallback order.
	sttChain, err := providers.TranscriptionChain(cfg.Providers, a.log)
	if err != nil {
		return nil, fmt.Errorf("app: transcription chain: %w", err)
	}
	llmChain, err := providers.ReasoningChain(cfg.Providers, a.log)
	if err != nil {
		return nil, fmt.Errorf("app: reasoning chain: %w", err)
	}
	ttsChain, err := providers.SynthesisChain(cfg.Providers, a.log)
	if err != nil {
		return nil, fmt.Errorf("app: synthesis chain: %w", err)
	}
	pipeline := &call.Pipeline{
		Transcription: sttChain,
		Reasoning:     llmChain,
		Synthesis:     ttsChain,
		Metrics:       metrics,
		Log:           a.log,
	}

	// Transcript exporter: Postgres when configured, structured log
	// otherwise.
	if a.exporter == nil {
		if dsn := cfg.Export.PostgresDSN; dsn != "" {
			store, err := export.NewStore(ctx, dsn)
			if err != nil {
				return nil, fmt.Errorf("app: %w", err)
			}
			a.store = store
			a.closers = append(a.closers, func() error { store.Close(); return nil })
			a.exporter = store
		} else {
			a.exporter = export.NewLogExporter(a.log)
		}
	}

	services, err := agent.LoadServices(cfg.Agent.ServicesPath)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	catalogue := agent.NewCatalogue(services)

	a.registry = call.NewRegistry(call.RegistryConfig{
		Pipeline:   pipeline,
		Script:     cfg.Agent.Script(),
		Catalogue:  catalogue,
		VAD:        cfg.VAD.Detector(cfg.Audio),
		Voice:      cfg.Agent.Voice(),
		MaxHistory: cfg.Agent.MaxHistory,
		Exporter:   a.exporter,
		Logger:     a.log,
		Metrics:    metrics,
	})

	checkers := []health.Checker{{
		Name: "providers",
		Check: func(context.Context) error {
			if sttChain.Len() == 0 || llmChain.Len() == 0 || ttsChain.Len() == 0 {
				return errors.New("provider chain empty")
			}
			return nil
		},
	}}
	if a.store != nil {
		checkers = append(checkers, health.Checker{Name: "export", Check: a.store.Ping})
	}

	srv := transport.New(transport.Config{
		Registry:  a.registry,
		Catalogue: catalogue,
		Health:    health.New(checkers, health.WithActiveCalls(a.registry.Len)),
		Metrics:   metrics,
		Logger:    a.log,
	})
	a.server = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	return a, nil
}

// Registry exposes the call registry, mainly for tests.
func (a *App) Registry() *call.Registry { return a.registry }

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		tlsCfg := a.cfg.Server.TLS
		a.log.Info("server listening",
			slog.String("addr", a.server.Addr), slog.Bool("tls", tlsCfg != nil))
		var err error
		if tlsCfg != nil {
			err = a.server.ListenAndServeTLS(tlsCfg.CertFile, tlsCfg.KeyFile)
		} else {
			err = a.server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-ctx.Done()
		return a.Shutdown(context.WithoutCancel(ctx))
	})

	return g.Wait()
}

// Shutdown tears everything down: live sessions first so their transport
// handlers unblock, then the HTTP server, then the exporter. Idempotent.
func (a *App) Shutdown(ctx context.Context) error {
	var firstErr error
	a.stopOnce.Do(func() {
		ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()
		a.log.Info("shutting down", slog.Int("sessions", a.registry.Len()))

		if err := a.registry.Close(ctx); err != nil {
			a.log.Warn("registry close error", slog.Any("error", err))
			firstErr = err
		}
		if err := a.server.Shutdown(ctx); err != nil {
			a.log.Warn("server shutdown error", slog.Any("error", err))
			if firstErr == nil {
				firstErr = err
			}
		}
		for _, closer := range a.closers {
			if err := closer(); err != nil {
				a.log.Warn("closer error", slog.Any("error", err))
			}
		}
		a.log.Info("shutdown complete")
	})
	return firstErr
}

// ApplyConfig reacts to a config file reload. Only the hot-reloadable
// surface is applied: log level immediately, agent script and detector
// tuning for sessions created from now on. Provider chains and the listen
// address require a restart.
func (a *App) ApplyConfig(old, new *config.Config) {
	diff := config.Diff(old, new)
	if diff.Empty() {
		return
	}
	if diff.LogLevelChanged && a.level != nil {
		a.level.Set(diff.NewLogLevel.Slog())
		a.log.Info("log level changed", slog.String("level", string(diff.NewLogLevel)))
	}
	if diff.AgentChanged || diff.VADChanged {
		a.registry.UpdateProfile(new.Agent.Script(), new.Agent.Voice(), new.VAD.Detector(new.Audio))
		a.log.Info("session profile updated")
	}
}
