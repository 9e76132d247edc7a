package config

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/voicelinehq/voiceline/internal/router"
	"github.com/voicelinehq/voiceline/pkg/provider/reasoning"
	"github.com/voicelinehq/voiceline/pkg/provider/synthesis"
	"github.com/voicelinehq/voiceline/pkg/provider/transcription"
)

// ErrProviderNotRegistered is returned by Create* and Chain* methods when no
// factory has been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// capability. It is safe for concurrent use.
type Registry struct {
	mu            sync.RWMutex
	transcription map[string]func(ProviderEntry) (transcription.Provider, error)
	reasoning     map[string]func(ProviderEntry) (reasoning.Provider, error)
	synthesis     map[string]func(ProviderEntry) (synthesis.Provider, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		transcription: make(map[string]func(ProviderEntry) (transcription.Provider, error)),
		reasoning:     make(map[string]func(ProviderEntry) (reasoning.Provider, error)),
		synthesis:     make(map[string]func(ProviderEntry) (synthesis.Provider, error)),
	}
}

// RegisterTranscription registers a transcription provider factory under
// name. Subsequent calls with the same name overwrite the previous
// registration.
func (r *Registry) RegisterTranscription(name string, factory func(ProviderEntry) (transcription.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transcription[name] = factory
}

// RegisterReasoning registers a reasoning provider factory under name.
func (r *Registry) RegisterReasoning(name string, factory func(ProviderEntry) (reasoning.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reasoning[name] = factory
}

// RegisterSynthesis registers a synthesis provider factory under name.
func (r *Registry) RegisterSynthesis(name string, factory func(ProviderEntry) (synthesis.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.synthesis[name] = factory
}

// CreateTranscription instantiates a transcription provider using the
// factory registered under entry.Name. Returns [ErrProviderNotRegistered]
// if no factory has been registered for that name.
func (r *Registry) CreateTranscription(entry ProviderEntry) (transcription.Provider, error) {
	r.mu.RLock()
	factory, ok := r.transcription[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: transcription/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateReasoning instantiates a reasoning provider using the factory
// registered under entry.Name.
func (r *Registry) CreateReasoning(entry ProviderEntry) (reasoning.Provider, error) {
	r.mu.RLock()
	factory, ok := r.reasoning[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: reasoning/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateSynthesis instantiates a synthesis provider using the factory
// registered under entry.Name.
func (r *Registry) CreateSynthesis(entry ProviderEntry) (synthesis.Provider, error) {
	r.mu.RLock()
	factory, ok := r.synthesis[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: synthesis/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// TranscriptionChain builds the ordered fallback chain from the configured
// entries. Every entry must name a registered factory.
func (r *Registry) TranscriptionChain(p ProvidersConfig, log *slog.Logger) (*router.Chain[transcription.Provider], error) {
	chain := router.NewChain[transcription.Provider](router.Config{
		Capability: "transcription",
		Timeout:    p.Timeout(),
		Logger:     log,
	})
	for _, entry := range p.Transcription {
		prov, err := r.CreateTranscription(entry)
		if err != nil {
			return nil, err
		}
		chain.AddWithTimeout(entry.Name, prov, entry.Timeout())
	}
	return chain, nil
}

// ReasoningChain builds the ordered fallback chain from the configured
// entries.
func (r *Registry) ReasoningChain(p ProvidersConfig, log *slog.Logger) (*router.Chain[reasoning.Provider], error) {
	chain := router.NewChain[reasoning.Provider](router.Config{
		Capability: "reasoning",
		Timeout:    p.Timeout(),
		Logger:     log,
	})
	for _, entry := range p.Reasoning {
		prov, err := r.CreateReasoning(entry)
		if err != nil {
			return nil, err
		}
		chain.AddWithTimeout(entry.Name, prov, entry.Timeout())
	}
	return chain, nil
}

// SynthesisChain builds the ordered fallback chain from the configured
// entries.
func (r *Registry) SynthesisChain(p ProvidersConfig, log *slog.Logger) (*router.Chain[synthesis.Provider], error) {
	chain := router.NewChain[synthesis.Provider](router.Config{
		Capability: "synthesis",
		Timeout:    p.Timeout(),
		Logger:     log,
	})
	for _, entry := range p.Synthesis {
		prov, err := r.CreateSynthesis(entry)
		if err != nil {
			return nil, err
		}
		chain.AddWithTimeout(entry.Name, prov, entry.Timeout())
	}
	return chain, nil
}
