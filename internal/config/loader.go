package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per capability.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"transcription": {"whisper", "deepgram"},
	"reasoning":     {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"synthesis":     {"elevenlabs", "coqui"},
}

// validSampleRates are the PCM sample rates the pipeline accepts from
// clients.
var validSampleRates = []int{8000, 16000, 22050, 24000, 44100, 48000}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate].
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

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
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
	if tls := cfg.Server.TLS; tls != nil {
		if tls.CertFile == "" || tls.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Audio
	if cfg.Audio.SampleRate != 0 && !slices.Contains(validSampleRates, cfg.Audio.SampleRate) {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d is unsupported; valid values: %v", cfg.Audio.SampleRate, validSampleRates))
	}
	if cfg.Audio.FrameMs != 0 && (cfg.Audio.FrameMs < 10 || cfg.Audio.FrameMs > 100) {
		errs = append(errs, fmt.Errorf("audio.frame_ms %d is out of range [10, 100]", cfg.Audio.FrameMs))
	}

	// VAD
	if cfg.VAD.EnergyThreshold < 0 {
		errs = append(errs, fmt.Errorf("vad.energy_threshold %.0f must not be negative", cfg.VAD.EnergyThreshold))
	}
	if cfg.VAD.SilenceMs < 0 || cfg.VAD.MinSpeechMs < 0 || cfg.VAD.MaxTurnMs < 0 {
		errs = append(errs, errors.New("vad durations must not be negative"))
	}
	if cfg.VAD.SilenceMs > 0 && cfg.VAD.MaxTurnMs > 0 && cfg.VAD.SilenceMs >= cfg.VAD.MaxTurnMs {
		errs = append(errs, fmt.Errorf("vad.silence_ms %d must be below vad.max_turn_ms %d", cfg.VAD.SilenceMs, cfg.VAD.MaxTurnMs))
	}

	// Provider chains. Every capability needs at least one entry; without a
	// full pipeline no call can complete.
	errs = append(errs, validateChain("transcription", cfg.Providers.Transcription)...)
	errs = append(errs, validateChain("reasoning", cfg.Providers.Reasoning)...)
	errs = append(errs, validateChain("synthesis", cfg.Providers.Synthesis)...)

	if cfg.Providers.TimeoutMs < 0 {
		errs = append(errs, fmt.Errorf("providers.timeout_ms %d must not be negative", cfg.Providers.TimeoutMs))
	}

	// Agent
	if cfg.Agent.Speed != 0 && (cfg.Agent.Speed < 0.5 || cfg.Agent.Speed > 2.0) {
		errs = append(errs, fmt.Errorf("agent.speed %.2f is out of range [0.5, 2.0]", cfg.Agent.Speed))
	}
	if cfg.Agent.MaxHistory < 0 {
		errs = append(errs, fmt.Errorf("agent.max_history %d must not be negative", cfg.Agent.MaxHistory))
	}

	// Export availability
	if cfg.Export.PostgresDSN == "" {
		slog.Warn("export.postgres_dsn is empty; call transcripts will only be logged")
	}

	return errors.Join(errs...)
}

// validateChain checks one capability's provider list: it must be non-empty,
// every entry needs a name, and names must be unique within the chain.
func validateChain(capability string, entries []ProviderEntry) []error {
	var errs []error
	if len(entries) == 0 {
		errs = append(errs, fmt.Errorf("providers.%s requires at least one entry", capability))
		return errs
	}
	seen := make(map[string]int, len(entries))
	for i, e := range entries {
		prefix := fmt.Sprintf("providers.%s[%d]", capability, i)
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		if prev, dup := seen[e.Name]; dup {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of providers.%s[%d]", prefix, e.Name, capability, prev))
		}
		seen[e.Name] = i
		validateProviderName(capability, e.Name)
	}
	return errs
}

// validateProviderName logs a warning if name is not found in the
// [ValidProviderNames] list for the given capability.
func validateProviderName(capability, name string) {
	known, ok := ValidProviderNames[capability]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"capability", capability,
		"name", name,
		"known", known,
	)
}
