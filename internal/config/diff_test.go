package config_test

import (
	"testing"

	"github.com/voicelinehq/voiceline/internal/config"
)

func baseConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogInfo},
		VAD:    config.VADConfig{EnergyThreshold: 500, SilenceMs: 1500},
		Agent:  config.AgentConfig{ClinicName: "Riverside Clinic", VoiceID: "voice-7"},
	}
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := baseConfig()
	d := config.Diff(cfg, cfg)
	if !d.Empty() {
		t.Errorf("expected empty diff for identical configs, got %+v", d)
	}
}

func TestDiff_LogLevel(t *testing.T) {
	t.Parallel()
	old := baseConfig()
	new := baseConfig()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("LogLevelChanged = false")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("NewLogLevel = %q, want debug", d.NewLogLevel)
	}
	if d.AgentChanged || d.VADChanged {
		t.Error("unrelated sections flagged as changed")
	}
}

func TestDiff_Agent(t *testing.T) {
	t.Parallel()
	old := baseConfig()
	new := baseConfig()
	new.Agent.Greeting = "Hello from the new script."

	d := config.Diff(old, new)
	if !d.AgentChanged {
		t.Error("AgentChanged = false")
	}
	if d.LogLevelChanged || d.VADChanged {
		t.Error("unrelated sections flagged as changed")
	}
}

func TestDiff_VAD(t *testing.T) {
	t.Parallel()
	old := baseConfig()
	new := baseConfig()
	new.VAD.EnergyThreshold = 800

	d := config.Diff(old, new)
	if !d.VADChanged {
		t.Error("VADChanged = false")
	}
	if d.Empty() {
		t.Error("Empty() = true for a changed config")
	}
}
