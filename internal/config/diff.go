package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; provider chains
// and network settings require a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// AgentChanged is true when any scripted line, the voice profile, or the
	// persona instructions changed. New sessions pick the changes up;
	// in-flight calls keep the script they started with.
	AgentChanged bool

	// VADChanged is true when detector tuning changed. Applies to new
	// sessions only.
	VADChanged bool
}

// Empty reports whether the diff carries no hot-reloadable change.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.AgentChanged && !d.VADChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Agent != new.Agent {
		d.AgentChanged = true
	}
	if old.VAD != new.VAD {
		d.VADChanged = true
	}

	return d
}
