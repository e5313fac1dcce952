package config

// Default values for the "layer 0" of config, used both to seed a new
// config.json on init and to fill unset fields when loading one.
const (
	DefaultChunkSizeMB    = 32
	DefaultMinChunkSizeMB = 4
	DefaultTimeoutSeconds = 60
	defaultIgnoreGlob     = ".wpdrive/**"
	defaultLogLevel       = "info"
	defaultLogFormat      = "auto"
)

// DefaultIgnore returns the baseline ignore list every config carries,
// guaranteeing the control directory is always excluded from scans.
func DefaultIgnore() []string {
	return []string{defaultIgnoreGlob}
}

// DefaultConfig returns a Config populated with safe defaults for every
// field except the ones only the caller can supply (root, url, user,
// app_password).
func DefaultConfig() *Config {
	return &Config{
		ChunkSizeMB:    DefaultChunkSizeMB,
		MinChunkSizeMB: DefaultMinChunkSizeMB,
		TimeoutSeconds: DefaultTimeoutSeconds,
		Ignore:         DefaultIgnore(),
		LogLevel:       defaultLogLevel,
		LogFormat:      defaultLogFormat,
	}
}

// withIgnoreGuard ensures the control directory glob is present even if
// a loaded config.json omitted or overrode the ignore list: the control
// directory must always be effectively excluded.
func withIgnoreGuard(patterns []string) []string {
	for _, p := range patterns {
		if p == defaultIgnoreGlob {
			return patterns
		}
	}

	return append(append([]string{}, patterns...), defaultIgnoreGlob)
}
