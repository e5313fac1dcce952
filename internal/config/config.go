// Package config loads, validates, and discovers the .wpdrive/config.json
// control file.
package config

import "fmt"

// Config is the on-disk shape of .wpdrive/config.json.
type Config struct {
	Root           string   `json:"root"`
	URL            string   `json:"url"`
	User           string   `json:"user"`
	AppPassword    string   `json:"app_password"`
	ChunkSizeMB    int      `json:"chunk_size_mb"`
	MinChunkSizeMB int      `json:"min_chunk_size_mb"`
	TimeoutSeconds int      `json:"timeout_seconds"`
	Ignore         []string `json:"ignore"`
	DeviceLabel    string   `json:"device_label,omitempty"`
	LogLevel       string   `json:"log_level,omitempty"`
	LogFormat      string   `json:"log_format,omitempty"`
}

// Validate rejects a config that cannot drive a sync cycle.
func Validate(cfg *Config) error {
	if cfg.Root == "" {
		return fmt.Errorf("config: root is required")
	}

	if cfg.URL == "" {
		return fmt.Errorf("config: url is required")
	}

	if cfg.User == "" {
		return fmt.Errorf("config: user is required")
	}

	if cfg.AppPassword == "" {
		return fmt.Errorf("config: app_password is required")
	}

	if cfg.ChunkSizeMB <= 0 {
		return fmt.Errorf("config: chunk_size_mb must be positive, got %d", cfg.ChunkSizeMB)
	}

	if cfg.MinChunkSizeMB <= 0 {
		return fmt.Errorf("config: min_chunk_size_mb must be positive, got %d", cfg.MinChunkSizeMB)
	}

	if cfg.MinChunkSizeMB > cfg.ChunkSizeMB {
		return fmt.Errorf("config: min_chunk_size_mb (%d) exceeds chunk_size_mb (%d)", cfg.MinChunkSizeMB, cfg.ChunkSizeMB)
	}

	if cfg.TimeoutSeconds <= 0 {
		return fmt.Errorf("config: timeout_seconds must be positive, got %d", cfg.TimeoutSeconds)
	}

	return nil
}
