package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// ConfigDirName is the control directory name under the sync root.
const ConfigDirName = ".wpdrive"

// ConfigFileName is the config file name inside ConfigDirName.
const ConfigFileName = "config.json"

// ErrNotFound is returned by Discover when no .wpdrive/config.json is
// found walking up from the start directory. The CLI translates this
// into exit code 2.
var ErrNotFound = errors.New("config: no .wpdrive/config.json found")

// Load reads and validates a config.json at path, filling any
// zero-valued numeric/list fields with defaults by starting from
// DefaultConfig and decoding onto it.
func Load(path string, logger *slog.Logger) (*Config, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Debug("loading config file", "path", path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if cfg.ChunkSizeMB == 0 {
		cfg.ChunkSizeMB = DefaultChunkSizeMB
	}

	if cfg.MinChunkSizeMB == 0 {
		cfg.MinChunkSizeMB = DefaultMinChunkSizeMB
	}

	if cfg.TimeoutSeconds == 0 {
		cfg.TimeoutSeconds = DefaultTimeoutSeconds
	}

	cfg.Ignore = withIgnoreGuard(cfg.Ignore)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed for %s: %w", path, err)
	}

	logger.Debug("config file parsed", "path", path, "root", cfg.Root)

	return cfg, nil
}

// Save writes cfg to path as indented JSON, keys in Config's field
// order, so files stay human-diffable.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: creating %s: %w", filepath.Dir(path), err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("config: encoding config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("config: writing %s: %w", path, err)
	}

	return nil
}

// Discover walks up from startDir looking for .wpdrive/config.json,
// the way the original CLI's _find_config locates the control
// directory without requiring --root on every invocation.
func Discover(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("config: resolving %s: %w", startDir, err)
	}

	for {
		candidate := filepath.Join(dir, ConfigDirName, ConfigFileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", ErrNotFound
		}

		dir = parent
	}
}
