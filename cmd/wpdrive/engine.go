package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/i-z-z-y/wpdrive-client/internal/config"
	"github.com/i-z-z-y/wpdrive-client/internal/store"
	"github.com/i-z-z-y/wpdrive-client/internal/sync"
	"github.com/i-z-z-y/wpdrive-client/internal/wpapi"
)

// buildEngine wires the state store, the API client, and the sync
// engine from a loaded config. The caller owns closing the store.
func buildEngine(cc *CLIContext) (*sync.Engine, *store.Store, error) {
	cfg := cc.Cfg

	dbPath := filepath.Join(cfg.Root, config.ConfigDirName, "state.db")

	st, err := store.Open(dbPath, cc.Logger)
	if err != nil {
		return nil, nil, fmt.Errorf("opening state database: %w", err)
	}

	client := wpapi.New(wpapi.Config{
		URL:         cfg.URL,
		User:        cfg.User,
		AppPassword: cfg.AppPassword,
		Timeout:     secondsToDuration(cfg.TimeoutSeconds),
	}, cc.Logger)

	engine, err := sync.New(sync.Config{
		Root:           cfg.Root,
		Ignore:         cfg.Ignore,
		ChunkSizeMB:    cfg.ChunkSizeMB,
		MinChunkSizeMB: cfg.MinChunkSizeMB,
		DeviceLabel:    cfg.DeviceLabel,
	}, client, st, cc.Logger)
	if err != nil {
		st.Close()
		return nil, nil, err
	}

	return engine, st, nil
}

func secondsToDuration(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}
