package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/i-z-z-y/wpdrive-client/internal/config"
	"github.com/i-z-z-y/wpdrive-client/internal/store"
)

func newInitCmd() *cobra.Command {
	var (
		url            string
		user           string
		appPassword    string
		chunkSizeMB    int
		minChunkSizeMB int
	)

	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Initialize a sync root: write .wpdrive/config.json and the state database",
		Args:  cobra.MaximumNArgs(1),
		Annotations: map[string]string{
			skipConfigAnnotation: "true",
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			root := "."
			if len(args) == 1 {
				root = args[0]
			}

			absRoot, err := filepath.Abs(root)
			if err != nil {
				return fmt.Errorf("resolving root %s: %w", root, err)
			}

			cfg := config.DefaultConfig()
			cfg.Root = absRoot
			cfg.URL = url
			cfg.User = user
			cfg.AppPassword = appPassword

			if cmd.Flags().Changed("chunk-size-mb") {
				cfg.ChunkSizeMB = chunkSizeMB
			}

			if cmd.Flags().Changed("min-chunk-size-mb") {
				cfg.MinChunkSizeMB = minChunkSizeMB
			}

			if err := config.Validate(cfg); err != nil {
				return err
			}

			configPath := filepath.Join(absRoot, config.ConfigDirName, config.ConfigFileName)
			if err := config.Save(configPath, cfg); err != nil {
				return err
			}

			dbPath := filepath.Join(absRoot, config.ConfigDirName, "state.db")

			logger := buildLogger(cfg.LogLevel, cfg.LogFormat)

			st, err := store.Open(dbPath, logger)
			if err != nil {
				return fmt.Errorf("initializing state database: %w", err)
			}
			defer st.Close()

			fmt.Printf("Initialized wpdrive sync root at %s\n", absRoot)
			fmt.Printf("Config written to %s\n", configPath)

			return nil
		},
	}

	cmd.Flags().StringVar(&url, "url", "", "WordPress site base URL (required)")
	cmd.Flags().StringVar(&user, "user", "", "WordPress username (required)")
	cmd.Flags().StringVar(&appPassword, "app-password", "", "WordPress application password (required)")
	cmd.Flags().IntVar(&chunkSizeMB, "chunk-size-mb", config.DefaultChunkSizeMB, "initial upload chunk size, in MiB")
	cmd.Flags().IntVar(&minChunkSizeMB, "min-chunk-size-mb", config.DefaultMinChunkSizeMB, "minimum chunk size the adaptive uploader backs off to, in MiB")

	cmd.MarkFlagRequired("url")
	cmd.MarkFlagRequired("user")
	cmd.MarkFlagRequired("app-password")

	return cmd
}
