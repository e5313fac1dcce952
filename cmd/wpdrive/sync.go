package main

import (
	"github.com/spf13/cobra"
)

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run a single pull-then-push sync cycle",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			engine, st, err := buildEngine(cc)
			if err != nil {
				return err
			}
			defer st.Close()

			return engine.SyncOnce(cmd.Context())
		},
	}
}
