package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/i-z-z-y/wpdrive-client/internal/daemon"
)

func newDaemonCmd() *cobra.Command {
	var intervalSeconds int

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run sync cycles on a fixed interval until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			engine, st, err := buildEngine(cc)
			if err != nil {
				return err
			}
			defer st.Close()

			var waker daemon.Waker
			if cc.Cfg.URL != "" {
				waker = daemon.NewStreamWaker(cc.Cfg.URL, cc.Cfg.User, cc.Cfg.AppPassword, cc.Logger)
			}

			d := daemon.New(engine, time.Duration(intervalSeconds)*time.Second, cc.Logger, waker)

			ctx := shutdownContext(cmd.Context(), cc.Logger)

			return d.Run(ctx)
		},
	}

	cmd.Flags().IntVar(&intervalSeconds, "interval", 10, "seconds between sync cycles (minimum 3)")

	return cmd
}
