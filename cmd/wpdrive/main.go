// Command wpdrive is a bidirectional file-sync client: a one-shot
// sync, a polling daemon, and an init helper that writes
// .wpdrive/config.json and bootstraps the local state database.
package main

import (
	"context"
	"errors"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}

		exitOnError(err)
	}
}
