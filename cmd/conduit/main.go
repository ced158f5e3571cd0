// Command conduit runs the dispatch engine: the HTTP ingress, the task
// workers and the topic router.
//
//	conduit serve   --config conduit.yaml
//	conduit worker  --config conduit.yaml
//	conduit version
//
// Settings come from the optional config file and CONDUIT_* environment
// variables.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
