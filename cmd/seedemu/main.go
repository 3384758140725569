// Command seedemu renders declarative Internet topologies, stores and merges
// their snapshots, and compiles them into deployable artifacts.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
