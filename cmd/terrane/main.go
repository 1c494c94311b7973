// Package main implements the terrane CLI: plan, apply, refresh and
// destroy resources against a provider speaking the resource-provider
// protocol.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/terrane-dev/terrane/cmd/terrane/commands"
)

// Version information (set via ldflags during build)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := commands.Execute(ctx, Version, Commit, BuildDate); err != nil {
		os.Exit(1)
	}
}
