// Package main implements the terrane-provider-memory binary: the
// bundled in-memory object-store provider, served over stdio. The
// engine launches it as a subprocess; stdout carries the protocol and
// all logging goes to stderr.
package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/terrane-dev/terrane/pkg/provider/protocol"
	"github.com/terrane-dev/terrane/pkg/providers/memory"
	"github.com/terrane-dev/terrane/pkg/telemetry"
)

// stdio joins the process's input and output into one protocol channel.
type stdio struct {
	io.Reader
	io.Writer
}

func main() {
	logger, err := telemetry.NewLogger(telemetry.LoggingConfig{
		Level:  logLevel(),
		Format: "json",
		Output: "stderr",
	})
	if err != nil {
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received signal, shutting down")
		cancel()
	}()

	srv := protocol.NewServer(memory.New(), logger)
	if err := srv.Serve(ctx, stdio{Reader: os.Stdin, Writer: os.Stdout}); err != nil && ctx.Err() == nil {
		logger.WithError(err).Error("provider terminated")
		os.Exit(1)
	}
}

func logLevel() string {
	if lvl := os.Getenv("TERRANE_LOG_LEVEL"); lvl != "" {
		return lvl
	}
	return "info"
}
