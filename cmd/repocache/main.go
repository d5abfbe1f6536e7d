// Package main is the entry point for the repocache command.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmgilman/repocache/cmd/repocache/app"
)

func main() {
	// Logs go to stderr so stdout only carries command output (paths, lists).
	logger := app.NewLogger(os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := app.NewRootCmd(logger).ExecuteContext(ctx)
	stop()

	if err != nil {
		os.Exit(1)
	}
}
