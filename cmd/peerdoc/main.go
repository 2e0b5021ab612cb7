package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"pkt.systems/peerdoc"
	"pkt.systems/pslog"
)

func main() {
	loader := peerdoc.NewLoader()
	root := NewRootCommand(loader)
	logger := pslog.LoggerFromEnv(pslog.WithEnvWriter(os.Stderr))
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	root.SetContext(pslog.ContextWithLogger(ctx, logger))
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
