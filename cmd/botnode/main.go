package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := Instance().RunContext(ctx, os.Args); err != nil {
		slog.Error("botnode failed", "error", err)
		log.Fatal("abort")
	}
}
