package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/magabrotheeeer/employer-billing/internal/app/reconcileworker"
	"github.com/magabrotheeeer/employer-billing/internal/config"
)

func main() {
	cfg := config.MustLoad()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	logger.Info("starting reconcile worker", slog.String("env", cfg.Env))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := reconcileworker.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize reconcile worker", slog.Any("err", err))
		os.Exit(1)
	}

	if err := app.Run(ctx); err != nil {
		logger.Error("reconcile worker stopped with error", slog.Any("err", err))
		os.Exit(1)
	}

	logger.Info("reconcile worker stopped gracefully")
}
