package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/o-farouk/stockwire/internal/dispatch"
	"github.com/o-farouk/stockwire/internal/mail"
	"github.com/o-farouk/stockwire/internal/server"
	"github.com/o-farouk/stockwire/pkg/config"
	"github.com/o-farouk/stockwire/pkg/logging"
)

func main() {
	logger := logging.New(logging.LevelDebug)
	slog.SetDefault(logger)

	cfg, err := config.Load(logger, "config")
	if err != nil {
		logger.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := dispatch.NewHub(logger)
	mailer := mail.New(cfg.Mail, logger)

	app := server.NewApp(logger, ctx, cfg, hub, mailer)
	if err := app.Run(); err != nil {
		logger.Error("Application run failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("Application shut down successfully.")
}
