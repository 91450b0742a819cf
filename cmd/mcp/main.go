package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	mcpadapter "github.com/kirillkom/fso-faq-assistant/internal/adapters/mcp"
	"github.com/kirillkom/fso-faq-assistant/internal/bootstrap"
	"github.com/kirillkom/fso-faq-assistant/internal/config"
	"github.com/kirillkom/fso-faq-assistant/internal/observability/logging"
)

const (
	serviceName = "mcp"
	version     = "1.0.0"
)

func main() {
	cfg := config.Load()
	// stdout carries the protocol, so logs go to stderr.
	logger := logging.NewJSONLoggerTo(os.Stderr, serviceName, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, serviceName)
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	server := mcpadapter.New("fso-faq-assistant", version, app.FAQ, app.KnowledgeWriter)
	logger.Info("mcp_serving_stdio")
	if err := server.ServeStdio(); err != nil {
		logger.Error("mcp_server_failed", "error", err)
		os.Exit(1)
	}
}
