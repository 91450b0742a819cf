package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/kirillkom/fso-faq-assistant/internal/bootstrap"
	"github.com/kirillkom/fso-faq-assistant/internal/config"
	"github.com/kirillkom/fso-faq-assistant/internal/observability/logging"
)

const serviceName = "indexer"

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLoggerTo(os.Stderr, serviceName, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	open := func(ctx context.Context) (knowledgeAdmin, func(), error) {
		ix, err := bootstrap.NewIndexing(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return newAdmin(ix), ix.Close, nil
	}

	root := newRootCmd(open)
	root.SetOut(os.Stdout)
	if err := root.ExecuteContext(ctx); err != nil {
		logger.Error("indexer_command_failed", "error", err)
		os.Exit(1)
	}
}
