package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirillkom/fso-faq-assistant/internal/bootstrap"
	"github.com/kirillkom/fso-faq-assistant/internal/config"
	"github.com/kirillkom/fso-faq-assistant/internal/core/domain"
	"github.com/kirillkom/fso-faq-assistant/internal/infrastructure/queue/nats"
	"github.com/kirillkom/fso-faq-assistant/internal/observability/logging"
	"github.com/kirillkom/fso-faq-assistant/internal/observability/metrics"
)

const serviceName = "worker"

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger(serviceName, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ix, err := bootstrap.NewIndexing(ctx, cfg)
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer ix.Close()

	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{ResilienceExecutor: ix.Executor})
	if err != nil {
		logger.Error("queue_connect_failed", "error", err)
		os.Exit(1)
	}
	defer queue.Close()

	workerMetrics := metrics.NewWorkerMetrics(serviceName)
	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           workerMetrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("worker_metrics_server_failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Info("worker_subscribed", "subject", cfg.NATSSubject)
	err = queue.SubscribeKnowledgeEntries(ctx, func(handlerCtx context.Context, entry domain.KnowledgeEntry) error {
		indexCtx, cancel := context.WithTimeout(handlerCtx, 2*time.Minute)
		defer cancel()

		workerMetrics.StartEntry()
		start := time.Now()
		result, err := ix.Indexer.Write(indexCtx, entry)
		workerMetrics.FinishEntry(serviceName, time.Since(start), result.AddedCount, err)
		if err != nil {
			return err
		}
		logger.Info("knowledge_entry_indexed", "added_count", result.AddedCount, "source", entry.Source)
		return nil
	})
	if err != nil {
		logger.Error("worker_subscribe_failed", "error", err)
		os.Exit(1)
	}
}
