// Command worker runs the evaluation consumer and the rule updater.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/finsentry/fraud-risk-service/internal/adapter/observability"
	"github.com/finsentry/fraud-risk-service/internal/adapter/queue/redpanda"
	"github.com/finsentry/fraud-risk-service/internal/adapter/repo/postgres"
	"github.com/finsentry/fraud-risk-service/internal/analysis"
	"github.com/finsentry/fraud-risk-service/internal/analysis/content"
	"github.com/finsentry/fraud-risk-service/internal/analysis/graphtemporal"
	"github.com/finsentry/fraud-risk-service/internal/analysis/risk"
	"github.com/finsentry/fraud-risk-service/internal/analysis/rules"
	"github.com/finsentry/fraud-risk-service/internal/config"
	"github.com/finsentry/fraud-risk-service/internal/domain"
	"github.com/finsentry/fraud-risk-service/internal/worker"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()
	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		slog.Error("schema migration failed", slog.Any("error", err))
		os.Exit(1)
	}
	store := postgres.NewTransactionRepo(pool)

	provider := rules.NewProvider(bootThresholds(cfg))
	updater := rules.NewUpdater(store, provider, cfg.ThresholdsPath, cfg.RuleUpdateInterval, cfg.RuleUpdateRetry)
	go updater.Run(ctx)

	processor := worker.NewProcessor(
		store,
		analysis.NewInputProcessor(store, cfg.NewAccountHistoryThreshold),
		graphtemporal.New(store),
		content.New(),
		risk.New(store, provider),
	)

	consumer, err := redpanda.NewConsumer(ctx, redpanda.ConsumerConfig{
		Brokers:           cfg.KafkaBrokers,
		GroupID:           "fraud-risk-workers",
		Topic:             cfg.TransactionTopic,
		Workers:           cfg.WorkerCount,
		JobTimeout:        cfg.JobTimeout,
		RedeliveryCeiling: cfg.RedeliveryCeiling,
	}, processor)
	if err != nil {
		slog.Error("redpanda consumer connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = consumer.Close() }()

	// Worker metrics endpoint
	metricsSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.WorkerMetricsPort),
		Handler: promhttp.Handler(),
	}
	go func() {
		slog.Info("worker metrics listening", slog.Int("port", cfg.WorkerMetricsPort))
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	defer func() { _ = metricsSrv.Shutdown(context.Background()) }()

	slog.Info("worker starting",
		slog.Int("workers", cfg.WorkerCount),
		slog.String("topic", cfg.TransactionTopic))
	if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("consumer stopped", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("worker stopped")
}

func bootThresholds(cfg config.Config) domain.ThresholdConfig {
	fallback := domain.DefaultThresholds()
	fallback.GraphTemporalWeight = cfg.GraphTemporalWeight
	fallback.ContentAnalysisWeight = cfg.ContentAnalysisWeight
	fallback.LowRiskThreshold = cfg.LowRiskThreshold
	fallback.MediumRiskThreshold = cfg.MediumRiskThreshold
	fallback.HighRiskThreshold = cfg.HighRiskThreshold

	snap, err := rules.LoadSnapshot(cfg.ThresholdsPath, fallback)
	if err != nil {
		slog.Warn("threshold snapshot load failed, using defaults",
			slog.String("path", cfg.ThresholdsPath), slog.Any("error", err))
		return fallback
	}
	return snap
}
