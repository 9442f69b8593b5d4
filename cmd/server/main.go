// Command server starts the fraud-risk HTTP API.
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

	"github.com/finsentry/fraud-risk-service/internal/adapter/httpserver"
	"github.com/finsentry/fraud-risk-service/internal/adapter/observability"
	"github.com/finsentry/fraud-risk-service/internal/adapter/queue/redpanda"
	"github.com/finsentry/fraud-risk-service/internal/adapter/repo/postgres"
	"github.com/finsentry/fraud-risk-service/internal/analysis/rules"
	"github.com/finsentry/fraud-risk-service/internal/app"
	"github.com/finsentry/fraud-risk-service/internal/config"
	"github.com/finsentry/fraud-risk-service/internal/domain"
	"github.com/finsentry/fraud-risk-service/internal/usecase"
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

	producer, err := redpanda.NewProducer(ctx, cfg.KafkaBrokers, cfg.TransactionTopic)
	if err != nil {
		slog.Error("redpanda producer connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = producer.Close() }()

	thresholds := bootThresholds(cfg)
	provider := rules.NewProvider(thresholds)

	svc := usecase.NewService(store, producer, provider)
	srv := httpserver.NewServer(cfg, svc, func(ctx context.Context) error { return pool.Ping(ctx) })

	httpSrv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      app.BuildRouter(cfg, srv),
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	go func() {
		slog.Info("http server listening", slog.Int("port", cfg.Port), slog.String("env", cfg.AppEnv))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown failed", slog.Any("error", err))
	}
}

// bootThresholds recovers the last persisted snapshot, falling back to the
// configured boot values.
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
