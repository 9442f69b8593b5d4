package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.AppEnv)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, []string{"localhost:19092"}, cfg.KafkaBrokers)
	assert.Equal(t, "transactions_queue", cfg.TransactionTopic)
	assert.Equal(t, 0.6, cfg.GraphTemporalWeight)
	assert.Equal(t, 0.4, cfg.ContentAnalysisWeight)
	assert.Equal(t, 0.3, cfg.LowRiskThreshold)
	assert.Equal(t, 0.9, cfg.HighRiskThreshold)
	assert.Equal(t, 5, cfg.NewAccountHistoryThreshold)
	assert.Equal(t, 4, cfg.WorkerCount)
	assert.Equal(t, 30*time.Second, cfg.JobTimeout)
	assert.Equal(t, 5, cfg.RedeliveryCeiling)
	assert.Equal(t, 24*time.Hour, cfg.RuleUpdateInterval)
	assert.True(t, cfg.IsDev())
	assert.False(t, cfg.IsProd())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	t.Setenv("PORT", "9999")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("WORKER_COUNT", "16")
	t.Setenv("LOW_RISK_THRESHOLD", "0.25")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Port)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 16, cfg.WorkerCount)
	assert.Equal(t, 0.25, cfg.LowRiskThreshold)
	assert.True(t, cfg.IsProd())
}

func TestLoadRejectsMalformedValue(t *testing.T) {
	t.Setenv("PORT", "not-a-number")

	_, err := Load()
	assert.Error(t, err)
}
