package rules

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finsentry/fraud-risk-service/internal/adapter/repo/memory"
	"github.com/finsentry/fraud-risk-service/internal/domain"
)

func TestProviderCurrentReturnsSeed(t *testing.T) {
	t.Parallel()
	seed := domain.DefaultThresholds()
	seed.LowRiskThreshold = 0.25

	p := NewProvider(seed)
	assert.Equal(t, 0.25, p.Current().LowRiskThreshold)
}

func TestProviderSwapIsAtomic(t *testing.T) {
	t.Parallel()
	p := NewProvider(domain.DefaultThresholds())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			cfg := domain.DefaultThresholds()
			v := float64(i)
			cfg.LowRiskThreshold = v
			cfg.HighRiskThreshold = v
			p.publish(cfg)
		}
	}()

	// Readers must never observe a half-applied snapshot.
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				cur := p.Current()
				if cur.LowRiskThreshold != cur.HighRiskThreshold &&
					!(cur.LowRiskThreshold == 0.3 && cur.HighRiskThreshold == 0.9) {
					t.Errorf("torn snapshot: low=%v high=%v", cur.LowRiskThreshold, cur.HighRiskThreshold)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestSnapshotRoundTrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "nested", "thresholds.json")

	cfg := domain.DefaultThresholds()
	cfg.Amount.P95 = 1234.5
	cfg.FraudPatterns.TopFraudDomains = []string{"scam.example.com"}
	cfg.GeneratedAt = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	require.NoError(t, saveSnapshot(path, cfg))

	got, err := LoadSnapshot(path, domain.DefaultThresholds())
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestLoadSnapshotMissingFileReturnsFallback(t *testing.T) {
	t.Parallel()
	fallback := domain.DefaultThresholds()
	fallback.LowRiskThreshold = 0.11

	got, err := LoadSnapshot(filepath.Join(t.TempDir(), "missing.json"), fallback)
	require.NoError(t, err)
	assert.Equal(t, 0.11, got.LowRiskThreshold)
}

func TestLoadSnapshotCorruptFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "thresholds.json")
	require.NoError(t, saveSnapshot(path, domain.DefaultThresholds()))

	// Truncate it into invalid JSON.
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o644))

	_, err := LoadSnapshot(path, domain.DefaultThresholds())
	assert.Error(t, err)
}

func TestRefreshFallsBackToDefaultsOnSmallSample(t *testing.T) {
	t.Parallel()
	store := memory.NewStore()
	now := time.Now().UTC()
	for i := 0; i < 5; i++ {
		require.NoError(t, store.Insert(context.Background(), domain.Transaction{
			ID: fmt.Sprintf("p%d", i), SenderID: "alice", ReceiverID: "bob", Amount: 999_999,
			Timestamp: now.Add(-time.Duration(i) * time.Minute),
			Status:    domain.StatusApproved, Processed: true,
		}))
	}

	seed := domain.DefaultThresholds()
	seed.LowRiskThreshold = 0.22 // tuned value must survive the refresh
	provider := NewProvider(seed)
	path := filepath.Join(t.TempDir(), "thresholds.json")
	u := NewUpdater(store, provider, path, time.Hour, time.Minute)

	require.NoError(t, u.Refresh(context.Background()))

	cur := provider.Current()
	assert.Equal(t, domain.DefaultThresholds().Amount, cur.Amount, "too few rows must not move the learned stats")
	assert.Equal(t, 0.22, cur.LowRiskThreshold)
	assert.False(t, cur.GeneratedAt.IsZero())

	persisted, err := LoadSnapshot(path, domain.ThresholdConfig{})
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultThresholds().Amount, persisted.Amount)
}

func TestRefreshComputesStatsFromFinalizedRows(t *testing.T) {
	t.Parallel()
	store := memory.NewStore()
	now := time.Now().UTC()

	for i := 1; i <= 120; i++ {
		tx := domain.Transaction{
			ID:         fmt.Sprintf("p%d", i),
			SenderID:   fmt.Sprintf("sender%d", i%10),
			ReceiverID: fmt.Sprintf("shop%d", i%7),
			Amount:     float64(i),
			Timestamp:  now.Add(-time.Duration(i) * time.Minute),
			Status:     domain.StatusApproved,
			Processed:  true,
		}
		if i%20 == 0 {
			tx.Status = domain.StatusBlocked
			tx.ReceiverID = "mule"
			tx.Metadata = map[string]any{"payment_url": "http://scam.example.com/pay"}
		}
		require.NoError(t, store.Insert(context.Background(), tx))
	}

	provider := NewProvider(domain.DefaultThresholds())
	path := filepath.Join(t.TempDir(), "thresholds.json")
	u := NewUpdater(store, provider, path, time.Hour, time.Minute)

	require.NoError(t, u.Refresh(context.Background()))
	cur := provider.Current()

	assert.InDelta(t, 60.5, cur.Amount.Mean, 1e-9)
	assert.InDelta(t, 60.5, cur.Amount.Median, 1e-9)
	assert.InDelta(t, 114.05, cur.Amount.P95, 1e-9)
	assert.Greater(t, cur.Velocity.Hourly.Mean, 0.0)
	assert.Greater(t, cur.Network.Connections.Mean, 0.0)
	assert.Equal(t, []string{"scam.example.com"}, cur.FraudPatterns.TopFraudDomains)
	assert.Equal(t, []string{"mule"}, cur.FraudPatterns.TopFraudReceivers)

	// Decision tunables never come from the data.
	assert.Equal(t, 0.3, cur.LowRiskThreshold)
	assert.Equal(t, 0.9, cur.HighRiskThreshold)
}

func TestTopKeysOrdersByCountThenName(t *testing.T) {
	t.Parallel()
	got := topKeys(map[string]int{"b": 2, "a": 2, "c": 5, "d": 1}, 3)
	assert.Equal(t, []string{"c", "a", "b"}, got)
}

func TestVelocityPercentilesBucketsBySender(t *testing.T) {
	t.Parallel()
	base := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	txs := []domain.Transaction{
		{SenderID: "a", Timestamp: base},
		{SenderID: "a", Timestamp: base.Add(10 * time.Minute)},
		{SenderID: "a", Timestamp: base.Add(2 * time.Hour)},
		{SenderID: "b", Timestamp: base},
	}
	got := velocityPercentiles(txs, time.Hour)

	// buckets: a@12h -> 2, a@14h -> 1, b@12h -> 1
	assert.InDelta(t, 4.0/3.0, got.Mean, 1e-9)
}
