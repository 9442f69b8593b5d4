package rules

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"time"

	"github.com/finsentry/fraud-risk-service/internal/adapter/observability"
	"github.com/finsentry/fraud-risk-service/internal/analysis"
	"github.com/finsentry/fraud-risk-service/internal/domain"
)

const (
	refreshWindow = 30 * 24 * time.Hour

	// below this many finalized rows the computed percentiles are noise,
	// so the updater publishes the default statistical sections instead
	minSampleSize = 100

	topK = 10
)

// Updater periodically recomputes the threshold snapshot from finalized
// transactions and publishes it through the Provider.
type Updater struct {
	store    domain.TransactionStore
	provider *Provider
	path     string
	interval time.Duration
	retry    time.Duration
}

// NewUpdater constructs an Updater that persists snapshots at path.
func NewUpdater(store domain.TransactionStore, provider *Provider, path string, interval, retry time.Duration) *Updater {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	if retry <= 0 {
		retry = time.Hour
	}
	return &Updater{store: store, provider: provider, path: path, interval: interval, retry: retry}
}

// Run refreshes immediately and then on the configured interval until ctx is
// cancelled. A failed refresh is retried on the shorter retry interval.
func (u *Updater) Run(ctx context.Context) {
	for {
		next := u.interval
		if err := u.Refresh(ctx); err != nil {
			slog.Error("threshold refresh failed", slog.Any("error", err), slog.Duration("retry_in", u.retry))
			observability.ThresholdRefreshTotal.WithLabelValues("error").Inc()
			next = u.retry
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(next):
		}
	}
}

// Refresh recomputes the statistical sections from the last 30 days of
// finalized transactions and atomically publishes a new snapshot. Weights
// and decision thresholds carry over from the current snapshot; only the
// learned distributions change.
func (u *Updater) Refresh(ctx context.Context) error {
	now := time.Now().UTC()
	txs, err := u.store.FinalizedSince(ctx, now.Add(-refreshWindow))
	if err != nil {
		return fmt.Errorf("op=rules.refresh: %w", err)
	}

	next := u.provider.Current()
	next.GeneratedAt = now

	if len(txs) < minSampleSize {
		defaults := domain.DefaultThresholds()
		next.Amount = defaults.Amount
		next.Velocity = defaults.Velocity
		next.Network = defaults.Network
		next.FraudPatterns = defaults.FraudPatterns
		u.provider.publish(next)
		observability.ThresholdRefreshTotal.WithLabelValues("defaults").Inc()
		slog.Info("threshold refresh fell back to defaults",
			slog.Int("sample_size", len(txs)),
			slog.Int("min_sample_size", minSampleSize))
		return u.persist(next)
	}

	amounts := make([]float64, len(txs))
	for i, t := range txs {
		amounts[i] = t.Amount
	}
	next.Amount = domain.AmountThresholds{
		Mean:   analysis.Mean(amounts),
		Median: analysis.Percentile(amounts, 50),
		P95:    analysis.Percentile(amounts, 95),
		P99:    analysis.Percentile(amounts, 99),
	}

	next.Velocity = domain.VelocityThresholds{
		Hourly: velocityPercentiles(txs, time.Hour),
		Daily:  velocityPercentiles(txs, 24*time.Hour),
	}

	next.Network = domain.NetworkThresholds{Connections: connectionStats(txs)}
	next.FraudPatterns = fraudPatterns(txs)

	u.provider.publish(next)
	observability.ThresholdRefreshTotal.WithLabelValues("ok").Inc()
	slog.Info("threshold snapshot published",
		slog.Int("sample_size", len(txs)),
		slog.Float64("amount_p95", next.Amount.P95),
		slog.Int("top_fraud_domains", len(next.FraudPatterns.TopFraudDomains)))
	return u.persist(next)
}

func (u *Updater) persist(cfg domain.ThresholdConfig) error {
	if u.path == "" {
		return nil
	}
	return saveSnapshot(u.path, cfg)
}

// velocityPercentiles buckets per-sender transaction counts by the given
// period and summarizes the distribution of bucket sizes.
func velocityPercentiles(txs []domain.Transaction, bucket time.Duration) domain.VelocityPercentiles {
	counts := make(map[string]int)
	for _, t := range txs {
		key := t.SenderID + "|" + t.Timestamp.UTC().Truncate(bucket).Format(time.RFC3339)
		counts[key]++
	}
	xs := make([]float64, 0, len(counts))
	for _, n := range counts {
		xs = append(xs, float64(n))
	}
	return domain.VelocityPercentiles{
		Mean: analysis.Mean(xs),
		P95:  analysis.Percentile(xs, 95),
		P99:  analysis.Percentile(xs, 99),
	}
}

// connectionStats summarizes per-sender distinct receiver degree.
func connectionStats(txs []domain.Transaction) domain.ConnectionThresholds {
	receivers := make(map[string]map[string]bool)
	for _, t := range txs {
		set := receivers[t.SenderID]
		if set == nil {
			set = make(map[string]bool)
			receivers[t.SenderID] = set
		}
		set[t.ReceiverID] = true
	}
	xs := make([]float64, 0, len(receivers))
	for _, set := range receivers {
		xs = append(xs, float64(len(set)))
	}
	return domain.ConnectionThresholds{
		Mean: analysis.Mean(xs),
		P95:  analysis.Percentile(xs, 95),
	}
}

// fraudPatterns extracts the most frequent payment-URL domains and receiver
// ids across blocked transactions.
func fraudPatterns(txs []domain.Transaction) domain.FraudPatterns {
	domainCounts := make(map[string]int)
	receiverCounts := make(map[string]int)
	for _, t := range txs {
		if t.Status != domain.StatusBlocked {
			continue
		}
		receiverCounts[t.ReceiverID]++
		if raw, ok := t.PaymentURL(); ok {
			if parsed, err := url.Parse(raw); err == nil && parsed.Host != "" {
				domainCounts[parsed.Host]++
			}
		}
	}
	return domain.FraudPatterns{
		TopFraudDomains:   topKeys(domainCounts, topK),
		TopFraudReceivers: topKeys(receiverCounts, topK),
	}
}

func topKeys(counts map[string]int, k int) []string {
	keys := make([]string, 0, len(counts))
	for key := range counts {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if len(keys) > k {
		keys = keys[:k]
	}
	return keys
}
