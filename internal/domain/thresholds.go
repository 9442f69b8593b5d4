package domain

import "time"

// ThresholdConfig is the immutable bundle of tunables consumed by one
// evaluation run. The rule updater publishes a fresh snapshot by atomic
// pointer swap; readers must never mutate one.
type ThresholdConfig struct {
	Amount        AmountThresholds   `json:"amount"`
	Velocity      VelocityThresholds `json:"velocity"`
	Network       NetworkThresholds  `json:"network"`
	FraudPatterns FraudPatterns      `json:"fraud_patterns"`

	GraphTemporalWeight   float64 `json:"graph_temporal_weight"`
	ContentAnalysisWeight float64 `json:"content_analysis_weight"`

	LowRiskThreshold    float64 `json:"low_risk_threshold"`
	MediumRiskThreshold float64 `json:"medium_risk_threshold"`
	HighRiskThreshold   float64 `json:"high_risk_threshold"`

	GeneratedAt time.Time `json:"generated_at"`
}

// AmountThresholds describes the recent amount distribution.
type AmountThresholds struct {
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	P95    float64 `json:"p95"`
	P99    float64 `json:"p99"`
}

// VelocityPercentiles describes per-sender transaction counts in a bucket.
type VelocityPercentiles struct {
	Mean float64 `json:"mean"`
	P95  float64 `json:"p95"`
	P99  float64 `json:"p99"`
}

// VelocityThresholds holds hourly and daily velocity percentiles.
type VelocityThresholds struct {
	Hourly VelocityPercentiles `json:"hourly"`
	Daily  VelocityPercentiles `json:"daily"`
}

// NetworkThresholds describes per-sender connection degree.
type NetworkThresholds struct {
	Connections ConnectionThresholds `json:"connections"`
}

// ConnectionThresholds is the distinct-receiver degree distribution.
type ConnectionThresholds struct {
	Mean float64 `json:"mean"`
	P95  float64 `json:"p95"`
}

// FraudPatterns lists the most frequent domains and receivers seen in
// blocked transactions.
type FraudPatterns struct {
	TopFraudDomains   []string `json:"top_fraud_domains"`
	TopFraudReceivers []string `json:"top_fraud_receivers"`
}

// DefaultThresholds returns the snapshot used before the first successful
// rule refresh, or whenever fewer than 100 finalized rows exist.
func DefaultThresholds() ThresholdConfig {
	return ThresholdConfig{
		Amount: AmountThresholds{Mean: 1000, Median: 500, P95: 5000, P99: 10000},
		Velocity: VelocityThresholds{
			Hourly: VelocityPercentiles{Mean: 1, P95: 3, P99: 5},
			Daily:  VelocityPercentiles{Mean: 3, P95: 10, P99: 20},
		},
		Network:               NetworkThresholds{Connections: ConnectionThresholds{Mean: 3, P95: 10}},
		FraudPatterns:         FraudPatterns{TopFraudDomains: []string{}, TopFraudReceivers: []string{}},
		GraphTemporalWeight:   0.6,
		ContentAnalysisWeight: 0.4,
		LowRiskThreshold:      0.3,
		MediumRiskThreshold:   0.7,
		HighRiskThreshold:     0.9,
	}
}

// ThresholdProvider yields the current snapshot; the rules package owns the
// swap, every reader takes exactly one snapshot per job.
type ThresholdProvider interface {
	Current() ThresholdConfig
}
