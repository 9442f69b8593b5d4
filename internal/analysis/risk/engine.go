// Package risk combines the analyzer sub-scores into a final score and
// decision under the current threshold snapshot.
package risk

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/finsentry/fraud-risk-service/internal/analysis"
	"github.com/finsentry/fraud-risk-service/internal/domain"
)

const (
	statsWindow    = 90 * 24 * time.Hour
	trendingWindow = 7 * 24 * time.Hour
	trendingLimit  = 200

	statsHistoryLimit = 2000
)

// Engine weighs the sub-scores, applies history-derived adjustments and
// maps the result onto a decision.
type Engine struct {
	store      domain.TransactionStore
	thresholds domain.ThresholdProvider
}

// Verdict is the engine's output, persisted verbatim by Finalize.
type Verdict struct {
	RiskScore float64
	Status    domain.TransactionStatus
	Details   map[string]any
}

// New constructs an Engine.
func New(store domain.TransactionStore, thresholds domain.ThresholdProvider) *Engine {
	return &Engine{store: store, thresholds: thresholds}
}

// Evaluate computes the final risk score and decision for one transaction.
// Exactly one threshold snapshot is read per call.
func (e *Engine) Evaluate(ctx context.Context, ec domain.EvaluationContext,
	gtScore float64, gtDetails map[string]any,
	cScore float64, cDetails map[string]any) (Verdict, error) {

	cfg := e.thresholds.Current()
	tx := ec.Tx

	// New accounts have thin graph-temporal history, so content signals
	// carry more weight for them.
	gtWeight, cWeight := cfg.GraphTemporalWeight, cfg.ContentAnalysisWeight
	if ec.Sender.IsNewAccount {
		gtWeight, cWeight = 0.4, 0.6
	}

	score := gtWeight*gtScore + cWeight*cScore

	adjustments := map[string]any{}

	p95, maxHourly, err := e.senderStats(ctx, tx)
	if err != nil {
		return Verdict{}, err
	}

	var dynamicAdj float64
	if p95 > 0 && tx.Amount > p95 {
		amountAdj := math.Min((tx.Amount-p95)/p95, 1.0) * 0.3
		dynamicAdj += amountAdj
		adjustments["amount_beyond_percentile95"] = amountAdj
	}

	if hourCount := lastHourCount(gtDetails); hourCount > maxHourly {
		velocityAdj := math.Min(float64(hourCount-maxHourly)/5, 1.0) * 0.2
		dynamicAdj += velocityAdj
		adjustments["velocity_factor"] = velocityAdj
	}

	trending, err := e.trendingFraud(ctx, tx)
	if err != nil {
		return Verdict{}, err
	}
	if trending > 0 {
		dynamicAdj += trending
		adjustments["trending_fraud_pattern"] = trending
	}

	score = math.Min(1.0, score+dynamicAdj)

	// Very large amounts escalate regardless of profile fit.
	amountFactor := 0.0
	if tx.Amount > 10_000 {
		amountFactor = math.Min(0.2, (tx.Amount-10_000)/50_000)
		score = math.Min(1.0, score+amountFactor)
	}

	var status domain.TransactionStatus
	switch {
	case score < cfg.LowRiskThreshold:
		status = domain.StatusApproved
	case score < cfg.HighRiskThreshold:
		status = domain.StatusPendingVerification
	default:
		status = domain.StatusBlocked
	}

	var overrideReason any
	if cScore > 0.8 {
		status = domain.StatusBlocked
		overrideReason = "high-confidence phishing or QR tampering detected"
	}
	if tx.IsSimulated {
		switch tx.SimulationType {
		case domain.SimPhishingURL, domain.SimQRCodeTampering, domain.SimNetworkFraud:
			status = domain.StatusBlocked
			overrideReason = fmt.Sprintf("simulated %s detected", tx.SimulationType)
		case domain.SimHighValue:
			status = domain.StatusPendingVerification
			overrideReason = "simulated high-value transaction requires verification"
		}
	}

	details := map[string]any{
		"overall_risk_score": score,
		"decision":           string(status),
		"graph_temporal": map[string]any{
			"score":   gtScore,
			"weight":  gtWeight,
			"details": gtDetails,
		},
		"content_analysis": map[string]any{
			"score":   cScore,
			"weight":  cWeight,
			"details": cDetails,
		},
		"amount_factor":       amountFactor,
		"dynamic_adjustments": adjustments,
		"override_reason":     overrideReason,
	}

	return Verdict{RiskScore: score, Status: status, Details: details}, nil
}

// senderStats derives the sender's 90-day amount p95 and peak hourly count.
func (e *Engine) senderStats(ctx context.Context, tx domain.Transaction) (p95 float64, maxHourly int, err error) {
	since := tx.Timestamp.Add(-statsWindow)

	rows, err := e.store.SenderHistory(ctx, tx.SenderID, since, statsHistoryLimit)
	if err != nil {
		return 0, 0, fmt.Errorf("op=risk.sender_history: %w", err)
	}
	var amounts []float64
	for _, r := range rows {
		if r.ID == tx.ID {
			continue
		}
		amounts = append(amounts, r.Amount)
	}
	if len(amounts) >= 5 {
		p95 = analysis.Percentile(amounts, 95)
	} else if len(amounts) > 0 {
		// Too few points for a stable percentile; the max is the best proxy.
		for _, a := range amounts {
			p95 = math.Max(p95, a)
		}
	}

	buckets, err := e.store.HourlyBuckets(ctx, tx.SenderID, since)
	if err != nil {
		return 0, 0, fmt.Errorf("op=risk.hourly_buckets: %w", err)
	}
	// The peak must be historical: buckets overlapping the trailing hour hold
	// the burst under evaluation and would raise the baseline it is compared
	// against, hiding a first-ever burst.
	cutoff := tx.Timestamp.Add(-time.Hour)
	for _, b := range buckets {
		if b.Hour.Add(time.Hour).After(cutoff) {
			continue
		}
		if b.Count > maxHourly {
			maxHourly = b.Count
		}
	}
	return p95, maxHourly, nil
}

// trendingFraud matches the transaction against the last week of blocked
// transactions: a repeat receiver or a payment URL close to a blocked one.
// The combined contribution is capped at 0.5.
func (e *Engine) trendingFraud(ctx context.Context, tx domain.Transaction) (float64, error) {
	since := tx.Timestamp.Add(-trendingWindow)
	blocked, err := e.store.RecentBlocked(ctx, since, trendingLimit)
	if err != nil {
		return 0, fmt.Errorf("op=risk.recent_blocked: %w", err)
	}

	var factor float64
	for _, b := range blocked {
		if b.ReceiverID == tx.ReceiverID {
			factor += 0.4
			break
		}
	}

	if current, ok := tx.PaymentURL(); ok {
		for _, b := range blocked {
			blockedURL, ok := b.PaymentURL()
			if !ok {
				continue
			}
			if analysis.SequenceRatio(current, blockedURL) > 0.7 {
				factor += 0.3
				break
			}
		}
	}

	return math.Min(factor, 0.5), nil
}

func lastHourCount(gtDetails map[string]any) int {
	temporal, ok := gtDetails["temporal_analysis"].(map[string]any)
	if !ok {
		return 0
	}
	switch v := temporal["last_hour_count"].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}
