package graphtemporal

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/finsentry/fraud-risk-service/internal/analysis"
	"github.com/finsentry/fraud-risk-service/internal/domain"
)

const (
	graphWindow = 30 * 24 * time.Hour

	// senders with shorter history lean on the temporal sub-score
	establishedHistory = 5

	// full temporal history fetch; wide enough for any realistic 30-day burst
	temporalHistoryLimit = 500
)

// Analyzer computes the graph-temporal sub-score. One Analyzer is shared
// across workers; all per-job state lives on the stack.
type Analyzer struct {
	store domain.TransactionStore
}

// New constructs an Analyzer backed by the given store.
func New(store domain.TransactionStore) *Analyzer {
	return &Analyzer{store: store}
}

// Analyze returns a score in [0,1] and a detail breakdown. Store errors are
// returned to the caller so the delivery can be retried; no partial result
// is produced.
func (a *Analyzer) Analyze(ctx context.Context, ec domain.EvaluationContext) (float64, map[string]any, error) {
	tx := ec.Tx

	temporalScore, temporalDetails, histLen, err := a.temporal(ctx, tx)
	if err != nil {
		return 0, nil, err
	}

	graphScore, graphDetails, err := a.graph(ctx, tx)
	if err != nil {
		return 0, nil, err
	}

	// Short histories say little about the account graph, so lean on the
	// temporal signal until the sender is established.
	var combined float64
	if histLen < establishedHistory {
		combined = 0.7*temporalScore + 0.3*graphScore
	} else {
		combined = 0.5*temporalScore + 0.5*graphScore
	}

	details := map[string]any{
		"temporal_analysis":          temporalDetails,
		"graph_analysis":             graphDetails,
		"final_graph_temporal_score": combined,
	}
	return combined, details, nil
}

func (a *Analyzer) temporal(ctx context.Context, tx domain.Transaction) (float64, map[string]any, int, error) {
	since := tx.Timestamp.Add(-graphWindow)
	rows, err := a.store.SenderHistory(ctx, tx.SenderID, since, temporalHistoryLimit)
	if err != nil {
		return 0, nil, 0, fmt.Errorf("op=graphtemporal.sender_history: %w", err)
	}
	history := pastOnly(rows, tx)

	details := map[string]any{
		"amount_anomaly":      0.0,
		"frequency_anomaly":   0.0,
		"time_window_anomaly": 0.0,
		"history_length":      len(history),
	}

	if len(history) == 0 {
		details["reason"] = "no transaction history"
		return 0.5, details, 0, nil
	}

	// Velocity over the trailing hour and day.
	var hourCount, dayCount int
	var hourVolume, dayVolume float64
	lastHour := tx.Timestamp.Add(-time.Hour)
	lastDay := tx.Timestamp.Add(-24 * time.Hour)
	for _, h := range history {
		if !h.Timestamp.Before(lastHour) {
			hourCount++
			hourVolume += h.Amount
		}
		if !h.Timestamp.Before(lastDay) {
			dayCount++
			dayVolume += h.Amount
		}
	}
	details["last_hour_count"] = hourCount
	details["last_day_count"] = dayCount
	details["last_hour_volume"] = hourVolume
	details["last_day_volume"] = dayVolume

	var extra float64
	if hourCount > 5 {
		extra += math.Min(0.1*float64(hourCount-5), 0.5)
		details["high_frequency_hour"] = true
	}
	if dayCount > 20 {
		extra += math.Min(0.05*float64(dayCount-20), 0.4)
		details["high_frequency_day"] = true
	}

	// New recipient, discounted as the sender accumulates history.
	known := false
	for _, h := range history {
		if h.ReceiverID == tx.ReceiverID {
			known = true
			break
		}
	}
	if !known {
		details["new_recipient"] = true
		extra += math.Max(0, 0.3-0.01*math.Min(float64(len(history)), 20))
	}

	// Amount anomaly via z-score against the sender's past amounts.
	amounts := make([]float64, len(history))
	for i, h := range history {
		amounts[i] = h.Amount
	}
	mean := analysis.Mean(amounts)
	std := mean * 0.5
	if len(amounts) > 1 {
		std = analysis.PopStd(amounts)
	}
	std = math.Max(std, 0.01)
	amountAnomaly := analysis.Clamp01(math.Abs(tx.Amount-mean) / std / 3)
	details["amount_anomaly"] = amountAnomaly
	details["avg_transaction_amount"] = mean
	details["transaction_amount_std"] = std

	// Frequency anomaly: how unusual is the gap since the last transaction
	// relative to the sender's inter-arrival distribution.
	frequencyAnomaly := 0.0
	if len(history) > 1 {
		times := make([]time.Time, len(history))
		for i, h := range history {
			times[i] = h.Timestamp
		}
		sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })

		diffs := make([]float64, 0, len(times)-1)
		for i := 1; i < len(times); i++ {
			diffs = append(diffs, times[i].Sub(times[i-1]).Hours())
		}
		meanDiff := analysis.Mean(diffs)
		stdDiff := meanDiff * 0.5
		if len(diffs) > 1 {
			stdDiff = analysis.PopStd(diffs)
		}
		sinceLast := tx.Timestamp.Sub(times[len(times)-1]).Hours()
		if meanDiff > 0 && stdDiff > 0 {
			frequencyAnomaly = analysis.Clamp01(math.Abs(sinceLast-meanDiff) / stdDiff / 3)
		}
		details["frequency_anomaly"] = frequencyAnomaly
		details["avg_hours_between_tx"] = meanDiff
		details["hours_since_last_tx"] = sinceLast
	}

	// Late-night transactions carry a fixed penalty.
	hour := tx.Timestamp.UTC().Hour()
	timeWindowAnomaly := 0.0
	if hour < 6 || hour > 22 {
		timeWindowAnomaly = 0.7
	}
	details["time_window_anomaly"] = timeWindowAnomaly
	details["hour_of_day"] = hour

	score := 0.6*amountAnomaly + 0.3*frequencyAnomaly + 0.1*timeWindowAnomaly + extra
	return analysis.Clamp01(score), details, len(history), nil
}

func (a *Analyzer) graph(ctx context.Context, tx domain.Transaction) (float64, map[string]any, error) {
	since := tx.Timestamp.Add(-graphWindow)
	rows, err := a.store.GraphWindow(ctx, tx.SenderID, tx.ReceiverID, since)
	if err != nil {
		return 0, nil, fmt.Errorf("op=graphtemporal.graph_window: %w", err)
	}
	g := buildGraph(pastOnly(rows, tx))

	details := map[string]any{
		"previous_transactions": 0,
		"network_distance":      -1,
		"common_neighbors":      0,
		"is_first_transaction":  true,
	}
	adj := 0.0

	// Proximity to known fraud: blocked high-risk history among the sender's
	// 1-hop neighborhood, with the receiver itself weighted double.
	neighborIDs := g.neighbors(tx.SenderID)
	flagged, err := a.store.BlockedHighRiskParties(ctx, append(neighborIDs, tx.ReceiverID))
	if err != nil {
		return 0, nil, fmt.Errorf("op=graphtemporal.fraud_parties: %w", err)
	}
	fraudConnections := 0
	for _, id := range neighborIDs {
		if flagged[id] {
			fraudConnections++
		}
	}
	if flagged[tx.ReceiverID] {
		fraudConnections += 2
	}
	details["fraud_connections"] = fraudConnections
	if fraudConnections > 0 {
		factor := math.Min(0.1*float64(fraudConnections), 0.5)
		adj += factor
		details["fraud_connections_factor"] = factor
	}

	if prev := g.edgeCount(tx.SenderID, tx.ReceiverID); prev > 0 {
		details["is_first_transaction"] = false
		details["previous_transactions"] = prev
		adj -= math.Min(0.3, 0.05*float64(prev))
	}

	if d := g.distance(tx.SenderID, tx.ReceiverID); d > 0 {
		details["network_distance"] = d
		switch d {
		case 1:
			adj -= 0.2
		case 2:
			adj -= 0.1
		}
	}

	common := g.commonNeighbors(tx.SenderID, tx.ReceiverID)
	details["common_neighbors"] = common
	adj -= math.Min(0.3, 0.05*float64(common))

	if details["is_first_transaction"] == true && common == 0 {
		adj += 0.3
	}

	return analysis.Clamp01(0.5 + adj), details, nil
}

// pastOnly drops the transaction under evaluation and anything at or after
// its timestamp.
func pastOnly(rows []domain.Transaction, tx domain.Transaction) []domain.Transaction {
	out := rows[:0]
	for _, r := range rows {
		if r.ID == tx.ID || !r.Timestamp.Before(tx.Timestamp) {
			continue
		}
		out = append(out, r)
	}
	return out
}
