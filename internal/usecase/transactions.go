// Package usecase implements the application services behind the HTTP API:
// transaction submission, fraud simulation, and the read-side queries.
package usecase

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/finsentry/fraud-risk-service/internal/adapter/observability"
	"github.com/finsentry/fraud-risk-service/internal/domain"
)

const statsWindow = 24 * time.Hour

// Service coordinates the store, the broker and the threshold snapshot.
type Service struct {
	store      domain.TransactionStore
	queue      domain.Queue
	thresholds domain.ThresholdProvider
}

// NewService constructs the transaction Service.
func NewService(store domain.TransactionStore, queue domain.Queue, thresholds domain.ThresholdProvider) *Service {
	return &Service{store: store, queue: queue, thresholds: thresholds}
}

// SubmitInput is a validated submission request.
type SubmitInput struct {
	SenderID   string
	ReceiverID string
	Amount     float64
	Timestamp  *time.Time
	Metadata   map[string]any
}

// Submit persists a pending transaction and enqueues it for evaluation.
func (s *Service) Submit(ctx domain.Context, in SubmitInput) (domain.Transaction, error) {
	if err := validateParties(in.SenderID, in.ReceiverID, in.Amount); err != nil {
		return domain.Transaction{}, err
	}

	tx := domain.Transaction{
		ID:         uuid.NewString(),
		SenderID:   in.SenderID,
		ReceiverID: in.ReceiverID,
		Amount:     in.Amount,
		Timestamp:  timestampOrNow(in.Timestamp),
		Metadata:   in.Metadata,
		Status:     domain.StatusPending,
	}
	if err := s.enqueue(ctx, tx); err != nil {
		return domain.Transaction{}, err
	}
	observability.TransactionsSubmittedTotal.WithLabelValues("live").Inc()
	return tx, nil
}

// SimulateInput is a validated fraud-simulation request.
type SimulateInput struct {
	FraudType  string
	SenderID   string
	ReceiverID string
	Amount     float64
	Timestamp  *time.Time
}

// SimulateFraud fabricates the metadata for a chosen fraud scenario and
// submits it through the normal pipeline. The simulation flags travel with
// the transaction and are only honored by the analyzers and risk engine.
func (s *Service) SimulateFraud(ctx domain.Context, in SimulateInput) (domain.Transaction, error) {
	if err := validateParties(in.SenderID, in.ReceiverID, in.Amount); err != nil {
		return domain.Transaction{}, err
	}

	amount := in.Amount
	metadata := map[string]any{}
	switch in.FraudType {
	case domain.SimHighValue:
		amount = in.Amount * 100
	case domain.SimPhishingURL:
		metadata = map[string]any{
			"payment_url": "http://legitbank-secure.fishy-domain.com/payment",
			"user_agent":  "Mozilla/5.0",
			"ip_address":  "192.168.1.100",
		}
	case domain.SimQRCodeTampering:
		metadata = map[string]any{
			"qr_code_payload": map[string]any{
				"original_receiver":    in.ReceiverID,
				"tampered_receiver":    "hacker_account_123",
				"tampering_confidence": 0.92,
			},
			"device_info": "Android 12",
		}
	case domain.SimNetworkFraud:
		metadata = map[string]any{
			"recent_receivers": []any{"acc_9472", "acc_3782", "acc_5432", "suspicious_acc_8843"},
			"network_anomaly":  "unusual_connection_chain",
		}
	default:
		return domain.Transaction{}, fmt.Errorf("op=usecase.simulate: unknown fraud_type %q: %w",
			in.FraudType, domain.ErrInvalidArgument)
	}

	tx := domain.Transaction{
		ID:             uuid.NewString(),
		SenderID:       in.SenderID,
		ReceiverID:     in.ReceiverID,
		Amount:         amount,
		Timestamp:      timestampOrNow(in.Timestamp),
		Metadata:       metadata,
		Status:         domain.StatusPending,
		IsSimulated:    true,
		SimulationType: in.FraudType,
	}
	if err := s.enqueue(ctx, tx); err != nil {
		return domain.Transaction{}, err
	}
	observability.TransactionsSubmittedTotal.WithLabelValues("simulated").Inc()
	slog.Info("fraud simulation queued",
		slog.String("transaction_id", tx.ID),
		slog.String("fraud_type", in.FraudType))
	return tx, nil
}

func (s *Service) enqueue(ctx domain.Context, tx domain.Transaction) error {
	if err := s.store.Insert(ctx, tx); err != nil {
		return fmt.Errorf("op=usecase.insert: %w", err)
	}
	if err := s.queue.Enqueue(ctx, domain.TaskPayload{TransactionID: tx.ID}); err != nil {
		return fmt.Errorf("op=usecase.enqueue: %w", err)
	}
	return nil
}

// Get returns the stored transaction.
func (s *Service) Get(ctx domain.Context, id string) (domain.Transaction, error) {
	if id == "" {
		return domain.Transaction{}, fmt.Errorf("op=usecase.get: empty id: %w", domain.ErrInvalidArgument)
	}
	return s.store.Get(ctx, id)
}

// RiskReport is the risk-details view for a finalized transaction.
type RiskReport struct {
	Transaction domain.Transaction
	Explanation string
}

// RiskDetails returns the evaluation breakdown plus a human-readable
// explanation. The caller distinguishes pending from finalized via
// Transaction.Processed.
func (s *Service) RiskDetails(ctx domain.Context, id string) (RiskReport, error) {
	tx, err := s.Get(ctx, id)
	if err != nil {
		return RiskReport{}, err
	}
	report := RiskReport{Transaction: tx}
	if tx.Processed {
		report.Explanation = explain(tx)
	}
	return report, nil
}

// Recent returns the newest transactions, defaulting to 10.
func (s *Service) Recent(ctx domain.Context, limit int) ([]domain.Transaction, error) {
	if limit <= 0 {
		limit = 10
	}
	return s.store.Recent(ctx, limit)
}

// StatsReport aggregates the last 24 hours plus the live threshold snapshot.
type StatsReport struct {
	Stats      domain.SystemStats
	Thresholds domain.ThresholdConfig
}

// SystemStats returns outcome aggregates over the last 24 hours.
func (s *Service) SystemStats(ctx domain.Context) (StatsReport, error) {
	stats, err := s.store.StatsSince(ctx, time.Now().UTC().Add(-statsWindow))
	if err != nil {
		return StatsReport{}, fmt.Errorf("op=usecase.stats: %w", err)
	}
	return StatsReport{Stats: stats, Thresholds: s.thresholds.Current()}, nil
}

func validateParties(senderID, receiverID string, amount float64) error {
	switch {
	case senderID == "":
		return fmt.Errorf("op=usecase.validate: missing sender_id: %w", domain.ErrInvalidArgument)
	case receiverID == "":
		return fmt.Errorf("op=usecase.validate: missing receiver_id: %w", domain.ErrInvalidArgument)
	case senderID == receiverID:
		return fmt.Errorf("op=usecase.validate: sender and receiver are the same account: %w", domain.ErrInvalidArgument)
	case amount <= 0:
		return fmt.Errorf("op=usecase.validate: amount must be positive: %w", domain.ErrInvalidArgument)
	}
	return nil
}

func timestampOrNow(ts *time.Time) time.Time {
	if ts != nil {
		return ts.UTC()
	}
	return time.Now().UTC()
}

// explain flattens the persisted risk breakdown into a short narrative for
// the risk-details endpoint.
func explain(tx domain.Transaction) string {
	var b strings.Builder
	score := 0.0
	if tx.RiskScore != nil {
		score = *tx.RiskScore
	}
	fmt.Fprintf(&b, "Transaction %s with risk score %.2f.", strings.ReplaceAll(string(tx.Status), "_", " "), score)

	details := tx.RiskDetails
	if reason, ok := details["override_reason"].(string); ok && reason != "" {
		fmt.Fprintf(&b, " Decision overridden: %s.", reason)
	}

	if factors := contributingFactors(details); len(factors) > 0 {
		fmt.Fprintf(&b, " Contributing factors: %s.", strings.Join(factors, "; "))
	}
	return b.String()
}

func contributingFactors(details map[string]any) []string {
	var factors []string

	if adj, ok := details["dynamic_adjustments"].(map[string]any); ok {
		names := map[string]string{
			"amount_beyond_percentile95": "amount well above the sender's usual range",
			"velocity_factor":            "transaction velocity above the sender's historical peak",
			"trending_fraud_pattern":     "matches a recently blocked fraud pattern",
		}
		keys := make([]string, 0, len(adj))
		for k := range adj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if label, ok := names[k]; ok {
				factors = append(factors, label)
			}
		}
	}

	if gt, ok := details["graph_temporal"].(map[string]any); ok {
		if inner, ok := gt["details"].(map[string]any); ok {
			if temporal, ok := inner["temporal_analysis"].(map[string]any); ok {
				if temporal["high_frequency_hour"] == true {
					factors = append(factors, "unusually many transactions in the last hour")
				}
				if temporal["new_recipient"] == true {
					factors = append(factors, "first payment to this receiver")
				}
				if v, ok := temporal["time_window_anomaly"].(float64); ok && v > 0 {
					factors = append(factors, "late-night transaction")
				}
			}
			if graph, ok := inner["graph_analysis"].(map[string]any); ok {
				if n, ok := asInt(graph["fraud_connections"]); ok && n > 0 {
					factors = append(factors, "links to accounts with blocked high-risk history")
				}
			}
		}
	}

	if ca, ok := details["content_analysis"].(map[string]any); ok {
		if v, ok := ca["score"].(float64); ok && v > 0.8 {
			factors = append(factors, "payload content flagged as phishing or tampering")
		}
	}
	return factors
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
