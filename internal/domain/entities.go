// Package domain holds the core entities and ports of the fraud-risk
// evaluation service. Adapters (HTTP, Postgres, Redpanda) depend on this
// package; it depends on nothing but the standard library.
package domain

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrNotFound          = errors.New("not found")
	ErrDuplicateID       = errors.New("duplicate id")
	ErrAlreadyProcessed  = errors.New("already processed")
	ErrBrokerUnavailable = errors.New("broker unavailable")
	ErrStoreUnavailable  = errors.New("store unavailable")
	ErrInternal          = errors.New("internal error")
)

// TransactionStatus enumerates the lifecycle of a transaction. A row starts
// pending and is moved exactly once to one of the three terminal states.
type TransactionStatus string

const (
	StatusPending             TransactionStatus = "pending"
	StatusApproved            TransactionStatus = "approved"
	StatusPendingVerification TransactionStatus = "pending_verification"
	StatusBlocked             TransactionStatus = "blocked"
)

// Terminal reports whether s is a terminal decision.
func (s TransactionStatus) Terminal() bool {
	return s == StatusApproved || s == StatusPendingVerification || s == StatusBlocked
}

// Simulation types accepted by the simulate-fraud endpoint and honored by
// the content analyzer and risk engine.
const (
	SimHighValue       = "high_value"
	SimPhishingURL     = "phishing_url"
	SimQRCodeTampering = "qr_code_tampering"
	SimNetworkFraud    = "network_fraud"
)

// Transaction is a submitted payment intent plus, once processed, its
// evaluation outcome. Score fields are nil until Finalize.
type Transaction struct {
	ID         string
	SenderID   string
	ReceiverID string
	Amount     float64
	Timestamp  time.Time

	// Metadata carries opaque payload hints such as payment_url and
	// qr_code_payload, stored as JSON text in the transactions table.
	Metadata map[string]any

	Status    TransactionStatus
	Processed bool

	RiskScore            *float64
	GraphTemporalScore   *float64
	ContentAnalysisScore *float64
	RiskDetails          map[string]any

	IsSimulated    bool
	SimulationType string
}

// PaymentURL returns the payment_url metadata value, if present.
func (t Transaction) PaymentURL() (string, bool) {
	if t.Metadata == nil {
		return "", false
	}
	s, ok := t.Metadata["payment_url"].(string)
	return s, ok && s != ""
}

// QRPayload returns the qr_code_payload metadata object, if present.
func (t Transaction) QRPayload() (map[string]any, bool) {
	if t.Metadata == nil {
		return nil, false
	}
	m, ok := t.Metadata["qr_code_payload"].(map[string]any)
	return m, ok
}

// EvaluationResult is the terminal outcome written by Finalize in a single
// conditional update.
type EvaluationResult struct {
	RiskScore            float64
	GraphTemporalScore   float64
	ContentAnalysisScore float64
	Status               TransactionStatus
	RiskDetails          map[string]any
}

// VelocityStats summarizes a user's outgoing transactions since an instant.
type VelocityStats struct {
	Count  int
	Volume float64
}

// HourBucket is one hour of a sender's activity, used by the rule updater.
type HourBucket struct {
	Hour  time.Time
	Count int
}

// SystemStats aggregates outcomes over a window for the system-stats API.
type SystemStats struct {
	Total               int
	Approved            int
	Blocked             int
	PendingVerification int
	Pending             int
	Volume              float64
}

// FraudRate returns blocked transactions as a percentage of the total.
func (s SystemStats) FraudRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Blocked) / float64(s.Total) * 100
}

// TransactionStore is the persistence port (C1). Production uses Postgres;
// tests use the in-memory adapter. Finalize must be conditional on
// processed=false so redeliveries cannot rewrite a terminal record.
type TransactionStore interface {
	Insert(ctx Context, t Transaction) error
	Get(ctx Context, id string) (Transaction, error)
	Finalize(ctx Context, id string, res EvaluationResult) error

	SenderHistory(ctx Context, senderID string, since time.Time, limit int) ([]Transaction, error)
	ReceiverHistory(ctx Context, receiverID string, since time.Time, limit int) ([]Transaction, error)
	// GraphWindow returns every transaction touching either party since the
	// given instant; the graph-temporal analyzer builds its per-job graph
	// from this set.
	GraphWindow(ctx Context, senderID, receiverID string, since time.Time) ([]Transaction, error)
	RecentBlocked(ctx Context, since time.Time, limit int) ([]Transaction, error)
	// BlockedHighRiskParties reports which of the given account ids appear in
	// blocked transactions with risk_score > 0.8.
	BlockedHighRiskParties(ctx Context, ids []string) (map[string]bool, error)
	Velocity(ctx Context, userID string, since time.Time) (VelocityStats, error)
	HourlyBuckets(ctx Context, userID string, since time.Time) ([]HourBucket, error)

	Recent(ctx Context, limit int) ([]Transaction, error)
	FinalizedSince(ctx Context, since time.Time) ([]Transaction, error)
	StatsSince(ctx Context, since time.Time) (SystemStats, error)
}

// TaskPayload is the broker message: just the transaction id, everything
// else is re-read from the store by the worker.
type TaskPayload struct {
	TransactionID string `json:"transaction_id"`
}

// Queue is the broker port (C2).
type Queue interface {
	Enqueue(ctx Context, payload TaskPayload) error
}

// AccountProfile captures the derived view of one side of a transaction.
type AccountProfile struct {
	ID              string
	History         []Transaction
	IsNewAccount    bool
	AvgAmount       float64
	MaxAmount       float64
	RecentReceivers []string
}

// EvaluationContext is the input processor's output (C3), consumed by the
// analyzers and the risk engine. It is plain data with no behavior.
type EvaluationContext struct {
	Tx       Transaction
	Sender   AccountProfile
	Receiver AccountProfile
}

// Context aliases context.Context so adapter signatures read uniformly.
type Context = context.Context
