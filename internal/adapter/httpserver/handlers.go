package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/finsentry/fraud-risk-service/internal/config"
	"github.com/finsentry/fraud-risk-service/internal/domain"
	"github.com/finsentry/fraud-risk-service/internal/usecase"
)

// Server aggregates handler dependencies.
type Server struct {
	Cfg     config.Config
	Txns    *usecase.Service
	DBCheck func(ctx context.Context) error
}

// NewServer constructs the HTTP server with all handlers wired.
func NewServer(cfg config.Config, txns *usecase.Service, dbCheck func(context.Context) error) *Server {
	return &Server{Cfg: cfg, Txns: txns, DBCheck: dbCheck}
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

type submitRequest struct {
	SenderID   string         `json:"sender_id" validate:"required,max=64"`
	ReceiverID string         `json:"receiver_id" validate:"required,max=64"`
	Amount     float64        `json:"amount" validate:"required,gt=0"`
	Timestamp  string         `json:"timestamp" validate:"omitempty"`
	Metadata   map[string]any `json:"txn_metadata"`
}

type simulateRequest struct {
	FraudType  string  `json:"fraud_type" validate:"required,oneof=high_value phishing_url qr_code_tampering network_fraud"`
	SenderID   string  `json:"sender_id" validate:"required,max=64"`
	ReceiverID string  `json:"receiver_id" validate:"required,max=64"`
	Amount     float64 `json:"amount" validate:"required,gt=0"`
	Timestamp  string  `json:"timestamp" validate:"omitempty"`
}

// SubmitTransactionHandler accepts a payment for asynchronous evaluation.
func (s *Server) SubmitTransactionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req submitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, fmt.Errorf("invalid json body: %w", domain.ErrInvalidArgument), nil)
			return
		}
		if err := getValidator().Struct(req); err != nil {
			writeError(w, r, fmt.Errorf("validation failed: %w", domain.ErrInvalidArgument), err.Error())
			return
		}
		ts, err := parseTimestamp(req.Timestamp)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}

		tx, err := s.Txns.Submit(r.Context(), usecase.SubmitInput{
			SenderID:   req.SenderID,
			ReceiverID: req.ReceiverID,
			Amount:     req.Amount,
			Timestamp:  ts,
			Metadata:   req.Metadata,
		})
		if err != nil {
			LoggerFrom(r).Error("submit failed", slog.Any("error", err))
			writeError(w, r, err, nil)
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]any{
			"transaction_id": tx.ID,
			"status":         string(domain.StatusPending),
			"message":        "Transaction received and queued for processing",
		})
	}
}

// SimulateFraudHandler queues a synthetic fraud scenario.
func (s *Server) SimulateFraudHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req simulateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, fmt.Errorf("invalid json body: %w", domain.ErrInvalidArgument), nil)
			return
		}
		if err := getValidator().Struct(req); err != nil {
			writeError(w, r, fmt.Errorf("validation failed: %w", domain.ErrInvalidArgument), err.Error())
			return
		}
		ts, err := parseTimestamp(req.Timestamp)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}

		tx, err := s.Txns.SimulateFraud(r.Context(), usecase.SimulateInput{
			FraudType:  req.FraudType,
			SenderID:   req.SenderID,
			ReceiverID: req.ReceiverID,
			Amount:     req.Amount,
			Timestamp:  ts,
		})
		if err != nil {
			LoggerFrom(r).Error("simulate-fraud failed", slog.Any("error", err))
			writeError(w, r, err, nil)
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]any{
			"transaction_id": tx.ID,
			"status":         string(domain.StatusPending),
			"message":        fmt.Sprintf("Simulated %s scenario queued for processing", req.FraudType),
			"fraud_type":     req.FraudType,
		})
	}
}

// TransactionHandler returns the stored record; 202 while still pending.
func (s *Server) TransactionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tx, err := s.Txns.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		status := http.StatusOK
		if !tx.Processed {
			status = http.StatusAccepted
		}
		writeJSON(w, status, transactionView(tx))
	}
}

// RiskDetailsHandler returns the evaluation breakdown for a finalized
// transaction; 202 while still pending.
func (s *Server) RiskDetailsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := s.Txns.RiskDetails(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		tx := report.Transaction
		if !tx.Processed {
			writeJSON(w, http.StatusAccepted, map[string]any{
				"transaction_id": tx.ID,
				"status":         string(domain.StatusPending),
				"message":        "Transaction is still being processed",
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"transaction_id":         tx.ID,
			"risk_score":             deref(tx.RiskScore),
			"status":                 string(tx.Status),
			"risk_details":           orEmpty(tx.RiskDetails),
			"graph_temporal_score":   deref(tx.GraphTemporalScore),
			"content_analysis_score": deref(tx.ContentAnalysisScore),
			"explanation":            report.Explanation,
		})
	}
}

// RecentTransactionsHandler lists the newest transactions.
func (s *Server) RecentTransactionsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 10
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 || n > 100 {
				writeError(w, r, fmt.Errorf("limit must be between 1 and 100: %w", domain.ErrInvalidArgument), nil)
				return
			}
			limit = n
		}
		txs, err := s.Txns.Recent(r.Context(), limit)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		views := make([]map[string]any, 0, len(txs))
		for _, tx := range txs {
			views = append(views, transactionView(tx))
		}
		writeJSON(w, http.StatusOK, map[string]any{"transactions": views})
	}
}

// SystemStatsHandler aggregates outcomes over the last 24 hours and exposes
// the live threshold snapshot.
func (s *Server) SystemStatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := s.Txns.SystemStats(r.Context())
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		st := report.Stats
		writeJSON(w, http.StatusOK, map[string]any{
			"transactions": map[string]any{
				"total":                st.Total,
				"approved":             st.Approved,
				"blocked":              st.Blocked,
				"pending_verification": st.PendingVerification,
				"pending":              st.Pending,
			},
			"fraud_rate": st.FraudRate(),
			"volume":     st.Volume,
			"window":     "24h",
			"thresholds": report.Thresholds,
		})
	}
}

// ReadyzHandler reports readiness of the store dependency.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.DBCheck != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := s.DBCheck(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "reason": "db"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	}
}

func parseTimestamp(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("timestamp must be ISO-8601: %w", domain.ErrInvalidArgument)
	}
	return &ts, nil
}

// transactionView is the JSON shape of a stored transaction.
func transactionView(tx domain.Transaction) map[string]any {
	return map[string]any{
		"id":                     tx.ID,
		"sender_id":              tx.SenderID,
		"receiver_id":            tx.ReceiverID,
		"amount":                 tx.Amount,
		"timestamp":              tx.Timestamp.UTC().Format(time.RFC3339),
		"txn_metadata":           orEmpty(tx.Metadata),
		"risk_score":             tx.RiskScore,
		"status":                 string(tx.Status),
		"processed":              tx.Processed,
		"graph_temporal_score":   tx.GraphTemporalScore,
		"content_analysis_score": tx.ContentAnalysisScore,
		"is_simulated":           tx.IsSimulated,
		"simulation_type":        tx.SimulationType,
	}
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
