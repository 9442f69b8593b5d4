package postgres

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"

	"github.com/finsentry/fraud-risk-service/internal/domain"
)

// TransactionRepo persists and loads transactions from PostgreSQL.
type TransactionRepo struct{ Pool PgxPool }

// NewTransactionRepo constructs a TransactionRepo with the given pool.
func NewTransactionRepo(p PgxPool) *TransactionRepo { return &TransactionRepo{Pool: p} }

const txColumns = `id, sender_id, receiver_id, amount, timestamp, txn_metadata,
	risk_score, graph_temporal_score, content_analysis_score, status,
	risk_details, processed, is_simulated, COALESCE(simulation_type,'')`

// Insert stores a new pending transaction. Duplicate ids map to
// domain.ErrDuplicateID.
func (r *TransactionRepo) Insert(ctx domain.Context, t domain.Transaction) error {
	tracer := otel.Tracer("repo.transactions")
	ctx, span := tracer.Start(ctx, "transactions.Insert")
	defer span.End()
	meta, err := encodeJSON(t.Metadata)
	if err != nil {
		return fmt.Errorf("op=tx.insert: %w", err)
	}
	q := `INSERT INTO transactions
		(id, sender_id, receiver_id, amount, timestamp, txn_metadata, status, processed, is_simulated, simulation_type)
		VALUES ($1,$2,$3,$4,$5,$6,$7,FALSE,$8,$9)`
	_, err = r.Pool.Exec(ctx, q, t.ID, t.SenderID, t.ReceiverID, t.Amount, t.Timestamp.UTC(),
		meta, domain.StatusPending, t.IsSimulated, nullable(t.SimulationType))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("op=tx.insert: %w", domain.ErrDuplicateID)
		}
		return fmt.Errorf("op=tx.insert: %w", err)
	}
	return nil
}

// Get loads a transaction by id.
func (r *TransactionRepo) Get(ctx domain.Context, id string) (domain.Transaction, error) {
	tracer := otel.Tracer("repo.transactions")
	ctx, span := tracer.Start(ctx, "transactions.Get")
	defer span.End()
	q := `SELECT ` + txColumns + ` FROM transactions WHERE id=$1`
	t, err := scanTransaction(r.Pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Transaction{}, fmt.Errorf("op=tx.get: %w", domain.ErrNotFound)
		}
		return domain.Transaction{}, fmt.Errorf("op=tx.get: %w", err)
	}
	return t, nil
}

// Finalize writes the terminal result in one conditional update. The WHERE
// processed=FALSE guard is what makes worker redelivery idempotent.
func (r *TransactionRepo) Finalize(ctx domain.Context, id string, res domain.EvaluationResult) error {
	tracer := otel.Tracer("repo.transactions")
	ctx, span := tracer.Start(ctx, "transactions.Finalize")
	defer span.End()
	details, err := encodeJSON(res.RiskDetails)
	if err != nil {
		return fmt.Errorf("op=tx.finalize: %w", err)
	}
	q := `UPDATE transactions
		SET risk_score=$2, graph_temporal_score=$3, content_analysis_score=$4,
		    status=$5, risk_details=$6, processed=TRUE
		WHERE id=$1 AND processed=FALSE`
	tag, err := r.Pool.Exec(ctx, q, id, res.RiskScore, res.GraphTemporalScore,
		res.ContentAnalysisScore, res.Status, details)
	if err != nil {
		return fmt.Errorf("op=tx.finalize: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var processed bool
		row := r.Pool.QueryRow(ctx, `SELECT processed FROM transactions WHERE id=$1`, id)
		if scanErr := row.Scan(&processed); scanErr != nil {
			if errors.Is(scanErr, pgx.ErrNoRows) {
				return fmt.Errorf("op=tx.finalize: %w", domain.ErrNotFound)
			}
			return fmt.Errorf("op=tx.finalize: %w", scanErr)
		}
		if processed {
			return fmt.Errorf("op=tx.finalize: %w", domain.ErrAlreadyProcessed)
		}
		return fmt.Errorf("op=tx.finalize: %w", domain.ErrNotFound)
	}
	return nil
}

// SenderHistory returns the sender's transactions since the given instant,
// newest first.
func (r *TransactionRepo) SenderHistory(ctx domain.Context, senderID string, since time.Time, limit int) ([]domain.Transaction, error) {
	q := `SELECT ` + txColumns + ` FROM transactions
		WHERE sender_id=$1 AND timestamp>=$2 ORDER BY timestamp DESC LIMIT $3`
	return r.queryMany(ctx, "transactions.SenderHistory", q, senderID, since.UTC(), limit)
}

// ReceiverHistory returns the receiver's incoming transactions since the
// given instant, newest first.
func (r *TransactionRepo) ReceiverHistory(ctx domain.Context, receiverID string, since time.Time, limit int) ([]domain.Transaction, error) {
	q := `SELECT ` + txColumns + ` FROM transactions
		WHERE receiver_id=$1 AND timestamp>=$2 ORDER BY timestamp DESC LIMIT $3`
	return r.queryMany(ctx, "transactions.ReceiverHistory", q, receiverID, since.UTC(), limit)
}

// GraphWindow returns every transaction touching either party since the
// given instant.
func (r *TransactionRepo) GraphWindow(ctx domain.Context, senderID, receiverID string, since time.Time) ([]domain.Transaction, error) {
	q := `SELECT ` + txColumns + ` FROM transactions
		WHERE (sender_id=$1 OR receiver_id=$1 OR sender_id=$2 OR receiver_id=$2)
		  AND timestamp>=$3`
	return r.queryMany(ctx, "transactions.GraphWindow", q, senderID, receiverID, since.UTC())
}

// RecentBlocked returns blocked transactions since the given instant, newest
// first, capped at limit.
func (r *TransactionRepo) RecentBlocked(ctx domain.Context, since time.Time, limit int) ([]domain.Transaction, error) {
	q := `SELECT ` + txColumns + ` FROM transactions
		WHERE status=$1 AND timestamp>=$2 ORDER BY timestamp DESC LIMIT $3`
	return r.queryMany(ctx, "transactions.RecentBlocked", q, domain.StatusBlocked, since.UTC(), limit)
}

// BlockedHighRiskParties reports which of the given ids appear in blocked
// transactions with risk_score > 0.8.
func (r *TransactionRepo) BlockedHighRiskParties(ctx domain.Context, ids []string) (map[string]bool, error) {
	tracer := otel.Tracer("repo.transactions")
	ctx, span := tracer.Start(ctx, "transactions.BlockedHighRiskParties")
	defer span.End()
	out := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	q := `SELECT sender_id, receiver_id FROM transactions
		WHERE status=$1 AND risk_score>0.8
		  AND (sender_id = ANY($2) OR receiver_id = ANY($2))`
	rows, err := r.Pool.Query(ctx, q, domain.StatusBlocked, ids)
	if err != nil {
		return nil, fmt.Errorf("op=tx.blocked_parties: %w", err)
	}
	defer rows.Close()
	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	for rows.Next() {
		var s, rc string
		if err := rows.Scan(&s, &rc); err != nil {
			return nil, fmt.Errorf("op=tx.blocked_parties: %w", err)
		}
		if wanted[s] {
			out[s] = true
		}
		if wanted[rc] {
			out[rc] = true
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=tx.blocked_parties: %w", err)
	}
	return out, nil
}

// Velocity returns count and volume of the user's outgoing transactions
// since the given instant.
func (r *TransactionRepo) Velocity(ctx domain.Context, userID string, since time.Time) (domain.VelocityStats, error) {
	tracer := otel.Tracer("repo.transactions")
	ctx, span := tracer.Start(ctx, "transactions.Velocity")
	defer span.End()
	q := `SELECT COUNT(*), COALESCE(SUM(amount),0) FROM transactions
		WHERE sender_id=$1 AND timestamp>=$2`
	var v domain.VelocityStats
	if err := r.Pool.QueryRow(ctx, q, userID, since.UTC()).Scan(&v.Count, &v.Volume); err != nil {
		return domain.VelocityStats{}, fmt.Errorf("op=tx.velocity: %w", err)
	}
	return v, nil
}

// HourlyBuckets groups the user's outgoing transactions per hour.
func (r *TransactionRepo) HourlyBuckets(ctx domain.Context, userID string, since time.Time) ([]domain.HourBucket, error) {
	tracer := otel.Tracer("repo.transactions")
	ctx, span := tracer.Start(ctx, "transactions.HourlyBuckets")
	defer span.End()
	q := `SELECT date_trunc('hour', timestamp) AS hour, COUNT(*) FROM transactions
		WHERE sender_id=$1 AND timestamp>=$2 GROUP BY hour ORDER BY hour`
	rows, err := r.Pool.Query(ctx, q, userID, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("op=tx.hourly_buckets: %w", err)
	}
	defer rows.Close()
	var out []domain.HourBucket
	for rows.Next() {
		var b domain.HourBucket
		if err := rows.Scan(&b.Hour, &b.Count); err != nil {
			return nil, fmt.Errorf("op=tx.hourly_buckets: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=tx.hourly_buckets: %w", err)
	}
	return out, nil
}

// Recent returns the newest transactions regardless of status.
func (r *TransactionRepo) Recent(ctx domain.Context, limit int) ([]domain.Transaction, error) {
	q := `SELECT ` + txColumns + ` FROM transactions ORDER BY timestamp DESC LIMIT $1`
	return r.queryMany(ctx, "transactions.Recent", q, limit)
}

// FinalizedSince returns processed transactions since the given instant.
func (r *TransactionRepo) FinalizedSince(ctx domain.Context, since time.Time) ([]domain.Transaction, error) {
	q := `SELECT ` + txColumns + ` FROM transactions WHERE processed AND timestamp>=$1`
	return r.queryMany(ctx, "transactions.FinalizedSince", q, since.UTC())
}

// StatsSince aggregates decision counts and volume since the given instant.
func (r *TransactionRepo) StatsSince(ctx domain.Context, since time.Time) (domain.SystemStats, error) {
	tracer := otel.Tracer("repo.transactions")
	ctx, span := tracer.Start(ctx, "transactions.StatsSince")
	defer span.End()
	q := `SELECT COUNT(*),
		COUNT(*) FILTER (WHERE status='approved'),
		COUNT(*) FILTER (WHERE status='blocked'),
		COUNT(*) FILTER (WHERE status='pending_verification'),
		COUNT(*) FILTER (WHERE status='pending'),
		COALESCE(SUM(amount),0)
		FROM transactions WHERE timestamp>=$1`
	var s domain.SystemStats
	err := r.Pool.QueryRow(ctx, q, since.UTC()).Scan(
		&s.Total, &s.Approved, &s.Blocked, &s.PendingVerification, &s.Pending, &s.Volume)
	if err != nil {
		return domain.SystemStats{}, fmt.Errorf("op=tx.stats: %w", err)
	}
	return s, nil
}

func (r *TransactionRepo) queryMany(ctx domain.Context, spanName, q string, args ...any) ([]domain.Transaction, error) {
	tracer := otel.Tracer("repo.transactions")
	ctx, span := tracer.Start(ctx, spanName)
	defer span.End()
	rows, err := r.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("op=%s: %w", spanName, err)
	}
	defer rows.Close()
	var out []domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("op=%s: %w", spanName, err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=%s: %w", spanName, err)
	}
	return out, nil
}

type rowScanner interface{ Scan(dest ...any) error }

func scanTransaction(row rowScanner) (domain.Transaction, error) {
	var t domain.Transaction
	var meta, details *string
	if err := row.Scan(&t.ID, &t.SenderID, &t.ReceiverID, &t.Amount, &t.Timestamp, &meta,
		&t.RiskScore, &t.GraphTemporalScore, &t.ContentAnalysisScore, &t.Status,
		&details, &t.Processed, &t.IsSimulated, &t.SimulationType); err != nil {
		return domain.Transaction{}, err
	}
	if meta != nil && *meta != "" {
		if err := json.Unmarshal([]byte(*meta), &t.Metadata); err != nil {
			return domain.Transaction{}, err
		}
	}
	if details != nil && *details != "" {
		if err := json.Unmarshal([]byte(*details), &t.RiskDetails); err != nil {
			return domain.Transaction{}, err
		}
	}
	return t, nil
}

func encodeJSON(m map[string]any) (*string, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	s := string(b)
	return &s, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
