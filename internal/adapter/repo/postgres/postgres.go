// Package postgres implements the transaction store on PostgreSQL via pgx.
package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PgxPool is the subset of *pgxpool.Pool used by the store. Narrowing the
// dependency keeps the repo testable without a live pool.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const schema = `
CREATE TABLE IF NOT EXISTS transactions (
	id                     TEXT PRIMARY KEY,
	sender_id              TEXT NOT NULL,
	receiver_id            TEXT NOT NULL,
	amount                 DOUBLE PRECISION NOT NULL,
	timestamp              TIMESTAMPTZ NOT NULL,
	txn_metadata           TEXT,
	risk_score             DOUBLE PRECISION,
	graph_temporal_score   DOUBLE PRECISION,
	content_analysis_score DOUBLE PRECISION,
	status                 TEXT NOT NULL DEFAULT 'pending',
	risk_details           TEXT,
	processed              BOOLEAN NOT NULL DEFAULT FALSE,
	is_simulated           BOOLEAN NOT NULL DEFAULT FALSE,
	simulation_type        TEXT
);
CREATE INDEX IF NOT EXISTS idx_transactions_sender_ts   ON transactions (sender_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_transactions_receiver_ts ON transactions (receiver_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_transactions_status_ts   ON transactions (status, timestamp);
`

// EnsureSchema creates the transactions table and its indexes if absent.
func EnsureSchema(ctx context.Context, p PgxPool) error {
	_, err := p.Exec(ctx, schema)
	return err
}
