// Package postgres keeps the partition run ledger in Postgres.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/mofcom-crawler/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "partition_runs"

// LedgerConfig controls the connection pool used for ledger rows.
type LedgerConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// RunLedger writes one row per partition pass.
type RunLedger struct {
	pool  execCloser
	table string
}

// NewRunLedger connects to Postgres and makes sure the table exists.
func NewRunLedger(ctx context.Context, cfg LedgerConfig) (*RunLedger, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	ledger, err := NewRunLedgerWithPool(pool, cfg.Table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := ledger.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return ledger, nil
}

// NewRunLedgerWithPool builds a ledger on an existing pool.
func NewRunLedgerWithPool(pool execCloser, table string) (*RunLedger, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &RunLedger{pool: pool, table: table}, nil
}

// EnsureSchema creates the ledger table when it is missing.
func (l *RunLedger) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	run_id      TEXT        NOT NULL,
	country     TEXT        NOT NULL,
	keyword     TEXT        NOT NULL,
	watermark   TEXT        NOT NULL DEFAULT '',
	state       TEXT        NOT NULL,
	pages       INTEGER     NOT NULL DEFAULT 0,
	entries     INTEGER     NOT NULL DEFAULT 0,
	accepted    INTEGER     NOT NULL DEFAULT 0,
	inserted    INTEGER     NOT NULL DEFAULT 0,
	existing    INTEGER     NOT NULL DEFAULT 0,
	failed      INTEGER     NOT NULL DEFAULT 0,
	error_text  TEXT        NOT NULL DEFAULT '',
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ,
	PRIMARY KEY (run_id, country, keyword)
)`, l.table)
	if _, err := l.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create ledger table: %w", err)
	}
	return nil
}

// Close releases the pool.
func (l *RunLedger) Close() {
	if l == nil || l.pool == nil {
		return
	}
	l.pool.Close()
}

// StartPartition inserts the running row of a partition pass.
func (l *RunLedger) StartPartition(ctx context.Context, run crawler.PartitionRun) error {
	query := fmt.Sprintf(`
INSERT INTO %s (run_id, country, keyword, watermark, state, started_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (run_id, country, keyword) DO UPDATE
SET watermark = EXCLUDED.watermark, state = EXCLUDED.state, started_at = EXCLUDED.started_at`, l.table)
	if _, err := l.pool.Exec(ctx, query,
		run.RunID, run.Country, run.Keyword, run.Watermark, "running", run.StartedAt,
	); err != nil {
		return fmt.Errorf("insert partition run: %w", err)
	}
	return nil
}

// FinishPartition records the terminal state and counters.
func (l *RunLedger) FinishPartition(ctx context.Context, run crawler.PartitionRun) error {
	query := fmt.Sprintf(`
UPDATE %s
SET state = $4, pages = $5, entries = $6, accepted = $7,
	inserted = $8, existing = $9, failed = $10, error_text = $11, finished_at = $12
WHERE run_id = $1 AND country = $2 AND keyword = $3`, l.table)
	tag, err := l.pool.Exec(ctx, query,
		run.RunID, run.Country, run.Keyword,
		string(run.State), run.Pages, run.Entries, run.Accepted,
		run.Counts.Inserted, run.Counts.Existing, run.Counts.Failed,
		run.ErrorText, run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("update partition run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("partition run %s/%s/%s not started", run.RunID, run.Country, run.Keyword)
	}
	return nil
}

var _ crawler.RunLedger = (*RunLedger)(nil)
