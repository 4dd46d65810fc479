package postgres

import (
	"context"

	"github.com/jmoiron/sqlx"

	"trade-reconciliation-engine/pkg/errors"
)

// schema is applied in order; reconciliation_runs precedes trade_breaks
// because breaks reference their run.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS trades (
		id                      BIGSERIAL PRIMARY KEY,
		source_system           TEXT NOT NULL,
		source_trade_id         TEXT NOT NULL,
		trade_timestamp         TIMESTAMPTZ NOT NULL,
		settlement_date         TIMESTAMPTZ,
		symbol                  TEXT NOT NULL,
		security_id             TEXT,
		side                    TEXT NOT NULL,
		quantity                NUMERIC(20,8) NOT NULL,
		price                   NUMERIC(20,8) NOT NULL,
		gross_amount            NUMERIC(20,8),
		net_amount              NUMERIC(20,8),
		commission              NUMERIC(20,8) DEFAULT 0,
		fees                    NUMERIC(20,8) DEFAULT 0,
		currency                TEXT NOT NULL DEFAULT 'USD',
		counterparty            TEXT,
		counterparty_normalized TEXT,
		account                 TEXT,
		portfolio               TEXT,
		raw_payload             JSONB,
		is_matched              BOOLEAN NOT NULL DEFAULT FALSE,
		matched_trade_id        BIGINT REFERENCES trades(id),
		match_confidence        DOUBLE PRECISION,
		created_at              TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at              TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (source_system, source_trade_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades (symbol)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_unmatched
		ON trades (source_system, trade_timestamp) WHERE is_matched = FALSE`,

	`CREATE TABLE IF NOT EXISTS reconciliation_runs (
		id                BIGSERIAL PRIMARY KEY,
		run_id            TEXT NOT NULL UNIQUE,
		trade_date        DATE NOT NULL,
		source1           TEXT NOT NULL,
		source2           TEXT NOT NULL,
		total_trades      INTEGER NOT NULL DEFAULT 0,
		matched_trades    INTEGER NOT NULL DEFAULT 0,
		manual_review     INTEGER NOT NULL DEFAULT 0,
		breaks_found      INTEGER NOT NULL DEFAULT 0,
		unmatched_source1 INTEGER NOT NULL DEFAULT 0,
		unmatched_source2 INTEGER NOT NULL DEFAULT 0,
		match_rate        DOUBLE PRECISION NOT NULL DEFAULT 0,
		duration_seconds  DOUBLE PRECISION NOT NULL DEFAULT 0,
		status            TEXT NOT NULL DEFAULT 'running',
		error_message     TEXT,
		started_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		completed_at      TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_runs_trade_date ON reconciliation_runs (trade_date)`,

	`CREATE TABLE IF NOT EXISTS trade_breaks (
		id                   BIGSERIAL PRIMARY KEY,
		run_id               BIGINT REFERENCES reconciliation_runs(id),
		trade_id             BIGINT NOT NULL REFERENCES trades(id),
		counterpart_trade_id BIGINT REFERENCES trades(id),
		break_type           TEXT NOT NULL,
		field_name           TEXT NOT NULL,
		expected_value       TEXT NOT NULL DEFAULT '',
		actual_value         TEXT NOT NULL DEFAULT '',
		variance             NUMERIC(20,8),
		variance_pct         DOUBLE PRECISION,
		severity             TEXT NOT NULL DEFAULT 'MEDIUM',
		status               TEXT NOT NULL DEFAULT 'OPEN',
		priority_score       DOUBLE PRECISION NOT NULL DEFAULT 0,
		assigned_to          TEXT,
		sla_deadline         TIMESTAMPTZ,
		escalation_time      TIMESTAMPTZ,
		escalated_to         TEXT,
		pnl_impact           NUMERIC(20,8),
		settlement_risk      BOOLEAN NOT NULL DEFAULT FALSE,
		first_reviewed_at    TIMESTAMPTZ,
		resolved_at          TIMESTAMPTZ,
		resolved_by          TEXT,
		resolution_action    TEXT,
		resolution_notes     TEXT,
		root_cause           TEXT,
		created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_breaks_status ON trade_breaks (status)`,
	`CREATE INDEX IF NOT EXISTS idx_breaks_trade ON trade_breaks (trade_id)`,
	`CREATE INDEX IF NOT EXISTS idx_breaks_sla
		ON trade_breaks (sla_deadline) WHERE status IN ('OPEN', 'IN_PROGRESS')`,

	`CREATE TABLE IF NOT EXISTS break_comments (
		id         BIGSERIAL PRIMARY KEY,
		break_id   BIGINT NOT NULL REFERENCES trade_breaks(id),
		author     TEXT NOT NULL,
		comment    TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_comments_break ON break_comments (break_id)`,

	`CREATE TABLE IF NOT EXISTS routing_rules (
		id                 BIGSERIAL PRIMARY KEY,
		name               TEXT NOT NULL UNIQUE,
		kind               TEXT NOT NULL,
		severity           TEXT,
		pnl_threshold      NUMERIC(20,2),
		break_types        TEXT[],
		assignee           TEXT NOT NULL,
		escalation_minutes INTEGER NOT NULL,
		priority           INTEGER NOT NULL,
		is_active          BOOLEAN NOT NULL DEFAULT TRUE,
		created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS break_predictions (
		id              BIGSERIAL PRIMARY KEY,
		trade_id        BIGINT NOT NULL REFERENCES trades(id),
		probability     DOUBLE PRECISION NOT NULL,
		predicted_break BOOLEAN NOT NULL,
		risk_level      TEXT NOT NULL,
		model_version   TEXT NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// EnsureSchema creates every table and index the engine needs. Statements
// are idempotent, so running it on every start is safe.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return errors.StorageError(errors.CodeSchemaFailed, "ensure schema", err)
		}
	}
	return nil
}
