package postgres

import (
	"context"
	"database/sql"
	"time"

	"trade-reconciliation-engine/internal/models"
	"trade-reconciliation-engine/pkg/errors"
)

const runColumns = `id, run_id, trade_date, source1, source2, total_trades,
	matched_trades, manual_review, breaks_found, unmatched_source1,
	unmatched_source2, match_rate, duration_seconds, status, error_message,
	started_at, completed_at`

// RunRepo implements store.RunStore.
type RunRepo struct {
	q       queryer
	timeout time.Duration
}

func (r *RunRepo) CreateRun(ctx context.Context, run *models.ReconciliationRun) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	row := r.q.QueryRowxContext(ctx,
		`INSERT INTO reconciliation_runs (run_id, trade_date, source1, source2, status)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, started_at`,
		run.RunID, run.TradeDate, run.Source1, run.Source2, run.Status)
	if err := row.Scan(&run.ID, &run.StartedAt); err != nil {
		return errors.StorageError(errors.CodeQueryFailed, "create run", err)
	}
	return nil
}

// FinishRun writes the final totals and outcome. Runs are immutable after
// this update.
func (r *RunRepo) FinishRun(ctx context.Context, run *models.ReconciliationRun) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	result, err := r.q.ExecContext(ctx,
		`UPDATE reconciliation_runs
		 SET total_trades = $2, matched_trades = $3, manual_review = $4,
		     breaks_found = $5, unmatched_source1 = $6, unmatched_source2 = $7,
		     match_rate = $8, duration_seconds = $9, status = $10,
		     error_message = $11, completed_at = $12
		 WHERE run_id = $1`,
		run.RunID, run.TotalTrades, run.MatchedTrades, run.ManualReview,
		run.BreaksFound, run.UnmatchedSource1, run.UnmatchedSource2,
		run.MatchRate, run.DurationSeconds, run.Status, run.ErrorMessage,
		run.CompletedAt)
	if err != nil {
		return errors.StorageError(errors.CodeQueryFailed, "finish run", err)
	}
	return requireRow(result, errors.CodeRunNotFound, "run", run.RunID)
}

func (r *RunRepo) GetRun(ctx context.Context, runID string) (*models.ReconciliationRun, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var run models.ReconciliationRun
	err := r.q.GetContext(ctx, &run,
		`SELECT `+runColumns+` FROM reconciliation_runs WHERE run_id = $1`, runID)
	if err == sql.ErrNoRows {
		return nil, errors.NotFoundError(errors.CodeRunNotFound, "run", runID)
	}
	if err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "get run", err)
	}
	return &run, nil
}

func (r *RunRepo) ListRuns(ctx context.Context, limit int) ([]*models.ReconciliationRun, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if limit <= 0 {
		limit = 20
	}

	var runs []*models.ReconciliationRun
	err := r.q.SelectContext(ctx, &runs,
		`SELECT `+runColumns+` FROM reconciliation_runs
		 ORDER BY started_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "list runs", err)
	}
	return runs, nil
}
