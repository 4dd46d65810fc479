package postgres

import (
	"context"
	"time"

	"trade-reconciliation-engine/internal/models"
	"trade-reconciliation-engine/internal/store"
	"trade-reconciliation-engine/pkg/errors"
)

// ReportRepo implements store.ReportStore.
type ReportRepo struct {
	q       queryer
	timeout time.Duration
}

type countRow struct {
	Key   string `db:"key"`
	Count int    `db:"count"`
}

func (r *ReportRepo) counts(ctx context.Context, operation, query string) (map[string]int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var rows []countRow
	if err := r.q.SelectContext(ctx, &rows, query); err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, operation, err)
	}

	result := make(map[string]int, len(rows))
	for _, row := range rows {
		result[row.Key] = row.Count
	}
	return result, nil
}

func (r *ReportRepo) BreakStatusCounts(ctx context.Context) (map[models.BreakStatus]int, error) {
	raw, err := r.counts(ctx, "break status counts",
		`SELECT status AS key, COUNT(*) AS count FROM trade_breaks GROUP BY status`)
	if err != nil {
		return nil, err
	}
	result := make(map[models.BreakStatus]int, len(raw))
	for key, count := range raw {
		result[models.BreakStatus(key)] = count
	}
	return result, nil
}

func (r *ReportRepo) BreakSeverityCounts(ctx context.Context) (map[models.BreakSeverity]int, error) {
	raw, err := r.counts(ctx, "break severity counts",
		`SELECT severity AS key, COUNT(*) AS count FROM trade_breaks GROUP BY severity`)
	if err != nil {
		return nil, err
	}
	result := make(map[models.BreakSeverity]int, len(raw))
	for key, count := range raw {
		result[models.BreakSeverity(key)] = count
	}
	return result, nil
}

func (r *ReportRepo) TradeMatchCounts(ctx context.Context) (int64, int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var row struct {
		Total   int64 `db:"total"`
		Matched int64 `db:"matched"`
	}
	err := r.q.GetContext(ctx, &row,
		`SELECT COUNT(*) AS total,
		        COUNT(*) FILTER (WHERE is_matched) AS matched
		 FROM trades`)
	if err != nil {
		return 0, 0, errors.StorageError(errors.CodeQueryFailed, "trade match counts", err)
	}
	return row.Total, row.Matched, nil
}

func (r *ReportRepo) ActionableBreakAges(ctx context.Context) ([]store.BreakAge, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var ages []store.BreakAge
	err := r.q.SelectContext(ctx, &ages,
		`SELECT id, status, created_at FROM trade_breaks
		 WHERE status IN ('OPEN', 'IN_PROGRESS', 'ESCALATED')
		 ORDER BY created_at`)
	if err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "actionable break ages", err)
	}
	return ages, nil
}

func (r *ReportRepo) RootCauseCounts(ctx context.Context) (map[string]int, error) {
	return r.counts(ctx, "root cause counts",
		`SELECT root_cause AS key, COUNT(*) AS count FROM trade_breaks
		 WHERE status IN ('RESOLVED', 'ACCEPTED') AND root_cause IS NOT NULL
		 GROUP BY root_cause`)
}

func (r *ReportRepo) ResolutionActionCounts(ctx context.Context) (map[string]int, error) {
	return r.counts(ctx, "resolution action counts",
		`SELECT resolution_action AS key, COUNT(*) AS count FROM trade_breaks
		 WHERE resolution_action IS NOT NULL
		 GROUP BY resolution_action`)
}

// breakRate averages has-break over the trades selected by the condition.
// AVG over zero rows is NULL, which COALESCE turns into the 0.5 prior used
// when a source or counterparty has no history.
func (r *ReportRepo) breakRate(ctx context.Context, operation, condition, arg string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var rate float64
	query := `SELECT COALESCE(AVG(CASE WHEN EXISTS (
	              SELECT 1 FROM trade_breaks b WHERE b.trade_id = t.id
	          ) THEN 1.0 ELSE 0.0 END), 0.5)
	          FROM trades t WHERE ` + condition
	if err := r.q.GetContext(ctx, &rate, query, arg); err != nil {
		return 0, errors.StorageError(errors.CodeQueryFailed, operation, err)
	}
	return rate, nil
}

func (r *ReportRepo) BreakRateBySource(ctx context.Context, sourceSystem string) (float64, error) {
	return r.breakRate(ctx, "break rate by source", "t.source_system = $1", sourceSystem)
}

func (r *ReportRepo) BreakRateByCounterparty(ctx context.Context, counterparty string) (float64, error) {
	return r.breakRate(ctx, "break rate by counterparty", "t.counterparty = $1", counterparty)
}
