package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"trade-reconciliation-engine/internal/models"
	"trade-reconciliation-engine/internal/store"
	"trade-reconciliation-engine/pkg/errors"
)

const breakColumns = `id, run_id, trade_id, counterpart_trade_id, break_type,
	field_name, expected_value, actual_value, variance, variance_pct,
	severity, status, priority_score, assigned_to, sla_deadline,
	escalation_time, escalated_to, pnl_impact, settlement_risk,
	first_reviewed_at, resolved_at, resolved_by, resolution_action,
	resolution_notes, root_cause, created_at, updated_at`

// BreakRepo implements store.BreakStore.
type BreakRepo struct {
	q       queryer
	timeout time.Duration
}

func (r *BreakRepo) InsertBreak(ctx context.Context, brk *models.TradeBreak) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO trade_breaks (
			run_id, trade_id, counterpart_trade_id, break_type, field_name,
			expected_value, actual_value, variance, variance_pct, severity,
			status, priority_score, assigned_to, sla_deadline, pnl_impact,
			settlement_risk
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16
		)
		RETURNING id, created_at, updated_at`

	row := r.q.QueryRowxContext(ctx, query,
		brk.RunID, brk.TradeID, brk.CounterpartTradeID, brk.BreakType,
		brk.FieldName, brk.ExpectedValue, brk.ActualValue, brk.Variance,
		brk.VariancePct, brk.Severity, brk.Status, brk.PriorityScore,
		brk.AssignedTo, brk.SLADeadline, brk.PnLImpact, brk.SettlementRisk)
	if err := row.Scan(&brk.ID, &brk.CreatedAt, &brk.UpdatedAt); err != nil {
		return errors.StorageError(errors.CodeQueryFailed, "insert break", err)
	}
	return nil
}

func (r *BreakRepo) GetBreakByID(ctx context.Context, id int64) (*models.TradeBreak, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var brk models.TradeBreak
	err := r.q.GetContext(ctx, &brk,
		`SELECT `+breakColumns+` FROM trade_breaks WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, errors.NotFoundError(errors.CodeBreakNotFound, "break", id)
	}
	if err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "get break", err)
	}
	return &brk, nil
}

func (r *BreakRepo) ListBreaks(ctx context.Context, filter store.BreakFilter) ([]*models.TradeBreak, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var conditions []string
	var args []interface{}

	if len(filter.Statuses) > 0 {
		conditions = append(conditions, "status IN (?)")
		args = append(args, filter.Statuses)
	}
	if len(filter.Severities) > 0 {
		conditions = append(conditions, "severity IN (?)")
		args = append(args, filter.Severities)
	}
	if filter.BreakType != "" {
		conditions = append(conditions, "break_type = ?")
		args = append(args, filter.BreakType)
	}
	if filter.AssignedTo != "" {
		conditions = append(conditions, "assigned_to = ?")
		args = append(args, filter.AssignedTo)
	}
	if filter.RunID != 0 {
		conditions = append(conditions, "run_id = ?")
		args = append(args, filter.RunID)
	}

	query := `SELECT ` + breakColumns + ` FROM trade_breaks`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	query, expanded, err := sqlx.In(query, args...)
	if err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "build break filter", err)
	}
	query = r.q.Rebind(query)

	var found []*models.TradeBreak
	if err := r.q.SelectContext(ctx, &found, query, expanded...); err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "list breaks", err)
	}
	return found, nil
}

func (r *BreakRepo) ListOverdueBreaks(ctx context.Context, asOf time.Time) ([]*models.TradeBreak, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var found []*models.TradeBreak
	err := r.q.SelectContext(ctx, &found,
		`SELECT `+breakColumns+` FROM trade_breaks
		 WHERE status IN ('OPEN', 'IN_PROGRESS')
		   AND sla_deadline IS NOT NULL AND sla_deadline < $1
		 ORDER BY sla_deadline`,
		asOf)
	if err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "list overdue breaks", err)
	}
	return found, nil
}

func (r *BreakRepo) UpdateAssignment(ctx context.Context, breakID int64, assignee string, escalationTime time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	result, err := r.q.ExecContext(ctx,
		`UPDATE trade_breaks
		 SET assigned_to = $2, escalation_time = $3,
		     status = CASE WHEN status = 'OPEN' THEN 'IN_PROGRESS' ELSE status END,
		     first_reviewed_at = COALESCE(first_reviewed_at, NOW()),
		     updated_at = NOW()
		 WHERE id = $1`,
		breakID, assignee, escalationTime)
	if err != nil {
		return errors.StorageError(errors.CodeQueryFailed, "update assignment", err)
	}
	return requireRow(result, errors.CodeBreakNotFound, "break", breakID)
}

func (r *BreakRepo) MarkEscalated(ctx context.Context, breakID int64, escalatedTo string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	result, err := r.q.ExecContext(ctx,
		`UPDATE trade_breaks
		 SET status = 'ESCALATED', assigned_to = $2, escalated_to = $2,
		     updated_at = NOW()
		 WHERE id = $1 AND status IN ('OPEN', 'IN_PROGRESS')`,
		breakID, escalatedTo)
	if err != nil {
		return errors.StorageError(errors.CodeQueryFailed, "mark escalated", err)
	}
	return requireRow(result, errors.CodeBreakNotFound, "break", breakID)
}

func (r *BreakRepo) UpdateStatus(ctx context.Context, breakID int64, status models.BreakStatus) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	result, err := r.q.ExecContext(ctx,
		`UPDATE trade_breaks SET status = $2, updated_at = NOW() WHERE id = $1`,
		breakID, status)
	if err != nil {
		return errors.StorageError(errors.CodeQueryFailed, "update status", err)
	}
	return requireRow(result, errors.CodeBreakNotFound, "break", breakID)
}

func (r *BreakRepo) ResolveBreak(ctx context.Context, breakID int64, resolution store.BreakResolution) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	result, err := r.q.ExecContext(ctx,
		`UPDATE trade_breaks
		 SET status = $2,
		     resolved_at = CASE WHEN $2 IN ('RESOLVED', 'ACCEPTED') THEN NOW() ELSE resolved_at END,
		     resolved_by = CASE WHEN $2 IN ('RESOLVED', 'ACCEPTED') THEN NULLIF($3, '') ELSE resolved_by END,
		     resolution_action = NULLIF($4, ''), resolution_notes = NULLIF($5, ''),
		     root_cause = NULLIF($6, ''), updated_at = NOW()
		 WHERE id = $1`,
		breakID, resolution.Status, resolution.ResolvedBy, resolution.Action,
		resolution.Notes, resolution.RootCause)
	if err != nil {
		return errors.StorageError(errors.CodeQueryFailed, "resolve break", err)
	}
	return requireRow(result, errors.CodeBreakNotFound, "break", breakID)
}
