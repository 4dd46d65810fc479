package postgres

import (
	"context"
	"time"

	"trade-reconciliation-engine/internal/models"
	"trade-reconciliation-engine/pkg/errors"
)

// RuleRepo implements store.RuleStore.
type RuleRepo struct {
	q       queryer
	timeout time.Duration
}

func (r *RuleRepo) ListActiveRules(ctx context.Context) ([]*models.RoutingRule, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var rules []*models.RoutingRule
	err := r.q.SelectContext(ctx, &rules,
		`SELECT id, name, kind, severity, pnl_threshold, break_types,
		        assignee, escalation_minutes, priority, is_active, created_at
		 FROM routing_rules
		 WHERE is_active = TRUE
		 ORDER BY priority, id`)
	if err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "list routing rules", err)
	}
	return rules, nil
}

func (r *RuleRepo) InsertRule(ctx context.Context, rule *models.RoutingRule) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	row := r.q.QueryRowxContext(ctx,
		`INSERT INTO routing_rules (
			name, kind, severity, pnl_threshold, break_types, assignee,
			escalation_minutes, priority, is_active
		 ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (name) DO UPDATE SET
			kind = EXCLUDED.kind,
			severity = EXCLUDED.severity,
			pnl_threshold = EXCLUDED.pnl_threshold,
			break_types = EXCLUDED.break_types,
			assignee = EXCLUDED.assignee,
			escalation_minutes = EXCLUDED.escalation_minutes,
			priority = EXCLUDED.priority,
			is_active = EXCLUDED.is_active
		 RETURNING id, created_at`,
		rule.Name, rule.Kind, rule.Severity, rule.PnLThreshold,
		rule.BreakTypes, rule.Assignee, rule.EscalationMinutes,
		rule.Priority, rule.IsActive)
	if err := row.Scan(&rule.ID, &rule.CreatedAt); err != nil {
		return errors.StorageError(errors.CodeQueryFailed, "insert routing rule", err)
	}
	return nil
}

func (r *RuleRepo) CountRules(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var count int64
	if err := r.q.GetContext(ctx, &count, `SELECT COUNT(*) FROM routing_rules`); err != nil {
		return 0, errors.StorageError(errors.CodeQueryFailed, "count routing rules", err)
	}
	return count, nil
}
