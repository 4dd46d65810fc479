// Package router assigns breaks to operations teams and escalates the ones
// that blow through their SLA.
//
// Routing rules are tagged variants evaluated in priority order, first
// match wins. Rules normally come from the routing_rules table so
// operations can retune assignment without a deploy; when the table is
// empty or unreadable the built-in default table applies.
package router

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"trade-reconciliation-engine/internal/metrics"
	"trade-reconciliation-engine/internal/models"
	"trade-reconciliation-engine/internal/store"
	"trade-reconciliation-engine/pkg/errors"
	"trade-reconciliation-engine/pkg/logger"
)

// Notifier publishes workflow events. Implementations must be safe for
// concurrent use; failures are logged and never fail the routing.
type Notifier interface {
	BreakAssigned(ctx context.Context, brk *models.TradeBreak, assignee string) error
	BreakEscalated(ctx context.Context, brk *models.TradeBreak, originalAssignee, escalatedTo string) error
}

// NopNotifier discards all notifications.
type NopNotifier struct{}

func (NopNotifier) BreakAssigned(context.Context, *models.TradeBreak, string) error {
	return nil
}

func (NopNotifier) BreakEscalated(context.Context, *models.TradeBreak, string, string) error {
	return nil
}

// RoutingResult reports where one break was sent.
type RoutingResult struct {
	BreakID        int64     `json:"break_id"`
	AssignedTo     string    `json:"assigned_to"`
	RuleName       string    `json:"rule_name"`
	EscalationTime time.Time `json:"escalation_time"`
}

// Escalation reports one SLA breach handled by the sweep.
type Escalation struct {
	BreakID          int64  `json:"break_id"`
	OriginalAssignee string `json:"original_assignee"`
	EscalatedTo      string `json:"escalated_to"`
}

// escalationLadder maps the current assignee to the next rung. Unknown
// assignees go straight to head_of_operations.
var escalationLadder = map[string]string{
	"ops_analyst":        "senior_ops_manager",
	"trade_support_team": "ops_manager",
	"ops_team":           "ops_manager",
	"ops_manager":        "head_of_operations",
	"senior_ops_manager": "head_of_operations",
}

const escalationFallback = "head_of_operations"

// routerAuthor is the audit-comment author for automated routing actions.
const routerAuthor = "system:router"

// DefaultRules returns the built-in routing table in evaluation order.
func DefaultRules() []*models.RoutingRule {
	critical := string(models.SeverityCritical)
	high := string(models.SeverityHigh)

	return []*models.RoutingRule{
		{
			Name:              "critical_to_senior_ops",
			Kind:              models.RuleKindSeverityIs,
			Severity:          &critical,
			Assignee:          "senior_ops_manager",
			EscalationMinutes: 15,
			Priority:          1,
			IsActive:          true,
		},
		{
			Name:              "high_value_to_trading_desk",
			Kind:              models.RuleKindSeverityAndPnLOver,
			Severity:          &high,
			PnLThreshold:      decimal.NewNullDecimal(decimal.NewFromInt(100000)),
			Assignee:          "head_of_trading",
			EscalationMinutes: 30,
			Priority:          2,
			IsActive:          true,
		},
		{
			Name:              "missing_trades_to_support",
			Kind:              models.RuleKindBreakTypeEquals,
			BreakTypes:        []string{string(models.BreakTypeMissingTrade)},
			Assignee:          "trade_support_team",
			EscalationMinutes: 60,
			Priority:          3,
			IsActive:          true,
		},
		{
			Name:              "economic_mismatches_to_analyst",
			Kind:              models.RuleKindBreakTypeIn,
			BreakTypes: []string{
				string(models.BreakTypePriceMismatch),
				string(models.BreakTypeQuantityMismatch),
			},
			Assignee:          "ops_analyst",
			EscalationMinutes: 120,
			Priority:          4,
			IsActive:          true,
		},
		{
			Name:              "default_ops_queue",
			Kind:              models.RuleKindDefault,
			Assignee:          "ops_team",
			EscalationMinutes: 240,
			Priority:          5,
			IsActive:          true,
		},
	}
}

// Router routes breaks per the rule table and runs the SLA sweep.
type Router struct {
	stores   store.Stores
	notifier Notifier
	log      logger.Logger
	clock    func() time.Time
	metrics  *metrics.Metrics
}

// NewRouter builds a Router. A nil notifier disables notifications.
func NewRouter(stores store.Stores, notifier Notifier, log logger.Logger) *Router {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Router{
		stores:   stores,
		notifier: notifier,
		log:      log.WithComponent("router"),
		clock:    time.Now,
	}
}

// WithMetrics attaches Prometheus instrumentation to the SLA sweep.
func (r *Router) WithMetrics(m *metrics.Metrics) *Router {
	r.metrics = m
	return r
}

// RouteBreak assigns one break to the team the first matching rule names,
// moving it to IN_PROGRESS and stamping its escalation time. The
// assignment and its audit comment persist together; the notification is
// best effort.
func (r *Router) RouteBreak(ctx context.Context, breakID int64) (*RoutingResult, error) {
	brk, err := r.stores.Breaks().GetBreakByID(ctx, breakID)
	if err != nil {
		return nil, err
	}

	rule := r.firstMatch(ctx, brk)
	if rule == nil {
		return nil, errors.InvariantError(errors.CodeNoRuleMatched, "route break",
			fmt.Errorf("no routing rule matched break %d (%s/%s)",
				breakID, brk.BreakType, brk.Severity))
	}

	escalationTime := r.clock().UTC().Add(time.Duration(rule.EscalationMinutes) * time.Minute)

	err = r.stores.WithTx(ctx, func(tx store.Stores) error {
		if err := tx.Breaks().UpdateAssignment(ctx, breakID, rule.Assignee, escalationTime); err != nil {
			return err
		}
		return tx.Comments().AddComment(ctx, &models.BreakComment{
			BreakID: breakID,
			Author:  routerAuthor,
			Comment: fmt.Sprintf("assigned to %s by rule %s", rule.Assignee, rule.Name),
		})
	})
	if err != nil {
		return nil, err
	}

	if err := r.notifier.BreakAssigned(ctx, brk, rule.Assignee); err != nil {
		logger.WithBreak(r.log, breakID).WithError(err).Warn("assignment notification failed")
	}

	return &RoutingResult{
		BreakID:        breakID,
		AssignedTo:     rule.Assignee,
		RuleName:       rule.Name,
		EscalationTime: escalationTime,
	}, nil
}

// CheckSLABreaches escalates every actionable break whose SLA deadline has
// passed. All escalations persist in one transaction; an empty sweep
// writes nothing.
func (r *Router) CheckSLABreaches(ctx context.Context) ([]Escalation, error) {
	now := r.clock().UTC()

	overdue, err := r.stores.Breaks().ListOverdueBreaks(ctx, now)
	if err != nil {
		return nil, err
	}
	if len(overdue) == 0 {
		return nil, nil
	}

	escalations := make([]Escalation, 0, len(overdue))

	err = r.stores.WithTx(ctx, func(tx store.Stores) error {
		for _, brk := range overdue {
			original := ""
			if brk.AssignedTo != nil {
				original = *brk.AssignedTo
			}
			target := escalationTarget(original)

			if err := tx.Breaks().MarkEscalated(ctx, brk.ID, target); err != nil {
				return err
			}
			if err := tx.Comments().AddComment(ctx, &models.BreakComment{
				BreakID: brk.ID,
				Author:  routerAuthor,
				Comment: fmt.Sprintf("SLA breached, escalated from %s to %s",
					orUnassigned(original), target),
			}); err != nil {
				return err
			}

			escalations = append(escalations, Escalation{
				BreakID:          brk.ID,
				OriginalAssignee: original,
				EscalatedTo:      target,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for i, esc := range escalations {
		if err := r.notifier.BreakEscalated(ctx, overdue[i], esc.OriginalAssignee, esc.EscalatedTo); err != nil {
			logger.WithBreak(r.log, esc.BreakID).WithError(err).Warn("escalation notification failed")
		}
	}

	r.metrics.RecordEscalations(len(escalations))
	r.log.WithField("escalated", len(escalations)).Info("sla sweep complete")
	return escalations, nil
}

// firstMatch evaluates the active rule table against the break. Rule rows
// that fail validation are skipped with a warning so one bad row cannot
// stall routing.
func (r *Router) firstMatch(ctx context.Context, brk *models.TradeBreak) *models.RoutingRule {
	rules, err := r.stores.Rules().ListActiveRules(ctx)
	if err != nil {
		r.log.WithError(err).Warn("routing rule table unreadable, using built-in rules")
		rules = DefaultRules()
	}
	if len(rules) == 0 {
		rules = DefaultRules()
	}

	for _, rule := range rules {
		if err := rule.Validate(); err != nil {
			r.log.WithError(err).WithField("rule", rule.Name).Warn("skipping invalid routing rule")
			continue
		}
		if ruleMatches(rule, brk) {
			return rule
		}
	}
	return nil
}

func ruleMatches(rule *models.RoutingRule, brk *models.TradeBreak) bool {
	switch rule.Kind {
	case models.RuleKindSeverityIs:
		return rule.Severity != nil && brk.Severity == models.BreakSeverity(*rule.Severity)
	case models.RuleKindSeverityAndPnLOver:
		if rule.Severity == nil || brk.Severity != models.BreakSeverity(*rule.Severity) {
			return false
		}
		return brk.PnLImpact.Valid && rule.PnLThreshold.Valid &&
			brk.PnLImpact.Decimal.Abs().GreaterThan(rule.PnLThreshold.Decimal)
	case models.RuleKindBreakTypeEquals:
		return len(rule.BreakTypes) == 1 && string(brk.BreakType) == rule.BreakTypes[0]
	case models.RuleKindBreakTypeIn:
		for _, bt := range rule.BreakTypes {
			if string(brk.BreakType) == bt {
				return true
			}
		}
		return false
	case models.RuleKindDefault:
		return true
	default:
		return false
	}
}

func escalationTarget(assignee string) string {
	if target, ok := escalationLadder[assignee]; ok {
		return target
	}
	return escalationFallback
}

func orUnassigned(assignee string) string {
	if assignee == "" {
		return "unassigned"
	}
	return assignee
}
