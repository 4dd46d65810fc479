package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"trade-reconciliation-engine/pkg/errors"
)

// RunStatus tracks a reconciliation run record
type RunStatus string

const (
	// RunStatusRunning is set when the run record is created
	RunStatusRunning RunStatus = "running"
	// RunStatusCompleted is set once with the final totals
	RunStatusCompleted RunStatus = "completed"
	// RunStatusFailed is set when matching aborted and rolled back
	RunStatusFailed RunStatus = "failed"
)

// String returns the string representation of RunStatus
func (s RunStatus) String() string {
	return string(s)
}

// IsValid checks if the run status is valid
func (s RunStatus) IsValid() bool {
	return s == RunStatusRunning || s == RunStatusCompleted || s == RunStatusFailed
}

// ReconciliationRun is the audit record of one reconciliation invocation.
// It is created with status running, updated exactly once when the run
// finishes, and immutable thereafter.
type ReconciliationRun struct {
	ID               int64      `json:"id" db:"id"`
	RunID            string     `json:"run_id" db:"run_id"`
	TradeDate        time.Time  `json:"trade_date" db:"trade_date"`
	Source1          string     `json:"source1" db:"source1"`
	Source2          string     `json:"source2" db:"source2"`
	TotalTrades      int        `json:"total_trades" db:"total_trades"`
	MatchedTrades    int        `json:"matched_trades" db:"matched_trades"`
	ManualReview     int        `json:"manual_review" db:"manual_review"`
	BreaksFound      int        `json:"breaks_found" db:"breaks_found"`
	UnmatchedSource1 int        `json:"unmatched_source1" db:"unmatched_source1"`
	UnmatchedSource2 int        `json:"unmatched_source2" db:"unmatched_source2"`
	MatchRate        float64    `json:"match_rate" db:"match_rate"`
	DurationSeconds  float64    `json:"duration_seconds" db:"duration_seconds"`
	Status           RunStatus  `json:"status" db:"status"`
	ErrorMessage     *string    `json:"error_message,omitempty" db:"error_message"`
	StartedAt        time.Time  `json:"started_at" db:"started_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// AutoMatched returns the number of pairs that qualified without review
func (r *ReconciliationRun) AutoMatched() int {
	return r.MatchedTrades - r.ManualReview
}

// ComputeMatchRate returns matched over total, or 0 for an empty run
func (r *ReconciliationRun) ComputeMatchRate() float64 {
	if r.TotalTrades == 0 {
		return 0
	}
	return float64(r.MatchedTrades) / float64(r.TotalTrades)
}

// Validate performs basic validation on the ReconciliationRun
func (r *ReconciliationRun) Validate() error {
	if strings.TrimSpace(r.RunID) == "" {
		return errors.ValidationError(errors.CodeMissingField, "run_id", r.RunID, nil)
	}

	if strings.TrimSpace(r.Source1) == "" || strings.TrimSpace(r.Source2) == "" {
		return errors.ValidationError(errors.CodeMissingField, "sources",
			fmt.Sprintf("%s/%s", r.Source1, r.Source2), nil)
	}

	if !r.Status.IsValid() {
		return errors.ValidationError(errors.CodeInvalidData, "status", r.Status.String(), nil)
	}

	if r.Status == RunStatusFailed && (r.ErrorMessage == nil || *r.ErrorMessage == "") {
		return errors.ValidationError(errors.CodeMissingField, "error_message", "", nil)
	}

	return nil
}

// String returns a string representation of the ReconciliationRun
func (r *ReconciliationRun) String() string {
	return fmt.Sprintf("Run{%s %s vs %s on %s: %d/%d matched, %d breaks, %s}",
		r.RunID, r.Source1, r.Source2, r.TradeDate.Format("2006-01-02"),
		r.MatchedTrades, r.TotalTrades, r.BreaksFound, r.Status)
}

// RiskLevel grades a predicted break probability
type RiskLevel string

const (
	// RiskLow is the floor grade
	RiskLow RiskLevel = "low"
	// RiskMedium starts at probability 0.4
	RiskMedium RiskLevel = "medium"
	// RiskHigh starts at probability 0.6
	RiskHigh RiskLevel = "high"
	// RiskCritical starts at probability 0.8
	RiskCritical RiskLevel = "critical"
)

// String returns the string representation of RiskLevel
func (r RiskLevel) String() string {
	return string(r)
}

// RiskLevelForProbability grades a break probability into a risk level
func RiskLevelForProbability(p float64) RiskLevel {
	switch {
	case p >= 0.8:
		return RiskCritical
	case p >= 0.6:
		return RiskHigh
	case p >= 0.4:
		return RiskMedium
	default:
		return RiskLow
	}
}

// BreakPrediction is the audit row written for each online inference
type BreakPrediction struct {
	ID             int64     `json:"id" db:"id"`
	TradeID        int64     `json:"trade_id" db:"trade_id"`
	Probability    float64   `json:"probability" db:"probability"`
	PredictedBreak bool      `json:"predicted_break" db:"predicted_break"`
	RiskLevel      RiskLevel `json:"risk_level" db:"risk_level"`
	ModelVersion   string    `json:"model_version" db:"model_version"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// Validate performs basic validation on the BreakPrediction
func (p *BreakPrediction) Validate() error {
	if p.Probability < 0 || p.Probability > 1 {
		return errors.ValidationError(errors.CodeOutOfRange, "probability", p.Probability, nil)
	}
	return nil
}

// RuleKind tags the routing rule variants
type RuleKind string

const (
	// RuleKindSeverityIs matches breaks of one severity
	RuleKindSeverityIs RuleKind = "severity_is"
	// RuleKindSeverityAndPnLOver matches a severity with |pnl_impact| above a threshold
	RuleKindSeverityAndPnLOver RuleKind = "severity_and_pnl_over"
	// RuleKindBreakTypeEquals matches one break type
	RuleKindBreakTypeEquals RuleKind = "break_type_equals"
	// RuleKindBreakTypeIn matches any of a set of break types
	RuleKindBreakTypeIn RuleKind = "break_type_in"
	// RuleKindDefault matches everything
	RuleKindDefault RuleKind = "default"
)

// String returns the string representation of RuleKind
func (k RuleKind) String() string {
	return string(k)
}

// IsValid checks if the rule kind is one of the tagged variants
func (k RuleKind) IsValid() bool {
	switch k {
	case RuleKindSeverityIs, RuleKindSeverityAndPnLOver, RuleKindBreakTypeEquals,
		RuleKindBreakTypeIn, RuleKindDefault:
		return true
	}
	return false
}

// RoutingRule is the persisted form of one routing rule. The router loads
// active rows ordered by priority; an empty table falls back to the built-in
// default rules.
type RoutingRule struct {
	ID                int64               `json:"id" db:"id"`
	Name              string              `json:"name" db:"name"`
	Kind              RuleKind            `json:"kind" db:"kind"`
	Severity          *string             `json:"severity,omitempty" db:"severity"`
	PnLThreshold      decimal.NullDecimal `json:"pnl_threshold,omitempty" db:"pnl_threshold"`
	BreakTypes        pq.StringArray      `json:"break_types,omitempty" db:"break_types"`
	Assignee          string              `json:"assignee" db:"assignee"`
	EscalationMinutes int                 `json:"escalation_minutes" db:"escalation_minutes"`
	Priority          int                 `json:"priority" db:"priority"`
	IsActive          bool                `json:"is_active" db:"is_active"`
	CreatedAt         time.Time           `json:"created_at" db:"created_at"`
}

// Validate checks that the row carries the parameters its kind needs
func (r *RoutingRule) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return errors.ValidationError(errors.CodeMissingField, "name", r.Name, nil)
	}

	if !r.Kind.IsValid() {
		return errors.ValidationError(errors.CodeInvalidData, "kind", r.Kind.String(), nil)
	}

	if strings.TrimSpace(r.Assignee) == "" {
		return errors.ValidationError(errors.CodeMissingField, "assignee", r.Assignee, nil)
	}

	if r.EscalationMinutes <= 0 {
		return errors.ValidationError(errors.CodeOutOfRange, "escalation_minutes", r.EscalationMinutes, nil)
	}

	switch r.Kind {
	case RuleKindSeverityIs:
		if r.Severity == nil || !BreakSeverity(*r.Severity).IsValid() {
			return errors.ValidationError(errors.CodeInvalidData, "severity", r.Severity, nil)
		}
	case RuleKindSeverityAndPnLOver:
		if r.Severity == nil || !BreakSeverity(*r.Severity).IsValid() {
			return errors.ValidationError(errors.CodeInvalidData, "severity", r.Severity, nil)
		}
		if !r.PnLThreshold.Valid {
			return errors.ValidationError(errors.CodeMissingField, "pnl_threshold", nil, nil)
		}
	case RuleKindBreakTypeEquals:
		if len(r.BreakTypes) != 1 {
			return errors.ValidationError(errors.CodeInvalidData, "break_types", r.BreakTypes, nil)
		}
	case RuleKindBreakTypeIn:
		if len(r.BreakTypes) == 0 {
			return errors.ValidationError(errors.CodeMissingField, "break_types", r.BreakTypes, nil)
		}
	}

	return nil
}
