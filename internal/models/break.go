package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"trade-reconciliation-engine/pkg/errors"
)

// BreakType classifies what a reconciliation break is about
type BreakType string

const (
	// BreakTypeSymbolMismatch flags differing symbols
	BreakTypeSymbolMismatch BreakType = "symbol_mismatch"
	// BreakTypeTradeDateMismatch flags differing trade dates
	BreakTypeTradeDateMismatch BreakType = "trade_date_mismatch"
	// BreakTypeSideMismatch flags differing trade sides
	BreakTypeSideMismatch BreakType = "side_mismatch"
	// BreakTypeQuantityMismatch flags differing quantities
	BreakTypeQuantityMismatch BreakType = "quantity_mismatch"
	// BreakTypePriceMismatch flags differing prices
	BreakTypePriceMismatch BreakType = "price_mismatch"
	// BreakTypeCounterpartyMismatch flags differing counterparties
	BreakTypeCounterpartyMismatch BreakType = "counterparty_mismatch"
	// BreakTypeGrossAmountMismatch flags differing gross amounts
	BreakTypeGrossAmountMismatch BreakType = "gross_amount_mismatch"
	// BreakTypeNetAmountMismatch flags differing net amounts
	BreakTypeNetAmountMismatch BreakType = "net_amount_mismatch"
	// BreakTypeMissingTrade flags a trade with no counterpart in the other source
	BreakTypeMissingTrade BreakType = "missing_trade"
)

// String returns the string representation of BreakType
func (b BreakType) String() string {
	return string(b)
}

// IsValid checks if the break type is one of the known kinds
func (b BreakType) IsValid() bool {
	switch b {
	case BreakTypeSymbolMismatch, BreakTypeTradeDateMismatch, BreakTypeSideMismatch,
		BreakTypeQuantityMismatch, BreakTypePriceMismatch, BreakTypeCounterpartyMismatch,
		BreakTypeGrossAmountMismatch, BreakTypeNetAmountMismatch, BreakTypeMissingTrade:
		return true
	}
	return false
}

// MismatchBreakType returns the break type for a mismatch on the given
// comparison field
func MismatchBreakType(field string) BreakType {
	return BreakType(field + "_mismatch")
}

// BreakSeverity grades how urgent a break is
type BreakSeverity string

const (
	// SeverityLow marks cosmetic differences
	SeverityLow BreakSeverity = "LOW"
	// SeverityMedium marks differences worth a look within the day
	SeverityMedium BreakSeverity = "MEDIUM"
	// SeverityHigh marks economically material differences
	SeverityHigh BreakSeverity = "HIGH"
	// SeverityCritical marks differences that put settlement at risk
	SeverityCritical BreakSeverity = "CRITICAL"
)

// String returns the string representation of BreakSeverity
func (s BreakSeverity) String() string {
	return string(s)
}

// IsValid checks if the severity is one of the four grades
func (s BreakSeverity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Rank orders severities from LOW (0) to CRITICAL (3)
func (s BreakSeverity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}

// BreakStatus tracks a break through the exception workflow
type BreakStatus string

const (
	// StatusOpen is the initial status of every derived break
	StatusOpen BreakStatus = "OPEN"
	// StatusInProgress means the break has been assigned and is being worked
	StatusInProgress BreakStatus = "IN_PROGRESS"
	// StatusEscalated means the break blew through its SLA deadline
	StatusEscalated BreakStatus = "ESCALATED"
	// StatusResolved means the underlying difference was fixed
	StatusResolved BreakStatus = "RESOLVED"
	// StatusAccepted means the difference was reviewed and waived
	StatusAccepted BreakStatus = "ACCEPTED"
)

// String returns the string representation of BreakStatus
func (s BreakStatus) String() string {
	return string(s)
}

// IsValid checks if the status is one of the workflow states
func (s BreakStatus) IsValid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusEscalated, StatusResolved, StatusAccepted:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are allowed
func (s BreakStatus) IsTerminal() bool {
	return s == StatusResolved || s == StatusAccepted
}

// IsActionable reports whether the break still participates in routing and
// SLA sweeps
func (s BreakStatus) IsActionable() bool {
	return s == StatusOpen || s == StatusInProgress
}

// CanTransitionTo reports whether the workflow permits moving from s to next.
// Escalation is only reachable from OPEN or IN_PROGRESS; terminal states
// permit nothing.
func (s BreakStatus) CanTransitionTo(next BreakStatus) bool {
	switch s {
	case StatusOpen:
		return next == StatusInProgress || next == StatusEscalated ||
			next == StatusResolved || next == StatusAccepted
	case StatusInProgress:
		return next == StatusEscalated || next == StatusResolved || next == StatusAccepted
	case StatusEscalated:
		return next == StatusResolved || next == StatusAccepted
	default:
		return false
	}
}

// TradeBreak represents one identified difference between a trade pair, or a
// trade with no counterpart. Breaks are derived by the reconciliation engine
// and worked through the exception workflow.
type TradeBreak struct {
	ID                 int64               `json:"id" db:"id"`
	RunID              *int64              `json:"run_id,omitempty" db:"run_id"`
	TradeID            int64               `json:"trade_id" db:"trade_id"`
	CounterpartTradeID *int64              `json:"counterpart_trade_id,omitempty" db:"counterpart_trade_id"`
	BreakType          BreakType           `json:"break_type" db:"break_type"`
	FieldName          string              `json:"field_name" db:"field_name"`
	ExpectedValue      string              `json:"expected_value" db:"expected_value"`
	ActualValue        string              `json:"actual_value" db:"actual_value"`
	Variance           decimal.NullDecimal `json:"variance,omitempty" db:"variance"`
	VariancePct        *float64            `json:"variance_pct,omitempty" db:"variance_pct"`
	Severity           BreakSeverity       `json:"severity" db:"severity"`
	Status             BreakStatus         `json:"status" db:"status"`
	PriorityScore      float64             `json:"priority_score" db:"priority_score"`
	AssignedTo         *string             `json:"assigned_to,omitempty" db:"assigned_to"`
	SLADeadline        *time.Time          `json:"sla_deadline,omitempty" db:"sla_deadline"`
	EscalationTime     *time.Time          `json:"escalation_time,omitempty" db:"escalation_time"`
	EscalatedTo        *string             `json:"escalated_to,omitempty" db:"escalated_to"`
	PnLImpact          decimal.NullDecimal `json:"pnl_impact,omitempty" db:"pnl_impact"`
	SettlementRisk     bool                `json:"settlement_risk" db:"settlement_risk"`
	FirstReviewedAt    *time.Time          `json:"first_reviewed_at,omitempty" db:"first_reviewed_at"`
	ResolvedAt         *time.Time          `json:"resolved_at,omitempty" db:"resolved_at"`
	ResolvedBy         *string             `json:"resolved_by,omitempty" db:"resolved_by"`
	ResolutionAction   *string             `json:"resolution_action,omitempty" db:"resolution_action"`
	ResolutionNotes    *string             `json:"resolution_notes,omitempty" db:"resolution_notes"`
	RootCause          *string             `json:"root_cause,omitempty" db:"root_cause"`
	CreatedAt          time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at" db:"updated_at"`
}

// Validate checks the structural invariants every stored break must hold
func (b *TradeBreak) Validate() error {
	if b.TradeID == 0 {
		return errors.ValidationError(errors.CodeMissingField, "trade_id", b.TradeID, nil)
	}

	if !b.BreakType.IsValid() {
		return errors.ValidationError(errors.CodeInvalidData, "break_type", b.BreakType.String(), nil)
	}

	if strings.TrimSpace(b.FieldName) == "" {
		return errors.ValidationError(errors.CodeMissingField, "field_name", b.FieldName, nil)
	}

	if !b.Severity.IsValid() {
		return errors.ValidationError(errors.CodeInvalidData, "severity", b.Severity.String(), nil)
	}

	if !b.Status.IsValid() {
		return errors.ValidationError(errors.CodeInvalidData, "status", b.Status.String(), nil)
	}

	if b.PriorityScore < 0 || b.PriorityScore > 1 {
		return errors.ValidationError(errors.CodeOutOfRange, "priority_score", b.PriorityScore, nil)
	}

	if b.VariancePct != nil && *b.VariancePct < 0 {
		return errors.ValidationError(errors.CodeOutOfRange, "variance_pct", *b.VariancePct, nil)
	}

	if b.SLADeadline != nil && !b.CreatedAt.IsZero() && !b.SLADeadline.After(b.CreatedAt) {
		return errors.ValidationError(errors.CodeInvalidData, "sla_deadline",
			b.SLADeadline.Format(time.RFC3339), nil)
	}

	if b.Status == StatusResolved && b.ResolvedAt == nil {
		return errors.ValidationError(errors.CodeMissingField, "resolved_at", "", nil)
	}

	return nil
}

// IsOverdue reports whether the break is still actionable and its SLA
// deadline has passed
func (b *TradeBreak) IsOverdue(now time.Time) bool {
	return b.Status.IsActionable() && b.SLADeadline != nil && b.SLADeadline.Before(now)
}

// Age returns how long the break has existed
func (b *TradeBreak) Age(now time.Time) time.Duration {
	return now.Sub(b.CreatedAt)
}

// String returns a string representation of the TradeBreak
func (b *TradeBreak) String() string {
	return fmt.Sprintf("TradeBreak{ID: %d, Type: %s, Severity: %s, Status: %s, Priority: %.2f}",
		b.ID, b.BreakType, b.Severity, b.Status, b.PriorityScore)
}

// BreakComment is an audit comment on a break. The router and the SLA
// sweeper append comments on assignment and escalation; resolution paths
// record the resolution note.
type BreakComment struct {
	ID        int64     `json:"id" db:"id"`
	BreakID   int64     `json:"break_id" db:"break_id"`
	Author    string    `json:"author" db:"author"`
	Comment   string    `json:"comment" db:"comment"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// NewBreakComment creates a comment on the given break
func NewBreakComment(breakID int64, author, comment string) *BreakComment {
	return &BreakComment{
		BreakID: breakID,
		Author:  author,
		Comment: comment,
	}
}

// Validate performs basic validation on the BreakComment
func (c *BreakComment) Validate() error {
	if c.BreakID == 0 {
		return errors.ValidationError(errors.CodeMissingField, "break_id", c.BreakID, nil)
	}

	if strings.TrimSpace(c.Author) == "" {
		return errors.ValidationError(errors.CodeMissingField, "author", c.Author, nil)
	}

	if strings.TrimSpace(c.Comment) == "" {
		return errors.ValidationError(errors.CodeMissingField, "comment", c.Comment, nil)
	}

	return nil
}
