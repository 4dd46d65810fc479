// Package store defines the persistence interfaces the reconciliation
// components depend on. Each component sees only the narrow interface it
// needs; the postgres subpackage implements all of them, and tests swap in
// in-memory fakes.
package store

import (
	"context"
	"time"

	"trade-reconciliation-engine/internal/models"
)

// TradeStore persists trades and their match state.
type TradeStore interface {
	// UpsertTrade inserts the trade or, when the (source_system,
	// source_trade_id) identity already exists, refreshes its mutable
	// fields. The trade's ID is set either way. Returns true when a new
	// row was created.
	UpsertTrade(ctx context.Context, trade *models.Trade) (bool, error)

	GetTradeByID(ctx context.Context, id int64) (*models.Trade, error)

	// GetUnmatchedTrades returns unmatched trades for one source system
	// whose trade timestamp falls on the given calendar day (UTC).
	GetUnmatchedTrades(ctx context.Context, sourceSystem string, tradeDate time.Time) ([]*models.Trade, error)

	// MarkMatched records one direction of a match pair.
	MarkMatched(ctx context.Context, tradeID, counterpartID int64, confidence float64) error

	// UpdateNormalization persists the canonical symbol and counterparty
	// produced by the normalizer.
	UpdateNormalization(ctx context.Context, tradeID int64, symbol string, counterpartyNormalized *string) error

	CountTrades(ctx context.Context) (int64, error)

	// ListLabeledTrades returns every trade flagged with whether it
	// produced at least one break, for model training.
	ListLabeledTrades(ctx context.Context) ([]LabeledTrade, error)
}

// LabeledTrade is a trade joined with its break outcome.
type LabeledTrade struct {
	models.Trade
	HasBreak bool `db:"has_break"`
}

// BreakFilter narrows ListBreaks. Zero values mean no constraint.
type BreakFilter struct {
	Statuses   []models.BreakStatus
	Severities []models.BreakSeverity
	BreakType  models.BreakType
	AssignedTo string
	RunID      int64
	Limit      int
}

// BreakResolution carries the resolution metadata written when a break is
// remediated. ResolvedBy and the resolution timestamp are only stamped
// when Status is terminal.
type BreakResolution struct {
	Status     models.BreakStatus
	ResolvedBy string
	Action     string
	Notes      string
	RootCause  string
}

// BreakStore persists breaks through the exception workflow.
type BreakStore interface {
	// InsertBreak stores a new break and sets its ID.
	InsertBreak(ctx context.Context, brk *models.TradeBreak) error

	GetBreakByID(ctx context.Context, id int64) (*models.TradeBreak, error)

	// ListBreaks returns breaks matching the filter, newest first.
	ListBreaks(ctx context.Context, filter BreakFilter) ([]*models.TradeBreak, error)

	// ListOverdueBreaks returns actionable breaks whose SLA deadline has
	// passed as of the given instant, most overdue first.
	ListOverdueBreaks(ctx context.Context, asOf time.Time) ([]*models.TradeBreak, error)

	// UpdateAssignment records the routing decision for a break.
	UpdateAssignment(ctx context.Context, breakID int64, assignee string, escalationTime time.Time) error

	// MarkEscalated moves a break to ESCALATED and records who it went to.
	MarkEscalated(ctx context.Context, breakID int64, escalatedTo string) error

	UpdateStatus(ctx context.Context, breakID int64, status models.BreakStatus) error

	// ResolveBreak writes a status transition together with resolution
	// metadata; resolved_at and resolved_by are set only for terminal
	// statuses.
	ResolveBreak(ctx context.Context, breakID int64, resolution BreakResolution) error
}

// CommentStore keeps the audit trail attached to breaks.
type CommentStore interface {
	AddComment(ctx context.Context, comment *models.BreakComment) error
	ListComments(ctx context.Context, breakID int64) ([]*models.BreakComment, error)
}

// RunStore records reconciliation run lifecycles.
type RunStore interface {
	// CreateRun stores a new run in status running and sets its ID.
	CreateRun(ctx context.Context, run *models.ReconciliationRun) error

	// FinishRun writes the run's final totals, status and completion time.
	FinishRun(ctx context.Context, run *models.ReconciliationRun) error

	GetRun(ctx context.Context, runID string) (*models.ReconciliationRun, error)
	ListRuns(ctx context.Context, limit int) ([]*models.ReconciliationRun, error)
}

// RuleStore reads and seeds the routing rule table.
type RuleStore interface {
	// ListActiveRules returns active rules in evaluation order.
	ListActiveRules(ctx context.Context) ([]*models.RoutingRule, error)
	InsertRule(ctx context.Context, rule *models.RoutingRule) error
	CountRules(ctx context.Context) (int64, error)
}

// PredictionStore records online inference results for later validation.
type PredictionStore interface {
	InsertPrediction(ctx context.Context, prediction *models.BreakPrediction) error
}

// BreakAge is one actionable break's age datum for the aging report.
type BreakAge struct {
	BreakID   int64              `db:"id"`
	Status    models.BreakStatus `db:"status"`
	CreatedAt time.Time          `db:"created_at"`
}

// ReportStore serves the read-only reporting rollups.
type ReportStore interface {
	BreakStatusCounts(ctx context.Context) (map[models.BreakStatus]int, error)
	BreakSeverityCounts(ctx context.Context) (map[models.BreakSeverity]int, error)
	TradeMatchCounts(ctx context.Context) (total, matched int64, err error)
	ActionableBreakAges(ctx context.Context) ([]BreakAge, error)
	RootCauseCounts(ctx context.Context) (map[string]int, error)
	ResolutionActionCounts(ctx context.Context) (map[string]int, error)

	// BreakRateBySource returns the fraction of the source's trades that
	// carry at least one break, or 0.5 when the source has no history.
	BreakRateBySource(ctx context.Context, sourceSystem string) (float64, error)

	// BreakRateByCounterparty is the same rate keyed by raw counterparty.
	BreakRateByCounterparty(ctx context.Context, counterparty string) (float64, error)
}

// Stores bundles every store interface behind one handle. WithTx runs fn
// with a Stores view whose operations share a single transaction,
// committed exactly once when fn returns nil.
type Stores interface {
	Trades() TradeStore
	Breaks() BreakStore
	Comments() CommentStore
	Runs() RunStore
	Rules() RuleStore
	Predictions() PredictionStore
	Reports() ReportStore
	WithTx(ctx context.Context, fn func(Stores) error) error
}
