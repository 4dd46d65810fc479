// Package remediate suggests and applies low-risk fixes for trade breaks.
// Only two actions execute automatically: queueing a counterparty alias
// for reference-data cleanup and accepting a sub-tolerance price rounding
// difference. Everything else stays with a human.
package remediate

import (
	"context"
	"fmt"

	"trade-reconciliation-engine/internal/models"
	"trade-reconciliation-engine/internal/store"
	"trade-reconciliation-engine/pkg/logger"
)

// Action names recorded on the break and surfaced through the API.
const (
	ActionRequestResend        = "request_missing_trade_resend"
	ActionNormalizeAlias       = "normalize_counterparty_alias"
	ActionAcceptPriceRounding  = "accept_minor_price_rounding"
	ActionManualInvestigation  = "manual_investigation"
	priceRoundingTolerancePct  = 0.1
	remediationCommentTemplate = "auto-remediation applied action %s"
)

// Suggestion describes the remediation path for one break.
type Suggestion struct {
	Action         string `json:"action"`
	AutoExecutable bool   `json:"auto_executable"`
	Reason         string `json:"reason"`
}

// Remediator evaluates breaks against the fixed action table and applies
// the auto-executable ones.
type Remediator struct {
	stores store.Stores
	log    logger.Logger
}

// NewRemediator constructs a Remediator over the given stores.
func NewRemediator(stores store.Stores, log logger.Logger) *Remediator {
	return &Remediator{
		stores: stores,
		log:    log.WithComponent("remediator"),
	}
}

// Suggest returns the remediation path for a break without touching it.
func Suggest(brk *models.TradeBreak) Suggestion {
	switch {
	case brk.BreakType == models.BreakTypeMissingTrade:
		return Suggestion{
			Action: ActionRequestResend,
			Reason: "Requires external source confirmation",
		}
	case brk.BreakType == models.BreakTypeCounterpartyMismatch:
		return Suggestion{
			Action:         ActionNormalizeAlias,
			AutoExecutable: true,
			Reason:         "Likely naming standardization issue",
		}
	case brk.BreakType == models.BreakTypePriceMismatch &&
		brk.VariancePct != nil && *brk.VariancePct < priceRoundingTolerancePct:
		return Suggestion{
			Action:         ActionAcceptPriceRounding,
			AutoExecutable: true,
			Reason:         "Within acceptable micro-tolerance",
		}
	default:
		return Suggestion{
			Action: ActionManualInvestigation,
			Reason: "No safe automated path",
		}
	}
}

// Result is the outcome of one Apply call.
type Result struct {
	BreakID    int64      `json:"break_id"`
	Suggestion Suggestion `json:"suggestion"`
	Applied    bool       `json:"applied"`
}

// Apply looks up the break, evaluates the action table and executes the
// suggested action when it is auto-executable and the workflow permits the
// target status. Applied is true only when a state change was written.
func (r *Remediator) Apply(ctx context.Context, breakID int64, actor string) (*Result, error) {
	brk, err := r.stores.Breaks().GetBreakByID(ctx, breakID)
	if err != nil {
		return nil, err
	}

	result := &Result{BreakID: breakID, Suggestion: Suggest(brk)}
	if !result.Suggestion.AutoExecutable || brk.Status.IsTerminal() {
		return result, nil
	}

	resolution := r.resolution(result.Suggestion, actor)
	if brk.Status != resolution.Status && !brk.Status.CanTransitionTo(resolution.Status) {
		return result, nil
	}

	err = r.stores.WithTx(ctx, func(tx store.Stores) error {
		if err := tx.Breaks().ResolveBreak(ctx, breakID, resolution); err != nil {
			return err
		}
		return tx.Comments().AddComment(ctx, &models.BreakComment{
			BreakID: breakID,
			Author:  actor,
			Comment: fmt.Sprintf(remediationCommentTemplate, result.Suggestion.Action),
		})
	})
	if err != nil {
		return nil, err
	}

	result.Applied = true
	logger.WithBreak(r.log, breakID).WithField("action", result.Suggestion.Action).
		Info("Remediation applied")
	return result, nil
}

func (r *Remediator) resolution(suggestion Suggestion, actor string) store.BreakResolution {
	switch suggestion.Action {
	case ActionAcceptPriceRounding:
		return store.BreakResolution{
			Status:     models.StatusResolved,
			ResolvedBy: actor,
			Action:     suggestion.Action,
			Notes:      "Automatically accepted minor price variance",
		}
	default:
		// normalize_counterparty_alias: queued, not yet fixed.
		return store.BreakResolution{
			Status: models.StatusInProgress,
			Action: suggestion.Action,
			Notes:  "Alias normalization queued for reference data update",
		}
	}
}
