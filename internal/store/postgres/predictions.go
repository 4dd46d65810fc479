package postgres

import (
	"context"
	"time"

	"trade-reconciliation-engine/internal/models"
	"trade-reconciliation-engine/pkg/errors"
)

// PredictionRepo implements store.PredictionStore.
type PredictionRepo struct {
	q       queryer
	timeout time.Duration
}

func (r *PredictionRepo) InsertPrediction(ctx context.Context, prediction *models.BreakPrediction) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	row := r.q.QueryRowxContext(ctx,
		`INSERT INTO break_predictions (
			trade_id, probability, predicted_break, risk_level, model_version
		 ) VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at`,
		prediction.TradeID, prediction.Probability, prediction.PredictedBreak,
		prediction.RiskLevel, prediction.ModelVersion)
	if err := row.Scan(&prediction.ID, &prediction.CreatedAt); err != nil {
		return errors.StorageError(errors.CodeQueryFailed, "insert prediction", err)
	}
	return nil
}
