package ml

import (
	"context"
	"math"
	"sort"

	"trade-reconciliation-engine/internal/models"
	"trade-reconciliation-engine/internal/store"
	"trade-reconciliation-engine/pkg/logger"
)

const topFactorCount = 5

// FeatureContribution is one entry of the ranked factor list.
type FeatureContribution struct {
	Feature    string  `json:"feature"`
	Importance float64 `json:"importance"`
}

// Prediction is the scoring result for one trade.
type Prediction struct {
	TradeID             int64                 `json:"trade_id,omitempty"`
	Probability         float64               `json:"break_probability"`
	PredictedBreak      bool                  `json:"predicted_break"`
	RiskLevel           models.RiskLevel      `json:"risk_level"`
	ContributingFactors []FeatureContribution `json:"contributing_factors"`
	ModelVersion        string                `json:"model_version,omitempty"`
}

// Predictor scores trades against a loaded artifact. The prediction store
// is optional; when present, scores for persisted trades are recorded for
// later accuracy review.
type Predictor struct {
	artifact    *Artifact
	extractor   *Extractor
	predictions store.PredictionStore
	log         logger.Logger
}

// NewPredictor wires a Predictor around an already loaded artifact.
func NewPredictor(artifact *Artifact, extractor *Extractor, predictions store.PredictionStore, log logger.Logger) *Predictor {
	return &Predictor{
		artifact:    artifact,
		extractor:   extractor,
		predictions: predictions,
		log:         log.WithComponent("predictor"),
	}
}

// LoadPredictor loads the artifact at path and wires a Predictor; a
// missing artifact surfaces CodeArtifactMissing.
func LoadPredictor(path string, extractor *Extractor, predictions store.PredictionStore, log logger.Logger) (*Predictor, error) {
	artifact, err := LoadArtifact(path)
	if err != nil {
		return nil, err
	}
	log.WithComponent("predictor").WithFields(logger.Fields{
		"artifact": path,
		"features": len(artifact.FeatureNames),
		"version":  artifact.Version,
	}).Info("Loaded break prediction model")
	return NewPredictor(artifact, extractor, predictions, log), nil
}

// Version reports the loaded artifact's version tag.
func (p *Predictor) Version() string {
	return p.artifact.Version
}

// Score extracts the trade's features, orders them per the artifact and
// returns the break probability with its risk grade and top factors.
func (p *Predictor) Score(ctx context.Context, trade *models.Trade) (*Prediction, error) {
	features, err := p.extractor.Extract(ctx, trade)
	if err != nil {
		return nil, err
	}

	// Features the artifact knows but the extractor did not produce
	// score as zero.
	vector := make([]float64, len(p.artifact.FeatureNames))
	for i, name := range p.artifact.FeatureNames {
		vector[i] = features[name]
	}

	probability := p.artifact.Model.PredictProba(vector)[1]
	prediction := &Prediction{
		TradeID:             trade.ID,
		Probability:         probability,
		PredictedBreak:      probability >= 0.5,
		RiskLevel:           models.RiskLevelForProbability(probability),
		ContributingFactors: p.topFactors(),
		ModelVersion:        p.artifact.Version,
	}

	p.record(ctx, prediction)
	return prediction, nil
}

// topFactors ranks the artifact's features by importance magnitude.
func (p *Predictor) topFactors() []FeatureContribution {
	importances := p.artifact.Model.Importances
	if len(importances) != len(p.artifact.FeatureNames) {
		return nil
	}

	factors := make([]FeatureContribution, len(importances))
	for i, importance := range importances {
		factors[i] = FeatureContribution{
			Feature:    p.artifact.FeatureNames[i],
			Importance: importance,
		}
	}
	sort.SliceStable(factors, func(i, j int) bool {
		return math.Abs(factors[i].Importance) > math.Abs(factors[j].Importance)
	})

	if len(factors) > topFactorCount {
		factors = factors[:topFactorCount]
	}
	return factors
}

// record writes the audit row for persisted trades. Scoring outlives an
// audit failure, so errors only warn.
func (p *Predictor) record(ctx context.Context, prediction *Prediction) {
	if p.predictions == nil || prediction.TradeID == 0 {
		return
	}

	row := &models.BreakPrediction{
		TradeID:        prediction.TradeID,
		Probability:    prediction.Probability,
		PredictedBreak: prediction.PredictedBreak,
		RiskLevel:      prediction.RiskLevel,
		ModelVersion:   prediction.ModelVersion,
	}
	if err := p.predictions.InsertPrediction(ctx, row); err != nil {
		p.log.WithError(err).WithField("trade_id", prediction.TradeID).
			Warn("Failed to record prediction")
	}
}
