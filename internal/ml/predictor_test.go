package ml

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"testing"
	"time"

	"trade-reconciliation-engine/internal/models"
	"trade-reconciliation-engine/pkg/errors"
	"trade-reconciliation-engine/pkg/logger"
)

type fakePredictions struct {
	rows []*models.BreakPrediction
	err  error
}

func (f *fakePredictions) InsertPrediction(ctx context.Context, prediction *models.BreakPrediction) error {
	if f.err != nil {
		return f.err
	}
	f.rows = append(f.rows, prediction)
	return nil
}

func testLogger(t *testing.T) logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(&logger.Config{
		Level:  logger.ErrorLevel,
		Format: logger.TextFormat,
		Output: logger.StderrOutput,
	})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	return log
}

// interceptOnlyArtifact scores every trade at sigmoid(intercept).
func interceptOnlyArtifact(intercept float64) *Artifact {
	return &Artifact{
		Model: LogisticModel{
			Coefficients: []float64{0},
			Intercept:    intercept,
		},
		FeatureNames: []string{"quantity"},
		Version:      "logistic-test",
	}
}

func logit(p float64) float64 {
	return math.Log(p / (1 - p))
}

func TestScore_RiskGrades(t *testing.T) {
	tests := []struct {
		probability float64
		wantRisk    models.RiskLevel
		wantBreak   bool
	}{
		{0.85, models.RiskCritical, true},
		{0.65, models.RiskHigh, true},
		{0.45, models.RiskMedium, false},
		{0.20, models.RiskLow, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.wantRisk), func(t *testing.T) {
			predictor := NewPredictor(interceptOnlyArtifact(logit(tt.probability)),
				NewExtractor(nil), nil, testLogger(t))

			prediction, err := predictor.Score(context.Background(),
				createFeatureTrade(100, 50, time.Time{}))
			if err != nil {
				t.Fatalf("Score() error = %v", err)
			}

			if !almostEqual(prediction.Probability, tt.probability) {
				t.Errorf("Probability = %v, want %v", prediction.Probability, tt.probability)
			}
			if prediction.RiskLevel != tt.wantRisk {
				t.Errorf("RiskLevel = %s, want %s", prediction.RiskLevel, tt.wantRisk)
			}
			if prediction.PredictedBreak != tt.wantBreak {
				t.Errorf("PredictedBreak = %v, want %v", prediction.PredictedBreak, tt.wantBreak)
			}
		})
	}
}

func TestScore_UsesArtifactFeatureOrder(t *testing.T) {
	// p depends only on is_buy: sigmoid(-1 + 2*is_buy).
	artifact := &Artifact{
		Model: LogisticModel{
			Coefficients: []float64{2, 0},
			Intercept:    -1,
		},
		FeatureNames: []string{"is_buy", "quantity"},
	}
	predictor := NewPredictor(artifact, NewExtractor(nil), nil, testLogger(t))

	buy := createFeatureTrade(100, 50, time.Time{})
	sell := createFeatureTrade(100, 50, time.Time{})
	sell.Side = models.TradeSideSell

	buyScore, err := predictor.Score(context.Background(), buy)
	if err != nil {
		t.Fatalf("Score(buy) error = %v", err)
	}
	sellScore, err := predictor.Score(context.Background(), sell)
	if err != nil {
		t.Fatalf("Score(sell) error = %v", err)
	}

	if !almostEqual(buyScore.Probability, 1/(1+math.Exp(-1))) {
		t.Errorf("buy probability = %v, want sigmoid(1)", buyScore.Probability)
	}
	if !almostEqual(sellScore.Probability, 1/(1+math.Exp(1))) {
		t.Errorf("sell probability = %v, want sigmoid(-1)", sellScore.Probability)
	}
}

func TestScore_UnknownFeatureScoresZero(t *testing.T) {
	artifact := &Artifact{
		Model: LogisticModel{
			Coefficients: []float64{100},
			Intercept:    0,
		},
		FeatureNames: []string{"settlement_lag_days"},
	}
	predictor := NewPredictor(artifact, NewExtractor(nil), nil, testLogger(t))

	prediction, err := predictor.Score(context.Background(), createFeatureTrade(1, 1, time.Time{}))
	if err != nil {
		t.Fatalf("Score() error = %v", err)
	}
	if !almostEqual(prediction.Probability, 0.5) {
		t.Errorf("Probability = %v, want 0.5 when the only feature is absent", prediction.Probability)
	}
}

func TestScore_TopFactors(t *testing.T) {
	names := make([]string, 7)
	for i := range names {
		names[i] = fmt.Sprintf("f%d", i+1)
	}
	artifact := &Artifact{
		Model: LogisticModel{
			Coefficients: make([]float64, 7),
			Importances:  []float64{0.1, -0.9, 0.5, 0.05, -0.3, 0.2, 0.7},
		},
		FeatureNames: names,
	}
	predictor := NewPredictor(artifact, NewExtractor(nil), nil, testLogger(t))

	prediction, err := predictor.Score(context.Background(), createFeatureTrade(1, 1, time.Time{}))
	if err != nil {
		t.Fatalf("Score() error = %v", err)
	}

	wantOrder := []string{"f2", "f7", "f3", "f5", "f6"}
	if len(prediction.ContributingFactors) != len(wantOrder) {
		t.Fatalf("factors = %d, want %d", len(prediction.ContributingFactors), len(wantOrder))
	}
	for i, factor := range prediction.ContributingFactors {
		if factor.Feature != wantOrder[i] {
			t.Errorf("factor[%d] = %s, want %s", i, factor.Feature, wantOrder[i])
		}
	}
	if prediction.ContributingFactors[0].Importance != -0.9 {
		t.Errorf("top importance = %v, want the signed value -0.9",
			prediction.ContributingFactors[0].Importance)
	}
}

func TestScore_NoImportancesNoFactors(t *testing.T) {
	predictor := NewPredictor(interceptOnlyArtifact(0), NewExtractor(nil), nil, testLogger(t))

	prediction, err := predictor.Score(context.Background(), createFeatureTrade(1, 1, time.Time{}))
	if err != nil {
		t.Fatalf("Score() error = %v", err)
	}
	if prediction.ContributingFactors != nil {
		t.Errorf("ContributingFactors = %v, want nil without importances", prediction.ContributingFactors)
	}
}

func TestScore_RecordsPersistedTrades(t *testing.T) {
	predictions := &fakePredictions{}
	predictor := NewPredictor(interceptOnlyArtifact(logit(0.7)), NewExtractor(nil),
		predictions, testLogger(t))

	trade := createFeatureTrade(100, 50, time.Time{})
	trade.ID = 7
	if _, err := predictor.Score(context.Background(), trade); err != nil {
		t.Fatalf("Score() error = %v", err)
	}

	if len(predictions.rows) != 1 {
		t.Fatalf("audit rows = %d, want 1", len(predictions.rows))
	}
	row := predictions.rows[0]
	if row.TradeID != 7 || row.RiskLevel != models.RiskHigh || !row.PredictedBreak {
		t.Errorf("audit row = %+v", row)
	}
	if row.ModelVersion != "logistic-test" {
		t.Errorf("ModelVersion = %s, want the artifact version", row.ModelVersion)
	}
}

func TestScore_AdHocTradeIsNotRecorded(t *testing.T) {
	predictions := &fakePredictions{}
	predictor := NewPredictor(interceptOnlyArtifact(0), NewExtractor(nil),
		predictions, testLogger(t))

	if _, err := predictor.Score(context.Background(), createFeatureTrade(1, 1, time.Time{})); err != nil {
		t.Fatalf("Score() error = %v", err)
	}
	if len(predictions.rows) != 0 {
		t.Errorf("audit rows = %d, want 0 for a trade without an id", len(predictions.rows))
	}
}

func TestScore_AuditFailureDoesNotFailScoring(t *testing.T) {
	predictions := &fakePredictions{err: fmt.Errorf("insert failed")}
	predictor := NewPredictor(interceptOnlyArtifact(0), NewExtractor(nil),
		predictions, testLogger(t))

	trade := createFeatureTrade(1, 1, time.Time{})
	trade.ID = 9
	if _, err := predictor.Score(context.Background(), trade); err != nil {
		t.Errorf("Score() error = %v, want audit failure swallowed", err)
	}
}

func TestLoadPredictor_MissingArtifact(t *testing.T) {
	_, err := LoadPredictor(filepath.Join(t.TempDir(), "absent.json"),
		NewExtractor(nil), nil, testLogger(t))
	if err == nil {
		t.Fatal("LoadPredictor without an artifact should fail")
	}
	recErr, ok := errors.As(err)
	if !ok || recErr.Code != errors.CodeArtifactMissing {
		t.Errorf("error = %v, want code %s", err, errors.CodeArtifactMissing)
	}
}
