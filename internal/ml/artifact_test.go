package ml

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"trade-reconciliation-engine/pkg/errors"
)

func createTestArtifact() *Artifact {
	return &Artifact{
		Model: LogisticModel{
			Coefficients: []float64{0.5, -1.2},
			Intercept:    0.3,
			Importances:  []float64{0.5, 1.2},
		},
		FeatureNames: []string{"quantity", "is_buy"},
		Version:      "logistic-test",
	}
}

func TestLogisticModel_PredictProba(t *testing.T) {
	model := LogisticModel{Coefficients: []float64{1}, Intercept: 0}

	proba := model.PredictProba([]float64{0})
	if !almostEqual(proba[0], 0.5) || !almostEqual(proba[1], 0.5) {
		t.Errorf("PredictProba(0) = %v, want [0.5 0.5]", proba)
	}

	proba = model.PredictProba([]float64{2})
	want := 1 / (1 + math.Exp(-2))
	if !almostEqual(proba[1], want) {
		t.Errorf("p(break) = %v, want %v", proba[1], want)
	}
	if !almostEqual(proba[0]+proba[1], 1) {
		t.Errorf("probabilities sum to %v, want 1", proba[0]+proba[1])
	}
}

func TestLogisticModel_ShortVectorScoresAsZero(t *testing.T) {
	model := LogisticModel{Coefficients: []float64{1, 100}, Intercept: 0}

	// Only the first feature is supplied; the second contributes nothing.
	proba := model.PredictProba([]float64{2})
	want := 1 / (1 + math.Exp(-2))
	if !almostEqual(proba[1], want) {
		t.Errorf("p(break) = %v, want %v", proba[1], want)
	}
}

func TestArtifact_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Artifact)
		wantErr bool
	}{
		{"valid", func(a *Artifact) {}, false},
		{"no importances is fine", func(a *Artifact) { a.Model.Importances = nil }, false},
		{"no feature names", func(a *Artifact) { a.FeatureNames = nil }, true},
		{"coefficient mismatch", func(a *Artifact) { a.Model.Coefficients = []float64{1} }, true},
		{"importance mismatch", func(a *Artifact) { a.Model.Importances = []float64{1} }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			artifact := createTestArtifact()
			tt.mutate(artifact)
			if err := artifact.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestArtifact_SaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models", "break_predictor.json")
	saved := createTestArtifact()

	if err := saved.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := LoadArtifact(path)
	if err != nil {
		t.Fatalf("LoadArtifact() error = %v", err)
	}

	if loaded.Version != saved.Version {
		t.Errorf("Version = %s, want %s", loaded.Version, saved.Version)
	}
	if len(loaded.FeatureNames) != 2 || loaded.FeatureNames[1] != "is_buy" {
		t.Errorf("FeatureNames = %v", loaded.FeatureNames)
	}
	if !almostEqual(loaded.Model.Intercept, 0.3) {
		t.Errorf("Intercept = %v, want 0.3", loaded.Model.Intercept)
	}
	if !almostEqual(loaded.Model.Coefficients[1], -1.2) {
		t.Errorf("Coefficients[1] = %v, want -1.2", loaded.Model.Coefficients[1])
	}
}

func TestLoadArtifact_Missing(t *testing.T) {
	_, err := LoadArtifact(filepath.Join(t.TempDir(), "absent.json"))
	if err == nil {
		t.Fatal("LoadArtifact on a missing file should fail")
	}

	recErr, ok := errors.As(err)
	if !ok || recErr.Code != errors.CodeArtifactMissing {
		t.Errorf("error = %v, want code %s", err, errors.CodeArtifactMissing)
	}
}

func TestLoadArtifact_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrupt.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	_, err := LoadArtifact(path)
	recErr, ok := errors.As(err)
	if !ok || recErr.Code != errors.CodeArtifactInvalid {
		t.Errorf("error = %v, want code %s", err, errors.CodeArtifactInvalid)
	}
}

func TestLoadArtifact_Inconsistent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	payload := `{"model": {"coefficients": [1, 2, 3], "intercept": 0}, "feature_names": ["quantity"]}`
	if err := os.WriteFile(path, []byte(payload), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	_, err := LoadArtifact(path)
	recErr, ok := errors.As(err)
	if !ok || recErr.Code != errors.CodeArtifactInvalid {
		t.Errorf("error = %v, want code %s", err, errors.CodeArtifactInvalid)
	}
}
