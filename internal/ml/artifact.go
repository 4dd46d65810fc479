package ml

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"time"

	"trade-reconciliation-engine/pkg/errors"
)

// LogisticModel is the scorer shipped inside the artifact: a logistic
// regression over the artifact's feature order.
type LogisticModel struct {
	Coefficients []float64 `json:"coefficients"`
	Intercept    float64   `json:"intercept"`
	Importances  []float64 `json:"importances,omitempty"`
}

// PredictProba returns [p(no break), p(break)] for one feature vector.
func (m *LogisticModel) PredictProba(features []float64) [2]float64 {
	z := m.Intercept
	for i, coefficient := range m.Coefficients {
		if i < len(features) {
			z += coefficient * features[i]
		}
	}
	p := sigmoid(z)
	return [2]float64{1 - p, p}
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

// Artifact is the persisted model file: the scorer plus the feature order
// it was trained on.
type Artifact struct {
	Model        LogisticModel `json:"model"`
	FeatureNames []string      `json:"feature_names"`
	Version      string        `json:"version,omitempty"`
	TrainedAt    time.Time     `json:"trained_at,omitempty"`
}

// Validate checks the artifact is internally consistent.
func (a *Artifact) Validate() error {
	if len(a.FeatureNames) == 0 {
		return errors.New(errors.CategoryModel, errors.CodeArtifactInvalid,
			"artifact has no feature names")
	}
	if len(a.Model.Coefficients) != len(a.FeatureNames) {
		return errors.New(errors.CategoryModel, errors.CodeArtifactInvalid,
			"coefficient count does not match feature names")
	}
	if len(a.Model.Importances) != 0 && len(a.Model.Importances) != len(a.FeatureNames) {
		return errors.New(errors.CategoryModel, errors.CodeArtifactInvalid,
			"importance count does not match feature names")
	}
	return nil
}

// LoadArtifact reads and validates an artifact file. A missing file maps
// to CodeArtifactMissing so callers can answer 404 instead of failing.
func LoadArtifact(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.ModelError(errors.CodeArtifactMissing, path, err)
		}
		return nil, errors.ModelError(errors.CodeArtifactInvalid, path, err)
	}

	var artifact Artifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return nil, errors.ModelError(errors.CodeArtifactInvalid, path, err)
	}
	if err := artifact.Validate(); err != nil {
		return nil, errors.ModelError(errors.CodeArtifactInvalid, path, err)
	}
	return &artifact, nil
}

// Save writes the artifact as indented JSON, creating parent directories
// as needed.
func (a *Artifact) Save(path string) error {
	if err := a.Validate(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return errors.ModelError(errors.CodeArtifactInvalid, path, err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, errors.CategoryModel, errors.CodeArtifactInvalid,
				"create artifact directory")
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrap(err, errors.CategoryModel, errors.CodeArtifactInvalid,
			"write artifact")
	}
	return nil
}
