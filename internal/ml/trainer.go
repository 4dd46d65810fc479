package ml

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"trade-reconciliation-engine/internal/store"
	"trade-reconciliation-engine/pkg/errors"
)

// TrainingExample is one labeled trade's feature map.
type TrainingExample struct {
	Features map[string]float64
	HasBreak bool
}

// TrainerConfig controls the gradient descent fit.
type TrainerConfig struct {
	LearningRate float64
	Epochs       int
	TestFraction float64
	Seed         int64
}

// DefaultTrainerConfig returns the settings used by the train command.
func DefaultTrainerConfig() TrainerConfig {
	return TrainerConfig{
		LearningRate: 0.1,
		Epochs:       500,
		TestFraction: 0.2,
		Seed:         42,
	}
}

// TrainingReport summarizes a completed fit.
type TrainingReport struct {
	Examples  int     `json:"examples"`
	Positives int     `json:"positives"`
	Accuracy  float64 `json:"accuracy"`
	AUC       float64 `json:"auc"`
}

const minTrainingExamples = 10

// BuildExamples extracts features for labeled trades. Wrap the history in
// CachedRates before calling; every trade otherwise repeats the same rate
// queries.
func BuildExamples(ctx context.Context, extractor *Extractor, rows []store.LabeledTrade) ([]TrainingExample, error) {
	examples := make([]TrainingExample, 0, len(rows))
	for i := range rows {
		features, err := extractor.Extract(ctx, &rows[i].Trade)
		if err != nil {
			return nil, err
		}
		examples = append(examples, TrainingExample{
			Features: features,
			HasBreak: rows[i].HasBreak,
		})
	}
	return examples, nil
}

// Train fits a logistic scorer over the examples and returns the artifact
// together with holdout metrics. Features are standardized for the fit and
// the coefficients are mapped back to raw feature space, so the artifact
// scores unscaled extractor output.
func Train(examples []TrainingExample, featureNames []string, cfg TrainerConfig) (*Artifact, *TrainingReport, error) {
	if len(featureNames) == 0 {
		featureNames = FeatureKeys
	}
	if len(examples) < minTrainingExamples {
		return nil, nil, errors.ValidationError(errors.CodeInvalidData, "examples",
			len(examples), fmt.Errorf("need at least %d labeled trades", minTrainingExamples))
	}

	matrix, labels := vectorize(examples, featureNames)
	positives := 0
	for _, label := range labels {
		if label == 1 {
			positives++
		}
	}
	if positives == 0 || positives == len(labels) {
		return nil, nil, errors.ValidationError(errors.CodeInvalidData, "labels",
			positives, fmt.Errorf("training data has a single class"))
	}

	trainIdx, testIdx := stratifiedSplit(labels, cfg.TestFraction, cfg.Seed)

	means, stddevs := columnStats(matrix, trainIdx, len(featureNames))
	weights, bias := fit(matrix, labels, trainIdx, means, stddevs, cfg)

	// Map back to raw feature space: w = w'/sigma, b = b' - sum(w' mu/sigma).
	coefficients := make([]float64, len(featureNames))
	importances := make([]float64, len(featureNames))
	intercept := bias
	for j := range featureNames {
		coefficients[j] = weights[j] / stddevs[j]
		intercept -= weights[j] * means[j] / stddevs[j]
		importances[j] = math.Abs(weights[j])
	}

	trainedAt := time.Now().UTC()
	artifact := &Artifact{
		Model: LogisticModel{
			Coefficients: coefficients,
			Intercept:    intercept,
			Importances:  importances,
		},
		FeatureNames: featureNames,
		Version:      "logistic-" + trainedAt.Format("20060102T150405Z"),
		TrainedAt:    trainedAt,
	}

	evalIdx := testIdx
	if len(evalIdx) == 0 {
		evalIdx = trainIdx
	}
	accuracy, auc := evaluate(artifact.Model, matrix, labels, evalIdx)

	report := &TrainingReport{
		Examples:  len(examples),
		Positives: positives,
		Accuracy:  accuracy,
		AUC:       auc,
	}
	return artifact, report, nil
}

func vectorize(examples []TrainingExample, featureNames []string) ([][]float64, []float64) {
	matrix := make([][]float64, len(examples))
	labels := make([]float64, len(examples))
	for i, example := range examples {
		row := make([]float64, len(featureNames))
		for j, name := range featureNames {
			row[j] = example.Features[name]
		}
		matrix[i] = row
		if example.HasBreak {
			labels[i] = 1
		}
	}
	return matrix, labels
}

// stratifiedSplit shuffles each class independently and carves the test
// fraction from both, so a rare positive class is never absent from the
// training rows.
func stratifiedSplit(labels []float64, testFraction float64, seed int64) (train, test []int) {
	rng := rand.New(rand.NewSource(seed))

	var positives, negatives []int
	for i, label := range labels {
		if label == 1 {
			positives = append(positives, i)
		} else {
			negatives = append(negatives, i)
		}
	}

	for _, class := range [][]int{positives, negatives} {
		rng.Shuffle(len(class), func(i, j int) { class[i], class[j] = class[j], class[i] })
		testCount := int(float64(len(class)) * testFraction)
		test = append(test, class[:testCount]...)
		train = append(train, class[testCount:]...)
	}
	sort.Ints(train)
	sort.Ints(test)
	return train, test
}

func columnStats(matrix [][]float64, idx []int, columns int) (means, stddevs []float64) {
	means = make([]float64, columns)
	stddevs = make([]float64, columns)
	n := float64(len(idx))

	for _, i := range idx {
		for j, v := range matrix[i] {
			means[j] += v
		}
	}
	for j := range means {
		means[j] /= n
	}

	for _, i := range idx {
		for j, v := range matrix[i] {
			d := v - means[j]
			stddevs[j] += d * d
		}
	}
	for j := range stddevs {
		stddevs[j] = math.Sqrt(stddevs[j] / n)
		if stddevs[j] == 0 {
			stddevs[j] = 1
		}
	}
	return means, stddevs
}

// fit runs full-batch gradient descent on the log loss over standardized
// features.
func fit(matrix [][]float64, labels []float64, idx []int, means, stddevs []float64, cfg TrainerConfig) ([]float64, float64) {
	columns := len(means)
	weights := make([]float64, columns)
	bias := 0.0
	gradient := make([]float64, columns)
	n := float64(len(idx))

	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		for j := range gradient {
			gradient[j] = 0
		}
		biasGradient := 0.0

		for _, i := range idx {
			z := bias
			for j, v := range matrix[i] {
				z += weights[j] * (v - means[j]) / stddevs[j]
			}
			residual := sigmoid(z) - labels[i]
			for j, v := range matrix[i] {
				gradient[j] += residual * (v - means[j]) / stddevs[j]
			}
			biasGradient += residual
		}

		for j := range weights {
			weights[j] -= cfg.LearningRate * gradient[j] / n
		}
		bias -= cfg.LearningRate * biasGradient / n
	}
	return weights, bias
}

func evaluate(model LogisticModel, matrix [][]float64, labels []float64, idx []int) (accuracy, auc float64) {
	scores := make([]float64, len(idx))
	correct := 0
	positives := 0

	for k, i := range idx {
		p := model.PredictProba(matrix[i])[1]
		scores[k] = p
		predicted := 0.0
		if p >= 0.5 {
			predicted = 1
		}
		if predicted == labels[i] {
			correct++
		}
		if labels[i] == 1 {
			positives++
		}
	}

	accuracy = float64(correct) / float64(len(idx))
	auc = rankAUC(scores, labels, idx, positives)
	return accuracy, auc
}

// rankAUC computes the Mann-Whitney AUC. A single-class sample has no
// ranking to measure; score it as chance.
func rankAUC(scores, labels []float64, idx []int, positives int) float64 {
	negatives := len(idx) - positives
	if positives == 0 || negatives == 0 {
		return 0.5
	}

	type scored struct {
		p        float64
		positive bool
	}
	ranked := make([]scored, len(idx))
	for k, i := range idx {
		ranked[k] = scored{p: scores[k], positive: labels[i] == 1}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].p < ranked[j].p })

	rankSum := 0.0
	for rank, s := range ranked {
		if s.positive {
			rankSum += float64(rank + 1)
		}
	}
	u := rankSum - float64(positives)*float64(positives+1)/2
	return u / (float64(positives) * float64(negatives))
}
