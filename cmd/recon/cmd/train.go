package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"trade-reconciliation-engine/internal/ml"
	"trade-reconciliation-engine/pkg/errors"
)

// Flags for the train command
var (
	trainOut          string
	trainEpochs       int
	trainLearningRate float64
)

// trainCmd represents the train command
var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Fit the break prediction model from reconciliation history",
	Long: `Train fits a logistic break scorer over every reconciled trade, labeled by
whether it produced a break, and writes the model artifact to disk. Point
RECON_MODEL_PATH at the artifact to enable the prediction endpoint.

At least 10 labeled trades are required; run reconciliations first to build
history.

Examples:
  recon train
  recon train --out models/break-scorer.json --epochs 1000`,

	PreRunE: validateTrainFlags,
	RunE:    runTrain,
}

func init() {
	rootCmd.AddCommand(trainCmd)

	trainCmd.Flags().StringVar(&trainOut, "out", "artifact.json", "path to write the model artifact")
	trainCmd.Flags().IntVar(&trainEpochs, "epochs", 500, "gradient descent epochs")
	trainCmd.Flags().Float64Var(&trainLearningRate, "learning-rate", 0.1, "gradient descent step size")
}

func validateTrainFlags(cmd *cobra.Command, args []string) error {
	if trainOut == "" {
		return errors.ValidationError(errors.CodeMissingField, "out", "", nil).
			WithSuggestion("--out must name the artifact file to write")
	}
	if trainEpochs <= 0 {
		return errors.ValidationError(errors.CodeOutOfRange, "epochs", trainEpochs, nil).
			WithSuggestion("--epochs must be positive")
	}
	if trainLearningRate <= 0 {
		return errors.ValidationError(errors.CodeOutOfRange, "learning-rate", trainLearningRate, nil).
			WithSuggestion("--learning-rate must be positive")
	}
	return nil
}

func runTrain(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	rows, err := rt.stores.Trades().ListLabeledTrades(ctx)
	if err != nil {
		return err
	}

	extractor := ml.NewExtractor(ml.CachedRates(rt.stores.Reports()))
	examples, err := ml.BuildExamples(ctx, extractor, rows)
	if err != nil {
		return err
	}

	cfg := ml.DefaultTrainerConfig()
	cfg.Epochs = trainEpochs
	cfg.LearningRate = trainLearningRate

	artifact, report, err := ml.Train(examples, ml.FeatureKeys, cfg)
	if err != nil {
		return err
	}
	if err := artifact.Save(trainOut); err != nil {
		return err
	}

	fmt.Printf("Training complete: %s\n", trainOut)
	fmt.Printf("  Examples:  %d (%d with breaks)\n", report.Examples, report.Positives)
	fmt.Printf("  Accuracy:  %.3f\n", report.Accuracy)
	fmt.Printf("  AUC:       %.3f\n", report.AUC)
	fmt.Printf("  Version:   %s\n", artifact.Version)
	return nil
}
