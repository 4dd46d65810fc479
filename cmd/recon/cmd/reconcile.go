package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"trade-reconciliation-engine/internal/breaks"
	"trade-reconciliation-engine/internal/engine"
	"trade-reconciliation-engine/internal/ingest"
	"trade-reconciliation-engine/internal/matcher"
	"trade-reconciliation-engine/internal/models"
	"trade-reconciliation-engine/internal/recon"
	"trade-reconciliation-engine/pkg/errors"
)

// Flags for the reconcile command
var (
	reconcileTradeDate string
	reconcileSource1   string
	reconcileSource2   string
)

// reconcileCmd represents the reconcile command
var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Run one reconciliation pass for a trade date",
	Long: `Reconcile pairs the unmatched trades of two source systems for one trade
date, derives breaks from the field-level differences of matched pairs, and
records the run.

Trades must already be ingested; use 'recon ingest' first.

Examples:
  recon reconcile --trade-date 2024-03-15
  recon reconcile --trade-date 2024-03-15 --source1 OMS --source2 CUSTODIAN`,

	PreRunE: validateReconcileFlags,
	RunE:    runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)

	reconcileCmd.Flags().StringVarP(&reconcileTradeDate, "trade-date", "t", "", "trade date to reconcile (YYYY-MM-DD, required)")
	reconcileCmd.Flags().StringVar(&reconcileSource1, "source1", models.SourceOMS, "first source system")
	reconcileCmd.Flags().StringVar(&reconcileSource2, "source2", models.SourceCustodian, "second source system")

	reconcileCmd.MarkFlagRequired("trade-date")

	viper.BindPFlag("trade-date", reconcileCmd.Flags().Lookup("trade-date"))
	viper.BindPFlag("source1", reconcileCmd.Flags().Lookup("source1"))
	viper.BindPFlag("source2", reconcileCmd.Flags().Lookup("source2"))
}

func validateReconcileFlags(cmd *cobra.Command, args []string) error {
	reconcileTradeDate = viper.GetString("trade-date")
	reconcileSource1 = viper.GetString("source1")
	reconcileSource2 = viper.GetString("source2")

	if _, err := time.Parse("2006-01-02", reconcileTradeDate); err != nil {
		return errors.ValidationError(errors.CodeInvalidDate, "trade-date", reconcileTradeDate, err)
	}
	if reconcileSource1 == "" || reconcileSource2 == "" {
		return errors.ValidationError(errors.CodeMissingField, "source", "", nil).
			WithSuggestion("both --source1 and --source2 must name a source system")
	}
	if reconcileSource1 == reconcileSource2 {
		return errors.ValidationError(errors.CodeInvalidData, "source2", reconcileSource2, nil).
			WithSuggestion("the two sources must differ")
	}
	return nil
}

func runReconcile(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	match, err := matcher.NewMatcher(rt.cfg.MatcherConfig())
	if err != nil {
		return err
	}
	deriver := breaks.NewDeriver(rt.cfg.SLAPolicy())
	eng := engine.NewEngine(rt.stores, match, deriver, rt.log)
	orch := ingest.NewOrchestrator(rt.stores.Trades(), rt.log)
	svc := recon.NewService(rt.stores.Runs(), eng, orch, rt.log)

	tradeDate, _ := time.Parse("2006-01-02", reconcileTradeDate)
	run, err := svc.Run(ctx, tradeDate, reconcileSource1, reconcileSource2)
	if err != nil {
		return err
	}

	printRun(run)
	return nil
}

func printRun(run *models.ReconciliationRun) {
	fmt.Printf("Reconciliation complete: %s\n", run.RunID)
	fmt.Printf("  Trade date:    %s\n", run.TradeDate.Format("2006-01-02"))
	fmt.Printf("  Sources:       %s vs %s\n", run.Source1, run.Source2)
	fmt.Printf("  Total trades:  %d\n", run.TotalTrades)
	fmt.Printf("  Auto-matched:  %d (%.1f%% match rate)\n", run.AutoMatched(), run.MatchRate*100)
	fmt.Printf("  Manual review: %d\n", run.ManualReview)
	fmt.Printf("  Breaks found:  %d\n", run.BreaksFound)
	fmt.Printf("  Unmatched:     %d %s, %d %s\n",
		run.UnmatchedSource1, run.Source1, run.UnmatchedSource2, run.Source2)
	fmt.Printf("  Duration:      %.2fs\n", run.DurationSeconds)
}
