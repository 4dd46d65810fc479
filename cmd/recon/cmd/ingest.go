package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"trade-reconciliation-engine/internal/ingest"
	"trade-reconciliation-engine/pkg/errors"
)

// Flags for the ingest command
var (
	ingestFrom string
	ingestTo   string
)

// ingestCmd represents the ingest command
var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Fetch trades from the configured sources",
	Long: `Ingest pulls trades from every configured source system for a date range
and stores them, skipping records already ingested. Sources are independent:
one source failing does not stop the others.

Configure sources with RECON_OMS_API_URL and RECON_CUSTODIAN_DROP_DIR.

Examples:
  recon ingest --from 2024-03-14 --to 2024-03-15`,

	PreRunE: validateIngestFlags,
	RunE:    runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)

	ingestCmd.Flags().StringVar(&ingestFrom, "from", "", "start of the date range (YYYY-MM-DD, required)")
	ingestCmd.Flags().StringVar(&ingestTo, "to", "", "end of the date range, inclusive (YYYY-MM-DD, required)")

	ingestCmd.MarkFlagRequired("from")
	ingestCmd.MarkFlagRequired("to")

	viper.BindPFlag("from", ingestCmd.Flags().Lookup("from"))
	viper.BindPFlag("to", ingestCmd.Flags().Lookup("to"))
}

func validateIngestFlags(cmd *cobra.Command, args []string) error {
	ingestFrom = viper.GetString("from")
	ingestTo = viper.GetString("to")

	from, err := time.Parse("2006-01-02", ingestFrom)
	if err != nil {
		return errors.ValidationError(errors.CodeInvalidDate, "from", ingestFrom, err)
	}
	to, err := time.Parse("2006-01-02", ingestTo)
	if err != nil {
		return errors.ValidationError(errors.CodeInvalidDate, "to", ingestTo, err)
	}
	if to.Before(from) {
		return errors.ValidationError(errors.CodeOutOfRange, "to", ingestTo, nil).
			WithSuggestion("--to must not be before --from")
	}
	return nil
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	var connectors []ingest.Connector
	if rt.cfg.OMSAPIURL != "" {
		connectors = append(connectors, ingest.NewOMSConnector(rt.cfg.OMSConfig(), rt.log))
	}
	if rt.cfg.CustodianDropDir != "" {
		connectors = append(connectors, ingest.NewCustodianConnector(rt.cfg.CustodianConfig(), rt.log))
	}
	if len(connectors) == 0 {
		return errors.ConfigError(errors.CodeMissingConfig, "sources", nil).
			WithSuggestion("configure at least one of RECON_OMS_API_URL or RECON_CUSTODIAN_DROP_DIR")
	}

	orch := ingest.NewOrchestrator(rt.stores.Trades(), rt.log, connectors...)

	from, _ := time.Parse("2006-01-02", ingestFrom)
	to, _ := time.Parse("2006-01-02", ingestTo)
	results, err := orch.RunIngestion(ctx, from, to)
	if err != nil {
		return err
	}

	fmt.Printf("Ingestion complete: %d source(s)\n", len(results))
	for _, result := range results {
		fmt.Printf("  %-10s fetched %d, inserted %d, duplicates %d, skipped %d\n",
			result.Source+":", result.Fetched, result.Inserted, result.Duplicates, result.Skipped)
		if result.Error != "" {
			fmt.Printf("  %-10s error: %s\n", "", result.Error)
		}
	}
	return nil
}
