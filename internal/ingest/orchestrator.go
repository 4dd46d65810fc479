package ingest

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/lib/pq"

	"trade-reconciliation-engine/internal/store"
	"trade-reconciliation-engine/pkg/errors"
	"trade-reconciliation-engine/pkg/logger"
)

// SourceResult reports the ingestion outcome for one source system.
type SourceResult struct {
	Source     string `json:"source"`
	Fetched    int    `json:"fetched"`
	Inserted   int    `json:"inserted"`
	Duplicates int    `json:"duplicates"`
	Skipped    int    `json:"skipped"`
	Error      string `json:"error,omitempty"`
}

// Orchestrator drives every registered connector through one ingestion pass.
// Sources are isolated from each other: a connector that cannot connect,
// fetch or store records zero rows and the next source still runs.
type Orchestrator struct {
	trades     store.TradeStore
	connectors []Connector
	log        logger.Logger
}

// NewOrchestrator creates an orchestrator over the given connectors. The
// connector order is the ingestion order.
func NewOrchestrator(trades store.TradeStore, log logger.Logger, connectors ...Connector) *Orchestrator {
	return &Orchestrator{
		trades:     trades,
		connectors: connectors,
		log:        log.WithComponent("ingestion"),
	}
}

// RunIngestion fetches, normalizes and stores trades from every source for
// the date range [from, to]. It returns one result per source; per-source
// failures are recorded in the result, only context cancellation fails the
// whole pass.
func (o *Orchestrator) RunIngestion(ctx context.Context, from, to time.Time) ([]SourceResult, error) {
	results := make([]SourceResult, 0, len(o.connectors))

	for _, connector := range o.connectors {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		results = append(results, o.ingestSource(ctx, connector, from, to))
	}

	return results, nil
}

func (o *Orchestrator) ingestSource(ctx context.Context, connector Connector, from, to time.Time) SourceResult {
	result := SourceResult{Source: connector.Name()}
	log := o.log.WithField("source", connector.Name())

	if err := connector.Connect(ctx); err != nil {
		if errors.IsCategory(err, errors.CategoryConfig) {
			log.WithError(err).Warn("Source not configured; skipping")
		} else {
			log.WithError(err).Error("Failed to connect to source")
		}
		result.Error = err.Error()
		return result
	}
	defer func() {
		if err := connector.Disconnect(); err != nil {
			log.WithError(err).Warn("Failed to disconnect from source")
		}
	}()

	raws, err := connector.FetchTrades(ctx, from, to)
	if err != nil {
		log.WithError(err).Error("Failed to fetch trades from source")
		result.Error = err.Error()
		return result
	}
	result.Fetched = len(raws)

	for _, raw := range raws {
		if err := ctx.Err(); err != nil {
			result.Error = err.Error()
			return result
		}

		trade, err := connector.NormalizeTrade(raw)
		if err != nil {
			log.WithError(err).Warn("Dropping record that failed normalization")
			result.Skipped++
			continue
		}
		if !connector.ValidateTrade(trade) {
			log.WithFields(logger.Fields{
				"source_trade_id": trade.SourceTradeID,
			}).Warn("Dropping trade that failed validation")
			result.Skipped++
			continue
		}

		inserted, err := o.trades.UpsertTrade(ctx, trade)
		switch {
		case err == nil && inserted:
			result.Inserted++
		case err == nil:
			result.Duplicates++
		case isDuplicateKey(err):
			result.Duplicates++
		default:
			log.WithError(err).Error("Failed to persist trade; aborting source")
			result.Error = err.Error()
			return result
		}
	}

	log.WithFields(logger.Fields{
		"fetched":    result.Fetched,
		"inserted":   result.Inserted,
		"duplicates": result.Duplicates,
		"skipped":    result.Skipped,
	}).Info("Source ingestion complete")

	return result
}

// isDuplicateKey reports whether err is the Postgres unique_violation. A
// concurrent writer landing the same (source_system, source_trade_id) first
// is an already-seen trade, not a failure.
func isDuplicateKey(err error) bool {
	var pqErr *pq.Error
	return stderrors.As(err, &pqErr) && pqErr.Code == "23505"
}
