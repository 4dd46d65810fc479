// Package recon owns the reconciliation run lifecycle. A run record is
// created before the matching engine starts and finalized exactly once with
// the pass totals, so every invocation leaves an audit trail even when
// matching fails and rolls back. The package also hosts the daily pipeline
// that ingests fresh trades before reconciling them.
package recon

import (
	"context"
	"time"

	"github.com/google/uuid"

	"trade-reconciliation-engine/internal/engine"
	"trade-reconciliation-engine/internal/ingest"
	"trade-reconciliation-engine/internal/metrics"
	"trade-reconciliation-engine/internal/models"
	"trade-reconciliation-engine/internal/store"
	"trade-reconciliation-engine/pkg/logger"
)

// Reconciler runs one matching pass. *engine.Engine satisfies it.
type Reconciler interface {
	Reconcile(ctx context.Context, req engine.Request) (*engine.Stats, error)
}

// Ingestor runs one ingestion pass. *ingest.Orchestrator satisfies it.
type Ingestor interface {
	RunIngestion(ctx context.Context, from, to time.Time) ([]ingest.SourceResult, error)
}

// Service wraps the engine with run bookkeeping.
type Service struct {
	runs     store.RunStore
	engine   Reconciler
	ingestor Ingestor
	log      logger.Logger
	clock    func() time.Time
	metrics  *metrics.Metrics
}

// NewService creates the run service. The ingestor is only needed for
// DailyPipeline and may be nil when the service just records runs.
func NewService(runs store.RunStore, reconciler Reconciler, ingestor Ingestor, log logger.Logger) *Service {
	return &Service{
		runs:     runs,
		engine:   reconciler,
		ingestor: ingestor,
		log:      log.WithComponent("recon"),
		clock:    time.Now,
	}
}

// WithMetrics attaches Prometheus instrumentation to the run lifecycle.
func (s *Service) WithMetrics(m *metrics.Metrics) *Service {
	s.metrics = m
	return s
}

// Run executes one reconciliation pass for the trade date and source pair.
//
// The run row is written in status running before the engine starts.
// On success it is finalized with the pass totals; matched trades count
// pairs, and total trades counts pairs plus both unmatched sides, so the
// match rate reads as the share of reconcilable positions that paired.
// On failure the row is finalized as failed with the error message and the
// engine error is returned.
func (s *Service) Run(ctx context.Context, tradeDate time.Time, source1, source2 string) (*models.ReconciliationRun, error) {
	started := s.clock().UTC()
	run := &models.ReconciliationRun{
		RunID:     newRunID(tradeDate),
		TradeDate: dateOnly(tradeDate),
		Source1:   source1,
		Source2:   source2,
		Status:    models.RunStatusRunning,
		StartedAt: started,
	}
	if err := run.Validate(); err != nil {
		return nil, err
	}
	if err := s.runs.CreateRun(ctx, run); err != nil {
		return nil, err
	}

	log := logger.WithRun(s.log, run.RunID)
	log.WithFields(logger.Fields{
		"trade_date": run.TradeDate.Format("2006-01-02"),
		"source1":    source1,
		"source2":    source2,
	}).Info("Reconciliation run started")

	stats, err := s.engine.Reconcile(ctx, engine.Request{
		TradeDate: run.TradeDate,
		Source1:   source1,
		Source2:   source2,
		RunID:     &run.ID,
	})

	completed := s.clock().UTC()
	run.CompletedAt = &completed
	run.DurationSeconds = completed.Sub(started).Seconds()

	if err != nil {
		message := err.Error()
		run.Status = models.RunStatusFailed
		run.ErrorMessage = &message
		if finishErr := s.runs.FinishRun(ctx, run); finishErr != nil {
			log.WithError(finishErr).Error("Failed to record run failure")
		}
		s.metrics.RecordRun(run.Status.String(), run.DurationSeconds)
		return nil, err
	}

	run.Status = models.RunStatusCompleted
	run.MatchedTrades = stats.MatchedPairs()
	run.ManualReview = stats.ManualReview
	run.BreaksFound = stats.BreaksIdentified
	run.UnmatchedSource1 = stats.UnmatchedSource1
	run.UnmatchedSource2 = stats.UnmatchedSource2
	run.TotalTrades = stats.MatchedPairs() + stats.UnmatchedSource1 + stats.UnmatchedSource2
	run.MatchRate = run.ComputeMatchRate()

	if err := s.runs.FinishRun(ctx, run); err != nil {
		return nil, err
	}

	s.metrics.RecordRun(run.Status.String(), run.DurationSeconds)
	s.metrics.RecordMatches(string(models.ConfidenceAuto), stats.AutoMatched)
	s.metrics.RecordMatches(string(models.ConfidenceReview), stats.ManualReview)
	for severity, count := range stats.BreaksBySeverity {
		s.metrics.RecordBreaks(severity.String(), count)
	}

	log.WithFields(logger.Fields{
		"total_trades":   run.TotalTrades,
		"matched_trades": run.MatchedTrades,
		"breaks_found":   run.BreaksFound,
		"match_rate":     run.MatchRate,
		"duration_s":     run.DurationSeconds,
	}).Info("Reconciliation run complete")

	return run, nil
}

// PipelineResult bundles one daily pipeline outcome.
type PipelineResult struct {
	Ingestion []ingest.SourceResult     `json:"ingestion"`
	Run       *models.ReconciliationRun `json:"run,omitempty"`
}

// DailyPipeline ingests the previous day's trades from every source and
// then reconciles OMS against the custodian for that trade date.
func (s *Service) DailyPipeline(ctx context.Context) (*PipelineResult, error) {
	today := dateOnly(s.clock())
	yesterday := today.AddDate(0, 0, -1)

	ingestion, err := s.ingestor.RunIngestion(ctx, yesterday, today)
	if err != nil {
		return nil, err
	}

	run, err := s.Run(ctx, yesterday, models.SourceOMS, models.SourceCustodian)
	if err != nil {
		return &PipelineResult{Ingestion: ingestion}, err
	}

	return &PipelineResult{Ingestion: ingestion, Run: run}, nil
}

// newRunID builds a unique, date-tagged run identifier.
func newRunID(tradeDate time.Time) string {
	return "recon-" + tradeDate.UTC().Format("20060102") + "-" + uuid.NewString()[:8]
}

func dateOnly(t time.Time) time.Time {
	year, month, day := t.UTC().Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
