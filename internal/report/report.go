// Package report serves the read-only operational rollups: the headline
// reconciliation summary, exception aging, run history and the root-cause
// distribution of resolved breaks. Everything here is computed from the
// report store; nothing mutates state.
package report

import (
	"context"
	"time"

	"trade-reconciliation-engine/internal/models"
	"trade-reconciliation-engine/internal/store"
	"trade-reconciliation-engine/pkg/logger"
)

// DefaultRunLimit bounds the run-history rollup when the caller does not
// ask for a specific window.
const DefaultRunLimit = 20

// Summary is the headline rollup shown on the operations dashboard.
type Summary struct {
	GeneratedAt   time.Time                    `json:"generated_at"`
	TotalTrades   int64                        `json:"total_trades"`
	MatchedTrades int64                        `json:"matched_trades"`
	MatchRate     float64                      `json:"match_rate"`
	OpenBreaks    int                          `json:"open_breaks"`
	ByStatus      map[models.BreakStatus]int   `json:"breaks_by_status"`
	BySeverity    map[models.BreakSeverity]int `json:"breaks_by_severity"`
}

// AgingBucket is one age band of the exception aging report.
type AgingBucket struct {
	Bucket string `json:"bucket"`
	Count  int    `json:"count"`
}

// Aging reports how long actionable breaks have been waiting. Buckets are
// always present, zero counts included, so the payload shape is stable.
type Aging struct {
	GeneratedAt      time.Time     `json:"generated_at"`
	Total            int           `json:"total"`
	Buckets          []AgingBucket `json:"buckets"`
	OldestAgeSeconds float64       `json:"oldest_age_seconds"`
	OldestBreakID    int64         `json:"oldest_break_id,omitempty"`
}

// RootCause is the distribution of resolved breaks by recorded root cause
// and by resolution action.
type RootCause struct {
	GeneratedAt time.Time      `json:"generated_at"`
	RootCauses  map[string]int `json:"root_causes"`
	Actions     map[string]int `json:"resolution_actions"`
}

// agingBounds are the upper edges of the age bands, oldest band open-ended.
var agingBounds = []struct {
	label string
	limit time.Duration
}{
	{"under_1h", time.Hour},
	{"1h_to_4h", 4 * time.Hour},
	{"4h_to_24h", 24 * time.Hour},
	{"over_24h", 0},
}

// Service aggregates the rollups. It is safe for concurrent use.
type Service struct {
	reports store.ReportStore
	runs    store.RunStore
	log     logger.Logger
	clock   func() time.Time
}

// NewService builds a reporting service over the given stores.
func NewService(reports store.ReportStore, runs store.RunStore, log logger.Logger) *Service {
	return &Service{
		reports: reports,
		runs:    runs,
		log:     log.WithComponent("report"),
		clock:   time.Now,
	}
}

// Summary computes the headline rollup. Open counts the actionable
// statuses (OPEN, IN_PROGRESS, ESCALATED).
func (s *Service) Summary(ctx context.Context) (*Summary, error) {
	byStatus, err := s.reports.BreakStatusCounts(ctx)
	if err != nil {
		return nil, err
	}
	bySeverity, err := s.reports.BreakSeverityCounts(ctx)
	if err != nil {
		return nil, err
	}
	total, matched, err := s.reports.TradeMatchCounts(ctx)
	if err != nil {
		return nil, err
	}

	open := 0
	for status, count := range byStatus {
		if status.IsActionable() || status == models.StatusEscalated {
			open += count
		}
	}

	matchRate := 0.0
	if total > 0 {
		matchRate = float64(matched) / float64(total)
	}

	return &Summary{
		GeneratedAt:   s.clock().UTC(),
		TotalTrades:   total,
		MatchedTrades: matched,
		MatchRate:     matchRate,
		OpenBreaks:    open,
		ByStatus:      byStatus,
		BySeverity:    bySeverity,
	}, nil
}

// Aging buckets the actionable breaks by age as of now.
func (s *Service) Aging(ctx context.Context) (*Aging, error) {
	ages, err := s.reports.ActionableBreakAges(ctx)
	if err != nil {
		return nil, err
	}

	now := s.clock().UTC()
	aging := &Aging{
		GeneratedAt: now,
		Total:       len(ages),
		Buckets:     make([]AgingBucket, len(agingBounds)),
	}
	for i, bound := range agingBounds {
		aging.Buckets[i].Bucket = bound.label
	}

	var oldest time.Duration
	for _, age := range ages {
		waited := now.Sub(age.CreatedAt)
		if waited < 0 {
			waited = 0
		}
		aging.Buckets[bucketIndex(waited)].Count++
		if waited > oldest {
			oldest = waited
			aging.OldestBreakID = age.BreakID
		}
	}
	aging.OldestAgeSeconds = oldest.Seconds()

	return aging, nil
}

// Runs returns the latest run records, newest first. A non-positive limit
// falls back to DefaultRunLimit.
func (s *Service) Runs(ctx context.Context, limit int) ([]*models.ReconciliationRun, error) {
	if limit <= 0 {
		limit = DefaultRunLimit
	}
	return s.runs.ListRuns(ctx, limit)
}

// RootCause rolls up resolved breaks by root cause and resolution action.
func (s *Service) RootCause(ctx context.Context) (*RootCause, error) {
	rootCauses, err := s.reports.RootCauseCounts(ctx)
	if err != nil {
		return nil, err
	}
	actions, err := s.reports.ResolutionActionCounts(ctx)
	if err != nil {
		return nil, err
	}

	return &RootCause{
		GeneratedAt: s.clock().UTC(),
		RootCauses:  rootCauses,
		Actions:     actions,
	}, nil
}

// bucketIndex maps an age onto its band; anything past the last bound lands
// in the open-ended final band.
func bucketIndex(age time.Duration) int {
	for i, bound := range agingBounds {
		if bound.limit > 0 && age < bound.limit {
			return i
		}
	}
	return len(agingBounds) - 1
}
