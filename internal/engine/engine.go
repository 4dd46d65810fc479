// Package engine pairs trades between two source systems and records the
// breaks the pairing uncovers.
//
// A reconciliation pass is greedy and one-to-one: source1 trades are
// visited in load order, each takes the best-scoring available source2
// candidate at or above the review threshold, and a taken candidate leaves
// the pool. Everything the pass writes (match state, breaks) lands in one
// transaction, so a failed pass leaves no partial state behind.
package engine

import (
	"context"
	"time"

	"trade-reconciliation-engine/internal/breaks"
	"trade-reconciliation-engine/internal/matcher"
	"trade-reconciliation-engine/internal/models"
	"trade-reconciliation-engine/internal/normalize"
	"trade-reconciliation-engine/internal/store"
	"trade-reconciliation-engine/pkg/logger"
)

// Request identifies one reconciliation pass: a UTC trade date and the two
// source systems to pair. RunID, when set, links derived breaks to their
// run record.
type Request struct {
	TradeDate time.Time
	Source1   string
	Source2   string
	RunID     *int64
}

// Stats summarizes one reconciliation pass.
type Stats struct {
	TotalTrades      int                          `json:"total_trades"`
	AutoMatched      int                          `json:"auto_matched"`
	ManualReview     int                          `json:"manual_review"`
	BreaksIdentified int                          `json:"breaks_identified"`
	UnmatchedSource1 int                          `json:"unmatched_source1"`
	UnmatchedSource2 int                          `json:"unmatched_source2"`
	BreaksBySeverity map[models.BreakSeverity]int `json:"breaks_by_severity,omitempty"`
}

// MatchedPairs returns how many trade pairs the pass matched.
func (s *Stats) MatchedPairs() int {
	return s.AutoMatched + s.ManualReview
}

// countBreak tallies one recorded break into the totals.
func (s *Stats) countBreak(severity models.BreakSeverity) {
	if s.BreaksBySeverity == nil {
		s.BreaksBySeverity = make(map[models.BreakSeverity]int)
	}
	s.BreaksBySeverity[severity]++
	s.BreaksIdentified++
}

// Engine wires the matcher and break deriver to storage.
type Engine struct {
	stores  store.Stores
	matcher *matcher.Matcher
	deriver *breaks.Deriver
	log     logger.Logger
}

// NewEngine builds an Engine. The logger is scoped to the engine component.
func NewEngine(stores store.Stores, m *matcher.Matcher, d *breaks.Deriver, log logger.Logger) *Engine {
	return &Engine{
		stores:  stores,
		matcher: m,
		deriver: d,
		log:     log.WithComponent("engine"),
	}
}

// Reconcile runs one pass for the request's trade date and source pair.
// All writes share a single transaction; any persistence error rolls the
// whole pass back.
func (e *Engine) Reconcile(ctx context.Context, req Request) (*Stats, error) {
	stats := &Stats{}

	err := e.stores.WithTx(ctx, func(tx store.Stores) error {
		trades1, err := tx.Trades().GetUnmatchedTrades(ctx, req.Source1, req.TradeDate)
		if err != nil {
			return err
		}
		trades2, err := tx.Trades().GetUnmatchedTrades(ctx, req.Source2, req.TradeDate)
		if err != nil {
			return err
		}

		stats.TotalTrades = len(trades1) + len(trades2)
		e.log.WithFields(logger.Fields{
			"trade_date":   req.TradeDate.UTC().Format("2006-01-02"),
			"source1":      req.Source1,
			"source2":      req.Source2,
			"source1_size": len(trades1),
			"source2_size": len(trades2),
		}).Info("starting reconciliation pass")

		if err := e.normalizeTrades(ctx, tx, trades1); err != nil {
			return err
		}
		if err := e.normalizeTrades(ctx, tx, trades2); err != nil {
			return err
		}

		taken := make(map[int64]bool, len(trades2))

		for _, t1 := range trades1 {
			candidates := availableCandidates(trades2, taken)
			best, score := e.matcher.FindBestMatch(t1, candidates)
			if best == nil {
				continue
			}

			if err := tx.Trades().MarkMatched(ctx, t1.ID, best.ID, score.Overall); err != nil {
				return err
			}
			if err := tx.Trades().MarkMatched(ctx, best.ID, t1.ID, score.Overall); err != nil {
				return err
			}
			markPaired(t1, best, score.Overall)
			taken[best.ID] = true

			switch score.Confidence {
			case models.ConfidenceAuto:
				stats.AutoMatched++
			case models.ConfidenceReview:
				stats.ManualReview++
			}

			for _, brk := range e.deriver.DeriveBreaks(t1, best, score) {
				brk.RunID = req.RunID
				if err := tx.Breaks().InsertBreak(ctx, brk); err != nil {
					return err
				}
				stats.countBreak(brk.Severity)
			}
		}

		for _, t1 := range trades1 {
			if t1.IsMatched {
				continue
			}
			brk, err := e.recordMissing(ctx, tx, t1, req.Source2, req.RunID)
			if err != nil {
				return err
			}
			stats.UnmatchedSource1++
			stats.countBreak(brk.Severity)
		}
		for _, t2 := range trades2 {
			if taken[t2.ID] {
				continue
			}
			brk, err := e.recordMissing(ctx, tx, t2, req.Source1, req.RunID)
			if err != nil {
				return err
			}
			stats.UnmatchedSource2++
			stats.countBreak(brk.Severity)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	e.log.WithFields(logger.Fields{
		"auto_matched":  stats.AutoMatched,
		"manual_review": stats.ManualReview,
		"breaks":        stats.BreaksIdentified,
		"unmatched_1":   stats.UnmatchedSource1,
		"unmatched_2":   stats.UnmatchedSource2,
	}).Info("reconciliation pass complete")

	return stats, nil
}

// normalizeTrades canonicalizes comparison fields in place and persists
// every trade the canonicalization changed. Symbols normalize
// unconditionally; the normalized counterparty is only filled when absent
// so an upstream-provided value survives.
func (e *Engine) normalizeTrades(ctx context.Context, tx store.Stores, trades []*models.Trade) error {
	for _, trade := range trades {
		changed := false

		if symbol := normalize.Symbol(trade.Symbol); symbol != trade.Symbol {
			trade.Symbol = symbol
			changed = true
		}
		if trade.Counterparty != nil &&
			(trade.CounterpartyNormalized == nil || *trade.CounterpartyNormalized == "") {
			normalized := normalize.Counterparty(*trade.Counterparty)
			trade.CounterpartyNormalized = &normalized
			changed = true
		}

		if !changed {
			continue
		}
		if err := tx.Trades().UpdateNormalization(ctx, trade.ID, trade.Symbol, trade.CounterpartyNormalized); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) recordMissing(ctx context.Context, tx store.Stores, trade *models.Trade, expectedSource string, runID *int64) (*models.TradeBreak, error) {
	brk := e.deriver.MissingTradeBreak(trade, expectedSource)
	brk.RunID = runID
	if err := tx.Breaks().InsertBreak(ctx, brk); err != nil {
		return nil, err
	}
	return brk, nil
}

func availableCandidates(trades []*models.Trade, taken map[int64]bool) []*models.Trade {
	candidates := make([]*models.Trade, 0, len(trades))
	for _, t := range trades {
		if !taken[t.ID] {
			candidates = append(candidates, t)
		}
	}
	return candidates
}

func markPaired(t1, t2 *models.Trade, confidence float64) {
	id1, id2 := t1.ID, t2.ID
	t1.IsMatched = true
	t1.MatchedTradeID = &id2
	t1.MatchConfidence = &confidence
	t2.IsMatched = true
	t2.MatchedTradeID = &id1
	t2.MatchConfidence = &confidence
}
