package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"trade-reconciliation-engine/internal/breaks"
	"trade-reconciliation-engine/internal/matcher"
	"trade-reconciliation-engine/internal/models"
	"trade-reconciliation-engine/internal/store"
	"trade-reconciliation-engine/pkg/logger"
)

var tradeDay = time.Date(2026, 2, 24, 0, 0, 0, 0, time.UTC)

// fakeStores is an in-memory store.Stores good enough for engine tests.
// WithTx snapshots state before running fn and restores it on error, so
// rollback behavior is observable.
type fakeStores struct {
	trades map[int64]*models.Trade
	order  []int64
	breaks []*models.TradeBreak

	nextBreakID    int64
	normalizations int
	commits        int
	rollbacks      int

	markMatchedErr error
	insertBreakErr error
}

var _ store.Stores = (*fakeStores)(nil)

func newFakeStores() *fakeStores {
	return &fakeStores{trades: make(map[int64]*models.Trade)}
}

func (f *fakeStores) addTrade(t *models.Trade) {
	f.trades[t.ID] = t
	f.order = append(f.order, t.ID)
}

func (f *fakeStores) Trades() store.TradeStore           { return f }
func (f *fakeStores) Breaks() store.BreakStore           { return f }
func (f *fakeStores) Comments() store.CommentStore       { return nil }
func (f *fakeStores) Runs() store.RunStore               { return nil }
func (f *fakeStores) Rules() store.RuleStore             { return nil }
func (f *fakeStores) Predictions() store.PredictionStore { return nil }
func (f *fakeStores) Reports() store.ReportStore         { return nil }

func (f *fakeStores) WithTx(ctx context.Context, fn func(store.Stores) error) error {
	savedTrades := make(map[int64]*models.Trade, len(f.trades))
	for id, t := range f.trades {
		copied := *t
		savedTrades[id] = &copied
	}
	savedBreaks := append([]*models.TradeBreak(nil), f.breaks...)
	savedNextID := f.nextBreakID

	if err := fn(f); err != nil {
		f.trades = savedTrades
		f.breaks = savedBreaks
		f.nextBreakID = savedNextID
		f.rollbacks++
		return err
	}
	f.commits++
	return nil
}

func (f *fakeStores) UpsertTrade(ctx context.Context, t *models.Trade) (bool, error) {
	_, exists := f.trades[t.ID]
	f.addTrade(t)
	return !exists, nil
}

func (f *fakeStores) GetTradeByID(ctx context.Context, id int64) (*models.Trade, error) {
	t, ok := f.trades[id]
	if !ok {
		return nil, fmt.Errorf("trade %d not found", id)
	}
	return t, nil
}

func (f *fakeStores) GetUnmatchedTrades(ctx context.Context, sourceSystem string, tradeDate time.Time) ([]*models.Trade, error) {
	day := tradeDate.UTC()
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	var result []*models.Trade
	for _, id := range f.order {
		t := f.trades[id]
		if t.SourceSystem != sourceSystem || t.IsMatched {
			continue
		}
		if t.TradeTimestamp.Before(start) || !t.TradeTimestamp.Before(end) {
			continue
		}
		result = append(result, t)
	}
	return result, nil
}

func (f *fakeStores) MarkMatched(ctx context.Context, tradeID, counterpartID int64, confidence float64) error {
	if f.markMatchedErr != nil {
		return f.markMatchedErr
	}
	t, ok := f.trades[tradeID]
	if !ok {
		return fmt.Errorf("trade %d not found", tradeID)
	}
	t.IsMatched = true
	t.MatchedTradeID = &counterpartID
	t.MatchConfidence = &confidence
	return nil
}

func (f *fakeStores) UpdateNormalization(ctx context.Context, tradeID int64, symbol string, counterpartyNormalized *string) error {
	t, ok := f.trades[tradeID]
	if !ok {
		return fmt.Errorf("trade %d not found", tradeID)
	}
	t.Symbol = symbol
	t.CounterpartyNormalized = counterpartyNormalized
	f.normalizations++
	return nil
}

func (f *fakeStores) CountTrades(ctx context.Context) (int64, error) {
	return int64(len(f.trades)), nil
}

func (f *fakeStores) ListLabeledTrades(ctx context.Context) ([]store.LabeledTrade, error) {
	labeled := make([]store.LabeledTrade, 0, len(f.order))
	for _, id := range f.order {
		labeled = append(labeled, store.LabeledTrade{
			Trade:    *f.trades[id],
			HasBreak: f.tradeHasBreak(id),
		})
	}
	return labeled, nil
}

func (f *fakeStores) tradeHasBreak(tradeID int64) bool {
	for _, brk := range f.breaks {
		if brk.TradeID == tradeID {
			return true
		}
	}
	return false
}

func (f *fakeStores) InsertBreak(ctx context.Context, brk *models.TradeBreak) error {
	if f.insertBreakErr != nil {
		return f.insertBreakErr
	}
	f.nextBreakID++
	brk.ID = f.nextBreakID
	f.breaks = append(f.breaks, brk)
	return nil
}

func (f *fakeStores) GetBreakByID(ctx context.Context, id int64) (*models.TradeBreak, error) {
	for _, brk := range f.breaks {
		if brk.ID == id {
			return brk, nil
		}
	}
	return nil, fmt.Errorf("break %d not found", id)
}

func (f *fakeStores) ListBreaks(ctx context.Context, filter store.BreakFilter) ([]*models.TradeBreak, error) {
	return f.breaks, nil
}

func (f *fakeStores) ListOverdueBreaks(ctx context.Context, asOf time.Time) ([]*models.TradeBreak, error) {
	return nil, nil
}

func (f *fakeStores) UpdateAssignment(ctx context.Context, breakID int64, assignee string, escalationTime time.Time) error {
	return nil
}

func (f *fakeStores) MarkEscalated(ctx context.Context, breakID int64, escalatedTo string) error {
	return nil
}

func (f *fakeStores) UpdateStatus(ctx context.Context, breakID int64, status models.BreakStatus) error {
	return nil
}

func (f *fakeStores) ResolveBreak(ctx context.Context, breakID int64, resolution store.BreakResolution) error {
	return nil
}

func testLogger(t *testing.T) logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(&logger.Config{
		Level:  logger.ErrorLevel,
		Format: logger.TextFormat,
		Output: logger.StderrOutput,
	})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	return log
}

func createEngine(t *testing.T, stores store.Stores) *Engine {
	t.Helper()
	m, err := matcher.NewMatcher(nil)
	if err != nil {
		t.Fatalf("NewMatcher() error = %v", err)
	}
	return NewEngine(stores, m, breaks.NewDeriver(breaks.DefaultSLAPolicy()), testLogger(t))
}

func createEngineTrade(id int64, source string, quantity, price float64, counterparty string) *models.Trade {
	trade := models.NewTrade(source, fmt.Sprintf("%s-%d", source, id), "AAPL",
		models.TradeSideBuy, decimal.NewFromFloat(quantity), decimal.NewFromFloat(price),
		tradeDay.Add(14*time.Hour+30*time.Minute))
	trade.ID = id
	if counterparty != "" {
		trade.Counterparty = &counterparty
	}
	return trade
}

func reconcile(t *testing.T, e *Engine, runID *int64) *Stats {
	t.Helper()
	stats, err := e.Reconcile(context.Background(), Request{
		TradeDate: tradeDay,
		Source1:   models.SourceOMS,
		Source2:   models.SourceCustodian,
		RunID:     runID,
	})
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	return stats
}

func TestReconcile_PairsIdenticalTrades(t *testing.T) {
	stores := newFakeStores()
	t1 := createEngineTrade(1, models.SourceOMS, 100, 200.00, "Goldman Sachs LLC")
	t2 := createEngineTrade(2, models.SourceCustodian, 100, 200.00, "Goldman Sachs LLC")
	stores.addTrade(t1)
	stores.addTrade(t2)

	stats := reconcile(t, createEngine(t, stores), nil)

	if stats.TotalTrades != 2 || stats.AutoMatched != 1 || stats.ManualReview != 0 {
		t.Errorf("stats = %+v, want 2 total, 1 auto, 0 review", stats)
	}
	if stats.BreaksIdentified != 0 {
		t.Errorf("identical pair produced %d breaks, want 0", stats.BreaksIdentified)
	}

	if !t1.IsMatched || !t2.IsMatched {
		t.Fatal("both trades should be matched")
	}
	if *t1.MatchedTradeID != 2 || *t2.MatchedTradeID != 1 {
		t.Errorf("match linkage = %d/%d, want cross-linked 2/1",
			*t1.MatchedTradeID, *t2.MatchedTradeID)
	}
	if *t1.MatchConfidence != *t2.MatchConfidence {
		t.Error("pair should share one confidence value")
	}
	if stores.commits != 1 {
		t.Errorf("commits = %d, want exactly 1", stores.commits)
	}
}

func TestReconcile_GreedyOneToOne(t *testing.T) {
	stores := newFakeStores()
	// Two identical source1 trades compete for a single candidate; load
	// order wins and the loser records a missing-trade break.
	stores.addTrade(createEngineTrade(1, models.SourceOMS, 100, 200.00, ""))
	stores.addTrade(createEngineTrade(2, models.SourceOMS, 100, 200.00, ""))
	stores.addTrade(createEngineTrade(3, models.SourceCustodian, 100, 200.00, ""))

	stats := reconcile(t, createEngine(t, stores), nil)

	if stats.AutoMatched != 1 {
		t.Errorf("AutoMatched = %d, want 1", stats.AutoMatched)
	}
	if stats.UnmatchedSource1 != 1 || stats.UnmatchedSource2 != 0 {
		t.Errorf("unmatched = %d/%d, want 1/0", stats.UnmatchedSource1, stats.UnmatchedSource2)
	}

	winner := stores.trades[1]
	if !winner.IsMatched || *winner.MatchedTradeID != 3 {
		t.Error("first-loaded trade should take the candidate")
	}
	if stores.trades[2].IsMatched {
		t.Error("second trade must not share the candidate")
	}
}

func TestReconcile_ReviewBandPairStillMatches(t *testing.T) {
	stores := newFakeStores()
	stores.addTrade(createEngineTrade(1, models.SourceOMS, 100, 199.10, ""))
	stores.addTrade(createEngineTrade(2, models.SourceCustodian, 105, 199.10, ""))

	runID := int64(42)
	stats := reconcile(t, createEngine(t, stores), &runID)

	if stats.ManualReview != 1 || stats.AutoMatched != 0 {
		t.Errorf("stats = %+v, want 1 manual review", stats)
	}
	if stats.BreaksIdentified != 1 || len(stores.breaks) != 1 {
		t.Fatalf("breaks = %d, want 1 quantity break", len(stores.breaks))
	}

	brk := stores.breaks[0]
	if brk.BreakType != models.BreakTypeQuantityMismatch {
		t.Errorf("BreakType = %v, want quantity mismatch", brk.BreakType)
	}
	if brk.RunID == nil || *brk.RunID != 42 {
		t.Errorf("RunID = %v, want 42", brk.RunID)
	}
	if !stores.trades[1].IsMatched {
		t.Error("review-band pair should still be marked matched")
	}
}

func TestReconcile_MissingTradesBothDirections(t *testing.T) {
	stores := newFakeStores()
	oms := createEngineTrade(1, models.SourceOMS, 100, 200.00, "")
	cust := createEngineTrade(2, models.SourceCustodian, 5, 900.00, "")
	cust.Symbol = "TSLA"
	cust.Side = models.TradeSideSell
	stores.addTrade(oms)
	stores.addTrade(cust)

	stats := reconcile(t, createEngine(t, stores), nil)

	if stats.UnmatchedSource1 != 1 || stats.UnmatchedSource2 != 1 {
		t.Fatalf("unmatched = %d/%d, want 1/1", stats.UnmatchedSource1, stats.UnmatchedSource2)
	}
	if stats.BreaksIdentified != 2 || len(stores.breaks) != 2 {
		t.Fatalf("breaks = %d, want 2 missing-trade breaks", len(stores.breaks))
	}

	if stores.breaks[0].ExpectedValue != "Trade in CUSTODIAN" {
		t.Errorf("break[0] expected = %q, want counterpart in CUSTODIAN",
			stores.breaks[0].ExpectedValue)
	}
	if stores.breaks[1].ExpectedValue != "Trade in OMS" {
		t.Errorf("break[1] expected = %q, want counterpart in OMS",
			stores.breaks[1].ExpectedValue)
	}
	for _, brk := range stores.breaks {
		if brk.BreakType != models.BreakTypeMissingTrade {
			t.Errorf("BreakType = %v, want missing trade", brk.BreakType)
		}
	}
}

func TestReconcile_NormalizesBeforeMatching(t *testing.T) {
	stores := newFakeStores()
	t1 := createEngineTrade(1, models.SourceOMS, 100, 200.00, "Goldman Sachs & Co. LLC")
	t1.Symbol = "BRK.B"
	t2 := createEngineTrade(2, models.SourceCustodian, 100, 200.00, "GOLDMAN SACHS")
	t2.Symbol = " brk.b"
	stores.addTrade(t1)
	stores.addTrade(t2)

	stats := reconcile(t, createEngine(t, stores), nil)

	if stats.AutoMatched != 1 {
		t.Fatalf("AutoMatched = %d, want 1 (stats %+v)", stats.AutoMatched, stats)
	}
	if stats.BreaksIdentified != 0 {
		t.Errorf("alias counterparties produced %d breaks, want 0", stats.BreaksIdentified)
	}

	if t1.Symbol != "BRK" || t2.Symbol != "BRK" {
		t.Errorf("symbols = %q/%q, want both BRK", t1.Symbol, t2.Symbol)
	}
	if t1.CounterpartyNormalized == nil || *t1.CounterpartyNormalized != "GOLDMAN SACHS" {
		t.Errorf("normalized counterparty = %v, want GOLDMAN SACHS", t1.CounterpartyNormalized)
	}
	if stores.normalizations == 0 {
		t.Error("normalization changes should be persisted")
	}
}

func TestReconcile_PersistenceErrorRollsBack(t *testing.T) {
	stores := newFakeStores()
	stores.addTrade(createEngineTrade(1, models.SourceOMS, 100, 200.00, ""))
	stores.addTrade(createEngineTrade(2, models.SourceCustodian, 100, 200.00, ""))
	stores.markMatchedErr = fmt.Errorf("connection reset")

	_, err := createEngine(t, stores).Reconcile(context.Background(), Request{
		TradeDate: tradeDay,
		Source1:   models.SourceOMS,
		Source2:   models.SourceCustodian,
	})
	if err == nil {
		t.Fatal("Reconcile should propagate the persistence error")
	}

	if stores.rollbacks != 1 || stores.commits != 0 {
		t.Errorf("tx outcome = %d rollbacks/%d commits, want 1/0",
			stores.rollbacks, stores.commits)
	}
	if len(stores.breaks) != 0 {
		t.Errorf("rolled-back pass left %d breaks behind", len(stores.breaks))
	}
	if stores.trades[1].IsMatched || stores.trades[2].IsMatched {
		t.Error("rolled-back pass left match state behind")
	}
}

func TestReconcile_WindowExcludesOtherDays(t *testing.T) {
	stores := newFakeStores()
	stores.addTrade(createEngineTrade(1, models.SourceOMS, 100, 200.00, ""))
	offDay := createEngineTrade(2, models.SourceCustodian, 100, 200.00, "")
	offDay.TradeTimestamp = tradeDay.Add(25 * time.Hour)
	stores.addTrade(offDay)

	stats := reconcile(t, createEngine(t, stores), nil)

	if stats.TotalTrades != 1 {
		t.Errorf("TotalTrades = %d, want 1 (next-day trade excluded)", stats.TotalTrades)
	}
	if stats.UnmatchedSource1 != 1 {
		t.Errorf("UnmatchedSource1 = %d, want 1", stats.UnmatchedSource1)
	}
	if offDay.IsMatched {
		t.Error("next-day trade must not participate")
	}
}

func TestReconcile_EveryTradeMatchedOrFlagged(t *testing.T) {
	stores := newFakeStores()
	stores.addTrade(createEngineTrade(1, models.SourceOMS, 100, 200.00, "Goldman Sachs"))
	stores.addTrade(createEngineTrade(2, models.SourceOMS, 250, 99.10, ""))
	stores.addTrade(createEngineTrade(3, models.SourceOMS, 10, 55.00, ""))
	stores.addTrade(createEngineTrade(4, models.SourceCustodian, 100, 200.00, "Goldman Sachs"))
	stores.addTrade(createEngineTrade(5, models.SourceCustodian, 250, 99.10, ""))

	reconcile(t, createEngine(t, stores), nil)

	missing := make(map[int64]bool)
	for _, brk := range stores.breaks {
		if brk.BreakType == models.BreakTypeMissingTrade {
			missing[brk.TradeID] = true
		}
	}

	for id, trade := range stores.trades {
		if !trade.IsMatched && !missing[id] {
			t.Errorf("trade %d neither matched nor flagged missing", id)
		}
		if trade.IsMatched && missing[id] {
			t.Errorf("trade %d both matched and flagged missing", id)
		}
	}
}
