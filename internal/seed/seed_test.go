package seed

import (
	"context"
	"strings"
	"testing"
	"time"

	"trade-reconciliation-engine/internal/models"
	"trade-reconciliation-engine/internal/normalize"
	"trade-reconciliation-engine/internal/router"
	"trade-reconciliation-engine/internal/store"
	"trade-reconciliation-engine/pkg/errors"
	"trade-reconciliation-engine/pkg/logger"
)

var seedDay = time.Date(2026, 2, 24, 0, 0, 0, 0, time.UTC)

// fakeStores implements the two stores the seeder touches; everything else
// is unused.
type fakeStores struct {
	trades map[string]*models.Trade
	rules  []*models.RoutingRule
}

func newFakeStores() *fakeStores {
	return &fakeStores{trades: make(map[string]*models.Trade)}
}

func (f *fakeStores) Trades() store.TradeStore           { return f }
func (f *fakeStores) Breaks() store.BreakStore           { return nil }
func (f *fakeStores) Comments() store.CommentStore       { return nil }
func (f *fakeStores) Runs() store.RunStore               { return nil }
func (f *fakeStores) Rules() store.RuleStore             { return f }
func (f *fakeStores) Predictions() store.PredictionStore { return nil }
func (f *fakeStores) Reports() store.ReportStore         { return nil }

func (f *fakeStores) WithTx(ctx context.Context, fn func(store.Stores) error) error {
	return fn(f)
}

func (f *fakeStores) UpsertTrade(ctx context.Context, t *models.Trade) (bool, error) {
	key := t.SourceSystem + "|" + t.SourceTradeID
	_, exists := f.trades[key]
	f.trades[key] = t
	return !exists, nil
}

func (f *fakeStores) GetTradeByID(ctx context.Context, id int64) (*models.Trade, error) {
	return nil, nil
}

func (f *fakeStores) GetUnmatchedTrades(ctx context.Context, sourceSystem string, tradeDate time.Time) ([]*models.Trade, error) {
	return nil, nil
}

func (f *fakeStores) MarkMatched(ctx context.Context, tradeID, counterpartID int64, confidence float64) error {
	return nil
}

func (f *fakeStores) UpdateNormalization(ctx context.Context, tradeID int64, symbol string, counterpartyNormalized *string) error {
	return nil
}

func (f *fakeStores) CountTrades(ctx context.Context) (int64, error) {
	return int64(len(f.trades)), nil
}

func (f *fakeStores) ListLabeledTrades(ctx context.Context) ([]store.LabeledTrade, error) {
	return nil, nil
}

func (f *fakeStores) ListActiveRules(ctx context.Context) ([]*models.RoutingRule, error) {
	return f.rules, nil
}

func (f *fakeStores) InsertRule(ctx context.Context, rule *models.RoutingRule) error {
	f.rules = append(f.rules, rule)
	return nil
}

func (f *fakeStores) CountRules(ctx context.Context) (int64, error) {
	return int64(len(f.rules)), nil
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

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"defaults", DefaultConfig(), false},
		{"zero trades", Config{Trades: 0, BreakRate: 0.2}, true},
		{"negative trades", Config{Trades: -3, BreakRate: 0.2}, true},
		{"negative break rate", Config{Trades: 10, BreakRate: -0.1}, true},
		{"break rate above one", Config{Trades: 10, BreakRate: 1.5}, true},
		{"break rate bounds", Config{Trades: 10, BreakRate: 1.0}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				recErr, ok := errors.As(err)
				if !ok || recErr.Category != errors.CategoryValidation {
					t.Errorf("expected validation error, got %v", err)
				}
			}
		})
	}
}

func TestGenerateDeterministic(t *testing.T) {
	cfg := Config{Trades: 30, BreakRate: 0.3, TradeDate: seedDay, Seed: 7}

	first, firstStats := Generate(cfg)
	second, secondStats := Generate(cfg)

	if firstStats != secondStats {
		t.Fatalf("stats differ: %+v vs %+v", firstStats, secondStats)
	}
	if len(first) != len(second) {
		t.Fatalf("trade counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		a, b := first[i], second[i]
		if a.SourceTradeID != b.SourceTradeID || a.Symbol != b.Symbol ||
			a.Side != b.Side || !a.Quantity.Equal(b.Quantity) ||
			!a.Price.Equal(b.Price) || !a.TradeTimestamp.Equal(b.TradeTimestamp) {
			t.Errorf("trade %d differs: %+v vs %+v", i, a, b)
		}
	}
}

func TestGenerateDemoPair(t *testing.T) {
	trades, _ := Generate(Config{Trades: 1, TradeDate: seedDay, Seed: 1})

	if len(trades) != 2 {
		t.Fatalf("expected demo pair only, got %d trades", len(trades))
	}
	oms, cust := trades[0], trades[1]

	if oms.SourceSystem != models.SourceOMS || cust.SourceSystem != models.SourceCustodian {
		t.Fatalf("unexpected sources %s / %s", oms.SourceSystem, cust.SourceSystem)
	}
	if oms.Symbol != "AAPL" || cust.Symbol != "AAPL" {
		t.Errorf("expected AAPL pair, got %s / %s", oms.Symbol, cust.Symbol)
	}
	if oms.Side != models.TradeSideBuy || cust.Side != models.TradeSideBuy {
		t.Errorf("expected BUY on both sides")
	}
	if !oms.Quantity.Equal(cust.Quantity) || oms.Quantity.String() != "150" {
		t.Errorf("expected quantity 150 on both sides, got %s / %s", oms.Quantity, cust.Quantity)
	}
	if oms.Price.String() != "199.1" || cust.Price.String() != "199.11" {
		t.Errorf("expected prices 199.10 / 199.11, got %s / %s", oms.Price, cust.Price)
	}
	if !oms.GrossAmount.Valid || !cust.GrossAmount.Valid {
		t.Errorf("expected gross amounts on both sides")
	}
	if oms.TradeTimestamp.Format("2006-01-02") != "2026-02-24" {
		t.Errorf("demo pair landed on %s, want 2026-02-24", oms.TradeTimestamp.Format("2006-01-02"))
	}
}

func TestGenerateCleanPairsAlign(t *testing.T) {
	cfg := Config{Trades: 25, BreakRate: 0, TradeDate: seedDay, Seed: 99}
	trades, stats := Generate(cfg)

	if stats.BreakPairs != 0 || stats.MissingTrades != 0 {
		t.Fatalf("break rate zero produced stats %+v", stats)
	}
	if len(trades) != cfg.Trades*2 {
		t.Fatalf("expected %d trades, got %d", cfg.Trades*2, len(trades))
	}

	bySuffix := func(source string) map[string]*models.Trade {
		m := make(map[string]*models.Trade)
		for _, tr := range trades {
			if tr.SourceSystem == source {
				m[suffix(tr.SourceTradeID)] = tr
			}
		}
		return m
	}
	omsTrades, custTrades := bySuffix(models.SourceOMS), bySuffix(models.SourceCustodian)

	for key, oms := range omsTrades {
		cust, ok := custTrades[key]
		if !ok {
			t.Fatalf("no custodian counterpart for %s", oms.SourceTradeID)
		}
		if oms.Symbol != cust.Symbol || oms.Side != cust.Side || !oms.Quantity.Equal(cust.Quantity) {
			t.Errorf("pair %s economics diverge: %s %s %s vs %s %s %s", key,
				oms.Symbol, oms.Side, oms.Quantity, cust.Symbol, cust.Side, cust.Quantity)
		}
		if key != "000000" && !oms.Price.Equal(cust.Price) {
			t.Errorf("pair %s prices diverge: %s vs %s", key, oms.Price, cust.Price)
		}

		omsCP := normalize.Counterparty(*oms.Counterparty)
		custCP := normalize.Counterparty(*cust.Counterparty)
		if omsCP != custCP {
			t.Errorf("pair %s counterparties do not converge: %q vs %q -> %q vs %q",
				key, *oms.Counterparty, *cust.Counterparty, omsCP, custCP)
		}
	}
}

func TestGenerateBreakAccounting(t *testing.T) {
	tests := []struct {
		name       string
		trades     int
		breakRate  float64
		wantBreaks int
	}{
		{"fifth of fifty", 50, 0.2, 10},
		{"half of nine", 9, 0.5, 4},
		{"all pairs", 10, 1.0, 9},
		{"single pair is always clean", 1, 1.0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trades, stats := Generate(Config{
				Trades: tt.trades, BreakRate: tt.breakRate, TradeDate: seedDay, Seed: 3,
			})
			if stats.Pairs != tt.trades {
				t.Errorf("Pairs = %d, want %d", stats.Pairs, tt.trades)
			}
			if stats.BreakPairs != tt.wantBreaks {
				t.Errorf("BreakPairs = %d, want %d", stats.BreakPairs, tt.wantBreaks)
			}
			if want := tt.trades*2 - stats.MissingTrades; len(trades) != want {
				t.Errorf("generated %d trades, want %d", len(trades), want)
			}
		})
	}
}

func TestSeederSeed(t *testing.T) {
	stores := newFakeStores()
	seeder := NewSeeder(stores, testLogger(t))
	cfg := Config{Trades: 20, BreakRate: 0.25, TradeDate: seedDay, Seed: 42}

	result, err := seeder.Seed(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Seed() error: %v", err)
	}

	if want := len(router.DefaultRules()); result.RulesSeeded != want {
		t.Errorf("RulesSeeded = %d, want %d", result.RulesSeeded, want)
	}
	if result.Duplicates != 0 {
		t.Errorf("first run reported %d duplicates", result.Duplicates)
	}
	if result.Inserted != len(stores.trades) {
		t.Errorf("Inserted = %d, stored %d", result.Inserted, len(stores.trades))
	}

	// Re-seeding the same data is a no-op apart from refreshed rows.
	again, err := seeder.Seed(context.Background(), cfg)
	if err != nil {
		t.Fatalf("second Seed() error: %v", err)
	}
	if again.RulesSeeded != 0 {
		t.Errorf("second run re-seeded %d rules", again.RulesSeeded)
	}
	if again.Inserted != 0 || again.Duplicates != result.Inserted {
		t.Errorf("second run inserted %d, duplicates %d; want 0 inserted, %d duplicates",
			again.Inserted, again.Duplicates, result.Inserted)
	}
}

func TestSeederSeedRejectsBadConfig(t *testing.T) {
	seeder := NewSeeder(newFakeStores(), testLogger(t))

	_, err := seeder.Seed(context.Background(), Config{Trades: 0})
	if err == nil {
		t.Fatal("expected validation error")
	}
	recErr, ok := errors.As(err)
	if !ok || recErr.Category != errors.CategoryValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSeederDefaultsTradeDate(t *testing.T) {
	stores := newFakeStores()
	seeder := NewSeeder(stores, testLogger(t))
	seeder.clock = func() time.Time { return seedDay.Add(10 * time.Hour) }

	if _, err := seeder.Seed(context.Background(), Config{Trades: 2, Seed: 1}); err != nil {
		t.Fatalf("Seed() error: %v", err)
	}
	for _, tr := range stores.trades {
		if got := tr.TradeTimestamp.UTC().Format("2006-01-02"); got != "2026-02-24" {
			t.Errorf("trade %s landed on %s, want clock day", tr.SourceTradeID, got)
		}
	}
}

func suffix(sourceTradeID string) string {
	i := strings.LastIndex(sourceTradeID, "-")
	return sourceTradeID[i+1:]
}
