package ml

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"trade-reconciliation-engine/internal/models"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

type fakeHistory struct {
	sourceRate  float64
	cptyRate    float64
	sourceCalls int
	cptyCalls   int
}

func (f *fakeHistory) BreakRateBySource(ctx context.Context, sourceSystem string) (float64, error) {
	f.sourceCalls++
	return f.sourceRate, nil
}

func (f *fakeHistory) BreakRateByCounterparty(ctx context.Context, counterparty string) (float64, error) {
	f.cptyCalls++
	return f.cptyRate, nil
}

func createFeatureTrade(quantity, price float64, ts time.Time) *models.Trade {
	return models.NewTrade(models.SourceOMS, "OMS-1", "AAPL", models.TradeSideBuy,
		decimal.NewFromFloat(quantity), decimal.NewFromFloat(price), ts)
}

func TestTradeFeatures(t *testing.T) {
	// 2026-02-24 is a Tuesday.
	trade := createFeatureTrade(100, 50.25, time.Date(2026, 2, 24, 14, 30, 0, 0, time.UTC))
	trade.Commission = decimal.NewNullDecimal(decimal.NewFromFloat(5.025))

	features := TradeFeatures(trade, 0.12, 0.34)

	want := map[string]float64{
		"quantity":                100,
		"price":                   50.25,
		"gross_amount":            5025,
		"commission_pct":          0.1,
		"is_high_value":           0,
		"is_large_quantity":       0,
		"is_buy":                  1,
		"is_month_end":            0,
		"day_of_week":             1,
		"hour_of_day":             14,
		"source_break_rate":       0.12,
		"counterparty_break_rate": 0.34,
	}
	for key, value := range want {
		if !almostEqual(features[key], value) {
			t.Errorf("features[%s] = %v, want %v", key, features[key], value)
		}
	}
	if len(features) != len(FeatureKeys) {
		t.Errorf("feature count = %d, want %d", len(features), len(FeatureKeys))
	}
}

func TestTradeFeatures_Thresholds(t *testing.T) {
	// Saturday the 28th: month end, high value and large quantity all fire.
	trade := createFeatureTrade(20000, 60, time.Date(2026, 2, 28, 9, 0, 0, 0, time.UTC))
	trade.Side = models.TradeSideSell

	features := TradeFeatures(trade, 0.5, 0.5)

	if features["gross_amount"] != 1_200_000 {
		t.Errorf("gross_amount = %v, want 1200000", features["gross_amount"])
	}
	if features["is_high_value"] != 1 || features["is_large_quantity"] != 1 {
		t.Error("value and quantity thresholds should both fire")
	}
	if features["is_buy"] != 0 {
		t.Error("is_buy = 1 for a sell")
	}
	if features["is_month_end"] != 1 {
		t.Error("day 28 counts as month end")
	}
	if features["day_of_week"] != 5 {
		t.Errorf("day_of_week = %v, want 5 for Saturday", features["day_of_week"])
	}
}

func TestTradeFeatures_ExplicitGrossWins(t *testing.T) {
	trade := createFeatureTrade(100, 50, time.Time{})
	trade.GrossAmount = decimal.NewNullDecimal(decimal.NewFromInt(999))

	features := TradeFeatures(trade, 0.5, 0.5)
	if features["gross_amount"] != 999 {
		t.Errorf("gross_amount = %v, want the stated amount over quantity*price", features["gross_amount"])
	}
}

func TestTradeFeatures_MissingTimestamp(t *testing.T) {
	features := TradeFeatures(createFeatureTrade(10, 10, time.Time{}), 0.5, 0.5)

	if features["day_of_week"] != 0 {
		t.Errorf("day_of_week = %v, want 0", features["day_of_week"])
	}
	if features["hour_of_day"] != 12 {
		t.Errorf("hour_of_day = %v, want noon default", features["hour_of_day"])
	}
	if features["is_month_end"] != 0 {
		t.Errorf("is_month_end = %v, want 0", features["is_month_end"])
	}
}

func TestTradeFeatures_ZeroGrossCommission(t *testing.T) {
	trade := createFeatureTrade(0, 0, time.Time{})
	trade.Commission = decimal.NewNullDecimal(decimal.NewFromInt(5))

	if got := TradeFeatures(trade, 0.5, 0.5)["commission_pct"]; got != 0 {
		t.Errorf("commission_pct = %v, want 0 when gross is 0", got)
	}
}

func TestExtract_UsesHistoryRates(t *testing.T) {
	history := &fakeHistory{sourceRate: 0.25, cptyRate: 0.75}
	trade := createFeatureTrade(100, 50, time.Time{})
	counterparty := "Goldman Sachs"
	trade.Counterparty = &counterparty

	features, err := NewExtractor(history).Extract(context.Background(), trade)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}

	if features["source_break_rate"] != 0.25 {
		t.Errorf("source_break_rate = %v, want 0.25", features["source_break_rate"])
	}
	if features["counterparty_break_rate"] != 0.75 {
		t.Errorf("counterparty_break_rate = %v, want 0.75", features["counterparty_break_rate"])
	}
}

func TestExtract_NoCounterpartySkipsLookup(t *testing.T) {
	history := &fakeHistory{sourceRate: 0.25, cptyRate: 0.75}
	trade := createFeatureTrade(100, 50, time.Time{})

	features, err := NewExtractor(history).Extract(context.Background(), trade)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}

	if features["counterparty_break_rate"] != 0.5 {
		t.Errorf("counterparty_break_rate = %v, want the 0.5 prior", features["counterparty_break_rate"])
	}
	if history.cptyCalls != 0 {
		t.Errorf("counterparty lookups = %d, want 0", history.cptyCalls)
	}
}

func TestExtract_NilHistory(t *testing.T) {
	features, err := NewExtractor(nil).Extract(context.Background(), createFeatureTrade(1, 1, time.Time{}))
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if features["source_break_rate"] != 0.5 || features["counterparty_break_rate"] != 0.5 {
		t.Error("nil history should yield the 0.5 prior for both rates")
	}
}

func TestCachedRates(t *testing.T) {
	history := &fakeHistory{sourceRate: 0.2, cptyRate: 0.8}
	cached := CachedRates(history)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		rate, err := cached.BreakRateBySource(ctx, "OMS")
		if err != nil {
			t.Fatalf("BreakRateBySource() error = %v", err)
		}
		if rate != 0.2 {
			t.Errorf("rate = %v, want 0.2", rate)
		}
	}
	if _, err := cached.BreakRateByCounterparty(ctx, "Goldman"); err != nil {
		t.Fatalf("BreakRateByCounterparty() error = %v", err)
	}
	if _, err := cached.BreakRateByCounterparty(ctx, "Goldman"); err != nil {
		t.Fatalf("BreakRateByCounterparty() error = %v", err)
	}

	if history.sourceCalls != 1 {
		t.Errorf("source fetches = %d, want 1", history.sourceCalls)
	}
	if history.cptyCalls != 1 {
		t.Errorf("counterparty fetches = %d, want 1", history.cptyCalls)
	}
}
