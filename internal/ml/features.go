// Package ml extracts break-prediction features from trades, scores them
// with a JSON logistic artifact and fits new artifacts from labeled
// history.
package ml

import (
	"context"
	"sync"

	"trade-reconciliation-engine/internal/models"
)

// Feature keys produced by the extractor. The artifact's feature_names
// decides scoring order; this list is the full extraction vocabulary.
var FeatureKeys = []string{
	"quantity",
	"price",
	"gross_amount",
	"commission_pct",
	"is_high_value",
	"is_large_quantity",
	"is_buy",
	"is_month_end",
	"day_of_week",
	"hour_of_day",
	"source_break_rate",
	"counterparty_break_rate",
}

const (
	highValueThreshold     = 1_000_000
	largeQuantityThreshold = 10_000
	defaultBreakRate       = 0.5
	defaultHourOfDay       = 12
)

// HistoryRates supplies the per-source and per-counterparty break rates
// learned from past reconciliations. store.ReportStore satisfies it.
type HistoryRates interface {
	BreakRateBySource(ctx context.Context, sourceSystem string) (float64, error)
	BreakRateByCounterparty(ctx context.Context, counterparty string) (float64, error)
}

// Extractor turns trades into the fixed-key numeric feature map.
type Extractor struct {
	history HistoryRates
}

// NewExtractor builds an Extractor. A nil history yields the 0.5 prior for
// both break-rate features.
func NewExtractor(history HistoryRates) *Extractor {
	return &Extractor{history: history}
}

// Extract computes the feature map for one trade, fetching break rates
// from history when available.
func (e *Extractor) Extract(ctx context.Context, trade *models.Trade) (map[string]float64, error) {
	sourceRate, counterpartyRate := defaultBreakRate, defaultBreakRate

	if e.history != nil {
		rate, err := e.history.BreakRateBySource(ctx, trade.SourceSystem)
		if err != nil {
			return nil, err
		}
		sourceRate = rate

		if trade.Counterparty != nil && *trade.Counterparty != "" {
			rate, err = e.history.BreakRateByCounterparty(ctx, *trade.Counterparty)
			if err != nil {
				return nil, err
			}
			counterpartyRate = rate
		}
	}

	return TradeFeatures(trade, sourceRate, counterpartyRate), nil
}

// TradeFeatures is the pure feature computation given precomputed break
// rates.
func TradeFeatures(trade *models.Trade, sourceRate, counterpartyRate float64) map[string]float64 {
	quantity := trade.Quantity.InexactFloat64()
	gross := trade.GrossOrNotional().InexactFloat64()

	commission := 0.0
	if trade.Commission.Valid {
		commission = trade.Commission.Decimal.InexactFloat64()
	}
	commissionPct := 0.0
	if gross != 0 {
		commissionPct = commission / gross * 100
	}

	features := map[string]float64{
		"quantity":                quantity,
		"price":                   trade.Price.InexactFloat64(),
		"gross_amount":            gross,
		"commission_pct":          commissionPct,
		"is_high_value":           boolFeature(gross > highValueThreshold),
		"is_large_quantity":       boolFeature(quantity > largeQuantityThreshold),
		"is_buy":                  boolFeature(trade.IsBuy()),
		"is_month_end":            0,
		"day_of_week":             0,
		"hour_of_day":             defaultHourOfDay,
		"source_break_rate":       sourceRate,
		"counterparty_break_rate": counterpartyRate,
	}

	if !trade.TradeTimestamp.IsZero() {
		ts := trade.TradeTimestamp.UTC()
		// Monday 0 through Sunday 6, matching the trained artifacts.
		features["day_of_week"] = float64((int(ts.Weekday()) + 6) % 7)
		features["hour_of_day"] = float64(ts.Hour())
		features["is_month_end"] = boolFeature(ts.Day() >= 28)
	}

	return features
}

func boolFeature(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// CachedRates memoizes a HistoryRates source. Training walks every trade,
// so without the cache each distinct source and counterparty would be
// queried once per trade instead of once per run.
func CachedRates(history HistoryRates) HistoryRates {
	return &cachedRates{
		history:        history,
		sources:        make(map[string]float64),
		counterparties: make(map[string]float64),
	}
}

type cachedRates struct {
	history        HistoryRates
	mu             sync.Mutex
	sources        map[string]float64
	counterparties map[string]float64
}

func (c *cachedRates) BreakRateBySource(ctx context.Context, sourceSystem string) (float64, error) {
	return c.lookup(ctx, c.sources, sourceSystem, c.history.BreakRateBySource)
}

func (c *cachedRates) BreakRateByCounterparty(ctx context.Context, counterparty string) (float64, error) {
	return c.lookup(ctx, c.counterparties, counterparty, c.history.BreakRateByCounterparty)
}

func (c *cachedRates) lookup(ctx context.Context, cache map[string]float64, key string,
	fetch func(context.Context, string) (float64, error)) (float64, error) {

	c.mu.Lock()
	rate, ok := cache[key]
	c.mu.Unlock()
	if ok {
		return rate, nil
	}

	rate, err := fetch(ctx, key)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	cache[key] = rate
	c.mu.Unlock()
	return rate, nil
}
