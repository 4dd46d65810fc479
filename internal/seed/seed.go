// Package seed generates deterministic demo data: paired OMS and custodian
// trades with a controlled fraction of injected discrepancies, plus the
// default routing rules when the rule table is empty. It exists so a fresh
// database can demonstrate the full match-break-route workflow without live
// source systems.
package seed

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"

	"trade-reconciliation-engine/internal/models"
	"trade-reconciliation-engine/internal/router"
	"trade-reconciliation-engine/internal/store"
	"trade-reconciliation-engine/pkg/errors"
	"trade-reconciliation-engine/pkg/logger"
)

// Config controls one seeding run.
type Config struct {
	// Trades is the number of trade pairs to generate, including the
	// fixed demonstration pair.
	Trades int

	// BreakRate is the fraction of pairs carrying an injected
	// discrepancy, in [0, 1].
	BreakRate float64

	// TradeDate is the UTC calendar day the trades land on. Zero means
	// today.
	TradeDate time.Time

	// Seed drives the generator; equal seeds produce equal data.
	Seed int64
}

// DefaultConfig returns a small demo set: 50 pairs, one fifth discrepant.
func DefaultConfig() Config {
	return Config{
		Trades:    50,
		BreakRate: 0.2,
		Seed:      42,
	}
}

// Validate checks the generation parameters.
func (c Config) Validate() error {
	if c.Trades <= 0 {
		return errors.ValidationError(errors.CodeOutOfRange, "trades", c.Trades, nil).
			WithSuggestion("--trades must be positive")
	}
	if c.BreakRate < 0 || c.BreakRate > 1 {
		return errors.ValidationError(errors.CodeOutOfRange, "break-rate", c.BreakRate, nil).
			WithSuggestion("--break-rate must be between 0 and 1")
	}
	return nil
}

// Result summarizes one seeding run.
type Result struct {
	Pairs         int `json:"pairs"`
	BreakPairs    int `json:"break_pairs"`
	MissingTrades int `json:"missing_trades"`
	Inserted      int `json:"inserted"`
	Duplicates    int `json:"duplicates"`
	RulesSeeded   int `json:"rules_seeded"`
}

// Seeder writes generated demo data through the stores.
type Seeder struct {
	stores store.Stores
	log    logger.Logger
	clock  func() time.Time
}

// NewSeeder creates a Seeder.
func NewSeeder(stores store.Stores, log logger.Logger) *Seeder {
	return &Seeder{
		stores: stores,
		log:    log.WithComponent("seeder"),
		clock:  time.Now,
	}
}

// Seed generates and stores the demo data set. Re-running with the same
// parameters upserts the same trades, so seeding is idempotent.
func (s *Seeder) Seed(ctx context.Context, cfg Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.TradeDate.IsZero() {
		cfg.TradeDate = s.clock().UTC()
	}

	result := &Result{}

	count, err := s.stores.Rules().CountRules(ctx)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		for _, rule := range router.DefaultRules() {
			if err := s.stores.Rules().InsertRule(ctx, rule); err != nil {
				return nil, err
			}
			result.RulesSeeded++
		}
		s.log.WithField("rules", result.RulesSeeded).Info("Routing rules seeded")
	}

	trades, stats := Generate(cfg)
	result.Pairs = stats.Pairs
	result.BreakPairs = stats.BreakPairs
	result.MissingTrades = stats.MissingTrades

	progress := logger.NewProgressTracker(logger.ProgressConfig{
		Operation: "seed_trades",
		Total:     int64(len(trades)),
		Logger:    s.log,
	})
	for _, trade := range trades {
		inserted, err := s.stores.Trades().UpsertTrade(ctx, trade)
		if err != nil {
			progress.CompleteWithError(err)
			return nil, err
		}
		if inserted {
			result.Inserted++
		} else {
			result.Duplicates++
		}
		progress.Increment()
	}
	progress.Complete()

	s.log.WithFields(logger.Fields{
		"pairs":       result.Pairs,
		"break_pairs": result.BreakPairs,
		"inserted":    result.Inserted,
		"trade_date":  cfg.TradeDate.Format("2006-01-02"),
	}).Info("Demo data seeded")

	return result, nil
}

// GenerationStats reports what Generate built.
type GenerationStats struct {
	Pairs         int
	BreakPairs    int
	MissingTrades int
}

// instruments are the demo securities with a plausible price to perturb.
var instruments = []struct {
	symbol    string
	basePrice float64
}{
	{"AAPL", 199.10},
	{"MSFT", 415.50},
	{"GOOGL", 172.30},
	{"AMZN", 183.75},
	{"NVDA", 121.40},
	{"TSLA", 248.90},
	{"JPM", 205.60},
	{"XOM", 114.20},
}

// firms pairs each counterparty's OMS rendering with the custodian's.
// The renderings normalize to the same name, so clean pairs exercise the
// alias handling without producing breaks.
var firms = []struct {
	oms       string
	custodian string
}{
	{"Goldman Sachs & Co.", "GOLDMAN SACHS CO"},
	{"Morgan Stanley LLC", "Morgan Stanley"},
	{"Barclays Capital Inc.", "BARCLAYS CAPITAL"},
	{"UBS Securities LLC", "UBS SECURITIES"},
	{"Citadel Securities LLC", "CITADEL SECURITIES"},
	{"Jane Street Capital LLC", "JANE STREET CAPITAL"},
}

// breakKind enumerates the discrepancies the generator can inject.
type breakKind int

const (
	breakPrice breakKind = iota
	breakQuantity
	breakCounterparty
	breakMissing
	breakKinds
)

// Generate builds the demo trades for the given configuration. It is pure:
// equal configurations yield equal output.
//
// The first pair is always the fixed demonstration pair: AAPL 150 BUY at
// 199.10 against 199.11, a price difference inside the default tolerance
// that must auto-match with no break. Discrepant pairs each perturb exactly
// one field, keeping the pair inside the match band so reconciliation
// surfaces the difference as a break instead of two unmatched trades.
func Generate(cfg Config) ([]*models.Trade, GenerationStats) {
	rng := rand.New(rand.NewSource(cfg.Seed))
	day := cfg.TradeDate.UTC()

	stats := GenerationStats{Pairs: cfg.Trades}
	trades := make([]*models.Trade, 0, cfg.Trades*2)

	oms, cust := demoPair(day)
	trades = append(trades, oms, cust)

	breakPairs := int(math.Round(cfg.BreakRate * float64(cfg.Trades-1)))
	stats.BreakPairs = breakPairs

	for i := 1; i < cfg.Trades; i++ {
		oms, cust := generatePair(rng, day, i)

		if i <= breakPairs {
			kind := breakKind(rng.Intn(int(breakKinds)))
			cust = injectBreak(rng, kind, cust)
			if cust == nil {
				stats.MissingTrades++
			}
		}

		trades = append(trades, oms)
		if cust != nil {
			trades = append(trades, cust)
		}
	}

	return trades, stats
}

// demoPair builds the fixed AAPL pair from the matching documentation: 150
// shares bought at 199.10 and confirmed at 199.11.
func demoPair(day time.Time) (*models.Trade, *models.Trade) {
	qty := decimal.NewFromInt(150)
	ts := time.Date(day.Year(), day.Month(), day.Day(), 14, 30, 0, 0, time.UTC)

	oms := models.NewTrade(models.SourceOMS, "SEED-OMS-000000", "AAPL",
		models.TradeSideBuy, qty, decimal.NewFromFloat(199.10), ts)
	cust := models.NewTrade(models.SourceCustodian, "SEED-CUST-000000", "AAPL",
		models.TradeSideBuy, qty, decimal.NewFromFloat(199.11), ts.Add(45*time.Minute))

	cp := firms[0]
	oms.Counterparty = strptr(cp.oms)
	cust.Counterparty = strptr(cp.custodian)
	fillAmounts(oms)
	fillAmounts(cust)
	return oms, cust
}

// generatePair builds one clean trade pair: same economics, each source's
// own identifier, counterparty rendering and confirmation delay.
func generatePair(rng *rand.Rand, day time.Time, n int) (*models.Trade, *models.Trade) {
	inst := instruments[rng.Intn(len(instruments))]
	firm := firms[rng.Intn(len(firms))]

	side := models.TradeSideBuy
	if rng.Float64() < 0.4 {
		side = models.TradeSideSell
	}

	qty := decimal.NewFromInt(int64(rng.Intn(20)+1) * 25)
	price := decimal.NewFromFloat(inst.basePrice * (0.95 + rng.Float64()*0.1)).Round(2)
	ts := time.Date(day.Year(), day.Month(), day.Day(),
		9+rng.Intn(7), rng.Intn(60), rng.Intn(60), 0, time.UTC)

	oms := models.NewTrade(models.SourceOMS, fmt.Sprintf("SEED-OMS-%06d", n),
		inst.symbol, side, qty, price, ts)
	oms.Counterparty = strptr(firm.oms)

	cust := models.NewTrade(models.SourceCustodian, fmt.Sprintf("SEED-CUST-%06d", n),
		inst.symbol, side, qty, price, ts.Add(time.Duration(rng.Intn(90)+10)*time.Minute))
	cust.Counterparty = strptr(firm.custodian)

	fillAmounts(oms)
	fillAmounts(cust)
	return oms, cust
}

// injectBreak perturbs the custodian side of a pair. A nil return means the
// custodian never reported the trade (a missing-trade break).
func injectBreak(rng *rand.Rand, kind breakKind, cust *models.Trade) *models.Trade {
	switch kind {
	case breakPrice:
		// 2-5 percent off, well past the default tolerance.
		factor := 1.02 + rng.Float64()*0.03
		cust.Price = cust.Price.Mul(decimal.NewFromFloat(factor)).Round(2)
	case breakQuantity:
		// One extra lot: large enough to register at any generated size.
		cust.Quantity = cust.Quantity.Add(decimal.NewFromInt(25))
	case breakCounterparty:
		cust.Counterparty = strptr("Deutsche Bank Securities")
	case breakMissing:
		return nil
	}
	fillAmounts(cust)
	return cust
}

// fillAmounts derives the gross amount so seeded trades resemble connector
// output.
func fillAmounts(trade *models.Trade) {
	trade.GrossAmount = decimal.NewNullDecimal(trade.Quantity.Mul(trade.Price).Round(2))
}

func strptr(s string) *string {
	return &s
}
