// Package matcher scores trade pairs across source systems for the
// reconciliation engine.
//
// Matching is a weighted sum of per-field similarity scores over the six
// comparison fields (symbol, trade date, side, quantity, price,
// counterparty). Exact fields score 0 or 1; numeric fields degrade linearly
// outside their tolerance; counterparty names blend token-based and
// Jaro-Winkler string similarity so that "Goldman Sachs LLC" and
// "Goldman Sachs" still pair.
//
// The overall score classifies the pair:
//   - at or above the auto threshold: matched without review
//   - at or above the review threshold: matched, flagged for manual review
//   - below the review threshold: not a match
//
// Example usage:
//
//	m, err := matcher.NewMatcher(matcher.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	score := m.ComputeMatchScore(omsTrade, custodianTrade)
//	if score.IsMatch {
//		...
//	}
package matcher

import (
	"fmt"

	"trade-reconciliation-engine/internal/models"
)

// WeightedFields lists the comparison fields in their canonical order. The
// break deriver iterates this slice so breaks come out in a stable order.
var WeightedFields = []string{
	models.FieldSymbol,
	models.FieldTradeDate,
	models.FieldSide,
	models.FieldQuantity,
	models.FieldPrice,
	models.FieldCounterparty,
}

// FieldWeights defines the relative importance of each comparison field.
// Weights must sum to 1.0.
type FieldWeights struct {
	Symbol       float64 `json:"symbol"`
	TradeDate    float64 `json:"trade_date"`
	Side         float64 `json:"side"`
	Quantity     float64 `json:"quantity"`
	Price        float64 `json:"price"`
	Counterparty float64 `json:"counterparty"`
}

// Validate checks if the field weights are valid
func (w *FieldWeights) Validate() error {
	fields := map[string]float64{
		models.FieldSymbol:       w.Symbol,
		models.FieldTradeDate:    w.TradeDate,
		models.FieldSide:         w.Side,
		models.FieldQuantity:     w.Quantity,
		models.FieldPrice:        w.Price,
		models.FieldCounterparty: w.Counterparty,
	}

	for name, weight := range fields {
		if weight < 0.0 || weight > 1.0 {
			return fmt.Errorf("%s weight must be between 0.0 and 1.0: %f", name, weight)
		}
	}

	total := w.Symbol + w.TradeDate + w.Side + w.Quantity + w.Price + w.Counterparty
	if total < 0.99 || total > 1.01 {
		return fmt.Errorf("weights must sum to 1.0, got %f", total)
	}

	return nil
}

// Config holds the thresholds, tolerances and weights for trade matching.
// Use the factory functions for common scenarios:
//   - DefaultConfig(): the production thresholds
//   - StrictConfig(): tight thresholds and zero tolerances
//   - RelaxedConfig(): loose thresholds for exploratory matching
type Config struct {
	// AutoMatchThreshold is the overall score at which a pair is matched
	// without manual review (0.0 to 1.0)
	AutoMatchThreshold float64 `json:"auto_match_threshold"`

	// ManualReviewThreshold is the overall score at which a pair is matched
	// but flagged for review (0.0 to 1.0, at most AutoMatchThreshold)
	ManualReviewThreshold float64 `json:"manual_review_threshold"`

	// PriceTolerancePct is the relative price difference treated as equal,
	// expressed as a fraction (0.01 = one percent)
	PriceTolerancePct float64 `json:"price_tolerance_pct"`

	// QuantityTolerance is the absolute quantity difference treated as equal
	QuantityTolerance float64 `json:"quantity_tolerance"`

	// Weights are the per-field scoring weights
	Weights FieldWeights `json:"weights"`
}

// DefaultConfig returns the production matching configuration
func DefaultConfig() *Config {
	return &Config{
		AutoMatchThreshold:    0.95,
		ManualReviewThreshold: 0.75,
		PriceTolerancePct:     0.01,
		QuantityTolerance:     0,
		Weights: FieldWeights{
			Symbol:       0.25,
			TradeDate:    0.15,
			Side:         0.15,
			Quantity:     0.20,
			Price:        0.15,
			Counterparty: 0.10,
		},
	}
}

// StrictConfig returns a configuration with tight thresholds and no
// numeric tolerances
func StrictConfig() *Config {
	return &Config{
		AutoMatchThreshold:    0.99,
		ManualReviewThreshold: 0.90,
		PriceTolerancePct:     0,
		QuantityTolerance:     0,
		Weights: FieldWeights{
			Symbol:       0.25,
			TradeDate:    0.15,
			Side:         0.15,
			Quantity:     0.20,
			Price:        0.15,
			Counterparty: 0.10,
		},
	}
}

// RelaxedConfig returns a configuration with loose thresholds for
// exploratory matching
func RelaxedConfig() *Config {
	return &Config{
		AutoMatchThreshold:    0.90,
		ManualReviewThreshold: 0.60,
		PriceTolerancePct:     0.05,
		QuantityTolerance:     1.0,
		Weights: FieldWeights{
			Symbol:       0.25,
			TradeDate:    0.15,
			Side:         0.15,
			Quantity:     0.20,
			Price:        0.15,
			Counterparty: 0.10,
		},
	}
}

// Validate checks if the matching configuration is valid
func (c *Config) Validate() error {
	if c.AutoMatchThreshold <= 0.0 || c.AutoMatchThreshold > 1.0 {
		return fmt.Errorf("auto match threshold must be between 0.0 and 1.0: %f", c.AutoMatchThreshold)
	}

	if c.ManualReviewThreshold <= 0.0 || c.ManualReviewThreshold > 1.0 {
		return fmt.Errorf("manual review threshold must be between 0.0 and 1.0: %f", c.ManualReviewThreshold)
	}

	if c.ManualReviewThreshold > c.AutoMatchThreshold {
		return fmt.Errorf("manual review threshold %f exceeds auto match threshold %f",
			c.ManualReviewThreshold, c.AutoMatchThreshold)
	}

	if c.PriceTolerancePct < 0.0 {
		return fmt.Errorf("price tolerance cannot be negative: %f", c.PriceTolerancePct)
	}

	if c.QuantityTolerance < 0.0 {
		return fmt.Errorf("quantity tolerance cannot be negative: %f", c.QuantityTolerance)
	}

	if err := c.Weights.Validate(); err != nil {
		return fmt.Errorf("invalid weights: %w", err)
	}

	return nil
}

// Clone creates a copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// String returns a human-readable description of the configuration
func (c *Config) String() string {
	return fmt.Sprintf("Config{Auto: %.2f, Review: %.2f, PriceTol: %.4f, QtyTol: %.2f}",
		c.AutoMatchThreshold, c.ManualReviewThreshold, c.PriceTolerancePct, c.QuantityTolerance)
}
