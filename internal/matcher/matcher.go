package matcher

import (
	"math"
	"strings"

	"trade-reconciliation-engine/internal/models"
	"trade-reconciliation-engine/internal/normalize"
	"trade-reconciliation-engine/pkg/errors"
)

// MatchScore is the result of scoring one trade pair
type MatchScore struct {
	// Overall is the weighted sum of the field scores, in [0,1]
	Overall float64 `json:"overall"`

	// FieldScores holds the per-field similarity scores keyed by field name
	FieldScores map[string]float64 `json:"field_scores"`

	// IsMatch reports whether the pair qualified at or above the review threshold
	IsMatch bool `json:"is_match"`

	// Confidence classifies the match as auto, review or no_match
	Confidence models.ConfidenceLevel `json:"confidence"`
}

// Matcher scores trade pairs using a weighted per-field comparison. A
// Matcher is immutable after construction and safe for concurrent use.
type Matcher struct {
	config *Config
}

// NewMatcher validates the configuration and returns a Matcher holding its
// own copy of it. A nil configuration uses DefaultConfig.
func NewMatcher(config *Config) (*Matcher, error) {
	if config == nil {
		config = DefaultConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.CategoryConfig, errors.CodeInvalidConfig,
			"invalid matcher configuration")
	}

	return &Matcher{config: config.Clone()}, nil
}

// ComputeMatchScore scores a trade pair. The six comparison fields are
// scored independently, weighted, and summed; the overall score classifies
// the pair against the auto and review thresholds. Swapping the trades
// yields the same score.
func (m *Matcher) ComputeMatchScore(t1, t2 *models.Trade) MatchScore {
	fieldScores := map[string]float64{
		models.FieldSymbol:       matchSymbol(t1.Symbol, t2.Symbol),
		models.FieldTradeDate:    matchTradeDate(t1, t2),
		models.FieldSide:         matchSide(t1.Side, t2.Side),
		models.FieldQuantity:     m.matchQuantity(t1.Quantity.InexactFloat64(), t2.Quantity.InexactFloat64()),
		models.FieldPrice:        m.matchPrice(t1.Price.InexactFloat64(), t2.Price.InexactFloat64()),
		models.FieldCounterparty: matchCounterparty(t1.EffectiveCounterparty(), t2.EffectiveCounterparty()),
	}

	w := m.config.Weights
	overall := fieldScores[models.FieldSymbol]*w.Symbol +
		fieldScores[models.FieldTradeDate]*w.TradeDate +
		fieldScores[models.FieldSide]*w.Side +
		fieldScores[models.FieldQuantity]*w.Quantity +
		fieldScores[models.FieldPrice]*w.Price +
		fieldScores[models.FieldCounterparty]*w.Counterparty

	switch {
	case overall >= m.config.AutoMatchThreshold:
		return MatchScore{Overall: overall, FieldScores: fieldScores, IsMatch: true, Confidence: models.ConfidenceAuto}
	case overall >= m.config.ManualReviewThreshold:
		return MatchScore{Overall: overall, FieldScores: fieldScores, IsMatch: true, Confidence: models.ConfidenceReview}
	default:
		return MatchScore{Overall: overall, FieldScores: fieldScores, IsMatch: false, Confidence: models.ConfidenceNoMatch}
	}
}

// FindBestMatch scores the source trade against every candidate and returns
// the candidate with the highest overall score at or above the review
// threshold. Ties keep the earliest candidate. Returns (nil, nil) when no
// candidate qualifies.
func (m *Matcher) FindBestMatch(source *models.Trade, candidates []*models.Trade) (*models.Trade, *MatchScore) {
	var bestMatch *models.Trade
	var bestScore *MatchScore

	for _, candidate := range candidates {
		score := m.ComputeMatchScore(source, candidate)
		if score.Overall < m.config.ManualReviewThreshold {
			continue
		}
		if bestScore == nil || score.Overall > bestScore.Overall {
			bestMatch = candidate
			s := score
			bestScore = &s
		}
	}

	return bestMatch, bestScore
}

// matchSymbol scores two symbols: 1.0 when equal after normalization,
// otherwise the indel ratio when at least 0.9, otherwise 0.
func matchSymbol(sym1, sym2 string) float64 {
	s1 := normalize.Symbol(sym1)
	s2 := normalize.Symbol(sym2)

	if s1 == "" || s2 == "" {
		return 0.0
	}
	if s1 == s2 {
		return 1.0
	}

	similarity := ratio(s1, s2)
	if similarity >= 0.9 {
		return similarity
	}
	return 0.0
}

// matchTradeDate scores 1.0 when the UTC calendar dates are equal
func matchTradeDate(t1, t2 *models.Trade) float64 {
	if t1.TradeDate() == t2.TradeDate() {
		return 1.0
	}
	return 0.0
}

// matchSide scores 1.0 when the sides are equal ignoring case
func matchSide(s1, s2 models.TradeSide) float64 {
	if strings.EqualFold(string(s1), string(s2)) {
		return 1.0
	}
	return 0.0
}

// matchQuantity scores 1.0 within the absolute tolerance, degrading
// linearly with the relative difference beyond it.
func (m *Matcher) matchQuantity(q1, q2 float64) float64 {
	diff := math.Abs(q1 - q2)
	if diff <= m.config.QuantityTolerance {
		return 1.0
	}

	denom := math.Max(math.Abs(q1), math.Max(math.Abs(q2), 1.0))
	return math.Max(0.0, 1.0-diff/denom)
}

// matchPrice scores 1.0 when equal or within the relative tolerance,
// degrading linearly in units of the tolerance beyond it.
func (m *Matcher) matchPrice(p1, p2 float64) float64 {
	if p1 == p2 {
		return 1.0
	}

	denom := math.Max(math.Abs(p1), math.Max(math.Abs(p2), 1e-9))
	pctDiff := math.Abs(p1-p2) / denom
	if pctDiff <= m.config.PriceTolerancePct {
		return 1.0
	}

	return math.Max(0.0, 1.0-pctDiff/math.Max(m.config.PriceTolerancePct, 1e-9))
}

// matchCounterparty scores counterparty names. Either side missing scores a
// neutral 0.5; equality scores 1.0; otherwise a blend of token-sort,
// token-set and Jaro-Winkler similarity.
func matchCounterparty(cp1, cp2 string) float64 {
	if cp1 == "" || cp2 == "" {
		return 0.5
	}
	if cp1 == cp2 {
		return 1.0
	}

	tokenSort := tokenSortRatio(cp1, cp2)
	tokenSet := tokenSetRatio(cp1, cp2)
	jaro := jaroWinkler(cp1, cp2)

	return tokenSort*0.4 + tokenSet*0.4 + jaro*0.2
}
