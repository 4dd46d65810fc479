// Package breaks turns scored trade pairs into field-level trade breaks.
//
// The matcher reports how well each comparison field agrees; this package
// decides which disagreements are worth an exception record, grades their
// severity, and stamps the SLA deadline the operations workflow runs on.
package breaks

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"trade-reconciliation-engine/internal/matcher"
	"trade-reconciliation-engine/internal/models"
)

// fieldAgreementThreshold is the per-field score at or above which two
// values count as reconciled even when not byte-identical, for example a
// price inside the configured tolerance.
const fieldAgreementThreshold = 0.99

// SLAPolicy maps break severity to the time operations has to act before
// the break counts as overdue.
type SLAPolicy struct {
	Critical time.Duration
	High     time.Duration
	Medium   time.Duration
	Low      time.Duration
}

// DefaultSLAPolicy returns the operational defaults: 30 minutes for
// CRITICAL, 2 hours for HIGH, 8 hours for MEDIUM and LOW.
func DefaultSLAPolicy() SLAPolicy {
	return SLAPolicy{
		Critical: 30 * time.Minute,
		High:     2 * time.Hour,
		Medium:   8 * time.Hour,
		Low:      8 * time.Hour,
	}
}

// Validate checks that every severity has a positive SLA window.
func (p SLAPolicy) Validate() error {
	for _, window := range []struct {
		name string
		d    time.Duration
	}{
		{"critical", p.Critical},
		{"high", p.High},
		{"medium", p.Medium},
		{"low", p.Low},
	} {
		if window.d <= 0 {
			return fmt.Errorf("sla window for %s must be positive, got %v", window.name, window.d)
		}
	}
	return nil
}

// Deadline returns the SLA deadline for a break of the given severity
// opened at openedAt.
func (p SLAPolicy) Deadline(severity models.BreakSeverity, openedAt time.Time) time.Time {
	switch severity {
	case models.SeverityCritical:
		return openedAt.Add(p.Critical)
	case models.SeverityHigh:
		return openedAt.Add(p.High)
	case models.SeverityMedium:
		return openedAt.Add(p.Medium)
	default:
		return openedAt.Add(p.Low)
	}
}

// Deriver builds TradeBreak records from match scores and from unmatched
// trades. It holds no storage; callers persist what it returns.
type Deriver struct {
	sla   SLAPolicy
	clock func() time.Time
}

// NewDeriver returns a Deriver using the given SLA policy. The policy is
// not validated here; configuration loading validates it once at startup.
func NewDeriver(sla SLAPolicy) *Deriver {
	return &Deriver{sla: sla, clock: time.Now}
}

func (d *Deriver) now() time.Time {
	if d.clock == nil {
		return time.Now().UTC()
	}
	return d.clock().UTC()
}

// DeriveBreaks compares the weighted fields of a matched trade pair and
// returns one break per field that both scored below the agreement
// threshold and differs in raw value. Field scores already inside
// tolerance produce nothing, and neither do raw-equal values whose score
// was dragged down by a missing optional field on the other side.
//
// Counterparty is compared on the raw value, so alias pairs that normalize
// to the same name never surface as breaks (their field score is 1.0).
func (d *Deriver) DeriveBreaks(t1, t2 *models.Trade, score *matcher.MatchScore) []*models.TradeBreak {
	if t1 == nil || t2 == nil || score == nil {
		return nil
	}

	now := d.now()
	counterpartID := t2.ID
	var found []*models.TradeBreak

	for _, field := range matcher.WeightedFields {
		fieldScore, scored := score.FieldScores[field]
		if !scored || fieldScore >= fieldAgreementThreshold {
			continue
		}

		cmp, differs := compareField(field, t1, t2)
		if !differs {
			continue
		}

		severity := severityFor(field, cmp.variance, cmp.variancePct)
		deadline := d.sla.Deadline(severity, now)

		brk := &models.TradeBreak{
			TradeID:            t1.ID,
			CounterpartTradeID: &counterpartID,
			BreakType:          models.MismatchBreakType(field),
			FieldName:          field,
			ExpectedValue:      cmp.expected,
			ActualValue:        cmp.actual,
			VariancePct:        cmp.variancePct,
			Severity:           severity,
			Status:             models.StatusOpen,
			PriorityScore:      1.0 - fieldScore,
			SLADeadline:        &deadline,
			CreatedAt:          now,
		}
		if cmp.variance != nil {
			brk.Variance = decimal.NewNullDecimal(*cmp.variance)
		}
		found = append(found, brk)
	}

	return found
}

// MissingTradeBreak records a trade with no counterpart in the other
// source. expectedSource names the system the counterpart was expected in.
func (d *Deriver) MissingTradeBreak(trade *models.Trade, expectedSource string) *models.TradeBreak {
	now := d.now()
	deadline := d.sla.Deadline(models.SeverityHigh, now)

	return &models.TradeBreak{
		TradeID:       trade.ID,
		BreakType:     models.BreakTypeMissingTrade,
		FieldName:     models.FieldTradeExistence,
		ExpectedValue: fmt.Sprintf("Trade in %s", expectedSource),
		ActualValue:   "Not found",
		Severity:      models.SeverityHigh,
		Status:        models.StatusOpen,
		PriorityScore: 1.0,
		SLADeadline:   &deadline,
		CreatedAt:     now,
	}
}

// fieldComparison carries the rendered values and, for numeric fields, the
// absolute and relative variance of one differing field.
type fieldComparison struct {
	expected    string
	actual      string
	variance    *decimal.Decimal
	variancePct *float64
}

// compareField extracts and compares the raw values of one weighted field.
// The second return is false when the raw values are equal.
func compareField(field string, t1, t2 *models.Trade) (fieldComparison, bool) {
	switch field {
	case models.FieldSymbol:
		return stringComparison(t1.Symbol, t2.Symbol)
	case models.FieldTradeDate:
		return stringComparison(t1.TradeDate(), t2.TradeDate())
	case models.FieldSide:
		return stringComparison(t1.Side.String(), t2.Side.String())
	case models.FieldQuantity:
		return numericComparison(t1.Quantity, t2.Quantity)
	case models.FieldPrice:
		return numericComparison(t1.Price, t2.Price)
	case models.FieldCounterparty:
		return counterpartyComparison(t1.Counterparty, t2.Counterparty)
	default:
		return fieldComparison{}, false
	}
}

func stringComparison(v1, v2 string) (fieldComparison, bool) {
	if v1 == v2 {
		return fieldComparison{}, false
	}
	return fieldComparison{expected: v1, actual: v2}, true
}

func counterpartyComparison(v1, v2 *string) (fieldComparison, bool) {
	if v1 == nil && v2 == nil {
		return fieldComparison{}, false
	}
	var s1, s2 string
	if v1 != nil {
		s1 = *v1
	}
	if v2 != nil {
		s2 = *v2
	}
	return stringComparison(s1, s2)
}

func numericComparison(v1, v2 decimal.Decimal) (fieldComparison, bool) {
	if v1.Equal(v2) {
		return fieldComparison{}, false
	}

	variance := v1.Sub(v2).Abs()
	denom := math.Max(math.Max(v1.Abs().InexactFloat64(), v2.Abs().InexactFloat64()), 1.0)
	pct := variance.InexactFloat64() / denom * 100.0

	return fieldComparison{
		expected:    v1.String(),
		actual:      v2.String(),
		variance:    &variance,
		variancePct: &pct,
	}, true
}

// severityFor grades a differing field. Quantity and side breaks threaten
// settlement and are always CRITICAL; price breaks grade on relative
// variance; everything else is below the money.
func severityFor(field string, variance *decimal.Decimal, variancePct *float64) models.BreakSeverity {
	switch field {
	case models.FieldQuantity, models.FieldSide:
		if variance == nil || variance.IsPositive() {
			return models.SeverityCritical
		}
		return models.SeverityLow
	case models.FieldPrice:
		if variancePct != nil && *variancePct > 1.0 {
			return models.SeverityHigh
		}
		return models.SeverityMedium
	case models.FieldGrossAmount, models.FieldNetAmount:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}
