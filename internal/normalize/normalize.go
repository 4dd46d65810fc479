// Package normalize provides the field normalizers applied to trade data
// before fuzzy matching. All functions are pure, deterministic, and
// idempotent on their own output.
package normalize

import (
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// exchangeSuffixPattern matches one trailing exchange suffix such as
	// .L, .TO or .OQ.
	exchangeSuffixPattern = regexp.MustCompile(`\.[A-Z]{1,4}$`)

	// corporateSuffixPattern matches whole-word corporate suffixes with an
	// optional trailing period anywhere in the name.
	corporateSuffixPattern = regexp.MustCompile(
		`\b(?:INC|INCORPORATED|LLC|LTD|LIMITED|CORP|CORPORATION|CO|LP|LLP|PLC|SA|AG|GMBH|NV|BV)\b\.?`)

	punctuationPattern = regexp.MustCompile(`[^\w\s]`)
	whitespacePattern  = regexp.MustCompile(`\s+`)
)

// Symbol normalizes a security symbol: uppercase, trimmed, one trailing
// exchange suffix stripped, internal spaces removed
func Symbol(symbol string) string {
	if symbol == "" {
		return ""
	}

	normalized := strings.ToUpper(strings.TrimSpace(symbol))
	normalized = exchangeSuffixPattern.ReplaceAllString(normalized, "")
	return strings.ReplaceAll(normalized, " ", "")
}

// Counterparty normalizes a counterparty name: uppercase, corporate
// suffixes dropped, punctuation collapsed to single spaces
func Counterparty(counterparty string) string {
	if counterparty == "" {
		return ""
	}

	text := strings.ToUpper(strings.TrimSpace(counterparty))
	text = corporateSuffixPattern.ReplaceAllString(text, "")
	text = punctuationPattern.ReplaceAllString(text, " ")
	text = whitespacePattern.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// Amount rounds an amount to the given number of decimal places using
// banker's rounding. A nil amount normalizes to zero.
func Amount(amount *decimal.Decimal, places int32) decimal.Decimal {
	if amount == nil {
		return decimal.Zero
	}
	return amount.RoundBank(places)
}

// Date renders a timestamp as its UTC calendar date in YYYY-MM-DD form.
// A nil timestamp normalizes to the empty string.
func Date(ts *time.Time) string {
	if ts == nil {
		return ""
	}
	return ts.UTC().Format("2006-01-02")
}
