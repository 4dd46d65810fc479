package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx/types"
	"github.com/shopspring/decimal"

	"trade-reconciliation-engine/pkg/errors"
)

// Well-known source system names. Ingestion registers connectors under these
// names and reconciliation runs reference them as their source pair.
const (
	SourceOMS       = "OMS"
	SourceCustodian = "CUSTODIAN"
)

// Comparison field names shared by the matcher, the break deriver and the
// reporting rollups.
const (
	FieldSymbol         = "symbol"
	FieldTradeDate      = "trade_date"
	FieldSide           = "side"
	FieldQuantity       = "quantity"
	FieldPrice          = "price"
	FieldCounterparty   = "counterparty"
	FieldGrossAmount    = "gross_amount"
	FieldNetAmount      = "net_amount"
	FieldTradeExistence = "trade_existence"
)

// TradeSide represents the direction of a trade
type TradeSide string

const (
	// TradeSideBuy represents a buy
	TradeSideBuy TradeSide = "BUY"
	// TradeSideSell represents a sell
	TradeSideSell TradeSide = "SELL"
)

// String returns the string representation of TradeSide
func (s TradeSide) String() string {
	return string(s)
}

// IsValid checks if the trade side is valid
func (s TradeSide) IsValid() bool {
	return s == TradeSideBuy || s == TradeSideSell
}

// ConfidenceLevel classifies how a scored trade pair qualified
type ConfidenceLevel string

const (
	// ConfidenceAuto marks pairs at or above the auto-match threshold
	ConfidenceAuto ConfidenceLevel = "auto"
	// ConfidenceReview marks pairs that qualified but need manual review
	ConfidenceReview ConfidenceLevel = "review"
	// ConfidenceNoMatch marks pairs below the review threshold
	ConfidenceNoMatch ConfidenceLevel = "no_match"
)

// String returns the string representation of ConfidenceLevel
func (c ConfidenceLevel) String() string {
	return string(c)
}

// Trade represents a trade record from one source system. A trade is
// identified globally by (SourceSystem, SourceTradeID); ingestion creates it,
// the matching orchestrator mutates only the match state, and nothing
// deletes it.
type Trade struct {
	ID                     int64               `json:"id" db:"id"`
	SourceSystem           string              `json:"source_system" db:"source_system"`
	SourceTradeID          string              `json:"source_trade_id" db:"source_trade_id"`
	TradeTimestamp         time.Time           `json:"trade_timestamp" db:"trade_timestamp"`
	SettlementDate         *time.Time          `json:"settlement_date,omitempty" db:"settlement_date"`
	Symbol                 string              `json:"symbol" db:"symbol"`
	SecurityID             *string             `json:"security_id,omitempty" db:"security_id"`
	Side                   TradeSide           `json:"side" db:"side"`
	Quantity               decimal.Decimal     `json:"quantity" db:"quantity"`
	Price                  decimal.Decimal     `json:"price" db:"price"`
	GrossAmount            decimal.NullDecimal `json:"gross_amount,omitempty" db:"gross_amount"`
	NetAmount              decimal.NullDecimal `json:"net_amount,omitempty" db:"net_amount"`
	Currency               string              `json:"currency" db:"currency"`
	Counterparty           *string             `json:"counterparty,omitempty" db:"counterparty"`
	CounterpartyNormalized *string             `json:"counterparty_normalized,omitempty" db:"counterparty_normalized"`
	Account                *string             `json:"account,omitempty" db:"account"`
	Portfolio              *string             `json:"portfolio,omitempty" db:"portfolio"`
	Commission             decimal.NullDecimal `json:"commission,omitempty" db:"commission"`
	Fees                   decimal.NullDecimal `json:"fees,omitempty" db:"fees"`
	RawPayload             types.JSONText      `json:"-" db:"raw_payload"`
	IsMatched              bool                `json:"is_matched" db:"is_matched"`
	MatchedTradeID         *int64              `json:"matched_trade_id,omitempty" db:"matched_trade_id"`
	MatchConfidence        *float64            `json:"match_confidence,omitempty" db:"match_confidence"`
	CreatedAt              time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt              time.Time           `json:"updated_at" db:"updated_at"`
}

// NewTrade creates a new Trade with the required fields and USD as the
// default currency
func NewTrade(sourceSystem, sourceTradeID, symbol string, side TradeSide, quantity, price decimal.Decimal, tradeTime time.Time) *Trade {
	return &Trade{
		SourceSystem:   sourceSystem,
		SourceTradeID:  sourceTradeID,
		Symbol:         symbol,
		Side:           side,
		Quantity:       quantity,
		Price:          price,
		TradeTimestamp: tradeTime,
		Currency:       "USD",
	}
}

// Validate checks the fields every stored trade must carry. Connectors drop
// records that fail this check before insertion.
func (t *Trade) Validate() error {
	if strings.TrimSpace(t.SourceSystem) == "" {
		return errors.ValidationError(errors.CodeMissingField, "source_system", t.SourceSystem, nil)
	}

	if strings.TrimSpace(t.SourceTradeID) == "" {
		return errors.ValidationError(errors.CodeMissingField, "source_trade_id", t.SourceTradeID, nil)
	}

	if strings.TrimSpace(t.Symbol) == "" {
		return errors.ValidationError(errors.CodeMissingField, "symbol", t.Symbol, nil)
	}

	if !t.Side.IsValid() {
		return errors.ValidationError(errors.CodeInvalidData, "side", t.Side.String(), nil)
	}

	if !t.Quantity.IsPositive() {
		return errors.ValidationError(errors.CodeInvalidAmount, "quantity", t.Quantity.String(), nil)
	}

	if !t.Price.IsPositive() {
		return errors.ValidationError(errors.CodeInvalidAmount, "price", t.Price.String(), nil)
	}

	if t.TradeTimestamp.IsZero() {
		return errors.ValidationError(errors.CodeMissingField, "trade_timestamp", "", nil)
	}

	return nil
}

// TradeDate returns the calendar date of the trade timestamp as YYYY-MM-DD
// in UTC
func (t *Trade) TradeDate() string {
	return t.TradeTimestamp.UTC().Format("2006-01-02")
}

// EffectiveCounterparty returns the normalized counterparty when present,
// falling back to the raw value, then to the empty string
func (t *Trade) EffectiveCounterparty() string {
	if t.CounterpartyNormalized != nil && *t.CounterpartyNormalized != "" {
		return *t.CounterpartyNormalized
	}
	if t.Counterparty != nil {
		return *t.Counterparty
	}
	return ""
}

// GrossOrNotional returns the gross amount when recorded, otherwise
// quantity times price
func (t *Trade) GrossOrNotional() decimal.Decimal {
	if t.GrossAmount.Valid {
		return t.GrossAmount.Decimal
	}
	return t.Quantity.Mul(t.Price)
}

// IsBuy returns true if the trade is a buy
func (t *Trade) IsBuy() bool {
	return t.Side == TradeSideBuy
}

// String returns a string representation of the Trade
func (t *Trade) String() string {
	return fmt.Sprintf("Trade{%s/%s %s %s %s @ %s}",
		t.SourceSystem, t.SourceTradeID, t.Side, t.Quantity.String(), t.Symbol, t.Price.String())
}

// Parsing helpers shared by the connectors and the seed generator.

// ParseSide parses a trade side from its common renderings, including the
// single-letter buy/sell indicators used in custodian files
func ParseSide(s string) (TradeSide, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY", "B":
		return TradeSideBuy, nil
	case "SELL", "S":
		return TradeSideSell, nil
	default:
		return "", errors.ValidationError(errors.CodeInvalidData, "side", s, nil)
	}
}

// ParseDecimal parses a decimal value from a string, tolerating currency
// symbols and thousand separators
func ParseDecimal(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, errors.ValidationError(errors.CodeMissingField, "amount", s, nil)
	}

	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, errors.ValidationError(errors.CodeInvalidAmount, "amount", s, err)
	}

	return d, nil
}

// timestampFormats are the layouts source systems have been observed to use
var timestampFormats = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006",
	"20060102",
}

// ParseTimestamp attempts to parse a timestamp using the layouts source
// systems are known to emit
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.ValidationError(errors.CodeMissingField, "timestamp", s, nil)
	}

	var lastErr error
	for _, format := range timestampFormats {
		if ts, err := time.Parse(format, s); err == nil {
			return ts, nil
		} else {
			lastErr = err
		}
	}

	return time.Time{}, errors.ValidationError(errors.CodeInvalidDate, "timestamp", s, lastErr)
}
