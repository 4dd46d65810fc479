// Package ingest pulls trades from the upstream source systems and loads
// them into the store.
//
// Each source is wrapped in a Connector that knows how to reach the system,
// fetch raw records for a date range and normalize them into models.Trade.
// The Orchestrator drives all registered connectors and isolates their
// failures: one broken source never blocks the others.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx/types"
	"github.com/shopspring/decimal"

	"trade-reconciliation-engine/internal/models"
)

// RawTrade is one source record before normalization, keyed by the field
// names the source uses. JSON sources carry json.Number values, CSV sources
// carry strings; the accessors below stringify either.
type RawTrade map[string]interface{}

// Connector is the contract every source system integration implements.
//
// Connect returning a configuration error means the source is not set up in
// this deployment; the orchestrator skips it and records zero rows.
type Connector interface {
	// Name returns the source system name stored on every trade.
	Name() string

	Connect(ctx context.Context) error

	// FetchTrades returns the raw records whose trade date falls in
	// [from, to].
	FetchTrades(ctx context.Context, from, to time.Time) ([]RawTrade, error)

	// NormalizeTrade maps one raw record into the canonical trade shape.
	NormalizeTrade(raw RawTrade) (*models.Trade, error)

	// ValidateTrade reports whether the normalized trade carries every
	// required field. Trades failing validation are dropped, not stored.
	ValidateTrade(t *models.Trade) bool

	Disconnect() error
}

// text returns the first non-empty value among the given keys, stringified
// and trimmed. Lookup is exact first, then case-insensitive, so CSV files
// with unusual header casing still map.
func (r RawTrade) text(keys ...string) string {
	for _, key := range keys {
		if value, ok := r[key]; ok {
			if s := stringify(value); s != "" {
				return s
			}
			continue
		}
		for candidate, value := range r {
			if strings.EqualFold(candidate, key) {
				if s := stringify(value); s != "" {
					return s
				}
				break
			}
		}
	}
	return ""
}

// amount parses the named field as a decimal.
func (r RawTrade) amount(key string) (decimal.Decimal, error) {
	return models.ParseDecimal(r.text(key))
}

// payload renders the raw record as JSON for the trade audit column.
func (r RawTrade) payload() types.JSONText {
	data, err := json.Marshal(r)
	if err != nil {
		return nil
	}
	return types.JSONText(data)
}

func stringify(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case bool:
		if v {
			return "true"
		}
		return "false"
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// optional converts a possibly-empty string into the nullable column shape.
func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// nullAmount parses the named field as a nullable decimal; absent or
// unparseable values stay null.
func nullAmount(raw RawTrade, key string) decimal.NullDecimal {
	value, err := raw.amount(key)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(value)
}
