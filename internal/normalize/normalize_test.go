package normalize

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestSymbol(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"plain symbol", "AAPL", "AAPL"},
		{"lowercase with padding", " aapl ", "AAPL"},
		{"exchange suffix stripped", "7203.T", "7203"},
		{"long exchange suffix stripped", "VOD.LON", "VOD"},
		{"share class looks like a suffix", "BRK.B", "BRK"},
		{"only one trailing suffix stripped", "ABC.DE.FG", "ABC.DE"},
		{"internal spaces removed", "BRK B", "BRKB"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Symbol(tt.input); got != tt.expected {
				t.Errorf("Symbol(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestSymbol_Idempotent(t *testing.T) {
	inputs := []string{"AAPL", " msft.l ", "BRK.B", "7203.T"}
	for _, input := range inputs {
		once := Symbol(input)
		if twice := Symbol(once); twice != once {
			t.Errorf("Symbol not idempotent for %q: %q != %q", input, once, twice)
		}
	}
}

func TestCounterparty(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"plain name", "Goldman Sachs", "GOLDMAN SACHS"},
		{"llc suffix dropped", "Goldman Sachs LLC", "GOLDMAN SACHS"},
		{"co with period and ampersand", "Goldman Sachs & Co.", "GOLDMAN SACHS"},
		{"multiple suffixes", "Morgan Stanley & Co. LLC", "MORGAN STANLEY"},
		{"punctuated name", "J.P. Morgan Securities LLC", "J P MORGAN SECURITIES"},
		{"suffix inside a word survives", "Cointegration Partners", "COINTEGRATION PARTNERS"},
		{"sa suffix", "Banco Santander SA", "BANCO SANTANDER"},
		{"whitespace collapsed", "  UBS   Securities  ", "UBS SECURITIES"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Counterparty(tt.input); got != tt.expected {
				t.Errorf("Counterparty(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestCounterparty_AliasesConverge(t *testing.T) {
	// The alias pair from the remediation workflow: both renderings of the
	// same firm normalize to the same canonical name.
	a := Counterparty("Goldman Sachs LLC")
	b := Counterparty("Goldman Sachs")
	if a != b {
		t.Errorf("aliases did not converge: %q vs %q", a, b)
	}
}

func TestAmount(t *testing.T) {
	d := func(s string) *decimal.Decimal {
		v := decimal.RequireFromString(s)
		return &v
	}

	tests := []struct {
		name     string
		input    *decimal.Decimal
		places   int32
		expected string
	}{
		{"nil is zero", nil, 2, "0"},
		{"no rounding needed", d("199.10"), 2, "199.10"},
		{"round down", d("1.234"), 2, "1.23"},
		{"half to even down", d("2.345"), 2, "2.34"},
		{"half to even up", d("2.355"), 2, "2.36"},
		{"integer places", d("2.5"), 0, "2"},
		{"integer places up", d("3.5"), 0, "4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Amount(tt.input, tt.places); !got.Equal(decimal.RequireFromString(tt.expected)) {
				t.Errorf("Amount() = %v, want %v", got.String(), tt.expected)
			}
		})
	}
}

func TestDate(t *testing.T) {
	if got := Date(nil); got != "" {
		t.Errorf("Date(nil) = %q, want empty", got)
	}

	ts := time.Date(2024, 3, 15, 23, 30, 0, 0, time.FixedZone("EST", -5*3600))
	if got := Date(&ts); got != "2024-03-16" {
		t.Errorf("Date() = %q, want 2024-03-16 (UTC calendar date)", got)
	}
}
