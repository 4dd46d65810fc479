package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"trade-reconciliation-engine/internal/models"
	"trade-reconciliation-engine/pkg/errors"
	"trade-reconciliation-engine/pkg/logger"
)

func testLogger(t *testing.T) logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(&logger.Config{
		Level:  logger.ErrorLevel,
		Format: logger.TextFormat,
		Output: logger.StderrOutput,
	})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	return log
}

// omsPayload is the wire shape the OMS trades endpoint returns.
type omsPayload struct {
	Trades []map[string]interface{} `json:"trades"`
}

func createOMSServer(t *testing.T, trades []map[string]interface{}, requests *[]*http.Request) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests != nil {
			*requests = append(*requests, r.Clone(r.Context()))
		}
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case omsTradesPath:
			w.Header().Set("Content-Type", "application/json")
			if err := json.NewEncoder(w).Encode(omsPayload{Trades: trades}); err != nil {
				t.Errorf("encode payload: %v", err)
			}
		default:
			http.NotFound(w, r)
		}
	}))
}

func createOMSConnector(t *testing.T, cfg OMSConfig) *OMSConnector {
	t.Helper()
	return NewOMSConnector(cfg, testLogger(t))
}

func TestOMSConnector_FetchTrades(t *testing.T) {
	var requests []*http.Request
	server := createOMSServer(t, []map[string]interface{}{
		{
			"id":               "OMS-1001",
			"symbol":           "aapl",
			"side":             "buy",
			"filled_quantity":  100,
			"avg_fill_price":   150.25,
			"filled_at":        "2026-02-24T14:30:00Z",
			"commission":       12.50,
			"executing_broker": "GOLDMAN",
			"account":          "ACC-7",
			"currency":         "USD",
		},
	}, &requests)
	defer server.Close()

	connector := createOMSConnector(t, OMSConfig{BaseURL: server.URL, APIKey: "secret-token"})
	ctx := context.Background()

	if err := connector.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer connector.Disconnect()

	from := time.Date(2026, 2, 24, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 2, 25, 0, 0, 0, 0, time.UTC)
	raws, err := connector.FetchTrades(ctx, from, to)
	if err != nil {
		t.Fatalf("FetchTrades() error = %v", err)
	}
	if len(raws) != 1 {
		t.Fatalf("FetchTrades() returned %d records, want 1", len(raws))
	}

	var fetch *http.Request
	for _, r := range requests {
		if r.URL.Path == omsTradesPath {
			fetch = r
		}
	}
	if fetch == nil {
		t.Fatal("no request hit the trades endpoint")
	}
	query := fetch.URL.Query()
	if got := query.Get("status"); got != "FILLED" {
		t.Errorf("status param = %q, want FILLED", got)
	}
	if got := query.Get("limit"); got != "500" {
		t.Errorf("limit param = %q, want 500", got)
	}
	if got := query.Get("start_date"); got != from.Format(time.RFC3339) {
		t.Errorf("start_date param = %q, want %q", got, from.Format(time.RFC3339))
	}
	if got := query.Get("end_date"); got != to.Format(time.RFC3339) {
		t.Errorf("end_date param = %q, want %q", got, to.Format(time.RFC3339))
	}
	if got := fetch.Header.Get("Authorization"); got != "Bearer secret-token" {
		t.Errorf("Authorization header = %q, want bearer token", got)
	}

	trade, err := connector.NormalizeTrade(raws[0])
	if err != nil {
		t.Fatalf("NormalizeTrade() error = %v", err)
	}
	if trade.SourceSystem != models.SourceOMS {
		t.Errorf("SourceSystem = %q, want %q", trade.SourceSystem, models.SourceOMS)
	}
	if trade.SourceTradeID != "OMS-1001" {
		t.Errorf("SourceTradeID = %q, want OMS-1001", trade.SourceTradeID)
	}
	if trade.Symbol != "AAPL" {
		t.Errorf("Symbol = %q, want AAPL", trade.Symbol)
	}
	if trade.Side != models.TradeSideBuy {
		t.Errorf("Side = %q, want BUY", trade.Side)
	}
	// json.Number decoding keeps the exact decimal rendering.
	if !trade.Price.Equal(decimal.RequireFromString("150.25")) {
		t.Errorf("Price = %s, want 150.25", trade.Price)
	}
	wantGross := decimal.RequireFromString("15025")
	if !trade.GrossAmount.Valid || !trade.GrossAmount.Decimal.Equal(wantGross) {
		t.Errorf("GrossAmount = %v, want %s", trade.GrossAmount, wantGross)
	}
	if trade.Counterparty == nil || *trade.Counterparty != "GOLDMAN" {
		t.Errorf("Counterparty = %v, want GOLDMAN", trade.Counterparty)
	}
	if !connector.ValidateTrade(trade) {
		t.Error("ValidateTrade() = false, want true")
	}
	if len(trade.RawPayload) == 0 {
		t.Error("RawPayload is empty, want the raw record preserved")
	}
}

func TestOMSConnector_KeySecretHeaders(t *testing.T) {
	var requests []*http.Request
	server := createOMSServer(t, nil, &requests)
	defer server.Close()

	connector := createOMSConnector(t, OMSConfig{
		BaseURL:   server.URL,
		APIKeyID:  "key-id",
		APISecret: "key-secret",
	})
	if err := connector.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer connector.Disconnect()

	if len(requests) == 0 {
		t.Fatal("connect sent no requests")
	}
	probe := requests[0]
	if got := probe.Header.Get("X-API-Key-ID"); got != "key-id" {
		t.Errorf("X-API-Key-ID header = %q, want key-id", got)
	}
	if got := probe.Header.Get("X-API-Secret-Key"); got != "key-secret" {
		t.Errorf("X-API-Secret-Key header = %q, want key-secret", got)
	}
	if probe.Header.Get("Authorization") != "" {
		t.Error("Authorization header set alongside key/secret pair")
	}
}

func TestOMSConnector_ConnectConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  OMSConfig
	}{
		{name: "missing base url", cfg: OMSConfig{APIKey: "k"}},
		{name: "missing credentials", cfg: OMSConfig{BaseURL: "http://oms.local"}},
		{name: "partial key pair", cfg: OMSConfig{BaseURL: "http://oms.local", APIKeyID: "id"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			connector := createOMSConnector(t, tt.cfg)
			err := connector.Connect(context.Background())
			if err == nil {
				t.Fatal("Connect() error = nil, want configuration error")
			}
			if !errors.IsCategory(err, errors.CategoryConfig) {
				t.Errorf("Connect() error category = %v, want config", err)
			}
		})
	}
}

func TestOMSConnector_FetchBeforeConnect(t *testing.T) {
	connector := createOMSConnector(t, OMSConfig{BaseURL: "http://oms.local", APIKey: "k"})

	_, err := connector.FetchTrades(context.Background(), time.Now(), time.Now())
	if err == nil {
		t.Fatal("FetchTrades() error = nil, want not-connected error")
	}
	if !errors.IsCategory(err, errors.CategoryTransient) {
		t.Errorf("FetchTrades() error category = %v, want transient", err)
	}
}

func TestOMSConnector_EmptyPayload(t *testing.T) {
	server := createOMSServer(t, nil, nil)
	defer server.Close()

	connector := createOMSConnector(t, OMSConfig{BaseURL: server.URL, APIKey: "k"})
	ctx := context.Background()
	if err := connector.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer connector.Disconnect()

	raws, err := connector.FetchTrades(ctx, time.Now().Add(-24*time.Hour), time.Now())
	if err != nil {
		t.Fatalf("FetchTrades() error = %v", err)
	}
	if len(raws) != 0 {
		t.Errorf("FetchTrades() returned %d records, want 0", len(raws))
	}
}

func TestOMSConnector_ServerErrorsTripBreaker(t *testing.T) {
	healthy := true
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if healthy && r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	connector := createOMSConnector(t, OMSConfig{
		BaseURL:           server.URL,
		APIKey:            "k",
		RequestsPerSecond: 1000,
		Burst:             1000,
	})
	ctx := context.Background()
	if err := connector.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer connector.Disconnect()
	healthy = false

	from := time.Now().Add(-24 * time.Hour)
	to := time.Now()

	// Five straight failures push the failure ratio over the trip
	// threshold; after that the breaker rejects calls without touching
	// the endpoint.
	for i := 0; i < 5; i++ {
		if _, err := connector.FetchTrades(ctx, from, to); err == nil {
			t.Fatalf("FetchTrades() call %d error = nil, want failure", i+1)
		}
	}

	_, err := connector.FetchTrades(ctx, from, to)
	if err == nil {
		t.Fatal("FetchTrades() error = nil, want circuit open")
	}
	reconErr, ok := errors.As(err)
	if !ok {
		t.Fatalf("FetchTrades() error = %v, want ReconError", err)
	}
	if reconErr.Code != errors.CodeCircuitOpen {
		t.Errorf("error code = %q, want %q", reconErr.Code, errors.CodeCircuitOpen)
	}
}

func TestOMSConnector_NormalizeTradeErrors(t *testing.T) {
	connector := createOMSConnector(t, OMSConfig{BaseURL: "http://oms.local", APIKey: "k"})

	tests := []struct {
		name string
		raw  RawTrade
	}{
		{name: "missing id", raw: RawTrade{"symbol": "AAPL"}},
		{
			name: "missing filled_at",
			raw: RawTrade{
				"id": "1", "symbol": "AAPL", "side": "BUY",
				"filled_quantity": "100", "avg_fill_price": "50",
			},
		},
		{
			name: "bad quantity",
			raw: RawTrade{
				"id": "1", "symbol": "AAPL", "side": "BUY",
				"filled_quantity": "abc", "avg_fill_price": "50",
				"filled_at": "2026-02-24T10:00:00Z",
			},
		},
		{
			name: "unknown side",
			raw: RawTrade{
				"id": "1", "symbol": "AAPL", "side": "SHORT",
				"filled_quantity": "100", "avg_fill_price": "50",
				"filled_at": "2026-02-24T10:00:00Z",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := connector.NormalizeTrade(tt.raw); err == nil {
				t.Error("NormalizeTrade() error = nil, want validation error")
			}
		})
	}
}

func TestOMSConnector_NormalizeOptionalFields(t *testing.T) {
	connector := createOMSConnector(t, OMSConfig{BaseURL: "http://oms.local", APIKey: "k"})

	raw := RawTrade{
		"id":              "OMS-2",
		"symbol":          "MSFT",
		"side":            "SELL",
		"filled_quantity": json.Number("250"),
		"avg_fill_price":  json.Number("410.10"),
		"filled_at":       "2026-02-24T15:45:00Z",
		"settlement_date": "2026-02-26",
		"isin":            "US5949181045",
		"net_amount":      json.Number("102400.55"),
		"fees":            json.Number("3.20"),
		"portfolio":       "GROWTH",
	}

	trade, err := connector.NormalizeTrade(raw)
	if err != nil {
		t.Fatalf("NormalizeTrade() error = %v", err)
	}
	if trade.SettlementDate == nil || trade.SettlementDate.Format("2006-01-02") != "2026-02-26" {
		t.Errorf("SettlementDate = %v, want 2026-02-26", trade.SettlementDate)
	}
	if trade.SecurityID == nil || *trade.SecurityID != "US5949181045" {
		t.Errorf("SecurityID = %v, want ISIN carried over", trade.SecurityID)
	}
	if !trade.NetAmount.Valid || !trade.NetAmount.Decimal.Equal(decimal.RequireFromString("102400.55")) {
		t.Errorf("NetAmount = %v, want 102400.55", trade.NetAmount)
	}
	if !trade.Fees.Valid || !trade.Fees.Decimal.Equal(decimal.RequireFromString("3.20")) {
		t.Errorf("Fees = %v, want 3.20", trade.Fees)
	}
	if trade.Portfolio == nil || *trade.Portfolio != "GROWTH" {
		t.Errorf("Portfolio = %v, want GROWTH", trade.Portfolio)
	}
	if trade.Commission.Valid {
		t.Errorf("Commission = %v, want null when absent", trade.Commission)
	}
}
