package ingest

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"trade-reconciliation-engine/internal/models"
	"trade-reconciliation-engine/pkg/errors"
	"trade-reconciliation-engine/pkg/logger"
)

const omsTradesPath = "/api/v1/trades"

// OMSConfig configures the order management system REST connector.
type OMSConfig struct {
	// BaseURL is the OMS API root. Empty means the source is not
	// configured and ingestion skips it.
	BaseURL string

	// APIKey is sent as a bearer token when set. When empty, APIKeyID and
	// APISecret are sent as a header pair instead.
	APIKey    string
	APIKeyID  string
	APISecret string

	// Timeout bounds each HTTP request. Defaults to 30 seconds.
	Timeout time.Duration

	// RequestsPerSecond and Burst configure the client-side rate limiter.
	RequestsPerSecond float64
	Burst             int
}

func (c OMSConfig) withDefaults() OMSConfig {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = 10
	}
	if c.Burst <= 0 {
		c.Burst = 10
	}
	return c
}

// OMSConnector pulls executed trades from the OMS REST API. Requests run
// through a client-side rate limiter and a circuit breaker so a degraded OMS
// slows ingestion down instead of hammering it.
type OMSConnector struct {
	cfg     OMSConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	log     logger.Logger
}

// NewOMSConnector creates the OMS connector. Connect must be called before
// FetchTrades.
func NewOMSConnector(cfg OMSConfig, log logger.Logger) *OMSConnector {
	cfg = cfg.withDefaults()
	componentLog := log.WithComponent("oms_connector")

	settings := gobreaker.Settings{
		Name:        "oms-api",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			componentLog.WithFields(logger.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	}

	return &OMSConnector{
		cfg:     cfg,
		breaker: gobreaker.NewCircuitBreaker(settings),
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		log:     componentLog,
	}
}

// Name returns the source system name for OMS trades.
func (c *OMSConnector) Name() string {
	return models.SourceOMS
}

// Connect validates the configuration and probes the OMS health endpoint.
func (c *OMSConnector) Connect(ctx context.Context) error {
	if strings.TrimSpace(c.cfg.BaseURL) == "" {
		return errors.ConfigError(errors.CodeMissingConfig, "oms_api_url", nil)
	}
	if c.cfg.APIKey == "" && (c.cfg.APIKeyID == "" || c.cfg.APISecret == "") {
		return errors.ConfigError(errors.CodeMissingConfig, "oms_api_key", nil)
	}

	c.client = &http.Client{Timeout: c.cfg.Timeout}

	// The health endpoint answering anything below 500 means the API is
	// reachable and our credentials can be exercised against it.
	resp, err := c.get(ctx, "/health", nil)
	if err != nil {
		c.client = nil
		return err
	}
	defer resp.Body.Close()

	c.log.WithField("base_url", c.cfg.BaseURL).Info("Connected to OMS")
	return nil
}

// FetchTrades returns the filled trades executed in [from, to].
func (c *OMSConnector) FetchTrades(ctx context.Context, from, to time.Time) ([]RawTrade, error) {
	query := url.Values{}
	query.Set("start_date", from.UTC().Format(time.RFC3339))
	query.Set("end_date", to.UTC().Format(time.RFC3339))
	query.Set("status", "FILLED")
	query.Set("limit", "500")

	resp, err := c.get(ctx, omsTradesPath, query)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.TransientError(errors.CodeFetchFailed, c.endpoint(omsTradesPath),
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	var payload struct {
		Trades []RawTrade `json:"trades"`
	}
	decoder := json.NewDecoder(resp.Body)
	// Numbers stay json.Number so prices survive without float rounding.
	decoder.UseNumber()
	if err := decoder.Decode(&payload); err != nil {
		return nil, errors.TransientError(errors.CodeFetchFailed, c.endpoint(omsTradesPath), err)
	}

	c.log.WithFields(logger.Fields{
		"count": len(payload.Trades),
		"from":  from.UTC().Format("2006-01-02"),
		"to":    to.UTC().Format("2006-01-02"),
	}).Info("Fetched OMS trades")

	return payload.Trades, nil
}

// NormalizeTrade maps one OMS payload record into the canonical trade shape.
// Gross amount is always recomputed as quantity times average fill price.
func (c *OMSConnector) NormalizeTrade(raw RawTrade) (*models.Trade, error) {
	id := raw.text("id", "order_id")
	if id == "" {
		return nil, errors.ValidationError(errors.CodeMissingField, "id", nil, nil)
	}

	quantity, err := raw.amount("filled_quantity")
	if err != nil {
		return nil, err
	}
	price, err := raw.amount("avg_fill_price")
	if err != nil {
		return nil, err
	}
	side, err := models.ParseSide(raw.text("side"))
	if err != nil {
		return nil, err
	}
	executedAt, err := models.ParseTimestamp(raw.text("filled_at"))
	if err != nil {
		return nil, err
	}

	trade := models.NewTrade(models.SourceOMS, id, strings.ToUpper(raw.text("symbol")), side, quantity, price, executedAt)
	trade.GrossAmount = decimal.NewNullDecimal(quantity.Mul(price))
	trade.NetAmount = nullAmount(raw, "net_amount")
	trade.Commission = nullAmount(raw, "commission")
	trade.Fees = nullAmount(raw, "fees")
	trade.Counterparty = optional(raw.text("executing_broker"))
	trade.SecurityID = optional(raw.text("isin"))
	trade.Account = optional(raw.text("account"))
	trade.Portfolio = optional(raw.text("portfolio"))
	if currency := raw.text("currency"); currency != "" {
		trade.Currency = currency
	}
	if settle, err := models.ParseTimestamp(raw.text("settlement_date")); err == nil {
		trade.SettlementDate = &settle
	}
	trade.RawPayload = raw.payload()

	return trade, nil
}

// ValidateTrade reports whether the trade carries every required field.
func (c *OMSConnector) ValidateTrade(t *models.Trade) bool {
	return t.Validate() == nil
}

// Disconnect releases the HTTP client.
func (c *OMSConnector) Disconnect() error {
	if c.client != nil {
		c.client.CloseIdleConnections()
		c.client = nil
	}
	return nil
}

// get performs one rate-limited GET through the circuit breaker. Responses
// with 5xx status count as breaker failures.
func (c *OMSConnector) get(ctx context.Context, path string, query url.Values) (*http.Response, error) {
	endpoint := c.endpoint(path)
	if c.client == nil {
		return nil, errors.TransientError(errors.CodeConnectionFailed, endpoint,
			stderrors.New("connector is not connected"))
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errors.TransientError(errors.CodeRequestTimeout, endpoint, err)
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		if query != nil {
			req.URL.RawQuery = query.Encode()
		}
		c.authorize(req)
		req.Header.Set("Accept", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			resp.Body.Close()
			return nil, fmt.Errorf("oms returned status %d", resp.StatusCode)
		}
		return resp, nil
	})
	if err != nil {
		if stderrors.Is(err, gobreaker.ErrOpenState) || stderrors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, errors.TransientError(errors.CodeCircuitOpen, endpoint, err)
		}
		return nil, errors.TransientError(errors.CodeConnectionFailed, endpoint, err)
	}

	return result.(*http.Response), nil
}

func (c *OMSConnector) authorize(req *http.Request) {
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		return
	}
	req.Header.Set("X-API-Key-ID", c.cfg.APIKeyID)
	req.Header.Set("X-API-Secret-Key", c.cfg.APISecret)
}

func (c *OMSConnector) endpoint(path string) string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + path
}
