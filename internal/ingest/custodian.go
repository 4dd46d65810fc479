package ingest

import (
	"context"
	"encoding/csv"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"trade-reconciliation-engine/internal/models"
	"trade-reconciliation-engine/pkg/errors"
	"trade-reconciliation-engine/pkg/logger"
)

// requiredCustodianColumns must appear in every custodian file header. The
// remaining columns are optional and map to nullable trade fields.
var requiredCustodianColumns = []string{
	"TradeID", "TradeDate", "Symbol", "BuySellIndicator", "Quantity", "Price",
}

// CustodianConfig configures the custodian file-drop connector.
type CustodianConfig struct {
	// DropDir is the directory the custodian delivers daily CSV files
	// into, one file per day named trades_YYYYMMDD.csv.
	DropDir string
}

// CustodianConnector reads the custodian's daily CSV drops. A missing file
// for a day in the range means the custodian has not delivered yet; the day
// contributes zero rows. Malformed lines are logged and skipped, they never
// abort the file.
type CustodianConnector struct {
	cfg CustodianConfig
	log logger.Logger
}

// NewCustodianConnector creates the custodian connector.
func NewCustodianConnector(cfg CustodianConfig, log logger.Logger) *CustodianConnector {
	return &CustodianConnector{
		cfg: cfg,
		log: log.WithComponent("custodian_connector"),
	}
}

// Name returns the source system name for custodian trades.
func (c *CustodianConnector) Name() string {
	return models.SourceCustodian
}

// Connect verifies the drop directory is configured and exists.
func (c *CustodianConnector) Connect(ctx context.Context) error {
	if strings.TrimSpace(c.cfg.DropDir) == "" {
		return errors.ConfigError(errors.CodeMissingConfig, "custodian_drop_dir", nil)
	}

	info, err := os.Stat(c.cfg.DropDir)
	if err != nil {
		return errors.ConfigError(errors.CodeInvalidConfig, "custodian_drop_dir", err)
	}
	if !info.IsDir() {
		return errors.ConfigError(errors.CodeInvalidConfig, "custodian_drop_dir",
			fmt.Errorf("%s is not a directory", c.cfg.DropDir))
	}

	c.log.WithField("drop_dir", c.cfg.DropDir).Info("Connected to custodian file drop")
	return nil
}

// FetchTrades reads one file per calendar day in [from, to].
func (c *CustodianConnector) FetchTrades(ctx context.Context, from, to time.Time) ([]RawTrade, error) {
	var rows []RawTrade
	files := 0

	for day := dateOnly(from); !day.After(dateOnly(to)); day = day.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		path := filepath.Join(c.cfg.DropDir, fmt.Sprintf("trades_%s.csv", day.Format("20060102")))
		fileRows, err := c.readFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				c.log.WithField("file", path).Info("No custodian file for day")
				continue
			}
			c.log.WithError(err).WithField("file", path).Warn("Skipping unreadable custodian file")
			continue
		}

		rows = append(rows, fileRows...)
		files++
	}

	c.log.WithFields(logger.Fields{
		"count": len(rows),
		"files": files,
	}).Info("Loaded custodian trades")

	return rows, nil
}

// NormalizeTrade maps one CSV row into the canonical trade shape. The
// BuySellIndicator column carries B or S; anything else fails normalization
// rather than defaulting to a side.
func (c *CustodianConnector) NormalizeTrade(raw RawTrade) (*models.Trade, error) {
	id := raw.text("TradeID")
	if id == "" {
		return nil, errors.ValidationError(errors.CodeMissingField, "TradeID", nil, nil)
	}

	tradeDate, err := models.ParseTimestamp(raw.text("TradeDate"))
	if err != nil {
		return nil, err
	}
	side, err := models.ParseSide(raw.text("BuySellIndicator"))
	if err != nil {
		return nil, err
	}
	quantity, err := raw.amount("Quantity")
	if err != nil {
		return nil, err
	}
	price, err := raw.amount("Price")
	if err != nil {
		return nil, err
	}

	trade := models.NewTrade(models.SourceCustodian, id, strings.ToUpper(raw.text("Symbol")), side, quantity, price, tradeDate)
	trade.GrossAmount = nullAmount(raw, "GrossAmount")
	trade.NetAmount = nullAmount(raw, "NetAmount")
	trade.Commission = nullAmount(raw, "Commission")
	trade.Fees = nullAmount(raw, "Fees")
	trade.Counterparty = optional(raw.text("Counterparty"))
	trade.SecurityID = optional(raw.text("CUSIP"))
	trade.Account = optional(raw.text("Account"))
	trade.Portfolio = optional(raw.text("Portfolio"))
	if currency := raw.text("Currency"); currency != "" {
		trade.Currency = currency
	}
	if settle, err := models.ParseTimestamp(raw.text("SettleDate")); err == nil {
		trade.SettlementDate = &settle
	}
	trade.RawPayload = raw.payload()

	return trade, nil
}

// ValidateTrade reports whether the trade carries every required field.
func (c *CustodianConnector) ValidateTrade(t *models.Trade) bool {
	return t.Validate() == nil
}

// Disconnect is a no-op for the file drop.
func (c *CustodianConnector) Disconnect() error {
	return nil
}

// readFile parses one daily file. The header row maps column names to
// positions so column order in the file does not matter. Rows that fail CSV
// parsing are logged and skipped.
func (c *CustodianConnector) readFile(path string) ([]RawTrade, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, errors.ParseError(errors.CodeInvalidFormat, path, 1, "", "", err)
	}
	for i, column := range header {
		header[i] = strings.TrimSpace(column)
	}
	if err := checkColumns(path, header); err != nil {
		return nil, err
	}

	var rows []RawTrade
	line := 1
	for {
		line++
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if stderrors.As(err, &parseErr) {
				c.log.WithError(errors.ParseError(errors.CodeInvalidFormat, path, line, "", "", err)).
					Warn("Skipping malformed custodian row")
				continue
			}
			return nil, errors.ParseError(errors.CodeInvalidFormat, path, line, "", "", err)
		}

		raw := make(RawTrade, len(header))
		for i, column := range header {
			if i < len(record) {
				raw[column] = strings.TrimSpace(record[i])
			}
		}
		rows = append(rows, raw)
	}

	return rows, nil
}

func checkColumns(path string, header []string) error {
	for _, required := range requiredCustodianColumns {
		found := false
		for _, column := range header {
			if strings.EqualFold(column, required) {
				found = true
				break
			}
		}
		if !found {
			return errors.ParseError(errors.CodeMissingColumn, path, 1, required, "", nil)
		}
	}
	return nil
}

// dateOnly truncates a timestamp to its UTC calendar day.
func dateOnly(t time.Time) time.Time {
	year, month, day := t.UTC().Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
