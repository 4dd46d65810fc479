package postgres

import (
	"context"
	"database/sql"
	"time"

	"trade-reconciliation-engine/internal/models"
	"trade-reconciliation-engine/internal/store"
	"trade-reconciliation-engine/pkg/errors"
)

const tradeColumns = `id, source_system, source_trade_id, trade_timestamp,
	settlement_date, symbol, security_id, side, quantity, price,
	gross_amount, net_amount, commission, fees, currency, counterparty,
	counterparty_normalized, account, portfolio, raw_payload, is_matched,
	matched_trade_id, match_confidence, created_at, updated_at`

// TradeRepo implements store.TradeStore.
type TradeRepo struct {
	q       queryer
	timeout time.Duration
}

// UpsertTrade inserts the trade or refreshes the existing row sharing its
// source identity. The xmax trick distinguishes a fresh insert from a
// conflict update so ingestion can count duplicates honestly.
func (r *TradeRepo) UpsertTrade(ctx context.Context, trade *models.Trade) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO trades (
			source_system, source_trade_id, trade_timestamp, settlement_date,
			symbol, security_id, side, quantity, price, gross_amount,
			net_amount, commission, fees, currency, counterparty,
			counterparty_normalized, account, portfolio, raw_payload
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19
		)
		ON CONFLICT (source_system, source_trade_id) DO UPDATE SET
			trade_timestamp         = EXCLUDED.trade_timestamp,
			settlement_date         = EXCLUDED.settlement_date,
			symbol                  = EXCLUDED.symbol,
			security_id             = EXCLUDED.security_id,
			side                    = EXCLUDED.side,
			quantity                = EXCLUDED.quantity,
			price                   = EXCLUDED.price,
			gross_amount            = EXCLUDED.gross_amount,
			net_amount              = EXCLUDED.net_amount,
			commission              = EXCLUDED.commission,
			fees                    = EXCLUDED.fees,
			currency                = EXCLUDED.currency,
			counterparty            = EXCLUDED.counterparty,
			counterparty_normalized = EXCLUDED.counterparty_normalized,
			account                 = EXCLUDED.account,
			portfolio               = EXCLUDED.portfolio,
			raw_payload             = EXCLUDED.raw_payload,
			updated_at              = NOW()
		RETURNING id, (xmax = 0) AS inserted`

	var result struct {
		ID       int64 `db:"id"`
		Inserted bool  `db:"inserted"`
	}
	err := r.q.GetContext(ctx, &result, query,
		trade.SourceSystem, trade.SourceTradeID, trade.TradeTimestamp,
		trade.SettlementDate, trade.Symbol, trade.SecurityID, trade.Side,
		trade.Quantity, trade.Price, trade.GrossAmount, trade.NetAmount,
		trade.Commission, trade.Fees, trade.Currency, trade.Counterparty,
		trade.CounterpartyNormalized, trade.Account, trade.Portfolio,
		trade.RawPayload)
	if err != nil {
		return false, errors.StorageError(errors.CodeQueryFailed, "upsert trade", err)
	}

	trade.ID = result.ID
	return result.Inserted, nil
}

func (r *TradeRepo) GetTradeByID(ctx context.Context, id int64) (*models.Trade, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var trade models.Trade
	err := r.q.GetContext(ctx, &trade,
		`SELECT `+tradeColumns+` FROM trades WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, errors.NotFoundError(errors.CodeTradeNotFound, "trade", id)
	}
	if err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "get trade", err)
	}
	return &trade, nil
}

// GetUnmatchedTrades returns unmatched trades whose trade timestamp falls
// on the UTC calendar day of tradeDate, in insertion order.
func (r *TradeRepo) GetUnmatchedTrades(ctx context.Context, sourceSystem string, tradeDate time.Time) ([]*models.Trade, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	day := tradeDate.UTC()
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	var trades []*models.Trade
	err := r.q.SelectContext(ctx, &trades,
		`SELECT `+tradeColumns+` FROM trades
		 WHERE source_system = $1
		   AND trade_timestamp >= $2 AND trade_timestamp < $3
		   AND is_matched = FALSE
		 ORDER BY id`,
		sourceSystem, start, end)
	if err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "get unmatched trades", err)
	}
	return trades, nil
}

func (r *TradeRepo) MarkMatched(ctx context.Context, tradeID, counterpartID int64, confidence float64) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	result, err := r.q.ExecContext(ctx,
		`UPDATE trades
		 SET is_matched = TRUE, matched_trade_id = $2, match_confidence = $3,
		     updated_at = NOW()
		 WHERE id = $1`,
		tradeID, counterpartID, confidence)
	if err != nil {
		return errors.StorageError(errors.CodeQueryFailed, "mark matched", err)
	}
	return requireRow(result, errors.CodeTradeNotFound, "trade", tradeID)
}

func (r *TradeRepo) UpdateNormalization(ctx context.Context, tradeID int64, symbol string, counterpartyNormalized *string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	result, err := r.q.ExecContext(ctx,
		`UPDATE trades
		 SET symbol = $2, counterparty_normalized = $3, updated_at = NOW()
		 WHERE id = $1`,
		tradeID, symbol, counterpartyNormalized)
	if err != nil {
		return errors.StorageError(errors.CodeQueryFailed, "update normalization", err)
	}
	return requireRow(result, errors.CodeTradeNotFound, "trade", tradeID)
}

func (r *TradeRepo) CountTrades(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var count int64
	if err := r.q.GetContext(ctx, &count, `SELECT COUNT(*) FROM trades`); err != nil {
		return 0, errors.StorageError(errors.CodeQueryFailed, "count trades", err)
	}
	return count, nil
}

func (r *TradeRepo) ListLabeledTrades(ctx context.Context) ([]store.LabeledTrade, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var rows []store.LabeledTrade
	err := r.q.SelectContext(ctx, &rows,
		`SELECT `+tradeColumns+`,
		        EXISTS (SELECT 1 FROM trade_breaks b WHERE b.trade_id = trades.id) AS has_break
		 FROM trades
		 ORDER BY id`)
	if err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "list labeled trades", err)
	}
	return rows, nil
}

// requireRow converts a zero-row update into a not-found error.
func requireRow(result sql.Result, code errors.Code, entity string, id interface{}) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.StorageError(errors.CodeQueryFailed, "rows affected", err)
	}
	if affected == 0 {
		return errors.NotFoundError(code, entity, id)
	}
	return nil
}
