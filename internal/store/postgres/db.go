// Package postgres implements the store interfaces on PostgreSQL via sqlx.
package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"trade-reconciliation-engine/internal/store"
	"trade-reconciliation-engine/pkg/errors"
	"trade-reconciliation-engine/pkg/logger"
)

// Config holds the database connection settings.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectRetries  int
	QueryTimeout    time.Duration
}

// DefaultConfig returns connection settings suitable for a single-node
// deployment.
func DefaultConfig() Config {
	return Config{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		ConnectRetries:  5,
		QueryTimeout:    10 * time.Second,
	}
}

// Connect opens the database, retrying with exponential backoff so the
// service survives starting before the database is ready.
func Connect(cfg Config, log logger.Logger) (*sqlx.DB, error) {
	var db *sqlx.DB
	var err error

	retries := cfg.ConnectRetries
	if retries < 1 {
		retries = 1
	}

	backoff := time.Second
	for attempt := 1; attempt <= retries; attempt++ {
		db, err = sqlx.Connect("postgres", cfg.DSN)
		if err == nil {
			break
		}
		if attempt < retries {
			log.WithError(err).Warnf("database connect attempt %d/%d failed, retrying in %s",
				attempt, retries, backoff)
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	if err != nil {
		return nil, errors.StorageError(errors.CodeConnectionFailed, "connect", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return db, nil
}

// queryer is satisfied by both *sqlx.DB and *sqlx.Tx, letting every
// repository run unchanged inside or outside a transaction.
type queryer interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

// Repository implements store.Stores on PostgreSQL.
type Repository struct {
	db      *sqlx.DB
	q       queryer
	timeout time.Duration

	trades      *TradeRepo
	breaks      *BreakRepo
	comments    *CommentRepo
	runs        *RunRepo
	rules       *RuleRepo
	predictions *PredictionRepo
	reports     *ReportRepo
}

// NewRepository wraps an open database handle.
func NewRepository(db *sqlx.DB, queryTimeout time.Duration) *Repository {
	if queryTimeout <= 0 {
		queryTimeout = 10 * time.Second
	}
	return newRepository(db, db, queryTimeout)
}

func newRepository(db *sqlx.DB, q queryer, timeout time.Duration) *Repository {
	return &Repository{
		db:          db,
		q:           q,
		timeout:     timeout,
		trades:      &TradeRepo{q: q, timeout: timeout},
		breaks:      &BreakRepo{q: q, timeout: timeout},
		comments:    &CommentRepo{q: q, timeout: timeout},
		runs:        &RunRepo{q: q, timeout: timeout},
		rules:       &RuleRepo{q: q, timeout: timeout},
		predictions: &PredictionRepo{q: q, timeout: timeout},
		reports:     &ReportRepo{q: q, timeout: timeout},
	}
}

func (r *Repository) Trades() store.TradeStore           { return r.trades }
func (r *Repository) Breaks() store.BreakStore           { return r.breaks }
func (r *Repository) Comments() store.CommentStore       { return r.comments }
func (r *Repository) Runs() store.RunStore               { return r.runs }
func (r *Repository) Rules() store.RuleStore             { return r.rules }
func (r *Repository) Predictions() store.PredictionStore { return r.predictions }
func (r *Repository) Reports() store.ReportStore         { return r.reports }

// WithTx runs fn with a Repository bound to a single transaction. The
// transaction commits when fn returns nil and rolls back otherwise.
// Nested calls reuse the outer transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(store.Stores) error) error {
	if _, ok := r.q.(*sqlx.Tx); ok {
		return fn(r)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.StorageError(errors.CodeTxFailed, "begin", err)
	}

	if err := fn(newRepository(r.db, tx, r.timeout)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			return errors.StorageError(errors.CodeTxFailed, "rollback", rbErr).
				WithContext("cause", err.Error())
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.StorageError(errors.CodeTxFailed, "commit", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (r *Repository) Close() error {
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}
