package circuitbreaker

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"
)

// DatabaseWrapper wraps database operations with a circuit breaker. The
// metadata store routes every query and exec through it.
type DatabaseWrapper struct {
	db     *sql.DB
	cb     *CircuitBreaker
	logger *zap.Logger
}

// NewDatabaseWrapper builds the wrapper with the database breaker settings
// and registers it with the global metrics collector.
func NewDatabaseWrapper(db *sql.DB, logger *zap.Logger) *DatabaseWrapper {
	cb := NewCircuitBreaker("postgresql", GetDatabaseConfig().ToConfig(), logger)
	GlobalMetricsCollector.RegisterCircuitBreaker("postgresql", "metadata-store", cb)
	return &DatabaseWrapper{db: db, cb: cb, logger: logger}
}

// guardDB runs op under cb and records the outcome. The returned error is
// the breaker rejection or op's own error, whichever came first.
func guardDB(ctx context.Context, cb *CircuitBreaker, op func() error) error {
	err := cb.Execute(ctx, op)
	GlobalMetricsCollector.RecordRequest("postgresql", "metadata-store", cb.State(), err == nil)
	return err
}

// PingContext checks connectivity through the breaker.
func (dw *DatabaseWrapper) PingContext(ctx context.Context) error {
	return guardDB(ctx, dw.cb, func() error {
		return dw.db.PingContext(ctx)
	})
}

// QueryContext runs a multi-row query through the breaker.
func (dw *DatabaseWrapper) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	var rows *sql.Rows
	err := guardDB(ctx, dw.cb, func() error {
		var qErr error
		rows, qErr = dw.db.QueryContext(ctx, query, args...)
		return qErr
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// QueryRowContext runs a single-row query. sql.Row defers its error to
// Scan, so only a breaker rejection surfaces here; a rejected call
// returns a nil row.
func (dw *DatabaseWrapper) QueryRowContext(ctx context.Context, query string, args ...interface{}) (*sql.Row, error) {
	var row *sql.Row
	err := guardDB(ctx, dw.cb, func() error {
		row = dw.db.QueryRowContext(ctx, query, args...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

// ExecContext runs a statement through the breaker.
func (dw *DatabaseWrapper) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	var res sql.Result
	err := guardDB(ctx, dw.cb, func() error {
		var eErr error
		res, eErr = dw.db.ExecContext(ctx, query, args...)
		return eErr
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// BeginTx opens a transaction through the breaker. Statements on the
// returned TxWrapper share the same breaker.
func (dw *DatabaseWrapper) BeginTx(ctx context.Context, opts *sql.TxOptions) (*TxWrapper, error) {
	var tx *sql.Tx
	err := guardDB(ctx, dw.cb, func() error {
		var bErr error
		tx, bErr = dw.db.BeginTx(ctx, opts)
		return bErr
	})
	if err != nil {
		return nil, err
	}
	return &TxWrapper{tx: tx, cb: dw.cb, logger: dw.logger}, nil
}

// TxWrapper guards statements inside one transaction.
type TxWrapper struct {
	tx     *sql.Tx
	cb     *CircuitBreaker
	logger *zap.Logger
}

// ExecContext runs a statement inside the transaction.
func (tw *TxWrapper) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	var res sql.Result
	err := guardDB(ctx, tw.cb, func() error {
		var eErr error
		res, eErr = tw.tx.ExecContext(ctx, query, args...)
		return eErr
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Commit finishes the transaction through the breaker.
func (tw *TxWrapper) Commit() error {
	return guardDB(context.Background(), tw.cb, tw.tx.Commit)
}

// Rollback bypasses the circuit breaker; a rollback must always be
// attempted.
func (tw *TxWrapper) Rollback() error {
	return tw.tx.Rollback()
}

// Stats exposes the pool statistics of the underlying database.
func (dw *DatabaseWrapper) Stats() sql.DBStats {
	return dw.db.Stats()
}

// Close closes the underlying database.
func (dw *DatabaseWrapper) Close() error {
	return dw.db.Close()
}

// SetMaxOpenConns tunes the pool's open-connection cap.
func (dw *DatabaseWrapper) SetMaxOpenConns(n int) {
	dw.db.SetMaxOpenConns(n)
}

// SetMaxIdleConns tunes the pool's idle-connection cap.
func (dw *DatabaseWrapper) SetMaxIdleConns(n int) {
	dw.db.SetMaxIdleConns(n)
}

// SetConnMaxLifetime tunes how long a pooled connection may live.
func (dw *DatabaseWrapper) SetConnMaxLifetime(d time.Duration) {
	dw.db.SetConnMaxLifetime(d)
}

// IsCircuitBreakerOpen reports whether the breaker is currently open.
func (dw *DatabaseWrapper) IsCircuitBreakerOpen() bool {
	return dw.cb.State() == StateOpen
}
