// Package mirror maintains a queryable SQLite copy of the fill log. The
// CSV log stays the durable source of truth; the mirror is best-effort
// and exists for ad-hoc reconciliation queries, so mirror failures are
// logged and never surfaced as tick failures.
package mirror

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"pnl_monitor/internal/core"
	"pnl_monitor/pkg/concurrency"
)

const schema = `
CREATE TABLE IF NOT EXISTS fills (
	transaction_id TEXT PRIMARY KEY,
	executed_at    INTEGER NOT NULL,
	exchange       TEXT NOT NULL,
	contract       TEXT NOT NULL,
	side           TEXT NOT NULL,
	quantity       TEXT NOT NULL,
	price          TEXT NOT NULL,
	user           TEXT NOT NULL,
	order_id       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fills_executed_at ON fills(executed_at);
`

// SQLiteMirror indexes appended fills into SQLite. It implements
// core.IFillMirror. Writes run on a single worker so the mirror preserves
// append order without blocking the poller's tick.
type SQLiteMirror struct {
	db     *sql.DB
	pool   *concurrency.WorkerPool
	logger core.ILogger
}

// NewSQLiteMirror opens (or creates) the mirror database at dbPath.
func NewSQLiteMirror(dbPath string, logger core.ILogger) (*SQLiteMirror, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open mirror database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping mirror database: %w", err)
	}

	// WAL keeps readers from blocking the single writer.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create mirror schema: %w", err)
	}

	log := logger.WithField("component", "fill_mirror")
	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:        "fill_mirror",
		MaxWorkers:  1,
		MaxCapacity: 1000,
		IdleTimeout: 60 * time.Second,
		NonBlocking: true,
	}, log)

	return &SQLiteMirror{db: db, pool: pool, logger: log}, nil
}

// Submit queues a batch for indexing and returns immediately. When the
// queue is full the batch is dropped with a warning; the caller's durable
// log already holds the fills.
func (m *SQLiteMirror) Submit(fills []core.FillRecord) {
	if len(fills) == 0 {
		return
	}
	batch := make([]core.FillRecord, len(fills))
	copy(batch, fills)

	if err := m.pool.Submit(func() { m.index(batch) }); err != nil {
		m.logger.Warn("Mirror queue full, dropping batch", "fills", len(batch), "error", err)
	}
}

// index writes one batch inside a transaction. Replayed fills hit the
// transaction_id primary key and are ignored.
func (m *SQLiteMirror) index(fills []core.FillRecord) {
	tx, err := m.db.Begin()
	if err != nil {
		m.logger.Warn("Mirror transaction failed to start", "error", err)
		return
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.Prepare(`INSERT OR IGNORE INTO fills
		(transaction_id, executed_at, exchange, contract, side, quantity, price, user, order_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		m.logger.Warn("Mirror insert prepare failed", "error", err)
		return
	}
	defer stmt.Close()

	for _, f := range fills {
		if _, err := stmt.Exec(
			f.TransactionID(),
			f.Timestamp.UnixNano(),
			f.Exchange,
			f.Contract,
			string(f.Side),
			f.Quantity.String(),
			f.Price.String(),
			f.User,
			f.OrderID,
		); err != nil {
			m.logger.Warn("Mirror insert failed", "order_id", f.OrderID, "error", err)
			return
		}
	}

	if err := tx.Commit(); err != nil {
		m.logger.Warn("Mirror commit failed", "error", err)
	}
}

// Count returns the number of indexed fills.
func (m *SQLiteMirror) Count() (int64, error) {
	var n int64
	if err := m.db.QueryRow(`SELECT COUNT(*) FROM fills`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count mirrored fills: %w", err)
	}
	return n, nil
}

// Close drains queued batches and closes the database.
func (m *SQLiteMirror) Close() error {
	m.pool.Stop()
	return m.db.Close()
}
