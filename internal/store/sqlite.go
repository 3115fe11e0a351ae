package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS trades (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	trade_id TEXT NOT NULL UNIQUE,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	quantity REAL NOT NULL,
	entry_price REAL NOT NULL,
	stop_price REAL,
	take_profit_price REAL,
	exit_price REAL,
	profit_loss REAL NOT NULL DEFAULT 0,
	state TEXT NOT NULL,
	order_id TEXT,
	timestamp DATETIME NOT NULL,
	closed_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);
CREATE INDEX IF NOT EXISTS idx_trades_closed_at ON trades(closed_at);

CREATE TABLE IF NOT EXISTS daily_performance (
	date DATE PRIMARY KEY,
	total_trades INTEGER NOT NULL,
	winning_trades INTEGER NOT NULL,
	total_profit REAL NOT NULL,
	max_drawdown REAL NOT NULL,
	capital_end REAL NOT NULL
)`

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	*sqlStore
}

// NewSQLiteStore opens (or creates) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	s, err := newSQLStore(db, dialect{
		name:   "sqlite",
		schema: sqliteSchema,
		upsertDaily: `INSERT OR REPLACE INTO daily_performance (date, total_trades, winning_trades, total_profit, max_drawdown, capital_end)
			VALUES (?, ?, ?, ?, ?, ?)`,
	})
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{sqlStore: s}, nil
}
