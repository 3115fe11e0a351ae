package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS trades (
	id BIGSERIAL PRIMARY KEY,
	trade_id TEXT NOT NULL UNIQUE,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	quantity DOUBLE PRECISION NOT NULL,
	entry_price DOUBLE PRECISION NOT NULL,
	stop_price DOUBLE PRECISION,
	take_profit_price DOUBLE PRECISION,
	exit_price DOUBLE PRECISION,
	profit_loss DOUBLE PRECISION NOT NULL DEFAULT 0,
	state TEXT NOT NULL,
	order_id TEXT,
	timestamp TIMESTAMPTZ NOT NULL,
	closed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);
CREATE INDEX IF NOT EXISTS idx_trades_closed_at ON trades(closed_at);

CREATE TABLE IF NOT EXISTS daily_performance (
	date DATE PRIMARY KEY,
	total_trades INTEGER NOT NULL,
	winning_trades INTEGER NOT NULL,
	total_profit DOUBLE PRECISION NOT NULL,
	max_drawdown DOUBLE PRECISION NOT NULL,
	capital_end DOUBLE PRECISION NOT NULL
)`

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	*sqlStore
}

// NewPostgresStore connects to dsn and creates the tables if needed.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	s, err := newSQLStore(db, dialect{
		name:     "postgres",
		schema:   postgresSchema,
		numbered: true,
		upsertDaily: `INSERT INTO daily_performance (date, total_trades, winning_trades, total_profit, max_drawdown, capital_end)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (date) DO UPDATE SET
				total_trades = EXCLUDED.total_trades,
				winning_trades = EXCLUDED.winning_trades,
				total_profit = EXCLUDED.total_profit,
				max_drawdown = EXCLUDED.max_drawdown,
				capital_end = EXCLUDED.capital_end`,
	})
	if err != nil {
		return nil, err
	}
	return &PostgresStore{sqlStore: s}, nil
}
