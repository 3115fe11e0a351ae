// Package store provides the trade ledger and daily performance rollup.
package store

import (
	"context"
	"time"

	"quantum-trader/internal/models"
)

// Store defines the interface for trade persistence.
type Store interface {
	// RecordTrade upserts a trade by its trade ID. An open trade is written
	// with a null exit; its close updates the same row.
	RecordTrade(ctx context.Context, trade models.TradeRecord) error
	// UpdateDailyPerformance recomputes today's rollup from closed trades.
	UpdateDailyPerformance(ctx context.Context, capitalEnd float64) error
	// GetPerformanceMetrics summarises closed trades of the last days days.
	// An empty symbol means all symbols.
	GetPerformanceMetrics(ctx context.Context, symbol string, days int) (models.PerformanceSummary, error)
	GetTrades(ctx context.Context, filter TradeFilter) ([]models.TradeRecord, error)
	GetDailyPerformance(ctx context.Context, days int) ([]models.DailyPerformance, error)
	Ping(ctx context.Context) error
	Close() error
}

// TradeFilter filters trades.
type TradeFilter struct {
	Symbol string
	Since  time.Time
	// OnlyClosed drops open trades.
	OnlyClosed bool
	Limit      int
}

// DefaultPerformanceDays is the window used when days is not positive.
const DefaultPerformanceDays = 30
