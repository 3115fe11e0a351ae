package models

import (
	"time"

	"github.com/google/uuid"
)

// TradeState is a state of the trade lifecycle.
type TradeState string

const (
	TradeProposed      TradeState = "PROPOSED"
	TradeRejected      TradeState = "REJECTED"
	TradeOpen          TradeState = "OPEN"
	TradeClosedNormal  TradeState = "CLOSED"
	TradeClosedExpired TradeState = "EXPIRED"
)

// IsClosed reports whether the trade was opened and then closed.
func (s TradeState) IsClosed() bool {
	return s == TradeClosedNormal || s == TradeClosedExpired
}

// TradeRecord is the only entity that lives across cycles.
type TradeRecord struct {
	ID              string     `json:"id"`
	Symbol          string     `json:"symbol"`
	Side            Side       `json:"side"`
	Quantity        float64    `json:"quantity"`
	EntryPrice      float64    `json:"entry_price"`
	StopPrice       float64    `json:"stop_price,omitempty"`
	TakeProfitPrice float64    `json:"take_profit_price,omitempty"`
	ExitPrice       *float64   `json:"exit_price,omitempty"`
	ProfitLoss      float64    `json:"profit_loss"`
	OpenedAt        time.Time  `json:"opened_at"`
	ClosedAt        *time.Time `json:"closed_at,omitempty"`
	State           TradeState `json:"state"`
	OrderID         string     `json:"order_id,omitempty"`
}

// NewTradeID returns a unique trade identifier.
func NewTradeID() string {
	return uuid.NewString()
}

// ProfitLossAt computes the realized profit/loss if the trade exits at price.
func (t TradeRecord) ProfitLossAt(exit float64) float64 {
	if t.Side == SideShort {
		return (t.EntryPrice - exit) * t.Quantity
	}
	return (exit - t.EntryPrice) * t.Quantity
}

// Age returns how long the trade has been open at now.
func (t TradeRecord) Age(now time.Time) time.Duration {
	return now.Sub(t.OpenedAt)
}

// RiskMetrics is a pure function of the closed trade history and initial capital.
type RiskMetrics struct {
	TotalTrades        int     `json:"total_trades"`
	WinningTrades      int     `json:"winning_trades"`
	LosingTrades       int     `json:"losing_trades"`
	MaxDrawdown        float64 `json:"max_drawdown"`
	MaxDrawdownPercent float64 `json:"max_drawdown_percent"`
	SharpeRatio        float64 `json:"sharpe_ratio"`
}

// CapitalState is the running capital shared by all symbols.
type CapitalState struct {
	InitialCapital float64 `json:"initial_capital"`
	CurrentCapital float64 `json:"current_capital"`
}

// RiskReport combines the capital state with the derived metrics.
type RiskReport struct {
	CapitalState
	RiskMetrics
	OpenTrades int       `json:"open_trades"`
	At         time.Time `json:"at"`
}

// PerformanceSummary is the stored ledger aggregate over a time window.
type PerformanceSummary struct {
	Symbol             string  `json:"symbol,omitempty"`
	Days               int     `json:"days"`
	TotalTrades        int     `json:"total_trades"`
	WinningTrades      int     `json:"winning_trades"`
	TotalProfit        float64 `json:"total_profit"`
	MaxDrawdown        float64 `json:"max_drawdown"`
	AverageTradeProfit float64 `json:"average_trade_profit"`
}

// DailyPerformance is one row of the daily rollup.
type DailyPerformance struct {
	Date          string  `json:"date"`
	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	TotalProfit   float64 `json:"total_profit"`
	MaxDrawdown   float64 `json:"max_drawdown"`
	CapitalEnd    float64 `json:"capital_end"`
}
