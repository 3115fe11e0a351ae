// Package models provides domain models for the trading pipeline.
package models

import (
	"strings"
	"time"
)

// Side represents the direction of a position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// OrderSide returns the venue order side that opens a position on this side.
func (s Side) OrderSide() OrderSide {
	if s == SideShort {
		return OrderSideSell
	}
	return OrderSideBuy
}

// OrderSide represents the side of a market order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// Candle represents OHLCV data for a time period.
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// OrderAck is the venue acknowledgement of a placed order.
type OrderAck struct {
	OrderID     string
	Symbol      string
	Side        OrderSide
	Quantity    float64
	FilledPrice float64
	Status      string
	PlacedAt    time.Time
}

// SplitSymbol splits a "BASE/QUOTE" symbol. A symbol without a separator
// returns the whole symbol as base and an empty quote.
func SplitSymbol(symbol string) (base, quote string) {
	base, quote, _ = strings.Cut(symbol, "/")
	return base, quote
}

// QuoteCurrency returns the quote currency of a "BASE/QUOTE" symbol.
func QuoteCurrency(symbol string) string {
	_, quote := SplitSymbol(symbol)
	return quote
}
