package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	apperrors "quantum-trader/internal/errors"
	"quantum-trader/internal/models"
)

// PaperVenue simulates fills at the last known price. Market data comes from
// an optional data venue, an optional price stream, or SetPrice.
type PaperVenue struct {
	dataVenue Venue
	stream    *PriceStream

	balances     map[string]float64
	orders       []models.OrderAck
	orderCounter int
	priceCache   map[string]float64
	now          func() time.Time

	mu sync.RWMutex
}

// PaperConfig holds configuration for the paper venue.
type PaperConfig struct {
	DataVenue Venue
	Stream    *PriceStream
	// InitialBalance is credited to the quote currency of every symbol.
	InitialBalance float64
	Symbols        []string
}

// NewPaperVenue creates a paper venue.
func NewPaperVenue(cfg PaperConfig) *PaperVenue {
	initialBalance := cfg.InitialBalance
	if initialBalance == 0 {
		initialBalance = 10000
	}

	p := &PaperVenue{
		dataVenue:  cfg.DataVenue,
		stream:     cfg.Stream,
		balances:   make(map[string]float64),
		priceCache: make(map[string]float64),
		now:        time.Now,
	}
	for _, symbol := range cfg.Symbols {
		if quote := models.QuoteCurrency(symbol); quote != "" {
			p.balances[quote] = initialBalance
		}
	}
	return p
}

// Name returns "paper".
func (p *PaperVenue) Name() string { return "paper" }

// SetPrice sets the simulated price for symbol.
func (p *PaperVenue) SetPrice(symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.priceCache[symbol] = price
}

// SetBalance sets the free balance of a currency.
func (p *PaperVenue) SetBalance(currency string, amount float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.balances[currency] = amount
}

// Start connects the price stream, if any.
func (p *PaperVenue) Start(ctx context.Context) error {
	if p.stream == nil {
		return nil
	}
	return p.stream.Connect(ctx)
}

// Close stops the price stream, if any.
func (p *PaperVenue) Close() error {
	if p.stream == nil {
		return nil
	}
	return p.stream.Close()
}

// GetTicker returns the streamed price, then the data venue's price, then the
// last price set.
func (p *PaperVenue) GetTicker(ctx context.Context, symbol string) (float64, error) {
	if p.stream != nil {
		if price, ok := p.stream.Price(symbol); ok {
			p.SetPrice(symbol, price)
			return price, nil
		}
	}
	if p.dataVenue != nil {
		price, err := p.dataVenue.GetTicker(ctx, symbol)
		if err == nil {
			p.SetPrice(symbol, price)
			return price, nil
		}
		if cached, ok := p.cachedPrice(symbol); ok {
			return cached, nil
		}
		return 0, err
	}
	if cached, ok := p.cachedPrice(symbol); ok {
		return cached, nil
	}
	return 0, apperrors.NewVenueError(p.Name(), "get_ticker", symbol, apperrors.ErrSymbolNotFound)
}

func (p *PaperVenue) cachedPrice(symbol string) (float64, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	price, ok := p.priceCache[symbol]
	return price, ok && price > 0
}

// GetBalance returns the simulated free balance of symbol's quote currency.
func (p *PaperVenue) GetBalance(ctx context.Context, symbol string) (float64, error) {
	quote := models.QuoteCurrency(symbol)
	if quote == "" {
		return 0, apperrors.NewVenueError(p.Name(), "get_balance", symbol, apperrors.ErrSymbolNotFound)
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.balances[quote], nil
}

// Balance returns the simulated balance of a currency.
func (p *PaperVenue) Balance(currency string) float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.balances[currency]
}

// GetCandles delegates to the data venue.
func (p *PaperVenue) GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error) {
	if p.dataVenue == nil {
		return nil, apperrors.NewDataError("candles", symbol, "paper venue has no data source", nil)
	}
	return p.dataVenue.GetCandles(ctx, symbol, timeframe, limit)
}

// PlaceMarketOrder fills immediately at the current price. Buys debit the
// quote currency and fail on insufficient funds; sells credit it and may take
// the base balance negative, which is how shorts are simulated.
func (p *PaperVenue) PlaceMarketOrder(ctx context.Context, symbol string, side models.OrderSide, qty float64) (*models.OrderAck, error) {
	if qty <= 0 {
		return nil, apperrors.NewVenueError(p.Name(), "place_order", symbol, fmt.Errorf("quantity must be positive, got %v", qty))
	}
	price, err := p.GetTicker(ctx, symbol)
	if err != nil {
		return nil, err
	}

	base, quote := models.SplitSymbol(symbol)
	if quote == "" {
		return nil, apperrors.NewVenueError(p.Name(), "place_order", symbol, apperrors.ErrSymbolNotFound)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	value := price * qty
	switch side {
	case models.OrderSideBuy:
		if p.balances[quote] < value {
			return nil, apperrors.NewVenueError(p.Name(), "place_order", symbol,
				fmt.Errorf("%w: need %.2f %s, have %.2f", apperrors.ErrInsufficientFunds, value, quote, p.balances[quote]))
		}
		p.balances[quote] -= value
		p.balances[base] += qty
	case models.OrderSideSell:
		p.balances[quote] += value
		p.balances[base] -= qty
	default:
		return nil, apperrors.NewVenueError(p.Name(), "place_order", symbol, fmt.Errorf("unknown side %q", side))
	}

	p.orderCounter++
	now := p.now()
	ack := models.OrderAck{
		OrderID:     fmt.Sprintf("PAPER_%d_%d", now.Unix(), p.orderCounter),
		Symbol:      symbol,
		Side:        side,
		Quantity:    qty,
		FilledPrice: price,
		Status:      "FILLED",
		PlacedAt:    now,
	}
	p.orders = append(p.orders, ack)
	return &ack, nil
}

// Orders returns the simulated fills in placement order.
func (p *PaperVenue) Orders() []models.OrderAck {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]models.OrderAck, len(p.orders))
	copy(out, p.orders)
	return out
}

// Ping checks the data venue when there is one.
func (p *PaperVenue) Ping(ctx context.Context) error {
	if pinger, ok := p.dataVenue.(Pinger); ok {
		return pinger.Ping(ctx)
	}
	return nil
}
