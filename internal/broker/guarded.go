package broker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	apperrors "quantum-trader/internal/errors"
	"quantum-trader/internal/logging"
	"quantum-trader/internal/models"
	"quantum-trader/internal/resilience"
)

// CallObserver receives venue call latencies. metrics.Recorder satisfies it.
type CallObserver interface {
	VenueCall(op string, d time.Duration, err error)
}

// Guarded wraps a venue in a circuit breaker. Every failure it returns is a
// *errors.VenueError; data errors from GetCandles pass through unchanged.
type Guarded struct {
	venue    Venue
	breaker  *resilience.CircuitBreaker
	logger   zerolog.Logger
	observer CallObserver
}

// NewGuarded wraps venue.
func NewGuarded(venue Venue, cfg resilience.BreakerConfig, logger zerolog.Logger) *Guarded {
	return &Guarded{
		venue:   venue,
		breaker: resilience.NewCircuitBreaker(venue.Name(), cfg),
		logger:  logging.WithComponent(logger, "venue"),
	}
}

// Name returns the wrapped venue's name.
func (g *Guarded) Name() string { return g.venue.Name() }

// Venue returns the wrapped venue.
func (g *Guarded) Venue() Venue { return g.venue }

// Breaker returns the circuit breaker.
func (g *Guarded) Breaker() *resilience.CircuitBreaker { return g.breaker }

// SetObserver sets the latency observer. Call before use.
func (g *Guarded) SetObserver(o CallObserver) { g.observer = o }

func (g *Guarded) wrap(op, symbol string, start time.Time, err error) error {
	if g.observer != nil {
		g.observer.VenueCall(op, time.Since(start), err)
	}
	if err == nil {
		return nil
	}
	var de *apperrors.DataError
	if errors.As(err, &de) || apperrors.IsVenue(err) {
		return err
	}
	if errors.Is(err, resilience.ErrCircuitOpen) {
		g.logger.Warn().Str("op", op).Str("symbol", symbol).Msg("Venue circuit open, call rejected")
	}
	return apperrors.NewVenueError(g.venue.Name(), op, symbol, err)
}

// GetTicker returns the last price.
func (g *Guarded) GetTicker(ctx context.Context, symbol string) (float64, error) {
	start := time.Now()
	price, err := resilience.ExecuteWithResult(ctx, g.breaker, func(ctx context.Context) (float64, error) {
		return g.venue.GetTicker(ctx, symbol)
	})
	return price, g.wrap("get_ticker", symbol, start, err)
}

// GetBalance returns the free quote balance.
func (g *Guarded) GetBalance(ctx context.Context, symbol string) (float64, error) {
	start := time.Now()
	balance, err := resilience.ExecuteWithResult(ctx, g.breaker, func(ctx context.Context) (float64, error) {
		return g.venue.GetBalance(ctx, symbol)
	})
	return balance, g.wrap("get_balance", symbol, start, err)
}

// PlaceMarketOrder places a market order.
func (g *Guarded) PlaceMarketOrder(ctx context.Context, symbol string, side models.OrderSide, qty float64) (*models.OrderAck, error) {
	start := time.Now()
	ack, err := resilience.ExecuteWithResult(ctx, g.breaker, func(ctx context.Context) (*models.OrderAck, error) {
		return g.venue.PlaceMarketOrder(ctx, symbol, side, qty)
	})
	if err := g.wrap("place_order", symbol, start, err); err != nil {
		return nil, err
	}
	return ack, nil
}

// GetCandles returns OHLCV history. A data error means the venue answered,
// so it does not count against the breaker.
func (g *Guarded) GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error) {
	start := time.Now()
	var dataErr error
	candles, err := resilience.ExecuteWithResult(ctx, g.breaker, func(ctx context.Context) ([]models.Candle, error) {
		c, err := g.venue.GetCandles(ctx, symbol, timeframe, limit)
		var de *apperrors.DataError
		if errors.As(err, &de) {
			dataErr = err
			return nil, nil
		}
		return c, err
	})
	if dataErr != nil {
		return nil, dataErr
	}
	return candles, g.wrap("get_candles", symbol, start, err)
}

// Ping checks the wrapped venue when it supports it.
func (g *Guarded) Ping(ctx context.Context) error {
	if pinger, ok := g.venue.(Pinger); ok {
		start := time.Now()
		return g.wrap("ping", "", start, pinger.Ping(ctx))
	}
	return nil
}

// Start starts background feeds of the wrapped venue.
func (g *Guarded) Start(ctx context.Context) error {
	if starter, ok := g.venue.(interface{ Start(context.Context) error }); ok {
		return starter.Start(ctx)
	}
	return nil
}

// Close releases the wrapped venue's resources.
func (g *Guarded) Close() error {
	if closer, ok := g.venue.(Closer); ok {
		return closer.Close()
	}
	return nil
}
