// Package broker provides the trading venues: a simulated paper venue, the
// Binance REST venue and the Kite Connect venue, resolved by a static registry.
package broker

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	apperrors "quantum-trader/internal/errors"
	"quantum-trader/internal/models"
	"quantum-trader/internal/resilience"
)

// Venue defines the operations the trading pipeline needs from a venue.
type Venue interface {
	Name() string

	// GetTicker returns the last traded price for symbol.
	GetTicker(ctx context.Context, symbol string) (float64, error)
	// GetBalance returns the free balance of symbol's quote currency.
	GetBalance(ctx context.Context, symbol string) (float64, error)
	PlaceMarketOrder(ctx context.Context, symbol string, side models.OrderSide, qty float64) (*models.OrderAck, error)
	GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error)
}

// Pinger is implemented by venues that can check connectivity cheaply.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Closer is implemented by venues holding background resources.
type Closer interface {
	Close() error
}

// APIKey is a key/secret pair.
type APIKey struct {
	Key    string
	Secret string
}

// Options configure a venue opened through the registry.
type Options struct {
	// DataSource is the venue the paper venue reads market data from.
	DataSource        string
	Testnet           bool
	BaseURL           string
	RequestsPerSecond int
	PaperBalance      float64
	StreamPrices      bool
	StreamURL         string
	Exchange          string
	Symbols           []string

	Binance APIKey
	// SymbolKeys overrides Binance for individual symbols.
	SymbolKeys      map[string]APIKey
	KiteAPIKey      string
	KiteAccessToken string

	Breaker resilience.BreakerConfig
	Logger  zerolog.Logger
}

// Factory builds a venue.
type Factory func(r *Registry, opts Options) (Venue, error)

// Registry maps venue names to factories. The set is fixed at construction.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns the registry of built-in venues.
func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{
		"paper":   openPaper,
		"binance": openBinance,
		"kite":    openKite,
	}}
}

// Names returns the registered venue names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open builds the named venue wrapped in a circuit breaker.
func (r *Registry) Open(name string, opts Options) (*Guarded, error) {
	venue, err := r.open(name, opts)
	if err != nil {
		return nil, err
	}
	return NewGuarded(venue, opts.Breaker, opts.Logger), nil
}

func (r *Registry) open(name string, opts Options) (Venue, error) {
	factory, ok := r.factories[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q (have %s)", apperrors.ErrVenueNotFound, name, strings.Join(r.Names(), ", "))
	}
	return factory(r, opts)
}

func openPaper(r *Registry, opts Options) (Venue, error) {
	cfg := PaperConfig{
		InitialBalance: opts.PaperBalance,
		Symbols:        opts.Symbols,
	}
	if opts.DataSource != "" && opts.DataSource != "none" && opts.DataSource != "paper" {
		data, err := r.open(opts.DataSource, opts)
		if err != nil {
			return nil, fmt.Errorf("opening paper data source: %w", err)
		}
		cfg.DataVenue = data
	}
	if opts.StreamPrices {
		cfg.Stream = NewPriceStream(PriceStreamConfig{
			URL:     opts.StreamURL,
			Symbols: opts.Symbols,
			Logger:  opts.Logger,
		})
	}
	return NewPaperVenue(cfg), nil
}

func openBinance(_ *Registry, opts Options) (Venue, error) {
	return NewBinanceVenue(BinanceConfig{
		Key:               opts.Binance,
		SymbolKeys:        opts.SymbolKeys,
		Testnet:           opts.Testnet,
		BaseURL:           opts.BaseURL,
		RequestsPerSecond: opts.RequestsPerSecond,
		Logger:            opts.Logger,
	}), nil
}

func openKite(_ *Registry, opts Options) (Venue, error) {
	if opts.KiteAPIKey == "" || opts.KiteAccessToken == "" {
		return nil, apperrors.NewValidationError("credentials.kite", "", "kite venue needs api_key and access_token")
	}
	return NewKiteVenue(KiteConfig{
		APIKey:      opts.KiteAPIKey,
		AccessToken: opts.KiteAccessToken,
		Exchange:    opts.Exchange,
	}), nil
}

// intervalDuration maps a timeframe like "5m" or "4h" to its duration.
func intervalDuration(tf string) (time.Duration, error) {
	switch tf {
	case "1m":
		return time.Minute, nil
	case "3m":
		return 3 * time.Minute, nil
	case "5m":
		return 5 * time.Minute, nil
	case "15m":
		return 15 * time.Minute, nil
	case "30m":
		return 30 * time.Minute, nil
	case "1h":
		return time.Hour, nil
	case "4h":
		return 4 * time.Hour, nil
	case "1d":
		return 24 * time.Hour, nil
	}
	return 0, fmt.Errorf("unsupported timeframe %q", tf)
}
