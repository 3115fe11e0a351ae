// Package features turns venue candles into indicator snapshots.
package features

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"quantum-trader/internal/analysis/indicators"
	apperrors "quantum-trader/internal/errors"
	"quantum-trader/internal/models"
)

// Provider returns the latest indicator snapshot for a symbol and timeframe.
type Provider interface {
	GetFeatures(ctx context.Context, symbol, timeframe string) models.Result[models.FeatureSnapshot]
}

// CandleSource fetches OHLCV history. broker.Venue satisfies it.
type CandleSource interface {
	GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error)
}

// ModelFeatures are the per-timeframe model inputs, in order, with their defaults.
var ModelFeatures = []struct {
	Name    string
	Default float64
}{
	{models.FeatureRSI, 50},
	{models.FeatureSMA20, 0},
	{models.FeatureEMA50, 0},
	{models.FeatureBBWidth, 0},
	{models.FeatureReturns, 0},
}

// Extract computes the latest indicator values from candles. Indicators
// without enough history are left out so readers fall back to defaults.
func Extract(symbol, timeframe string, candles []models.Candle) (models.FeatureSnapshot, error) {
	if len(candles) < 2 {
		return models.FeatureSnapshot{}, apperrors.NewDataError("candles", symbol, fmt.Sprintf("%d candles on %s", len(candles), timeframe), nil)
	}

	values := make(map[string]float64, 8)
	set := func(name string, series []float64, err error) {
		if err != nil {
			return
		}
		if v, ok := indicators.Last(series); ok {
			values[name] = v
		}
	}

	rsi, err := indicators.NewRSI(14).Calculate(candles)
	set(models.FeatureRSI, rsi, err)
	sma, err := indicators.NewSMA(20).Calculate(candles)
	set(models.FeatureSMA20, sma, err)
	ema, err := indicators.NewEMA(50).Calculate(candles)
	set(models.FeatureEMA50, ema, err)
	obv, err := indicators.NewOBV().Calculate(candles)
	set(models.FeatureOBV, obv, err)
	ret, err := indicators.NewReturns().Calculate(candles)
	set(models.FeatureReturns, ret, err)

	if bands, err := indicators.NewBollingerBands(20, 2).Calculate(candles); err == nil {
		set(models.FeatureBBHigh, bands["upper"], nil)
		set(models.FeatureBBLow, bands["lower"], nil)
		set(models.FeatureBBWidth, bands["width_pct"], nil)
	}

	return models.FeatureSnapshot{
		Symbol:    symbol,
		Timeframe: timeframe,
		Values:    values,
		At:        candles[len(candles)-1].Timestamp,
	}, nil
}

// VenueProvider computes features from venue candles, optionally through a cache.
type VenueProvider struct {
	source CandleSource
	cache  Cache
	limit  int
	ttl    time.Duration
	logger zerolog.Logger
}

// NewVenueProvider creates a provider. cache may be nil.
func NewVenueProvider(source CandleSource, cache Cache, limit int, ttl time.Duration, logger zerolog.Logger) *VenueProvider {
	if limit <= 0 {
		limit = 500
	}
	return &VenueProvider{
		source: source,
		cache:  cache,
		limit:  limit,
		ttl:    ttl,
		logger: logger.With().Str("component", "features").Logger(),
	}
}

// GetFeatures returns the snapshot, or Unavailable when candles cannot be fetched.
func (p *VenueProvider) GetFeatures(ctx context.Context, symbol, timeframe string) models.Result[models.FeatureSnapshot] {
	key := cacheKey(symbol, timeframe)
	if p.cache != nil {
		snap, ok, err := p.cache.Get(ctx, key)
		if err != nil {
			p.logger.Debug().Err(err).Str("key", key).Msg("feature cache read failed")
		} else if ok {
			return models.Available(snap)
		}
	}

	candles, err := p.source.GetCandles(ctx, symbol, timeframe, p.limit)
	if err != nil {
		return models.Unavailable[models.FeatureSnapshot](apperrors.NewDataError("candles", symbol, "fetching "+timeframe, err))
	}

	snap, err := Extract(symbol, timeframe, candles)
	if err != nil {
		return models.Unavailable[models.FeatureSnapshot](err)
	}

	if p.cache != nil && p.ttl > 0 {
		if err := p.cache.Set(ctx, key, snap, p.ttl); err != nil {
			p.logger.Debug().Err(err).Str("key", key).Msg("feature cache write failed")
		}
	}
	return models.Available(snap)
}

// Collect gathers snapshots for every timeframe. It is Unavailable only when
// no timeframe could be read; missing timeframes read as defaults.
func Collect(ctx context.Context, p Provider, symbol string, timeframes []string) models.Result[models.MultiTimeframeFeatures] {
	mtf := make(models.MultiTimeframeFeatures, len(timeframes))
	var lastErr error
	for _, tf := range timeframes {
		res := p.GetFeatures(ctx, symbol, tf)
		snap, ok := res.Get()
		if !ok {
			lastErr = res.Err()
			continue
		}
		mtf[tf] = snap
	}
	if len(mtf) == 0 {
		if lastErr == nil {
			lastErr = apperrors.ErrDataUnavailable
		}
		return models.Unavailable[models.MultiTimeframeFeatures](lastErr)
	}
	return models.Available(mtf)
}

// ModelInput flattens features into the model vector: five values per
// timeframe in timeframe order.
func ModelInput(mtf models.MultiTimeframeFeatures, timeframes []string) []float32 {
	out := make([]float32, 0, len(timeframes)*len(ModelFeatures))
	for _, tf := range timeframes {
		for _, f := range ModelFeatures {
			out = append(out, float32(mtf.Value(tf, f.Name, f.Default)))
		}
	}
	return out
}

func cacheKey(symbol, timeframe string) string {
	return "features:" + symbol + ":" + timeframe
}
