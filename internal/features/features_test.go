package features

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"quantum-trader/internal/models"
)

type fakeSource struct {
	candles map[string][]models.Candle
	calls   int
}

func (f *fakeSource) GetCandles(_ context.Context, symbol, timeframe string, limit int) ([]models.Candle, error) {
	f.calls++
	c, ok := f.candles[timeframe]
	if !ok {
		return nil, errors.New("no data for " + symbol + " " + timeframe)
	}
	if len(c) > limit {
		c = c[len(c)-limit:]
	}
	return c, nil
}

func risingCandles(n int) []models.Candle {
	out := make([]models.Candle, n)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range out {
		price := 100 + float64(i)
		out[i] = models.Candle{
			Timestamp: start.Add(time.Duration(i) * time.Hour),
			Open:      price - 0.5,
			High:      price + 1,
			Low:       price - 1,
			Close:     price,
			Volume:    10,
		}
	}
	return out
}

func TestExtract(t *testing.T) {
	snap, err := Extract("BTC/EUR", "1h", risingCandles(60))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, key := range []string{
		models.FeatureRSI, models.FeatureSMA20, models.FeatureEMA50,
		models.FeatureBBHigh, models.FeatureBBLow, models.FeatureBBWidth,
		models.FeatureOBV, models.FeatureReturns,
	} {
		if _, ok := snap.Values[key]; !ok {
			t.Errorf("missing feature %s", key)
		}
	}

	// Strictly rising closes have no losses.
	if got := snap.Values[models.FeatureRSI]; got != 100 {
		t.Errorf("rsi = %v, want 100", got)
	}
	// SMA of the last 20 closes 140..159
	if got := snap.Values[models.FeatureSMA20]; math.Abs(got-149.5) > 1e-9 {
		t.Errorf("sma_20 = %v, want 149.5", got)
	}
	if got := snap.Values[models.FeatureOBV]; got != 600 {
		t.Errorf("obv = %v, want 600", got)
	}
	if got := snap.Values[models.FeatureReturns]; math.Abs(got-1.0/158) > 1e-12 {
		t.Errorf("returns = %v, want %v", got, 1.0/158)
	}
}

func TestExtractShortHistoryOmitsSlowIndicators(t *testing.T) {
	snap, err := Extract("BTC/EUR", "4h", risingCandles(25))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := snap.Values[models.FeatureEMA50]; ok {
		t.Error("ema_50 should be absent with 25 candles")
	}
	if _, ok := snap.Values[models.FeatureBBWidth]; !ok {
		t.Error("bb_width should be present with 25 candles")
	}
}

func TestExtractTooFewCandles(t *testing.T) {
	if _, err := Extract("BTC/EUR", "1h", risingCandles(1)); err == nil {
		t.Fatal("expected error for a single candle")
	}
}

func TestModelInputDefaults(t *testing.T) {
	mtf := models.MultiTimeframeFeatures{
		"1h": {Values: map[string]float64{models.FeatureRSI: 70, models.FeatureBBWidth: 2.5}},
	}
	got := ModelInput(mtf, []string{"1h", "4h"})
	want := []float32{70, 0, 0, 2.5, 0, 50, 0, 0, 0, 0}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("input[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestVenueProviderUsesCache(t *testing.T) {
	src := &fakeSource{candles: map[string][]models.Candle{"1h": risingCandles(60)}}
	p := NewVenueProvider(src, NewMemoryCache(), 500, time.Minute, zerolog.Nop())

	ctx := context.Background()
	first := p.GetFeatures(ctx, "BTC/EUR", "1h")
	second := p.GetFeatures(ctx, "BTC/EUR", "1h")

	if !first.OK() || !second.OK() {
		t.Fatal("expected available features")
	}
	if src.calls != 1 {
		t.Errorf("source calls = %d, want 1", src.calls)
	}
}

func TestVenueProviderUnavailable(t *testing.T) {
	p := NewVenueProvider(&fakeSource{}, nil, 500, 0, zerolog.Nop())
	res := p.GetFeatures(context.Background(), "BTC/EUR", "1h")
	if res.OK() {
		t.Fatal("expected unavailable")
	}
	if res.Err() == nil {
		t.Error("unavailable result should carry a cause")
	}
}

func TestCollect(t *testing.T) {
	src := &fakeSource{candles: map[string][]models.Candle{"1h": risingCandles(60)}}
	p := NewVenueProvider(src, nil, 500, 0, zerolog.Nop())
	ctx := context.Background()

	t.Run("partial", func(t *testing.T) {
		mtf, ok := Collect(ctx, p, "BTC/EUR", []string{"1h", "4h"}).Get()
		if !ok {
			t.Fatal("expected available with one timeframe")
		}
		if _, ok := mtf["4h"]; ok {
			t.Error("4h should be missing")
		}
	})

	t.Run("none", func(t *testing.T) {
		if Collect(ctx, p, "BTC/EUR", []string{"5m"}).OK() {
			t.Fatal("expected unavailable")
		}
	})
}

func TestMemoryCacheExpiry(t *testing.T) {
	c := NewMemoryCache()
	now := time.Now()
	c.now = func() time.Time { return now }

	ctx := context.Background()
	_ = c.Set(ctx, "k", models.FeatureSnapshot{Symbol: "BTC/EUR"}, time.Minute)
	if _, ok, _ := c.Get(ctx, "k"); !ok {
		t.Fatal("expected hit before expiry")
	}

	now = now.Add(2 * time.Minute)
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Fatal("expected miss after expiry")
	}
}
