package indicators

import (
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"quantum-trader/internal/models"
)

// Property: For any valid candle data, the feature indicators stay within
// their mathematically defined bounds:
// - RSI: [0, 100]
// - Bollinger: lower <= middle <= upper, width_pct >= 0
// - SMA: arithmetic mean of closes over the period
// - OBV: each step moves by at most that bar's volume

// candleGen generates valid candle data with realistic OHLCV values
func candleGen() gopter.Gen {
	return gen.Struct(reflect.TypeOf(models.Candle{}), map[string]gopter.Gen{
		"Timestamp": gen.TimeRange(time.Now().Add(-365*24*time.Hour), time.Hour),
		"Open":      gen.Float64Range(100.0, 1000.0),
		"High":      gen.Float64Range(100.0, 1000.0),
		"Low":       gen.Float64Range(100.0, 1000.0),
		"Close":     gen.Float64Range(100.0, 1000.0),
		"Volume":    gen.Float64Range(0.01, 5000.0),
	}).Map(func(c models.Candle) models.Candle {
		// Ensure OHLC constraints: High >= max(Open, Close) and Low <= min(Open, Close)
		c.High = math.Max(c.High, math.Max(c.Open, c.Close))
		c.Low = math.Min(c.Low, math.Min(c.Open, c.Close))
		if c.High <= c.Low {
			c.High = c.Low + 1.0
		}
		return c
	})
}

// candleSliceGen generates a slice of valid candles
func candleSliceGen(minLen, maxLen int) gopter.Gen {
	return gen.SliceOfN(maxLen, candleGen()).Map(func(candles []models.Candle) []models.Candle {
		for len(candles) < minLen {
			if len(candles) == 0 {
				candles = append(candles, models.Candle{Open: 100, High: 101, Low: 99, Close: 100, Volume: 1})
				continue
			}
			candles = append(candles, candles[len(candles)-1])
		}
		for i := range candles {
			candles[i].Timestamp = time.Now().Add(time.Duration(i) * time.Hour)
		}
		return candles
	})
}

func TestProperty_RSIWithinBounds(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("RSI values are within [0, 100]", prop.ForAll(
		func(candles []models.Candle) bool {
			rsi := NewRSI(14)
			values, err := rsi.Calculate(candles)
			if err != nil {
				return true
			}

			for i, v := range values {
				if i < rsi.Period() {
					continue
				}
				if v < 0 || v > 100 {
					return false
				}
			}
			return true
		},
		candleSliceGen(20, 100),
	))

	properties.TestingRun(t)
}

func TestProperty_BollingerBandsOrdering(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("Bollinger Bands: Lower <= Middle <= Upper and width is non-negative", prop.ForAll(
		func(candles []models.Candle) bool {
			bb := NewBollingerBands(20, 2.0)
			values, err := bb.Calculate(candles)
			if err != nil {
				return true
			}

			upper := values["upper"]
			middle := values["middle"]
			lower := values["lower"]
			width := values["width_pct"]

			for i := bb.Period() - 1; i < len(upper); i++ {
				if lower[i] > middle[i]+1e-9 || middle[i] > upper[i]+1e-9 {
					return false
				}
				if width[i] < 0 {
					return false
				}
			}
			return true
		},
		candleSliceGen(25, 100),
	))

	properties.TestingRun(t)
}

func TestProperty_SMAIsAverageOfPrices(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("SMA is the arithmetic mean of closing prices over the period", prop.ForAll(
		func(candles []models.Candle) bool {
			period := 10
			sma := NewSMA(period)
			values, err := sma.Calculate(candles)
			if err != nil {
				return true
			}

			closes := closePrices(candles)

			for i := period - 1; i < len(values); i++ {
				expectedMean := mean(closes[i-period+1 : i+1])
				if math.Abs(values[i]-expectedMean) > 0.0001 {
					return false
				}
			}
			return true
		},
		candleSliceGen(15, 50),
	))

	properties.TestingRun(t)
}

func TestProperty_OBVStepBoundedByVolume(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("OBV changes by exactly zero or one bar's volume", prop.ForAll(
		func(candles []models.Candle) bool {
			values, err := NewOBV().Calculate(candles)
			if err != nil {
				return false
			}
			for i := 1; i < len(values); i++ {
				step := math.Abs(values[i] - values[i-1])
				if step != 0 && math.Abs(step-candles[i].Volume) > 1e-6 {
					return false
				}
			}
			return true
		},
		candleSliceGen(2, 60),
	))

	properties.TestingRun(t)
}

func flatCandles(n int, price float64) []models.Candle {
	candles := make([]models.Candle, n)
	for i := range candles {
		candles[i] = models.Candle{
			Timestamp: time.Unix(int64(i)*60, 0),
			Open:      price, High: price, Low: price, Close: price, Volume: 10,
		}
	}
	return candles
}

func TestRSIFlatSeriesIsNeutral(t *testing.T) {
	values, err := NewRSI(14).Calculate(flatCandles(30, 100))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, _ := Last(values); got != 50 {
		t.Errorf("RSI of flat series = %v, want 50", got)
	}
}

func TestBollingerWidthOfFlatSeriesIsZero(t *testing.T) {
	values, err := NewBollingerBands(20, 2).Calculate(flatCandles(25, 100))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, _ := Last(values["width_pct"]); got != 0 {
		t.Errorf("width_pct = %v, want 0", got)
	}
}

func TestReturns(t *testing.T) {
	candles := []models.Candle{{Close: 100}, {Close: 110}, {Close: 99}}
	values, err := NewReturns().Calculate(candles)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []float64{0, 0.1, -0.1}
	for i := range want {
		if math.Abs(values[i]-want[i]) > 1e-9 {
			t.Errorf("returns[%d] = %v, want %v", i, values[i], want[i])
		}
	}
}

func TestInsufficientData(t *testing.T) {
	tests := []struct {
		name string
		fn   func() error
	}{
		{"rsi", func() error { _, err := NewRSI(14).Calculate(flatCandles(10, 1)); return err }},
		{"sma", func() error { _, err := NewSMA(20).Calculate(flatCandles(10, 1)); return err }},
		{"ema", func() error { _, err := NewEMA(50).Calculate(flatCandles(10, 1)); return err }},
		{"bollinger", func() error { _, err := NewBollingerBands(20, 2).Calculate(flatCandles(10, 1)); return err }},
		{"returns", func() error { _, err := NewReturns().Calculate(flatCandles(1, 1)); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(); err != ErrInsufficientData {
				t.Errorf("got %v, want ErrInsufficientData", err)
			}
		})
	}
}
