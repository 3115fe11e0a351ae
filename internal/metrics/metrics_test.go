package metrics

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"quantum-trader/internal/models"
)

func TestRecorder(t *testing.T) {
	r := New()

	r.Cycle("BTC/EUR", "traded", 150*time.Millisecond)
	r.Cycle("BTC/EUR", "traded", 50*time.Millisecond)
	r.Signal(models.TradeSignal{Symbol: "BTC/EUR", Direction: -0.4})
	r.TradeOpened(models.TradeRecord{Symbol: "BTC/EUR", Side: models.SideShort})
	r.TradeClosed(models.TradeRecord{Symbol: "BTC/EUR", State: models.TradeClosedExpired})
	r.AdmissionDenied("max_open_trades")
	r.StoreWrite("record_trade", nil)
	r.StoreWrite("record_trade", errors.New("disk full"))
	r.StoreDropped("record_trade")
	r.BreakerOpen("binance", true)
	r.Report(models.RiskReport{
		CapitalState: models.CapitalState{InitialCapital: 10000, CurrentCapital: 10020},
		OpenTrades:   2,
	})

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"cycles", testutil.ToFloat64(r.cycles.WithLabelValues("BTC/EUR", "traded")), 2},
		{"short signals", testutil.ToFloat64(r.signals.WithLabelValues("BTC/EUR", "short")), 1},
		{"opened", testutil.ToFloat64(r.tradesOpened.WithLabelValues("BTC/EUR", "short")), 1},
		{"expired", testutil.ToFloat64(r.tradesClosed.WithLabelValues("BTC/EUR", "EXPIRED")), 1},
		{"denied", testutil.ToFloat64(r.admissionDeny.WithLabelValues("max_open_trades")), 1},
		{"store ok", testutil.ToFloat64(r.storeWrites.WithLabelValues("record_trade", "ok")), 1},
		{"store error", testutil.ToFloat64(r.storeWrites.WithLabelValues("record_trade", "error")), 1},
		{"dropped", testutil.ToFloat64(r.storeDropped.WithLabelValues("record_trade")), 1},
		{"breaker", testutil.ToFloat64(r.breakerState.WithLabelValues("binance")), 1},
		{"capital", testutil.ToFloat64(r.capital), 10020},
		{"open trades", testutil.ToFloat64(r.openTrades), 2},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}

	if err := testutil.GatherAndCompare(r.Registry(), strings.NewReader(`
# HELP quantum_trader_open_trades Number of open trades
# TYPE quantum_trader_open_trades gauge
quantum_trader_open_trades 2
`), "quantum_trader_open_trades"); err != nil {
		t.Errorf("gather: %v", err)
	}
}

func TestNilRecorderIsSafe(t *testing.T) {
	var r *Recorder
	r.Cycle("BTC/EUR", "error", time.Second)
	r.Signal(models.TradeSignal{})
	r.TradeOpened(models.TradeRecord{})
	r.TradeClosed(models.TradeRecord{})
	r.AdmissionDenied("x")
	r.LastPrice("BTC/EUR", 1)
	r.Report(models.RiskReport{})
	r.StoreWrite("x", nil)
	r.StoreDropped("x")
	r.BreakerOpen("paper", false)
	r.VenueCall("get_ticker", time.Millisecond, nil)
	if r.Registry() != nil {
		t.Error("nil recorder returned a registry")
	}
}
