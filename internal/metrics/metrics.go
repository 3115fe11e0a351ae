// Package metrics exposes the trading engine's Prometheus metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"quantum-trader/internal/models"
)

const namespace = "quantum_trader"

// Recorder records engine metrics on its own registry. A nil *Recorder is
// valid and records nothing.
type Recorder struct {
	registry *prometheus.Registry

	cycles        *prometheus.CounterVec
	cycleDuration *prometheus.HistogramVec
	signals       *prometheus.CounterVec
	tradesOpened  *prometheus.CounterVec
	tradesClosed  *prometheus.CounterVec
	admissionDeny *prometheus.CounterVec
	lastPrice     *prometheus.GaugeVec
	capital       prometheus.Gauge
	openTrades    prometheus.Gauge
	drawdownPct   prometheus.Gauge
	sharpe        prometheus.Gauge
	storeWrites   *prometheus.CounterVec
	storeDropped  *prometheus.CounterVec
	breakerState  *prometheus.GaugeVec
	venueCalls    *prometheus.HistogramVec
}

// New creates a recorder with a fresh registry including Go and process
// collectors.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Recorder{
		registry: reg,
		cycles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Trading cycles by symbol and outcome",
		}, []string{"symbol", "outcome"}),
		cycleDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of one symbol's trading cycle",
			Buckets:   prometheus.DefBuckets,
		}, []string{"symbol"}),
		signals: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_total",
			Help:      "Generated signals by symbol and direction",
		}, []string{"symbol", "direction"}),
		tradesOpened: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_opened_total",
			Help:      "Trades opened by symbol and side",
		}, []string{"symbol", "side"}),
		tradesClosed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_closed_total",
			Help:      "Trades closed by symbol and final state",
		}, []string{"symbol", "state"}),
		admissionDeny: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admission_denied_total",
			Help:      "Proposals denied by admission rule",
		}, []string{"rule"}),
		lastPrice: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_price",
			Help:      "Last observed price for a symbol",
		}, []string{"symbol"}),
		capital: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "capital_current",
			Help:      "Current capital",
		}),
		openTrades: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_trades",
			Help:      "Number of open trades",
		}),
		drawdownPct: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "max_drawdown_percent",
			Help:      "Worst single-trade loss as a percent of initial capital",
		}),
		sharpe: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sharpe_ratio",
			Help:      "Sharpe ratio of closed trade returns",
		}),
		storeWrites: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_writes_total",
			Help:      "Ledger writes by operation and result",
		}, []string{"op", "result"}),
		storeDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_dropped_total",
			Help:      "Ledger writes dropped because the queue was full",
		}, []string{"op"}),
		breakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "venue_breaker_open",
			Help:      "1 when the venue circuit breaker is not closed",
		}, []string{"venue"}),
		venueCalls: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "venue_call_duration_seconds",
			Help:      "Venue call latency by operation and result",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op", "result"}),
	}
}

// Registry returns the registry the recorder writes to.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Cycle records the outcome and duration of one symbol's cycle.
func (r *Recorder) Cycle(symbol, outcome string, d time.Duration) {
	if r == nil {
		return
	}
	r.cycles.WithLabelValues(symbol, outcome).Inc()
	r.cycleDuration.WithLabelValues(symbol).Observe(d.Seconds())
}

// Signal records a generated signal.
func (r *Recorder) Signal(signal models.TradeSignal) {
	if r == nil {
		return
	}
	direction := "flat"
	switch {
	case signal.Direction > 0:
		direction = "long"
	case signal.Direction < 0:
		direction = "short"
	}
	r.signals.WithLabelValues(signal.Symbol, direction).Inc()
}

// TradeOpened records an opened trade.
func (r *Recorder) TradeOpened(trade models.TradeRecord) {
	if r == nil {
		return
	}
	r.tradesOpened.WithLabelValues(trade.Symbol, string(trade.Side)).Inc()
}

// TradeClosed records a closed or expired trade.
func (r *Recorder) TradeClosed(trade models.TradeRecord) {
	if r == nil {
		return
	}
	r.tradesClosed.WithLabelValues(trade.Symbol, string(trade.State)).Inc()
}

// AdmissionDenied records a denied proposal.
func (r *Recorder) AdmissionDenied(rule string) {
	if r == nil {
		return
	}
	r.admissionDeny.WithLabelValues(rule).Inc()
}

// LastPrice records the last observed price.
func (r *Recorder) LastPrice(symbol string, price float64) {
	if r == nil {
		return
	}
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

// Report records the capital and risk gauges.
func (r *Recorder) Report(report models.RiskReport) {
	if r == nil {
		return
	}
	r.capital.Set(report.CurrentCapital)
	r.openTrades.Set(float64(report.OpenTrades))
	r.drawdownPct.Set(report.MaxDrawdownPercent)
	r.sharpe.Set(report.SharpeRatio)
}

// StoreWrite records a ledger write outcome.
func (r *Recorder) StoreWrite(op string, err error) {
	if r == nil {
		return
	}
	r.storeWrites.WithLabelValues(op, result(err)).Inc()
}

// StoreDropped records a dropped ledger write.
func (r *Recorder) StoreDropped(op string) {
	if r == nil {
		return
	}
	r.storeDropped.WithLabelValues(op).Inc()
}

// BreakerOpen records whether a venue breaker is tripped.
func (r *Recorder) BreakerOpen(venue string, open bool) {
	if r == nil {
		return
	}
	v := 0.0
	if open {
		v = 1
	}
	r.breakerState.WithLabelValues(venue).Set(v)
}

// VenueCall records a venue call latency.
func (r *Recorder) VenueCall(op string, d time.Duration, err error) {
	if r == nil {
		return
	}
	r.venueCalls.WithLabelValues(op, result(err)).Observe(d.Seconds())
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
