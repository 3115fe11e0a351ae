package trading

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"quantum-trader/internal/models"
	"quantum-trader/internal/notify"
)

// fakeFeatures serves the same indicator values on every timeframe.
type fakeFeatures struct {
	values map[string]float64
	err    error
}

func (f *fakeFeatures) GetFeatures(_ context.Context, symbol, timeframe string) models.Result[models.FeatureSnapshot] {
	if f.err != nil {
		return models.Unavailable[models.FeatureSnapshot](f.err)
	}
	return models.Available(models.FeatureSnapshot{Symbol: symbol, Timeframe: timeframe, Values: f.values})
}

type fakeScorer struct {
	pred models.Prediction
	err  error
	mu   sync.Mutex
	seen [][]float32
}

func (s *fakeScorer) Name() string { return "fake" }
func (s *fakeScorer) Close() error { return nil }

func (s *fakeScorer) Score(_ context.Context, input []float32) models.Result[models.Prediction] {
	s.mu.Lock()
	s.seen = append(s.seen, input)
	s.mu.Unlock()
	if s.err != nil {
		return models.Unavailable[models.Prediction](s.err)
	}
	return models.Available(s.pred)
}

// fakeVenue fills market orders at the current ticker price.
type fakeVenue struct {
	mu        sync.Mutex
	prices    map[string]float64
	balance   float64
	tickerErr error
	down      map[string]bool
	orders    []placedOrder
}

func newFakeVenue(price float64) *fakeVenue {
	return &fakeVenue{
		prices:  map[string]float64{"BTC/EUR": price, "ETH/EUR": price, "SOL/EUR": price},
		balance: 10000,
		down:    make(map[string]bool),
	}
}

func (v *fakeVenue) setPrice(symbol string, price float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.prices[symbol] = price
}

func (v *fakeVenue) GetTicker(_ context.Context, symbol string) (float64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.tickerErr != nil {
		return 0, v.tickerErr
	}
	if v.down[symbol] {
		return 0, errors.New(symbol + " unavailable")
	}
	return v.prices[symbol], nil
}

func (v *fakeVenue) setDown(symbol string, down bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.down[symbol] = down
}

func (v *fakeVenue) GetBalance(_ context.Context, _ string) (float64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.balance, nil
}

func (v *fakeVenue) PlaceMarketOrder(_ context.Context, symbol string, side models.OrderSide, qty float64) (*models.OrderAck, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.orders = append(v.orders, placedOrder{symbol: symbol, side: side, qty: qty})
	return &models.OrderAck{
		OrderID:     "PAPER",
		Symbol:      symbol,
		Side:        side,
		Quantity:    qty,
		FilledPrice: v.prices[symbol],
		Status:      "FILLED",
	}, nil
}

func (v *fakeVenue) orderCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.orders)
}

type fakeRecorder struct {
	mu      sync.Mutex
	trades  []models.TradeRecord
	rollups []float64
}

func (r *fakeRecorder) RecordTrade(trade models.TradeRecord) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trades = append(r.trades, trade)
	return true
}

func (r *fakeRecorder) UpdateDailyPerformance(capitalEnd float64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rollups = append(r.rollups, capitalEnd)
	return true
}

type captureChannel struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (c *captureChannel) Name() string    { return "capture" }
func (c *captureChannel) IsEnabled() bool { return true }

func (c *captureChannel) Send(_ context.Context, n notify.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, n)
	return nil
}

func (c *captureChannel) types() []notify.NotificationType {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]notify.NotificationType, len(c.sent))
	for i, n := range c.sent {
		out[i] = n.Type
	}
	return out
}

type pipelineFixture struct {
	pipeline *Pipeline
	features *fakeFeatures
	scorer   *fakeScorer
	venue    *fakeVenue
	recorder *fakeRecorder
	channel  *captureChannel
	clock    *testClock
}

func testPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Timeframes:          []string{"1h", "4h"},
		ReferenceTimeframes: []string{"1h", "4h"},
		InitialCapital:      10000,
		MaxRiskPerTrade:     0.02,
		StopLossPercent:     0.02,
		TakeProfitPercent:   0.05,
		MaxOpenTrades:       3,
		MaxTradeDuration:    24 * time.Hour,
	}
}

// newPipelineFixture builds a pipeline that sees a bullish regime and a buy
// prediction at price 100.
func newPipelineFixture(cfg PipelineConfig) *pipelineFixture {
	f := &pipelineFixture{
		features: &fakeFeatures{values: map[string]float64{models.FeatureRSI: 70, models.FeatureBBWidth: 1}},
		scorer:   &fakeScorer{pred: models.Prediction{Class: 2, Confidence: 0.9}},
		venue:    newFakeVenue(100),
		recorder: &fakeRecorder{},
		channel:  &captureChannel{},
		clock:    &testClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
	}
	f.pipeline = NewPipeline(cfg, PipelineDeps{
		Features: f.features,
		Scorer:   f.scorer,
		Venue:    f.venue,
		Recorder: f.recorder,
		Notifier: notify.NewMultiNotifier("all", f.channel),
		Logger:   zerolog.Nop(),
	})
	f.pipeline.SetClock(f.clock.now)
	return f
}

func TestGenerateTradingSignal(t *testing.T) {
	tests := []struct {
		name           string
		featureErr     error
		scoreErr       error
		class          int
		wantDirection  float64
		wantConfidence float64
		wantKind       models.RegimeKind
		wantExecutable bool
	}{
		{name: "bullish buy", class: 2, wantDirection: 1.2, wantConfidence: 0.36, wantKind: models.RegimeBullish, wantExecutable: true},
		{name: "bullish sell", class: 0, wantDirection: -1.2, wantConfidence: 0.36, wantKind: models.RegimeBullish, wantExecutable: true},
		{name: "hold", class: 1, wantDirection: 0, wantConfidence: 0.36, wantKind: models.RegimeBullish, wantExecutable: true},
		{name: "features unavailable", featureErr: errors.New("no candles"), wantDirection: 0, wantConfidence: 0.5, wantKind: models.RegimeNeutral},
		{name: "prediction unavailable", scoreErr: errors.New("model down"), wantDirection: 0, wantConfidence: 0.5, wantKind: models.RegimeNeutral},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPipelineFixture(testPipelineConfig())
			f.features.err = tt.featureErr
			f.scorer.err = tt.scoreErr
			f.scorer.pred = models.Prediction{Class: tt.class, Confidence: 0.9}

			signal, assessment := f.pipeline.GenerateTradingSignal(context.Background(), "BTC/EUR")

			if signal.Symbol != "BTC/EUR" {
				t.Errorf("Symbol = %q, want BTC/EUR", signal.Symbol)
			}
			if !approx(signal.Direction, tt.wantDirection) {
				t.Errorf("Direction = %v, want %v", signal.Direction, tt.wantDirection)
			}
			if !approx(signal.Confidence, tt.wantConfidence) {
				t.Errorf("Confidence = %v, want %v", signal.Confidence, tt.wantConfidence)
			}
			if signal.Regime.Kind != tt.wantKind {
				t.Errorf("Regime = %s, want %s", signal.Regime.Kind, tt.wantKind)
			}
			if assessment.Executable != tt.wantExecutable {
				t.Errorf("Executable = %v, want %v", assessment.Executable, tt.wantExecutable)
			}
			if !tt.wantExecutable && assessment != models.DefaultAssessment() {
				t.Errorf("assessment = %+v, want default", assessment)
			}
		})
	}
}

func TestGenerateTradingSignalModelInput(t *testing.T) {
	f := newPipelineFixture(testPipelineConfig())
	f.pipeline.GenerateTradingSignal(context.Background(), "BTC/EUR")

	if len(f.scorer.seen) != 1 {
		t.Fatalf("scorer called %d times, want 1", len(f.scorer.seen))
	}
	input := f.scorer.seen[0]
	if len(input) != 10 {
		t.Fatalf("input length = %d, want 10", len(input))
	}
	// rsi, sma_20, ema_50, bb_width, returns per timeframe
	want := []float32{70, 0, 0, 1, 0, 70, 0, 0, 1, 0}
	for i := range want {
		if input[i] != want[i] {
			t.Errorf("input[%d] = %v, want %v", i, input[i], want[i])
		}
	}
}

func TestExecuteTradeOpensLong(t *testing.T) {
	f := newPipelineFixture(testPipelineConfig())
	ctx := context.Background()

	signal, assessment := f.pipeline.GenerateTradingSignal(ctx, "BTC/EUR")
	trade, err := f.pipeline.ExecuteTrade(ctx, signal, assessment)
	if err != nil {
		t.Fatalf("ExecuteTrade() error = %v", err)
	}
	if trade == nil {
		t.Fatal("ExecuteTrade() = nil, want a trade")
	}

	// position size percent is capped at max risk: 0.02 * 10000 / 100
	if !approx(trade.Quantity, 2) {
		t.Errorf("Quantity = %v, want 2", trade.Quantity)
	}
	if trade.Side != models.SideLong || trade.State != models.TradeOpen {
		t.Errorf("trade = %s %s, want long OPEN", trade.Side, trade.State)
	}
	if !approx(trade.StopPrice, 98) || !approx(trade.TakeProfitPrice, 105) {
		t.Errorf("bracket = %v/%v, want 98/105", trade.StopPrice, trade.TakeProfitPrice)
	}
	if f.venue.orders[0].side != models.OrderSideBuy {
		t.Errorf("order side = %s, want BUY", f.venue.orders[0].side)
	}
	if len(f.recorder.trades) != 1 || f.recorder.trades[0].ID != trade.ID {
		t.Errorf("recorded %d trades, want the open trade", len(f.recorder.trades))
	}
	if got := f.channel.types(); len(got) != 1 || got[0] != notify.NotificationTrade {
		t.Errorf("notifications = %v, want one trade notification", got)
	}
	if f.pipeline.GetRiskReport().OpenTrades != 1 {
		t.Errorf("OpenTrades = %d, want 1", f.pipeline.GetRiskReport().OpenTrades)
	}
}

func TestExecuteTradeOpensShort(t *testing.T) {
	f := newPipelineFixture(testPipelineConfig())
	f.scorer.pred = models.Prediction{Class: 0, Confidence: 0.9}
	ctx := context.Background()

	signal, assessment := f.pipeline.GenerateTradingSignal(ctx, "ETH/EUR")
	trade, err := f.pipeline.ExecuteTrade(ctx, signal, assessment)
	if err != nil || trade == nil {
		t.Fatalf("ExecuteTrade() = %v, %v", trade, err)
	}
	if trade.Side != models.SideShort {
		t.Errorf("Side = %s, want short", trade.Side)
	}
	if !approx(trade.StopPrice, 102) || !approx(trade.TakeProfitPrice, 95) {
		t.Errorf("bracket = %v/%v, want 102/95", trade.StopPrice, trade.TakeProfitPrice)
	}
	if f.venue.orders[0].side != models.OrderSideSell {
		t.Errorf("order side = %s, want SELL", f.venue.orders[0].side)
	}
}

func TestExecuteTradeSkips(t *testing.T) {
	tests := []struct {
		name       string
		signal     models.TradeSignal
		assessment models.RiskAssessment
		minConf    float64
	}{
		{
			name:       "not executable",
			signal:     models.TradeSignal{Symbol: "BTC/EUR", Direction: 1, Confidence: 0.9},
			assessment: models.RiskAssessment{Executable: false, RiskScore: 0.7},
		},
		{
			name:       "flat direction",
			signal:     models.TradeSignal{Symbol: "BTC/EUR", Direction: 0, Confidence: 0.9},
			assessment: models.RiskAssessment{Executable: true, RiskScore: 0.1, PositionSizePercent: 0.02},
		},
		{
			name:       "below min confidence",
			signal:     models.TradeSignal{Symbol: "BTC/EUR", Direction: 1, Confidence: 0.4},
			assessment: models.RiskAssessment{Executable: true, RiskScore: 0.1, PositionSizePercent: 0.02},
			minConf:    0.7,
		},
		{
			name:       "neutral default",
			signal:     models.TradeSignal{Symbol: "BTC/EUR", Confidence: 0.5},
			assessment: models.DefaultAssessment(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testPipelineConfig()
			cfg.MinConfidence = tt.minConf
			f := newPipelineFixture(cfg)

			trade, err := f.pipeline.ExecuteTrade(context.Background(), tt.signal, tt.assessment)
			if err != nil {
				t.Fatalf("ExecuteTrade() error = %v", err)
			}
			if trade != nil {
				t.Errorf("ExecuteTrade() = %+v, want nil", trade)
			}
			if n := f.venue.orderCount(); n != 0 {
				t.Errorf("placed %d orders, want 0", n)
			}
		})
	}
}

func TestExecuteTradeAdmissionDenied(t *testing.T) {
	cfg := testPipelineConfig()
	cfg.MaxOpenTrades = 1
	f := newPipelineFixture(cfg)
	ctx := context.Background()

	for _, symbol := range []string{"BTC/EUR", "ETH/EUR"} {
		signal, assessment := f.pipeline.GenerateTradingSignal(ctx, symbol)
		if _, err := f.pipeline.ExecuteTrade(ctx, signal, assessment); err != nil {
			t.Fatalf("ExecuteTrade(%s) error = %v", symbol, err)
		}
	}

	if n := f.venue.orderCount(); n != 1 {
		t.Errorf("placed %d orders, want 1", n)
	}
	if got := f.pipeline.OpenTrades(); len(got) != 1 || got[0].Symbol != "BTC/EUR" {
		t.Errorf("OpenTrades() = %v, want only BTC/EUR", got)
	}
}

func TestExecuteTradeExpiresStaleTrade(t *testing.T) {
	f := newPipelineFixture(testPipelineConfig())
	ctx := context.Background()

	signal, assessment := f.pipeline.GenerateTradingSignal(ctx, "BTC/EUR")
	first, err := f.pipeline.ExecuteTrade(ctx, signal, assessment)
	if err != nil || first == nil {
		t.Fatalf("first ExecuteTrade() = %v, %v", first, err)
	}

	f.clock.advance(25 * time.Hour)
	f.venue.setPrice("BTC/EUR", 101)

	second, err := f.pipeline.ExecuteTrade(ctx, signal, assessment)
	if err != nil || second == nil {
		t.Fatalf("second ExecuteTrade() = %v, %v", second, err)
	}
	if second.ID == first.ID {
		t.Error("second trade reused the expired trade id")
	}

	history := f.pipeline.Tracker().History()
	if len(history) != 1 || history[0].State != models.TradeClosedExpired {
		t.Fatalf("history = %+v, want one expired trade", history)
	}
	if !approx(history[0].ProfitLoss, first.Quantity) {
		t.Errorf("expired ProfitLoss = %v, want %v", history[0].ProfitLoss, first.Quantity)
	}
	// open, expired close, new open
	if len(f.recorder.trades) != 3 {
		t.Errorf("recorded %d trades, want 3", len(f.recorder.trades))
	}
	if len(f.recorder.rollups) != 1 {
		t.Errorf("rollups = %d, want 1", len(f.recorder.rollups))
	}
}

func TestMonitorExits(t *testing.T) {
	tests := []struct {
		name      string
		price     float64
		wantClose bool
		wantPL    float64
	}{
		{name: "inside bracket", price: 101, wantClose: false},
		{name: "take profit", price: 106, wantClose: true, wantPL: 12},
		{name: "stop loss", price: 97, wantClose: true, wantPL: -6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPipelineFixture(testPipelineConfig())
			ctx := context.Background()

			signal, assessment := f.pipeline.GenerateTradingSignal(ctx, "BTC/EUR")
			if _, err := f.pipeline.ExecuteTrade(ctx, signal, assessment); err != nil {
				t.Fatalf("ExecuteTrade() error = %v", err)
			}

			f.venue.setPrice("BTC/EUR", tt.price)
			closed, err := f.pipeline.MonitorExits(ctx, "BTC/EUR")
			if err != nil {
				t.Fatalf("MonitorExits() error = %v", err)
			}
			if (closed != nil) != tt.wantClose {
				t.Fatalf("MonitorExits() closed = %v, want %v", closed != nil, tt.wantClose)
			}
			if !tt.wantClose {
				return
			}

			if !approx(closed.ProfitLoss, tt.wantPL) {
				t.Errorf("ProfitLoss = %v, want %v", closed.ProfitLoss, tt.wantPL)
			}
			report := f.pipeline.GetRiskReport()
			if !approx(report.CurrentCapital, 10000+tt.wantPL) {
				t.Errorf("CurrentCapital = %v, want %v", report.CurrentCapital, 10000+tt.wantPL)
			}
			if report.OpenTrades != 0 || report.TotalTrades != 1 {
				t.Errorf("report = %+v, want 0 open, 1 total", report)
			}
			if len(f.recorder.rollups) != 1 || !approx(f.recorder.rollups[0], 10000+tt.wantPL) {
				t.Errorf("rollups = %v", f.recorder.rollups)
			}
		})
	}
}

func TestMonitorExitsWithoutOpenTrade(t *testing.T) {
	f := newPipelineFixture(testPipelineConfig())
	f.venue.tickerErr = errors.New("should not be called")

	closed, err := f.pipeline.MonitorExits(context.Background(), "BTC/EUR")
	if closed != nil || err != nil {
		t.Errorf("MonitorExits() = %v, %v, want nil, nil", closed, err)
	}
}

func TestProcessSymbolOutcomes(t *testing.T) {
	ctx := context.Background()

	f := newPipelineFixture(testPipelineConfig())
	if got, err := f.pipeline.ProcessSymbol(ctx, "BTC/EUR"); err != nil || got != OutcomeTraded {
		t.Errorf("first ProcessSymbol() = %s, %v, want traded", got, err)
	}
	// one trade per symbol: the second pass is denied and makes no trade
	if got, err := f.pipeline.ProcessSymbol(ctx, "BTC/EUR"); err != nil || got != OutcomeNoTrade {
		t.Errorf("second ProcessSymbol() = %s, %v, want no_trade", got, err)
	}

	f.venue.setPrice("BTC/EUR", 106)
	f.scorer.pred = models.Prediction{Class: 1, Confidence: 0.9}
	if got, err := f.pipeline.ProcessSymbol(ctx, "BTC/EUR"); err != nil || got != OutcomeClosed {
		t.Errorf("exit ProcessSymbol() = %s, %v, want closed", got, err)
	}

	f.venue.tickerErr = errors.New("venue down")
	f.scorer.pred = models.Prediction{Class: 2, Confidence: 0.9}
	if got, err := f.pipeline.ProcessSymbol(ctx, "ETH/EUR"); err == nil || got != OutcomeError {
		t.Errorf("failing ProcessSymbol() = %s, %v, want error", got, err)
	}
}
