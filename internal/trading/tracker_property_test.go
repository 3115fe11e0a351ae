package trading

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	apperrors "quantum-trader/internal/errors"
	"quantum-trader/internal/models"
)

func closedTrade(id string, pl float64) models.TradeRecord {
	exit := 100.0
	closedAt := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	return models.TradeRecord{
		ID:         id,
		Symbol:     "BTC/EUR",
		Side:       models.SideLong,
		Quantity:   1,
		EntryPrice: 100,
		ExitPrice:  &exit,
		ProfitLoss: pl,
		ClosedAt:   &closedAt,
		State:      models.TradeClosedNormal,
	}
}

func approx(a, b float64) bool {
	return math.Abs(a-b) <= 1e-9*math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
}

// Property: recording the same closed trades in any order yields the same
// capital and the same metrics.
func TestProperty_TrackerOrderIndependent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("capital and metrics do not depend on record order", prop.ForAll(
		func(pls []float64, seed int64) bool {
			trades := make([]models.TradeRecord, len(pls))
			for i, pl := range pls {
				trades[i] = closedTrade(models.NewTradeID(), pl)
			}
			shuffled := make([]models.TradeRecord, len(trades))
			copy(shuffled, trades)
			rand.New(rand.NewSource(seed)).Shuffle(len(shuffled), func(i, j int) {
				shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
			})

			a := NewCapitalTracker(10000)
			b := NewCapitalTracker(10000)
			for i := range trades {
				if a.Record(trades[i]) != nil || b.Record(shuffled[i]) != nil {
					return false
				}
			}

			ma, mb := a.Metrics(), b.Metrics()
			return approx(a.Capital().CurrentCapital, b.Capital().CurrentCapital) &&
				ma.TotalTrades == mb.TotalTrades &&
				ma.WinningTrades == mb.WinningTrades &&
				ma.LosingTrades == mb.LosingTrades &&
				ma.MaxDrawdown == mb.MaxDrawdown &&
				approx(ma.SharpeRatio, mb.SharpeRatio)
		},
		gen.SliceOfN(20, gen.Float64Range(-100, 100)),
		gen.Int64(),
	))

	properties.TestingRun(t)
}

// Property: capital always equals initial plus the sum of recorded
// profit/loss, and winners plus losers equals the total.
func TestProperty_TrackerCapitalIsSum(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("current == initial + sum(pl)", prop.ForAll(
		func(pls []float64) bool {
			tracker := NewCapitalTracker(10000)
			var sum float64
			for i, pl := range pls {
				if err := tracker.Record(closedTrade(string(rune('a'+i%26)), pl)); err != nil {
					return false
				}
				sum += pl
			}
			m := tracker.Metrics()
			return approx(tracker.Capital().CurrentCapital, 10000+sum) &&
				m.TotalTrades == len(pls) &&
				m.WinningTrades+m.LosingTrades == m.TotalTrades
		},
		gen.SliceOf(gen.Float64Range(-50, 50)),
	))

	properties.TestingRun(t)
}

func TestComputeMetrics(t *testing.T) {
	history := []models.TradeRecord{
		closedTrade("1", 100),
		closedTrade("2", -50),
		closedTrade("3", 0),
		closedTrade("4", 250),
	}
	m := ComputeMetrics(history, 10000)

	if m.TotalTrades != 4 || m.WinningTrades != 2 || m.LosingTrades != 2 {
		t.Fatalf("counts = %d/%d/%d, want 4/2/2", m.TotalTrades, m.WinningTrades, m.LosingTrades)
	}
	if m.MaxDrawdown != -50 {
		t.Errorf("MaxDrawdown = %v, want -50", m.MaxDrawdown)
	}
	if !approx(m.MaxDrawdownPercent, -0.5) {
		t.Errorf("MaxDrawdownPercent = %v, want -0.5", m.MaxDrawdownPercent)
	}

	// returns 0.01, -0.005, 0, 0.025: mean 0.0075, population std 0.011456439
	want := 0.0075 / math.Sqrt(0.00013125)
	if !approx(m.SharpeRatio, want) {
		t.Errorf("SharpeRatio = %v, want %v", m.SharpeRatio, want)
	}
}

func TestComputeMetricsDegenerate(t *testing.T) {
	if m := ComputeMetrics(nil, 10000); m != (models.RiskMetrics{}) {
		t.Errorf("empty history metrics = %+v, want zero", m)
	}

	m := ComputeMetrics([]models.TradeRecord{closedTrade("1", 10), closedTrade("2", 10)}, 10000)
	if m.SharpeRatio != 0 {
		t.Errorf("constant returns SharpeRatio = %v, want 0", m.SharpeRatio)
	}
	if m.MaxDrawdown != 10 {
		t.Errorf("MaxDrawdown = %v, want 10", m.MaxDrawdown)
	}
}

func TestTrackerRejects(t *testing.T) {
	tests := []struct {
		name  string
		trade models.TradeRecord
		want  error
	}{
		{
			name:  "missing exit price",
			trade: models.TradeRecord{ID: "x", ProfitLoss: 10, State: models.TradeClosedNormal},
			want:  apperrors.ErrMissingExitPrice,
		},
		{
			name:  "capital below zero",
			trade: closedTrade("y", -1001),
			want:  apperrors.ErrNegativeCapital,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := NewCapitalTracker(1000)
			err := tracker.Record(tt.trade)
			if !apperrors.Is(err, tt.want) {
				t.Fatalf("Record() error = %v, want %v", err, tt.want)
			}
			if !apperrors.IsInvariant(err) {
				t.Errorf("Record() error is not an invariant error: %v", err)
			}
			if got := tracker.Capital().CurrentCapital; got != 1000 {
				t.Errorf("capital changed to %v after rejected record", got)
			}
			if len(tracker.History()) != 0 {
				t.Error("rejected trade was added to history")
			}
		})
	}
}

func TestTrackerReport(t *testing.T) {
	tracker := NewCapitalTracker(1000)
	if err := tracker.Record(closedTrade("1", -1000)); err != nil {
		t.Fatalf("recording down to exactly zero: %v", err)
	}
	at := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	report := tracker.Report(2, at)
	if report.CurrentCapital != 0 || report.InitialCapital != 1000 {
		t.Errorf("report capital = %+v", report.CapitalState)
	}
	if report.OpenTrades != 2 || !report.At.Equal(at) || report.TotalTrades != 1 {
		t.Errorf("report = %+v", report)
	}
}
