package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"quantum-trader/internal/models"
)

var errBoom = errors.New("boom")

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker("venue", BreakerConfig{FailureThreshold: 2, SuccessThreshold: 1, ResetTimeout: time.Minute})
	cb.SetClock(func() time.Time { return now })
	ctx := context.Background()

	fail := func(context.Context) error { return errBoom }
	ok := func(context.Context) error { return nil }

	for i := 0; i < 2; i++ {
		if err := cb.Execute(ctx, fail); !errors.Is(err, errBoom) {
			t.Fatalf("call %d error = %v, want errBoom", i, err)
		}
	}
	if cb.State() != CircuitOpen {
		t.Fatalf("state = %s, want OPEN", cb.State())
	}

	called := false
	err := cb.Execute(ctx, func(context.Context) error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) || called {
		t.Fatalf("open circuit: err = %v, called = %v", err, called)
	}

	now = now.Add(61 * time.Second)
	if err := cb.Execute(ctx, ok); err != nil {
		t.Fatalf("half-open probe error = %v", err)
	}
	if cb.State() != CircuitClosed {
		t.Errorf("state after probe = %s, want CLOSED", cb.State())
	}

	stats := cb.Stats()
	if stats.TotalFailed != 2 || stats.Rejected != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestCircuitBreakerIgnoresCancellation(t *testing.T) {
	cb := NewCircuitBreaker("venue", BreakerConfig{FailureThreshold: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ExecuteWithResult(ctx, cb, func(ctx context.Context) (float64, error) {
		return 0, ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if cb.State() != CircuitClosed {
		t.Errorf("state = %s, cancellation must not open the circuit", cb.State())
	}
}

func TestHealthMonitorRunChecks(t *testing.T) {
	m := NewHealthMonitor(DefaultHealthMonitorConfig())
	var alerts []HealthAlert
	m.SetAlertCallback(func(a HealthAlert) { alerts = append(alerts, a) })

	m.RegisterComponent("store", PingCheck(func(context.Context) error { return nil }))
	m.RegisterComponent("venue", PingCheck(func(context.Context) error { return errBoom }))
	m.RegisterComponent("flaky", func(context.Context) ComponentHealth { panic("bad check") })

	health := m.RunChecks(context.Background())
	if health.Status != HealthStatusUnhealthy {
		t.Errorf("Status = %s, want UNHEALTHY", health.Status)
	}
	if len(alerts) != 2 {
		t.Errorf("alerts = %d, want 2", len(alerts))
	}
	if h, ok := m.GetComponentHealth("store"); !ok || h.Status != HealthStatusHealthy {
		t.Errorf("store health = %+v", h)
	}
	if h, ok := m.GetComponentHealth("flaky"); !ok || h.Status != HealthStatusUnhealthy {
		t.Errorf("panicking check health = %+v", h)
	}
	if m.IsHealthy() {
		t.Error("IsHealthy() = true with unhealthy components")
	}
}

func TestDrawdownCheck(t *testing.T) {
	tests := []struct {
		name    string
		percent float64
		want    HealthStatus
	}{
		{"no trades", 0, HealthStatusHealthy},
		{"small loss", -2, HealthStatusHealthy},
		{"five hundred lost", -5, HealthStatusHealthy},
		{"at limit", -10, HealthStatusHealthy},
		{"beyond limit", -12.5, HealthStatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// MaxDrawdown is in currency on 10000 initial capital
			report := models.RiskReport{RiskMetrics: models.RiskMetrics{
				MaxDrawdown:        tt.percent * 100,
				MaxDrawdownPercent: tt.percent,
			}}
			check := DrawdownCheck(func() models.RiskReport { return report }, 0.01)
			if got := check(context.Background()).Status; got != tt.want {
				t.Errorf("status = %s, want %s", got, tt.want)
			}
		})
	}
}
