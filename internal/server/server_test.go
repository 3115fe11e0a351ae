package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"quantum-trader/internal/models"
	"quantum-trader/internal/resilience"
	"quantum-trader/internal/store"
)

type fakeStatus struct{}

func (fakeStatus) GetRiskReport() models.RiskReport {
	return models.RiskReport{
		CapitalState: models.CapitalState{InitialCapital: 10000, CurrentCapital: 10020},
		RiskMetrics:  models.RiskMetrics{TotalTrades: 1, WinningTrades: 1},
		OpenTrades:   1,
	}
}

func (fakeStatus) OpenTrades() []models.TradeRecord {
	return []models.TradeRecord{{ID: "t1", Symbol: "BTC/EUR", State: models.TradeOpen}}
}

type fakeStore struct {
	store.Store
	gotSymbol string
	gotDays   int
}

func (f *fakeStore) GetPerformanceMetrics(_ context.Context, symbol string, days int) (models.PerformanceSummary, error) {
	f.gotSymbol, f.gotDays = symbol, days
	return models.PerformanceSummary{Symbol: symbol, Days: days, TotalTrades: 3}, nil
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestEndpoints(t *testing.T) {
	reg := prometheus.NewRegistry()
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_capital", Help: "test"})
	reg.MustRegister(gauge)
	gauge.Set(42)

	st := &fakeStore{}
	srv := New(Options{Status: fakeStatus{}, Store: st, Gatherer: reg, Logger: zerolog.Nop()})
	h := srv.Handler()

	if rec := get(t, h, "/healthz"); rec.Code != http.StatusOK {
		t.Errorf("/healthz = %d", rec.Code)
	}

	rec := get(t, h, "/report")
	if rec.Code != http.StatusOK {
		t.Fatalf("/report = %d", rec.Code)
	}
	var report models.RiskReport
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.CurrentCapital != 10020 || report.OpenTrades != 1 {
		t.Errorf("report = %+v", report)
	}

	rec = get(t, h, "/trades/open")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"id":"t1"`) {
		t.Errorf("/trades/open = %d %s", rec.Code, rec.Body.String())
	}

	rec = get(t, h, "/performance?symbol=BTC/EUR&days=7")
	if rec.Code != http.StatusOK || st.gotSymbol != "BTC/EUR" || st.gotDays != 7 {
		t.Errorf("/performance = %d, store saw %q/%d", rec.Code, st.gotSymbol, st.gotDays)
	}
	if rec := get(t, h, "/performance?days=-1"); rec.Code != http.StatusBadRequest {
		t.Errorf("/performance bad days = %d", rec.Code)
	}

	rec = get(t, h, "/metrics")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "test_capital 42") {
		t.Errorf("/metrics = %d %s", rec.Code, rec.Body.String())
	}
}

func TestReadyz(t *testing.T) {
	monitor := resilience.NewHealthMonitor(resilience.DefaultHealthMonitorConfig())
	failing := false
	monitor.RegisterComponent("venue", resilience.PingCheck(func(context.Context) error {
		if failing {
			return errors.New("connection refused")
		}
		return nil
	}))

	h := New(Options{Health: monitor, Logger: zerolog.Nop()}).Handler()

	if rec := get(t, h, "/readyz"); rec.Code != http.StatusOK {
		t.Errorf("healthy /readyz = %d %s", rec.Code, rec.Body.String())
	}

	failing = true
	rec := get(t, h, "/readyz")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("unhealthy /readyz = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "connection refused") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestUnconfiguredEndpoints(t *testing.T) {
	h := New(Options{Logger: zerolog.Nop()}).Handler()
	for _, path := range []string{"/report", "/trades/open", "/performance"} {
		if rec := get(t, h, path); rec.Code != http.StatusServiceUnavailable {
			t.Errorf("%s = %d, want 503", path, rec.Code)
		}
	}
	if rec := get(t, h, "/metrics"); rec.Code != http.StatusNotFound {
		t.Errorf("/metrics without gatherer = %d, want 404", rec.Code)
	}
}
