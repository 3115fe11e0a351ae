package resilience

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"quantum-trader/internal/models"
)

// HealthStatus represents the health status of a component.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "HEALTHY"
	HealthStatusDegraded  HealthStatus = "DEGRADED"
	HealthStatusUnhealthy HealthStatus = "UNHEALTHY"
	HealthStatusUnknown   HealthStatus = "UNKNOWN"
)

// ComponentHealth represents the health of a single component.
type ComponentHealth struct {
	Name      string                 `json:"name"`
	Status    HealthStatus           `json:"status"`
	Message   string                 `json:"message"`
	LastCheck time.Time              `json:"last_check"`
	Latency   time.Duration          `json:"latency"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// HealthCheck represents a health check function.
type HealthCheck func(ctx context.Context) ComponentHealth

// HealthAlert is raised for every unhealthy component in a pass.
type HealthAlert struct {
	Component string
	Status    HealthStatus
	Message   string
	Timestamp time.Time
}

// SystemHealth represents overall system health.
type SystemHealth struct {
	Status        HealthStatus      `json:"status"`
	Uptime        time.Duration     `json:"uptime"`
	StartTime     time.Time         `json:"start_time"`
	Components    []ComponentHealth `json:"components"`
	Goroutines    int               `json:"goroutines"`
	MemoryAllocMB uint64            `json:"memory_alloc_mb"`
	TotalChecks   int64             `json:"total_checks"`
	FailedChecks  int64             `json:"failed_checks"`
}

// HealthMonitorConfig holds health monitor configuration.
type HealthMonitorConfig struct {
	CheckTimeout       time.Duration
	MemoryThresholdMB  uint64
	GoroutineThreshold int
}

// DefaultHealthMonitorConfig returns default configuration.
func DefaultHealthMonitorConfig() HealthMonitorConfig {
	return HealthMonitorConfig{
		CheckTimeout:       10 * time.Second,
		MemoryThresholdMB:  500,
		GoroutineThreshold: 1000,
	}
}

// HealthMonitor runs registered checks on demand. The engine's health loop
// drives it; the HTTP server reads the last result.
type HealthMonitor struct {
	mu sync.RWMutex

	config     HealthMonitorConfig
	startTime  time.Time
	components map[string]HealthCheck
	last       map[string]ComponentHealth
	overall    HealthStatus
	onAlert    func(HealthAlert)

	totalChecks  int64
	failedChecks int64
}

// NewHealthMonitor creates a new health monitor.
func NewHealthMonitor(config HealthMonitorConfig) *HealthMonitor {
	if config.CheckTimeout <= 0 {
		config.CheckTimeout = 10 * time.Second
	}
	return &HealthMonitor{
		config:     config,
		startTime:  time.Now(),
		components: make(map[string]HealthCheck),
		last:       make(map[string]ComponentHealth),
		overall:    HealthStatusUnknown,
	}
}

// RegisterComponent registers a health check for a component.
func (m *HealthMonitor) RegisterComponent(name string, check HealthCheck) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.components[name] = check
}

// SetAlertCallback sets the callback for health alerts.
func (m *HealthMonitor) SetAlertCallback(callback func(HealthAlert)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onAlert = callback
}

// RunChecks runs every registered check in parallel plus the runtime checks
// and returns the resulting system health. A panicking check is reported
// unhealthy.
func (m *HealthMonitor) RunChecks(ctx context.Context) SystemHealth {
	m.mu.RLock()
	components := make(map[string]HealthCheck, len(m.components))
	for k, v := range m.components {
		components[k] = v
	}
	m.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, m.config.CheckTimeout)
	defer cancel()

	var wg sync.WaitGroup
	results := make(chan ComponentHealth, len(components)+2)

	for name, check := range components {
		wg.Add(1)
		go func(n string, c HealthCheck) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					results <- ComponentHealth{
						Name:      n,
						Status:    HealthStatusUnhealthy,
						Message:   fmt.Sprintf("panic recovered: %v", r),
						LastCheck: time.Now(),
					}
				}
			}()

			start := time.Now()
			health := c(ctx)
			health.Name = n
			health.LastCheck = time.Now()
			health.Latency = time.Since(start)
			results <- health
		}(name, check)
	}

	results <- m.checkMemory()
	results <- m.checkGoroutines()

	wg.Wait()
	close(results)

	m.mu.Lock()
	m.totalChecks++
	status := HealthStatusHealthy
	var alerts []HealthAlert
	for health := range results {
		m.last[health.Name] = health
		switch health.Status {
		case HealthStatusUnhealthy:
			status = HealthStatusUnhealthy
			m.failedChecks++
			alerts = append(alerts, HealthAlert{
				Component: health.Name,
				Status:    health.Status,
				Message:   health.Message,
				Timestamp: health.LastCheck,
			})
		case HealthStatusDegraded:
			if status == HealthStatusHealthy {
				status = HealthStatusDegraded
			}
		}
	}
	m.overall = status
	onAlert := m.onAlert
	m.mu.Unlock()

	if onAlert != nil {
		for _, a := range alerts {
			onAlert(a)
		}
	}
	return m.GetHealth()
}

func (m *HealthMonitor) checkMemory() ComponentHealth {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	allocMB := memStats.Alloc / 1024 / 1024

	health := ComponentHealth{
		Name:      "memory",
		Status:    HealthStatusHealthy,
		Message:   fmt.Sprintf("Memory usage: %d MB", allocMB),
		LastCheck: time.Now(),
		Details: map[string]interface{}{
			"alloc_mb": allocMB,
			"sys_mb":   memStats.Sys / 1024 / 1024,
			"num_gc":   memStats.NumGC,
		},
	}
	if m.config.MemoryThresholdMB > 0 && allocMB > m.config.MemoryThresholdMB {
		health.Status = HealthStatusDegraded
		health.Message = fmt.Sprintf("Memory usage high: %d MB", allocMB)
	}
	return health
}

func (m *HealthMonitor) checkGoroutines() ComponentHealth {
	n := runtime.NumGoroutine()
	health := ComponentHealth{
		Name:      "goroutines",
		Status:    HealthStatusHealthy,
		Message:   fmt.Sprintf("Goroutine count: %d", n),
		LastCheck: time.Now(),
		Details:   map[string]interface{}{"count": n},
	}
	if m.config.GoroutineThreshold > 0 && n > m.config.GoroutineThreshold {
		health.Status = HealthStatusDegraded
		health.Message = fmt.Sprintf("High goroutine count: %d", n)
	}
	return health
}

// GetHealth returns the result of the last pass.
func (m *HealthMonitor) GetHealth() SystemHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	components := make([]ComponentHealth, 0, len(m.last))
	for _, h := range m.last {
		components = append(components, h)
	}
	sort.Slice(components, func(i, j int) bool { return components[i].Name < components[j].Name })

	return SystemHealth{
		Status:        m.overall,
		Uptime:        time.Since(m.startTime),
		StartTime:     m.startTime,
		Components:    components,
		Goroutines:    runtime.NumGoroutine(),
		MemoryAllocMB: memStats.Alloc / 1024 / 1024,
		TotalChecks:   m.totalChecks,
		FailedChecks:  m.failedChecks,
	}
}

// GetComponentHealth returns the last health of a specific component.
func (m *HealthMonitor) GetComponentHealth(name string) (ComponentHealth, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	health, ok := m.last[name]
	return health, ok
}

// IsHealthy reports whether the last pass found no unhealthy component.
// Degraded counts as healthy.
func (m *HealthMonitor) IsHealthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.overall == HealthStatusHealthy || m.overall == HealthStatusDegraded
}

// PingCheck reports unhealthy when ping fails.
func PingCheck(ping func(ctx context.Context) error) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		if err := ping(ctx); err != nil {
			return ComponentHealth{Status: HealthStatusUnhealthy, Message: err.Error()}
		}
		return ComponentHealth{Status: HealthStatusHealthy, Message: "ok"}
	}
}

// BreakerCheck reports a circuit breaker's state: open is unhealthy and
// half-open is degraded.
func BreakerCheck(cb *CircuitBreaker) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		stats := cb.Stats()
		health := ComponentHealth{
			Status:  HealthStatusHealthy,
			Message: string(stats.State),
			Details: map[string]interface{}{
				"total_calls":  stats.TotalCalls,
				"total_failed": stats.TotalFailed,
				"rejected":     stats.Rejected,
			},
		}
		switch stats.State {
		case CircuitOpen:
			health.Status = HealthStatusUnhealthy
		case CircuitHalfOpen:
			health.Status = HealthStatusDegraded
		}
		return health
	}
}

// DrawdownBreached reports whether the worst trade lost more than
// maxRiskPerTrade*10 of initial capital.
func DrawdownBreached(report models.RiskReport, maxRiskPerTrade float64) bool {
	return report.MaxDrawdownPercent/100 < -maxRiskPerTrade*10
}

// DrawdownCheck reports unhealthy ("critical drawdown") when DrawdownBreached.
func DrawdownCheck(report func() models.RiskReport, maxRiskPerTrade float64) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		r := report()
		health := ComponentHealth{
			Status:  HealthStatusHealthy,
			Message: fmt.Sprintf("capital %.2f, %d trades, %d winning", r.CurrentCapital, r.TotalTrades, r.WinningTrades),
			Details: map[string]interface{}{
				"current_capital":      r.CurrentCapital,
				"max_drawdown":         r.MaxDrawdown,
				"max_drawdown_percent": r.MaxDrawdownPercent,
				"sharpe_ratio":         r.SharpeRatio,
			},
		}
		if DrawdownBreached(r, maxRiskPerTrade) {
			health.Status = HealthStatusUnhealthy
			health.Message = fmt.Sprintf("critical drawdown: %.2f%% of initial capital", r.MaxDrawdownPercent)
		}
		return health
	}
}
