package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/nexus-trading/forkwatch/internal/monitor"
	"github.com/nexus-trading/forkwatch/internal/solana"
)

// ComponentStatus is the health status of a component.
type ComponentStatus string

const (
	StatusHealthy   ComponentStatus = "healthy"
	StatusDegraded  ComponentStatus = "degraded"
	StatusUnhealthy ComponentStatus = "unhealthy"
)

// HealthCheck checks one component.
type HealthCheck func(ctx context.Context) ComponentHealth

// ComponentHealth is the health report for a single component.
type ComponentHealth struct {
	Name        string          `json:"name"`
	Status      ComponentStatus `json:"status"`
	Message     string          `json:"message,omitempty"`
	LastChecked time.Time       `json:"last_checked"`
	Latency     time.Duration   `json:"latency_ns"`
}

// SystemHealth is the aggregate health of the process.
type SystemHealth struct {
	Status     ComponentStatus            `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	Timestamp  time.Time                  `json:"ts"`
	Uptime     string                     `json:"uptime"`
}

// Alert is emitted when a component changes status.
type Alert struct {
	Level     string    `json:"level"` // info|warn|critical
	Component string    `json:"component"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"ts"`
}

// HealthMonitor runs registered checks periodically and on demand.
type HealthMonitor struct {
	mu        sync.RWMutex
	checks    map[string]HealthCheck
	results   map[string]ComponentHealth
	startTime time.Time
	interval  time.Duration
	timeout   time.Duration
	alertCh   chan Alert
}

// NewHealthMonitor creates a monitor that checks components every interval.
func NewHealthMonitor(interval time.Duration) *HealthMonitor {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &HealthMonitor{
		checks:    make(map[string]HealthCheck),
		results:   make(map[string]ComponentHealth),
		startTime: time.Now(),
		interval:  interval,
		timeout:   5 * time.Second,
		alertCh:   make(chan Alert, 64),
	}
}

// Register adds a named check.
func (m *HealthMonitor) Register(name string, check HealthCheck) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[name] = check
}

// Run checks components until ctx is done.
func (m *HealthMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.runChecks(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.runChecks(ctx)
		}
	}
}

// Check runs every check now and returns the aggregate.
func (m *HealthMonitor) Check(ctx context.Context) SystemHealth {
	m.runChecks(ctx)
	return m.snapshot()
}

// Alerts returns status-change alerts. Alerts are dropped when nobody reads.
func (m *HealthMonitor) Alerts() <-chan Alert {
	return m.alertCh
}

// Component returns the last result for name.
func (m *HealthMonitor) Component(name string) (ComponentHealth, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.results[name]
	return h, ok
}

// Handler serves Check as JSON; unhealthy systems answer 503.
func (m *HealthMonitor) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := m.Check(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if h.Status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(h)
	})
}

func (m *HealthMonitor) runChecks(ctx context.Context) {
	m.mu.RLock()
	checks := make(map[string]HealthCheck, len(m.checks))
	for name, fn := range m.checks {
		checks[name] = fn
	}
	m.mu.RUnlock()

	results := make(map[string]ComponentHealth, len(checks))
	for name, fn := range checks {
		checkCtx, cancel := context.WithTimeout(ctx, m.timeout)
		start := time.Now()
		result := fn(checkCtx)
		cancel()
		result.Name = name
		result.LastChecked = time.Now()
		result.Latency = time.Since(start)
		results[name] = result
	}

	m.mu.Lock()
	previous := m.results
	m.results = results
	m.mu.Unlock()

	for name, cur := range results {
		if prev, ok := previous[name]; !ok || prev.Status != cur.Status {
			m.emitAlert(cur)
		}
	}
}

func (m *HealthMonitor) emitAlert(h ComponentHealth) {
	level := "info"
	switch h.Status {
	case StatusUnhealthy:
		level = "critical"
	case StatusDegraded:
		level = "warn"
	}
	msg := h.Message
	if msg == "" {
		msg = "status changed to " + string(h.Status)
	}

	select {
	case m.alertCh <- Alert{Level: level, Component: h.Name, Message: msg, Timestamp: time.Now()}:
	default:
	}
}

func (m *HealthMonitor) snapshot() SystemHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()

	components := make(map[string]ComponentHealth, len(m.results))
	worst := StatusHealthy
	for name, h := range m.results {
		components[name] = h
		if severity(h.Status) > severity(worst) {
			worst = h.Status
		}
	}
	return SystemHealth{
		Status:     worst,
		Components: components,
		Timestamp:  time.Now(),
		Uptime:     time.Since(m.startTime).Round(time.Second).String(),
	}
}

func severity(s ComponentStatus) int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	case StatusUnhealthy:
		return 2
	default:
		return -1
	}
}

// RPCCheck reports the RPC node unhealthy when its health call fails.
func RPCCheck(rpc solana.RPCClient) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		if err := rpc.Health(ctx); err != nil {
			return ComponentHealth{Status: StatusUnhealthy, Message: err.Error()}
		}
		return ComponentHealth{Status: StatusHealthy}
	}
}

// ConnectionCheck reports a source degraded while it is disconnected. A lost
// feed does not stop the other sources.
func ConnectionCheck(connected func() bool) HealthCheck {
	return func(context.Context) ComponentHealth {
		if !connected() {
			return ComponentHealth{Status: StatusDegraded, Message: "disconnected"}
		}
		return ComponentHealth{Status: StatusHealthy}
	}
}

// MonitorCheck reports the pipeline unhealthy when the monitor is stopped.
func MonitorCheck(m *monitor.Monitor) HealthCheck {
	return func(context.Context) ComponentHealth {
		if !m.Running() {
			return ComponentHealth{Status: StatusUnhealthy, Message: "monitor stopped"}
		}
		return ComponentHealth{Status: StatusHealthy}
	}
}
