package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// HealthStatus represents the health status of a component
type HealthStatus int

const (
	HealthStatusUp HealthStatus = iota
	HealthStatusDown
	HealthStatusDegraded
	HealthStatusUnknown
)

var statusNames = map[HealthStatus]string{
	HealthStatusUp:       "UP",
	HealthStatusDown:     "DOWN",
	HealthStatusDegraded: "DEGRADED",
	HealthStatusUnknown:  "UNKNOWN",
}

func (s HealthStatus) String() string { return statusNames[s] }

func (s HealthStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// HealthCheck represents a health check
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) HealthResult
}

// HealthResult represents the result of a health check
type HealthResult struct {
	Status    HealthStatus           `json:"status"`
	Message   string                 `json:"message,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Duration  time.Duration          `json:"duration_ns"`
	Timestamp time.Time              `json:"timestamp"`
}

// HealthReport represents the overall health report
type HealthReport struct {
	Status     HealthStatus            `json:"status"`
	Timestamp  time.Time               `json:"timestamp"`
	Components map[string]HealthResult `json:"components"`
}

// HealthManager runs registered checks for the scheduler's /healthz endpoint.
type HealthManager struct {
	mu      sync.RWMutex
	checks  map[string]HealthCheck
	timeout time.Duration
}

// NewHealthManager creates a new health manager
func NewHealthManager(timeout time.Duration) *HealthManager {
	return &HealthManager{
		checks:  make(map[string]HealthCheck),
		timeout: timeout,
	}
}

// RegisterCheck registers a health check
func (hm *HealthManager) RegisterCheck(check HealthCheck) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.checks[check.Name()] = check
}

// CheckHealth runs all checks concurrently. The report is Down when any
// component is Down and Degraded when any is Degraded.
func (hm *HealthManager) CheckHealth(ctx context.Context) HealthReport {
	hm.mu.RLock()
	checks := make([]HealthCheck, 0, len(hm.checks))
	for _, check := range hm.checks {
		checks = append(checks, check)
	}
	hm.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, hm.timeout)
	defer cancel()

	type named struct {
		name   string
		result HealthResult
	}
	results := make(chan named, len(checks))
	for _, check := range checks {
		go func(check HealthCheck) {
			start := time.Now()
			result := check.Check(ctx)
			result.Duration = time.Since(start)
			result.Timestamp = time.Now()
			results <- named{check.Name(), result}
		}(check)
	}

	report := HealthReport{
		Status:     HealthStatusUp,
		Timestamp:  time.Now(),
		Components: make(map[string]HealthResult, len(checks)),
	}
	for range checks {
		r := <-results
		report.Components[r.name] = r.result
		switch r.result.Status {
		case HealthStatusDown:
			report.Status = HealthStatusDown
		case HealthStatusDegraded, HealthStatusUnknown:
			if report.Status == HealthStatusUp {
				report.Status = r.result.Status
			}
		}
	}
	return report
}

// HealthHandler returns an HTTP handler for health checks
func (hm *HealthManager) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := hm.CheckHealth(r.Context())

		w.Header().Set("Content-Type", "application/json")
		switch report.Status {
		case HealthStatusUp, HealthStatusDegraded:
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}

		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		_ = encoder.Encode(report)
	}
}

// PingCheck reports Down when ping fails.
type PingCheck struct {
	name string
	ping func(ctx context.Context) error
}

func NewPingCheck(name string, ping func(ctx context.Context) error) *PingCheck {
	return &PingCheck{name: name, ping: ping}
}

func (p *PingCheck) Name() string { return p.name }

func (p *PingCheck) Check(ctx context.Context) HealthResult {
	if err := p.ping(ctx); err != nil {
		return HealthResult{Status: HealthStatusDown, Message: fmt.Sprintf("ping failed: %v", err)}
	}
	return HealthResult{Status: HealthStatusUp}
}

// LastRunCheck tracks the outcome of the most recent scheduled run.
type LastRunCheck struct {
	mu       sync.RWMutex
	state    string
	degraded bool
	at       time.Time
}

func (c *LastRunCheck) Name() string { return "last_run" }

// Record stores a run outcome. degraded marks a run that finished with
// isolated failures.
func (c *LastRunCheck) Record(state string, degraded bool, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state, c.degraded, c.at = state, degraded, at
}

func (c *LastRunCheck) Check(context.Context) HealthResult {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.at.IsZero() {
		return HealthResult{Status: HealthStatusUnknown, Message: "no run yet"}
	}
	details := map[string]interface{}{"state": c.state, "finished_at": c.at}
	switch {
	case c.state == "Error":
		return HealthResult{Status: HealthStatusDown, Message: "last run failed", Details: details}
	case c.degraded:
		return HealthResult{Status: HealthStatusDegraded, Message: "last run had isolated failures", Details: details}
	default:
		return HealthResult{Status: HealthStatusUp, Details: details}
	}
}
