// Package health exposes liveness and readiness probes for the game server.
// Readiness aggregates per-component checks: the realtime gateway, the
// database, and process memory.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"time"
)

// Check is one component's health probe.
type Check interface {
	Name() string
	Check(ctx context.Context) error
}

// Status is the aggregated readiness report.
type Status struct {
	Status string                     `json:"status"`
	Checks map[string]ComponentStatus `json:"checks"`
}

// ComponentStatus is one component's line in the report.
type ComponentStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Checker runs the registered checks and serves the probe endpoints.
type Checker struct {
	mu     sync.RWMutex
	checks map[string]Check
}

// NewChecker creates an empty checker.
func NewChecker() *Checker {
	return &Checker{checks: make(map[string]Check)}
}

// Add registers a check, replacing any previous one with the same name.
func (c *Checker) Add(check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[check.Name()] = check
}

// CheckAll runs every registered check. The aggregate is healthy only when
// every component is.
func (c *Checker) CheckAll(ctx context.Context) Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := Status{Status: "healthy", Checks: make(map[string]ComponentStatus)}
	for name, check := range c.checks {
		if err := check.Check(ctx); err != nil {
			status.Status = "unhealthy"
			status.Checks[name] = ComponentStatus{Status: "unhealthy", Message: err.Error()}
		} else {
			status.Checks[name] = ComponentStatus{Status: "healthy"}
		}
	}
	return status
}

// LivenessHandler answers 200 whenever the process can serve requests at
// all. Orchestrators restart the process when this stops responding.
func (c *Checker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "alive"})
}

// ReadinessHandler runs every check and answers 503 when any fails, so load
// balancers stop routing new players here.
func (c *Checker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := c.CheckAll(ctx)

	w.Header().Set("Content-Type", "application/json")
	if status.Status == "healthy" {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(status)
}

// GatewayCheck reports whether the realtime gateway is accepting clients.
type GatewayCheck struct {
	running func() bool
}

func NewGatewayCheck(running func() bool) *GatewayCheck {
	return &GatewayCheck{running: running}
}

func (g *GatewayCheck) Name() string { return "gateway" }

func (g *GatewayCheck) Check(ctx context.Context) error {
	if !g.running() {
		return fmt.Errorf("gateway is not accepting connections")
	}
	return nil
}

// DatabaseCheck pings the store.
type DatabaseCheck struct {
	ping func(ctx context.Context) error
}

func NewDatabaseCheck(ping func(ctx context.Context) error) *DatabaseCheck {
	return &DatabaseCheck{ping: ping}
}

func (d *DatabaseCheck) Name() string { return "database" }

func (d *DatabaseCheck) Check(ctx context.Context) error {
	if err := d.ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

// MemoryCheck fails readiness when heap usage crosses the configured limit.
type MemoryCheck struct {
	maxMemoryMB int64
	usageMB     func() int64
}

// NewMemoryCheck creates a memory check. A nil usage function reads the Go
// runtime's allocated heap.
func NewMemoryCheck(maxMemoryMB int64, usageMB func() int64) *MemoryCheck {
	if usageMB == nil {
		usageMB = func() int64 {
			var m runtime.MemStats
			runtime.ReadMemStats(&m)
			return int64(m.Alloc / (1 << 20))
		}
	}
	return &MemoryCheck{maxMemoryMB: maxMemoryMB, usageMB: usageMB}
}

func (m *MemoryCheck) Name() string { return "memory" }

func (m *MemoryCheck) Check(ctx context.Context) error {
	current := m.usageMB()
	if current > m.maxMemoryMB {
		return fmt.Errorf("memory usage %dMB exceeds limit %dMB", current, m.maxMemoryMB)
	}
	return nil
}
