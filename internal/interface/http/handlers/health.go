package handlers

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// HealthChecker reports the state of the service and its dependencies.
type HealthChecker interface {
	Check(ctx context.Context) HealthStatus
}

// HealthCheckFunc probes one dependency; a non-nil error means it is down.
type HealthCheckFunc func(ctx context.Context) error

// HealthStatus is the body of /health.
type HealthStatus struct {
	// Healthy is false when a critical check fails.
	Healthy bool `json:"healthy"`

	// Ready is false when any check fails. Optional dependencies such as the
	// rank index degrade readiness only.
	Ready bool `json:"ready"`

	Message   string                 `json:"message,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	Uptime    string                 `json:"uptime,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version,omitempty"`
}

// CheckResult is the outcome of one probe.
type CheckResult struct {
	Healthy  bool   `json:"healthy"`
	Critical bool   `json:"critical"`
	Message  string `json:"message,omitempty"`
	Duration string `json:"duration,omitempty"`
}

type probe struct {
	name     string
	fn       HealthCheckFunc
	critical bool
}

// CompositeHealthChecker runs registered probes concurrently, each under its
// own timeout.
type CompositeHealthChecker struct {
	mu      sync.RWMutex
	probes  []probe
	started time.Time
	version string
	timeout time.Duration
}

// NewCompositeHealthChecker creates a checker with a 3s probe timeout.
func NewCompositeHealthChecker(version string) *CompositeHealthChecker {
	return &CompositeHealthChecker{
		started: time.Now(),
		version: version,
		timeout: 3 * time.Second,
	}
}

// AddCheck adds a critical probe: its failure makes the service unhealthy.
func (c *CompositeHealthChecker) AddCheck(name string, fn HealthCheckFunc) {
	c.add(probe{name: name, fn: fn, critical: true})
}

// AddOptionalCheck adds a probe whose failure only marks the service not ready.
func (c *CompositeHealthChecker) AddOptionalCheck(name string, fn HealthCheckFunc) {
	c.add(probe{name: name, fn: fn})
}

// add replaces a probe registered under the same name.
func (c *CompositeHealthChecker) add(p probe) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.probes {
		if c.probes[i].name == p.name {
			c.probes[i] = p
			return
		}
	}
	c.probes = append(c.probes, p)
}

// Check runs every probe and folds the results.
func (c *CompositeHealthChecker) Check(ctx context.Context) HealthStatus {
	c.mu.RLock()
	probes := append([]probe(nil), c.probes...)
	c.mu.RUnlock()

	results := make([]CheckResult, len(probes))
	var g errgroup.Group
	for i, p := range probes {
		g.Go(func() error {
			results[i] = c.run(ctx, p)
			return nil
		})
	}
	_ = g.Wait()

	status := HealthStatus{
		Healthy:   true,
		Ready:     true,
		Checks:    make(map[string]CheckResult, len(probes)),
		Uptime:    time.Since(c.started).Round(time.Second).String(),
		Timestamp: time.Now().UTC(),
		Version:   c.version,
		Message:   "All checks passed",
	}
	var failed []string
	for i, p := range probes {
		r := results[i]
		status.Checks[p.name] = r
		if r.Healthy {
			continue
		}
		failed = append(failed, p.name)
		status.Ready = false
		if r.Critical {
			status.Healthy = false
		}
	}
	if len(failed) > 0 {
		sort.Strings(failed)
		status.Message = "Some checks failed: " + strings.Join(failed, ", ")
	}
	return status
}

func (c *CompositeHealthChecker) run(ctx context.Context, p probe) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	err := p.fn(ctx)
	r := CheckResult{
		Healthy:  err == nil,
		Critical: p.critical,
		Message:  "OK",
		Duration: time.Since(start).Round(time.Millisecond).String(),
	}
	if err != nil {
		r.Message = err.Error()
	}
	return r
}

// Pinger is anything that can be pinged: the Postgres connection and the
// Redis client both are.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewPingCheck creates a probe that pings p.
func NewPingCheck(p Pinger) HealthCheckFunc {
	return p.Ping
}
