// Package health runs named checks of the results store and reports an
// overall status.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Checker runs registered health checks on demand.
type Checker struct {
	mu      sync.RWMutex
	timeout time.Duration
	checks  map[string]*Check
	results map[string]*Result
	started time.Time
}

// Check is a registered health check.
type Check struct {
	Name        string
	Description string
	Priority    Priority
	Function    CheckFunction

	runCount     int64
	failureCount int64
	consecutive  int
}

// CheckFunction returns nil when the checked component is healthy.
type CheckFunction func(ctx context.Context) error

// Result is the outcome of one check run.
type Result struct {
	Check       string        `json:"check"`
	Status      Status        `json:"status"`
	Duration    time.Duration `json:"duration"`
	Timestamp   time.Time     `json:"timestamp"`
	Error       string        `json:"error,omitempty"`
	Consecutive int           `json:"consecutive_failures,omitempty"`
}

// Priority decides how a failing check affects the overall status.
type Priority string

const (
	// PriorityCritical failures make the service unhealthy.
	PriorityCritical Priority = "critical"
	// PriorityLow failures only degrade it.
	PriorityLow Priority = "low"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusUnknown   Status = "unknown"
	StatusDegraded  Status = "degraded"
)

// Report is the outcome of RunAll.
type Report struct {
	Status    Status             `json:"status"`
	Timestamp time.Time          `json:"timestamp"`
	Uptime    string             `json:"uptime"`
	Checks    map[string]*Result `json:"checks"`
}

// NewChecker creates a checker. Each check is cancelled after timeout; a
// non positive timeout uses 5s.
func NewChecker(timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Checker{
		timeout: timeout,
		checks:  make(map[string]*Check),
		results: make(map[string]*Result),
		started: time.Now(),
	}
}

// RegisterCheck registers a new health check
func (c *Checker) RegisterCheck(name, description string, priority Priority, fn CheckFunction) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.checks[name]; exists {
		return fmt.Errorf("health check %s already registered", name)
	}
	c.checks[name] = &Check{
		Name:        name,
		Description: description,
		Priority:    priority,
		Function:    fn,
	}
	return nil
}

// Names returns the registered check names, sorted.
func (c *Checker) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RunAll executes all registered checks concurrently.
func (c *Checker) RunAll(ctx context.Context) Report {
	c.mu.RLock()
	checks := make([]*Check, 0, len(c.checks))
	for _, check := range c.checks {
		checks = append(checks, check)
	}
	c.mu.RUnlock()

	resultsCh := make(chan *Result, len(checks))
	for _, check := range checks {
		go func(ch *Check) {
			resultsCh <- c.execute(ctx, ch)
		}(check)
	}

	report := Report{
		Timestamp: time.Now(),
		Uptime:    time.Since(c.started).Round(time.Second).String(),
		Checks:    make(map[string]*Result, len(checks)),
	}
	for range checks {
		r := <-resultsCh
		report.Checks[r.Check] = r
	}

	c.mu.Lock()
	for name, r := range report.Checks {
		c.results[name] = r
	}
	report.Status = c.overallLocked()
	c.mu.Unlock()

	return report
}

// IsHealthy reports whether the last run found no failing check.
func (c *Checker) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.overallLocked() == StatusHealthy
}

// Handler serves RunAll as JSON. Unhealthy reports answer 503.
func (c *Checker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		report := c.RunAll(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if report.Status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(report)
	})
}

func (c *Checker) execute(ctx context.Context, check *Check) *Result {
	start := time.Now()

	checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := check.Function(checkCtx)

	c.mu.Lock()
	defer c.mu.Unlock()

	check.runCount++
	result := &Result{
		Check:     check.Name,
		Duration:  time.Since(start),
		Timestamp: start,
		Status:    StatusHealthy,
	}
	if err != nil {
		check.failureCount++
		check.consecutive++
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Consecutive = check.consecutive
	} else {
		check.consecutive = 0
	}
	return result
}

func (c *Checker) overallLocked() Status {
	if len(c.results) == 0 {
		return StatusUnknown
	}
	status := StatusHealthy
	for name, r := range c.results {
		if r.Status != StatusUnhealthy {
			continue
		}
		if check, ok := c.checks[name]; ok && check.Priority == PriorityCritical {
			return StatusUnhealthy
		}
		status = StatusDegraded
	}
	return status
}
