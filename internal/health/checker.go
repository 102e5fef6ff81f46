// Package health provides health check functionality for liveness and readiness probes.
package health

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"
)

// ReadinessChecker is a dependency that can report whether it is usable.
type ReadinessChecker interface {
	Ready(ctx context.Context) error
}

// CheckFunc adapts a function to ReadinessChecker.
type CheckFunc func(ctx context.Context) error

// Ready implements ReadinessChecker.
func (f CheckFunc) Ready(ctx context.Context) error {
	return f(ctx)
}

// DirCheck passes when path is an existing directory.
func DirCheck(path string) CheckFunc {
	return func(ctx context.Context) error {
		if path == "" {
			return errors.New("path not configured")
		}
		info, err := os.Stat(path)
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return fmt.Errorf("%s is not a directory", path)
		}
		return nil
	}
}

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult contains the result of a health check.
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Response is the health check response.
type Response struct {
	Status Status                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// Checker runs named readiness checks.
type Checker struct {
	checks  map[string]ReadinessChecker
	timeout time.Duration

	mu           sync.RWMutex
	lastCheck    time.Time
	cachedReady  *Response
	shuttingDown bool
}

// NewChecker creates a checker over named dependencies. With no checks
// registered the service is never ready.
func NewChecker(checks map[string]ReadinessChecker) *Checker {
	return &Checker{
		checks:  checks,
		timeout: 5 * time.Second,
	}
}

// Liveness returns true if the service is alive.
// It never touches dependencies; failing it should restart the container.
func (c *Checker) Liveness(ctx context.Context) *Response {
	return &Response{
		Status: StatusHealthy,
	}
}

// Readiness runs every check concurrently. Results are cached for a second
// so probes do not hammer the Docker daemon or S3.
func (c *Checker) Readiness(ctx context.Context) *Response {
	c.mu.RLock()
	if c.shuttingDown {
		c.mu.RUnlock()
		return &Response{
			Status: StatusUnhealthy,
			Checks: map[string]CheckResult{
				"shutdown": {Status: StatusUnhealthy, Message: "service is shutting down"},
			},
		}
	}
	if c.cachedReady != nil && time.Since(c.lastCheck) < time.Second {
		cached := c.cachedReady
		c.mu.RUnlock()
		return cached
	}
	c.mu.RUnlock()

	response := &Response{Status: StatusHealthy, Checks: make(map[string]CheckResult, len(c.checks))}
	if len(c.checks) == 0 {
		response.Status = StatusUnhealthy
		response.Checks["config"] = CheckResult{Status: StatusUnhealthy, Message: "no readiness checks configured"}
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for name, check := range c.checks {
		wg.Go(func() {
			result := c.run(ctx, check)
			mu.Lock()
			defer mu.Unlock()
			response.Checks[name] = result
			if result.Status != StatusHealthy {
				response.Status = StatusUnhealthy
			}
		})
	}
	wg.Wait()

	c.mu.Lock()
	c.cachedReady = response
	c.lastCheck = time.Now()
	c.mu.Unlock()

	return response
}

func (c *Checker) run(ctx context.Context, check ReadinessChecker) CheckResult {
	if check == nil {
		return CheckResult{Status: StatusUnhealthy, Message: "not configured"}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := check.Ready(ctx); err != nil {
		return CheckResult{Status: StatusUnhealthy, Message: err.Error()}
	}
	return CheckResult{Status: StatusHealthy}
}

// IsHealthy returns true if the overall status is healthy.
func (r *Response) IsHealthy() bool {
	return r.Status == StatusHealthy
}

// SetShuttingDown marks the service as shutting down.
// Readiness reports unhealthy from then on, so load balancers stop routing.
func (c *Checker) SetShuttingDown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shuttingDown = true
	c.cachedReady = nil
}
