package health

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

// ErrDisabled marks a dependency that is switched off in the config.
var ErrDisabled = errors.New("disabled")

type Status string

const (
	StatusUp       Status = "up"
	StatusDown     Status = "down"
	StatusDisabled Status = "disabled"
)

// Overall states of a Report.
const (
	OverallOK       = "ok"
	OverallDegraded = "degraded"
	OverallDown     = "down"
)

const defaultTimeout = 5 * time.Second

// Result 单个依赖的检查结果
type Result struct {
	Name         string `json:"name"`
	Status       Status `json:"status"`
	Required     bool   `json:"required"`
	ResponseTime int64  `json:"response_time_ms"`
	Message      string `json:"message,omitempty"`
}

type Report struct {
	Status    string    `json:"status"`
	Checks    []Result  `json:"checks"`
	CheckedAt time.Time `json:"checked_at"`
}

// Check probes one dependency. Returning ErrDisabled reports it as disabled.
type Check struct {
	Name     string
	Required bool
	Probe    func(ctx context.Context) error
}

// TCP dials addr and closes the connection right away.
func TCP(addr string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		dialer := &net.Dialer{Timeout: defaultTimeout}
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return fmt.Errorf("tcp connection failed: %w", err)
		}
		return conn.Close()
	}
}

// Registry runs a fixed set of checks concurrently.
type Registry struct {
	checks  []Check
	timeout time.Duration
}

func NewRegistry(timeout time.Duration, checks ...Check) *Registry {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Registry{checks: checks, timeout: timeout}
}

func (r *Registry) Names() []string {
	names := make([]string, len(r.checks))
	for i, c := range r.checks {
		names[i] = c.Name
	}
	return names
}

func (r *Registry) run(ctx context.Context, c Check) Result {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	err := c.Probe(ctx)
	res := Result{
		Name:         c.Name,
		Required:     c.Required,
		ResponseTime: time.Since(start).Milliseconds(),
	}
	switch {
	case err == nil:
		res.Status = StatusUp
	case errors.Is(err, ErrDisabled):
		res.Status = StatusDisabled
	default:
		res.Status = StatusDown
		res.Message = err.Error()
	}
	return res
}

// Run probes every dependency. A required dependency that is down makes the
// report down; an optional one makes it degraded.
func (r *Registry) Run(ctx context.Context) *Report {
	results := make([]Result, len(r.checks))
	var wg sync.WaitGroup
	for i, c := range r.checks {
		wg.Add(1)
		go func(i int, c Check) {
			defer wg.Done()
			results[i] = r.run(ctx, c)
		}(i, c)
	}
	wg.Wait()

	report := &Report{Status: OverallOK, Checks: results, CheckedAt: time.Now().UTC()}
	for _, res := range results {
		if res.Status != StatusDown {
			continue
		}
		if res.Required {
			report.Status = OverallDown
			break
		}
		report.Status = OverallDegraded
	}
	return report
}
