package monitoring

import (
	"context"
	"errors"
	"time"
)

// ProbeStatus encodes the outcome of a health probe.
type ProbeStatus string

const (
	StatusUp       ProbeStatus = "up"
	StatusDown     ProbeStatus = "down"
	StatusDegraded ProbeStatus = "degraded"
)

// ProbeResult captures a single dependency check outcome.
type ProbeResult struct {
	Component string        `json:"component"`
	Status    ProbeStatus   `json:"status"`
	Details   string        `json:"details,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// HealthReport aggregates probe results for a readiness evaluation.
type HealthReport struct {
	Success bool          `json:"success"`
	Status  ProbeStatus   `json:"status"`
	Checks  []ProbeResult `json:"checks"`
}

// Check encapsulates a single dependency probe.
type Check struct {
	Name string
	Run  func(ctx context.Context) ProbeResult
}

// NewCheck constructs a health check with the provided name and function.
func NewCheck(name string, fn func(ctx context.Context) ProbeResult) Check {
	if fn == nil {
		fn = func(context.Context) ProbeResult {
			return ProbeResult{
				Component: name,
				Status:    StatusDown,
				Details:   "probe not implemented",
			}
		}
	}
	return Check{Name: name, Run: fn}
}

// HealthManager runs registered dependency probes for the readiness endpoint.
type HealthManager struct {
	checks []Check
}

// NewHealthManager constructs an empty health manager.
func NewHealthManager() *HealthManager {
	return &HealthManager{}
}

// Register appends a readiness probe.
func (m *HealthManager) Register(check Check) {
	if check.Name == "" {
		return
	}
	m.checks = append(m.checks, check)
}

// Evaluate executes all registered checks. A single StatusDown probe marks the
// whole report down; degraded probes mark it degraded but leave Success false
// either way.
func (m *HealthManager) Evaluate(ctx context.Context) HealthReport {
	report := HealthReport{
		Success: true,
		Status:  StatusUp,
		Checks:  make([]ProbeResult, 0, len(m.checks)),
	}

	for _, check := range m.checks {
		result := runCheck(ctx, check)
		report.Checks = append(report.Checks, result)

		switch result.Status {
		case StatusDown:
			report.Success = false
			report.Status = StatusDown
		case StatusDegraded:
			report.Success = false
			if report.Status != StatusDown {
				report.Status = StatusDegraded
			}
		}
	}
	return report
}

func runCheck(ctx context.Context, check Check) (result ProbeResult) {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()
	var panicked bool

	defer func() {
		if rec := recover(); rec != nil {
			panicked = true
			details := "panic recovered"
			switch v := rec.(type) {
			case string:
				details = v
			case error:
				details = v.Error()
			}
			result = ProbeResult{
				Status:   StatusDown,
				Details:  details,
				Duration: time.Since(start),
			}
		}
	}()

	result = check.Run(ctx)

	if result.Status == "" {
		result.Status = StatusDown
	}
	if !panicked && result.Duration == 0 {
		result.Duration = time.Since(start)
	}
	result.Component = check.Name
	return result
}

// ResultFromError converts an error into a ProbeResult with sensible defaults.
// Context cancellation is reported as degraded rather than down so a slow
// dependency does not flip the whole readiness report.
func ResultFromError(component string, err error, duration time.Duration) ProbeResult {
	if duration < 0 {
		duration = 0
	}
	if err == nil {
		return ProbeResult{Component: component, Status: StatusUp, Duration: duration}
	}

	status := StatusDown
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		status = StatusDegraded
	}

	return ProbeResult{
		Component: component,
		Status:    status,
		Details:   err.Error(),
		Duration:  duration,
	}
}
