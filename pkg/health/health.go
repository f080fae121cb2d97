package health

import (
	"context"
	"time"
)

// CheckType names what a checker probes
type CheckType string

const (
	CheckTypeOrchestrator CheckType = "orchestrator"
	CheckTypeStore        CheckType = "store"
	CheckTypeFunc         CheckType = "func"
)

// Result is the outcome of one check of an engine dependency
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker probes one dependency of the engine: the orchestrator API, the
// record store or the event bus
type Checker interface {
	Check(ctx context.Context) Result
	Type() CheckType
}

// Config controls how often dependencies are probed and how many failed
// probes in a row take a component down
type Config struct {
	Interval time.Duration
	// Timeout bounds a single Check
	Timeout time.Duration
	// Retries is the number of failed checks in a row that mark a
	// component unhealthy; a single success restores it
	Retries int
}

// DefaultConfig probes every 30s and tolerates two failed checks in a row
func DefaultConfig() Config {
	return Config{
		Interval: 30 * time.Second,
		Timeout:  10 * time.Second,
		Retries:  3,
	}
}

// Status is the view of one component the readiness endpoint reports
type Status struct {
	Healthy bool
	// Failures counts failed checks since the last success
	Failures int
	// Since is when Healthy last changed
	Since      time.Time
	LastResult Result
}

// NewStatus returns the status of a component not yet checked. It starts
// healthy so a slow first check does not fail readiness.
func NewStatus() *Status {
	return &Status{Healthy: true}
}

// Update folds a check result into the status and reports whether Healthy
// flipped
func (s *Status) Update(result Result, config Config) bool {
	s.LastResult = result
	was := s.Healthy

	if result.Healthy {
		s.Failures = 0
		s.Healthy = true
	} else {
		s.Failures++
		if s.Failures >= config.Retries {
			s.Healthy = false
		}
	}

	if s.Healthy != was {
		s.Since = result.CheckedAt
		return true
	}
	return false
}
