package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/nimbus/pkg/log"
	"github.com/cuemby/nimbus/pkg/metrics"
	"github.com/rs/zerolog"
)

// ReportFunc receives the status of a component after every check
type ReportFunc func(name string, healthy bool, message string)

type monitored struct {
	name    string
	checker Checker
	status  *Status
}

// Monitor runs health checks periodically and reports each component's
// status to the engine health registry
type Monitor struct {
	config Config
	report ReportFunc
	logger zerolog.Logger

	mu     sync.Mutex
	checks []*monitored

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewMonitor creates a monitor reporting to metrics.UpdateComponent
func NewMonitor(config Config) *Monitor {
	return &Monitor{
		config: config,
		report: metrics.UpdateComponent,
		logger: log.WithComponent("health"),
		stopCh: make(chan struct{}),
	}
}

// WithReporter replaces the status sink
func (m *Monitor) WithReporter(report ReportFunc) *Monitor {
	m.report = report
	return m
}

// Add registers a named check. Call before Start.
func (m *Monitor) Add(name string, checker Checker) *Monitor {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks = append(m.checks, &monitored{name: name, checker: checker, status: NewStatus()})
	return m
}

// Start checks every component once, then every Interval
func (m *Monitor) Start() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.config.Interval)
		defer ticker.Stop()

		m.CheckAll(context.Background())
		for {
			select {
			case <-ticker.C:
				m.CheckAll(context.Background())
			case <-m.stopCh:
				return
			}
		}
	}()
}

// Stop stops the monitor and waits for a running round to finish
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

// CheckAll runs every check once
func (m *Monitor) CheckAll(ctx context.Context) {
	m.mu.Lock()
	checks := append([]*monitored(nil), m.checks...)
	m.mu.Unlock()

	for _, c := range checks {
		checkCtx, cancel := context.WithTimeout(ctx, m.config.Timeout)
		res := c.checker.Check(checkCtx)
		cancel()

		m.mu.Lock()
		flipped := c.status.Update(res, m.config)
		status := *c.status
		m.mu.Unlock()

		switch {
		case flipped && !status.Healthy:
			m.logger.Warn().Str("check", c.name).Str("type", string(c.checker.Type())).
				Int("failures", status.Failures).Msg(res.Message)
		case flipped:
			m.logger.Info().Str("check", c.name).Msg("Component recovered")
		}

		message := res.Message
		if !res.Healthy && status.Healthy {
			message = fmt.Sprintf("check failed %d/%d: %s", status.Failures, m.config.Retries, message)
		}
		m.report(c.name, status.Healthy, message)
	}
}

// Status returns a copy of the status of a named check
func (m *Monitor) Status(name string) (Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.checks {
		if c.name == name {
			return *c.status, true
		}
	}
	return Status{}, false
}
