package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/nimbus/pkg/log"
	"github.com/cuemby/nimbus/pkg/metrics"
	"github.com/cuemby/nimbus/pkg/orchestrator"
	"github.com/cuemby/nimbus/pkg/types"
	"github.com/rs/zerolog"
	"k8s.io/apimachinery/pkg/util/wait"
)

const (
	// DefaultAttempts is the number of tries before an action fails
	DefaultAttempts = 5

	// DefaultAttemptTimeout bounds a single orchestrator call
	DefaultAttemptTimeout = 30 * time.Second
)

// DefaultBackoff doubles the wait between attempts from 1s up to 30s
func DefaultBackoff() wait.Backoff {
	return wait.Backoff{
		Duration: time.Second,
		Factor:   2,
		Cap:      30 * time.Second,
		Steps:    DefaultAttempts,
	}
}

// Executor applies actions through the orchestrator, retrying transient
// failures with exponential backoff
type Executor struct {
	client   orchestrator.Client
	backoff  wait.Backoff
	attempts int
	timeout  time.Duration
	logger   zerolog.Logger
}

// Option configures an Executor
type Option func(*Executor)

// WithBackoff sets the retry schedule. Steps, when set, also caps the
// number of attempts.
func WithBackoff(b wait.Backoff) Option {
	return func(e *Executor) {
		e.backoff = b
		if b.Steps > 0 {
			e.attempts = b.Steps
		}
	}
}

// WithAttemptTimeout bounds every orchestrator call
func WithAttemptTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// New creates an Executor
func New(client orchestrator.Client, opts ...Option) *Executor {
	e := &Executor{
		client:   client,
		backoff:  DefaultBackoff(),
		attempts: DefaultAttempts,
		timeout:  DefaultAttemptTimeout,
		logger:   log.WithComponent("executor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs action on behalf of the given record generation and returns
// its terminal outcome. Transport and Conflict failures are retried; any
// other failure ends the action at once. Deleting an object that is already
// gone succeeds.
func (e *Executor) Execute(ctx context.Context, action *types.Action, generation int64) types.Result {
	kind := string(action.Ref.Kind)
	actionType := string(action.Type)
	logger := e.logger.With().
		Str("resource_id", action.ResourceID).
		Str("action", actionType).
		Int64("generation", generation).
		Logger()

	metrics.ActionsInFlight.Inc()
	defer metrics.ActionsInFlight.Dec()
	timer := metrics.NewTimer()

	result := types.Result{Action: action, Generation: generation}
	backoff := e.backoff

	for attempt := 1; ; attempt++ {
		result.Attempts = attempt
		observed, err := e.attempt(ctx, action)
		if err == nil {
			result.Observed = observed
			result.Err = nil
			result.ErrorKind = ""
			break
		}

		kindOf := orchestrator.KindOf(err)
		if action.Type == types.ActionDelete && kindOf == types.ErrorNotFound {
			logger.Debug().Msg("Object already gone")
			result.Err = nil
			result.ErrorKind = ""
			break
		}

		result.Err = err
		result.ErrorKind = kindOf

		if !orchestrator.IsTransient(err) {
			// a vanished object is recreated after the next read
			result.Terminal = !(action.Type == types.ActionUpdate && kindOf == types.ErrorNotFound)
			break
		}
		if attempt >= e.attempts {
			result.Terminal = true
			break
		}

		delay := backoff.Step()
		logger.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", delay).Msg("Action failed, retrying")
		if !sleep(ctx, delay) {
			// shutdown: leave the record for the next run
			result.Err = fmt.Errorf("action interrupted after %d attempts: %w", attempt, err)
			break
		}
	}

	result.Duration = timer.Duration()
	timer.ObserveDurationVec(metrics.ActionDuration, actionType)
	metrics.ActionAttempts.WithLabelValues(actionType).Observe(float64(result.Attempts))

	outcome := "success"
	if result.Err != nil {
		outcome = string(result.ErrorKind)
		logger.Error().Err(result.Err).Int("attempts", result.Attempts).Bool("terminal", result.Terminal).Msg("Action failed")
	} else {
		logger.Info().Int("attempts", result.Attempts).Dur("duration", result.Duration).Msg("Action succeeded")
	}
	metrics.ActionsTotal.WithLabelValues(kind, actionType, outcome).Inc()
	return result
}

func (e *Executor) attempt(ctx context.Context, action *types.Action) (*types.ObservedObject, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	switch action.Type {
	case types.ActionCreate, types.ActionUpdate:
		if action.Object == nil {
			return nil, orchestrator.NewError(types.ErrorValidation, string(action.Type), action.Ref,
				fmt.Errorf("%s action without a desired object", action.Type))
		}
		return e.client.ApplyObject(ctx, action.Object)
	case types.ActionDelete:
		return nil, e.client.DeleteObject(ctx, action.Ref)
	default:
		return nil, orchestrator.NewError(types.ErrorValidation, string(action.Type), action.Ref,
			fmt.Errorf("unknown action type %q", action.Type))
	}
}

// sleep waits for d or until ctx is done; it reports whether the full wait
// elapsed
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
