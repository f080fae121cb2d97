package reconciler

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/cuemby/nimbus/pkg/desired"
	"github.com/cuemby/nimbus/pkg/differ"
	"github.com/cuemby/nimbus/pkg/events"
	"github.com/cuemby/nimbus/pkg/log"
	"github.com/cuemby/nimbus/pkg/metrics"
	"github.com/cuemby/nimbus/pkg/types"
)

// Pass outcomes, used as the outcome label of nimbus_reconcile_passes_total
const (
	outcomeSkipped    = "skipped"
	outcomeUnknown    = "unknown"
	outcomeConverged  = "converged"
	outcomeRemoved    = "removed"
	outcomeSucceeded  = "succeeded"
	outcomeFailed     = "failed"
	outcomeRequeued   = "requeued"
	outcomeSuperseded = "superseded"
	outcomeError      = "error"
)

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}

func countPass(kind types.Kind, outcome string) {
	metrics.ReconcilePassesTotal.WithLabelValues(string(kind), outcome).Inc()
}

// reconcile runs one pass for id and reports whether another pass is due
// right away
func (r *Reconciler) reconcile(ctx context.Context, id string) bool {
	rec, err := r.store.Get(id)
	if err != nil {
		if !errors.Is(err, desired.ErrNotFound) {
			r.logger.Error().Err(err).Str("resource_id", id).Msg("Failed to load record")
		}
		return false
	}
	logger := log.WithResourceID(r.logger, id)

	// Failed records wait for a new generation or an explicit retry
	if rec.Phase == types.PhaseFailed && !rec.RetryRequested {
		countPass(rec.Kind, outcomeSkipped)
		return false
	}

	obs := r.reader.Observe(ctx, rec.Ref())
	if obs.Unknown {
		if ctx.Err() == nil {
			logger.Warn().Err(obs.Err).Msg("Live state unknown, keeping last observation")
			r.markStale(id)
		}
		countPass(rec.Kind, outcomeUnknown)
		return false
	}

	action := differ.Diff(rec, obs)
	if action == nil {
		if differ.TornDown(rec, obs) {
			r.remove(rec)
			return false
		}
		r.settle(rec, obs)
		return false
	}
	return r.act(ctx, rec, obs, action)
}

// setStatus updates the status of a record and publishes phase changes
func (r *Reconciler) setStatus(id string, fn func(cur *types.ResourceRecord) error) (*types.ResourceRecord, error) {
	var prev types.Phase
	rec, err := r.store.UpdateStatus(id, func(cur *types.ResourceRecord) error {
		prev = cur.Phase
		return fn(cur)
	})
	if err != nil {
		return nil, err
	}
	if rec.Phase != prev {
		r.logger.Debug().Str("resource_id", id).Str("from", string(prev)).Str("to", string(rec.Phase)).Msg("Phase changed")
		r.events.Publish(&events.Event{
			Type:       events.EventPhaseChanged,
			ResourceID: id,
			Message:    string(prev) + " -> " + string(rec.Phase),
			Metadata: map[string]string{
				"kind":       string(rec.Kind),
				"from":       string(prev),
				"to":         string(rec.Phase),
				"generation": itoa(rec.Generation),
			},
		})
	}
	return rec, nil
}

func healthy(obj *types.ObservedObject) bool {
	return obj != nil && obj.Ready
}

// settle records a converged observation: Ready when the object is
// healthy, Degraded otherwise
func (r *Reconciler) settle(rec *types.ResourceRecord, obs types.Observation) {
	_, err := r.setStatus(rec.ID, func(cur *types.ResourceRecord) error {
		if cur.Generation != rec.Generation {
			return errSuperseded
		}
		cur.Observed = obs.Object
		cur.ObservedAt = obs.At
		cur.ObservedStale = false
		cur.ObservedGeneration = cur.Generation
		cur.RetryRequested = false
		if healthy(obs.Object) {
			cur.Phase = types.PhaseReady
			cur.LastError = nil
		} else {
			cur.Phase = types.PhaseDegraded
		}
		return nil
	})
	if err != nil && !errors.Is(err, errSuperseded) && !errors.Is(err, desired.ErrNotFound) {
		r.logger.Error().Err(err).Str("resource_id", rec.ID).Msg("Failed to record observation")
		countPass(rec.Kind, outcomeError)
		return
	}
	countPass(rec.Kind, outcomeConverged)
}

func (r *Reconciler) markStale(id string) {
	_, err := r.store.UpdateStatus(id, func(cur *types.ResourceRecord) error {
		cur.ObservedStale = true
		return nil
	})
	if err != nil && !errors.Is(err, desired.ErrNotFound) {
		r.logger.Error().Err(err).Str("resource_id", id).Msg("Failed to mark observation stale")
	}
}

// remove drops a record whose object is confirmed gone
func (r *Reconciler) remove(rec *types.ResourceRecord) {
	if err := r.store.Remove(rec.ID); err != nil {
		if !errors.Is(err, desired.ErrNotFound) {
			r.logger.Error().Err(err).Str("resource_id", rec.ID).Msg("Failed to remove record")
			countPass(rec.Kind, outcomeError)
		}
		return
	}
	r.events.Publish(&events.Event{
		Type:       events.EventResourceRemoved,
		ResourceID: rec.ID,
		Metadata:   map[string]string{"kind": string(rec.Kind)},
	})
	countPass(rec.Kind, outcomeRemoved)
}

// act runs one action and applies its result. It reports whether the
// record needs another pass.
func (r *Reconciler) act(ctx context.Context, rec *types.ResourceRecord, obs types.Observation, action *types.Action) bool {
	logger := log.WithResourceID(r.logger, rec.ID)

	_, err := r.setStatus(rec.ID, func(cur *types.ResourceRecord) error {
		if cur.Generation != action.Generation {
			return errSuperseded
		}
		if cur.Deleting() {
			cur.Phase = types.PhaseDeleting
		} else {
			cur.Phase = types.PhaseReconciling
		}
		cur.RetryRequested = false
		if obs.Object != nil {
			cur.Observed = obs.Object
			cur.ObservedAt = obs.At
		}
		cur.ObservedStale = false
		return nil
	})
	switch {
	case errors.Is(err, errSuperseded):
		return true
	case err != nil:
		if !errors.Is(err, desired.ErrNotFound) {
			logger.Error().Err(err).Msg("Failed to mark record reconciling")
			countPass(rec.Kind, outcomeError)
		}
		return false
	}

	logger.Info().Str("action", action.String()).Msg("Executing action")
	r.events.Publish(&events.Event{
		Type:       events.EventActionStarted,
		ResourceID: rec.ID,
		Message:    action.String(),
		Metadata:   map[string]string{"kind": string(rec.Kind), "action": string(action.Type), "generation": itoa(action.Generation)},
	})

	result := r.executor.Execute(ctx, action, action.Generation)
	r.reader.Invalidate(rec.Kind)

	if ctx.Err() != nil && !result.Succeeded() {
		// shutting down: leave the record for the next run
		_, _ = r.store.UpdateStatus(rec.ID, func(cur *types.ResourceRecord) error {
			if cur.Phase == types.PhaseReconciling {
				cur.Phase = types.PhasePending
			}
			return nil
		})
		return false
	}
	return r.apply(rec, action, result)
}

func errorRecord(action *types.Action, result types.Result, at time.Time) *types.ErrorRecord {
	return &types.ErrorRecord{
		Kind:     result.ErrorKind,
		Message:  result.Err.Error(),
		Action:   action.Type,
		Attempts: result.Attempts,
		Time:     at,
	}
}

// apply folds an action result into the record unless the record moved on
// to a newer generation while the action ran
func (r *Reconciler) apply(rec *types.ResourceRecord, action *types.Action, result types.Result) bool {
	meta := map[string]string{
		"kind":       string(rec.Kind),
		"action":     string(action.Type),
		"generation": itoa(result.Generation),
		"attempts":   strconv.Itoa(result.Attempts),
	}

	// deletion intent freezes the generation, so a delete result is never stale
	if result.Succeeded() && action.Type == types.ActionDelete {
		r.events.Publish(&events.Event{Type: events.EventActionSucceeded, ResourceID: rec.ID, Message: action.String(), Metadata: meta})
		r.remove(rec)
		return false
	}

	requeue := false
	updated, err := r.setStatus(rec.ID, func(cur *types.ResourceRecord) error {
		if cur.Generation != result.Generation {
			return errSuperseded
		}
		now := r.now().UTC()
		switch {
		case result.Succeeded():
			if result.Observed != nil {
				cur.Observed = result.Observed
				cur.ObservedAt = now
			}
			cur.ObservedStale = false
			cur.ObservedGeneration = result.Generation
			cur.LastError = nil
			if healthy(cur.Observed) {
				cur.Phase = types.PhaseReady
			} else {
				cur.Phase = types.PhaseDegraded
			}
		case result.Terminal:
			cur.LastError = errorRecord(action, result, now)
			cur.Phase = types.PhaseFailed
		default:
			// the object vanished under an update: observe again and recreate
			cur.LastError = errorRecord(action, result, now)
			if cur.Deleting() {
				cur.Phase = types.PhaseDeleting
			} else {
				cur.Phase = types.PhasePending
			}
			requeue = true
		}
		return nil
	})

	switch {
	case errors.Is(err, errSuperseded):
		metrics.ActionsSuperseded.WithLabelValues(string(rec.Kind)).Inc()
		r.logger.Info().Str("resource_id", rec.ID).Int64("generation", result.Generation).
			Msg("Discarding result of superseded generation")
		r.events.Publish(&events.Event{Type: events.EventActionSuperseded, ResourceID: rec.ID, Message: action.String(), Metadata: meta})
		countPass(rec.Kind, outcomeSuperseded)
		return true
	case err != nil:
		if !errors.Is(err, desired.ErrNotFound) {
			r.logger.Error().Err(err).Str("resource_id", rec.ID).Msg("Failed to record action result")
			countPass(rec.Kind, outcomeError)
		}
		return false
	}

	switch {
	case result.Succeeded():
		r.events.Publish(&events.Event{Type: events.EventActionSucceeded, ResourceID: rec.ID, Message: action.String(), Metadata: meta})
		countPass(rec.Kind, outcomeSucceeded)
	case requeue:
		meta["error_kind"] = string(result.ErrorKind)
		r.events.Publish(&events.Event{Type: events.EventActionFailed, ResourceID: rec.ID, Message: result.Err.Error(), Metadata: meta})
		countPass(rec.Kind, outcomeRequeued)
	default:
		meta["error_kind"] = string(result.ErrorKind)
		r.events.Publish(&events.Event{Type: events.EventActionFailed, ResourceID: rec.ID, Message: result.Err.Error(), Metadata: meta})
		r.logger.Error().Str("resource_id", rec.ID).Str("error_kind", string(updated.LastError.Kind)).
			Msg("Resource failed, waiting for a new generation or retry")
		countPass(rec.Kind, outcomeFailed)
	}
	return requeue
}
