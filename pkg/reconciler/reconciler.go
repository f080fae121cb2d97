package reconciler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cuemby/nimbus/pkg/desired"
	"github.com/cuemby/nimbus/pkg/events"
	"github.com/cuemby/nimbus/pkg/executor"
	"github.com/cuemby/nimbus/pkg/log"
	"github.com/cuemby/nimbus/pkg/metrics"
	"github.com/cuemby/nimbus/pkg/reader"
	"github.com/cuemby/nimbus/pkg/types"
	"github.com/rs/zerolog"
)

// DefaultInterval is how often every record of a kind is re-examined
const DefaultInterval = 15 * time.Second

// errSuperseded aborts a status update whose action belongs to an older
// generation
var errSuperseded = errors.New("generation superseded")

// Reconciler drives every record toward its desired state. Each kind has
// its own ticker; passes for one id never overlap, passes for different ids
// run concurrently.
type Reconciler struct {
	store    *desired.Store
	reader   *reader.Reader
	executor *executor.Executor
	events   events.Publisher
	interval time.Duration
	kinds    []types.Kind
	now      func() time.Time
	logger   zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	started  bool
	stopped  bool
	inflight map[string]bool
	queued   map[string]bool
}

// Option configures a Reconciler
type Option func(*Reconciler)

// WithInterval sets the per-kind tick interval
func WithInterval(d time.Duration) Option {
	return func(r *Reconciler) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithKinds restricts the kinds that get a ticker
func WithKinds(kinds ...types.Kind) Option {
	return func(r *Reconciler) {
		r.kinds = kinds
	}
}

// WithEvents sets the event sink
func WithEvents(p events.Publisher) Option {
	return func(r *Reconciler) {
		if p != nil {
			r.events = p
		}
	}
}

// NewReconciler creates a reconciler and subscribes it to intent changes
// of the store, so every put, delete, retry, start, stop and restart
// triggers an immediate pass.
func NewReconciler(store *desired.Store, rd *reader.Reader, exec *executor.Executor, opts ...Option) *Reconciler {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Reconciler{
		store:    store,
		reader:   rd,
		executor: exec,
		events:   events.Discard{},
		interval: DefaultInterval,
		kinds:    types.AllKinds,
		now:      time.Now,
		logger:   log.WithComponent("reconciler"),
		ctx:      ctx,
		cancel:   cancel,
		inflight: make(map[string]bool),
		queued:   make(map[string]bool),
	}
	for _, opt := range opts {
		opt(r)
	}
	store.OnChange(r.onChange)
	return r
}

// Start begins one reconciliation loop per kind. The loops stop when ctx is
// done or Stop is called.
func (r *Reconciler) Start(ctx context.Context) {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			r.cancel()
		case <-r.ctx.Done():
		}
	}()

	for _, kind := range r.kinds {
		r.wg.Add(1)
		go r.run(kind)
	}
	r.logger.Info().Dur("interval", r.interval).Int("kinds", len(r.kinds)).Msg("Reconciler started")
}

// Stop cancels in-flight actions and waits for every loop and pass to exit
func (r *Reconciler) Stop() {
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()
	r.cancel()
	r.wg.Wait()
	r.logger.Info().Msg("Reconciler stopped")
}

// run is the reconciliation loop of one kind
func (r *Reconciler) run(kind types.Kind) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.reconcileKind(kind)
	for {
		select {
		case <-ticker.C:
			r.reconcileKind(kind)
		case <-r.ctx.Done():
			return
		}
	}
}

// reconcileKind refreshes the snapshot of a kind and triggers a pass for
// each of its records. It never waits for the passes.
func (r *Reconciler) reconcileKind(kind types.Kind) {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDurationVec(metrics.ReconcileDuration, string(kind))
		metrics.ReconcileCyclesTotal.WithLabelValues(string(kind)).Inc()
	}()

	records, err := r.store.ListByKind(kind)
	if err != nil {
		r.logger.Error().Err(err).Str("kind", string(kind)).Msg("Failed to list records")
		return
	}
	if len(records) == 0 {
		return
	}

	if _, err := r.reader.Refresh(r.ctx, kind); err != nil {
		if r.ctx.Err() != nil {
			return
		}
		r.events.Publish(&events.Event{
			Type:     events.EventObservationFailed,
			Message:  err.Error(),
			Metadata: map[string]string{"kind": string(kind)},
		})
		for _, rec := range records {
			r.markStale(rec.ID)
		}
		return
	}

	for _, rec := range records {
		r.Trigger(rec.ID)
	}
}

// Trigger schedules an immediate pass for id. When a pass for id is already
// running the request is queued; any number of queued requests collapse into
// one follow-up pass.
func (r *Reconciler) Trigger(id string) {
	r.mu.Lock()
	if r.stopped || r.ctx.Err() != nil {
		r.mu.Unlock()
		return
	}
	if r.inflight[id] {
		if !r.queued[id] {
			r.queued[id] = true
			metrics.ReconcileQueued.Inc()
		}
		r.mu.Unlock()
		return
	}
	r.inflight[id] = true
	r.wg.Add(1)
	r.mu.Unlock()

	go r.worker(id)
}

// InFlight returns the number of ids with a running pass
func (r *Reconciler) InFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inflight)
}

func (r *Reconciler) worker(id string) {
	defer r.wg.Done()
	for {
		again := r.reconcile(r.ctx, id)

		r.mu.Lock()
		if (again || r.queued[id]) && r.ctx.Err() == nil {
			delete(r.queued, id)
			r.mu.Unlock()
			continue
		}
		delete(r.queued, id)
		delete(r.inflight, id)
		r.mu.Unlock()
		return
	}
}

func (r *Reconciler) onChange(rec *types.ResourceRecord) {
	eventType := events.EventResourceUpdated
	switch {
	case rec.RetryRequested:
		eventType = events.EventResourceRetried
	case rec.Deleting():
		eventType = events.EventResourceDeleting
	case rec.Generation == 1:
		eventType = events.EventResourceDeclared
	}
	r.events.Publish(&events.Event{
		Type:       eventType,
		ResourceID: rec.ID,
		Metadata:   map[string]string{"kind": string(rec.Kind), "generation": itoa(rec.Generation)},
	})
	r.Trigger(rec.ID)
}
