package reader

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/nimbus/pkg/log"
	"github.com/cuemby/nimbus/pkg/metrics"
	"github.com/cuemby/nimbus/pkg/orchestrator"
	"github.com/cuemby/nimbus/pkg/types"
	"github.com/rs/zerolog"
)

const (
	// DefaultTimeout bounds a single read of the orchestrator
	DefaultTimeout = 10 * time.Second

	// DefaultMaxAge is how long a snapshot answers lookups before it is
	// refreshed
	DefaultMaxAge = 5 * time.Second
)

// Snapshot is the full set of live objects of one kind at a point in time
type Snapshot struct {
	Kind    types.Kind
	Objects []types.ObservedObject
	At      time.Time

	byKey map[string]int
}

func objectKey(namespace, name string) string {
	return namespace + "/" + name
}

func newSnapshot(kind types.Kind, objects []types.ObservedObject, at time.Time) *Snapshot {
	s := &Snapshot{Kind: kind, Objects: objects, At: at, byKey: make(map[string]int, len(objects))}
	for i, obj := range objects {
		s.byKey[objectKey(obj.Ref.Namespace, obj.Ref.Name)] = i
	}
	return s
}

// Lookup returns a copy of the named object, or nil when absent
func (s *Snapshot) Lookup(namespace, name string) *types.ObservedObject {
	i, ok := s.byKey[objectKey(namespace, name)]
	if !ok {
		return nil
	}
	return s.Objects[i].Copy()
}

// Reader reads live cluster state. It never mutates the cluster and never
// reports an object as absent when the read itself failed.
type Reader struct {
	client    orchestrator.Client
	namespace string
	timeout   time.Duration
	maxAge    time.Duration
	now       func() time.Time
	logger    zerolog.Logger

	mu        sync.Mutex
	snapshots map[types.Kind]*Snapshot
	// fetching de-duplicates concurrent refreshes of one kind
	fetching map[types.Kind]*fetchCall
	// epoch advances on Invalidate; reads started in an older epoch are
	// neither joined nor cached as fresh
	epoch   map[types.Kind]uint64
	expired map[types.Kind]bool
}

type fetchCall struct {
	epoch uint64
	done  chan struct{}
	snap  *Snapshot
	err   error
}

// Option configures a Reader
type Option func(*Reader)

// WithTimeout sets the per-read deadline
func WithTimeout(d time.Duration) Option {
	return func(r *Reader) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithMaxAge sets how long a cached snapshot is served
func WithMaxAge(d time.Duration) Option {
	return func(r *Reader) {
		if d >= 0 {
			r.maxAge = d
		}
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(r *Reader) {
		r.now = now
	}
}

// New creates a Reader over the orchestrator client. An empty namespace
// reads every namespace.
func New(client orchestrator.Client, namespace string, opts ...Option) *Reader {
	r := &Reader{
		client:    client,
		namespace: namespace,
		timeout:   DefaultTimeout,
		maxAge:    DefaultMaxAge,
		now:       time.Now,
		logger:    log.WithComponent("reader"),
		snapshots: make(map[types.Kind]*Snapshot),
		fetching:  make(map[types.Kind]*fetchCall),
		epoch:     make(map[types.Kind]uint64),
		expired:   make(map[types.Kind]bool),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type listResult struct {
	objects []types.ObservedObject
	err     error
}

// Fetch lists the live objects of a kind, ordered by name. It returns a
// Transport error when the orchestrator is unreachable or the read exceeds
// the timeout, even if the client ignores its context, and a Parse error
// when the response is malformed.
func (r *Reader) Fetch(ctx context.Context, kind types.Kind) ([]types.ObservedObject, error) {
	snap, err := r.refresh(ctx, kind)
	if err != nil {
		return nil, err
	}
	out := make([]types.ObservedObject, len(snap.Objects))
	for i := range snap.Objects {
		out[i] = *snap.Objects[i].Copy()
	}
	return out, nil
}

func (r *Reader) list(ctx context.Context, kind types.Kind) ([]types.ObservedObject, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.ReaderFetchDuration, string(kind))

	ch := make(chan listResult, 1)
	go func() {
		objects, err := r.client.ListObjects(ctx, kind, r.namespace)
		ch <- listResult{objects: objects, err: err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			metrics.ReaderFetchTotal.WithLabelValues(string(kind), string(orchestrator.KindOf(res.err))).Inc()
			return nil, orchestrator.Wrap("list", types.ObjectRef{Kind: kind, Namespace: r.namespace}, res.err)
		}
		if err := checkObjects(kind, res.objects); err != nil {
			metrics.ReaderFetchTotal.WithLabelValues(string(kind), string(types.ErrorParse)).Inc()
			return nil, err
		}
		metrics.ReaderFetchTotal.WithLabelValues(string(kind), "ok").Inc()
		return res.objects, nil
	case <-ctx.Done():
		metrics.ReaderFetchTotal.WithLabelValues(string(kind), string(types.ErrorTransport)).Inc()
		return nil, orchestrator.TransportError("list", fmt.Errorf("reading %s: %w", kind, ctx.Err()))
	}
}

// checkObjects rejects responses that cannot be matched to records
func checkObjects(kind types.Kind, objects []types.ObservedObject) error {
	seen := make(map[string]bool, len(objects))
	for _, obj := range objects {
		if obj.Ref.Name == "" {
			return orchestrator.ParseError("list", fmt.Errorf("%s object without a name", kind))
		}
		if obj.Ref.Kind != kind {
			return orchestrator.ParseError("list", fmt.Errorf("listing %s returned a %s object", kind, obj.Ref.Kind))
		}
		key := objectKey(obj.Ref.Namespace, obj.Ref.Name)
		if seen[key] {
			return orchestrator.ParseError("list", fmt.Errorf("duplicate %s object %q", kind, key))
		}
		seen[key] = true
	}
	return nil
}

// refresh reads a fresh snapshot and caches it. Concurrent callers for the
// same kind share one orchestrator call.
func (r *Reader) refresh(ctx context.Context, kind types.Kind) (*Snapshot, error) {
	r.mu.Lock()
	if call, ok := r.fetching[kind]; ok && call.epoch == r.epoch[kind] {
		r.mu.Unlock()
		select {
		case <-call.done:
			return call.snap, call.err
		case <-ctx.Done():
			return nil, orchestrator.TransportError("list", ctx.Err())
		}
	}
	call := &fetchCall{epoch: r.epoch[kind], done: make(chan struct{})}
	r.fetching[kind] = call
	r.mu.Unlock()

	objects, err := r.list(ctx, kind)

	r.mu.Lock()
	if err == nil {
		call.snap = newSnapshot(kind, objects, r.now())
		if call.epoch == r.epoch[kind] {
			r.snapshots[kind] = call.snap
			r.expired[kind] = false
		}
	} else {
		call.err = err
	}
	if r.fetching[kind] == call {
		delete(r.fetching, kind)
	}
	r.mu.Unlock()
	close(call.done)

	if err != nil {
		r.logger.Warn().Err(err).Str("kind", string(kind)).Msg("Cluster read failed")
	}
	return call.snap, call.err
}

// Refresh re-reads a kind regardless of snapshot age
func (r *Reader) Refresh(ctx context.Context, kind types.Kind) (*Snapshot, error) {
	return r.refresh(ctx, kind)
}

// Observe looks up one object. A failed read yields an Unknown observation,
// never an absent one. So does an object outside the namespace the reader
// lists: its absence from a snapshot proves nothing.
func (r *Reader) Observe(ctx context.Context, ref types.ObjectRef) types.Observation {
	if r.namespace != "" && ref.Namespace != r.namespace {
		return types.Observation{
			Unknown: true,
			Err: orchestrator.NewError(types.ErrorValidation, "observe", ref,
				fmt.Errorf("namespace %q is not read, only %q is", ref.Namespace, r.namespace)),
			At: r.now(),
		}
	}

	snap, fresh := r.cached(ref.Kind)
	if !fresh {
		var err error
		snap, err = r.refresh(ctx, ref.Kind)
		if err != nil {
			return types.Observation{Unknown: true, Err: err, At: r.now()}
		}
	}

	obj := snap.Lookup(ref.Namespace, ref.Name)
	return types.Observation{Object: obj, At: snap.At}
}

func (r *Reader) cached(kind types.Kind) (*Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap, ok := r.snapshots[kind]
	if !ok || r.expired[kind] {
		return snap, false
	}
	return snap, r.now().Sub(snap.At) <= r.maxAge
}

// Invalidate expires the cached snapshot of a kind so the next lookup reads
// the orchestrator again. LastSnapshot keeps serving it until then.
func (r *Reader) Invalidate(kind types.Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.epoch[kind]++
	r.expired[kind] = true
}

// LastSnapshot returns the most recent successful snapshot of a kind,
// however old
func (r *Reader) LastSnapshot(kind types.Kind) (*Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap, ok := r.snapshots[kind]
	return snap, ok
}
