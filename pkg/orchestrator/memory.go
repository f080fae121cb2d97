package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/cuemby/nimbus/pkg/types"
)

// Call records one invocation against the in-memory orchestrator
type Call struct {
	Op         string
	Ref        types.ObjectRef
	Generation int64
	Err        error
}

// Fault is an injected failure consumed by the next matching calls
type Fault struct {
	Op    string // "list", "apply", "delete"; empty matches any
	Kind  types.ErrorKind
	Times int // number of calls to fail; negative fails forever
}

// Memory is an in-process orchestrator used as the test double for the
// cluster and as the backing store of the "memory" driver
type Memory struct {
	mu      sync.Mutex
	objects map[types.ObjectRef]*types.ObservedObject
	faults  []*Fault
	calls   []Call
	nextIP  int

	active        map[types.ObjectRef]int
	maxConcurrent map[types.ObjectRef]int
	unhealthy     map[types.ObjectRef]bool

	// BeforeApply, when set, runs before every apply outside the lock.
	// Tests use it to hold an action in flight.
	BeforeApply func(ctx context.Context, obj *types.DesiredObject)
	// BeforeDelete is the delete counterpart of BeforeApply
	BeforeDelete func(ctx context.Context, ref types.ObjectRef)
}

var _ Client = &Memory{}

// NewMemory creates an empty in-memory orchestrator
func NewMemory() *Memory {
	return &Memory{
		objects:       make(map[types.ObjectRef]*types.ObservedObject),
		active:        make(map[types.ObjectRef]int),
		maxConcurrent: make(map[types.ObjectRef]int),
		unhealthy:     make(map[types.ObjectRef]bool),
		nextIP:        10,
	}
}

// InjectFault queues a failure for upcoming calls
func (m *Memory) InjectFault(f Fault) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fc := f
	if fc.Times == 0 {
		fc.Times = 1
	}
	m.faults = append(m.faults, &fc)
}

// ClearFaults drops every queued failure
func (m *Memory) ClearFaults() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults = nil
}

// SetUnhealthy marks an object as not ready, simulating a partial failure
func (m *Memory) SetUnhealthy(ref types.ObjectRef, unhealthy bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unhealthy[ref] = unhealthy
	if obj, ok := m.objects[ref]; ok {
		m.refreshStatus(obj)
	}
}

// Put seeds an object directly, bypassing apply
func (m *Memory) Put(obj *types.ObservedObject) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[obj.Ref] = obj.Copy()
}

// Get returns a copy of the stored object
func (m *Memory) Get(ref types.ObjectRef) (*types.ObservedObject, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[ref]
	if !ok {
		return nil, false
	}
	return obj.Copy(), true
}

// Calls returns every recorded call
func (m *Memory) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallsFor returns the recorded mutating calls for one object
func (m *Memory) CallsFor(ref types.ObjectRef) []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Call
	for _, c := range m.calls {
		if c.Ref == ref && c.Op != "list" {
			out = append(out, c)
		}
	}
	return out
}

// MaxConcurrent returns the highest number of simultaneous mutating calls
// observed for one object
func (m *Memory) MaxConcurrent(ref types.ObjectRef) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxConcurrent[ref]
}

func (m *Memory) takeFault(op string) *Fault {
	for i, f := range m.faults {
		if f.Op != "" && f.Op != op {
			continue
		}
		if f.Times > 0 {
			f.Times--
			if f.Times == 0 {
				m.faults = append(m.faults[:i], m.faults[i+1:]...)
			}
		}
		return f
	}
	return nil
}

func (m *Memory) ListObjects(ctx context.Context, kind types.Kind, namespace string) ([]types.ObservedObject, error) {
	if err := ctx.Err(); err != nil {
		return nil, TransportError("list", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if f := m.takeFault("list"); f != nil {
		err := NewError(f.Kind, "list", types.ObjectRef{Kind: kind, Namespace: namespace}, errors.New("injected fault"))
		m.calls = append(m.calls, Call{Op: "list", Ref: types.ObjectRef{Kind: kind, Namespace: namespace}, Err: err})
		return nil, err
	}

	var out []types.ObservedObject
	for ref, obj := range m.objects {
		if ref.Kind != kind || (namespace != "" && ref.Namespace != namespace) {
			continue
		}
		out = append(out, *obj.Copy())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ref.Name < out[j].Ref.Name })
	m.calls = append(m.calls, Call{Op: "list", Ref: types.ObjectRef{Kind: kind, Namespace: namespace}})
	return out, nil
}

func (m *Memory) enter(ref types.ObjectRef) {
	m.active[ref]++
	if m.active[ref] > m.maxConcurrent[ref] {
		m.maxConcurrent[ref] = m.active[ref]
	}
}

func (m *Memory) leave(ref types.ObjectRef) {
	m.mu.Lock()
	m.active[ref]--
	m.mu.Unlock()
}

func (m *Memory) ApplyObject(ctx context.Context, obj *types.DesiredObject) (*types.ObservedObject, error) {
	ref := obj.Ref
	m.mu.Lock()
	m.enter(ref)
	m.mu.Unlock()
	defer m.leave(ref)

	if m.BeforeApply != nil {
		m.BeforeApply(ctx, obj)
	}
	if err := ctx.Err(); err != nil {
		return nil, TransportError("apply", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if f := m.takeFault("apply"); f != nil {
		err := NewError(f.Kind, "apply", ref, errors.New("injected fault"))
		m.calls = append(m.calls, Call{Op: "apply", Ref: ref, Generation: obj.Generation, Err: err})
		return nil, err
	}

	current, exists := m.objects[ref]
	if !exists {
		current = &types.ObservedObject{Ref: ref}
		if ref.Kind == types.KindVM {
			current.IP = fmt.Sprintf("10.0.1.%d", m.nextIP)
			m.nextIP++
		}
		m.objects[ref] = current
	}
	current.Spec = obj.Spec.Copy()
	m.refreshStatus(current)

	m.calls = append(m.calls, Call{Op: "apply", Ref: ref, Generation: obj.Generation})
	return current.Copy(), nil
}

func (m *Memory) DeleteObject(ctx context.Context, ref types.ObjectRef) error {
	m.mu.Lock()
	m.enter(ref)
	m.mu.Unlock()
	defer m.leave(ref)

	if m.BeforeDelete != nil {
		m.BeforeDelete(ctx, ref)
	}
	if err := ctx.Err(); err != nil {
		return TransportError("delete", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if f := m.takeFault("delete"); f != nil {
		err := NewError(f.Kind, "delete", ref, errors.New("injected fault"))
		m.calls = append(m.calls, Call{Op: "delete", Ref: ref, Err: err})
		return err
	}

	if _, ok := m.objects[ref]; !ok {
		err := NewError(types.ErrorNotFound, "delete", ref, errors.New("object not found"))
		m.calls = append(m.calls, Call{Op: "delete", Ref: ref, Err: err})
		return err
	}
	delete(m.objects, ref)
	m.calls = append(m.calls, Call{Op: "delete", Ref: ref})
	return nil
}

// refreshStatus derives replica counts and readiness from the stored spec
func (m *Memory) refreshStatus(obj *types.ObservedObject) {
	spec := obj.Spec
	replicas := 1
	switch obj.Ref.Kind {
	case types.KindService:
		if n, err := strconv.Atoi(spec[types.OptReplicas]); err == nil {
			replicas = n
		}
	}
	if running, err := strconv.ParseBool(spec[types.OptRunning]); err == nil && !running {
		replicas = 0
	}

	obj.Replicas = replicas
	obj.ReadyReplicas = replicas
	obj.Ready = true
	obj.Status = "Running"

	switch obj.Ref.Kind {
	case types.KindService:
		port := spec[types.OptPort]
		if port == "" {
			port = "80"
		}
		obj.Endpoint = fmt.Sprintf("%s.%s.svc:%s", obj.Ref.Name, obj.Ref.Namespace, port)
	case types.KindVolume:
		obj.Status = "Bound"
	case types.KindNetwork:
		obj.Status = "Active"
	}

	if m.unhealthy[obj.Ref] {
		obj.ReadyReplicas = 0
		obj.Ready = false
		obj.Status = "Unhealthy"
	}
}
