package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/nimbus/pkg/desired"
	"github.com/cuemby/nimbus/pkg/orchestrator"
	"github.com/cuemby/nimbus/pkg/storage"
	"github.com/cuemby/nimbus/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusUpdate(t *testing.T) {
	cfg := Config{Retries: 3}
	s := NewStatus()
	at := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	fail := func(i int) Result {
		return Result{Healthy: false, Message: "down", CheckedAt: at.Add(time.Duration(i) * time.Minute)}
	}

	assert.False(t, s.Update(fail(1), cfg))
	assert.False(t, s.Update(fail(2), cfg))
	assert.True(t, s.Healthy, "stays healthy below the retry threshold")
	assert.Equal(t, 2, s.Failures)

	assert.True(t, s.Update(fail(3), cfg), "third failure flips the component")
	assert.False(t, s.Healthy)
	assert.Equal(t, at.Add(3*time.Minute), s.Since)

	assert.False(t, s.Update(fail(4), cfg))
	assert.Equal(t, at.Add(3*time.Minute), s.Since, "Since only moves on a flip")

	assert.True(t, s.Update(Result{Healthy: true, CheckedAt: at.Add(5 * time.Minute)}, cfg))
	assert.True(t, s.Healthy)
	assert.Equal(t, 0, s.Failures)
	assert.Equal(t, at.Add(5*time.Minute), s.Since)
}

func TestOrchestratorChecker(t *testing.T) {
	mem := orchestrator.NewMemory()
	checker := NewOrchestratorChecker(mem, "default")
	assert.Equal(t, CheckTypeOrchestrator, checker.Type())

	res := checker.Check(context.Background())
	assert.True(t, res.Healthy)
	assert.Contains(t, res.Message, "reachable")

	mem.InjectFault(orchestrator.Fault{Op: "list", Kind: types.ErrorTransport, Times: 1})
	res = checker.Check(context.Background())
	assert.False(t, res.Healthy)
	assert.NotEmpty(t, res.Message)
}

func TestStoreChecker(t *testing.T) {
	store := desired.New(storage.NewMemoryStore(), "default")
	_, err := store.Put(&types.ResourceRecord{ID: "vol-1", Kind: types.KindVolume, Spec: types.Spec{types.OptSize: "1Gi"}})
	require.NoError(t, err)

	res := NewStoreChecker(store).Check(context.Background())
	assert.True(t, res.Healthy)
	assert.Equal(t, "1 records", res.Message)
}

type report struct {
	healthy bool
	message string
}

type reports struct {
	mu   sync.Mutex
	seen map[string][]report
}

func (r *reports) record(name string, healthy bool, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen[name] = append(r.seen[name], report{healthy, message})
}

func TestMonitorReportsAfterRetries(t *testing.T) {
	rep := &reports{seen: map[string][]report{}}
	var failing bool
	m := NewMonitor(Config{Interval: time.Hour, Timeout: time.Second, Retries: 2}).
		WithReporter(rep.record).
		Add("nats", CheckFunc("connected", func(context.Context) error {
			if failing {
				return errors.New("disconnected")
			}
			return nil
		}))

	ctx := context.Background()
	m.CheckAll(ctx)
	failing = true
	m.CheckAll(ctx)
	m.CheckAll(ctx)
	failing = false
	m.CheckAll(ctx)

	got := rep.seen["nats"]
	require.Len(t, got, 4)
	assert.Equal(t, report{true, "connected"}, got[0])
	assert.Equal(t, report{true, "check failed 1/2: disconnected"}, got[1])
	assert.Equal(t, report{false, "disconnected"}, got[2])
	assert.Equal(t, report{true, "connected"}, got[3])

	status, ok := m.Status("nats")
	require.True(t, ok)
	assert.True(t, status.Healthy)
}

func TestMonitorStartStop(t *testing.T) {
	rep := &reports{seen: map[string][]report{}}
	m := NewMonitor(Config{Interval: 10 * time.Millisecond, Timeout: time.Second, Retries: 1}).
		WithReporter(rep.record).
		Add("store", CheckFunc("ok", func(context.Context) error { return nil }))

	m.Start()
	require.Eventually(t, func() bool {
		rep.mu.Lock()
		defer rep.mu.Unlock()
		return len(rep.seen["store"]) >= 2
	}, time.Second, 5*time.Millisecond)
	m.Stop()
	m.Stop()
}
