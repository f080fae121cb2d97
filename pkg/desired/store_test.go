package desired

import (
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/cuemby/nimbus/pkg/storage"
	"github.com/cuemby/nimbus/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore() *Store {
	return New(storage.NewMemoryStore(), "default")
}

func vm(id string, spec types.Spec) *types.ResourceRecord {
	return &types.ResourceRecord{ID: id, Kind: types.KindVM, Spec: spec}
}

func TestPutCreates(t *testing.T) {
	s := newTestStore()

	rec, err := s.Put(vm("vm-1", types.Spec{types.OptImage: "ubuntu", types.OptCPU: "2"}))
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Generation)
	assert.Equal(t, types.PhasePending, rec.Phase)
	assert.Equal(t, "default", rec.Namespace)
	assert.Equal(t, "vm-1", rec.Name)
	assert.Nil(t, rec.Observed)
}

func TestPutGeneratesID(t *testing.T) {
	s := newTestStore()

	rec, err := s.Put(&types.ResourceRecord{Kind: types.KindVolume, Spec: types.Spec{types.OptSize: "5Gi"}})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(rec.ID, "vol-"))
	assert.Len(t, rec.ID, len("vol-")+8)
}

func TestPutValidation(t *testing.T) {
	s := newTestStore()

	tests := []struct {
		name string
		rec  *types.ResourceRecord
	}{
		{"missing image", vm("vm-1", types.Spec{types.OptCPU: "2"})},
		{"bad quantity", vm("vm-1", types.Spec{types.OptImage: "x", types.OptMemory: "lots"})},
		{"bad id", vm("VM_1", types.Spec{types.OptImage: "x"})},
		{"unknown kind", &types.ResourceRecord{ID: "x-1", Kind: "database", Spec: types.Spec{}}},
		{"bad cidr", &types.ResourceRecord{ID: "net-1", Kind: types.KindNetwork, Spec: types.Spec{types.OptCIDR: "10.0.0.0"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Put(tt.rec)
			var verr *types.ValidationError
			assert.True(t, errors.As(err, &verr), "expected validation error, got %v", err)
		})
	}
}

func TestPutMergesAndBumpsGeneration(t *testing.T) {
	s := newTestStore()
	_, err := s.Put(vm("vm-1", types.Spec{types.OptImage: "ubuntu", types.OptCPU: "2", types.OptMemory: "4Gi"}))
	require.NoError(t, err)

	rec, err := s.Put(vm("vm-1", types.Spec{types.OptCPU: "4"}))
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.Generation)
	assert.Equal(t, "4", rec.Spec[types.OptCPU])
	assert.Equal(t, "4Gi", rec.Spec[types.OptMemory])

	// an empty value removes the option
	rec, err = s.Put(vm("vm-1", types.Spec{types.OptMemory: ""}))
	require.NoError(t, err)
	assert.Equal(t, int64(3), rec.Generation)
	_, ok := rec.Spec[types.OptMemory]
	assert.False(t, ok)
}

func TestPutIdenticalSpecIsNoop(t *testing.T) {
	s := newTestStore()
	var notified int
	s.OnChange(func(*types.ResourceRecord) { notified++ })

	spec := types.Spec{types.OptImage: "ubuntu", types.OptCPU: "2"}
	_, err := s.Put(vm("vm-1", spec))
	require.NoError(t, err)
	rec, err := s.Put(vm("vm-1", spec))
	require.NoError(t, err)

	assert.Equal(t, int64(1), rec.Generation)
	assert.Equal(t, 1, notified)
}

func TestPutKeepsReconcilingPhase(t *testing.T) {
	s := newTestStore()
	_, err := s.Put(vm("vm-1", types.Spec{types.OptImage: "ubuntu"}))
	require.NoError(t, err)
	_, err = s.UpdateStatus("vm-1", func(r *types.ResourceRecord) error {
		r.Phase = types.PhaseReconciling
		return nil
	})
	require.NoError(t, err)

	rec, err := s.Put(vm("vm-1", types.Spec{types.OptCPU: "4"}))
	require.NoError(t, err)
	assert.Equal(t, types.PhaseReconciling, rec.Phase)
	assert.Equal(t, int64(2), rec.Generation)
}

func TestPutKindMismatch(t *testing.T) {
	s := newTestStore()
	_, err := s.Put(vm("vm-1", types.Spec{types.OptImage: "ubuntu"}))
	require.NoError(t, err)

	_, err = s.Put(&types.ResourceRecord{ID: "vm-1", Kind: types.KindVolume, Spec: types.Spec{types.OptSize: "1Gi"}})
	var verr *types.ValidationError
	assert.True(t, errors.As(err, &verr))
}

func TestDeleteIsMonotone(t *testing.T) {
	s := newTestStore()
	_, err := s.Put(vm("vm-1", types.Spec{types.OptImage: "ubuntu"}))
	require.NoError(t, err)

	rec, err := s.Delete("vm-1")
	require.NoError(t, err)
	assert.Equal(t, types.PhaseDeleting, rec.Phase)
	assert.Equal(t, int64(2), rec.Generation)

	// repeated delete changes nothing
	rec, err = s.Delete("vm-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.Generation)

	// an update cannot revive it
	_, err = s.Put(vm("vm-1", types.Spec{types.OptCPU: "8"}))
	assert.True(t, errors.Is(err, ErrDeleting))

	_, err = s.SetRunning("vm-1", false)
	assert.True(t, errors.Is(err, ErrDeleting))

	require.NoError(t, s.Remove("vm-1"))
	_, err = s.Get("vm-1")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestRemoveRequiresDeletion(t *testing.T) {
	s := newTestStore()
	_, err := s.Put(vm("vm-1", types.Spec{types.OptImage: "ubuntu"}))
	require.NoError(t, err)
	assert.Error(t, s.Remove("vm-1"))

	_, err = s.Delete("vm-unknown")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestUpdateStatusCannotChangeIntent(t *testing.T) {
	s := newTestStore()
	_, err := s.Put(vm("vm-1", types.Spec{types.OptImage: "ubuntu"}))
	require.NoError(t, err)

	rec, err := s.UpdateStatus("vm-1", func(r *types.ResourceRecord) error {
		r.Phase = types.PhaseReady
		r.Observed = &types.ObservedObject{IP: "10.0.1.10"}
		r.Spec[types.OptImage] = "hijacked"
		r.Generation = 99
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, types.PhaseReady, rec.Phase)
	assert.Equal(t, "10.0.1.10", rec.Observed.IP)
	assert.Equal(t, "ubuntu", rec.Spec[types.OptImage])
	assert.Equal(t, int64(1), rec.Generation)
}

func TestRetry(t *testing.T) {
	s := newTestStore()
	_, err := s.Put(vm("vm-1", types.Spec{types.OptImage: "ubuntu"}))
	require.NoError(t, err)

	_, err = s.Retry("vm-1")
	assert.True(t, errors.Is(err, ErrNotFailed))

	_, err = s.UpdateStatus("vm-1", func(r *types.ResourceRecord) error {
		r.Phase = types.PhaseFailed
		return nil
	})
	require.NoError(t, err)

	rec, err := s.Retry("vm-1")
	require.NoError(t, err)
	assert.Equal(t, types.PhasePending, rec.Phase)
	assert.True(t, rec.RetryRequested)
	assert.Equal(t, int64(1), rec.Generation)
}

func TestRetryFailedDeletion(t *testing.T) {
	s := newTestStore()
	_, err := s.Put(vm("vm-1", types.Spec{types.OptImage: "ubuntu"}))
	require.NoError(t, err)
	_, err = s.Delete("vm-1")
	require.NoError(t, err)
	_, err = s.UpdateStatus("vm-1", func(r *types.ResourceRecord) error {
		r.Phase = types.PhaseFailed
		return nil
	})
	require.NoError(t, err)

	rec, err := s.Retry("vm-1")
	require.NoError(t, err)
	assert.Equal(t, types.PhaseDeleting, rec.Phase)
}

func TestPowerActions(t *testing.T) {
	s := newTestStore()
	_, err := s.Put(vm("vm-1", types.Spec{types.OptImage: "ubuntu"}))
	require.NoError(t, err)

	// running defaults to true: starting changes nothing
	rec, err := s.SetRunning("vm-1", true)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Generation)

	rec, err = s.SetRunning("vm-1", false)
	require.NoError(t, err)
	assert.Equal(t, "false", rec.Spec[types.OptRunning])
	assert.Equal(t, int64(2), rec.Generation)

	rec, err = s.SetRunning("vm-1", false)
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.Generation)

	rec, err = s.Restart("vm-1")
	require.NoError(t, err)
	assert.Equal(t, "true", rec.Spec[types.OptRunning])
	assert.NotEmpty(t, rec.Spec[types.OptRestartedAt])
	assert.Equal(t, int64(3), rec.Generation)

	_, err = s.Put(&types.ResourceRecord{ID: "vol-1", Kind: types.KindVolume, Spec: types.Spec{types.OptSize: "1Gi"}})
	require.NoError(t, err)
	_, err = s.SetRunning("vol-1", false)
	var verr *types.ValidationError
	assert.True(t, errors.As(err, &verr))
}

func TestConcurrentPutsSerialize(t *testing.T) {
	s := newTestStore()
	_, err := s.Put(vm("vm-1", types.Spec{types.OptImage: "ubuntu"}))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Put(vm("vm-1", types.Spec{"disk": strconv.Itoa(i+1) + "Gi"}))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	rec, err := s.Get("vm-1")
	require.NoError(t, err)
	// every put changed the disk size, so none was lost
	assert.Equal(t, int64(51), rec.Generation)
}

func TestListByKind(t *testing.T) {
	s := newTestStore()
	_, err := s.Put(vm("vm-b", types.Spec{types.OptImage: "ubuntu"}))
	require.NoError(t, err)
	_, err = s.Put(vm("vm-a", types.Spec{types.OptImage: "ubuntu"}))
	require.NoError(t, err)
	_, err = s.Put(&types.ResourceRecord{ID: "net-a", Kind: types.KindNetwork, Spec: types.Spec{types.OptCIDR: "10.0.0.0/24"}})
	require.NoError(t, err)

	vms, err := s.ListByKind(types.KindVM)
	require.NoError(t, err)
	require.Len(t, vms, 2)
	assert.Equal(t, "vm-a", vms[0].ID)

	all, err := s.List()
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
