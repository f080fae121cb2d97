package projector

import (
	"testing"
	"time"

	"github.com/cuemby/nimbus/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func observed(ready bool, replicas, readyReplicas int) *types.ObservedObject {
	return &types.ObservedObject{Ready: ready, Replicas: replicas, ReadyReplicas: readyReplicas, Spec: types.Spec{}}
}

func TestStatus(t *testing.T) {
	tests := []struct {
		name string
		rec  types.ResourceRecord
		want string
	}{
		{"pending without object", types.ResourceRecord{Kind: types.KindVM, Phase: types.PhasePending}, StatusCreating},
		{"reconciling without object", types.ResourceRecord{Kind: types.KindVM, Phase: types.PhaseReconciling}, StatusCreating},
		{"ready and healthy", types.ResourceRecord{Kind: types.KindVM, Phase: types.PhaseReady, Observed: observed(true, 1, 1)}, StatusRunning},
		{"ready but unhealthy", types.ResourceRecord{Kind: types.KindVM, Phase: types.PhaseReady, Observed: observed(false, 1, 0)}, StatusDegraded},
		{"degraded", types.ResourceRecord{Kind: types.KindService, Phase: types.PhaseDegraded, Observed: observed(false, 3, 1)}, StatusDegraded},
		{"updating", types.ResourceRecord{Kind: types.KindVM, Phase: types.PhaseReconciling, Observed: observed(true, 1, 1)}, StatusUpdating},
		{"pending update", types.ResourceRecord{Kind: types.KindVM, Phase: types.PhasePending, Observed: observed(true, 1, 1)}, StatusUpdating},
		{
			"stopped",
			types.ResourceRecord{Kind: types.KindVM, Phase: types.PhaseReady, Spec: types.Spec{types.OptRunning: "false"}, Observed: observed(true, 0, 0)},
			StatusStopped,
		},
		{
			"stopping",
			types.ResourceRecord{Kind: types.KindVM, Phase: types.PhaseReconciling, Spec: types.Spec{types.OptRunning: "false"}, Observed: observed(true, 1, 1)},
			StatusUpdating,
		},
		{"deleting", types.ResourceRecord{Kind: types.KindVM, Phase: types.PhaseDeleting, DeletionRequested: true, Observed: observed(true, 1, 1)}, StatusDeleting},
		{"failed", types.ResourceRecord{Kind: types.KindVM, Phase: types.PhaseFailed}, StatusFailed},
		{"failed delete", types.ResourceRecord{Kind: types.KindVM, Phase: types.PhaseFailed, DeletionRequested: true}, StatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Status(&tt.rec))
		})
	}
}

func TestProjectUsesObservedOnly(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := &types.ResourceRecord{
		ID:         "net-1",
		Kind:       types.KindNetwork,
		Name:       "backend",
		Namespace:  "default",
		Spec:       types.Spec{types.OptCIDR: "10.0.2.0/24"},
		Phase:      types.PhaseReady,
		Generation: 2,
		Observed: &types.ObservedObject{
			Spec:  types.Spec{types.OptCIDR: "10.0.1.0/24"},
			Ready: true,
		},
		ObservedAt:         at,
		ObservedGeneration: 1,
	}

	view := Project(rec)
	assert.Equal(t, "10.0.1.1", view.Gateway, "gateway follows the live network")
	assert.Equal(t, StatusRunning, view.Status)
	assert.Equal(t, int64(2), view.Generation)
	assert.Equal(t, int64(1), view.ObservedGeneration)
	require.NotNil(t, view.ObservedAt)
	assert.Equal(t, at, *view.ObservedAt)

	rec.Observed = nil
	rec.ObservedAt = time.Time{}
	view = Project(rec)
	assert.Empty(t, view.Gateway)
	assert.Empty(t, view.IP)
	assert.Nil(t, view.ObservedAt)
	assert.Equal(t, StatusCreating, view.Status)
}

func TestProjectCopiesRecord(t *testing.T) {
	rec := &types.ResourceRecord{
		ID:        "vm-1",
		Kind:      types.KindVM,
		Spec:      types.Spec{types.OptImage: "ubuntu"},
		Phase:     types.PhaseFailed,
		LastError: &types.ErrorRecord{Kind: types.ErrorTransport, Message: "timeout"},
		Observed:  &types.ObservedObject{IP: "10.0.1.10", Replicas: 1, ReadyReplicas: 1},
	}
	view := Project(rec)
	assert.Equal(t, "10.0.1.10", view.IP)
	assert.Equal(t, 1, view.ReadyReplicas)

	view.Spec[types.OptImage] = "changed"
	view.LastError.Message = "changed"
	assert.Equal(t, "ubuntu", rec.Spec[types.OptImage])
	assert.Equal(t, "timeout", rec.LastError.Message)
}

func TestSummarize(t *testing.T) {
	recs := []*types.ResourceRecord{
		{ID: "vm-1", Kind: types.KindVM, Phase: types.PhaseReady, Spec: types.Spec{types.OptCPU: "2", types.OptMemory: "4Gi"}, Observed: observed(true, 1, 1)},
		{ID: "vm-2", Kind: types.KindVM, Phase: types.PhaseReady, Spec: types.Spec{types.OptRunning: "false"}, Observed: observed(true, 0, 0)},
		{ID: "vm-3", Kind: types.KindVM, Phase: types.PhaseFailed, Spec: types.Spec{types.OptCPU: "500m"}},
		{ID: "vol-1", Kind: types.KindVolume, Phase: types.PhaseReady, Spec: types.Spec{types.OptSize: "10Gi"}, Observed: observed(true, 1, 1)},
		{ID: "net-1", Kind: types.KindNetwork, Phase: types.PhasePending, Spec: types.Spec{types.OptCIDR: "10.0.0.0/24"}},
	}

	stats := Summarize(ProjectAll(recs))
	assert.Equal(t, 5, stats.Total)

	vms := stats.Kinds[types.KindVM]
	assert.Equal(t, 3, vms.Total)
	assert.Equal(t, 1, vms.Running)
	assert.Equal(t, 1, vms.Stopped)
	assert.Equal(t, 1, vms.ByStatus[StatusFailed])

	assert.Equal(t, 1, stats.Kinds[types.KindNetwork].ByStatus[StatusCreating])
	assert.Equal(t, 0, stats.Kinds[types.KindService].Total)
	assert.Equal(t, 3, stats.ByPhase[types.PhaseReady])
	assert.Equal(t, []string{"vm-3"}, stats.Failing)

	assert.Equal(t, "3500m", stats.Requested.CPU)
	assert.Equal(t, "6Gi", stats.Requested.Memory)
	assert.Equal(t, "10Gi", stats.Requested.Storage)
}
