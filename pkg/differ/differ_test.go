package differ

import (
	"errors"
	"testing"

	"github.com/cuemby/nimbus/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(kind types.Kind, spec types.Spec) *types.ResourceRecord {
	return &types.ResourceRecord{
		ID:         "res-1",
		Kind:       kind,
		Name:       "res-1",
		Namespace:  "default",
		Spec:       spec,
		Phase:      types.PhaseReady,
		Generation: 3,
	}
}

func present(kind types.Kind, spec types.Spec) types.Observation {
	return types.Observation{Object: &types.ObservedObject{
		Ref:  types.ObjectRef{Kind: kind, Namespace: "default", Name: "res-1"},
		Spec: spec,
	}}
}

var (
	unknown = types.Observation{Unknown: true, Err: errors.New("connection refused")}
	absent  = types.Observation{}
)

func TestDiffDecisionTable(t *testing.T) {
	spec := types.Spec{types.OptImage: "ubuntu"}
	deleting := record(types.KindVM, spec)
	deleting.Phase = types.PhaseDeleting
	deleting.DeletionRequested = true

	failedDelete := record(types.KindVM, spec)
	failedDelete.Phase = types.PhaseFailed
	failedDelete.DeletionRequested = true

	tests := []struct {
		name     string
		desired  *types.ResourceRecord
		observed types.Observation
		want     types.ActionType
	}{
		{"unknown yields nothing", record(types.KindVM, spec), unknown, ""},
		{"unknown never deletes", deleting, unknown, ""},
		{"deleting and present", deleting, present(types.KindVM, spec), types.ActionDelete},
		{"deleting after failed delete", failedDelete, present(types.KindVM, spec), types.ActionDelete},
		{"deleting and absent", deleting, absent, ""},
		{"absent creates", record(types.KindVM, spec), absent, types.ActionCreate},
		{"converged", record(types.KindVM, spec), present(types.KindVM, spec), ""},
		{"drifted image", record(types.KindVM, spec), present(types.KindVM, types.Spec{types.OptImage: "debian"}), types.ActionUpdate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			action := Diff(tt.desired, tt.observed)
			if tt.want == "" {
				assert.Nil(t, action)
				return
			}
			require.NotNil(t, action)
			assert.Equal(t, tt.want, action.Type)
			assert.Equal(t, tt.desired.Generation, action.Generation)
			assert.Equal(t, "res-1", action.ResourceID)
		})
	}
}

func TestDiffDeletionWinsOverPendingUpdate(t *testing.T) {
	rec := record(types.KindVM, types.Spec{types.OptImage: "ubuntu", types.OptCPU: "8"})
	rec.Phase = types.PhaseDeleting
	rec.DeletionRequested = true

	action := Diff(rec, present(types.KindVM, types.Spec{types.OptImage: "ubuntu", types.OptCPU: "2"}))
	require.NotNil(t, action)
	assert.Equal(t, types.ActionDelete, action.Type)
	assert.Nil(t, action.Object)
}

func TestTornDown(t *testing.T) {
	rec := record(types.KindVolume, types.Spec{types.OptSize: "1Gi"})
	assert.False(t, TornDown(rec, absent))

	rec.DeletionRequested = true
	rec.Phase = types.PhaseDeleting
	assert.True(t, TornDown(rec, absent))
	assert.False(t, TornDown(rec, unknown))
	assert.False(t, TornDown(rec, present(types.KindVolume, nil)))
}

func TestCreateCarriesDesiredObject(t *testing.T) {
	rec := record(types.KindService, types.Spec{types.OptImage: "nginx", types.OptReplicas: "3"})
	rec.Name = "web"

	action := Diff(rec, absent)
	require.NotNil(t, action)
	require.NotNil(t, action.Object)
	assert.Equal(t, "web", action.Object.DisplayName)
	assert.Equal(t, int64(3), action.Object.Generation)
	assert.Equal(t, "3", action.Object.Spec[types.OptReplicas])

	// the action holds its own copy of the spec
	rec.Spec[types.OptReplicas] = "5"
	assert.Equal(t, "3", action.Object.Spec[types.OptReplicas])
}

func TestChangedFields(t *testing.T) {
	tests := []struct {
		name     string
		kind     types.Kind
		desired  types.Spec
		observed types.Spec
		want     []string
	}{
		{
			name:     "quantities compare by value",
			kind:     types.KindVM,
			desired:  types.Spec{types.OptImage: "ubuntu", types.OptMemory: "4Gi", types.OptCPU: "2"},
			observed: types.Spec{types.OptImage: "ubuntu", types.OptMemory: "4096Mi", types.OptCPU: "2000m"},
		},
		{
			name:     "quantity change",
			kind:     types.KindVM,
			desired:  types.Spec{types.OptImage: "ubuntu", types.OptMemory: "8Gi"},
			observed: types.Spec{types.OptImage: "ubuntu", types.OptMemory: "4Gi"},
			want:     []string{types.OptMemory},
		},
		{
			name:     "defaults fill missing options",
			kind:     types.KindVM,
			desired:  types.Spec{types.OptImage: "ubuntu"},
			observed: types.Spec{types.OptImage: "ubuntu", types.OptCPU: "1", types.OptRunning: "true"},
		},
		{
			name:     "booleans compare parsed",
			kind:     types.KindVM,
			desired:  types.Spec{types.OptImage: "ubuntu", types.OptRunning: "TRUE"},
			observed: types.Spec{types.OptImage: "ubuntu", types.OptRunning: "true"},
		},
		{
			name:     "stopped vm",
			kind:     types.KindVM,
			desired:  types.Spec{types.OptImage: "ubuntu", types.OptRunning: "false"},
			observed: types.Spec{types.OptImage: "ubuntu", types.OptRunning: "true"},
			want:     []string{types.OptRunning},
		},
		{
			name:     "uncontrolled options are ignored",
			kind:     types.KindVM,
			desired:  types.Spec{types.OptImage: "ubuntu", "owner": "alice"},
			observed: types.Spec{types.OptImage: "ubuntu", "owner": "bob"},
		},
		{
			name:     "service fields sorted",
			kind:     types.KindService,
			desired:  types.Spec{types.OptImage: "nginx:1.27", types.OptReplicas: "3", types.OptPort: "8080"},
			observed: types.Spec{types.OptImage: "nginx:1.25", types.OptReplicas: "1", types.OptPort: "8080"},
			want:     []string{types.OptImage, types.OptReplicas},
		},
		{
			name:     "restart stamp",
			kind:     types.KindService,
			desired:  types.Spec{types.OptImage: "nginx", types.OptRestartedAt: "2026-01-02T03:04:05Z"},
			observed: types.Spec{types.OptImage: "nginx"},
			want:     []string{types.OptRestartedAt},
		},
		{
			name:     "volume default storage class",
			kind:     types.KindVolume,
			desired:  types.Spec{types.OptSize: "10Gi"},
			observed: types.Spec{types.OptSize: "10Gi", types.OptStorageClass: "longhorn"},
		},
		{
			name:     "network type",
			kind:     types.KindNetwork,
			desired:  types.Spec{types.OptCIDR: "10.0.1.0/24", types.OptType: "overlay"},
			observed: types.Spec{types.OptCIDR: "10.0.1.0/24"},
			want:     []string{types.OptType},
		},
		{
			name:     "chart path compares by name",
			kind:     types.KindGenericResource,
			desired:  types.Spec{types.OptChart: "bitnami/redis", types.OptVersion: "18.1.0"},
			observed: types.Spec{types.OptChart: "redis", types.OptVersion: "18.1.0"},
		},
		{
			name:     "unpinned version",
			kind:     types.KindGenericResource,
			desired:  types.Spec{types.OptChart: "bitnami/redis"},
			observed: types.Spec{types.OptChart: "redis", types.OptVersion: "18.1.0"},
		},
		{
			name:     "chart values on either side",
			kind:     types.KindGenericResource,
			desired:  types.Spec{types.OptChart: "redis", "values.replicaCount": "2"},
			observed: types.Spec{types.OptChart: "redis", "values.replicaCount": "1", "values.auth.enabled": "false"},
			want:     []string{"values.auth.enabled", "values.replicaCount"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := record(tt.kind, tt.desired)
			got := ChangedFields(rec, &types.ObservedObject{Spec: tt.observed})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestUpdateListsChangedFields(t *testing.T) {
	rec := record(types.KindVolume, types.Spec{types.OptSize: "20Gi"})
	action := Diff(rec, present(types.KindVolume, types.Spec{types.OptSize: "10Gi", types.OptStorageClass: "longhorn"}))
	require.NotNil(t, action)
	assert.Equal(t, types.ActionUpdate, action.Type)
	assert.Equal(t, []string{types.OptSize}, action.Changed)
}
