package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpecMerge(t *testing.T) {
	base := Spec{OptImage: "ubuntu", OptCPU: "2"}

	merged := base.Merge(Spec{OptCPU: "4", OptMemory: "8Gi"})
	assert.Equal(t, Spec{OptImage: "ubuntu", OptCPU: "4", OptMemory: "8Gi"}, merged)
	assert.Equal(t, "2", base[OptCPU], "merge must not modify the receiver")

	merged = merged.Merge(Spec{OptMemory: ""})
	_, ok := merged[OptMemory]
	assert.False(t, ok, "an empty value removes the option")
}

func TestSpecEqual(t *testing.T) {
	a := Spec{OptImage: "ubuntu", OptCPU: "2"}
	assert.True(t, a.Equal(Spec{OptCPU: "2", OptImage: "ubuntu"}))
	assert.False(t, a.Equal(Spec{OptImage: "ubuntu"}))
	assert.False(t, a.Equal(Spec{OptImage: "ubuntu", OptCPU: "4"}))
	assert.False(t, a.Equal(Spec{OptImage: "ubuntu", OptMemory: "2"}))
	assert.True(t, Spec{}.Equal(nil))
}

func TestSpecKeys(t *testing.T) {
	assert.Equal(t, []string{"cpu", "image", "memory"}, Spec{OptMemory: "1Gi", OptImage: "x", OptCPU: "1"}.Keys())
}

func TestRecordCopyIsDeep(t *testing.T) {
	rec := &ResourceRecord{
		ID:        "vm-1",
		Spec:      Spec{OptImage: "ubuntu"},
		Observed:  &ObservedObject{IP: "10.0.1.10", Spec: Spec{OptImage: "ubuntu"}},
		LastError: &ErrorRecord{Kind: ErrorTransport, Message: "timeout"},
	}
	cp := rec.Copy()
	cp.Spec[OptImage] = "debian"
	cp.Observed.Spec[OptImage] = "debian"
	cp.LastError.Message = "changed"

	assert.Equal(t, "ubuntu", rec.Spec[OptImage])
	assert.Equal(t, "ubuntu", rec.Observed.Spec[OptImage])
	assert.Equal(t, "timeout", rec.LastError.Message)

	var nilRec *ResourceRecord
	assert.Nil(t, nilRec.Copy())
}

func TestRecordValueFallsBackToDefaults(t *testing.T) {
	rec := &ResourceRecord{Kind: KindVM, Spec: Spec{OptCPU: "4"}}
	assert.Equal(t, "4", rec.Value(OptCPU))
	assert.Equal(t, "1Gi", rec.Value(OptMemory))
	assert.Equal(t, "true", rec.Value(OptRunning))
	assert.Empty(t, rec.Value(OptChart))
}

func TestRecordDeleting(t *testing.T) {
	assert.False(t, (&ResourceRecord{Phase: PhaseReady}).Deleting())
	assert.True(t, (&ResourceRecord{Phase: PhaseDeleting}).Deleting())
	assert.True(t, (&ResourceRecord{Phase: PhaseFailed, DeletionRequested: true}).Deleting())
}

func TestKind(t *testing.T) {
	for _, k := range AllKinds {
		assert.True(t, k.Valid(), k)
		assert.NotEqual(t, "obj", k.IDPrefix(), k)
	}
	assert.False(t, Kind("pod").Valid())
	assert.Equal(t, "vol", KindVolume.IDPrefix())
}

func TestResourceRequestRecord(t *testing.T) {
	req := &ResourceRequest{
		ID:        "vm-1",
		Kind:      KindVM,
		Name:      "web",
		Namespace: "prod",
		Spec:      Spec{OptImage: "ubuntu"},
	}
	rec := req.Record()
	assert.Equal(t, "vm-1", rec.ID)
	assert.Equal(t, KindVM, rec.Kind)
	assert.Equal(t, "web", rec.Name)
	assert.Equal(t, "prod", rec.Namespace)
	assert.Equal(t, ObjectRef{Kind: KindVM, Namespace: "prod", Name: "vm-1"}, rec.Ref())

	rec.Spec[OptImage] = "debian"
	assert.Equal(t, "ubuntu", req.Spec[OptImage])
}

func TestValidateID(t *testing.T) {
	assert.NoError(t, ValidateID("vm-1"))
	for _, id := range []string{"", "VM-1", "vm_1", "-vm", "a.b"} {
		err := ValidateID(id)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr, id)
		assert.Equal(t, "id", verr.Field)
	}
}

func TestValidateSpec(t *testing.T) {
	tests := []struct {
		name  string
		kind  Kind
		spec  Spec
		field string
	}{
		{"valid vm", KindVM, Spec{OptImage: "ubuntu", OptCPU: "500m", OptMemory: "2Gi", OptRunning: "false"}, ""},
		{"valid service", KindService, Spec{OptImage: "nginx", OptReplicas: "3", OptPort: "8080", OptServiceType: "NodePort"}, ""},
		{"valid volume", KindVolume, Spec{OptSize: "10Gi"}, ""},
		{"valid network", KindNetwork, Spec{OptCIDR: "10.0.1.0/24"}, ""},
		{"valid generic", KindGenericResource, Spec{OptChart: "bitnami/redis", "values.replicaCount": "2"}, ""},
		{"unknown kind", Kind("pod"), Spec{}, "kind"},
		{"missing image", KindVM, Spec{OptCPU: "2"}, OptImage},
		{"missing size", KindVolume, Spec{}, OptSize},
		{"missing chart", KindGenericResource, Spec{}, OptChart},
		{"bad quantity", KindVM, Spec{OptImage: "ubuntu", OptMemory: "lots"}, OptMemory},
		{"negative quantity", KindVolume, Spec{OptSize: "-1Gi"}, OptSize},
		{"bad replicas", KindService, Spec{OptImage: "nginx", OptReplicas: "-1"}, OptReplicas},
		{"port out of range", KindService, Spec{OptImage: "nginx", OptPort: "70000"}, OptPort},
		{"bad running", KindVM, Spec{OptImage: "ubuntu", OptRunning: "maybe"}, OptRunning},
		{"bad service type", KindService, Spec{OptImage: "nginx", OptServiceType: "External"}, OptServiceType},
		{"bad cidr", KindNetwork, Spec{OptCIDR: "10.0.1.0"}, OptCIDR},
		{"ipv6 cidr", KindNetwork, Spec{OptCIDR: "fd00::/64"}, OptCIDR},
		{"empty value name", KindGenericResource, Spec{OptChart: "x", "values.": "1"}, "values."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSpec(tt.kind, tt.spec)
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
			assert.Contains(t, verr.Error(), tt.field)
		})
	}
}

func TestGateway(t *testing.T) {
	assert.Equal(t, "10.0.1.1", Gateway("10.0.1.0/24"))
	assert.Equal(t, "192.168.0.1", Gateway("192.168.0.17/16"))
	assert.Empty(t, Gateway("not-a-cidr"))
	assert.Empty(t, Gateway("fd00::/64"))
}
