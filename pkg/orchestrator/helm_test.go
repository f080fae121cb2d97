package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/nimbus/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	mu        sync.Mutex
	calls     [][]string
	responses map[string][]byte
	errs      map[string]error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{responses: map[string][]byte{}, errs: map[string]error{}}
}

func (f *fakeRunner) Run(ctx context.Context, args ...string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, args)
	key := strings.Join(args[:2], " ")
	if err, ok := f.errs[key]; ok {
		return nil, err
	}
	return f.responses[key], nil
}

func TestHelmListObjects(t *testing.T) {
	runner := newFakeRunner()
	runner.responses["list --output"] = []byte(`[
		{"name":"res-web","namespace":"default","revision":"2","status":"deployed","chart":"my-chart-1.2.3","app_version":"1.0"},
		{"name":"res-cache","namespace":"default","revision":"1","status":"failed","chart":"redis-18.0.0-rc.1","app_version":"7"}
	]`)
	runner.responses["get values"] = []byte(`{"replicaCount":"2","image":{"tag":"v1"}}`)

	h := NewHelm(runner, time.Second)
	objs, err := h.ListObjects(context.Background(), types.KindGenericResource, "default")
	require.NoError(t, err)
	require.Len(t, objs, 2)

	cache, web := objs[0], objs[1]
	assert.Equal(t, "res-cache", cache.Ref.Name)
	assert.Equal(t, "redis", cache.Spec[types.OptChart])
	assert.Equal(t, "18.0.0-rc.1", cache.Spec[types.OptVersion])
	assert.False(t, cache.Ready)

	assert.Equal(t, "my-chart", web.Spec[types.OptChart])
	assert.Equal(t, "1.2.3", web.Spec[types.OptVersion])
	assert.Equal(t, "2", web.Spec["values.replicaCount"])
	assert.Equal(t, "v1", web.Spec["values.image.tag"])
	assert.True(t, web.Ready)
}

func TestHelmListParseError(t *testing.T) {
	runner := newFakeRunner()
	runner.responses["list --output"] = []byte(`not json`)

	h := NewHelm(runner, time.Second)
	_, err := h.ListObjects(context.Background(), types.KindGenericResource, "default")
	require.Error(t, err)
	assert.Equal(t, types.ErrorParse, KindOf(err))
}

func TestHelmApplyObject(t *testing.T) {
	runner := newFakeRunner()
	h := NewHelm(runner, time.Second)

	obj := &types.DesiredObject{
		Ref: types.ObjectRef{Kind: types.KindGenericResource, Namespace: "apps", Name: "res-web"},
		Spec: types.Spec{
			types.OptChart:        "bitnami/nginx",
			types.OptVersion:      "15.0.0",
			"values.replicaCount": "2",
			"values.hosts":        "a,b",
		},
		Generation: 4,
	}
	observed, err := h.ApplyObject(context.Background(), obj)
	require.NoError(t, err)
	assert.Equal(t, "nginx", observed.Spec[types.OptChart])

	require.Len(t, runner.calls, 1)
	args := strings.Join(runner.calls[0], " ")
	assert.Contains(t, args, "upgrade --install res-web bitnami/nginx")
	assert.Contains(t, args, "--namespace apps")
	assert.Contains(t, args, "--version 15.0.0")
	assert.Contains(t, args, "--set-string replicaCount=2")
	assert.Contains(t, args, `--set-string hosts=a\,b`)
	assert.Contains(t, args, "nimbus.io/generation=4")
}

func TestHelmErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		stderr string
		err    error
		want   types.ErrorKind
	}{
		{"missing release", "Error: uninstall: Release not loaded: res-web: release: not found", errors.New("exit 1"), types.ErrorNotFound},
		{"operation in progress", "Error: UPGRADE FAILED: another operation (install/upgrade/rollback) is in progress", errors.New("exit 1"), types.ErrorConflict},
		{"cluster down", "Error: Kubernetes cluster unreachable", errors.New("exit 1"), types.ErrorTransport},
		{"bad chart", "Error: failed to download \"nope/nope\"", errors.New("exit 1"), types.ErrorValidation},
		{"deadline", "", context.DeadlineExceeded, types.ErrorTransport},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := &RunError{Args: []string{"x"}, Stderr: tt.stderr, Err: tt.err}
			assert.Equal(t, tt.want, classifyHelm(err))
		})
	}
}

func TestHelmDeleteNotFound(t *testing.T) {
	runner := newFakeRunner()
	runner.errs["uninstall res-web"] = &RunError{
		Args:   []string{"uninstall", "res-web"},
		Stderr: "Error: uninstall: Release not loaded: res-web: release: not found",
		Err:    errors.New("exit status 1"),
	}
	h := NewHelm(runner, time.Second)
	err := h.DeleteObject(context.Background(), types.ObjectRef{Kind: types.KindGenericResource, Namespace: "default", Name: "res-web"})
	assert.True(t, IsNotFound(err))
}

func TestChartName(t *testing.T) {
	assert.Equal(t, "nginx", ChartName("bitnami/nginx"))
	assert.Equal(t, "nginx", ChartName("oci://registry.example.com/charts/nginx"))
	assert.Equal(t, "nginx", ChartName("nginx"))
}
