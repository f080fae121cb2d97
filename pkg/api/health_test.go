package api

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/cuemby/nimbus/pkg/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func registerCritical(healthy bool) {
	for _, name := range metrics.DefaultCriticalComponents {
		metrics.RegisterComponent(name, healthy, "test")
	}
}

// TestHealthHandler tests the /health endpoint
func TestHealthHandler(t *testing.T) {
	srv, _ := newTestServer(t)
	registerCritical(true)

	tests := []struct {
		name           string
		method         string
		expectedStatus int
	}{
		{"GET request succeeds", http.MethodGet, http.StatusOK},
		{"POST request fails", http.MethodPost, http.StatusMethodNotAllowed},
		{"DELETE request fails", http.MethodDelete, http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, srv, tt.method, "/health", "")
			assert.Equal(t, tt.expectedStatus, w.Code)

			if tt.expectedStatus == http.StatusOK {
				var response metrics.HealthStatus
				require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
				assert.Equal(t, "healthy", response.Status)
				assert.NotZero(t, response.Timestamp)
			}
		})
	}
}

func TestHealthUnhealthyCritical(t *testing.T) {
	srv, _ := newTestServer(t)
	registerCritical(true)
	metrics.UpdateComponent("orchestrator", false, "cluster unreachable")
	defer metrics.UpdateComponent("orchestrator", true, "test")

	w := do(t, srv, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

type fakeCluster struct {
	leader bool
	addr   string
}

func (f *fakeCluster) IsLeader() bool     { return f.leader }
func (f *fakeCluster) LeaderAddr() string { return f.addr }

func TestReadyHandler(t *testing.T) {
	registerCritical(true)

	tests := []struct {
		name           string
		cluster        *fakeCluster
		expectedStatus int
		raftCheck      string
	}{
		{"single node", nil, http.StatusOK, ""},
		{"leader", &fakeCluster{leader: true}, http.StatusOK, "leader"},
		{"follower", &fakeCluster{addr: "10.0.0.1:7946"}, http.StatusOK, "follower (leader: 10.0.0.1:7946)"},
		{"no leader", &fakeCluster{}, http.StatusServiceUnavailable, "no leader elected"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var opts []Option
			if tt.cluster != nil {
				opts = append(opts, WithCluster(tt.cluster))
			}
			srv, _ := newTestServer(t, opts...)

			w := do(t, srv, http.MethodGet, "/ready", "")
			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Contains(t, w.Header().Get("Content-Type"), "application/json")

			var response ReadyResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
			assert.Equal(t, "ok", response.Checks["storage"])
			assert.Equal(t, "ready", response.Checks["reconciler"])
			if tt.raftCheck != "" {
				assert.Equal(t, tt.raftCheck, response.Checks["raft"])
			}
		})
	}
}

func TestReadyWaitsForComponents(t *testing.T) {
	srv, _ := newTestServer(t)
	registerCritical(true)
	metrics.UpdateComponent("reconciler", false, "starting")
	defer metrics.UpdateComponent("reconciler", true, "test")

	w := do(t, srv, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var response ReadyResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "not ready", response.Status)
	assert.Equal(t, "waiting for reconciler", response.Message)
}
