package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nimbus.yaml")
	data := `
server:
  addr: 0.0.0.0:9090
log:
  level: debug
  json: true
storage:
  driver: badger
  dataDir: /var/lib/nimbus
orchestrator:
  namespace: tenants
  timeout: 45s
reconciler:
  interval: 1m
  backoff:
    attempts: 3
events:
  natsURL: nats://127.0.0.1:4222
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "0.0.0.0:9090", cfg.Server.Addr)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.JSON)
	assert.Equal(t, "badger", cfg.Storage.Driver)
	assert.Equal(t, "tenants", cfg.Orchestrator.Namespace)
	assert.Equal(t, 45*time.Second, cfg.Orchestrator.Timeout)
	assert.Equal(t, time.Minute, cfg.Reconciler.Interval)
	assert.Equal(t, 3, cfg.Reconciler.Backoff.Attempts)

	// untouched fields keep their defaults
	assert.Equal(t, "helm", cfg.Orchestrator.HelmBinary)
	assert.Equal(t, time.Second, cfg.Reconciler.Backoff.Base)
	assert.Equal(t, "nimbus.events", cfg.Events.Subject)
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nimbus.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 80\n"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nimbus.yaml")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"unknown storage", func(c *Config) { c.Storage.Driver = "etcd" }, "storage.driver"},
		{"bolt without dir", func(c *Config) { c.Storage.DataDir = "" }, "storage.dataDir"},
		{"raft without node", func(c *Config) { c.Raft.Enabled = true; c.Raft.NodeID = "" }, "raft.nodeID"},
		{"unknown orchestrator", func(c *Config) { c.Orchestrator.Driver = "nomad" }, "orchestrator.driver"},
		{"zero interval", func(c *Config) { c.Reconciler.Interval = 0 }, "reconciler.interval"},
		{"cap below base", func(c *Config) { c.Reconciler.Backoff.Cap = time.Millisecond }, "backoff.cap"},
		{"no attempts", func(c *Config) { c.Reconciler.Backoff.Attempts = 0 }, "backoff.attempts"},
		{"nats without subject", func(c *Config) { c.Events.NATSURL = "nats://x"; c.Events.Subject = "" }, "events.subject"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}

	t.Run("memory storage needs no dir", func(t *testing.T) {
		cfg := Default()
		cfg.Storage.Driver = "memory"
		cfg.Storage.DataDir = ""
		assert.NoError(t, cfg.Validate())
	})
}
