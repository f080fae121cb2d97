// Package config loads the engine configuration from a YAML file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/cuemby/nimbus/pkg/log"
	"github.com/cuemby/nimbus/pkg/storage"
	"gopkg.in/yaml.v3"
)

// Orchestrator drivers
const (
	OrchestratorKube   = "kube"
	OrchestratorMemory = "memory"
)

// Config is the top-level engine configuration
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Log          LogConfig          `yaml:"log"`
	Storage      StorageConfig      `yaml:"storage"`
	Raft         RaftConfig         `yaml:"raft"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Reconciler   ReconcilerConfig   `yaml:"reconciler"`
	Events       EventsConfig       `yaml:"events"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig configures logging
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// StorageConfig selects the persistence backend for declared resources
type StorageConfig struct {
	Driver  string `yaml:"driver"`
	DataDir string `yaml:"dataDir"`
}

// RaftConfig enables replication of the resource store
type RaftConfig struct {
	Enabled  bool   `yaml:"enabled"`
	NodeID   string `yaml:"nodeID"`
	BindAddr string `yaml:"bindAddr"`
}

// OrchestratorConfig configures the connection to the cluster
type OrchestratorConfig struct {
	Driver     string        `yaml:"driver"`
	Kubeconfig string        `yaml:"kubeconfig"`
	Context    string        `yaml:"context"`
	Namespace  string        `yaml:"namespace"`
	HelmBinary string        `yaml:"helmBinary"`
	Timeout    time.Duration `yaml:"timeout"`
}

// BackoffConfig bounds action retries
type BackoffConfig struct {
	Base     time.Duration `yaml:"base"`
	Cap      time.Duration `yaml:"cap"`
	Attempts int           `yaml:"attempts"`
}

// ReconcilerConfig tunes the reconciliation loop
type ReconcilerConfig struct {
	Interval       time.Duration `yaml:"interval"`
	ReadTimeout    time.Duration `yaml:"readTimeout"`
	MaxObservedAge time.Duration `yaml:"maxObservedAge"`
	Backoff        BackoffConfig `yaml:"backoff"`
}

// EventsConfig configures event forwarding. Forwarding is off when
// NATSURL is empty.
type EventsConfig struct {
	NATSURL string `yaml:"natsURL"`
	Subject string `yaml:"subject"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Server: ServerConfig{Addr: "127.0.0.1:8080"},
		Log:    LogConfig{Level: string(log.InfoLevel)},
		Storage: StorageConfig{
			Driver:  storage.DriverBolt,
			DataDir: "./nimbus-data",
		},
		Raft: RaftConfig{
			NodeID:   "nimbus-1",
			BindAddr: "127.0.0.1:7946",
		},
		Orchestrator: OrchestratorConfig{
			Driver:     OrchestratorKube,
			Namespace:  "default",
			HelmBinary: "helm",
			Timeout:    30 * time.Second,
		},
		Reconciler: ReconcilerConfig{
			Interval:       15 * time.Second,
			ReadTimeout:    10 * time.Second,
			MaxObservedAge: 5 * time.Second,
			Backoff: BackoffConfig{
				Base:     time.Second,
				Cap:      30 * time.Second,
				Attempts: 5,
			},
		},
		Events: EventsConfig{Subject: "nimbus.events"},
	}
}

// Load reads a YAML file over the defaults. An empty path returns the
// defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := Parse(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML into cfg, leaving fields absent from data untouched.
// Unknown keys are rejected.
func Parse(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate rejects configurations the engine cannot run with
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Server.Addr != "", "server.addr is required")
	check(log.ValidLevel(log.Level(c.Log.Level)), "log.level %q is not one of debug, info, warn, error", c.Log.Level)

	switch c.Storage.Driver {
	case storage.DriverBolt, storage.DriverBadger:
		check(c.Storage.DataDir != "", "storage.dataDir is required for the %s driver", c.Storage.Driver)
	case storage.DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q is not one of bolt, badger, memory", c.Storage.Driver))
	}

	if c.Raft.Enabled {
		check(c.Raft.NodeID != "", "raft.nodeID is required when raft is enabled")
		check(c.Raft.BindAddr != "", "raft.bindAddr is required when raft is enabled")
		check(c.Storage.DataDir != "", "storage.dataDir is required when raft is enabled")
	}

	switch c.Orchestrator.Driver {
	case OrchestratorKube:
		check(c.Orchestrator.HelmBinary != "", "orchestrator.helmBinary is required")
	case OrchestratorMemory:
	default:
		errs = append(errs, fmt.Errorf("orchestrator.driver %q is not one of kube, memory", c.Orchestrator.Driver))
	}
	check(c.Orchestrator.Namespace != "", "orchestrator.namespace is required")
	check(c.Orchestrator.Timeout > 0, "orchestrator.timeout must be positive")

	r := c.Reconciler
	check(r.Interval > 0, "reconciler.interval must be positive")
	check(r.ReadTimeout > 0, "reconciler.readTimeout must be positive")
	check(r.MaxObservedAge >= 0, "reconciler.maxObservedAge must not be negative")
	check(r.Backoff.Base > 0, "reconciler.backoff.base must be positive")
	check(r.Backoff.Cap >= r.Backoff.Base, "reconciler.backoff.cap must be at least the base")
	check(r.Backoff.Attempts >= 1, "reconciler.backoff.attempts must be at least 1")

	if c.Events.NATSURL != "" {
		check(c.Events.Subject != "", "events.subject is required when natsURL is set")
	}
	return errors.Join(errs...)
}
