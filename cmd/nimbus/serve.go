package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/nimbus/pkg/api"
	"github.com/cuemby/nimbus/pkg/config"
	"github.com/cuemby/nimbus/pkg/desired"
	"github.com/cuemby/nimbus/pkg/events"
	"github.com/cuemby/nimbus/pkg/executor"
	"github.com/cuemby/nimbus/pkg/health"
	"github.com/cuemby/nimbus/pkg/log"
	"github.com/cuemby/nimbus/pkg/manager"
	"github.com/cuemby/nimbus/pkg/metrics"
	"github.com/cuemby/nimbus/pkg/orchestrator"
	"github.com/cuemby/nimbus/pkg/reader"
	"github.com/cuemby/nimbus/pkg/reconciler"
	"github.com/cuemby/nimbus/pkg/storage"
	"github.com/cuemby/nimbus/pkg/types"
	"github.com/spf13/cobra"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the reconciliation engine and its API",
	Long: `Run the engine: the desired state store, one reconciliation loop per
resource kind and the HTTP API.

Settings come from the config file (--config) and are overridden by flags.

Examples:
  # Local engine against the current kubeconfig context
  nimbus serve

  # Replicated store, events forwarded to NATS
  nimbus serve --config /etc/nimbus/nimbus.yaml --raft --nats-url nats://127.0.0.1:4222

  # Try it out without a cluster
  nimbus serve --orchestrator memory --storage memory`,
	RunE: runServe,
}

func init() {
	f := serveCmd.Flags()
	f.StringP("config", "c", "", "Path to the YAML config file")
	f.String("addr", "", "API listen address")
	f.String("storage", "", "Storage driver (bolt, badger, memory)")
	f.String("data-dir", "", "Data directory")
	f.Bool("raft", false, "Replicate the store through Raft")
	f.String("node-id", "", "Raft node ID")
	f.String("bind-addr", "", "Raft bind address")
	f.String("orchestrator", "", "Orchestrator driver (kube, memory)")
	f.String("kubeconfig", "", "Path to the kubeconfig file")
	f.String("context", "", "Kubeconfig context")
	f.String("namespace", "", "Namespace for resources declared without one")
	f.Duration("interval", 0, "Full reconciliation interval per kind")
	f.String("nats-url", "", "Forward events to this NATS server")

	rootCmd.AddCommand(serveCmd)
}

// loadConfig reads the config file and applies the flags that were set
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	str := func(name string, dst *string) {
		if flags.Changed(name) {
			*dst, _ = flags.GetString(name)
		}
	}
	str("addr", &cfg.Server.Addr)
	str("storage", &cfg.Storage.Driver)
	str("data-dir", &cfg.Storage.DataDir)
	str("node-id", &cfg.Raft.NodeID)
	str("bind-addr", &cfg.Raft.BindAddr)
	str("orchestrator", &cfg.Orchestrator.Driver)
	str("kubeconfig", &cfg.Orchestrator.Kubeconfig)
	str("context", &cfg.Orchestrator.Context)
	str("namespace", &cfg.Orchestrator.Namespace)
	str("nats-url", &cfg.Events.NATSURL)
	str("log-level", &cfg.Log.Level)
	if flags.Changed("raft") {
		cfg.Raft.Enabled, _ = flags.GetBool("raft")
	}
	if flags.Changed("log-json") {
		cfg.Log.JSON, _ = flags.GetBool("log-json")
	}
	if flags.Changed("interval") {
		cfg.Reconciler.Interval, _ = flags.GetDuration("interval")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newOrchestrator connects to the cluster. Workload kinds go to the
// Kubernetes API, generic resources to Helm.
func newOrchestrator(cfg config.OrchestratorConfig) (orchestrator.Client, error) {
	if cfg.Driver == config.OrchestratorMemory {
		return orchestrator.NewMemory(), nil
	}

	restConfig, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(
		&clientcmd.ClientConfigLoadingRules{ExplicitPath: cfg.Kubeconfig},
		&clientcmd.ConfigOverrides{CurrentContext: cfg.Context},
	).ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load kubeconfig: %w", err)
	}
	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes client: %w", err)
	}

	helm := orchestrator.NewHelm(&orchestrator.ExecRunner{
		Binary:      cfg.HelmBinary,
		KubeConfig:  cfg.Kubeconfig,
		KubeContext: cfg.Context,
	}, cfg.Timeout)

	return orchestrator.NewMux().
		Handle(orchestrator.NewKube(clientset, cfg.Timeout),
			types.KindVM, types.KindService, types.KindVolume, types.KindNetwork).
		Handle(helm, types.KindGenericResource), nil
}

// engine holds every running component of nimbus serve
type engine struct {
	cfg        *config.Config
	backend    storage.Store
	replicated *manager.ReplicatedStore
	store      *desired.Store
	broker     *events.Broker
	reconciler *reconciler.Reconciler
	api        *api.Server

	monitor       *health.Monitor
	collector     *metrics.Collector
	raftCollector *manager.MetricsCollector
	forwarder     *events.Forwarder
	forwardSub    events.Subscriber
}

func openBackend(cfg *config.Config) (storage.Store, *manager.ReplicatedStore, error) {
	local, err := storage.Open(cfg.Storage.Driver, cfg.Storage.DataDir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s store: %w", cfg.Storage.Driver, err)
	}
	if !cfg.Raft.Enabled {
		return local, nil, nil
	}

	replicated, err := manager.Open(&manager.Config{
		NodeID:   cfg.Raft.NodeID,
		BindAddr: cfg.Raft.BindAddr,
		DataDir:  cfg.Storage.DataDir,
	}, local)
	if err != nil {
		local.Close()
		return nil, nil, err
	}
	if err := replicated.WaitForLeader(10 * time.Second); err != nil {
		log.Logger.Warn().Err(err).Msg("No raft leader yet, writes are rejected until one is elected")
	}
	return replicated, replicated, nil
}

func newEngine(cfg *config.Config, client orchestrator.Client) (*engine, error) {
	backend, replicated, err := openBackend(cfg)
	if err != nil {
		return nil, err
	}
	e := &engine{
		cfg:        cfg,
		backend:    backend,
		replicated: replicated,
		store:      desired.New(backend, cfg.Orchestrator.Namespace),
		broker:     events.NewBroker(),
	}

	// records may name any namespace, so every namespace is read
	rd := reader.New(client, "",
		reader.WithTimeout(cfg.Reconciler.ReadTimeout),
		reader.WithMaxAge(cfg.Reconciler.MaxObservedAge))
	exec := executor.New(client,
		executor.WithAttemptTimeout(cfg.Orchestrator.Timeout),
		executor.WithBackoff(wait.Backoff{
			Duration: cfg.Reconciler.Backoff.Base,
			Factor:   2,
			Cap:      cfg.Reconciler.Backoff.Cap,
			Steps:    cfg.Reconciler.Backoff.Attempts,
		}))
	e.reconciler = reconciler.NewReconciler(e.store, rd, exec,
		reconciler.WithInterval(cfg.Reconciler.Interval),
		reconciler.WithEvents(e.broker))

	apiOpts := []api.Option{api.WithBroker(e.broker)}
	if replicated != nil {
		apiOpts = append(apiOpts, api.WithCluster(replicated))
		e.raftCollector = manager.NewMetricsCollector(replicated)
	}
	e.api = api.NewServer(e.store, apiOpts...)
	e.collector = metrics.NewCollector(e.store)
	e.monitor = health.NewMonitor(health.DefaultConfig()).
		Add("orchestrator", health.NewOrchestratorChecker(client, cfg.Orchestrator.Namespace)).
		Add("store", health.NewStoreChecker(e.store))

	if cfg.Events.NATSURL != "" {
		nc, err := events.ConnectNATS(cfg.Events.NATSURL, "nimbus")
		if err != nil {
			backend.Close()
			return nil, err
		}
		e.forwarder = events.NewForwarder(nc, cfg.Events.Subject)
		e.monitor.Add("events", health.CheckFunc("connected to "+nc.ConnectedUrl(), func(context.Context) error {
			if !nc.IsConnected() {
				return fmt.Errorf("NATS connection is %s", nc.Status())
			}
			return nil
		}))
	}
	return e, nil
}

func (e *engine) start(ctx context.Context) <-chan error {
	e.broker.Start()
	if e.forwarder != nil {
		e.forwardSub = e.broker.Subscribe()
		go e.forwarder.Run(e.forwardSub)
	}

	e.monitor.Start()
	e.collector.Start()
	if e.raftCollector != nil {
		e.raftCollector.Start()
	}

	e.reconciler.Start(ctx)
	metrics.RegisterComponent("reconciler", true, "running")

	errCh := make(chan error, 1)
	go func() {
		if err := e.api.Start(e.cfg.Server.Addr); err != nil {
			metrics.UpdateComponent("api", false, err.Error())
			errCh <- fmt.Errorf("API server error: %w", err)
		}
	}()
	metrics.RegisterComponent("api", true, e.cfg.Server.Addr)
	return errCh
}

func (e *engine) stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.api.Shutdown(ctx); err != nil {
		log.Logger.Warn().Err(err).Msg("API shutdown incomplete")
	}

	e.reconciler.Stop()
	e.monitor.Stop()
	e.collector.Stop()
	if e.raftCollector != nil {
		e.raftCollector.Stop()
	}
	if e.forwarder != nil {
		e.broker.Unsubscribe(e.forwardSub)
		e.forwarder.Close()
	}
	e.broker.Stop()

	return e.backend.Close()
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log.Init(log.Config{Level: log.Level(cfg.Log.Level), JSONOutput: cfg.Log.JSON, Output: os.Stderr})
	metrics.SetVersion(Version)
	logger := log.WithComponent("serve")

	client, err := newOrchestrator(cfg.Orchestrator)
	if err != nil {
		return err
	}
	eng, err := newEngine(cfg, client)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	errCh := eng.start(ctx)

	logger.Info().
		Str("addr", cfg.Server.Addr).
		Str("storage", cfg.Storage.Driver).
		Bool("raft", cfg.Raft.Enabled).
		Str("orchestrator", cfg.Orchestrator.Driver).
		Str("namespace", cfg.Orchestrator.Namespace).
		Msg("Engine running")

	select {
	case <-ctx.Done():
		logger.Info().Msg("Shutting down")
	case err = <-errCh:
		logger.Error().Err(err).Msg("Shutting down after API failure")
	}

	if stopErr := eng.stop(); stopErr != nil {
		return fmt.Errorf("failed to shutdown: %w", stopErr)
	}
	logger.Info().Msg("Shutdown complete")
	return err
}
