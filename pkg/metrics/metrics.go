package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Resource metrics
	ResourcesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nimbus_resources_total",
			Help: "Total number of managed resources by kind and phase",
		},
		[]string{"kind", "phase"},
	)

	// Reconciler metrics
	ReconcileCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nimbus_reconcile_cycles_total",
			Help: "Total number of periodic reconciliation cycles by kind",
		},
		[]string{"kind"},
	)

	ReconcileDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nimbus_reconcile_duration_seconds",
			Help:    "Duration of a single resource reconcile pass in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	ReconcilePassesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nimbus_reconcile_passes_total",
			Help: "Total number of resource reconcile passes by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	ReconcileQueued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nimbus_reconcile_queued_total",
			Help: "Total number of triggers queued behind an in-flight reconcile",
		},
	)

	// Executor metrics
	ActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nimbus_actions_total",
			Help: "Total number of executed actions by kind, type and result",
		},
		[]string{"kind", "type", "result"},
	)

	ActionAttempts = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nimbus_action_attempts",
			Help:    "Number of attempts needed per action",
			Buckets: []float64{1, 2, 3, 4, 5},
		},
		[]string{"type"},
	)

	ActionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nimbus_action_duration_seconds",
			Help:    "Action duration including retries in seconds",
			Buckets: []float64{.05, .1, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"type"},
	)

	ActionsSuperseded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nimbus_actions_superseded_total",
			Help: "Total number of action results discarded because the generation advanced",
		},
		[]string{"kind"},
	)

	ActionsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nimbus_actions_in_flight",
			Help: "Number of actions currently executing",
		},
	)

	// Reader metrics
	ReaderFetchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nimbus_reader_fetch_total",
			Help: "Total number of cluster state reads by kind and result",
		},
		[]string{"kind", "result"},
	)

	ReaderFetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nimbus_reader_fetch_duration_seconds",
			Help:    "Cluster state read duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	// Raft metrics
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nimbus_raft_is_leader",
			Help: "Whether this node is the Raft leader (1 = leader, 0 = follower)",
		},
	)

	RaftPeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nimbus_raft_peers_total",
			Help: "Total number of Raft peers in the cluster",
		},
	)

	RaftLogIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nimbus_raft_log_index",
			Help: "Current Raft log index",
		},
	)

	RaftAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nimbus_raft_applied_index",
			Help: "Last applied Raft log index",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nimbus_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nimbus_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Event metrics
	EventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nimbus_events_published_total",
			Help: "Total number of published events by type",
		},
		[]string{"type"},
	)

	EventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nimbus_events_dropped_total",
			Help: "Total number of events dropped because a queue was full",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(ResourcesTotal)
	prometheus.MustRegister(ReconcileCyclesTotal)
	prometheus.MustRegister(ReconcileDuration)
	prometheus.MustRegister(ReconcilePassesTotal)
	prometheus.MustRegister(ReconcileQueued)
	prometheus.MustRegister(ActionsTotal)
	prometheus.MustRegister(ActionAttempts)
	prometheus.MustRegister(ActionDuration)
	prometheus.MustRegister(ActionsSuperseded)
	prometheus.MustRegister(ActionsInFlight)
	prometheus.MustRegister(ReaderFetchTotal)
	prometheus.MustRegister(ReaderFetchDuration)
	prometheus.MustRegister(RaftLeader)
	prometheus.MustRegister(RaftPeers)
	prometheus.MustRegister(RaftLogIndex)
	prometheus.MustRegister(RaftAppliedIndex)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(EventsPublished)
	prometheus.MustRegister(EventsDropped)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
