package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Provisioner metrics
	NodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "epu_nodes_total",
			Help: "Total number of nodes by site and instance state",
		},
		[]string{"site", "state"},
	)

	LaunchesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "epu_launches_total",
			Help: "Total number of launches by state",
		},
		[]string{"state"},
	)

	LaunchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "epu_launch_duration_seconds",
			Help:    "Time from provision request to all nodes RUNNING",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
	)

	IaaSCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "epu_iaas_call_duration_seconds",
			Help:    "Duration of IaaS driver calls by operation and outcome",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "outcome"},
	)

	// Health monitor metrics
	NodeHealthTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "epu_node_health_total",
			Help: "Total number of nodes by health classification",
		},
		[]string{"health"},
	)

	HeartbeatsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "epu_heartbeats_total",
			Help: "Total number of heartbeats received by state",
		},
		[]string{"state"},
	)

	HealthSweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "epu_health_sweep_duration_seconds",
			Help:    "Time taken for one health monitor sweep",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Controller / decision engine metrics
	DecideCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "epu_decide_cycles_total",
			Help: "Total number of decide() cycles completed",
		},
	)

	DecideDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "epu_decide_duration_seconds",
			Help:    "Time taken for one decide() cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	DecideSkippedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "epu_decide_skipped_total",
			Help: "Total number of decide() cycles skipped because reconfigure already held the permit",
		},
	)

	// Raft metrics (EPU Management domain/definition registry)
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "epu_raft_is_leader",
			Help: "Whether this node is the Raft leader (1 = leader, 0 = follower)",
		},
	)

	RaftPeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "epu_raft_peers_total",
			Help: "Total number of Raft peers in the cluster",
		},
	)

	RaftAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "epu_raft_applied_index",
			Help: "Last applied Raft log index",
		},
	)

	RaftApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "epu_raft_apply_duration_seconds",
			Help:    "Time taken to apply a Raft log entry",
			Buckets: prometheus.DefBuckets,
		},
	)

	// RPC metrics
	RPCRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "epu_rpc_requests_total",
			Help: "Total number of RPC operations by operation and status",
		},
		[]string{"operation", "status"},
	)

	RPCRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "epu_rpc_request_duration_seconds",
			Help:    "RPC operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)

func init() {
	prometheus.MustRegister(
		NodesTotal,
		LaunchesTotal,
		LaunchDuration,
		IaaSCallDuration,
		NodeHealthTotal,
		HeartbeatsTotal,
		HealthSweepDuration,
		DecideCyclesTotal,
		DecideDuration,
		DecideSkippedTotal,
		RaftLeader,
		RaftPeers,
		RaftAppliedIndex,
		RaftApplyDuration,
		RPCRequestsTotal,
		RPCRequestDuration,
	)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
