/*
Package metrics provides Prometheus metrics collection and exposition for the EPU control plane.

The metrics package defines and registers all the EPU control plane metrics using the Prometheus
client library, providing observability into node and launch lifecycle, health monitor
sweeps, decision engine cycles, Raft replication, and RPC latency. Metrics are exposed
via an HTTP endpoint for scraping by Prometheus servers; separate health/readiness/liveness
handlers are provided for orchestrators that probe over plain HTTP rather than PromQL.

# Architecture

the EPU control plane's metrics system follows Prometheus best practices with comprehensive
instrumentation across all components:

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │          Prometheus Registry                │          │
	│  │  - Global DefaultRegistry                   │          │
	│  │  - MustRegister at package init             │          │
	│  │  - Automatic Go runtime metrics             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │              Metric Types                   │          │
	│  │                                              │          │
	│  │  Gauge: Instant values (node count)         │          │
	│  │  Counter: Monotonic increases (decide       │          │
	│  │    cycles, heartbeats)                      │          │
	│  │  Histogram: Distributions (launch/IaaS      │          │
	│  │    call/Raft apply latency)                 │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Metric Categories                 │          │
	│  │                                              │          │
	│  │  Provisioner: Nodes, launches, IaaS calls   │          │
	│  │  Health monitor: Node health, heartbeats    │          │
	│  │  Controller: Decide-cycle latency/skips     │          │
	│  │  Raft: Leader status, applied index, peers  │          │
	│  │  RPC: Request count, duration               │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          HTTP Metrics Endpoint              │          │
	│  │  - Path: /metrics                           │          │
	│  │  - Format: Prometheus text exposition       │          │
	│  │  - Handler: metrics.Handler()               │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Prometheus Server                   │          │
	│  │  - Scrapes /metrics every 15s               │          │
	│  │  - Stores time series data                  │          │
	│  │  - Provides PromQL query interface          │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Metric Registry:
  - Global Prometheus DefaultRegistry
  - All metrics registered at package init
  - Automatic collection of Go runtime metrics
  - Thread-safe for concurrent updates

Gauge Metrics:
  - Instant value that can go up or down
  - Examples: node count by site/state, Raft leader status
  - Operations: Set, Inc, Dec, Add, Sub

Counter Metrics:
  - Monotonically increasing value
  - Examples: decide cycles, heartbeats received, RPC requests
  - Operations: Inc, Add (cannot decrease)

Histogram Metrics:
  - Distribution of observed values
  - Buckets for latency percentiles (p50, p95, p99)
  - Examples: launch duration, IaaS call duration, Raft apply duration
  - Includes: sum, count, buckets

Timer Helper:
  - Convenience wrapper for timing operations
  - Start timer, observe duration to histogram
  - Supports label values for histogram vectors

Health Handlers:
  - RegisterComponent/UpdateComponent track per-component readiness
  - HealthHandler/ReadyHandler/LivenessHandler return http.HandlerFunc values;
    the caller chooses the paths they are mounted on

# Metrics Catalog

Provisioner Metrics:

epu_nodes_total{site, state}:
  - Type: Gauge
  - Description: Total nodes by IaaS site and instance state
  - Example: epu_nodes_total{site="aws-us-east-1",state="running"} 5

epu_launches_total{state}:
  - Type: Gauge
  - Description: Total number of launches by state
  - Example: epu_launches_total{state="pending"} 2

epu_launch_duration_seconds:
  - Type: Histogram
  - Description: Time from provision request to all nodes RUNNING
  - Buckets: 1, 5, 15, 30, 60, 120, 300, 600, 1800

epu_iaas_call_duration_seconds{operation, outcome}:
  - Type: Histogram
  - Description: Duration of IaaS driver calls by operation and outcome
  - Labels: operation, outcome

Health Monitor Metrics:

epu_node_health_total{health}:
  - Type: Gauge
  - Description: Total number of nodes by health classification
  - Example: epu_node_health_total{health="missing"} 1

epu_heartbeats_total{state}:
  - Type: Counter
  - Description: Total number of OU agent heartbeats received by state
  - Labels: state

epu_health_sweep_duration_seconds:
  - Type: Histogram
  - Description: Time taken for one health monitor sweep

Controller / Decision Engine Metrics:

epu_decide_cycles_total:
  - Type: Counter
  - Description: Total number of decide() cycles completed

epu_decide_duration_seconds:
  - Type: Histogram
  - Description: Time taken for one decide() cycle

epu_decide_skipped_total:
  - Type: Counter
  - Description: Total decide() cycles skipped because reconfigure already held the permit

Raft Metrics (EPU Management domain/definition registry):

epu_raft_is_leader:
  - Type: Gauge
  - Description: Whether this node is the Raft leader (1=leader, 0=follower)

epu_raft_peers_total:
  - Type: Gauge
  - Description: Total Raft peers in the cluster

epu_raft_applied_index:
  - Type: Gauge
  - Description: Last applied Raft log index

epu_raft_apply_duration_seconds:
  - Type: Histogram
  - Description: Time taken to apply a Raft log entry

RPC Metrics:

epu_rpc_requests_total{operation, status}:
  - Type: Counter
  - Description: Total RPC operations by operation and status
  - Labels: operation, status

epu_rpc_request_duration_seconds{operation}:
  - Type: Histogram
  - Description: RPC operation duration in seconds
  - Labels: operation

# Usage

Updating Gauge Metrics:

	import "github.com/luispineda/epu/pkg/metrics"

	// Set absolute value
	metrics.NodesTotal.WithLabelValues("aws-us-east-1", "running").Set(5)

	// Increment/decrement
	metrics.LaunchesTotal.WithLabelValues("pending").Inc()
	metrics.LaunchesTotal.WithLabelValues("pending").Dec()

Updating Counter Metrics:

	// Increment by 1
	metrics.DecideCyclesTotal.Inc()

	// Add arbitrary value
	metrics.RPCRequestsTotal.WithLabelValues("provision", "ok").Add(1)

Recording Histogram Observations:

	// Direct observation
	metrics.DecideDuration.Observe(0.125) // 125ms

	// Using Timer helper
	timer := metrics.NewTimer()
	// ... perform operation ...
	timer.ObserveDuration(metrics.LaunchDuration)

Using Timer with Labels:

	timer := metrics.NewTimer()
	// ... perform operation ...
	timer.ObserveDurationVec(metrics.RPCRequestDuration, "provision")

Complete Example:

	package main

	import (
		"net/http"
		"time"
		"github.com/luispineda/epu/pkg/metrics"
	)

	func main() {
		// Update provisioner metrics
		metrics.NodesTotal.WithLabelValues("aws-us-east-1", "running").Set(5)
		metrics.LaunchesTotal.WithLabelValues("running").Set(1)

		// Time an operation
		timer := metrics.NewTimer()
		provisionNode()
		timer.ObserveDuration(metrics.LaunchDuration)

		// Expose metrics endpoint
		http.Handle("/metrics", metrics.Handler())
		http.HandleFunc("/healthz", metrics.HealthHandler())
		http.ListenAndServe(":9090", nil)
	}

	func provisionNode() {
		// Provisioning logic
		time.Sleep(100 * time.Millisecond)
	}

# Integration Points

This package integrates with:

  - pkg/epum: Updates Raft metrics
  - pkg/controller: Records decide-loop latency and skip counts
  - pkg/healthmonitor: Tracks health sweep duration and heartbeats received
  - pkg/rpc: Instruments request duration and outcome
  - pkg/provisioner: Does not update the node, launch and IaaS collectors
    defined here; no other package updates them either
  - Prometheus: Scrapes /metrics endpoint

# Design Patterns

Package Init Registration:
  - All metrics registered in init() function
  - MustRegister panics on duplicate registration
  - Ensures metrics available before main()
  - No runtime registration needed

Label Discipline:
  - Use WithLabelValues for cardinality-bounded labels
  - Avoid high-cardinality labels (node IDs, timestamps)
  - Document label values in metric description
  - Keep label count low (< 5 per metric)

Timer Pattern:
  - Create timer at operation start
  - Defer or explicitly call ObserveDuration
  - Automatically calculates elapsed time
  - Supports both simple and vector histograms

Global Metrics:
  - Package-level variables for all metrics
  - Accessible from any the EPU control plane package
  - Thread-safe concurrent updates
  - No initialization required by callers

# Performance Characteristics

Metric Update Overhead:
  - Gauge set/inc: ~50ns per operation
  - Counter inc: ~50ns per operation
  - Histogram observe: ~200ns per operation
  - Labels: +100ns per label value
  - Negligible impact on hot path

Memory Usage:
  - Per metric: ~1KB baseline
  - Per label combination: ~100 bytes
  - Histogram buckets: ~50 bytes each
  - Total: ~1-5MB for a typical EPU deployment

Scrape Performance:
  - Metrics gathering: ~1-5ms for full scrape
  - HTTP response: ~10ms for typical metric set
  - Recommendation: Scrape interval ≥ 15s
  - Concurrent scrapes: Safe (read-only)

Cardinality Management:
  - Low cardinality: site, state, health (< 10 values)
  - Medium cardinality: operation, status (< 100 values)
  - Avoid: node IDs, launch IDs, timestamps (unbounded)
  - Best practice: Aggregate high-cardinality in logs

# Troubleshooting

Common Issues:

Missing Metrics:
  - Symptom: Metric not appearing in /metrics output
  - Check: Metric registered in init() function
  - Check: MustRegister called (panics if duplicate)
  - Solution: Verify metric variable is exported

High Cardinality:
  - Symptom: Prometheus memory usage grows
  - Cause: Using IDs or unbounded values as labels
  - Check: Label cardinality (count unique combinations)
  - Solution: Remove high-cardinality labels, aggregate differently

Histogram Bucket Mismatch:
  - Symptom: No data in desired percentiles
  - Cause: Buckets don't cover observed value range
  - Check: Histogram sum / count for average
  - Solution: Customize buckets for value range

Stale Metrics:
  - Symptom: Metrics not updating
  - Cause: Code not calling metric update methods
  - Check: Add logging around metric updates
  - Solution: Instrument code paths correctly

# Monitoring

Prometheus Queries (PromQL):

Node Health:
  - Total nodes: sum(epu_nodes_total)
  - Running nodes by site: epu_nodes_total{state="running"}
  - Unhealthy nodes: epu_node_health_total{health!="OK"}

Launch Performance:
  - Active launches: epu_launches_total{state="running"}
  - p95 launch duration: histogram_quantile(0.95, epu_launch_duration_seconds_bucket)
  - IaaS call error rate: rate(epu_iaas_call_duration_seconds_count{outcome="error"}[5m])

RPC Performance:
  - Request rate: rate(epu_rpc_requests_total[1m])
  - Error rate: rate(epu_rpc_requests_total{status="error"}[1m])
  - p95 latency: histogram_quantile(0.95, epu_rpc_request_duration_seconds_bucket)

Raft Health:
  - Has leader: max(epu_raft_is_leader) > 0
  - Leader changes: changes(epu_raft_is_leader[10m])
  - Peer count: epu_raft_peers_total

Controller Performance:
  - Decide cycle rate: rate(epu_decide_cycles_total[1m])
  - p95 decide latency: histogram_quantile(0.95, epu_decide_duration_seconds_bucket)
  - Skipped cycle rate: rate(epu_decide_skipped_total[5m])

# Alerting Rules

Recommended Prometheus alerts:

High IaaS Call Failure Rate:
  - Alert: rate(epu_iaas_call_duration_seconds_count{outcome="error"}[5m]) > 0.1
  - Description: More than 0.1 IaaS calls failing per second
  - Action: Check IaaS driver logs, site quota, credentials

No Raft Leader:
  - Alert: max(epu_raft_is_leader) == 0
  - Description: EPU management cluster has no Raft leader
  - Action: Check node connectivity and quorum status

Frequent Leader Changes:
  - Alert: changes(epu_raft_is_leader[10m]) > 3
  - Description: Leader changed more than 3 times in 10 minutes
  - Action: Check network latency, node load

High RPC Latency:
  - Alert: histogram_quantile(0.95, epu_rpc_request_duration_seconds_bucket) > 1
  - Description: p95 RPC latency > 1 second
  - Action: Check Raft performance, storage backend

# Grafana Dashboards

Recommended dashboard panels:

Provisioner Overview:
  - Gauge: Total nodes by site
  - Time series: Launches by state (pending, running, failed)
  - Time series: Launch duration percentiles

RPC Performance:
  - Time series: Request rate by operation
  - Time series: p95 and p99 latency
  - Time series: Error rate

Raft Health:
  - Single stat: Leader status (yes/no)
  - Single stat: Peer count
  - Time series: Leader changes

Controller Performance:
  - Time series: Decide cycles per second
  - Heatmap: Decide latency distribution
  - Time series: Skipped cycles

# See Also

  - Prometheus documentation: https://prometheus.io/docs/
  - Prometheus client library: https://github.com/prometheus/client_golang
  - PromQL tutorial: https://prometheus.io/docs/prometheus/latest/querying/basics/
  - Histogram best practices: https://prometheus.io/docs/practices/histograms/
*/
package metrics
