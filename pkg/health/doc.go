/*
Package health provides health check mechanisms for probing external endpoints in the EPU control plane.

This package implements three types of health checks: HTTP, TCP, and Exec. They give
callers a uniform way to probe whether a dependency — a context broker's rendezvous
endpoint, a node's SSH/API port, a local driver's helper process — is reachable and
responding, independent of what kind of check that dependency needs.

# Architecture

the EPU control plane's health check system follows a modular checker design:

	┌─────────────────────────────────────────────────────────────┐
	│                   Health Check System                       │
	└─────┬──────────────────────────────────────────────────────┘
	      │
	      ▼
	┌──────────────────────────────────────────────────────────────┐
	│                     Checker Interface                        │
	│  • Check(ctx) Result                                         │
	│  • Type() CheckType                                          │
	└────────┬─────────────────────────────────────────────────────┘
	         │
	    ┌────┴──────┬──────────┐
	    ▼           ▼          ▼
	┌────────┐  ┌──────┐  ┌────────┐
	│  HTTP  │  │ TCP  │  │  Exec  │
	│Checker │  │Checker│ │Checker │
	└────────┘  └──────┘  └────────┘
	     │          │          │
	     ▼          ▼          ▼
	  GET /    Connect     Run local
	  /health    :port      command

## Health Check Flow

 1. Caller builds a Checker for the endpoint it cares about
 2. Optionally wait for a StartPeriod (grace period while the dependency boots)
 3. Every Interval: run the check
 4. If the check fails: increment consecutive failures
 5. If failures >= Retries: mark the dependency unhealthy
 6. Caller reacts however it needs to — contextbroker.HTTPClient.Probe returns a
    single Result for its caller to interpret; a longer-lived poller can wrap
    Status to get hysteresis across repeated checks.

# Health Check Types

## HTTP Health Checks

HTTP checks perform HTTP requests to verify an endpoint is responding:

	Check Type: HTTP
	Configuration:
	├── URL: http://broker-host:8080/health
	├── Method: GET, POST, HEAD
	├── Headers: Custom HTTP headers
	├── Expected Status: 200-399 (configurable)
	└── Timeout: 10 seconds

Example responses:
  - 200 OK → Healthy
  - 503 Service Unavailable → Unhealthy
  - Connection timeout → Unhealthy
  - Connection refused → Unhealthy

## TCP Health Checks

TCP checks verify that a port is listening and accepting connections:

	Check Type: TCP
	Configuration:
	├── Address: node-host:22
	├── Timeout: 5 seconds
	└── Connection test only (no data sent)

Use cases:
  - Node SSH/API reachability before handing a node to an OU agent
  - Local driver helper processes (e.g. limactl) that expose a port
  - Any dependency with a plain TCP listener

## Exec Health Checks

Exec checks run a local command and check its exit code:

	Check Type: Exec
	Configuration:
	├── Command: ["limactl", "shell", "epu-node-1", "true"]
	├── Timeout: 10 seconds
	├── Exit code 0 → Healthy
	└── Exit code != 0 → Unhealthy

Use cases:
  - Driver-specific readiness checks (lima, local hypervisors)
  - Custom health scripts
  - Filesystem or mount checks

# Core Components

## Checker Interface

All health checkers implement this interface:

	type Checker interface {
		Check(ctx context.Context) Result
		Type() CheckType
	}

This allows polymorphic health checking - callers don't need to know the
check type, just call Check() and interpret the Result.

## Result Structure

All checks return a standardized Result:

	type Result struct {
		Healthy   bool          // Check passed?
		Message   string        // Human-readable message
		CheckedAt time.Time     // When check ran
		Duration  time.Duration // How long check took
	}

## Status Tracking

Status tracks health over time:

	type Status struct {
		ConsecutiveFailures  int    // Failure streak
		ConsecutiveSuccesses int    // Success streak
		LastCheck            time.Time
		LastResult           Result
		Healthy              bool   // Current health state
		StartedAt            time.Time
	}

The status implements hysteresis - multiple failures required before marking
unhealthy, preventing flapping from transient issues.

## Configuration

Health checks are configured per dependency:

	type Config struct {
		Interval    time.Duration  // Time between checks (default: 30s)
		Timeout     time.Duration  // Max check duration (default: 10s)
		Retries     int            // Failures before unhealthy (default: 3)
		StartPeriod time.Duration  // Grace period for slow startup (default: 0)
	}

# Usage Examples

## HTTP Health Check

	import "github.com/luispineda/epu/pkg/health"

	// Create HTTP checker
	checker := health.NewHTTPChecker("http://192.168.1.10:8080/health")

	// Customize (optional)
	checker.WithMethod("GET").
		WithHeader("User-Agent", "epu-health/1.0").
		WithStatusRange(200, 299).  // Only 2xx is healthy
		WithTimeout(5 * time.Second)

	// Perform check
	ctx := context.Background()
	result := checker.Check(ctx)

	if result.Healthy {
		fmt.Printf("✓ Healthy: %s (took %v)\n", result.Message, result.Duration)
	} else {
		fmt.Printf("✗ Unhealthy: %s\n", result.Message)
	}

	// Output:
	// ✓ Healthy: HTTP 200 OK (took 12ms)

## TCP Health Check

	// Create TCP checker for a node's SSH port
	checker := health.NewTCPChecker("192.168.1.10:22")
	checker.WithTimeout(3 * time.Second)

	// Check if the node is accepting connections
	result := checker.Check(ctx)

	if result.Healthy {
		fmt.Println("node is accepting connections")
	} else {
		fmt.Printf("node unreachable: %s\n", result.Message)
	}

	// Output:
	// node is accepting connections

## Exec Health Check

	// Create exec checker for a local lima instance
	checker := health.NewExecChecker([]string{
		"limactl", "shell", "epu-node-1", "true",
	})
	checker.WithTimeout(5 * time.Second)

	// Check the instance
	result := checker.Check(ctx)

	if result.Healthy {
		fmt.Println("lima instance is ready")
	} else {
		fmt.Printf("lima instance not ready: %s\n", result.Message)
	}

## Health Status Tracking

	// Create status tracker
	status := health.NewStatus()

	// Configure health check
	config := health.Config{
		Interval:    10 * time.Second,
		Timeout:     5 * time.Second,
		Retries:     3,
		StartPeriod: 30 * time.Second,
	}

	// Simulate health check loop
	checker := health.NewHTTPChecker("http://broker:8080/health")

	for {
		// Check if in startup grace period
		if status.InStartPeriod(config) {
			fmt.Println("in startup period, skipping health check")
			time.Sleep(config.Interval)
			continue
		}

		// Run health check
		ctx, cancel := context.WithTimeout(context.Background(), config.Timeout)
		result := checker.Check(ctx)
		cancel()

		// Update status
		status.Update(result, config)

		// Check if unhealthy
		if !status.Healthy {
			fmt.Printf("dependency unhealthy after %d failures\n",
				status.ConsecutiveFailures)
			break
		}

		time.Sleep(config.Interval)
	}

# Integration Points

## Context Broker Integration

pkg/contextbroker's HTTPClient.Probe wraps an HTTP checker against the
rendezvous endpoint's /health path, so node bootstrap code can decide
whether the broker is reachable before an OU agent tries to fetch its
launch context from it.

## Health Monitor Integration

pkg/healthmonitor tracks node health primarily from OU agent heartbeats, not
from active probing — this package's checkers are for probing endpoints the
control plane itself depends on (a context broker, a local IaaS driver's
helper process), not for watching node liveness directly.

## Driver Integration

Local IaaS drivers (pkg/iaas) can use TCP or Exec checkers to confirm a
node's hypervisor process has finished booting before handing the node back
to the provisioner core as running.

# Design Patterns

## Strategy Pattern

Different checkers implement the Checker interface:

	Checker (interface)
	├── HTTPChecker (HTTP strategy)
	├── TCPChecker (TCP strategy)
	└── ExecChecker (Exec strategy)

This allows runtime selection of check type without code changes.

## Builder Pattern

Checkers use fluent builders for configuration:

	checker := NewHTTPChecker(url).
		WithMethod("POST").
		WithHeader("Auth", "token").
		WithTimeout(5 * time.Second)

This provides clean, readable configuration with optional parameters.

## Hysteresis Pattern

Status tracking implements hysteresis to prevent flapping:

	Healthy → 1 failure → Still healthy
	Healthy → 2 failures → Still healthy
	Healthy → 3 failures → Unhealthy!

	Unhealthy → 1 success → Healthy!

This prevents oscillation from transient issues while still responding to
persistent problems.

## Context-Based Cancellation

All checks respect context deadlines:

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result := checker.Check(ctx)  // Respects timeout

This enables proper timeout handling and resource cleanup.

# Performance Characteristics

## HTTP Check Performance

HTTP checks are network-bound:

  - Latency: 1-100ms (depends on network + endpoint)
  - Memory: ~10KB per check (HTTP client)
  - CPU: Minimal (mostly waiting for I/O)

## TCP Check Performance

TCP checks are very lightweight:

  - Latency: 1-10ms (just TCP handshake)
  - Memory: ~1KB per check
  - CPU: Negligible

TCP checks are ideal for high-frequency monitoring.

## Exec Check Performance

Exec checks are most expensive:

  - Latency: 10-1000ms (depends on command)
  - Memory: Command output size
  - CPU: Command execution

Use exec checks sparingly and increase check interval.

## Recommended Check Intervals

  - HTTP: 10-30 seconds
  - TCP: 5-15 seconds
  - Exec: 30-60 seconds

# Troubleshooting

## False Positive Failures

If a reachable dependency is marked unhealthy:

1. Check timeout settings:
  - Timeout too short for slow responses?
  - Network latency accounted for?
  - Increase timeout to 2x expected duration

2. Check retry count:
  - Retries = 1 → Very sensitive to transients
  - Retries = 3 → More tolerant (recommended)
  - Increase retries for flaky networks

3. Check StartPeriod:
  - Dependency takes 60s to start but StartPeriod = 10s?
  - Set StartPeriod > expected startup time

## Health Checks Not Running

If health checks aren't being performed:

1. Verify configuration:
  - Check Interval > 0
  - Ensure the caller actually invokes Check() on a loop

2. Check network connectivity:
  - Can the caller reach the target host/port?
  - Firewall blocking the health check port?

# Security Considerations

## HTTP Health Checks

  - Health endpoints should not require authentication
  - Don't expose sensitive information in health responses
  - Prefer internal networks over the public internet

## Exec Health Checks

  - Validate command arguments (prevent injection)
  - Limit command execution time
  - Run with the minimum privileges needed

# Future Enhancements

Planned health check features:

  - gRPC health checks (gRPC health protocol)
  - Readiness vs. liveness distinction
  - Prometheus export of check latency/success rate

# See Also

  - pkg/healthmonitor - Uses OU Agent heartbeats for node failure detection
  - pkg/contextbroker - Probes rendezvous endpoint reachability
  - pkg/controller - Uses domain health for scaling decisions
*/
package health
