// Package healthmonitor classifies each node's health from the heartbeats
// it receives and the node's instance-state history, and periodically
// sweeps for nodes that have gone quiet.
package healthmonitor

import (
	"context"
	"time"

	"github.com/luispineda/epu/pkg/events"
	"github.com/luispineda/epu/pkg/log"
	"github.com/luispineda/epu/pkg/metrics"
	"github.com/luispineda/epu/pkg/storage"
	"github.com/luispineda/epu/pkg/types"
)

// Monitor owns the per-node HealthRecord bookkeeping for one domain. It
// is driven two ways: ProcessHeartbeat on every inbound OU Agent
// heartbeat, and Sweep on a timer to catch nodes that stopped sending
// them entirely.
type Monitor struct {
	store  storage.Store
	events *events.Broker
	config types.HealthConfig
}

// NewMonitor builds a Monitor using cfg's boot/missing/zombie timeouts.
func NewMonitor(store storage.Store, broker *events.Broker, cfg types.HealthConfig) *Monitor {
	if cfg.BootSeconds == 0 {
		cfg.BootSeconds = 5 * time.Minute
	}
	if cfg.MissingSeconds == 0 {
		cfg.MissingSeconds = 2 * time.Minute
	}
	if cfg.ReallyMissingSeconds == 0 {
		cfg.ReallyMissingSeconds = 10 * time.Minute
	}
	if cfg.ZombieSeconds == 0 {
		cfg.ZombieSeconds = 20 * time.Minute
	}
	return &Monitor{store: store, events: broker, config: cfg}
}

// ProcessHeartbeat updates a node's HealthRecord from an inbound
// heartbeat. A heartbeat for a node whose instance is already TERMINATED
// is a zombie by definition, regardless of what it reports. Otherwise a
// heartbeat carrying a supervisor error classifies the node MONITOR_ERROR;
// an "ERROR" heartbeat or one carrying failed processes classifies it
// PROCESS_ERROR; an "OK" heartbeat with no failed processes clears any
// prior error state.
func (m *Monitor) ProcessHeartbeat(hb types.Heartbeat) error {
	rec, err := m.loadOrInit(hb.NodeID)
	if err != nil {
		return err
	}

	now := time.Now()
	rec.LastHeartbeat = now
	rec.MissingTimeoutStart = time.Time{}

	prev := rec.Health
	if node, err := m.store.GetNode(hb.NodeID); err == nil && node.State == types.InstanceTerminated {
		rec.InstanceState = node.State
		rec.InstanceStateTime = node.UpdatedAt
		rec.Health = types.HealthZombie
	} else {
		switch {
		case hb.SupervisorError != "":
			rec.Health = types.HealthMonitorError
			rec.ErrorTime = now
		case hb.State == "ERROR" || len(hb.FailedProcesses) > 0:
			rec.Health = types.HealthProcessError
			rec.ErrorTime = now
			rec.Errors = hb.FailedProcesses
		default:
			rec.Health = types.HealthOK
			rec.Errors = nil
		}
	}

	metrics.HeartbeatsTotal.WithLabelValues(hb.State).Inc()

	if err := m.store.PutHealthRecord(rec); err != nil {
		return err
	}
	if prev != rec.Health {
		m.notify(rec)
	}
	return nil
}

// Sweep walks every known node, advancing UNKNOWN -> OUT_OF_CONTACT ->
// MISSING as the corresponding timeout elapses without a heartbeat.
// ZOMBIE is never driven by silence here: it is set by ProcessHeartbeat
// the instant a heartbeat arrives for an already-TERMINATED instance,
// and Sweep only decays it back once that node has gone quiet for
// longer than zombie_seconds, since "zombie" means a heartbeat inside
// that window and the window has now closed.
func (m *Monitor) Sweep(ctx context.Context) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.HealthSweepDuration)

	nodes, err := m.store.ListNodes()
	if err != nil {
		return err
	}

	now := time.Now()
	for _, node := range nodes {
		if node.State.Terminal() {
			if err := m.sweepTerminal(node, now); err != nil {
				return err
			}
			continue
		}

		rec, err := m.loadOrInit(node.NodeID)
		if err != nil {
			return err
		}
		rec.InstanceState = node.State
		rec.InstanceStateTime = node.UpdatedAt

		if rec.Health == types.HealthMonitorError || rec.Health == types.HealthProcessError {
			// already classified from a recent heartbeat; a quiet period
			// doesn't override an explicit error report.
			if err := m.store.PutHealthRecord(rec); err != nil {
				return err
			}
			continue
		}

		if node.State.Before(types.InstanceRunning) {
			// still booting: allow the full boot timeout before treating
			// silence as suspicious.
			if now.Sub(node.PendingTimestamp) > m.config.BootSeconds && rec.LastHeartbeat.IsZero() {
				m.classify(rec, types.HealthOutOfContact, now)
			}
			if err := m.store.PutHealthRecord(rec); err != nil {
				return err
			}
			continue
		}

		quiet := now.Sub(rec.LastHeartbeat)
		if rec.LastHeartbeat.IsZero() {
			quiet = now.Sub(rec.InstanceStateTime)
		}

		prev := rec.Health
		switch {
		case quiet > m.config.ReallyMissingSeconds:
			m.classify(rec, types.HealthMissing, now)
		case quiet > m.config.MissingSeconds:
			m.classify(rec, types.HealthOutOfContact, now)
		default:
			if rec.Health == types.HealthUnknown {
				m.classify(rec, types.HealthOK, now)
			}
		}

		if err := m.store.PutHealthRecord(rec); err != nil {
			return err
		}
		if prev != rec.Health {
			m.notify(rec)
		}
	}
	return nil
}

// sweepTerminal updates the HealthRecord of a node whose instance has
// reached a terminal state. A ZOMBIE classification, set by
// ProcessHeartbeat when a heartbeat arrived while the instance was
// already TERMINATED, decays back to OK once zombie_seconds has passed
// with no further heartbeat: the node is no longer "terminated but
// recently heard from", just terminated.
func (m *Monitor) sweepTerminal(node *types.Node, now time.Time) error {
	rec, err := m.loadOrInit(node.NodeID)
	if err != nil {
		return err
	}
	rec.InstanceState = node.State
	rec.InstanceStateTime = node.UpdatedAt

	prev := rec.Health
	if rec.Health == types.HealthZombie && now.Sub(rec.LastHeartbeat) > m.config.ZombieSeconds {
		rec.Health = types.HealthOK
	}

	if err := m.store.PutHealthRecord(rec); err != nil {
		return err
	}
	if prev != rec.Health {
		m.notify(rec)
	}
	return nil
}

func (m *Monitor) classify(rec *types.HealthRecord, state types.HealthState, now time.Time) {
	if rec.MissingTimeoutStart.IsZero() {
		rec.MissingTimeoutStart = now
	}
	rec.Health = state
}

func (m *Monitor) loadOrInit(nodeID string) (*types.HealthRecord, error) {
	rec, err := m.store.GetHealthRecord(nodeID)
	if err == nil {
		return rec, nil
	}
	return &types.HealthRecord{NodeID: nodeID, Health: types.HealthUnknown}, nil
}

func (m *Monitor) notify(rec *types.HealthRecord) {
	log.WithNodeID(rec.NodeID).Info().Str("health", string(rec.Health)).Msg("node health changed")
	if m.events == nil {
		return
	}
	m.events.Publish(&events.Event{
		Type:    events.EventNodeHealthChange,
		Message: rec.NodeID + ": " + string(rec.Health),
	})
}

// Get returns the current HealthRecord for a node, or HealthUnknown if
// none has been recorded yet.
func (m *Monitor) Get(nodeID string) (*types.HealthRecord, error) {
	return m.loadOrInit(nodeID)
}

// Run drives Sweep on a ticker until ctx is canceled.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Sweep(ctx); err != nil {
				log.WithComponent("healthmonitor").Error().Err(err).Msg("sweep failed")
			}
		}
	}
}
