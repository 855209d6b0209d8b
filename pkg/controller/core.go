package controller

import (
	"context"
	"time"

	"github.com/luispineda/epu/pkg/log"
	"github.com/luispineda/epu/pkg/metrics"
	"github.com/luispineda/epu/pkg/types"
)

// Core runs one domain's decision engine: it ingests sensor info and
// heartbeats into State, and drives the engine's Decide on a timer and
// Reconfigure on demand.
//
// decide and reconfigure share a single permit, mirroring the original
// DeferredSemaphore(1): at most one of them runs at a time. Unlike a
// queue, a second caller finding the permit held does not wait its turn —
// it skips this cycle. The next scheduled decide (or an explicit
// reconfigure request) will pick up the latest State anyway, so queuing a
// redundant run would only add latency without adding information.
type Core struct {
	engine  Engine
	control *Control
	state   *State

	permit chan struct{}
}

// NewCore builds a Core around an already-Initialize'd engine.
func NewCore(engine Engine, control *Control, state *State) *Core {
	c := &Core{
		engine:  engine,
		control: control,
		state:   state,
		permit:  make(chan struct{}, 1),
	}
	c.permit <- struct{}{}
	return c
}

// NewSensorInfo ingests a sensor_info message: either an instance-state
// update (has node_id) or a queue-length update (has queue_name).
func (c *Core) NewSensorInfo(content map[string]any) {
	if nodeID, ok := content["node_id"].(string); ok {
		if state, ok := content["state"].(string); ok {
			c.state.NewInstanceState(nodeID, types.InstanceState(state))
		}
		return
	}
	if queueName, ok := content["queue_name"].(string); ok {
		length := 0
		if v, ok := content["length"].(float64); ok {
			length = int(v)
		}
		c.state.NewQueueLength(queueName, length)
		return
	}
	log.WithComponent("controller").Warn().Msg("received sensor info with neither node_id nor queue_name")
}

// NewHeartbeat ingests a heartbeat's health classification into State.
// The heartbeat's raw processing (timeouts, error classification) lives
// in pkg/healthmonitor; Core only needs the resulting classification.
func (c *Core) NewHeartbeat(nodeID string, health types.HealthState) {
	c.state.NewHealth(nodeID, health)
}

// RunDecide attempts one decide cycle. If reconfigure currently holds the
// permit, RunDecide returns immediately without error: the cycle is
// skipped, not queued.
func (c *Core) RunDecide(ctx context.Context) error {
	select {
	case <-c.permit:
	default:
		metrics.DecideSkippedTotal.Inc()
		return nil
	}
	defer func() { c.permit <- struct{}{} }()

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.DecideDuration)
	defer metrics.DecideCyclesTotal.Inc()

	return c.engine.Decide(ctx, c.control, c.state)
}

// Reconfigure applies a new domain configuration. Like RunDecide, it
// yields to whichever of decide/reconfigure already holds the permit
// rather than blocking, and then reports applied=false. Core does not
// queue the request, and EPU Management's ReconfigureDomain ignores
// applied and does not retry.
func (c *Core) Reconfigure(ctx context.Context, conf map[string]any) (applied bool, err error) {
	select {
	case <-c.permit:
	default:
		return false, nil
	}
	defer func() { c.permit <- struct{}{} }()

	c.control.SetConfiguration(conf)
	if r, ok := c.engine.(Reconfigurable); ok {
		if err := r.Reconfigure(ctx, c.control, c.state, conf); err != nil {
			return false, err
		}
	}
	return true, nil
}

// Run drives RunDecide on a ticker until ctx is canceled.
func (c *Core) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.RunDecide(ctx); err != nil {
				log.WithComponent("controller").Error().Err(err).Msg("decide cycle failed")
			}
		}
	}
}
