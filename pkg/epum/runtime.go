package epum

import (
	"context"
	"time"

	"github.com/luispineda/epu/pkg/controller"
	"github.com/luispineda/epu/pkg/healthmonitor"
	"github.com/luispineda/epu/pkg/types"
)

// DefaultDecideInterval is how often a DomainRuntime drives its Controller's
// decide cycle. AddDomain uses it for every domain; no domain config
// setting overrides it.
const DefaultDecideInterval = 5 * time.Second

// DefaultHealthSweepInterval is how often a DomainRuntime sweeps its health
// Monitor for nodes that have gone quiet.
const DefaultHealthSweepInterval = 30 * time.Second

// DomainRuntime bundles one live domain's Controller and health Monitor,
// and is what EPU Management actually starts/stops/routes to as domains
// are added, removed, and reconfigured. queueName, if set, is the sensor
// queue this domain's engine listens on — sensor_info messages that carry
// a queue_name rather than a node_id route here instead of through node
// ownership.
type DomainRuntime struct {
	DomainID string
	Core     *controller.Core
	Health   *healthmonitor.Monitor

	queueName string
	cancel    context.CancelFunc
}

// NewDomainRuntime builds a DomainRuntime. health may be nil for a domain
// definition with monitor_health disabled.
func NewDomainRuntime(domainID string, core *controller.Core, health *healthmonitor.Monitor, queueName string) *DomainRuntime {
	return &DomainRuntime{DomainID: domainID, Core: core, Health: health, queueName: queueName}
}

// Start begins driving the Controller's decide cycle and, if configured,
// the health Monitor's sweep, until Stop is called or ctx is canceled.
func (r *DomainRuntime) Start(ctx context.Context, decideInterval, healthSweepInterval time.Duration) {
	if decideInterval <= 0 {
		decideInterval = DefaultDecideInterval
	}
	if healthSweepInterval <= 0 {
		healthSweepInterval = DefaultHealthSweepInterval
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	go r.Core.Run(runCtx, decideInterval)
	if r.Health != nil {
		go r.Health.Run(runCtx, healthSweepInterval)
	}
}

// Stop cancels the runtime's background loops. It does not touch the
// domain's registry record; Manager.RemoveDomain handles that separately.
func (r *DomainRuntime) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
}

// Heartbeat classifies an inbound heartbeat through the health Monitor (if
// any) and forwards the resulting health state into the Controller's
// State.
func (r *DomainRuntime) Heartbeat(hb types.Heartbeat) error {
	if r.Health == nil {
		return nil
	}
	if err := r.Health.ProcessHeartbeat(hb); err != nil {
		return err
	}
	rec, err := r.Health.Get(hb.NodeID)
	if err != nil {
		return err
	}
	r.Core.NewHeartbeat(hb.NodeID, rec.Health)
	return nil
}

// InstanceInfo forwards an instance-state transition into the Controller's
// State, in the sensor_info shape Core.NewSensorInfo expects.
func (r *DomainRuntime) InstanceInfo(nodeID string, state types.InstanceState) {
	r.Core.NewSensorInfo(map[string]any{"node_id": nodeID, "state": string(state)})
}

// SensorInfo forwards a raw sensor_info payload into the Controller.
func (r *DomainRuntime) SensorInfo(content map[string]any) {
	r.Core.NewSensorInfo(content)
}

// Reconfigure applies a new domain configuration to the Controller.
func (r *DomainRuntime) Reconfigure(ctx context.Context, conf map[string]any) (bool, error) {
	return r.Core.Reconfigure(ctx, conf)
}
