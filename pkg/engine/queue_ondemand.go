// Package engine provides the decision engine implementations registered
// with pkg/controller's engine registry.
package engine

import (
	"context"
	"fmt"

	"github.com/luispineda/epu/pkg/controller"
	"github.com/luispineda/epu/pkg/types"
)

// badStates are instance states a node can be in that should never be
// counted as a usable (or soon-to-be-usable) worker.
var badStates = map[types.InstanceState]bool{
	types.InstanceTerminating: true,
	types.InstanceTerminated:  true,
	types.InstanceFailed:      true,
	types.InstanceRejected:    true,
}

// QueueOnDemandEngine launches instances until the usable node count
// covers the queued job count. It never terminates or scales down
// instances, idle or unhealthy: terminateDelay is set but Decide does not
// read it. It is grounded on the queue-length-driven scaling decision the original
// Torque engine made, generalized away from a Torque-specific queue
// client to the generic queue-length sensor info the Controller already
// ingests.
type QueueOnDemandEngine struct {
	ctxName           string
	site              string
	allocation        string
	queueName         string
	terminateDelay    int // idle delay in seconds; Decide does not read it
}

// NewQueueOnDemandEngine returns an unconfigured engine; Initialize fills
// in its parameters from the domain's engine_conf.
func NewQueueOnDemandEngine() controller.Engine {
	return &QueueOnDemandEngine{terminateDelay: 600}
}

func init() {
	controller.Register("queue_ondemand", NewQueueOnDemandEngine)
}

func (e *QueueOnDemandEngine) Initialize(ctx context.Context, control *controller.Control, state *controller.State, conf map[string]any) error {
	e.ctxName = stringOr(conf, "ctx_name", "worker")
	e.site = stringOr(conf, "site", "")
	e.allocation = stringOr(conf, "allocation", "small")
	e.queueName = stringOr(conf, "queue_name", "default")
	if e.site == "" {
		return fmt.Errorf("queue_ondemand engine requires a site in engine_conf")
	}
	return nil
}

func (e *QueueOnDemandEngine) Decide(ctx context.Context, control *controller.Control, state *controller.State) error {
	queueLen, _ := state.QueueLength(e.queueName)

	counts := state.CountByState()
	validCount := 0
	for s, n := range counts {
		if !badStates[s] {
			validCount += n
		}
	}

	switch {
	case queueLen > validCount:
		needed := queueLen - validCount
		return control.LaunchInstances(ctx, e.ctxName, e.site, e.allocation, needed)
	case queueLen == 0 && validCount > 0:
		// Idle: nothing queued and we have workers. The queue-length
		// sensor carries no per-node last-busy timestamps, and Decide
		// terminates no instance here.
		return nil
	default:
		return nil
	}
}

func stringOr(conf map[string]any, key, def string) string {
	if conf == nil {
		return def
	}
	if v, ok := conf[key].(string); ok && v != "" {
		return v
	}
	return def
}
