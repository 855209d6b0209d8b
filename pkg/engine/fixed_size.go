package engine

import (
	"context"

	"github.com/luispineda/epu/pkg/controller"
)

// FixedSizeEngine keeps a domain at a constant worker count, grounded on
// the replica-count-delta scheduling decision (desired minus active,
// create the difference, never scale below zero).
type FixedSizeEngine struct {
	ctxName      string
	site         string
	allocation   string
	desiredCount int
}

// NewFixedSizeEngine returns an unconfigured engine; Initialize and
// Reconfigure fill in desiredCount from engine_conf.
func NewFixedSizeEngine() controller.Engine {
	return &FixedSizeEngine{}
}

func init() {
	controller.Register("fixed_size", NewFixedSizeEngine)
}

func (e *FixedSizeEngine) Initialize(ctx context.Context, control *controller.Control, state *controller.State, conf map[string]any) error {
	e.ctxName = stringOr(conf, "ctx_name", "worker")
	e.site = stringOr(conf, "site", "")
	e.allocation = stringOr(conf, "allocation", "small")
	e.desiredCount = intOr(conf, "size", 1)
	return nil
}

func (e *FixedSizeEngine) Reconfigure(ctx context.Context, control *controller.Control, state *controller.State, conf map[string]any) error {
	e.desiredCount = intOr(conf, "size", e.desiredCount)
	return nil
}

func (e *FixedSizeEngine) Decide(ctx context.Context, control *controller.Control, state *controller.State) error {
	counts := state.CountByState()
	active := 0
	for s, n := range counts {
		if !badStates[s] {
			active += n
		}
	}

	needed := e.desiredCount - active
	if needed <= 0 {
		return nil
	}
	return control.LaunchInstances(ctx, e.ctxName, e.site, e.allocation, needed)
}

func intOr(conf map[string]any, key string, def int) int {
	if conf == nil {
		return def
	}
	switch v := conf[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return def
	}
}
