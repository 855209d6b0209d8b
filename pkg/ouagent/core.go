package ouagent

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/luispineda/epu/pkg/log"
	"github.com/luispineda/epu/pkg/types"
)

// Core detects one node's state: a heartbeat ready to publish, with
// failed-process diagnostics deduplicated against what was already
// reported. It holds no network clients; Agent wires Core to a
// destination.
type Core struct {
	nodeID     string
	supervisor Supervisor

	mu        sync.Mutex
	failCache map[string]types.ProcessFailure
}

// NewCore builds a Core for nodeID. supervisor may be nil, in which case
// GetState always reports OK with no process detail.
func NewCore(nodeID string, supervisor Supervisor) *Core {
	return &Core{
		nodeID:     nodeID,
		supervisor: supervisor,
		failCache:  make(map[string]types.ProcessFailure),
	}
}

// GetState produces the heartbeat to send this cycle.
func (c *Core) GetState(ctx context.Context) types.Heartbeat {
	hb := types.Heartbeat{
		NodeID:    c.nodeID,
		Timestamp: float64(time.Now().Unix()),
	}

	if c.supervisor == nil {
		hb.State = "OK"
		return hb
	}

	statuses, err := c.supervisor.Query(ctx)
	if err != nil {
		hb.State = "ERROR"
		hb.SupervisorError = err.Error()
		log.WithNodeID(c.nodeID).Error().Err(err).Msg("supervisor query failed")
		return hb
	}

	failed := c.classifyFailures(statuses)
	if len(failed) > 0 {
		hb.State = "ERROR"
		hb.FailedProcesses = failed
	} else {
		hb.State = "OK"
	}
	return hb
}

// classifyFailures compares this poll's statuses against the fail cache.
// A process reported running clears any prior cache entry. A process
// still failing with the same (state, exitcode, stop_timestamp) signature
// as last time returns the cached failure, which carries no stderr: that
// was only attached the first time the signature was seen.
func (c *Core) classifyFailures(statuses []ProcessStatus) []types.ProcessFailure {
	c.mu.Lock()
	defer c.mu.Unlock()

	var failed []types.ProcessFailure
	for _, s := range statuses {
		if s.Running {
			delete(c.failCache, s.Name)
			continue
		}

		if prev, ok := c.failCache[s.Name]; ok && sameFailure(prev, s) {
			failed = append(failed, prev)
			continue
		}

		failure := types.ProcessFailure{
			Name:          s.Name,
			State:         s.State,
			StateName:     s.StateName,
			ExitCode:      s.ExitCode,
			StopTimestamp: s.StopTimestamp,
			Error:         s.SpawnErr,
		}
		c.failCache[s.Name] = failure

		if s.StderrPath != "" {
			failure.Stderr = readStderrFile(s.StderrPath)
		}
		failed = append(failed, failure)
	}
	return failed
}

func sameFailure(prev types.ProcessFailure, s ProcessStatus) bool {
	return prev.State == s.State && prev.ExitCode == s.ExitCode && prev.StopTimestamp == s.StopTimestamp
}

func readStderrFile(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		log.WithComponent("ouagent").Warn().Err(err).Str("path", path).Msg("failed to read stderr log")
		return ""
	}
	return string(data)
}
