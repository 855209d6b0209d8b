// Package ouagent implements the in-VM heartbeat agent: it polls a local
// process supervisor, classifies failures with first-occurrence-only
// stderr capture, and publishes a heartbeat to the owning Controller.
package ouagent

import "context"

// ProcessStatus is one supervised unit's state as reported by a
// Supervisor backend, normalized away from the backend's native
// vocabulary (supervisord process states, containerd task states, raw OS
// process liveness).
type ProcessStatus struct {
	Name          string
	Running       bool
	State         string
	StateName     string
	ExitCode      int
	StopTimestamp float64
	SpawnErr      string
	StderrPath    string
}

// Supervisor queries the current state of every unit a workload's
// contextualization registered. A nil Supervisor is valid: the agent
// then reports bare liveness with no per-process detail.
type Supervisor interface {
	Query(ctx context.Context) ([]ProcessStatus, error)
}
