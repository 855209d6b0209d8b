package ouagent

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v3/process"
)

// GopsutilSupervisor watches a fixed list of process names against the
// host's live process table. This is the original system's literal
// model: a supervisord-managed set of named Unix processes, here without
// supervisord itself, walking /proc directly.
type GopsutilSupervisor struct {
	names []string
}

// NewGopsutilSupervisor watches for the given process names.
func NewGopsutilSupervisor(names []string) *GopsutilSupervisor {
	return &GopsutilSupervisor{names: names}
}

func (s *GopsutilSupervisor) Query(ctx context.Context) ([]ProcessStatus, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	running := make(map[string]bool, len(procs))
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		running[name] = true
	}

	statuses := make([]ProcessStatus, 0, len(s.names))
	for _, name := range s.names {
		if running[name] {
			statuses = append(statuses, ProcessStatus{
				Name:      name,
				Running:   true,
				State:     "RUNNING",
				StateName: "RUNNING",
			})
			continue
		}
		statuses = append(statuses, ProcessStatus{
			Name:      name,
			Running:   false,
			State:     "STOPPED",
			StateName: "STOPPED",
		})
	}

	return statuses, nil
}
