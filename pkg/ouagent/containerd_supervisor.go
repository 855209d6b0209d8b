package ouagent

import (
	"context"
	"fmt"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/namespaces"
)

// DefaultContainerdSocket is the usual containerd socket path inside a
// contextualized VM.
const DefaultContainerdSocket = "/run/containerd/containerd.sock"

// ContainerdSupervisor reports one ProcessStatus per containerd task in
// a namespace: a container with no task, or a stopped task, is a
// failure; Running/Paused is not.
type ContainerdSupervisor struct {
	client    *containerd.Client
	namespace string
}

// NewContainerdSupervisor connects to containerd at socketPath and
// watches the given namespace.
func NewContainerdSupervisor(socketPath, namespace string) (*ContainerdSupervisor, error) {
	if socketPath == "" {
		socketPath = DefaultContainerdSocket
	}
	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("connect to containerd: %w", err)
	}
	return &ContainerdSupervisor{client: client, namespace: namespace}, nil
}

// Close releases the underlying containerd connection.
func (s *ContainerdSupervisor) Close() error {
	return s.client.Close()
}

func (s *ContainerdSupervisor) Query(ctx context.Context) ([]ProcessStatus, error) {
	ctx = namespaces.WithNamespace(ctx, s.namespace)

	containers, err := s.client.Containers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}

	statuses := make([]ProcessStatus, 0, len(containers))
	for _, c := range containers {
		task, err := c.Task(ctx, nil)
		if err != nil {
			// No task at all means the container never started or was
			// already reaped; treat it as a stopped process rather than
			// erroring the whole poll.
			statuses = append(statuses, ProcessStatus{
				Name:      c.ID(),
				Running:   false,
				State:     "NO_TASK",
				StateName: "NO_TASK",
				SpawnErr:  err.Error(),
			})
			continue
		}

		taskStatus, err := task.Status(ctx)
		if err != nil {
			statuses = append(statuses, ProcessStatus{
				Name:      c.ID(),
				Running:   false,
				State:     "UNKNOWN",
				StateName: "UNKNOWN",
				SpawnErr:  err.Error(),
			})
			continue
		}

		switch taskStatus.Status {
		case containerd.Running, containerd.Paused:
			statuses = append(statuses, ProcessStatus{
				Name:      c.ID(),
				Running:   true,
				State:     string(taskStatus.Status),
				StateName: string(taskStatus.Status),
			})
		default:
			statuses = append(statuses, ProcessStatus{
				Name:          c.ID(),
				Running:       false,
				State:         string(taskStatus.Status),
				StateName:     string(taskStatus.Status),
				ExitCode:      int(taskStatus.ExitStatus),
				StopTimestamp: float64(taskStatus.ExitTime.Unix()),
			})
		}
	}

	return statuses, nil
}
