package iaas

import (
	"context"
	"sync"
	"time"
)

// FakeDriver is an in-memory Driver for Provisioner tests, including
// crash-recovery scenarios: CreateNode is idempotent on NodeID exactly
// like a real backend would be.
type FakeDriver struct {
	site string

	mu    sync.Mutex
	nodes map[string]*NodeInfo

	// FailNext, when non-nil, is returned (once) by the next CreateNode
	// call and then cleared — used to simulate a driver call that fails
	// after having actually launched the instance.
	FailNext error
}

// NewFakeDriver returns an empty fake driver for site.
func NewFakeDriver(site string) *FakeDriver {
	return &FakeDriver{site: site, nodes: make(map[string]*NodeInfo)}
}

func (d *FakeDriver) Site() string { return d.site }

func (d *FakeDriver) CreateNode(ctx context.Context, spec NodeSpec) (*NodeInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if existing, ok := d.nodes[spec.NodeID]; ok {
		return existing, nil
	}

	info := &NodeInfo{
		NodeID:    spec.NodeID,
		IaaSID:    "fake-" + spec.NodeID,
		Status:    NodeStatusRunning,
		PublicIP:  "203.0.113.1",
		PrivateIP: "10.0.0.1",
		Launched:  time.Now(),
	}
	d.nodes[spec.NodeID] = info

	if d.FailNext != nil {
		err := d.FailNext
		d.FailNext = nil
		return info, err
	}
	return info, nil
}

func (d *FakeDriver) ListNodes(ctx context.Context) ([]*NodeInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]*NodeInfo, 0, len(d.nodes))
	for _, n := range d.nodes {
		out = append(out, n)
	}
	return out, nil
}

func (d *FakeDriver) DestroyNode(ctx context.Context, nodeID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if info, ok := d.nodes[nodeID]; ok {
		info.Status = NodeStatusTerminated
	}
	return nil
}
