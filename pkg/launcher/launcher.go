// Package launcher adapts a Controller's narrow
// controller.ProvisionerClient contract onto a real Provisioner, either
// in-process or over pkg/rpc. This is where the per-launch/per-instance
// identity generation spec.md §4.3 describes lives: "Launch: generates a
// fresh launch_id and, for each instance, a fresh node_id". Keeping that
// generation here (rather than in pkg/controller) keeps engines and the
// Control facade unaware of how a launch reaches its Provisioner.
package launcher

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/luispineda/epu/pkg/controller"
	"github.com/luispineda/epu/pkg/provisioner"
	"github.com/luispineda/epu/pkg/rpc"
	"github.com/luispineda/epu/pkg/types"
)

// provisionerCore is the subset of *provisioner.Core the adapters below
// call directly, narrowed for the in-process case.
type provisionerCore interface {
	PrepareProvision(ctx context.Context, req provisioner.ProvisionRequest) (*types.Launch, error)
	TerminateNodes(ctx context.Context, nodeIDs []string) error
}

// Local adapts a controller.Control facade directly onto a
// provisioner.Core running in the same process, the common case for a
// single-binary deployment.
type Local struct {
	core     provisionerCore
	domainID string
}

// NewLocal builds a Local adapter bound to one domain; every launch it
// prepares carries domainID so EPU Management's heartbeat/sensor-info
// router can resolve a node back to its owning domain through the store.
func NewLocal(core provisionerCore, domainID string) *Local {
	return &Local{core: core, domainID: domainID}
}

// PrepareProvision implements controller.ProvisionerClient: it mints a
// fresh launch_id and one fresh node_id per requested instance, then
// forwards to the Provisioner as one ctx_name group holding all
// req.Count nodes.
func (l *Local) PrepareProvision(ctx context.Context, req controller.ProvisionRequest) error {
	nodeIDs := make([]string, req.Count)
	for i := range nodeIDs {
		nodeIDs[i] = uuid.NewString()
	}

	_, err := l.core.PrepareProvision(ctx, provisioner.ProvisionRequest{
		LaunchID:       uuid.NewString(),
		DomainID:       l.domainID,
		DeployableType: req.DeployableType,
		Nodes: map[string]types.NodeRequest{
			req.CtxName: {
				CtxName:    req.CtxName,
				IDs:        nodeIDs,
				Site:       req.Site,
				Allocation: req.Allocation,
			},
		},
	})
	return err
}

// TerminateNodes implements controller.ProvisionerClient.
func (l *Local) TerminateNodes(ctx context.Context, nodeIDs []string) error {
	return l.core.TerminateNodes(ctx, nodeIDs)
}

// Remote adapts a controller.Control facade onto a Provisioner reachable
// only over pkg/rpc, for a deployment that runs the Provisioner as its
// own process.
type Remote struct {
	client   *rpc.Client
	domainID string
}

// NewRemote builds a Remote adapter that calls the "provisioner" topic of
// client's destination.
func NewRemote(client *rpc.Client, domainID string) *Remote {
	return &Remote{client: client, domainID: domainID}
}

// PrepareProvision implements controller.ProvisionerClient over RPC.
func (r *Remote) PrepareProvision(ctx context.Context, req controller.ProvisionRequest) error {
	nodeIDs := make([]string, req.Count)
	for i := range nodeIDs {
		nodeIDs[i] = uuid.NewString()
	}

	_, err := r.client.Call(ctx, "provisioner", "provision", map[string]any{
		"launch_id":       uuid.NewString(),
		"domain_id":       r.domainID,
		"deployable_type": req.DeployableType,
		"ctx_name":        req.CtxName,
		"site":            req.Site,
		"allocation":      req.Allocation,
		"node_ids":        toAnySlice(nodeIDs),
	})
	if err != nil {
		return fmt.Errorf("remote provision: %w", err)
	}
	return nil
}

// TerminateNodes implements controller.ProvisionerClient over RPC.
func (r *Remote) TerminateNodes(ctx context.Context, nodeIDs []string) error {
	_, err := r.client.Call(ctx, "provisioner", "terminate_nodes", map[string]any{
		"node_ids": toAnySlice(nodeIDs),
	})
	if err != nil {
		return fmt.Errorf("remote terminate_nodes: %w", err)
	}
	return nil
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
