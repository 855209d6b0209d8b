package controller

import (
	"context"
	"fmt"

	"github.com/luispineda/epu/pkg/log"
)

// ProvisionerClient is the subset of Provisioner operations a decision
// engine drives through Control. It is satisfied by pkg/launcher's
// adapters, which forward either to an in-process provisioner.Core or
// over pkg/rpc to a remote Provisioner.
type ProvisionerClient interface {
	PrepareProvision(ctx context.Context, req ProvisionRequest) error
	TerminateNodes(ctx context.Context, nodeIDs []string) error
}

// ProvisionRequest mirrors provisioner.ProvisionRequest without importing
// the provisioner package, keeping engines decoupled from its internals.
type ProvisionRequest struct {
	DeployableType string
	CtxName        string
	Site           string
	Allocation     string
	Count          int
}

// Control is the facade a decision engine uses to act: launch or destroy
// instances, and read/write the domain's live configuration.
type Control struct {
	provisioner ProvisionerClient
	domainID    string
	config      map[string]any
}

// NewControl builds a Control bound to one domain.
func NewControl(provisioner ProvisionerClient, domainID string, config map[string]any) *Control {
	return &Control{provisioner: provisioner, domainID: domainID, config: config}
}

// LaunchInstances requests count new nodes of the given ctx_name/site/
// allocation as one provision request. Any positive count is accepted;
// the ProvisionerClient mints one node_id per requested instance.
func (c *Control) LaunchInstances(ctx context.Context, ctxName, site, allocation string, count int) error {
	if count <= 0 {
		return fmt.Errorf("launch count must be positive, got %d", count)
	}
	log.WithDomainID(c.domainID).Info().Int("count", count).Str("ctx_name", ctxName).Msg("launching instances")
	return c.provisioner.PrepareProvision(ctx, ProvisionRequest{
		CtxName:    ctxName,
		Site:       site,
		Allocation: allocation,
		Count:      count,
	})
}

// DestroyInstances terminates the given nodes.
func (c *Control) DestroyInstances(ctx context.Context, nodeIDs []string) error {
	log.WithDomainID(c.domainID).Info().Strs("node_ids", nodeIDs).Msg("destroying instances")
	return c.provisioner.TerminateNodes(ctx, nodeIDs)
}

// Configuration returns the domain's current configuration, as supplied
// by EPU Management's reconfigure_domain operation.
func (c *Control) Configuration() map[string]any {
	return c.config
}

// SetConfiguration replaces the domain's configuration, used by a
// decision engine's Reconfigure to pick up new parameters.
func (c *Control) SetConfiguration(config map[string]any) {
	c.config = config
}
