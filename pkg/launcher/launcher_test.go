package launcher

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luispineda/epu/pkg/controller"
	"github.com/luispineda/epu/pkg/provisioner"
	"github.com/luispineda/epu/pkg/types"
)

type recordingCore struct {
	req     provisioner.ProvisionRequest
	destroy []string
}

func (c *recordingCore) PrepareProvision(ctx context.Context, req provisioner.ProvisionRequest) (*types.Launch, error) {
	c.req = req
	return &types.Launch{LaunchID: req.LaunchID}, nil
}

func (c *recordingCore) TerminateNodes(ctx context.Context, nodeIDs []string) error {
	c.destroy = nodeIDs
	return nil
}

func TestLocalPrepareProvisionGeneratesFreshIdentities(t *testing.T) {
	core := &recordingCore{}
	local := NewLocal(core, "dom-1")

	err := local.PrepareProvision(context.Background(), controller.ProvisionRequest{
		DeployableType: "worker",
		CtxName:        "worker-group",
		Site:           "us-east",
		Allocation:     "small",
		Count:          3,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, core.req.LaunchID)
	assert.Equal(t, "dom-1", core.req.DomainID)
	nr, ok := core.req.Nodes["worker-group"]
	require.True(t, ok)
	assert.Len(t, nr.IDs, 3)
	assert.NotEqual(t, nr.IDs[0], nr.IDs[1])
	assert.Equal(t, "us-east", nr.Site)
}

func TestLocalTerminateNodesForwardsToCore(t *testing.T) {
	core := &recordingCore{}
	local := NewLocal(core, "dom-1")

	require.NoError(t, local.TerminateNodes(context.Background(), []string{"n1", "n2"}))
	assert.Equal(t, []string{"n1", "n2"}, core.destroy)
}
