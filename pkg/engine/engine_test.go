package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luispineda/epu/pkg/controller"
	"github.com/luispineda/epu/pkg/types"
)

type recordingProvisioner struct {
	launched []int
	destroy  [][]string
}

func (p *recordingProvisioner) PrepareProvision(ctx context.Context, req controller.ProvisionRequest) error {
	p.launched = append(p.launched, req.Count)
	return nil
}

func (p *recordingProvisioner) TerminateNodes(ctx context.Context, nodeIDs []string) error {
	p.destroy = append(p.destroy, nodeIDs)
	return nil
}

func TestFixedSizeEngineLaunchesShortfall(t *testing.T) {
	prov := &recordingProvisioner{}
	control := controller.NewControl(prov, "dom-1", nil)
	state := controller.NewState()
	state.NewInstanceState("n1", types.InstanceRunning)

	eng := NewFixedSizeEngine()
	require.NoError(t, eng.Initialize(context.Background(), control, state, map[string]any{"site": "fake", "size": 3}))
	require.NoError(t, eng.Decide(context.Background(), control, state))

	require.Len(t, prov.launched, 1)
	assert.Equal(t, 2, prov.launched[0])
}

func TestFixedSizeEngineNoOpWhenAtTarget(t *testing.T) {
	prov := &recordingProvisioner{}
	control := controller.NewControl(prov, "dom-1", nil)
	state := controller.NewState()
	state.NewInstanceState("n1", types.InstanceRunning)
	state.NewInstanceState("n2", types.InstanceRunning)

	eng := NewFixedSizeEngine()
	require.NoError(t, eng.Initialize(context.Background(), control, state, map[string]any{"site": "fake", "size": 2}))
	require.NoError(t, eng.Decide(context.Background(), control, state))

	assert.Empty(t, prov.launched)
}

func TestQueueOnDemandEngineLaunchesForBacklog(t *testing.T) {
	prov := &recordingProvisioner{}
	control := controller.NewControl(prov, "dom-1", nil)
	state := controller.NewState()
	state.NewQueueLength("default", 5)

	eng := NewQueueOnDemandEngine()
	require.NoError(t, eng.Initialize(context.Background(), control, state, map[string]any{"site": "fake"}))
	require.NoError(t, eng.Decide(context.Background(), control, state))

	require.Len(t, prov.launched, 1)
	assert.Equal(t, 5, prov.launched[0])
}

func TestQueueOnDemandIgnoresTerminatingNodes(t *testing.T) {
	prov := &recordingProvisioner{}
	control := controller.NewControl(prov, "dom-1", nil)
	state := controller.NewState()
	state.NewQueueLength("default", 1)
	state.NewInstanceState("n1", types.InstanceTerminating)

	eng := NewQueueOnDemandEngine()
	require.NoError(t, eng.Initialize(context.Background(), control, state, map[string]any{"site": "fake"}))
	require.NoError(t, eng.Decide(context.Background(), control, state))

	require.Len(t, prov.launched, 1)
	assert.Equal(t, 1, prov.launched[0])
}
