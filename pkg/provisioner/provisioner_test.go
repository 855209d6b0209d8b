package provisioner

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luispineda/epu/pkg/contextbroker"
	"github.com/luispineda/epu/pkg/dtrs"
	epuerrors "github.com/luispineda/epu/pkg/errors"
	"github.com/luispineda/epu/pkg/iaas"
	"github.com/luispineda/epu/pkg/storage"
	"github.com/luispineda/epu/pkg/types"
)

func newTestCore(t *testing.T) (*Core, storage.Store, *iaas.FakeDriver, *contextbroker.FakeClient) {
	dir := t.TempDir()
	store, err := storage.NewBoltStore(dir)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	driver := iaas.NewFakeDriver("fake")
	ctxClient := contextbroker.NewFakeClient()
	resolver := dtrs.NewFakeResolver("<cluster><workspace><name>worker</name><image>fake</image><quantity>1</quantity></workspace></cluster>")

	core := NewCore(store, ctxClient, resolver, map[string]iaas.Driver{"fake": driver}, nil)
	return core, store, driver, ctxClient
}

// TestRecoverLaunchIncomplete mirrors original_source's
// test_recover_launch_incomplete: a launch left in REQUESTED state with
// some nodes still REQUESTING must finish provisioning on Recover.
func TestRecoverLaunchIncomplete(t *testing.T) {
	core, store, driver, _ := newTestCore(t)
	ctx := context.Background()

	launch := &types.Launch{
		LaunchID: "launch-1",
		State:    types.LaunchRequested,
		NodeIDs:  []string{"node-a", "node-b"},
	}
	require.NoError(t, store.CreateLaunch(launch))

	for _, id := range launch.NodeIDs {
		require.NoError(t, store.CreateNode(&types.Node{
			NodeID:   id,
			LaunchID: launch.LaunchID,
			Site:     "fake",
			State:    types.InstanceRequesting,
		}))
	}

	require.NoError(t, core.Recover(ctx))

	infos, err := driver.ListNodes(ctx)
	require.NoError(t, err)
	assert.Len(t, infos, 2)

	for _, id := range launch.NodeIDs {
		node, err := store.GetNode(id)
		require.NoError(t, err)
		assert.Equal(t, types.InstancePending, node.State)
	}

	got, err := store.GetLaunch(launch.LaunchID)
	require.NoError(t, err)
	assert.Equal(t, types.LaunchPending, got.State)
}

// TestRecoveryNodesTerminating mirrors test_recovery_nodes_terminating:
// nodes left TERMINATING on crash must be destroyed and marked TERMINATED.
func TestRecoveryNodesTerminating(t *testing.T) {
	core, store, driver, _ := newTestCore(t)
	ctx := context.Background()

	launch := &types.Launch{LaunchID: "launch-2", State: types.LaunchRunning}
	require.NoError(t, store.CreateLaunch(launch))

	// Pre-populate the driver with a running instance for the terminating node.
	_, err := driver.CreateNode(ctx, iaas.NodeSpec{NodeID: "node-term", Site: "fake"})
	require.NoError(t, err)

	require.NoError(t, store.CreateNode(&types.Node{
		NodeID: "node-term", LaunchID: launch.LaunchID, Site: "fake", State: types.InstanceTerminating,
	}))
	require.NoError(t, store.CreateNode(&types.Node{
		NodeID: "node-done", LaunchID: launch.LaunchID, State: types.InstanceTerminated,
	}))
	require.NoError(t, store.CreateNode(&types.Node{
		NodeID: "node-running", LaunchID: launch.LaunchID, State: types.InstanceRunning,
	}))

	require.NoError(t, core.Recover(ctx))

	node, err := store.GetNode("node-term")
	require.NoError(t, err)
	assert.Equal(t, types.InstanceTerminated, node.State)
}

// TestTerminateAll mirrors test_terminate_all: every non-terminal launch
// is torn down and CheckTerminateAll reports completion.
func TestTerminateAll(t *testing.T) {
	core, store, _, _ := newTestCore(t)
	ctx := context.Background()

	for i, launchID := range []string{"l1", "l2"} {
		launch := &types.Launch{LaunchID: launchID, State: types.LaunchRunning}
		require.NoError(t, store.CreateLaunch(launch))
		require.NoError(t, store.CreateNode(&types.Node{
			NodeID: launchID + "-node", LaunchID: launchID, Site: "fake", State: types.InstanceRunning,
		}))
		_ = i
	}

	require.NoError(t, core.TerminateAll(ctx))

	done, err := core.CheckTerminateAll(ctx)
	require.NoError(t, err)
	assert.True(t, done)
}

// TestPrepareAndExecuteProvision covers the happy path: prepare writes
// REQUESTED records, execute launches via the driver and reaches PENDING.
func TestPrepareAndExecuteProvision(t *testing.T) {
	core, store, _, _ := newTestCore(t)
	ctx := context.Background()

	launch, err := core.PrepareProvision(ctx, ProvisionRequest{
		LaunchID:       "launch-3",
		DeployableType: "ignored-in-fake-resolver",
		Nodes: map[string]types.NodeRequest{
			"worker": {CtxName: "worker", IDs: []string{"w1", "w2"}, Site: "fake"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, types.LaunchRequested, launch.State)

	require.NoError(t, core.ExecuteProvision(ctx, launch.LaunchID))

	for _, id := range []string{"w1", "w2"} {
		node, err := store.GetNode(id)
		require.NoError(t, err)
		assert.Equal(t, types.InstancePending, node.State)
		assert.NotEmpty(t, node.IaaSID)
	}
}

// TestQueryContextsPromotesNodesByOutcome mirrors test_query_ctx /
// test_query_ctx_error: a node whose identity reports ok_occurred moves to
// RUNNING, one reporting error_occurred moves to RUNNING_FAILED, and a node
// that hasn't checked in yet is left alone, all while the launch stays
// PENDING until the broker's aggregate status resolves.
func TestQueryContextsPromotesNodesByOutcome(t *testing.T) {
	core, store, _, ctxClient := newTestCore(t)
	ctx := context.Background()

	ctxInfo, err := ctxClient.CreateContext(ctx)
	require.NoError(t, err)

	launch := &types.Launch{LaunchID: "launch-ctx", State: types.LaunchPending, Context: ctxInfo}
	require.NoError(t, store.CreateLaunch(launch))

	for _, id := range []string{"ok-node", "err-node", "pending-node"} {
		require.NoError(t, store.CreateNode(&types.Node{
			NodeID: id, LaunchID: launch.LaunchID, Site: "fake", State: types.InstanceStarted,
		}))
	}

	ctxClient.AddNodeOutcome(ctxInfo.ContextID, contextbroker.NodeIdentity{NodeID: "ok-node"}, contextbroker.OutcomeOK, 3)
	ctxClient.AddNodeOutcome(ctxInfo.ContextID, contextbroker.NodeIdentity{NodeID: "err-node"}, contextbroker.OutcomeError, 3)

	require.NoError(t, core.queryContexts(ctx))

	okNode, err := store.GetNode("ok-node")
	require.NoError(t, err)
	assert.Equal(t, types.InstanceRunning, okNode.State)

	errNode, err := store.GetNode("err-node")
	require.NoError(t, err)
	assert.Equal(t, types.InstanceRunningFailed, errNode.State)

	pendingNode, err := store.GetNode("pending-node")
	require.NoError(t, err)
	assert.Equal(t, types.InstanceStarted, pendingNode.State) // hasn't checked in: untouched

	got, err := store.GetLaunch(launch.LaunchID)
	require.NoError(t, err)
	assert.Equal(t, types.LaunchPending, got.State) // aggregate status not yet OK
}

// TestQueryContextsSkipsLaunchUntilAllNodesStarted mirrors
// test_query_ctx_nodes_not_started: the broker is never queried while any
// node of the launch is still short of STARTED, even if the context itself
// would already resolve OK.
func TestQueryContextsSkipsLaunchUntilAllNodesStarted(t *testing.T) {
	core, store, _, ctxClient := newTestCore(t)
	ctx := context.Background()

	ctxInfo, err := ctxClient.CreateContext(ctx)
	require.NoError(t, err)

	launch := &types.Launch{LaunchID: "launch-notready", State: types.LaunchPending, Context: ctxInfo}
	require.NoError(t, store.CreateLaunch(launch))

	require.NoError(t, store.CreateNode(&types.Node{
		NodeID: "started-node", LaunchID: launch.LaunchID, Site: "fake", State: types.InstanceStarted,
	}))
	require.NoError(t, store.CreateNode(&types.Node{
		NodeID: "booting-node", LaunchID: launch.LaunchID, Site: "fake", State: types.InstancePending,
	}))

	ctxClient.AddNodeOutcome(ctxInfo.ContextID, contextbroker.NodeIdentity{NodeID: "started-node"}, contextbroker.OutcomeOK, 1)

	require.NoError(t, core.queryContexts(ctx))

	startedNode, err := store.GetNode("started-node")
	require.NoError(t, err)
	assert.Equal(t, types.InstanceStarted, startedNode.State) // never promoted: broker wasn't queried

	got, err := store.GetLaunch(launch.LaunchID)
	require.NoError(t, err)
	assert.Equal(t, types.LaunchPending, got.State)
}

// TestQueryNodesMissingWithinWindow mirrors
// test_query_missing_node_within_window: a PENDING node absent from its
// site's ListNodes is left alone while still inside the grace window.
func TestQueryNodesMissingWithinWindow(t *testing.T) {
	core, store, _, _ := newTestCore(t)
	ctx := context.Background()

	launch := &types.Launch{LaunchID: "launch-missing", State: types.LaunchPending}
	require.NoError(t, store.CreateLaunch(launch))
	require.NoError(t, store.CreateNode(&types.Node{
		NodeID: "ghost-node", LaunchID: launch.LaunchID, Site: "fake",
		State: types.InstancePending, PendingTimestamp: time.Now(),
	}))

	require.NoError(t, core.Query(ctx))

	node, err := store.GetNode("ghost-node")
	require.NoError(t, err)
	assert.Equal(t, types.InstancePending, node.State)
}

// TestQueryNodesMissingPastWindow mirrors
// test_query_missing_node_past_window: once a PENDING node has been absent
// longer than the configured window, it is failed.
func TestQueryNodesMissingPastWindow(t *testing.T) {
	core, store, _, _ := newTestCore(t)
	core.SetMissingNodeWindow(10 * time.Millisecond)
	ctx := context.Background()

	launch := &types.Launch{LaunchID: "launch-missing-2", State: types.LaunchPending}
	require.NoError(t, store.CreateLaunch(launch))
	require.NoError(t, store.CreateNode(&types.Node{
		NodeID: "ghost-node-2", LaunchID: launch.LaunchID, Site: "fake",
		State: types.InstancePending, PendingTimestamp: time.Now().Add(-time.Hour),
	}))

	require.NoError(t, core.Query(ctx))

	node, err := store.GetNode("ghost-node-2")
	require.NoError(t, err)
	assert.Equal(t, types.InstanceFailed, node.State)
}

// TestExecuteProvisionTransientErrorDoesNotFailLaunch: a node whose
// CreateNode call fails transiently is left ERROR_RETRYING, and the launch
// stays REQUESTED (not FAILED) so Recover picks it back up.
func TestExecuteProvisionTransientErrorDoesNotFailLaunch(t *testing.T) {
	core, store, driver, _ := newTestCore(t)
	ctx := context.Background()

	launch, err := core.PrepareProvision(ctx, ProvisionRequest{
		LaunchID:       "launch-retry",
		DeployableType: "ignored-in-fake-resolver",
		Nodes: map[string]types.NodeRequest{
			"worker": {CtxName: "worker", IDs: []string{"retry-node"}, Site: "fake"},
		},
	})
	require.NoError(t, err)

	driver.FailNext = epuerrors.Broker(assert.AnError, "transient outage")

	require.NoError(t, core.ExecuteProvision(ctx, launch.LaunchID))

	node, err := store.GetNode("retry-node")
	require.NoError(t, err)
	assert.Equal(t, types.InstanceErrorRetry, node.State)

	got, err := store.GetLaunch(launch.LaunchID)
	require.NoError(t, err)
	assert.Equal(t, types.LaunchRequested, got.State) // not FAILED: Recover will retry it

	// Recover re-runs ExecuteProvision for REQUESTED launches, and the
	// driver now succeeds (FailNext was consumed), so the node completes.
	require.NoError(t, core.Recover(ctx))
	node, err = store.GetNode("retry-node")
	require.NoError(t, err)
	assert.Equal(t, types.InstancePending, node.State)
}

// TestUpdateNodeIPInfoFirstNonEmptyWins mirrors test_update_node_ip_info: a
// subsequently empty IP reading never erases a previously known one.
func TestUpdateNodeIPInfoFirstNonEmptyWins(t *testing.T) {
	node := &types.Node{PublicIP: "203.0.113.1", PrivateIP: "10.0.0.1"}

	updateNodeIPInfo(node, "", "")
	assert.Equal(t, "203.0.113.1", node.PublicIP)
	assert.Equal(t, "10.0.0.1", node.PrivateIP)

	updateNodeIPInfo(node, "203.0.113.9", "10.0.0.9")
	assert.Equal(t, "203.0.113.9", node.PublicIP)
	assert.Equal(t, "10.0.0.9", node.PrivateIP)
}

func TestMain(m *testing.M) {
	os.Exit(m.Run())
}
