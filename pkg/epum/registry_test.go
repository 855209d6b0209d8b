package epum

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luispineda/epu/pkg/controller"
	epuerrors "github.com/luispineda/epu/pkg/errors"
	"github.com/luispineda/epu/pkg/healthmonitor"
	"github.com/luispineda/epu/pkg/storage"
	"github.com/luispineda/epu/pkg/types"
)

// noopProvisioner satisfies controller.ProvisionerClient without talking to
// a real Provisioner; the runtime lifecycle tests below only care that a
// Controller was built and started, not that it ever decides to launch.
type noopProvisioner struct{}

func (noopProvisioner) PrepareProvision(ctx context.Context, req controller.ProvisionRequest) error {
	return nil
}
func (noopProvisioner) TerminateNodes(ctx context.Context, nodeIDs []string) error { return nil }

// noopEngine never launches or destroys anything; it exists only so a
// DomainRuntime has a concrete Engine to drive.
type noopEngine struct {
	reconfigured int
}

func (e *noopEngine) Initialize(ctx context.Context, control *controller.Control, state *controller.State, conf map[string]any) error {
	return nil
}
func (e *noopEngine) Decide(ctx context.Context, control *controller.Control, state *controller.State) error {
	return nil
}
func (e *noopEngine) Reconfigure(ctx context.Context, control *controller.Control, state *controller.State, conf map[string]any) error {
	e.reconfigured++
	return nil
}

// testFactory builds a real DomainRuntime wired to an in-memory store, so
// AddDomain/RemoveDomain exercise the actual start/stop lifecycle rather
// than a fake standing in for DomainRuntime.
func testFactory(store storage.Store) Factory {
	return func(domain *types.Domain, def *types.DomainDefinition) (*DomainRuntime, error) {
		control := controller.NewControl(noopProvisioner{}, domain.DomainID, domain.Config)
		state := controller.NewState()
		engine := &noopEngine{}
		if err := engine.Initialize(context.Background(), control, state, domain.Config); err != nil {
			return nil, err
		}
		core := controller.NewCore(engine, control, state)
		health := healthmonitor.NewMonitor(store, nil, def.HealthConf)
		queueName, _ := domain.Config["queue_name"].(string)
		return NewDomainRuntime(domain.DomainID, core, health, queueName), nil
	}
}

func TestAddDomainStartsRuntimeAndRemoveDomainStopsIt(t *testing.T) {
	m, store := newTestManager(t, "admin", nil)
	m.factory = testFactory(store)

	require.NoError(t, m.AddDomainDefinition(&types.DomainDefinition{DefinitionID: "def-1"}))

	domain, err := m.AddDomain(context.Background(), "alice", "dom-1", "def-1", map[string]any{"size": float64(1)})
	require.NoError(t, err)
	assert.Equal(t, "alice", domain.Owner)

	m.mu.Lock()
	_, running := m.runtimes["dom-1"]
	m.mu.Unlock()
	assert.True(t, running)

	require.NoError(t, m.RemoveDomain("alice", "dom-1"))

	m.mu.Lock()
	_, stillRunning := m.runtimes["dom-1"]
	m.mu.Unlock()
	assert.False(t, stillRunning)

	_, err = m.DescribeDomain("alice", "dom-1")
	assert.Error(t, err)
}

func TestRemoveDomainRejectsNonOwner(t *testing.T) {
	m, store := newTestManager(t, "", nil)
	m.factory = testFactory(store)
	require.NoError(t, m.AddDomainDefinition(&types.DomainDefinition{DefinitionID: "def-1"}))
	_, err := m.AddDomain(context.Background(), "alice", "dom-1", "def-1", nil)
	require.NoError(t, err)

	err = m.RemoveDomain("mallory", "dom-1")
	require.Error(t, err)
	code, ok := epuerrors.GetCode(err)
	require.True(t, ok)
	assert.Equal(t, epuerrors.CodeUserNotPermitted, code)
}

func TestDefaultUserMayActOnUnownedDomain(t *testing.T) {
	m, store := newTestManager(t, "admin", nil)
	m.factory = testFactory(store)
	require.NoError(t, m.AddDomainDefinition(&types.DomainDefinition{DefinitionID: "def-1"}))

	// A domain created with no owner (e.g. provisioned by ambient tooling)
	// can still be described by the configured default user.
	require.NoError(t, store.CreateDomain(&types.Domain{DomainID: "dom-unowned", DefinitionID: "def-1"}))

	_, err := m.DescribeDomain("admin", "dom-unowned")
	require.NoError(t, err)

	_, err = m.DescribeDomain("someone-else", "dom-unowned")
	require.Error(t, err)
}

func TestListDomainsScopedToOwnerUnlessDefaultUser(t *testing.T) {
	m, _ := newTestManager(t, "admin", nil)
	require.NoError(t, m.AddDomainDefinition(&types.DomainDefinition{DefinitionID: "def-1"}))
	_, err := m.AddDomain(context.Background(), "alice", "dom-1", "def-1", nil)
	require.NoError(t, err)
	_, err = m.AddDomain(context.Background(), "bob", "dom-2", "def-1", nil)
	require.NoError(t, err)

	aliceDomains, err := m.ListDomains("alice")
	require.NoError(t, err)
	assert.Len(t, aliceDomains, 1)

	allDomains, err := m.ListDomains("admin")
	require.NoError(t, err)
	assert.Len(t, allDomains, 2)
}

func TestReconfigureDomainAppliesToRunningRuntime(t *testing.T) {
	m, store := newTestManager(t, "", nil)
	m.factory = testFactory(store)
	require.NoError(t, m.AddDomainDefinition(&types.DomainDefinition{DefinitionID: "def-1"}))
	_, err := m.AddDomain(context.Background(), "alice", "dom-1", "def-1", map[string]any{"size": float64(1)})
	require.NoError(t, err)

	require.NoError(t, m.ReconfigureDomain(context.Background(), "alice", "dom-1", map[string]any{"size": float64(5)}))

	domain, err := m.DescribeDomain("alice", "dom-1")
	require.NoError(t, err)
	assert.Equal(t, float64(5), domain.Config["size"])
}

func TestOUHeartbeatRoutesByNodeOwnership(t *testing.T) {
	m, store := newTestManager(t, "", nil)
	m.factory = testFactory(store)
	require.NoError(t, m.AddDomainDefinition(&types.DomainDefinition{DefinitionID: "def-1"}))
	_, err := m.AddDomain(context.Background(), "alice", "dom-1", "def-1", nil)
	require.NoError(t, err)

	require.NoError(t, store.CreateLaunch(&types.Launch{LaunchID: "launch-1", DomainID: "dom-1"}))
	require.NoError(t, store.CreateNode(&types.Node{NodeID: "node-1", LaunchID: "launch-1", State: types.InstanceRunning}))

	require.NoError(t, m.OUHeartbeat(types.Heartbeat{NodeID: "node-1", State: "OK"}))

	m.mu.Lock()
	rt := m.runtimes["dom-1"]
	m.mu.Unlock()
	rec, err := rt.Health.Get("node-1")
	require.NoError(t, err)
	assert.Equal(t, types.HealthOK, rec.Health)
}

func TestOUHeartbeatUnknownNodeFails(t *testing.T) {
	m, _ := newTestManager(t, "", nil)
	err := m.OUHeartbeat(types.Heartbeat{NodeID: "ghost", State: "OK"})
	require.Error(t, err)
	code, ok := epuerrors.GetCode(err)
	require.True(t, ok)
	assert.Equal(t, epuerrors.CodeNotFound, code)
}

func TestSensorInfoRoutesByQueueName(t *testing.T) {
	m, store := newTestManager(t, "", nil)
	m.factory = testFactory(store)
	require.NoError(t, m.AddDomainDefinition(&types.DomainDefinition{DefinitionID: "def-1"}))
	_, err := m.AddDomain(context.Background(), "alice", "dom-1", "def-1", map[string]any{"queue_name": "work-queue"})
	require.NoError(t, err)

	err = m.SensorInfo(map[string]any{"queue_name": "work-queue", "length": float64(7)})
	require.NoError(t, err)
}

func TestSensorInfoWithoutNodeOrQueueIsInvalid(t *testing.T) {
	m, _ := newTestManager(t, "", nil)
	err := m.SensorInfo(map[string]any{"unrelated": "field"})
	require.Error(t, err)
	code, ok := epuerrors.GetCode(err)
	require.True(t, ok)
	assert.Equal(t, epuerrors.CodeInvalid, code)
}
