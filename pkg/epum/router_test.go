package epum

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luispineda/epu/pkg/rpc"
	"github.com/luispineda/epu/pkg/types"
)

func startTestRPCServer(t *testing.T, srv *rpc.Server) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.GracefulStop)
	return lis.Addr().String()
}

func TestRegisterRPCRoundTripAddAndDescribeDomain(t *testing.T) {
	m, _ := newTestManager(t, "admin", nil)
	require.NoError(t, m.AddDomainDefinition(&types.DomainDefinition{DefinitionID: "def-1"}))

	srv := rpc.NewServer(nil)
	m.RegisterRPC(srv)
	addr := startTestRPCServer(t, srv)

	client, err := rpc.DialInsecure(addr, "alice")
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Call(context.Background(), "epum", "add_domain", map[string]any{
		"domain_id":     "dom-1",
		"definition_id": "def-1",
	})
	require.NoError(t, err)

	reply, err := client.Call(context.Background(), "epum", "describe_domain", map[string]any{"domain_id": "dom-1"})
	require.NoError(t, err)
	assert.Equal(t, "alice", reply["owner"])
}

func TestRegisterRPCDescribeDomainRejectsNonOwner(t *testing.T) {
	m, _ := newTestManager(t, "", nil)
	require.NoError(t, m.AddDomainDefinition(&types.DomainDefinition{DefinitionID: "def-1"}))
	_, err := m.AddDomain(context.Background(), "alice", "dom-1", "def-1", nil)
	require.NoError(t, err)

	srv := rpc.NewServer(nil)
	m.RegisterRPC(srv)
	addr := startTestRPCServer(t, srv)

	client, err := rpc.DialInsecure(addr, "mallory")
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Call(context.Background(), "epum", "describe_domain", map[string]any{"domain_id": "dom-1"})
	require.Error(t, err)
}

func TestRegisterRPCOUHeartbeatIgnoresCaller(t *testing.T) {
	m, store := newTestManager(t, "", nil)
	m.factory = testFactory(store)
	require.NoError(t, m.AddDomainDefinition(&types.DomainDefinition{DefinitionID: "def-1"}))
	_, err := m.AddDomain(context.Background(), "alice", "dom-1", "def-1", nil)
	require.NoError(t, err)
	require.NoError(t, store.CreateLaunch(&types.Launch{LaunchID: "launch-1", DomainID: "dom-1"}))
	require.NoError(t, store.CreateNode(&types.Node{NodeID: "node-1", LaunchID: "launch-1", State: types.InstanceRunning}))

	srv := rpc.NewServer(nil)
	m.RegisterRPC(srv)
	addr := startTestRPCServer(t, srv)

	// A node has no domain ownership identity of its own, only its mTLS
	// client cert; the handler must not check caller against the domain
	// owner for this operation.
	client, err := rpc.DialInsecure(addr, "node-1")
	require.NoError(t, err)
	defer client.Close()

	err = client.Fire(context.Background(), "epum", "ou_heartbeat", map[string]any{
		"node_id": "node-1",
		"state":   "OK",
	})
	assert.NoError(t, err)
}
