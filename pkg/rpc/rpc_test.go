package rpc

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	epuerrors "github.com/luispineda/epu/pkg/errors"
)

func startServer(t *testing.T, srv *Server) (addr string, stop func()) {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.Serve(lis) }()
	return lis.Addr().String(), srv.GracefulStop
}

func TestCallRoundTrip(t *testing.T) {
	srv := NewServer(nil)
	srv.Register("provisioner", "query", func(ctx context.Context, caller string, kwargs map[string]any) (map[string]any, error) {
		return map[string]any{"acknowledged": true, "node_count": kwargs["count"]}, nil
	})
	addr, stop := startServer(t, srv)
	defer stop()

	client, err := DialInsecure(addr, "test-caller")
	require.NoError(t, err)
	defer client.Close()

	reply, err := client.Call(context.Background(), "provisioner", "query", map[string]any{"count": float64(3)})
	require.NoError(t, err)
	assert.Equal(t, true, reply["acknowledged"])
	assert.Equal(t, float64(3), reply["node_count"])
}

func TestCallUnregisteredOperation(t *testing.T) {
	srv := NewServer(nil)
	addr, stop := startServer(t, srv)
	defer stop()

	client, err := DialInsecure(addr, "test-caller")
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Call(context.Background(), "provisioner", "nonexistent", nil)
	require.Error(t, err)
	st, ok := status.FromError(err)
	require.True(t, ok)
	assert.Equal(t, codes.Unimplemented, st.Code())
}

func TestCallPropagatesStructuredError(t *testing.T) {
	srv := NewServer(nil)
	srv.Register("epum", "describe_domain", func(ctx context.Context, caller string, kwargs map[string]any) (map[string]any, error) {
		return nil, epuerrors.NotFound("domain %v not found", kwargs["domain_id"])
	})
	addr, stop := startServer(t, srv)
	defer stop()

	client, err := DialInsecure(addr, "test-caller")
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Call(context.Background(), "epum", "describe_domain", map[string]any{"domain_id": "d-1"})
	require.Error(t, err)
	code, ok := epuerrors.GetCode(err)
	require.True(t, ok)
	assert.Equal(t, epuerrors.CodeNotFound, code)
}

func TestFireIgnoresReplyButSurfacesTransportError(t *testing.T) {
	srv := NewServer(nil)
	srv.Register("controller", "heartbeat", func(ctx context.Context, caller string, kwargs map[string]any) (map[string]any, error) {
		return map[string]any{"ignored": "value"}, nil
	})
	addr, stop := startServer(t, srv)
	defer stop()

	client, err := DialInsecure(addr, "node-1")
	require.NoError(t, err)
	defer client.Close()

	err = client.Fire(context.Background(), "controller", "heartbeat", map[string]any{"node_id": "node-1"})
	assert.NoError(t, err)

	err = client.Fire(context.Background(), "controller", "unregistered", map[string]any{"node_id": "node-1"})
	assert.Error(t, err)
}

func TestCallerIdentityReachesHandler(t *testing.T) {
	srv := NewServer(nil)
	var seenCaller string
	srv.Register("epum", "add_domain", func(ctx context.Context, caller string, kwargs map[string]any) (map[string]any, error) {
		seenCaller = caller
		return map[string]any{}, nil
	})
	addr, stop := startServer(t, srv)
	defer stop()

	client, err := DialInsecure(addr, "alice")
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Call(context.Background(), "epum", "add_domain", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "alice", seenCaller)
}

func TestUnregisterRemovesHandler(t *testing.T) {
	srv := NewServer(nil)
	srv.Register("controller", "sensor_info", func(ctx context.Context, caller string, kwargs map[string]any) (map[string]any, error) {
		return map[string]any{}, nil
	})
	srv.Unregister("controller", "sensor_info")
	addr, stop := startServer(t, srv)
	defer stop()

	client, err := DialInsecure(addr, "test-caller")
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Call(context.Background(), "controller", "sensor_info", nil)
	require.Error(t, err)
	st, ok := status.FromError(err)
	require.True(t, ok)
	assert.Equal(t, codes.Unimplemented, st.Code())
}
