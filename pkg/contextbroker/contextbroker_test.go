package contextbroker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luispineda/epu/pkg/types"
)

func TestHTTPClientCreateContext(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/contexts", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"uri":        srv.URL + "/contexts/ctx-1",
			"context_id": "ctx-1",
			"secret":     "s3cr3t",
		})
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL)
	info, err := client.CreateContext(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ctx-1", info.ContextID)
	assert.Equal(t, []byte("s3cr3t"), info.Secret)
}

func TestHTTPClientQueryNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL)
	_, err := client.Query(context.Background(), types.ContextInfo{URI: srv.URL, ContextID: "ctx-1"})
	require.Error(t, err)
}

func TestHTTPClientProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL)
	result := client.Probe(context.Background())
	assert.True(t, result.Healthy)
}

func TestFakeClientCreateAndQuery(t *testing.T) {
	fake := NewFakeClient()
	info, err := fake.CreateContext(context.Background())
	require.NoError(t, err)

	result, err := fake.Query(context.Background(), info)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, result.Status)

	fake.AddNode(info.ContextID, NodeIdentity{NodeID: "n1"}, 1)
	result, err = fake.Query(context.Background(), info)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, result.Status)
}

func TestFakeClientSetError(t *testing.T) {
	fake := NewFakeClient()
	info, err := fake.CreateContext(context.Background())
	require.NoError(t, err)

	fake.SetError(info.ContextID)
	result, err := fake.Query(context.Background(), info)
	require.NoError(t, err)
	assert.Equal(t, StatusError, result.Status)
}
