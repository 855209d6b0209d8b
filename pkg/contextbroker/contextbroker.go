// Package contextbroker talks to the context broker a launch uses to
// coordinate group rendezvous: each node in a launch queries its context
// until every member of the group has checked in.
package contextbroker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	epuerrors "github.com/luispineda/epu/pkg/errors"
	"github.com/luispineda/epu/pkg/health"
	"github.com/luispineda/epu/pkg/types"
)

// Status is the aggregate state of a context's membership.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusOK      Status = "OK"
	StatusError   Status = "ERROR"
)

// QueryResult is what querying a context returns.
type QueryResult struct {
	Status Status
	Nodes  map[string]NodeIdentity
}

// Outcome is the per-identity verdict the broker attaches to a node once it
// has checked in: whether the node's own contextualization succeeded or
// failed. A node absent from QueryResult.Nodes has simply not reported yet.
type Outcome string

const (
	OutcomeOK    Outcome = "OK"
	OutcomeError Outcome = "ERROR"
)

// NodeIdentity is what one node has published into its context, plus the
// broker's per-identity outcome for it.
type NodeIdentity struct {
	NodeID    string  `json:"node_id"`
	PublicIP  string  `json:"public_ip"`
	PrivateIP string  `json:"private_ip"`
	Outcome   Outcome `json:"outcome"`
}

// Client is the contract the Provisioner depends on. An HTTP
// implementation and a test double both satisfy it.
type Client interface {
	CreateContext(ctx context.Context) (types.ContextInfo, error)
	Query(ctx context.Context, info types.ContextInfo) (QueryResult, error)
}

// HTTPClient talks to a real context broker over its REST API.
type HTTPClient struct {
	brokerURI string
	http      *http.Client
}

// NewHTTPClient builds a client pointed at the given broker URI.
func NewHTTPClient(brokerURI string) *HTTPClient {
	return &HTTPClient{
		brokerURI: brokerURI,
		http:      &http.Client{Timeout: 15 * time.Second},
	}
}

// Probe checks whether the context broker itself is reachable, for use
// by a readiness/startup check rather than the per-launch Query path.
func (c *HTTPClient) Probe(ctx context.Context) health.Result {
	checker := health.NewHTTPChecker(c.brokerURI + "/health").WithStatusRange(200, 299)
	return checker.Check(ctx)
}

func (c *HTTPClient) CreateContext(ctx context.Context) (types.ContextInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.brokerURI+"/contexts", nil)
	if err != nil {
		return types.ContextInfo{}, epuerrors.Broker(err, "build create-context request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return types.ContextInfo{}, epuerrors.Broker(err, "call context broker at %s", c.brokerURI)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return types.ContextInfo{}, epuerrors.Broker(fmt.Errorf("status %d", resp.StatusCode), "context broker unavailable")
	}
	if resp.StatusCode >= 400 {
		return types.ContextInfo{}, epuerrors.ContextNotFound("context broker rejected create: status %d", resp.StatusCode)
	}

	var body struct {
		URI       string `json:"uri"`
		ContextID string `json:"context_id"`
		Secret    string `json:"secret"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return types.ContextInfo{}, epuerrors.Broker(err, "decode create-context response")
	}

	return types.ContextInfo{
		URI:       body.URI,
		ContextID: body.ContextID,
		BrokerURI: c.brokerURI,
		Secret:    []byte(body.Secret),
	}, nil
}

func (c *HTTPClient) Query(ctx context.Context, info types.ContextInfo) (QueryResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, info.URI, nil)
	if err != nil {
		return QueryResult{}, epuerrors.Broker(err, "build query request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return QueryResult{}, epuerrors.Broker(err, "query context %s", info.ContextID)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return QueryResult{}, epuerrors.ContextNotFound("context %s no longer exists", info.ContextID)
	}
	if resp.StatusCode >= 500 {
		return QueryResult{}, epuerrors.Broker(fmt.Errorf("status %d", resp.StatusCode), "context broker unavailable")
	}

	var body struct {
		Status string                  `json:"status"`
		Nodes  map[string]NodeIdentity `json:"nodes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return QueryResult{}, epuerrors.Broker(err, "decode query response")
	}

	return QueryResult{Status: Status(body.Status), Nodes: body.Nodes}, nil
}

// publishIdentity is used by the OU Agent side to register a node's
// identity into its launch's context once it has booted. It lives here
// (rather than in pkg/ouagent) because it shares the same wire format as
// Query. secret, if non-empty, is the context's decrypted rendezvous
// secret and is sent as a bearer token so the broker can tell a genuine
// group member from a stranger guessing context IDs.
func publishIdentity(ctx context.Context, httpClient *http.Client, info types.ContextInfo, id NodeIdentity, secret []byte) error {
	payload, err := json.Marshal(id)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, info.URI+"/nodes/"+id.NodeID, bytes.NewReader(payload))
	if err != nil {
		return epuerrors.Broker(err, "build publish-identity request")
	}
	req.Header.Set("Content-Type", "application/json")
	if len(secret) > 0 {
		req.Header.Set("Authorization", "Bearer "+string(secret))
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return epuerrors.Broker(err, "publish identity to context %s", info.ContextID)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return epuerrors.Broker(fmt.Errorf("status %d", resp.StatusCode), "publish identity rejected")
	}
	return nil
}

// PublishIdentity publishes id into the context described by info using a
// default-configured HTTP client. secret is the context's decrypted
// rendezvous secret, or nil if the launch carries none.
func PublishIdentity(ctx context.Context, info types.ContextInfo, id NodeIdentity, secret []byte) error {
	return publishIdentity(ctx, &http.Client{Timeout: 10 * time.Second}, info, id, secret)
}
