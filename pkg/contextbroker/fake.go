package contextbroker

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/luispineda/epu/pkg/types"
)

// FakeClient is an in-memory Client for Provisioner tests.
type FakeClient struct {
	mu       sync.Mutex
	contexts map[string]*QueryResult

	// FailQuery, when set, is returned as an error from every Query call
	// for the given context ID until the entry is removed.
	FailQuery map[string]error
}

// NewFakeClient returns an empty fake context broker.
func NewFakeClient() *FakeClient {
	return &FakeClient{
		contexts:  make(map[string]*QueryResult),
		FailQuery: make(map[string]error),
	}
}

func (c *FakeClient) CreateContext(ctx context.Context) (types.ContextInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := uuid.NewString()
	c.contexts[id] = &QueryResult{Status: StatusPending, Nodes: map[string]NodeIdentity{}}
	return types.ContextInfo{
		URI:       fmt.Sprintf("fake://context/%s", id),
		ContextID: id,
		BrokerURI: "fake://broker",
	}, nil
}

func (c *FakeClient) Query(ctx context.Context, info types.ContextInfo) (QueryResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err, ok := c.FailQuery[info.ContextID]; ok {
		return QueryResult{}, err
	}

	result, ok := c.contexts[info.ContextID]
	if !ok {
		return QueryResult{}, fmt.Errorf("unknown context %s", info.ContextID)
	}
	return *result, nil
}

// AddNode simulates a node publishing its identity into a context with an
// OK outcome, marking the context OK once expectedCount nodes have checked
// in.
func (c *FakeClient) AddNode(contextID string, id NodeIdentity, expectedCount int) {
	c.AddNodeOutcome(contextID, id, OutcomeOK, expectedCount)
}

// AddNodeOutcome simulates a node checking in with a specific per-identity
// outcome (OK or ERROR), as real group contextualization does when one
// member fails while others succeed. The aggregate Status only flips to OK
// once expectedCount identities have reported, regardless of their
// individual outcomes.
func (c *FakeClient) AddNodeOutcome(contextID string, id NodeIdentity, outcome Outcome, expectedCount int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	result, ok := c.contexts[contextID]
	if !ok {
		return
	}
	id.Outcome = outcome
	result.Nodes[id.NodeID] = id
	if len(result.Nodes) >= expectedCount {
		result.Status = StatusOK
	}
}

// SetError marks a context permanently errored, as if the broker reported
// a membership failure, with every already-checked-in identity attributed
// an ERROR outcome.
func (c *FakeClient) SetError(contextID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	result, ok := c.contexts[contextID]
	if !ok {
		return
	}
	result.Status = StatusError
	for id, n := range result.Nodes {
		n.Outcome = OutcomeError
		result.Nodes[id] = n
	}
}
