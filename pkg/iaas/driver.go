// Package iaas defines the pluggable driver contract the Provisioner uses
// to talk to a compute site, and the concrete drivers it ships with.
package iaas

import (
	"context"
	"time"
)

// NodeSpec describes what to launch. NodeID is the caller-chosen
// idempotency token: calling CreateNode twice with the same NodeID must
// return the existing instance instead of creating a second one, so the
// Provisioner can safely retry a call it's unsure completed.
type NodeSpec struct {
	NodeID         string
	Site           string
	Allocation     string
	DeployableType string
	UserData       string // cloud-init / boot script rendered from the cluster document
}

// NodeStatus is a driver's view of one instance.
type NodeStatus string

const (
	NodeStatusPending    NodeStatus = "pending"
	NodeStatusRunning    NodeStatus = "running"
	NodeStatusTerminated NodeStatus = "terminated"
	NodeStatusError      NodeStatus = "error"
)

// NodeInfo is what a driver reports back about one instance.
type NodeInfo struct {
	NodeID    string
	IaaSID    string
	Status    NodeStatus
	PublicIP  string
	PrivateIP string
	Launched  time.Time
}

// Driver is the contract every IaaS backend implements. Every method must
// be idempotent on NodeID: a Provisioner recovering from a crash replays
// the same call without knowing whether the prior attempt reached the
// backend.
type Driver interface {
	// Site is the identifier this driver answers for (matches
	// NodeRequest.Site / Node.Site).
	Site() string

	// CreateNode launches (or returns the existing) instance for spec.NodeID.
	CreateNode(ctx context.Context, spec NodeSpec) (*NodeInfo, error)

	// ListNodes returns every instance the driver currently knows about.
	ListNodes(ctx context.Context) ([]*NodeInfo, error)

	// DestroyNode terminates the instance for nodeID. Destroying an
	// already-terminated or unknown nodeID is not an error.
	DestroyNode(ctx context.Context, nodeID string) error
}
