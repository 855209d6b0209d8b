package storage

import (
	"github.com/luispineda/epu/pkg/types"
)

// Store defines the durable state each control-plane process needs to
// recover from a crash: "store plus idempotent IaaS calls" is the only
// source of truth a Provisioner or Controller keeps.
type Store interface {
	// Launches
	CreateLaunch(launch *types.Launch) error
	GetLaunch(id string) (*types.Launch, error)
	ListLaunches() ([]*types.Launch, error)
	UpdateLaunch(launch *types.Launch) error

	// Nodes
	CreateNode(node *types.Node) error
	GetNode(id string) (*types.Node, error)
	ListNodes() ([]*types.Node, error)
	ListNodesByLaunch(launchID string) ([]*types.Node, error)
	UpdateNode(node *types.Node) error

	// Health records
	GetHealthRecord(nodeID string) (*types.HealthRecord, error)
	ListHealthRecords() ([]*types.HealthRecord, error)
	PutHealthRecord(rec *types.HealthRecord) error
	DeleteHealthRecord(nodeID string) error

	// Domains (EPU Management)
	CreateDomain(domain *types.Domain) error
	GetDomain(id string) (*types.Domain, error)
	ListDomains() ([]*types.Domain, error)
	ListDomainsByOwner(owner string) ([]*types.Domain, error)
	UpdateDomain(domain *types.Domain) error
	DeleteDomain(id string) error

	// Domain definitions
	CreateDomainDefinition(def *types.DomainDefinition) error
	GetDomainDefinition(id string) (*types.DomainDefinition, error)
	ListDomainDefinitions() ([]*types.DomainDefinition, error)
	UpdateDomainDefinition(def *types.DomainDefinition) error
	DeleteDomainDefinition(id string) error

	// Certificate Authority
	SaveCA(data []byte) error
	GetCA() ([]byte, error)

	// Utility
	Close() error
}
