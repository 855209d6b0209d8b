/*
Package storage provides BoltDB- and Redis-backed state persistence for the EPU control plane's cluster data.

The storage package implements the Store interface, giving the Provisioner, Controller,
health monitor, and EPU Management layer a single durable source of truth for launches,
nodes, health records, domains, domain definitions, and certificate authority data.
BoltStore uses BoltDB (bbolt) for embedded, zero-dependency storage; RedisStore targets
deployments that already run Redis and want the state externalized from the node process.
Both backends serialize entities as JSON.

# Architecture

the EPU control plane uses BoltDB (bbolt) for embedded, transactional storage with zero
external dependencies, or Redis for deployments that prefer externalized state:

	┌──────────────────── STORAGE LAYER ───────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Store interface                  │          │
	│  │  Launches · Nodes · Health records          │          │
	│  │  Domains · Domain definitions · CA          │          │
	│  └──────┬─────────────────────────┬───────────┘          │
	│         │                         │                       │
	│  ┌──────▼─────────┐      ┌────────▼──────────┐          │
	│  │   BoltStore     │      │   RedisStore       │          │
	│  │  File: <dir>/   │      │  Keys: prefix:id   │          │
	│  │   epu.db        │      │  (launch, node,    │          │
	│  │  Buckets per    │      │   health, domain,  │          │
	│  │   entity type   │      │   domaindef, ca)   │          │
	│  └──────┬─────────┘      └────────┬──────────┘          │
	│         │                         │                       │
	│  ┌──────▼─────────┐      ┌────────▼──────────┐          │
	│  │ db.View/Update  │      │  go-redis client   │          │
	│  │ ACID, fsync     │      │  GET/SET/SCAN      │          │
	│  └────────────────┘      └────────────────────┘          │
	└────────────────────────────────────────────────────────┘

# Core Components

BoltStore:
  - Implements Store interface using BoltDB
  - Single database file per node process
  - Automatic bucket creation on initialization
  - Thread-safe via BoltDB's transaction model

RedisStore:
  - Implements Store interface using go-redis
  - Entities stored as JSON strings under "prefix:id" keys
  - ListX operations use SCAN with the bucket's prefix
  - Suited to HA deployments where node processes are stateless

Buckets (BoltStore) / key prefixes (RedisStore):
  - launches / launch: Launch records (provision requests and their node sets)
  - nodes / node: Individual node lifecycle records
  - health_records / health: Per-node HealthRecord (health monitor state)
  - domains / domain: EPU Management domain instances
  - domain_definitions / domaindef: EPU Management domain definitions (templates)
  - ca / ca: Certificate authority data (single entry)

Transaction Model (BoltStore):
  - Read transactions: db.View() - Concurrent, consistent snapshots
  - Write transactions: db.Update() - Serialized, atomic commits
  - Isolation: Snapshot isolation (MVCC)
  - Durability: fsync on commit ensures crash recovery

# CRUD Operations

Launch Operations:

Create Launch:
  - Insert launch metadata with ID as key
  - JSON serialization of the Launch struct

Get Launch:
  - Key lookup by launch ID
  - Returns error if not found

List Launches:
  - Full scan/cursor iteration over the launches bucket/prefix
  - Deserialize all entries to []*types.Launch

Update Launch:
  - Upsert operation (same storage path as Create)
  - Overwrites existing key with new value

Node Operations:

Create Node / Get Node / List Nodes:
  - Same upsert/lookup/scan pattern as launches

List Nodes By Launch:
  - Filter nodes by launch ID
  - Used by the provisioner core to track a launch's node set

Update Node:
  - Called frequently during state transitions (pending -> running -> terminated)
  - High write throughput operation

Health Record Operations:

Get/Put/Delete Health Record:
  - One record per node ID, keyed by node ID
  - Put Health Record is the health monitor's primary write path, called on
    every heartbeat and every missed-heartbeat sweep
  - Delete Health Record removes a node's record; the health monitor does
    not call it

Domain / Domain Definition Operations:

Create/Get/List/Update/Delete Domain:
  - Domains are keyed by domain ID
  - List Domains By Owner filters by the domain's owning identity

Create/Get/List/Update/Delete Domain Definition:
  - Domain definitions are keyed by definition ID
  - Definitions are templates referenced by one or more domains; updating
    a definition does not change domains already created from it

Certificate Authority:

SaveCA / GetCA:
  - Stores the PEM-encoded CA certificate and key as a single blob
  - No versioning; rotating the CA means SaveCA-ing a new blob

# Usage

Creating a BoltStore:

	store, err := storage.NewBoltStore("/var/lib/epu/node-1")
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

Creating a RedisStore:

	store, err := storage.NewRedisStore("localhost:6379", 0)
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

Launch and Node Operations:

	launch := &types.Launch{
		LaunchID: "launch-abc123",
		State:    types.LaunchPending,
	}
	err := store.CreateLaunch(launch)

	node := &types.Node{
		NodeID:   "node-xyz789",
		LaunchID: launch.LaunchID,
		State:    types.InstancePending,
	}
	err = store.CreateNode(node)

	// List nodes for a launch
	nodes, err := store.ListNodesByLaunch(launch.LaunchID)

	// Update node state
	node.State = types.InstanceRunning
	err = store.UpdateNode(node)

Health Record Operations:

	rec := &types.HealthRecord{
		NodeID: "node-xyz789",
		Health: types.HealthMissing,
	}
	err := store.PutHealthRecord(rec)

	rec, err = store.GetHealthRecord("node-xyz789")

	err = store.DeleteHealthRecord("node-xyz789")

Domain Operations:

	domain := &types.Domain{
		DomainID:     "domain-web",
		DefinitionID: "def-fixed-size",
		Owner:        "alice",
	}
	err := store.CreateDomain(domain)

	domains, err := store.ListDomainsByOwner("alice")

Certificate Authority:

	caData := []byte("PEM-encoded CA cert and key")
	err := store.SaveCA(caData)

	caData, err = store.GetCA()

# Integration Points

This package integrates with:

  - pkg/epum: Reads/writes the domain and domain-definition registry, and replicates
    writes through the Raft FSM when running with --ha
  - pkg/provisioner: Reads/writes launches and nodes
  - pkg/healthmonitor: Reads/writes health records
  - pkg/security: Persists CA data via SaveCA/GetCA
  - pkg/types: All entity definitions

# Design Patterns

Upsert Pattern:
  - Create and Update share the same underlying put
  - No separate "exists" check needed
  - Simplifies API and caller code

Error Wrapping:
  - A missing key is reported as a pkg/errors NotFound error, a backend
    failure as a pkg/errors Driver error carrying the operation and key

Filter Pattern:
  - ListNodesByLaunch/ListDomainsByOwner filter in memory (BoltStore) or via
    SCAN (RedisStore) rather than maintaining secondary indexes
  - Adequate at the node/domain counts a single EPU deployment handles

# Performance Characteristics

BoltStore:
  - Get by key: O(log n) via B+tree, typically < 1ms
  - List all: O(n) full scan, ~1ms per 1000 entries
  - Write: O(log n) for key, ~1-5ms with fsync
  - Serialized: Only one writer at a time (BoltDB limitation)

RedisStore:
  - Get/Put: single round trip, sub-millisecond on a local Redis
  - List: SCAN cursor, O(n) over matching keys
  - No local fsync cost; durability depends on Redis persistence configuration

Database File Size (BoltStore):
  - Empty: 32KB (header + initial pages)
  - Small deployment (10 nodes, a handful of domains): ~1MB
  - Growth: linear with node/launch/health-record count and history

# Troubleshooting

Database Locked (BoltStore):
  - Symptom: "database is locked" error
  - Cause: Another process has an exclusive lock on the same data directory
  - Solution: Ensure only one node process opens a given data directory

Database Corruption (BoltStore):
  - Symptom: "invalid database" or checksum errors
  - Cause: Unclean shutdown, disk failure
  - Solution: Restore from a Raft snapshot backup (in --ha deployments) or
    reprovision the node's state from scratch

Redis Connection Errors (RedisStore):
  - Symptom: CreateNode/GetNode return connection errors
  - Check: Redis reachable at the configured address, AUTH/ACL config correct

# Data Integrity

Transaction Guarantees (BoltStore):
  - Atomicity: All-or-nothing commits
  - Isolation: Snapshot reads, serialized writes
  - Durability: fsync ensures crash recovery

Backup and Restore (BoltStore):
  - Database is a single file (easy to copy)
  - Backup: copy the file while the database is closed, or use db.View()
  - In --ha deployments, Raft snapshots provide an additional replication path

# Security

File Permissions (BoltStore):
  - Database file: 0600 (owner read/write only)
  - Directory: 0700 (owner full access only)
  - Root or epu user only

Access Control:
  - No authentication within the database itself
  - Rely on OS file permissions (BoltStore) or Redis ACLs (RedisStore)
  - RPC layer provides the authorization boundary for cluster operators

# See Also

  - pkg/epum for Raft FSM integration
  - pkg/types for all entity definitions
  - pkg/provisioner for node/launch lifecycle tracking
  - pkg/healthmonitor for health-record tracking
  - BoltDB documentation: https://github.com/etcd-io/bbolt
  - ACID properties: https://en.wikipedia.org/wiki/ACID
*/
package storage
