/*
Package types defines the core data structures shared across the EPU control
plane: the Provisioner, the EPU Controller, EPU Management and the OU Agent
all exchange these types rather than owning private copies.

# Core types

  - InstanceState: the strictly ordered node lifecycle
  - Launch, Node: the Provisioner's authoritative records
  - HealthRecord, ProcessFailure, Heartbeat: the health monitor's inputs
  - Domain, DomainDefinition: EPU Management's registries

All types are JSON-serializable for storage and for the generic Struct
envelope used by the message RPC layer (see package rpc).
*/
package types
