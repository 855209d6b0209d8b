// Package epum implements EPU Management: the Raft-replicated registry of
// Domains and Domain Definitions, and the per-domain runtime that owns a
// live Controller and health Monitor.
//
// The registry mutates through a FSM built on a Command{Op,Data} pattern,
// scoped to Domain and DomainDefinition only — Launches, Nodes and health
// records stay owned by the Provisioner/Controller's shared storage.Store,
// since EPU Management never needs Raft consensus over them (only the
// registry of domains that exist needs cluster-wide agreement; a domain's
// own Controller decides its own nodes unilaterally).
//
// A Manager can run without Raft (m.raft == nil): its apply method then
// executes commands directly against the FSM, which is how a single-process deployment and
// every test in this package use it. Bootstrap wires a real single-node
// Raft cluster around the same FSM for a HA deployment, and AddVoter grows
// it.
package epum
