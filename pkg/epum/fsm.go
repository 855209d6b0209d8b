package epum

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/hashicorp/raft"

	"github.com/luispineda/epu/pkg/storage"
	"github.com/luispineda/epu/pkg/types"
)

// Command is one Raft log entry: an operation name plus its JSON-encoded
// argument, scoped to the domain registry.
type Command struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

const (
	opCreateDomain           = "create_domain"
	opUpdateDomain           = "update_domain"
	opDeleteDomain           = "delete_domain"
	opCreateDomainDefinition = "create_domain_definition"
	opUpdateDomainDefinition = "update_domain_definition"
	opDeleteDomainDefinition = "delete_domain_definition"
)

// FSM applies Commands to a storage.Store. It implements raft.FSM so a
// Manager can wire it behind a real Raft log, and also exposes ApplyCommand
// directly so a non-HA Manager can apply commands without one.
type FSM struct {
	mu    sync.RWMutex
	store storage.Store
}

// NewFSM builds a FSM over store.
func NewFSM(store storage.Store) *FSM {
	return &FSM{store: store}
}

// ApplyCommand executes one Command against the store. Shared by the
// direct (non-HA) Apply path and Apply, which is invoked once per
// committed Raft log entry.
func (f *FSM) ApplyCommand(cmd Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Op {
	case opCreateDomain:
		var domain types.Domain
		if err := json.Unmarshal(cmd.Data, &domain); err != nil {
			return err
		}
		return f.store.CreateDomain(&domain)

	case opUpdateDomain:
		var domain types.Domain
		if err := json.Unmarshal(cmd.Data, &domain); err != nil {
			return err
		}
		return f.store.UpdateDomain(&domain)

	case opDeleteDomain:
		var domainID string
		if err := json.Unmarshal(cmd.Data, &domainID); err != nil {
			return err
		}
		return f.store.DeleteDomain(domainID)

	case opCreateDomainDefinition:
		var def types.DomainDefinition
		if err := json.Unmarshal(cmd.Data, &def); err != nil {
			return err
		}
		return f.store.CreateDomainDefinition(&def)

	case opUpdateDomainDefinition:
		var def types.DomainDefinition
		if err := json.Unmarshal(cmd.Data, &def); err != nil {
			return err
		}
		return f.store.UpdateDomainDefinition(&def)

	case opDeleteDomainDefinition:
		var defID string
		if err := json.Unmarshal(cmd.Data, &defID); err != nil {
			return err
		}
		return f.store.DeleteDomainDefinition(defID)

	default:
		return fmt.Errorf("epum: unknown command %q", cmd.Op)
	}
}

// Apply implements raft.FSM: it decodes one committed log entry and applies
// it. The return value becomes future.Response() on the node that called
// raft.Apply.
func (f *FSM) Apply(log *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return fmt.Errorf("epum: unmarshal command: %w", err)
	}
	return f.ApplyCommand(cmd)
}

// registrySnapshot is the full registry state captured at one point in
// time, for Raft snapshot/restore.
type registrySnapshot struct {
	Domains           []*types.Domain           `json:"domains"`
	DomainDefinitions []*types.DomainDefinition `json:"domain_definitions"`
}

// Snapshot implements raft.FSM.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	domains, err := f.store.ListDomains()
	if err != nil {
		return nil, fmt.Errorf("list domains: %w", err)
	}
	defs, err := f.store.ListDomainDefinitions()
	if err != nil {
		return nil, fmt.Errorf("list domain definitions: %w", err)
	}

	return &registrySnapshot{Domains: domains, DomainDefinitions: defs}, nil
}

// Restore implements raft.FSM.
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snap registrySnapshot
	if err := json.NewDecoder(rc).Decode(&snap); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for _, domain := range snap.Domains {
		if err := f.store.CreateDomain(domain); err != nil {
			return fmt.Errorf("restore domain %s: %w", domain.DomainID, err)
		}
	}
	for _, def := range snap.DomainDefinitions {
		if err := f.store.CreateDomainDefinition(def); err != nil {
			return fmt.Errorf("restore domain definition %s: %w", def.DefinitionID, err)
		}
	}
	return nil
}

// Persist implements raft.FSMSnapshot.
func (s *registrySnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s); err != nil {
			return err
		}
		return sink.Close()
	}()
	if err != nil {
		sink.Cancel()
	}
	return err
}

// Release implements raft.FSMSnapshot.
func (s *registrySnapshot) Release() {}
