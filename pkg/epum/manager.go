package epum

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"

	"github.com/luispineda/epu/pkg/events"
	"github.com/luispineda/epu/pkg/log"
	"github.com/luispineda/epu/pkg/metrics"
	"github.com/luispineda/epu/pkg/storage"
	"github.com/luispineda/epu/pkg/types"
)

// Factory builds the runtime for one domain from its Domain record and the
// DomainDefinition it references. A nil Factory is valid: Manager then
// only maintains the registry and never starts a Controller for a domain
// (useful for a registry-only node in a larger deployment).
type Factory func(domain *types.Domain, def *types.DomainDefinition) (*DomainRuntime, error)

// Manager owns the domain/domain-definition registry and the set of
// DomainRuntimes currently running in this process. Mutating operations
// authorize the caller against the target domain's Owner before
// submitting a Command, either directly to the FSM (non-HA) or through
// Raft (Bootstrap/Join).
//
// defaultUser is the one configured identity allowed to act on an unowned
// domain (Owner == ""), the exception spec.md's authorization rule
// carves out for administrative tooling.
type Manager struct {
	nodeID      string
	bindAddr    string
	dataDir     string
	store       storage.Store
	fsm         *FSM
	raft        *raft.Raft
	events      *events.Broker
	defaultUser string
	factory     Factory

	mu       sync.Mutex
	runtimes map[string]*DomainRuntime
}

// NewManager builds a Manager around store. nodeID/bindAddr/dataDir are
// only used if Bootstrap or Join is later called to turn this into a Raft
// voter; a Manager that never calls either applies Commands directly
// against the FSM, suitable for a single-process deployment.
func NewManager(nodeID, bindAddr, dataDir string, store storage.Store, broker *events.Broker, defaultUser string, factory Factory) *Manager {
	return &Manager{
		nodeID:      nodeID,
		bindAddr:    bindAddr,
		dataDir:     dataDir,
		store:       store,
		fsm:         NewFSM(store),
		events:      broker,
		defaultUser: defaultUser,
		factory:     factory,
		runtimes:    make(map[string]*DomainRuntime),
	}
}

func raftConfig(nodeID string) *raft.Config {
	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(nodeID)
	// Tuned for LAN/edge deployment rather than Raft's WAN-conservative
	// defaults.
	config.HeartbeatTimeout = 500 * time.Millisecond
	config.ElectionTimeout = 500 * time.Millisecond
	config.CommitTimeout = 50 * time.Millisecond
	config.LeaderLeaseTimeout = 250 * time.Millisecond
	return config
}

func (m *Manager) newRaft(bootstrap bool) error {
	config := raftConfig(m.nodeID)

	addr, err := net.ResolveTCPAddr("tcp", m.bindAddr)
	if err != nil {
		return fmt.Errorf("resolve bind address: %w", err)
	}
	transport, err := raft.NewTCPTransport(m.bindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return fmt.Errorf("create transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(m.dataDir, 2, os.Stderr)
	if err != nil {
		return fmt.Errorf("create snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(m.dataDir, "epum-raft-log.db"))
	if err != nil {
		return fmt.Errorf("create log store: %w", err)
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(m.dataDir, "epum-raft-stable.db"))
	if err != nil {
		return fmt.Errorf("create stable store: %w", err)
	}

	r, err := raft.NewRaft(config, m.fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return fmt.Errorf("create raft instance: %w", err)
	}
	m.raft = r

	if bootstrap {
		future := r.BootstrapCluster(raft.Configuration{
			Servers: []raft.Server{
				{ID: config.LocalID, Address: transport.LocalAddr()},
			},
		})
		if err := future.Error(); err != nil {
			return fmt.Errorf("bootstrap cluster: %w", err)
		}
	}
	return nil
}

// Bootstrap wires a single-node Raft instance around the FSM, as the first
// member of a new registry cluster.
func (m *Manager) Bootstrap() error {
	return m.newRaft(true)
}

// Join wires a Raft instance that expects to be added to an existing
// cluster via the leader's AddVoter, rather than bootstrapping a new one.
func (m *Manager) Join() error {
	return m.newRaft(false)
}

// IsLeader reports whether this node currently holds Raft leadership. A
// non-HA Manager (raft == nil) is always considered its own leader, since
// every Apply executes locally.
func (m *Manager) IsLeader() bool {
	if m.raft == nil {
		return true
	}
	return m.raft.State() == raft.Leader
}

// LeaderAddr returns the current Raft leader's address, or "" for a
// non-HA Manager.
func (m *Manager) LeaderAddr() string {
	if m.raft == nil {
		return ""
	}
	return string(m.raft.Leader())
}

// AddVoter adds a new server to the Raft cluster. Only the leader may call
// this.
func (m *Manager) AddVoter(nodeID, address string) error {
	if m.raft == nil {
		return fmt.Errorf("epum: raft not initialized")
	}
	if !m.IsLeader() {
		return fmt.Errorf("epum: not the leader, current leader: %s", m.LeaderAddr())
	}
	future := m.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(address), 0, 10*time.Second)
	return future.Error()
}

// RemoveServer removes a server from the Raft cluster. Only the leader may
// call this.
func (m *Manager) RemoveServer(nodeID string) error {
	if m.raft == nil {
		return fmt.Errorf("epum: raft not initialized")
	}
	if !m.IsLeader() {
		return fmt.Errorf("epum: not the leader, current leader: %s", m.LeaderAddr())
	}
	future := m.raft.RemoveServer(raft.ServerID(nodeID), 0, 10*time.Second)
	return future.Error()
}

// GetRaftStats reports Raft's current state for the metrics/debug surface.
func (m *Manager) GetRaftStats() map[string]any {
	if m.raft == nil {
		return nil
	}
	stats := map[string]any{
		"state":          m.raft.State().String(),
		"last_log_index": m.raft.LastIndex(),
		"applied_index":  m.raft.AppliedIndex(),
		"leader":         string(m.raft.Leader()),
	}
	peers := uint64(0)
	if configFuture := m.raft.GetConfiguration(); configFuture.Error() == nil {
		peers = uint64(len(configFuture.Configuration().Servers))
	}
	stats["peers"] = peers

	metrics.RaftAppliedIndex.Set(float64(m.raft.AppliedIndex()))
	metrics.RaftPeers.Set(float64(peers))
	if m.IsLeader() {
		metrics.RaftLeader.Set(1)
	} else {
		metrics.RaftLeader.Set(0)
	}
	return stats
}

// apply submits cmd either through Raft (if Bootstrap/Join was called) or
// directly against the FSM.
func (m *Manager) apply(cmd Command) error {
	if m.raft == nil {
		return m.fsm.ApplyCommand(cmd)
	}

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.RaftApplyDuration)

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	future := m.raft.Apply(data, 5*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("apply command: %w", err)
	}
	if resp := future.Response(); resp != nil {
		if err, ok := resp.(error); ok && err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) notify(t events.EventType, message string) {
	if m.events == nil {
		return
	}
	m.events.Publish(&events.Event{Type: t, Message: message})
}
