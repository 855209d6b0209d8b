package controller

import (
	"sync"
	"time"

	"github.com/luispineda/epu/pkg/types"
)

// StateItem is one timestamped observation a decision engine can read
// back out of State — an instance-state transition or a queue length
// sample.
type StateItem struct {
	Key       string
	Value     any
	Timestamp time.Time
}

// State is the Controller's sensor/heartbeat inbox: instance-state and
// queue-length reports append to it, a node's health classification
// replaces the previous one, and decision engines read the accumulated
// buckets from Decide/Reconfigure. It is safe for concurrent
// use, since sensor updates can arrive while a decide cycle is running.
type State struct {
	mu sync.RWMutex

	instanceStates map[string][]StateItem // keyed by node_id
	queueLengths   map[string][]StateItem // keyed by queue_name
	health         map[string]types.HealthState
}

// NewState returns an empty State.
func NewState() *State {
	return &State{
		instanceStates: make(map[string][]StateItem),
		queueLengths:   make(map[string][]StateItem),
		health:         make(map[string]types.HealthState),
	}
}

// NewInstanceState records a node's latest reported instance state.
func (s *State) NewInstanceState(nodeID string, state types.InstanceState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instanceStates[nodeID] = append(s.instanceStates[nodeID], StateItem{
		Key: nodeID, Value: state, Timestamp: time.Now(),
	})
}

// NewQueueLength records a queue-length sample.
func (s *State) NewQueueLength(queueName string, length int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queueLengths[queueName] = append(s.queueLengths[queueName], StateItem{
		Key: queueName, Value: length, Timestamp: time.Now(),
	})
}

// NewHealth records a node's latest health classification.
func (s *State) NewHealth(nodeID string, health types.HealthState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.health[nodeID] = health
}

// InstanceState returns the most recent instance state reported for a
// node, and whether any has been reported yet.
func (s *State) InstanceState(nodeID string) (types.InstanceState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := s.instanceStates[nodeID]
	if len(items) == 0 {
		return "", false
	}
	return items[len(items)-1].Value.(types.InstanceState), true
}

// AllInstanceStates returns the most recent instance state of every node
// that has reported one.
func (s *State) AllInstanceStates() map[string]types.InstanceState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]types.InstanceState, len(s.instanceStates))
	for nodeID, items := range s.instanceStates {
		if len(items) > 0 {
			out[nodeID] = items[len(items)-1].Value.(types.InstanceState)
		}
	}
	return out
}

// QueueLength returns the most recent sample for a queue, and whether any
// has been reported yet.
func (s *State) QueueLength(queueName string) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := s.queueLengths[queueName]
	if len(items) == 0 {
		return 0, false
	}
	return items[len(items)-1].Value.(int), true
}

// Health returns a node's last known health classification, defaulting to
// HealthUnknown.
func (s *State) Health(nodeID string) types.HealthState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if h, ok := s.health[nodeID]; ok {
		return h
	}
	return types.HealthUnknown
}

// CountByState returns how many nodes currently report each distinct
// instance state — the input a decision engine most often wants.
func (s *State) CountByState() map[types.InstanceState]int {
	counts := make(map[types.InstanceState]int)
	for _, state := range s.AllInstanceStates() {
		counts[state]++
	}
	return counts
}
