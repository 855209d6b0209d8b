package epum

import (
	"context"
	"encoding/json"
	"time"

	epuerrors "github.com/luispineda/epu/pkg/errors"
	"github.com/luispineda/epu/pkg/events"
	"github.com/luispineda/epu/pkg/types"
)

// authorize enforces caller == owner, with one exception: defaultUser may
// act on a domain with no owner recorded. A populated owner always wins —
// defaultUser is not a superuser override, only a fallback for domains
// nothing else claims.
func (m *Manager) authorize(caller, owner string) error {
	if caller == owner {
		return nil
	}
	if owner == "" && m.defaultUser != "" && caller == m.defaultUser {
		return nil
	}
	return epuerrors.UserNotPermitted("caller %q is not permitted to act on a domain owned by %q", caller, owner)
}

// AddDomainDefinition registers a reusable template. Definitions carry no
// owner: any caller may create one, matching the data model's framing of
// a DomainDefinition as a shared template rather than a per-user resource.
func (m *Manager) AddDomainDefinition(def *types.DomainDefinition) error {
	now := time.Now()
	def.CreatedAt = now
	def.UpdatedAt = now

	data, err := json.Marshal(def)
	if err != nil {
		return err
	}
	return m.apply(Command{Op: opCreateDomainDefinition, Data: data})
}

// UpdateDomainDefinition replaces a definition's template/engine/health
// config. The change is not retroactive: it only affects domains created
// after the update, since a running DomainRuntime already holds its own
// Controller built from the definition as it stood at AddDomain time.
func (m *Manager) UpdateDomainDefinition(def *types.DomainDefinition) error {
	def.UpdatedAt = time.Now()
	data, err := json.Marshal(def)
	if err != nil {
		return err
	}
	return m.apply(Command{Op: opUpdateDomainDefinition, Data: data})
}

// RemoveDomainDefinition deletes a definition. It does not touch any
// domain already referencing it.
func (m *Manager) RemoveDomainDefinition(definitionID string) error {
	data, err := json.Marshal(definitionID)
	if err != nil {
		return err
	}
	return m.apply(Command{Op: opDeleteDomainDefinition, Data: data})
}

// ListDomainDefinitions returns every registered definition.
func (m *Manager) ListDomainDefinitions() ([]*types.DomainDefinition, error) {
	return m.store.ListDomainDefinitions()
}

// DescribeDomainDefinition returns one definition by ID.
func (m *Manager) DescribeDomainDefinition(definitionID string) (*types.DomainDefinition, error) {
	return m.store.GetDomainDefinition(definitionID)
}

// AddDomain registers a new domain owned by caller and, if a Factory was
// configured, starts its DomainRuntime.
func (m *Manager) AddDomain(ctx context.Context, caller, domainID, definitionID string, config map[string]any) (*types.Domain, error) {
	def, err := m.store.GetDomainDefinition(definitionID)
	if err != nil {
		return nil, epuerrors.NotFound("domain definition %s: %v", definitionID, err)
	}

	now := time.Now()
	domain := &types.Domain{
		DomainID:     domainID,
		Owner:        caller,
		DefinitionID: definitionID,
		Config:       config,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	data, err := json.Marshal(domain)
	if err != nil {
		return nil, err
	}
	if err := m.apply(Command{Op: opCreateDomain, Data: data}); err != nil {
		return nil, err
	}

	if m.factory != nil {
		rt, err := m.factory(domain, def)
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		m.runtimes[domainID] = rt
		m.mu.Unlock()
		rt.Start(ctx, DefaultDecideInterval, DefaultHealthSweepInterval)
	}

	m.notify(events.EventDomainAdded, domainID)
	return domain, nil
}

// RemoveDomain deletes a domain's registry record and stops its
// DomainRuntime, if one is running in this process.
func (m *Manager) RemoveDomain(caller, domainID string) error {
	domain, err := m.store.GetDomain(domainID)
	if err != nil {
		return epuerrors.NotFound("domain %s: %v", domainID, err)
	}
	if err := m.authorize(caller, domain.Owner); err != nil {
		return err
	}

	data, err := json.Marshal(domainID)
	if err != nil {
		return err
	}
	if err := m.apply(Command{Op: opDeleteDomain, Data: data}); err != nil {
		return err
	}

	m.mu.Lock()
	rt, ok := m.runtimes[domainID]
	delete(m.runtimes, domainID)
	m.mu.Unlock()
	if ok {
		rt.Stop()
	}

	m.notify(events.EventDomainRemoved, domainID)
	return nil
}

// ListDomains returns every domain caller owns, or every domain if caller
// is the configured default user.
func (m *Manager) ListDomains(caller string) ([]*types.Domain, error) {
	if m.defaultUser != "" && caller == m.defaultUser {
		return m.store.ListDomains()
	}
	return m.store.ListDomainsByOwner(caller)
}

// DescribeDomain returns one domain by ID, after checking caller owns it.
func (m *Manager) DescribeDomain(caller, domainID string) (*types.Domain, error) {
	domain, err := m.store.GetDomain(domainID)
	if err != nil {
		return nil, epuerrors.NotFound("domain %s: %v", domainID, err)
	}
	if err := m.authorize(caller, domain.Owner); err != nil {
		return nil, err
	}
	return domain, nil
}

// ReconfigureDomain applies a new config to a domain's registry record and,
// if its DomainRuntime is running here, to its live Controller.
func (m *Manager) ReconfigureDomain(ctx context.Context, caller, domainID string, config map[string]any) error {
	domain, err := m.store.GetDomain(domainID)
	if err != nil {
		return epuerrors.NotFound("domain %s: %v", domainID, err)
	}
	if err := m.authorize(caller, domain.Owner); err != nil {
		return err
	}

	domain.Config = config
	domain.UpdatedAt = time.Now()
	data, err := json.Marshal(domain)
	if err != nil {
		return err
	}
	if err := m.apply(Command{Op: opUpdateDomain, Data: data}); err != nil {
		return err
	}

	m.mu.Lock()
	rt, ok := m.runtimes[domainID]
	m.mu.Unlock()
	if ok {
		if _, err := rt.Reconfigure(ctx, config); err != nil {
			return err
		}
	}

	m.notify(events.EventDomainReconfig, domainID)
	return nil
}

// SubscribeDomain adds sub to a domain's subscriber list.
func (m *Manager) SubscribeDomain(caller, domainID string, sub types.Subscriber) error {
	domain, err := m.store.GetDomain(domainID)
	if err != nil {
		return epuerrors.NotFound("domain %s: %v", domainID, err)
	}
	if err := m.authorize(caller, domain.Owner); err != nil {
		return err
	}
	domain.Subscribers = append(domain.Subscribers, sub)
	domain.UpdatedAt = time.Now()
	data, err := json.Marshal(domain)
	if err != nil {
		return err
	}
	return m.apply(Command{Op: opUpdateDomain, Data: data})
}

// UnsubscribeDomain removes sub from a domain's subscriber list.
func (m *Manager) UnsubscribeDomain(caller, domainID string, sub types.Subscriber) error {
	domain, err := m.store.GetDomain(domainID)
	if err != nil {
		return epuerrors.NotFound("domain %s: %v", domainID, err)
	}
	if err := m.authorize(caller, domain.Owner); err != nil {
		return err
	}
	filtered := domain.Subscribers[:0]
	for _, s := range domain.Subscribers {
		if s != sub {
			filtered = append(filtered, s)
		}
	}
	domain.Subscribers = filtered
	domain.UpdatedAt = time.Now()
	data, err := json.Marshal(domain)
	if err != nil {
		return err
	}
	return m.apply(Command{Op: opUpdateDomain, Data: data})
}

// runtimeForNode resolves the DomainRuntime owning nodeID by walking
// node -> launch -> domain_id through the shared store, used to route
// trusted ou_heartbeat/instance_info messages without a caller check.
func (m *Manager) runtimeForNode(nodeID string) (*DomainRuntime, error) {
	node, err := m.store.GetNode(nodeID)
	if err != nil {
		return nil, epuerrors.NotFound("node %s: %v", nodeID, err)
	}
	launch, err := m.store.GetLaunch(node.LaunchID)
	if err != nil {
		return nil, epuerrors.NotFound("launch %s: %v", node.LaunchID, err)
	}

	m.mu.Lock()
	rt, ok := m.runtimes[launch.DomainID]
	m.mu.Unlock()
	if !ok {
		return nil, epuerrors.NotFound("no live controller for domain %s", launch.DomainID)
	}
	return rt, nil
}

// runtimeForQueue resolves the DomainRuntime listening on a sensor queue,
// used to route queue-length sensor_info samples, which carry no node_id.
func (m *Manager) runtimeForQueue(queueName string) (*DomainRuntime, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rt := range m.runtimes {
		if rt.queueName == queueName {
			return rt, nil
		}
	}
	return nil, epuerrors.NotFound("no domain listening on queue %s", queueName)
}

// OUHeartbeat routes a trusted heartbeat to the domain owning its node.
func (m *Manager) OUHeartbeat(hb types.Heartbeat) error {
	rt, err := m.runtimeForNode(hb.NodeID)
	if err != nil {
		return err
	}
	return rt.Heartbeat(hb)
}

// InstanceInfo routes a trusted instance-state transition to the domain
// owning its node.
func (m *Manager) InstanceInfo(nodeID string, state types.InstanceState) error {
	rt, err := m.runtimeForNode(nodeID)
	if err != nil {
		return err
	}
	rt.InstanceInfo(nodeID, state)
	return nil
}

// SensorInfo routes a trusted sensor sample: by node ownership if it
// carries node_id, otherwise by queue_name.
func (m *Manager) SensorInfo(content map[string]any) error {
	if nodeID, ok := content["node_id"].(string); ok {
		rt, err := m.runtimeForNode(nodeID)
		if err != nil {
			return err
		}
		rt.SensorInfo(content)
		return nil
	}
	if queueName, ok := content["queue_name"].(string); ok {
		rt, err := m.runtimeForQueue(queueName)
		if err != nil {
			return err
		}
		rt.SensorInfo(content)
		return nil
	}
	return epuerrors.Invalid("sensor_info carries neither node_id nor queue_name")
}
