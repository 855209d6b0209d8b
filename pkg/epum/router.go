package epum

import (
	"context"
	"encoding/json"

	epuerrors "github.com/luispineda/epu/pkg/errors"
	"github.com/luispineda/epu/pkg/rpc"
	"github.com/luispineda/epu/pkg/types"
)

// rpcTopic is the topic name every EPU Management operation registers
// under.
const rpcTopic = "epum"

// decodeInto round-trips kwargs through JSON into out, the same way the
// FSM decodes a Raft log entry's Data — kwargs already came off the wire
// as a map[string]any via structpb, so this is the cheapest way to land it
// on a typed struct without hand-writing a field-by-field decoder per
// operation.
func decodeInto(kwargs map[string]any, out any) error {
	data, err := json.Marshal(kwargs)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func structToMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// RegisterRPC binds every EPU Management operation from the external
// interfaces table to srv under the "epum" topic. Domain operations check
// caller against the target domain's owner inside the corresponding
// Manager method; domain-definition operations take no caller check;
// ou_heartbeat, instance_info and
// sensor_info are trusted and routed purely by node/queue ownership, since
// an OU Agent authenticates at the mTLS transport layer, not per-call.
func (m *Manager) RegisterRPC(srv *rpc.Server) {
	srv.Register(rpcTopic, "add_domain_definition", m.handleAddDomainDefinition)
	srv.Register(rpcTopic, "update_domain_definition", m.handleUpdateDomainDefinition)
	srv.Register(rpcTopic, "remove_domain_definition", m.handleRemoveDomainDefinition)
	srv.Register(rpcTopic, "list_domain_definitions", m.handleListDomainDefinitions)
	srv.Register(rpcTopic, "describe_domain_definition", m.handleDescribeDomainDefinition)

	srv.Register(rpcTopic, "add_domain", m.handleAddDomain)
	srv.Register(rpcTopic, "remove_domain", m.handleRemoveDomain)
	srv.Register(rpcTopic, "list_domains", m.handleListDomains)
	srv.Register(rpcTopic, "describe_domain", m.handleDescribeDomain)
	srv.Register(rpcTopic, "reconfigure_domain", m.handleReconfigureDomain)
	srv.Register(rpcTopic, "subscribe_domain", m.handleSubscribeDomain)
	srv.Register(rpcTopic, "unsubscribe_domain", m.handleUnsubscribeDomain)

	srv.Register(rpcTopic, "ou_heartbeat", m.handleOUHeartbeat)
	srv.Register(rpcTopic, "instance_info", m.handleInstanceInfo)
	srv.Register(rpcTopic, "sensor_info", m.handleSensorInfo)
}

func (m *Manager) handleAddDomainDefinition(ctx context.Context, caller string, kwargs map[string]any) (map[string]any, error) {
	var def types.DomainDefinition
	if err := decodeInto(kwargs, &def); err != nil {
		return nil, epuerrors.Invalid("decode domain definition: %v", err)
	}
	if err := m.AddDomainDefinition(&def); err != nil {
		return nil, err
	}
	out, err := structToMap(&def)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (m *Manager) handleUpdateDomainDefinition(ctx context.Context, caller string, kwargs map[string]any) (map[string]any, error) {
	var def types.DomainDefinition
	if err := decodeInto(kwargs, &def); err != nil {
		return nil, epuerrors.Invalid("decode domain definition: %v", err)
	}
	if err := m.UpdateDomainDefinition(&def); err != nil {
		return nil, err
	}
	return nil, nil
}

func (m *Manager) handleRemoveDomainDefinition(ctx context.Context, caller string, kwargs map[string]any) (map[string]any, error) {
	definitionID, _ := kwargs["definition_id"].(string)
	if definitionID == "" {
		return nil, epuerrors.Invalid("remove_domain_definition requires definition_id")
	}
	return nil, m.RemoveDomainDefinition(definitionID)
}

func (m *Manager) handleListDomainDefinitions(ctx context.Context, caller string, kwargs map[string]any) (map[string]any, error) {
	defs, err := m.ListDomainDefinitions()
	if err != nil {
		return nil, err
	}
	list := make([]any, 0, len(defs))
	for _, def := range defs {
		entry, err := structToMap(def)
		if err != nil {
			return nil, err
		}
		list = append(list, entry)
	}
	return map[string]any{"definitions": list}, nil
}

func (m *Manager) handleDescribeDomainDefinition(ctx context.Context, caller string, kwargs map[string]any) (map[string]any, error) {
	definitionID, _ := kwargs["definition_id"].(string)
	def, err := m.DescribeDomainDefinition(definitionID)
	if err != nil {
		return nil, epuerrors.NotFound("domain definition %s: %v", definitionID, err)
	}
	return structToMap(def)
}

func (m *Manager) handleAddDomain(ctx context.Context, caller string, kwargs map[string]any) (map[string]any, error) {
	domainID, _ := kwargs["domain_id"].(string)
	definitionID, _ := kwargs["definition_id"].(string)
	config, _ := kwargs["config"].(map[string]any)
	if domainID == "" || definitionID == "" {
		return nil, epuerrors.Invalid("add_domain requires domain_id and definition_id")
	}

	domain, err := m.AddDomain(ctx, caller, domainID, definitionID, config)
	if err != nil {
		return nil, err
	}
	return structToMap(domain)
}

func (m *Manager) handleRemoveDomain(ctx context.Context, caller string, kwargs map[string]any) (map[string]any, error) {
	domainID, _ := kwargs["domain_id"].(string)
	if domainID == "" {
		return nil, epuerrors.Invalid("remove_domain requires domain_id")
	}
	return nil, m.RemoveDomain(caller, domainID)
}

func (m *Manager) handleListDomains(ctx context.Context, caller string, kwargs map[string]any) (map[string]any, error) {
	domains, err := m.ListDomains(caller)
	if err != nil {
		return nil, err
	}
	list := make([]any, 0, len(domains))
	for _, domain := range domains {
		entry, err := structToMap(domain)
		if err != nil {
			return nil, err
		}
		list = append(list, entry)
	}
	return map[string]any{"domains": list}, nil
}

func (m *Manager) handleDescribeDomain(ctx context.Context, caller string, kwargs map[string]any) (map[string]any, error) {
	domainID, _ := kwargs["domain_id"].(string)
	domain, err := m.DescribeDomain(caller, domainID)
	if err != nil {
		return nil, err
	}
	return structToMap(domain)
}

func (m *Manager) handleReconfigureDomain(ctx context.Context, caller string, kwargs map[string]any) (map[string]any, error) {
	domainID, _ := kwargs["domain_id"].(string)
	config, _ := kwargs["config"].(map[string]any)
	if domainID == "" {
		return nil, epuerrors.Invalid("reconfigure_domain requires domain_id")
	}
	return nil, m.ReconfigureDomain(ctx, caller, domainID, config)
}

func (m *Manager) handleSubscribeDomain(ctx context.Context, caller string, kwargs map[string]any) (map[string]any, error) {
	domainID, _ := kwargs["domain_id"].(string)
	name, _ := kwargs["name"].(string)
	operation, _ := kwargs["operation"].(string)
	if domainID == "" || name == "" || operation == "" {
		return nil, epuerrors.Invalid("subscribe_domain requires domain_id, name, operation")
	}
	return nil, m.SubscribeDomain(caller, domainID, types.Subscriber{Name: name, Operation: operation})
}

func (m *Manager) handleUnsubscribeDomain(ctx context.Context, caller string, kwargs map[string]any) (map[string]any, error) {
	domainID, _ := kwargs["domain_id"].(string)
	name, _ := kwargs["name"].(string)
	operation, _ := kwargs["operation"].(string)
	if domainID == "" || name == "" || operation == "" {
		return nil, epuerrors.Invalid("unsubscribe_domain requires domain_id, name, operation")
	}
	return nil, m.UnsubscribeDomain(caller, domainID, types.Subscriber{Name: name, Operation: operation})
}

func (m *Manager) handleOUHeartbeat(ctx context.Context, caller string, kwargs map[string]any) (map[string]any, error) {
	var hb types.Heartbeat
	if err := decodeInto(kwargs, &hb); err != nil {
		return nil, epuerrors.Invalid("decode heartbeat: %v", err)
	}
	if hb.NodeID == "" {
		return nil, epuerrors.Invalid("ou_heartbeat requires node_id")
	}
	return nil, m.OUHeartbeat(hb)
}

func (m *Manager) handleInstanceInfo(ctx context.Context, caller string, kwargs map[string]any) (map[string]any, error) {
	nodeID, _ := kwargs["node_id"].(string)
	state, _ := kwargs["state"].(string)
	if nodeID == "" || state == "" {
		return nil, epuerrors.Invalid("instance_info requires node_id and state")
	}
	return nil, m.InstanceInfo(nodeID, types.InstanceState(state))
}

func (m *Manager) handleSensorInfo(ctx context.Context, caller string, kwargs map[string]any) (map[string]any, error) {
	return nil, m.SensorInfo(kwargs)
}
