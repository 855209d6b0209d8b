package storage

import (
	"context"
	"encoding/json"

	epuerrors "github.com/luispineda/epu/pkg/errors"
	"github.com/luispineda/epu/pkg/types"
	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store against a Redis keyspace, for deployments
// that want a networked store shared by several Provisioner processes
// instead of a local BoltDB file per process.
type RedisStore struct {
	client *redis.Client
	ctx    context.Context
}

// NewRedisStore connects to addr (host:port) and selects db.
func NewRedisStore(addr string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, epuerrors.Driver(err, "connect to redis at %s", addr)
	}
	return &RedisStore{client: client, ctx: ctx}, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func redisKey(prefix, id string) string { return prefix + ":" + id }

func (s *RedisStore) putJSON(prefix, id string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.client.Set(s.ctx, redisKey(prefix, id), data, 0).Err()
}

func (s *RedisStore) getJSON(prefix, id string, v any, notFoundMsg string) error {
	data, err := s.client.Get(s.ctx, redisKey(prefix, id)).Bytes()
	if err == redis.Nil {
		return epuerrors.NotFound("%s", notFoundMsg)
	}
	if err != nil {
		return epuerrors.Driver(err, "get %s", redisKey(prefix, id))
	}
	return json.Unmarshal(data, v)
}

func (s *RedisStore) listJSON(prefix string, newItem func() any) ([]any, error) {
	var keys []string
	iter := s.client.Scan(s.ctx, 0, prefix+":*", 0).Iterator()
	for iter.Next(s.ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, epuerrors.Driver(err, "list keys with prefix %s", prefix)
	}
	out := make([]any, 0, len(keys))
	for _, k := range keys {
		data, err := s.client.Get(s.ctx, k).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, epuerrors.Driver(err, "get %s", k)
		}
		item := newItem()
		if err := json.Unmarshal(data, item); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

const (
	prefixLaunch = "launch"
	prefixNode   = "node"
	prefixHealth = "health"
	prefixDomain = "domain"
	prefixDefn   = "domaindef"
	keyCA        = "ca"
)

func (s *RedisStore) CreateLaunch(launch *types.Launch) error {
	return s.putJSON(prefixLaunch, launch.LaunchID, launch)
}

func (s *RedisStore) GetLaunch(id string) (*types.Launch, error) {
	var v types.Launch
	if err := s.getJSON(prefixLaunch, id, &v, "launch "+id); err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *RedisStore) ListLaunches() ([]*types.Launch, error) {
	items, err := s.listJSON(prefixLaunch, func() any { return new(types.Launch) })
	if err != nil {
		return nil, err
	}
	out := make([]*types.Launch, len(items))
	for i, it := range items {
		out[i] = it.(*types.Launch)
	}
	return out, nil
}

func (s *RedisStore) UpdateLaunch(launch *types.Launch) error { return s.CreateLaunch(launch) }

func (s *RedisStore) CreateNode(node *types.Node) error {
	return s.putJSON(prefixNode, node.NodeID, node)
}

func (s *RedisStore) GetNode(id string) (*types.Node, error) {
	var v types.Node
	if err := s.getJSON(prefixNode, id, &v, "node "+id); err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *RedisStore) ListNodes() ([]*types.Node, error) {
	items, err := s.listJSON(prefixNode, func() any { return new(types.Node) })
	if err != nil {
		return nil, err
	}
	out := make([]*types.Node, len(items))
	for i, it := range items {
		out[i] = it.(*types.Node)
	}
	return out, nil
}

func (s *RedisStore) ListNodesByLaunch(launchID string) ([]*types.Node, error) {
	all, err := s.ListNodes()
	if err != nil {
		return nil, err
	}
	var out []*types.Node
	for _, n := range all {
		if n.LaunchID == launchID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (s *RedisStore) UpdateNode(node *types.Node) error { return s.CreateNode(node) }

func (s *RedisStore) GetHealthRecord(nodeID string) (*types.HealthRecord, error) {
	var v types.HealthRecord
	if err := s.getJSON(prefixHealth, nodeID, &v, "health record "+nodeID); err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *RedisStore) ListHealthRecords() ([]*types.HealthRecord, error) {
	items, err := s.listJSON(prefixHealth, func() any { return new(types.HealthRecord) })
	if err != nil {
		return nil, err
	}
	out := make([]*types.HealthRecord, len(items))
	for i, it := range items {
		out[i] = it.(*types.HealthRecord)
	}
	return out, nil
}

func (s *RedisStore) PutHealthRecord(rec *types.HealthRecord) error {
	return s.putJSON(prefixHealth, rec.NodeID, rec)
}

func (s *RedisStore) DeleteHealthRecord(nodeID string) error {
	return s.client.Del(s.ctx, redisKey(prefixHealth, nodeID)).Err()
}

func (s *RedisStore) CreateDomain(domain *types.Domain) error {
	return s.putJSON(prefixDomain, domain.DomainID, domain)
}

func (s *RedisStore) GetDomain(id string) (*types.Domain, error) {
	var v types.Domain
	if err := s.getJSON(prefixDomain, id, &v, "domain "+id); err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *RedisStore) ListDomains() ([]*types.Domain, error) {
	items, err := s.listJSON(prefixDomain, func() any { return new(types.Domain) })
	if err != nil {
		return nil, err
	}
	out := make([]*types.Domain, len(items))
	for i, it := range items {
		out[i] = it.(*types.Domain)
	}
	return out, nil
}

func (s *RedisStore) ListDomainsByOwner(owner string) ([]*types.Domain, error) {
	all, err := s.ListDomains()
	if err != nil {
		return nil, err
	}
	var out []*types.Domain
	for _, d := range all {
		if d.Owner == owner {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *RedisStore) UpdateDomain(domain *types.Domain) error { return s.CreateDomain(domain) }

func (s *RedisStore) DeleteDomain(id string) error {
	return s.client.Del(s.ctx, redisKey(prefixDomain, id)).Err()
}

func (s *RedisStore) CreateDomainDefinition(def *types.DomainDefinition) error {
	return s.putJSON(prefixDefn, def.DefinitionID, def)
}

func (s *RedisStore) GetDomainDefinition(id string) (*types.DomainDefinition, error) {
	var v types.DomainDefinition
	if err := s.getJSON(prefixDefn, id, &v, "domain definition "+id); err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *RedisStore) ListDomainDefinitions() ([]*types.DomainDefinition, error) {
	items, err := s.listJSON(prefixDefn, func() any { return new(types.DomainDefinition) })
	if err != nil {
		return nil, err
	}
	out := make([]*types.DomainDefinition, len(items))
	for i, it := range items {
		out[i] = it.(*types.DomainDefinition)
	}
	return out, nil
}

func (s *RedisStore) UpdateDomainDefinition(def *types.DomainDefinition) error {
	return s.CreateDomainDefinition(def)
}

func (s *RedisStore) DeleteDomainDefinition(id string) error {
	return s.client.Del(s.ctx, redisKey(prefixDefn, id)).Err()
}

func (s *RedisStore) SaveCA(data []byte) error {
	return s.client.Set(s.ctx, keyCA, data, 0).Err()
}

func (s *RedisStore) GetCA() ([]byte, error) {
	data, err := s.client.Get(s.ctx, keyCA).Bytes()
	if err == redis.Nil {
		return nil, epuerrors.NotFound("CA")
	}
	if err != nil {
		return nil, epuerrors.Driver(err, "get CA")
	}
	return data, nil
}
