package storage

import (
	"encoding/json"
	"path/filepath"

	epuerrors "github.com/luispineda/epu/pkg/errors"
	"github.com/luispineda/epu/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketLaunches          = []byte("launches")
	bucketNodes             = []byte("nodes")
	bucketHealthRecords     = []byte("health_records")
	bucketDomains           = []byte("domains")
	bucketDomainDefinitions = []byte("domain_definitions")
	bucketCA                = []byte("ca")
)

// BoltStore implements Store on top of a local BoltDB file. It backs a
// single node process; EPU Management's registries live in the same Store,
// written through the Raft FSM when running with --ha (see pkg/epum).
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) a BoltDB-backed store rooted at
// dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "epu.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, epuerrors.Driver(err, "open store at %s", dbPath)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketLaunches,
			bucketNodes,
			bucketHealthRecords,
			bucketDomains,
			bucketDomainDefinitions,
			bucketCA,
		}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return epuerrors.Driver(err, "create bucket %s", bucket)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func put(tx *bolt.Tx, bucket []byte, key string, v any) error {
	b := tx.Bucket(bucket)
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put([]byte(key), data)
}

// --- Launch operations ---

func (s *BoltStore) CreateLaunch(launch *types.Launch) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketLaunches, launch.LaunchID, launch)
	})
}

func (s *BoltStore) GetLaunch(id string) (*types.Launch, error) {
	var launch types.Launch
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketLaunches).Get([]byte(id))
		if data == nil {
			return epuerrors.NotFound("launch %s", id)
		}
		return json.Unmarshal(data, &launch)
	})
	if err != nil {
		return nil, err
	}
	return &launch, nil
}

func (s *BoltStore) ListLaunches() ([]*types.Launch, error) {
	var launches []*types.Launch
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketLaunches).ForEach(func(k, v []byte) error {
			var launch types.Launch
			if err := json.Unmarshal(v, &launch); err != nil {
				return err
			}
			launches = append(launches, &launch)
			return nil
		})
	})
	return launches, err
}

func (s *BoltStore) UpdateLaunch(launch *types.Launch) error {
	return s.CreateLaunch(launch) // upsert
}

// --- Node operations ---

func (s *BoltStore) CreateNode(node *types.Node) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketNodes, node.NodeID, node)
	})
}

func (s *BoltStore) GetNode(id string) (*types.Node, error) {
	var node types.Node
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketNodes).Get([]byte(id))
		if data == nil {
			return epuerrors.NotFound("node %s", id)
		}
		return json.Unmarshal(data, &node)
	})
	if err != nil {
		return nil, err
	}
	return &node, nil
}

func (s *BoltStore) ListNodes() ([]*types.Node, error) {
	var nodes []*types.Node
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNodes).ForEach(func(k, v []byte) error {
			var node types.Node
			if err := json.Unmarshal(v, &node); err != nil {
				return err
			}
			nodes = append(nodes, &node)
			return nil
		})
	})
	return nodes, err
}

func (s *BoltStore) ListNodesByLaunch(launchID string) ([]*types.Node, error) {
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

func (s *BoltStore) UpdateNode(node *types.Node) error {
	return s.CreateNode(node) // upsert
}

// --- Health record operations ---

func (s *BoltStore) GetHealthRecord(nodeID string) (*types.HealthRecord, error) {
	var rec types.HealthRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketHealthRecords).Get([]byte(nodeID))
		if data == nil {
			return epuerrors.NotFound("health record %s", nodeID)
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *BoltStore) ListHealthRecords() ([]*types.HealthRecord, error) {
	var recs []*types.HealthRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketHealthRecords).ForEach(func(k, v []byte) error {
			var rec types.HealthRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			recs = append(recs, &rec)
			return nil
		})
	})
	return recs, err
}

func (s *BoltStore) PutHealthRecord(rec *types.HealthRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketHealthRecords, rec.NodeID, rec)
	})
}

func (s *BoltStore) DeleteHealthRecord(nodeID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketHealthRecords).Delete([]byte(nodeID))
	})
}

// --- Domain operations ---

func (s *BoltStore) CreateDomain(domain *types.Domain) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketDomains, domain.DomainID, domain)
	})
}

func (s *BoltStore) GetDomain(id string) (*types.Domain, error) {
	var domain types.Domain
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketDomains).Get([]byte(id))
		if data == nil {
			return epuerrors.NotFound("domain %s", id)
		}
		return json.Unmarshal(data, &domain)
	})
	if err != nil {
		return nil, err
	}
	return &domain, nil
}

func (s *BoltStore) ListDomains() ([]*types.Domain, error) {
	var domains []*types.Domain
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDomains).ForEach(func(k, v []byte) error {
			var domain types.Domain
			if err := json.Unmarshal(v, &domain); err != nil {
				return err
			}
			domains = append(domains, &domain)
			return nil
		})
	})
	return domains, err
}

func (s *BoltStore) ListDomainsByOwner(owner string) ([]*types.Domain, error) {
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

func (s *BoltStore) UpdateDomain(domain *types.Domain) error {
	return s.CreateDomain(domain) // upsert
}

func (s *BoltStore) DeleteDomain(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDomains).Delete([]byte(id))
	})
}

// --- Domain definition operations ---

func (s *BoltStore) CreateDomainDefinition(def *types.DomainDefinition) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketDomainDefinitions, def.DefinitionID, def)
	})
}

func (s *BoltStore) GetDomainDefinition(id string) (*types.DomainDefinition, error) {
	var def types.DomainDefinition
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketDomainDefinitions).Get([]byte(id))
		if data == nil {
			return epuerrors.NotFound("domain definition %s", id)
		}
		return json.Unmarshal(data, &def)
	})
	if err != nil {
		return nil, err
	}
	return &def, nil
}

func (s *BoltStore) ListDomainDefinitions() ([]*types.DomainDefinition, error) {
	var defs []*types.DomainDefinition
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDomainDefinitions).ForEach(func(k, v []byte) error {
			var def types.DomainDefinition
			if err := json.Unmarshal(v, &def); err != nil {
				return err
			}
			defs = append(defs, &def)
			return nil
		})
	})
	return defs, err
}

func (s *BoltStore) UpdateDomainDefinition(def *types.DomainDefinition) error {
	return s.CreateDomainDefinition(def) // upsert
}

func (s *BoltStore) DeleteDomainDefinition(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDomainDefinitions).Delete([]byte(id))
	})
}

// --- Certificate Authority operations ---

func (s *BoltStore) SaveCA(data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCA).Put([]byte("ca"), data)
	})
}

func (s *BoltStore) GetCA() ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		stored := tx.Bucket(bucketCA).Get([]byte("ca"))
		if stored == nil {
			return epuerrors.NotFound("CA")
		}
		data = make([]byte, len(stored))
		copy(data, stored)
		return nil
	})
	return data, err
}
