package epum

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luispineda/epu/pkg/storage"
	"github.com/luispineda/epu/pkg/types"
)

func newTestManager(t *testing.T, defaultUser string, factory Factory) (*Manager, storage.Store) {
	dir := t.TempDir()
	store, err := storage.NewBoltStore(dir)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return NewManager("node-1", "127.0.0.1:0", dir, store, nil, defaultUser, factory), store
}

func TestManagerIsLeaderWithoutRaft(t *testing.T) {
	m, _ := newTestManager(t, "", nil)
	assert.True(t, m.IsLeader())
	assert.Empty(t, m.LeaderAddr())
}

func TestAddDomainDefinitionThenDescribe(t *testing.T) {
	m, _ := newTestManager(t, "", nil)

	def := &types.DomainDefinition{DefinitionID: "def-1", EngineClass: "fixed_size"}
	require.NoError(t, m.AddDomainDefinition(def))

	got, err := m.DescribeDomainDefinition("def-1")
	require.NoError(t, err)
	assert.Equal(t, "fixed_size", got.EngineClass)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestUpdateDomainDefinitionIsNotRetroactive(t *testing.T) {
	m, _ := newTestManager(t, "", nil)
	def := &types.DomainDefinition{DefinitionID: "def-1", EngineClass: "fixed_size"}
	require.NoError(t, m.AddDomainDefinition(def))

	domain, err := m.AddDomain(context.Background(), "alice", "dom-1", "def-1", map[string]any{"size": float64(2)})
	require.NoError(t, err)
	require.Equal(t, "def-1", domain.DefinitionID)

	updated := &types.DomainDefinition{DefinitionID: "def-1", EngineClass: "custom_engine"}
	require.NoError(t, m.UpdateDomainDefinition(updated))

	got, err := m.DescribeDomainDefinition("def-1")
	require.NoError(t, err)
	assert.Equal(t, "custom_engine", got.EngineClass)

	// dom-1's own record is untouched: the definition update affects only
	// domains created after it, not this already-running one.
	existing, err := m.DescribeDomain("alice", "dom-1")
	require.NoError(t, err)
	assert.Equal(t, "def-1", existing.DefinitionID)
}

func TestRemoveDomainDefinitionListEmpty(t *testing.T) {
	m, _ := newTestManager(t, "", nil)
	require.NoError(t, m.AddDomainDefinition(&types.DomainDefinition{DefinitionID: "def-1"}))
	require.NoError(t, m.RemoveDomainDefinition("def-1"))

	defs, err := m.ListDomainDefinitions()
	require.NoError(t, err)
	assert.Empty(t, defs)
}
