package schema

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/memorybank/internal/errors"
	"github.com/rohankatakam/memorybank/internal/models"
)

// memStore is an in-memory Store for registry tests.
type memStore struct {
	mu      sync.Mutex
	schemas map[string][]*models.NodeSchema
}

func newMemStore() *memStore {
	return &memStore{schemas: make(map[string][]*models.NodeSchema)}
}

func (m *memStore) GetNodeSchema(_ context.Context, nodeType string, version int) (*models.NodeSchema, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.schemas[nodeType] {
		if s.Version == version {
			return s, nil
		}
	}
	return nil, errors.Newf(errors.KindNotFound, "schema %s@%d not found", nodeType, version)
}

func (m *memStore) LatestNodeSchema(_ context.Context, nodeType string) (*models.NodeSchema, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	versions := m.schemas[nodeType]
	if len(versions) == 0 {
		return nil, errors.Newf(errors.KindNotFound, "no schema for %s", nodeType)
	}
	return versions[len(versions)-1], nil
}

func (m *memStore) ListNodeSchemas(_ context.Context) ([]*models.NodeSchema, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.NodeSchema
	for _, versions := range m.schemas {
		out = append(out, versions[len(versions)-1])
	}
	return out, nil
}

func (m *memStore) InsertNodeSchema(_ context.Context, s *models.NodeSchema) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.schemas[s.NodeType] {
		if existing.Version == s.Version {
			return errors.Newf(errors.KindDuplicate, "schema %s@%d exists", s.NodeType, s.Version)
		}
	}
	m.schemas[s.NodeType] = append(m.schemas[s.NodeType], s)
	return nil
}

func TestEnsureSeedsRegistersBuiltins(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(newMemStore())

	require.NoError(t, r.EnsureSeeds(ctx))

	for _, nodeType := range SeedTypes() {
		ns, err := r.Get(ctx, nodeType, nil)
		require.NoError(t, err, "seed type %s", nodeType)
		assert.Equal(t, 1, ns.Version)
	}

	// Second run leaves versions untouched.
	require.NoError(t, r.EnsureSeeds(ctx))
	ns, err := r.Get(ctx, "task", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, ns.Version)
}

func TestSeedTypesIncludeCoreSet(t *testing.T) {
	types := SeedTypes()
	for _, want := range []string{"task", "project", "doc", "knowledge", "bug", "epic", "log"} {
		assert.Contains(t, types, want)
	}
}

func TestRegisterIncrementsVersion(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(newMemStore())

	def := json.RawMessage(`{"type":"object","properties":{"note":{"type":"string"}}}`)
	v1, err := r.Register(ctx, "scratch", def)
	require.NoError(t, err)
	assert.Equal(t, 1, v1.Version)

	v2, err := r.Register(ctx, "scratch", def)
	require.NoError(t, err)
	assert.Equal(t, 2, v2.Version)

	latest, err := r.Get(ctx, "scratch", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Version)

	one := 1
	old, err := r.Get(ctx, "scratch", &one)
	require.NoError(t, err)
	assert.Equal(t, 1, old.Version)
}

func TestRegisterVersion(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(newMemStore())

	def := json.RawMessage(`{"type":"object","properties":{"note":{"type":"string"}}}`)
	first, err := r.RegisterVersion(ctx, "scratch", 1, def)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Version)

	// Re-registering an equivalent document is a no-op, whitespace and key
	// order notwithstanding.
	same := json.RawMessage(`{
		"properties": {"note": {"type": "string"}},
		"type": "object"
	}`)
	again, err := r.RegisterVersion(ctx, "scratch", 1, same)
	require.NoError(t, err)
	assert.Equal(t, first, again)

	// A different document at the same version is a conflict.
	other := json.RawMessage(`{"type":"object","properties":{"note":{"type":"integer"}}}`)
	_, err = r.RegisterVersion(ctx, "scratch", 1, other)
	require.Error(t, err)
	assert.Equal(t, errors.KindSchemaConflict, errors.KindOf(err))
	assert.Equal(t, 1, errors.DetailsOf(err)["schema_version"])

	// A fresh version slots in alongside.
	v3, err := r.RegisterVersion(ctx, "scratch", 3, other)
	require.NoError(t, err)
	assert.Equal(t, 3, v3.Version)

	_, err = r.RegisterVersion(ctx, "scratch", 0, def)
	require.Error(t, err)
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))
}

func TestRegisterRejectsBadSchema(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(newMemStore())

	_, err := r.Register(ctx, "broken", json.RawMessage(`{"type": 42}`))
	require.Error(t, err)
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))

	_, err = r.Register(ctx, "", json.RawMessage(`{"type":"object"}`))
	require.Error(t, err)
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))
}

func TestValidateMetadata(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(newMemStore())
	require.NoError(t, r.EnsureSeeds(ctx))

	t.Run("valid task metadata", func(t *testing.T) {
		version, err := r.ValidateMetadata(ctx, "task", nil, map[string]any{
			"title":    "write report",
			"status":   "in_progress",
			"priority": "high",
		})
		require.NoError(t, err)
		assert.Equal(t, 1, version)
	})

	t.Run("empty metadata validates", func(t *testing.T) {
		_, err := r.ValidateMetadata(ctx, "task", nil, nil)
		assert.NoError(t, err)
	})

	t.Run("enum violation", func(t *testing.T) {
		_, err := r.ValidateMetadata(ctx, "task", nil, map[string]any{
			"priority": "ultra",
		})
		require.Error(t, err)
		assert.Equal(t, errors.KindValidation, errors.KindOf(err))
		paths, ok := errors.DetailsOf(err)["paths"].([]string)
		require.True(t, ok, "details carry instance paths")
		assert.Contains(t, paths, "/priority")
	})

	t.Run("wrong type for field", func(t *testing.T) {
		_, err := r.ValidateMetadata(ctx, "knowledge", nil, map[string]any{
			"confidence": "very",
		})
		require.Error(t, err)
		assert.Equal(t, errors.KindValidation, errors.KindOf(err))
	})

	t.Run("unknown node type", func(t *testing.T) {
		_, err := r.ValidateMetadata(ctx, "ghost", nil, nil)
		require.Error(t, err)
		assert.Equal(t, errors.KindUnknownType, errors.KindOf(err))
	})
}

// racingStore claims the next version between the registry's read and write.
type racingStore struct {
	*memStore
}

func (r *racingStore) InsertNodeSchema(ctx context.Context, s *models.NodeSchema) error {
	shadow := *s
	if err := r.memStore.InsertNodeSchema(ctx, &shadow); err != nil {
		return err
	}
	return r.memStore.InsertNodeSchema(ctx, s)
}

func TestRegisterConflictOnRace(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(&racingStore{newMemStore()})

	_, err := r.Register(ctx, "race", json.RawMessage(`{"type":"object"}`))
	require.Error(t, err)
	assert.Equal(t, errors.KindSchemaConflict, errors.KindOf(err))
	assert.Equal(t, "race", errors.DetailsOf(err)["node_type"])
}
