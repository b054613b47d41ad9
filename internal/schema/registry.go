// Package schema manages versioned JSON Schema definitions for block types
// and validates block metadata against them. Definitions live in the
// node_schemas table; compiled schemas are cached per type and version.
package schema

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rohankatakam/memorybank/internal/errors"
	"github.com/rohankatakam/memorybank/internal/logging"
	"github.com/rohankatakam/memorybank/internal/models"
)

//go:embed seed/*.json
var seedFS embed.FS

// Store persists schema definitions. The dolt package provides the SQL
// implementation.
type Store interface {
	GetNodeSchema(ctx context.Context, nodeType string, version int) (*models.NodeSchema, error)
	LatestNodeSchema(ctx context.Context, nodeType string) (*models.NodeSchema, error)
	ListNodeSchemas(ctx context.Context) ([]*models.NodeSchema, error)
	InsertNodeSchema(ctx context.Context, s *models.NodeSchema) error
}

// Registry validates block metadata against registered type schemas.
type Registry struct {
	store  Store
	logger *slog.Logger

	mu       sync.RWMutex
	compiled map[string]*jsonschema.Schema
}

// NewRegistry creates a registry backed by store.
func NewRegistry(store Store) *Registry {
	return &Registry{
		store:    store,
		logger:   logging.Component("schema-registry"),
		compiled: make(map[string]*jsonschema.Schema),
	}
}

// Register stores def as the next version of nodeType's schema. The document
// must itself compile as a JSON Schema.
func (r *Registry) Register(ctx context.Context, nodeType string, def json.RawMessage) (*models.NodeSchema, error) {
	if strings.TrimSpace(nodeType) == "" {
		return nil, errors.New(errors.KindValidation, "node type cannot be empty")
	}
	if _, err := compile(nodeType, 0, def); err != nil {
		return nil, errors.Wrap(err, errors.KindValidation,
			fmt.Sprintf("schema for type %q does not compile", nodeType))
	}

	version := 1
	latest, err := r.store.LatestNodeSchema(ctx, nodeType)
	switch {
	case err == nil:
		version = latest.Version + 1
	case errors.HasKind(err, errors.KindNotFound):
		// First version for this type.
	default:
		return nil, err
	}

	ns := &models.NodeSchema{
		NodeType:   nodeType,
		Version:    version,
		Definition: def,
		CreatedAt:  time.Now().UTC(),
	}
	if err := r.store.InsertNodeSchema(ctx, ns); err != nil {
		if errors.HasKind(err, errors.KindDuplicate) {
			return nil, errors.Wrap(err, errors.KindSchemaConflict,
				fmt.Sprintf("schema version %d for type %q already registered", version, nodeType)).
				WithDetail("node_type", nodeType).
				WithDetail("schema_version", version)
		}
		return nil, err
	}

	r.logger.Info("schema registered", "node_type", nodeType, "schema_version", version)
	return ns, nil
}

// RegisterVersion stores def at an explicit version. Registering a version
// that already holds an equivalent definition is a no-op returning the stored
// row; a different definition at the same version is a SchemaConflict.
func (r *Registry) RegisterVersion(ctx context.Context, nodeType string, version int, def json.RawMessage) (*models.NodeSchema, error) {
	if strings.TrimSpace(nodeType) == "" {
		return nil, errors.New(errors.KindValidation, "node type cannot be empty")
	}
	if version < 1 {
		return nil, errors.New(errors.KindValidation, "schema version must be at least 1").
			WithDetail("schema_version", version)
	}
	if _, err := compile(nodeType, version, def); err != nil {
		return nil, errors.Wrap(err, errors.KindValidation,
			fmt.Sprintf("schema for type %q does not compile", nodeType))
	}

	existing, err := r.store.GetNodeSchema(ctx, nodeType, version)
	switch {
	case err == nil:
		if sameDefinition(existing.Definition, def) {
			return existing, nil
		}
		return nil, errors.New(errors.KindSchemaConflict,
			fmt.Sprintf("a different schema is already registered as %s@%d", nodeType, version)).
			WithDetail("node_type", nodeType).
			WithDetail("schema_version", version)
	case errors.HasKind(err, errors.KindNotFound):
	default:
		return nil, err
	}

	ns := &models.NodeSchema{
		NodeType:   nodeType,
		Version:    version,
		Definition: def,
		CreatedAt:  time.Now().UTC(),
	}
	if err := r.store.InsertNodeSchema(ctx, ns); err != nil {
		if errors.HasKind(err, errors.KindDuplicate) {
			return nil, errors.Wrap(err, errors.KindSchemaConflict,
				fmt.Sprintf("schema version %d for type %q already registered", version, nodeType)).
				WithDetail("node_type", nodeType).
				WithDetail("schema_version", version)
		}
		return nil, err
	}

	r.logger.Info("schema registered", "node_type", nodeType, "schema_version", version)
	return ns, nil
}

// sameDefinition compares two schema documents structurally, so formatting
// differences do not count as a conflict.
func sameDefinition(a, b json.RawMessage) bool {
	var av, bv any
	if err := json.Unmarshal(a, &av); err != nil {
		return false
	}
	if err := json.Unmarshal(b, &bv); err != nil {
		return false
	}
	return reflect.DeepEqual(av, bv)
}

// Get returns one schema. A nil version selects the latest; a type with no
// schema at all yields an UnknownType error.
func (r *Registry) Get(ctx context.Context, nodeType string, version *int) (*models.NodeSchema, error) {
	if version == nil {
		ns, err := r.store.LatestNodeSchema(ctx, nodeType)
		if errors.HasKind(err, errors.KindNotFound) {
			return nil, errors.New(errors.KindUnknownType,
				fmt.Sprintf("no schema registered for type %q", nodeType)).
				WithDetail("node_type", nodeType)
		}
		return ns, err
	}
	return r.store.GetNodeSchema(ctx, nodeType, *version)
}

// List returns the latest schema of every registered type.
func (r *Registry) List(ctx context.Context) ([]*models.NodeSchema, error) {
	return r.store.ListNodeSchemas(ctx)
}

// ValidateMetadata checks metadata against the schema for nodeType and
// returns the schema version it validated against. A nil version selects the
// latest. Violations come back as a Validation error carrying the offending
// instance paths.
func (r *Registry) ValidateMetadata(ctx context.Context, nodeType string, version *int, metadata map[string]any) (int, error) {
	ns, err := r.Get(ctx, nodeType, version)
	if err != nil {
		return 0, err
	}

	sch, err := r.compiledFor(ns)
	if err != nil {
		return 0, err
	}

	if metadata == nil {
		metadata = map[string]any{}
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return 0, errors.Wrap(err, errors.KindValidation, "metadata is not valid JSON")
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return 0, errors.Wrap(err, errors.KindValidation, "metadata is not valid JSON")
	}

	if err := sch.Validate(instance); err != nil {
		if ve, ok := err.(*jsonschema.ValidationError); ok {
			return 0, errors.New(errors.KindValidation,
				fmt.Sprintf("metadata failed schema validation for type %q (version %d)", nodeType, ns.Version)).
				WithDetail("node_type", nodeType).
				WithDetail("schema_version", ns.Version).
				WithDetail("violations", ve.Error()).
				WithDetail("paths", leafPaths(ve))
		}
		return 0, errors.Wrap(err, errors.KindValidation,
			fmt.Sprintf("metadata failed schema validation for type %q", nodeType))
	}
	return ns.Version, nil
}

// EnsureSeeds registers version 1 of every built-in type. Existing
// registrations are left alone, including a version 1 a site has replaced
// with its own schema.
func (r *Registry) EnsureSeeds(ctx context.Context) error {
	for _, nodeType := range SeedTypes() {
		def, ok := seedDefinition(nodeType)
		if !ok {
			return errors.Newf(errors.KindFatal, "seed schema for %q missing from embedded set", nodeType)
		}
		if _, err := r.RegisterVersion(ctx, nodeType, 1, def); err != nil {
			// Locally modified seeds and concurrent bootstraps both land here.
			if errors.HasKind(err, errors.KindSchemaConflict) {
				continue
			}
			return err
		}
	}
	return nil
}

// SeedTypes returns the built-in block types shipped with the binary, sorted.
func SeedTypes() []string {
	entries, err := fs.ReadDir(seedFS, "seed")
	if err != nil {
		panic(fmt.Sprintf("schema: embedded seed directory unreadable: %v", err))
	}
	types := make([]string, 0, len(entries))
	for _, e := range entries {
		types = append(types, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(types)
	return types
}

func seedDefinition(nodeType string) (json.RawMessage, bool) {
	data, err := seedFS.ReadFile("seed/" + nodeType + ".json")
	if err != nil {
		return nil, false
	}
	return data, true
}

// compiledFor returns the cached compiled form of ns, compiling on first use.
func (r *Registry) compiledFor(ns *models.NodeSchema) (*jsonschema.Schema, error) {
	key := fmt.Sprintf("%s@%d", ns.NodeType, ns.Version)

	r.mu.RLock()
	sch, ok := r.compiled[key]
	r.mu.RUnlock()
	if ok {
		return sch, nil
	}

	sch, err := compile(ns.NodeType, ns.Version, ns.Definition)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindSchemaConflict,
			fmt.Sprintf("stored schema %s no longer compiles", key))
	}

	r.mu.Lock()
	r.compiled[key] = sch
	r.mu.Unlock()
	return sch, nil
}

func compile(nodeType string, version int, def json.RawMessage) (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(def))
	if err != nil {
		return nil, fmt.Errorf("parse schema document: %w", err)
	}
	url := fmt.Sprintf("mem://%s/%d.json", nodeType, version)
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	sch, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return sch, nil
}

// leafPaths flattens a validation error tree into instance paths.
func leafPaths(ve *jsonschema.ValidationError) []string {
	var paths []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			paths = append(paths, "/"+strings.Join(e.InstanceLocation, "/"))
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	return paths
}
