// Package models defines the persistent entities of the memory bank:
// memory blocks, links, namespaces, registered schemas, and commit proofs.
package models

import (
	"encoding/json"
	"strings"
	"time"
)

// Block lifecycle states.
const (
	StateDraft     = "draft"
	StatePublished = "published"
	StateArchived  = "archived"
)

// Block visibility scopes.
const (
	VisibilityInternal   = "internal"
	VisibilityPublic     = "public"
	VisibilityRestricted = "restricted"
)

// DefaultNamespace is assigned when a caller omits the namespace.
const DefaultNamespace = "public"

// ValidStates lists the accepted block lifecycle states.
var ValidStates = []string{StateDraft, StatePublished, StateArchived}

// ValidVisibilities lists the accepted block visibility scopes.
var ValidVisibilities = []string{VisibilityInternal, VisibilityPublic, VisibilityRestricted}

// IsValidState reports whether s is a known lifecycle state.
func IsValidState(s string) bool {
	switch s {
	case StateDraft, StatePublished, StateArchived:
		return true
	}
	return false
}

// IsValidVisibility reports whether v is a known visibility scope.
func IsValidVisibility(v string) bool {
	switch v {
	case VisibilityInternal, VisibilityPublic, VisibilityRestricted:
		return true
	}
	return false
}

// MemoryBlock is one typed unit of agent memory. Text carries the prose
// content; Metadata carries the type-specific payload validated against the
// registered schema for Type. ParentID and HasChildren form the document
// hierarchy; SourceFile, SourceURI, and Confidence record provenance.
type MemoryBlock struct {
	ID            string    `json:"id" db:"id"`
	Namespace     string    `json:"namespace" db:"namespace_id"`
	Type          string    `json:"type" db:"type"`
	Text          string    `json:"text" db:"text"`
	State         string    `json:"state" db:"state"`
	Visibility    string    `json:"visibility" db:"visibility"`
	ParentID      *string   `json:"parent_id,omitempty" db:"parent_id"`
	HasChildren   bool      `json:"has_children" db:"has_children"`
	Tags          JSONList  `json:"tags,omitempty" db:"tags"`
	Metadata      JSONMap   `json:"metadata,omitempty" db:"metadata"`
	SourceFile    *string   `json:"source_file,omitempty" db:"source_file"`
	SourceURI     *string   `json:"source_uri,omitempty" db:"source_uri"`
	Confidence    JSONMap   `json:"confidence,omitempty" db:"confidence"`
	SchemaVersion *int      `json:"schema_version,omitempty" db:"schema_version"`
	BlockVersion  int       `json:"block_version" db:"block_version"`
	CreatedBy     string    `json:"created_by" db:"created_by"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`

	// Embedding is only populated on the create path when the caller supplies
	// a precomputed vector; reads do not load it. The semantic index owns
	// vector freshness.
	Embedding Vector `json:"-" db:"embedding"`
}

// BlockLink is a typed directed edge between two memory blocks.
type BlockLink struct {
	FromID    string    `json:"from_id" db:"from_id"`
	ToID      string    `json:"to_id" db:"to_id"`
	Relation  string    `json:"relation" db:"relation"`
	Priority  int       `json:"priority" db:"priority"`
	Metadata  JSONMap   `json:"metadata,omitempty" db:"link_metadata"`
	CreatedBy string    `json:"created_by" db:"created_by"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Namespace is an isolation scope for blocks.
type Namespace struct {
	ID          string    `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Slug        string    `json:"slug" db:"slug"`
	OwnerID     string    `json:"owner_id" db:"owner_id"`
	Description string    `json:"description,omitempty" db:"description"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
	IsActive    bool      `json:"is_active" db:"is_active"`
	IsDefault   bool      `json:"is_default" db:"is_default"`
}

// NodeSchema is one version of a registered block-type schema. Definition is
// the raw JSON Schema document.
type NodeSchema struct {
	NodeType   string          `json:"node_type" db:"node_type"`
	Version    int             `json:"schema_version" db:"schema_version"`
	Definition json.RawMessage `json:"json_schema" db:"json_schema"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
}

// BlockProperty is one decomposed metadata field of a block, kept in sync
// with the block's metadata document on every write. Exactly one of the
// three value columns is non-null; ValueType says how to read it back
// (booleans sit in the json column, datetimes as RFC 3339 text).
type BlockProperty struct {
	BlockID     string          `json:"block_id" db:"block_id"`
	Name        string          `json:"name" db:"property_name"`
	ValueType   string          `json:"property_type" db:"property_type"`
	TextValue   *string         `json:"value_text,omitempty" db:"value_text"`
	NumberValue *float64        `json:"value_number,omitempty" db:"value_number"`
	JSONValue   json.RawMessage `json:"value_json,omitempty" db:"value_json"`
	IsComputed  bool            `json:"is_computed" db:"is_computed"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

// Property value types stored in block_properties.
const (
	PropertyText     = "text"
	PropertyNumber   = "number"
	PropertyBoolean  = "boolean"
	PropertyDatetime = "datetime"
	PropertyJSON     = "json"
)

// BlockProof records the commit hash that captured one block mutation.
type BlockProof struct {
	ID         string    `json:"id" db:"id"`
	BlockID    string    `json:"block_id" db:"block_id"`
	CommitHash string    `json:"commit_hash" db:"commit_hash"`
	Operation  string    `json:"operation" db:"operation"`
	Timestamp  time.Time `json:"timestamp" db:"timestamp"`
}

// Proof operations.
const (
	ProofCreate = "create"
	ProofUpdate = "update"
	ProofDelete = "delete"
)

// BranchInfo describes one branch of the versioned backend.
type BranchInfo struct {
	Name   string `json:"name" db:"name"`
	Hash   string `json:"head_commit" db:"hash"`
	Dirty  bool   `json:"dirty"`
	Active bool   `json:"active"`
}

// BlockPatch is a partial update to a block. Nil fields are left untouched.
// Metadata replaces the whole metadata document when non-nil; MergeMetadata
// instead merges top-level keys into the existing document, and a key set to
// JSON null removes it.
type BlockPatch struct {
	Text          *string   `json:"text,omitempty"`
	State         *string   `json:"state,omitempty"`
	Visibility    *string   `json:"visibility,omitempty"`
	Tags          *JSONList `json:"tags,omitempty"`
	Metadata      *JSONMap  `json:"metadata,omitempty"`
	MergeMetadata JSONMap   `json:"merge_metadata,omitempty"`
	// IfVersion, when non-nil, makes the update conditional on the current
	// block_version matching.
	IfVersion *int `json:"if_version,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p *BlockPatch) IsEmpty() bool {
	return p == nil ||
		(p.Text == nil && p.State == nil && p.Visibility == nil &&
			p.Tags == nil && p.Metadata == nil && len(p.MergeMetadata) == 0)
}

// BlockFilter selects blocks for query operations. Zero values match all.
type BlockFilter struct {
	Namespace     string         `json:"namespace,omitempty"`
	Type          string         `json:"type,omitempty"`
	State         string         `json:"state,omitempty"`
	Visibility    string         `json:"visibility,omitempty"`
	ParentID      string         `json:"parent_id,omitempty"`
	Tags          []string       `json:"tags,omitempty"`
	TagsMatchAll  bool           `json:"tags_match_all,omitempty"`
	TextContains  string         `json:"text_contains,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedAfter  *time.Time     `json:"created_after,omitempty"`
	UpdatedAfter  *time.Time     `json:"updated_after,omitempty"`
	UpdatedBefore *time.Time     `json:"updated_before,omitempty"`
	OrderBy       string         `json:"order_by,omitempty"`
	Descending    bool           `json:"descending,omitempty"`
	Limit         int            `json:"limit,omitempty"`
	Cursor        string         `json:"cursor,omitempty"`
}

// LinkFilter selects links attached to a block.
type LinkFilter struct {
	Relation string `json:"relation,omitempty"`
	// Direction is "out", "in", or "both" (default).
	Direction string `json:"direction,omitempty"`
	Depth     int    `json:"depth,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// LinkQuery selects edges across the whole graph, without the anchor block
// LinkFilter requires. Zero values match all.
type LinkQuery struct {
	FromID   string `json:"from_id,omitempty"`
	ToID     string `json:"to_id,omitempty"`
	Relation string `json:"relation,omitempty"`
	Limit    int    `json:"limit,omitempty"`
	Cursor   string `json:"cursor,omitempty"`
}

// Link traversal directions.
const (
	DirectionOut  = "out"
	DirectionIn   = "in"
	DirectionBoth = "both"
)

// LinkedBlock pairs a neighbor block with the edge that reached it.
type LinkedBlock struct {
	Block     *MemoryBlock `json:"block"`
	Link      *BlockLink   `json:"link"`
	Depth     int          `json:"depth"`
	Direction string       `json:"direction"`
}

// QueryPage is one page of block query results.
type QueryPage struct {
	Blocks     []*MemoryBlock `json:"blocks"`
	NextCursor string         `json:"next_cursor,omitempty"`
	Total      int            `json:"total,omitempty"`
}

// LinkPage is one page of link query results.
type LinkPage struct {
	Links      []BlockLink `json:"links"`
	NextCursor string      `json:"next_cursor,omitempty"`
	Total      int         `json:"total,omitempty"`
}

// SearchHit is one semantic search result.
type SearchHit struct {
	Block   *MemoryBlock `json:"block"`
	Score   float64      `json:"score"`
	Snippet string       `json:"snippet,omitempty"`
}

// NormalizeTags lowercases, trims, and de-duplicates a tag list, preserving
// first-seen order.
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
