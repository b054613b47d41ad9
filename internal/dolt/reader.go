package dolt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/rohankatakam/memorybank/internal/errors"
	"github.com/rohankatakam/memorybank/internal/logging"
	"github.com/rohankatakam/memorybank/internal/models"
)

// blockColumns is the canonical select list for memory_blocks. COALESCE keeps
// externally NULLed text from breaking struct scans. The embedding column is
// deliberately absent: reads never load vectors, the index owns them.
const blockColumns = `id, namespace_id, type, COALESCE(text, '') AS text, state, visibility,
	parent_id, has_children, tags, metadata, source_file, source_uri, confidence,
	schema_version, block_version, created_by, created_at, updated_at`

const (
	defaultQueryLimit = 50
	maxQueryLimit     = 500
)

// Reader serves branch-scoped reads through the active session.
type Reader struct {
	co     *Coordinator
	logger *slog.Logger
}

func NewReader(co *Coordinator) *Reader {
	return &Reader{co: co, logger: logging.Component("dolt-reader")}
}

// GetBlock fetches one block by id on the active branch.
func (r *Reader) GetBlock(ctx context.Context, id string) (*models.MemoryBlock, error) {
	var b models.MemoryBlock
	err := r.co.Active().Read(ctx, func(e Execer) error {
		return e.GetContext(ctx, &b,
			"SELECT "+blockColumns+" FROM memory_blocks WHERE id = ?", id)
	})
	if err != nil {
		if errors.HasKind(err, errors.KindNotFound) {
			return nil, errors.New(errors.KindNotFound,
				fmt.Sprintf("block %q not found", id)).
				WithDetail("block_id", id)
		}
		return nil, err
	}
	return &b, nil
}

// QueryBlocks runs a filtered, cursor-paged scan on the active branch.
func (r *Reader) QueryBlocks(ctx context.Context, f *models.BlockFilter) (*models.QueryPage, error) {
	if f == nil {
		f = &models.BlockFilter{}
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	if limit > maxQueryLimit {
		limit = maxQueryLimit
	}

	fingerprint := filterFingerprint(f)
	offset := 0
	if f.Cursor != "" {
		var err error
		if offset, err = decodeCursor(f.Cursor, fingerprint); err != nil {
			return nil, err
		}
	}

	where, args, err := buildBlockFilter(f)
	if err != nil {
		return nil, err
	}
	orderBy, err := buildBlockOrder(f)
	if err != nil {
		return nil, err
	}

	page := &models.QueryPage{}
	err = r.co.Active().Read(ctx, func(e Execer) error {
		if err := e.GetContext(ctx, &page.Total,
			"SELECT COUNT(*) FROM memory_blocks"+where, args...); err != nil {
			return err
		}

		query := "SELECT " + blockColumns + " FROM memory_blocks" + where + orderBy +
			" LIMIT ? OFFSET ?"
		queryArgs := append(append([]any{}, args...), limit+1, offset)

		var blocks []*models.MemoryBlock
		if err := e.SelectContext(ctx, &blocks, query, queryArgs...); err != nil {
			return err
		}
		if len(blocks) > limit {
			blocks = blocks[:limit]
			page.NextCursor = encodeCursor(offset+limit, fingerprint)
		}
		page.Blocks = blocks
		return nil
	})
	if err != nil {
		return nil, err
	}
	if page.Blocks == nil {
		page.Blocks = []*models.MemoryBlock{}
	}
	return page, nil
}

// QueryLinks runs a cursor-paged scan over the edge table on the active
// branch. Unlike the traversal in LinksFrom/LinksTo it needs no anchor block,
// so it can enumerate the whole graph.
func (r *Reader) QueryLinks(ctx context.Context, q *models.LinkQuery) (*models.LinkPage, error) {
	if q == nil {
		q = &models.LinkQuery{}
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	if limit > maxQueryLimit {
		limit = maxQueryLimit
	}

	fingerprint := linkFingerprint(q)
	offset := 0
	if q.Cursor != "" {
		var err error
		if offset, err = decodeCursor(q.Cursor, fingerprint); err != nil {
			return nil, err
		}
	}

	where, args := buildLinkQuery(q)

	page := &models.LinkPage{}
	err := r.co.Active().Read(ctx, func(e Execer) error {
		if err := e.GetContext(ctx, &page.Total,
			"SELECT COUNT(*) FROM block_links"+where, args...); err != nil {
			return err
		}

		query := "SELECT " + linkColumns + " FROM block_links" + where +
			" ORDER BY created_at DESC, from_id, to_id, relation LIMIT ? OFFSET ?"
		queryArgs := append(append([]any{}, args...), limit+1, offset)

		var links []models.BlockLink
		if err := e.SelectContext(ctx, &links, query, queryArgs...); err != nil {
			return err
		}
		if len(links) > limit {
			links = links[:limit]
			page.NextCursor = encodeCursor(offset+limit, fingerprint)
		}
		page.Links = links
		return nil
	})
	if err != nil {
		return nil, err
	}
	if page.Links == nil {
		page.Links = []models.BlockLink{}
	}
	return page, nil
}

// GetProperties returns the decomposed property rows of a block.
func (r *Reader) GetProperties(ctx context.Context, blockID string) ([]models.BlockProperty, error) {
	var props []models.BlockProperty
	err := r.co.Active().Read(ctx, func(e Execer) error {
		return e.SelectContext(ctx, &props, `
			SELECT block_id, property_name, property_type, value_text,
			       value_number, value_json, is_computed, created_at, updated_at
			FROM block_properties WHERE block_id = ? ORDER BY property_name`, blockID)
	})
	if err != nil {
		return nil, err
	}
	return props, nil
}

// GetProofs returns the commit proofs recorded for a block, oldest first.
// Proofs survive block deletion, so this works for deleted blocks too.
func (r *Reader) GetProofs(ctx context.Context, blockID string) ([]models.BlockProof, error) {
	var proofs []models.BlockProof
	err := r.co.Active().Read(ctx, func(e Execer) error {
		return e.SelectContext(ctx, &proofs, `
			SELECT id, block_id, commit_hash, operation, timestamp
			FROM block_proofs WHERE block_id = ? ORDER BY timestamp`, blockID)
	})
	if err != nil {
		return nil, err
	}
	return proofs, nil
}

// ListProofs returns the most recent proofs on the active branch, newest
// first. The reconciler sweeps these looking for commits the index missed.
func (r *Reader) ListProofs(ctx context.Context, limit int) ([]models.BlockProof, error) {
	if limit <= 0 || limit > maxQueryLimit {
		limit = maxQueryLimit
	}
	var proofs []models.BlockProof
	err := r.co.Active().Read(ctx, func(e Execer) error {
		return e.SelectContext(ctx, &proofs, `
			SELECT id, block_id, commit_hash, operation, timestamp
			FROM block_proofs ORDER BY timestamp DESC, id DESC LIMIT ?`, limit)
	})
	if err != nil {
		return nil, err
	}
	return proofs, nil
}

// ListNamespaces returns all namespaces on the active branch.
func (r *Reader) ListNamespaces(ctx context.Context) ([]models.Namespace, error) {
	var namespaces []models.Namespace
	err := r.co.Active().Read(ctx, func(e Execer) error {
		return e.SelectContext(ctx, &namespaces, `
			SELECT id, name, slug, owner_id, COALESCE(description, '') AS description,
			       created_at, updated_at, is_active, is_default
			FROM namespaces ORDER BY name`)
	})
	if err != nil {
		return nil, err
	}
	return namespaces, nil
}

// GetNamespace resolves a namespace by id or slug.
func (r *Reader) GetNamespace(ctx context.Context, idOrSlug string) (*models.Namespace, error) {
	var ns models.Namespace
	err := r.co.Active().Read(ctx, func(e Execer) error {
		return e.GetContext(ctx, &ns, `
			SELECT id, name, slug, owner_id, COALESCE(description, '') AS description,
			       created_at, updated_at, is_active, is_default
			FROM namespaces WHERE id = ? OR slug = ?`, idOrSlug, idOrSlug)
	})
	if err != nil {
		if errors.HasKind(err, errors.KindNotFound) {
			return nil, errors.New(errors.KindNamespaceMissing,
				fmt.Sprintf("namespace %q does not exist", idOrSlug)).
				WithDetail("namespace", idOrSlug)
		}
		return nil, err
	}
	return &ns, nil
}

// buildBlockFilter assembles the WHERE clause. Filter values are validated
// here so a bad filter fails before touching the backend.
func buildBlockFilter(f *models.BlockFilter) (string, []any, error) {
	var conds []string
	var args []any

	if f.Namespace != "" {
		conds = append(conds, "namespace_id = ?")
		args = append(args, f.Namespace)
	}
	if f.Type != "" {
		conds = append(conds, "type = ?")
		args = append(args, f.Type)
	}
	if f.State != "" {
		if !models.IsValidState(f.State) {
			return "", nil, errors.New(errors.KindValidation,
				fmt.Sprintf("unknown state %q", f.State)).
				WithDetail("allowed", models.ValidStates)
		}
		conds = append(conds, "state = ?")
		args = append(args, f.State)
	}
	if f.Visibility != "" {
		if !models.IsValidVisibility(f.Visibility) {
			return "", nil, errors.New(errors.KindValidation,
				fmt.Sprintf("unknown visibility %q", f.Visibility)).
				WithDetail("allowed", models.ValidVisibilities)
		}
		conds = append(conds, "visibility = ?")
		args = append(args, f.Visibility)
	}
	if f.ParentID != "" {
		conds = append(conds, "parent_id = ?")
		args = append(args, f.ParentID)
	}
	if f.TextContains != "" {
		conds = append(conds, "text LIKE ?")
		args = append(args, "%"+escapeLike(f.TextContains)+"%")
	}
	if f.CreatedAfter != nil {
		conds = append(conds, "created_at > ?")
		args = append(args, f.CreatedAfter.UTC())
	}
	if f.UpdatedAfter != nil {
		conds = append(conds, "updated_at > ?")
		args = append(args, f.UpdatedAfter.UTC())
	}
	if f.UpdatedBefore != nil {
		conds = append(conds, "updated_at < ?")
		args = append(args, f.UpdatedBefore.UTC())
	}

	if tags := models.NormalizeTags(f.Tags); len(tags) > 0 {
		tagConds := make([]string, len(tags))
		for i, tag := range tags {
			tagConds[i] = "JSON_CONTAINS(tags, JSON_QUOTE(?))"
			args = append(args, tag)
		}
		joiner := " OR "
		if f.TagsMatchAll {
			joiner = " AND "
		}
		conds = append(conds, "("+strings.Join(tagConds, joiner)+")")
	}

	if len(f.Metadata) > 0 {
		keys := make([]string, 0, len(f.Metadata))
		for k := range f.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, key := range keys {
			value, err := jsonLiteral(f.Metadata[key])
			if err != nil {
				return "", nil, errors.Wrap(err, errors.KindValidation,
					fmt.Sprintf("metadata filter value for %q is not JSON-encodable", key))
			}
			conds = append(conds, "JSON_EXTRACT(metadata, ?) = CAST(? AS JSON)")
			args = append(args, jsonPath(key), value)
		}
	}

	if len(conds) == 0 {
		return "", nil, nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args, nil
}

// buildLinkQuery assembles the WHERE clause for an edge scan. All three
// filters are exact matches, so nothing can fail validation here.
func buildLinkQuery(q *models.LinkQuery) (string, []any) {
	var conds []string
	var args []any
	if q.FromID != "" {
		conds = append(conds, "from_id = ?")
		args = append(args, q.FromID)
	}
	if q.ToID != "" {
		conds = append(conds, "to_id = ?")
		args = append(args, q.ToID)
	}
	if q.Relation != "" {
		conds = append(conds, "relation = ?")
		args = append(args, q.Relation)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

var orderColumns = map[string]string{
	"created_at":    "created_at",
	"updated_at":    "updated_at",
	"id":            "id",
	"type":          "type",
	"state":         "state",
	"block_version": "block_version",
}

// buildBlockOrder whitelists sort columns; anything else is rejected rather
// than interpolated.
func buildBlockOrder(f *models.BlockFilter) (string, error) {
	if f.OrderBy == "" {
		return " ORDER BY updated_at DESC, id ASC", nil
	}
	col, ok := orderColumns[f.OrderBy]
	if !ok {
		return "", errors.New(errors.KindValidation,
			fmt.Sprintf("cannot order by %q", f.OrderBy)).
			WithDetail("allowed", sortedKeys(orderColumns))
	}
	dir := " ASC"
	if f.Descending {
		dir = " DESC"
	}
	return " ORDER BY " + col + dir + ", id ASC", nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	s = strings.ReplaceAll(s, "_", `\_`)
	return s
}

// jsonPath builds a quoted JSON path for one top-level key.
func jsonPath(key string) string {
	return `$."` + strings.ReplaceAll(key, `"`, `\"`) + `"`
}

// jsonLiteral renders a filter value as JSON text for CAST(? AS JSON).
func jsonLiteral(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
