package memorybank

import (
	"context"
	"time"

	"github.com/rohankatakam/memorybank/internal/errors"
	"github.com/rohankatakam/memorybank/internal/index"
	"github.com/rohankatakam/memorybank/internal/links"
	"github.com/rohankatakam/memorybank/internal/models"
	"github.com/rohankatakam/memorybank/internal/relation"
)

// LinkMutation reports a durable link write, one row per stored edge (two
// for a bidirectional pair).
type LinkMutation struct {
	Links       []models.BlockLink `json:"links"`
	CommitHash  string             `json:"commit_hash"`
	Branch      string             `json:"branch"`
	Timestamp   time.Time          `json:"timestamp"`
	IndexSynced bool               `json:"index_synced"`
	Warning     *ResultError       `json:"warning,omitempty"`
}

// CreateLink writes a typed edge, plus its inverse when Bidirectional is set.
func (b *Bank) CreateLink(ctx context.Context, in links.CreateInput) (*LinkMutation, error) {
	rows, hash, err := b.links.Create(ctx, in)
	if err != nil {
		return nil, err
	}
	mut := &LinkMutation{
		Links:       rows,
		CommitHash:  hash,
		Branch:      b.backend.ActiveBranch(),
		Timestamp:   time.Now().UTC(),
		IndexSynced: true,
	}
	if err := b.index.UpsertLinks(ctx, mut.Branch, rows, hash); err != nil {
		b.flagLinkSync(mut, err)
	}
	return mut, nil
}

// DeleteLink removes one edge. The relation may be an alias.
func (b *Bank) DeleteLink(ctx context.Context, from, to, rel, actor string) (*LinkMutation, error) {
	canonical, err := relation.Canonical(rel)
	if err != nil {
		return nil, err
	}
	hash, err := b.links.Delete(ctx, from, to, canonical, actor)
	if err != nil {
		return nil, err
	}
	mut := &LinkMutation{
		CommitHash:  hash,
		Branch:      b.backend.ActiveBranch(),
		Timestamp:   time.Now().UTC(),
		IndexSynced: true,
	}
	if err := b.index.RemoveLink(ctx, mut.Branch, from, to, canonical, hash); err != nil {
		b.flagLinkSync(mut, err)
	}
	return mut, nil
}

func (b *Bank) flagLinkSync(mut *LinkMutation, err error) {
	mut.IndexSynced = false
	mut.Warning = Describe(errors.Wrap(err, errors.KindIndexSyncFailed,
		"graph mirror sync failed; rebuild the index to repair it").
		WithDetail("commit_hash", mut.CommitHash))
	b.logger.Warn("link index sync failed", "commit", mut.CommitHash, "error", err)
}

// LinkedBlocks walks the graph around a block per the filter.
func (b *Bank) LinkedBlocks(ctx context.Context, blockID string, f *models.LinkFilter) ([]models.LinkedBlock, error) {
	return b.links.Neighbors(ctx, blockID, f)
}

// ListLinks pages through edges matching the query, no anchor block needed.
func (b *Bank) ListLinks(ctx context.Context, q *models.LinkQuery) (*models.LinkPage, error) {
	return b.reader.QueryLinks(ctx, q)
}

// SearchRequest shapes one semantic query against the active branch.
type SearchRequest struct {
	Text            string   `json:"text"`
	K               int      `json:"k,omitempty"`
	Namespace       string   `json:"namespace,omitempty"`
	Type            string   `json:"type,omitempty"`
	Tags            []string `json:"tags,omitempty"`
	ExpandNeighbors bool     `json:"expand_neighbors,omitempty"`
}

// SearchResponse carries hydrated hits in score order. NeighborIDs lists the
// ids one graph hop around the hits when expansion was requested.
type SearchResponse struct {
	Hits        []models.SearchHit `json:"hits"`
	NeighborIDs []string           `json:"neighbor_ids,omitempty"`
	Branch      string             `json:"branch"`
}

// SemanticSearch ranks blocks by cosine similarity to the query text and
// hydrates the hits from SQL. Index entries whose block has since vanished
// are dropped from the result rather than surfaced half-empty.
func (b *Bank) SemanticSearch(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	branch := b.backend.ActiveBranch()
	res, err := b.index.Search(ctx, index.SearchInput{
		Branch:          branch,
		Text:            req.Text,
		K:               req.K,
		Namespace:       req.Namespace,
		Type:            req.Type,
		Tags:            req.Tags,
		ExpandNeighbors: req.ExpandNeighbors,
	})
	if err != nil {
		return nil, err
	}

	out := &SearchResponse{
		Hits:        []models.SearchHit{},
		NeighborIDs: res.NeighborIDs,
		Branch:      branch,
	}
	if len(res.Hits) == 0 {
		return out, nil
	}

	ids := make([]string, len(res.Hits))
	for i, h := range res.Hits {
		ids[i] = h.ID
	}
	blocks, err := b.backend.GetBlocks(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*models.MemoryBlock, len(blocks))
	for _, blk := range blocks {
		byID[blk.ID] = blk
	}
	for _, h := range res.Hits {
		blk, ok := byID[h.ID]
		if !ok {
			continue
		}
		out.Hits = append(out.Hits, models.SearchHit{
			Block:   blk,
			Score:   h.Score,
			Snippet: h.Snippet,
		})
	}
	return out, nil
}

// RebuildIndex drops and re-derives the active branch's semantic index from
// SQL. Namespace, when set, limits the rebuild to one scope.
func (b *Bank) RebuildIndex(ctx context.Context, namespace string) (int, error) {
	branch := b.backend.ActiveBranch()
	n, err := b.index.Rebuild(ctx, branch, namespace, b.blockSource, b.linkSource)
	if err != nil {
		return 0, err
	}
	b.logger.Info("index rebuilt", "branch", branch, "blocks", n)
	return n, nil
}
