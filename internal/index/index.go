// Package index maintains the derived semantic view of the block store: a
// local vector file keyed by branch plus an optional Neo4j graph projection.
// Both are rebuildable from SQL at any time; nothing here is authoritative.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/rohankatakam/memorybank/internal/config"
	"github.com/rohankatakam/memorybank/internal/errors"
	"github.com/rohankatakam/memorybank/internal/logging"
	"github.com/rohankatakam/memorybank/internal/models"
	"github.com/rohankatakam/memorybank/internal/relation"
)

const (
	snippetRunes    = 240
	defaultSearchK  = 10
	maxSearchK      = 100
	rebuildPageSize = 100
	rebuildWorkers  = 3
)

// BlockSource pages blocks out of the SQL store. The dolt Reader satisfies
// it.
type BlockSource interface {
	QueryBlocks(ctx context.Context, f *models.BlockFilter) (*models.QueryPage, error)
}

// LinkSource loads edges for the graph projection. The dolt Coordinator
// satisfies it.
type LinkSource interface {
	EdgesForRelations(ctx context.Context, rels []string) ([]models.BlockLink, error)
}

// Index owns the vector store, the embedder, and the optional graph mirror.
type Index struct {
	store    *VectorStore
	embedder Embedder
	mirror   *GraphMirror
	cfg      config.IndexConfig
	logger   *slog.Logger

	// mu serializes mutations so a rebuild and a foreground upsert cannot
	// interleave half-written state for the same id.
	mu sync.Mutex
}

// New opens the vector store and connects the configured providers. With
// provider "none" the index still tracks records and commit hashes, but
// holds no vectors.
func New(ctx context.Context, cfg config.IndexConfig) (*Index, error) {
	embedder, err := NewEmbedder(ctx, cfg)
	if err != nil {
		return nil, err
	}
	store, err := OpenVectorStore(cfg.Path, cfg.Collection)
	if err != nil {
		return nil, err
	}

	var mirror *GraphMirror
	if cfg.Graph.Enabled {
		mirror, err = NewGraphMirror(ctx, cfg.Graph)
		if err != nil {
			store.Close()
			return nil, err
		}
	}

	logger := logging.Component("index")
	provider := ProviderNone
	if embedder != nil {
		provider = embedder.Provider()
	}
	logger.Info("semantic index ready",
		"path", cfg.Path, "provider", provider, "graph", cfg.Graph.Enabled)

	return &Index{
		store:    store,
		embedder: embedder,
		mirror:   mirror,
		cfg:      cfg,
		logger:   logger,
	}, nil
}

// Close releases the store and the mirror connection.
func (ix *Index) Close(ctx context.Context) error {
	var firstErr error
	if ix.mirror != nil {
		if err := ix.mirror.Close(ctx); err != nil {
			firstErr = err
		}
	}
	if err := ix.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Upsert indexes one block under its branch and records the commit hash that
// produced it.
func (ix *Index) Upsert(ctx context.Context, branch string, block *models.MemoryBlock, commitHash string) error {
	rec := VectorRecord{
		ID:         block.ID,
		Namespace:  block.Namespace,
		Type:       block.Type,
		Tags:       append([]string(nil), block.Tags...),
		Snippet:    makeSnippet(block.Text),
		CommitHash: commitHash,
		UpdatedAt:  block.UpdatedAt,
	}
	// A caller-supplied vector skips the provider round trip.
	if len(block.Embedding) > 0 {
		rec.Embedding = append([]float32(nil), block.Embedding...)
	} else if ix.embedder != nil && strings.TrimSpace(block.Text) != "" {
		vecs, err := ix.embedder.Embed(ctx, []string{block.Text})
		if err != nil {
			return fmt.Errorf("embed block %s: %w", block.ID, err)
		}
		rec.Embedding = vecs[0]
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	// A reconciler replay must not clobber a newer foreground write.
	if existing, ok, err := ix.store.Get(branch, block.ID); err != nil {
		return err
	} else if ok && existing.UpdatedAt.After(rec.UpdatedAt) {
		return ix.store.MarkSeen(branch, commitHash)
	}

	if err := ix.store.Put(branch, rec); err != nil {
		return fmt.Errorf("store vector for %s: %w", block.ID, err)
	}
	if err := ix.store.MarkSeen(branch, commitHash); err != nil {
		return err
	}
	if ix.mirror != nil {
		if err := ix.mirror.UpsertBlock(ctx, branch, block); err != nil {
			return err
		}
	}
	return nil
}

// Remove drops a block from the index.
func (ix *Index) Remove(ctx context.Context, branch, id, commitHash string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if err := ix.store.Delete(branch, id); err != nil {
		return fmt.Errorf("drop vector for %s: %w", id, err)
	}
	if err := ix.store.MarkSeen(branch, commitHash); err != nil {
		return err
	}
	if ix.mirror != nil {
		if err := ix.mirror.RemoveBlock(ctx, branch, id); err != nil {
			return err
		}
	}
	return nil
}

// UpsertLinks projects edges into the graph mirror. Without a mirror only the
// commit hash is recorded.
func (ix *Index) UpsertLinks(ctx context.Context, branch string, links []models.BlockLink, commitHash string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.mirror != nil {
		for i := range links {
			if err := ix.mirror.UpsertLink(ctx, branch, &links[i]); err != nil {
				return err
			}
		}
	}
	return ix.store.MarkSeen(branch, commitHash)
}

// RemoveLink drops one projected edge.
func (ix *Index) RemoveLink(ctx context.Context, branch, from, to, rel, commitHash string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.mirror != nil {
		if err := ix.mirror.RemoveLink(ctx, branch, from, to, rel); err != nil {
			return err
		}
	}
	return ix.store.MarkSeen(branch, commitHash)
}

// SeenCommit reports whether the index already absorbed a commit hash. The
// reconciler drives replay from this.
func (ix *Index) SeenCommit(branch, hash string) (bool, error) {
	return ix.store.Seen(branch, hash)
}

// Hit is one semantic match.
type Hit struct {
	ID      string  `json:"id"`
	Score   float64 `json:"score"`
	Snippet string  `json:"snippet,omitempty"`
}

// SearchInput shapes one semantic query. Either Text or Embedding must be
// set; filters narrow candidates before scoring.
type SearchInput struct {
	Branch          string
	Text            string
	Embedding       []float32
	K               int
	Namespace       string
	Type            string
	Tags            []string
	ExpandNeighbors bool
}

// SearchResult carries the ranked hits plus, when the graph mirror is on and
// expansion was requested, the ids one hop around them.
type SearchResult struct {
	Hits        []Hit    `json:"hits"`
	NeighborIDs []string `json:"neighbor_ids,omitempty"`
}

// Search runs a cosine-similarity query over one branch.
func (ix *Index) Search(ctx context.Context, in SearchInput) (*SearchResult, error) {
	query := in.Embedding
	if len(query) == 0 {
		if strings.TrimSpace(in.Text) == "" {
			return nil, errors.New(errors.KindValidation, "semantic search requires query text or an embedding")
		}
		if ix.embedder == nil {
			return nil, errors.New(errors.KindValidation,
				"semantic search requires an embedding provider; set index.provider to openai or gemini").
				WithDetail("provider", ProviderNone)
		}
		vecs, err := ix.embedder.Embed(ctx, []string{in.Text})
		if err != nil {
			return nil, errors.Wrap(err, errors.KindConnectionError, "embed query text")
		}
		query = vecs[0]
	}

	k := in.K
	if k <= 0 {
		k = defaultSearchK
	}
	if k > maxSearchK {
		k = maxSearchK
	}

	wantTags := models.NormalizeTags(in.Tags)
	filter := func(rec VectorRecord) bool {
		if in.Namespace != "" && rec.Namespace != in.Namespace {
			return false
		}
		if in.Type != "" && rec.Type != in.Type {
			return false
		}
		for _, tag := range wantTags {
			if !containsTag(rec.Tags, tag) {
				return false
			}
		}
		return true
	}

	found, err := ix.store.search(in.Branch, query, k, filter)
	if err != nil {
		return nil, fmt.Errorf("scan vector store: %w", err)
	}

	result := &SearchResult{Hits: make([]Hit, len(found))}
	for i, f := range found {
		result.Hits[i] = Hit{ID: f.rec.ID, Score: f.score, Snippet: f.rec.Snippet}
	}

	if in.ExpandNeighbors && ix.mirror != nil && len(result.Hits) > 0 {
		ids := make([]string, len(result.Hits))
		for i, h := range result.Hits {
			ids[i] = h.ID
		}
		neighbors, err := ix.mirror.NeighborIDs(ctx, in.Branch, ids, k*2)
		if err != nil {
			// Expansion is additive; a mirror hiccup must not sink the search.
			ix.logger.Warn("neighbor expansion failed", "error", err)
		} else {
			result.NeighborIDs = neighbors
		}
	}
	return result, nil
}

// Rebuild drops and re-indexes one branch from the SQL store, returning the
// number of blocks indexed. Pages are embedded concurrently but the scan
// itself is a single cursor walk.
func (ix *Index) Rebuild(ctx context.Context, branch, namespace string, blocks BlockSource, links LinkSource) (int, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if err := ix.store.DropBranch(branch); err != nil {
		return 0, fmt.Errorf("clear branch index: %w", err)
	}
	if ix.mirror != nil {
		if err := ix.mirror.DropBranch(ctx, branch); err != nil {
			return 0, err
		}
	}

	grp, gctx := errgroup.WithContext(ctx)
	grp.SetLimit(rebuildWorkers)

	total := 0
	cursor := ""
	for {
		page, err := blocks.QueryBlocks(ctx, &models.BlockFilter{
			Namespace: namespace,
			Limit:     rebuildPageSize,
			Cursor:    cursor,
		})
		if err != nil {
			return total, err
		}
		batch := page.Blocks
		total += len(batch)
		grp.Go(func() error {
			return ix.indexBatch(gctx, branch, batch)
		})
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	if err := grp.Wait(); err != nil {
		return total, err
	}

	if ix.mirror != nil && links != nil {
		edges, err := links.EdgesForRelations(ctx, relation.Names())
		if err != nil {
			return total, err
		}
		for i := range edges {
			if err := ix.mirror.UpsertLink(ctx, branch, &edges[i]); err != nil {
				return total, err
			}
		}
	}

	ix.logger.Info("index rebuilt", "branch", branch, "namespace", namespace, "blocks", total)
	return total, nil
}

// indexBatch embeds one page of blocks in a single provider call and stores
// the records.
func (ix *Index) indexBatch(ctx context.Context, branch string, batch []*models.MemoryBlock) error {
	if len(batch) == 0 {
		return nil
	}

	var embeddings [][]float32
	var embedded []int
	if ix.embedder != nil {
		texts := make([]string, 0, len(batch))
		for i, b := range batch {
			if strings.TrimSpace(b.Text) != "" {
				texts = append(texts, b.Text)
				embedded = append(embedded, i)
			}
		}
		if len(texts) > 0 {
			var err error
			embeddings, err = ix.embedder.Embed(ctx, texts)
			if err != nil {
				return fmt.Errorf("embed batch: %w", err)
			}
		}
	}

	vecAt := make(map[int][]float32, len(embedded))
	for j, i := range embedded {
		vecAt[i] = embeddings[j]
	}

	for i, b := range batch {
		rec := VectorRecord{
			ID:        b.ID,
			Namespace: b.Namespace,
			Type:      b.Type,
			Tags:      append([]string(nil), b.Tags...),
			Snippet:   makeSnippet(b.Text),
			UpdatedAt: b.UpdatedAt,
			Embedding: vecAt[i],
		}
		if err := ix.store.Put(branch, rec); err != nil {
			return err
		}
		if ix.mirror != nil {
			if err := ix.mirror.UpsertBlock(ctx, branch, b); err != nil {
				return err
			}
		}
	}
	return nil
}

// Stats summarizes one branch's index for health reporting.
type Stats struct {
	Branch       string `json:"branch"`
	Vectors      int    `json:"vectors"`
	Provider     string `json:"provider"`
	Model        string `json:"model,omitempty"`
	GraphEnabled bool   `json:"graph_enabled"`
	Path         string `json:"path"`
}

func (ix *Index) Stats(branch string) (Stats, error) {
	count, err := ix.store.Count(branch)
	if err != nil {
		return Stats{}, err
	}
	s := Stats{
		Branch:       branch,
		Vectors:      count,
		Provider:     ProviderNone,
		GraphEnabled: ix.mirror != nil,
		Path:         ix.store.Path(),
	}
	if ix.embedder != nil {
		s.Provider = ix.embedder.Provider()
		s.Model = ix.embedder.Model()
	}
	return s, nil
}

func makeSnippet(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= snippetRunes {
		return text
	}
	runes := []rune(text)
	return string(runes[:snippetRunes])
}

func containsTag(tags []string, want string) bool {
	for _, t := range tags {
		if t == want {
			return true
		}
	}
	return false
}
