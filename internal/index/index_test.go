package index

import (
	"context"
	"fmt"
	"hash/fnv"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/rohankatakam/memorybank/internal/config"
	"github.com/rohankatakam/memorybank/internal/errors"
	"github.com/rohankatakam/memorybank/internal/logging"
	"github.com/rohankatakam/memorybank/internal/models"
)

// fakeEmbedder derives a deterministic unit-ish vector from the text hash so
// identical texts always land on identical vectors.
type fakeEmbedder struct {
	calls int
}

func (f *fakeEmbedder) Provider() string { return "fake" }
func (f *fakeEmbedder) Model() string    { return "fake-embed-1" }

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	out := make([][]float32, len(texts))
	for i, t := range texts {
		h := fnv.New64a()
		h.Write([]byte(t))
		sum := h.Sum64()
		vec := make([]float32, 4)
		for j := range vec {
			vec[j] = float32((sum>>(j*8))&0xff) / 255.0
		}
		out[i] = vec
	}
	return out, nil
}

func newTestIndex(t *testing.T, embedder Embedder) *Index {
	t.Helper()
	store, err := OpenVectorStore(filepath.Join(t.TempDir(), "vectors.db"), "memory_blocks")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return &Index{
		store:    store,
		embedder: embedder,
		cfg:      config.Default().Index,
		logger:   logging.Component("index"),
	}
}

func testBlock(id, text string, updated time.Time) *models.MemoryBlock {
	return &models.MemoryBlock{
		ID:        id,
		Namespace: "public",
		Type:      "task",
		Text:      text,
		UpdatedAt: updated,
	}
}

func TestUpsertAndSearch(t *testing.T) {
	ix := newTestIndex(t, &fakeEmbedder{})
	ctx := context.Background()
	now := time.Now().UTC()

	if err := ix.Upsert(ctx, "main", testBlock("b1", "fix the login flow", now), "hash-1"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := ix.Upsert(ctx, "main", testBlock("b2", "write release notes", now), "hash-2"); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	for _, hash := range []string{"hash-1", "hash-2"} {
		seen, err := ix.SeenCommit("main", hash)
		if err != nil || !seen {
			t.Errorf("SeenCommit(%s) = %v, %v", hash, seen, err)
		}
	}

	// Identical text embeds identically, so searching for it ranks its block
	// first with score 1.
	result, err := ix.Search(ctx, SearchInput{Branch: "main", Text: "fix the login flow", K: 5})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(result.Hits) == 0 || result.Hits[0].ID != "b1" {
		t.Fatalf("hits = %+v, want b1 first", result.Hits)
	}
	if result.Hits[0].Snippet != "fix the login flow" {
		t.Errorf("snippet = %q", result.Hits[0].Snippet)
	}
}

func TestUpsertPrecomputedEmbedding(t *testing.T) {
	embedder := &fakeEmbedder{}
	ix := newTestIndex(t, embedder)
	ctx := context.Background()

	block := testBlock("b1", "indexed elsewhere", time.Now().UTC())
	block.Embedding = models.Vector{0, 1, 0, 0}
	if err := ix.Upsert(ctx, "main", block, "hash-1"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if embedder.calls != 0 {
		t.Errorf("provider called %d times for a precomputed vector", embedder.calls)
	}

	result, err := ix.Search(ctx, SearchInput{Branch: "main", Embedding: []float32{0, 1, 0, 0}, K: 1})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(result.Hits) != 1 || result.Hits[0].ID != "b1" {
		t.Fatalf("hits = %+v, want b1", result.Hits)
	}
	if result.Hits[0].Score < 0.999 {
		t.Errorf("score = %v, want cosine 1 against the stored vector", result.Hits[0].Score)
	}
}

func TestSearchFilters(t *testing.T) {
	ix := newTestIndex(t, nil)
	ctx := context.Background()

	put := func(id, ns, typ string, tags []string) {
		t.Helper()
		err := ix.store.Put("main", VectorRecord{
			ID: id, Namespace: ns, Type: typ, Tags: tags, Embedding: []float32{1, 0},
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	put("a", "public", "task", []string{"urgent"})
	put("b", "public", "doc", nil)
	put("c", "team", "task", []string{"urgent", "backend"})

	search := func(in SearchInput) []Hit {
		t.Helper()
		in.Branch = "main"
		in.Embedding = []float32{1, 0}
		res, err := ix.Search(ctx, in)
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		return res.Hits
	}

	if hits := search(SearchInput{Namespace: "team"}); len(hits) != 1 || hits[0].ID != "c" {
		t.Errorf("namespace filter: %+v", hits)
	}
	if hits := search(SearchInput{Type: "task"}); len(hits) != 2 {
		t.Errorf("type filter: %+v", hits)
	}
	if hits := search(SearchInput{Tags: []string{"Backend"}}); len(hits) != 1 || hits[0].ID != "c" {
		t.Errorf("tag filter should normalize case: %+v", hits)
	}
	if hits := search(SearchInput{}); len(hits) != 3 {
		t.Errorf("no filter: %+v", hits)
	}
}

func TestSearchWithoutProvider(t *testing.T) {
	ix := newTestIndex(t, nil)
	ctx := context.Background()

	_, err := ix.Search(ctx, SearchInput{Branch: "main", Text: "anything"})
	if errors.KindOf(err) != errors.KindValidation {
		t.Errorf("text search without provider kind = %v, want validation", errors.KindOf(err))
	}

	_, err = ix.Search(ctx, SearchInput{Branch: "main"})
	if errors.KindOf(err) != errors.KindValidation {
		t.Errorf("empty query kind = %v, want validation", errors.KindOf(err))
	}

	// A caller-provided embedding still works with no provider.
	if _, err := ix.Search(ctx, SearchInput{Branch: "main", Embedding: []float32{1, 0}}); err != nil {
		t.Errorf("embedding query should not need a provider: %v", err)
	}
}

func TestUpsertKeepsNewerRecord(t *testing.T) {
	ix := newTestIndex(t, nil)
	ctx := context.Background()
	newer := time.Now().UTC()
	older := newer.Add(-time.Hour)

	if err := ix.Upsert(ctx, "main", testBlock("b1", "current text", newer), "hash-new"); err != nil {
		t.Fatal(err)
	}
	// A reconciler replay of an older proof must not clobber the record but
	// must still absorb the hash.
	if err := ix.Upsert(ctx, "main", testBlock("b1", "stale text", older), "hash-old"); err != nil {
		t.Fatal(err)
	}

	rec, ok, _ := ix.store.Get("main", "b1")
	if !ok || rec.Snippet != "current text" {
		t.Errorf("stale replay clobbered the record: %+v", rec)
	}
	if seen, _ := ix.SeenCommit("main", "hash-old"); !seen {
		t.Error("stale replay must still mark its hash seen")
	}
}

func TestRemove(t *testing.T) {
	ix := newTestIndex(t, nil)
	ctx := context.Background()

	if err := ix.Upsert(ctx, "main", testBlock("b1", "text", time.Now()), "h1"); err != nil {
		t.Fatal(err)
	}
	if err := ix.Remove(ctx, "main", "b1", "h2"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := ix.store.Get("main", "b1"); ok {
		t.Error("record survived removal")
	}
	if seen, _ := ix.SeenCommit("main", "h2"); !seen {
		t.Error("removal hash not marked seen")
	}
}

// fakeBlocks pages a fixed slice with numeric cursors.
type fakeBlocks struct {
	blocks   []*models.MemoryBlock
	pageSize int
}

func (f *fakeBlocks) QueryBlocks(_ context.Context, filter *models.BlockFilter) (*models.QueryPage, error) {
	offset := 0
	if filter.Cursor != "" {
		var err error
		if offset, err = strconv.Atoi(filter.Cursor); err != nil {
			return nil, err
		}
	}
	end := offset + f.pageSize
	if end > len(f.blocks) {
		end = len(f.blocks)
	}
	page := &models.QueryPage{Blocks: f.blocks[offset:end], Total: len(f.blocks)}
	if end < len(f.blocks) {
		page.NextCursor = strconv.Itoa(end)
	}
	return page, nil
}

func TestRebuild(t *testing.T) {
	embedder := &fakeEmbedder{}
	ix := newTestIndex(t, embedder)
	ctx := context.Background()
	now := time.Now().UTC()

	// Pre-existing state must not survive a rebuild.
	if err := ix.store.Put("main", VectorRecord{ID: "stale"}); err != nil {
		t.Fatal(err)
	}

	var blocks []*models.MemoryBlock
	for i := 0; i < 5; i++ {
		blocks = append(blocks, testBlock(fmt.Sprintf("b%d", i), fmt.Sprintf("text %d", i), now))
	}
	source := &fakeBlocks{blocks: blocks, pageSize: 2}

	total, err := ix.Rebuild(ctx, "main", "", source, nil)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if total != 5 {
		t.Errorf("total = %d, want 5", total)
	}

	count, _ := ix.store.Count("main")
	if count != 5 {
		t.Errorf("indexed = %d, want 5", count)
	}
	if _, ok, _ := ix.store.Get("main", "stale"); ok {
		t.Error("rebuild must drop pre-existing records")
	}
	// 5 blocks across page size 2 means 3 batched embed calls.
	if embedder.calls != 3 {
		t.Errorf("embed calls = %d, want 3 (one per page)", embedder.calls)
	}
}

func TestStats(t *testing.T) {
	ix := newTestIndex(t, &fakeEmbedder{})
	if err := ix.store.Put("main", VectorRecord{ID: "b1"}); err != nil {
		t.Fatal(err)
	}

	stats, err := ix.Stats("main")
	if err != nil {
		t.Fatal(err)
	}
	if stats.Vectors != 1 || stats.Provider != "fake" || stats.GraphEnabled {
		t.Errorf("stats = %+v", stats)
	}
}
