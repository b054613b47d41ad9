package index

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rohankatakam/memorybank/internal/config"
	"github.com/rohankatakam/memorybank/internal/errors"
	"github.com/rohankatakam/memorybank/internal/models"
)

// fakeProofSource serves proofs newest-first, matching the reader contract.
type fakeProofSource struct {
	proofs []models.BlockProof
	blocks map[string]*models.MemoryBlock
}

func (f *fakeProofSource) ListProofs(_ context.Context, limit int) ([]models.BlockProof, error) {
	if limit > 0 && len(f.proofs) > limit {
		return f.proofs[:limit], nil
	}
	return f.proofs, nil
}

func (f *fakeProofSource) GetBlock(_ context.Context, id string) (*models.MemoryBlock, error) {
	if b, ok := f.blocks[id]; ok {
		return b, nil
	}
	return nil, errors.New(errors.KindNotFound, fmt.Sprintf("block %q not found", id))
}

func newTestReconciler(t *testing.T, source *fakeProofSource, ix *Index) *Reconciler {
	t.Helper()
	cfg := config.ReconcilerConfig{Enabled: true, Interval: time.Minute, BatchSize: 100}
	return NewReconciler(source, ix, func() string { return "main" }, cfg)
}

func TestSweepReplaysUnseenProofs(t *testing.T) {
	ix := newTestIndex(t, nil)
	now := time.Now().UTC()

	source := &fakeProofSource{
		// Newest first: delete of b2, update of b1, create of b1.
		proofs: []models.BlockProof{
			{ID: "p3", BlockID: "b2", CommitHash: "h3", Operation: models.ProofDelete, Timestamp: now},
			{ID: "p2", BlockID: "b1", CommitHash: "h2", Operation: models.ProofUpdate, Timestamp: now.Add(-time.Minute)},
			{ID: "p1", BlockID: "b1", CommitHash: "h1", Operation: models.ProofCreate, Timestamp: now.Add(-2 * time.Minute)},
		},
		blocks: map[string]*models.MemoryBlock{
			"b1": testBlock("b1", "current", now),
		},
	}
	r := newTestReconciler(t, source, ix)

	replayed, err := r.SweepOnce(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if replayed != 3 {
		t.Errorf("replayed = %d, want 3", replayed)
	}

	if _, ok, _ := ix.store.Get("main", "b1"); !ok {
		t.Error("b1 should be indexed after replay")
	}
	if _, ok, _ := ix.store.Get("main", "b2"); ok {
		t.Error("b2 was deleted and must not be indexed")
	}
	for _, h := range []string{"h1", "h2", "h3"} {
		if seen, _ := ix.SeenCommit("main", h); !seen {
			t.Errorf("hash %s not absorbed", h)
		}
	}

	// A second sweep finds nothing to do.
	replayed, err = r.SweepOnce(context.Background())
	if err != nil || replayed != 0 {
		t.Errorf("second sweep = %d, %v; want 0, nil", replayed, err)
	}
}

func TestSweepHandlesVanishedBlock(t *testing.T) {
	ix := newTestIndex(t, nil)
	source := &fakeProofSource{
		proofs: []models.BlockProof{
			{ID: "p1", BlockID: "gone", CommitHash: "h1", Operation: models.ProofCreate, Timestamp: time.Now()},
		},
		blocks: map[string]*models.MemoryBlock{},
	}
	r := newTestReconciler(t, source, ix)

	replayed, err := r.SweepOnce(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if replayed != 1 {
		t.Errorf("replayed = %d, want 1", replayed)
	}
	if seen, _ := ix.SeenCommit("main", "h1"); !seen {
		t.Error("vanished block's hash must still be absorbed")
	}
	if _, ok, _ := ix.store.Get("main", "gone"); ok {
		t.Error("vanished block must not be indexed")
	}
}

func TestPending(t *testing.T) {
	ix := newTestIndex(t, nil)
	source := &fakeProofSource{
		proofs: []models.BlockProof{
			{ID: "p2", BlockID: "b1", CommitHash: "h2", Operation: models.ProofUpdate, Timestamp: time.Now()},
			{ID: "p1", BlockID: "b1", CommitHash: "h1", Operation: models.ProofCreate, Timestamp: time.Now()},
		},
		blocks: map[string]*models.MemoryBlock{"b1": testBlock("b1", "t", time.Now())},
	}
	r := newTestReconciler(t, source, ix)
	ctx := context.Background()

	pending, err := r.Pending(ctx)
	if err != nil || pending != 2 {
		t.Errorf("pending = %d, %v; want 2", pending, err)
	}

	if _, err := r.SweepOnce(ctx); err != nil {
		t.Fatal(err)
	}
	pending, err = r.Pending(ctx)
	if err != nil || pending != 0 {
		t.Errorf("pending after sweep = %d, %v; want 0", pending, err)
	}
}

func TestStartStopDisabled(t *testing.T) {
	ix := newTestIndex(t, nil)
	r := NewReconciler(&fakeProofSource{}, ix, func() string { return "main" },
		config.ReconcilerConfig{Enabled: false})
	r.Start()
	r.Stop()
}
