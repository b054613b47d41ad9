package index

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rohankatakam/memorybank/internal/config"
	"github.com/rohankatakam/memorybank/internal/errors"
	"github.com/rohankatakam/memorybank/internal/logging"
	"github.com/rohankatakam/memorybank/internal/models"
)

// ProofSource reads proofs and blocks from the SQL store on the active
// branch. The dolt Reader satisfies it.
type ProofSource interface {
	ListProofs(ctx context.Context, limit int) ([]models.BlockProof, error)
	GetBlock(ctx context.Context, id string) (*models.MemoryBlock, error)
}

// Reconciler re-drives index updates whose commits the index never absorbed,
// usually because an index write failed after a successful SQL commit. One
// sweep scans recent proofs and replays the unseen ones.
type Reconciler struct {
	source       ProofSource
	index        *Index
	activeBranch func() string
	cfg          config.ReconcilerConfig
	logger       *slog.Logger

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

func NewReconciler(source ProofSource, ix *Index, activeBranch func() string, cfg config.ReconcilerConfig) *Reconciler {
	return &Reconciler{
		source:       source,
		index:        ix,
		activeBranch: activeBranch,
		cfg:          cfg,
		logger:       logging.Component("reconciler"),
		stop:         make(chan struct{}),
	}
}

// Start launches the periodic sweep. Safe to call when disabled; it then
// does nothing.
func (r *Reconciler) Start() {
	if !r.cfg.Enabled || r.cfg.Interval <= 0 {
		r.logger.Debug("reconciler disabled")
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), r.cfg.Interval)
				replayed, err := r.SweepOnce(ctx)
				cancel()
				if err != nil {
					r.logger.Warn("reconcile sweep failed", "error", err)
				} else if replayed > 0 {
					r.logger.Info("reconciled index", "replayed", replayed)
				}
			case <-r.stop:
				return
			}
		}
	}()
}

// Stop halts the sweep loop and waits for an in-flight sweep to finish.
func (r *Reconciler) Stop() {
	r.once.Do(func() { close(r.stop) })
	r.wg.Wait()
}

// SweepOnce replays unseen proofs on the active branch and returns how many
// it re-drove. Replay order is oldest first so a block's final state wins.
func (r *Reconciler) SweepOnce(ctx context.Context) (int, error) {
	branch := r.activeBranch()
	proofs, err := r.source.ListProofs(ctx, r.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	// ListProofs is newest-first; walk backwards.
	replayed := 0
	for i := len(proofs) - 1; i >= 0; i-- {
		p := proofs[i]
		seen, err := r.index.SeenCommit(branch, p.CommitHash)
		if err != nil {
			return replayed, err
		}
		if seen {
			continue
		}
		if err := r.replay(ctx, branch, p); err != nil {
			return replayed, err
		}
		replayed++
	}
	return replayed, nil
}

func (r *Reconciler) replay(ctx context.Context, branch string, p models.BlockProof) error {
	if p.Operation == models.ProofDelete {
		return r.index.Remove(ctx, branch, p.BlockID, p.CommitHash)
	}
	block, err := r.source.GetBlock(ctx, p.BlockID)
	if err != nil {
		// The block can be gone by now; its delete proof will drop it.
		if errors.HasKind(err, errors.KindNotFound) {
			return r.index.Remove(ctx, branch, p.BlockID, p.CommitHash)
		}
		return err
	}
	return r.index.Upsert(ctx, branch, block, p.CommitHash)
}

// Pending counts recent proofs the index has not absorbed. Health reporting
// surfaces this as index lag.
func (r *Reconciler) Pending(ctx context.Context) (int, error) {
	branch := r.activeBranch()
	proofs, err := r.source.ListProofs(ctx, r.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	pending := 0
	for _, p := range proofs {
		seen, err := r.index.SeenCommit(branch, p.CommitHash)
		if err != nil {
			return 0, err
		}
		if !seen {
			pending++
		}
	}
	return pending, nil
}
