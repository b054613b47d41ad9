package memorybank

import (
	"context"
	"time"

	"github.com/rohankatakam/memorybank/internal/dolt"
	"github.com/rohankatakam/memorybank/internal/errors"
	"github.com/rohankatakam/memorybank/internal/models"
)

// BlockMutation reports a durable block write. IndexSynced false means the
// SQL commit stands but the semantic index missed it; the reconciler replays
// it from the proof row, and Warning carries the sync error meanwhile.
type BlockMutation struct {
	Block       *models.MemoryBlock `json:"block,omitempty"`
	BlockID     string              `json:"block_id"`
	CommitHash  string              `json:"commit_hash"`
	Branch      string              `json:"branch"`
	Timestamp   time.Time           `json:"timestamp"`
	IndexSynced bool                `json:"index_synced"`
	Warning     *ResultError        `json:"warning,omitempty"`
}

// CreateBlock validates, writes, and indexes a new memory block.
func (b *Bank) CreateBlock(ctx context.Context, in dolt.CreateBlockInput) (*BlockMutation, error) {
	block, hash, err := b.writer.CreateBlock(ctx, in)
	if err != nil {
		return nil, err
	}
	return b.blockMutation(ctx, block, block.ID, hash, models.ProofCreate), nil
}

// UpdateBlock applies a partial update. Patch.IfVersion makes it conditional
// on the stored block_version.
func (b *Bank) UpdateBlock(ctx context.Context, id string, patch *models.BlockPatch, actor string) (*BlockMutation, error) {
	block, hash, err := b.writer.UpdateBlock(ctx, id, patch, actor)
	if err != nil {
		return nil, err
	}
	return b.blockMutation(ctx, block, id, hash, models.ProofUpdate), nil
}

// DeleteBlock removes a block and everything attached to it. The delete
// proof row survives so the reconciler can drop the index entry even if the
// inline sync below fails.
func (b *Bank) DeleteBlock(ctx context.Context, id, actor string) (*BlockMutation, error) {
	hash, err := b.writer.DeleteBlock(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	return b.blockMutation(ctx, nil, id, hash, models.ProofDelete), nil
}

// blockMutation stamps the envelope and runs the best-effort index sync. A
// sync failure downgrades the mutation, never fails it: the commit already
// happened and rolling it back for a derived view would lose data.
func (b *Bank) blockMutation(ctx context.Context, block *models.MemoryBlock, id, hash, op string) *BlockMutation {
	mut := &BlockMutation{
		Block:       block,
		BlockID:     id,
		CommitHash:  hash,
		Branch:      b.backend.ActiveBranch(),
		Timestamp:   time.Now().UTC(),
		IndexSynced: true,
	}

	var err error
	if op == models.ProofDelete {
		err = b.index.Remove(ctx, mut.Branch, id, hash)
	} else {
		err = b.index.Upsert(ctx, mut.Branch, block, hash)
	}
	if err != nil {
		mut.IndexSynced = false
		mut.Warning = Describe(errors.Wrap(err, errors.KindIndexSyncFailed,
			"index sync failed; the reconciler will replay this commit").
			WithDetail("block_id", id).
			WithDetail("commit_hash", hash))
		b.logger.Warn("index sync failed",
			"block_id", id, "op", op, "commit", hash, "error", err)
	}
	return mut
}

// BlockDetail is a block plus its optional side tables.
type BlockDetail struct {
	Block      *models.MemoryBlock    `json:"block"`
	Properties []models.BlockProperty `json:"properties,omitempty"`
	Proofs     []models.BlockProof    `json:"proofs,omitempty"`
}

// GetBlockOptions selects which side tables to load with a block.
type GetBlockOptions struct {
	IncludeProperties bool
	IncludeProofs     bool
}

// GetBlock loads one block by id from the active branch.
func (b *Bank) GetBlock(ctx context.Context, id string, opts GetBlockOptions) (*BlockDetail, error) {
	block, err := b.reader.GetBlock(ctx, id)
	if err != nil {
		return nil, err
	}
	detail := &BlockDetail{Block: block}
	if opts.IncludeProperties {
		if detail.Properties, err = b.reader.GetProperties(ctx, id); err != nil {
			return nil, err
		}
	}
	if opts.IncludeProofs {
		if detail.Proofs, err = b.reader.GetProofs(ctx, id); err != nil {
			return nil, err
		}
	}
	return detail, nil
}

// QueryBlocks pages through blocks matching the filter.
func (b *Bank) QueryBlocks(ctx context.Context, f *models.BlockFilter) (*models.QueryPage, error) {
	return b.reader.QueryBlocks(ctx, f)
}
