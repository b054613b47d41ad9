// Package memorybank assembles the storage, schema, link, and index layers
// into one facade. Tool handlers call the Bank and nothing below it; the Bank
// owns ordering between the SQL commit (authoritative) and the semantic index
// (derived, repaired by the reconciler when a sync is missed).
package memorybank

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/rohankatakam/memorybank/internal/config"
	"github.com/rohankatakam/memorybank/internal/dolt"
	"github.com/rohankatakam/memorybank/internal/index"
	"github.com/rohankatakam/memorybank/internal/links"
	"github.com/rohankatakam/memorybank/internal/logging"
	"github.com/rohankatakam/memorybank/internal/models"
	"github.com/rohankatakam/memorybank/internal/schema"
)

// backend is the coordinator surface the bank uses: branch control, commits,
// health, and bulk block fetch for search hydration.
type backend interface {
	ActiveBranch() string
	Checkout(ctx context.Context, branch string) error
	CreateBranch(ctx context.Context, name, from string) error
	ListBranches(ctx context.Context) ([]models.BranchInfo, error)
	BranchExists(ctx context.Context, branch string) (bool, error)
	Commit(ctx context.Context, message, actor string) (string, error)
	Merge(ctx context.Context, source, strategy string) (*dolt.MergeResult, error)
	GetBlocks(ctx context.Context, ids []string) ([]*models.MemoryBlock, error)
	Health(ctx context.Context) dolt.Health
	Bootstrap(ctx context.Context, defaultNamespace string) error
	Close() error
}

type blockReader interface {
	GetBlock(ctx context.Context, id string) (*models.MemoryBlock, error)
	QueryBlocks(ctx context.Context, f *models.BlockFilter) (*models.QueryPage, error)
	QueryLinks(ctx context.Context, q *models.LinkQuery) (*models.LinkPage, error)
	GetProperties(ctx context.Context, blockID string) ([]models.BlockProperty, error)
	GetProofs(ctx context.Context, blockID string) ([]models.BlockProof, error)
	ListNamespaces(ctx context.Context) ([]models.Namespace, error)
	GetNamespace(ctx context.Context, idOrSlug string) (*models.Namespace, error)
}

type blockWriter interface {
	CreateBlock(ctx context.Context, in dolt.CreateBlockInput) (*models.MemoryBlock, string, error)
	UpdateBlock(ctx context.Context, id string, patch *models.BlockPatch, actor string) (*models.MemoryBlock, string, error)
	DeleteBlock(ctx context.Context, id, actor string) (string, error)
	CreateNamespace(ctx context.Context, in dolt.CreateNamespaceInput) (*models.Namespace, error)
}

type linkManager interface {
	Create(ctx context.Context, in links.CreateInput) ([]models.BlockLink, string, error)
	Delete(ctx context.Context, from, to, rel, actor string) (string, error)
	Neighbors(ctx context.Context, blockID string, f *models.LinkFilter) ([]models.LinkedBlock, error)
}

type schemaRegistry interface {
	Register(ctx context.Context, nodeType string, def json.RawMessage) (*models.NodeSchema, error)
	Get(ctx context.Context, nodeType string, version *int) (*models.NodeSchema, error)
	List(ctx context.Context) ([]*models.NodeSchema, error)
	EnsureSeeds(ctx context.Context) error
}

type semanticIndex interface {
	Upsert(ctx context.Context, branch string, block *models.MemoryBlock, commitHash string) error
	Remove(ctx context.Context, branch, id, commitHash string) error
	UpsertLinks(ctx context.Context, branch string, links []models.BlockLink, commitHash string) error
	RemoveLink(ctx context.Context, branch, from, to, rel, commitHash string) error
	Search(ctx context.Context, in index.SearchInput) (*index.SearchResult, error)
	Rebuild(ctx context.Context, branch, namespace string, blocks index.BlockSource, links index.LinkSource) (int, error)
	Stats(branch string) (index.Stats, error)
	Close(ctx context.Context) error
}

type reconciler interface {
	Start()
	Stop()
	SweepOnce(ctx context.Context) (int, error)
	Pending(ctx context.Context) (int, error)
}

// Bank is the single entry point for every memory operation.
type Bank struct {
	cfg     *config.Config
	backend backend
	reader  blockReader
	writer  blockWriter
	links   linkManager
	schemas schemaRegistry
	index   semanticIndex
	rec     reconciler

	// rebuild sources; the reader pages blocks, the backend walks edges
	blockSource index.BlockSource
	linkSource  index.LinkSource

	logger *slog.Logger
}

// New connects to the backend and wires the full stack. The connection is
// verified eagerly; a bank that returns without error can serve calls.
func New(ctx context.Context, cfg *config.Config) (*Bank, error) {
	co, err := dolt.NewCoordinator(ctx, cfg)
	if err != nil {
		return nil, err
	}

	reader := dolt.NewReader(co)
	registry := schema.NewRegistry(co)
	writer := dolt.NewWriter(co, reader, registry, cfg)
	linkMgr := links.NewManager(co, cfg)

	ix, err := index.New(ctx, cfg.Index)
	if err != nil {
		co.Close()
		return nil, err
	}

	b := &Bank{
		cfg:         cfg,
		backend:     co,
		reader:      reader,
		writer:      writer,
		links:       linkMgr,
		schemas:     registry,
		index:       ix,
		rec:         index.NewReconciler(reader, ix, co.ActiveBranch, cfg.Reconciler),
		blockSource: reader,
		linkSource:  co,
		logger:      logging.Component("bank"),
	}
	b.logger.Info("memory bank ready",
		"branch", co.ActiveBranch(), "index_provider", cfg.Index.Provider)
	return b, nil
}

// EnsureReady verifies the backend has been bootstrapped and the seed schemas
// are registered. Serve refuses to start without this.
func (b *Bank) EnsureReady(ctx context.Context) error {
	return b.schemas.EnsureSeeds(ctx)
}

// Bootstrap creates the tables, the default namespace, and the seed schemas.
// Safe to run repeatedly.
func (b *Bank) Bootstrap(ctx context.Context) error {
	if err := b.backend.Bootstrap(ctx, b.cfg.Namespace.Default); err != nil {
		return err
	}
	return b.schemas.EnsureSeeds(ctx)
}

// Start launches the background loops: the coordinator health ticker and the
// index reconciler.
func (b *Bank) Start() {
	if co, ok := b.backend.(*dolt.Coordinator); ok {
		co.StartHealthLoop(b.cfg.Runtime.HealthCheckInterval)
	}
	if b.rec != nil {
		b.rec.Start()
	}
}

// Close stops background work and releases connections and index files.
func (b *Bank) Close(ctx context.Context) error {
	if b.rec != nil {
		b.rec.Stop()
	}
	if err := b.index.Close(ctx); err != nil {
		b.logger.Warn("index close", "error", err)
	}
	return b.backend.Close()
}

// ActiveBranch reports the branch all reads and writes currently target.
func (b *Bank) ActiveBranch() string {
	return b.backend.ActiveBranch()
}

// DefaultDeadline bounds a tool call when the caller sets no deadline.
func (b *Bank) DefaultDeadline() time.Duration {
	return b.cfg.Runtime.DefaultDeadline
}
