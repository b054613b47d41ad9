package memorybank

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rohankatakam/memorybank/internal/dolt"
	"github.com/rohankatakam/memorybank/internal/index"
	"github.com/rohankatakam/memorybank/internal/models"
)

// Branches lists all branches with their heads; the active one is marked.
func (b *Bank) Branches(ctx context.Context) ([]models.BranchInfo, error) {
	return b.backend.ListBranches(ctx)
}

// BranchHead pairs the active branch with its head commit.
type BranchHead struct {
	Branch string `json:"branch"`
	Head   string `json:"head,omitempty"`
}

// ActiveBranchInfo reports the branch the session sits on and its head.
func (b *Bank) ActiveBranchInfo(ctx context.Context) (*BranchHead, error) {
	branches, err := b.backend.ListBranches(ctx)
	if err != nil {
		return nil, err
	}
	info := &BranchHead{Branch: b.backend.ActiveBranch()}
	for _, br := range branches {
		if br.Name == info.Branch {
			info.Head = br.Hash
			break
		}
	}
	return info, nil
}

// BranchChange reports a branch switch.
type BranchChange struct {
	Branch   string `json:"branch"`
	Previous string `json:"previous,omitempty"`
}

// Checkout switches every subsequent operation to the named branch.
func (b *Bank) Checkout(ctx context.Context, branch string) (*BranchChange, error) {
	previous := b.backend.ActiveBranch()
	if err := b.backend.Checkout(ctx, branch); err != nil {
		return nil, err
	}
	return &BranchChange{Branch: branch, Previous: previous}, nil
}

// CreateBranchResult reports a branch fork.
type CreateBranchResult struct {
	Name         string `json:"name"`
	From         string `json:"from"`
	CheckedOut   bool   `json:"checked_out"`
	ActiveBranch string `json:"active_branch"`
}

// CreateBranch forks a branch from the given base (default: the active
// branch), optionally checking it out in the same call.
func (b *Bank) CreateBranch(ctx context.Context, name, from string, checkout bool) (*CreateBranchResult, error) {
	if from == "" {
		from = b.backend.ActiveBranch()
	}
	if err := b.backend.CreateBranch(ctx, name, from); err != nil {
		return nil, err
	}
	if checkout {
		if err := b.backend.Checkout(ctx, name); err != nil {
			return nil, err
		}
	}
	return &CreateBranchResult{
		Name:         name,
		From:         from,
		CheckedOut:   checkout,
		ActiveBranch: b.backend.ActiveBranch(),
	}, nil
}

// CommitResult reports an explicit checkpoint.
type CommitResult struct {
	Hash      string    `json:"hash"`
	Branch    string    `json:"branch"`
	Timestamp time.Time `json:"timestamp"`
}

// Commit checkpoints any staged working-set rows on the active branch. With
// nothing staged it returns the current head. An empty message gets a stamp
// rather than a rejection; agents habitually omit it.
func (b *Bank) Commit(ctx context.Context, message, actor string) (*CommitResult, error) {
	if strings.TrimSpace(message) == "" {
		message = "Memory bank checkpoint"
	}
	hash, err := b.backend.Commit(ctx, message, actor)
	if err != nil {
		return nil, err
	}
	return &CommitResult{
		Hash:      hash,
		Branch:    b.backend.ActiveBranch(),
		Timestamp: time.Now().UTC(),
	}, nil
}

// MergeOutcome reports a merge into the active branch.
type MergeOutcome struct {
	Result   *dolt.MergeResult `json:"result"`
	Branch   string            `json:"branch"`
	Source   string            `json:"source"`
	Strategy string            `json:"strategy"`
}

// Merge merges source into the active branch. On success the merged commits
// carry proof rows the index has not seen, so a reconciler sweep is kicked
// off to fold them in.
func (b *Bank) Merge(ctx context.Context, source, strategy string) (*MergeOutcome, error) {
	if strategy == "" {
		strategy = dolt.MergeThreeWay
	}
	res, err := b.backend.Merge(ctx, source, strategy)
	if err != nil {
		return nil, err
	}
	if b.rec != nil {
		if n, err := b.rec.SweepOnce(ctx); err != nil {
			b.logger.Warn("post-merge index sweep failed", "error", err)
		} else if n > 0 {
			b.logger.Info("post-merge index sweep", "replayed", n)
		}
	}
	return &MergeOutcome{
		Result:   res,
		Branch:   b.backend.ActiveBranch(),
		Source:   source,
		Strategy: strategy,
	}, nil
}

// Namespaces lists all isolation scopes.
func (b *Bank) Namespaces(ctx context.Context) ([]models.Namespace, error) {
	return b.reader.ListNamespaces(ctx)
}

// GetNamespace resolves a namespace by id or slug.
func (b *Bank) GetNamespace(ctx context.Context, idOrSlug string) (*models.Namespace, error) {
	return b.reader.GetNamespace(ctx, idOrSlug)
}

// CreateNamespace registers a new isolation scope.
func (b *Bank) CreateNamespace(ctx context.Context, in dolt.CreateNamespaceInput) (*models.Namespace, error) {
	return b.writer.CreateNamespace(ctx, in)
}

// RegisterSchema stores a JSON Schema for a node type. Each registration
// lands as the next version, even when the definition is unchanged.
func (b *Bank) RegisterSchema(ctx context.Context, nodeType string, def json.RawMessage) (*models.NodeSchema, error) {
	return b.schemas.Register(ctx, nodeType, def)
}

// GetSchema fetches one schema, latest unless a version is pinned.
func (b *Bank) GetSchema(ctx context.Context, nodeType string, version *int) (*models.NodeSchema, error) {
	return b.schemas.Get(ctx, nodeType, version)
}

// Schemas lists the latest version of every registered node type.
func (b *Bank) Schemas(ctx context.Context) ([]*models.NodeSchema, error) {
	return b.schemas.List(ctx)
}

// HealthReport aggregates backend, index, and reconciler state.
type HealthReport struct {
	Healthy      bool         `json:"healthy"`
	ActiveBranch string       `json:"active_branch"`
	Backend      dolt.Health  `json:"backend"`
	Index        *index.Stats `json:"index,omitempty"`
	IndexLag     *int         `json:"index_lag,omitempty"`
}

// Health reports liveness. Index trouble degrades the report but only a
// backend failure marks it unhealthy; the bank still serves SQL without its
// derived views.
func (b *Bank) Health(ctx context.Context) HealthReport {
	backendHealth := b.backend.Health(ctx)
	report := HealthReport{
		Healthy:      backendHealth.Healthy,
		ActiveBranch: backendHealth.ActiveBranch,
		Backend:      backendHealth,
	}
	if stats, err := b.index.Stats(backendHealth.ActiveBranch); err != nil {
		b.logger.Warn("index stats", "error", err)
	} else {
		report.Index = &stats
	}
	if b.rec != nil {
		if lag, err := b.rec.Pending(ctx); err != nil {
			b.logger.Warn("index lag probe", "error", err)
		} else {
			report.IndexLag = &lag
		}
	}
	return report
}
