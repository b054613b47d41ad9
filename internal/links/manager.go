// Package links manages the typed edge graph between memory blocks: relation
// canonicalization, bidirectional expansion, duplicate and cycle rejection,
// and neighbor traversal.
package links

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rohankatakam/memorybank/internal/config"
	"github.com/rohankatakam/memorybank/internal/errors"
	"github.com/rohankatakam/memorybank/internal/logging"
	"github.com/rohankatakam/memorybank/internal/models"
	"github.com/rohankatakam/memorybank/internal/relation"
)

// Store is the SQL surface the manager needs. The dolt Coordinator satisfies
// it; tests use an in-memory fake.
type Store interface {
	ActiveBranch() string
	BlockExists(ctx context.Context, id string) (bool, error)
	InsertLinks(ctx context.Context, links []*models.BlockLink, actor string) (string, error)
	DeleteLink(ctx context.Context, fromID, toID, rel, actor string) (string, error)
	DeleteLinksTouching(ctx context.Context, blockID, actor string) (int, string, error)
	LinksFrom(ctx context.Context, blockID, rel string) ([]models.BlockLink, error)
	LinksTo(ctx context.Context, blockID, rel string) ([]models.BlockLink, error)
	EdgesForRelations(ctx context.Context, rels []string) ([]models.BlockLink, error)
	GetBlocks(ctx context.Context, ids []string) ([]*models.MemoryBlock, error)
}

// Manager wraps the link store with vocabulary and graph rules.
type Manager struct {
	store    Store
	branches config.BranchConfig
	logger   *slog.Logger
}

func NewManager(store Store, cfg *config.Config) *Manager {
	return &Manager{
		store:    store,
		branches: cfg.Branch,
		logger:   logging.Component("links"),
	}
}

// CreateInput carries one link request. Relation accepts aliases; everything
// stored is canonical.
type CreateInput struct {
	From          string
	To            string
	Relation      string
	Bidirectional bool
	Priority      int
	Metadata      models.JSONMap
	Actor         string
}

// Create validates and writes a link, plus its inverse when Bidirectional is
// set. Both rows of a bidirectional pair land in one commit. Returns the
// written rows and the commit hash.
func (m *Manager) Create(ctx context.Context, in CreateInput) ([]models.BlockLink, string, error) {
	rel, err := relation.Canonical(in.Relation)
	if err != nil {
		return nil, "", err
	}
	if in.From == "" || in.To == "" {
		return nil, "", errors.New(errors.KindValidation, "link requires both from and to block ids")
	}
	if in.From == in.To {
		return nil, "", errors.New(errors.KindValidation,
			fmt.Sprintf("block %q cannot link to itself", in.From)).
			WithDetail("block_id", in.From)
	}
	if err := m.guardWritable(); err != nil {
		return nil, "", err
	}

	// Resolve the inverse before any graph work so a NoInverseRelation
	// surfaces without side effects.
	var inverse string
	if in.Bidirectional {
		if inverse, err = relation.Inverse(rel); err != nil {
			return nil, "", err
		}
	}

	for _, id := range []string{in.From, in.To} {
		ok, err := m.store.BlockExists(ctx, id)
		if err != nil {
			return nil, "", err
		}
		if !ok {
			return nil, "", errors.New(errors.KindNotFound,
				fmt.Sprintf("block %q not found", id)).
				WithDetail("block_id", id)
		}
	}

	if err := m.ensureAcyclic(ctx, rel, in.From, in.To); err != nil {
		return nil, "", err
	}

	now := time.Now().UTC()
	rows := []*models.BlockLink{{
		FromID:    in.From,
		ToID:      in.To,
		Relation:  rel,
		Priority:  in.Priority,
		Metadata:  in.Metadata,
		CreatedBy: in.Actor,
		CreatedAt: now,
		UpdatedAt: now,
	}}
	if in.Bidirectional {
		rows = append(rows, &models.BlockLink{
			FromID:    in.To,
			ToID:      in.From,
			Relation:  inverse,
			Priority:  in.Priority,
			Metadata:  in.Metadata,
			CreatedBy: in.Actor,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}

	hash, err := m.store.InsertLinks(ctx, rows, in.Actor)
	if err != nil {
		return nil, "", err
	}

	m.logger.Info("link created",
		"from", in.From, "to", in.To, "relation", rel, "bidirectional", in.Bidirectional)

	out := make([]models.BlockLink, len(rows))
	for i, r := range rows {
		out[i] = *r
	}
	return out, hash, nil
}

// Delete removes one edge. The relation may be an alias. Returns the commit
// hash.
func (m *Manager) Delete(ctx context.Context, from, to, rel, actor string) (string, error) {
	canonical, err := relation.Canonical(rel)
	if err != nil {
		return "", err
	}
	if err := m.guardWritable(); err != nil {
		return "", err
	}
	return m.store.DeleteLink(ctx, from, to, canonical, actor)
}

// DeleteAllFor removes every edge touching a block, committed as one unlink.
// Block deletion clears its edges inside its own transaction; this is the
// standalone form for detaching a block without removing it.
func (m *Manager) DeleteAllFor(ctx context.Context, blockID, actor string) (int, string, error) {
	if err := m.guardWritable(); err != nil {
		return 0, "", err
	}
	return m.store.DeleteLinksTouching(ctx, blockID, actor)
}

// Neighbors walks the graph around a block up to filter.Depth hops,
// bidirectionally by default. Each result carries the edge that reached it
// and the hop count.
func (m *Manager) Neighbors(ctx context.Context, blockID string, filter *models.LinkFilter) ([]models.LinkedBlock, error) {
	if filter == nil {
		filter = &models.LinkFilter{}
	}
	rel := ""
	if filter.Relation != "" {
		var err error
		if rel, err = relation.Canonical(filter.Relation); err != nil {
			return nil, err
		}
	}
	direction := filter.Direction
	switch direction {
	case "":
		direction = models.DirectionBoth
	case models.DirectionOut, models.DirectionIn, models.DirectionBoth:
	default:
		return nil, errors.New(errors.KindValidation,
			fmt.Sprintf("unknown direction %q", filter.Direction)).
			WithDetail("allowed", []string{models.DirectionOut, models.DirectionIn, models.DirectionBoth})
	}
	depth := filter.Depth
	if depth <= 0 {
		depth = 1
	}
	if depth > maxTraversalDepth {
		depth = maxTraversalDepth
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultNeighborLimit
	}

	if ok, err := m.store.BlockExists(ctx, blockID); err != nil {
		return nil, err
	} else if !ok {
		return nil, errors.New(errors.KindNotFound,
			fmt.Sprintf("block %q not found", blockID)).
			WithDetail("block_id", blockID)
	}

	type hop struct {
		id    string
		depth int
	}
	visited := map[string]bool{blockID: true}
	frontier := []hop{{id: blockID, depth: 0}}
	var found []models.LinkedBlock

	for len(frontier) > 0 && len(found) < limit {
		cur := frontier[0]
		frontier = frontier[1:]
		if cur.depth == depth {
			continue
		}

		var edges []edgeHit
		if direction == models.DirectionOut || direction == models.DirectionBoth {
			out, err := m.store.LinksFrom(ctx, cur.id, rel)
			if err != nil {
				return nil, err
			}
			for _, l := range out {
				edges = append(edges, edgeHit{link: l, neighbor: l.ToID, direction: models.DirectionOut})
			}
		}
		if direction == models.DirectionIn || direction == models.DirectionBoth {
			in, err := m.store.LinksTo(ctx, cur.id, rel)
			if err != nil {
				return nil, err
			}
			for _, l := range in {
				edges = append(edges, edgeHit{link: l, neighbor: l.FromID, direction: models.DirectionIn})
			}
		}

		for _, e := range edges {
			if visited[e.neighbor] {
				continue
			}
			visited[e.neighbor] = true
			link := e.link
			found = append(found, models.LinkedBlock{
				Link:      &link,
				Depth:     cur.depth + 1,
				Direction: e.direction,
			})
			frontier = append(frontier, hop{id: e.neighbor, depth: cur.depth + 1})
			if len(found) == limit {
				break
			}
		}
	}

	if len(found) == 0 {
		return []models.LinkedBlock{}, nil
	}

	ids := make([]string, len(found))
	for i, f := range found {
		ids[i] = neighborID(f)
	}
	blocks, err := m.store.GetBlocks(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*models.MemoryBlock, len(blocks))
	for _, b := range blocks {
		byID[b.ID] = b
	}
	for i := range found {
		found[i].Block = byID[neighborID(found[i])]
	}
	return found, nil
}

const (
	maxTraversalDepth    = 5
	defaultNeighborLimit = 100
)

type edgeHit struct {
	link      models.BlockLink
	neighbor  string
	direction string
}

func neighborID(lb models.LinkedBlock) string {
	if lb.Direction == models.DirectionIn {
		return lb.Link.FromID
	}
	return lb.Link.ToID
}

func (m *Manager) guardWritable() error {
	branch := m.store.ActiveBranch()
	if m.branches.IsProtected(branch) {
		return errors.New(errors.KindProtectedBranch,
			fmt.Sprintf("branch %q is protected; create a work branch and merge instead", branch)).
			WithDetail("branch", branch).
			WithDetail("protected", m.branches.Protected)
	}
	return nil
}
