package dolt

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/rohankatakam/memorybank/internal/errors"
	"github.com/rohankatakam/memorybank/internal/models"
)

const linkColumns = `from_id, to_id, relation, priority, link_metadata,
	created_by, created_at, updated_at`

// BlockExists reports whether a block row exists on the active branch.
func (co *Coordinator) BlockExists(ctx context.Context, id string) (bool, error) {
	var n int
	err := co.Active().Read(ctx, func(e Execer) error {
		return e.GetContext(ctx, &n,
			"SELECT COUNT(*) FROM memory_blocks WHERE id = ?", id)
	})
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// InsertLink writes one edge and commits it.
func (co *Coordinator) InsertLink(ctx context.Context, link *models.BlockLink, actor string) error {
	_, err := co.InsertLinks(ctx, []*models.BlockLink{link}, actor)
	return err
}

// InsertLinks writes a set of edges under a single commit, so a bidirectional
// pair lands atomically. A duplicate anywhere in the set fails the whole
// write. Returns the commit hash.
func (co *Coordinator) InsertLinks(ctx context.Context, links []*models.BlockLink, actor string) (string, error) {
	if len(links) == 0 {
		return "", nil
	}
	var hash string
	var current *models.BlockLink
	err := co.Active().Write(ctx, func(e Execer) error {
		for _, link := range links {
			current = link
			if _, err := e.ExecContext(ctx, `
				INSERT INTO block_links
				    (from_id, to_id, relation, priority, link_metadata, created_by, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				link.FromID, link.ToID, link.Relation, link.Priority, link.Metadata,
				link.CreatedBy, link.CreatedAt, link.UpdatedAt,
			); err != nil {
				return err
			}
		}
		current = nil
		message := fmt.Sprintf("Link %s -[%s]-> %s", links[0].FromID, links[0].Relation, links[0].ToID)
		if len(links) > 1 {
			message = fmt.Sprintf("%s (+%d more)", message, len(links)-1)
		}
		var err error
		hash, err = commitAll(ctx, e, message, actor)
		return err
	})
	if err != nil && errors.HasKind(err, errors.KindDuplicate) && current != nil {
		return "", errors.Wrap(err, errors.KindDuplicate,
			fmt.Sprintf("link %s -[%s]-> %s already exists",
				current.FromID, current.Relation, current.ToID)).
			WithDetail("from_id", current.FromID).
			WithDetail("to_id", current.ToID).
			WithDetail("relation", current.Relation)
	}
	if err != nil {
		return "", err
	}
	return hash, nil
}

// DeleteLink removes one edge and commits the removal. Returns the commit
// hash.
func (co *Coordinator) DeleteLink(ctx context.Context, fromID, toID, rel, actor string) (string, error) {
	var hash string
	err := co.Active().Write(ctx, func(e Execer) error {
		res, err := e.ExecContext(ctx, `
			DELETE FROM block_links
			WHERE from_id = ? AND to_id = ? AND relation = ?`, fromID, toID, rel)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return errors.New(errors.KindNotFound,
				fmt.Sprintf("link %s -[%s]-> %s not found", fromID, rel, toID)).
				WithDetail("from_id", fromID).
				WithDetail("to_id", toID).
				WithDetail("relation", rel)
		}
		hash, err = commitAll(ctx, e,
			fmt.Sprintf("Unlink %s -[%s]-> %s", fromID, rel, toID), actor)
		return err
	})
	if err != nil {
		return "", err
	}
	return hash, nil
}

// DeleteLinksTouching removes every edge into or out of a block under one
// commit and reports how many went. Zero edges is a clean no-op with no
// commit.
func (co *Coordinator) DeleteLinksTouching(ctx context.Context, blockID, actor string) (int, string, error) {
	var removed int
	var hash string
	err := co.Active().Write(ctx, func(e Execer) error {
		removed, hash = 0, ""
		res, err := e.ExecContext(ctx,
			"DELETE FROM block_links WHERE from_id = ? OR to_id = ?", blockID, blockID)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return nil
		}
		removed = int(affected)
		hash, err = commitAll(ctx, e,
			fmt.Sprintf("Unlink all edges of %s (%d removed)", blockID, removed), actor)
		return err
	})
	if err != nil {
		return 0, "", err
	}
	return removed, hash, nil
}

// LinksFrom returns outgoing edges of a block, optionally narrowed to one
// relation. Highest priority first.
func (co *Coordinator) LinksFrom(ctx context.Context, blockID, rel string) ([]models.BlockLink, error) {
	var links []models.BlockLink
	err := co.Active().Read(ctx, func(e Execer) error {
		query := "SELECT " + linkColumns + " FROM block_links WHERE from_id = ?"
		args := []any{blockID}
		if rel != "" {
			query += " AND relation = ?"
			args = append(args, rel)
		}
		query += " ORDER BY priority DESC, created_at"
		return e.SelectContext(ctx, &links, query, args...)
	})
	if err != nil {
		return nil, err
	}
	return links, nil
}

// LinksTo returns incoming edges of a block.
func (co *Coordinator) LinksTo(ctx context.Context, blockID, rel string) ([]models.BlockLink, error) {
	var links []models.BlockLink
	err := co.Active().Read(ctx, func(e Execer) error {
		query := "SELECT " + linkColumns + " FROM block_links WHERE to_id = ?"
		args := []any{blockID}
		if rel != "" {
			query += " AND relation = ?"
			args = append(args, rel)
		}
		query += " ORDER BY priority DESC, created_at"
		return e.SelectContext(ctx, &links, query, args...)
	})
	if err != nil {
		return nil, err
	}
	return links, nil
}

// EdgesForRelations loads every edge whose relation is in rels. The cycle
// check walks these in memory.
func (co *Coordinator) EdgesForRelations(ctx context.Context, rels []string) ([]models.BlockLink, error) {
	if len(rels) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(
		"SELECT "+linkColumns+" FROM block_links WHERE relation IN (?)", rels)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindFatal, "build relation query")
	}
	var links []models.BlockLink
	err = co.Active().Read(ctx, func(e Execer) error {
		return e.SelectContext(ctx, &links, query, args...)
	})
	if err != nil {
		return nil, err
	}
	return links, nil
}

// GetBlocks bulk-fetches blocks by id, preserving no particular order.
func (co *Coordinator) GetBlocks(ctx context.Context, ids []string) ([]*models.MemoryBlock, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(
		"SELECT "+blockColumns+" FROM memory_blocks WHERE id IN (?)", ids)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindFatal, "build block query")
	}
	var blocks []*models.MemoryBlock
	err = co.Active().Read(ctx, func(e Execer) error {
		return e.SelectContext(ctx, &blocks, query, args...)
	})
	if err != nil {
		return nil, err
	}
	return blocks, nil
}
