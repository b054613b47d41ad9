package index

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/rohankatakam/memorybank/internal/config"
	"github.com/rohankatakam/memorybank/internal/logging"
	"github.com/rohankatakam/memorybank/internal/models"
)

// GraphMirror keeps a Neo4j projection of blocks and links per branch, used
// to widen semantic hits with their graph neighborhood. It is strictly
// derived state: the SQL store remains the source of truth and the mirror is
// rebuilt the same way the vector side is.
type GraphMirror struct {
	driver   neo4j.DriverWithContext
	database string
	logger   *slog.Logger
}

// NewGraphMirror connects and verifies reachability. Callers should treat a
// nil mirror as "feature off".
func NewGraphMirror(ctx context.Context, cfg config.GraphConfig) (*GraphMirror, error) {
	if cfg.URI == "" || cfg.User == "" {
		return nil, fmt.Errorf("graph mirror enabled but uri/user not configured")
	}
	driver, err := neo4j.NewDriverWithContext(cfg.URI,
		neo4j.BasicAuth(cfg.User, cfg.Password, ""),
		func(c *neo4j.Config) {
			c.MaxConnectionPoolSize = 25
			c.SocketConnectTimeout = 5 * time.Second
			c.SocketKeepalive = true
		})
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("neo4j unreachable at %s: %w", cfg.URI, err)
	}

	database := cfg.Database
	if database == "" {
		database = "neo4j"
	}
	logger := logging.Component("graph-mirror")
	logger.Info("graph mirror connected", "uri", cfg.URI, "database", database)

	return &GraphMirror{driver: driver, database: database, logger: logger}, nil
}

func (g *GraphMirror) Close(ctx context.Context) error {
	return g.driver.Close(ctx)
}

// HealthCheck verifies connectivity.
func (g *GraphMirror) HealthCheck(ctx context.Context) error {
	if err := g.driver.VerifyConnectivity(ctx); err != nil {
		return fmt.Errorf("graph mirror health check: %w", err)
	}
	return nil
}

// UpsertBlock projects one block node.
func (g *GraphMirror) UpsertBlock(ctx context.Context, branch string, b *models.MemoryBlock) error {
	query := `
		MERGE (m:MemoryBlock {id: $id, branch: $branch})
		SET m.namespace = $namespace,
		    m.type = $type,
		    m.state = $state,
		    m.updated_at = $updated_at
	`
	_, err := neo4j.ExecuteQuery(ctx, g.driver, query, map[string]any{
		"id":         b.ID,
		"branch":     branch,
		"namespace":  b.Namespace,
		"type":       b.Type,
		"state":      b.State,
		"updated_at": b.UpdatedAt.UTC().Format(time.RFC3339),
	}, neo4j.EagerResultTransformer, neo4j.ExecuteQueryWithDatabase(g.database))
	if err != nil {
		return fmt.Errorf("mirror block %s: %w", b.ID, err)
	}
	return nil
}

// RemoveBlock drops a block node and every edge touching it.
func (g *GraphMirror) RemoveBlock(ctx context.Context, branch, id string) error {
	query := `MATCH (m:MemoryBlock {id: $id, branch: $branch}) DETACH DELETE m`
	_, err := neo4j.ExecuteQuery(ctx, g.driver, query,
		map[string]any{"id": id, "branch": branch},
		neo4j.EagerResultTransformer, neo4j.ExecuteQueryWithDatabase(g.database))
	if err != nil {
		return fmt.Errorf("unmirror block %s: %w", id, err)
	}
	return nil
}

// UpsertLink projects one edge. Both endpoints must already be mirrored;
// missing endpoints are created bare so ordering does not matter.
func (g *GraphMirror) UpsertLink(ctx context.Context, branch string, l *models.BlockLink) error {
	query := `
		MERGE (a:MemoryBlock {id: $from, branch: $branch})
		MERGE (b:MemoryBlock {id: $to, branch: $branch})
		MERGE (a)-[r:LINKS {relation: $relation}]->(b)
		SET r.priority = $priority
	`
	_, err := neo4j.ExecuteQuery(ctx, g.driver, query, map[string]any{
		"from":     l.FromID,
		"to":       l.ToID,
		"branch":   branch,
		"relation": l.Relation,
		"priority": l.Priority,
	}, neo4j.EagerResultTransformer, neo4j.ExecuteQueryWithDatabase(g.database))
	if err != nil {
		return fmt.Errorf("mirror link %s-[%s]->%s: %w", l.FromID, l.Relation, l.ToID, err)
	}
	return nil
}

// RemoveLink drops one projected edge.
func (g *GraphMirror) RemoveLink(ctx context.Context, branch, from, to, rel string) error {
	query := `
		MATCH (a:MemoryBlock {id: $from, branch: $branch})-[r:LINKS {relation: $relation}]->(b:MemoryBlock {id: $to, branch: $branch})
		DELETE r
	`
	_, err := neo4j.ExecuteQuery(ctx, g.driver, query, map[string]any{
		"from": from, "to": to, "branch": branch, "relation": rel,
	}, neo4j.EagerResultTransformer, neo4j.ExecuteQueryWithDatabase(g.database))
	if err != nil {
		return fmt.Errorf("unmirror link %s-[%s]->%s: %w", from, rel, to, err)
	}
	return nil
}

// NeighborIDs returns ids one hop around the given blocks, excluding the
// inputs themselves. UNWIND keeps it one round trip.
func (g *GraphMirror) NeighborIDs(ctx context.Context, branch string, ids []string, limit int) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 25
	}
	query := `
		UNWIND $ids AS id
		MATCH (m:MemoryBlock {id: id, branch: $branch})-[:LINKS]-(n:MemoryBlock {branch: $branch})
		WHERE NOT n.id IN $ids
		RETURN DISTINCT n.id AS id
		LIMIT $limit
	`
	result, err := neo4j.ExecuteQuery(ctx, g.driver, query,
		map[string]any{"ids": ids, "branch": branch, "limit": limit},
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(g.database),
		neo4j.ExecuteQueryWithReadersRouting())
	if err != nil {
		return nil, fmt.Errorf("graph neighbors: %w", err)
	}
	var out []string
	for _, record := range result.Records {
		if v, ok := record.Get("id"); ok {
			if id, ok := v.(string); ok {
				out = append(out, id)
			}
		}
	}
	return out, nil
}

// DropBranch clears every node mirrored for a branch. Used by rebuild.
func (g *GraphMirror) DropBranch(ctx context.Context, branch string) error {
	query := `MATCH (m:MemoryBlock {branch: $branch}) DETACH DELETE m`
	_, err := neo4j.ExecuteQuery(ctx, g.driver, query,
		map[string]any{"branch": branch},
		neo4j.EagerResultTransformer, neo4j.ExecuteQueryWithDatabase(g.database))
	if err != nil {
		return fmt.Errorf("drop mirrored branch %s: %w", branch, err)
	}
	return nil
}
