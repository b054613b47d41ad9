package links

import (
	"context"
	"fmt"

	"github.com/rohankatakam/memorybank/internal/errors"
	"github.com/rohankatakam/memorybank/internal/models"
	"github.com/rohankatakam/memorybank/internal/relation"
)

// dependencyOrientation maps an edge onto the depends_on direction: the
// returned pair reads "first waits on second". Edges outside the dependency
// pair return false.
func dependencyOrientation(rel, from, to string) (string, string, bool) {
	switch rel {
	case relation.DependsOn:
		return from, to, true
	case relation.Blocks:
		return to, from, true
	}
	return "", "", false
}

// ensureAcyclic rejects a staged edge that would close a loop in the
// dependency subgraph. The committed edges plus the staged one are walked
// breadth-first, so the check is linear in the subgraph size.
func (m *Manager) ensureAcyclic(ctx context.Context, rel, from, to string) error {
	depFrom, depTo, ok := dependencyOrientation(rel, from, to)
	if !ok {
		return nil
	}

	edges, err := m.store.EdgesForRelations(ctx, []string{relation.DependsOn, relation.Blocks})
	if err != nil {
		return err
	}
	adjacency := buildDependencyGraph(edges)

	// The staged edge is depFrom -> depTo. A committed path depTo ~> depFrom
	// would close the loop.
	path := findPath(adjacency, depTo, depFrom)
	if path == nil {
		return nil
	}

	loop := append([]string{depFrom}, path...)
	return errors.New(errors.KindCycleDetected,
		fmt.Sprintf("link would close a dependency cycle through %d block(s)", len(path))).
		WithDetail("from_id", from).
		WithDetail("to_id", to).
		WithDetail("relation", rel).
		WithDetail("cycle", loop)
}

func buildDependencyGraph(edges []models.BlockLink) map[string][]string {
	adjacency := make(map[string][]string, len(edges))
	for _, e := range edges {
		f, t, ok := dependencyOrientation(e.Relation, e.FromID, e.ToID)
		if !ok {
			continue
		}
		adjacency[f] = append(adjacency[f], t)
	}
	return adjacency
}

// findPath returns the node chain from start to target over the adjacency
// map, or nil when target is unreachable.
func findPath(adjacency map[string][]string, start, target string) []string {
	if start == target {
		return []string{start}
	}
	parent := map[string]string{}
	seen := map[string]bool{start: true}
	queue := []string{start}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range adjacency[cur] {
			if seen[next] {
				continue
			}
			seen[next] = true
			parent[next] = cur
			if next == target {
				chain := []string{target}
				for node := target; node != start; node = parent[node] {
					chain = append(chain, parent[node])
				}
				for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
					chain[i], chain[j] = chain[j], chain[i]
				}
				return chain
			}
			queue = append(queue, next)
		}
	}
	return nil
}
