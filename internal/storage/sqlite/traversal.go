package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/1broseidon/memory-graph-mcp/internal/storage"
)

// maxTraversalDepth caps the BFS regardless of the caller's request, so that
// a pathological max_depth cannot turn into an unbounded walk.
const maxTraversalDepth = 10

// edge is one relationship row, as loaded during traversal.
type edge struct {
	fromID   string
	toID     string
	relType  string
	strength float64
}

// Related performs a breadth-first expansion through the relationship graph
// starting from the memory with the given key.
//
// Algorithm:
//  1. Resolve key to the internal memory ID. The start is marked visited so
//     it is never reported, even when the graph contains cycles back to it.
//  2. BFS loop (depth = 1..maxDepth): load all edges touching the current
//     frontier in either direction (storage direction does not gate
//     discoverability), optionally restricted to relType. Every yet-unvisited
//     opposite endpoint is discovered at this depth through the first edge
//     that reaches it (edges are scanned in creation order, so the tie-break
//     is traversal order). Newly discovered memories form the next frontier.
//  3. Fetch the memory records for everything discovered and report them in
//     discovery order with the edge type, strength, and depth of first reach.
//
// When relType is non-empty it filters both traversal and inclusion: an edge
// of a different type is not walked through, so multi-hop results follow a
// strict path of the requested type.
func (s *Store) Related(ctx context.Context, key, relType string, maxDepth int) ([]storage.RelatedMemory, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: key is required", storage.ErrInvalidInput)
	}
	if maxDepth < 1 {
		maxDepth = 1
	}
	if maxDepth > maxTraversalDepth {
		maxDepth = maxTraversalDepth
	}

	var startID string
	err := s.db.QueryRowContext(ctx,
		"SELECT id FROM memories WHERE key = ?", key).Scan(&startID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: no memory with key %q", storage.ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to resolve key %q: %w", key, err)
	}

	type discovery struct {
		id       string
		relType  string
		strength float64
		depth    int
	}

	visited := map[string]bool{startID: true}
	frontier := []string{startID}
	var found []discovery

	for depth := 1; depth <= maxDepth && len(frontier) > 0; depth++ {
		edges, err := s.edgesTouching(ctx, frontier, relType)
		if err != nil {
			return nil, fmt.Errorf("sqlite: traversal depth %d: %w", depth, err)
		}

		frontierSet := make(map[string]bool, len(frontier))
		for _, id := range frontier {
			frontierSet[id] = true
		}

		var next []string
		for _, e := range edges {
			for _, pair := range [][2]string{{e.fromID, e.toID}, {e.toID, e.fromID}} {
				if !frontierSet[pair[0]] || visited[pair[1]] {
					continue
				}
				visited[pair[1]] = true
				found = append(found, discovery{
					id:       pair[1],
					relType:  e.relType,
					strength: e.strength,
					depth:    depth,
				})
				next = append(next, pair[1])
			}
		}

		frontier = next
	}

	if len(found) == 0 {
		return nil, nil
	}

	ids := make([]string, len(found))
	for i, d := range found {
		ids[i] = d.id
	}
	memByID, err := s.memoriesByID(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("sqlite: traversal fetch: %w", err)
	}

	results := make([]storage.RelatedMemory, 0, len(found))
	for _, d := range found {
		mem, ok := memByID[d.id]
		if !ok {
			continue
		}
		results = append(results, storage.RelatedMemory{
			Memory:           mem,
			RelationshipType: d.relType,
			Strength:         d.strength,
			Depth:            d.depth,
		})
	}

	return results, nil
}

// edgesTouching returns relationships where either endpoint is in the
// frontier, in creation order. When relType is non-empty only edges of that
// type are returned.
func (s *Store) edgesTouching(ctx context.Context, frontier []string, relType string) ([]edge, error) {
	inClause := buildInClause(len(frontier))

	query := fmt.Sprintf(`
		SELECT from_memory_id, to_memory_id, relationship_type, strength
		FROM relationships
		WHERE (from_memory_id IN (%s) OR to_memory_id IN (%s))
	`, inClause, inClause)

	args := make([]interface{}, 0, len(frontier)*2+1)
	for _, id := range frontier {
		args = append(args, id)
	}
	for _, id := range frontier {
		args = append(args, id)
	}
	if relType != "" {
		query += " AND relationship_type = ?"
		args = append(args, relType)
	}
	query += " ORDER BY created_at, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edges []edge
	for rows.Next() {
		var e edge
		if err := rows.Scan(&e.fromID, &e.toID, &e.relType, &e.strength); err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// memoriesByID fetches memory records (with tags) for a list of IDs.
func (s *Store) memoriesByID(ctx context.Context, ids []string) (map[string]storage.MemoryRecord, error) {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, key, content, metadata, created_at, updated_at
		FROM memories WHERE id IN (%s)
	`, buildInClause(len(ids))), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	memories, err := scanMemoryRows(rows)
	if err != nil {
		return nil, err
	}
	if err := s.attachTags(ctx, memories); err != nil {
		return nil, err
	}

	result := make(map[string]storage.MemoryRecord, len(memories))
	for _, m := range memories {
		result[m.ID] = m
	}
	return result, nil
}
