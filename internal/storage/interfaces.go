// Package storage provides composable storage interfaces for the memory
// graph.
//
// The storage layer is designed with small, focused interfaces that can be
// implemented independently and composed as needed. Both backends
// (internal/storage/sqlite and internal/storage/postgres) implement all
// three interfaces on a single store type.
package storage

import "context"

// MemoryStore owns the durable tables (memories, tags, relationships) and
// all constraint and transaction logic for mutating them. Every operation
// that touches more than one row runs inside a single transaction.
type MemoryStore interface {
	// Save creates or updates a memory (upsert semantics, keyed by the
	// user-facing key). When the key already exists the content, metadata,
	// and tag set are replaced in place and updated_at is refreshed; the
	// internal ID is preserved, so existing relationships survive the
	// update. An empty tag list clears all tags.
	// Returns ErrInvalidInput when key or content is empty.
	Save(ctx context.Context, key, content string, tags []string, metadata map[string]interface{}) (*MemoryRecord, error)

	// GetByKey retrieves a memory by its key, with tags attached.
	// Returns ErrNotFound if no memory has that key.
	GetByKey(ctx context.Context, key string) (*MemoryRecord, error)

	// Delete removes a memory by key, cascading to its tags and to every
	// relationship where it is either endpoint. The cascade runs in a
	// single transaction.
	// Returns ErrNotFound if no memory has that key.
	Delete(ctx context.Context, key string) error

	// Link creates a directed, typed, weighted edge between two memories,
	// resolving both keys in one lookup. Duplicate edges and self-loops
	// are permitted.
	// Returns an ErrNotFound-wrapped error naming the unresolved key(s)
	// when either endpoint is missing.
	Link(ctx context.Context, fromKey, toKey, relType string, strength float64) (*RelationshipRecord, error)

	// Stats returns aggregate counters over the whole store.
	Stats(ctx context.Context) (*StoreStats, error)

	// Close releases any resources held by the store.
	Close() error
}

// SearchProvider builds and executes filtered lookups over memories by
// free-text content match and tag membership, with pagination and ordering.
type SearchProvider interface {
	// Search returns memories matching the given filters, ordered by
	// updated_at descending and deduplicated by memory identity.
	Search(ctx context.Context, opts SearchOptions) ([]MemoryRecord, error)

	// List returns memories without filtering, ordered by updated_at
	// descending, with standard offset pagination. No snapshot isolation
	// is guaranteed across pages.
	List(ctx context.Context, opts ListOptions) ([]MemoryRecord, error)
}

// GraphTraverser walks the relationship graph outward from a memory and
// returns the reachable set with depth information.
type GraphTraverser interface {
	// Related performs a breadth-first expansion from the memory with the
	// given key, bounded by maxDepth hops. Edges are traversed as
	// undirected regardless of stored direction. Each reachable memory is
	// reported once, at the minimum depth it was first reached, annotated
	// with the edge it was discovered through. When relType is non-empty
	// it restricts both which edges may be traversed and which edges are
	// reported. The starting memory is never included.
	// Returns ErrNotFound if no memory has the given key; an empty result
	// (not an error) when the memory has no relationships.
	Related(ctx context.Context, key, relType string, maxDepth int) ([]RelatedMemory, error)
}
