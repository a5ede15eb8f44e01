package storage

import (
	"errors"
	"time"
)

var (
	// ErrNotFound indicates that the requested memory (or a relationship
	// endpoint) does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")
)

// MemoryRecord is a stored memory: a unique user-facing key, free-form
// content, an arbitrary metadata document, and zero or more tags. The ID is
// an internal opaque identifier assigned at creation and never reused;
// relationships reference memories by ID, so re-saving a key preserves its
// existing links.
type MemoryRecord struct {
	ID        string                 `json:"id"`
	Key       string                 `json:"key"`
	Content   string                 `json:"content"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Tags      []string               `json:"tags,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// RelationshipRecord is a directed, typed, weighted edge between two
// memories. Edges are stored directed as created but traversed as undirected
// for discovery.
type RelationshipRecord struct {
	ID        string    `json:"id"`
	FromID    string    `json:"from_id"`
	ToID      string    `json:"to_id"`
	FromKey   string    `json:"from_key"`
	ToKey     string    `json:"to_key"`
	Type      string    `json:"relationship_type"`
	Strength  float64   `json:"strength"`
	CreatedAt time.Time `json:"created_at"`
}

// RelatedMemory is a memory discovered by relationship traversal, annotated
// with the edge it was first reached through and the hop distance from the
// source memory.
type RelatedMemory struct {
	Memory           MemoryRecord `json:"memory"`
	RelationshipType string       `json:"relationship_type"`
	Strength         float64      `json:"strength"`
	Depth            int          `json:"depth"`
}

// StoreStats holds aggregate counters over the whole store.
type StoreStats struct {
	MemoryCount       int `json:"memory_count"`
	RelationshipCount int `json:"relationship_count"`
	DistinctTagCount  int `json:"distinct_tag_count"`
	TagCount          int `json:"tag_count"`
}

// SearchOptions filters memories by free-text match and tag membership.
// Both filters compose with logical AND when both are supplied.
type SearchOptions struct {
	// Query restricts results to memories whose content or key contains
	// this substring. Matching is case-insensitive in all backends.
	// Empty string means no text filter.
	Query string

	// Tags restricts results to memories carrying at least one of these
	// tags (OR semantics across the supplied tags). Empty means no filter.
	Tags []string

	// Limit is the maximum number of results (default 10, max 100).
	Limit int
}

// Normalize applies defaults and bounds to the SearchOptions.
func (o *SearchOptions) Normalize() {
	if o.Limit < 1 {
		o.Limit = 10
	}
	if o.Limit > 100 {
		o.Limit = 100
	}
}

// ListOptions provides offset pagination for unfiltered listings.
type ListOptions struct {
	// Limit is the maximum number of results (default 50, max 200).
	Limit int

	// Offset is the number of results to skip.
	Offset int
}

// Normalize applies defaults and bounds to the ListOptions.
func (o *ListOptions) Normalize() {
	if o.Limit < 1 {
		o.Limit = 50
	}
	if o.Limit > 200 {
		o.Limit = 200
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
}
