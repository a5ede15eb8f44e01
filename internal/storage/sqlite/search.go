package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/1broseidon/memory-graph-mcp/internal/storage"
)

// Search returns memories matching the given filters, most recently touched
// first. Tag filtering uses OR semantics across the supplied tags; the text
// filter matches the query as a case-insensitive substring of content or
// key. Both filters compose with AND when both are supplied. Rows duplicated
// by the tag join are deduplicated by memory identity.
func (s *Store) Search(ctx context.Context, opts storage.SearchOptions) ([]storage.MemoryRecord, error) {
	opts.Normalize()

	query := "SELECT DISTINCT m.id, m.key, m.content, m.metadata, m.created_at, m.updated_at FROM memories m"

	var conditions []string
	var args []interface{}

	if len(opts.Tags) > 0 {
		query += " JOIN memory_tags t ON t.memory_id = m.id"
		conditions = append(conditions,
			fmt.Sprintf("t.tag IN (%s)", buildInClause(len(opts.Tags))))
		for _, tag := range opts.Tags {
			args = append(args, tag)
		}
	}

	if opts.Query != "" {
		// LIKE is case-insensitive for ASCII in SQLite; the postgres
		// backend uses ILIKE for the same behaviour.
		pattern := "%" + escapeLike(opts.Query) + "%"
		conditions = append(conditions,
			`(m.content LIKE ? ESCAPE '\' OR m.key LIKE ? ESCAPE '\')`)
		args = append(args, pattern, pattern)
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	query += " ORDER BY m.updated_at DESC LIMIT ?"
	args = append(args, opts.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to search memories: %w", err)
	}
	defer rows.Close()

	memories, err := scanMemoryRows(rows)
	if err != nil {
		return nil, err
	}

	if err := s.attachTags(ctx, memories); err != nil {
		return nil, err
	}

	return memories, nil
}

// List returns memories without filtering, most recently touched first, with
// offset pagination.
func (s *Store) List(ctx context.Context, opts storage.ListOptions) ([]storage.MemoryRecord, error) {
	opts.Normalize()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, key, content, metadata, created_at, updated_at
		FROM memories
		ORDER BY updated_at DESC
		LIMIT ? OFFSET ?
	`, opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to list memories: %w", err)
	}
	defer rows.Close()

	memories, err := scanMemoryRows(rows)
	if err != nil {
		return nil, err
	}

	if err := s.attachTags(ctx, memories); err != nil {
		return nil, err
	}

	return memories, nil
}

// escapeLike escapes LIKE wildcards in user input so that a query string
// containing % or _ matches literally.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	s = strings.ReplaceAll(s, "_", `\_`)
	return s
}
