package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/1broseidon/memory-graph-mcp/internal/storage"
)

// Search returns memories matching the given filters, most recently touched
// first. Semantics match the sqlite backend: OR across tags, case-insensitive
// substring over content and key (ILIKE), AND composition of the two
// filters, deduplicated by memory identity.
func (s *Store) Search(ctx context.Context, opts storage.SearchOptions) ([]storage.MemoryRecord, error) {
	opts.Normalize()

	query := "SELECT DISTINCT m.id, m.key, m.content, m.metadata, m.created_at, m.updated_at FROM memories m"

	var conditions []string
	var args []interface{}
	next := 1

	if len(opts.Tags) > 0 {
		query += " JOIN memory_tags t ON t.memory_id = m.id"
		conditions = append(conditions,
			fmt.Sprintf("t.tag IN (%s)", placeholders(next, len(opts.Tags))))
		for _, tag := range opts.Tags {
			args = append(args, tag)
		}
		next += len(opts.Tags)
	}

	if opts.Query != "" {
		pattern := "%" + escapeLike(opts.Query) + "%"
		conditions = append(conditions, fmt.Sprintf(
			`(m.content ILIKE $%d ESCAPE '\' OR m.key ILIKE $%d ESCAPE '\')`, next, next+1))
		args = append(args, pattern, pattern)
		next += 2
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	query += fmt.Sprintf(" ORDER BY m.updated_at DESC LIMIT $%d", next)
	args = append(args, opts.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to search memories: %w", err)
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
		LIMIT $1 OFFSET $2
	`, opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list memories: %w", err)
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
