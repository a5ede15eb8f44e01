package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/1broseidon/memory-graph-mcp/internal/storage"
)

// Compile-time interface checks.
var (
	_ storage.MemoryStore    = (*Store)(nil)
	_ storage.SearchProvider = (*Store)(nil)
	_ storage.GraphTraverser = (*Store)(nil)
)

// Store implements the storage interfaces using PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore connects to PostgreSQL using the given DSN and creates the schema.
func NewStore(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: failed to connect: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// GetDB returns the underlying database connection.
func (s *Store) GetDB() *sql.DB {
	return s.db
}

// Close releases the connection pool.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save creates or updates a memory keyed by key (upsert semantics). On
// update the internal ID is preserved and the tag set is replaced in full,
// all in one transaction.
func (s *Store) Save(ctx context.Context, key, content string, tags []string, metadata map[string]interface{}) (*storage.MemoryRecord, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: key is required", storage.ErrInvalidInput)
	}
	if content == "" {
		return nil, fmt.Errorf("%w: content is required", storage.ErrInvalidInput)
	}

	metadataJSON, err := marshalMetadata(metadata)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	rec := &storage.MemoryRecord{
		Key:       key,
		Content:   content,
		Metadata:  metadata,
		Tags:      tags,
		UpdatedAt: now,
	}

	var existingID string
	var createdAt time.Time
	err = tx.QueryRowContext(ctx,
		"SELECT id, created_at FROM memories WHERE key = $1", key,
	).Scan(&existingID, &createdAt)

	switch {
	case err == sql.ErrNoRows:
		rec.ID = uuid.New().String()
		rec.CreatedAt = now
		_, err = tx.ExecContext(ctx, `
			INSERT INTO memories (id, key, content, metadata, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, rec.ID, key, content, metadataJSON, now, now)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to insert memory: %w", err)
		}

	case err != nil:
		return nil, fmt.Errorf("postgres: failed to look up key %q: %w", key, err)

	default:
		rec.ID = existingID
		rec.CreatedAt = createdAt
		_, err = tx.ExecContext(ctx, `
			UPDATE memories SET content = $1, metadata = $2, updated_at = $3 WHERE id = $4
		`, content, metadataJSON, now, existingID)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to update memory: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			"DELETE FROM memory_tags WHERE memory_id = $1", existingID); err != nil {
			return nil, fmt.Errorf("postgres: failed to clear tags: %w", err)
		}
	}

	for _, tag := range tags {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO memory_tags (memory_id, tag) VALUES ($1, $2)", rec.ID, tag); err != nil {
			return nil, fmt.Errorf("postgres: failed to insert tag %q: %w", tag, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("postgres: failed to commit save: %w", err)
	}

	return rec, nil
}

// GetByKey retrieves a memory and its tags by key.
func (s *Store) GetByKey(ctx context.Context, key string) (*storage.MemoryRecord, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: key is required", storage.ErrInvalidInput)
	}

	var rec storage.MemoryRecord
	var metadataJSON sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT id, key, content, metadata, created_at, updated_at
		FROM memories WHERE key = $1
	`, key).Scan(&rec.ID, &rec.Key, &rec.Content, &metadataJSON, &rec.CreatedAt, &rec.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: no memory with key %q", storage.ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to get memory: %w", err)
	}

	if err := unmarshalMetadata(metadataJSON, &rec); err != nil {
		return nil, err
	}

	tags, err := s.tagsForMemory(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	rec.Tags = tags

	return &rec, nil
}

// Delete removes a memory by key, cascading to its relationships and tags in
// one transaction.
func (s *Store) Delete(ctx context.Context, key string) error {
	if key == "" {
		return fmt.Errorf("%w: key is required", storage.ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var id string
	err = tx.QueryRowContext(ctx, "SELECT id FROM memories WHERE key = $1", key).Scan(&id)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: no memory with key %q", storage.ErrNotFound, key)
	}
	if err != nil {
		return fmt.Errorf("postgres: failed to look up key %q: %w", key, err)
	}

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM relationships WHERE from_memory_id = $1 OR to_memory_id = $1", id); err != nil {
		return fmt.Errorf("postgres: failed to delete relationships: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM memory_tags WHERE memory_id = $1", id); err != nil {
		return fmt.Errorf("postgres: failed to delete tags: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM memories WHERE id = $1", id); err != nil {
		return fmt.Errorf("postgres: failed to delete memory: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: failed to commit delete: %w", err)
	}

	return nil
}

// Link creates a relationship edge between two memories, resolving both keys
// to internal IDs in a single lookup.
func (s *Store) Link(ctx context.Context, fromKey, toKey, relType string, strength float64) (*storage.RelationshipRecord, error) {
	if fromKey == "" || toKey == "" {
		return nil, fmt.Errorf("%w: from_key and to_key are required", storage.ErrInvalidInput)
	}
	if relType == "" {
		return nil, fmt.Errorf("%w: relationship_type is required", storage.ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		"SELECT key, id FROM memories WHERE key IN ($1, $2)", fromKey, toKey)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to resolve endpoints: %w", err)
	}

	idByKey := make(map[string]string, 2)
	for rows.Next() {
		var k, id string
		if err := rows.Scan(&k, &id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("postgres: failed to scan endpoint: %w", err)
		}
		idByKey[k] = id
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: endpoint rows: %w", err)
	}

	var missing []string
	for _, k := range []string{fromKey, toKey} {
		if _, ok := idByKey[k]; ok {
			continue
		}
		if len(missing) > 0 && missing[len(missing)-1] == k {
			continue
		}
		missing = append(missing, k)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: no memory with key %s",
			storage.ErrNotFound, strings.Join(quoteAll(missing), ", "))
	}

	rel := &storage.RelationshipRecord{
		ID:        uuid.New().String(),
		FromID:    idByKey[fromKey],
		ToID:      idByKey[toKey],
		FromKey:   fromKey,
		ToKey:     toKey,
		Type:      relType,
		Strength:  strength,
		CreatedAt: time.Now().UTC(),
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO relationships (id, from_memory_id, to_memory_id, relationship_type, strength, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, rel.ID, rel.FromID, rel.ToID, rel.Type, rel.Strength, rel.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to insert relationship: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("postgres: failed to commit link: %w", err)
	}

	return rel, nil
}

// Stats returns aggregate counters over the whole store.
func (s *Store) Stats(ctx context.Context) (*storage.StoreStats, error) {
	var stats storage.StoreStats

	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM memories").Scan(&stats.MemoryCount)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to count memories: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM relationships").Scan(&stats.RelationshipCount)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to count relationships: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		"SELECT COUNT(DISTINCT tag), COUNT(*) FROM memory_tags").Scan(&stats.DistinctTagCount, &stats.TagCount)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to count tags: %w", err)
	}

	return &stats, nil
}

// ---------------------------------------------------------------------------
// Internal helpers
// ---------------------------------------------------------------------------

func (s *Store) tagsForMemory(ctx context.Context, memoryID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT tag FROM memory_tags WHERE memory_id = $1 ORDER BY id", memoryID)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to load tags: %w", err)
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan tag: %w", err)
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

func (s *Store) tagsForMemories(ctx context.Context, ids []string) (map[string][]string, error) {
	if len(ids) == 0 {
		return map[string][]string{}, nil
	}

	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		"SELECT memory_id, tag FROM memory_tags WHERE memory_id IN (%s) ORDER BY id",
		placeholders(1, len(ids))), args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to load tags: %w", err)
	}
	defer rows.Close()

	result := make(map[string][]string, len(ids))
	for rows.Next() {
		var id, tag string
		if err := rows.Scan(&id, &tag); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan tag: %w", err)
		}
		result[id] = append(result[id], tag)
	}
	return result, rows.Err()
}

func scanMemoryRows(rows *sql.Rows) ([]storage.MemoryRecord, error) {
	var memories []storage.MemoryRecord
	for rows.Next() {
		var rec storage.MemoryRecord
		var metadataJSON sql.NullString
		if err := rows.Scan(&rec.ID, &rec.Key, &rec.Content, &metadataJSON,
			&rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan memory: %w", err)
		}
		if err := unmarshalMetadata(metadataJSON, &rec); err != nil {
			return nil, err
		}
		memories = append(memories, rec)
	}
	return memories, rows.Err()
}

func (s *Store) attachTags(ctx context.Context, memories []storage.MemoryRecord) error {
	if len(memories) == 0 {
		return nil
	}
	ids := make([]string, len(memories))
	for i := range memories {
		ids[i] = memories[i].ID
	}
	tagsByID, err := s.tagsForMemories(ctx, ids)
	if err != nil {
		return err
	}
	for i := range memories {
		memories[i].Tags = tagsByID[memories[i].ID]
	}
	return nil
}

func marshalMetadata(metadata map[string]interface{}) (sql.NullString, error) {
	if len(metadata) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("postgres: failed to marshal metadata: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalMetadata(metadataJSON sql.NullString, rec *storage.MemoryRecord) error {
	if !metadataJSON.Valid || metadataJSON.String == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(metadataJSON.String), &rec.Metadata); err != nil {
		return fmt.Errorf("postgres: failed to unmarshal metadata for %q: %w", rec.Key, err)
	}
	return nil
}

// placeholders returns a comma-separated list of PostgreSQL positional
// placeholders $start..$start+n-1.
func placeholders(start, n int) string {
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(parts, ",")
}

func quoteAll(ss []string) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = fmt.Sprintf("%q", s)
	}
	return out
}
