package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/1broseidon/memory-graph-mcp/internal/storage"
)

// Compile-time interface checks.
var (
	_ storage.MemoryStore    = (*Store)(nil)
	_ storage.SearchProvider = (*Store)(nil)
	_ storage.GraphTraverser = (*Store)(nil)
)

// Store implements the storage interfaces using SQLite.
type Store struct {
	db *sql.DB
}

// NewStore opens a SQLite database, configures WAL mode, and creates the
// schema. Use ":memory:" as the DSN for an ephemeral in-memory store.
func NewStore(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to open database: %w", err)
	}

	// SQLite only supports one concurrent writer. Using a single open
	// connection serialises writes and avoids SQLITE_BUSY errors under
	// concurrent load. WAL mode lets readers proceed without blocking the
	// writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to enable WAL mode: %w", err)
	}

	// Wait instead of returning an immediate SQLITE_BUSY when the
	// connection is held by another goroutine.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to set busy timeout: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// GetDB returns the underlying database connection. Used by tests to set up
// fixtures directly.
func (s *Store) GetDB() *sql.DB {
	return s.db
}

// Close flushes the WAL into the main database file and releases resources.
// The TRUNCATE checkpoint removes the -shm and -wal files so that the next
// process can open the database without encountering stale WAL state.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}

	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		log.Printf("sqlite: WAL checkpoint on close failed (non-fatal): %v", err)
	}

	return s.db.Close()
}

// Save creates or updates a memory keyed by key (upsert semantics). On
// update the internal ID is preserved so that existing relationships keep
// pointing at the right row, and the tag set is replaced in full. The whole
// write (memory row plus tag rows) happens in one transaction.
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
		return nil, fmt.Errorf("sqlite: failed to begin transaction: %w", err)
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
		"SELECT id, created_at FROM memories WHERE key = ?", key,
	).Scan(&existingID, &createdAt)

	switch {
	case err == sql.ErrNoRows:
		rec.ID = uuid.New().String()
		rec.CreatedAt = now
		_, err = tx.ExecContext(ctx, `
			INSERT INTO memories (id, key, content, metadata, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, rec.ID, key, content, metadataJSON, now, now)
		if err != nil {
			return nil, fmt.Errorf("sqlite: failed to insert memory: %w", err)
		}

	case err != nil:
		return nil, fmt.Errorf("sqlite: failed to look up key %q: %w", key, err)

	default:
		// Update in place: the ID must survive so relationships do.
		rec.ID = existingID
		rec.CreatedAt = createdAt
		_, err = tx.ExecContext(ctx, `
			UPDATE memories SET content = ?, metadata = ?, updated_at = ? WHERE id = ?
		`, content, metadataJSON, now, existingID)
		if err != nil {
			return nil, fmt.Errorf("sqlite: failed to update memory: %w", err)
		}

		// Tag replacement is all-or-nothing: clear the old set first.
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM memory_tags WHERE memory_id = ?", existingID); err != nil {
			return nil, fmt.Errorf("sqlite: failed to clear tags: %w", err)
		}
	}

	for _, tag := range tags {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO memory_tags (memory_id, tag) VALUES (?, ?)", rec.ID, tag); err != nil {
			return nil, fmt.Errorf("sqlite: failed to insert tag %q: %w", tag, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: failed to commit save: %w", err)
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
		FROM memories WHERE key = ?
	`, key).Scan(&rec.ID, &rec.Key, &rec.Content, &metadataJSON, &rec.CreatedAt, &rec.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: no memory with key %q", storage.ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to get memory: %w", err)
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

// Delete removes a memory by key, cascading to its relationships (either
// direction) and its tags in one transaction.
func (s *Store) Delete(ctx context.Context, key string) error {
	if key == "" {
		return fmt.Errorf("%w: key is required", storage.ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var id string
	err = tx.QueryRowContext(ctx, "SELECT id FROM memories WHERE key = ?", key).Scan(&id)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: no memory with key %q", storage.ErrNotFound, key)
	}
	if err != nil {
		return fmt.Errorf("sqlite: failed to look up key %q: %w", key, err)
	}

	// Relationships first, then tags, then the memory row itself, so that
	// no intermediate state has an edge pointing at a deleted memory.
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM relationships WHERE from_memory_id = ? OR to_memory_id = ?", id, id); err != nil {
		return fmt.Errorf("sqlite: failed to delete relationships: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM memory_tags WHERE memory_id = ?", id); err != nil {
		return fmt.Errorf("sqlite: failed to delete tags: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM memories WHERE id = ?", id); err != nil {
		return fmt.Errorf("sqlite: failed to delete memory: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: failed to commit delete: %w", err)
	}

	return nil
}

// Link creates a relationship edge between two memories, resolving both keys
// to internal IDs in a single lookup. Missing endpoints fail with an error
// naming which key(s) could not be resolved.
func (s *Store) Link(ctx context.Context, fromKey, toKey, relType string, strength float64) (*storage.RelationshipRecord, error) {
	if fromKey == "" || toKey == "" {
		return nil, fmt.Errorf("%w: from_key and to_key are required", storage.ErrInvalidInput)
	}
	if relType == "" {
		return nil, fmt.Errorf("%w: relationship_type is required", storage.ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		"SELECT key, id FROM memories WHERE key IN (?, ?)", fromKey, toKey)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to resolve endpoints: %w", err)
	}

	idByKey := make(map[string]string, 2)
	for rows.Next() {
		var k, id string
		if err := rows.Scan(&k, &id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("sqlite: failed to scan endpoint: %w", err)
		}
		idByKey[k] = id
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: endpoint rows: %w", err)
	}

	var missing []string
	for _, k := range []string{fromKey, toKey} {
		if _, ok := idByKey[k]; ok {
			continue
		}
		// Self-loops resolve both endpoints from one row; only report a
		// key once even when it is missing on both sides.
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
		VALUES (?, ?, ?, ?, ?, ?)
	`, rel.ID, rel.FromID, rel.ToID, rel.Type, rel.Strength, rel.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to insert relationship: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: failed to commit link: %w", err)
	}

	return rel, nil
}

// Stats returns aggregate counters over the whole store.
func (s *Store) Stats(ctx context.Context) (*storage.StoreStats, error) {
	var stats storage.StoreStats

	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM memories").Scan(&stats.MemoryCount)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to count memories: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM relationships").Scan(&stats.RelationshipCount)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to count relationships: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		"SELECT COUNT(DISTINCT tag), COUNT(*) FROM memory_tags").Scan(&stats.DistinctTagCount, &stats.TagCount)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to count tags: %w", err)
	}

	return &stats, nil
}

// ---------------------------------------------------------------------------
// Internal helpers
// ---------------------------------------------------------------------------

// tagsForMemory returns the tags of a single memory, in insertion order.
func (s *Store) tagsForMemory(ctx context.Context, memoryID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT tag FROM memory_tags WHERE memory_id = ? ORDER BY id", memoryID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to load tags: %w", err)
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan tag: %w", err)
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

// tagsForMemories returns a memoryID → tags map for the given IDs.
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
		buildInClause(len(ids))), args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to load tags: %w", err)
	}
	defer rows.Close()

	result := make(map[string][]string, len(ids))
	for rows.Next() {
		var id, tag string
		if err := rows.Scan(&id, &tag); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan tag: %w", err)
		}
		result[id] = append(result[id], tag)
	}
	return result, rows.Err()
}

// scanMemoryRows scans memory rows (id, key, content, metadata, created_at,
// updated_at) into records, without tags.
func scanMemoryRows(rows *sql.Rows) ([]storage.MemoryRecord, error) {
	var memories []storage.MemoryRecord
	for rows.Next() {
		var rec storage.MemoryRecord
		var metadataJSON sql.NullString
		if err := rows.Scan(&rec.ID, &rec.Key, &rec.Content, &metadataJSON,
			&rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan memory: %w", err)
		}
		if err := unmarshalMetadata(metadataJSON, &rec); err != nil {
			return nil, err
		}
		memories = append(memories, rec)
	}
	return memories, rows.Err()
}

// attachTags fetches and attaches tags for a batch of memory records.
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

// marshalMetadata serialises the metadata document to JSON, or NULL when
// empty.
func marshalMetadata(metadata map[string]interface{}) (sql.NullString, error) {
	if len(metadata) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("sqlite: failed to marshal metadata: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// unmarshalMetadata deserialises the metadata column into the record.
func unmarshalMetadata(metadataJSON sql.NullString, rec *storage.MemoryRecord) error {
	if !metadataJSON.Valid || metadataJSON.String == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(metadataJSON.String), &rec.Metadata); err != nil {
		return fmt.Errorf("sqlite: failed to unmarshal metadata for %q: %w", rec.Key, err)
	}
	return nil
}

// buildInClause returns a comma-separated string of n "?" placeholders.
func buildInClause(n int) string {
	if n == 0 {
		return ""
	}
	clause := make([]byte, 0, n*2-1)
	for i := 0; i < n; i++ {
		if i > 0 {
			clause = append(clause, ',')
		}
		clause = append(clause, '?')
	}
	return string(clause)
}

// quoteAll wraps each string in double quotes for error messages.
func quoteAll(ss []string) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = fmt.Sprintf("%q", s)
	}
	return out
}
