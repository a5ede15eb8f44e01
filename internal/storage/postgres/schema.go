// Package postgres provides the PostgreSQL implementation of the storage
// interfaces, using the lib/pq driver.
package postgres

// Schema contains the SQL statements to create the database schema for
// PostgreSQL. It mirrors the SQLite schema: three related tables with
// indexes on the lookup and traversal columns.
const Schema = `
-- Memories table: one row per live key
CREATE TABLE IF NOT EXISTS memories (
    id TEXT PRIMARY KEY,
    key TEXT NOT NULL UNIQUE,
    content TEXT NOT NULL,
    metadata JSONB,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_memories_updated_at ON memories(updated_at);

-- Tags table: (memory, tag-string) associations
CREATE TABLE IF NOT EXISTS memory_tags (
    id BIGSERIAL PRIMARY KEY,
    memory_id TEXT NOT NULL REFERENCES memories(id),
    tag TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_memory_tags_memory_id ON memory_tags(memory_id);
CREATE INDEX IF NOT EXISTS idx_memory_tags_tag ON memory_tags(tag);

-- Relationships table: directed, typed, weighted edges between memories
CREATE TABLE IF NOT EXISTS relationships (
    id TEXT PRIMARY KEY,
    from_memory_id TEXT NOT NULL REFERENCES memories(id),
    to_memory_id TEXT NOT NULL REFERENCES memories(id),
    relationship_type TEXT NOT NULL,
    strength DOUBLE PRECISION NOT NULL DEFAULT 1.0,
    created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_relationships_from ON relationships(from_memory_id);
CREATE INDEX IF NOT EXISTS idx_relationships_to ON relationships(to_memory_id);
`
