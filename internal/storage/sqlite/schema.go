// Package sqlite provides the SQLite implementation of the storage
// interfaces, using the CGO-free modernc.org/sqlite driver.
package sqlite

// Schema contains the SQL statements to create the database schema.
// Indexes on memories.key, memory_tags.memory_id, memory_tags.tag, and both
// relationship endpoints keep lookups and traversal sub-linear in table size.
const Schema = `
-- Memories table: one row per live key
CREATE TABLE IF NOT EXISTS memories (
    id TEXT PRIMARY KEY,
    key TEXT NOT NULL UNIQUE,
    content TEXT NOT NULL,
    metadata TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_memories_updated_at ON memories(updated_at);

-- Tags table: (memory, tag-string) associations. Tags are not global
-- entities; the same tag on two memories is two independent rows.
CREATE TABLE IF NOT EXISTS memory_tags (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    memory_id TEXT NOT NULL REFERENCES memories(id),
    tag TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_memory_tags_memory_id ON memory_tags(memory_id);
CREATE INDEX IF NOT EXISTS idx_memory_tags_tag ON memory_tags(tag);

-- Relationships table: directed, typed, weighted edges between memories.
-- Duplicate edges and self-loops are allowed.
CREATE TABLE IF NOT EXISTS relationships (
    id TEXT PRIMARY KEY,
    from_memory_id TEXT NOT NULL REFERENCES memories(id),
    to_memory_id TEXT NOT NULL REFERENCES memories(id),
    relationship_type TEXT NOT NULL,
    strength REAL NOT NULL DEFAULT 1.0,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_relationships_from ON relationships(from_memory_id);
CREATE INDEX IF NOT EXISTS idx_relationships_to ON relationships(to_memory_id);
`
