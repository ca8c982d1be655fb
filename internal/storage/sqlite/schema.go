package sqlite

// Schema defines the SQLite schema for the MemoryRAG store.
//
// The memories table is keyed by id with secondary indexes on kind,
// importance, and accessed_at to support filtered search and the eviction
// sweep (ORDER BY importance ASC, accessed_at ASC).
//
// Embeddings live in a separate table so that records without a vector cost
// nothing and the vector scan can load only (memory_id, embedding, dimension)
// tuples.
const Schema = `
CREATE TABLE IF NOT EXISTS memories (
	id            TEXT PRIMARY KEY,
	kind          TEXT NOT NULL,
	content       TEXT NOT NULL,
	metadata      TEXT,
	tags          TEXT,
	created_at    TIMESTAMP NOT NULL,
	accessed_at   TIMESTAMP NOT NULL,
	access_count  INTEGER NOT NULL DEFAULT 0,
	importance    REAL NOT NULL DEFAULT 0.5
);

CREATE INDEX IF NOT EXISTS idx_memories_kind ON memories(kind);
CREATE INDEX IF NOT EXISTS idx_memories_importance ON memories(importance);
CREATE INDEX IF NOT EXISTS idx_memories_accessed_at ON memories(accessed_at);

CREATE TABLE IF NOT EXISTS embeddings (
	memory_id  TEXT PRIMARY KEY REFERENCES memories(id) ON DELETE CASCADE,
	embedding  BLOB NOT NULL,
	dimension  INTEGER NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`
