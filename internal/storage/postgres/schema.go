// Package postgres provides PostgreSQL implementations of the storage
// interfaces, with pgvector-backed ANN semantic search for deployments too
// large for the SQLite linear scan.
package postgres

// Schema contains the SQL statements to create the MemoryRAG schema for
// PostgreSQL. The embedding column uses pgvector; CreateVectorIndex is run
// separately because the ivfflat index needs the extension installed and a
// known dimension.
const Schema = `
CREATE TABLE IF NOT EXISTS memories (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    content TEXT NOT NULL,

    -- Metadata (JSON) and tags (JSON array)
    metadata JSONB,
    tags JSONB,

    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    accessed_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    access_count INTEGER NOT NULL DEFAULT 0,
    importance REAL NOT NULL DEFAULT 0.5
);

CREATE INDEX IF NOT EXISTS idx_memories_kind ON memories(kind);
CREATE INDEX IF NOT EXISTS idx_memories_importance ON memories(importance);
CREATE INDEX IF NOT EXISTS idx_memories_accessed_at ON memories(accessed_at);
CREATE INDEX IF NOT EXISTS idx_memories_tags ON memories USING GIN (tags);
`

// VectorSchema adds the pgvector embedding column and cosine-distance index.
// The %d placeholder is the embedding dimension.
const VectorSchema = `
CREATE EXTENSION IF NOT EXISTS vector;

ALTER TABLE memories ADD COLUMN IF NOT EXISTS embedding vector(%d);

CREATE INDEX IF NOT EXISTS idx_memories_embedding
    ON memories USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);
`
