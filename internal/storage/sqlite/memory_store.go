package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/scrypster/memoryrag/internal/storage"
	"github.com/scrypster/memoryrag/pkg/types"
)

// MemoryStore implements storage.MemoryStore using SQLite.
type MemoryStore struct {
	db *sql.DB
}

// Compile-time interface checks.
var (
	_ storage.MemoryStore      = (*MemoryStore)(nil)
	_ storage.SemanticSearcher = (*MemoryStore)(nil)
	_ storage.Exporter         = (*MemoryStore)(nil)
)

// NewMemoryStore opens a SQLite database, configures WAL mode, and creates
// the schema. Use ":memory:" for an ephemeral store in tests.
func NewMemoryStore(dsn string) (*MemoryStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one concurrent writer. Using a single open
	// connection serialises writes and avoids SQLITE_BUSY errors under
	// concurrent load. WAL mode allows concurrent readers to proceed
	// without blocking the writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Wait instead of failing immediately when the connection is held by
	// another goroutine.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", wrapCorruption(err))
	}

	return &MemoryStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *MemoryStore) Close() error {
	return s.db.Close()
}

// Store creates or updates a memory (upsert semantics). When the record
// carries an embedding it is persisted into the embeddings table in the same
// transaction, so a crash can never leave a vector pointing at a missing
// record.
func (s *MemoryStore) Store(ctx context.Context, memory *types.Memory) error {
	if memory == nil {
		return storage.ErrInvalidInput
	}
	if memory.ID == "" {
		return fmt.Errorf("%w: memory ID is required", storage.ErrInvalidInput)
	}
	if !types.IsValidMemoryKind(memory.Kind) {
		return fmt.Errorf("%w: unknown memory kind %q", storage.ErrInvalidInput, memory.Kind)
	}

	var (
		metadataJSON, tagsJSON []byte
		err                    error
	)

	if memory.Metadata != nil {
		metadataJSON, err = json.Marshal(memory.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	if len(memory.Tags) > 0 {
		tagsJSON, err = json.Marshal(memory.Tags)
		if err != nil {
			return fmt.Errorf("failed to marshal tags: %w", err)
		}
	}

	now := time.Now()
	if memory.CreatedAt.IsZero() {
		memory.CreatedAt = now
	}
	if memory.AccessedAt.IsZero() {
		memory.AccessedAt = memory.CreatedAt
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", wrapCorruption(err))
	}
	defer func() { _ = tx.Rollback() }()

	const upsert = `
		INSERT INTO memories (
			id, kind, content, metadata, tags,
			created_at, accessed_at, access_count, importance
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content      = excluded.content,
			metadata     = excluded.metadata,
			tags         = excluded.tags,
			accessed_at  = excluded.accessed_at,
			access_count = excluded.access_count,
			importance   = excluded.importance
	`

	_, err = tx.ExecContext(ctx, upsert,
		memory.ID,
		string(memory.Kind),
		memory.Content,
		nullableText(metadataJSON),
		nullableText(tagsJSON),
		memory.CreatedAt,
		memory.AccessedAt,
		memory.AccessCount,
		memory.Importance,
	)
	if err != nil {
		return fmt.Errorf("failed to store memory: %w", wrapCorruption(err))
	}

	if len(memory.Embedding) > 0 {
		blob := serializeEmbedding(memory.Embedding)
		const upsertEmbedding = `
			INSERT INTO embeddings (memory_id, embedding, dimension, created_at, updated_at)
			VALUES (?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
			ON CONFLICT(memory_id) DO UPDATE SET
				embedding  = excluded.embedding,
				dimension  = excluded.dimension,
				updated_at = CURRENT_TIMESTAMP
		`
		if _, err := tx.ExecContext(ctx, upsertEmbedding, memory.ID, blob, len(memory.Embedding)); err != nil {
			return fmt.Errorf("failed to store embedding: %w", wrapCorruption(err))
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit memory: %w", wrapCorruption(err))
	}

	return nil
}

// Get retrieves a memory by ID, embedding included when one is stored.
// Access statistics are not modified; that is the engine's job.
func (s *MemoryStore) Get(ctx context.Context, id string) (*types.Memory, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: memory ID is required", storage.ErrInvalidInput)
	}

	const query = `
		SELECT
			m.id, m.kind, m.content, m.metadata, m.tags,
			m.created_at, m.accessed_at, m.access_count, m.importance,
			e.embedding, e.dimension
		FROM memories m
		LEFT JOIN embeddings e ON e.memory_id = m.id
		WHERE m.id = ?
	`

	memory, err := scanMemory(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get memory: %w", wrapCorruption(err))
	}

	return memory, nil
}

// Touch persists the access-tracking fields of an already-loaded memory.
func (s *MemoryStore) Touch(ctx context.Context, memory *types.Memory) error {
	if memory == nil || memory.ID == "" {
		return fmt.Errorf("%w: memory ID is required", storage.ErrInvalidInput)
	}

	const update = `
		UPDATE memories
		SET accessed_at = ?, access_count = ?, importance = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, update,
		memory.AccessedAt, memory.AccessCount, memory.Importance, memory.ID)
	if err != nil {
		return fmt.Errorf("failed to update access stats: %w", wrapCorruption(err))
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}

	return nil
}

// Search returns records matching all supplied filters, ordered by
// importance descending then accessed_at descending.
func (s *MemoryStore) Search(ctx context.Context, filters storage.SearchFilters) ([]*types.Memory, error) {
	filters.Normalize()

	conditions := []string{"1=1"}
	args := []interface{}{}

	if filters.Query != "" {
		conditions = append(conditions, "m.content LIKE ?")
		args = append(args, "%"+filters.Query+"%")
	}
	if filters.Kind != "" {
		conditions = append(conditions, "m.kind = ?")
		args = append(args, string(filters.Kind))
	}
	// Tags are stored as a JSON array of strings, so a superset match is a
	// substring match on each quoted tag.
	for _, tag := range filters.Tags {
		quoted, err := json.Marshal(tag)
		if err != nil {
			return nil, fmt.Errorf("failed to encode tag filter: %w", err)
		}
		conditions = append(conditions, "m.tags LIKE ?")
		args = append(args, "%"+string(quoted)+"%")
	}
	if filters.MinImportance > 0 {
		conditions = append(conditions, "m.importance >= ?")
		args = append(args, filters.MinImportance)
	}

	query := fmt.Sprintf(`
		SELECT
			m.id, m.kind, m.content, m.metadata, m.tags,
			m.created_at, m.accessed_at, m.access_count, m.importance,
			e.embedding, e.dimension
		FROM memories m
		LEFT JOIN embeddings e ON e.memory_id = m.id
		WHERE %s
		ORDER BY m.importance DESC, m.accessed_at DESC
		LIMIT ?
	`, strings.Join(conditions, " AND "))
	args = append(args, filters.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", wrapCorruption(err))
	}
	defer func() { _ = rows.Close() }()

	return scanMemories(rows)
}

// Count returns the total number of stored records.
func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM memories").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count memories: %w", wrapCorruption(err))
	}
	return count, nil
}

// EvictLowestImportance deletes up to n records ordered by importance
// ascending, ties broken by oldest accessed_at, and returns the deleted IDs.
func (s *MemoryStore) EvictLowestImportance(ctx context.Context, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}

	const del = `
		DELETE FROM memories
		WHERE id IN (
			SELECT id FROM memories
			ORDER BY importance ASC, accessed_at ASC
			LIMIT ?
		)
		RETURNING id
	`

	rows, err := s.db.QueryContext(ctx, del, n)
	if err != nil {
		return nil, fmt.Errorf("eviction failed: %w", wrapCorruption(err))
	}
	defer func() { _ = rows.Close() }()

	var evicted []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan evicted id: %w", err)
		}
		evicted = append(evicted, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return evicted, nil
}

// Delete removes a memory by ID.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: memory ID is required", storage.ErrInvalidInput)
	}

	result, err := s.db.ExecContext(ctx, "DELETE FROM memories WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete memory: %w", wrapCorruption(err))
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}

	return nil
}

// Stats reports aggregate figures about the stored records.
func (s *MemoryStore) Stats(ctx context.Context) (*storage.StoreStats, error) {
	stats := &storage.StoreStats{
		KindDistribution: make(map[types.MemoryKind]int),
	}

	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COALESCE(AVG(importance), 0) FROM memories",
	).Scan(&stats.TotalMemories, &stats.AverageImportance); err != nil {
		return nil, fmt.Errorf("failed to aggregate memories: %w", wrapCorruption(err))
	}

	rows, err := s.db.QueryContext(ctx, "SELECT kind, COUNT(*) FROM memories GROUP BY kind")
	if err != nil {
		return nil, fmt.Errorf("failed to count kinds: %w", wrapCorruption(err))
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var kind string
		var count int
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, fmt.Errorf("failed to scan kind count: %w", err)
		}
		stats.KindDistribution[types.MemoryKind(kind)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM embeddings").Scan(&stats.EmbeddedMemories); err != nil {
		return nil, fmt.Errorf("failed to count embeddings: %w", wrapCorruption(err))
	}

	return stats, nil
}

// ExportAll returns all records ordered by created_at ascending.
func (s *MemoryStore) ExportAll(ctx context.Context) ([]*types.Memory, error) {
	const query = `
		SELECT
			m.id, m.kind, m.content, m.metadata, m.tags,
			m.created_at, m.accessed_at, m.access_count, m.importance,
			e.embedding, e.dimension
		FROM memories m
		LEFT JOIN embeddings e ON e.memory_id = m.id
		ORDER BY m.created_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("export failed: %w", wrapCorruption(err))
	}
	defer func() { _ = rows.Close() }()

	return scanMemories(rows)
}

// rowScanner abstracts *sql.Row and *sql.Rows for shared scan code.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanMemory reads a single row in the canonical column order used by Get,
// Search, and ExportAll.
func scanMemory(row rowScanner) (*types.Memory, error) {
	var memory types.Memory
	var kind string
	var metadataJSON, tagsJSON sql.NullString
	var embeddingBlob []byte
	var dimension sql.NullInt64

	err := row.Scan(
		&memory.ID,
		&kind,
		&memory.Content,
		&metadataJSON,
		&tagsJSON,
		&memory.CreatedAt,
		&memory.AccessedAt,
		&memory.AccessCount,
		&memory.Importance,
		&embeddingBlob,
		&dimension,
	)
	if err != nil {
		return nil, err
	}

	memory.Kind = types.MemoryKind(kind)

	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &memory.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	if tagsJSON.Valid && tagsJSON.String != "" {
		if err := json.Unmarshal([]byte(tagsJSON.String), &memory.Tags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
		}
	}

	if len(embeddingBlob) > 0 && dimension.Valid {
		embedding, err := deserializeEmbedding(embeddingBlob, int(dimension.Int64))
		if err != nil {
			return nil, fmt.Errorf("failed to deserialize embedding: %w", err)
		}
		memory.Embedding = embedding
	}

	return &memory, nil
}

// scanMemories reads all rows returned by a query using the canonical
// column order.
func scanMemories(rows *sql.Rows) ([]*types.Memory, error) {
	var memories []*types.Memory

	for rows.Next() {
		memory, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan memory row: %w", err)
		}
		memories = append(memories, memory)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return memories, nil
}

// nullableText returns nil for empty payloads so the column stores NULL.
// Non-empty payloads are bound as strings: binding []byte stores a BLOB even
// in a TEXT-affinity column, and LIKE is always false for BLOB operands,
// which would break the tag and metadata filters.
func nullableText(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

// wrapCorruption maps low-level SQLite corruption reports onto the
// storage.ErrCorrupted sentinel so callers can classify the failure.
func wrapCorruption(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "malformed") || strings.Contains(msg, "not a database") {
		return fmt.Errorf("%w: %v", storage.ErrCorrupted, err)
	}
	return err
}
