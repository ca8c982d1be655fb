package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/scrypster/memoryrag/internal/storage"
	"github.com/scrypster/memoryrag/pkg/types"
)

// MemoryStore implements storage.MemoryStore using PostgreSQL with pgvector.
type MemoryStore struct {
	db        *sql.DB
	dimension int
}

// Compile-time interface checks.
var (
	_ storage.MemoryStore      = (*MemoryStore)(nil)
	_ storage.SemanticSearcher = (*MemoryStore)(nil)
	_ storage.Exporter         = (*MemoryStore)(nil)
)

// NewMemoryStore connects to PostgreSQL, creates the schema, and installs
// the pgvector embedding column and index for the given dimension.
func NewMemoryStore(dsn string, dimension int) (*MemoryStore, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: embedding dimension must be positive", storage.ErrInvalidInput)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	if _, err := db.Exec(fmt.Sprintf(VectorSchema, dimension)); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create vector schema: %w", err)
	}

	return &MemoryStore{db: db, dimension: dimension}, nil
}

// Close closes the underlying database connection pool.
func (s *MemoryStore) Close() error {
	return s.db.Close()
}

// memorySelectColumns is the canonical SELECT column list. It must match the
// scan order in scanMemoryRow.
const memorySelectColumns = `
	id, kind, content, metadata, tags,
	created_at, accessed_at, access_count, importance, embedding
`

// Store creates or updates a memory (upsert semantics).
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

	if memory.CreatedAt.IsZero() {
		memory.CreatedAt = time.Now()
	}
	if memory.AccessedAt.IsZero() {
		memory.AccessedAt = memory.CreatedAt
	}

	var vec interface{}
	if len(memory.Embedding) > 0 {
		if len(memory.Embedding) != s.dimension {
			return fmt.Errorf("%w: embedding has dimension %d, store expects %d",
				storage.ErrInvalidInput, len(memory.Embedding), s.dimension)
		}
		vec = pgvector.NewVector(toFloat32(memory.Embedding))
	}

	const upsert = `
		INSERT INTO memories (
			id, kind, content, metadata, tags,
			created_at, accessed_at, access_count, importance, embedding
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			content      = EXCLUDED.content,
			metadata     = EXCLUDED.metadata,
			tags         = EXCLUDED.tags,
			accessed_at  = EXCLUDED.accessed_at,
			access_count = EXCLUDED.access_count,
			importance   = EXCLUDED.importance,
			embedding    = COALESCE(EXCLUDED.embedding, memories.embedding)
	`

	_, err = s.db.ExecContext(ctx, upsert,
		memory.ID,
		string(memory.Kind),
		memory.Content,
		nullableText(metadataJSON),
		nullableText(tagsJSON),
		memory.CreatedAt,
		memory.AccessedAt,
		memory.AccessCount,
		memory.Importance,
		vec,
	)
	if err != nil {
		return fmt.Errorf("failed to store memory: %w", err)
	}

	return nil
}

// Get retrieves a memory by ID without touching access statistics.
func (s *MemoryStore) Get(ctx context.Context, id string) (*types.Memory, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: memory ID is required", storage.ErrInvalidInput)
	}

	query := `SELECT ` + memorySelectColumns + ` FROM memories WHERE id = $1`

	memory, err := scanMemoryRow(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get memory: %w", err)
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
		SET accessed_at = $1, access_count = $2, importance = $3
		WHERE id = $4
	`

	result, err := s.db.ExecContext(ctx, update,
		memory.AccessedAt, memory.AccessCount, memory.Importance, memory.ID)
	if err != nil {
		return fmt.Errorf("failed to update access stats: %w", err)
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

	conditions := []string{"TRUE"}
	args := []interface{}{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filters.Query != "" {
		conditions = append(conditions, "content ILIKE "+arg("%"+filters.Query+"%"))
	}
	if filters.Kind != "" {
		conditions = append(conditions, "kind = "+arg(string(filters.Kind)))
	}
	if len(filters.Tags) > 0 {
		tagsJSON, err := json.Marshal(filters.Tags)
		if err != nil {
			return nil, fmt.Errorf("failed to encode tag filter: %w", err)
		}
		// jsonb containment gives superset semantics directly.
		conditions = append(conditions, "tags @> "+arg(string(tagsJSON)))
	}
	if filters.MinImportance > 0 {
		conditions = append(conditions, "importance >= "+arg(filters.MinImportance))
	}

	query := fmt.Sprintf(`
		SELECT %s FROM memories
		WHERE %s
		ORDER BY importance DESC, accessed_at DESC
		LIMIT %s
	`, memorySelectColumns, strings.Join(conditions, " AND "), arg(filters.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanMemoryRows(rows)
}

// VectorSearch delegates semantic similarity ranking to the pgvector
// cosine-distance index. Same observable contract as the SQLite linear scan.
func (s *MemoryStore) VectorSearch(ctx context.Context, query []float64, kind types.MemoryKind, limit int) ([]storage.ScoredMemory, error) {
	if len(query) == 0 {
		return []storage.ScoredMemory{}, nil
	}
	if limit < 1 {
		limit = 10
	}

	vec := pgvector.NewVector(toFloat32(query))

	querySQL := `
		SELECT ` + memorySelectColumns + `, 1 - (embedding <=> $1) AS similarity
		FROM memories
		WHERE embedding IS NOT NULL
	`
	args := []interface{}{vec}
	if kind != "" {
		querySQL += " AND kind = $2"
		args = append(args, string(kind))
	}
	querySQL += fmt.Sprintf(" ORDER BY embedding <=> $1, importance DESC LIMIT $%d", len(args)+1)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, querySQL, args...)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []storage.ScoredMemory
	for rows.Next() {
		memory, similarity, err := scanScoredMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan scored memory: %w", err)
		}
		results = append(results, storage.ScoredMemory{Memory: memory, Similarity: similarity})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return results, nil
}

// Count returns the total number of stored records.
func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM memories").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count memories: %w", err)
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
			LIMIT $1
		)
		RETURNING id
	`

	rows, err := s.db.QueryContext(ctx, del, n)
	if err != nil {
		return nil, fmt.Errorf("eviction failed: %w", err)
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

	result, err := s.db.ExecContext(ctx, "DELETE FROM memories WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete memory: %w", err)
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
		return nil, fmt.Errorf("failed to aggregate memories: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, "SELECT kind, COUNT(*) FROM memories GROUP BY kind")
	if err != nil {
		return nil, fmt.Errorf("failed to count kinds: %w", err)
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

	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM memories WHERE embedding IS NOT NULL",
	).Scan(&stats.EmbeddedMemories); err != nil {
		return nil, fmt.Errorf("failed to count embeddings: %w", err)
	}

	return stats, nil
}

// ExportAll returns all records ordered by created_at ascending.
func (s *MemoryStore) ExportAll(ctx context.Context) ([]*types.Memory, error) {
	query := `SELECT ` + memorySelectColumns + ` FROM memories ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("export failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanMemoryRows(rows)
}

// rowScanner abstracts *sql.Row and *sql.Rows for shared scan code.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanMemoryRow reads a single row in the memorySelectColumns order.
func scanMemoryRow(row rowScanner) (*types.Memory, error) {
	var memory types.Memory
	var kind string
	var metadataJSON, tagsJSON, vecText sql.NullString

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
		&vecText,
	)
	if err != nil {
		return nil, err
	}

	if err := decodeMemoryFields(&memory, kind, metadataJSON, tagsJSON, vecText); err != nil {
		return nil, err
	}

	return &memory, nil
}

// scanScoredMemory reads a row carrying a trailing similarity column.
func scanScoredMemory(row rowScanner) (*types.Memory, float64, error) {
	var memory types.Memory
	var kind string
	var metadataJSON, tagsJSON, vecText sql.NullString
	var similarity float64

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
		&vecText,
		&similarity,
	)
	if err != nil {
		return nil, 0, err
	}

	if err := decodeMemoryFields(&memory, kind, metadataJSON, tagsJSON, vecText); err != nil {
		return nil, 0, err
	}

	return &memory, similarity, nil
}

// decodeMemoryFields unmarshals the nullable JSON columns and the embedding
// vector into the memory struct. The embedding is scanned as nullable text
// because pgvector.Vector.Scan rejects NULL columns.
func decodeMemoryFields(memory *types.Memory, kind string, metadataJSON, tagsJSON, vecText sql.NullString) error {
	memory.Kind = types.MemoryKind(kind)

	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &memory.Metadata); err != nil {
			return fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	if tagsJSON.Valid && tagsJSON.String != "" {
		if err := json.Unmarshal([]byte(tagsJSON.String), &memory.Tags); err != nil {
			return fmt.Errorf("failed to unmarshal tags: %w", err)
		}
	}

	if vecText.Valid && vecText.String != "" {
		var vec pgvector.Vector
		if err := vec.Scan(vecText.String); err != nil {
			return fmt.Errorf("failed to parse embedding: %w", err)
		}
		memory.Embedding = toFloat64(vec.Slice())
	}

	return nil
}

// scanMemoryRows reads all rows using the memorySelectColumns order.
func scanMemoryRows(rows *sql.Rows) ([]*types.Memory, error) {
	var memories []*types.Memory
	for rows.Next() {
		memory, err := scanMemoryRow(rows)
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

// toFloat32 converts a float64 vector for pgvector storage.
func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

// toFloat64 converts a pgvector slice back to the engine's float64 form.
func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

// nullableText returns nil for empty payloads so the column stores NULL.
// Non-empty payloads are bound as strings: the driver encodes []byte in
// bytea format, which jsonb columns reject.
func nullableText(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
