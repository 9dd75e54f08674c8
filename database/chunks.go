package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/tky-kevin/travelkb/helper"
	"github.com/tky-kevin/travelkb/model"
	loadSql "github.com/tky-kevin/travelkb/sql"
)

var (
	// ErrEmptyEmbedding is returned when a chunk without a vector is offered for insertion.
	ErrEmptyEmbedding = errors.New("chunk has no embedding")
	// ErrDimensionMismatch is returned when a vector does not match the table dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// ChunksDBHandlerFunctions defines the knowledge store contract.
// Both the Postgres handler and memory.ChunksHandler implement it.
type ChunksDBHandlerFunctions interface {
	ExistsByURL(ctx context.Context, url string) (bool, error)
	InsertChunks(ctx context.Context, chunks []*model.Chunk) (int, error)
	SelectChunksBySimilarity(ctx context.Context, embedding []float32, k int, numCandidates int) ([]*model.Chunk, error)
	SelectChunksByURL(ctx context.Context, url string) ([]*model.Chunk, error)
	CountChunks(ctx context.Context) (int64, error)
	CountChunksByURL(ctx context.Context, url string) (int64, error)
	DeleteAllChunks(ctx context.Context) (int64, error)
}

// ChunksDBHandler handles knowledge chunk operations on PostgreSQL with pgvector.
type ChunksDBHandler struct {
	db           *helper.Database
	embeddingDim int
}

// NewChunksDBHandler creates a new chunks database handler.
// It loads the chunk SQL functions and creates the knowledge_chunks table for the given dimension.
// If force is true, it will reload the SQL functions even if they already exist.
func NewChunksDBHandler(db *helper.Database, embeddingDim int, force bool) (*ChunksDBHandler, error) {
	if db == nil {
		return nil, helper.NewError("database connection validation", fmt.Errorf("database connection is nil"))
	}
	if embeddingDim <= 0 {
		return nil, helper.NewError("embedding dimension validation", fmt.Errorf("embedding dimension must be positive, got %d", embeddingDim))
	}

	chunksDbHandler := &ChunksDBHandler{
		db:           db,
		embeddingDim: embeddingDim,
	}

	err := loadSql.Init(db.Instance)
	if err != nil {
		return nil, helper.NewError("init extensions", err)
	}

	err = loadSql.LoadChunksSql(db.Instance, force)
	if err != nil {
		return nil, helper.NewError("load chunks sql", err)
	}

	err = chunksDbHandler.CreateTable()
	if err != nil {
		return nil, helper.NewError("create table", err)
	}

	db.Logger.Info("Initialized ChunksDBHandler", "dimension", embeddingDim)

	return chunksDbHandler, nil
}

// CreateTable creates the knowledge_chunks table with its unique key and cosine HNSW index.
// If the table already exists, it does not create it again.
func (h *ChunksDBHandler) CreateTable() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := h.db.Instance.ExecContext(ctx, `SELECT init_chunks($1);`, h.embeddingDim)
	if err != nil {
		return helper.NewError("init chunks", err)
	}

	h.db.Logger.Info("Checked/created table knowledge_chunks")

	return nil
}

// Dimension returns the vector dimension of the table.
func (h *ChunksDBHandler) Dimension() int {
	return h.embeddingDim
}

// ExistsByURL reports whether any chunk of the given source URL is stored.
func (h *ChunksDBHandler) ExistsByURL(ctx context.Context, url string) (bool, error) {
	var exists bool
	err := h.db.Instance.QueryRowContext(ctx, `SELECT exists_chunks_by_url($1)`, url).Scan(&exists)
	if err != nil {
		return false, helper.NewError("scan", err)
	}
	return exists, nil
}

// InsertChunks stores all chunks in one transaction and fills their ID, RID and CreatedAt.
// Every chunk must carry an embedding of the table dimension, otherwise nothing is inserted.
func (h *ChunksDBHandler) InsertChunks(ctx context.Context, chunks []*model.Chunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}
	if err := ValidateChunks(chunks, h.embeddingDim); err != nil {
		return 0, err
	}

	tx, err := h.db.Instance.BeginTx(ctx, nil)
	if err != nil {
		return 0, helper.NewError("begin transaction", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `SELECT * FROM insert_chunk($1, $2, $3, $4, $5, $6)`)
	if err != nil {
		return 0, helper.NewError("prepare", err)
	}
	defer stmt.Close()

	for _, chunk := range chunks {
		err := stmt.QueryRowContext(
			ctx,
			chunk.URL,
			chunk.Title,
			chunk.Content,
			chunk.ChunkIndex,
			pgvector.NewVector(chunk.Embedding),
			chunk.Metadata,
		).Scan(
			&chunk.ID,
			&chunk.RID,
			&chunk.CreatedAt,
		)
		if err != nil {
			return 0, helper.NewError(fmt.Sprintf("insert chunk %d of %s", chunk.ChunkIndex, chunk.URL), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, helper.NewError("commit", err)
	}

	return len(chunks), nil
}

// SelectChunksBySimilarity returns the k chunks closest to embedding by cosine similarity,
// best first. numCandidates widens the HNSW search before truncation.
func (h *ChunksDBHandler) SelectChunksBySimilarity(ctx context.Context, embedding []float32, k int, numCandidates int) ([]*model.Chunk, error) {
	if k <= 0 {
		return []*model.Chunk{}, nil
	}
	if len(embedding) != h.embeddingDim {
		return nil, helper.NewError("similarity search", fmt.Errorf("%w: query has %d dimensions, table has %d", ErrDimensionMismatch, len(embedding), h.embeddingDim))
	}

	rows, err := h.db.Instance.QueryContext(
		ctx,
		`SELECT * FROM select_chunks_by_similarity($1, $2, $3)`,
		pgvector.NewVector(embedding),
		k,
		numCandidates,
	)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	results := []*model.Chunk{}
	for rows.Next() {
		chunk, err := scanChunk(rows, true)
		if err != nil {
			return nil, err
		}
		results = append(results, chunk)
	}

	err = rows.Err()
	if err != nil {
		return nil, helper.NewError("rows error", err)
	}

	return results, nil
}

// SelectChunksByURL returns the chunks of one article ordered by chunk index.
func (h *ChunksDBHandler) SelectChunksByURL(ctx context.Context, url string) ([]*model.Chunk, error) {
	rows, err := h.db.Instance.QueryContext(ctx, `SELECT * FROM select_chunks_by_url($1)`, url)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	chunks := []*model.Chunk{}
	for rows.Next() {
		chunk, err := scanChunk(rows, false)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}

	err = rows.Err()
	if err != nil {
		return nil, helper.NewError("rows error", err)
	}

	return chunks, nil
}

// CountChunks returns the number of stored chunks.
func (h *ChunksDBHandler) CountChunks(ctx context.Context) (int64, error) {
	var count int64
	err := h.db.Instance.QueryRowContext(ctx, `SELECT count_chunks()`).Scan(&count)
	if err != nil {
		return 0, helper.NewError("scan", err)
	}
	return count, nil
}

// CountChunksByURL returns the number of stored chunks of one article.
func (h *ChunksDBHandler) CountChunksByURL(ctx context.Context, url string) (int64, error) {
	var count int64
	err := h.db.Instance.QueryRowContext(ctx, `SELECT count_chunks_by_url($1)`, url).Scan(&count)
	if err != nil {
		return 0, helper.NewError("scan", err)
	}
	return count, nil
}

// DeleteAllChunks empties the knowledge base and returns the number of removed chunks.
func (h *ChunksDBHandler) DeleteAllChunks(ctx context.Context) (int64, error) {
	var deleted int64
	err := h.db.Instance.QueryRowContext(ctx, `SELECT delete_all_chunks()`).Scan(&deleted)
	if err != nil {
		return 0, helper.NewError("scan", err)
	}

	h.db.Logger.Info("Deleted all chunks", "count", deleted)

	return deleted, nil
}

// ValidateChunks checks the insert precondition shared by all store implementations.
func ValidateChunks(chunks []*model.Chunk, dimension int) error {
	for _, chunk := range chunks {
		if !chunk.HasEmbedding() {
			return helper.NewError("validate chunks", fmt.Errorf("%w: %s #%d", ErrEmptyEmbedding, chunk.URL, chunk.ChunkIndex))
		}
		if dimension > 0 && len(chunk.Embedding) != dimension {
			return helper.NewError("validate chunks", fmt.Errorf("%w: %s #%d has %d dimensions, want %d", ErrDimensionMismatch, chunk.URL, chunk.ChunkIndex, len(chunk.Embedding), dimension))
		}
	}
	return nil
}

func scanChunk(rows *sql.Rows, withSimilarity bool) (*model.Chunk, error) {
	chunk := &model.Chunk{}
	var embedding pgvector.Vector

	dest := []interface{}{
		&chunk.ID,
		&chunk.RID,
		&chunk.URL,
		&chunk.Title,
		&chunk.Content,
		&chunk.ChunkIndex,
		&embedding,
		&chunk.Metadata,
		&chunk.CreatedAt,
	}
	if withSimilarity {
		dest = append(dest, &chunk.Similarity)
	}

	if err := rows.Scan(dest...); err != nil {
		return nil, helper.NewError("scan", err)
	}
	chunk.Embedding = embedding.Slice()

	return chunk, nil
}
