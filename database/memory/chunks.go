// Package memory is an in-process knowledge store with the same contract as the
// Postgres handler. Similarity search is an exact brute-force cosine scan.
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tky-kevin/travelkb/database"
	"github.com/tky-kevin/travelkb/helper"
	"github.com/tky-kevin/travelkb/model"
)

var _ database.ChunksDBHandlerFunctions = (*ChunksHandler)(nil)

type chunkKey struct {
	url   string
	index int
}

// ChunksHandler stores chunks in memory. It is safe for concurrent use.
type ChunksHandler struct {
	mu        sync.Mutex
	dimension int
	nextID    int64
	chunks    []*model.Chunk
	keys      map[chunkKey]struct{}
	locked    bool
}

// NewChunksHandler creates an empty store. A dimension of zero accepts any vector length.
func NewChunksHandler(dimension int) *ChunksHandler {
	return &ChunksHandler{
		dimension: dimension,
		keys:      map[chunkKey]struct{}{},
	}
}

func (h *ChunksHandler) ExistsByURL(ctx context.Context, url string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, c := range h.chunks {
		if c.URL == url {
			return true, nil
		}
	}
	return false, nil
}

// InsertChunks stores copies of the chunks atomically; a rejected batch leaves the store unchanged.
func (h *ChunksHandler) InsertChunks(ctx context.Context, chunks []*model.Chunk) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if len(chunks) == 0 {
		return 0, nil
	}
	if err := database.ValidateChunks(chunks, h.dimension); err != nil {
		return 0, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	batch := map[chunkKey]struct{}{}
	for _, c := range chunks {
		key := chunkKey{c.URL, c.ChunkIndex}
		_, stored := h.keys[key]
		_, seen := batch[key]
		if stored || seen {
			return 0, helper.NewError("insert chunks", fmt.Errorf("duplicate chunk %d of %s", c.ChunkIndex, c.URL))
		}
		batch[key] = struct{}{}
	}

	now := time.Now()
	for _, c := range chunks {
		h.nextID++
		c.ID = h.nextID
		c.RID = uuid.New()
		c.CreatedAt = now

		stored := *c
		stored.Embedding = append([]float32(nil), c.Embedding...)
		h.chunks = append(h.chunks, &stored)
		h.keys[chunkKey{c.URL, c.ChunkIndex}] = struct{}{}
	}

	return len(chunks), nil
}

// SelectChunksBySimilarity ranks every stored chunk; numCandidates has no effect on an exact scan.
func (h *ChunksHandler) SelectChunksBySimilarity(ctx context.Context, embedding []float32, k int, numCandidates int) ([]*model.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return []*model.Chunk{}, nil
	}
	if h.dimension > 0 && len(embedding) != h.dimension {
		return nil, helper.NewError("similarity search", fmt.Errorf("%w: query has %d dimensions, store has %d", database.ErrDimensionMismatch, len(embedding), h.dimension))
	}

	h.mu.Lock()
	results := make([]*model.Chunk, 0, len(h.chunks))
	for _, c := range h.chunks {
		match := *c
		match.Similarity = CosineSimilarity(embedding, c.Embedding)
		results = append(results, &match)
	}
	h.mu.Unlock()

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (h *ChunksHandler) SelectChunksByURL(ctx context.Context, url string) ([]*model.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	chunks := []*model.Chunk{}
	for _, c := range h.chunks {
		if c.URL == url {
			copied := *c
			chunks = append(chunks, &copied)
		}
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].ChunkIndex < chunks[j].ChunkIndex })
	return chunks, nil
}

func (h *ChunksHandler) CountChunks(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	return int64(len(h.chunks)), nil
}

func (h *ChunksHandler) CountChunksByURL(ctx context.Context, url string) (int64, error) {
	chunks, err := h.SelectChunksByURL(ctx, url)
	if err != nil {
		return 0, err
	}
	return int64(len(chunks)), nil
}

func (h *ChunksHandler) DeleteAllChunks(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	deleted := int64(len(h.chunks))
	h.chunks = nil
	h.keys = map[chunkKey]struct{}{}
	return deleted, nil
}

// TryCrawlLock is the in-process counterpart of the Postgres advisory lock.
func (h *ChunksHandler) TryCrawlLock(ctx context.Context) (func(), bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.locked {
		return nil, false, nil
	}
	h.locked = true

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			h.locked = false
			h.mu.Unlock()
		})
	}, true, nil
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0 when
// either is a zero vector or the lengths differ.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
