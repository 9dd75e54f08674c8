package model

import (
	"time"

	"github.com/google/uuid"
)

// Chunk is one indexed slice of an article together with its embedding.
// Many chunks share one source URL; the URL is a back-reference, not an owner.
type Chunk struct {
	ID         int64     `json:"id"`
	RID        uuid.UUID `json:"rid"`
	URL        string    `json:"url"`
	Title      string    `json:"title"`
	Content    string    `json:"content_chunk"`
	ChunkIndex int       `json:"chunk_index"`
	Embedding  []float32 `json:"embedding,omitempty"`
	Metadata   Metadata  `json:"metadata,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	// Results
	Similarity float64 `json:"similarity,omitempty"`
}

// HasEmbedding reports whether the chunk carries a vector and may be persisted.
func (c *Chunk) HasEmbedding() bool {
	return c != nil && len(c.Embedding) > 0
}
