package database

import (
	"context"
	"fmt"
	"time"

	"github.com/tky-kevin/travelkb/helper"
)

const embeddingIndexName = "idx_knowledge_chunks_embedding"

// Index types accepted by ChangeIndexType.
const (
	IndexTypeHNSW    = "hnsw"
	IndexTypeIVFFlat = "ivfflat"
)

// ChangeIndexType rebuilds the cosine vector index of knowledge_chunks.
// indexType: "hnsw" or "ivfflat"
// params: optional parameters for index creation
//   - For HNSW: "m" (int, default 16), "ef_construction" (int, default 64)
//   - For IVFFlat: "lists" (int, default 100)
func (h *ChunksDBHandler) ChangeIndexType(ctx context.Context, indexType string, params map[string]interface{}) error {
	createIndexSQL, err := indexStatement(indexType, params)
	if err != nil {
		return helper.NewError("change index type", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	tx, err := h.db.Instance.BeginTx(ctx, nil)
	if err != nil {
		return helper.NewError("begin transaction", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, fmt.Sprintf(`DROP INDEX IF EXISTS %s;`, embeddingIndexName))
	if err != nil {
		return helper.NewError("drop index", err)
	}

	_, err = tx.ExecContext(ctx, createIndexSQL)
	if err != nil {
		return helper.NewError("create index", err)
	}

	if err := tx.Commit(); err != nil {
		return helper.NewError("commit", err)
	}

	h.db.Logger.Info("Rebuilt vector index", "type", indexType, "params", params)

	return nil
}

func indexStatement(indexType string, params map[string]interface{}) (string, error) {
	switch indexType {
	case IndexTypeHNSW:
		m := intParam(params, "m", 16)
		efConstruction := intParam(params, "ef_construction", 64)
		return fmt.Sprintf(
			`CREATE INDEX %s ON knowledge_chunks USING hnsw (embedding vector_cosine_ops) WITH (m = %d, ef_construction = %d);`,
			embeddingIndexName, m, efConstruction,
		), nil
	case IndexTypeIVFFlat:
		lists := intParam(params, "lists", 100)
		return fmt.Sprintf(
			`CREATE INDEX %s ON knowledge_chunks USING ivfflat (embedding vector_cosine_ops) WITH (lists = %d);`,
			embeddingIndexName, lists,
		), nil
	default:
		return "", fmt.Errorf("unsupported index type: %s (use 'hnsw' or 'ivfflat')", indexType)
	}
}

func intParam(params map[string]interface{}, key string, fallback int) int {
	if v, ok := params[key].(int); ok && v > 0 {
		return v
	}
	return fallback
}
