package pgx

import (
	"context"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/tesselab/ariadne/pkg/common"
	"github.com/tesselab/ariadne/pkg/store"
)

const selectChunkColumns = `
SELECT id, tenant_id, text, embedding, source_doc, section, page
FROM chunks
`

// SaveChunks persists ingested chunks. Chunks are immutable; a conflicting id
// is left untouched.
func (s *GraphDBStorage) SaveChunks(ctx context.Context, tenantID string, chunks []common.Chunk) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}

	return store.ChunkRange(len(chunks), 500, func(start, end int) error {
		tx, err := s.conn.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)

		for _, c := range chunks[start:end] {
			_, err := tx.Exec(ctx, `
INSERT INTO chunks (id, tenant_id, text, embedding, source_doc, section, page)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO NOTHING`,
				c.ID, tenantID, c.Text, nullableVector(c.Embedding), c.SourceDocID, c.SectionPath, c.PageNumber)
			if err != nil {
				return fmt.Errorf("failed to insert chunk %s: %w", c.ID, err)
			}
		}
		return tx.Commit(ctx)
	})
}

// ListChunks returns all chunks for a tenant, ordered by id.
func (s *GraphDBStorage) ListChunks(ctx context.Context, tenantID string) ([]common.Chunk, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	rows, err := s.conn.Query(ctx, selectChunkColumns+`
WHERE tenant_id = $1
ORDER BY id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	defer rows.Close()

	return scanChunks(rows)
}

// GetChunksByIDs returns the chunks with the given ids, in id order.
func (s *GraphDBStorage) GetChunksByIDs(ctx context.Context, tenantID string, ids []string) ([]common.Chunk, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	ids = store.DedupeStrings(ids)
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := s.conn.Query(ctx, selectChunkColumns+`
WHERE tenant_id = $1 AND id = ANY($2)
ORDER BY id`, tenantID, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks by ids: %w", err)
	}
	defer rows.Close()

	return scanChunks(rows)
}

// FindSimilarChunks returns the topK chunks closest to the embedding by
// cosine distance. Chunks without embeddings never match here; they stay
// reachable through GetChunksByIDs.
func (s *GraphDBStorage) FindSimilarChunks(
	ctx context.Context,
	tenantID string,
	embedding []float32,
	topK int,
) ([]common.Chunk, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	if len(embedding) == 0 {
		return nil, nil
	}
	if topK <= 0 {
		topK = 10
	}

	rows, err := s.conn.Query(ctx, selectChunkColumns+`
WHERE tenant_id = $1 AND embedding IS NOT NULL
ORDER BY embedding <=> $2
LIMIT $3`, tenantID, pgvector.NewVector(embedding), topK)
	if err != nil {
		return nil, fmt.Errorf("failed to query similar chunks: %w", err)
	}
	defer rows.Close()

	return scanChunks(rows)
}

func scanChunks(rows pgxRows) ([]common.Chunk, error) {
	var chunks []common.Chunk
	for rows.Next() {
		var c common.Chunk
		var embedding *pgvector.Vector
		if err := rows.Scan(&c.ID, &c.TenantID, &c.Text, &embedding, &c.SourceDocID, &c.SectionPath, &c.PageNumber); err != nil {
			return nil, err
		}
		if embedding != nil {
			c.Embedding = embedding.Slice()
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}
