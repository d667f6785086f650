package pgx

import (
	"context"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/tesselab/ariadne/pkg/common"
)

const selectCommunityColumns = `
SELECT id, tenant_id, level, member_ids, summary, embedding
FROM communities
`

// ListCommunities returns all communities at a level, ordered by id. A
// negative level returns every level.
func (s *GraphDBStorage) ListCommunities(ctx context.Context, tenantID string, level int) ([]common.Community, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	var rows pgxRows
	var err error
	if level < 0 {
		rows, err = s.conn.Query(ctx, selectCommunityColumns+`
WHERE tenant_id = $1
ORDER BY id`, tenantID)
	} else {
		rows, err = s.conn.Query(ctx, selectCommunityColumns+`
WHERE tenant_id = $1 AND level = $2
ORDER BY id`, tenantID, level)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list communities: %w", err)
	}
	defer rows.Close()

	return scanCommunities(rows)
}

// FindSimilarCommunities returns the topK communities at a level closest to
// the embedding by cosine distance.
func (s *GraphDBStorage) FindSimilarCommunities(
	ctx context.Context,
	tenantID string,
	embedding []float32,
	level, topK int,
) ([]common.Community, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	if len(embedding) == 0 {
		return nil, nil
	}
	if topK <= 0 {
		topK = 5
	}

	rows, err := s.conn.Query(ctx, selectCommunityColumns+`
WHERE tenant_id = $1 AND level = $2 AND embedding IS NOT NULL
ORDER BY embedding <=> $3
LIMIT $4`, tenantID, level, pgvector.NewVector(embedding), topK)
	if err != nil {
		return nil, fmt.Errorf("failed to query similar communities: %w", err)
	}
	defer rows.Close()

	return scanCommunities(rows)
}

// ReplaceCommunities swaps the entire community partition for a tenant in a
// single transaction. Queries running concurrently see either the previous
// partition or the new one, never a partially rebuilt state.
func (s *GraphDBStorage) ReplaceCommunities(ctx context.Context, tenantID string, communities []common.Community) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM communities WHERE tenant_id = $1`, tenantID); err != nil {
		return fmt.Errorf("failed to clear communities: %w", err)
	}

	for _, c := range communities {
		_, err := tx.Exec(ctx, `
INSERT INTO communities (id, tenant_id, level, member_ids, summary, embedding, built_at)
VALUES ($1, $2, $3, $4, $5, $6, now())`,
			c.ID, tenantID, c.Level, c.MemberIDs, c.Summary, nullableVector(c.Embedding))
		if err != nil {
			return fmt.Errorf("failed to insert community %s: %w", c.ID, err)
		}
	}

	_, err = tx.Exec(ctx, `
INSERT INTO index_state (tenant_id, communities_built_at)
VALUES ($1, now())
ON CONFLICT (tenant_id) DO UPDATE SET communities_built_at = now()`, tenantID)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func scanCommunities(rows pgxRows) ([]common.Community, error) {
	var communities []common.Community
	for rows.Next() {
		var c common.Community
		var embedding *pgvector.Vector
		if err := rows.Scan(&c.ID, &c.TenantID, &c.Level, &c.MemberIDs, &c.Summary, &embedding); err != nil {
			return nil, err
		}
		if embedding != nil {
			c.Embedding = embedding.Slice()
		}
		communities = append(communities, c)
	}
	return communities, rows.Err()
}
