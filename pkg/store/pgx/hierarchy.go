package pgx

import (
	"context"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/tesselab/ariadne/pkg/common"
	"github.com/tesselab/ariadne/pkg/store"
)

const selectHierarchyColumns = `
SELECT id, tenant_id, level, text, embedding, child_ids, coherence, confidence, silhouette
FROM hierarchy_nodes
`

// ListHierarchyNodes returns all hierarchy nodes at a level, ordered by id.
// A negative level returns the whole tree.
func (s *GraphDBStorage) ListHierarchyNodes(ctx context.Context, tenantID string, level int) ([]common.HierarchyNode, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	var rows pgxRows
	var err error
	if level < 0 {
		rows, err = s.conn.Query(ctx, selectHierarchyColumns+`
WHERE tenant_id = $1
ORDER BY level, id`, tenantID)
	} else {
		rows, err = s.conn.Query(ctx, selectHierarchyColumns+`
WHERE tenant_id = $1 AND level = $2
ORDER BY id`, tenantID, level)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list hierarchy nodes: %w", err)
	}
	defer rows.Close()

	return scanHierarchyNodes(rows)
}

// GetHierarchyNodesByIDs returns the hierarchy nodes with the given ids.
func (s *GraphDBStorage) GetHierarchyNodesByIDs(ctx context.Context, tenantID string, ids []string) ([]common.HierarchyNode, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	ids = store.DedupeStrings(ids)
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := s.conn.Query(ctx, selectHierarchyColumns+`
WHERE tenant_id = $1 AND id = ANY($2)
ORDER BY id`, tenantID, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query hierarchy nodes by ids: %w", err)
	}
	defer rows.Close()

	return scanHierarchyNodes(rows)
}

// FindSimilarHierarchyNodes returns the topK nodes at or above minLevel
// closest to the embedding by cosine distance.
func (s *GraphDBStorage) FindSimilarHierarchyNodes(
	ctx context.Context,
	tenantID string,
	embedding []float32,
	minLevel, topK int,
) ([]common.HierarchyNode, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	if len(embedding) == 0 {
		return nil, nil
	}
	if topK <= 0 {
		topK = 5
	}

	rows, err := s.conn.Query(ctx, selectHierarchyColumns+`
WHERE tenant_id = $1 AND level >= $2 AND embedding IS NOT NULL
ORDER BY embedding <=> $3
LIMIT $4`, tenantID, minLevel, pgvector.NewVector(embedding), topK)
	if err != nil {
		return nil, fmt.Errorf("failed to query similar hierarchy nodes: %w", err)
	}
	defer rows.Close()

	return scanHierarchyNodes(rows)
}

// ReplaceHierarchy swaps the full summarization tree for a tenant in a single
// transaction, same visibility guarantee as ReplaceCommunities.
func (s *GraphDBStorage) ReplaceHierarchy(ctx context.Context, tenantID string, nodes []common.HierarchyNode) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM hierarchy_nodes WHERE tenant_id = $1`, tenantID); err != nil {
		return fmt.Errorf("failed to clear hierarchy: %w", err)
	}

	for _, n := range nodes {
		_, err := tx.Exec(ctx, `
INSERT INTO hierarchy_nodes (id, tenant_id, level, text, embedding, child_ids, coherence, confidence, silhouette, built_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())`,
			n.ID, tenantID, n.Level, n.Text, nullableVector(n.Embedding), n.ChildIDs, n.Coherence, n.Confidence, n.Silhouette)
		if err != nil {
			return fmt.Errorf("failed to insert hierarchy node %s: %w", n.ID, err)
		}
	}

	_, err = tx.Exec(ctx, `
INSERT INTO index_state (tenant_id, hierarchy_built_at)
VALUES ($1, now())
ON CONFLICT (tenant_id) DO UPDATE SET hierarchy_built_at = now()`, tenantID)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func scanHierarchyNodes(rows pgxRows) ([]common.HierarchyNode, error) {
	var nodes []common.HierarchyNode
	for rows.Next() {
		var n common.HierarchyNode
		var embedding *pgvector.Vector
		if err := rows.Scan(&n.ID, &n.TenantID, &n.Level, &n.Text, &embedding, &n.ChildIDs, &n.Coherence, &n.Confidence, &n.Silhouette); err != nil {
			return nil, err
		}
		if embedding != nil {
			n.Embedding = embedding.Slice()
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}
