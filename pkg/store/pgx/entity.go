package pgx

import (
	"context"
	"fmt"
	"strings"

	"github.com/pgvector/pgvector-go"

	"github.com/tesselab/ariadne/pkg/common"
	"github.com/tesselab/ariadne/pkg/store"
)

const selectEntityColumns = `
SELECT id, tenant_id, name, type, description, embedding, chunk_ids
FROM entities
`

// ListEntities returns all entities for a tenant, ordered by id.
func (s *GraphDBStorage) ListEntities(ctx context.Context, tenantID string) ([]common.Entity, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	rows, err := s.conn.Query(ctx, selectEntityColumns+`
WHERE tenant_id = $1
ORDER BY id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}
	defer rows.Close()

	return scanEntities(rows)
}

// GetEntitiesByNames returns the entities whose names match exactly
// (case-insensitive) one of the given names.
func (s *GraphDBStorage) GetEntitiesByNames(
	ctx context.Context,
	tenantID string,
	names []string,
) ([]common.Entity, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	names = store.DedupeStrings(names)
	if len(names) == 0 {
		return nil, nil
	}

	lowered := make([]string, len(names))
	for i, n := range names {
		lowered[i] = strings.ToLower(n)
	}

	rows, err := s.conn.Query(ctx, selectEntityColumns+`
WHERE tenant_id = $1 AND lower(name) = ANY($2)
ORDER BY name`, tenantID, lowered)
	if err != nil {
		return nil, fmt.Errorf("failed to query entities by names: %w", err)
	}
	defer rows.Close()

	return scanEntities(rows)
}

// FindEntitiesBySubstring returns entities whose name contains the term,
// case-insensitive, ordered by name for stable results.
func (s *GraphDBStorage) FindEntitiesBySubstring(
	ctx context.Context,
	tenantID string,
	term string,
	limit int,
) ([]common.Entity, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	pattern := "%" + escapeLike(term) + "%"
	rows, err := s.conn.Query(ctx, selectEntityColumns+`
WHERE tenant_id = $1 AND name ILIKE $2
ORDER BY name
LIMIT $3`, tenantID, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query entities by substring: %w", err)
	}
	defer rows.Close()

	return scanEntities(rows)
}

// GetEntityNames returns all entity names for a tenant, sorted. Used by the
// token-overlap seed matching tier, which runs in process.
func (s *GraphDBStorage) GetEntityNames(ctx context.Context, tenantID string) ([]string, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	rows, err := s.conn.Query(ctx, `
SELECT name FROM entities WHERE tenant_id = $1 ORDER BY name`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query entity names: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// GetEntitiesByIDs returns the entities with the given ids, in id order.
func (s *GraphDBStorage) GetEntitiesByIDs(
	ctx context.Context,
	tenantID string,
	ids []string,
) ([]common.Entity, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	ids = store.DedupeStrings(ids)
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := s.conn.Query(ctx, selectEntityColumns+`
WHERE tenant_id = $1 AND id = ANY($2)
ORDER BY id`, tenantID, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query entities by ids: %w", err)
	}
	defer rows.Close()

	return scanEntities(rows)
}

// FindSimilarEntities returns the topK entities closest to the embedding by
// cosine distance.
func (s *GraphDBStorage) FindSimilarEntities(
	ctx context.Context,
	tenantID string,
	embedding []float32,
	topK int,
) ([]common.Entity, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	if len(embedding) == 0 {
		return nil, nil
	}
	if topK <= 0 {
		topK = 10
	}

	rows, err := s.conn.Query(ctx, selectEntityColumns+`
WHERE tenant_id = $1 AND embedding IS NOT NULL
ORDER BY embedding <=> $2
LIMIT $3`, tenantID, pgvector.NewVector(embedding), topK)
	if err != nil {
		return nil, fmt.Errorf("failed to query similar entities: %w", err)
	}
	defer rows.Close()

	return scanEntities(rows)
}

// GetRelationships returns all relationships for a tenant, ordered by id.
// The community builder and the PPR retriever consume this as the full edge
// list of the entity graph.
func (s *GraphDBStorage) GetRelationships(ctx context.Context, tenantID string) ([]common.Relationship, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	rows, err := s.conn.Query(ctx, `
SELECT id, tenant_id, source_id, target_id, label, description, weight
FROM relationships
WHERE tenant_id = $1
ORDER BY id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query relationships: %w", err)
	}
	defer rows.Close()

	return scanRelationships(rows)
}

// GetRelationshipsForEntities returns relationships touching any of the given
// entities on either side.
func (s *GraphDBStorage) GetRelationshipsForEntities(
	ctx context.Context,
	tenantID string,
	entityIDs []string,
) ([]common.Relationship, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	entityIDs = store.DedupeStrings(entityIDs)
	if len(entityIDs) == 0 {
		return nil, nil
	}

	rows, err := s.conn.Query(ctx, `
SELECT id, tenant_id, source_id, target_id, label, description, weight
FROM relationships
WHERE tenant_id = $1 AND (source_id = ANY($2) OR target_id = ANY($2))
ORDER BY id`, tenantID, entityIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query relationships for entities: %w", err)
	}
	defer rows.Close()

	return scanRelationships(rows)
}

// UpsertEntities inserts entities or enriches existing ones with the same
// name: descriptions are replaced, provenance chunk ids are merged.
func (s *GraphDBStorage) UpsertEntities(ctx context.Context, tenantID string, entities []common.Entity) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	if len(entities) == 0 {
		return nil
	}

	return store.ChunkRange(len(entities), 250, func(start, end int) error {
		tx, err := s.conn.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)

		for _, e := range entities[start:end] {
			_, err := tx.Exec(ctx, `
INSERT INTO entities (id, tenant_id, name, type, description, embedding, chunk_ids, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, now())
ON CONFLICT (tenant_id, name) DO UPDATE
SET type        = EXCLUDED.type,
    description = EXCLUDED.description,
    embedding   = EXCLUDED.embedding,
    chunk_ids   = (SELECT array_agg(DISTINCT c) FROM unnest(entities.chunk_ids || EXCLUDED.chunk_ids) AS c),
    updated_at  = now()`,
				e.ID, tenantID, e.Name, e.Type, e.Description, nullableVector(e.Embedding), e.ChunkIDs)
			if err != nil {
				return fmt.Errorf("failed to upsert entity %q: %w", e.Name, err)
			}
		}

		if _, err := tx.Exec(ctx, markGraphUpdatedSQL, tenantID); err != nil {
			return err
		}
		return tx.Commit(ctx)
	})
}

// UpsertRelationships inserts relationships by id.
func (s *GraphDBStorage) UpsertRelationships(ctx context.Context, tenantID string, relations []common.Relationship) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	if len(relations) == 0 {
		return nil
	}

	return store.ChunkRange(len(relations), 500, func(start, end int) error {
		tx, err := s.conn.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)

		for _, r := range relations[start:end] {
			_, err := tx.Exec(ctx, `
INSERT INTO relationships (id, tenant_id, source_id, target_id, label, description, weight)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO UPDATE
SET label       = EXCLUDED.label,
    description = EXCLUDED.description,
    weight      = EXCLUDED.weight`,
				r.ID, tenantID, r.SourceID, r.TargetID, r.Label, r.Description, r.Weight)
			if err != nil {
				return fmt.Errorf("failed to upsert relationship %s: %w", r.ID, err)
			}
		}

		if _, err := tx.Exec(ctx, markGraphUpdatedSQL, tenantID); err != nil {
			return err
		}
		return tx.Commit(ctx)
	})
}

const markGraphUpdatedSQL = `
INSERT INTO index_state (tenant_id, graph_updated_at)
VALUES ($1, now())
ON CONFLICT (tenant_id) DO UPDATE SET graph_updated_at = now()`

func scanEntities(rows pgxRows) ([]common.Entity, error) {
	var entities []common.Entity
	for rows.Next() {
		var e common.Entity
		var embedding *pgvector.Vector
		if err := rows.Scan(&e.ID, &e.TenantID, &e.Name, &e.Type, &e.Description, &embedding, &e.ChunkIDs); err != nil {
			return nil, err
		}
		if embedding != nil {
			e.Embedding = embedding.Slice()
		}
		entities = append(entities, e)
	}
	return entities, rows.Err()
}

func scanRelationships(rows pgxRows) ([]common.Relationship, error) {
	var relations []common.Relationship
	for rows.Next() {
		var r common.Relationship
		if err := rows.Scan(&r.ID, &r.TenantID, &r.SourceID, &r.TargetID, &r.Label, &r.Description, &r.Weight); err != nil {
			return nil, err
		}
		relations = append(relations, r)
	}
	return relations, rows.Err()
}

func nullableVector(embedding []float32) any {
	if len(embedding) == 0 {
		return nil
	}
	return pgvector.NewVector(embedding)
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
