package pgx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/tesselab/ariadne/pkg/common"
)

// GetTenantStats reports index counts and staleness for one tenant. An index
// is stale when the graph changed after it was last built, or when the graph
// has data but the index was never built at all.
func (s *GraphDBStorage) GetTenantStats(ctx context.Context, tenantID string) (common.TenantStats, error) {
	stats := common.TenantStats{TenantID: tenantID}
	if err := requireTenant(tenantID); err != nil {
		return stats, err
	}

	err := s.conn.QueryRow(ctx, `
SELECT
    (SELECT count(*) FROM entities        WHERE tenant_id = $1),
    (SELECT count(*) FROM relationships   WHERE tenant_id = $1),
    (SELECT count(*) FROM chunks          WHERE tenant_id = $1),
    (SELECT count(*) FROM communities     WHERE tenant_id = $1),
    (SELECT count(*) FROM hierarchy_nodes WHERE tenant_id = $1)`,
		tenantID).Scan(&stats.Entities, &stats.Relationships, &stats.Chunks, &stats.Communities, &stats.HierarchyNodes)
	if err != nil {
		return stats, fmt.Errorf("failed to count tenant records: %w", err)
	}

	var graphUpdated, communitiesBuilt, hierarchyBuilt *time.Time
	err = s.conn.QueryRow(ctx, `
SELECT graph_updated_at, communities_built_at, hierarchy_built_at
FROM index_state
WHERE tenant_id = $1`, tenantID).Scan(&graphUpdated, &communitiesBuilt, &hierarchyBuilt)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return stats, fmt.Errorf("failed to read index state: %w", err)
	}

	stats.GraphUpdatedAt = graphUpdated
	stats.CommunitiesBuiltAt = communitiesBuilt
	stats.HierarchyBuiltAt = hierarchyBuilt
	stats.NeedsCommunityRebuild = staleAgainst(graphUpdated, communitiesBuilt, stats.Entities > 0)
	stats.NeedsHierarchyRebuild = staleAgainst(graphUpdated, hierarchyBuilt, stats.Chunks > 0)

	return stats, nil
}

func staleAgainst(graphUpdated, built *time.Time, hasData bool) bool {
	if !hasData {
		return false
	}
	if built == nil {
		return true
	}
	return graphUpdated != nil && graphUpdated.After(*built)
}
