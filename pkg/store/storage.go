package store

import (
	"context"

	"github.com/tesselab/ariadne/pkg/common"
)

// GraphStorage defines the interface for persisting and querying the
// tenant-scoped knowledge graph and its derived indexes. Every operation is
// parameterized by tenant id; implementations must reject calls without one.
// This interface is the single choke point where tenant isolation is
// enforced.
type GraphStorage interface {
	// Entities and relationships.
	ListEntities(ctx context.Context, tenantID string) ([]common.Entity, error)
	GetEntitiesByNames(ctx context.Context, tenantID string, names []string) ([]common.Entity, error)
	FindEntitiesBySubstring(ctx context.Context, tenantID string, term string, limit int) ([]common.Entity, error)
	GetEntityNames(ctx context.Context, tenantID string) ([]string, error)
	GetEntitiesByIDs(ctx context.Context, tenantID string, ids []string) ([]common.Entity, error)
	FindSimilarEntities(ctx context.Context, tenantID string, embedding []float32, topK int) ([]common.Entity, error)
	GetRelationships(ctx context.Context, tenantID string) ([]common.Relationship, error)
	GetRelationshipsForEntities(ctx context.Context, tenantID string, entityIDs []string) ([]common.Relationship, error)
	UpsertEntities(ctx context.Context, tenantID string, entities []common.Entity) error
	UpsertRelationships(ctx context.Context, tenantID string, relations []common.Relationship) error

	// Chunks.
	SaveChunks(ctx context.Context, tenantID string, chunks []common.Chunk) error
	ListChunks(ctx context.Context, tenantID string) ([]common.Chunk, error)
	GetChunksByIDs(ctx context.Context, tenantID string, ids []string) ([]common.Chunk, error)
	FindSimilarChunks(ctx context.Context, tenantID string, embedding []float32, topK int) ([]common.Chunk, error)

	// Communities. ReplaceCommunities swaps the whole partition for a tenant
	// in one transaction: queries see either the old or the new partition,
	// never a mix.
	ListCommunities(ctx context.Context, tenantID string, level int) ([]common.Community, error)
	FindSimilarCommunities(ctx context.Context, tenantID string, embedding []float32, level, topK int) ([]common.Community, error)
	ReplaceCommunities(ctx context.Context, tenantID string, communities []common.Community) error

	// Hierarchy nodes. Same wholesale-swap semantics as communities.
	ListHierarchyNodes(ctx context.Context, tenantID string, level int) ([]common.HierarchyNode, error)
	GetHierarchyNodesByIDs(ctx context.Context, tenantID string, ids []string) ([]common.HierarchyNode, error)
	FindSimilarHierarchyNodes(ctx context.Context, tenantID string, embedding []float32, minLevel, topK int) ([]common.HierarchyNode, error)
	ReplaceHierarchy(ctx context.Context, tenantID string, nodes []common.HierarchyNode) error

	// Maintenance surface.
	GetTenantStats(ctx context.Context, tenantID string) (common.TenantStats, error)
}
