// Package memory provides an in-process GraphStorage used by tests and local
// development. It mirrors the semantics of the pgx implementation, including
// tenant scoping and wholesale index swaps, with cosine similarity computed
// in process.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tesselab/ariadne/internal/util"
	"github.com/tesselab/ariadne/pkg/common"
	"github.com/tesselab/ariadne/pkg/store"
)

type GraphMemStorage struct {
	mu sync.RWMutex

	entities       map[string][]common.Entity
	relationships  map[string][]common.Relationship
	chunks         map[string][]common.Chunk
	communities    map[string][]common.Community
	hierarchyNodes map[string][]common.HierarchyNode

	graphUpdatedAt     map[string]time.Time
	communitiesBuiltAt map[string]time.Time
	hierarchyBuiltAt   map[string]time.Time
}

var _ store.GraphStorage = (*GraphMemStorage)(nil)

func NewGraphMemStorage() *GraphMemStorage {
	return &GraphMemStorage{
		entities:           make(map[string][]common.Entity),
		relationships:      make(map[string][]common.Relationship),
		chunks:             make(map[string][]common.Chunk),
		communities:        make(map[string][]common.Community),
		hierarchyNodes:     make(map[string][]common.HierarchyNode),
		graphUpdatedAt:     make(map[string]time.Time),
		communitiesBuiltAt: make(map[string]time.Time),
		hierarchyBuiltAt:   make(map[string]time.Time),
	}
}

func requireTenant(tenantID string) error {
	if strings.TrimSpace(tenantID) == "" {
		return common.ErrMissingTenant
	}
	return nil
}

func (s *GraphMemStorage) ListEntities(_ context.Context, tenantID string) ([]common.Entity, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := append([]common.Entity(nil), s.entities[tenantID]...)
	sortByField(out, func(e common.Entity) string { return e.ID })
	return out, nil
}

func (s *GraphMemStorage) GetEntitiesByNames(_ context.Context, tenantID string, names []string) ([]common.Entity, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	wanted := make(map[string]struct{}, len(names))
	for _, n := range store.DedupeStrings(names) {
		wanted[strings.ToLower(n)] = struct{}{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []common.Entity
	for _, e := range s.entities[tenantID] {
		if _, ok := wanted[strings.ToLower(e.Name)]; ok {
			out = append(out, e)
		}
	}
	sortByField(out, func(e common.Entity) string { return e.Name })
	return out, nil
}

func (s *GraphMemStorage) FindEntitiesBySubstring(_ context.Context, tenantID string, term string, limit int) ([]common.Entity, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []common.Entity
	for _, e := range s.entities[tenantID] {
		if strings.Contains(strings.ToLower(e.Name), term) {
			out = append(out, e)
		}
	}
	sortByField(out, func(e common.Entity) string { return e.Name })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *GraphMemStorage) GetEntityNames(_ context.Context, tenantID string) ([]string, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.entities[tenantID]))
	for _, e := range s.entities[tenantID] {
		names = append(names, e.Name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *GraphMemStorage) GetEntitiesByIDs(_ context.Context, tenantID string, ids []string) ([]common.Entity, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	wanted := toSet(store.DedupeStrings(ids))

	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []common.Entity
	for _, e := range s.entities[tenantID] {
		if _, ok := wanted[e.ID]; ok {
			out = append(out, e)
		}
	}
	sortByField(out, func(e common.Entity) string { return e.ID })
	return out, nil
}

func (s *GraphMemStorage) FindSimilarEntities(_ context.Context, tenantID string, embedding []float32, topK int) ([]common.Entity, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return topBySimilarity(s.entities[tenantID], embedding, topK,
		func(e common.Entity) []float32 { return e.Embedding },
		func(e common.Entity) string { return e.ID },
	), nil
}

func (s *GraphMemStorage) GetRelationships(_ context.Context, tenantID string) ([]common.Relationship, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := append([]common.Relationship(nil), s.relationships[tenantID]...)
	sortByField(out, func(r common.Relationship) string { return r.ID })
	return out, nil
}

func (s *GraphMemStorage) GetRelationshipsForEntities(_ context.Context, tenantID string, entityIDs []string) ([]common.Relationship, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	wanted := toSet(store.DedupeStrings(entityIDs))

	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []common.Relationship
	for _, r := range s.relationships[tenantID] {
		_, src := wanted[r.SourceID]
		_, dst := wanted[r.TargetID]
		if src || dst {
			out = append(out, r)
		}
	}
	sortByField(out, func(r common.Relationship) string { return r.ID })
	return out, nil
}

func (s *GraphMemStorage) UpsertEntities(_ context.Context, tenantID string, entities []common.Entity) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entities {
		replaced := false
		for i, existing := range s.entities[tenantID] {
			if strings.EqualFold(existing.Name, e.Name) {
				merged := e
				merged.ID = existing.ID
				merged.ChunkIDs = store.DedupeStrings(append(existing.ChunkIDs, e.ChunkIDs...))
				s.entities[tenantID][i] = merged
				replaced = true
				break
			}
		}
		if !replaced {
			s.entities[tenantID] = append(s.entities[tenantID], e)
		}
	}
	s.graphUpdatedAt[tenantID] = time.Now()
	return nil
}

func (s *GraphMemStorage) UpsertRelationships(_ context.Context, tenantID string, relations []common.Relationship) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range relations {
		replaced := false
		for i, existing := range s.relationships[tenantID] {
			if existing.ID == r.ID {
				s.relationships[tenantID][i] = r
				replaced = true
				break
			}
		}
		if !replaced {
			s.relationships[tenantID] = append(s.relationships[tenantID], r)
		}
	}
	s.graphUpdatedAt[tenantID] = time.Now()
	return nil
}

func (s *GraphMemStorage) SaveChunks(_ context.Context, tenantID string, chunks []common.Chunk) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing := toSet(nil)
	for _, c := range s.chunks[tenantID] {
		existing[c.ID] = struct{}{}
	}
	for _, c := range chunks {
		if _, ok := existing[c.ID]; ok {
			continue
		}
		s.chunks[tenantID] = append(s.chunks[tenantID], c)
		existing[c.ID] = struct{}{}
	}
	return nil
}

func (s *GraphMemStorage) ListChunks(_ context.Context, tenantID string) ([]common.Chunk, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := append([]common.Chunk(nil), s.chunks[tenantID]...)
	sortByField(out, func(c common.Chunk) string { return c.ID })
	return out, nil
}

func (s *GraphMemStorage) GetChunksByIDs(_ context.Context, tenantID string, ids []string) ([]common.Chunk, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	wanted := toSet(store.DedupeStrings(ids))

	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []common.Chunk
	for _, c := range s.chunks[tenantID] {
		if _, ok := wanted[c.ID]; ok {
			out = append(out, c)
		}
	}
	sortByField(out, func(c common.Chunk) string { return c.ID })
	return out, nil
}

func (s *GraphMemStorage) FindSimilarChunks(_ context.Context, tenantID string, embedding []float32, topK int) ([]common.Chunk, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return topBySimilarity(s.chunks[tenantID], embedding, topK,
		func(c common.Chunk) []float32 { return c.Embedding },
		func(c common.Chunk) string { return c.ID },
	), nil
}

func (s *GraphMemStorage) ListCommunities(_ context.Context, tenantID string, level int) ([]common.Community, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []common.Community
	for _, c := range s.communities[tenantID] {
		if level < 0 || c.Level == level {
			out = append(out, c)
		}
	}
	sortByField(out, func(c common.Community) string { return c.ID })
	return out, nil
}

func (s *GraphMemStorage) FindSimilarCommunities(_ context.Context, tenantID string, embedding []float32, level, topK int) ([]common.Community, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var atLevel []common.Community
	for _, c := range s.communities[tenantID] {
		if c.Level == level {
			atLevel = append(atLevel, c)
		}
	}
	return topBySimilarity(atLevel, embedding, topK,
		func(c common.Community) []float32 { return c.Embedding },
		func(c common.Community) string { return c.ID },
	), nil
}

func (s *GraphMemStorage) ReplaceCommunities(_ context.Context, tenantID string, communities []common.Community) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.communities[tenantID] = append([]common.Community(nil), communities...)
	s.communitiesBuiltAt[tenantID] = time.Now()
	return nil
}

func (s *GraphMemStorage) ListHierarchyNodes(_ context.Context, tenantID string, level int) ([]common.HierarchyNode, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []common.HierarchyNode
	for _, n := range s.hierarchyNodes[tenantID] {
		if level < 0 || n.Level == level {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Level != out[j].Level {
			return out[i].Level < out[j].Level
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *GraphMemStorage) GetHierarchyNodesByIDs(_ context.Context, tenantID string, ids []string) ([]common.HierarchyNode, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	wanted := toSet(store.DedupeStrings(ids))

	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []common.HierarchyNode
	for _, n := range s.hierarchyNodes[tenantID] {
		if _, ok := wanted[n.ID]; ok {
			out = append(out, n)
		}
	}
	sortByField(out, func(n common.HierarchyNode) string { return n.ID })
	return out, nil
}

func (s *GraphMemStorage) FindSimilarHierarchyNodes(_ context.Context, tenantID string, embedding []float32, minLevel, topK int) ([]common.HierarchyNode, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var eligible []common.HierarchyNode
	for _, n := range s.hierarchyNodes[tenantID] {
		if n.Level >= minLevel {
			eligible = append(eligible, n)
		}
	}
	return topBySimilarity(eligible, embedding, topK,
		func(n common.HierarchyNode) []float32 { return n.Embedding },
		func(n common.HierarchyNode) string { return n.ID },
	), nil
}

func (s *GraphMemStorage) ReplaceHierarchy(_ context.Context, tenantID string, nodes []common.HierarchyNode) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hierarchyNodes[tenantID] = append([]common.HierarchyNode(nil), nodes...)
	s.hierarchyBuiltAt[tenantID] = time.Now()
	return nil
}

func (s *GraphMemStorage) GetTenantStats(_ context.Context, tenantID string) (common.TenantStats, error) {
	stats := common.TenantStats{TenantID: tenantID}
	if err := requireTenant(tenantID); err != nil {
		return stats, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats.Entities = int64(len(s.entities[tenantID]))
	stats.Relationships = int64(len(s.relationships[tenantID]))
	stats.Chunks = int64(len(s.chunks[tenantID]))
	stats.Communities = int64(len(s.communities[tenantID]))
	stats.HierarchyNodes = int64(len(s.hierarchyNodes[tenantID]))

	if t, ok := s.graphUpdatedAt[tenantID]; ok {
		updated := t
		stats.GraphUpdatedAt = &updated
	}
	if t, ok := s.communitiesBuiltAt[tenantID]; ok {
		built := t
		stats.CommunitiesBuiltAt = &built
	}
	if t, ok := s.hierarchyBuiltAt[tenantID]; ok {
		built := t
		stats.HierarchyBuiltAt = &built
	}

	stats.NeedsCommunityRebuild = needsRebuild(stats.GraphUpdatedAt, stats.CommunitiesBuiltAt, stats.Entities > 0)
	stats.NeedsHierarchyRebuild = needsRebuild(stats.GraphUpdatedAt, stats.HierarchyBuiltAt, stats.Chunks > 0)
	return stats, nil
}

func needsRebuild(graphUpdated, built *time.Time, hasData bool) bool {
	if !hasData {
		return false
	}
	if built == nil {
		return true
	}
	return graphUpdated != nil && graphUpdated.After(*built)
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

func sortByField[T any](items []T, key func(T) string) {
	sort.Slice(items, func(i, j int) bool { return key(items[i]) < key(items[j]) })
}

func topBySimilarity[T any](items []T, embedding []float32, topK int, vec func(T) []float32, id func(T) string) []T {
	if len(embedding) == 0 {
		return nil
	}
	if topK <= 0 {
		topK = 10
	}
	type scored struct {
		item T
		sim  float64
	}
	var candidates []scored
	for _, item := range items {
		if len(vec(item)) == 0 {
			continue
		}
		candidates = append(candidates, scored{item: item, sim: util.CosineSimilarity(embedding, vec(item))})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].sim != candidates[j].sim {
			return candidates[i].sim > candidates[j].sim
		}
		return id(candidates[i].item) < id(candidates[j].item)
	})
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}
	out := make([]T, len(candidates))
	for i, c := range candidates {
		out[i] = c.item
	}
	return out
}
