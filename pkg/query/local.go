package query

import (
	"context"

	"github.com/tesselab/ariadne/pkg/common"
	"github.com/tesselab/ariadne/pkg/ppr"
	"github.com/tesselab/ariadne/pkg/store"
)

// queryLocal answers entity-centric questions: resolve seed entities from the
// query, widen to their one-hop neighborhood, add the closest chunks, and
// generate a grounded answer over that context.
func (e *Engine) queryLocal(ctx context.Context, req Request, trace *QueryTrace) (common.Answer, error) {
	items, err := e.collectLocalEvidence(ctx, req.TenantID, req.Query, req.TopK, trace)
	if err != nil {
		return common.Answer{}, err
	}
	return e.answerFromEvidence(ctx, req, items, RouteLocal, trace)
}

// collectLocalEvidence is the shared retrieval primitive behind the local
// route and the per-hop lookups of the multi-hop route.
func (e *Engine) collectLocalEvidence(
	ctx context.Context,
	tenantID string,
	question string,
	topK int,
	trace *QueryTrace,
) ([]evidence, error) {
	if topK <= 0 {
		topK = 10
	}
	// Queries asking for amounts, day counts, or dates fetch a few extra
	// chunks so the exact value is in context before generation.
	if e.booster != nil && e.booster.Detects(question) {
		topK += recallWidening
	}

	seeds, err := ppr.ExpandSeeds(ctx, e.store, tenantID, queryTerms(question))
	if err != nil {
		return nil, err
	}

	var items []evidence
	seen := make(map[string]struct{})
	add := func(item evidence) {
		if _, ok := seen[item.id]; ok {
			return
		}
		seen[item.id] = struct{}{}
		items = append(items, item)
	}

	byID := make(map[string]common.Entity, len(seeds))
	seedIDs := make([]string, 0, len(seeds))
	var provenance []string
	for _, s := range seeds {
		byID[s.ID] = s
		seedIDs = append(seedIDs, s.ID)
		provenance = append(provenance, s.ChunkIDs...)
	}
	RecordQueriedEntityIDs(trace, seedIDs...)

	var relationships []common.Relationship
	if len(seedIDs) > 0 {
		relationships, err = e.store.GetRelationshipsForEntities(ctx, tenantID, seedIDs)
		if err != nil {
			return nil, err
		}

		// Resolve the far endpoints so relationship lines carry names.
		var missing []string
		for _, r := range relationships {
			if _, ok := byID[r.SourceID]; !ok {
				missing = append(missing, r.SourceID)
			}
			if _, ok := byID[r.TargetID]; !ok {
				missing = append(missing, r.TargetID)
			}
		}
		neighbors, err := e.store.GetEntitiesByIDs(ctx, tenantID, missing)
		if err != nil {
			return nil, err
		}
		for _, n := range neighbors {
			byID[n.ID] = n
		}
	}

	for _, s := range seeds {
		add(entityEvidence(s))
	}
	for _, r := range relationships {
		RecordQueriedRelationshipIDs(trace, r.ID)
		add(relationshipEvidence(r, byID))
	}

	if embedding := e.embedQuery(ctx, question); embedding != nil {
		chunks, err := e.store.FindSimilarChunks(ctx, tenantID, embedding, topK)
		if err != nil {
			return nil, err
		}
		for _, c := range chunks {
			add(chunkEvidence(c))
		}
	}

	if len(provenance) > 0 {
		provenance = store.DedupeStrings(provenance)
		if len(provenance) > topK {
			provenance = provenance[:topK]
		}
		chunks, err := e.store.GetChunksByIDs(ctx, tenantID, provenance)
		if err != nil {
			return nil, err
		}
		for _, c := range chunks {
			add(chunkEvidence(c))
		}
	}

	return items, nil
}
