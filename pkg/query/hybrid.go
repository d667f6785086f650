package query

import (
	"context"
	"errors"
	"sort"

	"github.com/tesselab/ariadne/pkg/common"
	"github.com/tesselab/ariadne/pkg/ppr"
)

// hierarchyTopK is how many summary-tree nodes the hybrid merge considers.
const hierarchyTopK = 3

// queryHybrid merges two rankings: chunks by vector similarity and entities
// by personalized PageRank from query seeds. Summary nodes from the
// hierarchical index join the candidate pool at reduced weight. Each
// candidate gets a weighted rank-based score and the merged top slice
// becomes the answer context.
func (e *Engine) queryHybrid(ctx context.Context, req Request, trace *QueryTrace) (common.Answer, error) {
	topK := req.TopK
	if topK <= 0 {
		topK = 10
	}
	// Queries asking for amounts, day counts, or dates keep a few extra
	// candidates so the exact value survives the top-k cut.
	if e.booster != nil && e.booster.Detects(req.Query) {
		topK += recallWidening
	}

	type scored struct {
		item  evidence
		score float64
	}
	var candidates []scored
	seen := make(map[string]int)
	addOrBoost := func(item evidence, score float64) {
		if i, ok := seen[item.id]; ok {
			candidates[i].score += score
			return
		}
		seen[item.id] = len(candidates)
		candidates = append(candidates, scored{item: item, score: score})
	}

	if embedding := e.embedQuery(ctx, req.Query); embedding != nil {
		chunks, err := e.store.FindSimilarChunks(ctx, req.TenantID, embedding, topK*2)
		if err != nil {
			return common.Answer{}, err
		}
		for i, c := range chunks {
			rankScore := 1 - float64(i)/float64(len(chunks))
			addOrBoost(chunkEvidence(c), e.vectorWeight*rankScore)
		}

		if err := e.addHierarchyCandidates(ctx, req.TenantID, embedding, addOrBoost); err != nil {
			return common.Answer{}, err
		}
	}

	pprConverged := true
	seeds, err := ppr.ExpandSeeds(ctx, e.store, req.TenantID, queryTerms(req.Query))
	if err != nil {
		return common.Answer{}, err
	}
	if len(seeds) > 0 {
		entities, err := e.store.ListEntities(ctx, req.TenantID)
		if err != nil {
			return common.Answer{}, err
		}
		edges, err := e.store.GetRelationships(ctx, req.TenantID)
		if err != nil {
			return common.Answer{}, err
		}

		nodeIDs := make([]string, len(entities))
		byID := make(map[string]common.Entity, len(entities))
		for i, ent := range entities {
			nodeIDs[i] = ent.ID
			byID[ent.ID] = ent
		}
		seedIDs := make([]string, len(seeds))
		for i, s := range seeds {
			seedIDs[i] = s.ID
		}
		RecordQueriedEntityIDs(trace, seedIDs...)

		scores, err := ppr.Rank(nodeIDs, edges, seedIDs, ppr.Options{})
		if err != nil {
			if !errors.Is(err, common.ErrConvergenceFailure) {
				return common.Answer{}, err
			}
			pprConverged = false
		}

		graphWeight := 1 - e.vectorWeight
		if len(scores) > 0 {
			maxScore := scores[0].Score
			if maxScore <= 0 {
				maxScore = 1
			}
			limit := min(topK, len(scores))
			for _, s := range scores[:limit] {
				if s.Score <= 0 {
					break
				}
				ent, ok := byID[s.EntityID]
				if !ok {
					continue
				}
				addOrBoost(entityEvidence(ent), graphWeight*s.Score/maxScore)
			}
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].item.id < candidates[j].item.id
	})
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}

	items := make([]evidence, len(candidates))
	for i, c := range candidates {
		items[i] = c.item
	}

	answer, err := e.answerFromEvidence(ctx, req, items, RouteHybrid, trace)
	if err != nil {
		return common.Answer{}, err
	}
	if !pprConverged {
		answer.Metadata["ppr_converged"] = false
		answer.Metadata["confidence"] = common.ConfidenceLow
	}
	return answer, nil
}

// addHierarchyCandidates folds the summarization tree into the hybrid merge:
// the best-matching summary nodes at level >= 1 enter the candidate pool at
// half the vector weight, and the children of the top match join at a quarter
// so a broad summary can pull its more specific sub-summaries along. Chunks
// keep covering the detail tier, so level-0 nodes are skipped.
func (e *Engine) addHierarchyCandidates(
	ctx context.Context,
	tenantID string,
	embedding []float32,
	addOrBoost func(evidence, float64),
) error {
	nodes, err := e.store.FindSimilarHierarchyNodes(ctx, tenantID, embedding, 1, hierarchyTopK)
	if err != nil {
		return err
	}
	for i, n := range nodes {
		rankScore := 1 - float64(i)/float64(len(nodes))
		addOrBoost(hierarchyEvidence(n), e.vectorWeight*0.5*rankScore)
	}

	if len(nodes) == 0 || len(nodes[0].ChildIDs) == 0 {
		return nil
	}
	children, err := e.store.GetHierarchyNodesByIDs(ctx, tenantID, nodes[0].ChildIDs)
	if err != nil {
		return err
	}
	for _, c := range children {
		if c.Level < 1 {
			continue
		}
		addOrBoost(hierarchyEvidence(c), e.vectorWeight*0.25)
	}
	return nil
}
