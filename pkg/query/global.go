package query

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tesselab/ariadne/internal/util"
	"github.com/tesselab/ariadne/pkg/ai"
	"github.com/tesselab/ariadne/pkg/common"
	"github.com/tesselab/ariadne/pkg/logger"
)

type mapResponse struct {
	Answer string `json:"answer" jsonschema_description:"Partial answer from this community's perspective, empty when the community contributes nothing"`
	Score  int    `json:"score" jsonschema_description:"Relevance of this community to the question from 0 to 100"`
}

type mappedUnit struct {
	communityID string
	answer      string
	score       int
}

// queryGlobal answers thematic questions with a map-reduce over community
// summaries: rank communities against the query, ask each relevant one for a
// partial answer in parallel, then reduce the partials into one response.
// A failing map unit is excluded and reported in the metadata instead of
// failing the query.
func (e *Engine) queryGlobal(ctx context.Context, req Request, trace *QueryTrace) (common.Answer, error) {
	topN := req.TopK
	if topN <= 0 {
		topN = 8
	}

	communities, err := e.rankCommunities(ctx, req, topN)
	if err != nil {
		return common.Answer{}, err
	}
	if len(communities) == 0 {
		return e.notFoundAnswer(ctx, req, RouteGlobal, trace)
	}

	var mu sync.Mutex
	var mapped []mappedUnit
	var failed []string

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for _, c := range communities {
		g.Go(func() error {
			RecordConsideredSourceIDs(trace, c.ID)

			var res mapResponse
			err := util.RetryErrWithContext(gctx, 2, func(ctx context.Context) error {
				return e.client.GenerateCompletionWithFormat(
					ctx,
					"map_community_answer",
					"Produce a partial answer and relevance score from one community summary.",
					fmt.Sprintf(ai.MapPrompt, c.Summary, req.Query),
					&res,
				)
			})

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logger.Warn("map unit failed", "community", c.ID, "err", err)
				failed = append(failed, c.ID)
				return nil
			}
			if res.Score > 0 && strings.TrimSpace(res.Answer) != "" {
				mapped = append(mapped, mappedUnit{communityID: c.ID, answer: res.Answer, score: res.Score})
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return common.Answer{}, err
	}

	coverage := float64(len(mapped)) / float64(len(communities))

	if len(mapped) == 0 {
		answer, err := e.notFoundAnswer(ctx, req, RouteGlobal, trace)
		if err != nil {
			return common.Answer{}, err
		}
		answer.Metadata["theme_coverage"] = 0.0
		if len(failed) > 0 {
			answer.Metadata["failed_units"] = failed
		}
		return answer, nil
	}

	// Reduce in community-id order so the synthesis input is stable.
	sort.Slice(mapped, func(i, j int) bool { return mapped[i].communityID < mapped[j].communityID })

	var partials strings.Builder
	for _, m := range mapped {
		fmt.Fprintf(&partials, "[[%s]] (relevance %d) %s\n", m.communityID, m.score, m.answer)
	}

	text, err := util.RetryWithContext(ctx, 2, func(ctx context.Context) (string, error) {
		return e.client.GenerateCompletion(ctx, fmt.Sprintf(ai.ReducePrompt, partials.String(), req.Query))
	})
	if err != nil {
		return common.Answer{}, err
	}

	items := make([]evidence, len(mapped))
	for i, m := range mapped {
		items[i] = evidence{id: m.communityID, text: m.answer}
	}
	answer := e.assembleAnswer(text, items, RouteGlobal, trace)
	answer = e.booster.EnsureCompleteness(ctx, answer, items)
	answer.Metadata["theme_coverage"] = coverage
	if len(failed) > 0 {
		answer.Metadata["failed_units"] = failed
	}
	return answer, nil
}

// rankCommunities returns the communities most relevant to the query at the
// configured level. The booster may widen the pool slightly for queries in a
// detected guardrail family.
func (e *Engine) rankCommunities(ctx context.Context, req Request, topN int) ([]common.Community, error) {
	widened := topN
	if e.booster != nil && e.booster.Detects(req.Query) {
		widened += recallWidening
	}

	if embedding := e.embedQuery(ctx, req.Query); embedding != nil {
		communities, err := e.store.FindSimilarCommunities(ctx, req.TenantID, embedding, e.communityLevel, widened)
		if err != nil {
			return nil, err
		}
		if len(communities) > 0 {
			return communities, nil
		}
	}

	// No embedding available; fall back to the level listing.
	communities, err := e.store.ListCommunities(ctx, req.TenantID, e.communityLevel)
	if err != nil {
		return nil, err
	}
	if len(communities) > widened {
		communities = communities[:widened]
	}
	return communities, nil
}
