package query

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/tesselab/ariadne/pkg/common"
	"github.com/tesselab/ariadne/pkg/logger"
)

// Query routes the request to a strategy and returns the answer. A forced
// route is honored verbatim; otherwise lightweight signals classify the
// query. The whole run is bounded by the engine's time budget; when the
// budget runs out mid-strategy the engine returns an explicit partial
// answer marked low-confidence instead of an error.
func (e *Engine) Query(ctx context.Context, req Request) (common.Answer, error) {
	if strings.TrimSpace(req.TenantID) == "" {
		return common.Answer{}, common.ErrMissingTenant
	}
	if strings.TrimSpace(req.Query) == "" {
		return common.Answer{}, errors.New("query is empty")
	}

	key := cacheKey(req)
	if cached, ok := e.cache.get(key); ok {
		if cached.Metadata == nil {
			cached.Metadata = map[string]any{}
		}
		cached.Metadata["cache_hit"] = true
		return cached, nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeBudget)
	defer cancel()

	route := req.ForcedRoute
	if !validRoute(route) {
		route = e.classify(ctx, req)
	}

	trace := NewQueryTrace()
	start := time.Now()

	var answer common.Answer
	var err error
	switch route {
	case RouteLocal:
		answer, err = e.queryLocal(ctx, req, trace)
	case RouteGlobal:
		answer, err = e.queryGlobal(ctx, req, trace)
	case RouteDrift:
		answer, err = e.queryDrift(ctx, req, trace)
	default:
		answer, err = e.queryHybrid(ctx, req, trace)
	}

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return e.budgetExhaustedAnswer(route, trace), nil
		}
		return common.Answer{}, err
	}

	if answer.Metadata == nil {
		answer.Metadata = map[string]any{}
	}
	answer.Metadata["trace"] = trace.Snapshot()

	latency := time.Since(start)
	logger.Info("query answered",
		"tenant", req.TenantID,
		"route", answer.RouteUsed,
		"latency_ms", latency.Milliseconds(),
		"evidence", len(answer.EvidenceIDs),
		"citations", len(answer.Citations),
	)

	e.cache.put(key, answer)
	return answer, nil
}

func validRoute(route string) bool {
	switch route {
	case RouteLocal, RouteGlobal, RouteHybrid, RouteDrift:
		return true
	}
	return false
}

var (
	driftSignals = []string{
		"trace", "chain", "leads to", "and then", "step by step",
		"which in turn", "through which",
	}
	globalSignals = []string{
		"summarize", "summary", "overall", "overview", "themes", "compare",
		"comparison", "list all", "all the", "across", "main topics",
		"most important", "trends",
	}
)

// classify picks a route from lightweight signals: multi-hop phrasing wins,
// then aggregation phrasing, then direct entity-name presence; everything
// else takes the hybrid route.
func (e *Engine) classify(ctx context.Context, req Request) string {
	lowered := strings.ToLower(req.Query)

	if strings.Count(req.Query, "?") >= 2 {
		return RouteDrift
	}
	for _, s := range driftSignals {
		if strings.Contains(lowered, s) {
			return RouteDrift
		}
	}
	for _, s := range globalSignals {
		if strings.Contains(lowered, s) {
			return RouteGlobal
		}
	}

	terms := queryTerms(req.Query)
	if matches, err := e.store.GetEntitiesByNames(ctx, req.TenantID, terms); err == nil && len(matches) > 0 {
		return RouteLocal
	}

	return RouteHybrid
}

func (e *Engine) budgetExhaustedAnswer(route string, trace *QueryTrace) common.Answer {
	snapshot := trace.Snapshot()
	return common.Answer{
		Answer: "The question could not be fully answered within the time budget. " +
			"The partial evidence gathered so far is listed in the metadata.",
		EvidenceIDs: snapshot.ConsideredSourceIDs,
		RouteUsed:   route,
		Metadata: map[string]any{
			"budget_exhausted": true,
			"confidence":       common.ConfidenceLow,
			"trace":            snapshot,
		},
	}
}
