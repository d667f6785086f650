package query

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tesselab/ariadne/internal/util"
	"github.com/tesselab/ariadne/pkg/ai"
	"github.com/tesselab/ariadne/pkg/common"
	"github.com/tesselab/ariadne/pkg/logger"
)

type decomposeResponse struct {
	SubQuestions []string `json:"sub_questions" jsonschema_description:"Self-contained sub-questions, each answerable by one targeted lookup"`
}

type evaluateResponse struct {
	Confidence int      `json:"confidence" jsonschema_description:"How completely the evidence answers the sub-question, 0 to 100"`
	Answer     string   `json:"answer" jsonschema_description:"Answer with [[id]] citations when confidence is high, empty otherwise"`
	FollowUps  []string `json:"follow_ups" jsonschema_description:"Follow-up questions when confidence is low"`
}

const (
	maxSubQuestions   = 4
	maxFollowUps      = 2
	maxTotalQuestions = 12
	resolveConfidence = 60
)

// hop is one sub-question moving through the multi-hop loop.
type hop struct {
	question string
	evidence []evidence
	answer   string
	resolved bool
	score    float64
}

// queryDrift answers chained questions with an iterative loop: decompose the
// question into sub-questions, retrieve and evaluate each, expand unresolved
// ones into follow-ups, and synthesize once everything settles. Sub-questions
// are explored breadth-first in discovery order and deduplicated by a hash of
// their normalized text. The loop terminates when all hops resolve, the hop
// budget runs out, or an iteration surfaces no new evidence.
func (e *Engine) queryDrift(ctx context.Context, req Request, trace *QueryTrace) (common.Answer, error) {
	subQuestions, err := e.decompose(ctx, req)
	if err != nil {
		return common.Answer{}, err
	}
	if len(subQuestions) == 0 {
		answer, err := e.queryLocal(ctx, req, trace)
		if err != nil {
			return common.Answer{}, err
		}
		answer.RouteUsed = RouteDrift
		answer.Metadata["drift_fallback"] = "no_sub_questions"
		return answer, nil
	}

	var hops []*hop
	seen := make(map[string]struct{})
	enqueue := func(question string) {
		question = strings.TrimSpace(question)
		if question == "" || len(hops) >= maxTotalQuestions {
			return
		}
		key := questionHash(question)
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		hops = append(hops, &hop{question: question})
	}
	for _, q := range subQuestions {
		enqueue(q)
	}

	knownEvidence := make(map[string]struct{})
	terminationReason := "all_resolved"

	for iteration := 0; ; iteration++ {
		if iteration >= e.maxHops {
			terminationReason = "max_hops"
			break
		}
		if ctx.Err() != nil {
			terminationReason = "budget_exhausted"
			break
		}

		var open []*hop
		for _, h := range hops {
			if !h.resolved && h.answer == "" {
				open = append(open, h)
			}
		}
		if len(open) == 0 {
			// Every hop was visited but some stayed below the resolve
			// threshold with a tentative answer, so there is nothing left
			// to retrieve. Distinct from all hops actually resolving.
			for _, h := range hops {
				if !h.resolved {
					terminationReason = "no_open_hops"
					break
				}
			}
			break
		}

		var mu sync.Mutex
		var followUps []string
		newEvidence := false

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.concurrency)
		for _, h := range open {
			g.Go(func() error {
				items, err := e.collectLocalEvidence(gctx, req.TenantID, h.question, req.TopK, trace)
				if err != nil {
					return err
				}
				h.evidence = items

				res, err := e.evaluate(gctx, h.question, items)
				if err != nil {
					logger.Warn("hop evaluation failed", "question", h.question, "err", err)
					h.answer = ""
					h.resolved = false
					return nil
				}

				h.score = float64(res.Confidence) / 100
				h.answer = res.Answer
				h.resolved = res.Confidence >= resolveConfidence && strings.TrimSpace(res.Answer) != ""

				mu.Lock()
				defer mu.Unlock()
				for _, item := range items {
					if _, ok := knownEvidence[item.id]; !ok {
						knownEvidence[item.id] = struct{}{}
						newEvidence = true
					}
				}
				if !h.resolved {
					limit := min(maxFollowUps, len(res.FollowUps))
					followUps = append(followUps, res.FollowUps[:limit]...)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return common.Answer{}, err
		}

		for _, q := range followUps {
			enqueue(q)
		}

		allResolved := true
		for _, h := range hops {
			if !h.resolved {
				allResolved = false
				break
			}
		}
		if allResolved {
			break
		}
		if !newEvidence {
			terminationReason = "fixed_point"
			break
		}
	}

	return e.synthesize(ctx, req, hops, terminationReason, trace)
}

func (e *Engine) decompose(ctx context.Context, req Request) ([]string, error) {
	themes, err := e.themeOverview(ctx, req)
	if err != nil {
		return nil, err
	}

	var res decomposeResponse
	err = util.RetryErrWithContext(ctx, 2, func(ctx context.Context) error {
		return e.client.GenerateCompletionWithFormat(
			ctx,
			"decompose_question",
			"Break a complex question into targeted sub-questions.",
			fmt.Sprintf(ai.DecomposePrompt, themes, maxSubQuestions, req.Query),
			&res,
		)
	})
	if err != nil {
		return nil, err
	}
	if len(res.SubQuestions) > maxSubQuestions {
		res.SubQuestions = res.SubQuestions[:maxSubQuestions]
	}
	return res.SubQuestions, nil
}

// themeOverview seeds decomposition with the best-matching community
// summaries so sub-questions stay inside what the knowledge base covers.
func (e *Engine) themeOverview(ctx context.Context, req Request) (string, error) {
	embedding := e.embedQuery(ctx, req.Query)
	if embedding == nil {
		return "(no theme overview available)", nil
	}
	communities, err := e.store.FindSimilarCommunities(ctx, req.TenantID, embedding, e.communityLevel, 3)
	if err != nil {
		return "", err
	}
	if len(communities) == 0 {
		return "(no theme overview available)", nil
	}
	var b strings.Builder
	for _, c := range communities {
		b.WriteString("- ")
		b.WriteString(c.Summary)
		b.WriteString("\n")
	}
	return b.String(), nil
}

func (e *Engine) evaluate(ctx context.Context, question string, items []evidence) (evaluateResponse, error) {
	var res evaluateResponse
	err := util.RetryErrWithContext(ctx, 2, func(ctx context.Context) error {
		return e.client.GenerateCompletionWithFormat(
			ctx,
			"evaluate_evidence",
			"Score whether the evidence answers the sub-question and propose follow-ups.",
			fmt.Sprintf(ai.EvaluatePrompt, contextBlock(items), maxFollowUps, question),
			&res,
		)
	})
	return res, err
}

func (e *Engine) synthesize(
	ctx context.Context,
	req Request,
	hops []*hop,
	terminationReason string,
	trace *QueryTrace,
) (common.Answer, error) {
	var resolvedBlock strings.Builder
	var items []evidence
	seen := make(map[string]struct{})
	hopTrace := make([]common.Hop, 0, len(hops))

	for _, h := range hops {
		hopEvidenceIDs := make([]string, 0, len(h.evidence))
		for _, item := range h.evidence {
			hopEvidenceIDs = append(hopEvidenceIDs, item.id)
			if _, ok := seen[item.id]; ok {
				continue
			}
			seen[item.id] = struct{}{}
			items = append(items, item)
		}
		hopTrace = append(hopTrace, common.Hop{
			SubQuestion: h.question,
			EvidenceIDs: hopEvidenceIDs,
			Resolved:    h.resolved,
			Confidence:  h.score,
		})

		if h.resolved {
			fmt.Fprintf(&resolvedBlock, "Q: %s\nA: %s\n\n", h.question, h.answer)
		} else {
			fmt.Fprintf(&resolvedBlock, "Q: %s\nA: (unresolved)\n\n", h.question)
		}
	}

	if resolvedBlock.Len() == 0 {
		answer, err := e.notFoundAnswer(ctx, req, RouteDrift, trace)
		if err != nil {
			return common.Answer{}, err
		}
		answer.Metadata["hops"] = hopTrace
		answer.Metadata["termination"] = terminationReason
		return answer, nil
	}

	text, err := util.RetryWithContext(ctx, 2, func(ctx context.Context) (string, error) {
		return e.client.GenerateCompletion(ctx, fmt.Sprintf(ai.SynthesizePrompt, resolvedBlock.String(), req.Query))
	})
	if err != nil {
		return common.Answer{}, err
	}

	answer := e.assembleAnswer(text, items, RouteDrift, trace)
	answer = e.booster.EnsureCompleteness(ctx, answer, items)
	answer.Metadata["hops"] = hopTrace
	answer.Metadata["termination"] = terminationReason
	return answer, nil
}

// questionHash collapses case, punctuation, and spacing so rephrasings of
// the same sub-question dedupe to one hop.
func questionHash(question string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(question) {
		if ('a' <= r && r <= 'z') || ('0' <= r && r <= '9') {
			b.WriteRune(r)
		} else if r == ' ' {
			b.WriteRune(' ')
		}
	}
	normalized := strings.Join(strings.Fields(b.String()), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
