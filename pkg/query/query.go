// Package query routes questions over the tenant's knowledge graph and
// answers them with one of four retrieval strategies: local entity-centric
// lookup, thematic map-reduce over communities, a hybrid of vector and graph
// ranking, and a multi-hop follow-up loop for chained questions.
package query

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/tesselab/ariadne/internal/util"
	"github.com/tesselab/ariadne/pkg/ai"
	"github.com/tesselab/ariadne/pkg/common"
	"github.com/tesselab/ariadne/pkg/store"
)

// Route names accepted by Request.ForcedRoute and reported in
// common.Answer.RouteUsed.
const (
	RouteLocal  = "local"
	RouteGlobal = "global"
	RouteHybrid = "hybrid"
	RouteDrift  = "drift"
)

// Request is one query against a tenant's knowledge base.
type Request struct {
	Query        string           `json:"query" validate:"required"`
	TenantID     string           `json:"-"`
	TopK         int              `json:"top_k"`
	ForcedRoute  string           `json:"forced_route"`
	ResponseType string           `json:"response_type"`
	History      []ai.ChatMessage `json:"history"`
}

// Engine executes routed queries. It owns no per-request state; a single
// Engine serves concurrent requests.
type Engine struct {
	store  store.GraphStorage
	client ai.Client

	booster        *Booster
	cache          *resultCache
	communityLevel int
	concurrency    int
	vectorWeight   float64
	maxHops        int
	timeBudget     time.Duration
}

type EngineOption func(*Engine)

// WithCommunityLevel selects which community level the thematic route reads.
func WithCommunityLevel(level int) EngineOption {
	return func(e *Engine) {
		if level >= 0 {
			e.communityLevel = level
		}
	}
}

// WithConcurrency bounds parallel retrieval and map fan-outs.
func WithConcurrency(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithVectorWeight sets the vector share of the hybrid merge; the graph
// ranking receives the remainder.
func WithVectorWeight(w float64) EngineOption {
	return func(e *Engine) {
		if w > 0 && w < 1 {
			e.vectorWeight = w
		}
	}
}

// WithMaxHops caps the follow-up depth of the multi-hop route.
func WithMaxHops(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.maxHops = n
		}
	}
}

// WithTimeBudget bounds one query end to end. On exhaustion the engine
// returns its best partial answer marked low-confidence.
func WithTimeBudget(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.timeBudget = d
		}
	}
}

// WithCache enables the in-process result cache.
func WithCache(ttl time.Duration, maxEntries int) EngineOption {
	return func(e *Engine) {
		e.cache = newResultCache(ttl, maxEntries)
	}
}

// WithBooster replaces the default guardrail detectors.
func WithBooster(b *Booster) EngineOption {
	return func(e *Engine) {
		e.booster = b
	}
}

func NewEngine(st store.GraphStorage, client ai.Client, opts ...EngineOption) *Engine {
	e := &Engine{
		store:          st,
		client:         client,
		booster:        NewBooster(client, DefaultDetectors()...),
		communityLevel: 0,
		concurrency:    4,
		vectorWeight:   0.6,
		maxHops:        3,
		timeBudget:     2 * time.Minute,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// evidence is one retrievable unit of grounding: a chunk, an entity
// description, or a relationship statement. Chunk-backed evidence carries a
// citation to its source location.
type evidence struct {
	id       string
	text     string
	citation *common.Citation
}

func chunkEvidence(c common.Chunk) evidence {
	return evidence{
		id:   c.ID,
		text: c.Text,
		citation: &common.Citation{
			DocumentID:  c.SourceDocID,
			SectionPath: c.SectionPath,
			PageNumber:  c.PageNumber,
			Excerpt:     excerpt(c.Text),
		},
	}
}

func entityEvidence(e common.Entity) evidence {
	return evidence{
		id:   e.ID,
		text: fmt.Sprintf("%s (%s): %s", e.Name, e.Type, e.Description),
	}
}

func hierarchyEvidence(n common.HierarchyNode) evidence {
	return evidence{
		id:   n.ID,
		text: n.Text,
	}
}

func relationshipEvidence(r common.Relationship, byID map[string]common.Entity) evidence {
	src, dst := r.SourceID, r.TargetID
	if e, ok := byID[r.SourceID]; ok {
		src = e.Name
	}
	if e, ok := byID[r.TargetID]; ok {
		dst = e.Name
	}
	return evidence{
		id:   r.ID,
		text: fmt.Sprintf("%s -> %s: %s", src, dst, r.Description),
	}
}

func excerpt(text string) string {
	text = strings.TrimSpace(text)
	if len(text) > 200 {
		return text[:200]
	}
	return text
}

// contextBlock renders evidence into the prompt form "[[id]] text".
func contextBlock(items []evidence) string {
	var b strings.Builder
	for _, item := range items {
		b.WriteString("[[")
		b.WriteString(item.id)
		b.WriteString("]] ")
		b.WriteString(item.text)
		b.WriteString("\n")
	}
	return b.String()
}

var (
	citationPattern = regexp.MustCompile(`\[\[([^\[\]]+)\]\]`)
	quotedPattern   = regexp.MustCompile(`"([^"]+)"`)
)

// citedIDs returns the evidence ids the answer cites, in order of first
// appearance.
func citedIDs(answer string) []string {
	var ids []string
	seen := make(map[string]struct{})
	for _, match := range citationPattern.FindAllStringSubmatch(answer, -1) {
		id := strings.TrimSpace(match[1])
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

// answerFromEvidence runs grounded generation over the evidence and assembles
// the answer with citations resolved from the cited chunk ids.
func (e *Engine) answerFromEvidence(
	ctx context.Context,
	req Request,
	items []evidence,
	route string,
	trace *QueryTrace,
) (common.Answer, error) {
	if len(items) == 0 {
		return e.notFoundAnswer(ctx, req, route, trace)
	}

	for _, item := range items {
		RecordConsideredSourceIDs(trace, item.id)
	}

	responseType := req.ResponseType
	if responseType == "" {
		responseType = "multiple paragraphs"
	}
	text, err := util.RetryWithContext(ctx, 2, func(ctx context.Context) (string, error) {
		return e.client.GenerateChat(
			ctx,
			append(append([]ai.ChatMessage{}, req.History...), ai.ChatMessage{Role: "user", Message: req.Query}),
			ai.WithSystemPrompts(fmt.Sprintf(ai.QueryPrompt, contextBlock(items), responseType)),
		)
	})
	if err != nil {
		return common.Answer{}, err
	}

	answer := e.assembleAnswer(text, items, route, trace)
	return e.booster.EnsureCompleteness(ctx, answer, items), nil
}

func (e *Engine) assembleAnswer(text string, items []evidence, route string, trace *QueryTrace) common.Answer {
	text = util.NormalizeIDs(text)

	byID := make(map[string]evidence, len(items))
	for _, item := range items {
		byID[item.id] = item
	}

	used := citedIDs(text)
	var citations []common.Citation
	for _, id := range used {
		RecordUsedSourceIDs(trace, id)
		if item, ok := byID[id]; ok && item.citation != nil {
			citations = append(citations, *item.citation)
		}
	}

	evidenceIDs := make([]string, 0, len(items))
	for _, item := range items {
		evidenceIDs = append(evidenceIDs, item.id)
	}

	return common.Answer{
		Answer:      text,
		Citations:   citations,
		EvidenceIDs: evidenceIDs,
		RouteUsed:   route,
		Metadata:    map[string]any{},
	}
}

// notFoundAnswer produces the explicit no-information response. The engine
// never fabricates an answer when retrieval comes back empty.
func (e *Engine) notFoundAnswer(ctx context.Context, req Request, route string, _ *QueryTrace) (common.Answer, error) {
	text, err := e.client.GenerateCompletion(ctx, fmt.Sprintf(ai.NoDataPrompt, req.Query))
	if err != nil {
		// Degrade to a static message rather than failing the request.
		text = "The knowledge base does not contain information relevant to this question."
	}
	return common.Answer{
		Answer:    text,
		RouteUsed: route,
		Metadata:  map[string]any{"not_found": true},
	}, nil
}

// embedQuery returns the query embedding, nil when the embedder is
// unavailable so vector retrieval degrades instead of failing.
func (e *Engine) embedQuery(ctx context.Context, query string) []float32 {
	embedding, err := util.RetryWithContext(ctx, 2, func(ctx context.Context) ([]float32, error) {
		return e.client.GenerateEmbedding(ctx, []byte(query))
	})
	if err != nil {
		return nil
	}
	return embedding
}

// queryTerms extracts seed candidate terms: quoted phrases, runs of
// capitalized words, and the query itself.
func queryTerms(query string) []string {
	terms := []string{strings.TrimSpace(query)}

	for _, m := range quotedPattern.FindAllStringSubmatch(query, -1) {
		terms = append(terms, strings.TrimSpace(m[1]))
	}

	words := strings.Fields(query)
	var run []string
	flush := func() {
		if len(run) > 0 {
			terms = append(terms, strings.Join(run, " "))
			run = nil
		}
	}
	for _, w := range words {
		trimmed := strings.Trim(w, `.,;:!?"'()`)
		if trimmed != "" && strings.ToUpper(trimmed[:1]) == trimmed[:1] && strings.ToLower(trimmed) != trimmed {
			run = append(run, trimmed)
			continue
		}
		flush()
	}
	flush()

	return store.DedupeStrings(terms)
}
