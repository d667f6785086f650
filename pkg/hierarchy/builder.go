package hierarchy

import (
	"context"
	"fmt"
	"math"
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/tesselab/ariadne/internal/util"
	"github.com/tesselab/ariadne/pkg/ai"
	"github.com/tesselab/ariadne/pkg/common"
	"github.com/tesselab/ariadne/pkg/logger"
	"github.com/tesselab/ariadne/pkg/store"
)

// Builder constructs the recursive summarization tree for one tenant. Level 0
// mirrors the tenant's chunks; each higher level clusters the previous one
// and summarizes each cluster into a new node, until a level collapses into
// too few nodes to split further.
type Builder struct {
	store  store.GraphStorage
	client ai.Client

	concurrency int
	maxLevels   int
	minNodes    int
}

type BuilderOption func(*Builder)

// WithConcurrency bounds the parallel summary generation per level.
func WithConcurrency(n int) BuilderOption {
	return func(b *Builder) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

// WithMaxLevels caps the height of the tree above the chunk level.
func WithMaxLevels(n int) BuilderOption {
	return func(b *Builder) {
		if n > 0 {
			b.maxLevels = n
		}
	}
}

func NewBuilder(st store.GraphStorage, client ai.Client, opts ...BuilderOption) *Builder {
	b := &Builder{
		store:       st,
		client:      client,
		concurrency: 4,
		maxLevels:   5,
		minNodes:    3,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build replaces the tenant's hierarchy wholesale. Chunks without embeddings
// are excluded from clustering but the build proceeds; rebuilding over
// unchanged data yields the same tree.
func (b *Builder) Build(ctx context.Context, tenantID string) error {
	chunks, err := b.store.ListChunks(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("failed to load chunks: %w", err)
	}

	var current []common.HierarchyNode
	skipped := 0
	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			skipped++
			continue
		}
		current = append(current, common.HierarchyNode{
			ID:         c.ID,
			TenantID:   tenantID,
			Level:      0,
			Text:       c.Text,
			Embedding:  c.Embedding,
			Confidence: common.ConfidenceUnknown,
		})
	}
	if skipped > 0 {
		logger.Warn("excluding chunks without embeddings from hierarchy", "tenant", tenantID, "skipped", skipped)
	}
	if len(current) == 0 {
		return b.store.ReplaceHierarchy(ctx, tenantID, nil)
	}

	all := append([]common.HierarchyNode(nil), current...)

	for level := 1; level <= b.maxLevels; level++ {
		if len(current) <= b.minNodes {
			break
		}
		k := max(2, int(math.Round(math.Sqrt(float64(len(current))))))
		if k >= len(current) {
			break
		}

		points := make([]point, len(current))
		byID := make(map[string]common.HierarchyNode, len(current))
		for i, n := range current {
			points[i] = point{id: n.ID, vec: n.Embedding}
			byID[n.ID] = n
		}

		clusters := clusterPoints(points, k)
		if len(clusters) < 2 {
			break
		}

		next := make([]common.HierarchyNode, len(clusters))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(b.concurrency)
		for i, cl := range clusters {
			g.Go(func() error {
				node, err := b.summarizeCluster(gctx, tenantID, level, cl, byID)
				if err != nil {
					return err
				}
				next[i] = node
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return fmt.Errorf("failed to summarize level %d: %w", level, err)
		}

		all = append(all, next...)
		current = next
	}

	if err := b.store.ReplaceHierarchy(ctx, tenantID, all); err != nil {
		return fmt.Errorf("failed to persist hierarchy: %w", err)
	}

	logger.Info("hierarchy built",
		"tenant", tenantID,
		"nodes", len(all),
		"leaves", len(all)-len(current),
	)
	return nil
}

func (b *Builder) summarizeCluster(
	ctx context.Context,
	tenantID string,
	level int,
	cl cluster,
	byID map[string]common.HierarchyNode,
) (common.HierarchyNode, error) {
	var passages strings.Builder
	for _, id := range cl.memberIDs {
		passages.WriteString("- ")
		passages.WriteString(byID[id].Text)
		passages.WriteString("\n")
	}

	summary, err := util.RetryWithContext(ctx, 3, func(ctx context.Context) (string, error) {
		return b.client.GenerateCompletion(
			ctx,
			fmt.Sprintf(ai.ClusterSummaryPrompt, passages.String()),
		)
	})
	if err != nil {
		return common.HierarchyNode{}, err
	}

	embedding, err := util.RetryWithContext(ctx, 3, func(ctx context.Context) ([]float32, error) {
		return b.client.GenerateEmbedding(ctx, []byte(summary))
	})
	if err != nil {
		return common.HierarchyNode{}, err
	}

	id, err := gonanoid.New()
	if err != nil {
		return common.HierarchyNode{}, err
	}
	confidence, _ := common.ConfidenceForCoherence(cl.coherence)
	if len(cl.memberIDs) < 2 {
		confidence = common.ConfidenceLow
	}

	return common.HierarchyNode{
		ID:         id,
		TenantID:   tenantID,
		Level:      level,
		Text:       summary,
		Embedding:  embedding,
		ChildIDs:   cl.memberIDs,
		Coherence:  cl.coherence,
		Confidence: confidence,
		Silhouette: cl.silhouette,
	}, nil
}
