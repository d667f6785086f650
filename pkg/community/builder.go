package community

import (
	"context"
	"fmt"
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/tesselab/ariadne/internal/util"
	"github.com/tesselab/ariadne/pkg/ai"
	"github.com/tesselab/ariadne/pkg/common"
	"github.com/tesselab/ariadne/pkg/logger"
	"github.com/tesselab/ariadne/pkg/store"
)

// Builder detects communities in the tenant's entity graph and summarizes
// each one. The whole partition is swapped atomically, so queries never see a
// half-rebuilt community index.
type Builder struct {
	store  store.GraphStorage
	client ai.Client

	concurrency int
	maxLevels   int
}

type BuilderOption func(*Builder)

// WithConcurrency bounds the parallel summary generation.
func WithConcurrency(n int) BuilderOption {
	return func(b *Builder) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

// WithMaxLevels caps the number of aggregation passes.
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
		maxLevels:   3,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build recomputes and replaces the tenant's communities.
func (b *Builder) Build(ctx context.Context, tenantID string) error {
	full, err := b.store.ListEntities(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("failed to load entities: %w", err)
	}
	if len(full) == 0 {
		return b.store.ReplaceCommunities(ctx, tenantID, nil)
	}
	relationships, err := b.store.GetRelationships(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("failed to load relationships: %w", err)
	}

	graph, ids := buildEntityGraph(full, relationships)
	levels := partitionLevels(graph, b.maxLevels)

	byID := make(map[string]common.Entity, len(full))
	for _, e := range full {
		byID[e.ID] = e
	}

	type cell struct {
		level   int
		members []string
	}
	var cells []cell
	for level, assignment := range levels {
		groups := make(map[int][]string)
		for i, c := range assignment {
			groups[c] = append(groups[c], ids[i])
		}
		for c := 0; c < len(groups); c++ {
			cells = append(cells, cell{level: level, members: groups[c]})
		}
	}

	communities := make([]common.Community, len(cells))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	for i, c := range cells {
		g.Go(func() error {
			community, err := b.summarize(gctx, tenantID, c.level, c.members, byID, relationships)
			if err != nil {
				return err
			}
			communities[i] = community
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("failed to summarize communities: %w", err)
	}

	if err := b.store.ReplaceCommunities(ctx, tenantID, communities); err != nil {
		return fmt.Errorf("failed to persist communities: %w", err)
	}

	logger.Info("communities built",
		"tenant", tenantID,
		"communities", len(communities),
		"levels", len(levels),
	)
	return nil
}

func (b *Builder) summarize(
	ctx context.Context,
	tenantID string,
	level int,
	memberIDs []string,
	byID map[string]common.Entity,
	relationships []common.Relationship,
) (common.Community, error) {
	memberSet := make(map[string]struct{}, len(memberIDs))
	for _, id := range memberIDs {
		memberSet[id] = struct{}{}
	}

	var summary string
	if len(memberIDs) == 1 {
		e := byID[memberIDs[0]]
		summary = strings.TrimSpace(e.Name + ": " + e.Description)
	} else {
		var data strings.Builder
		data.WriteString("Entities:\n")
		for _, id := range memberIDs {
			e := byID[id]
			fmt.Fprintf(&data, "- %s (%s): %s\n", e.Name, e.Type, e.Description)
		}
		data.WriteString("Relationships:\n")
		for _, r := range relationships {
			_, src := memberSet[r.SourceID]
			_, dst := memberSet[r.TargetID]
			if !src || !dst {
				continue
			}
			fmt.Fprintf(&data, "- %s -> %s: %s\n", byID[r.SourceID].Name, byID[r.TargetID].Name, r.Description)
		}

		generated, err := util.RetryWithContext(ctx, 3, func(ctx context.Context) (string, error) {
			return b.client.GenerateCompletion(ctx, fmt.Sprintf(ai.CommunitySummaryPrompt, data.String()))
		})
		if err != nil {
			return common.Community{}, err
		}
		summary = generated
	}

	embedding, err := util.RetryWithContext(ctx, 3, func(ctx context.Context) ([]float32, error) {
		return b.client.GenerateEmbedding(ctx, []byte(summary))
	})
	if err != nil {
		return common.Community{}, err
	}

	id, err := gonanoid.New()
	if err != nil {
		return common.Community{}, err
	}
	return common.Community{
		ID:        id,
		TenantID:  tenantID,
		Level:     level,
		MemberIDs: memberIDs,
		Summary:   summary,
		Embedding: embedding,
	}, nil
}
