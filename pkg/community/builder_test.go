package community

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/tesselab/ariadne/pkg/ai"
	"github.com/tesselab/ariadne/pkg/common"
	"github.com/tesselab/ariadne/pkg/store/memory"
)

type fakeAIClient struct {
	mu          sync.Mutex
	completions int
}

func (f *fakeAIClient) GenerateCompletion(_ context.Context, _ string, _ ...ai.GenerateOption) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completions++
	return fmt.Sprintf("community summary %d", f.completions), nil
}

func (f *fakeAIClient) GenerateCompletionWithFormat(_ context.Context, _, _, _ string, _ any, _ ...ai.GenerateOption) error {
	return nil
}

func (f *fakeAIClient) GenerateChat(_ context.Context, _ []ai.ChatMessage, _ ...ai.GenerateOption) (string, error) {
	return "", nil
}

func (f *fakeAIClient) GenerateEmbedding(_ context.Context, input []byte) ([]float32, error) {
	return []float32{float32(len(input)%5) + 1, 1}, nil
}

func (f *fakeAIClient) GenerateEmbeddings(_ context.Context, inputs [][]byte) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i, input := range inputs {
		vec, _ := f.GenerateEmbedding(context.Background(), input)
		out[i] = vec
	}
	return out, nil
}

func (f *fakeAIClient) ResetMetrics()               {}
func (f *fakeAIClient) GetMetrics() ai.ModelMetrics { return ai.ModelMetrics{} }

func seedGraph(t *testing.T, st *memory.GraphMemStorage, tenantID string) {
	t.Helper()
	ctx := context.Background()
	entities, relationships := twoTriangles()
	for i := range entities {
		entities[i].TenantID = tenantID
		entities[i].Description = "about " + entities[i].Name
	}
	if err := st.UpsertEntities(ctx, tenantID, entities); err != nil {
		t.Fatalf("failed to seed entities: %v", err)
	}
	if err := st.UpsertRelationships(ctx, tenantID, relationships); err != nil {
		t.Fatalf("failed to seed relationships: %v", err)
	}
}

func TestBuildPartitionsEntities(t *testing.T) {
	st := memory.NewGraphMemStorage()
	seedGraph(t, st, "tenant-a")

	builder := NewBuilder(st, &fakeAIClient{}, WithConcurrency(2))
	if err := builder.Build(context.Background(), "tenant-a"); err != nil {
		t.Fatalf("build failed: %v", err)
	}

	communities, err := st.ListCommunities(context.Background(), "tenant-a", -1)
	if err != nil {
		t.Fatalf("failed to list communities: %v", err)
	}
	if len(communities) == 0 {
		t.Fatal("expected communities")
	}

	byLevel := make(map[int][]common.Community)
	for _, c := range communities {
		byLevel[c.Level] = append(byLevel[c.Level], c)
		if c.Summary == "" {
			t.Errorf("community %s has no summary", c.ID)
		}
		if len(c.Embedding) == 0 {
			t.Errorf("community %s has no embedding", c.ID)
		}
	}

	// Every entity belongs to exactly one community per level.
	for level, cs := range byLevel {
		seen := make(map[string]int)
		for _, c := range cs {
			for _, id := range c.MemberIDs {
				seen[id]++
			}
		}
		if len(seen) != 6 {
			t.Errorf("level %d covers %d of 6 entities", level, len(seen))
		}
		for id, n := range seen {
			if n != 1 {
				t.Errorf("level %d: entity %s in %d communities", level, id, n)
			}
		}
	}

	if len(byLevel[0]) != 2 {
		t.Errorf("expected 2 finest communities, got %d", len(byLevel[0]))
	}
}

func TestBuildEmptyTenant(t *testing.T) {
	st := memory.NewGraphMemStorage()
	builder := NewBuilder(st, &fakeAIClient{})
	if err := builder.Build(context.Background(), "tenant-empty"); err != nil {
		t.Fatalf("build over empty tenant should succeed, got %v", err)
	}
	communities, err := st.ListCommunities(context.Background(), "tenant-empty", -1)
	if err != nil {
		t.Fatalf("failed to list communities: %v", err)
	}
	if len(communities) != 0 {
		t.Errorf("expected no communities, got %d", len(communities))
	}
}

func TestBuildRequiresTenant(t *testing.T) {
	builder := NewBuilder(memory.NewGraphMemStorage(), &fakeAIClient{})
	if err := builder.Build(context.Background(), ""); err == nil {
		t.Error("expected error for missing tenant")
	}
}
