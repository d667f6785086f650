package hierarchy

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
	return fmt.Sprintf("summary %d", f.completions), nil
}

func (f *fakeAIClient) GenerateCompletionWithFormat(_ context.Context, _, _, _ string, _ any, _ ...ai.GenerateOption) error {
	return nil
}

func (f *fakeAIClient) GenerateChat(_ context.Context, _ []ai.ChatMessage, _ ...ai.GenerateOption) (string, error) {
	return "", nil
}

func (f *fakeAIClient) GenerateEmbedding(_ context.Context, input []byte) ([]float32, error) {
	return []float32{float32(len(input)%5) + 1, 1, 0}, nil
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

func seedChunks(t *testing.T, st *memory.GraphMemStorage, tenantID string) {
	t.Helper()
	chunks := []common.Chunk{
		{ID: "c1", TenantID: tenantID, Text: "alpha topic one", Embedding: []float32{1, 0, 0}},
		{ID: "c2", TenantID: tenantID, Text: "alpha topic two", Embedding: []float32{0.9, 0.1, 0}},
		{ID: "c3", TenantID: tenantID, Text: "alpha topic three", Embedding: []float32{0.95, 0.05, 0}},
		{ID: "c4", TenantID: tenantID, Text: "beta topic one", Embedding: []float32{0, 0, 1}},
		{ID: "c5", TenantID: tenantID, Text: "beta topic two", Embedding: []float32{0, 0.1, 0.9}},
		{ID: "c6", TenantID: tenantID, Text: "beta topic three", Embedding: []float32{0.05, 0, 0.95}},
		{ID: "c7", TenantID: tenantID, Text: "no embedding yet"},
	}
	if err := st.SaveChunks(context.Background(), tenantID, chunks); err != nil {
		t.Fatalf("failed to seed chunks: %v", err)
	}
}

func TestBuildCreatesTree(t *testing.T) {
	st := memory.NewGraphMemStorage()
	seedChunks(t, st, "tenant-a")

	builder := NewBuilder(st, &fakeAIClient{}, WithConcurrency(2))
	if err := builder.Build(context.Background(), "tenant-a"); err != nil {
		t.Fatalf("build failed: %v", err)
	}

	nodes, err := st.ListHierarchyNodes(context.Background(), "tenant-a", -1)
	if err != nil {
		t.Fatalf("failed to list nodes: %v", err)
	}

	byLevel := make(map[int][]common.HierarchyNode)
	byID := make(map[string]common.HierarchyNode)
	for _, n := range nodes {
		byLevel[n.Level] = append(byLevel[n.Level], n)
		byID[n.ID] = n
	}

	if len(byLevel[0]) != 6 {
		t.Errorf("expected 6 leaf nodes (chunk without embedding excluded), got %d", len(byLevel[0]))
	}
	if len(byLevel[1]) < 2 {
		t.Fatalf("expected at least 2 summary nodes at level 1, got %d", len(byLevel[1]))
	}

	for _, leaf := range byLevel[0] {
		if leaf.Confidence != common.ConfidenceUnknown {
			t.Errorf("leaf %s confidence = %q, want unknown", leaf.ID, leaf.Confidence)
		}
		if len(leaf.ChildIDs) != 0 {
			t.Errorf("leaf %s has children", leaf.ID)
		}
	}

	// Children must always sit at a strictly lower level.
	for _, n := range nodes {
		for _, childID := range n.ChildIDs {
			child, ok := byID[childID]
			if !ok {
				t.Errorf("node %s references unknown child %s", n.ID, childID)
				continue
			}
			if child.Level >= n.Level {
				t.Errorf("node %s at level %d has child %s at level %d", n.ID, n.Level, child.ID, child.Level)
			}
		}
	}

	for _, n := range byLevel[1] {
		if n.Text == "" {
			t.Errorf("summary node %s has no text", n.ID)
		}
		if n.Confidence == common.ConfidenceUnknown {
			t.Errorf("summary node %s kept unknown confidence", n.ID)
		}
	}
}

func TestBuildEmptyTenant(t *testing.T) {
	st := memory.NewGraphMemStorage()
	builder := NewBuilder(st, &fakeAIClient{})
	if err := builder.Build(context.Background(), "tenant-empty"); err != nil {
		t.Fatalf("build over empty tenant should succeed, got %v", err)
	}

	nodes, err := st.ListHierarchyNodes(context.Background(), "tenant-empty", -1)
	if err != nil {
		t.Fatalf("failed to list nodes: %v", err)
	}
	if len(nodes) != 0 {
		t.Errorf("expected empty hierarchy, got %d nodes", len(nodes))
	}
}

func TestBuildRequiresTenant(t *testing.T) {
	builder := NewBuilder(memory.NewGraphMemStorage(), &fakeAIClient{})
	if err := builder.Build(context.Background(), ""); err == nil {
		t.Error("expected error for missing tenant")
	}
}
