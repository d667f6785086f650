package query

import (
	"context"
	"testing"

	"github.com/tesselab/ariadne/pkg/ai"
	"github.com/tesselab/ariadne/pkg/common"
	"github.com/tesselab/ariadne/pkg/store/memory"
)

// fakeClient lets each test script the model behavior through function
// fields; unset fields fall back to benign defaults.
type fakeClient struct {
	completionFn func(prompt string) (string, error)
	chatFn       func(msgs []ai.ChatMessage, opts ai.GenerateOptions) (string, error)
	formatFn     func(name, prompt string, out any) error
	embedFn      func(input []byte) ([]float32, error)
}

func (f *fakeClient) GenerateCompletion(_ context.Context, prompt string, _ ...ai.GenerateOption) (string, error) {
	if f.completionFn != nil {
		return f.completionFn(prompt)
	}
	return "generated answer", nil
}

func (f *fakeClient) GenerateChat(_ context.Context, msgs []ai.ChatMessage, opts ...ai.GenerateOption) (string, error) {
	options := ai.GenerateOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	if f.chatFn != nil {
		return f.chatFn(msgs, options)
	}
	return "generated answer", nil
}

func (f *fakeClient) GenerateCompletionWithFormat(_ context.Context, name, _, prompt string, out any, _ ...ai.GenerateOption) error {
	if f.formatFn != nil {
		return f.formatFn(name, prompt, out)
	}
	return nil
}

func (f *fakeClient) GenerateEmbedding(_ context.Context, input []byte) ([]float32, error) {
	if f.embedFn != nil {
		return f.embedFn(input)
	}
	return []float32{1, 0, 0}, nil
}

func (f *fakeClient) GenerateEmbeddings(ctx context.Context, inputs [][]byte) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i, input := range inputs {
		vec, err := f.GenerateEmbedding(ctx, input)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (f *fakeClient) ResetMetrics()               {}
func (f *fakeClient) GetMetrics() ai.ModelMetrics { return ai.ModelMetrics{} }

// seedTenant loads a small contract-flavored graph for routing tests.
func seedTenant(t *testing.T, st *memory.GraphMemStorage, tenantID string) {
	t.Helper()
	ctx := context.Background()

	chunks := []common.Chunk{
		{
			ID: "ch1", TenantID: tenantID,
			Text:        "The agreement may be terminated with 30 days written notice. The penalty is $5,000.",
			Embedding:   []float32{1, 0, 0},
			SourceDocID: "doc-1", SectionPath: "termination", PageNumber: 4,
		},
		{
			ID: "ch2", TenantID: tenantID,
			Text:        "ACME CORPORATION provides cloud hosting services to GLOBEX HOLDINGS.",
			Embedding:   []float32{0.9, 0.1, 0},
			SourceDocID: "doc-1", SectionPath: "parties", PageNumber: 1,
		},
	}
	if err := st.SaveChunks(ctx, tenantID, chunks); err != nil {
		t.Fatalf("failed to seed chunks: %v", err)
	}

	entities := []common.Entity{
		{ID: "e1", TenantID: tenantID, Name: "ACME CORPORATION", Type: "ORGANIZATION", Description: "cloud hosting provider", Embedding: []float32{0.8, 0.2, 0}, ChunkIDs: []string{"ch2"}},
		{ID: "e2", TenantID: tenantID, Name: "GLOBEX HOLDINGS", Type: "ORGANIZATION", Description: "customer of ACME", Embedding: []float32{0.7, 0.3, 0}, ChunkIDs: []string{"ch2"}},
	}
	if err := st.UpsertEntities(ctx, tenantID, entities); err != nil {
		t.Fatalf("failed to seed entities: %v", err)
	}

	relationships := []common.Relationship{
		{ID: "r1", TenantID: tenantID, SourceID: "e1", TargetID: "e2", Label: "provides", Description: "ACME hosts services for GLOBEX", Weight: 1},
	}
	if err := st.UpsertRelationships(ctx, tenantID, relationships); err != nil {
		t.Fatalf("failed to seed relationships: %v", err)
	}

	communities := []common.Community{
		{ID: "com1", TenantID: tenantID, Level: 0, MemberIDs: []string{"e1", "e2"}, Summary: "Hosting agreement between ACME CORPORATION and GLOBEX HOLDINGS with a 30 days notice period.", Embedding: []float32{1, 0, 0}},
	}
	if err := st.ReplaceCommunities(ctx, tenantID, communities); err != nil {
		t.Fatalf("failed to seed communities: %v", err)
	}
}
