package query

import (
	"context"
	"testing"

	"github.com/tesselab/ariadne/pkg/ai"
	"github.com/tesselab/ariadne/pkg/common"
	"github.com/tesselab/ariadne/pkg/store/memory"
)

func TestHybridUsesHierarchySummaries(t *testing.T) {
	st := memory.NewGraphMemStorage()
	seedTenant(t, st, "t")

	ctx := context.Background()
	nodes := []common.HierarchyNode{
		{
			ID: "h0", TenantID: "t", Level: 0,
			Text:      "The agreement may be terminated with 30 days written notice.",
			Embedding: []float32{1, 0, 0},
		},
		{
			ID: "hmid", TenantID: "t", Level: 1,
			Text:      "Termination requires 30 days written notice and carries a $5,000 penalty.",
			Embedding: []float32{0.9, 0.1, 0},
			ChildIDs:  []string{"h0"},
		},
		{
			ID: "htop", TenantID: "t", Level: 2,
			Text:      "The contract covers hosting services, termination conditions, and penalties.",
			Embedding: []float32{1, 0, 0},
			ChildIDs:  []string{"hmid", "h0"},
		},
	}
	if err := st.ReplaceHierarchy(ctx, "t", nodes); err != nil {
		t.Fatalf("failed to seed hierarchy: %v", err)
	}

	client := &fakeClient{
		chatFn: func(_ []ai.ChatMessage, _ ai.GenerateOptions) (string, error) {
			return "The contract covers termination conditions [[htop]].", nil
		},
	}
	engine := NewEngine(st, client)

	answer, err := engine.Query(ctx, Request{
		Query:       "what happens after a breach of section 4",
		TenantID:    "t",
		ForcedRoute: RouteHybrid,
	})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if answer.RouteUsed != RouteHybrid {
		t.Fatalf("expected hybrid route, got %q", answer.RouteUsed)
	}

	got := make(map[string]bool, len(answer.EvidenceIDs))
	for _, id := range answer.EvidenceIDs {
		got[id] = true
	}
	if !got["htop"] {
		t.Errorf("expected the top summary node in the evidence pool, got %v", answer.EvidenceIDs)
	}
	if !got["hmid"] {
		t.Errorf("expected the drilled-down child summary in the evidence pool, got %v", answer.EvidenceIDs)
	}
	if got["h0"] {
		t.Errorf("level-0 nodes duplicate raw chunks and must stay out, got %v", answer.EvidenceIDs)
	}
}

func TestHybridWidensForValueQueries(t *testing.T) {
	st := memory.NewGraphMemStorage()
	seedTenant(t, st, "t")
	engine := NewEngine(st, &fakeClient{})

	// With TopK 1 a plain query keeps a single candidate after the cut.
	plain, err := engine.Query(context.Background(), Request{
		Query:       "what happens after a breach of section 4",
		TenantID:    "t",
		TopK:        1,
		ForcedRoute: RouteHybrid,
	})
	if err != nil {
		t.Fatalf("plain query failed: %v", err)
	}
	if len(plain.EvidenceIDs) != 1 {
		t.Fatalf("expected 1 evidence item for the plain query, got %v", plain.EvidenceIDs)
	}

	// A value-seeking query widens the cut, so both seeded chunks survive.
	widened, err := engine.Query(context.Background(), Request{
		Query:       "What is the termination penalty amount?",
		TenantID:    "t",
		TopK:        1,
		ForcedRoute: RouteHybrid,
	})
	if err != nil {
		t.Fatalf("widened query failed: %v", err)
	}
	if len(widened.EvidenceIDs) != 2 {
		t.Fatalf("expected widened retrieval to keep both chunks, got %v", widened.EvidenceIDs)
	}
}

func TestLocalEvidenceWidensForValueQueries(t *testing.T) {
	st := memory.NewGraphMemStorage()
	seedTenant(t, st, "t")
	engine := NewEngine(st, &fakeClient{})
	ctx := context.Background()

	plain, err := engine.collectLocalEvidence(ctx, "t", "what happens after a breach of section 4", 1, NewQueryTrace())
	if err != nil {
		t.Fatalf("plain retrieval failed: %v", err)
	}
	if len(plain) != 1 {
		t.Fatalf("expected 1 evidence item for the plain question, got %d", len(plain))
	}

	widened, err := engine.collectLocalEvidence(ctx, "t", "What is the termination penalty amount?", 1, NewQueryTrace())
	if err != nil {
		t.Fatalf("widened retrieval failed: %v", err)
	}
	if len(widened) != 2 {
		t.Fatalf("expected widened retrieval to surface both chunks, got %d", len(widened))
	}
}
