package query

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/tesselab/ariadne/pkg/common"
	"github.com/tesselab/ariadne/pkg/store/memory"
)

func seedCommunities(t *testing.T, st *memory.GraphMemStorage, tenantID string, n int) {
	t.Helper()
	var communities []common.Community
	for i := range n {
		communities = append(communities, common.Community{
			ID:        string(rune('a'+i)) + "-community",
			TenantID:  tenantID,
			Level:     0,
			MemberIDs: []string{"e1"},
			Summary:   "theme " + string(rune('a'+i)),
			Embedding: []float32{1, float32(i) / 10, 0},
		})
	}
	if err := st.ReplaceCommunities(context.Background(), tenantID, communities); err != nil {
		t.Fatalf("failed to seed communities: %v", err)
	}
}

func TestGlobalFullCoverage(t *testing.T) {
	st := memory.NewGraphMemStorage()
	seedCommunities(t, st, "t", 3)

	client := &fakeClient{
		formatFn: func(name, prompt string, out any) error {
			return json.Unmarshal([]byte(`{"answer": "partial from `+name+`", "score": 80}`), out)
		},
		completionFn: func(_ string) (string, error) {
			return "merged thematic answer", nil
		},
	}
	engine := NewEngine(st, client)

	answer, err := engine.Query(context.Background(), Request{
		Query:       "Summarize the main themes",
		TenantID:    "t",
		ForcedRoute: RouteGlobal,
	})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if answer.RouteUsed != RouteGlobal {
		t.Fatalf("expected global route, got %q", answer.RouteUsed)
	}
	if coverage := answer.Metadata["theme_coverage"]; coverage != 1.0 {
		t.Errorf("expected full theme coverage, got %v", coverage)
	}
	if _, ok := answer.Metadata["failed_units"]; ok {
		t.Error("no failed units expected")
	}
	if len(answer.EvidenceIDs) != 3 {
		t.Errorf("expected 3 contributing communities, got %v", answer.EvidenceIDs)
	}
}

func TestGlobalFailedUnitExcluded(t *testing.T) {
	st := memory.NewGraphMemStorage()
	seedCommunities(t, st, "t", 3)

	client := &fakeClient{
		formatFn: func(_, prompt string, out any) error {
			if strings.Contains(prompt, "theme b") {
				return errors.New("model unavailable")
			}
			return json.Unmarshal([]byte(`{"answer": "partial", "score": 70}`), out)
		},
		completionFn: func(_ string) (string, error) {
			return "merged answer from the remaining communities", nil
		},
	}
	engine := NewEngine(st, client)

	answer, err := engine.Query(context.Background(), Request{
		Query:       "Summarize the main themes",
		TenantID:    "t",
		ForcedRoute: RouteGlobal,
	})
	if err != nil {
		t.Fatalf("one failing map unit must not fail the query: %v", err)
	}

	failed, _ := answer.Metadata["failed_units"].([]string)
	if len(failed) != 1 || failed[0] != "b-community" {
		t.Errorf("expected b-community recorded as failed, got %v", failed)
	}
	coverage, _ := answer.Metadata["theme_coverage"].(float64)
	if coverage <= 0.6 || coverage >= 0.7 {
		t.Errorf("expected coverage 2/3, got %v", coverage)
	}
	for _, id := range answer.EvidenceIDs {
		if id == "b-community" {
			t.Error("failed unit must be excluded from evidence")
		}
	}
}

func TestGlobalNoCommunities(t *testing.T) {
	st := memory.NewGraphMemStorage()
	client := &fakeClient{
		completionFn: func(_ string) (string, error) {
			return "The knowledge base does not cover this.", nil
		},
	}
	engine := NewEngine(st, client)

	answer, err := engine.Query(context.Background(), Request{
		Query:       "Summarize the main themes",
		TenantID:    "empty",
		ForcedRoute: RouteGlobal,
	})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if answer.Metadata["not_found"] != true {
		t.Errorf("expected explicit no-information answer, metadata: %v", answer.Metadata)
	}
}

func TestGlobalIrrelevantCommunities(t *testing.T) {
	st := memory.NewGraphMemStorage()
	seedCommunities(t, st, "t", 2)

	client := &fakeClient{
		formatFn: func(_, _ string, out any) error {
			return json.Unmarshal([]byte(`{"answer": "", "score": 0}`), out)
		},
		completionFn: func(_ string) (string, error) {
			return "The knowledge base does not cover this.", nil
		},
	}
	engine := NewEngine(st, client)

	answer, err := engine.Query(context.Background(), Request{
		Query:       "Summarize something unrelated",
		TenantID:    "t",
		ForcedRoute: RouteGlobal,
	})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if coverage := answer.Metadata["theme_coverage"]; coverage != 0.0 {
		t.Errorf("expected zero coverage, got %v", coverage)
	}
	if answer.Metadata["not_found"] != true {
		t.Error("zero contributing communities should yield the explicit no-information answer")
	}
}
