package query

import (
	"context"
	"fmt"
	"testing"

	"github.com/tesselab/ariadne/pkg/common"
	"github.com/tesselab/ariadne/pkg/store/memory"
)

// driftScript wires decompose and evaluate responses into a fakeClient.
func driftScript(subQuestions []string, eval func(prompt string) evaluateResponse) func(string, string, any) error {
	return func(name, prompt string, out any) error {
		switch v := out.(type) {
		case *decomposeResponse:
			v.SubQuestions = subQuestions
		case *evaluateResponse:
			*v = eval(prompt)
		default:
			return fmt.Errorf("unexpected format target %T for %s", out, name)
		}
		return nil
	}
}

func TestDriftAllResolved(t *testing.T) {
	st := memory.NewGraphMemStorage()
	seedTenant(t, st, "t")

	client := &fakeClient{
		formatFn: driftScript(
			[]string{"Who provides the hosting?", "What is the notice period?"},
			func(_ string) evaluateResponse {
				return evaluateResponse{Confidence: 90, Answer: "Answered from the contract [[ch2]]."}
			},
		),
		completionFn: func(_ string) (string, error) {
			return "ACME CORPORATION hosts the service and notice is 30 days [[ch1]] [[ch2]].", nil
		},
	}
	engine := NewEngine(st, client)

	answer, err := engine.Query(context.Background(), Request{
		Query:       "Who hosts the service and how can it be terminated?",
		TenantID:    "t",
		ForcedRoute: RouteDrift,
	})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if answer.RouteUsed != RouteDrift {
		t.Fatalf("expected drift route, got %q", answer.RouteUsed)
	}
	if answer.Metadata["termination"] != "all_resolved" {
		t.Errorf("expected all_resolved termination, got %v", answer.Metadata["termination"])
	}

	hops, _ := answer.Metadata["hops"].([]common.Hop)
	if len(hops) != 2 {
		t.Fatalf("expected 2 hops, got %d", len(hops))
	}
	for _, h := range hops {
		if !h.Resolved {
			t.Errorf("hop %q should be resolved", h.SubQuestion)
		}
		if len(h.EvidenceIDs) == 0 {
			t.Errorf("hop %q should carry evidence ids", h.SubQuestion)
		}
	}
	if len(answer.Citations) == 0 {
		t.Error("synthesized answer should resolve chunk citations")
	}
}

func TestDriftTerminatesWithoutProgress(t *testing.T) {
	st := memory.NewGraphMemStorage()
	seedTenant(t, st, "t")

	// The evaluator never resolves and keeps proposing the same follow-up.
	// Once retrieval stops surfacing new evidence the loop must stop on
	// its own instead of spinning until the hop budget.
	client := &fakeClient{
		formatFn: driftScript(
			[]string{"Who provides the hosting?", "Who pays the fee?"},
			func(_ string) evaluateResponse {
				return evaluateResponse{
					Confidence: 10,
					FollowUps:  []string{"Where is the penalty defined in the agreement?"},
				}
			},
		),
		completionFn: func(_ string) (string, error) {
			return "Only partial information is available [[ch2]].", nil
		},
	}
	engine := NewEngine(st, client)

	answer, err := engine.Query(context.Background(), Request{
		Query:       "Trace who pays whom and why",
		TenantID:    "t",
		ForcedRoute: RouteDrift,
	})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}

	reason, _ := answer.Metadata["termination"].(string)
	if reason != "fixed_point" && reason != "max_hops" {
		t.Fatalf("expected fixed_point or max_hops termination, got %q", reason)
	}

	// Two sub-questions plus one deduplicated follow-up.
	hops, _ := answer.Metadata["hops"].([]common.Hop)
	if len(hops) != 3 {
		t.Errorf("expected 3 hops, got %d", len(hops))
	}
	for _, h := range hops {
		if h.Resolved {
			t.Errorf("hop %q should stay unresolved", h.SubQuestion)
		}
	}
}

func TestDriftLowConfidenceAnswersEndExploration(t *testing.T) {
	st := memory.NewGraphMemStorage()
	seedTenant(t, st, "t")

	// Every hop gets a tentative answer below the resolve threshold and no
	// follow-ups. The loop has nothing left to explore, but that is not the
	// same as all hops resolving.
	client := &fakeClient{
		formatFn: driftScript(
			[]string{"Who provides the hosting?", "What is the notice period?"},
			func(_ string) evaluateResponse {
				return evaluateResponse{Confidence: 10, Answer: "Possibly 30 days [[ch1]]."}
			},
		),
		completionFn: func(_ string) (string, error) {
			return "The evidence is inconclusive [[ch1]].", nil
		},
	}
	engine := NewEngine(st, client)

	answer, err := engine.Query(context.Background(), Request{
		Query:       "Trace who provides what and under which notice terms",
		TenantID:    "t",
		ForcedRoute: RouteDrift,
	})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if answer.Metadata["termination"] != "no_open_hops" {
		t.Errorf("expected no_open_hops termination, got %v", answer.Metadata["termination"])
	}
	hops, _ := answer.Metadata["hops"].([]common.Hop)
	if len(hops) != 2 {
		t.Fatalf("expected 2 hops, got %d", len(hops))
	}
	for _, h := range hops {
		if h.Resolved {
			t.Errorf("hop %q should stay unresolved", h.SubQuestion)
		}
	}
}

func TestDriftDeduplicatesSubQuestions(t *testing.T) {
	st := memory.NewGraphMemStorage()
	seedTenant(t, st, "t")

	client := &fakeClient{
		formatFn: driftScript(
			[]string{"What is the notice period?", "what is the Notice period??"},
			func(_ string) evaluateResponse {
				return evaluateResponse{Confidence: 80, Answer: "30 days [[ch1]]."}
			},
		),
	}
	engine := NewEngine(st, client)

	answer, err := engine.Query(context.Background(), Request{
		Query:       "What is the notice period?",
		TenantID:    "t",
		ForcedRoute: RouteDrift,
	})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}

	hops, _ := answer.Metadata["hops"].([]common.Hop)
	if len(hops) != 1 {
		t.Errorf("rephrased duplicates should collapse to one hop, got %d", len(hops))
	}
}

func TestDriftFallsBackToLocal(t *testing.T) {
	st := memory.NewGraphMemStorage()
	seedTenant(t, st, "t")

	client := &fakeClient{
		formatFn: driftScript(nil, func(_ string) evaluateResponse {
			return evaluateResponse{}
		}),
	}
	engine := NewEngine(st, client)

	answer, err := engine.Query(context.Background(), Request{
		Query:       "What does ACME CORPORATION provide?",
		TenantID:    "t",
		ForcedRoute: RouteDrift,
	})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if answer.RouteUsed != RouteDrift {
		t.Errorf("fallback answer should keep the drift route, got %q", answer.RouteUsed)
	}
	if answer.Metadata["drift_fallback"] != "no_sub_questions" {
		t.Errorf("expected drift_fallback marker, metadata: %v", answer.Metadata)
	}
}
