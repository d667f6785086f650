package query

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/tesselab/ariadne/pkg/ai"
	"github.com/tesselab/ariadne/pkg/common"
	"github.com/tesselab/ariadne/pkg/store/memory"
)

func TestCacheHitsAreIsolated(t *testing.T) {
	c := newResultCache(time.Minute, 10)
	c.put("k", common.Answer{
		Answer:      "Notice is 30 days [[ch1]].",
		Citations:   []common.Citation{{DocumentID: "doc-1"}},
		EvidenceIDs: []string{"ch1"},
		Metadata:    map[string]any{"confidence": common.ConfidenceHigh},
	})

	first, ok := c.get("k")
	if !ok {
		t.Fatal("expected a cache hit")
	}
	first.Metadata["cache_hit"] = true
	first.EvidenceIDs[0] = "mutated"
	first.Citations[0].DocumentID = "mutated"

	second, ok := c.get("k")
	if !ok {
		t.Fatal("expected a cache hit")
	}
	if _, leaked := second.Metadata["cache_hit"]; leaked {
		t.Error("metadata written on one hit leaked into the next")
	}
	if second.EvidenceIDs[0] != "ch1" {
		t.Errorf("evidence ids leaked a mutation: %v", second.EvidenceIDs)
	}
	if second.Citations[0].DocumentID != "doc-1" {
		t.Errorf("citations leaked a mutation: %+v", second.Citations)
	}
}

func TestQueryCacheConcurrentHits(t *testing.T) {
	st := memory.NewGraphMemStorage()
	seedTenant(t, st, "t")
	client := &fakeClient{
		chatFn: func(_ []ai.ChatMessage, _ ai.GenerateOptions) (string, error) {
			return "cached answer [[ch2]]", nil
		},
	}
	engine := NewEngine(st, client, WithCache(time.Minute, 10))

	req := Request{Query: "What does ACME CORPORATION provide?", TenantID: "t"}
	if _, err := engine.Query(context.Background(), req); err != nil {
		t.Fatalf("priming query failed: %v", err)
	}

	// Every hit gets its own copy of the cached answer, so the per-hit
	// metadata write must not race across goroutines.
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			answer, err := engine.Query(context.Background(), req)
			if err != nil {
				t.Errorf("cached query failed: %v", err)
				return
			}
			if answer.Metadata["cache_hit"] != true {
				t.Errorf("expected cache hit marker, metadata: %v", answer.Metadata)
			}
		}()
	}
	wg.Wait()
}
