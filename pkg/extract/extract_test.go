package extract

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/tesselab/ariadne/pkg/ai"
	"github.com/tesselab/ariadne/pkg/common"
)

type fakeModel struct {
	payloads []string
	calls    int
}

func (f *fakeModel) GenerateCompletion(_ context.Context, _ string, _ ...ai.GenerateOption) (string, error) {
	return "", errors.New("not used")
}

func (f *fakeModel) GenerateChat(_ context.Context, _ []ai.ChatMessage, _ ...ai.GenerateOption) (string, error) {
	return "", errors.New("not used")
}

func (f *fakeModel) GenerateCompletionWithFormat(_ context.Context, _, _, _ string, out any, _ ...ai.GenerateOption) error {
	payload := f.payloads[min(f.calls, len(f.payloads)-1)]
	f.calls++
	return json.Unmarshal([]byte(payload), out)
}

func testChunk() common.Chunk {
	return common.Chunk{ID: "chunk-1", TenantID: "tenant-a", Text: "some text"}
}

func TestExtractChunkPrunesIncompleteRecords(t *testing.T) {
	model := &fakeModel{payloads: []string{`{
		"entities": [
			{"entity_name": "ACME", "entity_type": "ORGANIZATION", "entity_description": "a company"},
			{"entity_name": "", "entity_type": "PERSON", "entity_description": "missing name"},
			{"entity_name": "BOB", "entity_type": "PERSON", "entity_description": "a person"}
		],
		"relationships": [
			{"source_entity": "ACME", "target_entity": "BOB", "relationship_description": "employs", "relationship_strength": 8},
			{"source_entity": "ACME", "target_entity": "GHOST", "relationship_description": "dangling endpoint", "relationship_strength": 5},
			{"source_entity": "ACME", "target_entity": "BOB", "relationship_description": "", "relationship_strength": 5}
		]
	}`}}

	entities, relations, err := NewExtractor(model, nil).ExtractChunk(context.Background(), testChunk())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entities) != 2 {
		t.Fatalf("expected 2 entities, got %d", len(entities))
	}
	if len(relations) != 1 {
		t.Fatalf("expected 1 relationship, got %d", len(relations))
	}
	if relations[0].Weight != 0.8 {
		t.Errorf("expected weight 0.8, got %v", relations[0].Weight)
	}
	for _, e := range entities {
		if e.TenantID != "tenant-a" {
			t.Errorf("entity %s missing tenant id", e.Name)
		}
		if len(e.ChunkIDs) != 1 || e.ChunkIDs[0] != "chunk-1" {
			t.Errorf("entity %s missing chunk provenance", e.Name)
		}
	}
}

func TestExtractChunkRetriesOnceThenFails(t *testing.T) {
	model := &fakeModel{payloads: []string{`{"entities": [], "relationships": []}`}}

	_, _, err := NewExtractor(model, nil).ExtractChunk(context.Background(), testChunk())
	if !errors.Is(err, common.ErrMalformedExtraction) {
		t.Fatalf("expected ErrMalformedExtraction, got %v", err)
	}
	if model.calls != 2 {
		t.Errorf("expected exactly 2 attempts, got %d", model.calls)
	}
}

func TestExtractChunkRetrySucceeds(t *testing.T) {
	model := &fakeModel{payloads: []string{
		`{"entities": [{"entity_name": "", "entity_type": "", "entity_description": ""}], "relationships": []}`,
		`{"entities": [{"entity_name": "ACME", "entity_type": "ORGANIZATION", "entity_description": "a company"}], "relationships": []}`,
	}}

	entities, _, err := NewExtractor(model, nil).ExtractChunk(context.Background(), testChunk())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entities) != 1 || entities[0].Name != "ACME" {
		t.Fatalf("expected retry to recover ACME, got %+v", entities)
	}
}

func TestNormalizeStrength(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{0, 0.1},
		{-3, 0.1},
		{5, 0.5},
		{10, 1},
		{25, 1},
	}
	for _, tt := range tests {
		if got := normalizeStrength(tt.in); got != tt.want {
			t.Errorf("normalizeStrength(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
