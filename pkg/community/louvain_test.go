package community

import (
	"fmt"
	"reflect"
	"testing"

	"github.com/tesselab/ariadne/pkg/common"
)

func entity(id string) common.Entity {
	return common.Entity{ID: id, Name: id}
}

func rel(src, dst string, w float64) common.Relationship {
	return common.Relationship{ID: src + "-" + dst, SourceID: src, TargetID: dst, Weight: w}
}

func twoTriangles() ([]common.Entity, []common.Relationship) {
	entities := []common.Entity{
		entity("a1"), entity("a2"), entity("a3"),
		entity("b1"), entity("b2"), entity("b3"),
	}
	relationships := []common.Relationship{
		rel("a1", "a2", 1), rel("a2", "a3", 1), rel("a1", "a3", 1),
		rel("b1", "b2", 1), rel("b2", "b3", 1), rel("b1", "b3", 1),
		rel("a3", "b1", 0.1),
	}
	return entities, relationships
}

func TestPartitionSeparatesDenseGroups(t *testing.T) {
	entities, relationships := twoTriangles()
	graph, ids := buildEntityGraph(entities, relationships)

	levels := partitionLevels(graph, 3)
	if len(levels) == 0 {
		t.Fatal("expected at least one level")
	}

	groupOf := make(map[string]int, len(ids))
	for i, id := range ids {
		groupOf[id] = levels[0][i]
	}
	if groupOf["a1"] != groupOf["a2"] || groupOf["a2"] != groupOf["a3"] {
		t.Errorf("first triangle split across communities: %v", groupOf)
	}
	if groupOf["b1"] != groupOf["b2"] || groupOf["b2"] != groupOf["b3"] {
		t.Errorf("second triangle split across communities: %v", groupOf)
	}
	if groupOf["a1"] == groupOf["b1"] {
		t.Errorf("triangles merged despite weak bridge: %v", groupOf)
	}
}

func TestPartitionInvariantPerLevel(t *testing.T) {
	entities, relationships := twoTriangles()
	// An isolated entity must still land in exactly one community.
	entities = append(entities, entity("loner"))

	graph, ids := buildEntityGraph(entities, relationships)
	levels := partitionLevels(graph, 3)

	for l, assignment := range levels {
		if len(assignment) != len(ids) {
			t.Fatalf("level %d covers %d of %d entities", l, len(assignment), len(ids))
		}
		communityCount := 0
		for i, c := range assignment {
			if c < 0 {
				t.Errorf("level %d: entity %s unassigned", l, ids[i])
			}
			if c+1 > communityCount {
				communityCount = c + 1
			}
		}
		// Community ids are dense after compaction.
		seen := make(map[int]bool)
		for _, c := range assignment {
			seen[c] = true
		}
		for c := range communityCount {
			if !seen[c] {
				t.Errorf("level %d: community id %d has no members", l, c)
			}
		}
	}
}

func TestPartitionDeterministic(t *testing.T) {
	entities, relationships := twoTriangles()

	run := func() [][]int {
		graph, _ := buildEntityGraph(entities, relationships)
		return partitionLevels(graph, 3)
	}
	if first, second := run(), run(); !reflect.DeepEqual(first, second) {
		t.Errorf("partitioning is not deterministic:\nfirst:  %v\nsecond: %v", first, second)
	}
}

func TestPartitionNoEdges(t *testing.T) {
	var entities []common.Entity
	for i := range 4 {
		entities = append(entities, entity(fmt.Sprintf("e%d", i)))
	}

	graph, _ := buildEntityGraph(entities, nil)
	levels := partitionLevels(graph, 3)
	if len(levels) != 1 {
		t.Fatalf("expected a single level for an edgeless graph, got %d", len(levels))
	}
	seen := make(map[int]bool)
	for _, c := range levels[0] {
		if seen[c] {
			t.Error("edgeless entities should form singleton communities")
		}
		seen[c] = true
	}
}

func TestPartitionEmptyGraph(t *testing.T) {
	graph, _ := buildEntityGraph(nil, nil)
	if levels := partitionLevels(graph, 3); levels != nil {
		t.Errorf("expected no levels for empty graph, got %v", levels)
	}
}
