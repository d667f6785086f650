package query

import (
	"sort"
	"sync"
)

type TraceEventKind string

const (
	TraceEventConsideredSourceIDs    TraceEventKind = "considered_source_ids"
	TraceEventUsedSourceIDs          TraceEventKind = "used_source_ids"
	TraceEventQueriedEntityIDs       TraceEventKind = "queried_entity_ids"
	TraceEventQueriedRelationshipIDs TraceEventKind = "queried_relationship_ids"
)

// TraceEvent is an extensible event envelope for query tracing.
// Additive changes to this struct are backward compatible for implementers.
type TraceEvent struct {
	Kind TraceEventKind

	SourceIDs       []string
	EntityIDs       []string
	RelationshipIDs []string
}

// Tracer is a sink for query tracing events.
//
// Implementers can forward events to logs, telemetry, or custom
// post-processing pipelines.
type Tracer interface {
	Record(event TraceEvent)
}

func RecordConsideredSourceIDs(t Tracer, ids ...string) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventConsideredSourceIDs, SourceIDs: ids})
}

func RecordUsedSourceIDs(t Tracer, ids ...string) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventUsedSourceIDs, SourceIDs: ids})
}

func RecordQueriedEntityIDs(t Tracer, ids ...string) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventQueriedEntityIDs, EntityIDs: ids})
}

func RecordQueriedRelationshipIDs(t Tracer, ids ...string) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventQueriedRelationshipIDs, RelationshipIDs: ids})
}

// QueryTrace collects which data was considered and used during one query
// run. It lives for the duration of a single request and is surfaced through
// the answer metadata.
//
// QueryTrace is safe for concurrent use.
type QueryTrace struct {
	mu sync.Mutex

	consideredSourceIDs    map[string]struct{}
	usedSourceIDs          map[string]struct{}
	queriedEntityIDs       map[string]struct{}
	queriedRelationshipIDs map[string]struct{}
}

type QueryTraceSnapshot struct {
	ConsideredSourceIDs    []string `json:"considered_source_ids"`
	UsedSourceIDs          []string `json:"used_source_ids"`
	QueriedEntityIDs       []string `json:"queried_entity_ids"`
	QueriedRelationshipIDs []string `json:"queried_relationship_ids"`
}

func NewQueryTrace() *QueryTrace {
	return &QueryTrace{
		consideredSourceIDs:    make(map[string]struct{}),
		usedSourceIDs:          make(map[string]struct{}),
		queriedEntityIDs:       make(map[string]struct{}),
		queriedRelationshipIDs: make(map[string]struct{}),
	}
}

func (t *QueryTrace) Record(event TraceEvent) {
	if t == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	switch event.Kind {
	case TraceEventConsideredSourceIDs:
		addAll(t.consideredSourceIDs, event.SourceIDs)
	case TraceEventUsedSourceIDs:
		addAll(t.usedSourceIDs, event.SourceIDs)
	case TraceEventQueriedEntityIDs:
		addAll(t.queriedEntityIDs, event.EntityIDs)
	case TraceEventQueriedRelationshipIDs:
		addAll(t.queriedRelationshipIDs, event.RelationshipIDs)
	}
}

// Snapshot returns the sorted contents of the trace.
func (t *QueryTrace) Snapshot() QueryTraceSnapshot {
	if t == nil {
		return QueryTraceSnapshot{}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	return QueryTraceSnapshot{
		ConsideredSourceIDs:    sortedKeys(t.consideredSourceIDs),
		UsedSourceIDs:          sortedKeys(t.usedSourceIDs),
		QueriedEntityIDs:       sortedKeys(t.queriedEntityIDs),
		QueriedRelationshipIDs: sortedKeys(t.queriedRelationshipIDs),
	}
}

func addAll(set map[string]struct{}, ids []string) {
	for _, id := range ids {
		if id == "" {
			continue
		}
		set[id] = struct{}{}
	}
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
