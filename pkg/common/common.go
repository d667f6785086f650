package common

import "time"

// Chunk represents a contiguous segment of text extracted from a source
// document. Chunks are the smallest building blocks in the system and serve
// as the provenance for entities, relationships, and hierarchy nodes.
//
// Chunks are created by ingestion and are immutable afterwards. A chunk
// without an embedding is still addressable by id; it is only excluded from
// similarity search and clustering.
type Chunk struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	Text        string    `json:"text"`
	Embedding   []float32 `json:"embedding,omitempty"`
	SourceDocID string    `json:"source_doc_id"`
	SectionPath string    `json:"section_path"`
	PageNumber  int       `json:"page_number"`
}

// Entity represents a node in the knowledge graph. An entity can be an
// organization, person, location, or any other relevant concept. Descriptions
// may be enriched when the same entity is extracted again from new documents.
type Entity struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	Name        string    `json:"name"`
	Type        string    `json:"type"`
	Description string    `json:"description"`
	Embedding   []float32 `json:"embedding,omitempty"`
	ChunkIDs    []string  `json:"chunk_ids"`
}

// Relationship represents a directional edge between two entities.
type Relationship struct {
	ID          string  `json:"id"`
	TenantID    string  `json:"tenant_id"`
	SourceID    string  `json:"source_id"`
	TargetID    string  `json:"target_id"`
	Label       string  `json:"label"`
	Description string  `json:"description"`
	Weight      float64 `json:"weight"`
}

// Community is one partition cell of the entity graph at a given level,
// produced by modularity-based clustering. Within a level the communities
// partition the entity set: every entity belongs to exactly one community.
//
// Communities are rebuilt wholesale; they are never patched incrementally.
type Community struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Level     int       `json:"level"`
	MemberIDs []string  `json:"member_ids"`
	Summary   string    `json:"summary"`
	Embedding []float32 `json:"embedding,omitempty"`
}

// Confidence levels assigned to hierarchy nodes based on cluster coherence.
const (
	ConfidenceHigh    = "high"
	ConfidenceMedium  = "medium"
	ConfidenceLow     = "low"
	ConfidenceUnknown = "unknown"
)

// ConfidenceForCoherence maps a coherence value to a confidence level and
// its numeric score. The thresholds are fixed: coherence >= 0.85 is high,
// >= 0.75 is medium, everything below is low.
func ConfidenceForCoherence(coherence float64) (string, float64) {
	switch {
	case coherence >= 0.85:
		return ConfidenceHigh, 0.95
	case coherence >= 0.75:
		return ConfidenceMedium, 0.80
	default:
		return ConfidenceLow, 0.60
	}
}

// HierarchyNode is a node in the recursive summarization tree. Level-0 nodes
// are raw chunks and carry default metrics (coherence 0, confidence
// "unknown"). Nodes at level >= 1 are synthesized summaries whose metrics
// are computed from their children's embeddings.
//
// Child ids always reference nodes at a strictly lower level, so the tree is
// a DAG by construction.
type HierarchyNode struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenant_id"`
	Level      int       `json:"level"`
	Text       string    `json:"text"`
	Embedding  []float32 `json:"embedding,omitempty"`
	ChildIDs   []string  `json:"child_ids"`
	Coherence  float64   `json:"coherence"`
	Confidence string    `json:"confidence"`
	Silhouette float64   `json:"silhouette"`
}

// Citation points a statement in an answer back to its source location.
type Citation struct {
	DocumentID  string `json:"document_id"`
	SectionPath string `json:"section_path"`
	PageNumber  int    `json:"page_number"`
	Excerpt     string `json:"excerpt"`
}

// Answer is the result of one routed query.
type Answer struct {
	Answer      string         `json:"answer"`
	Citations   []Citation     `json:"citations"`
	EvidenceIDs []string       `json:"evidence_ids"`
	RouteUsed   string         `json:"route_used"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Hop is one step of a multi-hop reasoning run. Hops exist only for the
// duration of a single request and are returned in the answer metadata.
type Hop struct {
	SubQuestion string   `json:"sub_question"`
	EvidenceIDs []string `json:"evidence_ids"`
	Resolved    bool     `json:"resolved"`
	Confidence  float64  `json:"confidence"`
}

// TenantStats reports per-tenant index counts and staleness flags. It is
// consumed by an external maintenance scheduler to decide when the background
// builders need to run.
type TenantStats struct {
	TenantID              string     `json:"tenant_id"`
	Entities              int64      `json:"entities"`
	Relationships         int64      `json:"relationships"`
	Chunks                int64      `json:"chunks"`
	Communities           int64      `json:"communities"`
	HierarchyNodes        int64      `json:"hierarchy_nodes"`
	GraphUpdatedAt        *time.Time `json:"graph_updated_at,omitempty"`
	CommunitiesBuiltAt    *time.Time `json:"communities_built_at,omitempty"`
	HierarchyBuiltAt      *time.Time `json:"hierarchy_built_at,omitempty"`
	NeedsCommunityRebuild bool       `json:"needs_community_rebuild"`
	NeedsHierarchyRebuild bool       `json:"needs_hierarchy_rebuild"`
}
