package queue

// DocumentSection is one contiguous piece of an ingested document, carrying
// the provenance that ends up on chunk citations.
type DocumentSection struct {
	SectionPath string `json:"section_path"`
	PageNumber  int    `json:"page_number"`
	Text        string `json:"text"`
}

// IngestDocumentMsg asks the worker to chunk, embed, and extract one
// document into a tenant's graph.
type IngestDocumentMsg struct {
	TenantID   string            `json:"tenant_id"`
	DocumentID string            `json:"document_id"`
	Sections   []DocumentSection `json:"sections"`
}

// RebuildMsg asks the worker to rebuild one derived index for a tenant.
type RebuildMsg struct {
	TenantID string `json:"tenant_id"`
}
