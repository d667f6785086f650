package queue

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tesselab/ariadne/internal/util"
	"github.com/tesselab/ariadne/pkg/ai"
	"github.com/tesselab/ariadne/pkg/common"
	"github.com/tesselab/ariadne/pkg/extract"
	"github.com/tesselab/ariadne/pkg/leaselock"
	"github.com/tesselab/ariadne/pkg/logger"
	"github.com/tesselab/ariadne/pkg/store"
)

// maxChunkRunes bounds chunk size so one chunk stays well inside a single
// extraction call.
const maxChunkRunes = 2000

// Handler processes worker messages against one storage backend and model
// client. publish enqueues follow-up jobs; it is injected so the transport
// stays out of the processing path.
type Handler struct {
	store     store.GraphStorage
	client    ai.Client
	extractor *extract.Extractor
	locks     *leaselock.Client
	publish   func(queueName string, data []byte) error

	concurrency int
}

func NewHandler(
	st store.GraphStorage,
	client ai.Client,
	locks *leaselock.Client,
	publish func(queueName string, data []byte) error,
) *Handler {
	return &Handler{
		store:       st,
		client:      client,
		extractor:   extract.NewExtractor(client, nil),
		locks:       locks,
		publish:     publish,
		concurrency: 4,
	}
}

// ProcessIngestMessage chunks the document sections, embeds and saves the
// chunks, extracts entities and relationships from each chunk, and merges
// them into the tenant graph. Chunk ids are derived from the document
// position, so a redelivered message writes the same rows again instead of
// duplicating them. Successful ingestion enqueues a community and a
// hierarchy rebuild for the tenant.
func (h *Handler) ProcessIngestMessage(ctx context.Context, msg string) error {
	data := new(IngestDocumentMsg)
	if err := json.Unmarshal([]byte(msg), data); err != nil {
		return fmt.Errorf("unmarshal ingest message: %w", err)
	}
	if data.TenantID == "" {
		return common.ErrMissingTenant
	}
	if data.DocumentID == "" {
		return errors.New("ingest message without document id")
	}

	chunks := h.buildChunks(data)
	if len(chunks) == 0 {
		logger.Warn("Ingest message with no text", "tenant", data.TenantID, "document", data.DocumentID)
		return nil
	}

	inputs := make([][]byte, len(chunks))
	for i, c := range chunks {
		inputs[i] = []byte(c.Text)
	}
	embeddings, err := h.client.GenerateEmbeddings(ctx, inputs)
	if err != nil {
		return fmt.Errorf("embed chunks: %w", err)
	}
	for i := range chunks {
		chunks[i].Embedding = embeddings[i]
	}

	if err := h.store.SaveChunks(ctx, data.TenantID, chunks); err != nil {
		return fmt.Errorf("save chunks: %w", err)
	}

	entities, relationships, err := h.extractAll(ctx, chunks)
	if err != nil {
		return err
	}

	entities, relationships, err = h.mergeIntoGraph(ctx, data.TenantID, entities, relationships)
	if err != nil {
		return err
	}

	logger.Info(
		"Ingested document",
		"tenant", data.TenantID,
		"document", data.DocumentID,
		"chunks", len(chunks),
		"entities", len(entities),
		"relationships", len(relationships),
	)

	rebuild, err := json.Marshal(RebuildMsg{TenantID: data.TenantID})
	if err != nil {
		return err
	}
	if err := h.publish(CommunityQueue, rebuild); err != nil {
		return fmt.Errorf("enqueue community rebuild: %w", err)
	}
	if err := h.publish(HierarchyQueue, rebuild); err != nil {
		return fmt.Errorf("enqueue hierarchy rebuild: %w", err)
	}
	return nil
}

func (h *Handler) buildChunks(data *IngestDocumentMsg) []common.Chunk {
	var chunks []common.Chunk
	for _, section := range data.Sections {
		for i, text := range splitText(section.Text, maxChunkRunes) {
			text = util.SanitizePostgresText(text)
			if strings.TrimSpace(text) == "" {
				continue
			}
			chunks = append(chunks, common.Chunk{
				ID:          chunkID(data.TenantID, data.DocumentID, section.SectionPath, i),
				TenantID:    data.TenantID,
				Text:        text,
				SourceDocID: data.DocumentID,
				SectionPath: section.SectionPath,
				PageNumber:  section.PageNumber,
			})
		}
	}
	return chunks
}

// extractAll runs extraction over the chunks with bounded parallelism. A
// chunk whose output stays malformed after the retry is skipped with a
// warning; the rest of the document still lands.
func (h *Handler) extractAll(ctx context.Context, chunks []common.Chunk) ([]common.Entity, []common.Relationship, error) {
	var mu sync.Mutex
	var entities []common.Entity
	var relationships []common.Relationship

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.concurrency)
	for _, chunk := range chunks {
		g.Go(func() error {
			ents, rels, err := h.extractor.ExtractChunk(gctx, chunk)
			if err != nil {
				if errors.Is(err, common.ErrMalformedExtraction) {
					logger.Warn("Skipping chunk with malformed extraction", "chunk", chunk.ID)
					return nil
				}
				return err
			}
			mu.Lock()
			entities = append(entities, ents...)
			relationships = append(relationships, rels...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return entities, relationships, nil
}

// mergeIntoGraph deduplicates extracted entities by name, reuses the ids of
// entities the tenant already has, rewrites relationship endpoints onto the
// canonical ids, embeds new entity descriptions, and upserts everything.
func (h *Handler) mergeIntoGraph(
	ctx context.Context,
	tenantID string,
	entities []common.Entity,
	relationships []common.Relationship,
) ([]common.Entity, []common.Relationship, error) {
	if len(entities) == 0 {
		return nil, nil, nil
	}

	idRemap := make(map[string]string)
	byName := make(map[string]*common.Entity)
	var merged []*common.Entity
	for i := range entities {
		ent := entities[i]
		key := strings.ToUpper(strings.TrimSpace(ent.Name))
		if canonical, ok := byName[key]; ok {
			idRemap[ent.ID] = canonical.ID
			canonical.ChunkIDs = store.DedupeStrings(append(canonical.ChunkIDs, ent.ChunkIDs...))
			continue
		}
		copied := ent
		byName[key] = &copied
		merged = append(merged, &copied)
	}

	names := make([]string, 0, len(merged))
	for _, ent := range merged {
		names = append(names, ent.Name)
	}
	existing, err := h.store.GetEntitiesByNames(ctx, tenantID, names)
	if err != nil {
		return nil, nil, err
	}
	for _, ent := range existing {
		key := strings.ToUpper(strings.TrimSpace(ent.Name))
		if canonical, ok := byName[key]; ok && canonical.ID != ent.ID {
			idRemap[canonical.ID] = ent.ID
			canonical.ID = ent.ID
		}
	}

	inputs := make([][]byte, len(merged))
	for i, ent := range merged {
		inputs[i] = []byte(ent.Name + ": " + ent.Description)
	}
	embeddings, err := h.client.GenerateEmbeddings(ctx, inputs)
	if err != nil {
		return nil, nil, fmt.Errorf("embed entities: %w", err)
	}

	out := make([]common.Entity, len(merged))
	for i, ent := range merged {
		ent.Embedding = embeddings[i]
		out[i] = *ent
	}

	remap := func(id string) string {
		for {
			next, ok := idRemap[id]
			if !ok {
				return id
			}
			id = next
		}
	}
	// Edges get ids derived from their endpoints, so the same extracted
	// relationship upserts onto one row across chunks and redeliveries.
	rels := make([]common.Relationship, 0, len(relationships))
	seenEdge := make(map[string]struct{})
	for _, rel := range relationships {
		rel.SourceID = remap(rel.SourceID)
		rel.TargetID = remap(rel.TargetID)
		if rel.SourceID == rel.TargetID {
			continue
		}
		edgeKey := rel.SourceID + "\x00" + rel.TargetID + "\x00" + rel.Label
		if _, ok := seenEdge[edgeKey]; ok {
			continue
		}
		seenEdge[edgeKey] = struct{}{}
		sum := sha256.Sum256([]byte(tenantID + "\x00" + edgeKey))
		rel.ID = hex.EncodeToString(sum[:])[:21]
		rels = append(rels, rel)
	}

	if err := h.store.UpsertEntities(ctx, tenantID, out); err != nil {
		return nil, nil, fmt.Errorf("upsert entities: %w", err)
	}
	if err := h.store.UpsertRelationships(ctx, tenantID, rels); err != nil {
		return nil, nil, fmt.Errorf("upsert relationships: %w", err)
	}
	return out, rels, nil
}

// splitText packs paragraphs into pieces of at most maxRunes runes. A single
// paragraph over the budget is split on sentence ends, then hard-split.
func splitText(text string, maxRunes int) []string {
	var pieces []string
	var current strings.Builder
	currentRunes := 0

	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			pieces = append(pieces, s)
		}
		current.Reset()
		currentRunes = 0
	}

	for _, paragraph := range strings.Split(text, "\n\n") {
		paragraph = strings.TrimSpace(paragraph)
		if paragraph == "" {
			continue
		}
		n := len([]rune(paragraph))
		if currentRunes > 0 && currentRunes+n+2 > maxRunes {
			flush()
		}
		if n > maxRunes {
			flush()
			pieces = append(pieces, splitLongParagraph(paragraph, maxRunes)...)
			continue
		}
		if currentRunes > 0 {
			current.WriteString("\n\n")
			currentRunes += 2
		}
		current.WriteString(paragraph)
		currentRunes += n
	}
	flush()
	return pieces
}

func splitLongParagraph(paragraph string, maxRunes int) []string {
	var parts []string
	var current strings.Builder
	currentRunes := 0

	for _, sentence := range strings.SplitAfter(paragraph, ". ") {
		n := len([]rune(sentence))
		if currentRunes > 0 && currentRunes+n > maxRunes {
			parts = append(parts, strings.TrimSpace(current.String()))
			current.Reset()
			currentRunes = 0
		}
		if n > maxRunes {
			runes := []rune(sentence)
			for len(runes) > maxRunes {
				parts = append(parts, strings.TrimSpace(string(runes[:maxRunes])))
				runes = runes[maxRunes:]
			}
			current.WriteString(string(runes))
			currentRunes = len(runes)
			continue
		}
		current.WriteString(sentence)
		currentRunes += n
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		parts = append(parts, s)
	}
	return parts
}

// chunkID is stable for a given document position, which makes ingestion
// idempotent under message redelivery.
func chunkID(tenantID, documentID, sectionPath string, index int) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s\x00%s\x00%s\x00%d", tenantID, documentID, sectionPath, index))
	return hex.EncodeToString(sum[:])[:21]
}
