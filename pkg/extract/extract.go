package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/tesselab/ariadne/pkg/ai"
	"github.com/tesselab/ariadne/pkg/common"
	"github.com/tesselab/ariadne/pkg/logger"
)

// DefaultEntityTypes is used when the caller does not constrain extraction.
var DefaultEntityTypes = []string{
	"ORGANIZATION", "PERSON", "LOCATION", "CONCEPT", "DATE", "PRODUCT", "EVENT",
}

type extractEntity struct {
	EntityName        string `json:"entity_name" validate:"required" jsonschema_description:"Name of the entity, all letters capitalized"`
	EntityType        string `json:"entity_type" validate:"required" jsonschema_description:"One of the provided entity types"`
	EntityDescription string `json:"entity_description" validate:"required" jsonschema_description:"Description of the entity grounded in the source text"`
}

type extractRelationship struct {
	SourceEntity            string  `json:"source_entity" validate:"required" jsonschema_description:"Name of the source entity, as identified above"`
	TargetEntity            string  `json:"target_entity" validate:"required" jsonschema_description:"Name of the target entity, as identified above"`
	RelationshipDescription string  `json:"relationship_description" validate:"required" jsonschema_description:"Why the source and target entity are related"`
	RelationshipStrength    float64 `json:"relationship_strength" jsonschema_description:"Strength of the relationship from 1 to 10"`
}

type extractResponse struct {
	Entities      []extractEntity       `json:"entities" jsonschema_description:"Entities identified in the text"`
	Relationships []extractRelationship `json:"relationships" jsonschema_description:"Relationships identified in the text"`
}

// Extractor turns chunk text into graph entities and relationships using a
// structured-output model call.
type Extractor struct {
	client      ai.LanguageModel
	validate    *validator.Validate
	entityTypes []string
}

func NewExtractor(client ai.LanguageModel, entityTypes []string) *Extractor {
	if len(entityTypes) == 0 {
		entityTypes = DefaultEntityTypes
	}
	return &Extractor{
		client:      client,
		validate:    validator.New(),
		entityTypes: entityTypes,
	}
}

// ExtractChunk extracts entities and relationships from one chunk. Records
// missing required fields are pruned rather than failing the whole chunk; the
// call is retried once when the first response yields nothing usable, and
// common.ErrMalformedExtraction is returned when the retry yields nothing
// either. Relationships pointing at entities that were not extracted are
// dropped.
func (x *Extractor) ExtractChunk(ctx context.Context, chunk common.Chunk) ([]common.Entity, []common.Relationship, error) {
	systemPrompt := fmt.Sprintf(ai.ExtractPrompt, strings.Join(x.entityTypes, ", "))

	for attempt := range 2 {
		var res extractResponse
		err := x.client.GenerateCompletionWithFormat(
			ctx,
			"extract_entities_and_relationships",
			"Extract entities and relationships from a provided text.",
			chunk.Text,
			&res,
			ai.WithSystemPrompts(systemPrompt),
		)
		if err != nil {
			return nil, nil, err
		}

		entities, relations, pruned := x.assemble(chunk, res)
		if len(entities) > 0 {
			if pruned > 0 {
				logger.Warn("pruned incomplete extraction records", "chunk", chunk.ID, "pruned", pruned)
			}
			return entities, relations, nil
		}
		if attempt == 0 {
			logger.Warn("extraction yielded no usable records, retrying", "chunk", chunk.ID)
		}
	}

	return nil, nil, fmt.Errorf("chunk %s: %w", chunk.ID, common.ErrMalformedExtraction)
}

func (x *Extractor) assemble(chunk common.Chunk, res extractResponse) ([]common.Entity, []common.Relationship, int) {
	pruned := 0

	byName := make(map[string]string, len(res.Entities))
	entities := make([]common.Entity, 0, len(res.Entities))
	for _, e := range res.Entities {
		if err := x.validate.Struct(e); err != nil {
			pruned++
			continue
		}
		name := strings.ToUpper(strings.TrimSpace(e.EntityName))
		if _, seen := byName[name]; seen {
			continue
		}
		id, err := gonanoid.New()
		if err != nil {
			pruned++
			continue
		}
		byName[name] = id
		entities = append(entities, common.Entity{
			ID:          id,
			TenantID:    chunk.TenantID,
			Name:        name,
			Type:        e.EntityType,
			Description: e.EntityDescription,
			ChunkIDs:    []string{chunk.ID},
		})
	}

	relations := make([]common.Relationship, 0, len(res.Relationships))
	for _, r := range res.Relationships {
		if err := x.validate.Struct(r); err != nil {
			pruned++
			continue
		}
		sourceID, okSource := byName[strings.ToUpper(strings.TrimSpace(r.SourceEntity))]
		targetID, okTarget := byName[strings.ToUpper(strings.TrimSpace(r.TargetEntity))]
		if !okSource || !okTarget || sourceID == targetID {
			pruned++
			continue
		}
		id, err := gonanoid.New()
		if err != nil {
			pruned++
			continue
		}
		relations = append(relations, common.Relationship{
			ID:          id,
			TenantID:    chunk.TenantID,
			SourceID:    sourceID,
			TargetID:    targetID,
			Label:       "",
			Description: r.RelationshipDescription,
			Weight:      normalizeStrength(r.RelationshipStrength),
		})
	}

	return entities, relations, pruned
}

// normalizeStrength clamps the model-reported 1-10 strength into (0, 1].
func normalizeStrength(strength float64) float64 {
	if strength <= 0 {
		return 0.1
	}
	if strength > 10 {
		strength = 10
	}
	return strength / 10
}
