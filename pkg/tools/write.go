package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/daydreamer-ai/daydreamer-memory/pkg/errors"
	"github.com/daydreamer-ai/daydreamer-memory/pkg/graph"
	"github.com/daydreamer-ai/daydreamer-memory/pkg/schema"
)

func (r *Registry) registerWriteTools() {
	r.add(mcp.Tool{
		Name:        "create_entities",
		Description: "Create entities with optional initial observations through the versioned write pipeline",
		InputSchema: objectSchema(map[string]any{
			"entities": map[string]any{
				"type":        "array",
				"description": "Entities to create",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"name":       map[string]any{"type": "string"},
						"entityType": map[string]any{"type": "string"},
						"observations": map[string]any{
							"type":  "array",
							"items": map[string]any{"type": "string"},
						},
					},
					"required": []string{"name", "entityType"},
				},
			},
		}, "entities"),
	}, r.createEntities)

	r.add(mcp.Tool{
		Name:        "add_observations",
		Description: "Append observations to an existing entity through the versioned write pipeline",
		InputSchema: objectSchema(map[string]any{
			"entity_name": map[string]any{
				"type":        "string",
				"description": "Name of the entity to append to",
			},
			"observations": map[string]any{
				"type":        "array",
				"description": "Observation strings or {content, source} objects",
			},
			"conversation_id": map[string]any{
				"type":        "string",
				"description": "Optional originating conversation session id",
			},
		}, "entity_name", "observations"),
	}, r.addObservations)

	r.add(mcp.Tool{
		Name:        "create_relations",
		Description: "Create canonical relationships between existing entities",
		InputSchema: objectSchema(map[string]any{
			"relations": map[string]any{
				"type":        "array",
				"description": "Relationships to merge",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"from":         map[string]any{"type": "string"},
						"to":           map[string]any{"type": "string"},
						"relationType": map[string]any{"type": "string"},
					},
					"required": []string{"from", "to", "relationType"},
				},
			},
		}, "relations"),
	}, r.createRelations)

	r.add(mcp.Tool{
		Name:        "generate_embeddings_batch",
		Description: "Encode and store vectors for observations that are missing them",
		InputSchema: objectSchema(map[string]any{
			"node_ids": map[string]any{
				"type":        "array",
				"description": "Observation node ids to encode",
				"items":       map[string]any{"type": "string"},
			},
		}, "node_ids"),
	}, r.generateEmbeddingsBatch)
}

func (r *Registry) createEntities(ctx context.Context, args map[string]any) (any, error) {
	raw, err := listArg(args, "entities")
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, errors.NewValidationError("entities must not be empty", nil)
	}

	items := make([]schema.EntityInput, 0, len(raw))
	for i, v := range raw {
		obj, ok := v.(map[string]any)
		if !ok {
			return nil, errors.NewValidationError(fmt.Sprintf("entities[%d] must be an object", i), nil)
		}
		item := schema.EntityInput{
			Name:       stringArg(obj, "name", ""),
			EntityType: stringArg(obj, "entityType", stringArg(obj, "entity_type", "")),
		}
		if obsRaw, ok := obj["observations"].([]any); ok {
			for _, o := range obsRaw {
				obs, err := decodeObservation(o)
				if err != nil {
					return nil, err
				}
				item.Observations = append(item.Observations, obs)
			}
		}
		items = append(items, item)
	}

	return r.deps.Writer.CreateEntities(ctx, items)
}

func (r *Registry) addObservations(ctx context.Context, args map[string]any) (any, error) {
	entityName, err := requiredStringArg(args, "entity_name")
	if err != nil {
		return nil, err
	}
	raw, err := listArg(args, "observations")
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, errors.NewValidationError("observations must not be empty", nil)
	}

	observations := make([]schema.ObservationInput, 0, len(raw))
	for _, v := range raw {
		obs, err := decodeObservation(v)
		if err != nil {
			return nil, err
		}
		observations = append(observations, obs)
	}

	conversationID := stringArg(args, "conversation_id", "")
	return r.deps.Writer.AddObservations(ctx, entityName, observations, conversationID)
}

func decodeObservation(v any) (schema.ObservationInput, error) {
	switch obs := v.(type) {
	case string:
		return schema.ObservationInput{Content: obs}, nil
	case map[string]any:
		content := stringArg(obs, "content", "")
		if content == "" {
			return schema.ObservationInput{}, errors.NewValidationError("observation object requires content", nil)
		}
		return schema.ObservationInput{
			Content: content,
			Source:  stringArg(obs, "source", ""),
		}, nil
	default:
		return schema.ObservationInput{}, errors.NewValidationError("observations must be strings or objects", nil)
	}
}

func (r *Registry) createRelations(ctx context.Context, args map[string]any) (any, error) {
	raw, err := listArg(args, "relations")
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, errors.NewValidationError("relations must not be empty", nil)
	}

	items := make([]schema.RelationInput, 0, len(raw))
	for i, v := range raw {
		obj, ok := v.(map[string]any)
		if !ok {
			return nil, errors.NewValidationError(fmt.Sprintf("relations[%d] must be an object", i), nil)
		}
		items = append(items, schema.RelationInput{
			From: stringArg(obj, "from", ""),
			To:   stringArg(obj, "to", ""),
			Type: stringArg(obj, "relationType", stringArg(obj, "relation_type", "")),
		})
	}

	valid, warnings, itemErrors := schema.ValidateRelationships(items, r.deps.Strict)

	created := 0
	perItem := make([]string, 0, len(itemErrors))
	for _, e := range itemErrors {
		perItem = append(perItem, e.Error())
	}

	if len(valid) > 0 {
		err = r.deps.Store.Write(ctx, func(ctx context.Context, tx graph.Tx) error {
			for _, rel := range valid {
				// Validation only passes types matching the identifier
				// pattern, so splicing into the pattern is safe.
				cypher := fmt.Sprintf(`
					MATCH (a:Entity {name: $from}), (b:Entity {name: $to})
					MERGE (a)-[rel:%s]->(b)
					RETURN count(rel) AS merged`, rel.Type)
				records, err := tx.Run(ctx, cypher, map[string]any{
					"from": rel.From,
					"to":   rel.To,
				})
				if err != nil {
					return err
				}
				if len(records) == 0 {
					perItem = append(perItem, fmt.Sprintf(
						"%s -[%s]-> %s: one or both entities not found",
						rel.From, rel.Type, rel.To))
					continue
				}
				created++
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	return map[string]any{
		"relations_created": created,
		"schema_warnings":   warnings,
		"item_errors":       perItem,
	}, nil
}

func (r *Registry) generateEmbeddingsBatch(ctx context.Context, args map[string]any) (any, error) {
	raw, err := listArg(args, "node_ids")
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(raw))
	for i, v := range raw {
		id, ok := v.(string)
		if !ok || id == "" {
			return nil, errors.NewValidationError(fmt.Sprintf("node_ids[%d] must be a non-empty string", i), nil)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, errors.NewValidationError("node_ids must not be empty", nil)
	}

	// Vectors are written once; nodes that already carry one are skipped.
	rows, err := r.deps.Store.Read(ctx, `
		MATCH (o:Observation)
		WHERE o.id IN $ids
		  AND coalesce(o.has_embedding, false) = false
		RETURN o.id AS id, o.content AS content`,
		map[string]any{"ids": ids})
	if err != nil {
		return nil, err
	}

	foundIDs := make([]string, 0, len(rows))
	texts := make([]string, 0, len(rows))
	for _, row := range rows {
		id, _ := row["id"].(string)
		content, _ := row["content"].(string)
		if id == "" || content == "" {
			continue
		}
		foundIDs = append(foundIDs, id)
		texts = append(texts, content)
	}

	result := map[string]any{
		"requested": len(ids),
		"found":     len(foundIDs),
		"encoded":   0,
	}
	if len(texts) == 0 {
		return result, nil
	}

	vectors, err := r.deps.Embedder.EncodeBatch(ctx, texts)
	if err != nil {
		return nil, err
	}

	err = r.deps.Store.Write(ctx, func(ctx context.Context, tx graph.Tx) error {
		for i, id := range foundIDs {
			_, err := tx.Run(ctx, `
				MATCH (o:Observation {id: $id})
				SET o.jina_vec_v3 = $vector, o.has_embedding = true`,
				map[string]any{"id": id, "vector": vectors[i]})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	result["encoded"] = len(foundIDs)
	return result, nil
}
