// Package pipeline implements the V6 write pipeline, the only legal path for
// creating Observation nodes and for entity creation.
//
// Every top-level call runs in a single managed transaction: schema
// validation, timestamping, semantic classification, best-effort embedding,
// temporal binding, entity MERGE, observation CREATE, linking. Partial
// failures roll the whole call back.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/daydreamer-ai/daydreamer-memory/pkg/errors"
	"github.com/daydreamer-ai/daydreamer-memory/pkg/graph"
	"github.com/daydreamer-ai/daydreamer-memory/pkg/logger"
	"github.com/daydreamer-ai/daydreamer-memory/pkg/schema"
)

// DefaultSource is the provenance stamped onto observations created through
// MCP tool calls.
const DefaultSource = "mcp_tool"

// Encoder is the slice of the embedding subsystem the pipeline needs.
type Encoder interface {
	EncodeSingle(ctx context.Context, text string) ([]float32, error)
}

// Options configures a Writer.
type Options struct {
	// Strict controls schema enforcement: unknown entity types fail items
	// instead of warning.
	Strict bool

	// CreatedBy is the provenance string stamped onto created nodes.
	CreatedBy string

	// Now is swappable for tests; defaults to time.Now.
	Now func() time.Time
}

// Writer is the V6 write pipeline.
type Writer struct {
	store   graph.Store
	encoder Encoder
	opts    Options
}

// Result summarizes one top-level pipeline call.
type Result struct {
	CreatedEntities     []string `json:"created_entities"`
	ObservationsCreated int      `json:"observations_created"`
	EmbeddingsGenerated int      `json:"embeddings_generated"`
	SchemaWarnings      []string `json:"schema_warnings"`
	ItemErrors          []string `json:"item_errors,omitempty"`
	V6Compliant         bool     `json:"v6_compliant"`
}

// NewWriter creates a pipeline writer. encoder may be nil, in which case all
// observations are written without vectors.
func NewWriter(store graph.Store, encoder Encoder, opts Options) *Writer {
	if opts.CreatedBy == "" {
		opts.CreatedBy = "daydreamer-memory"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Writer{store: store, encoder: encoder, opts: opts}
}

// preparedObservation is an observation after classification and embedding,
// ready to be written.
type preparedObservation struct {
	ID        string
	Content   string
	Source    string
	Theme     string
	Vector    []float32
	CreatedAt string
}

// CreateEntities validates, prepares and writes a batch of entities with
// their observations in one transaction.
func (w *Writer) CreateEntities(ctx context.Context, items []schema.EntityInput) (*Result, error) {
	valid, warnings, itemErrors := schema.ValidateEntities(items, w.opts.Strict)

	result := &Result{
		CreatedEntities: []string{},
		SchemaWarnings:  warnings,
		V6Compliant:     true,
	}
	for _, err := range itemErrors {
		result.ItemErrors = append(result.ItemErrors, err.Error())
	}
	if len(valid) == 0 {
		return result, nil
	}

	now := w.opts.Now()
	createdAt := now.Format(time.RFC3339)
	keys := temporalKeysFor(now)

	type preparedEntity struct {
		schema.EntityInput
		Observations []preparedObservation
	}
	prepared := make([]preparedEntity, 0, len(valid))
	for _, entity := range valid {
		pe := preparedEntity{EntityInput: entity}
		for _, obs := range entity.Observations {
			po := w.prepareObservation(ctx, obs, createdAt)
			if po.Vector != nil {
				result.EmbeddingsGenerated++
			}
			pe.Observations = append(pe.Observations, po)
		}
		prepared = append(prepared, pe)
	}

	err := w.store.Write(ctx, func(ctx context.Context, tx graph.Tx) error {
		if err := mergeTemporalHierarchy(ctx, tx, keys); err != nil {
			return err
		}
		for _, entity := range prepared {
			created, err := mergeEntity(ctx, tx, entity.Name, entity.EntityType, createdAt, w.opts.CreatedBy)
			if err != nil {
				return err
			}
			if created {
				result.CreatedEntities = append(result.CreatedEntities, entity.Name)
			}
			for _, obs := range entity.Observations {
				if err := createObservation(ctx, tx, entity.Name, obs, keys.Day, w.opts.CreatedBy, ""); err != nil {
					return err
				}
				result.ObservationsCreated++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// AddObservations appends observations to an existing entity in one
// transaction. Observations are append-only: content and vectors are never
// mutated after write.
func (w *Writer) AddObservations(ctx context.Context, entityName string, observations []schema.ObservationInput, conversationID string) (*Result, error) {
	items := []schema.EntityInput{{Name: entityName, EntityType: "concept", Observations: observations}}
	valid, warnings, _ := schema.ValidateEntities(items, false)
	if len(valid) == 0 {
		return nil, apperrors.NewValidationError("entity_name is required", nil)
	}

	result := &Result{
		CreatedEntities: []string{},
		SchemaWarnings:  warnings,
		V6Compliant:     true,
	}

	now := w.opts.Now()
	createdAt := now.Format(time.RFC3339)
	keys := temporalKeysFor(now)

	prepared := make([]preparedObservation, 0, len(valid[0].Observations))
	for _, obs := range valid[0].Observations {
		po := w.prepareObservation(ctx, obs, createdAt)
		if po.Vector != nil {
			result.EmbeddingsGenerated++
		}
		prepared = append(prepared, po)
	}

	name := valid[0].Name
	err := w.store.Write(ctx, func(ctx context.Context, tx graph.Tx) error {
		rows, err := tx.Run(ctx, `MATCH (e:Entity {name: $name}) RETURN e.name AS name`, map[string]any{"name": name})
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return apperrors.NewValidationError(fmt.Sprintf("entity %q not found", name), nil)
		}
		if err := mergeTemporalHierarchy(ctx, tx, keys); err != nil {
			return err
		}
		for _, obs := range prepared {
			if err := createObservation(ctx, tx, name, obs, keys.Day, w.opts.CreatedBy, conversationID); err != nil {
				return err
			}
			result.ObservationsCreated++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// prepareObservation classifies and embeds one observation. Embedding is
// best-effort: on any encoder failure the observation is written without a
// vector and has_embedding stays false.
func (w *Writer) prepareObservation(ctx context.Context, obs schema.ObservationInput, createdAt string) preparedObservation {
	po := preparedObservation{
		ID:        uuid.NewString(),
		Content:   obs.Content,
		Source:    obs.Source,
		Theme:     schema.ClassifyTheme(obs.Content),
		CreatedAt: createdAt,
	}
	if po.Source == "" {
		po.Source = DefaultSource
	}
	if w.encoder == nil {
		return po
	}
	vec, err := w.encoder.EncodeSingle(ctx, obs.Content)
	if err != nil {
		logger.Warnw("embedding skipped for observation",
			"observation_id", po.ID,
			"error", err,
		)
		return po
	}
	po.Vector = vec
	return po
}

// mergeEntity MERGEs an entity with canonical labels. Attributes are set only
// on create so a second call with the same name never mutates them.
func mergeEntity(ctx context.Context, tx graph.Tx, name, entityType, createdAt, createdBy string) (bool, error) {
	const cypher = `
		MERGE (e:Entity {name: $name})
		ON CREATE SET e:SemanticEntity,
			e.entityType = $entityType,
			e.created = $created,
			e.created_by = $createdBy,
			e._fresh = true
		WITH e, coalesce(e._fresh, false) AS fresh
		REMOVE e._fresh
		RETURN fresh AS created`

	rows, err := tx.Run(ctx, cypher, map[string]any{
		"name":       name,
		"entityType": entityType,
		"created":    createdAt,
		"createdBy":  createdBy,
	})
	if err != nil {
		return false, fmt.Errorf("entity merge failed for %q: %w", name, err)
	}
	if len(rows) == 0 {
		return false, nil
	}
	created, _ := rows[0]["created"].(bool)
	return created, nil
}

// createObservation CREATEs the observation node with the exact V6 label set
// and links it to its entity and Day.
func createObservation(ctx context.Context, tx graph.Tx, entityName string, obs preparedObservation, day, createdBy, conversationID string) error {
	cypher := `
		MATCH (e:Entity {name: $entityName})
		MATCH (d:Day {date: $day})
		CREATE (o:Observation:Perennial:Entity {
			id: $id,
			content: $content,
			created_at: $createdAt,
			source: $source,
			created_by: $createdBy,
			semantic_theme: $theme,
			has_embedding: $hasEmbedding
		})
		CREATE (e)-[:ENTITY_HAS_OBSERVATION]->(o)
		CREATE (o)-[:OCCURRED_ON]->(d)`

	params := map[string]any{
		"entityName":   entityName,
		"day":          day,
		"id":           obs.ID,
		"content":      obs.Content,
		"createdAt":    obs.CreatedAt,
		"source":       obs.Source,
		"createdBy":    createdBy,
		"theme":        obs.Theme,
		"hasEmbedding": obs.Vector != nil,
	}
	if obs.Vector != nil {
		cypher += `
		SET o.jina_vec_v3 = $vector`
		params["vector"] = obs.Vector
	}
	if conversationID != "" {
		cypher += `
		SET o.conversation_id = $conversationID`
		params["conversationID"] = conversationID
	}

	if _, err := tx.Run(ctx, cypher, params); err != nil {
		return fmt.Errorf("observation create failed: %w", err)
	}
	return nil
}
