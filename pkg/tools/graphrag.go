package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/daydreamer-ai/daydreamer-memory/pkg/errors"
)

func (r *Registry) registerGraphRAGTools() {
	r.add(mcp.Tool{
		Name:        "graphrag_global_search",
		Description: "Answer corpus-wide questions from precomputed community summaries",
		InputSchema: objectSchema(map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "Question to match against community summaries",
			},
			"limit": map[string]any{
				"type":        "integer",
				"description": "Maximum summaries to return (default 5)",
			},
		}, "query"),
	}, r.graphragGlobalSearch)

	r.add(mcp.Tool{
		Name:        "graphrag_local_search",
		Description: "Explore an entity's neighborhood up to two hops out",
		InputSchema: objectSchema(map[string]any{
			"entity_name": map[string]any{
				"type":        "string",
				"description": "Entity at the center of the neighborhood",
			},
			"hops": map[string]any{
				"type":        "integer",
				"description": "Traversal depth, 1 or 2 (default 1)",
			},
			"limit": map[string]any{
				"type":        "integer",
				"description": "Maximum neighbors to return (default 25)",
			},
		}, "entity_name"),
	}, r.graphragLocalSearch)
}

func (r *Registry) graphragGlobalSearch(ctx context.Context, args map[string]any) (any, error) {
	if !r.deps.GraphRAGEnabled || !r.deps.GlobalSearch {
		return nil, errors.NewValidationError("graphrag_global_search is disabled by configuration", nil)
	}
	query, err := requiredStringArg(args, "query")
	if err != nil {
		return nil, err
	}
	limit := clampLimit(intArg(args, "limit", 5), 50)

	// The shared embedder serves this path too; community search never
	// loads a second model.
	vector, err := r.deps.Embedder.EncodeSingle(ctx, query)
	if err != nil {
		return nil, err
	}

	records, err := r.deps.Store.Read(ctx, `
		CALL db.index.vector.queryNodes('community_summary_index', $scan, $vector)
		YIELD node, score
		WHERE node:CommunitySummary
		RETURN node.community_id AS community_id,
		       node.name AS name,
		       node.member_count AS member_count,
		       node.summary AS summary,
		       score
		ORDER BY score DESC
		LIMIT $limit`,
		map[string]any{
			"scan":   limit * 4,
			"vector": vector,
			"limit":  limit,
		})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"query":     query,
		"count":     len(records),
		"summaries": records,
	}, nil
}

func (r *Registry) graphragLocalSearch(ctx context.Context, args map[string]any) (any, error) {
	if !r.deps.GraphRAGEnabled || !r.deps.LocalSearch {
		return nil, errors.NewValidationError("graphrag_local_search is disabled by configuration", nil)
	}
	entityName, err := requiredStringArg(args, "entity_name")
	if err != nil {
		return nil, err
	}
	hops := intArg(args, "hops", 1)
	if hops < 1 {
		hops = 1
	}
	if hops > 2 {
		return nil, errors.NewValidationError("hops must be 1 or 2", nil)
	}
	limit := clampLimit(intArg(args, "limit", 25), maxSearchLimit)

	// Path length cannot be a parameter; hops is bounded above so the
	// literal is safe.
	cypher := fmt.Sprintf(`
		MATCH path = (e:Entity {name: $name})-[rels*1..%d]-(n:Entity)
		WHERE NOT n:Observation AND n.name IS NOT NULL AND n.name <> $name
		WITH n, min(length(path)) AS distance, count(path) AS paths
		RETURN n.name AS name,
		       n.entityType AS entityType,
		       distance,
		       paths
		ORDER BY distance ASC, paths DESC, name
		LIMIT $limit`, hops)

	records, err := r.deps.Store.Read(ctx, cypher, map[string]any{
		"name":  entityName,
		"limit": limit,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"entity":    entityName,
		"hops":      hops,
		"count":     len(records),
		"neighbors": records,
	}, nil
}
