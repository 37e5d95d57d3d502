package tools

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/daydreamer-ai/daydreamer-memory/pkg/embedding"
	"github.com/daydreamer-ai/daydreamer-memory/pkg/errors"
	"github.com/daydreamer-ai/daydreamer-memory/pkg/logger"
	"github.com/daydreamer-ai/daydreamer-memory/pkg/schema"
)

// scanMultiplier widens the vector-index scan so artifact-heavy neighborhoods
// do not crowd real entities out of the final page.
const scanMultiplier = 1000

const maxSearchLimit = 200

func (r *Registry) registerSearchTools() {
	r.add(mcp.Tool{
		Name:        "search_nodes",
		Description: "Search entities by semantic similarity or exact name match",
		InputSchema: objectSchema(map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "Search text",
			},
			"limit": map[string]any{
				"type":        "integer",
				"description": "Maximum results to return (default 10)",
			},
			"semantic": map[string]any{
				"type":        "boolean",
				"description": "Use vector similarity instead of exact matching (default true)",
			},
		}, "query"),
	}, r.searchNodes)

	r.add(mcp.Tool{
		Name:        "search_observations",
		Description: "Filter observations by theme, entity, date range, and text",
		InputSchema: objectSchema(map[string]any{
			"theme": map[string]any{
				"type":        "string",
				"description": "Semantic theme to filter by",
			},
			"entity": map[string]any{
				"type":        "string",
				"description": "Entity name to filter by",
			},
			"date_from": map[string]any{
				"type":        "string",
				"description": "Inclusive ISO date lower bound (YYYY-MM-DD)",
			},
			"date_to": map[string]any{
				"type":        "string",
				"description": "Inclusive ISO date upper bound (YYYY-MM-DD)",
			},
			"contains": map[string]any{
				"type":        "string",
				"description": "Substring the observation content must contain",
			},
			"limit": map[string]any{
				"type":        "integer",
				"description": "Maximum results to return (default 10)",
			},
		}),
	}, r.searchObservations)

	r.add(mcp.Tool{
		Name:        "search_conversations",
		Description: "Search conversation sessions by topic or summary text",
		InputSchema: objectSchema(map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "Search text matched against session topics and summaries",
			},
			"limit": map[string]any{
				"type":        "integer",
				"description": "Maximum sessions to return (default 10)",
			},
		}, "query"),
	}, r.searchConversations)

	r.add(mcp.Tool{
		Name:        "memory_stats",
		Description: "Report entity, observation, embedding coverage, and session statistics",
		InputSchema: objectSchema(nil),
	}, r.memoryStats)
}

func (r *Registry) searchNodes(ctx context.Context, args map[string]any) (any, error) {
	query, err := requiredStringArg(args, "query")
	if err != nil {
		return nil, err
	}
	limit := clampLimit(intArg(args, "limit", 10), maxSearchLimit)
	semantic := boolArg(args, "semantic", true)

	if semantic {
		results, err := r.searchNodesSemantic(ctx, query, limit)
		if err == nil {
			return results, nil
		}
		if !isEmbeddingDegradation(err) {
			return nil, err
		}
		logger.Warnw("semantic search degraded to exact match", "error", err)
	}
	return r.searchNodesExact(ctx, query, limit)
}

func (r *Registry) searchNodesSemantic(ctx context.Context, query string, limit int) (any, error) {
	vector, err := r.deps.Embedder.EncodeSingle(ctx, query)
	if err != nil {
		return nil, err
	}

	records, err := r.deps.Store.Read(ctx, `
		CALL db.index.vector.queryNodes('entity_embedding_index', $scan, $vector)
		YIELD node, score
		WHERE node:SemanticEntity AND node.name IS NOT NULL
		RETURN node.name AS name,
		       node.entityType AS entityType,
		       score
		ORDER BY score DESC
		LIMIT $limit`,
		map[string]any{
			"scan":   limit * scanMultiplier,
			"vector": vector,
			"limit":  limit,
		})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"query":   query,
		"mode":    "semantic",
		"results": records,
	}, nil
}

func (r *Registry) searchNodesExact(ctx context.Context, query string, limit int) (any, error) {
	records, err := r.deps.Store.Read(ctx, `
		MATCH (e:Entity)
		WHERE NOT e:Observation
		  AND (toLower(e.name) = toLower($query)
		       OR toLower(e.name) CONTAINS toLower($query)
		       OR $query IN coalesce(e.aliases, []))
		RETURN e.name AS name, e.entityType AS entityType
		ORDER BY size(e.name)
		LIMIT $limit`,
		map[string]any{"query": query, "limit": limit})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"query":   query,
		"mode":    "exact",
		"results": records,
	}, nil
}

func (r *Registry) searchObservations(ctx context.Context, args map[string]any) (any, error) {
	limit := clampLimit(intArg(args, "limit", 10), maxSearchLimit)

	clauses := []string{"o:Observation"}
	params := map[string]any{"limit": limit}

	if theme := stringArg(args, "theme", ""); theme != "" {
		if !schema.IsTheme(theme) {
			return nil, invalidTheme(theme)
		}
		clauses = append(clauses, "o.semantic_theme = $theme")
		params["theme"] = theme
	}
	if from := stringArg(args, "date_from", ""); from != "" {
		clauses = append(clauses, "substring(o.created_at, 0, 10) >= $from")
		params["from"] = from
	}
	if to := stringArg(args, "date_to", ""); to != "" {
		clauses = append(clauses, "substring(o.created_at, 0, 10) <= $to")
		params["to"] = to
	}
	if contains := stringArg(args, "contains", ""); contains != "" {
		clauses = append(clauses, "toLower(o.content) CONTAINS toLower($contains)")
		params["contains"] = contains
	}

	cypher := `MATCH (e:Entity)-[:` + schema.RelEntityHasObservation + `]->(o)`
	if entity := stringArg(args, "entity", ""); entity != "" {
		clauses = append(clauses, "e.name = $entity")
		params["entity"] = entity
	}
	cypher += `
		WHERE ` + strings.Join(clauses, " AND ") + `
		RETURN e.name AS entity,
		       o.content AS content,
		       o.semantic_theme AS theme,
		       o.created_at AS created_at,
		       o.has_embedding AS has_embedding
		ORDER BY o.created_at DESC, o.id
		LIMIT $limit`

	records, err := r.deps.Store.Read(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	return map[string]any{"count": len(records), "observations": records}, nil
}

func (r *Registry) searchConversations(ctx context.Context, args map[string]any) (any, error) {
	query, err := requiredStringArg(args, "query")
	if err != nil {
		return nil, err
	}
	limit := clampLimit(intArg(args, "limit", 10), maxSearchLimit)

	records, err := r.deps.Store.Read(ctx, `
		MATCH (s:ConversationSession)
		WHERE toLower(coalesce(s.topic, '')) CONTAINS toLower($query)
		   OR toLower(coalesce(s.summary, '')) CONTAINS toLower($query)
		RETURN s.session_id AS session_id,
		       s.topic AS topic,
		       s.summary AS summary,
		       s.date AS date
		ORDER BY s.date DESC
		LIMIT $limit`,
		map[string]any{"query": query, "limit": limit})
	if err != nil {
		return nil, err
	}
	return map[string]any{"count": len(records), "sessions": records}, nil
}

func (r *Registry) memoryStats(ctx context.Context, _ map[string]any) (any, error) {
	// Count subqueries so an empty graph still yields one row of zeros; a
	// chained MATCH would drop the row instead.
	counts, err := r.deps.Store.Read(ctx, `
		RETURN count { MATCH (e:Entity) WHERE NOT e:Observation } AS entities,
		       count { MATCH (o:Observation) } AS observations,
		       count { MATCH (o:Observation) WHERE o.has_embedding } AS embedded,
		       count { MATCH (s:ConversationSession) } AS sessions`,
		nil)
	if err != nil {
		return nil, err
	}

	themes, err := r.deps.Store.Read(ctx, `
		MATCH (o:Observation)
		RETURN o.semantic_theme AS theme, count(o) AS count
		ORDER BY count DESC`,
		nil)
	if err != nil {
		return nil, err
	}

	stats := map[string]any{
		"schema_version":        schema.SchemaVersion,
		"entities":              int64(0),
		"observations":          int64(0),
		"conversation_sessions": int64(0),
		"embedding_coverage":    0.0,
		"theme_distribution":    themes,
		"active_sse_sessions": func() int {
			if r.deps.SessionCount != nil {
				return r.deps.SessionCount()
			}
			return 0
		}(),
		"embedder": map[string]any{
			"loaded":        r.deps.Embedder.Loaded(),
			"breaker_state": r.deps.Embedder.BreakerState(),
			"cache_entries": r.deps.Embedder.CacheLen(),
		},
	}
	if len(counts) > 0 {
		row := counts[0]
		stats["entities"] = row["entities"]
		stats["observations"] = row["observations"]
		stats["conversation_sessions"] = row["sessions"]
		obs, _ := row["observations"].(int64)
		embedded, _ := row["embedded"].(int64)
		coverage := 0.0
		if obs > 0 {
			coverage = float64(embedded) / float64(obs)
		}
		stats["embedding_coverage"] = coverage
	}
	return stats, nil
}

func isEmbeddingDegradation(err error) bool {
	return stderrors.Is(err, embedding.ErrUnavailable) ||
		stderrors.Is(err, embedding.ErrResourceExhausted) ||
		stderrors.Is(err, embedding.ErrTimeout)
}

func invalidTheme(theme string) error {
	msg := fmt.Sprintf("unknown theme %q, valid themes: %s", theme, strings.Join(schema.Themes(), ", "))
	return errors.NewValidationError(msg, nil)
}
