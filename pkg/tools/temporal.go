package tools

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/daydreamer-ai/daydreamer-memory/pkg/errors"
	"github.com/daydreamer-ai/daydreamer-memory/pkg/schema"
)

func (r *Registry) registerTemporalTools() {
	r.add(mcp.Tool{
		Name:        "trace_entity_origin",
		Description: "Show the earliest observations and sessions that introduced an entity",
		InputSchema: objectSchema(map[string]any{
			"entity_name": map[string]any{
				"type":        "string",
				"description": "Entity to trace",
			},
			"limit": map[string]any{
				"type":        "integer",
				"description": "Maximum origin observations to return (default 10)",
			},
		}, "entity_name"),
	}, r.traceEntityOrigin)

	r.add(mcp.Tool{
		Name:        "get_temporal_context",
		Description: "List observations bound to a date or a trailing window of days",
		InputSchema: objectSchema(map[string]any{
			"date": map[string]any{
				"type":        "string",
				"description": "ISO date (YYYY-MM-DD); defaults to today",
			},
			"days_back": map[string]any{
				"type":        "integer",
				"description": "Widen the window this many days before the date (default 0)",
			},
			"limit": map[string]any{
				"type":        "integer",
				"description": "Maximum observations to return (default 25)",
			},
		}),
	}, r.getTemporalContext)

	r.add(mcp.Tool{
		Name:        "get_breakthrough_sessions",
		Description: "List conversation sessions flagged as breakthroughs, most significant first",
		InputSchema: objectSchema(map[string]any{
			"limit": map[string]any{
				"type":        "integer",
				"description": "Maximum sessions to return (default 10)",
			},
		}),
	}, r.getBreakthroughSessions)
}

func (r *Registry) traceEntityOrigin(ctx context.Context, args map[string]any) (any, error) {
	entityName, err := requiredStringArg(args, "entity_name")
	if err != nil {
		return nil, err
	}
	limit := clampLimit(intArg(args, "limit", 10), maxSearchLimit)

	records, err := r.deps.Store.Read(ctx, `
		MATCH (e:Entity {name: $name})-[:`+schema.RelEntityHasObservation+`]->(o:Observation)
		OPTIONAL MATCH (o)-[:`+schema.RelOccurredOn+`]->(d:Day)
		OPTIONAL MATCH (s:ConversationSession)-[:CONVERSATION_SESSION_ADDED_OBSERVATION]->(o)
		RETURN o.content AS content,
		       o.created_at AS created_at,
		       o.source AS source,
		       o.semantic_theme AS theme,
		       d.date AS day,
		       s.session_id AS session_id
		ORDER BY o.created_at ASC, o.id
		LIMIT $limit`,
		map[string]any{"name": entityName, "limit": limit})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, errors.NewValidationError("entity \""+entityName+"\" not found or has no observations", nil)
	}
	return map[string]any{
		"entity":  entityName,
		"origins": records,
	}, nil
}

func (r *Registry) getTemporalContext(ctx context.Context, args map[string]any) (any, error) {
	limit := clampLimit(intArg(args, "limit", 25), maxSearchLimit)

	end := stringArg(args, "date", "")
	if end == "" {
		end = time.Now().UTC().Format("2006-01-02")
	} else if _, err := time.Parse("2006-01-02", end); err != nil {
		return nil, errors.NewValidationError("date must be formatted YYYY-MM-DD", err)
	}

	daysBack := intArg(args, "days_back", 0)
	if daysBack < 0 {
		daysBack = 0
	}
	endDay, _ := time.Parse("2006-01-02", end)
	start := endDay.AddDate(0, 0, -daysBack).Format("2006-01-02")

	records, err := r.deps.Store.Read(ctx, `
		MATCH (o:Observation)-[:`+schema.RelOccurredOn+`]->(d:Day)
		WHERE d.date >= $start AND d.date <= $end
		OPTIONAL MATCH (e:Entity)-[:`+schema.RelEntityHasObservation+`]->(o)
		RETURN d.date AS day,
		       e.name AS entity,
		       o.content AS content,
		       o.semantic_theme AS theme,
		       o.created_at AS created_at
		ORDER BY o.created_at DESC, o.id
		LIMIT $limit`,
		map[string]any{"start": start, "end": end, "limit": limit})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"from":         start,
		"to":           end,
		"count":        len(records),
		"observations": records,
	}, nil
}

func (r *Registry) getBreakthroughSessions(ctx context.Context, args map[string]any) (any, error) {
	limit := clampLimit(intArg(args, "limit", 10), maxSearchLimit)

	records, err := r.deps.Store.Read(ctx, `
		MATCH (s:ConversationSession)
		WHERE coalesce(s.breakthrough, false) = true
		   OR coalesce(s.significance_score, 0.0) >= 0.8
		RETURN s.session_id AS session_id,
		       s.topic AS topic,
		       s.summary AS summary,
		       s.date AS date,
		       s.significance_score AS significance_score
		ORDER BY coalesce(s.significance_score, 0.0) DESC, s.date DESC
		LIMIT $limit`,
		map[string]any{"limit": limit})
	if err != nil {
		return nil, err
	}
	return map[string]any{"count": len(records), "sessions": records}, nil
}
