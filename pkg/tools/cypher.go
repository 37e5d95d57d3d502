package tools

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/daydreamer-ai/daydreamer-memory/pkg/errors"
	"github.com/daydreamer-ai/daydreamer-memory/pkg/graph"
	"github.com/daydreamer-ai/daydreamer-memory/pkg/schema"
)

func (r *Registry) registerOperationalTools() {
	r.add(mcp.Tool{
		Name:        "raw_cypher_query",
		Description: "Run a parameterized Cypher query for operational inspection",
		InputSchema: objectSchema(map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "Cypher text; values must be referenced as $parameters",
			},
			"params": map[string]any{
				"type":        "object",
				"description": "Query parameters",
			},
		}, "query"),
	}, r.rawCypherQuery)
}

var writeClausePattern = regexp.MustCompile(`(?i)\b(CREATE|MERGE|DELETE|DETACH|SET|REMOVE|DROP|CALL\s+\{)\b`)

func (r *Registry) rawCypherQuery(ctx context.Context, args map[string]any) (any, error) {
	query, err := requiredStringArg(args, "query")
	if err != nil {
		return nil, err
	}
	params, _ := args["params"].(map[string]any)

	isWrite := writeClausePattern.MatchString(query)
	if isWrite {
		if err := guardWriteQuery(query); err != nil {
			return nil, err
		}
	}

	if !isWrite {
		records, err := r.deps.Store.Read(ctx, query, params)
		if err != nil {
			return nil, err
		}
		return map[string]any{"count": len(records), "records": records}, nil
	}

	var records []graph.Record
	err = r.deps.Store.Write(ctx, func(ctx context.Context, tx graph.Tx) error {
		records, err = tx.Run(ctx, query, params)
		return err
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"count": len(records), "records": records}, nil
}

// guardWriteQuery refuses writes that would bypass the pipeline's ownership
// of Observation nodes, the temporal hierarchy, and its edge types.
func guardWriteQuery(query string) error {
	upper := strings.ToUpper(query)

	for _, rel := range schema.ProtectedRelationships() {
		if strings.Contains(upper, rel) {
			return errors.NewSchemaViolationError(
				fmt.Sprintf("relationship %s is pipeline-owned and cannot be written directly", rel), nil)
		}
	}

	if strings.Contains(upper, ":OBSERVATION") {
		return errors.NewSchemaViolationError(
			"Observation nodes are pipeline-owned and cannot be written directly", nil)
	}

	lower := strings.ToLower(query)
	for _, prop := range []string{"timestamp", "theme", "observations", "year_month"} {
		if schema.IsForbiddenProperty(prop) && strings.Contains(lower, "."+prop) {
			return errors.NewSchemaViolationError(
				fmt.Sprintf("property %s is retired and cannot be written", prop), nil)
		}
	}

	return nil
}
