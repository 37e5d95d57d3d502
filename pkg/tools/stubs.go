package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
)

// The stub tools keep name parity with the stdio deployment. They answer with
// a pointer to the supported path instead of fabricating results.

func (r *Registry) registerStubs() {
	r.add(mcp.Tool{
		Name:        "conversational_memory_search",
		Description: "Reserved; use search_conversations or search_observations",
		InputSchema: objectSchema(map[string]any{
			"query": map[string]any{"type": "string"},
		}),
	}, stubHandler("conversational_memory_search",
		"use search_conversations for session search or search_observations for content search"))

	r.add(mcp.Tool{
		Name:        "virtual_context_search",
		Description: "Reserved; use search_nodes with semantic=true",
		InputSchema: objectSchema(map[string]any{
			"query": map[string]any{"type": "string"},
		}),
	}, stubHandler("virtual_context_search",
		"use search_nodes with semantic=true for vector retrieval"))

	r.add(mcp.Tool{
		Name:        "lightweight_embodiment",
		Description: "Reserved; use memory_stats and get_temporal_context",
		InputSchema: objectSchema(nil),
	}, stubHandler("lightweight_embodiment",
		"use memory_stats for graph state and get_temporal_context for recent activity"))
}

func stubHandler(name, alternative string) Handler {
	return func(_ context.Context, _ map[string]any) (any, error) {
		return map[string]any{
			"tool":        name,
			"status":      "not_implemented_here",
			"alternative": alternative,
		}, nil
	}
}
