// Package tools declares the memory tool surface and binds each tool to its
// handler. The registry is built once at startup and is read-only afterwards.
package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/daydreamer-ai/daydreamer-memory/pkg/embedding"
	"github.com/daydreamer-ai/daydreamer-memory/pkg/graph"
	"github.com/daydreamer-ai/daydreamer-memory/pkg/pipeline"
)

// Handler executes one tool call. The result must be JSON-serializable.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Deps are the shared resources handlers draw on. Embedder is the process
// singleton; handlers never construct their own.
type Deps struct {
	Store    graph.Store
	Writer   *pipeline.Writer
	Embedder *embedding.Embedder

	// SessionCount reports live SSE sessions for memory_stats.
	SessionCount func() int

	// Strict selects schema enforcement mode for write tools.
	Strict bool

	GraphRAGEnabled bool
	GlobalSearch    bool
	LocalSearch     bool
}

type entry struct {
	def     mcp.Tool
	handler Handler
}

// Registry holds the fixed tool set.
type Registry struct {
	deps  Deps
	order []string
	tools map[string]entry
}

// NewRegistry builds the registry with every tool registered.
func NewRegistry(deps Deps) *Registry {
	r := &Registry{
		deps:  deps,
		tools: make(map[string]entry),
	}
	r.registerSearchTools()
	r.registerWriteTools()
	r.registerTemporalTools()
	r.registerGraphRAGTools()
	r.registerOperationalTools()
	r.registerStubs()
	return r
}

func (r *Registry) add(def mcp.Tool, handler Handler) {
	r.order = append(r.order, def.Name)
	r.tools[def.Name] = entry{def: def, handler: handler}
}

// List returns tool descriptors in registration order.
func (r *Registry) List() []mcp.Tool {
	out := make([]mcp.Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].def)
	}
	return out
}

// Lookup returns the descriptor and handler for a tool name.
func (r *Registry) Lookup(name string) (mcp.Tool, Handler, bool) {
	e, ok := r.tools[name]
	if !ok {
		return mcp.Tool{}, nil, false
	}
	return e.def, e.handler, true
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	return len(r.order)
}

func objectSchema(properties map[string]any, required ...string) mcp.ToolInputSchema {
	if properties == nil {
		properties = map[string]any{}
	}
	return mcp.ToolInputSchema{
		Type:       "object",
		Properties: properties,
		Required:   required,
	}
}
