package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daydreamer-ai/daydreamer-memory/pkg/embedding"
	"github.com/daydreamer-ai/daydreamer-memory/pkg/errors"
	"github.com/daydreamer-ai/daydreamer-memory/pkg/graph"
	"github.com/daydreamer-ai/daydreamer-memory/pkg/schema"
)

// fakeStore scripts graph responses for handler tests.
type fakeStore struct {
	readRecords []graph.Record
	readErr     error
	readQueries []string

	// txResponses answers tx.Run by the "to" parameter; pairs not listed
	// resolve to an empty record set.
	txResponses map[string][]graph.Record
	txQueries   []string
}

func (f *fakeStore) Read(_ context.Context, cypher string, _ map[string]any) ([]graph.Record, error) {
	f.readQueries = append(f.readQueries, cypher)
	return f.readRecords, f.readErr
}

func (f *fakeStore) Write(ctx context.Context, fn func(ctx context.Context, tx graph.Tx) error) error {
	return fn(ctx, &fakeStoreTx{store: f})
}

func (*fakeStore) Ping(context.Context) error  { return nil }
func (*fakeStore) Close(context.Context) error { return nil }

type fakeStoreTx struct {
	store *fakeStore
}

func (t *fakeStoreTx) Run(_ context.Context, cypher string, params map[string]any) ([]graph.Record, error) {
	t.store.txQueries = append(t.store.txQueries, cypher)
	if to, ok := params["to"].(string); ok {
		return t.store.txResponses[to], nil
	}
	return nil, nil
}

func newTestRegistry(store *fakeStore) *Registry {
	return NewRegistry(Deps{
		Store:        store,
		SessionCount: func() int { return 0 },
	})
}

func TestRegistryToolSet(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(&fakeStore{})
	assert.Equal(t, 17, r.Len())

	list := r.List()
	require.Len(t, list, 17)

	// Registration order is stable; search tools come first, stubs last.
	assert.Equal(t, "search_nodes", list[0].Name)
	assert.Equal(t, "lightweight_embodiment", list[16].Name)

	seen := make(map[string]bool, len(list))
	for _, def := range list {
		assert.NotEmpty(t, def.Description, "tool %s needs a description", def.Name)
		assert.False(t, seen[def.Name], "duplicate tool %s", def.Name)
		seen[def.Name] = true
	}

	def, handler, ok := r.Lookup("memory_stats")
	require.True(t, ok)
	assert.Equal(t, "memory_stats", def.Name)
	assert.NotNil(t, handler)

	_, _, ok = r.Lookup("nonexistent")
	assert.False(t, ok)
}

func TestSearchObservationsRejectsUnknownTheme(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	r := newTestRegistry(store)
	_, handler, ok := r.Lookup("search_observations")
	require.True(t, ok)

	_, err := handler(context.Background(), map[string]any{"theme": "astrology"})
	require.Error(t, err)
	assert.Equal(t, errors.CategoryValidation, errors.CategoryOf(err))
	assert.Empty(t, store.readQueries, "invalid theme must be refused before any query")
}

func TestCreateRelationsMixedBatch(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		txResponses: map[string][]graph.Record{
			"Neo4j": {{"merged": int64(1)}},
		},
	}
	r := newTestRegistry(store)
	_, handler, ok := r.Lookup("create_relations")
	require.True(t, ok)

	result, err := handler(context.Background(), map[string]any{
		"relations": []any{
			map[string]any{"from": "Daydreamer", "to": "Neo4j", "relationType": "uses"},
			map[string]any{"from": "Daydreamer", "to": "Ghost", "relationType": "uses"},
			map[string]any{"from": "Daydreamer", "to": "Neo4j", "relationType": "OCCURRED_ON"},
		},
	})
	require.NoError(t, err)

	out, ok := result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 1, out["relations_created"])

	itemErrors, ok := out["item_errors"].([]string)
	require.True(t, ok)
	require.Len(t, itemErrors, 2)
	assert.Contains(t, itemErrors[0], "OCCURRED_ON")
	assert.Contains(t, itemErrors[1], "Ghost")

	// Only the two allow-listed relations reach the transaction.
	assert.Len(t, store.txQueries, 2)
	for _, q := range store.txQueries {
		assert.Contains(t, q, ":USES]")
	}
}

func TestCreateRelationsRefusesCypherInType(t *testing.T) {
	t.Parallel()

	// Lenient mode accepts unknown identifiers with a warning, but a type
	// carrying Cypher syntax must fail the item and never reach the store.
	store := &fakeStore{}
	r := newTestRegistry(store)
	_, handler, ok := r.Lookup("create_relations")
	require.True(t, ok)

	result, err := handler(context.Background(), map[string]any{
		"relations": []any{
			map[string]any{
				"from":         "Daydreamer",
				"to":           "Neo4j",
				"relationType": "x]->(b) with 1 as w match (n) detach delete n //",
			},
		},
	})
	require.NoError(t, err)

	out, ok := result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 0, out["relations_created"])

	itemErrors, ok := out["item_errors"].([]string)
	require.True(t, ok)
	require.Len(t, itemErrors, 1)
	assert.Contains(t, itemErrors[0], "not a valid identifier")

	assert.Empty(t, store.txQueries, "malformed type must never reach the store")
}

func TestCreateRelationsEmptyInput(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(&fakeStore{})
	_, handler, _ := r.Lookup("create_relations")

	_, err := handler(context.Background(), map[string]any{"relations": []any{}})
	require.Error(t, err)
	assert.Equal(t, errors.CategoryValidation, errors.CategoryOf(err))
}

func TestRawCypherQueryReadPassthrough(t *testing.T) {
	t.Parallel()

	store := &fakeStore{readRecords: []graph.Record{{"name": "Daydreamer"}}}
	r := newTestRegistry(store)
	_, handler, _ := r.Lookup("raw_cypher_query")

	result, err := handler(context.Background(), map[string]any{
		"query": "MATCH (e:Entity) RETURN e.name AS name LIMIT 5",
	})
	require.NoError(t, err)

	out, ok := result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 1, out["count"])
	require.Len(t, store.readQueries, 1)
	assert.Empty(t, store.txQueries)
}

func TestRawCypherQueryGuardsPipelineOwnedWrites(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	r := newTestRegistry(store)
	_, handler, _ := r.Lookup("raw_cypher_query")

	refused := []string{
		"MATCH (o)-[r:OCCURRED_ON]->() DELETE r",
		"MATCH (e:Entity) CREATE (e)-[:ENTITY_HAS_OBSERVATION]->(:Thing)",
		"MATCH (d:Day) MERGE (d)-[:PART_OF_MONTH]->(:Month)",
		"CREATE (o:Observation {content: 'x'})",
		"MATCH (e:Entity) SET e.theme = 'technical'",
		"MATCH (e:Entity) SET e.year_month = '2026-08'",
	}
	for _, query := range refused {
		_, err := handler(context.Background(), map[string]any{"query": query})
		require.Error(t, err, "query should be refused: %s", query)
		assert.Equal(t, errors.CategorySchemaViolation, errors.CategoryOf(err), query)
	}
	assert.Empty(t, store.txQueries, "refused writes must never reach the store")

	// Ordinary entity writes are allowed through.
	_, err := handler(context.Background(), map[string]any{
		"query": "MATCH (e:Entity {name: $name}) SET e.notes = $notes",
		"params": map[string]any{"name": "Daydreamer", "notes": "ok"},
	})
	require.NoError(t, err)
	assert.Len(t, store.txQueries, 1)
}

func TestStubToolsPointAtSupportedPath(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(&fakeStore{})
	for _, name := range []string{"conversational_memory_search", "virtual_context_search", "lightweight_embodiment"} {
		_, handler, ok := r.Lookup(name)
		require.True(t, ok, name)

		result, err := handler(context.Background(), map[string]any{})
		require.NoError(t, err)

		out, ok := result.(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "not_implemented_here", out["status"])
		assert.NotEmpty(t, out["alternative"])
	}
}

// constantModel returns fixed vectors so read handlers that embed their
// query can run without a live encoder.
type constantModel struct{}

func (constantModel) Encode(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		vec := make([]float32, embedding.Dim)
		vec[0] = 1
		out[i] = vec
	}
	return out, nil
}

func (constantModel) Close() error { return nil }

func TestReadQueriesUseCanonicalProperties(t *testing.T) {
	t.Parallel()

	embedder, err := embedding.New(func(context.Context) (embedding.Model, error) {
		return constantModel{}, nil
	}, embedding.Options{})
	require.NoError(t, err)
	t.Cleanup(embedder.Close)

	store := &fakeStore{}
	r := NewRegistry(Deps{
		Store:           store,
		Embedder:        embedder,
		SessionCount:    func() int { return 0 },
		GraphRAGEnabled: true,
		GlobalSearch:    true,
		LocalSearch:     true,
	})

	calls := []struct {
		tool string
		args map[string]any
	}{
		{"search_nodes", map[string]any{"query": "daydreamer", "semantic": false}},
		{"search_nodes", map[string]any{"query": "daydreamer", "semantic": true}},
		{"graphrag_local_search", map[string]any{"entity_name": "Daydreamer"}},
	}
	for _, call := range calls {
		_, handler, ok := r.Lookup(call.tool)
		require.True(t, ok, call.tool)
		_, err := handler(context.Background(), call.args)
		require.NoError(t, err, call.tool)
	}

	// Entity reads must name the property the write pipeline sets.
	require.Contains(t, schema.EntityProperties(), "entityType")
	require.Len(t, store.readQueries, len(calls))
	for _, query := range store.readQueries {
		assert.Contains(t, query, "entityType")
		assert.NotContains(t, query, "entity_type")
	}

	// Community summaries expose name and member_count, not a title field.
	_, global, ok := r.Lookup("graphrag_global_search")
	require.True(t, ok)
	_, err = global(context.Background(), map[string]any{"query": "what does the corpus cover"})
	require.NoError(t, err)

	summaryQuery := store.readQueries[len(store.readQueries)-1]
	assert.Contains(t, summaryQuery, "node.name AS name")
	assert.Contains(t, summaryQuery, "node.member_count AS member_count")
	assert.NotContains(t, summaryQuery, "title")
}

func TestMemoryStatsEmptyGraph(t *testing.T) {
	t.Parallel()

	embedder, err := embedding.New(func(context.Context) (embedding.Model, error) {
		return constantModel{}, nil
	}, embedding.Options{})
	require.NoError(t, err)
	t.Cleanup(embedder.Close)

	// An empty store returns no rows at all; the counts must still come
	// back as zeros rather than vanish from the result.
	store := &fakeStore{}
	r := NewRegistry(Deps{
		Store:        store,
		Embedder:     embedder,
		SessionCount: func() int { return 2 },
	})
	_, handler, ok := r.Lookup("memory_stats")
	require.True(t, ok)

	result, err := handler(context.Background(), nil)
	require.NoError(t, err)

	stats, ok := result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, int64(0), stats["entities"])
	assert.Equal(t, int64(0), stats["observations"])
	assert.Equal(t, int64(0), stats["conversation_sessions"])
	assert.Equal(t, 0.0, stats["embedding_coverage"])
	assert.Equal(t, 2, stats["active_sse_sessions"])
}

func TestGraphRAGToolsGatedByFlags(t *testing.T) {
	t.Parallel()

	r := NewRegistry(Deps{Store: &fakeStore{}, SessionCount: func() int { return 0 }})
	for _, name := range []string{"graphrag_global_search", "graphrag_local_search"} {
		_, handler, ok := r.Lookup(name)
		require.True(t, ok, name)

		_, err := handler(context.Background(), map[string]any{"query": "anything"})
		require.Error(t, err, name)
		assert.Equal(t, errors.CategoryValidation, errors.CategoryOf(err), name)
	}
}
