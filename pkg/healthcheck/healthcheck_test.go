package healthcheck

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daydreamer-ai/daydreamer-memory/pkg/embedding"
	"github.com/daydreamer-ai/daydreamer-memory/pkg/graph"
)

type pingStore struct {
	err error
}

func (*pingStore) Read(context.Context, string, map[string]any) ([]graph.Record, error) {
	return nil, nil
}
func (*pingStore) Write(context.Context, func(context.Context, graph.Tx) error) error { return nil }
func (s *pingStore) Ping(context.Context) error                                       { return s.err }
func (*pingStore) Close(context.Context) error                                        { return nil }

func newColdEmbedder(t *testing.T) *embedding.Embedder {
	t.Helper()
	e, err := embedding.New(func(context.Context) (embedding.Model, error) {
		return nil, errors.New("not loaded in tests")
	}, embedding.Options{})
	require.NoError(t, err)
	return e
}

func probe(t *testing.T, checker *Checker) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	checker.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func TestHandleRoot(t *testing.T) {
	t.Parallel()

	checker := NewChecker(&pingStore{}, newColdEmbedder(t), nil)
	rec := httptest.NewRecorder()
	checker.HandleRoot(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "daydreamer-memory", body["service"])
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "sse", body["transport"])
	assert.Contains(t, body["endpoints"], "/sse")
}

func TestHandleHealthHealthy(t *testing.T) {
	t.Parallel()

	checker := NewChecker(&pingStore{}, newColdEmbedder(t), func() int { return 3 })
	code, body := probe(t, checker)

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body["status"])
	assert.EqualValues(t, 3, body["sse_sessions"])

	db, ok := body["database"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ok", db["status"])

	emb, ok := body["embedder"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, false, emb["loaded"])
	assert.EqualValues(t, 0, emb["cache_entries"])
	assert.NotEmpty(t, emb["breaker_state"])
}

func TestHandleHealthDegradedDatabase(t *testing.T) {
	t.Parallel()

	checker := NewChecker(&pingStore{err: errors.New("connection refused")}, newColdEmbedder(t), nil)
	code, body := probe(t, checker)

	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "degraded", body["status"])

	db, ok := body["database"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "unreachable", db["status"])
}
