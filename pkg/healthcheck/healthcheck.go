// Package healthcheck serves the probe endpoints the hosting platform polls.
package healthcheck

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/daydreamer-ai/daydreamer-memory/pkg/embedding"
	"github.com/daydreamer-ai/daydreamer-memory/pkg/graph"
	"github.com/daydreamer-ai/daydreamer-memory/pkg/logger"
	"github.com/daydreamer-ai/daydreamer-memory/pkg/versions"
)

const pingTimeout = 5 * time.Second

// Checker aggregates subsystem health for the /health endpoint.
type Checker struct {
	store        graph.Store
	embedder     *embedding.Embedder
	sessionCount func() int
}

// NewChecker wires the subsystems the probe inspects.
func NewChecker(store graph.Store, embedder *embedding.Embedder, sessionCount func() int) *Checker {
	return &Checker{store: store, embedder: embedder, sessionCount: sessionCount}
}

// HandleRoot serves a small identity banner on GET /.
func (*Checker) HandleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service":   "daydreamer-memory",
		"version":   versions.Version,
		"status":    "ok",
		"transport": "sse",
		"endpoints": []string{"/sse", "/messages", "/health"},
	})
}

// HandleHealth serves GET /health. A failing database ping degrades the
// status but still answers, so the platform can tell "degraded" from "dead".
func (c *Checker) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
	defer cancel()

	status := http.StatusOK
	dbStatus := "ok"
	if err := c.store.Ping(ctx); err != nil {
		logger.Warnw("health probe: database ping failed", "error", err)
		dbStatus = "unreachable"
		status = http.StatusServiceUnavailable
	}

	sessions := 0
	if c.sessionCount != nil {
		sessions = c.sessionCount()
	}

	writeJSON(w, status, map[string]any{
		"status":  overall(status),
		"version": versions.Version,
		"database": map[string]any{
			"status": dbStatus,
		},
		"embedder": map[string]any{
			"loaded":        c.embedder.Loaded(),
			"breaker_state": c.embedder.BreakerState(),
			"cache_entries": c.embedder.CacheLen(),
		},
		"sse_sessions": sessions,
	})
}

func overall(status int) string {
	if status == http.StatusOK {
		return "healthy"
	}
	return "degraded"
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Warnf("failed to encode health response: %v", err)
	}
}
