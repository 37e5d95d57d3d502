// Package sseserver implements the SSE session engine: it accepts long-lived
// event streams from MCP clients and binds every incoming JSON-RPC request,
// delivered via a separate POST, to the correct stream for reply.
package sseserver

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/daydreamer-ai/daydreamer-memory/pkg/auth"
	"github.com/daydreamer-ai/daydreamer-memory/pkg/logger"
	"github.com/daydreamer-ai/daydreamer-memory/pkg/transport/session"
	"github.com/daydreamer-ai/daydreamer-memory/pkg/transport/ssecommon"
)

// Dispatcher handles one decoded JSON-RPC payload. The returned bytes are the
// complete JSON-RPC response; notification reports that no reply is owed.
type Dispatcher interface {
	Dispatch(ctx context.Context, principal string, payload []byte) (response []byte, notification bool)
}

// Metrics receives session lifecycle callbacks. Optional.
type Metrics interface {
	SessionOpened()
	SessionClosed()
}

// Engine is the SSE session engine.
type Engine struct {
	sessions   *session.Manager
	dispatcher Dispatcher
	maxPayload int64
	metrics    Metrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxPayload caps the POST /messages body size in bytes.
func WithMaxPayload(n int64) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxPayload = n
		}
	}
}

// WithMetrics attaches session lifecycle metrics.
func WithMetrics(m Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New creates the engine around an existing session manager.
func New(sessions *session.Manager, dispatcher Dispatcher, opts ...Option) *Engine {
	e := &Engine{
		sessions:   sessions,
		dispatcher: dispatcher,
		maxPayload: 1 << 20,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SessionCount returns the number of live sessions.
func (e *Engine) SessionCount() int {
	return e.sessions.Count()
}

// HandleSSE serves GET /sse: registers a session, announces its message
// endpoint as a plain URI, then holds the stream open with keepalives.
func (e *Engine) HandleSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	// Set headers for chunked SSE
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	sessionID := uuid.New().String()
	principal := auth.PrincipalFromContext(r.Context())
	sess := session.NewSSESession(sessionID, principal, r.RemoteAddr)

	if err := e.sessions.Add(sess); err != nil {
		logger.Errorw("failed to register SSE session", "error", err)
		http.Error(w, "Failed to create session", http.StatusInternalServerError)
		return
	}
	if e.metrics != nil {
		e.metrics.SessionOpened()
	}
	logger.Infow("SSE session opened",
		"session_id", sessionID,
		"peer", r.RemoteAddr,
		"principal", principal,
	)

	// The endpoint frame data is a plain relative URI, never JSON-RPC.
	endpointMsg := ssecommon.NewSSEMessage(ssecommon.EventTypeEndpoint, ssecommon.EndpointURI(sessionID))
	fmt.Fprint(w, endpointMsg.ToSSEString())
	flusher.Flush()

	ctx := r.Context()
	keepAlive := time.NewTicker(ssecommon.KeepAliveInterval)
	defer keepAlive.Stop()

	defer func() {
		e.removeSession(sessionID)
		logger.Infow("SSE session closed", "session_id", sessionID, "peer", r.RemoteAddr)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, open := <-sess.Messages():
			if !open {
				// Evicted or swept; the stream ends here.
				return
			}
			if _, err := fmt.Fprint(w, msg); err != nil {
				return
			}
			flusher.Flush()
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ssecommon.KeepAliveFrame); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// HandleMessages serves POST /messages?session_id=<id>: it dispatches the
// JSON-RPC payload and delivers the response both on the session stream and
// in the HTTP body, since clients accept either path.
func (e *Engine) HandleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}

	sess, exists := e.sessions.Get(sessionID)
	if !exists || sess.Disconnected() {
		http.Error(w, "Could not find session", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, e.maxPayload+1))
	if err != nil {
		http.Error(w, "Error reading request body", http.StatusInternalServerError)
		return
	}
	if int64(len(body)) > e.maxPayload {
		http.Error(w, "Payload too large", http.StatusRequestEntityTooLarge)
		return
	}

	response, notification := e.dispatcher.Dispatch(r.Context(), sess.Principal(), body)
	if notification {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	// Deliver on the stream first; a broken stream deregisters the session
	// but the HTTP path still carries the response.
	frame := ssecommon.NewSSEMessage(ssecommon.EventTypeMessage, string(response)).ToSSEString()
	if err := sess.SendMessage(frame); err != nil {
		logger.Warnw("failed to write response to session stream",
			"session_id", sessionID,
			"error", err,
		)
		if err == session.ErrSessionDisconnected {
			e.removeSession(sessionID)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(response); err != nil {
		logger.Warnf("failed to write response body: %v", err)
	}
}

// Stop disconnects all sessions and stops the sweeper.
func (e *Engine) Stop() {
	e.sessions.Stop()
}

func (e *Engine) removeSession(id string) {
	if sess, ok := e.sessions.Get(id); ok {
		sess.Disconnect()
		e.sessions.Delete(id)
		if e.metrics != nil {
			e.metrics.SessionClosed()
		}
	}
}
