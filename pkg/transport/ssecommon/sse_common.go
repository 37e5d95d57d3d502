// Package ssecommon provides common types and utilities for Server-Sent
// Events (SSE) used in communication between the client and the gateway.
package ssecommon

import (
	"fmt"
	"strings"
	"time"
)

const (
	// HTTPSSEEndpoint is the endpoint for SSE connections
	HTTPSSEEndpoint = "/sse"
	// HTTPMessagesEndpoint is the endpoint for JSON-RPC messages
	HTTPMessagesEndpoint = "/messages"

	// EventTypeEndpoint announces the per-session message endpoint. Its data
	// is a plain relative URI, never JSON.
	EventTypeEndpoint = "endpoint"
	// EventTypeMessage carries a JSON-RPC response payload.
	EventTypeMessage = "message"

	// KeepAliveFrame is the comment frame written on the heartbeat interval.
	KeepAliveFrame = ": keepalive\n\n"
	// KeepAliveInterval is how often keepalive comments are written.
	KeepAliveInterval = 30 * time.Second
)

// SSEMessage represents a Server-Sent Event message
type SSEMessage struct {
	// EventType is the type of event (e.g., "message", "endpoint")
	EventType string
	// Data is the event data
	Data string
	// CreatedAt is the time the message was created
	CreatedAt time.Time
}

// NewSSEMessage creates a new SSE message
func NewSSEMessage(eventType, data string) *SSEMessage {
	return &SSEMessage{
		EventType: eventType,
		Data:      data,
		CreatedAt: time.Now(),
	}
}

// ToSSEString converts the message to an SSE-formatted string
func (m *SSEMessage) ToSSEString() string {
	var sb strings.Builder

	// Add event type
	sb.WriteString(fmt.Sprintf("event: %s\n", m.EventType))

	// Add data (split by newlines to ensure proper formatting)
	for _, line := range strings.Split(m.Data, "\n") {
		sb.WriteString(fmt.Sprintf("data: %s\n", line))
	}

	// End the message with a blank line
	sb.WriteString("\n")

	return sb.String()
}

// EndpointURI builds the per-session message endpoint URI announced in the
// opening frame.
func EndpointURI(sessionID string) string {
	return fmt.Sprintf("%s?session_id=%s", HTTPMessagesEndpoint, sessionID)
}
