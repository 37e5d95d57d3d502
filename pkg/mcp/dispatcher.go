// Package mcp implements the JSON-RPC dispatcher for the MCP surface:
// initialize, tool listing and invocation, and the empty prompt/resource
// listings conformant clients probe for.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	"github.com/daydreamer-ai/daydreamer-memory/pkg/errors"
	"github.com/daydreamer-ai/daydreamer-memory/pkg/logger"
	"github.com/daydreamer-ai/daydreamer-memory/pkg/tools"
	"github.com/daydreamer-ai/daydreamer-memory/pkg/versions"
)

// ProtocolVersion is the MCP revision this server speaks.
const ProtocolVersion = "2024-11-05"

// ServerName identifies the server in the initialize handshake.
const ServerName = "daydreamer-memory"

// JSON-RPC 2.0 error codes, plus the implementation-defined range used for
// handler failures.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeHandlerError   = -32000
	codeUnauthorized   = -32003
)

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// ToolMetrics records tool invocation outcomes.
type ToolMetrics interface {
	ToolCall(tool, outcome string)
}

// Dispatcher routes JSON-RPC payloads to the tool registry.
type Dispatcher struct {
	registry *tools.Registry
	metrics  ToolMetrics
}

// NewDispatcher wraps a tool registry.
func NewDispatcher(registry *tools.Registry) *Dispatcher {
	return &Dispatcher{registry: registry}
}

// SetMetrics attaches tool call instrumentation.
func (d *Dispatcher) SetMetrics(m ToolMetrics) {
	d.metrics = m
}

func (d *Dispatcher) record(tool, outcome string) {
	if d.metrics != nil {
		d.metrics.ToolCall(tool, outcome)
	}
}

// Dispatch handles one payload. The returned bytes are the serialized
// response; notification reports that the payload needs no reply.
func (d *Dispatcher) Dispatch(ctx context.Context, principal string, payload []byte) ([]byte, bool) {
	var req request
	if err := json.Unmarshal(payload, &req); err != nil {
		return marshalError(nil, codeParseError, "Parse error", nil), false
	}
	if req.JSONRPC != "2.0" {
		return marshalError(req.ID, codeInvalidRequest, "Invalid Request: jsonrpc must be \"2.0\"", nil), false
	}

	if isNotification(req) {
		logger.Debugw("notification received", "method", req.Method, "principal", principal)
		return nil, true
	}

	switch req.Method {
	case "initialize":
		return marshalResult(req.ID, map[string]any{
			"protocolVersion": ProtocolVersion,
			"capabilities": map[string]any{
				"tools": map[string]any{},
			},
			"serverInfo": map[string]any{
				"name":    ServerName,
				"version": versions.Version,
			},
		}), false

	case "ping":
		return marshalResult(req.ID, map[string]any{}), false

	case "tools/list":
		return marshalResult(req.ID, map[string]any{
			"tools": d.registry.List(),
		}), false

	case "tools/call":
		return d.callTool(ctx, req), false

	case "prompts/list":
		return marshalResult(req.ID, map[string]any{"prompts": []any{}}), false

	case "resources/list":
		return marshalResult(req.ID, map[string]any{"resources": []any{}}), false

	case "resources/templates/list":
		return marshalResult(req.ID, map[string]any{"resourceTemplates": []any{}}), false

	default:
		return marshalError(req.ID, codeMethodNotFound,
			fmt.Sprintf("Method not found: %s", req.Method), nil), false
	}
}

func isNotification(req request) bool {
	if len(req.ID) == 0 || string(req.ID) == "null" {
		return true
	}
	return len(req.Method) > len("notifications/") && req.Method[:len("notifications/")] == "notifications/"
}

type callParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

func (d *Dispatcher) callTool(ctx context.Context, req request) []byte {
	var params callParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return marshalError(req.ID, codeInvalidParams, "Invalid params: expected {name, arguments}", nil)
	}
	if params.Name == "" {
		return marshalError(req.ID, codeInvalidParams, "Invalid params: name is required", nil)
	}

	def, handler, ok := d.registry.Lookup(params.Name)
	if !ok {
		return marshalError(req.ID, codeInvalidParams,
			fmt.Sprintf("Unknown tool: %s", params.Name), nil)
	}

	args := params.Arguments
	if args == nil {
		args = map[string]any{}
	}
	if msg, ok := validateArguments(def.InputSchema, args); !ok {
		return marshalError(req.ID, codeInvalidParams, msg, nil)
	}

	result, err := handler(ctx, args)
	if err != nil {
		d.record(params.Name, errors.CategoryOf(err))
		return d.handlerError(req.ID, params.Name, err)
	}
	d.record(params.Name, "ok")

	text, err := json.Marshal(result)
	if err != nil {
		return marshalError(req.ID, codeHandlerError, "Failed to serialize tool result",
			map[string]any{"category": errors.CategoryInternal})
	}
	return marshalResult(req.ID, map[string]any{
		"content": []map[string]any{
			{"type": "text", "text": string(text)},
		},
	})
}

func (d *Dispatcher) handlerError(id json.RawMessage, tool string, err error) []byte {
	category := errors.CategoryOf(err)
	message := errors.MessageOf(err)
	logger.Warnw("tool call failed", "tool", tool, "category", category, "error", err)

	code := codeHandlerError
	if category == errors.CategoryAuth {
		code = codeUnauthorized
	}
	if category == errors.CategoryValidation {
		code = codeInvalidParams
	}
	return marshalError(id, code, message, map[string]any{"category": category})
}

func validateArguments(schema any, args map[string]any) (string, bool) {
	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return "", true
	}
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return "Invalid params: arguments are not serializable", false
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schemaJSON),
		gojsonschema.NewBytesLoader(argsJSON),
	)
	if err != nil {
		// A broken schema must not take the tool offline.
		logger.Debugw("argument schema validation skipped", "error", err)
		return "", true
	}
	if result.Valid() {
		return "", true
	}

	msg := "Invalid params"
	if descs := result.Errors(); len(descs) > 0 {
		msg = fmt.Sprintf("Invalid params: %s", descs[0].String())
	}
	return msg, false
}

func marshalResult(id json.RawMessage, result any) []byte {
	out, err := json.Marshal(response{JSONRPC: "2.0", ID: normalizeID(id), Result: result})
	if err != nil {
		return marshalError(id, codeHandlerError, "Failed to serialize response", nil)
	}
	return out
}

func marshalError(id json.RawMessage, code int, message string, data any) []byte {
	out, _ := json.Marshal(response{
		JSONRPC: "2.0",
		ID:      normalizeID(id),
		Error:   &rpcError{Code: code, Message: message, Data: data},
	})
	return out
}

func normalizeID(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return json.RawMessage("null")
	}
	return id
}
