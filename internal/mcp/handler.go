// Package mcp exposes the memory bank as an MCP tool server: a flat catalog
// of uniformly-shaped tools behind a JSON-RPC 2.0 stdio transport.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rohankatakam/memorybank/internal/logging"
)

const protocolVersion = "1.0"

// ServerInfo names the server in the initialize handshake.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Handler dispatches JSON-RPC requests to the tool catalog.
type Handler struct {
	registry *Registry
	info     ServerInfo
	// deadline bounds each tools/call when the caller brings none
	deadline time.Duration
	logger   *slog.Logger
}

func NewHandler(registry *Registry, info ServerInfo, deadline time.Duration) *Handler {
	return &Handler{
		registry: registry,
		info:     info,
		deadline: deadline,
		logger:   logging.Component("mcp"),
	}
}

// Handle processes one request. A nil return means no response goes out,
// which is the contract for notifications.
func (h *Handler) Handle(ctx context.Context, req *Request) *Response {
	if strings.HasPrefix(req.Method, "notifications/") {
		return nil
	}
	switch req.Method {
	case "initialize":
		return h.handleInitialize(req)
	case "ping":
		return resultResponse(req.ID, map[string]any{})
	case "tools/list":
		return h.handleToolsList(req)
	case "tools/call":
		return h.handleToolCall(ctx, req)
	default:
		return errorResponse(req.ID, codeMethodNotFound,
			fmt.Sprintf("method %q not found", req.Method))
	}
}

func (h *Handler) handleInitialize(req *Request) *Response {
	return resultResponse(req.ID, map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities": map[string]any{
			"tools": map[string]any{},
		},
		"serverInfo": h.info,
	})
}

func (h *Handler) handleToolsList(req *Request) *Response {
	list := make([]map[string]any, 0, h.registry.Len())
	for _, t := range h.registry.List() {
		entry := map[string]any{
			"name":        t.Name,
			"description": t.Description,
			"inputSchema": t.InputSchema,
		}
		if t.OutputSchema != nil {
			entry["outputSchema"] = t.OutputSchema
		}
		list = append(list, entry)
	}
	return resultResponse(req.ID, map[string]any{"tools": list})
}

func (h *Handler) handleToolCall(ctx context.Context, req *Request) *Response {
	var params struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if len(req.Params) == 0 {
		return errorResponse(req.ID, codeInvalidParams, "params required")
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, codeInvalidParams, "malformed params: "+err.Error())
	}
	if params.Name == "" {
		return errorResponse(req.ID, codeInvalidParams, "params.name is required")
	}

	tool, ok := h.registry.Get(params.Name)
	if !ok {
		return errorResponse(req.ID, codeInvalidParams,
			fmt.Sprintf("tool %q not found", params.Name))
	}

	if _, has := ctx.Deadline(); !has && h.deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.deadline)
		defer cancel()
	}

	start := time.Now()
	result := tool.Handler(ctx, params.Arguments)
	h.logger.Debug("tool call",
		"tool", params.Name, "ok", result.OK, "duration", time.Since(start))
	return resultResponse(req.ID, result)
}
