package mcp

import (
	"context"
	"encoding/json"

	"github.com/claudecontext/claude-context/internal/config"
	"github.com/claudecontext/claude-context/internal/crawl"
	"github.com/claudecontext/claude-context/internal/defaults"
	"github.com/claudecontext/claude-context/internal/ingest"
	"github.com/claudecontext/claude-context/internal/llm"
	"github.com/claudecontext/claude-context/internal/pkg/logger"
	"github.com/claudecontext/claude-context/internal/progress"
	"github.com/claudecontext/claude-context/internal/registry"
	"github.com/claudecontext/claude-context/internal/retrieve"
	"github.com/claudecontext/claude-context/internal/vector"
)

// Handler dispatches JSON-RPC methods to the wired services.
type Handler struct {
	cfg       *config.Config
	registry  *registry.Registry
	store     vector.Store
	coord     *ingest.Coordinator
	retrieval *retrieve.Service
	crawler   *crawl.Strategy
	tracker   *progress.Tracker
	llm       *llm.Client
	defaults  *defaults.Store
	log       *logger.Logger

	// Cached tool definitions
	tools []Tool
}

// HandlerConfig wires the handler's collaborators.
type HandlerConfig struct {
	Config    *config.Config
	Registry  *registry.Registry
	Store     vector.Store
	Coord     *ingest.Coordinator
	Retrieval *retrieve.Service
	Crawler   *crawl.Strategy
	Tracker   *progress.Tracker
	LLM       *llm.Client
	Defaults  *defaults.Store
	Log       *logger.Logger
}

// NewHandler creates a handler.
func NewHandler(cfg HandlerConfig) *Handler {
	h := &Handler{
		cfg:       cfg.Config,
		registry:  cfg.Registry,
		store:     cfg.Store,
		coord:     cfg.Coord,
		retrieval: cfg.Retrieval,
		crawler:   cfg.Crawler,
		tracker:   cfg.Tracker,
		llm:       cfg.LLM,
		defaults:  cfg.Defaults,
		log:       cfg.Log,
	}
	h.tools = h.defineTools()
	return h
}

// Handle processes one request.
func (h *Handler) Handle(ctx context.Context, req *Request) *Response {
	switch req.Method {
	// Lifecycle
	case "initialize":
		return h.handleInitialize(req)
	case "initialized", "notifications/initialized":
		return nil // Notification, no response

	// Tools
	case "tools/list":
		return h.handleToolsList(req)
	case "tools/call":
		return h.handleToolsCall(ctx, req)

	default:
		return &Response{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &Error{Code: ErrMethodNotFound, Message: "Method not found"},
		}
	}
}

func (h *Handler) handleInitialize(req *Request) *Response {
	return &Response{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]any{
			"protocolVersion": "2024-11-05",
			"serverInfo": map[string]string{
				"name":    "claude-context",
				"version": "1.0.0",
			},
			"capabilities": ServerCapabilities{
				Tools: &ToolsCapability{},
			},
		},
	}
}

func (h *Handler) handleToolsList(req *Request) *Response {
	return &Response{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result:  map[string]any{"tools": h.tools},
	}
}

func (h *Handler) handleToolsCall(ctx context.Context, req *Request) *Response {
	var params struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}

	if err := json.Unmarshal(req.Params, &params); err != nil {
		return &Response{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &Error{Code: ErrInvalidParams, Message: err.Error()},
		}
	}

	result, err := h.callTool(ctx, params.Name, params.Arguments)
	if err != nil {
		return &Response{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &Error{Code: ErrInternal, Message: err.Error()},
		}
	}

	return &Response{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result:  result,
	}
}
