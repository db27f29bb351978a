package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/riverglass/codegraph/internal/config"
	"github.com/riverglass/codegraph/internal/query"
	"github.com/riverglass/codegraph/internal/runpath"
	"github.com/riverglass/codegraph/internal/store"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const protocolVersion = "2024-11-05"

// Server answers JSON-RPC requests over one repository's graph store. Run
// handles one request at a time; mu additionally serializes index runs with
// each other (only index_repository takes it), matching §5's single-writer
// requirement.
type Server struct {
	store  *store.Store
	engine *query.Engine
	paths  *runpath.Paths
	config *config.Config
	logger *slog.Logger

	mu       sync.Mutex
	tools    []*mcp.Tool
	handlers map[string]toolHandler
}

// NewServer builds a Server over an already-open store rooted at paths.
func NewServer(s *store.Store, paths *runpath.Paths, cfg *config.Config, logger *slog.Logger) *Server {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	srv := &Server{
		store:    s,
		engine:   query.New(s),
		paths:    paths,
		config:   cfg,
		logger:   logger,
		handlers: make(map[string]toolHandler),
	}
	srv.registerTools()
	return srv
}

// Run reads JSON-RPC requests from r and writes responses to w until r is
// exhausted or ctx is canceled. Each message's framing (length-prefixed or
// line-delimited) is detected independently and echoed back on reply.
func (s *Server) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	fr := newFrameReader(r)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		body, mode, err := fr.readMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read message: %w", err)
		}
		if len(body) == 0 {
			continue
		}

		resp := s.handleMessage(ctx, body)
		if resp == nil {
			continue // notification: no response expected
		}
		if err := writeMessage(w, resp, mode); err != nil {
			return fmt.Errorf("write message: %w", err)
		}
	}
}

// handleMessage decodes and dispatches one request, returning nil for
// notifications (requests with no id).
func (s *Server) handleMessage(ctx context.Context, body []byte) *Response {
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return errorResponse(nil, ErrCodeParseError, "parse error: "+err.Error(), nil)
	}

	var resp *Response
	switch req.Method {
	case "initialize":
		resp = successResponse(req.ID, s.handleInitialize())
	case "ping":
		resp = successResponse(req.ID, map[string]any{})
	case "tools/list":
		resp = successResponse(req.ID, s.handleToolsList())
	case "tools/call":
		resp = s.handleToolsCall(ctx, req)
	default:
		resp = errorResponse(req.ID, ErrCodeMethodNotFound, "method not found: "+req.Method, nil)
	}
	if req.ID == nil {
		return nil
	}
	return resp
}

func (s *Server) handleInitialize() map[string]any {
	return map[string]any{
		"protocolVersion": protocolVersion,
		"serverInfo": map[string]any{
			"name":    "codegraph",
			"version": "1",
		},
		"capabilities": map[string]any{
			"tools": map[string]any{"listChanged": false},
		},
	}
}

func (s *Server) handleToolsList() map[string]any {
	descriptors := make([]map[string]any, len(s.tools))
	for i, t := range s.tools {
		descriptors[i] = map[string]any{
			"name":        t.Name,
			"description": t.Description,
			"inputSchema": json.RawMessage(t.InputSchema),
		}
	}
	return map[string]any{"tools": descriptors}
}

func (s *Server) handleToolsCall(ctx context.Context, req Request) *Response {
	var params toolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, ErrCodeInvalidParams, "invalid params: "+err.Error(), nil)
	}

	handler, ok := s.handlers[params.Name]
	if !ok {
		return errorResponse(req.ID, ErrCodeMethodNotFound, "unknown tool: "+params.Name, nil)
	}

	args, err := parseArgs(params.Arguments)
	if err != nil {
		return s.argErrorResponse(req.ID, err)
	}

	result, err := handler(&callCtx{ctx: ctx}, args)
	if err != nil {
		var ae *argError
		if errors.As(err, &ae) {
			return s.argErrorResponse(req.ID, err)
		}
		return errorResponse(req.ID, ErrCodeInternalError, err.Error(), nil)
	}

	return successResponse(req.ID, result)
}

func (s *Server) argErrorResponse(id any, err error) *Response {
	return errorResponse(id, ErrCodeInvalidParams, err.Error(), nil)
}
