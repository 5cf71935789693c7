// Package jsonrpc implements the single stdin/stdout JSON-RPC 2.0 tool surface (§6.2):
// initialize, tools/list, and tools/call over the search, observation, knowledge, and
// hierarchical-summary stores.
package jsonrpc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/thebtf/memengine/internal/db/gorm"
	"github.com/thebtf/memengine/internal/embedding"
	"github.com/thebtf/memengine/internal/search"
	"github.com/thebtf/memengine/internal/vector/pgvector"
)

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	ID      any    `json:"id"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// toolCallParams is the params shape of a tools/call request.
type toolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// toolHandler runs one named tool and returns the text to wrap in a content block.
type toolHandler func(ctx context.Context, args json.RawMessage) (string, error)

// Server runs the JSON-RPC tool surface over stdin/stdout.
type Server struct {
	stdin   io.Reader
	stdout  io.Writer
	version string
	logger  zerolog.Logger
	tools   map[string]toolHandler
	specs   []toolSpec
}

// Deps wires every component a tool call can reach.
type Deps struct {
	ObsStore      *gorm.ObservationStore
	KnowledgeStore *gorm.KnowledgeStore
	SummaryStore  *gorm.SummaryStore
	Search        *search.Manager
	Embedder      embedding.EmbeddingModel
	Vector        *pgvector.Client
	Version       string
	Logger        zerolog.Logger
}

// NewServer builds a Server reading stdin and writing stdout, with every tool in §6.2's
// surface registered. This is the transport cmd/mcp runs: one process, one stdio session.
func NewServer(deps Deps) *Server {
	return NewServerIO(deps, os.Stdin, os.Stdout)
}

// NewServerIO builds a Server over an arbitrary reader/writer pair, sharing the same tool
// registry a stdio Server would. cmd/worker uses this to hand each net.Conn accepted off the
// cmux JSON-RPC-over-TCP matcher its own Server instance, for callers that want the tool
// surface without spawning a subprocess.
func NewServerIO(deps Deps, r io.Reader, w io.Writer) *Server {
	s := &Server{
		stdin:   r,
		stdout:  w,
		version: deps.Version,
		logger:  deps.Logger,
	}
	s.tools, s.specs = buildTools(deps)
	return s
}

// Run drives the read-dispatch-write loop until ctx is cancelled or stdin closes.
func (s *Server) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(s.stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	done := make(chan error, 1)
	go func() {
		for scanner.Scan() {
			select {
			case <-ctx.Done():
				done <- ctx.Err()
				return
			default:
			}
			line := scanner.Text()
			if line == "" {
				continue
			}
			var req Request
			if err := json.Unmarshal([]byte(line), &req); err != nil {
				s.send(&Response{JSONRPC: "2.0", Error: &Error{Code: -32700, Message: "parse error", Data: err.Error()}})
				continue
			}
			s.send(s.dispatch(ctx, &req))
		}
		done <- scanner.Err()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

func (s *Server) dispatch(ctx context.Context, req *Request) *Response {
	switch req.Method {
	case "initialize":
		return s.handleInitialize(req)
	case "tools/list":
		return s.handleToolsList(req)
	case "tools/call":
		return s.handleToolsCall(ctx, req)
	default:
		return &Response{JSONRPC: "2.0", ID: req.ID, Error: &Error{Code: -32601, Message: "method not found"}}
	}
}

func (s *Server) handleInitialize(req *Request) *Response {
	return &Response{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]any{
			"protocolVersion": "2024-11-05",
			"capabilities":    map[string]any{"tools": map[string]any{}},
			"serverInfo":      map[string]any{"name": "memengine", "version": s.version},
		},
	}
}

func (s *Server) handleToolsList(req *Request) *Response {
	return &Response{JSONRPC: "2.0", ID: req.ID, Result: map[string]any{"tools": s.specs}}
}

// handleToolsCall dispatches by name. A name outside the registered tool set returns
// -32602 (invalid params) per §6.2, distinct from a tool that runs and fails internally.
func (s *Server) handleToolsCall(ctx context.Context, req *Request) *Response {
	var params toolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return &Response{JSONRPC: "2.0", ID: req.ID, Error: &Error{Code: -32602, Message: "invalid params", Data: err.Error()}}
	}

	handler, ok := s.tools[params.Name]
	if !ok {
		return &Response{JSONRPC: "2.0", ID: req.ID, Error: &Error{Code: -32602, Message: fmt.Sprintf("unknown tool %q", params.Name)}}
	}

	text, err := handler(ctx, params.Arguments)
	if err != nil {
		return &Response{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result: map[string]any{
				"content": []map[string]any{{"type": "text", "text": err.Error()}},
				"isError": true,
			},
		}
	}
	return &Response{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]any{
			"content": []map[string]any{{"type": "text", "text": text}},
		},
	}
}

func (s *Server) send(resp *Response) {
	enc := json.NewEncoder(s.stdout)
	if err := enc.Encode(resp); err != nil {
		s.logger.Error().Err(err).Msg("failed to encode jsonrpc response")
	}
}
