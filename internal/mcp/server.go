package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

const (
	protocolVersion = "2024-11-05"
	serverName      = "gitlab-agent"
	serverVersion   = "1.0.0"
)

// JSON-RPC 2.0 error codes.
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
)

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// toolContent is one content block of a tool result. Only text blocks
// are produced here.
type toolContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// toolResult carries tool output in-band. Tool failures set IsError
// instead of becoming protocol errors, so the chat model can read them.
type toolResult struct {
	Content []toolContent `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

// Server speaks the tool-calling protocol over newline-delimited
// JSON-RPC 2.0, the way chat UIs consume it. One Server handles one
// transport; handlers are safe for concurrent calls.
type Server struct {
	tools   []toolDefinition
	byName  map[string]toolDefinition
	logger  *slog.Logger
	writeMu sync.Mutex
}

func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	deps.Logger = logger

	tools := registerTools(deps)
	byName := make(map[string]toolDefinition, len(tools))
	for _, t := range tools {
		byName[t.Name] = t
	}
	return &Server{tools: tools, byName: byName, logger: logger}
}

// Serve reads requests from r until EOF or context cancellation,
// writing responses to w.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req request
		if err := json.Unmarshal(line, &req); err != nil {
			s.logger.Warn("unparseable request line", "error", err)
			s.write(w, response{JSONRPC: "2.0", Error: &rpcError{Code: codeParseError, Message: "parse error"}})
			continue
		}

		resp, reply := s.handle(ctx, req)
		if reply {
			s.write(w, resp)
		}
	}
	return scanner.Err()
}

// handle dispatches one request. Notifications (no id) get no reply.
func (s *Server) handle(ctx context.Context, req request) (response, bool) {
	s.logger.Debug("handling request", "method", req.Method)

	resp := response{JSONRPC: "2.0", ID: req.ID}
	isNotification := len(req.ID) == 0

	switch req.Method {
	case "initialize":
		resp.Result = map[string]any{
			"protocolVersion": protocolVersion,
			"capabilities": map[string]any{
				"tools": map[string]any{},
			},
			"serverInfo": map[string]any{
				"name":    serverName,
				"version": serverVersion,
			},
		}
	case "notifications/initialized":
		return response{}, false
	case "ping":
		resp.Result = map[string]any{}
	case "tools/list":
		list := make([]map[string]any, len(s.tools))
		for i, t := range s.tools {
			list[i] = map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"inputSchema": t.InputSchema,
			}
		}
		resp.Result = map[string]any{"tools": list}
	case "tools/call":
		resp = s.callTool(ctx, req)
	default:
		if isNotification {
			return response{}, false
		}
		resp.Error = &rpcError{Code: codeMethodNotFound, Message: fmt.Sprintf("method not found: %s", req.Method)}
	}

	return resp, !isNotification
}

func (s *Server) callTool(ctx context.Context, req request) response {
	resp := response{JSONRPC: "2.0", ID: req.ID}

	var params struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		resp.Error = &rpcError{Code: codeInvalidParams, Message: "invalid tool call params"}
		return resp
	}

	tool, ok := s.byName[params.Name]
	if !ok {
		resp.Error = &rpcError{Code: codeInvalidParams, Message: fmt.Sprintf("unknown tool: %s", params.Name)}
		return resp
	}

	result, err := tool.Handler(ctx, params.Arguments)
	if err != nil {
		s.logger.Warn("tool call failed", "tool", params.Name, "error", err)
		resp.Result = toolResult{
			Content: []toolContent{{Type: "text", Text: fmt.Sprintf("Error: %v", err)}},
			IsError: true,
		}
		return resp
	}

	data, err := json.Marshal(result)
	if err != nil {
		resp.Error = &rpcError{Code: codeInternalError, Message: fmt.Sprintf("encoding tool result: %v", err)}
		return resp
	}

	resp.Result = toolResult{Content: []toolContent{{Type: "text", Text: string(data)}}}
	return resp
}

func (s *Server) write(w io.Writer, resp response) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("encoding response failed", "error", err)
		return
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		s.logger.Error("writing response failed", "error", err)
	}
}
