// Package mcpserver implements the MCP-facing jsonrpc2.Handler: it
// answers "initialize", "tools/list", and "tools/call" over whatever
// *jsonrpc2.Conn the transport (stdio or WebSocket) builds, delegating
// every "tools/call" to dispatcher.Dispatcher.Call. This is the
// process's server role; internal/lspclient plays the client role
// against each spawned LSP child using the same protocol.Codec framing
// (spec §6: "Messages use the Content-Length-framed envelope identical
// to LSP"). Grounded on saibing-bingo/main.go's
// jsonrpc2.NewConn(ctx, stream, handler) wiring, generalized from a
// single LSP-method switch to the MCP method set, and on
// other_examples/033b3362_Bigsy-mcpmu's handleRequest/handleToolsCall
// shape for the tools/list and tools/call envelope fields themselves.
package mcpserver

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/mcplsp/bridge/internal/dispatcher"
	"github.com/sourcegraph/jsonrpc2"
	"github.com/willibrandon/mtlog/core"
)

// ServerInfo is the "initialize" response's static identification block.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Handler is the MCP jsonrpc2.Handler.
type Handler struct {
	Dispatcher *dispatcher.Dispatcher
	Info       ServerInfo
	Log        core.Logger
}

// New builds a Handler.
func New(d *dispatcher.Dispatcher, info ServerInfo, log core.Logger) *Handler {
	return &Handler{Dispatcher: d, Info: info, Log: log}
}

type initializeResult struct {
	ServerInfo   ServerInfo             `json:"serverInfo"`
	Capabilities map[string]interface{} `json:"capabilities"`
}

type toolsListResult struct {
	Tools []dispatcher.ToolSummary `json:"tools"`
}

type toolsCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Handle implements jsonrpc2.Handler. Per jsonrpc2's contract, requests
// reply via conn.Reply; this Handler is installed with
// jsonrpc2.HandlerWithError semantics is not required since MCP's
// method set is closed and every reply path is explicit.
func (h *Handler) Handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	result, err := h.dispatch(ctx, req)
	if !req.Notif {
		if err != nil {
			if rpcErr, ok := err.(*jsonrpc2.Error); ok {
				_ = conn.ReplyWithError(ctx, req.ID, rpcErr)
				return
			}
			_ = conn.ReplyWithError(ctx, req.ID, &jsonrpc2.Error{Code: -32000, Message: err.Error()})
			return
		}
		_ = conn.Reply(ctx, req.ID, result)
	}
}

func (h *Handler) dispatch(ctx context.Context, req *jsonrpc2.Request) (interface{}, error) {
	switch req.Method {
	case "initialize":
		return initializeResult{
			ServerInfo:   h.Info,
			Capabilities: map[string]interface{}{"tools": map[string]interface{}{}},
		}, nil

	case "tools/list":
		return toolsListResult{Tools: h.Dispatcher.List()}, nil

	case "tools/call":
		var params toolsCallParams
		if req.Params != nil {
			if err := json.Unmarshal(*req.Params, &params); err != nil {
				return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: err.Error()}
			}
		}
		bearer := bearerFromContext(ctx)
		result, err := h.Dispatcher.Call(ctx, params.Name, params.Arguments, bearer)
		if err != nil {
			return nil, toRPCError(err)
		}
		return result, nil

	case "$/cancelRequest", "notifications/initialized", "exit":
		// Lifecycle notifications this bridge accepts but doesn't act on
		// beyond acknowledging receipt, same as the spec's "internal
		// tools (lifecycle notifications...) are hidden but remain
		// callable" for the wire-level method set.
		return nil, nil

	default:
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeMethodNotFound, Message: "unknown method: " + req.Method}
	}
}

// toRPCError maps a *dispatcher.Error onto a jsonrpc2.Error, preserving
// the fixed catalogue code in the message since jsonrpc2.Error's Code
// field is itself a JSON-RPC-level code, not the MCP-level E10xx
// catalogue (spec §7's numeric code is bridge-specific, not a
// transport-level JSON-RPC error code).
func toRPCError(err error) *jsonrpc2.Error {
	if derr, ok := err.(*dispatcher.Error); ok {
		return &jsonrpc2.Error{Code: jsonrpc2.CodeInternalError, Message: derr.Code.String() + ": " + derr.Message}
	}
	return &jsonrpc2.Error{Code: jsonrpc2.CodeInternalError, Message: err.Error()}
}

type bearerTokenKey struct{}

// WithBearerToken attaches a session's bearer token to ctx so dispatch
// (which has no access to transport-level headers) can read it back.
// The stdio transport has no per-message header to carry
// "Authorization" in, so the token is captured once at connection
// time (from the MCPLSP_BEARER_TOKEN environment variable or a
// WebSocket upgrade header) and threaded through every request's
// context by the transport layer.
func WithBearerToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, bearerTokenKey{}, token)
}

func bearerFromContext(ctx context.Context) string {
	v, _ := ctx.Value(bearerTokenKey{}).(string)
	return strings.TrimPrefix(v, "Bearer ")
}
