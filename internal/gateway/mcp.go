package gateway

import (
	"context"
	"errors"
	"maps"
	"net/http"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"grcbridge/internal/session"
	"grcbridge/pkg/middleware"
	"grcbridge/pkg/tools"
)

// SessionArg is the argument every MCP tool takes to name its Archer
// session.
const SessionArg = "session_id"

// MCPServer publishes catalog tools over the Model Context Protocol. Each
// call resolves its session_id under the tenant of the HTTP request.
type MCPServer struct {
	srv  *server.MCPServer
	exec *Executor
	log  *zap.SugaredLogger
}

func NewMCPServer(exec *Executor, catalog []tools.Tool, version string, log *zap.SugaredLogger) *MCPServer {
	m := &MCPServer{
		srv:  server.NewMCPServer("grcbridge", version, server.WithToolCapabilities(false)),
		exec: exec,
		log:  log,
	}
	for _, t := range catalog {
		m.srv.AddTool(toMCPTool(t), m.toolHandler(t.Name))
	}
	return m
}

// Handler serves the streamable HTTP transport. Tenant resolution must run
// before it (middleware.WithTenant).
func (m *MCPServer) Handler() http.Handler {
	return server.NewStreamableHTTPServer(m.srv,
		server.WithHTTPContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			return middleware.Propagate(ctx, r.Context())
		}),
	)
}

func toMCPTool(t tools.Tool) mcp.Tool {
	opts := []mcp.ToolOption{
		mcp.WithDescription(t.Description),
		mcp.WithString(SessionArg, mcp.Required(), mcp.Description("Archer session id returned by the session broker")),
	}
	for _, p := range t.Params {
		if p.Name == SessionArg || p.Name == ConnectionField {
			continue
		}
		popts := []mcp.PropertyOption{mcp.Description(p.Description)}
		if p.Required {
			popts = append(popts, mcp.Required())
		}
		switch strings.ToLower(p.Type) {
		case "number", "integer":
			opts = append(opts, mcp.WithNumber(p.Name, popts...))
		case "boolean":
			opts = append(opts, mcp.WithBoolean(p.Name, popts...))
		case "object":
			opts = append(opts, mcp.WithObject(p.Name, popts...))
		case "array":
			opts = append(opts, mcp.WithArray(p.Name, popts...))
		default:
			opts = append(opts, mcp.WithString(p.Name, popts...))
		}
	}
	return mcp.NewTool(t.Name, opts...)
}

func (m *MCPServer) toolHandler(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sid, err := request.RequireString(SessionArg)
		if err != nil || strings.TrimSpace(sid) == "" {
			return mcp.NewToolResultError(SessionArg + " argument is required"), nil
		}
		args := maps.Clone(request.GetArguments())
		if args == nil {
			args = map[string]any{}
		}
		delete(args, SessionArg)
		delete(args, ConnectionField)

		out, err := m.exec.Execute(ctx, Call{
			TenantID:  middleware.TenantFrom(ctx).ID,
			SessionID: sid,
			Tool:      name,
			Args:      args,
			ActorSub:  middleware.ActorSub(ctx),
			RequestID: middleware.RequestIDFrom(ctx),
		})
		if err != nil {
			return mcp.NewToolResultError(toolMessage(err)), nil
		}
		return mcp.NewToolResultText(string(out)), nil
	}
}

// toolMessage phrases an execution error for the model driving the tools.
func toolMessage(err error) string {
	var toolErr *ToolError
	switch {
	case errors.Is(err, ErrRefreshRequired):
		return "The Archer session has expired. Ask the user for their password and refresh the session, then retry."
	case errors.Is(err, ErrReauthenticate), errors.Is(err, session.ErrSessionNotFound):
		return "The Archer session is unknown. The user must authenticate again."
	case errors.Is(err, ErrUnknownTool), errors.Is(err, ErrInvalidArguments), errors.Is(err, ErrInsufficientScope):
		return err.Error()
	case errors.As(err, &toolErr):
		return toolErr.Error()
	}
	return "Tool execution failed."
}
