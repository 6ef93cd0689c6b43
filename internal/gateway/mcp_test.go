package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"grcbridge/internal/session"
	"grcbridge/pkg/config"
	"grcbridge/pkg/middleware"
	"grcbridge/pkg/tenants"
	"grcbridge/pkg/tools"
)

func mcpCall(name string, args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func TestToMCPTool_Schema(t *testing.T) {
	tool := toMCPTool(tools.Builtins()[2])

	assert.Equal(t, "archer_search_records", tool.Name)
	assert.Contains(t, tool.InputSchema.Required, SessionArg)
	assert.Contains(t, tool.InputSchema.Required, "application")
	assert.NotContains(t, tool.InputSchema.Properties, ConnectionField)
	assert.Contains(t, tool.InputSchema.Properties, "filter")
}

func TestMCPToolHandler(t *testing.T) {
	st, clock, s := seeded(t)
	srv := newToolServer(t, http.StatusOK, `{"applications":["Risks"]}`)
	m := NewMCPServer(newExecutor(st, srv.URL), tools.Builtins(), "test", zap.NewNop().Sugar())
	handle := m.toolHandler("archer_list_applications")
	ctx := middleware.ContextWithTenant(context.Background(), tenants.Tenant{ID: "T1"})

	res, err := handle(ctx, mcpCall("archer_list_applications", map[string]any{
		SessionArg:      s.ID,
		ConnectionField: map[string]any{"session_token": "forged"},
	}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.JSONEq(t, `{"applications":["Risks"]}`, resultText(t, res))
	assert.NotContains(t, srv.lastBody, SessionArg)
	assert.Equal(t, "tok-live", srv.lastBody[ConnectionField].(map[string]any)["session_token"])

	res, err = handle(ctx, mcpCall("archer_list_applications", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	other := middleware.ContextWithTenant(context.Background(), tenants.Tenant{ID: "T2"})
	res, err = handle(other, mcpCall("archer_list_applications", map[string]any{SessionArg: s.ID}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "authenticate again")

	clock.now = clock.now.Add(session.DefaultTTL)
	res, err = handle(ctx, mcpCall("archer_list_applications", map[string]any{SessionArg: s.ID}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "refresh the session")
}

func postJSONRPC(t *testing.T, url, sessionID, reqID, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	req.Header.Set("X-Tenant-ID", "T1")
	if sessionID != "" {
		req.Header.Set("Mcp-Session-Id", sessionID)
	}
	if reqID != "" {
		req.Header.Set("X-Request-Id", reqID)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestMCPHandler_DevCallerOverHTTP(t *testing.T) {
	st, _, s := seeded(t)
	toolSrv := newToolServer(t, http.StatusOK, `{"applications":["Risks"]}`)
	log := zap.NewNop().Sugar()
	m := NewMCPServer(newExecutor(st, toolSrv.URL), tools.Builtins(), "test", log)

	r := chi.NewRouter()
	r.Use(middleware.RequestID())
	r.Use(middleware.WithTenant(tenants.NewMemoryProvider(log, tenants.Tenant{ID: "T1", Host: "t1.grc.test"})))
	r.Use(middleware.JWTAuth(config.Config{Env: "dev"}))
	r.Handle("/mcp", m.Handler())
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	resp, _ := postJSONRPC(t, srv.URL+"/mcp", "", "", `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"test","version":"0"}}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	mcpSession := resp.Header.Get("Mcp-Session-Id")

	call := `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"archer_list_applications","arguments":{"session_id":"` + s.ID + `"}}}`
	resp, out := postJSONRPC(t, srv.URL+"/mcp", mcpSession, "mcp-req-7", call)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	result, ok := out["result"].(map[string]any)
	require.True(t, ok, "%v", out)
	assert.NotEqual(t, true, result["isError"], "%v", result)
	assert.Equal(t, "/tools/archer_list_applications", toolSrv.lastPath)
	assert.Equal(t, "mcp-req-7", toolSrv.lastHdr.Get("X-Request-Id"))
	assert.Equal(t, "T1", toolSrv.lastHdr.Get("X-Tenant-ID"))
}
