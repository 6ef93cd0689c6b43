package app

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"grcbridge/pkg/config"
)

func newMemoryApp(t *testing.T, toolServerURL string) *App {
	t.Helper()
	t.Setenv("TENANT_SEED_JSON", "")
	cfg := config.Config{
		Env:              "dev",
		SessionStore:     "memory",
		SessionTTL:       20 * time.Minute,
		SessionRetention: time.Hour,
		ArcherTimeout:    5 * time.Second,
		ToolServerURL:    toolServerURL,
	}
	a := New(cfg, zap.NewNop().Sugar())
	t.Cleanup(a.Close)
	return a
}

func newArcher(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"IsSuccessful":true,"RequestedObject":{"SessionToken":"TOK-1"}}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func send(t *testing.T, method, url, mcpSession, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	if mcpSession != "" {
		req.Header.Set("Mcp-Session-Id", mcpSession)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp, out
}

func TestMCPHandler_SessionsCreatedOnSameListener(t *testing.T) {
	var token atomic.Value
	toolSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if conn, ok := body["connection"].(map[string]any); ok {
			token.Store(conn["session_token"])
		}
		_, _ = io.WriteString(w, `{"applications":["Risks"]}`)
	}))
	t.Cleanup(toolSrv.Close)
	archerSrv := newArcher(t)

	a := newMemoryApp(t, toolSrv.URL)
	srv := httptest.NewServer(a.MCPHandler())
	t.Cleanup(srv.Close)

	login := fmt.Sprintf(`{"baseUrl":%q,"username":"alice","password":"pw","instanceId":"PROD"}`, archerSrv.URL)
	resp, out := send(t, http.MethodPost, srv.URL+"/v1/archer/sessions", "", login)
	require.Equal(t, http.StatusCreated, resp.StatusCode, "%v", out)
	sessionID, _ := out["sessionId"].(string)
	require.NotEmpty(t, sessionID)

	resp, _ = send(t, http.MethodPost, srv.URL+"/mcp", "",
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"test","version":"0"}}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	mcpSession := resp.Header.Get("Mcp-Session-Id")

	call := `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"archer_list_applications","arguments":{"session_id":"` + sessionID + `"}}}`
	resp, out = send(t, http.MethodPost, srv.URL+"/mcp", mcpSession, call)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	result, ok := out["result"].(map[string]any)
	require.True(t, ok, "%v", out)
	assert.NotEqual(t, true, result["isError"], "%v", result)
	assert.Equal(t, "TOK-1", token.Load())
}

func TestBrokerHandler_Routes(t *testing.T) {
	a := newMemoryApp(t, "")
	srv := httptest.NewServer(a.BrokerHandler())
	t.Cleanup(srv.Close)

	resp, _ := send(t, http.MethodGet, srv.URL+"/healthz", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, doc := send(t, http.MethodGet, srv.URL+"/.well-known/openapi.json", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, doc["paths"], "/v1/archer/sessions")

	resp, _ = send(t, http.MethodGet, srv.URL+"/v1/archer/sessions/00000000-0000-0000-0000-000000000000", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
