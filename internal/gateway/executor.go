package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"grcbridge/internal/metrics"
	"grcbridge/pkg/middleware"
	"grcbridge/pkg/tools"
)

var (
	ErrUnknownTool       = errors.New("unknown tool")
	ErrInvalidArguments  = errors.New("invalid tool arguments")
	ErrNoToolServer      = errors.New("no tool server configured")
	ErrInsufficientScope = errors.New("caller token lacks the tool's scope")
)

const maxToolResponseBytes = 4 << 20

// ToolError is a non-success answer from the tool server.
type ToolError struct {
	Tool   string
	Status int
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s failed: tool server returned HTTP %d", e.Tool, e.Status)
}

// Catalog resolves tool definitions per tenant. *tools.Registry satisfies it.
type Catalog interface {
	Lookup(ctx context.Context, tenantID, name string) (tools.Tool, bool, error)
}

// Call is one tool invocation on behalf of a session.
type Call struct {
	TenantID  string
	SessionID string
	Tool      string
	Args      map[string]any
	ActorSub  string
	RequestID string
}

// Executor forwards tool calls to the tool server with the session's
// connection context injected, and records a usage event per call.
type Executor struct {
	gw        *Gateway
	catalog   Catalog
	client    *http.Client
	serverURL string
	pool      *pgxpool.Pool
	log       *zap.SugaredLogger
	metrics   *metrics.Metrics
}

func NewExecutor(gw *Gateway, catalog Catalog, client *http.Client, serverURL string, pool *pgxpool.Pool, log *zap.SugaredLogger, m *metrics.Metrics) *Executor {
	return &Executor{
		gw:        gw,
		catalog:   catalog,
		client:    client,
		serverURL: strings.TrimRight(serverURL, "/"),
		pool:      pool,
		log:       log,
		metrics:   m,
	}
}

// Execute validates the call, resolves the session and forwards the
// injected arguments. The tool server's JSON answer is returned as-is.
func (e *Executor) Execute(ctx context.Context, c Call) (json.RawMessage, error) {
	start := time.Now()
	out, status, err := e.execute(ctx, c)
	result := "ok"
	switch {
	case errors.Is(err, ErrRefreshRequired):
		result = "session_expired"
	case errors.Is(err, ErrReauthenticate):
		result = "session_unknown"
	case errors.Is(err, ErrUnknownTool), errors.Is(err, ErrInvalidArguments), errors.Is(err, ErrInsufficientScope):
		result = "rejected"
	case err != nil:
		result = "error"
	}
	e.metrics.ObserveToolCall(c.Tool, result, start)
	e.recordUsage(ctx, c, status, result, start)
	if err != nil {
		e.log.Warnw("tool call failed", "tenant_id", c.TenantID, "session_id", c.SessionID, "tool", c.Tool, "result", result, "err", err)
		return nil, err
	}
	e.log.Infow("tool call", "tenant_id", c.TenantID, "session_id", c.SessionID, "tool", c.Tool, "status", status, "duration_ms", time.Since(start).Milliseconds())
	return out, nil
}

func (e *Executor) execute(ctx context.Context, c Call) (json.RawMessage, int, error) {
	tool, ok, err := e.catalog.Lookup(ctx, c.TenantID, c.Tool)
	if err != nil {
		return nil, 0, err
	}
	if !ok {
		return nil, 0, fmt.Errorf("%w: %s", ErrUnknownTool, c.Tool)
	}
	if !middleware.HasAnyScope(ctx, tool.Scopes) {
		return nil, 0, fmt.Errorf("%w: %s", ErrInsufficientScope, strings.Join(tool.Scopes, " "))
	}
	if err := tool.CheckArgs(c.Args); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	cc, err := e.gw.Resolve(ctx, c.TenantID, c.SessionID)
	if err != nil {
		return nil, 0, err
	}
	endpoint := tool.Endpoint
	if endpoint == "" {
		if e.serverURL == "" {
			return nil, 0, ErrNoToolServer
		}
		endpoint = e.serverURL + "/tools/" + url.PathEscape(tool.Name)
	}

	body, err := json.Marshal(Inject(c.Args, cc))
	if err != nil {
		return nil, 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Tenant-ID", c.TenantID)
	if c.RequestID != "" {
		req.Header.Set("X-Request-Id", c.RequestID)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("tool %s: %w", tool.Name, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxToolResponseBytes))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("tool %s: read response: %w", tool.Name, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, resp.StatusCode, &ToolError{Tool: tool.Name, Status: resp.StatusCode}
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return json.RawMessage(`null`), resp.StatusCode, nil
	}
	if !json.Valid(raw) {
		// plain-text answers are wrapped as a JSON string
		quoted, _ := json.Marshal(string(raw))
		return quoted, resp.StatusCode, nil
	}
	return raw, resp.StatusCode, nil
}

func (e *Executor) recordUsage(ctx context.Context, c Call, status int, result string, start time.Time) {
	if e.pool == nil || c.TenantID == "" {
		return
	}
	_, err := e.pool.Exec(context.WithoutCancel(ctx), `
		INSERT INTO usage_events(tenant_id, tool, session_id, actor_sub, request_id, status_code, result, duration_ms, started_at, finished_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		c.TenantID, c.Tool, c.SessionID, c.ActorSub, c.RequestID, status, result,
		int(time.Since(start).Milliseconds()), start.UTC(), time.Now().UTC())
	if err != nil {
		e.log.Warnw("usage event insert failed", "tenant_id", c.TenantID, "tool", c.Tool, "err", err)
	}
}

// EnsureUsageSchema creates usage_events if missing.
func EnsureUsageSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS usage_events (
  id bigserial PRIMARY KEY,
  tenant_id text NOT NULL,
  tool text NOT NULL,
  session_id text,
  actor_sub text,
  request_id text,
  status_code int,
  result text NOT NULL,
  duration_ms int,
  started_at timestamptz NOT NULL,
  finished_at timestamptz NOT NULL
);
CREATE INDEX IF NOT EXISTS usage_events_tenant_idx ON usage_events(tenant_id, started_at);
`)
	return err
}
