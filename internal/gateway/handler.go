package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"grcbridge/pkg/middleware"
	"grcbridge/pkg/problems"
	"grcbridge/pkg/tools"
)

// Lister lists the tools a tenant can call. *tools.Registry satisfies it.
type Lister interface {
	List(ctx context.Context, tenantID string) ([]tools.Tool, error)
}

// Handler exposes tool listing and execution over plain HTTP.
type Handler struct {
	exec    *Executor
	catalog Lister
	log     *zap.SugaredLogger
}

func NewHandler(exec *Executor, catalog Lister, log *zap.SugaredLogger) *Handler {
	return &Handler{exec: exec, catalog: catalog, log: log}
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/v1/tools", h.list)
	r.Post("/v1/tools/{name}/call", h.call)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFrom(r.Context())
	ts, err := h.catalog.List(r.Context(), tenant.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": ts})
}

type callRequest struct {
	SessionID string         `json:"session_id"`
	Arguments map[string]any `json:"arguments"`
}

func (h *Handler) call(w http.ResponseWriter, r *http.Request) {
	var body callRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&body); err != nil {
		problems.Write(w, problems.New(http.StatusBadRequest, "invalid-body", "Invalid JSON body", ""))
		return
	}
	sid := strings.TrimSpace(body.SessionID)
	if sid == "" {
		sid = strings.TrimSpace(r.Header.Get("X-Archer-Session"))
	}
	if sid == "" {
		problems.Write(w, problems.New(http.StatusBadRequest, "missing-session", "session_id is required", ""))
		return
	}
	ctx := r.Context()
	out, err := h.exec.Execute(ctx, Call{
		TenantID:  middleware.TenantFrom(ctx).ID,
		SessionID: sid,
		Tool:      chi.URLParam(r, "name"),
		Args:      body.Arguments,
		ActorSub:  middleware.ActorSub(ctx),
		RequestID: middleware.RequestIDFrom(ctx),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": out})
}

// writeError maps gateway errors to problem responses. Upstream bodies are
// never echoed.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var toolErr *ToolError
	switch {
	case errors.Is(err, ErrRefreshRequired):
		problems.Write(w, problems.Problem{
			Type: problems.Type("session-expired"), Title: "Archer session expired", Status: http.StatusUnauthorized,
			Detail: "refresh the session with the user's password",
			Ext:    map[string]any{"refresh_required": true},
		})
	case errors.Is(err, ErrReauthenticate):
		problems.Write(w, problems.Problem{
			Type: problems.Type("session-not-found"), Title: "Archer session not found", Status: http.StatusUnauthorized,
			Detail: "authenticate again to obtain a new session",
			Ext:    map[string]any{"reauthenticate": true},
		})
	case errors.Is(err, ErrUnknownTool):
		problems.Write(w, problems.New(http.StatusNotFound, "unknown-tool", "Unknown tool", err.Error()))
	case errors.Is(err, ErrInvalidArguments):
		problems.Write(w, problems.New(http.StatusBadRequest, "invalid-arguments", "Invalid tool arguments", err.Error()))
	case errors.Is(err, ErrInsufficientScope):
		problems.Write(w, problems.New(http.StatusForbidden, "insufficient-scope", "Insufficient scope", err.Error()))
	case errors.As(err, &toolErr):
		problems.Write(w, problems.New(http.StatusBadGateway, "tool-failed", "Tool execution failed", toolErr.Error()))
	case errors.Is(err, ErrNoToolServer):
		problems.Write(w, problems.New(http.StatusServiceUnavailable, "no-tool-server", "Tool execution is not configured", ""))
	case errors.Is(err, context.DeadlineExceeded):
		problems.Write(w, problems.New(http.StatusGatewayTimeout, "tool-timeout", "Tool execution timed out", ""))
	default:
		h.log.Errorw("tool request failed", "path", r.URL.Path, "request_id", middleware.RequestIDFrom(r.Context()), "err", err)
		problems.Write(w, problems.New(http.StatusInternalServerError, "internal", "Internal error", ""))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
