package broker

import (
	"errors"
	"net/http"
	"strings"

	"grcbridge/internal/archer"
	"grcbridge/internal/session"
	"grcbridge/pkg/middleware"
	"grcbridge/pkg/problems"
)

// diagnostic is the caller-safe view of one failed login attempt.
type diagnostic struct {
	Protocol   string `json:"protocol"`
	HTTPStatus int    `json:"httpStatus,omitempty"`
	Message    string `json:"message"`
}

func diagnostics(ae *archer.AuthError) []diagnostic {
	out := make([]diagnostic, 0, len(ae.Failures))
	for _, f := range ae.Failures {
		out = append(out, diagnostic{Protocol: f.Protocol.String(), HTTPStatus: f.HTTPStatus, Message: f.Message})
	}
	return out
}

// writeError is the single place broker errors become HTTP responses.
// Upstream bodies and transport internals never reach the caller.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var authErr *archer.AuthError
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		problems.Write(w, problems.New(http.StatusNotFound, "session-not-found", "Archer session not found", ""))
	case errors.Is(err, session.ErrSessionExpired):
		problems.Write(w, problems.Problem{
			Type:   problems.Type("session-expired"),
			Title:  "Archer session expired",
			Status: http.StatusUnauthorized,
			Detail: "refresh the session with the user's password",
			Ext:    map[string]any{"refresh_required": true},
		})
	case errors.As(err, &authErr):
		title := "Archer authentication failed"
		slug := "authentication-failed"
		if errors.Is(err, session.ErrRefreshAuthenticationFailed) {
			title = "Archer session refresh failed"
			slug = "refresh-failed"
		}
		h.log.Infow("archer login rejected", "path", r.URL.Path, "tenant_id", middleware.TenantFrom(r.Context()).ID, "err", err)
		problems.Write(w, problems.Problem{
			Type:   problems.Type(slug),
			Title:  title,
			Status: http.StatusUnauthorized,
			Detail: "both REST and SOAP logins were rejected",
			Ext:    map[string]any{"attempts": diagnostics(authErr)},
		})
	case errors.Is(err, archer.ErrInvalidParameters):
		problems.Write(w, problems.New(http.StatusBadRequest, "invalid-parameters", "Invalid parameters",
			strings.TrimPrefix(err.Error(), "archer: ")))
	default:
		h.log.Errorw("broker request failed", "path", r.URL.Path, "request_id", middleware.RequestIDFrom(r.Context()), "err", err)
		problems.Write(w, problems.New(http.StatusInternalServerError, "internal", "Internal error", ""))
	}
}
