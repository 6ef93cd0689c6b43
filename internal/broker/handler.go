// Package broker is the HTTP surface of the Archer session broker.
package broker

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"grcbridge/internal/archer"
	"grcbridge/internal/session"
	"grcbridge/pkg/middleware"
	"grcbridge/pkg/problems"
)

const maxBodyBytes = 64 << 10

// Handler serves /v1/archer/sessions.
type Handler struct {
	svc           *session.Service
	defaultDomain string
	log           *zap.SugaredLogger
}

// NewHandler builds the handler. defaultDomain is used when neither the
// caller nor the tenant names an Archer user domain.
func NewHandler(svc *session.Service, defaultDomain string, log *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, defaultDomain: defaultDomain, log: log}
}

func (h *Handler) Routes(r chi.Router) {
	r.Route("/v1/archer/sessions", func(sr chi.Router) {
		sr.Post("/", h.create)
		sr.Get("/{id}", h.get)
		sr.Post("/{id}/refresh", h.refresh)
		sr.Delete("/{id}", h.delete)
	})
}

type createRequest struct {
	BaseURL      string          `json:"baseUrl"`
	Username     string          `json:"username"`
	Password     archer.Password `json:"password"`
	InstanceID   string          `json:"instanceId"`
	UserDomainID string          `json:"userDomainId"`
}

type userInfo struct {
	Username   string `json:"username"`
	InstanceID string `json:"instanceId"`
	BaseURL    string `json:"baseUrl"`
}

type sessionResponse struct {
	SessionID  string    `json:"sessionId"`
	ExpiresAt  time.Time `json:"expiresAt"`
	AuthMethod string    `json:"authMethod,omitempty"`
	UserInfo   *userInfo `json:"userInfo,omitempty"`
}

func infoOf(s *session.Session) *userInfo {
	return &userInfo{Username: s.Username, InstanceID: s.InstanceID, BaseURL: s.BaseURL}
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var body createRequest
	if !decode(w, r, &body) {
		return
	}
	tenant := middleware.TenantFrom(r.Context())
	conn := archer.ConnectionParameters{
		TenantID:   tenant.ID,
		BaseURL:    strings.TrimSpace(body.BaseURL),
		InstanceID: strings.TrimSpace(body.InstanceID),
		Username:   strings.TrimSpace(body.Username),
		UserDomain: tenant.UserDomainOr(body.UserDomainID),
		Password:   body.Password,
	}
	if conn.UserDomain == "" {
		conn.UserDomain = h.defaultDomain
	}
	if err := conn.Validate(); err != nil {
		h.writeError(w, r, err)
		return
	}
	if !tenant.AllowsArcherURL(conn.BaseURL) {
		problems.Write(w, problems.New(http.StatusBadRequest, "archer-host-not-allowed",
			"Archer host not allowed", "baseUrl is not an Archer host configured for this tenant"))
		return
	}

	sess, proto, err := h.svc.Login(r.Context(), conn)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse{
		SessionID:  sess.ID,
		ExpiresAt:  sess.ExpiresAt,
		AuthMethod: proto.String(),
		UserInfo:   infoOf(sess),
	})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	sess, err := h.svc.Check(r.Context(), middleware.TenantFrom(r.Context()).ID, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{SessionID: sess.ID, ExpiresAt: sess.ExpiresAt, UserInfo: infoOf(sess)})
}

type refreshRequest struct {
	Password archer.Password `json:"password"`
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	var body refreshRequest
	if !decode(w, r, &body) {
		return
	}
	if body.Password.Reveal() == "" {
		problems.Write(w, problems.New(http.StatusBadRequest, "invalid-parameters", "Invalid parameters", "password is required"))
		return
	}
	res, err := h.svc.Refresh(r.Context(), middleware.TenantFrom(r.Context()).ID, chi.URLParam(r, "id"), body.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		SessionID:  res.SessionID,
		ExpiresAt:  res.ExpiresAt,
		AuthMethod: res.Protocol.String(),
	})
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Logout(r.Context(), middleware.TenantFrom(r.Context()).ID, chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		problems.Write(w, problems.New(http.StatusBadRequest, "invalid-body", "Invalid JSON body", ""))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
