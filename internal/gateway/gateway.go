// Package gateway hands live Archer sessions to tool executions. Every call
// resolves its session afresh and carries its own connection context.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"grcbridge/internal/session"
)

var (
	// ErrReauthenticate: the session does not exist for this tenant. The
	// caller must log in again.
	ErrReauthenticate = errors.New("session unknown: authenticate again")
	// ErrRefreshRequired: the session exists but has expired. The caller
	// can refresh it with the password.
	ErrRefreshRequired = errors.New("session expired: refresh required")
)

// ConnectionField is the argument key the connection context is injected
// under.
const ConnectionField = "connection"

// ConnectionContext is the identity material one tool call needs.
type ConnectionContext struct {
	SessionToken string `json:"session_token"`
	BaseURL      string `json:"base_url"`
	Username     string `json:"username"`
	InstanceID   string `json:"instance_id"`
	UserDomain   string `json:"user_domain,omitempty"`
}

// SessionReader is the part of session.Store the gateway uses.
type SessionReader interface {
	FetchValid(ctx context.Context, tenantID, id string) (*session.Session, error)
}

type Gateway struct {
	sessions SessionReader
}

func New(sessions SessionReader) *Gateway {
	return &Gateway{sessions: sessions}
}

// Resolve looks the session up for tenantID. Unknown sessions wrap
// ErrReauthenticate and session.ErrSessionNotFound; expired ones wrap
// ErrRefreshRequired and session.ErrSessionExpired.
func (g *Gateway) Resolve(ctx context.Context, tenantID, sessionID string) (ConnectionContext, error) {
	s, err := g.sessions.FetchValid(ctx, tenantID, sessionID)
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return ConnectionContext{}, fmt.Errorf("%w: %w", ErrReauthenticate, err)
	case errors.Is(err, session.ErrSessionExpired):
		return ConnectionContext{}, fmt.Errorf("%w: %w", ErrRefreshRequired, err)
	case err != nil:
		return ConnectionContext{}, err
	}
	if s.Token == "" {
		return ConnectionContext{}, fmt.Errorf("%w: session has no token", ErrReauthenticate)
	}
	return ConnectionContext{
		SessionToken: s.Token,
		BaseURL:      s.BaseURL,
		Username:     s.Username,
		InstanceID:   s.InstanceID,
		UserDomain:   s.UserDomain,
	}, nil
}

// Inject returns a copy of args with cc under ConnectionField. args is not
// modified, and any caller-supplied connection value is replaced.
func Inject(args map[string]any, cc ConnectionContext) map[string]any {
	out := make(map[string]any, len(args)+1)
	maps.Copy(out, args)
	out[ConnectionField] = map[string]any{
		"session_token": cc.SessionToken,
		"base_url":      cc.BaseURL,
		"username":      cc.Username,
		"instance_id":   cc.InstanceID,
		"user_domain":   cc.UserDomain,
	}
	return out
}
