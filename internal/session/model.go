// Package session owns the lifecycle of brokered Archer sessions: creation
// after a successful login, validity checks, in-place refresh and logout.
package session

import (
	"errors"
	"time"

	"grcbridge/internal/archer"
)

var (
	// ErrSessionNotFound covers both unknown ids and ids owned by another
	// tenant; callers cannot tell the two apart.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExpired means the row exists but now >= ExpiresAt.
	ErrSessionExpired              = errors.New("session expired")
	ErrRefreshAuthenticationFailed = errors.New("session refresh: authentication failed")
)

// Session is one brokered Archer login. Token never leaves the process in
// client payloads.
type Session struct {
	ID         string    `json:"sessionId"`
	TenantID   string    `json:"tenantId"`
	Username   string    `json:"username"`
	InstanceID string    `json:"instanceId"`
	BaseURL    string    `json:"baseUrl"`
	UserDomain string    `json:"userDomainId,omitempty"`
	Token      string    `json:"-"`
	ExpiresAt  time.Time `json:"expiresAt"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// ValidAt reports whether the session may be used at now.
func (s *Session) ValidAt(now time.Time) bool { return now.Before(s.ExpiresAt) }

// Connection rebuilds the stored connection parameters, without a password.
func (s *Session) Connection() archer.ConnectionParameters {
	return archer.ConnectionParameters{
		TenantID:   s.TenantID,
		BaseURL:    s.BaseURL,
		InstanceID: s.InstanceID,
		Username:   s.Username,
		UserDomain: s.UserDomain,
	}
}

// RefreshError is returned when re-authentication inside a refresh fails on
// every protocol. It matches ErrRefreshAuthenticationFailed and, through
// Unwrap, archer.ErrAuthenticationFailed.
type RefreshError struct {
	Auth *archer.AuthError
}

func (e *RefreshError) Error() string {
	return "session refresh: " + e.Auth.Error()
}

func (e *RefreshError) Unwrap() error { return e.Auth }

func (e *RefreshError) Is(target error) bool { return target == ErrRefreshAuthenticationFailed }

// RefreshResult is the outcome of a successful refresh.
type RefreshResult struct {
	SessionID string
	ExpiresAt time.Time
	Protocol  archer.Protocol
}
