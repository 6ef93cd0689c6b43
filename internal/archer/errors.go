package archer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

var (
	// ErrAuthenticationFailed matches any *AuthError.
	ErrAuthenticationFailed = errors.New("archer: authentication failed")
	ErrInvalidParameters    = errors.New("archer: invalid connection parameters")
)

// ProtocolFailure is one failed login attempt. Message comes from a fixed
// vocabulary and is safe to show to callers; Err keeps the underlying cause,
// including any upstream text, for logs only.
type ProtocolFailure struct {
	Protocol   Protocol
	HTTPStatus int // 0 when no response was received
	Message    string
	Err        error
}

func (f *ProtocolFailure) Error() string {
	if f.HTTPStatus != 0 {
		return fmt.Sprintf("%s login failed (HTTP %d): %s", f.Protocol, f.HTTPStatus, f.Message)
	}
	return fmt.Sprintf("%s login failed: %s", f.Protocol, f.Message)
}

func (f *ProtocolFailure) Unwrap() error { return f.Err }

// AuthError aggregates the failures of every attempted protocol, in attempt
// order.
type AuthError struct {
	Failures []*ProtocolFailure
}

func (e *AuthError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, f.Error())
	}
	return "archer: authentication failed: " + strings.Join(parts, "; ")
}

func (e *AuthError) Is(target error) bool { return target == ErrAuthenticationFailed }

// Failure returns the failure recorded for p, or nil.
func (e *AuthError) Failure(p Protocol) *ProtocolFailure {
	for _, f := range e.Failures {
		if f.Protocol == p {
			return f
		}
	}
	return nil
}

const maxMessageLen = 200

// transportFailure classifies a client error without leaking addresses or
// TLS internals into Message.
func transportFailure(p Protocol, err error) *ProtocolFailure {
	msg := "connection failed"
	var nerr net.Error
	switch {
	case errors.Is(err, context.Canceled):
		msg = "request cancelled"
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &nerr) && nerr.Timeout():
		msg = "request timed out"
	case isTLSError(err):
		msg = "TLS handshake failed"
	}
	return &ProtocolFailure{Protocol: p, Message: msg, Err: err}
}

func isTLSError(err error) bool {
	s := err.Error()
	return strings.Contains(s, "tls:") || strings.Contains(s, "x509:")
}

// UpstreamMessage is the text Archer attached to a rejection. It travels in
// ProtocolFailure.Err for logs and is never shown to callers.
type UpstreamMessage string

func (m UpstreamMessage) Error() string { return "archer: upstream said: " + string(m) }

// rejectionReasons maps upstream wording onto the caller-safe vocabulary.
// First match wins.
var rejectionReasons = []struct {
	needles []string
	message string
}{
	{[]string{"locked", "disabled", "inactive"}, "account locked or disabled"},
	{[]string{"credential", "password", "invalid login", "login failed", "authenticat", "user name", "username"}, "invalid credentials"},
	{[]string{"instance"}, "unknown instance"},
	{[]string{"domain"}, "unknown user domain"},
}

// classify returns the fixed message for upstream text, or fallback when the
// text matches nothing known.
func classify(upstream, fallback string) string {
	lower := strings.ToLower(upstream)
	for _, r := range rejectionReasons {
		for _, n := range r.needles {
			if strings.Contains(lower, n) {
				return r.message
			}
		}
	}
	return fallback
}

// rejection builds the failure for an answer Archer gave but that carried no
// token. upstream is kept only as the log-side cause.
func rejection(p Protocol, status int, upstream, fallback string) *ProtocolFailure {
	f := &ProtocolFailure{Protocol: p, HTTPStatus: status, Message: classify(upstream, fallback)}
	if u := sanitize(upstream); u != "" {
		f.Err = UpstreamMessage(u)
	}
	return f
}

// sanitize collapses whitespace and bounds an upstream-supplied message on a
// rune boundary.
func sanitize(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= maxMessageLen {
		return s
	}
	cut := 0
	for i := range s {
		if i > maxMessageLen {
			break
		}
		cut = i
	}
	return s[:cut] + "..."
}
