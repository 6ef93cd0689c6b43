package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"grcbridge/internal/archer"
	"grcbridge/internal/metrics"
)

// Store persists sessions. Every operation is scoped by tenant id and
// session id; an id never resolves under another tenant.
type Store interface {
	// Create persists a new session with a fresh random id, expiring ttl
	// from now.
	Create(ctx context.Context, tenantID string, conn archer.ConnectionParameters, token string, ttl time.Duration) (*Session, error)
	// FetchValid returns the session, ErrSessionNotFound or ErrSessionExpired.
	FetchValid(ctx context.Context, tenantID, id string) (*Session, error)
	// FetchForRefresh returns the session whether or not it has expired.
	FetchForRefresh(ctx context.Context, tenantID, id string) (*Session, error)
	// SwapToken replaces token and expiry together. It reports false when the
	// session no longer exists.
	SwapToken(ctx context.Context, tenantID, id, token string, expiresAt time.Time) (bool, error)
	// Delete is idempotent.
	Delete(ctx context.Context, tenantID, id string) error
	// DeleteExpired removes sessions that expired before the cutoff, across
	// tenants, and returns how many were removed.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

type storeOptions struct {
	now       func() time.Time
	metrics   *metrics.Metrics
	retention time.Duration
}

type StoreOption func(*storeOptions)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) StoreOption {
	return func(o *storeOptions) { o.now = now }
}

func WithStoreMetrics(m *metrics.Metrics) StoreOption {
	return func(o *storeOptions) { o.metrics = m }
}

// WithRetention keeps expired sessions refreshable for d. Past that a session
// reads as not found whether or not the sweeper has deleted it yet.
func WithRetention(d time.Duration) StoreOption {
	return func(o *storeOptions) { o.retention = d }
}

// retained reports whether s is still inside its refresh window.
func (o storeOptions) retained(s *Session) bool {
	return o.now().Before(s.ExpiresAt.Add(o.retention))
}

func applyOptions(opts []StoreOption) storeOptions {
	o := storeOptions{now: time.Now, retention: 24 * time.Hour}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

var errNoTenant = errors.New("session: tenant id is required")

// validKey rejects keys that could never have been issued, so they resolve to
// ErrSessionNotFound without touching storage.
func validKey(tenantID, id string) bool {
	if tenantID == "" {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}

func newSession(tenantID string, conn archer.ConnectionParameters, token string, now time.Time, ttl time.Duration) *Session {
	now = now.UTC()
	return &Session{
		ID:         uuid.NewString(),
		TenantID:   tenantID,
		Username:   conn.Username,
		InstanceID: conn.InstanceID,
		BaseURL:    conn.BaseURL,
		UserDomain: conn.UserDomain,
		Token:      token,
		ExpiresAt:  now.Add(ttl),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}
