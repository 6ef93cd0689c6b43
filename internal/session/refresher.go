package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"grcbridge/internal/archer"
	"grcbridge/internal/metrics"
	"grcbridge/pkg/logger"
)

// Authenticator is the login capability the session layer needs.
// *archer.Authenticator satisfies it.
type Authenticator interface {
	Authenticate(ctx context.Context, p archer.ConnectionParameters) (archer.Result, error)
}

// Refresher re-authenticates an existing session with a newly supplied
// password and swaps its token in place. Refreshes of one session run one at
// a time; different sessions proceed in parallel.
type Refresher struct {
	store   Store
	auth    Authenticator
	ttl     time.Duration
	now     func() time.Time
	locks   *keyedLocks
	log     *zap.SugaredLogger
	metrics *metrics.Metrics
}

func NewRefresher(store Store, auth Authenticator, ttl time.Duration, log *zap.SugaredLogger, m *metrics.Metrics) *Refresher {
	return &Refresher{store: store, auth: auth, ttl: ttl, now: time.Now, locks: newKeyedLocks(), log: log, metrics: m}
}

// Refresh returns ErrSessionNotFound when the session is gone (before or
// during the refresh) and a *RefreshError when Archer rejects every login
// protocol. On any failure the stored session is left as it was.
func (r *Refresher) Refresh(ctx context.Context, tenantID, id string, password archer.Password) (RefreshResult, error) {
	unlock, err := r.locks.lock(ctx, tenantID+"/"+id)
	if err != nil {
		return RefreshResult{}, err
	}
	defer unlock()

	s, err := r.store.FetchForRefresh(ctx, tenantID, id)
	if err != nil {
		r.metrics.IncRefresh("not_found")
		return RefreshResult{}, err
	}
	res, err := r.auth.Authenticate(ctx, s.Connection().WithPassword(password))
	if err != nil {
		var authErr *archer.AuthError
		if errors.As(err, &authErr) {
			r.metrics.IncRefresh("auth_failed")
			r.log.Warnw("session refresh rejected", "tenant_id", tenantID, "session_id", id, "err", err)
			return RefreshResult{}, &RefreshError{Auth: authErr}
		}
		r.metrics.IncRefresh("error")
		return RefreshResult{}, fmt.Errorf("session refresh: %w", err)
	}

	expiresAt := r.now().UTC().Add(r.ttl)
	ok, err := r.store.SwapToken(ctx, tenantID, id, res.Token, expiresAt)
	if err != nil {
		r.metrics.IncRefresh("error")
		return RefreshResult{}, fmt.Errorf("session refresh: swap token: %w", err)
	}
	if !ok {
		r.metrics.IncRefresh("not_found")
		return RefreshResult{}, ErrSessionNotFound
	}
	r.metrics.IncRefresh("success")
	r.log.Infow("session refreshed", "tenant_id", tenantID, "session_id", id,
		"protocol", res.Protocol, "token_fp", logger.Fingerprint(res.Token), "expires_at", expiresAt)
	return RefreshResult{SessionID: id, ExpiresAt: expiresAt, Protocol: res.Protocol}, nil
}
