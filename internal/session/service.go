package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"grcbridge/internal/archer"
	"grcbridge/internal/metrics"
	"grcbridge/pkg/logger"
)

// DefaultTTL is how long an Archer session is brokered after login.
const DefaultTTL = 20 * time.Minute

// Service is the session lifecycle used by the HTTP layer: login, check,
// refresh and logout.
type Service struct {
	store     Store
	auth      Authenticator
	refresher *Refresher
	ttl       time.Duration
	log       *zap.SugaredLogger
}

type ServiceOption func(*Service)

// WithServiceClock overrides time.Now for the refresher's expiry window.
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.refresher.now = now }
}

func NewService(store Store, auth Authenticator, ttl time.Duration, log *zap.SugaredLogger, m *metrics.Metrics, opts ...ServiceOption) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s := &Service{
		store:     store,
		auth:      auth,
		refresher: NewRefresher(store, auth, ttl, log, m),
		ttl:       ttl,
		log:       log,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Login authenticates against Archer and stores a new session. Each call
// yields a new session id, even for a connection that already has one.
func (s *Service) Login(ctx context.Context, conn archer.ConnectionParameters) (*Session, archer.Protocol, error) {
	res, err := s.auth.Authenticate(ctx, conn)
	if err != nil {
		return nil, 0, err
	}
	sess, err := s.store.Create(ctx, conn.TenantID, conn, res.Token, s.ttl)
	if err != nil {
		return nil, 0, err
	}
	s.log.Infow("session created", "tenant_id", sess.TenantID, "session_id", sess.ID,
		"username", sess.Username, "instance", sess.InstanceID, "protocol", res.Protocol,
		"token_fp", logger.Fingerprint(sess.Token), "expires_at", sess.ExpiresAt)
	return sess, res.Protocol, nil
}

func (s *Service) Check(ctx context.Context, tenantID, id string) (*Session, error) {
	return s.store.FetchValid(ctx, tenantID, id)
}

func (s *Service) Refresh(ctx context.Context, tenantID, id string, password archer.Password) (RefreshResult, error) {
	return s.refresher.Refresh(ctx, tenantID, id, password)
}

func (s *Service) Logout(ctx context.Context, tenantID, id string) error {
	if err := s.store.Delete(ctx, tenantID, id); err != nil {
		return err
	}
	s.log.Infow("session deleted", "tenant_id", tenantID, "session_id", id)
	return nil
}
