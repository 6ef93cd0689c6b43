package session

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"grcbridge/internal/archer"
	"grcbridge/pkg/secrets"
)

const redisKeyPrefix = "archer:session:"

// swapScript updates token, expiry and key lifetime in one step and only when
// the session still exists.
var swapScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
redis.call('HSET', KEYS[1], 'token', ARGV[1], 'expires_at', ARGV[2], 'updated_at', ARGV[3])
redis.call('PEXPIRE', KEYS[1], ARGV[4])
return 1
`)

// RedisStore keeps each session in a hash under
// archer:session:{tenant}:{id}. Keys outlive ExpiresAt by the retention
// window so expired sessions stay refreshable, then Redis drops them.
type RedisStore struct {
	rdb    *redis.Client
	sealer *secrets.Sealer
	opts   storeOptions
}

func NewRedisStore(rdb *redis.Client, sealer *secrets.Sealer, opts ...StoreOption) *RedisStore {
	return &RedisStore{rdb: rdb, sealer: sealer, opts: applyOptions(opts)}
}

func redisKey(tenantID, id string) string {
	return redisKeyPrefix + tenantID + ":" + id
}

func (r *RedisStore) keyTTL(expiresAt time.Time) time.Duration {
	d := expiresAt.Sub(r.opts.now()) + r.opts.retention
	if d < time.Second {
		d = time.Second
	}
	return d
}

func (r *RedisStore) Create(ctx context.Context, tenantID string, conn archer.ConnectionParameters, token string, ttl time.Duration) (*Session, error) {
	if tenantID == "" {
		return nil, errNoTenant
	}
	s := newSession(tenantID, conn, token, r.opts.now(), ttl)
	sealed, err := r.sealer.SealString(token)
	if err != nil {
		return nil, err
	}
	key := redisKey(tenantID, s.ID)
	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"tenant_id", s.TenantID,
			"username", s.Username,
			"instance_id", s.InstanceID,
			"base_url", s.BaseURL,
			"user_domain", s.UserDomain,
			"token", sealed,
			"expires_at", formatTime(s.ExpiresAt),
			"created_at", formatTime(s.CreatedAt),
			"updated_at", formatTime(s.UpdatedAt),
		)
		pipe.PExpire(ctx, key, r.keyTTL(s.ExpiresAt))
		return nil
	})
	r.opts.metrics.IncStoreOp("redis", "create", err)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (r *RedisStore) FetchValid(ctx context.Context, tenantID, id string) (*Session, error) {
	s, err := r.FetchForRefresh(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if !s.ValidAt(r.opts.now()) {
		return nil, ErrSessionExpired
	}
	return s, nil
}

// FetchForRefresh reads the whole hash with one HGETALL, which Redis serves
// atomically with respect to the swap script.
func (r *RedisStore) FetchForRefresh(ctx context.Context, tenantID, id string) (*Session, error) {
	if !validKey(tenantID, id) {
		return nil, ErrSessionNotFound
	}
	h, err := r.rdb.HGetAll(ctx, redisKey(tenantID, id)).Result()
	r.opts.metrics.IncStoreOp("redis", "fetch", err)
	if err != nil {
		return nil, err
	}
	if len(h) == 0 || h["tenant_id"] != tenantID {
		return nil, ErrSessionNotFound
	}
	s := &Session{
		ID:         id,
		TenantID:   h["tenant_id"],
		Username:   h["username"],
		InstanceID: h["instance_id"],
		BaseURL:    h["base_url"],
		UserDomain: h["user_domain"],
	}
	if s.ExpiresAt, err = parseTime(h["expires_at"]); err != nil {
		return nil, err
	}
	if !r.opts.retained(s) {
		return nil, ErrSessionNotFound
	}
	if s.CreatedAt, err = parseTime(h["created_at"]); err != nil {
		return nil, err
	}
	if s.UpdatedAt, err = parseTime(h["updated_at"]); err != nil {
		return nil, err
	}
	if s.Token, err = r.sealer.OpenString([]byte(h["token"])); err != nil {
		return nil, err
	}
	return s, nil
}

func (r *RedisStore) SwapToken(ctx context.Context, tenantID, id, token string, expiresAt time.Time) (bool, error) {
	if !validKey(tenantID, id) {
		return false, nil
	}
	sealed, err := r.sealer.SealString(token)
	if err != nil {
		return false, err
	}
	ttl := r.keyTTL(expiresAt)
	n, err := swapScript.Run(ctx, r.rdb, []string{redisKey(tenantID, id)},
		sealed, formatTime(expiresAt), formatTime(r.opts.now()), ttl.Milliseconds()).Int()
	r.opts.metrics.IncStoreOp("redis", "swap", err)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *RedisStore) Delete(ctx context.Context, tenantID, id string) error {
	if !validKey(tenantID, id) {
		return nil
	}
	err := r.rdb.Del(ctx, redisKey(tenantID, id)).Err()
	r.opts.metrics.IncStoreOp("redis", "delete", err)
	return err
}

// DeleteExpired is a no-op: key TTLs already bound how long rows linger.
func (r *RedisStore) DeleteExpired(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func formatTime(t time.Time) string {
	return strconv.FormatInt(t.UTC().UnixNano(), 10)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errors.New("session: missing timestamp")
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, n).UTC(), nil
}
