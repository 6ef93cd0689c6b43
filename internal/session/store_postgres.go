package session

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"grcbridge/internal/archer"
	"grcbridge/pkg/db"
	"grcbridge/pkg/secrets"
)

// PostgresStore keeps sessions in archer_sessions. Tokens are sealed with
// the configured secrets.Sealer before they are written.
type PostgresStore struct {
	pool   *pgxpool.Pool
	sealer *secrets.Sealer
	opts   storeOptions
}

func NewPostgresStore(pool *pgxpool.Pool, sealer *secrets.Sealer, opts ...StoreOption) *PostgresStore {
	return &PostgresStore{pool: pool, sealer: sealer, opts: applyOptions(opts)}
}

// EnsureSchema creates archer_sessions if missing. Safe to call repeatedly.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS archer_sessions (
  id uuid PRIMARY KEY,
  tenant_id text NOT NULL,
  username text NOT NULL,
  instance_id text NOT NULL,
  base_url text NOT NULL,
  user_domain text NOT NULL DEFAULT '',
  token bytea NOT NULL,
  expires_at timestamptz NOT NULL,
  created_at timestamptz NOT NULL DEFAULT NOW(),
  updated_at timestamptz NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS archer_sessions_tenant_idx ON archer_sessions(tenant_id, id);
CREATE INDEX IF NOT EXISTS archer_sessions_expires_idx ON archer_sessions(expires_at);
`)
	return err
}

func (p *PostgresStore) Create(ctx context.Context, tenantID string, conn archer.ConnectionParameters, token string, ttl time.Duration) (*Session, error) {
	if tenantID == "" {
		return nil, errNoTenant
	}
	s := newSession(tenantID, conn, token, p.opts.now(), ttl)
	sealed, err := p.sealer.SealString(token)
	if err != nil {
		return nil, err
	}
	err = db.WithTenantTx(ctx, p.pool, tenantID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `INSERT INTO archer_sessions(id, tenant_id, username, instance_id, base_url, user_domain, token, expires_at, created_at, updated_at)
		  VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
			s.ID, s.TenantID, s.Username, s.InstanceID, s.BaseURL, s.UserDomain, sealed, s.ExpiresAt, s.CreatedAt, s.UpdatedAt)
		return err
	})
	p.opts.metrics.IncStoreOp("postgres", "create", err)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (p *PostgresStore) FetchValid(ctx context.Context, tenantID, id string) (*Session, error) {
	s, err := p.FetchForRefresh(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if !s.ValidAt(p.opts.now()) {
		return nil, ErrSessionExpired
	}
	return s, nil
}

func (p *PostgresStore) FetchForRefresh(ctx context.Context, tenantID, id string) (*Session, error) {
	if !validKey(tenantID, id) {
		return nil, ErrSessionNotFound
	}
	var (
		s      Session
		sealed []byte
	)
	err := db.WithTenantTx(ctx, p.pool, tenantID, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, `SELECT id::text, tenant_id, username, instance_id, base_url, user_domain, token, expires_at, created_at, updated_at
		  FROM archer_sessions WHERE tenant_id=$1 AND id=$2`, tenantID, id).
			Scan(&s.ID, &s.TenantID, &s.Username, &s.InstanceID, &s.BaseURL, &s.UserDomain, &sealed, &s.ExpiresAt, &s.CreatedAt, &s.UpdatedAt)
	})
	p.opts.metrics.IncStoreOp("postgres", "fetch", ignoreNoRows(err))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	if !p.opts.retained(&s) {
		return nil, ErrSessionNotFound
	}
	if s.Token, err = p.sealer.OpenString(sealed); err != nil {
		return nil, err
	}
	return &s, nil
}

// SwapToken is one UPDATE, so readers see the old or the new pair.
func (p *PostgresStore) SwapToken(ctx context.Context, tenantID, id, token string, expiresAt time.Time) (bool, error) {
	if !validKey(tenantID, id) {
		return false, nil
	}
	sealed, err := p.sealer.SealString(token)
	if err != nil {
		return false, err
	}
	var n int64
	err = db.WithTenantTx(ctx, p.pool, tenantID, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE archer_sessions SET token=$3, expires_at=$4, updated_at=$5 WHERE tenant_id=$1 AND id=$2`,
			tenantID, id, sealed, expiresAt.UTC(), p.opts.now().UTC())
		n = tag.RowsAffected()
		return err
	})
	p.opts.metrics.IncStoreOp("postgres", "swap", err)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (p *PostgresStore) Delete(ctx context.Context, tenantID, id string) error {
	if !validKey(tenantID, id) {
		return nil
	}
	err := db.WithTenantTx(ctx, p.pool, tenantID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `DELETE FROM archer_sessions WHERE tenant_id=$1 AND id=$2`, tenantID, id)
		return err
	})
	p.opts.metrics.IncStoreOp("postgres", "delete", err)
	return err
}

func (p *PostgresStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM archer_sessions WHERE expires_at < $1`, before.UTC())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func ignoreNoRows(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	return err
}
