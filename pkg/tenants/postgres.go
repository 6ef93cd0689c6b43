// pkg/tenants/postgres.go
package tenants

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// pgProvider implements Provider backed by PostgreSQL.
type pgProvider struct {
	dbPool *pgxpool.Pool      // Connection pool to PostgreSQL
	log    *zap.SugaredLogger // Logger for diagnostic output
}

// NewPostgresProvider constructs a PostgreSQL-backed tenant provider.
func NewPostgresProvider(dbPool *pgxpool.Pool, log *zap.SugaredLogger) Provider {
	return &pgProvider{dbPool: dbPool, log: log}
}

// EnsureSchema creates the tenants table if it does not already exist.
// Safe to call repeatedly (idempotent).
func EnsureSchema(ctx context.Context, dbPool *pgxpool.Pool) error {
	_, err := dbPool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS tenants (
  id uuid PRIMARY KEY,
  slug text UNIQUE,
  host text UNIQUE,
  oauth_issuer text,
  jwks_url text,
  accepted_audiences text[] DEFAULT '{}',
  created_at timestamptz NOT NULL DEFAULT NOW(),
  updated_at timestamptz NOT NULL DEFAULT NOW()
);
-- Archer defaults (may be added after initial versions)
ALTER TABLE tenants ADD COLUMN IF NOT EXISTS default_user_domain text;
ALTER TABLE tenants ADD COLUMN IF NOT EXISTS archer_hosts text[] DEFAULT '{}';
`)
	return err
}

// SeedFromEnv upserts tenants from TENANT_SEED_JSON:
// [
//
//	{"id":"...","slug":"...","host":"...","oauth_issuer":"...","jwks_url":"...",
//	 "default_user_domain":"...","archer_hosts":["grc.acme.com"]}
//
// ]
func SeedFromEnv(ctx context.Context, dbPool *pgxpool.Pool, jsonSeed string) error {
	if jsonSeed == "" {
		return nil
	}
	var entries []seedEntry
	if err := json.Unmarshal([]byte(jsonSeed), &entries); err != nil {
		return err
	}
	for _, e := range entries {
		if _, err := dbPool.Exec(ctx, `INSERT INTO tenants(id,slug,host,oauth_issuer,jwks_url,default_user_domain,archer_hosts)
		  VALUES ($1,$2,$3,$4,$5,$6,$7)
		  ON CONFLICT (id) DO UPDATE SET slug=EXCLUDED.slug,host=EXCLUDED.host,oauth_issuer=EXCLUDED.oauth_issuer,
		    jwks_url=EXCLUDED.jwks_url,default_user_domain=EXCLUDED.default_user_domain,archer_hosts=EXCLUDED.archer_hosts,updated_at=NOW()`,
			e.ID, e.Slug, e.Host, e.OAuthIssuer, e.JWKSURL, e.DefaultUserDomain, e.ArcherHosts); err != nil {
			return err
		}
	}
	return nil
}

const tenantColumns = `id::text,COALESCE(slug,''),COALESCE(host,''),COALESCE(oauth_issuer,''),COALESCE(jwks_url,''),
	COALESCE(accepted_audiences,'{}'),COALESCE(default_user_domain,''),COALESCE(archer_hosts,'{}')`

// ResolveTenantByHost fetches a tenant using its host value.
func (p *pgProvider) ResolveTenantByHost(ctx context.Context, host string) (Tenant, error) {
	return p.scan(p.dbPool.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE host=$1`, host))
}

// ResolveTenantByID fetches a tenant by its UUID or slug.
func (p *pgProvider) ResolveTenantByID(ctx context.Context, id string) (Tenant, error) {
	return p.scan(p.dbPool.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id::text=$1 OR slug=$1 LIMIT 1`, id))
}

func (p *pgProvider) scan(row pgx.Row) (Tenant, error) {
	var t Tenant
	if err := row.Scan(&t.ID, &t.Slug, &t.Host, &t.OAuthIssuer, &t.JWKSURL, &t.AcceptedAudiences, &t.DefaultUserDomain, &t.ArcherHosts); err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			p.log.Warnw("tenant lookup", "err", err)
		}
		return Tenant{}, ErrTenantNotFound
	}
	return t, nil
}
