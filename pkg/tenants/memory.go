// pkg/tenants/memory.go
package tenants

import (
	"context"
	"encoding/json"
	"os"

	"go.uber.org/zap"
)

// DevTenantID is the tenant served on localhost when no seed is configured.
const DevTenantID = "00000000-0000-0000-0000-000000000001"

type memProvider struct {
	log    *zap.SugaredLogger
	byHost map[string]Tenant
}

// NewMemoryProvider builds a provider from explicit tenants (tests, embedding).
func NewMemoryProvider(log *zap.SugaredLogger, ts ...Tenant) Provider {
	p := &memProvider{log: log, byHost: map[string]Tenant{}}
	for _, t := range ts {
		p.byHost[t.Host] = t
	}
	return p
}

func NewMemoryProviderFromEnv(log *zap.SugaredLogger) Provider {
	p := &memProvider{log: log, byHost: map[string]Tenant{}}
	seed := os.Getenv("TENANT_SEED_JSON")
	if seed != "" {
		var entries []seedEntry
		if err := json.Unmarshal([]byte(seed), &entries); err != nil {
			log.Warnw("tenant seed", "err", err)
		}
		for _, e := range entries {
			p.byHost[e.Host] = e.tenant()
		}
		return p
	}
	// sensible localhost defaults for both services and common variants
	dev := Tenant{
		ID: DevTenantID, Slug: "dev",
		OAuthIssuer: os.Getenv("OIDC_ISSUER"), JWKSURL: os.Getenv("JWKS_URL"),
		DefaultUserDomain: os.Getenv("ARCHER_DEFAULT_USER_DOMAIN"),
	}
	for _, h := range []string{
		"localhost", "127.0.0.1", "host.docker.internal", "broker", "mcp-gateway",
	} {
		dd := dev
		dd.Host = h
		p.byHost[h] = dd
	}
	return p
}

func (m *memProvider) ResolveTenantByHost(ctx context.Context, host string) (Tenant, error) {
	if t, ok := m.byHost[host]; ok {
		return t, nil
	}
	return Tenant{}, ErrTenantNotFound
}

func (m *memProvider) ResolveTenantByID(ctx context.Context, id string) (Tenant, error) {
	for _, t := range m.byHost {
		if t.ID == id || t.Slug == id {
			return t, nil
		}
	}
	return Tenant{}, ErrTenantNotFound
}
