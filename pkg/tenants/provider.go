package tenants

import (
	"context"
	"errors"
)

var ErrTenantNotFound = errors.New("tenant not found")

type Provider interface {
	// Resolve tenant from incoming host (or header).
	ResolveTenantByHost(ctx context.Context, host string) (Tenant, error)
	// Resolve from id or slug
	ResolveTenantByID(ctx context.Context, id string) (Tenant, error)
}

// seedEntry is the TENANT_SEED_JSON element shared by both providers.
type seedEntry struct {
	ID                string   `json:"id"`
	Slug              string   `json:"slug"`
	Host              string   `json:"host"`
	OAuthIssuer       string   `json:"oauth_issuer"`
	JWKSURL           string   `json:"jwks_url"`
	DefaultUserDomain string   `json:"default_user_domain"`
	ArcherHosts       []string `json:"archer_hosts"`
}

func (e seedEntry) tenant() Tenant {
	return Tenant{
		ID: e.ID, Slug: e.Slug, Host: e.Host,
		OAuthIssuer: e.OAuthIssuer, JWKSURL: e.JWKSURL,
		DefaultUserDomain: e.DefaultUserDomain, ArcherHosts: e.ArcherHosts,
	}
}
