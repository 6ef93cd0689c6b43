package tenants

import (
	"net/url"
	"strings"
)

// Tenant represents a logical customer / account space.
type Tenant struct {
	ID                string   // uuid
	Slug              string   // short name (acme)
	Host              string   // primary host (grc.acme.com)
	OAuthIssuer       string   // issuer of caller tokens
	JWKSURL           string   // keys for caller tokens
	AcceptedAudiences []string // list of acceptable aud values (if empty -> fallback to global config audience)
	DefaultUserDomain string   // Archer user domain used when the caller omits one
	ArcherHosts       []string // allowed Archer hosts; empty allows any
}

// UserDomainOr returns the caller-supplied domain, or the tenant default when
// the caller left it blank.
func (t Tenant) UserDomainOr(supplied string) string {
	if s := strings.TrimSpace(supplied); s != "" {
		return s
	}
	return t.DefaultUserDomain
}

// AllowsArcherURL reports whether credentials may be sent to baseURL.
func (t Tenant) AllowsArcherURL(baseURL string) bool {
	if len(t.ArcherHosts) == 0 {
		return true
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, h := range t.ArcherHosts {
		if strings.EqualFold(strings.TrimSpace(h), host) {
			return true
		}
	}
	return false
}
