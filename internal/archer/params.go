// Package archer talks to RSA Archer's two login protocols: the JSON REST API
// and the legacy SOAP general web service.
package archer

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// Password is a transient credential. It prints and encodes as a redaction
// marker; Reveal is the only way to read it.
type Password string

const redacted = "[REDACTED]"

func (Password) String() string   { return redacted }
func (Password) GoString() string { return redacted }

func (Password) MarshalJSON() ([]byte, error) { return json.Marshal(redacted) }

func (p Password) Reveal() string { return string(p) }

// Protocol is the closed set of Archer login protocols.
type Protocol uint8

const (
	ProtocolREST Protocol = iota + 1
	ProtocolSOAP
)

func (p Protocol) String() string {
	switch p {
	case ProtocolREST:
		return "REST"
	case ProtocolSOAP:
		return "SOAP"
	}
	return fmt.Sprintf("Protocol(%d)", uint8(p))
}

func (p Protocol) MarshalText() ([]byte, error) {
	if p != ProtocolREST && p != ProtocolSOAP {
		return nil, fmt.Errorf("archer: unknown protocol %d", uint8(p))
	}
	return []byte(p.String()), nil
}

func (p *Protocol) UnmarshalText(b []byte) error {
	v, err := ParseProtocol(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

func ParseProtocol(s string) (Protocol, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "REST":
		return ProtocolREST, nil
	case "SOAP":
		return ProtocolSOAP, nil
	}
	return 0, fmt.Errorf("archer: unknown protocol %q", s)
}

// ConnectionParameters identify one logical Archer connection. TenantID,
// BaseURL, InstanceID and Username form the identity; Password is input only.
type ConnectionParameters struct {
	TenantID   string
	BaseURL    string
	InstanceID string
	Username   string
	UserDomain string
	Password   Password
}

// Validate checks the fields every login needs. The returned error wraps
// ErrInvalidParameters.
func (p ConnectionParameters) Validate() error {
	var missing []string
	if strings.TrimSpace(p.TenantID) == "" {
		missing = append(missing, "tenantId")
	}
	if strings.TrimSpace(p.BaseURL) == "" {
		missing = append(missing, "baseUrl")
	}
	if strings.TrimSpace(p.InstanceID) == "" {
		missing = append(missing, "instanceId")
	}
	if strings.TrimSpace(p.Username) == "" {
		missing = append(missing, "username")
	}
	if p.Password == "" {
		missing = append(missing, "password")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidParameters, strings.Join(missing, ", "))
	}
	u, err := url.Parse(p.BaseURL)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return fmt.Errorf("%w: baseUrl must be an absolute http(s) URL", ErrInvalidParameters)
	}
	return nil
}

// WithPassword returns a copy carrying pw.
func (p ConnectionParameters) WithPassword(pw Password) ConnectionParameters {
	p.Password = pw
	return p
}

func (p ConnectionParameters) endpoint(path string) string {
	return strings.TrimRight(p.BaseURL, "/") + path
}
