package archer

import (
	"context"
	"encoding/json"
	"net/http"

	jmes "github.com/jmespath/go-jmespath"
)

const restLoginPath = "/api/core/security/login"

var (
	restTokenPath   = jmes.MustCompile("RequestedObject.SessionToken || SessionToken")
	restMessagePath = jmes.MustCompile("ValidationMessages[0].ResourcedMessage || ValidationMessages[0].Description || Message")
)

type restLogin struct {
	InstanceName string `json:"InstanceName"`
	Username     string `json:"Username"`
	UserDomain   string `json:"UserDomain"`
	Password     string `json:"Password"`
}

// RESTAuthenticator logs in through /api/core/security/login.
type RESTAuthenticator struct {
	client *http.Client
}

func NewRESTAuthenticator(c *http.Client) *RESTAuthenticator {
	return &RESTAuthenticator{client: c}
}

func (*RESTAuthenticator) Protocol() Protocol { return ProtocolREST }

// Authenticate makes exactly one login call. A non-nil error is always a
// *ProtocolFailure.
func (a *RESTAuthenticator) Authenticate(ctx context.Context, p ConnectionParameters) (string, error) {
	body, err := json.Marshal(restLogin{
		InstanceName: p.InstanceID,
		Username:     p.Username,
		UserDomain:   p.UserDomain,
		Password:     p.Password.Reveal(),
	})
	if err != nil {
		return "", &ProtocolFailure{Protocol: ProtocolREST, Message: "could not encode login request", Err: err}
	}
	status, raw, err := post(ctx, a.client, p.endpoint(restLoginPath), map[string]string{
		"Content-Type": "application/json",
		"Accept":       "application/json",
	}, body)
	clear(body)
	if err != nil {
		if status != 0 {
			return "", &ProtocolFailure{Protocol: ProtocolREST, HTTPStatus: status, Message: "could not read response", Err: err}
		}
		return "", transportFailure(ProtocolREST, err)
	}

	var doc any
	decodeErr := json.Unmarshal(raw, &doc)
	if status < 200 || status > 299 {
		detail := ""
		if decodeErr == nil {
			detail = searchString(restMessagePath, doc)
		}
		return "", rejection(ProtocolREST, status, detail, "upstream rejected the login")
	}
	if decodeErr != nil {
		return "", &ProtocolFailure{Protocol: ProtocolREST, HTTPStatus: status, Message: "malformed JSON response", Err: decodeErr}
	}
	if tok := searchString(restTokenPath, doc); tok != "" {
		return tok, nil
	}
	return "", rejection(ProtocolREST, status, searchString(restMessagePath, doc), "no session token in response")
}

func searchString(expr *jmes.JMESPath, doc any) string {
	v, err := expr.Search(doc)
	if err != nil {
		return ""
	}
	s, _ := v.(string)
	return s
}
