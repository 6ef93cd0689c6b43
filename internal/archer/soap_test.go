package archer

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const soapOK = `<?xml version="1.0" encoding="utf-8"?>
<soap:Envelope xmlns:soap="http://www.w3.org/2003/05/soap-envelope">
  <soap:Body>
    <CreateDomainUserSessionFromInstanceResponse xmlns="http://archer-tech.com/webservices/">
      <CreateDomainUserSessionFromInstanceResult>SOAPTOKEN42</CreateDomainUserSessionFromInstanceResult>
    </CreateDomainUserSessionFromInstanceResponse>
  </soap:Body>
</soap:Envelope>`

const soapFault11 = `<?xml version="1.0" encoding="utf-8"?>
<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">
  <soap:Body>
    <soap:Fault>
      <faultcode>soap:Server</faultcode>
      <faultstring>Server was unable to process request. ---&gt; Invalid credentials</faultstring>
    </soap:Fault>
  </soap:Body>
</soap:Envelope>`

const soapFault12 = `<?xml version="1.0" encoding="utf-8"?>
<soap:Envelope xmlns:soap="http://www.w3.org/2003/05/soap-envelope">
  <soap:Body>
    <soap:Fault>
      <soap:Code><soap:Value>soap:Receiver</soap:Value></soap:Code>
      <soap:Reason><soap:Text xml:lang="en">Instance not found</soap:Text></soap:Reason>
    </soap:Fault>
  </soap:Body>
</soap:Envelope>`

func soapServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/soap+xml; charset=utf-8")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSOAP_SendsEnvelope(t *testing.T) {
	var envelope string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ws/general.asmx", r.URL.Path)
		assert.Equal(t, "application/soap+xml; charset=utf-8", r.Header.Get("Content-Type"))
		assert.Equal(t, "http://archer-tech.com/webservices/CreateDomainUserSessionFromInstance", r.Header.Get("SOAPAction"))
		b, _ := io.ReadAll(r.Body)
		envelope = string(b)
		_, _ = w.Write([]byte(soapOK))
	}))
	defer srv.Close()

	p := paramsFor(srv.URL)
	p.Password = `p<a&s"s`
	tok, err := NewSOAPAuthenticator(testClient()).Authenticate(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "SOAPTOKEN42", tok)

	assert.Contains(t, envelope, `<soap12:Envelope`)
	assert.Contains(t, envelope, `xmlns:soap12="http://www.w3.org/2003/05/soap-envelope"`)
	assert.Contains(t, envelope, `<CreateDomainUserSessionFromInstance xmlns="http://archer-tech.com/webservices/">`)
	assert.Contains(t, envelope, `<userName>alice</userName>`)
	assert.Contains(t, envelope, `<instanceName>PROD</instanceName>`)
	assert.Contains(t, envelope, `<userDomain>CORP</userDomain>`)
	assert.Contains(t, envelope, `<password>p&lt;a&amp;s&#34;s</password>`)
}

func TestSOAP_Fault11(t *testing.T) {
	srv := soapServer(t, http.StatusInternalServerError, soapFault11)

	_, err := NewSOAPAuthenticator(testClient()).Authenticate(context.Background(), paramsFor(srv.URL))
	var f *ProtocolFailure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, ProtocolSOAP, f.Protocol)
	assert.Equal(t, http.StatusInternalServerError, f.HTTPStatus)
	assert.Equal(t, "invalid credentials", f.Message)
	assert.NotContains(t, f.Error(), "Server was unable")
}

func TestSOAP_Fault12Reason(t *testing.T) {
	srv := soapServer(t, http.StatusOK, soapFault12)

	_, err := NewSOAPAuthenticator(testClient()).Authenticate(context.Background(), paramsFor(srv.URL))
	var f *ProtocolFailure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, "unknown instance", f.Message)
}

func TestSOAP_EmptyResult(t *testing.T) {
	body := `<soap:Envelope xmlns:soap="http://www.w3.org/2003/05/soap-envelope"><soap:Body>
<CreateDomainUserSessionFromInstanceResponse xmlns="http://archer-tech.com/webservices/">
<CreateDomainUserSessionFromInstanceResult>  </CreateDomainUserSessionFromInstanceResult>
</CreateDomainUserSessionFromInstanceResponse></soap:Body></soap:Envelope>`
	srv := soapServer(t, http.StatusOK, body)

	_, err := NewSOAPAuthenticator(testClient()).Authenticate(context.Background(), paramsFor(srv.URL))
	var f *ProtocolFailure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, "no session token in response", f.Message)
}

func TestSOAP_Malformed(t *testing.T) {
	for name, body := range map[string]string{
		"truncated": `<soap:Envelope xmlns:soap="x"><soap:Body>`,
		"not soap":  `<html><body>Login</body></html>`,
	} {
		t.Run(name, func(t *testing.T) {
			srv := soapServer(t, http.StatusOK, body)

			_, err := NewSOAPAuthenticator(testClient()).Authenticate(context.Background(), paramsFor(srv.URL))
			var f *ProtocolFailure
			require.ErrorAs(t, err, &f)
			assert.Equal(t, "malformed XML response", f.Message)
		})
	}
}

func TestSOAP_NonSuccessWithoutFault(t *testing.T) {
	srv := soapServer(t, http.StatusServiceUnavailable, "maintenance")

	_, err := NewSOAPAuthenticator(testClient()).Authenticate(context.Background(), paramsFor(srv.URL))
	var f *ProtocolFailure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, http.StatusServiceUnavailable, f.HTTPStatus)
	assert.Equal(t, "upstream rejected the login", f.Message)
}

// REST endpoint absent, SOAP answers: the full orchestrator picks SOAP.
func TestAuthenticator_OverHTTP_FallsBack(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/core/security/login", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.HandleFunc("/ws/general.asmx", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(soapOK))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	res, err := New(testClient(), nopLog()).Authenticate(context.Background(), paramsFor(srv.URL))
	require.NoError(t, err)
	assert.Equal(t, ProtocolSOAP, res.Protocol)
	assert.Equal(t, "SOAPTOKEN42", res.Token)
}
