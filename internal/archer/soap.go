package archer

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"io"
	"net/http"
	"strings"
)

const (
	soapPath        = "/ws/general.asmx"
	soapNamespace   = "http://archer-tech.com/webservices/"
	soapAction      = soapNamespace + "CreateDomainUserSessionFromInstance"
	soapContentType = "application/soap+xml; charset=utf-8"
	soapResultElem  = "CreateDomainUserSessionFromInstanceResult"
)

type soapEnvelope struct {
	XMLName xml.Name `xml:"soap12:Envelope"`
	XSI     string   `xml:"xmlns:xsi,attr"`
	XSD     string   `xml:"xmlns:xsd,attr"`
	Soap12  string   `xml:"xmlns:soap12,attr"`
	Body    soapBody `xml:"soap12:Body"`
}

type soapBody struct {
	Call createSessionCall `xml:"CreateDomainUserSessionFromInstance"`
}

type createSessionCall struct {
	XMLNS        string `xml:"xmlns,attr"`
	UserName     string `xml:"userName"`
	InstanceName string `xml:"instanceName"`
	Password     string `xml:"password"`
	UserDomain   string `xml:"userDomain"`
}

// SOAPAuthenticator logs in through CreateDomainUserSessionFromInstance on the
// general web service.
type SOAPAuthenticator struct {
	client *http.Client
}

func NewSOAPAuthenticator(c *http.Client) *SOAPAuthenticator {
	return &SOAPAuthenticator{client: c}
}

func (*SOAPAuthenticator) Protocol() Protocol { return ProtocolSOAP }

// Authenticate makes exactly one login call. A non-nil error is always a
// *ProtocolFailure.
func (a *SOAPAuthenticator) Authenticate(ctx context.Context, p ConnectionParameters) (string, error) {
	body, err := buildEnvelope(p)
	if err != nil {
		return "", &ProtocolFailure{Protocol: ProtocolSOAP, Message: "could not encode login request", Err: err}
	}
	status, raw, err := post(ctx, a.client, p.endpoint(soapPath), map[string]string{
		"Content-Type": soapContentType,
		"SOAPAction":   soapAction,
	}, body)
	clear(body)
	if err != nil {
		if status != 0 {
			return "", &ProtocolFailure{Protocol: ProtocolSOAP, HTTPStatus: status, Message: "could not read response", Err: err}
		}
		return "", transportFailure(ProtocolSOAP, err)
	}

	res, parseErr := parseSOAPResponse(raw)
	// servers answer faults with 500, so look for one before the status
	if parseErr == nil && res.fault {
		return "", rejection(ProtocolSOAP, status, res.faultString, "SOAP fault")
	}
	if status < 200 || status > 299 {
		return "", rejection(ProtocolSOAP, status, "", "upstream rejected the login")
	}
	if parseErr != nil {
		return "", &ProtocolFailure{Protocol: ProtocolSOAP, HTTPStatus: status, Message: "malformed XML response", Err: parseErr}
	}
	if tok := strings.TrimSpace(res.token); tok != "" {
		return tok, nil
	}
	return "", &ProtocolFailure{Protocol: ProtocolSOAP, HTTPStatus: status, Message: "no session token in response"}
}

func buildEnvelope(p ConnectionParameters) ([]byte, error) {
	env := soapEnvelope{
		XSI:    "http://www.w3.org/2001/XMLSchema-instance",
		XSD:    "http://www.w3.org/2001/XMLSchema",
		Soap12: "http://www.w3.org/2003/05/soap-envelope",
		Body: soapBody{Call: createSessionCall{
			XMLNS:        soapNamespace,
			UserName:     p.Username,
			InstanceName: p.InstanceID,
			Password:     p.Password.Reveal(),
			UserDomain:   p.UserDomain,
		}},
	}
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	if err := xml.NewEncoder(&buf).Encode(env); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type soapResult struct {
	token       string
	fault       bool
	faultString string
}

// parseSOAPResponse walks the document by local names so SOAP 1.1 and 1.2
// responses (and any namespace prefix) are handled alike. Inside a Fault,
// faultstring (1.1) wins over Reason/Text (1.2).
func parseSOAPResponse(raw []byte) (soapResult, error) {
	var res soapResult
	dec := xml.NewDecoder(bytes.NewReader(raw))
	var (
		stack       []string
		sawEnvelope bool
		reasonText  string
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return res, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			stack = append(stack, t.Name.Local)
			switch t.Name.Local {
			case "Envelope":
				sawEnvelope = true
			case "Fault":
				res.fault = true
			}
		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		case xml.CharData:
			if len(stack) == 0 {
				continue
			}
			switch cur := stack[len(stack)-1]; {
			case cur == soapResultElem:
				res.token += string(t)
			case cur == "faultstring":
				res.faultString += string(t)
			case cur == "Text" && len(stack) > 1 && stack[len(stack)-2] == "Reason":
				reasonText += string(t)
			}
		}
	}
	if !sawEnvelope {
		return res, errors.New("archer: response is not a SOAP envelope")
	}
	if res.faultString == "" {
		res.faultString = reasonText
	}
	return res, nil
}
