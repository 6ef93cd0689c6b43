package archer

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"grcbridge/internal/metrics"
)

// ProtocolAuthenticator performs one login attempt over one protocol.
type ProtocolAuthenticator interface {
	Protocol() Protocol
	Authenticate(ctx context.Context, p ConnectionParameters) (token string, err error)
}

// Result is a successful negotiation.
type Result struct {
	Token    string
	Protocol Protocol
}

// Authenticator tries REST first and falls back to SOAP. Newer Archer
// releases only speak REST and older ones only SOAP.
type Authenticator struct {
	attempts []ProtocolAuthenticator
	log      *zap.SugaredLogger
	metrics  *metrics.Metrics
}

type Option func(*Authenticator)

func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Authenticator) { a.metrics = m }
}

// NewAuthenticator wires explicit protocol implementations, REST then SOAP.
func NewAuthenticator(rest, soap ProtocolAuthenticator, log *zap.SugaredLogger, opts ...Option) *Authenticator {
	a := &Authenticator{attempts: []ProtocolAuthenticator{rest, soap}, log: log}
	for _, o := range opts {
		o(a)
	}
	return a
}

// New builds the production authenticator around one shared client.
func New(c *http.Client, log *zap.SugaredLogger, opts ...Option) *Authenticator {
	return NewAuthenticator(NewRESTAuthenticator(c), NewSOAPAuthenticator(c), log, opts...)
}

// Authenticate returns the first successful login. When every protocol
// fails the error is an *AuthError carrying each failure in attempt order.
// Invalid parameters fail with ErrInvalidParameters before any call is made.
func (a *Authenticator) Authenticate(ctx context.Context, p ConnectionParameters) (Result, error) {
	if err := p.Validate(); err != nil {
		return Result{}, err
	}
	ctx, span := otel.Tracer("grcbridge/archer").Start(ctx, "archer.Authenticate",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant.id", p.TenantID),
		attribute.String("archer.instance", p.InstanceID),
	)

	authErr := &AuthError{}
	for _, pa := range a.attempts {
		proto := pa.Protocol()
		start := time.Now()
		tok, err := pa.Authenticate(ctx, p)
		if err == nil && tok == "" {
			err = &ProtocolFailure{Protocol: proto, Message: "no session token in response"}
		}
		a.metrics.ObserveAuthAttempt(proto.String(), err == nil, start)
		if err == nil {
			span.SetAttributes(attribute.String("archer.protocol", proto.String()))
			a.metrics.IncAuthResult(proto.String())
			a.log.Infow("archer login succeeded",
				"tenant_id", p.TenantID, "instance", p.InstanceID, "username", p.Username,
				"protocol", proto, "failed_before", len(authErr.Failures))
			return Result{Token: tok, Protocol: proto}, nil
		}
		f := asFailure(proto, err)
		authErr.Failures = append(authErr.Failures, f)
		a.log.Warnw("archer login attempt failed",
			"tenant_id", p.TenantID, "instance", p.InstanceID, "username", p.Username,
			"protocol", proto, "status", f.HTTPStatus, "reason", f.Message, "err", f.Err)
	}
	a.metrics.IncAuthResult("failed")
	span.SetStatus(codes.Error, "all protocols failed")
	return Result{}, authErr
}

// asFailure normalises whatever an implementation returned into a
// *ProtocolFailure tagged with proto.
func asFailure(proto Protocol, err error) *ProtocolFailure {
	var f *ProtocolFailure
	if errors.As(err, &f) {
		if f.Protocol == 0 {
			f.Protocol = proto
		}
		return f
	}
	return &ProtocolFailure{Protocol: proto, Message: "login failed", Err: err}
}
