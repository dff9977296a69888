package authserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/oauthlab/grantline"
	"github.com/oauthlab/grantline/instrumentation"
	"github.com/oauthlab/grantline/security"
	"github.com/oauthlab/grantline/storage"
)

const (
	// DefaultAccessTokenTTL is the lifetime of minted access tokens
	DefaultAccessTokenTTL = time.Hour

	// GrantTypeAuthorizationCode is the only grant type the token endpoint accepts
	GrantTypeAuthorizationCode = "authorization_code"

	// ResponseTypeCode is the only response type the authorization endpoint accepts
	ResponseTypeCode = "code"

	tokenTypeBearer = "Bearer"
)

// Config holds authorization server configuration
type Config struct {
	// Issuer is the server's own base URL, used for security headers
	Issuer string

	// AccessTokenTTL is the lifetime of minted tokens.
	// Defaults to DefaultAccessTokenTTL when zero.
	AccessTokenTTL time.Duration

	// Subjects are the resource owners selectable on the consent page
	Subjects []string

	// EnableAuditLog turns on security audit logging
	EnableAuditLog bool
}

// Server implements the authorization server's decision logic: authorization
// request validation, consent handling, code-for-token exchange, and token
// introspection. The HTTP surface lives in Handler.
type Server struct {
	clients storage.ClientStore
	grants  storage.GrantStore
	tokens  storage.TokenStore

	config  *Config
	logger  *slog.Logger
	auditor *security.Auditor

	// Instrumentation (optional)
	inst   *instrumentation.Instrumentation
	tracer trace.Tracer
}

// New creates a new authorization server
func New(clients storage.ClientStore, grants storage.GrantStore, tokens storage.TokenStore, config *Config, logger *slog.Logger) (*Server, error) {
	if clients == nil || grants == nil || tokens == nil {
		return nil, fmt.Errorf("client, grant, and token stores are required")
	}
	if config == nil {
		config = &Config{}
	}
	if config.AccessTokenTTL <= 0 {
		config.AccessTokenTTL = DefaultAccessTokenTTL
	}
	if len(config.Subjects) == 0 {
		config.Subjects = []string{"alice", "bob"}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		clients: clients,
		grants:  grants,
		tokens:  tokens,
		config:  config,
		logger:  logger,
		auditor: security.NewAuditor(logger, config.EnableAuditLog),
	}, nil
}

// Configuration returns the server configuration
func (s *Server) Configuration() *Config {
	return s.config
}

// SetInstrumentation sets OpenTelemetry instrumentation for the server
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.inst = inst
	if inst != nil {
		s.tracer = inst.Tracer("authserver")
		s.auditor.SetEventHook(func(eventType string) {
			inst.Metrics().RecordAuditEvent(context.Background(), eventType)
		})
	}
}

// Instrumentation returns the instrumentation instance, or nil
func (s *Server) Instrumentation() *instrumentation.Instrumentation {
	return s.inst
}

// AuthorizeRequest carries the parsed parameters of an authorization request
type AuthorizeRequest struct {
	ResponseType string
	ClientID     string
	RedirectURI  string
	Scope        string // space-separated, as received
	State        string
}

// Consent is the pending decision surfaced to the resource owner once an
// authorization request has passed validation.
type Consent struct {
	ClientID    string
	ClientName  string
	RedirectURI string
	Scope       []string
	State       string
	Subjects    []string
}

// BeginAuthorization validates an authorization request and returns the
// consent decision to put in front of the resource owner.
//
// Validation order matters for what the user agent sees: an unregistered
// redirect URI is reported directly and never redirected to, and the checks
// before it (response type, client lookup) are likewise reported directly
// because no trustworthy redirect target exists yet.
func (s *Server) BeginAuthorization(ctx context.Context, req AuthorizeRequest) (*Consent, error) {
	ctx, span := s.startSpan(ctx, "authserver.begin_authorization")
	defer span.End()

	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrClientID, req.ClientID),
		attribute.String(instrumentation.AttrResponseType, req.ResponseType),
	)
	s.recordCounter(ctx, func(m *instrumentation.Metrics) metric.Int64Counter { return m.AuthorizationRequests })

	if req.ResponseType != ResponseTypeCode {
		err := grantline.ErrInvalidRequest(fmt.Sprintf("unsupported response_type %q", req.ResponseType))
		instrumentation.RecordError(span, err)
		return nil, err
	}

	client, lookupErr := s.clients.GetClient(ctx, req.ClientID)
	if lookupErr != nil {
		s.logger.Warn("Authorization request from unknown client", "client_id", req.ClientID)
		err := grantline.ErrInvalidRequest("unknown client")
		instrumentation.RecordError(span, err)
		return nil, err
	}

	if !client.HasRedirectURI(req.RedirectURI) {
		s.logger.Warn("Authorization request with unregistered redirect URI",
			"client_id", req.ClientID,
			"redirect_uri", req.RedirectURI)
		err := grantline.ErrInvalidRedirectURI("redirect_uri is not registered for this client")
		instrumentation.RecordError(span, err)
		return nil, err
	}

	scope := grantline.SplitScope(req.Scope)
	if !grantline.ScopeIsSubset(scope, client.Scopes) {
		err := grantline.ErrInvalidScope("requested scope exceeds what the client may ask for")
		instrumentation.RecordError(span, err)
		return nil, err
	}

	instrumentation.SetSpanSuccess(span)
	return &Consent{
		ClientID:    client.ClientID,
		ClientName:  client.Name,
		RedirectURI: req.RedirectURI,
		Scope:       scope,
		State:       req.State,
		Subjects:    s.config.Subjects,
	}, nil
}

// Decision is the resource owner's answer to a Consent
type Decision struct {
	Approved    bool
	ClientID    string
	RedirectURI string
	Scope       []string
	State       string
	Subject     string
}

// FinishAuthorization turns a consent decision into a redirect back to the
// client. Denials redirect with error=access_denied; approvals mint a
// single-use code. The client and redirect URI are re-validated because the
// decision arrives in a separate request from the one BeginAuthorization saw.
// The state value rides along untouched in both cases.
func (s *Server) FinishAuthorization(ctx context.Context, dec Decision) (string, error) {
	ctx, span := s.startSpan(ctx, "authserver.finish_authorization")
	defer span.End()

	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrClientID, dec.ClientID),
		attribute.Bool(instrumentation.AttrApproved, dec.Approved),
	)
	s.recordCounter(ctx, func(m *instrumentation.Metrics) metric.Int64Counter { return m.ConsentDecisions })

	client, err := s.clients.GetClient(ctx, dec.ClientID)
	if err != nil {
		oauthErr := grantline.ErrInvalidRequest("unknown client")
		instrumentation.RecordError(span, oauthErr)
		return "", oauthErr
	}
	if !client.HasRedirectURI(dec.RedirectURI) {
		oauthErr := grantline.ErrInvalidRedirectURI("redirect_uri is not registered for this client")
		instrumentation.RecordError(span, oauthErr)
		return "", oauthErr
	}

	s.auditor.LogConsentDecision(dec.Subject, dec.ClientID, dec.Approved, grantline.JoinScope(dec.Scope))

	if !dec.Approved {
		instrumentation.SetSpanSuccess(span)
		return buildRedirect(dec.RedirectURI, map[string]string{
			"error": grantline.ErrorCodeAccessDenied,
		}, dec.State)
	}

	if !grantline.ScopeIsSubset(dec.Scope, client.Scopes) {
		oauthErr := grantline.ErrInvalidScope("approved scope exceeds what the client may ask for")
		instrumentation.RecordError(span, oauthErr)
		return "", oauthErr
	}

	grant := &storage.Grant{
		Code:        security.GenerateAuthorizationCode(),
		ClientID:    dec.ClientID,
		RedirectURI: dec.RedirectURI,
		Scope:       dec.Scope,
		Subject:     dec.Subject,
		CreatedAt:   time.Now(),
	}

	if err := s.grants.SaveGrant(ctx, grant); err != nil {
		s.logger.Error("Failed to save authorization grant", "error", err)
		oauthErr := grantline.ErrServerError("failed to issue authorization code")
		instrumentation.RecordError(span, oauthErr)
		return "", oauthErr
	}

	s.auditor.LogCodeIssued(dec.Subject, dec.ClientID, grantline.JoinScope(dec.Scope))
	s.recordCounter(ctx, func(m *instrumentation.Metrics) metric.Int64Counter { return m.CodesIssued })
	instrumentation.AddOAuthFlowAttributes(span, dec.ClientID, dec.Subject, grantline.JoinScope(dec.Scope))

	instrumentation.SetSpanSuccess(span)
	return buildRedirect(dec.RedirectURI, map[string]string{
		"code": grant.Code,
	}, dec.State)
}

// TokenRequest carries the parsed parameters of a token endpoint request
type TokenRequest struct {
	GrantType    string
	Code         string
	RedirectURI  string
	ClientID     string
	ClientSecret string
}

// Exchange redeems an authorization code for an access token.
//
// The checks run in a fixed order: client authentication first, then grant
// type, then code redemption, then the cross-check of the code's bindings.
// The redemption happens before the cross-check on purpose: a code presented
// with a mismatched client or redirect URI is consumed anyway, so a stolen
// code dies on first contact with the token endpoint either way.
func (s *Server) Exchange(ctx context.Context, req TokenRequest) (*grantline.TokenResponse, error) {
	ctx, span := s.startSpan(ctx, "authserver.exchange")
	defer span.End()

	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrClientID, req.ClientID),
		attribute.String(instrumentation.AttrGrantType, req.GrantType),
	)

	if _, err := s.clients.ValidateClientSecret(ctx, req.ClientID, req.ClientSecret); err != nil {
		s.auditor.LogAuthFailure(req.ClientID, "invalid client credentials")
		s.logger.Warn("Token request with invalid client credentials", "client_id", req.ClientID)
		oauthErr := grantline.ErrInvalidClient("client authentication failed")
		instrumentation.RecordError(span, oauthErr)
		return nil, oauthErr
	}

	if req.GrantType != GrantTypeAuthorizationCode {
		oauthErr := grantline.ErrUnsupportedGrantType(fmt.Sprintf("unsupported grant_type %q", req.GrantType))
		instrumentation.RecordError(span, oauthErr)
		return nil, oauthErr
	}

	grant, err := s.grants.RedeemGrant(ctx, req.Code)
	if err != nil {
		reason := "unknown or already redeemed code"
		if !errors.Is(err, storage.ErrGrantNotFound) {
			reason = "grant redemption failed"
			s.logger.Error("Grant redemption failed", "error", err)
		}
		s.auditor.LogRedemptionFailure(req.ClientID, reason)
		oauthErr := grantline.ErrInvalidGrant("invalid authorization code")
		instrumentation.RecordError(span, oauthErr)
		return nil, oauthErr
	}

	// The code is consumed at this point regardless of what follows
	if grant.ClientID != req.ClientID || grant.RedirectURI != req.RedirectURI {
		s.auditor.LogRedemptionFailure(req.ClientID, "code bound to different client or redirect URI")
		s.logger.Warn("Code presented with mismatched bindings",
			"client_id", req.ClientID,
			"grant_client_id", grant.ClientID)
		oauthErr := grantline.ErrInvalidGrant("authorization code was not issued to this client")
		instrumentation.RecordError(span, oauthErr)
		return nil, oauthErr
	}

	s.auditor.LogCodeRedeemed(grant.Subject, grant.ClientID)
	s.recordCounter(ctx, func(m *instrumentation.Metrics) metric.Int64Counter { return m.CodesRedeemed })
	instrumentation.AddOAuthFlowAttributes(span, grant.ClientID, grant.Subject, grantline.JoinScope(grant.Scope))

	now := time.Now()
	token := &storage.AccessToken{
		Token:     security.GenerateAccessToken(),
		ClientID:  grant.ClientID,
		Scope:     grant.Scope,
		Subject:   grant.Subject,
		ExpiresAt: now.Add(s.config.AccessTokenTTL),
		CreatedAt: now,
	}

	if err := s.tokens.SaveToken(ctx, token); err != nil {
		s.logger.Error("Failed to save access token", "error", err)
		oauthErr := grantline.ErrServerError("failed to issue access token")
		instrumentation.RecordError(span, oauthErr)
		return nil, oauthErr
	}

	s.auditor.LogTokenIssued(grant.Subject, grant.ClientID, grantline.JoinScope(grant.Scope))
	s.recordCounter(ctx, func(m *instrumentation.Metrics) metric.Int64Counter { return m.TokensMinted })

	instrumentation.SetSpanAttributes(span,
		attribute.Int64(instrumentation.AttrExpiresIn, int64(s.config.AccessTokenTTL.Seconds())))
	instrumentation.SetSpanSuccess(span)

	return &grantline.TokenResponse{
		AccessToken: token.Token,
		TokenType:   tokenTypeBearer,
		ExpiresIn:   int64(s.config.AccessTokenTTL.Seconds()),
		Scope:       grantline.JoinScope(grant.Scope),
	}, nil
}

// Introspect answers whether a token is active and, if so, with which claims.
// Every failure mode collapses to {active: false}: unknown tokens, expired
// tokens, and storage misses all look the same to the caller.
func (s *Server) Introspect(ctx context.Context, token string) *grantline.Introspection {
	ctx, span := s.startSpan(ctx, "authserver.introspect")
	defer span.End()

	s.recordCounter(ctx, func(m *instrumentation.Metrics) metric.Int64Counter { return m.Introspections })

	stored, err := s.tokens.GetToken(ctx, token)
	if err != nil {
		instrumentation.SetSpanAttributes(span, attribute.Bool(instrumentation.AttrTokenActive, false))
		instrumentation.SetSpanSuccess(span)
		return &grantline.Introspection{Active: false}
	}

	instrumentation.SetSpanAttributes(span,
		attribute.Bool(instrumentation.AttrTokenActive, true),
		attribute.String(instrumentation.AttrClientID, stored.ClientID))
	instrumentation.SetSpanSuccess(span)

	return &grantline.Introspection{
		Active:    true,
		ClientID:  stored.ClientID,
		Scope:     grantline.JoinScope(stored.Scope),
		Subject:   stored.Subject,
		ExpiresAt: stored.ExpiresAt.Unix(),
	}
}

// buildRedirect appends the given parameters and the verbatim state value to
// the redirect URI, preserving any query parameters it already carries.
func buildRedirect(redirectURI string, params map[string]string, state string) (string, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return "", grantline.ErrServerError("malformed redirect URI")
	}

	q := u.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	if state != "" {
		q.Set("state", state)
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// startSpan starts a server-layer span, tolerating absent instrumentation
func (s *Server) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return s.tracer.Start(ctx, name)
}

// recordCounter adds one to the selected counter when metrics are enabled
func (s *Server) recordCounter(ctx context.Context, pick func(*instrumentation.Metrics) metric.Int64Counter) {
	if s.inst == nil {
		return
	}
	if counter := pick(s.inst.Metrics()); counter != nil {
		counter.Add(ctx, 1)
	}
}
