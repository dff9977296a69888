package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/oauth2"

	"github.com/oauthlab/grantline"
	"github.com/oauthlab/grantline/instrumentation"
	"github.com/oauthlab/grantline/internal/util"
	"github.com/oauthlab/grantline/security"
)

// DefaultRequestTimeout bounds the token exchange and resource calls
const DefaultRequestTimeout = 10 * time.Second

// ErrNoAccessToken indicates the session has not completed an authorization
// flow, so there is no token to present
var ErrNoAccessToken = errors.New("no access token in session")

// Config holds client flow driver configuration
type Config struct {
	// ClientID and ClientSecret are the credentials registered with the
	// authorization server
	ClientID     string
	ClientSecret string

	// AuthURL and TokenURL are the authorization server's endpoints
	AuthURL  string
	TokenURL string

	// RedirectURL is this client's callback URL, registered verbatim
	RedirectURL string

	// Scopes are requested on every flow
	Scopes []string

	// Timeout bounds outbound HTTP calls. Defaults to DefaultRequestTimeout.
	Timeout time.Duration
}

// Driver orchestrates the authorization code flow against the authorization
// server and presents the resulting token to protected resources.
type Driver struct {
	oauth      oauth2.Config
	httpClient *http.Client
	logger     *slog.Logger

	// Instrumentation (optional)
	inst *instrumentation.Instrumentation
}

// New creates a flow driver from the given configuration
func New(cfg Config, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	return &Driver{
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
				// The authorization server reads client credentials from
				// the form body
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// SetInstrumentation sets OpenTelemetry instrumentation for the driver
func (d *Driver) SetInstrumentation(inst *instrumentation.Instrumentation) {
	d.inst = inst
}

// Begin starts a new authorization flow for the session: it mints a fresh
// state nonce, stores it on the session, and returns the authorization URL
// to send the user agent to. Any earlier in-flight state is replaced.
func (d *Driver) Begin(sess *Session) string {
	state := security.GenerateStateNonce()
	sess.SetState(state)

	d.recordCounter(func(m *instrumentation.Metrics) metric.Int64Counter { return m.FlowsStarted })
	d.logger.Info("Starting authorization flow",
		"session_id", util.SafeTruncate(sess.ID, 8),
		"state_prefix", util.SafeTruncate(state, 8))

	return d.oauth.AuthCodeURL(state)
}

// HandleCallback consumes the authorization callback. The state must match
// the nonce stored on the session; on success the code is exchanged for a
// token which is stored on the session along with its granted scope.
func (d *Driver) HandleCallback(ctx context.Context, sess *Session, code, state string) error {
	d.recordCounter(func(m *instrumentation.Metrics) metric.Int64Counter { return m.CallbacksProcessed })

	// A missing code is rejected the same way as a bad or stale state: one
	// uniform mismatch error, and the nonce is only spent on a full match.
	if code == "" || !sess.ConsumeState(state) {
		d.logger.Warn("Callback state mismatch",
			"session_id", util.SafeTruncate(sess.ID, 8))
		return grantline.ErrStateMismatch("callback state does not match the pending authorization request")
	}

	// Route the exchange through our timeout-bounded HTTP client
	ctx = context.WithValue(ctx, oauth2.HTTPClient, d.httpClient)

	tok, err := d.oauth.Exchange(ctx, code)
	if err != nil {
		d.logger.Error("Token exchange failed", "error", err)
		return grantline.ErrTokenExchangeFailed(fmt.Sprintf("authorization server rejected the exchange: %v", err))
	}

	scope, _ := tok.Extra("scope").(string)
	sess.SetToken(tok.AccessToken, scope)

	d.logger.Info("Obtained access token",
		"session_id", util.SafeTruncate(sess.ID, 8),
		"token_prefix", util.SafeTruncate(tok.AccessToken, 8),
		"scope", scope)
	return nil
}

// CallResource presents the session's token to a protected resource endpoint
// as a Bearer header and returns the raw response body. Having no token at
// all, failing to reach the resource, and the resource saying no are three
// distinct errors.
func (d *Driver) CallResource(ctx context.Context, sess *Session, method, endpoint string) ([]byte, error) {
	d.recordCounter(func(m *instrumentation.Metrics) metric.Int64Counter { return m.ResourceCalls })

	token := sess.Token()
	if token == "" {
		return nil, ErrNoAccessToken
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build resource request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		d.logger.Error("Resource call failed", "endpoint", endpoint, "error", err)
		return nil, grantline.ErrServerError(fmt.Sprintf("protected resource unreachable: %v", err))
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, grantline.ErrServerError(fmt.Sprintf("failed to read resource response: %v", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		d.logger.Warn("Resource rejected request",
			"endpoint", endpoint,
			"status", resp.StatusCode)
		return nil, grantline.ErrResourceCallFailed(fmt.Sprintf("protected resource returned status %d", resp.StatusCode))
	}

	return body, nil
}

// ClientID returns the configured client identifier
func (d *Driver) ClientID() string {
	return d.oauth.ClientID
}

// recordCounter adds one to the selected counter when metrics are enabled
func (d *Driver) recordCounter(pick func(*instrumentation.Metrics) metric.Int64Counter) {
	if d.inst == nil {
		return
	}
	if counter := pick(d.inst.Metrics()); counter != nil {
		counter.Add(context.Background(), 1)
	}
}
