package resource

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/oauthlab/grantline"
)

// DefaultIntrospectionTimeout bounds a single introspection round trip
const DefaultIntrospectionTimeout = 10 * time.Second

// IntrospectionClient answers whether a bearer token is active.
// Satisfied by *Introspector; tests substitute a local fake.
type IntrospectionClient interface {
	Introspect(ctx context.Context, token string) (*grantline.Introspection, error)
}

// Introspector asks the authorization server about tokens over HTTP.
type Introspector struct {
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger
}

// IntrospectorOption customizes an Introspector
type IntrospectorOption func(*Introspector)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(c *http.Client) IntrospectorOption {
	return func(i *Introspector) {
		i.httpClient = c
	}
}

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) IntrospectorOption {
	return func(i *Introspector) {
		i.logger = logger
	}
}

// NewIntrospector creates an introspection client for the given endpoint URL
func NewIntrospector(endpoint string, opts ...IntrospectorOption) *Introspector {
	i := &Introspector{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: DefaultIntrospectionTimeout,
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Compile-time interface check
var _ IntrospectionClient = (*Introspector)(nil)

// Introspect posts the token to the introspection endpoint (RFC 7662 form
// encoding) and decodes the verdict. A non-nil error means the authorization
// server could not be consulted at all; an inactive token is not an error.
func (i *Introspector) Introspect(ctx context.Context, token string) (*grantline.Introspection, error) {
	form := url.Values{}
	form.Set("token", token)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build introspection request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := i.httpClient.Do(req)
	if err != nil {
		i.logger.Error("Introspection request failed", "error", err)
		return nil, fmt.Errorf("introspection request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		i.logger.Error("Introspection endpoint returned unexpected status", "status", resp.StatusCode)
		return nil, fmt.Errorf("introspection endpoint returned status %d", resp.StatusCode)
	}

	var result grantline.Introspection
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode introspection response: %w", err)
	}

	return &result, nil
}
