package resource

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/oauthlab/grantline"
	"github.com/oauthlab/grantline/instrumentation"
	"github.com/oauthlab/grantline/security"
)

// DefaultRealm is the realm announced in WWW-Authenticate challenges
const DefaultRealm = "photos"

// Guard outcomes recorded in metrics
const (
	outcomeAdmitted          = "admitted"
	outcomeInvalidToken      = "invalid_token"
	outcomeInsufficientScope = "insufficient_scope"
	outcomeIntrospectionDown = "introspection_unavailable"
)

// accessContextKey is the context key for the admitted token's claims
type accessContextKey struct{}

// Access carries the claims of the token that admitted a request
type Access struct {
	Subject  string
	ClientID string
	Scope    []string
}

// AccessFromContext retrieves the admitting token's claims from the request
// context. Present on every request that passed through a Guard.
func AccessFromContext(ctx context.Context) (*Access, bool) {
	access, ok := ctx.Value(accessContextKey{}).(*Access)
	return access, ok
}

// Guard is middleware that admits only requests carrying an active bearer token.
type Guard struct {
	introspector IntrospectionClient
	realm        string
	logger       *slog.Logger
	auditor      *security.Auditor
	inst         *instrumentation.Instrumentation
}

// GuardOption customizes a Guard
type GuardOption func(*Guard)

// WithRealm sets the realm announced in WWW-Authenticate challenges
func WithRealm(realm string) GuardOption {
	return func(g *Guard) {
		g.realm = realm
	}
}

// WithGuardLogger sets a custom logger
func WithGuardLogger(logger *slog.Logger) GuardOption {
	return func(g *Guard) {
		g.logger = logger
	}
}

// WithAuditor enables audit logging of guard rejections
func WithAuditor(auditor *security.Auditor) GuardOption {
	return func(g *Guard) {
		g.auditor = auditor
	}
}

// WithInstrumentation enables metrics for guard decisions
func WithInstrumentation(inst *instrumentation.Instrumentation) GuardOption {
	return func(g *Guard) {
		g.inst = inst
	}
}

// NewGuard creates a guard backed by the given introspection client
func NewGuard(introspector IntrospectionClient, opts ...GuardOption) *Guard {
	g := &Guard{
		introspector: introspector,
		realm:        DefaultRealm,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// RequireToken wraps next so it only runs for requests carrying an active
// bearer token. The admitted token's claims are placed in the request context.
func (g *Guard) RequireToken(next http.Handler) http.Handler {
	return g.require("", next)
}

// RequireScope wraps next so it only runs for requests whose token is active
// AND carries the given scope value. Requests with a valid token but missing
// scope get 403 insufficient_scope naming the scope that was required.
func (g *Guard) RequireScope(scope string, next http.Handler) http.Handler {
	return g.require(scope, next)
}

func (g *Guard) require(requiredScope string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		token := ExtractBearerToken(r)
		if token == "" {
			g.reject(ctx, outcomeInvalidToken, requiredScope)
			g.challenge(w, grantline.ErrorCodeInvalidToken, "no access token supplied", http.StatusUnauthorized, "")
			return
		}

		verdict, err := g.introspector.Introspect(ctx, token)
		if err != nil {
			g.logger.Error("Token introspection unavailable", "error", err)
			g.recordDecision(ctx, outcomeIntrospectionDown)
			g.writeError(w, grantline.ErrorCodeServerError, "token validation unavailable", http.StatusInternalServerError)
			return
		}

		if !verdict.Active {
			g.reject(ctx, outcomeInvalidToken, requiredScope)
			g.challenge(w, grantline.ErrorCodeInvalidToken, "token is not active", http.StatusUnauthorized, "")
			return
		}

		if requiredScope != "" && !verdict.HasScope(requiredScope) {
			g.reject(ctx, outcomeInsufficientScope, requiredScope)
			g.challenge(w, grantline.ErrorCodeInsufficientScope,
				fmt.Sprintf("token lacks required scope %q", requiredScope),
				http.StatusForbidden, requiredScope)
			return
		}

		g.recordDecision(ctx, outcomeAdmitted)

		access := &Access{
			Subject:  verdict.Subject,
			ClientID: verdict.ClientID,
			Scope:    verdict.ScopeList(),
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, accessContextKey{}, access)))
	})
}

// ExtractBearerToken pulls a bearer token from a request, checking the
// Authorization header first, then the form body, then the query string
// (RFC 6750 sections 2.1-2.3, in that precedence order).
func ExtractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}

	// ParseForm reads both the body and the query string; PostFormValue
	// restricts the lookup to the body so precedence stays correct.
	if err := r.ParseForm(); err == nil {
		if token := r.PostFormValue("access_token"); token != "" {
			return token
		}
	}

	return r.URL.Query().Get("access_token")
}

// challenge writes a WWW-Authenticate challenge per RFC 6750. The scope
// attribute is included only for insufficient_scope rejections.
func (g *Guard) challenge(w http.ResponseWriter, code, description string, status int, requiredScope string) {
	value := fmt.Sprintf("Bearer realm=%q, error=%q, error_description=%q", g.realm, code, description)
	if requiredScope != "" {
		value += fmt.Sprintf(", scope=%q", requiredScope)
	}
	w.Header().Set("WWW-Authenticate", value)

	g.writeError(w, code, description, status)
}

// writeError writes an OAuth error response as JSON
func (g *Guard) writeError(w http.ResponseWriter, code, description string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(grantline.ErrorResponse{
		Error:            code,
		ErrorDescription: description,
	})
}

func (g *Guard) reject(ctx context.Context, outcome, requiredScope string) {
	g.recordDecision(ctx, outcome)
	if g.auditor != nil {
		g.auditor.LogGuardRejection(outcome, requiredScope)
	}
}

func (g *Guard) recordDecision(ctx context.Context, outcome string) {
	if g.inst == nil {
		return
	}
	g.inst.Metrics().RecordGuardDecision(ctx, outcome)
}
