package authserver

import (
	"context"
	"encoding/json"
	"html/template"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/oauthlab/grantline"
	"github.com/oauthlab/grantline/instrumentation"
	"github.com/oauthlab/grantline/security"
)

// Handler is the HTTP surface of the authorization server
type Handler struct {
	server *Server
	logger *slog.Logger
	tracer trace.Tracer // OpenTelemetry tracer for HTTP layer
}

// NewHandler creates a new HTTP handler
func NewHandler(server *Server, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		server: server,
		logger: logger,
	}

	if server.Instrumentation() != nil {
		h.tracer = server.Instrumentation().Tracer("http")
	}

	return h
}

// Routes registers the authorization server endpoints on the given mux
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.Handle("/authorize", security.RequestIDMiddleware(http.HandlerFunc(h.ServeAuthorize)))
	mux.Handle("/approve", security.RequestIDMiddleware(http.HandlerFunc(h.ServeApprove)))
	mux.Handle("/token", security.RequestIDMiddleware(http.HandlerFunc(h.ServeToken)))
	mux.Handle("/introspect", security.RequestIDMiddleware(http.HandlerFunc(h.ServeIntrospect)))
}

// consentTemplate is the HTML page put in front of the resource owner when a
// client asks for authorization. The form posts back to /approve carrying the
// validated request parameters; the server re-validates them on submission.
var consentTemplate = template.Must(template.New("consent").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>Authorization Request</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', sans-serif; max-width: 32rem; margin: 4rem auto; padding: 0 1rem; color: #222; }
        .scope { display: inline-block; background: #eef; border-radius: 4px; padding: 0.1rem 0.5rem; margin: 0 0.2rem; font-family: monospace; }
        .actions button { font-size: 1rem; padding: 0.5rem 1.5rem; margin-right: 0.5rem; cursor: pointer; }
        select { font-size: 1rem; padding: 0.25rem; }
    </style>
</head>
<body>
    <h1>Authorization Request</h1>
    <p><strong>{{if .ClientName}}{{.ClientName}}{{else}}{{.ClientID}}{{end}}</strong> is asking for access{{if .Scope}} to:{{end}}</p>
    {{if .Scope}}<p>{{range .Scope}}<span class="scope">{{.}}</span>{{end}}</p>{{end}}
    <form method="POST" action="/approve">
        <input type="hidden" name="client_id" value="{{.ClientID}}">
        <input type="hidden" name="redirect_uri" value="{{.RedirectURI}}">
        <input type="hidden" name="scope" value="{{.ScopeJoined}}">
        <input type="hidden" name="state" value="{{.State}}">
        <p>
            <label for="subject">Approve as:</label>
            <select name="subject" id="subject">
                {{range .Subjects}}<option value="{{.}}">{{.}}</option>{{end}}
            </select>
        </p>
        <p class="actions">
            <button type="submit" name="approve" value="yes">Approve</button>
            <button type="submit" name="approve" value="no">Deny</button>
        </p>
    </form>
</body>
</html>`))

// consentPageData is the template payload for the consent page
type consentPageData struct {
	ClientID    string
	ClientName  string
	RedirectURI string
	Scope       []string
	ScopeJoined string
	State       string
	Subjects    []string
}

// ServeAuthorize handles GET /authorize: validates the authorization request
// and renders the consent page. Validation failures are reported directly to
// the user agent; the browser is never redirected to an unvalidated URI.
func (h *Handler) ServeAuthorize(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	var span trace.Span
	ctx := r.Context()
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oauth.http.authorize")
		defer span.End()
		r = r.WithContext(ctx)
	}

	if r.Method != http.MethodGet {
		h.recordHTTPMetrics("authorize", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	req := AuthorizeRequest{
		ResponseType: q.Get("response_type"),
		ClientID:     q.Get("client_id"),
		RedirectURI:  q.Get("redirect_uri"),
		Scope:        q.Get("scope"),
		State:        q.Get("state"),
	}

	consent, err := h.server.BeginAuthorization(ctx, req)
	if err != nil {
		instrumentation.RecordError(span, err)
		h.writeOAuthError(w, span, err, "authorize", http.MethodGet, startTime)
		return
	}

	security.SetPageSecurityHeaders(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	data := consentPageData{
		ClientID:    consent.ClientID,
		ClientName:  consent.ClientName,
		RedirectURI: consent.RedirectURI,
		Scope:       consent.Scope,
		ScopeJoined: grantline.JoinScope(consent.Scope),
		State:       consent.State,
		Subjects:    consent.Subjects,
	}
	if err := consentTemplate.Execute(w, data); err != nil {
		h.logger.Error("Failed to render consent page", "error", err)
	}

	instrumentation.AddHTTPAttributes(span, http.MethodGet, "authorize", http.StatusOK)
	h.recordHTTPMetrics("authorize", http.MethodGet, http.StatusOK, startTime)
	instrumentation.SetSpanSuccess(span)
}

// ServeApprove handles POST /approve: the consent form submission. On success
// the browser is redirected back to the client with either a code or
// error=access_denied.
func (h *Handler) ServeApprove(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	var span trace.Span
	ctx := r.Context()
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oauth.http.approve")
		defer span.End()
		r = r.WithContext(ctx)
	}

	if r.Method != http.MethodPost {
		h.recordHTTPMetrics("approve", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseForm(); err != nil {
		h.recordHTTPMetrics("approve", http.MethodPost, http.StatusBadRequest, startTime)
		h.writeError(w, grantline.ErrorCodeInvalidRequest, "malformed form body", http.StatusBadRequest)
		return
	}

	dec := Decision{
		Approved:    r.PostFormValue("approve") == "yes",
		ClientID:    r.PostFormValue("client_id"),
		RedirectURI: r.PostFormValue("redirect_uri"),
		Scope:       grantline.SplitScope(r.PostFormValue("scope")),
		State:       r.PostFormValue("state"),
		Subject:     r.PostFormValue("subject"),
	}

	redirect, err := h.server.FinishAuthorization(ctx, dec)
	if err != nil {
		instrumentation.RecordError(span, err)
		h.writeOAuthError(w, span, err, "approve", http.MethodPost, startTime)
		return
	}

	instrumentation.AddHTTPAttributes(span, http.MethodPost, "approve", http.StatusFound)
	h.recordHTTPMetrics("approve", http.MethodPost, http.StatusFound, startTime)
	instrumentation.SetSpanSuccess(span)
	http.Redirect(w, r, redirect, http.StatusFound)
}

// ServeToken handles POST /token: authenticates the client and exchanges an
// authorization code for an access token.
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	var span trace.Span
	ctx := r.Context()
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oauth.http.token")
		defer span.End()
		r = r.WithContext(ctx)
	}

	if r.Method != http.MethodPost {
		h.recordHTTPMetrics("token", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseForm(); err != nil {
		h.recordHTTPMetrics("token", http.MethodPost, http.StatusBadRequest, startTime)
		h.writeError(w, grantline.ErrorCodeInvalidRequest, "malformed form body", http.StatusBadRequest)
		return
	}

	req := TokenRequest{
		GrantType:    r.PostFormValue("grant_type"),
		Code:         r.PostFormValue("code"),
		RedirectURI:  r.PostFormValue("redirect_uri"),
		ClientID:     r.PostFormValue("client_id"),
		ClientSecret: r.PostFormValue("client_secret"),
	}

	// HTTP Basic client authentication is accepted as an alternative to
	// form parameters; the form values win when both are present.
	if req.ClientID == "" && req.ClientSecret == "" {
		if id, secret, ok := r.BasicAuth(); ok {
			req.ClientID = id
			req.ClientSecret = secret
		}
	}

	resp, err := h.server.Exchange(ctx, req)
	if err != nil {
		instrumentation.RecordError(span, err)
		h.writeOAuthError(w, span, err, "token", http.MethodPost, startTime)
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
	instrumentation.AddHTTPAttributes(span, http.MethodPost, "token", http.StatusOK)
	h.recordHTTPMetrics("token", http.MethodPost, http.StatusOK, startTime)
	instrumentation.SetSpanSuccess(span)
}

// introspectionRequest is the JSON form of an introspection request body
type introspectionRequest struct {
	Token string `json:"token"`
}

// ServeIntrospect handles POST /introspect. The token can arrive as a form
// parameter (RFC 7662) or as a small JSON body. The response never
// distinguishes why a token is inactive.
func (h *Handler) ServeIntrospect(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	var span trace.Span
	ctx := r.Context()
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oauth.http.introspect")
		defer span.End()
		r = r.WithContext(ctx)
	}

	if r.Method != http.MethodPost {
		h.recordHTTPMetrics("introspect", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// An absent token gets the same bare inactive answer as an unknown one;
	// the endpoint never hints at what went wrong
	token := h.extractIntrospectionToken(r)
	result := h.server.Introspect(ctx, token)

	h.writeJSON(w, http.StatusOK, result)
	instrumentation.AddHTTPAttributes(span, http.MethodPost, "introspect", http.StatusOK)
	h.recordHTTPMetrics("introspect", http.MethodPost, http.StatusOK, startTime)
	instrumentation.SetSpanSuccess(span)
}

// extractIntrospectionToken pulls the token from a form or JSON body
func (h *Handler) extractIntrospectionToken(r *http.Request) string {
	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "application/json") {
		var req introspectionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return ""
		}
		return req.Token
	}

	if err := r.ParseForm(); err != nil {
		return ""
	}
	return r.PostFormValue("token")
}

// writeOAuthError writes a *grantline.OAuthError with its own status code,
// falling back to server_error for anything else
func (h *Handler) writeOAuthError(w http.ResponseWriter, span trace.Span, err error, endpoint, method string, startTime time.Time) {
	status := http.StatusInternalServerError
	if oauthErr, ok := err.(*grantline.OAuthError); ok {
		status = oauthErr.Status
		instrumentation.AddHTTPAttributes(span, method, endpoint, status)
		h.recordHTTPMetrics(endpoint, method, status, startTime)
		h.writeError(w, oauthErr.Code, oauthErr.Description, status)
		return
	}

	h.logger.Error("Unexpected error", "endpoint", endpoint, "error", err)
	instrumentation.AddHTTPAttributes(span, method, endpoint, status)
	h.recordHTTPMetrics(endpoint, method, status, startTime)
	h.writeError(w, grantline.ErrorCodeServerError, "internal server error", http.StatusInternalServerError)
}

// writeError writes an OAuth error response as JSON
func (h *Handler) writeError(w http.ResponseWriter, code, description string, status int) {
	security.SetSecurityHeaders(w, h.server.Configuration().Issuer)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(grantline.ErrorResponse{
		Error:            code,
		ErrorDescription: description,
	})
}

// writeJSON writes a JSON response with security headers
func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	security.SetSecurityHeaders(w, h.server.Configuration().Issuer)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}

// recordHTTPMetrics records request count and duration for an endpoint
func (h *Handler) recordHTTPMetrics(endpoint, method string, status int, startTime time.Time) {
	if h.server.Instrumentation() == nil {
		return
	}

	metrics := h.server.Instrumentation().Metrics()
	ctx := context.Background()

	duration := time.Since(startTime).Seconds() * 1000 // convert to milliseconds
	metrics.RecordHTTPRequest(ctx, method, endpoint, status, duration)
}
