package client

import (
	"bytes"
	"encoding/json"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/oauthlab/grantline"
	"github.com/oauthlab/grantline/internal/util"
)

// SessionCookieName is the cookie carrying the opaque session ID
const SessionCookieName = "grantline_session"

// HandlerConfig holds the client UI configuration
type HandlerConfig struct {
	// ResourceURL is the generic protected endpoint (called with POST)
	ResourceURL string

	// FavoritesURL is the scope-guarded favorites endpoint (called with GET)
	FavoritesURL string
}

// Handler is the browser-facing surface of the client: a small UI that
// starts flows, receives callbacks, and shows fetched resources.
type Handler struct {
	driver   *Driver
	sessions *SessionStore
	config   HandlerConfig
	logger   *slog.Logger
}

// NewHandler creates the client HTTP handler
func NewHandler(driver *Driver, sessions *SessionStore, config HandlerConfig, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		driver:   driver,
		sessions: sessions,
		config:   config,
		logger:   logger,
	}
}

// Routes registers the client endpoints on the given mux
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/", h.ServeHome)
	mux.HandleFunc("/authorize", h.ServeAuthorize)
	mux.HandleFunc("/callback", h.ServeCallback)
	mux.HandleFunc("/fetch_resource", h.ServeFetchResource)
	mux.HandleFunc("/favorites", h.ServeFavorites)
	mux.HandleFunc("/logout", h.ServeLogout)
}

var homeTemplate = template.Must(template.New("home").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>OAuth Client</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', sans-serif; max-width: 36rem; margin: 4rem auto; padding: 0 1rem; color: #222; }
        code { background: #f4f4f4; border-radius: 4px; padding: 0.1rem 0.4rem; word-break: break-all; }
        a.button { display: inline-block; background: #2a6; color: #fff; text-decoration: none; border-radius: 4px; padding: 0.5rem 1rem; margin-right: 0.5rem; }
    </style>
</head>
<body>
    <h1>OAuth Client</h1>
    {{if .AccessToken}}
    <p>Access token: <code>{{.AccessToken}}</code></p>
    <p>Scope: <code>{{if .Scope}}{{.Scope}}{{else}}(none){{end}}</code></p>
    <p>
        <a class="button" href="/fetch_resource">Fetch resource</a>
        <a class="button" href="/favorites">Fetch favorites</a>
        <a class="button" href="/logout">Forget token</a>
    </p>
    {{else}}
    <p>No access token yet.</p>
    <p><a class="button" href="/authorize">Get a token</a></p>
    {{end}}
</body>
</html>`))

var resultTemplate = template.Must(template.New("result").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>{{.Title}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', sans-serif; max-width: 36rem; margin: 4rem auto; padding: 0 1rem; color: #222; }
        pre { background: #f4f4f4; border-radius: 4px; padding: 1rem; overflow-x: auto; }
        .error { color: #a22; }
    </style>
</head>
<body>
    <h1{{if .IsError}} class="error"{{end}}>{{.Title}}</h1>
    {{if .Detail}}<p>{{.Detail}}</p>{{end}}
    {{if .Body}}<pre>{{.Body}}</pre>{{end}}
    <p><a href="/">Back</a></p>
</body>
</html>`))

type resultPageData struct {
	Title   string
	Detail  string
	Body    string
	IsError bool
}

type homePageData struct {
	AccessToken string
	Scope       string
}

// session finds the user agent's session, creating one (and setting the
// cookie) on first contact.
func (h *Handler) session(w http.ResponseWriter, r *http.Request) *Session {
	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		if sess, ok := h.sessions.Get(cookie.Value); ok {
			return sess
		}
	}

	sess := h.sessions.Create()
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    sess.ID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return sess
}

// ServeHome renders the landing page with the session's current token
func (h *Handler) ServeHome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	sess := h.session(w, r)
	h.renderHome(w, sess)
}

// ServeAuthorize starts an authorization flow and sends the browser to the
// authorization server
func (h *Handler) ServeAuthorize(w http.ResponseWriter, r *http.Request) {
	sess := h.session(w, r)
	authURL := h.driver.Begin(sess)
	http.Redirect(w, r, authURL, http.StatusFound)
}

// ServeCallback receives the redirect back from the authorization server
func (h *Handler) ServeCallback(w http.ResponseWriter, r *http.Request) {
	sess := h.session(w, r)
	q := r.URL.Query()

	// The authorization server reports denials and other errors by
	// redirecting here with an error parameter instead of a code
	if errCode := q.Get("error"); errCode != "" {
		h.logger.Warn("Authorization failed", "error", errCode)
		h.renderResult(w, http.StatusBadRequest, resultPageData{
			Title:   "Authorization failed",
			Detail:  errCode,
			IsError: true,
		})
		return
	}

	if err := h.driver.HandleCallback(r.Context(), sess, q.Get("code"), q.Get("state")); err != nil {
		status := http.StatusBadRequest
		detail := err.Error()
		if oauthErr, ok := err.(*grantline.OAuthError); ok {
			status = oauthErr.Status
			detail = oauthErr.Description
		}
		h.renderResult(w, status, resultPageData{
			Title:   "Authorization failed",
			Detail:  detail,
			IsError: true,
		})
		return
	}

	http.Redirect(w, r, "/", http.StatusFound)
}

// ServeFetchResource calls the generic protected endpoint with the session's token
func (h *Handler) ServeFetchResource(w http.ResponseWriter, r *http.Request) {
	sess := h.session(w, r)
	h.callAndRender(w, r, sess, http.MethodPost, h.config.ResourceURL, "Protected resource")
}

// ServeFavorites calls the scope-guarded favorites endpoint with the session's token
func (h *Handler) ServeFavorites(w http.ResponseWriter, r *http.Request) {
	sess := h.session(w, r)
	h.callAndRender(w, r, sess, http.MethodGet, h.config.FavoritesURL, "Favorites")
}

// ServeLogout discards the session and its token
func (h *Handler) ServeLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		h.sessions.Delete(cookie.Value)
	}
	http.SetCookie(w, &http.Cookie{
		Name:   SessionCookieName,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
	http.Redirect(w, r, "/", http.StatusFound)
}

func (h *Handler) callAndRender(w http.ResponseWriter, r *http.Request, sess *Session, method, endpoint, title string) {
	body, err := h.driver.CallResource(r.Context(), sess, method, endpoint)
	if err != nil {
		status := http.StatusBadRequest
		detail := err.Error()
		if err == ErrNoAccessToken {
			detail = "no access token - authorize first"
		} else if oauthErr, ok := err.(*grantline.OAuthError); ok {
			status = oauthErr.Status
			detail = oauthErr.Description
		}
		h.renderResult(w, status, resultPageData{
			Title:   title + " call failed",
			Detail:  detail,
			IsError: true,
		})
		return
	}

	h.renderResult(w, http.StatusOK, resultPageData{
		Title: title,
		Body:  prettyJSON(body),
	})
}

func (h *Handler) renderHome(w http.ResponseWriter, sess *Session) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	data := homePageData{
		AccessToken: sess.Token(),
		Scope:       sess.Scope(),
	}
	if err := homeTemplate.Execute(w, data); err != nil {
		h.logger.Error("Failed to render home page", "error", err)
	}
}

func (h *Handler) renderResult(w http.ResponseWriter, status int, data resultPageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := resultTemplate.Execute(w, data); err != nil {
		h.logger.Error("Failed to render result page", "error", err)
	}
}

// prettyJSON re-indents a JSON body for display, falling back to a truncated
// raw dump for anything that isn't JSON
func prettyJSON(body []byte) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, body, "", "  "); err != nil {
		return util.SafeTruncate(string(body), 4096)
	}
	return buf.String()
}
