package resource

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/oauthlab/grantline/security"
)

// Favorites is a resource owner's stored preferences
type Favorites struct {
	Movies []string `json:"movies"`
	Foods  []string `json:"foods"`
	Music  []string `json:"music"`
}

// DefaultFavorites are the built-in per-subject fixtures served by /favorites
func DefaultFavorites() map[string]Favorites {
	return map[string]Favorites{
		"alice": {
			Movies: []string{"The Multidimensional Vector", "Space Fights", "Jewelry of Fantastication"},
			Foods:  []string{"bacon", "pizza", "bearclaws"},
			Music:  []string{"techno", "industrial", "alternative"},
		},
		"bob": {
			Movies: []string{"An Unrequited Love", "Several Shades of Turquoise", "Think Of The Children"},
			Foods:  []string{"bacon", "kale", "gravel"},
			Music:  []string{"baroque", "ukulele", "baka"},
		},
	}
}

// ResourceResponse is the payload of the generic POST /resource endpoint
type ResourceResponse struct {
	Success  bool   `json:"success"`
	Subject  string `json:"user,omitempty"`
	ClientID string `json:"client,omitempty"`
}

// FavoritesResponse is the payload of GET /favorites
type FavoritesResponse struct {
	Subject   string    `json:"user"`
	Favorites Favorites `json:"favorites"`
}

// Handler is the HTTP surface of the protected resource
type Handler struct {
	guard     *Guard
	favorites map[string]Favorites
	logger    *slog.Logger
}

// NewHandler creates a protected resource handler. A nil favorites map falls
// back to the built-in fixtures.
func NewHandler(guard *Guard, favorites map[string]Favorites, logger *slog.Logger) *Handler {
	if favorites == nil {
		favorites = DefaultFavorites()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		guard:     guard,
		favorites: favorites,
		logger:    logger,
	}
}

// Routes registers the protected endpoints on the given mux. /resource only
// needs an active token; /favorites additionally demands the "foo" scope.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.Handle("/resource", security.RequestIDMiddleware(h.guard.RequireToken(http.HandlerFunc(h.ServeResource))))
	mux.Handle("/favorites", security.RequestIDMiddleware(h.guard.RequireScope("foo", http.HandlerFunc(h.ServeFavorites))))
}

// ServeResource confirms access and echoes whom the token acts for
func (h *Handler) ServeResource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	access, _ := AccessFromContext(r.Context())

	resp := ResourceResponse{Success: true}
	if access != nil {
		resp.Subject = access.Subject
		resp.ClientID = access.ClientID
	}

	h.writeJSON(w, resp)
}

// ServeFavorites returns the favorites of the resource owner the token acts
// for. Unknown subjects get an empty set rather than an error; the token was
// valid, there is just nothing stored for them.
func (h *Handler) ServeFavorites(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	access, ok := AccessFromContext(r.Context())
	if !ok {
		// Unreachable behind the guard; kept as a hard stop if wiring changes
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	favorites, found := h.favorites[access.Subject]
	if !found {
		favorites = Favorites{Movies: []string{}, Foods: []string{}, Music: []string{}}
	}

	h.logger.Debug("Serving favorites", "subject", access.Subject, "client_id", access.ClientID)
	h.writeJSON(w, FavoritesResponse{
		Subject:   access.Subject,
		Favorites: favorites,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}
