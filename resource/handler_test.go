package resource

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/oauthlab/grantline/internal/testutil"
)

func newResourceMux(t *testing.T, stub *stubIntrospector) *http.ServeMux {
	t.Helper()
	guard := NewGuard(stub)
	handler := NewHandler(guard, nil, nil)
	mux := http.NewServeMux()
	handler.Routes(mux)
	return mux
}

func TestServeResourceEchoesClaims(t *testing.T) {
	mux := newResourceMux(t, newStub("foo bar"))

	req := httptest.NewRequest(http.MethodPost, "/resource", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	testutil.AssertEqual(t, rec.Code, http.StatusOK)
	var resp ResourceResponse
	testutil.AssertNoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	testutil.AssertEqual(t, resp.Success, true)
	testutil.AssertEqual(t, resp.Subject, testutil.TestSubject)
	testutil.AssertEqual(t, resp.ClientID, testutil.TestClientID)
}

func TestServeResourceMethodNotAllowed(t *testing.T) {
	mux := newResourceMux(t, newStub("foo"))

	req := httptest.NewRequest(http.MethodGet, "/resource", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	testutil.AssertEqual(t, rec.Code, http.StatusMethodNotAllowed)
}

func TestServeResourceRejectsWithoutToken(t *testing.T) {
	mux := newResourceMux(t, newStub("foo"))

	req := httptest.NewRequest(http.MethodPost, "/resource", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	testutil.AssertEqual(t, rec.Code, http.StatusUnauthorized)
}

func TestServeFavoritesKnownSubject(t *testing.T) {
	mux := newResourceMux(t, newStub("foo"))

	req := httptest.NewRequest(http.MethodGet, "/favorites", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	testutil.AssertEqual(t, rec.Code, http.StatusOK)
	var resp FavoritesResponse
	testutil.AssertNoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	testutil.AssertEqual(t, resp.Subject, "alice")
	testutil.AssertEqual(t, len(resp.Favorites.Movies), 3)
	testutil.AssertEqual(t, resp.Favorites.Foods[0], "bacon")
}

func TestServeFavoritesUnknownSubject(t *testing.T) {
	stub := newStub("foo")
	stub.tokens["good-token"].Subject = "mallory"
	mux := newResourceMux(t, stub)

	req := httptest.NewRequest(http.MethodGet, "/favorites", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	// A valid token for an unknown subject gets an empty set, not an error
	testutil.AssertEqual(t, rec.Code, http.StatusOK)
	var resp FavoritesResponse
	testutil.AssertNoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	testutil.AssertEqual(t, resp.Subject, "mallory")
	testutil.AssertEqual(t, len(resp.Favorites.Movies), 0)
	testutil.AssertEqual(t, len(resp.Favorites.Foods), 0)
	testutil.AssertEqual(t, len(resp.Favorites.Music), 0)
}

func TestServeFavoritesScopeEnforced(t *testing.T) {
	// Token active but without the "foo" scope the route demands
	mux := newResourceMux(t, newStub("bar"))

	req := httptest.NewRequest(http.MethodGet, "/favorites", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	testutil.AssertEqual(t, rec.Code, http.StatusForbidden)
	testutil.AssertStringContains(t, rec.Header().Get("WWW-Authenticate"), `scope="foo"`)
}

func TestCustomFavorites(t *testing.T) {
	guard := NewGuard(newStub("foo"))
	custom := map[string]Favorites{
		"alice": {Movies: []string{"Solo"}, Foods: []string{"toast"}, Music: []string{"jazz"}},
	}
	handler := NewHandler(guard, custom, nil)
	mux := http.NewServeMux()
	handler.Routes(mux)

	req := httptest.NewRequest(http.MethodGet, "/favorites", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	testutil.AssertEqual(t, rec.Code, http.StatusOK)
	var resp FavoritesResponse
	testutil.AssertNoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	testutil.AssertEqual(t, resp.Favorites.Movies[0], "Solo")
}
