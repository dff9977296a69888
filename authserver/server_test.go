package authserver

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/oauthlab/grantline"
	"github.com/oauthlab/grantline/internal/testutil"
	"github.com/oauthlab/grantline/storage"
	"github.com/oauthlab/grantline/storage/memory"
)

func newTestServer(t *testing.T) (*Server, *memory.Store) {
	t.Helper()
	store := memory.New()
	t.Cleanup(store.Stop)
	testutil.SaveTestClient(t, store)

	server, err := New(store, store, store, &Config{Issuer: "http://localhost:9001"}, nil)
	testutil.AssertNoError(t, err)
	return server, store
}

func oauthCode(t *testing.T, err error) string {
	t.Helper()
	var oauthErr *grantline.OAuthError
	if !errors.As(err, &oauthErr) {
		t.Fatalf("error %v is not an OAuthError", err)
	}
	return oauthErr.Code
}

func TestNewRequiresStores(t *testing.T) {
	_, err := New(nil, nil, nil, nil, nil)
	testutil.AssertError(t, err)
}

func TestNewDefaults(t *testing.T) {
	store := memory.New()
	defer store.Stop()

	server, err := New(store, store, store, nil, nil)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, server.Configuration().AccessTokenTTL, DefaultAccessTokenTTL)
	testutil.AssertEqual(t, len(server.Configuration().Subjects), 2)
}

func TestBeginAuthorizationValidation(t *testing.T) {
	server, _ := newTestServer(t)
	ctx := context.Background()

	valid := AuthorizeRequest{
		ResponseType: "code",
		ClientID:     testutil.TestClientID,
		RedirectURI:  testutil.TestRedirectURI,
		Scope:        "foo bar",
		State:        "xyz",
	}

	tests := []struct {
		name     string
		mutate   func(*AuthorizeRequest)
		wantCode string
	}{
		{
			name:     "wrong response type",
			mutate:   func(r *AuthorizeRequest) { r.ResponseType = "token" },
			wantCode: grantline.ErrorCodeInvalidRequest,
		},
		{
			name:     "missing response type",
			mutate:   func(r *AuthorizeRequest) { r.ResponseType = "" },
			wantCode: grantline.ErrorCodeInvalidRequest,
		},
		{
			name:     "unknown client",
			mutate:   func(r *AuthorizeRequest) { r.ClientID = "nope" },
			wantCode: grantline.ErrorCodeInvalidRequest,
		},
		{
			name:     "unregistered redirect URI",
			mutate:   func(r *AuthorizeRequest) { r.RedirectURI = "http://evil.example/callback" },
			wantCode: grantline.ErrorCodeInvalidRedirectURI,
		},
		{
			name: "redirect URI differing only by trailing slash",
			mutate: func(r *AuthorizeRequest) {
				r.RedirectURI = testutil.TestRedirectURI + "/"
			},
			wantCode: grantline.ErrorCodeInvalidRedirectURI,
		},
		{
			name:     "scope exceeds client registration",
			mutate:   func(r *AuthorizeRequest) { r.Scope = "foo bar baz" },
			wantCode: grantline.ErrorCodeInvalidScope,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			tt.mutate(&req)
			_, err := server.BeginAuthorization(ctx, req)
			testutil.AssertError(t, err)
			testutil.AssertEqual(t, oauthCode(t, err), tt.wantCode)
		})
	}
}

func TestBeginAuthorizationSuccess(t *testing.T) {
	server, _ := newTestServer(t)

	consent, err := server.BeginAuthorization(context.Background(), AuthorizeRequest{
		ResponseType: "code",
		ClientID:     testutil.TestClientID,
		RedirectURI:  testutil.TestRedirectURI,
		Scope:        "foo",
		State:        "xyz123",
	})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, consent.ClientID, testutil.TestClientID)
	testutil.AssertEqual(t, consent.State, "xyz123")
	testutil.AssertEqual(t, len(consent.Scope), 1)
	testutil.AssertEqual(t, consent.Scope[0], "foo")
	testutil.AssertEqual(t, len(consent.Subjects), 2)
}

func TestBeginAuthorizationEmptyScope(t *testing.T) {
	server, _ := newTestServer(t)

	// Empty scope is a valid request for the trivial subset
	consent, err := server.BeginAuthorization(context.Background(), AuthorizeRequest{
		ResponseType: "code",
		ClientID:     testutil.TestClientID,
		RedirectURI:  testutil.TestRedirectURI,
	})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, len(consent.Scope), 0)
}

func TestFinishAuthorizationDenied(t *testing.T) {
	server, _ := newTestServer(t)

	redirect, err := server.FinishAuthorization(context.Background(), Decision{
		Approved:    false,
		ClientID:    testutil.TestClientID,
		RedirectURI: testutil.TestRedirectURI,
		Scope:       []string{"foo"},
		State:       "deny-state",
		Subject:     testutil.TestSubject,
	})
	testutil.AssertNoError(t, err)

	u, err := url.Parse(redirect)
	testutil.AssertNoError(t, err)
	q := u.Query()
	testutil.AssertEqual(t, q.Get("error"), grantline.ErrorCodeAccessDenied)
	testutil.AssertEqual(t, q.Get("state"), "deny-state")
	testutil.AssertEqual(t, q.Get("code"), "")
}

func TestFinishAuthorizationApproved(t *testing.T) {
	server, store := newTestServer(t)
	ctx := context.Background()

	redirect, err := server.FinishAuthorization(ctx, Decision{
		Approved:    true,
		ClientID:    testutil.TestClientID,
		RedirectURI: testutil.TestRedirectURI,
		Scope:       []string{"foo", "bar"},
		State:       "approve-state",
		Subject:     testutil.TestSubject,
	})
	testutil.AssertNoError(t, err)

	u, err := url.Parse(redirect)
	testutil.AssertNoError(t, err)
	if !strings.HasPrefix(redirect, testutil.TestRedirectURI) {
		t.Errorf("redirect %q does not target the registered redirect URI", redirect)
	}
	q := u.Query()
	code := q.Get("code")
	if code == "" {
		t.Fatal("redirect carries no authorization code")
	}
	testutil.AssertEqual(t, q.Get("state"), "approve-state")

	// The code must be redeemable, bound to the decision
	grant, err := store.RedeemGrant(ctx, code)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, grant.ClientID, testutil.TestClientID)
	testutil.AssertEqual(t, grant.Subject, testutil.TestSubject)
	testutil.AssertEqual(t, grant.RedirectURI, testutil.TestRedirectURI)
}

func TestFinishAuthorizationStatePreserved(t *testing.T) {
	server, _ := newTestServer(t)

	// State values with URL-significant characters must survive the round trip
	state := "a b&c=d?e/f+g"
	redirect, err := server.FinishAuthorization(context.Background(), Decision{
		Approved:    true,
		ClientID:    testutil.TestClientID,
		RedirectURI: testutil.TestRedirectURI,
		Scope:       []string{"foo"},
		State:       state,
		Subject:     testutil.TestSubject,
	})
	testutil.AssertNoError(t, err)

	u, err := url.Parse(redirect)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, u.Query().Get("state"), state)
}

func TestFinishAuthorizationRevalidates(t *testing.T) {
	server, _ := newTestServer(t)
	ctx := context.Background()

	_, err := server.FinishAuthorization(ctx, Decision{
		Approved:    true,
		ClientID:    "nope",
		RedirectURI: testutil.TestRedirectURI,
		Subject:     testutil.TestSubject,
	})
	testutil.AssertError(t, err)
	testutil.AssertEqual(t, oauthCode(t, err), grantline.ErrorCodeInvalidRequest)

	_, err = server.FinishAuthorization(ctx, Decision{
		Approved:    true,
		ClientID:    testutil.TestClientID,
		RedirectURI: "http://evil.example/callback",
		Subject:     testutil.TestSubject,
	})
	testutil.AssertError(t, err)
	testutil.AssertEqual(t, oauthCode(t, err), grantline.ErrorCodeInvalidRedirectURI)
}

func issueCode(t *testing.T, server *Server) string {
	t.Helper()
	redirect, err := server.FinishAuthorization(context.Background(), Decision{
		Approved:    true,
		ClientID:    testutil.TestClientID,
		RedirectURI: testutil.TestRedirectURI,
		Scope:       []string{"foo", "bar"},
		State:       "s",
		Subject:     testutil.TestSubject,
	})
	testutil.AssertNoError(t, err)
	u, err := url.Parse(redirect)
	testutil.AssertNoError(t, err)
	return u.Query().Get("code")
}

func TestExchangeSuccess(t *testing.T) {
	server, store := newTestServer(t)
	ctx := context.Background()
	code := issueCode(t, server)

	resp, err := server.Exchange(ctx, TokenRequest{
		GrantType:    "authorization_code",
		Code:         code,
		RedirectURI:  testutil.TestRedirectURI,
		ClientID:     testutil.TestClientID,
		ClientSecret: testutil.TestClientSecret,
	})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, resp.TokenType, "Bearer")
	testutil.AssertEqual(t, resp.ExpiresIn, int64(3600))
	testutil.AssertEqual(t, resp.Scope, "foo bar")
	if resp.AccessToken == "" {
		t.Fatal("response carries no access token")
	}

	stored, err := store.GetToken(ctx, resp.AccessToken)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, stored.Subject, testutil.TestSubject)
}

func TestExchangeInvalidClient(t *testing.T) {
	server, store := newTestServer(t)
	ctx := context.Background()
	code := issueCode(t, server)

	_, err := server.Exchange(ctx, TokenRequest{
		GrantType:    "authorization_code",
		Code:         code,
		RedirectURI:  testutil.TestRedirectURI,
		ClientID:     testutil.TestClientID,
		ClientSecret: "wrong",
	})
	testutil.AssertError(t, err)
	testutil.AssertEqual(t, oauthCode(t, err), grantline.ErrorCodeInvalidClient)

	// Client authentication runs before redemption, so the code survives
	_, err = store.RedeemGrant(ctx, code)
	testutil.AssertNoError(t, err)
}

func TestExchangeUnsupportedGrantType(t *testing.T) {
	server, store := newTestServer(t)
	ctx := context.Background()
	code := issueCode(t, server)

	_, err := server.Exchange(ctx, TokenRequest{
		GrantType:    "client_credentials",
		Code:         code,
		RedirectURI:  testutil.TestRedirectURI,
		ClientID:     testutil.TestClientID,
		ClientSecret: testutil.TestClientSecret,
	})
	testutil.AssertError(t, err)
	testutil.AssertEqual(t, oauthCode(t, err), grantline.ErrorCodeUnsupportedGrantType)

	// Grant type is checked before redemption, so the code survives
	_, err = store.RedeemGrant(ctx, code)
	testutil.AssertNoError(t, err)
}

func TestExchangeUnknownCode(t *testing.T) {
	server, _ := newTestServer(t)

	_, err := server.Exchange(context.Background(), TokenRequest{
		GrantType:    "authorization_code",
		Code:         "never-issued",
		RedirectURI:  testutil.TestRedirectURI,
		ClientID:     testutil.TestClientID,
		ClientSecret: testutil.TestClientSecret,
	})
	testutil.AssertError(t, err)
	testutil.AssertEqual(t, oauthCode(t, err), grantline.ErrorCodeInvalidGrant)
}

func TestExchangeCodeSingleUse(t *testing.T) {
	server, _ := newTestServer(t)
	ctx := context.Background()
	code := issueCode(t, server)

	req := TokenRequest{
		GrantType:    "authorization_code",
		Code:         code,
		RedirectURI:  testutil.TestRedirectURI,
		ClientID:     testutil.TestClientID,
		ClientSecret: testutil.TestClientSecret,
	}

	_, err := server.Exchange(ctx, req)
	testutil.AssertNoError(t, err)

	_, err = server.Exchange(ctx, req)
	testutil.AssertError(t, err)
	testutil.AssertEqual(t, oauthCode(t, err), grantline.ErrorCodeInvalidGrant)
}

func TestExchangeRedirectURIMismatchConsumesCode(t *testing.T) {
	server, store := newTestServer(t)
	ctx := context.Background()
	code := issueCode(t, server)

	_, err := server.Exchange(ctx, TokenRequest{
		GrantType:    "authorization_code",
		Code:         code,
		RedirectURI:  "http://evil.example/callback",
		ClientID:     testutil.TestClientID,
		ClientSecret: testutil.TestClientSecret,
	})
	testutil.AssertError(t, err)
	testutil.AssertEqual(t, oauthCode(t, err), grantline.ErrorCodeInvalidGrant)

	// The mismatch still burned the code
	_, err = store.RedeemGrant(ctx, code)
	if !errors.Is(err, storage.ErrGrantNotFound) {
		t.Errorf("code survived a mismatched exchange: err = %v", err)
	}
}

func TestExchangeClientMismatchConsumesCode(t *testing.T) {
	server, store := newTestServer(t)
	ctx := context.Background()

	// Register a second client and issue a code bound to the first
	second := testutil.GenerateTestClient(t)
	second.ClientID = "oauth-client-2"
	testutil.AssertNoError(t, store.SaveClient(ctx, second))
	code := issueCode(t, server)

	_, err := server.Exchange(ctx, TokenRequest{
		GrantType:    "authorization_code",
		Code:         code,
		RedirectURI:  testutil.TestRedirectURI,
		ClientID:     second.ClientID,
		ClientSecret: testutil.TestClientSecret,
	})
	testutil.AssertError(t, err)
	testutil.AssertEqual(t, oauthCode(t, err), grantline.ErrorCodeInvalidGrant)

	_, err = store.RedeemGrant(ctx, code)
	if !errors.Is(err, storage.ErrGrantNotFound) {
		t.Errorf("code survived a mismatched exchange: err = %v", err)
	}
}

func TestIntrospectActiveToken(t *testing.T) {
	server, _ := newTestServer(t)
	ctx := context.Background()
	code := issueCode(t, server)

	resp, err := server.Exchange(ctx, TokenRequest{
		GrantType:    "authorization_code",
		Code:         code,
		RedirectURI:  testutil.TestRedirectURI,
		ClientID:     testutil.TestClientID,
		ClientSecret: testutil.TestClientSecret,
	})
	testutil.AssertNoError(t, err)

	intro := server.Introspect(ctx, resp.AccessToken)
	testutil.AssertEqual(t, intro.Active, true)
	testutil.AssertEqual(t, intro.ClientID, testutil.TestClientID)
	testutil.AssertEqual(t, intro.Subject, testutil.TestSubject)
	testutil.AssertEqual(t, intro.Scope, "foo bar")
	if intro.ExpiresAt <= time.Now().Unix() {
		t.Errorf("expiry %d is not in the future", intro.ExpiresAt)
	}
}

func TestIntrospectInactiveUniform(t *testing.T) {
	server, store := newTestServer(t)
	ctx := context.Background()

	expired := testutil.GenerateTestAccessToken()
	expired.ExpiresAt = time.Now().Add(-time.Minute)
	testutil.AssertNoError(t, store.SaveToken(ctx, expired))

	// Unknown, expired, and empty tokens all produce the same bare answer
	for _, token := range []string{"never-minted", expired.Token, ""} {
		intro := server.Introspect(ctx, token)
		testutil.AssertEqual(t, intro.Active, false)
		testutil.AssertEqual(t, intro.ClientID, "")
		testutil.AssertEqual(t, intro.Subject, "")
		testutil.AssertEqual(t, intro.Scope, "")
		testutil.AssertEqual(t, intro.ExpiresAt, int64(0))
	}
}

func TestBuildRedirectPreservesExistingQuery(t *testing.T) {
	redirect, err := buildRedirect("http://localhost:9000/callback?keep=1", map[string]string{"code": "abc"}, "st")
	testutil.AssertNoError(t, err)

	u, err := url.Parse(redirect)
	testutil.AssertNoError(t, err)
	q := u.Query()
	testutil.AssertEqual(t, q.Get("keep"), "1")
	testutil.AssertEqual(t, q.Get("code"), "abc")
	testutil.AssertEqual(t, q.Get("state"), "st")
}
