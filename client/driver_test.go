package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/oauthlab/grantline"
	"github.com/oauthlab/grantline/internal/testutil"
)

func newTestDriver(authURL, tokenURL string) *Driver {
	return New(Config{
		ClientID:     testutil.TestClientID,
		ClientSecret: testutil.TestClientSecret,
		AuthURL:      authURL,
		TokenURL:     tokenURL,
		RedirectURL:  testutil.TestRedirectURI,
		Scopes:       []string{"foo", "bar"},
	}, nil)
}

func oauthErrCode(t *testing.T, err error) string {
	t.Helper()
	var oauthErr *grantline.OAuthError
	if !errors.As(err, &oauthErr) {
		t.Fatalf("error %v is not an OAuthError", err)
	}
	return oauthErr.Code
}

func TestBeginBuildsAuthorizationURL(t *testing.T) {
	driver := newTestDriver("http://localhost:9001/authorize", "http://localhost:9001/token")
	sess := &Session{ID: "s1"}

	authURL := driver.Begin(sess)

	if sess.State() == "" {
		t.Fatal("Begin did not store a state nonce on the session")
	}

	u, err := url.Parse(authURL)
	testutil.AssertNoError(t, err)
	q := u.Query()
	testutil.AssertEqual(t, q.Get("response_type"), "code")
	testutil.AssertEqual(t, q.Get("client_id"), testutil.TestClientID)
	testutil.AssertEqual(t, q.Get("redirect_uri"), testutil.TestRedirectURI)
	testutil.AssertEqual(t, q.Get("scope"), "foo bar")
	testutil.AssertEqual(t, q.Get("state"), sess.State())
}

func TestBeginReplacesPreviousState(t *testing.T) {
	driver := newTestDriver("http://localhost:9001/authorize", "http://localhost:9001/token")
	sess := &Session{ID: "s1"}

	driver.Begin(sess)
	first := sess.State()
	driver.Begin(sess)

	testutil.AssertNotEqual(t, sess.State(), first)
}

func TestHandleCallbackStateMismatch(t *testing.T) {
	driver := newTestDriver("http://localhost:9001/authorize", "http://localhost:9001/token")
	sess := &Session{ID: "s1"}
	sess.SetState("expected")

	err := driver.HandleCallback(context.Background(), sess, "some-code", "tampered")
	testutil.AssertError(t, err)
	testutil.AssertEqual(t, oauthErrCode(t, err), grantline.ErrorCodeStateMismatch)

	// The nonce survives only an unmatched callback; a matched one spends it
	testutil.AssertEqual(t, sess.State(), "expected")
}

func TestHandleCallbackNoPendingFlow(t *testing.T) {
	driver := newTestDriver("http://localhost:9001/authorize", "http://localhost:9001/token")
	sess := &Session{ID: "s1"} // no state set

	err := driver.HandleCallback(context.Background(), sess, "some-code", "")
	testutil.AssertError(t, err)
	testutil.AssertEqual(t, oauthErrCode(t, err), grantline.ErrorCodeStateMismatch)
}

func TestHandleCallbackMissingCode(t *testing.T) {
	driver := newTestDriver("http://localhost:9001/authorize", "http://localhost:9001/token")
	sess := &Session{ID: "s1"}

	driver.Begin(sess)
	state := sess.State()

	// A callback that matches the nonce but carries no code is rejected the
	// same way as a tampered state, and the nonce stays pending
	err := driver.HandleCallback(context.Background(), sess, "", state)
	testutil.AssertError(t, err)
	testutil.AssertEqual(t, oauthErrCode(t, err), grantline.ErrorCodeStateMismatch)
	testutil.AssertEqual(t, sess.State(), state)
}

func TestHandleCallbackExchangesCode(t *testing.T) {
	var gotForm url.Values
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("failed to parse form: %v", err)
		}
		gotForm = r.PostForm

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(grantline.TokenResponse{
			AccessToken: "minted-token",
			TokenType:   "Bearer",
			ExpiresIn:   3600,
			Scope:       "foo bar",
		})
	}))
	defer tokenServer.Close()

	driver := newTestDriver("http://localhost:9001/authorize", tokenServer.URL)
	sess := &Session{ID: "s1"}
	sess.SetState("st")

	err := driver.HandleCallback(context.Background(), sess, "the-code", "st")
	testutil.AssertNoError(t, err)

	testutil.AssertEqual(t, gotForm.Get("grant_type"), "authorization_code")
	testutil.AssertEqual(t, gotForm.Get("code"), "the-code")
	testutil.AssertEqual(t, gotForm.Get("redirect_uri"), testutil.TestRedirectURI)
	testutil.AssertEqual(t, gotForm.Get("client_id"), testutil.TestClientID)
	testutil.AssertEqual(t, gotForm.Get("client_secret"), testutil.TestClientSecret)

	testutil.AssertEqual(t, sess.Token(), "minted-token")
	testutil.AssertEqual(t, sess.Scope(), "foo bar")
	testutil.AssertEqual(t, sess.State(), "")
}

func TestHandleCallbackExchangeRejected(t *testing.T) {
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(grantline.ErrorResponse{Error: grantline.ErrorCodeInvalidGrant})
	}))
	defer tokenServer.Close()

	driver := newTestDriver("http://localhost:9001/authorize", tokenServer.URL)
	sess := &Session{ID: "s1"}
	sess.SetState("st")

	err := driver.HandleCallback(context.Background(), sess, "burned-code", "st")
	testutil.AssertError(t, err)
	testutil.AssertEqual(t, oauthErrCode(t, err), grantline.ErrorCodeTokenExchangeFailed)
	testutil.AssertEqual(t, sess.Token(), "")

	// The nonce was spent on the matched callback even though the exchange
	// failed; replaying the same callback now reads as a mismatch
	testutil.AssertEqual(t, sess.State(), "")
}

func TestConsumeStateSingleWinner(t *testing.T) {
	sess := &Session{ID: "s1"}
	sess.SetState("st")

	const callbacks = 20
	start := make(chan struct{})
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0

	for i := 0; i < callbacks; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if sess.ConsumeState("st") {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	close(start)
	wg.Wait()

	if wins != 1 {
		t.Errorf("wins = %d, want exactly 1", wins)
	}
	testutil.AssertEqual(t, sess.State(), "")
}

func TestCallResourceNoToken(t *testing.T) {
	driver := newTestDriver("http://localhost:9001/authorize", "http://localhost:9001/token")
	sess := &Session{ID: "s1"}

	_, err := driver.CallResource(context.Background(), sess, http.MethodPost, "http://localhost:9002/resource")
	if !errors.Is(err, ErrNoAccessToken) {
		t.Errorf("err = %v, want ErrNoAccessToken", err)
	}
}

func TestCallResourcePresentsBearer(t *testing.T) {
	var gotAuth string
	resourceServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer resourceServer.Close()

	driver := newTestDriver("http://localhost:9001/authorize", "http://localhost:9001/token")
	sess := &Session{ID: "s1"}
	sess.SetToken("minted-token", "foo bar")

	body, err := driver.CallResource(context.Background(), sess, http.MethodPost, resourceServer.URL)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, gotAuth, "Bearer minted-token")
	testutil.AssertStringContains(t, string(body), `"success":true`)
}

func TestCallResourceRejected(t *testing.T) {
	resourceServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer resourceServer.Close()

	driver := newTestDriver("http://localhost:9001/authorize", "http://localhost:9001/token")
	sess := &Session{ID: "s1"}
	sess.SetToken("stale-token", "")

	_, err := driver.CallResource(context.Background(), sess, http.MethodPost, resourceServer.URL)
	testutil.AssertError(t, err)
	testutil.AssertEqual(t, oauthErrCode(t, err), grantline.ErrorCodeResourceCallFailed)
}

func TestCallResourceUnreachable(t *testing.T) {
	resourceServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	resourceServer.Close() // shut down before use

	driver := newTestDriver("http://localhost:9001/authorize", "http://localhost:9001/token")
	sess := &Session{ID: "s1"}
	sess.SetToken("minted-token", "")

	_, err := driver.CallResource(context.Background(), sess, http.MethodPost, resourceServer.URL)
	testutil.AssertError(t, err)
	testutil.AssertEqual(t, oauthErrCode(t, err), grantline.ErrorCodeServerError)
}
