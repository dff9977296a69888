// Package testutil provides testing utilities and fixtures shared by the
// grantline test suites.
package testutil

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/oauthlab/grantline/storage"
)

// Fixture values mirroring the default three-party wiring.
const (
	TestClientID     = "oauth-client-1"
	TestClientSecret = "oauth-client-secret-1"
	TestRedirectURI  = "http://localhost:9000/callback"
	TestSubject      = "alice"
)

// GenerateTestClient creates a registered client with a bcrypt-hashed secret.
// Uses bcrypt.MinCost to keep test suites fast.
func GenerateTestClient(t *testing.T) *storage.Client {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(TestClientSecret), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to hash test client secret: %v", err)
	}
	return &storage.Client{
		ClientID:     TestClientID,
		SecretHash:   string(hash),
		RedirectURIs: []string{TestRedirectURI},
		Scopes:       []string{"foo", "bar"},
		Name:         "Test Client",
		CreatedAt:    time.Now(),
	}
}

// GenerateTestGrant creates a pending authorization grant bound to the test client.
func GenerateTestGrant() *storage.Grant {
	return &storage.Grant{
		Code:        GenerateRandomString(32),
		ClientID:    TestClientID,
		RedirectURI: TestRedirectURI,
		Scope:       []string{"foo", "bar"},
		Subject:     TestSubject,
		CreatedAt:   time.Now(),
	}
}

// GenerateTestAccessToken creates an access token valid for one hour.
func GenerateTestAccessToken() *storage.AccessToken {
	now := time.Now()
	return &storage.AccessToken{
		Token:     GenerateRandomString(64),
		ClientID:  TestClientID,
		Scope:     []string{"foo", "bar"},
		Subject:   TestSubject,
		ExpiresAt: now.Add(time.Hour),
		CreatedAt: now,
	}
}

// SaveTestClient registers the default test client in the given store.
func SaveTestClient(t *testing.T, store storage.ClientStore) *storage.Client {
	t.Helper()
	client := GenerateTestClient(t)
	if err := store.SaveClient(context.Background(), client); err != nil {
		t.Fatalf("failed to save test client: %v", err)
	}
	return client
}

// GenerateRandomString generates a random base64url-encoded string
func GenerateRandomString(length int) string {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("failed to generate random string: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)[:length]
}

// AssertNoError fails the test if err is not nil
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error but got nil")
	}
}

// AssertEqual fails the test if got != want
func AssertEqual(t *testing.T, got, want interface{}) {
	t.Helper()
	if got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

// AssertNotEqual fails the test if got == want
func AssertNotEqual(t *testing.T, got, want interface{}) {
	t.Helper()
	if got == want {
		t.Errorf("got %v, want different value", got)
	}
}

// AssertStringContains fails the test if s does not contain substr
func AssertStringContains(t *testing.T, s, substr string) {
	t.Helper()
	if len(s) == 0 {
		t.Errorf("string is empty, expected to contain %q", substr)
		return
	}
	found := false
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			found = true
			break
		}
	}
	if !found {
		t.Errorf("string %q does not contain %q", s, substr)
	}
}
