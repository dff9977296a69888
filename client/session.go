package client

import (
	"crypto/subtle"
	"sync"

	"github.com/google/uuid"
)

// Session holds per-user-agent flow state: the CSRF nonce of an in-flight
// authorization request and the token obtained when the flow completed.
// The mutable fields are guarded so concurrent requests from the same user
// agent cannot race on them.
type Session struct {
	// ID is the opaque value stored in the browser cookie
	ID string

	mu          sync.Mutex
	state       string
	accessToken string
	scope       string
}

// SetState stores the CSRF nonce for a new in-flight authorization request,
// replacing any earlier one.
func (s *Session) SetState(state string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// State returns the nonce of the in-flight authorization request, or empty
// when no flow is pending.
func (s *Session) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ConsumeState atomically compares got against the stored nonce and clears
// it on a match. Returns false when no flow is pending or the values differ;
// the comparison is constant time.
func (s *Session) ConsumeState(got string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == "" || subtle.ConstantTimeCompare([]byte(s.state), []byte(got)) != 1 {
		return false
	}
	s.state = ""
	return true
}

// SetToken stores the access token and granted scope of a completed flow
func (s *Session) SetToken(token, scope string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessToken = token
	s.scope = scope
}

// Token returns the bearer token from the last completed flow, or empty
func (s *Session) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accessToken
}

// Scope returns the space-separated scope the token was granted with
func (s *Session) Scope() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scope
}

// SessionStore is an in-memory session registry keyed by opaque cookie ID
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewSessionStore creates an empty session store
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*Session),
	}
}

// Create registers a new session under a fresh random ID
func (s *SessionStore) Create() *Session {
	sess := &Session{ID: uuid.NewString()}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess

	return sess
}

// Get retrieves a session by ID
func (s *SessionStore) Get(id string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	return sess, ok
}

// Delete removes a session
func (s *SessionStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// Len returns the number of live sessions
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
