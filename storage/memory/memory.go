// Package memory provides an in-memory implementation of all storage interfaces.
// It is suitable for development, testing, and single-instance deployments.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/bcrypt"

	"github.com/oauthlab/grantline/instrumentation"
	"github.com/oauthlab/grantline/internal/util"
	"github.com/oauthlab/grantline/security"
	"github.com/oauthlab/grantline/storage"
)

const (
	// credentialLogLength is the number of characters to include when logging
	// codes and tokens. Enough uniqueness for debugging while keeping logs safe.
	credentialLogLength = 8
)

// Store is an in-memory implementation of all storage interfaces.
// It implements ClientStore, GrantStore, and TokenStore.
type Store struct {
	mu sync.RWMutex

	// Client storage, keyed by client ID
	clients map[string]*storage.Client

	// Pending authorization grants, keyed by code.
	// A grant leaves this map exactly once, inside RedeemGrant.
	grants map[string]*storage.Grant

	// Issued access tokens, keyed by token value
	tokens map[string]*storage.AccessToken

	// Instrumentation
	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer

	// Atomic counters for metrics (lock-free access during metric collection)
	clientsCountAtomic atomic.Int64
	grantsCountAtomic  atomic.Int64
	tokensCountAtomic  atomic.Int64

	// Cleanup
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	logger          *slog.Logger
}

// Compile-time interface checks to ensure Store implements all storage interfaces
var (
	_ storage.ClientStore = (*Store)(nil)
	_ storage.GrantStore  = (*Store)(nil)
	_ storage.TokenStore  = (*Store)(nil)
)

// New creates a new in-memory store with the default cleanup interval (1 minute)
func New() *Store {
	return NewWithInterval(time.Minute)
}

// NewWithInterval creates a new in-memory store with a custom cleanup interval.
// If cleanupInterval is 0 or negative, uses the default of 1 minute.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	s := &Store{
		clients:         make(map[string]*storage.Client),
		grants:          make(map[string]*storage.Grant),
		tokens:          make(map[string]*storage.AccessToken),
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
		logger:          slog.Default(),
	}

	// Start background cleanup
	go s.cleanupLoop()

	return s
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// SetInstrumentation sets OpenTelemetry instrumentation for the store
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.mu.Lock()
	s.instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("storage")
	}

	// Initialize atomic counters with current counts
	s.clientsCountAtomic.Store(int64(len(s.clients)))
	s.grantsCountAtomic.Store(int64(len(s.grants)))
	s.tokensCountAtomic.Store(int64(len(s.tokens)))
	s.mu.Unlock()

	if inst != nil {
		// Register storage size callbacks using atomic counters (lock-free)
		err := inst.RegisterStorageSizeCallbacks(
			func() int64 { return s.clientsCountAtomic.Load() },
			func() int64 { return s.grantsCountAtomic.Load() },
			func() int64 { return s.tokensCountAtomic.Load() },
		)
		if err != nil {
			s.logger.Warn("Failed to register storage size callbacks", "error", err)
		}
	}
}

// Stop gracefully stops the cleanup goroutine. Safe to call more than once.
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCleanup)
	})
}

// ============================================================
// ClientStore Implementation
// ============================================================

// SaveClient registers or updates a client
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	ctx, span := s.startStorageSpan(ctx, "save_client")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "save_client", err, startTime)
	}()

	if client == nil || client.ClientID == "" {
		err = fmt.Errorf("client and client ID are required")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.clients[client.ClientID]
	s.clients[client.ClientID] = client

	if !existed {
		s.clientsCountAtomic.Add(1)
	}

	s.logger.Debug("Saved client", "client_id", client.ClientID)
	return nil
}

// GetClient retrieves a client by ID
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	ctx, span := s.startStorageSpan(ctx, "get_client")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "get_client", err, startTime)
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.clients[clientID]
	if !ok {
		err = fmt.Errorf("%w: %s", storage.ErrClientNotFound, clientID)
		return nil, err
	}

	return client, nil
}

// ValidateClientSecret validates a client's secret using bcrypt.
// The bcrypt comparison runs whether or not the client exists, so an
// attacker cannot distinguish unknown clients from wrong secrets by timing.
func (s *Store) ValidateClientSecret(ctx context.Context, clientID, secret string) (*storage.Client, error) {
	ctx, span := s.startStorageSpan(ctx, "validate_client_secret")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "validate_client_secret", err, startTime)
	}()

	// Pre-computed dummy hash compared against when the client is unknown
	// (bcrypt hash of "test")
	dummyHash := "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

	client, lookupErr := s.GetClient(ctx, clientID)

	hashToCompare := dummyHash
	if lookupErr == nil && client.SecretHash != "" {
		hashToCompare = client.SecretHash
	}

	// Always perform the bcrypt comparison, even for unknown clients
	bcryptErr := bcrypt.CompareHashAndPassword([]byte(hashToCompare), []byte(secret))

	if lookupErr != nil {
		err = fmt.Errorf("%w: %s", storage.ErrClientNotFound, clientID)
		return nil, err
	}
	if bcryptErr != nil {
		err = fmt.Errorf("%w: %s", storage.ErrInvalidClientSecret, clientID)
		return nil, err
	}

	return client, nil
}

// ListClients lists all registered clients
func (s *Store) ListClients(ctx context.Context) ([]*storage.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clients := make([]*storage.Client, 0, len(s.clients))
	for _, client := range s.clients {
		clients = append(clients, client)
	}

	return clients, nil
}

// ============================================================
// GrantStore Implementation
// ============================================================

// SaveGrant stores a newly issued authorization code
func (s *Store) SaveGrant(ctx context.Context, grant *storage.Grant) error {
	ctx, span := s.startStorageSpan(ctx, "save_grant")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "save_grant", err, startTime)
	}()

	if grant == nil || grant.Code == "" {
		err = fmt.Errorf("grant and code are required")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.grants[grant.Code]; exists {
		err = fmt.Errorf("%w: %s", storage.ErrGrantExists, util.SafeTruncate(grant.Code, credentialLogLength))
		return err
	}

	s.grants[grant.Code] = grant
	s.grantsCountAtomic.Add(1)

	s.logger.Debug("Saved grant",
		"client_id", grant.ClientID,
		"code_prefix", util.SafeTruncate(grant.Code, credentialLogLength))
	return nil
}

// RedeemGrant atomically looks up and removes a grant by code.
// Lookup and delete happen under a single write lock, so concurrent
// redemptions of the same code can never both succeed.
func (s *Store) RedeemGrant(ctx context.Context, code string) (*storage.Grant, error) {
	ctx, span := s.startStorageSpan(ctx, "redeem_grant")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "redeem_grant", err, startTime)
	}()

	if code == "" {
		err = fmt.Errorf("%w: empty code", storage.ErrGrantNotFound)
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	grant, ok := s.grants[code]
	if !ok {
		err = fmt.Errorf("%w: %s", storage.ErrGrantNotFound, util.SafeTruncate(code, credentialLogLength))
		return nil, err
	}

	delete(s.grants, code)
	s.grantsCountAtomic.Add(-1)

	s.logger.Debug("Redeemed grant",
		"client_id", grant.ClientID,
		"code_prefix", util.SafeTruncate(code, credentialLogLength))
	return grant, nil
}

// ============================================================
// TokenStore Implementation
// ============================================================

// SaveToken stores a newly minted access token
func (s *Store) SaveToken(ctx context.Context, token *storage.AccessToken) error {
	ctx, span := s.startStorageSpan(ctx, "save_token")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "save_token", err, startTime)
	}()

	if token == nil || token.Token == "" {
		err = fmt.Errorf("token and token value are required")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.tokens[token.Token]
	s.tokens[token.Token] = token

	if !existed {
		s.tokensCountAtomic.Add(1)
	}

	s.logger.Debug("Saved token",
		"client_id", token.ClientID,
		"token_prefix", util.SafeTruncate(token.Token, credentialLogLength))
	return nil
}

// GetToken retrieves a token by value. Expired tokens stay in the map until
// the cleanup loop collects them, but are never returned.
func (s *Store) GetToken(ctx context.Context, token string) (*storage.AccessToken, error) {
	ctx, span := s.startStorageSpan(ctx, "get_token")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "get_token", err, startTime)
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.tokens[token]
	if !ok {
		err = fmt.Errorf("%w: %s", storage.ErrTokenNotFound, util.SafeTruncate(token, credentialLogLength))
		return nil, err
	}

	if security.IsTokenExpired(stored.ExpiresAt) {
		err = fmt.Errorf("%w: %s", storage.ErrTokenExpired, util.SafeTruncate(token, credentialLogLength))
		return nil, err
	}

	return stored, nil
}

// DeleteToken removes a token
func (s *Store) DeleteToken(ctx context.Context, token string) error {
	ctx, span := s.startStorageSpan(ctx, "delete_token")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "delete_token", err, startTime)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tokens[token]; ok {
		delete(s.tokens, token)
		s.tokensCountAtomic.Add(-1)
	}

	return nil
}

// ============================================================
// Cleanup
// ============================================================

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

// cleanup removes expired tokens. Grants have no expiry of their own; they
// leave the map through RedeemGrant.
func (s *Store) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cleaned := 0

	for value, token := range s.tokens {
		if security.IsTokenExpired(token.ExpiresAt) {
			delete(s.tokens, value)
			s.tokensCountAtomic.Add(-1)
			cleaned++
		}
	}

	if cleaned > 0 {
		s.logger.Debug("Cleaned up expired entries", "count", cleaned)
	}
}

// ============================================================
// Instrumentation helpers
// ============================================================

// startStorageSpan starts a new span for a storage operation.
// Returns a context with the span attached and the span itself.
func (s *Store) startStorageSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}

	ctx, span := s.tracer.Start(ctx, fmt.Sprintf("storage.%s", operation))
	instrumentation.AddStorageAttributes(span, operation, "memory")

	return ctx, span
}

// recordStorageOperation records metrics for a storage operation and sets span status
func (s *Store) recordStorageOperation(ctx context.Context, span trace.Span, operation string, err error, startTime time.Time) {
	if s.instrumentation == nil {
		return
	}

	durationMs := float64(time.Since(startTime).Milliseconds())
	result := "success"
	if err != nil {
		result = "error"
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	} else {
		if span != nil {
			span.SetStatus(codes.Ok, "")
		}
	}

	s.instrumentation.Metrics().RecordStorageOperation(ctx, operation, result, durationMs)
}
