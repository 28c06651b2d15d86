package aggregator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const authPath = "/auth"

// Credentials are the per-user aggregator login pair.
type Credentials struct {
	Email    string
	Password string
}

// TokenRecord pairs a bearer token with its expiry. Replaced wholesale on
// refresh, never partially updated.
type TokenRecord struct {
	Token     string
	ExpiresAt time.Time
}

// Expired reports whether the record is unusable at the given instant.
func (r TokenRecord) Expired(now time.Time) bool {
	return r.Token == "" || !now.Before(r.ExpiresAt)
}

// TokenStore persists the per-user token cache.
type TokenStore interface {
	TokenCache(ctx context.Context, userID int64) (TokenRecord, error)
	SaveTokenCache(ctx context.Context, userID int64, rec TokenRecord) error
}

// CredentialStore yields aggregator credentials for a product user.
type CredentialStore interface {
	AggregatorCredentials(ctx context.Context, userID int64) (Credentials, error)
}

// ManagerOptions parameterise the token manager.
type ManagerOptions struct {
	BaseURL string
	Timeout time.Duration
	// ExpirySkew is subtracted from the token's expiry so callers never hand
	// out a token about to lapse mid-request.
	ExpirySkew time.Duration
	// FallbackTTL applies when a token carries no readable expiry claim.
	FallbackTTL time.Duration
	UserAgent   string
}

// Manager owns the aggregator bearer-token lifecycle per product user.
type Manager struct {
	opts   ManagerOptions
	store  TokenStore
	creds  CredentialStore
	client *http.Client
	logger zerolog.Logger
	now    func() time.Time

	group singleflight.Group

	mu    sync.Mutex
	cache map[int64]TokenRecord
}

// NewManager constructs a token manager backed by the given stores.
func NewManager(opts ManagerOptions, store TokenStore, creds CredentialStore, logger zerolog.Logger) *Manager {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.ExpirySkew <= 0 {
		opts.ExpirySkew = 30 * time.Second
	}
	if opts.FallbackTTL <= 0 {
		opts.FallbackTTL = time.Hour
	}
	return &Manager{
		opts:   opts,
		store:  store,
		creds:  creds,
		client: &http.Client{Timeout: opts.Timeout},
		logger: logger.With().Str("component", "token_manager").Logger(),
		now:    time.Now,
		cache:  make(map[int64]TokenRecord),
	}
}

// ValidToken returns a cached token while it is still inside its validity
// window, otherwise performs one credential exchange. Concurrent callers for
// the same user share a single exchange.
func (m *Manager) ValidToken(ctx context.Context, userID int64) (string, error) {
	now := m.now()

	if rec, ok := m.cached(userID); ok && !rec.Expired(now.Add(m.opts.ExpirySkew)) {
		return rec.Token, nil
	}

	if m.store != nil {
		if rec, err := m.store.TokenCache(ctx, userID); err == nil && !rec.Expired(now.Add(m.opts.ExpirySkew)) {
			m.remember(userID, rec)
			return rec.Token, nil
		}
	}

	return m.exchangeShared(ctx, userID)
}

// ForceRefresh always performs the credential exchange and overwrites the
// cache. Used as the one reaction to a downstream authorization failure.
func (m *Manager) ForceRefresh(ctx context.Context, userID int64) (string, error) {
	m.forget(userID)
	return m.exchangeShared(ctx, userID)
}

func (m *Manager) exchangeShared(ctx context.Context, userID int64) (string, error) {
	key := strconv.FormatInt(userID, 10)
	v, err, _ := m.group.Do(key, func() (interface{}, error) {
		rec, err := m.exchange(ctx, userID)
		if err != nil {
			return nil, err
		}
		m.remember(userID, rec)
		if m.store != nil {
			if saveErr := m.store.SaveTokenCache(ctx, userID, rec); saveErr != nil {
				m.logger.Error().Err(saveErr).Int64("user_id", userID).Msg("failed to persist token cache")
			}
		}
		return rec.Token, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (m *Manager) exchange(ctx context.Context, userID int64) (TokenRecord, error) {
	creds, err := m.creds.AggregatorCredentials(ctx, userID)
	if err != nil {
		return TokenRecord{}, &AuthenticationError{Err: fmt.Errorf("load credentials: %w", err)}
	}

	payload, err := json.Marshal(map[string]string{
		"email":    creds.Email,
		"password": creds.Password,
	})
	if err != nil {
		return TokenRecord{}, &AuthenticationError{Err: err}
	}

	endpoint := strings.TrimRight(m.opts.BaseURL, "/") + authPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return TokenRecord{}, &AuthenticationError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if m.opts.UserAgent != "" {
		req.Header.Set("User-Agent", m.opts.UserAgent)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return TokenRecord{}, &AuthenticationError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return TokenRecord{}, &AuthenticationError{Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return TokenRecord{}, &AuthenticationError{Err: fmt.Errorf("credential exchange returned %d", resp.StatusCode)}
	}

	var result struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return TokenRecord{}, &AuthenticationError{Err: fmt.Errorf("decode auth response: %w", err)}
	}
	if result.Token == "" {
		return TokenRecord{}, &AuthenticationError{Err: fmt.Errorf("auth response carried no token")}
	}

	rec := TokenRecord{
		Token:     result.Token,
		ExpiresAt: m.tokenExpiry(result.Token),
	}

	m.logger.Debug().Int64("user_id", userID).Time("expires_at", rec.ExpiresAt).Msg("exchanged credentials for token")
	return rec, nil
}

// tokenExpiry reads the expiry claim embedded in the JWT. The aggregator
// holds the signing key, so the claim is read without verification.
func (m *Manager) tokenExpiry(token string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time
		}
	}
	m.logger.Warn().Msg("token carried no readable expiry claim; applying fallback ttl")
	return m.now().Add(m.opts.FallbackTTL)
}

func (m *Manager) cached(userID int64) (TokenRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.cache[userID]
	return rec, ok
}

func (m *Manager) remember(userID int64, rec TokenRecord) {
	m.mu.Lock()
	m.cache[userID] = rec
	m.mu.Unlock()
}

func (m *Manager) forget(userID int64) {
	m.mu.Lock()
	delete(m.cache, userID)
	m.mu.Unlock()
}
