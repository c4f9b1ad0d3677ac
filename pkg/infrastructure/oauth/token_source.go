package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	shared "github.com/stridecast/server/pkg"
	"github.com/stridecast/server/pkg/bootstrap"
)

// DefaultTokenURL is the Strava token endpoint.
const DefaultTokenURL = "https://www.strava.com/oauth/token"

// refreshWindow is how close to expiry a token may get before it is
// proactively refreshed.
const refreshWindow = 1 * time.Minute

// maxErrorBody caps how much of a provider error body is attached to
// a refresh failure.
const maxErrorBody = 500

// ErrRefreshFailed means the provider rejected the refresh token. The
// stored token set is left untouched and the user must re-authenticate;
// it is never retried automatically.
var ErrRefreshFailed = errors.New("token refresh failed")

// Token represents the OAuth token structure we care about
type Token struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// TokenSource returns a valid token.
// It is safe for concurrent use by multiple goroutines.
type TokenSource interface {
	Token(context.Context) (*Token, error)
	ForceRefresh(context.Context) (*Token, error)
}

// StoreTokenSource reads the token set from the user profile store and
// refreshes it when expired or near expiry. The mutex serializes refresh
// per source, so two syncs sharing a source never submit the same
// (possibly already-rotated) refresh token concurrently.
type StoreTokenSource struct {
	db         shared.Database
	cfg        bootstrap.StravaConfig
	userID     string
	tokenURL   string
	httpClient *http.Client
	mu         sync.Mutex
}

func NewStoreTokenSource(db shared.Database, cfg bootstrap.StravaConfig, userID string) *StoreTokenSource {
	return &StoreTokenSource{
		db:         db,
		cfg:        cfg,
		userID:     userID,
		tokenURL:   DefaultTokenURL,
		httpClient: http.DefaultClient,
	}
}

// Token returns a token, refreshing it if necessary.
func (s *StoreTokenSource) Token(ctx context.Context) (*Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	profile, err := s.db.GetUser(ctx, s.userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if profile.AccessToken == "" {
		return nil, fmt.Errorf("strava not connected for user %s", s.userID)
	}
	if profile.RefreshToken == "" {
		return nil, fmt.Errorf("missing refresh token for user %s", s.userID)
	}

	// Proactive refresh when expired or expiring within the window
	if profile.TokenExpiresAt != nil && time.Now().Add(refreshWindow).After(*profile.TokenExpiresAt) {
		return s.refreshToken(ctx, profile.RefreshToken)
	}

	var expiry time.Time
	if profile.TokenExpiresAt != nil {
		expiry = *profile.TokenExpiresAt
	}

	return &Token{
		AccessToken:  profile.AccessToken,
		RefreshToken: profile.RefreshToken,
		Expiry:       expiry,
	}, nil
}

// ForceRefresh forcibly refreshes the token regardless of expiry.
func (s *StoreTokenSource) ForceRefresh(ctx context.Context) (*Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Re-read the refresh token so a rotation persisted by another
	// process is picked up instead of replaying a consumed token.
	profile, err := s.db.GetUser(ctx, s.userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if profile.RefreshToken == "" {
		return nil, fmt.Errorf("missing refresh token for user %s", s.userID)
	}

	return s.refreshToken(ctx, profile.RefreshToken)
}

// refreshToken performs the HTTP exchange for a new token and persists it.
// The rotated refresh token is written durably before the new access token
// is handed to the caller; the old refresh token is invalid the moment the
// provider rotates it, so returning without persisting would strand the user.
func (s *StoreTokenSource) refreshToken(ctx context.Context, refreshToken string) (*Token, error) {
	payload, err := json.Marshal(map[string]string{
		"client_id":     s.cfg.ClientID,
		"client_secret": s.cfg.ClientSecret,
		"grant_type":    "refresh_token",
		"refresh_token": refreshToken,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tokenURL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Attach the provider's raw error body for diagnostics; stored
		// state is not mutated on failure.
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("%w: status %d: %s", ErrRefreshFailed, resp.StatusCode, string(body))
	}

	var result struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
		ExpiresAt    int64  `json:"expires_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode refresh response: %w", err)
	}
	if result.AccessToken == "" {
		return nil, fmt.Errorf("refresh response missing access_token")
	}

	newExpiry := time.Now().Add(time.Duration(result.ExpiresIn) * time.Second)
	if result.ExpiresAt != 0 {
		newExpiry = time.Unix(result.ExpiresAt, 0)
	}

	updateData := map[string]interface{}{
		"strava_access_token":     result.AccessToken,
		"strava_token_expires_at": newExpiry,
		"updated_at":              time.Now().UTC(),
	}
	// Only overwrite the stored refresh token when the provider rotated it;
	// writing an empty response value would wipe the stored token.
	if result.RefreshToken != "" {
		updateData["strava_refresh_token"] = result.RefreshToken
	}

	if err := s.db.UpdateUser(ctx, s.userID, updateData); err != nil {
		return nil, fmt.Errorf("failed to persist new tokens: %w", err)
	}

	// Preserve the original refresh token if the provider didn't return a new one
	newRefreshToken := result.RefreshToken
	if newRefreshToken == "" {
		newRefreshToken = refreshToken
	}

	return &Token{
		AccessToken:  result.AccessToken,
		RefreshToken: newRefreshToken,
		Expiry:       newExpiry,
	}, nil
}

// Registry hands out one StoreTokenSource per user so that concurrent
// syncs for the same user share a mutex and serialize their refreshes.
type Registry struct {
	db  shared.Database
	cfg bootstrap.StravaConfig

	tokenURL   string
	httpClient *http.Client

	mu      sync.Mutex
	sources map[string]*StoreTokenSource
}

// Option customizes a Registry, mainly for tests pointing the token
// endpoint at a fixture server.
type Option func(*Registry)

func WithTokenURL(url string) Option {
	return func(r *Registry) { r.tokenURL = url }
}

func WithHTTPClient(client *http.Client) Option {
	return func(r *Registry) { r.httpClient = client }
}

func NewRegistry(db shared.Database, cfg bootstrap.StravaConfig, opts ...Option) *Registry {
	r := &Registry{
		db:         db,
		cfg:        cfg,
		tokenURL:   DefaultTokenURL,
		httpClient: http.DefaultClient,
		sources:    make(map[string]*StoreTokenSource),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// For returns the cached token source for the user, creating it on first use.
func (r *Registry) For(userID string) TokenSource {
	r.mu.Lock()
	defer r.mu.Unlock()

	src, ok := r.sources[userID]
	if !ok {
		src = NewStoreTokenSource(r.db, r.cfg, userID)
		src.tokenURL = r.tokenURL
		src.httpClient = r.httpClient
		r.sources[userID] = src
	}
	return src
}
