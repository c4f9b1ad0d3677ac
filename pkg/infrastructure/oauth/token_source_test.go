package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stridecast/server/pkg/bootstrap"
	"github.com/stridecast/server/pkg/testing/mocks"
	"github.com/stridecast/server/pkg/types"
)

func testConfig() bootstrap.StravaConfig {
	return bootstrap.StravaConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURI:  "https://example.com/auth/strava/callback",
	}
}

func profileWithExpiry(expiry time.Time) *types.UserProfile {
	return &types.UserProfile{
		UserID:         "user-1",
		AthleteID:      42,
		Name:           "Test Athlete",
		AccessToken:    "old-access",
		RefreshToken:   "old-refresh",
		TokenExpiresAt: &expiry,
	}
}

func TestToken_ValidNotExpired_NoHTTPCall(t *testing.T) {
	var calls int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
	}))
	defer server.Close()

	expiry := time.Now().Add(1 * time.Hour)
	db := &mocks.MockDatabase{
		GetUserFunc: func(ctx context.Context, id string) (*types.UserProfile, error) {
			return profileWithExpiry(expiry), nil
		},
	}

	src := NewStoreTokenSource(db, testConfig(), "user-1")
	src.tokenURL = server.URL

	token, err := src.Token(context.Background())
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if token.AccessToken != "old-access" {
		t.Errorf("Expected stored access token, got %q", token.AccessToken)
	}
	if atomic.LoadInt64(&calls) != 0 {
		t.Errorf("Expected no HTTP calls for valid token, got %d", calls)
	}
}

func TestToken_Expired_RefreshesAndPersistsBeforeReturn(t *testing.T) {
	var persisted map[string]interface{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("Failed to decode refresh body: %v", err)
		}
		if body["grant_type"] != "refresh_token" {
			t.Errorf("Expected grant_type refresh_token, got %q", body["grant_type"])
		}
		if body["refresh_token"] != "old-refresh" {
			t.Errorf("Expected stored refresh token, got %q", body["refresh_token"])
		}
		if body["client_id"] != "client-id" || body["client_secret"] != "client-secret" {
			t.Error("Expected client credentials in refresh request")
		}

		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":  "new-access",
			"refresh_token": "new-refresh",
			"expires_at":    time.Now().Add(6 * time.Hour).Unix(),
		})
	}))
	defer server.Close()

	expiry := time.Now().Add(-1 * time.Minute)
	db := &mocks.MockDatabase{
		GetUserFunc: func(ctx context.Context, id string) (*types.UserProfile, error) {
			return profileWithExpiry(expiry), nil
		},
		UpdateUserFunc: func(ctx context.Context, id string, data map[string]interface{}) error {
			persisted = data
			return nil
		},
	}

	src := NewStoreTokenSource(db, testConfig(), "user-1")
	src.tokenURL = server.URL

	token, err := src.Token(context.Background())
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}

	if token.AccessToken != "new-access" {
		t.Errorf("Expected refreshed access token, got %q", token.AccessToken)
	}
	if token.RefreshToken != "new-refresh" {
		t.Errorf("Expected rotated refresh token, got %q", token.RefreshToken)
	}

	if persisted == nil {
		t.Fatal("Expected token set persisted before return")
	}
	if persisted["strava_access_token"] != "new-access" {
		t.Errorf("Expected new access token persisted, got %v", persisted["strava_access_token"])
	}
	if persisted["strava_refresh_token"] != "new-refresh" {
		t.Errorf("Expected rotated refresh token persisted, got %v", persisted["strava_refresh_token"])
	}
}

func TestToken_RefreshWithoutRotation_KeepsStoredRefreshToken(t *testing.T) {
	var persisted map[string]interface{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Provider did not rotate the refresh token
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "new-access",
			"expires_in":   21600,
		})
	}))
	defer server.Close()

	expiry := time.Now().Add(-1 * time.Minute)
	db := &mocks.MockDatabase{
		GetUserFunc: func(ctx context.Context, id string) (*types.UserProfile, error) {
			return profileWithExpiry(expiry), nil
		},
		UpdateUserFunc: func(ctx context.Context, id string, data map[string]interface{}) error {
			persisted = data
			return nil
		},
	}

	src := NewStoreTokenSource(db, testConfig(), "user-1")
	src.tokenURL = server.URL

	token, err := src.Token(context.Background())
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}

	if token.RefreshToken != "old-refresh" {
		t.Errorf("Expected original refresh token preserved, got %q", token.RefreshToken)
	}
	if _, ok := persisted["strava_refresh_token"]; ok {
		t.Error("Expected stored refresh token not to be overwritten with empty value")
	}
}

func TestToken_RefreshRejected_NoStateMutation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Stale refresh token after rotation
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"message":"Bad Request","errors":[{"field":"refresh_token","code":"invalid"}]}`))
	}))
	defer server.Close()

	expiry := time.Now().Add(-1 * time.Minute)
	updated := false
	db := &mocks.MockDatabase{
		GetUserFunc: func(ctx context.Context, id string) (*types.UserProfile, error) {
			return profileWithExpiry(expiry), nil
		},
		UpdateUserFunc: func(ctx context.Context, id string, data map[string]interface{}) error {
			updated = true
			return nil
		},
	}

	src := NewStoreTokenSource(db, testConfig(), "user-1")
	src.tokenURL = server.URL

	_, err := src.Token(context.Background())
	if err == nil {
		t.Fatal("Expected error for rejected refresh")
	}
	if !errors.Is(err, ErrRefreshFailed) {
		t.Errorf("Expected ErrRefreshFailed, got: %v", err)
	}
	// Raw provider body is attached for diagnostics
	if !strings.Contains(err.Error(), "refresh_token") {
		t.Errorf("Expected error to carry provider body, got: %v", err)
	}
	if updated {
		t.Error("Expected stored token set unchanged after failed refresh")
	}
}

func TestForceRefresh_RereadsStoredRefreshToken(t *testing.T) {
	var submitted string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		submitted = body["refresh_token"]
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":  "forced-access",
			"refresh_token": "forced-refresh",
			"expires_in":    21600,
		})
	}))
	defer server.Close()

	db := &mocks.MockDatabase{
		GetUserFunc: func(ctx context.Context, id string) (*types.UserProfile, error) {
			// Simulate another process having already rotated the token
			return &types.UserProfile{
				UserID:       "user-1",
				AccessToken:  "whatever",
				RefreshToken: "rotated-elsewhere",
			}, nil
		},
	}

	src := NewStoreTokenSource(db, testConfig(), "user-1")
	src.tokenURL = server.URL

	token, err := src.ForceRefresh(context.Background())
	if err != nil {
		t.Fatalf("ForceRefresh failed: %v", err)
	}
	if submitted != "rotated-elsewhere" {
		t.Errorf("Expected freshest stored refresh token submitted, got %q", submitted)
	}
	if token.AccessToken != "forced-access" {
		t.Errorf("Expected forced access token, got %q", token.AccessToken)
	}
}

func TestRegistry_SharesSourcePerUser(t *testing.T) {
	db := &mocks.MockDatabase{}
	reg := NewRegistry(db, testConfig())

	a := reg.For("user-1")
	b := reg.For("user-1")
	c := reg.For("user-2")

	if a != b {
		t.Error("Expected same source instance for same user")
	}
	if a == c {
		t.Error("Expected distinct source instances per user")
	}
}
