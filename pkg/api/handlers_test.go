package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/stridecast/server/pkg/bootstrap"
	"github.com/stridecast/server/pkg/strava"
	syncpkg "github.com/stridecast/server/pkg/sync"
	"github.com/stridecast/server/pkg/testing/mocks"
	"github.com/stridecast/server/pkg/types"
	"github.com/stridecast/server/pkg/video"
)

type stubSyncer struct {
	result syncpkg.Result
	calls  []string
}

func (s *stubSyncer) Sync(ctx context.Context, userID string) syncpkg.Result {
	s.calls = append(s.calls, userID)
	return s.result
}

func newTestRouter(db *mocks.MockDatabase, syncer Syncer, oauthCfg *oauth2.Config) http.Handler {
	if db == nil {
		db = &mocks.MockDatabase{}
	}
	if syncer == nil {
		syncer = &stubSyncer{}
	}
	if oauthCfg == nil {
		oauthCfg = OAuthConfig(testStravaConfig())
	}
	videos := video.NewService(db, 4, slog.Default())
	h := NewHandler(db, syncer, videos, oauthCfg, testSessionSecret, slog.Default())
	return NewRouter(h, slog.Default())
}

var testSessionSecret = []byte("test-session-secret")

func testStravaConfig() bootstrap.StravaConfig {
	return bootstrap.StravaConfig{
		ClientID:     "104687",
		ClientSecret: "secret",
		RedirectURI:  "https://app.example.com/auth/strava/callback",
	}
}

func withSession(req *http.Request) *http.Request {
	req.AddCookie(&http.Cookie{Name: cookieUserID, Value: signSession(testSessionSecret, "42")})
	return req
}

func TestSessionRequired(t *testing.T) {
	router := newTestRouter(nil, nil, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sync", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "unauthorized", body["type"])
}

func TestSessionRejectsForgedCookie(t *testing.T) {
	router := newTestRouter(nil, nil, nil)

	tests := []struct {
		name  string
		value string
	}{
		{"bare athlete id", "42"},
		{"wrong secret", signSession([]byte("not-the-server-secret"), "42")},
		{"resigned other id", "99." + strings.TrimPrefix(signSession(testSessionSecret, "42"), "42.")},
		{"garbage signature", "42.!!!"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/sync", nil)
			req.AddCookie(&http.Cookie{Name: cookieUserID, Value: tt.value})
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestSyncStatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		result     syncpkg.Result
		wantStatus int
	}{
		{"synced", syncpkg.Result{State: syncpkg.StateSynced, Count: 3}, http.StatusOK},
		{"unauthenticated", syncpkg.Result{State: syncpkg.StateUnauthenticated}, http.StatusUnauthorized},
		{"provider down", syncpkg.Result{State: syncpkg.StateSyncFailed, Err: strava.ErrUpstreamUnavailable}, http.StatusBadGateway},
		{"storage failure", syncpkg.Result{State: syncpkg.StateSyncFailed, Err: errors.New("firestore: deadline")}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			syncer := &stubSyncer{result: tt.result}
			router := newTestRouter(nil, syncer, nil)

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, withSession(httptest.NewRequest(http.MethodPost, "/api/sync", nil)))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, []string{"42"}, syncer.calls)

			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, string(tt.result.State), body["status"])
			if tt.result.State == syncpkg.StateUnauthenticated {
				assert.Equal(t, "/auth/strava", body["reauth_url"])
			}
		})
	}
}

func TestGetRunNotFound(t *testing.T) {
	router := newTestRouter(nil, nil, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, withSession(httptest.NewRequest(http.MethodGet, "/api/runs/999", nil)))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListRuns(t *testing.T) {
	db := &mocks.MockDatabase{
		ListRunsFunc: func(ctx context.Context, userID string) ([]*types.Run, error) {
			return []*types.Run{{ID: "101", UserID: userID, Name: "Morning Run"}}, nil
		},
	}
	router := newTestRouter(db, nil, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, withSession(httptest.NewRequest(http.MethodGet, "/api/runs", nil)))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Runs []types.Run `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Runs, 1)
	assert.Equal(t, "Morning Run", body.Runs[0].Name)
}

func TestExportFit(t *testing.T) {
	db := &mocks.MockDatabase{
		GetRunFunc: func(ctx context.Context, userID, runID string) (*types.Run, error) {
			return &types.Run{
				ID:        runID,
				UserID:    userID,
				Name:      "Tempo",
				Distance:  5000,
				Duration:  1500,
				StartDate: time.Date(2025, 6, 1, 7, 0, 0, 0, time.UTC),
			}, nil
		},
	}
	router := newTestRouter(db, nil, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, withSession(httptest.NewRequest(http.MethodGet, "/api/runs/101/export.fit", nil)))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "run-101.fit")
	body := rec.Body.Bytes()
	require.Greater(t, len(body), 14)
	assert.Equal(t, ".FIT", string(body[8:12]))
}

func TestCreateVideoAccepted(t *testing.T) {
	db := &mocks.MockDatabase{
		GetRunFunc: func(ctx context.Context, userID, runID string) (*types.Run, error) {
			return &types.Run{ID: runID, UserID: userID}, nil
		},
	}
	router := newTestRouter(db, nil, nil)

	req := withSession(httptest.NewRequest(http.MethodPost, "/api/videos", strings.NewReader(`{"run_id":"101"}`)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var job types.VideoJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, types.VideoStatusProcessing, job.Status)
	assert.NotEmpty(t, job.ID)
}

func TestCreateVideoUnknownRun(t *testing.T) {
	router := newTestRouter(nil, nil, nil)

	req := withSession(httptest.NewRequest(http.MethodPost, "/api/videos", strings.NewReader(`{"run_id":"999"}`)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAuthorizeRedirect(t *testing.T) {
	router := newTestRouter(nil, nil, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/strava", nil))

	require.Equal(t, http.StatusFound, rec.Code)
	loc := rec.Header().Get("Location")
	assert.Contains(t, loc, "https://www.strava.com/oauth/authorize")
	assert.Contains(t, loc, "client_id=104687")
	assert.Contains(t, loc, "approval_prompt=auto")

	var stateCookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == cookieState {
			stateCookie = c
		}
	}
	require.NotNil(t, stateCookie, "state pinned in a cookie for callback verification")
	assert.Contains(t, loc, "state="+stateCookie.Value)
}

func TestCallbackRejectsBadState(t *testing.T) {
	router := newTestRouter(nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/auth/strava/callback?code=abc&state=forged", nil)
	req.AddCookie(&http.Cookie{Name: cookieState, Value: "expected"})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/?error=oauth_failed", rec.Header().Get("Location"))
}

func TestCallbackEstablishesSession(t *testing.T) {
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"access_token": "acc-1",
			"refresh_token": "ref-1",
			"token_type": "Bearer",
			"expires_in": 21600,
			"athlete": {"id": 42, "firstname": "Jo", "lastname": "Runner"}
		}`))
	}))
	defer tokenServer.Close()

	var saved *types.UserProfile
	db := &mocks.MockDatabase{
		UpsertUserFunc: func(ctx context.Context, profile *types.UserProfile) error {
			saved = profile
			return nil
		},
	}
	cfg := OAuthConfig(testStravaConfig())
	cfg.Endpoint = oauth2.Endpoint{AuthURL: cfg.Endpoint.AuthURL, TokenURL: tokenServer.URL}
	router := newTestRouter(db, nil, cfg)

	req := httptest.NewRequest(http.MethodGet, "/auth/strava/callback?code=abc&state=st-1", nil)
	req.AddCookie(&http.Cookie{Name: cookieState, Value: "st-1"})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/dashboard", rec.Header().Get("Location"))

	require.NotNil(t, saved)
	assert.Equal(t, "42", saved.UserID)
	assert.Equal(t, int64(42), saved.AthleteID)
	assert.Equal(t, "Jo Runner", saved.Name)
	assert.Equal(t, "acc-1", saved.AccessToken)
	assert.Equal(t, "ref-1", saved.RefreshToken)
	require.NotNil(t, saved.TokenExpiresAt)

	cookies := map[string]*http.Cookie{}
	for _, c := range rec.Result().Cookies() {
		cookies[c.Name] = c
	}
	require.Contains(t, cookies, cookieUserID)
	id, ok := verifySession(testSessionSecret, cookies[cookieUserID].Value)
	assert.True(t, ok, "session cookie carries a valid signature")
	assert.Equal(t, "42", id)
	assert.True(t, cookies[cookieUserID].HttpOnly)
	assert.True(t, cookies[cookieUserID].Secure)
	assert.Equal(t, http.SameSiteLaxMode, cookies[cookieUserID].SameSite)
}

func TestSignoutClearsCookies(t *testing.T) {
	router := newTestRouter(nil, nil, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, withSession(httptest.NewRequest(http.MethodPost, "/auth/signout", nil)))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	for _, c := range rec.Result().Cookies() {
		if c.Name == cookieUserID || c.Name == cookieUserName {
			assert.LessOrEqual(t, c.MaxAge, 0, "session cookies expire on signout")
		}
	}
}

func TestHealthz(t *testing.T) {
	router := newTestRouter(nil, nil, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}
