// Package api exposes the HTTP surface: the Strava OAuth handshake,
// sync triggering, stored-run reads, FIT export, and video jobs.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	shared "github.com/stridecast/server/pkg"
	"github.com/stridecast/server/pkg/bootstrap"
	"github.com/stridecast/server/pkg/domain/file_generators"
	"github.com/stridecast/server/pkg/strava"
	syncpkg "github.com/stridecast/server/pkg/sync"
	"github.com/stridecast/server/pkg/types"
	"github.com/stridecast/server/pkg/video"
)

// Strava wants a comma-joined scope list, so it is a single scope value.
const oauthScope = "read,activity:read_all"

// StravaEndpoint is the provider's OAuth2 endpoint pair.
var StravaEndpoint = oauth2.Endpoint{
	AuthURL:  "https://www.strava.com/oauth/authorize",
	TokenURL: "https://www.strava.com/oauth/token",
}

// OAuthConfig builds the authorization-code config for the registered
// application.
func OAuthConfig(cfg bootstrap.StravaConfig) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURI,
		Scopes:       []string{oauthScope},
		Endpoint:     StravaEndpoint,
	}
}

// Syncer is the slice of the sync orchestrator the handlers need.
type Syncer interface {
	Sync(ctx context.Context, userID string) syncpkg.Result
}

// Handler coordinates HTTP requests with the sync and video services.
type Handler struct {
	db            shared.Database
	orch          Syncer
	videos        *video.Service
	oauth         *oauth2.Config
	sessionSecret []byte
	logger        *slog.Logger
}

func NewHandler(db shared.Database, orch Syncer, videos *video.Service, oauthCfg *oauth2.Config, sessionSecret []byte, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		db:            db,
		orch:          orch,
		videos:        videos,
		oauth:         oauthCfg,
		sessionSecret: sessionSecret,
		logger:        logger,
	}
}

// Authorize starts the OAuth handshake: a random state pinned in a
// short-lived cookie, then a redirect to the provider.
func (h *Handler) Authorize(w http.ResponseWriter, r *http.Request) {
	state := uuid.NewString()
	http.SetCookie(w, sessionCookie(cookieState, state, 10*time.Minute))

	url := h.oauth.AuthCodeURL(state, oauth2.SetAuthURLParam("approval_prompt", "auto"))
	http.Redirect(w, r, url, http.StatusFound)
}

// Callback finishes the handshake: verifies state, exchanges the code,
// upserts the profile with the token set, and establishes the session.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	stateCookie, err := r.Cookie(cookieState)
	if err != nil || stateCookie.Value == "" || stateCookie.Value != query.Get("state") {
		h.logger.Warn("OAuth callback with bad state")
		http.Redirect(w, r, "/?error=oauth_failed", http.StatusFound)
		return
	}

	code := query.Get("code")
	if code == "" {
		http.Redirect(w, r, "/?error=oauth_failed", http.StatusFound)
		return
	}

	tok, err := h.oauth.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("Token exchange failed", "error", err)
		http.Redirect(w, r, "/?error=token_exchange_failed", http.StatusFound)
		return
	}

	athleteID, name, err := athleteFromToken(tok)
	if err != nil {
		h.logger.Error("Token response missing athlete", "error", err)
		http.Redirect(w, r, "/?error=token_exchange_failed", http.StatusFound)
		return
	}
	userID := strconv.FormatInt(athleteID, 10)

	profile := &types.UserProfile{
		UserID:       userID,
		AthleteID:    athleteID,
		Name:         name,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}
	if !tok.Expiry.IsZero() {
		expiry := tok.Expiry.UTC()
		profile.TokenExpiresAt = &expiry
	}
	now := time.Now().UTC()
	profile.UpdatedAt = now
	profile.CreatedAt = now
	if existing, err := h.db.GetUser(r.Context(), userID); err == nil {
		profile.CreatedAt = existing.CreatedAt
	}
	if err := h.db.UpsertUser(r.Context(), profile); err != nil {
		h.logger.Error("Failed to persist profile", "user_id", userID, "error", err)
		http.Redirect(w, r, "/?error=token_exchange_failed", http.StatusFound)
		return
	}

	setSessionCookies(w, h.sessionSecret, userID, name)
	http.SetCookie(w, sessionCookie(cookieState, "", -time.Second))
	http.Redirect(w, r, "/dashboard", http.StatusFound)
}

// athleteFromToken pulls the athlete summary Strava embeds in its token
// response.
func athleteFromToken(tok *oauth2.Token) (int64, string, error) {
	raw, ok := tok.Extra("athlete").(map[string]interface{})
	if !ok {
		return 0, "", errors.New("no athlete in token response")
	}
	id, ok := raw["id"].(float64)
	if !ok || id <= 0 {
		return 0, "", errors.New("no athlete id in token response")
	}
	first, _ := raw["firstname"].(string)
	last, _ := raw["lastname"].(string)
	name := strings.TrimSpace(first + " " + last)
	return int64(id), name, nil
}

// Signout clears the session cookies.
func (h *Handler) Signout(w http.ResponseWriter, r *http.Request) {
	clearSessionCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

// Sync runs the import pipeline and maps its terminal state to a status
// code: 401 with a re-auth hint, 502 when the provider is down, 500 for
// everything else that failed.
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())

	result := h.orch.Sync(r.Context(), userID)
	switch result.State {
	case syncpkg.StateSynced:
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status": string(result.State),
			"count":  result.Count,
		})
	case syncpkg.StateUnauthenticated:
		writeJSON(w, http.StatusUnauthorized, map[string]interface{}{
			"status":     string(result.State),
			"reauth_url": "/auth/strava",
		})
	default:
		status := http.StatusInternalServerError
		if errors.Is(result.Err, strava.ErrUpstreamUnavailable) {
			status = http.StatusBadGateway
		}
		payload := map[string]interface{}{
			"status": string(result.State),
			"count":  result.Count,
		}
		if result.Err != nil {
			payload["detail"] = result.Err.Error()
		}
		writeJSON(w, status, payload)
	}
}

func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())

	runs, err := h.db.ListRuns(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	if runs == nil {
		runs = []*types.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"runs": runs})
}

func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	runID := chi.URLParam(r, "id")

	run, err := h.db.GetRun(r.Context(), userID, runID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "run not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// ExportFit streams the run as a FIT activity file.
func (h *Handler) ExportFit(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	runID := chi.URLParam(r, "id")

	run, err := h.db.GetRun(r.Context(), userID, runID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "run not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	data, err := file_generators.GenerateFitFile(run)
	if err != nil {
		h.logger.Error("FIT export failed", "run_id", runID, "error", err)
		writeError(w, http.StatusInternalServerError, "server_error", "failed to generate FIT file")
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="run-%s.fit"`, runID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// CreateVideoRequest is the payload for POST /api/videos.
type CreateVideoRequest struct {
	RunID string `json:"run_id"`
}

// CreateVideo enqueues a render and returns the processing job record.
func (h *Handler) CreateVideo(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())

	var req CreateVideoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if strings.TrimSpace(req.RunID) == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "run_id is required")
		return
	}

	job, err := h.videos.Create(r.Context(), userID, req.RunID)
	if err != nil {
		switch {
		case errors.Is(err, shared.ErrNotFound):
			writeError(w, http.StatusNotFound, "not_found", "run not found")
		case errors.Is(err, video.ErrQueueFull):
			writeError(w, http.StatusServiceUnavailable, "overloaded", "render queue full, try again later")
		default:
			writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		}
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (h *Handler) GetVideo(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	jobID := chi.URLParam(r, "id")

	job, err := h.videos.Get(r.Context(), userID, jobID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "video job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// Healthz reports a simple OK status for container health checks.
func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, map[string]string{
		"type":   code,
		"detail": detail,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
