package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"strings"
	"time"
)

// Session cookies carry only the user id and display name. Tokens live
// in the user document and never leave the server. The id cookie is
// signed with the server session secret so a client cannot mint a
// session for another athlete.
const (
	cookieUserID   = "strava_athlete_id"
	cookieUserName = "strava_athlete_name"
	cookieState    = "oauth_state"

	sessionMaxAge = 7 * 24 * time.Hour
)

type contextKey string

const userIDKey contextKey = "user_id"

// UserIDFromContext returns the session user id set by RequireSession.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok
}

// signSession encodes the user id as "<id>.<hmac>". Athlete ids are
// numeric so the dot separator is unambiguous.
func signSession(secret []byte, userID string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(userID))
	return userID + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// verifySession returns the user id carried by a signed cookie value,
// rejecting values with a missing or mismatched signature.
func verifySession(secret []byte, value string) (string, bool) {
	id, sig, ok := strings.Cut(value, ".")
	if !ok || id == "" {
		return "", false
	}
	got, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil {
		return "", false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(id))
	if !hmac.Equal(got, mac.Sum(nil)) {
		return "", false
	}
	return id, true
}

func sessionCookie(name, value string, maxAge time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	}
}

func setSessionCookies(w http.ResponseWriter, secret []byte, userID, name string) {
	http.SetCookie(w, sessionCookie(cookieUserID, signSession(secret, userID), sessionMaxAge))
	http.SetCookie(w, sessionCookie(cookieUserName, name, sessionMaxAge))
}

func clearSessionCookies(w http.ResponseWriter) {
	http.SetCookie(w, sessionCookie(cookieUserID, "", -time.Second))
	http.SetCookie(w, sessionCookie(cookieUserName, "", -time.Second))
}

// RequireSession rejects requests without a validly signed session
// cookie and loads the user id into the request context.
func RequireSession(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(cookieUserID)
			if err != nil || cookie.Value == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized", "sign in with Strava first")
				return
			}
			userID, ok := verifySession(secret, cookie.Value)
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid session")
				return
			}
			ctx := context.WithValue(r.Context(), userIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
