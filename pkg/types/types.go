// Package types holds the record shapes persisted by the service.
package types

import "time"

// UserProfile is the per-user document, keyed by the user id.
// There is at most one profile per Strava athlete id. Token fields are
// written together: whenever an access token is present a refresh token
// is present too.
type UserProfile struct {
	UserID         string     `firestore:"user_id" json:"user_id"`
	AthleteID      int64      `firestore:"strava_athlete_id" json:"strava_athlete_id"`
	Name           string     `firestore:"name" json:"name"`
	AccessToken    string     `firestore:"strava_access_token" json:"-"`
	RefreshToken   string     `firestore:"strava_refresh_token" json:"-"`
	TokenExpiresAt *time.Time `firestore:"strava_token_expires_at" json:"-"`
	FCMTokens      []string   `firestore:"fcm_tokens,omitempty" json:"-"`
	CreatedAt      time.Time  `firestore:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `firestore:"updated_at" json:"updated_at"`
}

// Run is a normalized running activity imported from Strava.
// The document id is derived from the Strava activity id, so re-importing
// the same activity overwrites the existing row instead of duplicating it.
type Run struct {
	ID                 string    `firestore:"id" json:"id"`
	StravaID           int64     `firestore:"strava_id" json:"strava_id"`
	UserID             string    `firestore:"user_id" json:"user_id"`
	Name               string    `firestore:"name" json:"name"`
	Distance           float64   `firestore:"distance" json:"distance"`
	Duration           int64     `firestore:"duration" json:"duration"`
	StartDate          time.Time `firestore:"start_date" json:"start_date"`
	Polyline           *string   `firestore:"polyline" json:"polyline"`
	AverageSpeed       float64   `firestore:"average_speed" json:"average_speed"`
	MaxSpeed           float64   `firestore:"max_speed" json:"max_speed"`
	TotalElevationGain float64   `firestore:"total_elevation_gain" json:"total_elevation_gain"`
	SportType          string    `firestore:"sport_type" json:"sport_type"`
	UpdatedAt          time.Time `firestore:"updated_at" json:"updated_at"`
}

// VideoStatus is the lifecycle state of a render job. Transitions only
// move forward: processing -> completed or processing -> failed.
type VideoStatus string

const (
	VideoStatusProcessing VideoStatus = "processing"
	VideoStatusCompleted  VideoStatus = "completed"
	VideoStatusFailed     VideoStatus = "failed"
)

// VideoJob tracks one render of a run visualization. The record is written
// once at creation with status processing, and updated exactly once by the
// render worker when it finishes.
type VideoJob struct {
	ID        string      `firestore:"id" json:"id"`
	RunID     string      `firestore:"run_id" json:"run_id"`
	UserID    string      `firestore:"user_id" json:"user_id"`
	Status    VideoStatus `firestore:"status" json:"status"`
	VideoURL  *string     `firestore:"video_url" json:"video_url"`
	Error     string      `firestore:"error,omitempty" json:"error,omitempty"`
	CreatedAt time.Time   `firestore:"created_at" json:"created_at"`
	UpdatedAt time.Time   `firestore:"updated_at" json:"updated_at"`
}
