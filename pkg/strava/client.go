// Package strava is a client for the Strava v3 REST API, scoped to what
// the sync pipeline needs: listing an athlete's activities, fetching a
// single activity for its full-resolution polyline, and reading the
// authenticated athlete.
package strava

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	httputil "github.com/stridecast/server/pkg/infrastructure/http"
	"github.com/stridecast/server/pkg/infrastructure/oauth"
)

// DefaultBaseURL is the Strava API root.
const DefaultBaseURL = "https://www.strava.com/api/v3"

// ErrUpstreamUnavailable means Strava returned a non-2xx response or the
// request failed at the network level. Transient; safe to retry later
// with a fresh top-level call.
var ErrUpstreamUnavailable = errors.New("strava unavailable")

// Map is the route geometry attached to an activity. Summary entries
// carry only summary_polyline; the detail endpoint adds the
// full-resolution polyline.
type Map struct {
	ID              string `json:"id"`
	Polyline        string `json:"polyline"`
	SummaryPolyline string `json:"summary_polyline"`
}

// Activity is the subset of the Strava activity payload the pipeline
// consumes. Absent numeric fields decode to zero, which matches the
// declared normalization defaults.
type Activity struct {
	ID                 int64   `json:"id"`
	Name               string  `json:"name"`
	Distance           float64 `json:"distance"`
	MovingTime         int64   `json:"moving_time"`
	ElapsedTime        int64   `json:"elapsed_time"`
	TotalElevationGain float64 `json:"total_elevation_gain"`
	Type               string  `json:"type"`
	SportType          string  `json:"sport_type"`
	StartDate          string  `json:"start_date"`
	Map                Map     `json:"map"`
	AverageSpeed       float64 `json:"average_speed"`
	MaxSpeed           float64 `json:"max_speed"`
}

// IsRun reports whether the activity is a running activity.
func (a *Activity) IsRun() bool {
	return a.Type == "Run" || a.SportType == "Run"
}

// Athlete is the authenticated athlete payload.
type Athlete struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Firstname string `json:"firstname"`
	Lastname  string `json:"lastname"`
}

// DisplayName returns the athlete's full name, falling back to the
// username when names are absent.
func (a *Athlete) DisplayName() string {
	if a.Firstname == "" && a.Lastname == "" {
		return a.Username
	}
	if a.Lastname == "" {
		return a.Firstname
	}
	return a.Firstname + " " + a.Lastname
}

// Client calls the Strava API using an OAuth-authenticated HTTP client
// (see oauth.NewHTTPClient).
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

func NewClient(httpClient *http.Client, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    DefaultBaseURL,
		logger:     logger,
	}
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// A refresh rejection surfaced through the transport is an
		// authentication problem, not an upstream outage.
		if errors.Is(err, oauth.ErrRefreshFailed) {
			return fmt.Errorf("strava request: %w", err)
		}
		return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if httpErr := httputil.ParseErrorResponse(resp); httpErr != nil {
		return fmt.Errorf("%w: %w", ErrUpstreamUnavailable, httpErr)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode strava response: %w", err)
	}
	return nil
}

// ListActivities fetches the athlete's most recent activity summaries.
func (c *Client) ListActivities(ctx context.Context, perPage int) ([]Activity, error) {
	var activities []Activity
	path := "/athlete/activities?per_page=" + strconv.Itoa(perPage)
	if err := c.get(ctx, path, &activities); err != nil {
		return nil, err
	}
	return activities, nil
}

// GetActivity fetches one activity with its full-resolution polyline.
func (c *Client) GetActivity(ctx context.Context, id int64) (*Activity, error) {
	var activity Activity
	path := "/activities/" + strconv.FormatInt(id, 10)
	if err := c.get(ctx, path, &activity); err != nil {
		return nil, err
	}
	return &activity, nil
}

// GetAthlete fetches the authenticated athlete.
func (c *Client) GetAthlete(ctx context.Context) (*Athlete, error) {
	var athlete Athlete
	if err := c.get(ctx, "/athlete", &athlete); err != nil {
		return nil, err
	}
	return &athlete, nil
}
