// Package sync drives one import of a user's Strava runs: validate the
// token set (refreshing on expiry), fetch and filter activities, and
// upsert them into storage. Every failure is terminal for the invocation;
// retries happen only through a fresh top-level call.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	shared "github.com/stridecast/server/pkg"
	"github.com/stridecast/server/pkg/infrastructure/oauth"
	"github.com/stridecast/server/pkg/strava"
	"github.com/stridecast/server/pkg/types"
)

// DefaultPerPage is how many recent activities one sync requests.
const DefaultPerPage = 20

// State is the terminal state of a sync invocation.
type State string

const (
	// StateSynced means runs were fetched and upserted.
	StateSynced State = "synced"
	// StateUnauthenticated means there is no usable token set; the user
	// must (re)authenticate before syncing again.
	StateUnauthenticated State = "unauthenticated"
	// StateSyncFailed means the provider or the store failed; runs
	// upserted before the failure remain committed.
	StateSyncFailed State = "sync_failed"
)

// Result is the outcome of one sync invocation.
type Result struct {
	State State
	Count int
	Err   error
}

// Fetcher is the slice of the Strava client the orchestrator needs.
type Fetcher interface {
	FetchRuns(ctx context.Context, userID string, perPage int) ([]*types.Run, error)
}

// FetcherFactory builds a Fetcher bound to a user's token source.
type FetcherFactory func(source oauth.TokenSource) Fetcher

// Orchestrator runs the sync pipeline for one user at a time.
type Orchestrator struct {
	db         shared.Database
	sources    *oauth.Registry
	fetcherFor FetcherFactory
	perPage    int
	logger     *slog.Logger
}

func NewOrchestrator(db shared.Database, sources *oauth.Registry, fetcherFor FetcherFactory, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		db:         db,
		sources:    sources,
		fetcherFor: fetcherFor,
		perPage:    DefaultPerPage,
		logger:     logger,
	}
}

// Sync imports the user's recent runs. The walk is TokenCheck -> Refresh
// (when expired) -> Fetch -> Persist, with each failure mapped to a
// terminal state carrying its diagnostic.
func (o *Orchestrator) Sync(ctx context.Context, userID string) Result {
	logger := o.logger.With("user_id", userID)

	// TokenCheck: no stored token set means no outbound call at all.
	profile, err := o.db.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return Result{State: StateUnauthenticated, Err: err}
		}
		return Result{State: StateSyncFailed, Err: fmt.Errorf("token lookup: %w", err)}
	}
	if profile.AccessToken == "" || profile.RefreshToken == "" {
		return Result{State: StateUnauthenticated, Err: fmt.Errorf("no token set for user %s", userID)}
	}

	// Refresh happens inside the token source when the stored expiry has
	// passed; a rejected refresh token forces re-authentication.
	source := o.sources.For(userID)
	if _, err := source.Token(ctx); err != nil {
		if errors.Is(err, oauth.ErrRefreshFailed) {
			logger.Warn("Refresh token rejected, re-authentication required", "error", err)
			return Result{State: StateUnauthenticated, Err: err}
		}
		return Result{State: StateSyncFailed, Err: fmt.Errorf("token check: %w", err)}
	}

	// Fetch
	runs, err := o.fetcherFor(source).FetchRuns(ctx, userID, o.perPage)
	if err != nil {
		if errors.Is(err, oauth.ErrRefreshFailed) {
			return Result{State: StateUnauthenticated, Err: err}
		}
		if errors.Is(err, strava.ErrUpstreamUnavailable) {
			logger.Warn("Strava unavailable", "error", err)
		}
		return Result{State: StateSyncFailed, Err: err}
	}

	// Persist: profile row first so runs always have a parent, then the
	// batch of runs keyed by Strava id.
	profile.UpdatedAt = time.Now().UTC()
	if err := o.db.UpsertUser(ctx, profile); err != nil {
		return Result{State: StateSyncFailed, Err: fmt.Errorf("profile upsert: %w", err)}
	}

	count, err := o.db.UpsertRuns(ctx, userID, runs)
	if err != nil {
		// Rows written before the failure stay committed.
		return Result{State: StateSyncFailed, Count: count, Err: fmt.Errorf("run upsert: %w", err)}
	}

	logger.Info("Sync completed", "count", count)
	return Result{State: StateSynced, Count: count}
}
