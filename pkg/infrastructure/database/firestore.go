package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	shared "github.com/stridecast/server/pkg"
	"github.com/stridecast/server/pkg/types"
)

// FirestoreAdapter provides database operations using Firestore.
// Failures are surfaced unmodified apart from wrapping; a missing
// document maps to shared.ErrNotFound.
type FirestoreAdapter struct {
	Client *firestore.Client
}

func NewFirestoreAdapter(client *firestore.Client) *FirestoreAdapter {
	return &FirestoreAdapter{Client: client}
}

func (a *FirestoreAdapter) users() *firestore.CollectionRef {
	return a.Client.Collection(shared.CollectionUsers)
}

func (a *FirestoreAdapter) runs(userID string) *firestore.CollectionRef {
	return a.users().Doc(userID).Collection(shared.CollectionRuns)
}

func (a *FirestoreAdapter) videos(userID string) *firestore.CollectionRef {
	return a.users().Doc(userID).Collection(shared.CollectionVideos)
}

func notFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

// --- Users ---

func (a *FirestoreAdapter) GetUser(ctx context.Context, id string) (*types.UserProfile, error) {
	snap, err := a.users().Doc(id).Get(ctx)
	if err != nil {
		if notFound(err) {
			return nil, fmt.Errorf("user %s: %w", id, shared.ErrNotFound)
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	var profile types.UserProfile
	if err := snap.DataTo(&profile); err != nil {
		return nil, fmt.Errorf("decode user: %w", err)
	}
	return &profile, nil
}

// UpsertUser writes the profile keyed by user id, merging over any
// existing document so that fields not carried on the struct (e.g. a
// token set written by a concurrent refresh) survive.
func (a *FirestoreAdapter) UpsertUser(ctx context.Context, profile *types.UserProfile) error {
	if profile.UserID == "" {
		return fmt.Errorf("upsert user: missing user id")
	}
	_, err := a.users().Doc(profile.UserID).Set(ctx, profile, firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (a *FirestoreAdapter) UpdateUser(ctx context.Context, id string, data map[string]interface{}) error {
	updates := make([]firestore.Update, 0, len(data))
	for path, value := range data {
		updates = append(updates, firestore.Update{Path: path, Value: value})
	}
	_, err := a.users().Doc(id).Update(ctx, updates)
	if err != nil {
		if notFound(err) {
			return fmt.Errorf("user %s: %w", id, shared.ErrNotFound)
		}
		return fmt.Errorf("update user: %w", err)
	}
	return nil
}

// --- Runs ---

// UpsertRuns writes each run keyed by its id (derived from the Strava
// activity id), so re-syncing the same activity overwrites the stored row
// with the freshest values instead of creating a duplicate. Returns the
// number of rows written. A failure mid-batch leaves earlier writes
// committed; no cross-batch transaction is attempted.
func (a *FirestoreAdapter) UpsertRuns(ctx context.Context, userID string, runs []*types.Run) (int, error) {
	if len(runs) == 0 {
		return 0, nil
	}

	bw := a.Client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(runs))
	for _, run := range runs {
		job, err := bw.Set(a.runs(userID).Doc(run.ID), run)
		if err != nil {
			bw.End()
			return 0, fmt.Errorf("upsert run %s: %w", run.ID, err)
		}
		jobs = append(jobs, job)
	}
	bw.End()

	written := 0
	for i, job := range jobs {
		if _, err := job.Results(); err != nil {
			return written, fmt.Errorf("upsert run %s: %w", runs[i].ID, err)
		}
		written++
	}
	return written, nil
}

func (a *FirestoreAdapter) GetRun(ctx context.Context, userID, runID string) (*types.Run, error) {
	snap, err := a.runs(userID).Doc(runID).Get(ctx)
	if err != nil {
		if notFound(err) {
			return nil, fmt.Errorf("run %s: %w", runID, shared.ErrNotFound)
		}
		return nil, fmt.Errorf("get run: %w", err)
	}

	var run types.Run
	if err := snap.DataTo(&run); err != nil {
		return nil, fmt.Errorf("decode run: %w", err)
	}
	return &run, nil
}

func (a *FirestoreAdapter) ListRuns(ctx context.Context, userID string) ([]*types.Run, error) {
	it := a.runs(userID).OrderBy("start_date", firestore.Desc).Documents(ctx)
	defer it.Stop()

	var runs []*types.Run
	for {
		snap, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}
		var run types.Run
		if err := snap.DataTo(&run); err != nil {
			return nil, fmt.Errorf("decode run %s: %w", snap.Ref.ID, err)
		}
		runs = append(runs, &run)
	}
	return runs, nil
}

// --- Video jobs ---

func (a *FirestoreAdapter) CreateVideoJob(ctx context.Context, job *types.VideoJob) error {
	if job.ID == "" || job.UserID == "" {
		return fmt.Errorf("create video job: missing id or user id")
	}
	_, err := a.videos(job.UserID).Doc(job.ID).Create(ctx, job)
	if err != nil {
		return fmt.Errorf("create video job: %w", err)
	}
	return nil
}

func (a *FirestoreAdapter) GetVideoJob(ctx context.Context, userID, jobID string) (*types.VideoJob, error) {
	snap, err := a.videos(userID).Doc(jobID).Get(ctx)
	if err != nil {
		if notFound(err) {
			return nil, fmt.Errorf("video %s: %w", jobID, shared.ErrNotFound)
		}
		return nil, fmt.Errorf("get video job: %w", err)
	}

	var job types.VideoJob
	if err := snap.DataTo(&job); err != nil {
		return nil, fmt.Errorf("decode video job: %w", err)
	}
	return &job, nil
}

func (a *FirestoreAdapter) UpdateVideoJob(ctx context.Context, userID, jobID string, data map[string]interface{}) error {
	if _, ok := data["updated_at"]; !ok {
		data["updated_at"] = time.Now().UTC()
	}

	updates := make([]firestore.Update, 0, len(data))
	for path, value := range data {
		updates = append(updates, firestore.Update{Path: path, Value: value})
	}
	_, err := a.videos(userID).Doc(jobID).Update(ctx, updates)
	if err != nil {
		if notFound(err) {
			return fmt.Errorf("video %s: %w", jobID, shared.ErrNotFound)
		}
		return fmt.Errorf("update video job: %w", err)
	}
	return nil
}
