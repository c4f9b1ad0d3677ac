package shared

import (
	"context"
	"errors"

	"github.com/cloudevents/sdk-go/v2/event"
	"github.com/stridecast/server/pkg/types"
)

// ErrNotFound is returned by Database implementations when the requested
// document does not exist.
var ErrNotFound = errors.New("not found")

// --- Persistence Interfaces ---

type Database interface {
	// Users
	GetUser(ctx context.Context, id string) (*types.UserProfile, error)
	UpsertUser(ctx context.Context, profile *types.UserProfile) error
	UpdateUser(ctx context.Context, id string, data map[string]interface{}) error

	// Runs (sub-collection of the user document)
	UpsertRuns(ctx context.Context, userID string, runs []*types.Run) (int, error)
	GetRun(ctx context.Context, userID, runID string) (*types.Run, error)
	ListRuns(ctx context.Context, userID string) ([]*types.Run, error)

	// Video jobs (sub-collection of the user document)
	CreateVideoJob(ctx context.Context, job *types.VideoJob) error
	GetVideoJob(ctx context.Context, userID, jobID string) (*types.VideoJob, error)
	UpdateVideoJob(ctx context.Context, userID, jobID string, data map[string]interface{}) error
}

// --- Messaging Interfaces ---

type Publisher interface {
	PublishCloudEvent(ctx context.Context, topic string, e event.Event) (string, error)
}

// --- Storage Interfaces ---

type BlobStore interface {
	Write(ctx context.Context, bucket, object, contentType string, data []byte) error
	Read(ctx context.Context, bucket, object string) ([]byte, error)
}

// --- Notification Interfaces ---

type NotificationService interface {
	SendPushNotification(ctx context.Context, userID string, title, body string, tokens []string, data map[string]string) error
}
