package mocks

import (
	"context"
	"fmt"

	"github.com/cloudevents/sdk-go/v2/event"
	shared "github.com/stridecast/server/pkg"
	"github.com/stridecast/server/pkg/types"
)

// --- Mock Database ---
type MockDatabase struct {
	GetUserFunc        func(ctx context.Context, id string) (*types.UserProfile, error)
	UpsertUserFunc     func(ctx context.Context, profile *types.UserProfile) error
	UpdateUserFunc     func(ctx context.Context, id string, data map[string]interface{}) error
	UpsertRunsFunc     func(ctx context.Context, userID string, runs []*types.Run) (int, error)
	GetRunFunc         func(ctx context.Context, userID, runID string) (*types.Run, error)
	ListRunsFunc       func(ctx context.Context, userID string) ([]*types.Run, error)
	CreateVideoJobFunc func(ctx context.Context, job *types.VideoJob) error
	GetVideoJobFunc    func(ctx context.Context, userID, jobID string) (*types.VideoJob, error)
	UpdateVideoJobFunc func(ctx context.Context, userID, jobID string, data map[string]interface{}) error
}

func (m *MockDatabase) GetUser(ctx context.Context, id string) (*types.UserProfile, error) {
	if m.GetUserFunc != nil {
		return m.GetUserFunc(ctx, id)
	}
	return nil, fmt.Errorf("user %s: %w", id, shared.ErrNotFound)
}

func (m *MockDatabase) UpsertUser(ctx context.Context, profile *types.UserProfile) error {
	if m.UpsertUserFunc != nil {
		return m.UpsertUserFunc(ctx, profile)
	}
	return nil
}

func (m *MockDatabase) UpdateUser(ctx context.Context, id string, data map[string]interface{}) error {
	if m.UpdateUserFunc != nil {
		return m.UpdateUserFunc(ctx, id, data)
	}
	return nil
}

func (m *MockDatabase) UpsertRuns(ctx context.Context, userID string, runs []*types.Run) (int, error) {
	if m.UpsertRunsFunc != nil {
		return m.UpsertRunsFunc(ctx, userID, runs)
	}
	return len(runs), nil
}

func (m *MockDatabase) GetRun(ctx context.Context, userID, runID string) (*types.Run, error) {
	if m.GetRunFunc != nil {
		return m.GetRunFunc(ctx, userID, runID)
	}
	return nil, fmt.Errorf("run %s: %w", runID, shared.ErrNotFound)
}

func (m *MockDatabase) ListRuns(ctx context.Context, userID string) ([]*types.Run, error) {
	if m.ListRunsFunc != nil {
		return m.ListRunsFunc(ctx, userID)
	}
	return nil, nil
}

func (m *MockDatabase) CreateVideoJob(ctx context.Context, job *types.VideoJob) error {
	if m.CreateVideoJobFunc != nil {
		return m.CreateVideoJobFunc(ctx, job)
	}
	return nil
}

func (m *MockDatabase) GetVideoJob(ctx context.Context, userID, jobID string) (*types.VideoJob, error) {
	if m.GetVideoJobFunc != nil {
		return m.GetVideoJobFunc(ctx, userID, jobID)
	}
	return nil, fmt.Errorf("video %s: %w", jobID, shared.ErrNotFound)
}

func (m *MockDatabase) UpdateVideoJob(ctx context.Context, userID, jobID string, data map[string]interface{}) error {
	if m.UpdateVideoJobFunc != nil {
		return m.UpdateVideoJobFunc(ctx, userID, jobID, data)
	}
	return nil
}

// --- Mock Publisher ---
type MockPublisher struct {
	PublishCloudEventFunc func(ctx context.Context, topic string, e event.Event) (string, error)
}

func (m *MockPublisher) PublishCloudEvent(ctx context.Context, topic string, e event.Event) (string, error) {
	if m.PublishCloudEventFunc != nil {
		return m.PublishCloudEventFunc(ctx, topic, e)
	}
	return "msg-id", nil
}

// --- Mock Storage ---
type MockBlobStore struct {
	WriteFunc func(ctx context.Context, bucket, object, contentType string, data []byte) error
	ReadFunc  func(ctx context.Context, bucket, object string) ([]byte, error)
}

func (m *MockBlobStore) Write(ctx context.Context, bucket, object, contentType string, data []byte) error {
	if m.WriteFunc != nil {
		return m.WriteFunc(ctx, bucket, object, contentType, data)
	}
	return nil
}

func (m *MockBlobStore) Read(ctx context.Context, bucket, object string) ([]byte, error) {
	if m.ReadFunc != nil {
		return m.ReadFunc(ctx, bucket, object)
	}
	return []byte("mock-data"), nil
}

// --- Mock Notifications ---
type MockNotificationService struct {
	SendPushNotificationFunc func(ctx context.Context, userID string, title, body string, tokens []string, data map[string]string) error
}

func (m *MockNotificationService) SendPushNotification(ctx context.Context, userID string, title, body string, tokens []string, data map[string]string) error {
	if m.SendPushNotificationFunc != nil {
		return m.SendPushNotificationFunc(ctx, userID, title, body, tokens, data)
	}
	return nil
}
