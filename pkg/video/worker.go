package video

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	shared "github.com/stridecast/server/pkg"
	"github.com/stridecast/server/pkg/bootstrap"
	infrapubsub "github.com/stridecast/server/pkg/infrastructure/pubsub"
	"github.com/stridecast/server/pkg/infrastructure/sentry"
	infrastorage "github.com/stridecast/server/pkg/infrastructure/storage"
	"github.com/stridecast/server/pkg/types"
)

const (
	EventSource        = "//stridecast/video-worker"
	EventTypeCompleted = "com.stridecast.video.completed"
	EventTypeFailed    = "com.stridecast.video.failed"
)

// Event is the lifecycle payload published when a render settles.
type Event struct {
	JobID    string `json:"job_id"`
	UserID   string `json:"user_id"`
	RunID    string `json:"run_id"`
	Status   string `json:"status"`
	VideoURL string `json:"video_url,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Worker drains the render queue one job at a time. It is the only
// writer of job records after creation, so every job moves exactly once
// from processing to a terminal state.
type Worker struct {
	svc      *bootstrap.Service
	renderer Renderer
	jobs     <-chan Job
	logger   *slog.Logger
	done     chan struct{}
}

func NewWorker(svc *bootstrap.Service, renderer Renderer, jobs <-chan Job, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		svc:      svc,
		renderer: renderer,
		jobs:     jobs,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start consumes jobs until the queue channel is closed.
func (w *Worker) Start() {
	go func() {
		defer close(w.done)
		for job := range w.jobs {
			w.process(context.Background(), job)
		}
	}()
}

// Wait blocks until the worker has drained the closed queue. Call
// Service.Close first.
func (w *Worker) Wait(ctx context.Context) error {
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) process(ctx context.Context, job Job) {
	log := w.logger.With("job_id", job.JobID, "run_id", job.Run.ID, "user_id", job.UserID)
	log.Info("Rendering run video")

	url, err := w.render(ctx, job)
	if err != nil {
		log.Error("Render failed", "error", err)
		sentry.CaptureException(err, map[string]interface{}{"job_id": job.JobID}, log)
		w.settle(ctx, job, types.VideoStatusFailed, "", err.Error())
		return
	}

	log.Info("Render complete", "video_url", url)
	w.settle(ctx, job, types.VideoStatusCompleted, url, "")
	w.notify(ctx, job, url)
}

func (w *Worker) render(ctx context.Context, job Job) (string, error) {
	artifact, err := w.renderer.Render(job.Run)
	if err != nil {
		return "", fmt.Errorf("render run %s: %w", job.Run.ID, err)
	}

	bucket := w.svc.Config.GCSArtifactBucket
	if bucket == "" {
		return "", errors.New("no artifact bucket configured")
	}
	object := fmt.Sprintf("videos/%s/%s.svg", job.UserID, job.JobID)
	if err := w.svc.Store.Write(ctx, bucket, object, artifact.ContentType, artifact.Data); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	return infrastorage.PublicURL(bucket, object), nil
}

// settle writes the terminal job state and publishes the lifecycle
// event. A failed record write is logged but does not block the event:
// downstream consumers tolerate duplicates, pollers do not tolerate a
// job stuck in processing.
func (w *Worker) settle(ctx context.Context, job Job, status types.VideoStatus, url, errMsg string) {
	updates := map[string]interface{}{
		"status": string(status),
	}
	if url != "" {
		updates["video_url"] = url
	}
	if errMsg != "" {
		updates["error"] = errMsg
	}
	if err := w.svc.DB.UpdateVideoJob(ctx, job.UserID, job.JobID, updates); err != nil {
		w.logger.Error("Failed to update job record", "job_id", job.JobID, "error", err)
		sentry.CaptureException(err, map[string]interface{}{"job_id": job.JobID}, w.logger)
	}

	eventType := EventTypeCompleted
	if status == types.VideoStatusFailed {
		eventType = EventTypeFailed
	}
	event, err := infrapubsub.NewCloudEvent(EventSource, eventType, Event{
		JobID:    job.JobID,
		UserID:   job.UserID,
		RunID:    job.Run.ID,
		Status:   string(status),
		VideoURL: url,
		Error:    errMsg,
	})
	if err != nil {
		w.logger.Error("Failed to build lifecycle event", "job_id", job.JobID, "error", err)
		return
	}
	if _, err := w.svc.Pub.PublishCloudEvent(ctx, shared.TopicVideoEvents, event); err != nil {
		w.logger.Error("Failed to publish lifecycle event", "job_id", job.JobID, "error", err)
	}
}

func (w *Worker) notify(ctx context.Context, job Job, url string) {
	if w.svc.Notify == nil {
		return
	}
	profile, err := w.svc.DB.GetUser(ctx, job.UserID)
	if err != nil || len(profile.FCMTokens) == 0 {
		return
	}
	body := fmt.Sprintf("Your video for %q is ready", job.Run.Name)
	err = w.svc.Notify.SendPushNotification(ctx, job.UserID, "Video ready", body, profile.FCMTokens, map[string]string{
		"job_id":    job.JobID,
		"run_id":    job.Run.ID,
		"video_url": url,
	})
	if err != nil {
		w.logger.Warn("Push notification failed", "job_id", job.JobID, "error", err)
	}
}
