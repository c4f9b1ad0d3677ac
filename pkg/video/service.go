// Package video owns the run-visualization render pipeline: a job record
// per render, an explicit in-process queue, and a worker that renders the
// artifact and settles the record. Creation is fire-and-forget: the
// triggering request returns as soon as the processing record is written.
package video

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	shared "github.com/stridecast/server/pkg"
	"github.com/stridecast/server/pkg/types"
)

// DefaultQueueSize bounds how many renders may be waiting before new
// requests are rejected.
const DefaultQueueSize = 64

// ErrQueueFull means the render queue is saturated; the job record is
// settled as failed so the caller never polls a job nobody will run.
var ErrQueueFull = errors.New("render queue full")

// Job is the message handed to the render worker.
type Job struct {
	JobID  string
	UserID string
	Run    *types.Run
}

// Service creates and reads video jobs.
type Service struct {
	db     shared.Database
	queue  chan Job
	logger *slog.Logger
}

func NewService(db shared.Database, queueSize int, logger *slog.Logger) *Service {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		db:     db,
		queue:  make(chan Job, queueSize),
		logger: logger,
	}
}

// Jobs is the worker side of the queue.
func (s *Service) Jobs() <-chan Job {
	return s.queue
}

// Close stops accepting new jobs. The worker drains what remains.
func (s *Service) Close() {
	close(s.queue)
}

// Create writes a processing job record for the run and enqueues the
// render. The record is the only shared state between this call and the
// worker; the caller polls it for completion.
func (s *Service) Create(ctx context.Context, userID, runID string) (*types.VideoJob, error) {
	run, err := s.db.GetRun(ctx, userID, runID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	job := &types.VideoJob{
		ID:        uuid.NewString(),
		RunID:     run.ID,
		UserID:    userID,
		Status:    types.VideoStatusProcessing,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.CreateVideoJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create video job: %w", err)
	}

	select {
	case s.queue <- Job{JobID: job.ID, UserID: userID, Run: run}:
	default:
		s.logger.Warn("Render queue full, failing job", "job_id", job.ID)
		if err := s.db.UpdateVideoJob(ctx, userID, job.ID, map[string]interface{}{
			"status": string(types.VideoStatusFailed),
			"error":  ErrQueueFull.Error(),
		}); err != nil {
			s.logger.Error("Failed to settle rejected job", "job_id", job.ID, "error", err)
		}
		return nil, ErrQueueFull
	}

	return job, nil
}

// Get returns the job record for polling.
func (s *Service) Get(ctx context.Context, userID, jobID string) (*types.VideoJob, error) {
	return s.db.GetVideoJob(ctx, userID, jobID)
}
