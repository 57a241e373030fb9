// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/domain"
	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/domain/models"
	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/logging"
	"github.com/linuxfoundation/lfx-v2-transcript-service/pkg/concurrent"
)

// maxCleanupDelay caps the per-task retry delay.
const maxCleanupDelay = time.Hour

// Cleanup attempt outcomes recorded on the attempts counter.
const (
	cleanupOutcomeDeleted   = "deleted"
	cleanupOutcomeRetry     = "retry"
	cleanupOutcomeAbandoned = "abandoned"
)

// StaleFinalizer finishes finalizations that no delivery is driving anymore.
type StaleFinalizer interface {
	ResumeStale(ctx context.Context) (int, error)
}

// CleanupService retries failed upstream session teardowns on its own
// schedule, so that finalization never waits on them. When Finalizer is set,
// each sweep also resumes stale finalizations.
type CleanupService struct {
	TaskRepository domain.CleanupTaskRepository
	Upstream       domain.UpstreamClient
	Finalizer      StaleFinalizer
	Config         ServiceConfig
	pool           *concurrent.WorkerPool
	attempts       metric.Int64Counter
	now            clock
}

// NewCleanupService creates a new CleanupService.
func NewCleanupService(
	taskRepository domain.CleanupTaskRepository,
	upstream domain.UpstreamClient,
	config ServiceConfig,
) *CleanupService {
	attempts, err := meter.Int64Counter(
		"transcript.cleanup.attempts",
		metric.WithDescription("Upstream session teardown attempts by outcome"),
	)
	if err != nil {
		slog.Warn("unable to create cleanup attempts counter", logging.ErrKey, err)
	}

	return &CleanupService{
		TaskRepository: taskRepository,
		Upstream:       upstream,
		Config:         config,
		pool:           concurrent.NewWorkerPool(config.CleanupWorkers),
		attempts:       attempts,
		now:            utcNow,
	}
}

// ServiceReady checks if the service is ready for use.
func (s *CleanupService) ServiceReady() bool {
	return s.TaskRepository != nil && s.Upstream != nil
}

// Enqueue schedules a teardown after the inline attempt for meeting failed with cause.
func (s *CleanupService) Enqueue(ctx context.Context, meeting *models.Meeting, cause error) error {
	if !s.ServiceReady() {
		return domain.NewUnavailableError("cleanup service not ready")
	}

	now := s.now()
	task := &models.CleanupTask{
		MeetingUID:      meeting.UID,
		Platform:        meeting.Platform,
		NativeMeetingID: meeting.NativeMeetingID,
		Attempts:        1,
		NextAttemptAt:   now.Add(s.retryDelay(1)),
		CreatedAt:       now,
	}
	if cause != nil {
		task.LastError = cause.Error()
	}

	if err := s.TaskRepository.Put(ctx, task); err != nil {
		slog.ErrorContext(ctx, "error enqueuing upstream cleanup", logging.ErrKey, err, "meeting_uid", meeting.UID)
		return err
	}

	slog.InfoContext(ctx, "upstream cleanup enqueued",
		"meeting_uid", meeting.UID,
		"next_attempt_at", task.NextAttemptAt,
	)
	return nil
}

// RunOnce resumes stale finalizations, then attempts every due task and
// returns how many tasks were attempted.
func (s *CleanupService) RunOnce(ctx context.Context) (int, error) {
	if !s.ServiceReady() {
		return 0, domain.NewUnavailableError("cleanup service not ready")
	}

	if s.Finalizer != nil {
		if n, err := s.Finalizer.ResumeStale(ctx); err != nil {
			slog.WarnContext(ctx, "stale finalization sweep failed", logging.ErrKey, err)
		} else if n > 0 {
			slog.InfoContext(ctx, "stale finalizations completed", "finished", n)
		}
	}

	tasks, err := s.TaskRepository.List(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "error listing cleanup tasks", logging.ErrKey, err)
		return 0, err
	}

	now := s.now()
	var due []func() error
	for _, task := range tasks {
		if !task.Due(now) {
			continue
		}
		due = append(due, func() error {
			return s.attempt(ctx, task)
		})
	}
	if len(due) == 0 {
		return 0, nil
	}

	for _, err := range s.pool.RunAll(ctx, due...) {
		slog.ErrorContext(ctx, "cleanup attempt could not be recorded", logging.ErrKey, err)
	}

	return len(due), nil
}

// Run sweeps due tasks every CleanupInterval until ctx is done.
func (s *CleanupService) Run(ctx context.Context) {
	interval := s.Config.CleanupInterval
	if interval <= 0 {
		interval = DefaultServiceConfig().CleanupInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.InfoContext(ctx, "upstream cleanup loop started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "upstream cleanup loop stopped")
			return
		case <-ticker.C:
			if n, err := s.RunOnce(ctx); err != nil {
				slog.WarnContext(ctx, "upstream cleanup sweep failed", logging.ErrKey, err)
			} else if n > 0 {
				slog.DebugContext(ctx, "upstream cleanup sweep done", "attempted", n)
			}
		}
	}
}

// attempt tries one teardown and reschedules, completes or abandons the task.
func (s *CleanupService) attempt(ctx context.Context, task *models.CleanupTask) error {
	ctx = logging.WithMeeting(ctx, task.MeetingUID)

	err := s.Upstream.DeleteSession(ctx, task.Platform, task.NativeMeetingID)
	if err == nil {
		s.record(ctx, cleanupOutcomeDeleted)
		slog.InfoContext(ctx, "upstream session deleted by cleanup", "attempts", task.Attempts+1)
		return s.TaskRepository.Delete(ctx, task.MeetingUID)
	}

	task.Attempts++
	task.LastError = err.Error()

	if task.Attempts >= s.maxAttempts() {
		s.record(ctx, cleanupOutcomeAbandoned)
		slog.ErrorContext(ctx, "giving up on upstream session cleanup",
			logging.ErrKey, err,
			"attempts", task.Attempts,
			logging.PriorityCritical(),
		)
		return s.TaskRepository.Delete(ctx, task.MeetingUID)
	}

	task.NextAttemptAt = s.now().Add(s.retryDelay(task.Attempts))
	s.record(ctx, cleanupOutcomeRetry)
	slog.WarnContext(ctx, "upstream session cleanup failed, rescheduling",
		logging.ErrKey, err,
		"attempts", task.Attempts,
		"next_attempt_at", task.NextAttemptAt,
	)
	return s.TaskRepository.Put(ctx, task)
}

func (s *CleanupService) maxAttempts() int {
	if s.Config.CleanupMaxAttempts <= 0 {
		return DefaultServiceConfig().CleanupMaxAttempts
	}
	return s.Config.CleanupMaxAttempts
}

// retryDelay doubles the cleanup interval for every failed attempt.
func (s *CleanupService) retryDelay(attempts int) time.Duration {
	delay := s.Config.CleanupInterval
	if delay <= 0 {
		delay = DefaultServiceConfig().CleanupInterval
	}
	for i := 1; i < attempts && delay < maxCleanupDelay; i++ {
		delay *= 2
	}
	return min(delay, maxCleanupDelay)
}

func (s *CleanupService) record(ctx context.Context, outcome string) {
	if s.attempts == nil {
		return
	}
	s.attempts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
