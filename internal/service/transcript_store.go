// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"log/slog"

	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/domain"
	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/domain/models"
	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/logging"
)

// TranscriptStore persists finalized segments. Writes are create-if-absent per
// dedup key, so ingesting the same payload again adds nothing.
type TranscriptStore struct {
	SegmentRepository domain.TranscriptSegmentRepository
	now               clock
}

// NewTranscriptStore creates a new TranscriptStore.
func NewTranscriptStore(segmentRepository domain.TranscriptSegmentRepository) *TranscriptStore {
	return &TranscriptStore{
		SegmentRepository: segmentRepository,
		now:               utcNow,
	}
}

// ServiceReady checks if the service is ready for use.
func (s *TranscriptStore) ServiceReady() bool {
	return s.SegmentRepository != nil
}

// Persist stores the segments of a meeting and returns how many were new.
func (s *TranscriptStore) Persist(ctx context.Context, meetingUID string, segments []models.TranscriptSegment) (int, error) {
	if !s.ServiceReady() {
		slog.ErrorContext(ctx, "transcript store not initialized", logging.PriorityCritical())
		return 0, domain.NewUnavailableError("transcript store not ready")
	}

	now := s.now()
	created := 0
	for _, segment := range segments {
		segment.MeetingUID = meetingUID
		if segment.CreatedAt.IsZero() {
			segment.CreatedAt = now
		}

		isNew, err := s.SegmentRepository.PutIfAbsent(ctx, &segment)
		if err != nil {
			slog.ErrorContext(ctx, "error persisting transcript segment",
				logging.ErrKey, err,
				"meeting_uid", meetingUID,
				"start_time", segment.StartTime,
			)
			return created, err
		}
		if isNew {
			created++
		}
	}

	slog.DebugContext(ctx, "persisted transcript segments",
		"meeting_uid", meetingUID,
		"received", len(segments),
		"created", created,
	)
	return created, nil
}

// List returns the stored segments of a meeting ordered by start time.
func (s *TranscriptStore) List(ctx context.Context, meetingUID string) ([]models.TranscriptSegment, error) {
	if !s.ServiceReady() {
		return nil, domain.NewUnavailableError("transcript store not ready")
	}

	segments, err := s.SegmentRepository.ListByMeeting(ctx, meetingUID)
	if err != nil {
		return nil, err
	}
	if segments == nil {
		segments = []models.TranscriptSegment{}
	}
	models.SortSegments(segments)
	return segments, nil
}
