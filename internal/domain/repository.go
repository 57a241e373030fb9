// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package domain

import (
	"context"

	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/domain/models"
)

// MeetingRepository defines the interface for meeting storage operations.
// Writes are conditional on the storage revision so that callers can build
// compare-and-swap transitions on top of it.
type MeetingRepository interface {
	// Create stores a new meeting. It fails with a conflict if the uid exists.
	Create(ctx context.Context, meeting *models.Meeting) error
	// Get returns the meeting and its storage revision.
	Get(ctx context.Context, meetingUID string) (*models.Meeting, uint64, error)
	// Update replaces the meeting if the stored revision still equals revision.
	Update(ctx context.Context, meeting *models.Meeting, revision uint64) error
	// Delete removes the meeting if the stored revision still equals revision.
	Delete(ctx context.Context, meetingUID string, revision uint64) error
	// List returns every stored meeting.
	List(ctx context.Context) ([]*models.Meeting, error)

	// GetIdentity returns the uid of the meeting currently holding the identity.
	GetIdentity(ctx context.Context, identity models.MeetingIdentity) (string, uint64, error)
	// CreateIdentity claims an unclaimed identity. It fails with a conflict if claimed.
	CreateIdentity(ctx context.Context, identity models.MeetingIdentity, meetingUID string) error
	// ReplaceIdentity points a claimed identity at another meeting if revision still matches.
	ReplaceIdentity(ctx context.Context, identity models.MeetingIdentity, meetingUID string, revision uint64) error

	IsReady(ctx context.Context) bool
}

// UserMeetingLinkRepository stores which tenant users may access which meetings.
type UserMeetingLinkRepository interface {
	// Link stores the link and reports whether it was newly created.
	Link(ctx context.Context, link *models.UserMeetingLink) (bool, error)
	Exists(ctx context.Context, userID, meetingUID string) (bool, error)
	Unlink(ctx context.Context, userID, meetingUID string) error
	ListMeetingUIDs(ctx context.Context, userID string) ([]string, error)
}

// TranscriptSegmentRepository persists finalized transcript segments.
type TranscriptSegmentRepository interface {
	// PutIfAbsent stores the segment unless one with the same dedup key exists.
	PutIfAbsent(ctx context.Context, segment *models.TranscriptSegment) (bool, error)
	// ListByMeeting returns the meeting's segments ordered by start time.
	ListByMeeting(ctx context.Context, meetingUID string) ([]models.TranscriptSegment, error)
}

// WebhookEventRepository is the dedupe ledger for processed notifications.
type WebhookEventRepository interface {
	Get(ctx context.Context, eventID string) (*models.WebhookEvent, error)
	// Record stores the event and reports whether it was newly recorded.
	Record(ctx context.Context, event *models.WebhookEvent) (bool, error)
}

// APITokenRepository resolves hashed tenant API keys.
type APITokenRepository interface {
	GetByHash(ctx context.Context, tokenHash string) (*models.APIToken, error)
	Put(ctx context.Context, token *models.APIToken) error
}

// CleanupTaskRepository stores pending upstream teardowns.
type CleanupTaskRepository interface {
	Put(ctx context.Context, task *models.CleanupTask) error
	Delete(ctx context.Context, meetingUID string) error
	List(ctx context.Context) ([]*models.CleanupTask, error)
}
