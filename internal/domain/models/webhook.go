// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package models

import "time"

// MeetingFinishedNotification is the body the upstream posts when a meeting ends.
// MeetingID is the upstream meeting id.
type MeetingFinishedNotification struct {
	EventID         string   `json:"event_id"`
	Platform        Platform `json:"platform"`
	NativeMeetingID string   `json:"native_meeting_id"`
	MeetingID       string   `json:"meeting_id"`
}

// Identity returns the identity of the meeting the notification is about.
func (n MeetingFinishedNotification) Identity() MeetingIdentity {
	return MeetingIdentity{Platform: n.Platform, NativeMeetingID: n.NativeMeetingID}
}

// WebhookEvent is a ledger entry recording a fully processed notification.
type WebhookEvent struct {
	EventID         string    `json:"event_id"`
	MeetingUID      string    `json:"meeting_uid"`
	Platform        Platform  `json:"platform"`
	NativeMeetingID string    `json:"native_meeting_id"`
	ProcessedAt     time.Time `json:"processed_at"`
}

// WebhookOutcome tags how a notification was handled. All outcomes are successes.
type WebhookOutcome string

// Webhook outcomes.
const (
	// WebhookOutcomeProcessed means this delivery ran the finalize pipeline.
	WebhookOutcomeProcessed WebhookOutcome = "processed"
	// WebhookOutcomeDuplicate means the event id was already in the ledger.
	WebhookOutcomeDuplicate WebhookOutcome = "duplicate"
	// WebhookOutcomeAlreadyFinalized means the meeting was FINISHED under another event id.
	WebhookOutcomeAlreadyFinalized WebhookOutcome = "already_finalized"
)

// CleanupTask is a pending upstream session teardown.
type CleanupTask struct {
	MeetingUID      string    `json:"meeting_uid"`
	Platform        Platform  `json:"platform"`
	NativeMeetingID string    `json:"native_meeting_id"`
	Attempts        int       `json:"attempts"`
	LastError       string    `json:"last_error,omitempty"`
	NextAttemptAt   time.Time `json:"next_attempt_at"`
	CreatedAt       time.Time `json:"created_at"`
}

// Due reports whether the task should be attempted at now.
func (t *CleanupTask) Due(now time.Time) bool {
	return !now.Before(t.NextAttemptAt)
}
