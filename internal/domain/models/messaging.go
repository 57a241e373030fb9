// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package models

import "time"

// NATS subjects that the transcript service sends messages about.
const (
	// IndexMeetingTranscriptSubject is the subject for the meeting transcript indexing.
	// The subject is of the form: lfx.index.meeting_transcript
	IndexMeetingTranscriptSubject = "lfx.index.meeting_transcript"

	// MeetingLifecycleSubjectPrefix prefixes lifecycle events; the lower-cased state is appended.
	// The subject is of the form: lfx.transcript-service.meeting.<state>
	MeetingLifecycleSubjectPrefix = "lfx.transcript-service.meeting."
)

// NATS wildcard subjects that the transcript service handles messages about.
const (
	// TranscriptServiceQueue is the queue group for the transcript service subscriptions.
	// The subject is of the form: lfx.transcript-service.queue
	TranscriptServiceQueue = "lfx.transcript-service.queue"
)

// NATS specific subjects that the transcript service handles messages about.
const (
	// MeetingAbortSubject moves a non-terminal meeting to ERROR on operator request.
	// The subject is of the form: lfx.transcript-service.meeting.abort
	MeetingAbortSubject = "lfx.transcript-service.meeting.abort"

	// MeetingGetStateSubject returns the current state of a meeting.
	// The subject is of the form: lfx.transcript-service.meeting.get_state
	MeetingGetStateSubject = "lfx.transcript-service.meeting.get_state"
)

// MessageAction is a type for the action of a meeting message.
type MessageAction string

// MessageAction constants for the action of a meeting message.
const (
	// ActionCreated is the action for a resource creation message.
	ActionCreated MessageAction = "created"
	// ActionUpdated is the action for a resource update message.
	ActionUpdated MessageAction = "updated"
	// ActionDeleted is the action for a resource deletion message.
	ActionDeleted MessageAction = "deleted"
)

// MeetingIndexerMessage is a NATS message schema for sending indexing messages about meeting transcripts.
type MeetingIndexerMessage struct {
	Action  MessageAction     `json:"action"`
	Headers map[string]string `json:"headers"`
	Data    any               `json:"data"`
	// Tags is a list of tags to be set on the indexed resource for search.
	Tags []string `json:"tags"`
}

// MeetingLifecycleEvent is published on every committed state transition.
type MeetingLifecycleEvent struct {
	MeetingUID      string       `json:"meeting_uid"`
	Platform        Platform     `json:"platform"`
	NativeMeetingID string       `json:"native_meeting_id"`
	From            MeetingState `json:"from,omitempty"`
	To              MeetingState `json:"to"`
	StateVersion    uint64       `json:"state_version"`
	Reason          string       `json:"reason,omitempty"`
	OccurredAt      time.Time    `json:"occurred_at"`
}

// MeetingAbortRequest is the payload of an operator abort request.
type MeetingAbortRequest struct {
	MeetingUID string `json:"meeting_uid"`
	Reason     string `json:"reason"`
}

// MeetingStateReply answers get_state and abort requests.
type MeetingStateReply struct {
	MeetingUID   string       `json:"meeting_uid,omitempty"`
	State        MeetingState `json:"state,omitempty"`
	StateVersion uint64       `json:"state_version,omitempty"`
	Error        string       `json:"error,omitempty"`
}
