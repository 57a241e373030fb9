// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package domain

import (
	"context"

	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/domain/models"
)

// Message represents a domain message interface
type Message interface {
	Subject() string
	Data() []byte
	Respond(data []byte) error
	HasReply() bool
}

// MessageHandler defines how the service handles incoming messages
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg Message)
	HandlerReady() bool
}

// MeetingEventSender publishes meeting lifecycle events.
type MeetingEventSender interface {
	SendMeetingLifecycleEvent(ctx context.Context, event models.MeetingLifecycleEvent) error
}

// MeetingTranscriptIndexSender handles indexing operations for meeting transcripts.
type MeetingTranscriptIndexSender interface {
	SendIndexMeetingTranscript(ctx context.Context, action models.MessageAction, data models.Meeting) error
}

// MessageBuilder is the main interface that composes all messaging capabilities.
type MessageBuilder interface {
	MeetingEventSender
	MeetingTranscriptIndexSender
}
