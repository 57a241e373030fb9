// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package handlers

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"

	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/domain"
	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/domain/models"
	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/logging"
	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/service"
)

// MeetingHandler answers operator requests about meetings over NATS.
type MeetingHandler struct {
	registry *service.MeetingRegistry
}

func NewMeetingHandler(registry *service.MeetingRegistry) *MeetingHandler {
	return &MeetingHandler{
		registry: registry,
	}
}

func (s *MeetingHandler) HandlerReady() bool {
	return s.registry != nil && s.registry.ServiceReady()
}

// HandleMessage implements domain.MessageHandler interface
func (s *MeetingHandler) HandleMessage(ctx context.Context, msg domain.Message) {
	subject := msg.Subject()
	ctx = logging.AppendCtx(ctx, slog.String("subject", subject))
	slog.DebugContext(ctx, "handling NATS message")

	handlers := map[string]func(ctx context.Context, msg domain.Message) (*models.MeetingStateReply, error){
		models.MeetingAbortSubject:    s.HandleMeetingAbort,
		models.MeetingGetStateSubject: s.HandleMeetingGetState,
	}

	handler, ok := handlers[subject]
	if !ok {
		slog.WarnContext(ctx, "unknown subject")
		if msg.HasReply() {
			if err := msg.Respond(nil); err != nil {
				slog.ErrorContext(ctx, "error responding to NATS message", logging.ErrKey, err)
			}
		}
		return
	}

	reply, err := handler(ctx, msg)
	if err != nil {
		slog.ErrorContext(ctx, "error handling message", logging.ErrKey, err)
		reply = &models.MeetingStateReply{Error: err.Error()}
	}

	if !msg.HasReply() {
		slog.DebugContext(ctx, "handled NATS message (no reply expected)")
		return
	}

	response, err := json.Marshal(reply)
	if err != nil {
		slog.ErrorContext(ctx, "error marshalling reply", logging.ErrKey, err)
		response = nil
	}
	if err := msg.Respond(response); err != nil {
		slog.ErrorContext(ctx, "error responding to NATS message", logging.ErrKey, err)
		return
	}
	slog.DebugContext(ctx, "responded to NATS message", "response", string(response))
}

func stateReply(meeting *models.Meeting) *models.MeetingStateReply {
	return &models.MeetingStateReply{
		MeetingUID:   meeting.UID,
		State:        meeting.State,
		StateVersion: meeting.StateVersion,
	}
}

// HandleMeetingAbort moves a meeting that is not yet terminal to ERROR.
func (s *MeetingHandler) HandleMeetingAbort(ctx context.Context, msg domain.Message) (*models.MeetingStateReply, error) {
	if !s.HandlerReady() {
		return nil, domain.NewUnavailableError("meeting registry not ready")
	}

	var request models.MeetingAbortRequest
	if err := json.Unmarshal(msg.Data(), &request); err != nil {
		slog.WarnContext(ctx, "error unmarshalling abort request", logging.ErrKey, err)
		return nil, domain.NewValidationError("invalid abort request", domain.ErrUnmarshal, err)
	}
	if _, err := uuid.Parse(request.MeetingUID); err != nil {
		return nil, domain.NewValidationError("meeting_uid must be a UUID", err)
	}
	ctx = logging.WithMeeting(ctx, request.MeetingUID)

	meeting, err := s.registry.Abort(ctx, request.MeetingUID, request.Reason)
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "meeting aborted by operator", "reason", meeting.ErrorReason)
	return stateReply(meeting), nil
}

// HandleMeetingGetState replies with the state of the meeting whose UID is the message body.
func (s *MeetingHandler) HandleMeetingGetState(ctx context.Context, msg domain.Message) (*models.MeetingStateReply, error) {
	if !s.HandlerReady() {
		return nil, domain.NewUnavailableError("meeting registry not ready")
	}

	meetingUID := string(msg.Data())
	if _, err := uuid.Parse(meetingUID); err != nil {
		slog.WarnContext(ctx, "error parsing meeting ID", logging.ErrKey, err)
		return nil, domain.NewValidationError("meeting UID must be a UUID", err)
	}

	meeting, err := s.registry.Get(ctx, meetingUID)
	if err != nil {
		return nil, err
	}
	return stateReply(meeting), nil
}
