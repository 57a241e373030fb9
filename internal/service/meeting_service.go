// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/domain"
	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/domain/models"
	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/logging"
)

// DeleteOutcome describes what a delete-meeting request did.
type DeleteOutcome string

// Delete outcomes.
const (
	// DeleteOutcomeStopRequested means the upstream was asked to stop a live bot.
	// The meeting finalizes when the meeting-finished webhook arrives.
	DeleteOutcomeStopRequested DeleteOutcome = "stop_requested"
	// DeleteOutcomeUnlinked means the caller's link to a terminal meeting was removed.
	DeleteOutcomeUnlinked DeleteOutcome = "unlinked"
)

// MeetingService implements the tenant meeting operations.
type MeetingService struct {
	Registry *MeetingRegistry
	Access   *AccessControl
	Upstream domain.UpstreamClient
	Config   ServiceConfig
}

// NewMeetingService creates a new MeetingService.
func NewMeetingService(
	registry *MeetingRegistry,
	access *AccessControl,
	upstream domain.UpstreamClient,
	config ServiceConfig,
) *MeetingService {
	return &MeetingService{
		Registry: registry,
		Access:   access,
		Upstream: upstream,
		Config:   config,
	}
}

// ServiceReady checks if the service is ready for use.
func (s *MeetingService) ServiceReady() bool {
	return s.Registry != nil && s.Registry.ServiceReady() &&
		s.Access != nil && s.Access.ServiceReady() &&
		s.Upstream != nil
}

func validateCreateMeetingPayload(req *models.CreateMeetingRequest) error {
	req.NativeMeetingID = strings.TrimSpace(req.NativeMeetingID)
	switch {
	case !req.Platform.IsValid():
		return domain.NewValidationError(fmt.Sprintf("unsupported platform %q", req.Platform), domain.ErrValidationFailed)
	case req.NativeMeetingID == "":
		return domain.NewValidationError("native_meeting_id is required", domain.ErrValidationFailed)
	case strings.ContainsAny(req.NativeMeetingID, "/?#"):
		return domain.NewValidationError("native_meeting_id must not contain path separators", domain.ErrValidationFailed)
	}
	return nil
}

// CreateMeeting sends a bot into the meeting for userID. When the meeting
// already has an active bot the caller is linked to it instead, and created
// is false.
func (s *MeetingService) CreateMeeting(ctx context.Context, userID string, req models.CreateMeetingRequest) (meeting *models.Meeting, created bool, err error) {
	if !s.ServiceReady() {
		slog.ErrorContext(ctx, "service not initialized", logging.PriorityCritical())
		return nil, false, domain.NewUnavailableError("meeting service not ready")
	}

	if err := validateCreateMeetingPayload(&req); err != nil {
		slog.WarnContext(ctx, "invalid create meeting payload", logging.ErrKey, err)
		return nil, false, err
	}

	reserved, err := s.Registry.Reserve(ctx, req, userID)
	if err != nil {
		if !errors.Is(err, domain.ErrMeetingActive) || !botRunning(reserved) {
			return nil, false, err
		}
		if err := s.Access.Link(ctx, userID, reserved.UID); err != nil {
			return nil, false, err
		}
		slog.InfoContext(ctx, "linked user to existing meeting", "meeting_uid", reserved.UID, "state", reserved.State)
		return reserved, false, nil
	}
	ctx = logging.WithMeeting(ctx, reserved.UID)

	upstreamMeetingID, err := s.Upstream.CreateSession(ctx, req.Platform, req.NativeMeetingID, req.Params())
	if err != nil {
		slog.ErrorContext(ctx, "upstream refused the bot session", logging.ErrKey, err)
		if _, failErr := s.Registry.FailCreate(ctx, reserved.UID, err.Error()); failErr != nil {
			slog.ErrorContext(ctx, "error marking meeting create as failed", logging.ErrKey, failErr)
		}
		return nil, false, err
	}

	live, err := s.Registry.Activate(ctx, reserved.UID, upstreamMeetingID)
	if err != nil {
		// Do not leave an upstream bot running for a meeting nobody can see.
		if deleteErr := s.Upstream.DeleteSession(ctx, req.Platform, req.NativeMeetingID); deleteErr != nil {
			slog.ErrorContext(ctx, "error deleting orphaned upstream session", logging.ErrKey, deleteErr, logging.PriorityCritical())
		}
		if _, failErr := s.Registry.FailCreate(ctx, reserved.UID, "activation failed: "+err.Error()); failErr != nil {
			slog.WarnContext(ctx, "error marking meeting create as failed", logging.ErrKey, failErr)
		}
		return nil, false, err
	}

	if err := s.Access.Link(ctx, userID, live.UID); err != nil {
		return nil, false, err
	}

	slog.InfoContext(ctx, "created meeting", "upstream_meeting_id", upstreamMeetingID)
	return live, true, nil
}

// botRunning reports whether the identity's holder has a bot that a second
// caller can share. Holders still being created or in their error cooldown
// keep conflicting.
func botRunning(holder *models.Meeting) bool {
	return holder != nil && (holder.State == models.StateLive || holder.State == models.StateFinishing)
}

// DeleteMeeting stops the bot of a live meeting, or removes the caller's link
// to a meeting that has already ended.
func (s *MeetingService) DeleteMeeting(ctx context.Context, userID string, identity models.MeetingIdentity) (DeleteOutcome, error) {
	if !s.ServiceReady() {
		slog.ErrorContext(ctx, "service not initialized", logging.PriorityCritical())
		return "", domain.NewUnavailableError("meeting service not ready")
	}

	meeting, err := s.Access.Authorize(ctx, userID, identity)
	if err != nil {
		return "", err
	}
	ctx = logging.WithMeeting(ctx, meeting.UID)

	switch {
	case meeting.State == models.StateLive:
		if err := s.Upstream.DeleteSession(ctx, meeting.Platform, meeting.NativeMeetingID); err != nil {
			slog.ErrorContext(ctx, "error stopping upstream bot", logging.ErrKey, err)
			return "", err
		}
		slog.InfoContext(ctx, "requested upstream bot stop")
		return DeleteOutcomeStopRequested, nil

	case meeting.State.IsTerminal():
		if err := s.Access.Unlink(ctx, userID, meeting.UID); err != nil {
			return "", err
		}
		slog.InfoContext(ctx, "unlinked user from meeting")
		return DeleteOutcomeUnlinked, nil

	default:
		return "", domain.NewConflictError(
			fmt.Sprintf("meeting is %s, try again later", meeting.State),
			domain.ErrStateConflict,
		)
	}
}

// ListMeetings returns the caller's meetings, newest first.
func (s *MeetingService) ListMeetings(ctx context.Context, userID string) ([]*models.Meeting, error) {
	if !s.ServiceReady() {
		slog.ErrorContext(ctx, "service not initialized", logging.PriorityCritical())
		return nil, domain.NewUnavailableError("meeting service not ready")
	}

	meetings, err := s.Access.ListMeetings(ctx, userID)
	if err != nil {
		return nil, err
	}

	slog.DebugContext(ctx, "returning meetings", "count", len(meetings))
	return meetings, nil
}

// RunningBots returns the upstream sessions of the caller's live meetings.
func (s *MeetingService) RunningBots(ctx context.Context, userID string) ([]models.UpstreamSession, error) {
	meetings, err := s.ListMeetings(ctx, userID)
	if err != nil {
		return nil, err
	}

	live := make(map[models.MeetingIdentity]struct{})
	for _, meeting := range meetings {
		if meeting.State == models.StateLive {
			live[meeting.Identity()] = struct{}{}
		}
	}

	running := []models.UpstreamSession{}
	if len(live) == 0 {
		return running, nil
	}

	sessions, err := s.Upstream.ListSessions(ctx)
	if err != nil {
		slog.WarnContext(ctx, "error listing upstream sessions", logging.ErrKey, err)
		return nil, err
	}
	for _, session := range sessions {
		identity := models.MeetingIdentity{Platform: session.Platform, NativeMeetingID: session.NativeMeetingID}
		if _, ok := live[identity]; ok {
			running = append(running, session)
		}
	}

	return running, nil
}
