// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/domain"
	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/domain/models"
	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/logging"
	"github.com/linuxfoundation/lfx-v2-transcript-service/pkg/concurrent"
)

// listMeetingsWorkers bounds the concurrent meeting reads of a listing.
const listMeetingsWorkers = 8

// AccessControl decides which tenant users may see which meetings.
// Tenancy is never inferred from the upstream, which only knows the system credential.
type AccessControl struct {
	LinkRepository domain.UserMeetingLinkRepository
	Registry       *MeetingRegistry
	now            clock
}

// NewAccessControl creates a new AccessControl.
func NewAccessControl(linkRepository domain.UserMeetingLinkRepository, registry *MeetingRegistry) *AccessControl {
	return &AccessControl{
		LinkRepository: linkRepository,
		Registry:       registry,
		now:            utcNow,
	}
}

// ServiceReady checks if the service is ready for use.
func (a *AccessControl) ServiceReady() bool {
	return a.LinkRepository != nil && a.Registry != nil && a.Registry.ServiceReady()
}

// Authorize returns the newest meeting on identity that userID is linked to.
// Earlier sessions stay readable by their users after the identity has moved
// on to a new meeting. With no linked meeting, an unknown identity is NotFound
// and a known one is AccessDenied.
func (a *AccessControl) Authorize(ctx context.Context, userID string, identity models.MeetingIdentity) (*models.Meeting, error) {
	if !a.ServiceReady() {
		slog.ErrorContext(ctx, "access control not initialized", logging.PriorityCritical())
		return nil, domain.NewUnavailableError("access control not ready")
	}
	if !identity.Platform.IsValid() || identity.NativeMeetingID == "" {
		return nil, domain.NewValidationError(fmt.Sprintf("invalid meeting %s", identity), domain.ErrValidationFailed)
	}

	linked, err := a.ListMeetings(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, meeting := range linked {
		if meeting.Identity() == identity {
			return meeting, nil
		}
	}

	holder, err := a.Registry.Lookup(ctx, identity)
	if err != nil {
		return nil, err
	}
	slog.WarnContext(ctx, "user is not linked to meeting", "meeting_uid", holder.UID)
	return nil, domain.NewAccessDeniedError(fmt.Sprintf("no access to meeting %s", identity), domain.ErrAccessDenied)
}

// Link grants userID access to the meeting. Linking twice is a no-op.
func (a *AccessControl) Link(ctx context.Context, userID, meetingUID string) error {
	created, err := a.LinkRepository.Link(ctx, &models.UserMeetingLink{
		UserID:     userID,
		MeetingUID: meetingUID,
		CreatedAt:  a.now(),
	})
	if err != nil {
		slog.ErrorContext(ctx, "error linking user to meeting", logging.ErrKey, err, "meeting_uid", meetingUID)
		return err
	}
	if created {
		slog.DebugContext(ctx, "linked user to meeting", "meeting_uid", meetingUID)
	}
	return nil
}

// Unlink removes userID's access to the meeting.
func (a *AccessControl) Unlink(ctx context.Context, userID, meetingUID string) error {
	return a.LinkRepository.Unlink(ctx, userID, meetingUID)
}

// ListMeetings returns the meetings linked to userID, newest first.
func (a *AccessControl) ListMeetings(ctx context.Context, userID string) ([]*models.Meeting, error) {
	if !a.ServiceReady() {
		slog.ErrorContext(ctx, "access control not initialized", logging.PriorityCritical())
		return nil, domain.NewUnavailableError("access control not ready")
	}

	meetingUIDs, err := a.LinkRepository.ListMeetingUIDs(ctx, userID)
	if err != nil {
		return nil, err
	}

	found := make([]*models.Meeting, len(meetingUIDs))
	tasks := make([]func() error, 0, len(meetingUIDs))
	for i, meetingUID := range meetingUIDs {
		tasks = append(tasks, func() error {
			meeting, err := a.Registry.Get(ctx, meetingUID)
			if err != nil {
				if domain.GetErrorType(err) == domain.ErrorTypeNotFound {
					slog.WarnContext(ctx, "linked meeting no longer exists", "meeting_uid", meetingUID)
					return nil
				}
				return err
			}
			found[i] = meeting
			return nil
		})
	}

	if err := concurrent.NewWorkerPool(listMeetingsWorkers).Run(ctx, tasks...); err != nil {
		slog.ErrorContext(ctx, "error loading linked meetings", logging.ErrKey, err)
		return nil, err
	}

	meetings := make([]*models.Meeting, 0, len(found))
	for _, meeting := range found {
		if meeting != nil {
			meetings = append(meetings, meeting)
		}
	}
	slices.SortStableFunc(meetings, func(x, y *models.Meeting) int {
		return y.CreatedAt.Compare(x.CreatedAt)
	})

	return meetings, nil
}
