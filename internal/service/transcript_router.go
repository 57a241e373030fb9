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

// TranscriptRouter answers transcript reads from the upstream while a meeting
// is live and from the local store afterwards.
type TranscriptRouter struct {
	Access   *AccessControl
	Upstream domain.UpstreamClient
	Store    *TranscriptStore
}

// NewTranscriptRouter creates a new TranscriptRouter.
func NewTranscriptRouter(access *AccessControl, upstream domain.UpstreamClient, store *TranscriptStore) *TranscriptRouter {
	return &TranscriptRouter{
		Access:   access,
		Upstream: upstream,
		Store:    store,
	}
}

// ServiceReady checks if the service is ready for use.
func (r *TranscriptRouter) ServiceReady() bool {
	return r.Access != nil && r.Access.ServiceReady() &&
		r.Upstream != nil &&
		r.Store != nil && r.Store.ServiceReady()
}

// GetTranscript returns the transcript of the meeting holding identity, as seen by userID.
func (r *TranscriptRouter) GetTranscript(ctx context.Context, userID string, identity models.MeetingIdentity) (*models.TranscriptView, error) {
	if !r.ServiceReady() {
		slog.ErrorContext(ctx, "transcript router not initialized", logging.PriorityCritical())
		return nil, domain.NewUnavailableError("transcript router not ready")
	}

	meeting, err := r.Access.Authorize(ctx, userID, identity)
	if err != nil {
		return nil, err
	}
	ctx = logging.WithMeeting(ctx, meeting.UID)

	view := &models.TranscriptView{
		Meeting:  meeting,
		Segments: []models.TranscriptSegment{},
	}

	switch meeting.State {
	case models.StatePending:
		view.Status = models.TranscriptStatusNotStarted
		view.Source = models.TranscriptSourceNone
		return view, nil

	case models.StateLive:
		segments, err := r.Upstream.FetchTranscript(ctx, meeting.Platform, meeting.NativeMeetingID)
		if err != nil {
			slog.WarnContext(ctx, "error fetching live transcript", logging.ErrKey, err)
			return nil, err
		}
		for i := range segments {
			segments[i].MeetingUID = meeting.UID
		}
		view.Status = models.TranscriptStatusLive
		view.Source = models.TranscriptSourceUpstream
		if segments != nil {
			view.Segments = segments
		}
		return view, nil

	case models.StateFinishing:
		view.Status = models.TranscriptStatusFinalizing
	case models.StateFinished:
		view.Status = models.TranscriptStatusFinalized
	case models.StateError:
		view.Status = models.TranscriptStatusStale
	default:
		slog.ErrorContext(ctx, "meeting has unknown state", "state", meeting.State)
		return nil, domain.NewInternalError("meeting has unknown state " + string(meeting.State))
	}

	segments, err := r.Store.List(ctx, meeting.UID)
	if err != nil {
		return nil, err
	}
	view.Source = models.TranscriptSourceLocal
	view.Segments = segments

	return view, nil
}
