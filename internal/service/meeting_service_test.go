// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/domain"
	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/domain/mocks"
	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/domain/models"
)

func TestMeetingService_ServiceReady(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name     string
		service  *MeetingService
		expected bool
	}{
		{
			name:     "ready with all dependencies",
			service:  env.meetings,
			expected: true,
		},
		{
			name:     "missing upstream",
			service:  NewMeetingService(env.registry, env.access, nil, ServiceConfig{}),
			expected: false,
		},
		{
			name:     "missing access control",
			service:  NewMeetingService(env.registry, nil, &mocks.MockUpstreamClient{}, ServiceConfig{}),
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.service.ServiceReady())
		})
	}
}

func TestMeetingService_CreateMeeting(t *testing.T) {
	ctx := context.Background()
	request := models.CreateMeetingRequest{
		Platform:        models.PlatformGoogleMeet,
		NativeMeetingID: "abc-defg-hij",
		BotName:         "Notetaker",
		Language:        "en",
	}

	t.Run("tenant isolation scenario", func(t *testing.T) {
		env := newTestEnv(t)
		env.upstream.On("CreateSession", anyCtx, request.Platform, request.NativeMeetingID, request.Params()).
			Return("555", nil).Once()

		meeting, created, err := env.meetings.CreateMeeting(ctx, "user-a", request)
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, models.StateLive, meeting.State)
		assert.Equal(t, "555", meeting.UpstreamMeetingID)
		assert.Equal(t, "Notetaker", meeting.BotName)

		linked, err := env.repos.Link.Exists(ctx, "user-a", meeting.UID)
		require.NoError(t, err)
		assert.True(t, linked)

		_, err = env.router.GetTranscript(ctx, "user-b", testIdentity)
		assert.Equal(t, domain.ErrorTypeAccessDenied, domain.GetErrorType(err))
	})

	t.Run("active identity links the second caller", func(t *testing.T) {
		env := newTestEnv(t)
		env.upstream.On("CreateSession", anyCtx, request.Platform, request.NativeMeetingID, request.Params()).
			Return("555", nil).Once()

		first, _, err := env.meetings.CreateMeeting(ctx, "user-a", request)
		require.NoError(t, err)

		second, created, err := env.meetings.CreateMeeting(ctx, "user-b", request)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first.UID, second.UID)
		env.upstream.AssertNumberOfCalls(t, "CreateSession", 1)

		_, err = env.access.Authorize(ctx, "user-b", testIdentity)
		assert.NoError(t, err)
	})

	t.Run("identity still being created conflicts", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.registry.Reserve(ctx, request, "user-a")
		require.NoError(t, err)

		_, _, err = env.meetings.CreateMeeting(ctx, "user-b", request)
		assert.Equal(t, domain.ErrorTypeConflict, domain.GetErrorType(err))
		env.upstream.AssertNotCalled(t, "CreateSession", anyCtx, anyArg, anyArg, anyArg)
	})

	t.Run("upstream refusal moves the meeting to error", func(t *testing.T) {
		env := newTestEnv(t)
		env.upstream.On("CreateSession", anyCtx, request.Platform, request.NativeMeetingID, request.Params()).
			Return("", domain.NewUpstreamAuthError("401", domain.ErrUpstreamAuth)).Once()

		_, _, err := env.meetings.CreateMeeting(ctx, "user-a", request)
		assert.Equal(t, domain.ErrorTypeUpstreamAuth, domain.GetErrorType(err))

		meeting, err := env.registry.Lookup(ctx, testIdentity)
		require.NoError(t, err)
		assert.Equal(t, models.StateError, meeting.State)
		assert.Contains(t, meeting.ErrorReason, "401")
	})

	t.Run("failed identity in cooldown conflicts", func(t *testing.T) {
		env := newTestEnv(t)
		env.upstream.On("CreateSession", anyCtx, request.Platform, request.NativeMeetingID, request.Params()).
			Return("", domain.NewUnavailableError("upstream returned 503", domain.ErrUpstreamUnavailable)).Once()

		_, _, err := env.meetings.CreateMeeting(ctx, "user-a", request)
		require.Error(t, err)
		failed, err := env.registry.Lookup(ctx, testIdentity)
		require.NoError(t, err)
		require.Equal(t, models.StateError, failed.State)

		meeting, created, err := env.meetings.CreateMeeting(ctx, "user-b", request)
		assert.Equal(t, domain.ErrorTypeConflict, domain.GetErrorType(err))
		assert.ErrorIs(t, err, domain.ErrMeetingActive)
		assert.Nil(t, meeting)
		assert.False(t, created)
		env.upstream.AssertNumberOfCalls(t, "CreateSession", 1)

		linked, err := env.repos.Link.Exists(ctx, "user-b", failed.UID)
		require.NoError(t, err)
		assert.False(t, linked, "callers are never linked to a failed meeting")
	})

	t.Run("finishing identity links the second caller", func(t *testing.T) {
		env := newTestEnv(t)
		live := env.liveMeeting(t, "user-a", testIdentity, "555")
		_, err := env.registry.BeginFinishing(ctx, live.UID)
		require.NoError(t, err)

		meeting, created, err := env.meetings.CreateMeeting(ctx, "user-b", request)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, live.UID, meeting.UID)
		env.upstream.AssertNotCalled(t, "CreateSession", anyCtx, anyArg, anyArg, anyArg)
	})

	invalid := []struct {
		name    string
		request models.CreateMeetingRequest
	}{
		{name: "unsupported platform", request: models.CreateMeetingRequest{Platform: "teams", NativeMeetingID: "x"}},
		{name: "missing native id", request: models.CreateMeetingRequest{Platform: models.PlatformZoom, NativeMeetingID: "  "}},
		{name: "path in native id", request: models.CreateMeetingRequest{Platform: models.PlatformZoom, NativeMeetingID: "1/2"}},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			_, _, err := env.meetings.CreateMeeting(ctx, "user-a", tt.request)
			assert.Equal(t, domain.ErrorTypeValidation, domain.GetErrorType(err))
		})
	}
}

func TestMeetingService_DeleteMeeting(t *testing.T) {
	ctx := context.Background()

	t.Run("live meeting asks upstream to stop", func(t *testing.T) {
		env := newTestEnv(t)
		live := env.liveMeeting(t, "alice", testIdentity, "555")
		env.expectDelete(nil)

		outcome, err := env.meetings.DeleteMeeting(ctx, "alice", testIdentity)
		require.NoError(t, err)
		assert.Equal(t, DeleteOutcomeStopRequested, outcome)
		assert.Equal(t, models.StateLive, env.meeting(t, live.UID).State, "the webhook finalizes the meeting")
	})

	t.Run("terminal meeting is unlinked", func(t *testing.T) {
		env := newTestEnv(t)
		live := env.liveMeeting(t, "alice", testIdentity, "555")
		_, err := env.registry.Abort(ctx, live.UID, "")
		require.NoError(t, err)

		outcome, err := env.meetings.DeleteMeeting(ctx, "alice", testIdentity)
		require.NoError(t, err)
		assert.Equal(t, DeleteOutcomeUnlinked, outcome)

		_, err = env.access.Authorize(ctx, "alice", testIdentity)
		assert.Equal(t, domain.ErrorTypeAccessDenied, domain.GetErrorType(err))
	})

	t.Run("finishing meeting conflicts", func(t *testing.T) {
		env := newTestEnv(t)
		live := env.liveMeeting(t, "alice", testIdentity, "555")
		_, err := env.registry.BeginFinishing(ctx, live.UID)
		require.NoError(t, err)

		_, err = env.meetings.DeleteMeeting(ctx, "alice", testIdentity)
		assert.Equal(t, domain.ErrorTypeConflict, domain.GetErrorType(err))
	})

	t.Run("other tenant is denied", func(t *testing.T) {
		env := newTestEnv(t)
		env.liveMeeting(t, "alice", testIdentity, "555")

		_, err := env.meetings.DeleteMeeting(ctx, "bob", testIdentity)
		assert.Equal(t, domain.ErrorTypeAccessDenied, domain.GetErrorType(err))
		env.upstream.AssertNotCalled(t, "DeleteSession", anyCtx, anyArg, anyArg)
	})
}

func TestMeetingService_RunningBots(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	zoom := models.MeetingIdentity{Platform: models.PlatformZoom, NativeMeetingID: "987"}
	env.liveMeeting(t, "alice", testIdentity, "555")
	ended := env.liveMeeting(t, "alice", zoom, "556")
	_, err := env.registry.Abort(ctx, ended.UID, "")
	require.NoError(t, err)

	env.upstream.On("ListSessions", anyCtx).Return([]models.UpstreamSession{
		{UpstreamMeetingID: "555", Platform: testIdentity.Platform, NativeMeetingID: testIdentity.NativeMeetingID, Status: "running"},
		{UpstreamMeetingID: "556", Platform: zoom.Platform, NativeMeetingID: zoom.NativeMeetingID, Status: "running"},
		{UpstreamMeetingID: "777", Platform: models.PlatformZoom, NativeMeetingID: "someone-else"},
	}, nil).Once()

	sessions, err := env.meetings.RunningBots(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "555", sessions[0].UpstreamMeetingID)

	none, err := env.meetings.RunningBots(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, none)
	env.upstream.AssertNumberOfCalls(t, "ListSessions", 1)
}

func TestMeetingService_ListMeetings(t *testing.T) {
	env := newTestEnv(t)
	env.liveMeeting(t, "alice", testIdentity, "555")

	meetings, err := env.meetings.ListMeetings(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, meetings, 1)
	assert.Equal(t, "https://meet.google.com/abc-defg-hij", meetings[0].ConstructedURL())
}
