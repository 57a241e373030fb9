// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/domain"
	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/domain/models"
)

func TestAccessControl_Authorize(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	live := env.liveMeeting(t, "alice", testIdentity, "555")

	tests := []struct {
		name     string
		userID   string
		identity models.MeetingIdentity
		wantErr  bool
		errType  domain.ErrorType
	}{
		{name: "linked user", userID: "alice", identity: testIdentity},
		{name: "unlinked user", userID: "bob", identity: testIdentity, wantErr: true, errType: domain.ErrorTypeAccessDenied},
		{
			name:     "unknown meeting",
			userID:   "alice",
			identity: models.MeetingIdentity{Platform: models.PlatformZoom, NativeMeetingID: "85012345678"},
			wantErr:  true,
			errType:  domain.ErrorTypeNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			meeting, err := env.access.Authorize(ctx, tt.userID, tt.identity)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, tt.errType, domain.GetErrorType(err))
				assert.Nil(t, meeting)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, live.UID, meeting.UID)
		})
	}
}

func TestAccessControl_AuthorizeAfterIdentityReuse(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	first := env.liveMeeting(t, "alice", testIdentity, "555")
	env.finishMeeting(t, first.UID)
	env.clock.Advance(time.Minute)
	second := env.liveMeeting(t, "bob", testIdentity, "777")

	tests := []struct {
		name     string
		userID   string
		expected string
	}{
		{name: "previous owner keeps the finished meeting", userID: "alice", expected: first.UID},
		{name: "new owner gets the current meeting", userID: "bob", expected: second.UID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			meeting, err := env.access.Authorize(ctx, tt.userID, testIdentity)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, meeting.UID)
		})
	}

	t.Run("newest linked meeting wins", func(t *testing.T) {
		require.NoError(t, env.access.Link(ctx, "alice", second.UID))

		meeting, err := env.access.Authorize(ctx, "alice", testIdentity)
		require.NoError(t, err)
		assert.Equal(t, second.UID, meeting.UID)
	})

	t.Run("unlinked user is denied", func(t *testing.T) {
		_, err := env.access.Authorize(ctx, "carol", testIdentity)
		assert.Equal(t, domain.ErrorTypeAccessDenied, domain.GetErrorType(err))
	})
}

func TestAccessControl_LinkIsIdempotent(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	live := env.liveMeeting(t, "alice", testIdentity, "555")

	require.NoError(t, env.access.Link(ctx, "bob", live.UID))
	require.NoError(t, env.access.Link(ctx, "bob", live.UID))

	meetings, err := env.access.ListMeetings(ctx, "bob")
	require.NoError(t, err)
	assert.Len(t, meetings, 1)

	require.NoError(t, env.access.Unlink(ctx, "bob", live.UID))
	_, err = env.access.Authorize(ctx, "bob", testIdentity)
	assert.Equal(t, domain.ErrorTypeAccessDenied, domain.GetErrorType(err))

	// The creator keeps access.
	_, err = env.access.Authorize(ctx, "alice", testIdentity)
	assert.NoError(t, err)
}

func TestAccessControl_ListMeetings(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	first := env.liveMeeting(t, "alice", testIdentity, "555")
	env.clock.Advance(time.Minute)
	second := env.liveMeeting(t, "alice", models.MeetingIdentity{Platform: models.PlatformZoom, NativeMeetingID: "85012345678"}, "556")
	env.liveMeeting(t, "bob", models.MeetingIdentity{Platform: models.PlatformZoom, NativeMeetingID: "85099999999"}, "557")
	// Links to meetings that no longer exist are skipped.
	require.NoError(t, env.access.Link(ctx, "alice", "2b1f0f7e-2c1e-4c39-a1a2-6c5d1f7f0b10"))

	meetings, err := env.access.ListMeetings(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, meetings, 2)
	assert.Equal(t, second.UID, meetings[0].UID, "newest first")
	assert.Equal(t, first.UID, meetings[1].UID)

	meetings, err = env.access.ListMeetings(ctx, "carol")
	require.NoError(t, err)
	assert.Empty(t, meetings)
}

func TestAccessControl_NotReady(t *testing.T) {
	access := NewAccessControl(nil, nil)
	assert.False(t, access.ServiceReady())

	_, err := access.Authorize(context.Background(), "alice", testIdentity)
	assert.Equal(t, domain.ErrorTypeUnavailable, domain.GetErrorType(err))

	_, err = access.ListMeetings(context.Background(), "alice")
	assert.Equal(t, domain.ErrorTypeUnavailable, domain.GetErrorType(err))
}
