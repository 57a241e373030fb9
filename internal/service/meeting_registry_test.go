// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/domain"
	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/domain/mocks"
	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/domain/models"
	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/infrastructure/store"
)

func createRequest(identity models.MeetingIdentity) models.CreateMeetingRequest {
	return models.CreateMeetingRequest{Platform: identity.Platform, NativeMeetingID: identity.NativeMeetingID}
}

func TestMeetingRegistry_ServiceReady(t *testing.T) {
	tests := []struct {
		name     string
		registry *MeetingRegistry
		expected bool
	}{
		{
			name:     "ready with all dependencies",
			registry: NewMeetingRegistry(store.NewMemoryRepositories().Meeting, &mocks.MockMessageBuilder{}, ServiceConfig{}),
			expected: true,
		},
		{
			name:     "missing repository",
			registry: NewMeetingRegistry(nil, &mocks.MockMessageBuilder{}, ServiceConfig{}),
			expected: false,
		},
		{
			name:     "missing message builder",
			registry: NewMeetingRegistry(store.NewMemoryRepositories().Meeting, nil, ServiceConfig{}),
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.registry.ServiceReady())
		})
	}
}

func TestMeetingRegistry_Reserve(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	meeting, err := env.registry.Reserve(ctx, createRequest(testIdentity), "alice")
	require.NoError(t, err)
	assert.Equal(t, models.StatePending, meeting.State)
	assert.Equal(t, uint64(1), meeting.StateVersion)
	assert.Equal(t, "alice", meeting.CreatedBy)
	assert.NotEmpty(t, meeting.UID)

	found, err := env.registry.Lookup(ctx, testIdentity)
	require.NoError(t, err)
	assert.Equal(t, meeting.UID, found.UID)

	t.Run("second reservation returns the holder", func(t *testing.T) {
		holder, err := env.registry.Reserve(ctx, createRequest(testIdentity), "bob")
		require.Error(t, err)
		assert.Equal(t, domain.ErrorTypeConflict, domain.GetErrorType(err))
		assert.ErrorIs(t, err, domain.ErrMeetingActive)
		require.NotNil(t, holder)
		assert.Equal(t, meeting.UID, holder.UID)
	})

	t.Run("other platform is another identity", func(t *testing.T) {
		zoom := models.MeetingIdentity{Platform: models.PlatformZoom, NativeMeetingID: testIdentity.NativeMeetingID}
		_, err := env.registry.Reserve(ctx, createRequest(zoom), "alice")
		assert.NoError(t, err)
	})
}

func TestMeetingRegistry_ReserveIsExclusive(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	const callers = 10
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		reserved int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := env.registry.Reserve(ctx, createRequest(testIdentity), "user"); err == nil {
				mu.Lock()
				reserved++
				mu.Unlock()
			} else {
				assert.Equal(t, domain.ErrorTypeConflict, domain.GetErrorType(err))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, reserved, "exactly one concurrent create may reserve the identity")
}

func TestMeetingRegistry_IdentityRelease(t *testing.T) {
	ctx := context.Background()

	t.Run("finished releases immediately", func(t *testing.T) {
		env := newTestEnv(t)
		live := env.liveMeeting(t, "alice", testIdentity, "555")

		_, err := env.registry.BeginFinishing(ctx, live.UID)
		require.NoError(t, err)
		_, err = env.registry.Finish(ctx, live.UID)
		require.NoError(t, err)

		next, err := env.registry.Reserve(ctx, createRequest(testIdentity), "alice")
		require.NoError(t, err)
		assert.NotEqual(t, live.UID, next.UID)
		assert.Equal(t, live.UID, next.PreviousMeetingUID)
		assert.Equal(t, live.UID, env.meeting(t, next.UID).PreviousMeetingUID)

		found, err := env.registry.Lookup(ctx, testIdentity)
		require.NoError(t, err)
		assert.Equal(t, next.UID, found.UID)
	})

	t.Run("error releases after the cooldown", func(t *testing.T) {
		env := newTestEnv(t)
		pending, err := env.registry.Reserve(ctx, createRequest(testIdentity), "alice")
		require.NoError(t, err)
		_, err = env.registry.FailCreate(ctx, pending.UID, "upstream refused")
		require.NoError(t, err)

		_, err = env.registry.Reserve(ctx, createRequest(testIdentity), "alice")
		assert.ErrorIs(t, err, domain.ErrMeetingActive, "identity is held during the cooldown")

		env.clock.Advance(env.registry.Config.IdentityCooldown)

		next, err := env.registry.Reserve(ctx, createRequest(testIdentity), "alice")
		require.NoError(t, err)
		assert.NotEqual(t, pending.UID, next.UID)
	})

	t.Run("dangling identity is reclaimed", func(t *testing.T) {
		env := newTestEnv(t)
		require.NoError(t, env.repos.Meeting.CreateIdentity(ctx, testIdentity, "ghost"))

		meeting, err := env.registry.Reserve(ctx, createRequest(testIdentity), "alice")
		require.NoError(t, err)
		assert.Equal(t, models.StatePending, meeting.State)
		assert.Empty(t, meeting.PreviousMeetingUID)
	})
}

// finishMeeting drives a LIVE meeting straight to FINISHED.
func (e *testEnv) finishMeeting(t *testing.T, meetingUID string) {
	t.Helper()
	ctx := context.Background()
	_, err := e.registry.BeginFinishing(ctx, meetingUID)
	require.NoError(t, err)
	_, err = e.registry.Finish(ctx, meetingUID)
	require.NoError(t, err)
}

func TestMeetingRegistry_SessionFor(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	first := env.liveMeeting(t, "alice", testIdentity, "555")
	env.finishMeeting(t, first.UID)
	second := env.liveMeeting(t, "bob", testIdentity, "666")
	env.finishMeeting(t, second.UID)
	third := env.liveMeeting(t, "carol", testIdentity, "777")
	holder := env.meeting(t, third.UID)

	tests := []struct {
		name      string
		upstream  string
		expected  string
		wantFound bool
	}{
		{name: "current holder", upstream: "777", expected: third.UID, wantFound: true},
		{name: "direct predecessor", upstream: "666", expected: second.UID, wantFound: true},
		{name: "oldest session", upstream: "555", expected: first.UID, wantFound: true},
		{name: "unknown session", upstream: "999"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			found, err := env.registry.SessionFor(ctx, holder, tt.upstream)
			if !tt.wantFound {
				assert.Equal(t, domain.ErrorTypeNotFound, domain.GetErrorType(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, found.UID)
		})
	}
}

func TestMeetingRegistry_StaleFinishing(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	stale := env.liveMeeting(t, "alice", testIdentity, "555")
	_, err := env.registry.BeginFinishing(ctx, stale.UID)
	require.NoError(t, err)

	env.clock.Advance(time.Minute)

	other := models.MeetingIdentity{Platform: models.PlatformZoom, NativeMeetingID: "85012345678"}
	recent := env.liveMeeting(t, "alice", other, "556")
	_, err = env.registry.BeginFinishing(ctx, recent.UID)
	require.NoError(t, err)
	env.liveMeeting(t, "alice", models.MeetingIdentity{Platform: models.PlatformGoogleMeet, NativeMeetingID: "xyz-wxyz-xyz"}, "557")

	found, err := env.registry.StaleFinishing(ctx, env.clock.Now().Add(-30*time.Second))
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, stale.UID, found[0].UID)
}

func TestMeetingRegistry_Transitions(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	pending, err := env.registry.Reserve(ctx, createRequest(testIdentity), "alice")
	require.NoError(t, err)

	_, err = env.registry.Finish(ctx, pending.UID)
	assert.ErrorIs(t, err, domain.ErrStateConflict, "PENDING cannot finish")

	live, err := env.registry.Activate(ctx, pending.UID, "555")
	require.NoError(t, err)
	assert.Equal(t, models.StateLive, live.State)
	assert.Equal(t, "555", live.UpstreamMeetingID)
	assert.Equal(t, uint64(2), live.StateVersion)

	_, err = env.registry.Finish(ctx, live.UID)
	assert.Equal(t, domain.ErrorTypeConflict, domain.GetErrorType(err), "LIVE -> FINISHED is never allowed")
	assert.Equal(t, models.StateLive, env.meeting(t, live.UID).State)

	finishing, err := env.registry.BeginFinishing(ctx, live.UID)
	require.NoError(t, err)
	require.NotNil(t, finishing.FinishingSince)
	assert.Equal(t, uint64(3), finishing.StateVersion)

	_, err = env.registry.BeginFinishing(ctx, live.UID)
	assert.ErrorIs(t, err, domain.ErrStateConflict)

	finished, err := env.registry.Finish(ctx, live.UID)
	require.NoError(t, err)
	assert.Equal(t, models.StateFinished, finished.State)
	require.NotNil(t, finished.FinalizedAt)
	assert.Equal(t, uint64(4), finished.StateVersion)

	_, err = env.registry.Abort(ctx, live.UID, "")
	assert.ErrorIs(t, err, domain.ErrStateConflict, "terminal meetings cannot be aborted")

	_, err = env.registry.Activate(ctx, "missing", "1")
	assert.Equal(t, domain.ErrorTypeNotFound, domain.GetErrorType(err))
}

func TestMeetingRegistry_Abort(t *testing.T) {
	ctx := context.Background()

	for _, state := range []models.MeetingState{models.StatePending, models.StateLive, models.StateFinishing} {
		t.Run(string(state), func(t *testing.T) {
			env := newTestEnv(t)
			meeting, err := env.registry.Reserve(ctx, createRequest(testIdentity), "alice")
			require.NoError(t, err)
			if state != models.StatePending {
				_, err = env.registry.Activate(ctx, meeting.UID, "555")
				require.NoError(t, err)
			}
			if state == models.StateFinishing {
				_, err = env.registry.BeginFinishing(ctx, meeting.UID)
				require.NoError(t, err)
			}

			aborted, err := env.registry.Abort(ctx, meeting.UID, "")
			require.NoError(t, err)
			assert.Equal(t, models.StateError, aborted.State)
			assert.Equal(t, "aborted by operator", aborted.ErrorReason)
		})
	}
}

func TestMeetingRegistry_CASRetry(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name        string
		failUpdates int
		wantErr     bool
	}{
		{name: "storage conflicts within the retry budget", failUpdates: 2},
		{name: "storage conflicts beyond the retry budget", failUpdates: 10, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repos := store.NewMemoryRepositories()
			flaky := &flakyMeetingRepository{MeetingRepository: repos.Meeting}
			registry := NewMeetingRegistry(flaky, mocks.NewPermissiveMessageBuilder(), testServiceConfig())

			meeting, err := registry.Reserve(ctx, createRequest(testIdentity), "alice")
			require.NoError(t, err)
			flaky.failUpdates = tt.failUpdates

			live, err := registry.Activate(ctx, meeting.UID, "555")
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, domain.ErrStateConflict)
				assert.Equal(t, int(registry.Config.CASMaxRetries)+1, flaky.updates)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, models.StateLive, live.State)
		})
	}
}

func TestMeetingRegistry_ConcurrentTransitions(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	live := env.liveMeeting(t, "alice", testIdentity, "555")

	const callers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.registry.BeginFinishing(ctx, live.UID)
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.Equal(t, domain.ErrorTypeConflict, domain.GetErrorType(err))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, uint64(3), env.meeting(t, live.UID).StateVersion)
}

func TestMeetingRegistry_PublishesTransitions(t *testing.T) {
	ctx := context.Background()
	repos := store.NewMemoryRepositories()
	messages := &mocks.MockMessageBuilder{}
	registry := NewMeetingRegistry(repos.Meeting, messages, testServiceConfig())

	messages.On("SendMeetingLifecycleEvent", mock.Anything, mock.MatchedBy(func(e models.MeetingLifecycleEvent) bool {
		return e.To == models.StatePending && e.From == ""
	})).Return(nil).Once()
	messages.On("SendMeetingLifecycleEvent", mock.Anything, mock.MatchedBy(func(e models.MeetingLifecycleEvent) bool {
		return e.From == models.StatePending && e.To == models.StateError && e.Reason == "boom"
	})).Return(errors.New("nats down")).Once()
	messages.On("SendIndexMeetingTranscript", mock.Anything, models.ActionUpdated, mock.MatchedBy(func(m models.Meeting) bool {
		return m.State == models.StateError
	})).Return(nil).Once()

	meeting, err := registry.Reserve(ctx, createRequest(testIdentity), "alice")
	require.NoError(t, err)

	failed, err := registry.FailCreate(ctx, meeting.UID, "boom")
	require.NoError(t, err, "publishing failures never undo a transition")
	assert.Equal(t, models.StateError, failed.State)

	messages.AssertExpectations(t)
}

func TestMeetingRegistry_Lookup(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	_, err := env.registry.Lookup(ctx, testIdentity)
	assert.ErrorIs(t, err, domain.ErrMeetingNotFound)

	_, err = env.registry.Lookup(ctx, models.MeetingIdentity{Platform: "teams", NativeMeetingID: "x"})
	assert.Equal(t, domain.ErrorTypeValidation, domain.GetErrorType(err))

	_, err = env.registry.Lookup(ctx, models.MeetingIdentity{Platform: models.PlatformZoom})
	assert.Equal(t, domain.ErrorTypeValidation, domain.GetErrorType(err))
}

func TestMeetingRegistry_NotReady(t *testing.T) {
	registry := &MeetingRegistry{now: time.Now}

	_, err := registry.Reserve(context.Background(), createRequest(testIdentity), "alice")
	assert.Equal(t, domain.ErrorTypeUnavailable, domain.GetErrorType(err))

	_, err = registry.Abort(context.Background(), "uid", "")
	assert.Equal(t, domain.ErrorTypeUnavailable, domain.GetErrorType(err))
}
