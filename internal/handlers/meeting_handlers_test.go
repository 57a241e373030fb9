// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package handlers

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/domain/mocks"
	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/domain/models"
	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/infrastructure/store"
	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/service"
)

// setupHandlerForTesting creates a MeetingHandler over in-memory storage with one live meeting.
func setupHandlerForTesting(t *testing.T) (*MeetingHandler, *models.Meeting) {
	t.Helper()
	ctx := context.Background()

	repos := store.NewMemoryRepositories()
	registry := service.NewMeetingRegistry(repos.Meeting, mocks.NewPermissiveMessageBuilder(), service.DefaultServiceConfig())

	reserved, err := registry.Reserve(ctx, models.CreateMeetingRequest{
		Platform:        models.PlatformZoom,
		NativeMeetingID: "85012345678",
	}, "alice")
	require.NoError(t, err)
	live, err := registry.Activate(ctx, reserved.UID, "555")
	require.NoError(t, err)

	return NewMeetingHandler(registry), live
}

func decodeReply(t *testing.T, msg *mocks.MockMessage) models.MeetingStateReply {
	t.Helper()
	replies := msg.Replies()
	require.Len(t, replies, 1)

	var reply models.MeetingStateReply
	require.NoError(t, json.Unmarshal(replies[0], &reply))
	return reply
}

func TestMeetingHandler_HandlerReady(t *testing.T) {
	handler, _ := setupHandlerForTesting(t)
	assert.True(t, handler.HandlerReady())
	assert.False(t, NewMeetingHandler(nil).HandlerReady())
}

func TestMeetingHandler_HandleMessage(t *testing.T) {
	ctx := context.Background()

	t.Run("get state", func(t *testing.T) {
		handler, live := setupHandlerForTesting(t)
		msg := mocks.NewMockRequest([]byte(live.UID), models.MeetingGetStateSubject)

		handler.HandleMessage(ctx, msg)

		reply := decodeReply(t, msg)
		assert.Equal(t, live.UID, reply.MeetingUID)
		assert.Equal(t, models.StateLive, reply.State)
		assert.Equal(t, live.StateVersion, reply.StateVersion)
		assert.Empty(t, reply.Error)
	})

	t.Run("abort live meeting", func(t *testing.T) {
		handler, live := setupHandlerForTesting(t)
		data, err := json.Marshal(models.MeetingAbortRequest{MeetingUID: live.UID, Reason: "bot stuck"})
		require.NoError(t, err)
		msg := mocks.NewMockRequest(data, models.MeetingAbortSubject)

		handler.HandleMessage(ctx, msg)

		reply := decodeReply(t, msg)
		assert.Equal(t, models.StateError, reply.State)
		assert.Greater(t, reply.StateVersion, live.StateVersion)
	})

	t.Run("abort terminal meeting replies with error", func(t *testing.T) {
		handler, live := setupHandlerForTesting(t)
		_, err := handler.registry.Abort(ctx, live.UID, "")
		require.NoError(t, err)

		data, err := json.Marshal(models.MeetingAbortRequest{MeetingUID: live.UID})
		require.NoError(t, err)
		msg := mocks.NewMockRequest(data, models.MeetingAbortSubject)

		handler.HandleMessage(ctx, msg)

		reply := decodeReply(t, msg)
		assert.NotEmpty(t, reply.Error)
		assert.Empty(t, reply.State)
	})

	t.Run("invalid meeting uid", func(t *testing.T) {
		handler, _ := setupHandlerForTesting(t)
		msg := mocks.NewMockRequest([]byte("not-a-uuid"), models.MeetingGetStateSubject)

		handler.HandleMessage(ctx, msg)

		assert.NotEmpty(t, decodeReply(t, msg).Error)
	})

	t.Run("unknown subject", func(t *testing.T) {
		handler, _ := setupHandlerForTesting(t)
		msg := mocks.NewMockMessage([]byte("{}"), "lfx.transcript-service.unknown")
		msg.On("HasReply").Return(true)
		msg.On("Respond", []byte(nil)).Return(nil)

		handler.HandleMessage(ctx, msg)

		msg.AssertCalled(t, "Respond", []byte(nil))
	})

	t.Run("no reply expected", func(t *testing.T) {
		handler, live := setupHandlerForTesting(t)
		msg := mocks.NewMockMessage([]byte(live.UID), models.MeetingGetStateSubject)
		msg.On("HasReply").Return(false)

		handler.HandleMessage(ctx, msg)

		msg.AssertNotCalled(t, "Respond", mock.Anything)
	})
}
