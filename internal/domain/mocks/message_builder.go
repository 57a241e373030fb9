// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/domain/models"
)

// MockMessageBuilder implements MessageBuilder for testing
type MockMessageBuilder struct {
	mock.Mock
}

func (m *MockMessageBuilder) SendMeetingLifecycleEvent(ctx context.Context, event models.MeetingLifecycleEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockMessageBuilder) SendIndexMeetingTranscript(ctx context.Context, action models.MessageAction, data models.Meeting) error {
	args := m.Called(ctx, action, data)
	return args.Error(0)
}

// NewPermissiveMessageBuilder returns a mock that accepts every send.
func NewPermissiveMessageBuilder() *MockMessageBuilder {
	m := &MockMessageBuilder{}
	m.On("SendMeetingLifecycleEvent", mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("SendIndexMeetingTranscript", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	return m
}
