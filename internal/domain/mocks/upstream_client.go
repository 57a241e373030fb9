// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/domain/models"
)

// MockUpstreamClient implements UpstreamClient for testing
type MockUpstreamClient struct {
	mock.Mock
}

func (m *MockUpstreamClient) CreateSession(ctx context.Context, platform models.Platform, nativeMeetingID string, params models.SessionParams) (string, error) {
	args := m.Called(ctx, platform, nativeMeetingID, params)
	return args.String(0), args.Error(1)
}

func (m *MockUpstreamClient) FetchTranscript(ctx context.Context, platform models.Platform, nativeMeetingID string) ([]models.TranscriptSegment, error) {
	args := m.Called(ctx, platform, nativeMeetingID)
	result := args.Get(0)
	if result == nil {
		return nil, args.Error(1)
	}
	return result.([]models.TranscriptSegment), args.Error(1)
}

func (m *MockUpstreamClient) DeleteSession(ctx context.Context, platform models.Platform, nativeMeetingID string) error {
	args := m.Called(ctx, platform, nativeMeetingID)
	return args.Error(0)
}

func (m *MockUpstreamClient) ListSessions(ctx context.Context) ([]models.UpstreamSession, error) {
	args := m.Called(ctx)
	result := args.Get(0)
	if result == nil {
		return nil, args.Error(1)
	}
	return result.([]models.UpstreamSession), args.Error(1)
}
