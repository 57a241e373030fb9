// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package domain

import (
	"context"

	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/domain/models"
)

// UpstreamClient is the remote bot and transcription service, called with
// the single system credential.
type UpstreamClient interface {
	// CreateSession asks the upstream to send a bot and returns its meeting id.
	CreateSession(ctx context.Context, platform models.Platform, nativeMeetingID string, params models.SessionParams) (string, error)
	// FetchTranscript returns the upstream transcript ordered by start time.
	FetchTranscript(ctx context.Context, platform models.Platform, nativeMeetingID string) ([]models.TranscriptSegment, error)
	// DeleteSession tears the upstream session down.
	DeleteSession(ctx context.Context, platform models.Platform, nativeMeetingID string) error
	// ListSessions returns the bots the upstream is currently running.
	ListSessions(ctx context.Context) ([]models.UpstreamSession, error)
}
