// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"fmt"

	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/domain"
	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/domain/models"
)

// NatsSegmentRepository stores transcript segments as msgpack values under
// "segment.<meeting uid>.<digest of the dedup key>". The key is derived from
// the dedup tuple, so a second write of the same segment finds the key taken.
type NatsSegmentRepository struct {
	*NatsBaseRepository[models.TranscriptSegment]
	keys *KeyBuilder
}

// NewNatsSegmentRepository creates a new NATS KV store repository for segments.
func NewNatsSegmentRepository(kv INatsKeyValue) *NatsSegmentRepository {
	return &NatsSegmentRepository{
		NatsBaseRepository: NewNatsBaseRepositoryWithCodec[models.TranscriptSegment](kv, "transcript segment", MsgpackCodec),
		keys:               NewKeyBuilder(),
	}
}

var _ domain.TranscriptSegmentRepository = (*NatsSegmentRepository)(nil)

// SegmentKey returns the storage key of a segment.
func (r *NatsSegmentRepository) SegmentKey(segment *models.TranscriptSegment) (string, error) {
	key, err := r.keys.EncodeKey(KeyPrefixSegment, segment.MeetingUID, r.keys.DigestPart(segment.DedupKey()))
	if err != nil {
		return "", domain.NewValidationError(fmt.Sprintf("invalid meeting uid %q", segment.MeetingUID), err)
	}
	return key, nil
}

// PutIfAbsent stores the segment unless one with the same dedup key exists.
func (r *NatsSegmentRepository) PutIfAbsent(ctx context.Context, segment *models.TranscriptSegment) (bool, error) {
	key, err := r.SegmentKey(segment)
	if err != nil {
		return false, err
	}
	if _, err := r.Create(ctx, key, segment); err != nil {
		if domain.GetErrorType(err) == domain.ErrorTypeConflict {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ListByMeeting returns the meeting's segments ordered by start time.
func (r *NatsSegmentRepository) ListByMeeting(ctx context.Context, meetingUID string) ([]models.TranscriptSegment, error) {
	if _, err := r.keys.EncodeKey(meetingUID); err != nil {
		return nil, domain.NewValidationError(fmt.Sprintf("invalid meeting uid %q", meetingUID), err)
	}
	entities, err := r.ListEntities(ctx, r.keys.Filter(KeyPrefixSegment, meetingUID))
	if err != nil {
		return nil, err
	}

	segments := make([]models.TranscriptSegment, 0, len(entities))
	for _, segment := range entities {
		segments = append(segments, *segment)
	}
	models.SortSegments(segments)
	return segments, nil
}
