// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"fmt"

	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/domain"
	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/domain/models"
)

// NatsLinkRepository stores user/meeting links under "link.<base58 user>.<meeting uid>".
type NatsLinkRepository struct {
	*NatsBaseRepository[models.UserMeetingLink]
	keys *KeyBuilder
}

// NewNatsLinkRepository creates a new NATS KV store repository for links.
func NewNatsLinkRepository(kv INatsKeyValue) *NatsLinkRepository {
	return &NatsLinkRepository{
		NatsBaseRepository: NewNatsBaseRepository[models.UserMeetingLink](kv, "meeting link"),
		keys:               NewKeyBuilder(),
	}
}

var _ domain.UserMeetingLinkRepository = (*NatsLinkRepository)(nil)

func (r *NatsLinkRepository) linkKey(userID, meetingUID string) (string, error) {
	if userID == "" {
		return "", domain.NewValidationError("user id is required")
	}
	key, err := r.keys.EncodeKey(KeyPrefixLink, r.keys.EncodePart(userID), meetingUID)
	if err != nil {
		return "", domain.NewValidationError(fmt.Sprintf("invalid meeting uid %q", meetingUID), err)
	}
	return key, nil
}

// Link stores the link. An existing link is left untouched and reported as not created.
func (r *NatsLinkRepository) Link(ctx context.Context, link *models.UserMeetingLink) (bool, error) {
	key, err := r.linkKey(link.UserID, link.MeetingUID)
	if err != nil {
		return false, err
	}
	if _, err := r.Create(ctx, key, link); err != nil {
		if domain.GetErrorType(err) == domain.ErrorTypeConflict {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Exists reports whether the user is linked to the meeting.
func (r *NatsLinkRepository) Exists(ctx context.Context, userID, meetingUID string) (bool, error) {
	key, err := r.linkKey(userID, meetingUID)
	if err != nil {
		return false, err
	}
	return r.NatsBaseRepository.Exists(ctx, key)
}

// Unlink removes the link. Removing a missing link is a no-op.
func (r *NatsLinkRepository) Unlink(ctx context.Context, userID, meetingUID string) error {
	key, err := r.linkKey(userID, meetingUID)
	if err != nil {
		return err
	}
	return r.DeleteWithoutRevision(ctx, key)
}

// ListMeetingUIDs returns the uids of every meeting the user is linked to.
func (r *NatsLinkRepository) ListMeetingUIDs(ctx context.Context, userID string) ([]string, error) {
	if userID == "" {
		return nil, domain.NewValidationError("user id is required")
	}
	keys, err := r.ListKeys(ctx, r.keys.Filter(KeyPrefixLink, r.keys.EncodePart(userID)))
	if err != nil {
		return nil, err
	}

	uids := make([]string, 0, len(keys))
	for _, key := range keys {
		uids = append(uids, r.keys.LastPart(key))
	}
	return uids, nil
}
