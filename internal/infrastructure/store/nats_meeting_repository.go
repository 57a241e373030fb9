// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"fmt"

	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/domain"
	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/domain/models"
)

// identityRecord is the value of an identity index key.
type identityRecord struct {
	MeetingUID string `json:"meeting_uid"`
}

// NatsMeetingRepository is the NATS KV store repository for meetings.
// Meetings live under "meeting.<uid>"; the identity index lives under
// "identity.<platform>.<base58 native id>" in the same bucket.
type NatsMeetingRepository struct {
	meetings   *NatsBaseRepository[models.Meeting]
	identities *NatsBaseRepository[identityRecord]
	keys       *KeyBuilder
}

// NewNatsMeetingRepository creates a new NATS KV store repository for meetings.
func NewNatsMeetingRepository(kv INatsKeyValue) *NatsMeetingRepository {
	return &NatsMeetingRepository{
		meetings:   NewNatsBaseRepository[models.Meeting](kv, "meeting"),
		identities: NewNatsBaseRepository[identityRecord](kv, "meeting identity"),
		keys:       NewKeyBuilder(),
	}
}

var _ domain.MeetingRepository = (*NatsMeetingRepository)(nil)

func (r *NatsMeetingRepository) meetingKey(meetingUID string) (string, error) {
	key, err := r.keys.EncodeKey(KeyPrefixMeeting, meetingUID)
	if err != nil {
		return "", domain.NewValidationError(fmt.Sprintf("invalid meeting uid %q", meetingUID), err)
	}
	return key, nil
}

func (r *NatsMeetingRepository) identityKey(identity models.MeetingIdentity) string {
	return r.keys.Key(KeyPrefixIdentity, string(identity.Platform), r.keys.EncodePart(identity.NativeMeetingID))
}

// IsReady reports whether the meetings bucket is bound.
func (r *NatsMeetingRepository) IsReady(ctx context.Context) bool {
	return r.meetings.IsReady()
}

// Create stores a new meeting.
func (r *NatsMeetingRepository) Create(ctx context.Context, meeting *models.Meeting) error {
	key, err := r.meetingKey(meeting.UID)
	if err != nil {
		return err
	}
	_, err = r.meetings.Create(ctx, key, meeting)
	return err
}

// Get returns the meeting and its storage revision.
func (r *NatsMeetingRepository) Get(ctx context.Context, meetingUID string) (*models.Meeting, uint64, error) {
	key, err := r.meetingKey(meetingUID)
	if err != nil {
		return nil, 0, err
	}
	meeting, revision, err := r.meetings.GetWithRevision(ctx, key)
	if err != nil {
		if domain.GetErrorType(err) == domain.ErrorTypeNotFound {
			return nil, 0, domain.NewNotFoundError(fmt.Sprintf("meeting %s not found", meetingUID), domain.ErrMeetingNotFound)
		}
		return nil, 0, err
	}
	return meeting, revision, nil
}

// Update replaces the meeting if its revision is unchanged.
func (r *NatsMeetingRepository) Update(ctx context.Context, meeting *models.Meeting, revision uint64) error {
	key, err := r.meetingKey(meeting.UID)
	if err != nil {
		return err
	}
	_, err = r.meetings.Update(ctx, key, meeting, revision)
	return err
}

// Delete removes the meeting if its revision is unchanged.
func (r *NatsMeetingRepository) Delete(ctx context.Context, meetingUID string, revision uint64) error {
	key, err := r.meetingKey(meetingUID)
	if err != nil {
		return err
	}
	return r.meetings.Delete(ctx, key, revision)
}

// List returns every meeting in the bucket. Identity index keys are skipped.
func (r *NatsMeetingRepository) List(ctx context.Context) ([]*models.Meeting, error) {
	return r.meetings.ListEntities(ctx, r.keys.Filter(KeyPrefixMeeting))
}

// GetIdentity returns the uid of the meeting that currently holds the identity.
func (r *NatsMeetingRepository) GetIdentity(ctx context.Context, identity models.MeetingIdentity) (string, uint64, error) {
	record, revision, err := r.identities.GetWithRevision(ctx, r.identityKey(identity))
	if err != nil {
		if domain.GetErrorType(err) == domain.ErrorTypeNotFound {
			return "", 0, domain.NewNotFoundError(fmt.Sprintf("meeting %s not found", identity), domain.ErrMeetingNotFound)
		}
		return "", 0, err
	}
	return record.MeetingUID, revision, nil
}

// CreateIdentity claims an identity that nobody holds yet.
func (r *NatsMeetingRepository) CreateIdentity(ctx context.Context, identity models.MeetingIdentity, meetingUID string) error {
	_, err := r.identities.Create(ctx, r.identityKey(identity), &identityRecord{MeetingUID: meetingUID})
	return err
}

// ReplaceIdentity hands a claimed identity over to another meeting.
func (r *NatsMeetingRepository) ReplaceIdentity(ctx context.Context, identity models.MeetingIdentity, meetingUID string, revision uint64) error {
	_, err := r.identities.Update(ctx, r.identityKey(identity), &identityRecord{MeetingUID: meetingUID}, revision)
	return err
}
