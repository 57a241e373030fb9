// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"fmt"

	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/domain"
	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/domain/models"
)

// NatsWebhookEventRepository is the dedupe ledger, keyed by "event.<digest of event id>".
type NatsWebhookEventRepository struct {
	*NatsBaseRepository[models.WebhookEvent]
	keys *KeyBuilder
}

// NewNatsWebhookEventRepository creates a new NATS KV store repository for processed webhook events.
func NewNatsWebhookEventRepository(kv INatsKeyValue) *NatsWebhookEventRepository {
	return &NatsWebhookEventRepository{
		NatsBaseRepository: NewNatsBaseRepository[models.WebhookEvent](kv, "webhook event"),
		keys:               NewKeyBuilder(),
	}
}

var _ domain.WebhookEventRepository = (*NatsWebhookEventRepository)(nil)

func (r *NatsWebhookEventRepository) eventKey(eventID string) string {
	return r.keys.Key(KeyPrefixEvent, r.keys.DigestPart(eventID))
}

// Get returns the ledger entry for the event id.
func (r *NatsWebhookEventRepository) Get(ctx context.Context, eventID string) (*models.WebhookEvent, error) {
	return r.NatsBaseRepository.Get(ctx, r.eventKey(eventID))
}

// Record adds the event to the ledger. Recording an event twice is not an error.
func (r *NatsWebhookEventRepository) Record(ctx context.Context, event *models.WebhookEvent) (bool, error) {
	if event.EventID == "" {
		return false, domain.NewValidationError("event id is required")
	}
	if _, err := r.Create(ctx, r.eventKey(event.EventID), event); err != nil {
		if domain.GetErrorType(err) == domain.ErrorTypeConflict {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// NatsAPITokenRepository resolves tenant API keys by their SHA-256 hash, stored under "token.<hash>".
type NatsAPITokenRepository struct {
	*NatsBaseRepository[models.APIToken]
	keys *KeyBuilder
}

// NewNatsAPITokenRepository creates a new NATS KV store repository for tenant API tokens.
func NewNatsAPITokenRepository(kv INatsKeyValue) *NatsAPITokenRepository {
	return &NatsAPITokenRepository{
		NatsBaseRepository: NewNatsBaseRepository[models.APIToken](kv, "api token"),
		keys:               NewKeyBuilder(),
	}
}

var _ domain.APITokenRepository = (*NatsAPITokenRepository)(nil)

func (r *NatsAPITokenRepository) tokenKey(tokenHash string) (string, error) {
	key, err := r.keys.EncodeKey(KeyPrefixToken, tokenHash)
	if err != nil {
		return "", domain.NewValidationError("invalid token hash", err)
	}
	return key, nil
}

// GetByHash returns the token record for the hash.
func (r *NatsAPITokenRepository) GetByHash(ctx context.Context, tokenHash string) (*models.APIToken, error) {
	key, err := r.tokenKey(tokenHash)
	if err != nil {
		return nil, err
	}
	return r.NatsBaseRepository.Get(ctx, key)
}

// Put stores or replaces a token record.
func (r *NatsAPITokenRepository) Put(ctx context.Context, token *models.APIToken) error {
	key, err := r.tokenKey(token.TokenHash)
	if err != nil {
		return err
	}
	return r.NatsBaseRepository.Put(ctx, key, token)
}

// NatsCleanupTaskRepository stores pending upstream teardowns under "cleanup.<meeting uid>".
type NatsCleanupTaskRepository struct {
	*NatsBaseRepository[models.CleanupTask]
	keys *KeyBuilder
}

// NewNatsCleanupTaskRepository creates a new NATS KV store repository for cleanup tasks.
func NewNatsCleanupTaskRepository(kv INatsKeyValue) *NatsCleanupTaskRepository {
	return &NatsCleanupTaskRepository{
		NatsBaseRepository: NewNatsBaseRepository[models.CleanupTask](kv, "cleanup task"),
		keys:               NewKeyBuilder(),
	}
}

var _ domain.CleanupTaskRepository = (*NatsCleanupTaskRepository)(nil)

func (r *NatsCleanupTaskRepository) taskKey(meetingUID string) (string, error) {
	key, err := r.keys.EncodeKey(KeyPrefixCleanup, meetingUID)
	if err != nil {
		return "", domain.NewValidationError(fmt.Sprintf("invalid meeting uid %q", meetingUID), err)
	}
	return key, nil
}

// Put stores or replaces the task for a meeting.
func (r *NatsCleanupTaskRepository) Put(ctx context.Context, task *models.CleanupTask) error {
	key, err := r.taskKey(task.MeetingUID)
	if err != nil {
		return err
	}
	return r.NatsBaseRepository.Put(ctx, key, task)
}

// Delete removes the task for a meeting if present.
func (r *NatsCleanupTaskRepository) Delete(ctx context.Context, meetingUID string) error {
	key, err := r.taskKey(meetingUID)
	if err != nil {
		return err
	}
	return r.DeleteWithoutRevision(ctx, key)
}

// List returns every pending task.
func (r *NatsCleanupTaskRepository) List(ctx context.Context) ([]*models.CleanupTask, error) {
	return r.ListEntities(ctx, r.keys.Filter(KeyPrefixCleanup))
}
