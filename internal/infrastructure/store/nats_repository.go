// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package store

import (
	"context"

	"github.com/nats-io/nats.go/jetstream"
)

// NATS Key-Value store bucket names
const (
	KVStoreNameMeetings      = "transcript-meetings"
	KVStoreNameMeetingLinks  = "transcript-meeting-links"
	KVStoreNameSegments      = "transcript-segments"
	KVStoreNameWebhookEvents = "transcript-webhook-events"
	KVStoreNameAPITokens     = "transcript-api-tokens"
	KVStoreNameCleanupTasks  = "transcript-cleanup-tasks"
)

// BucketNames lists every bucket the service needs, in creation order.
var BucketNames = []string{
	KVStoreNameMeetings,
	KVStoreNameMeetingLinks,
	KVStoreNameSegments,
	KVStoreNameWebhookEvents,
	KVStoreNameAPITokens,
	KVStoreNameCleanupTasks,
}

// INatsKeyValue is the subset of [jetstream.KeyValue] used by the repositories.
type INatsKeyValue interface {
	ListKeys(context.Context, ...jetstream.WatchOpt) (jetstream.KeyLister, error)
	ListKeysFiltered(context.Context, ...string) (jetstream.KeyLister, error)
	Get(ctx context.Context, key string) (jetstream.KeyValueEntry, error)
	Put(context.Context, string, []byte) (uint64, error)
	Create(context.Context, string, []byte, ...jetstream.KVCreateOpt) (uint64, error)
	Update(context.Context, string, []byte, uint64) (uint64, error)
	Delete(context.Context, string, ...jetstream.KVDeleteOpt) error
}

var _ INatsKeyValue = (jetstream.KeyValue)(nil)

// Repositories groups every repository backed by the service buckets.
type Repositories struct {
	Meeting      *NatsMeetingRepository
	Link         *NatsLinkRepository
	Segment      *NatsSegmentRepository
	WebhookEvent *NatsWebhookEventRepository
	APIToken     *NatsAPITokenRepository
	CleanupTask  *NatsCleanupTaskRepository
}

// NewRepositories builds the repositories from buckets keyed by name.
func NewRepositories(buckets map[string]INatsKeyValue) *Repositories {
	return &Repositories{
		Meeting:      NewNatsMeetingRepository(buckets[KVStoreNameMeetings]),
		Link:         NewNatsLinkRepository(buckets[KVStoreNameMeetingLinks]),
		Segment:      NewNatsSegmentRepository(buckets[KVStoreNameSegments]),
		WebhookEvent: NewNatsWebhookEventRepository(buckets[KVStoreNameWebhookEvents]),
		APIToken:     NewNatsAPITokenRepository(buckets[KVStoreNameAPITokens]),
		CleanupTask:  NewNatsCleanupTaskRepository(buckets[KVStoreNameCleanupTasks]),
	}
}

// NewMemoryRepositories builds repositories over fresh in-memory buckets.
func NewMemoryRepositories() *Repositories {
	buckets := make(map[string]INatsKeyValue, len(BucketNames))
	for _, name := range BucketNames {
		buckets[name] = NewMemoryKeyValue(name)
	}
	return NewRepositories(buckets)
}
