// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/domain"
	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/domain/mocks"
	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/domain/models"
	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/infrastructure/store"
	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/infrastructure/webhook"
)

const testWebhookSecret = "whsec-test"

var testIdentity = models.MeetingIdentity{Platform: models.PlatformGoogleMeet, NativeMeetingID: "abc-defg-hij"}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testServiceConfig() ServiceConfig {
	config := DefaultServiceConfig()
	config.CASRetryBackoff = time.Millisecond
	config.FinalizeInitialBackoff = time.Millisecond
	config.FinalizeMaxWindow = 5 * time.Second
	config.CleanupInterval = time.Second
	config.CleanupMaxAttempts = 3
	return config
}

// testEnv wires every service over in-memory repositories and a mocked upstream.
type testEnv struct {
	repos     *store.Repositories
	upstream  *mocks.MockUpstreamClient
	messages  *mocks.MockMessageBuilder
	clock     *fakeClock
	validator *webhook.SignatureValidator

	registry *MeetingRegistry
	access   *AccessControl
	store    *TranscriptStore
	router   *TranscriptRouter
	cleanup  *CleanupService
	webhooks *WebhookProcessor
	meetings *MeetingService
	auth     *TenantAuthService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		repos:     store.NewMemoryRepositories(),
		upstream:  &mocks.MockUpstreamClient{},
		messages:  mocks.NewPermissiveMessageBuilder(),
		clock:     newFakeClock(),
		validator: webhook.NewSignatureValidator(testWebhookSecret),
	}
	config := testServiceConfig()

	env.registry = NewMeetingRegistry(env.repos.Meeting, env.messages, config)
	env.registry.now = env.clock.Now
	env.access = NewAccessControl(env.repos.Link, env.registry)
	env.access.now = env.clock.Now
	env.store = NewTranscriptStore(env.repos.Segment)
	env.store.now = env.clock.Now
	env.router = NewTranscriptRouter(env.access, env.upstream, env.store)
	env.cleanup = NewCleanupService(env.repos.CleanupTask, env.upstream, config)
	env.cleanup.now = env.clock.Now
	env.webhooks = NewWebhookProcessor(env.validator, env.registry, env.upstream, env.store, env.repos.WebhookEvent, env.cleanup, config)
	env.webhooks.now = env.clock.Now
	env.cleanup.Finalizer = env.webhooks
	env.meetings = NewMeetingService(env.registry, env.access, env.upstream, config)
	env.auth = NewTenantAuthService(env.repos.APIToken, nil)

	return env
}

// liveMeeting creates a LIVE meeting for identity linked to userID, bypassing the upstream.
func (e *testEnv) liveMeeting(t *testing.T, userID string, identity models.MeetingIdentity, upstreamID string) *models.Meeting {
	t.Helper()
	ctx := context.Background()

	reserved, err := e.registry.Reserve(ctx, models.CreateMeetingRequest{
		Platform:        identity.Platform,
		NativeMeetingID: identity.NativeMeetingID,
	}, userID)
	require.NoError(t, err)

	live, err := e.registry.Activate(ctx, reserved.UID, upstreamID)
	require.NoError(t, err)
	require.NoError(t, e.access.Link(ctx, userID, live.UID))

	return live
}

func (e *testEnv) meeting(t *testing.T, meetingUID string) *models.Meeting {
	t.Helper()
	meeting, err := e.registry.Get(context.Background(), meetingUID)
	require.NoError(t, err)
	return meeting
}

// flakyMeetingRepository fails the first failUpdates writes with a storage-level conflict.
type flakyMeetingRepository struct {
	domain.MeetingRepository
	mu          sync.Mutex
	failUpdates int
	updates     int
}

func (r *flakyMeetingRepository) Update(ctx context.Context, meeting *models.Meeting, revision uint64) error {
	r.mu.Lock()
	r.updates++
	fail := r.updates <= r.failUpdates
	r.mu.Unlock()

	if fail {
		return domain.NewConflictError("wrong last sequence", domain.ErrRevisionMismatch)
	}
	return r.MeetingRepository.Update(ctx, meeting, revision)
}

func segmentsFixture() []models.TranscriptSegment {
	return []models.TranscriptSegment{
		{StartTime: 0.5, EndTime: 2.0, Speaker: "Alice", Language: "en", Text: "Good morning"},
		{StartTime: 2.1, EndTime: 4.0, Speaker: "Bob", Language: "en", Text: "Morning, shall we start?"},
	}
}

var (
	anyCtx = mock.Anything
	anyArg = mock.Anything
)
