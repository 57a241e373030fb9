// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/domain"
	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/domain/models"
	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/logging"
)

// outcomeFailed labels finalize attempts that returned an error.
const outcomeFailed = "failed"

// finalizeCommitGrace bounds the persist, cleanup and commit steps that follow
// the final pull.
const finalizeCommitGrace = 30 * time.Second

// WebhookVerifier checks the signature of a raw webhook body.
type WebhookVerifier interface {
	ValidateSignature(body []byte, signature string) error
}

// WebhookProcessor runs the meeting-finished pipeline: verify, dedupe, pull the
// final transcript, persist it, tear the upstream session down and mark the
// meeting FINISHED. Every step is safe to repeat, so a redelivery of an event
// whose processing crashed midway resumes where it stopped.
type WebhookProcessor struct {
	Verifier        WebhookVerifier
	Registry        *MeetingRegistry
	Upstream        domain.UpstreamClient
	Store           *TranscriptStore
	EventRepository domain.WebhookEventRepository
	Cleanup         *CleanupService
	Config          ServiceConfig
	outcomes        metric.Int64Counter
	now             clock
}

// NewWebhookProcessor creates a new WebhookProcessor.
func NewWebhookProcessor(
	verifier WebhookVerifier,
	registry *MeetingRegistry,
	upstream domain.UpstreamClient,
	store *TranscriptStore,
	eventRepository domain.WebhookEventRepository,
	cleanup *CleanupService,
	config ServiceConfig,
) *WebhookProcessor {
	outcomes, err := meter.Int64Counter(
		"transcript.finalize.outcomes",
		metric.WithDescription("Meeting-finished notifications by outcome"),
	)
	if err != nil {
		slog.Warn("unable to create finalize outcomes counter", logging.ErrKey, err)
	}

	return &WebhookProcessor{
		Verifier:        verifier,
		Registry:        registry,
		Upstream:        upstream,
		Store:           store,
		EventRepository: eventRepository,
		Cleanup:         cleanup,
		Config:          config,
		outcomes:        outcomes,
		now:             utcNow,
	}
}

// ServiceReady checks if the service is ready for use.
func (p *WebhookProcessor) ServiceReady() bool {
	return p.Verifier != nil &&
		p.Registry != nil && p.Registry.ServiceReady() &&
		p.Upstream != nil &&
		p.Store != nil && p.Store.ServiceReady() &&
		p.EventRepository != nil &&
		p.Cleanup != nil && p.Cleanup.ServiceReady()
}

// Process handles one delivery of the meeting-finished webhook.
func (p *WebhookProcessor) Process(ctx context.Context, body []byte, signature string) (models.WebhookOutcome, error) {
	if !p.ServiceReady() {
		slog.ErrorContext(ctx, "webhook processor not initialized", logging.PriorityCritical())
		return "", domain.NewUnavailableError("webhook processor not ready")
	}

	if err := p.Verifier.ValidateSignature(body, signature); err != nil {
		slog.WarnContext(ctx, "rejected webhook with invalid signature", logging.ErrKey, err)
		return "", err
	}

	notification, err := decodeNotification(body)
	if err != nil {
		return "", err
	}
	ctx = logging.AppendCtx(ctx, slog.String("event_id", notification.EventID))
	ctx = logging.AppendCtx(ctx, slog.String(logging.IdentityKey, notification.Identity().String()))

	outcome, err := p.process(ctx, notification)
	p.recordOutcome(ctx, outcome, err)
	if err != nil {
		return "", err
	}

	slog.InfoContext(ctx, "meeting-finished webhook handled", "outcome", outcome)
	return outcome, nil
}

func decodeNotification(body []byte) (models.MeetingFinishedNotification, error) {
	var n models.MeetingFinishedNotification
	if err := json.Unmarshal(body, &n); err != nil {
		return n, domain.NewValidationError("invalid webhook body", err)
	}
	switch {
	case n.EventID == "":
		return n, domain.NewValidationError("event_id is required", domain.ErrValidationFailed)
	case !n.Platform.IsValid():
		return n, domain.NewValidationError(fmt.Sprintf("unsupported platform %q", n.Platform), domain.ErrValidationFailed)
	case n.NativeMeetingID == "":
		return n, domain.NewValidationError("native_meeting_id is required", domain.ErrValidationFailed)
	}
	return n, nil
}

func (p *WebhookProcessor) process(ctx context.Context, n models.MeetingFinishedNotification) (models.WebhookOutcome, error) {
	if _, err := p.EventRepository.Get(ctx, n.EventID); err == nil {
		slog.InfoContext(ctx, "webhook event already processed")
		return models.WebhookOutcomeDuplicate, nil
	} else if domain.GetErrorType(err) != domain.ErrorTypeNotFound {
		slog.ErrorContext(ctx, "error reading webhook ledger", logging.ErrKey, err)
		return "", err
	}

	meeting, err := p.Registry.Lookup(ctx, n.Identity())
	if err != nil {
		return "", err
	}
	ctx = logging.WithMeeting(ctx, meeting.UID)

	if n.MeetingID != "" && n.MeetingID != meeting.UpstreamMeetingID {
		return p.processPredecessor(ctx, n, meeting)
	}

	if meeting.State == models.StateLive {
		meeting, err = p.beginFinishing(ctx, meeting)
		if err != nil {
			return "", err
		}
	}

	switch meeting.State {
	case models.StateFinished:
		p.cleanupUpstream(ctx, meeting)
		if err := p.recordEvent(ctx, n, meeting); err != nil {
			return "", err
		}
		return models.WebhookOutcomeAlreadyFinalized, nil
	case models.StateFinishing:
		return p.finalize(ctx, n, meeting)
	default:
		return "", domain.NewConflictError(
			fmt.Sprintf("meeting is %s, cannot finalize", meeting.State),
			domain.ErrStateConflict,
		)
	}
}

// processPredecessor handles a notification for an earlier session on the
// identity. A finished predecessor is acknowledged without touching the
// upstream, whose session for this identity now belongs to holder.
func (p *WebhookProcessor) processPredecessor(ctx context.Context, n models.MeetingFinishedNotification, holder *models.Meeting) (models.WebhookOutcome, error) {
	conflict := domain.NewConflictError(
		fmt.Sprintf("upstream meeting %s does not match %s", n.MeetingID, n.Identity()),
		domain.ErrStateConflict,
	)

	previous, err := p.Registry.SessionFor(ctx, holder, n.MeetingID)
	if err != nil {
		if domain.GetErrorType(err) != domain.ErrorTypeNotFound {
			return "", err
		}
		slog.WarnContext(ctx, "webhook refers to another upstream session",
			"upstream_meeting_id", holder.UpstreamMeetingID,
			"payload_meeting_id", n.MeetingID,
		)
		return "", conflict
	}

	ctx = logging.WithMeeting(ctx, previous.UID)
	if previous.State != models.StateFinished {
		slog.WarnContext(ctx, "webhook refers to an unfinished earlier session", "state", previous.State)
		return "", conflict
	}

	slog.InfoContext(ctx, "webhook refers to an earlier finished session")
	if err := p.recordEvent(ctx, n, previous); err != nil {
		return "", err
	}
	return models.WebhookOutcomeAlreadyFinalized, nil
}

// ResumeStale finalizes FINISHING meetings whose final pull should have ended
// long ago, such as those left behind by a crashed or abandoned delivery. It
// returns how many were brought to FINISHED.
func (p *WebhookProcessor) ResumeStale(ctx context.Context) (int, error) {
	if !p.ServiceReady() {
		return 0, domain.NewUnavailableError("webhook processor not ready")
	}

	stale, err := p.Registry.StaleFinishing(ctx, p.now().Add(-p.finalizeWindow()-finalizeCommitGrace))
	if err != nil {
		return 0, err
	}

	finished := 0
	for _, meeting := range stale {
		meetingCtx := logging.WithMeeting(ctx, meeting.UID)
		slog.WarnContext(meetingCtx, "resuming stale finalization", "finishing_since", meeting.FinishingSince)

		outcome, err := p.finalize(meetingCtx, models.MeetingFinishedNotification{}, meeting)
		p.recordOutcome(meetingCtx, outcome, err)
		if err != nil {
			slog.WarnContext(meetingCtx, "stale finalization failed", logging.ErrKey, err)
			continue
		}
		finished++
	}
	return finished, nil
}

// beginFinishing moves the meeting to FINISHING. Losing the race to a
// concurrent delivery is fine; the winner's state is returned instead.
func (p *WebhookProcessor) beginFinishing(ctx context.Context, meeting *models.Meeting) (*models.Meeting, error) {
	updated, err := p.Registry.BeginFinishing(ctx, meeting.UID)
	if err == nil {
		return updated, nil
	}
	if domain.GetErrorType(err) != domain.ErrorTypeConflict {
		return nil, err
	}
	return p.Registry.Get(ctx, meeting.UID)
}

// finalize runs the pull, persist, cleanup and commit steps for a FINISHING
// meeting. The steps outlive the caller's context so that a dropped delivery
// cannot leave the meeting FINISHING.
func (p *WebhookProcessor) finalize(ctx context.Context, n models.MeetingFinishedNotification, meeting *models.Meeting) (models.WebhookOutcome, error) {
	window := p.finalizeWindow()
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), window+finalizeCommitGrace)
	defer cancel()

	segments, err := p.pullFinalTranscript(ctx, meeting, window)
	if err != nil {
		return "", p.giveUp(ctx, meeting, err)
	}

	created, err := p.Store.Persist(ctx, meeting.UID, segments)
	if err != nil {
		return "", err
	}
	slog.InfoContext(ctx, "final transcript persisted", "segments", len(segments), "created", created)

	p.cleanupUpstream(ctx, meeting)

	outcome := models.WebhookOutcomeProcessed
	finished, err := p.Registry.Finish(ctx, meeting.UID)
	if err != nil {
		if domain.GetErrorType(err) != domain.ErrorTypeConflict {
			return "", err
		}
		current, getErr := p.Registry.Get(ctx, meeting.UID)
		if getErr != nil || current.State != models.StateFinished {
			return "", err
		}
		slog.InfoContext(ctx, "meeting finalized by a concurrent delivery")
		finished = current
		outcome = models.WebhookOutcomeAlreadyFinalized
	}

	if err := p.recordEvent(ctx, n, finished); err != nil {
		return "", err
	}
	return outcome, nil
}

// pullFinalTranscript fetches the transcript with bounded exponential backoff.
// Credential and missing-meeting errors stop the retries at once.
func (p *WebhookProcessor) pullFinalTranscript(ctx context.Context, meeting *models.Meeting, window time.Duration) ([]models.TranscriptSegment, error) {
	ctx, cancel := context.WithTimeout(ctx, window)
	defer cancel()

	operation := func() ([]models.TranscriptSegment, error) {
		segments, err := p.Upstream.FetchTranscript(ctx, meeting.Platform, meeting.NativeMeetingID)
		if err == nil {
			return segments, nil
		}
		switch domain.GetErrorType(err) {
		case domain.ErrorTypeUpstreamAuth, domain.ErrorTypeNotFound, domain.ErrorTypeValidation:
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	policy := backoff.NewExponentialBackOff()
	if p.Config.FinalizeInitialBackoff > 0 {
		policy.InitialInterval = p.Config.FinalizeInitialBackoff
	}

	attempts := p.Config.FinalizeMaxAttempts
	if attempts == 0 {
		attempts = DefaultServiceConfig().FinalizeMaxAttempts
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(attempts),
		backoff.WithMaxElapsedTime(window),
		backoff.WithNotify(func(err error, delay time.Duration) {
			slog.WarnContext(ctx, "final transcript pull failed, retrying", logging.ErrKey, err, "delay", delay)
		}),
	)
}

func (p *WebhookProcessor) finalizeWindow() time.Duration {
	if p.Config.FinalizeMaxWindow <= 0 {
		return DefaultServiceConfig().FinalizeMaxWindow
	}
	return p.Config.FinalizeMaxWindow
}

// giveUp moves the meeting to ERROR after the final pull failed. Segments
// persisted by earlier deliveries are kept.
func (p *WebhookProcessor) giveUp(ctx context.Context, meeting *models.Meeting, pullErr error) error {
	reason := "final transcript pull failed: " + pullErr.Error()
	if _, err := p.Registry.MarkError(ctx, meeting.UID, reason); err != nil {
		slog.ErrorContext(ctx, "error marking meeting as failed", logging.ErrKey, err, logging.PriorityCritical())
		return errors.Join(pullErr, err)
	}
	slog.ErrorContext(ctx, "meeting finalization failed", logging.ErrKey, pullErr)

	if domain.GetErrorType(pullErr) == domain.ErrorTypeUpstreamAuth {
		return pullErr
	}
	return domain.NewUnavailableError("final transcript pull exhausted", domain.ErrUpstreamUnavailable, pullErr)
}

// cleanupUpstream makes one inline teardown attempt and hands failures to the CleanupService.
func (p *WebhookProcessor) cleanupUpstream(ctx context.Context, meeting *models.Meeting) {
	err := p.Upstream.DeleteSession(ctx, meeting.Platform, meeting.NativeMeetingID)
	if err == nil {
		return
	}
	slog.WarnContext(ctx, "inline upstream cleanup failed", logging.ErrKey, err)
	if enqueueErr := p.Cleanup.Enqueue(ctx, meeting, err); enqueueErr != nil {
		slog.ErrorContext(ctx, "upstream session left running", logging.ErrKey, enqueueErr, logging.PriorityCritical())
	}
}

// recordEvent adds the notification to the dedupe ledger. Finalizations
// resumed without a notification have no event to record.
func (p *WebhookProcessor) recordEvent(ctx context.Context, n models.MeetingFinishedNotification, meeting *models.Meeting) error {
	if n.EventID == "" {
		return nil
	}
	_, err := p.EventRepository.Record(ctx, &models.WebhookEvent{
		EventID:         n.EventID,
		MeetingUID:      meeting.UID,
		Platform:        meeting.Platform,
		NativeMeetingID: meeting.NativeMeetingID,
		ProcessedAt:     p.now(),
	})
	if err != nil {
		slog.ErrorContext(ctx, "error recording webhook event", logging.ErrKey, err)
	}
	return err
}

func (p *WebhookProcessor) recordOutcome(ctx context.Context, outcome models.WebhookOutcome, err error) {
	if p.outcomes == nil {
		return
	}
	label := string(outcome)
	if err != nil {
		label = outcomeFailed
	}
	p.outcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", label),
		attribute.String("error_type", errorTypeLabel(err)),
	))
}

func errorTypeLabel(err error) string {
	if err == nil {
		return "none"
	}
	return domain.GetErrorType(err).String()
}
