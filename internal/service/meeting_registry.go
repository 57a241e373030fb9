// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/domain"
	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/domain/models"
	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/logging"
	"github.com/linuxfoundation/lfx-v2-transcript-service/pkg/concurrent"
)

// maxPredecessors bounds how far back SessionFor walks an identity's history.
const maxPredecessors = 16

// MeetingRegistry owns the meeting lifecycle. Every state change goes through it
// as a compare-and-swap on the stored revision.
type MeetingRegistry struct {
	MeetingRepository domain.MeetingRepository
	MessageBuilder    domain.MessageBuilder
	Config            ServiceConfig
	now               clock
}

// NewMeetingRegistry creates a new MeetingRegistry.
func NewMeetingRegistry(
	meetingRepository domain.MeetingRepository,
	messageBuilder domain.MessageBuilder,
	config ServiceConfig,
) *MeetingRegistry {
	return &MeetingRegistry{
		MeetingRepository: meetingRepository,
		MessageBuilder:    messageBuilder,
		Config:            config,
		now:               utcNow,
	}
}

// ServiceReady checks if the service is ready for use.
func (r *MeetingRegistry) ServiceReady() bool {
	return r.MeetingRepository != nil && r.MessageBuilder != nil
}

// Reserve claims the identity of req for a new PENDING meeting.
//
// If another meeting still holds the identity, the holder is returned together
// with a conflict error wrapping domain.ErrMeetingActive.
func (r *MeetingRegistry) Reserve(ctx context.Context, req models.CreateMeetingRequest, createdBy string) (*models.Meeting, error) {
	if !r.ServiceReady() {
		slog.ErrorContext(ctx, "meeting registry not initialized", logging.PriorityCritical())
		return nil, domain.NewUnavailableError("meeting registry not ready")
	}

	now := r.now()
	meeting := &models.Meeting{
		UID:             uuid.New().String(),
		Platform:        req.Platform,
		NativeMeetingID: req.NativeMeetingID,
		State:           models.StatePending,
		StateVersion:    1,
		BotName:         req.BotName,
		Language:        req.Language,
		Task:            req.Task,
		CreatedBy:       createdBy,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	identity := meeting.Identity()
	ctx = logging.WithMeeting(ctx, meeting.UID)
	ctx = logging.AppendCtx(ctx, slog.String(logging.IdentityKey, identity.String()))

	// The record is stored before the identity points at it, so a claimed
	// identity always resolves to a meeting.
	if err := r.MeetingRepository.Create(ctx, meeting); err != nil {
		slog.ErrorContext(ctx, "error storing reserved meeting", logging.ErrKey, err)
		return nil, err
	}

	if err := r.claimIdentity(ctx, meeting); err != nil {
		r.discard(ctx, meeting.UID)
		return r.activeHolder(ctx, identity, err)
	}

	slog.InfoContext(ctx, "reserved meeting identity")
	r.publishTransition(ctx, meeting, "", "")

	return meeting, nil
}

// claimIdentity points the identity index at meeting. A held identity is
// taken over only once its holder has released it, and the holder becomes
// the meeting's predecessor.
func (r *MeetingRegistry) claimIdentity(ctx context.Context, meeting *models.Meeting) error {
	identity := meeting.Identity()
	err := r.MeetingRepository.CreateIdentity(ctx, identity, meeting.UID)
	if domain.GetErrorType(err) != domain.ErrorTypeConflict {
		return err
	}

	holderUID, revision, err := r.MeetingRepository.GetIdentity(ctx, identity)
	if err != nil {
		return err
	}

	holder, _, err := r.MeetingRepository.Get(ctx, holderUID)
	switch {
	case domain.GetErrorType(err) == domain.ErrorTypeNotFound:
		slog.WarnContext(ctx, "identity points at a missing meeting, reclaiming", "holder_uid", holderUID)
	case err != nil:
		return err
	case !holder.IdentityReleased(r.now(), r.Config.IdentityCooldown):
		return domain.NewConflictError(
			fmt.Sprintf("meeting %s is %s", identity, holder.State),
			domain.ErrMeetingActive,
		)
	default:
		if err := r.setPredecessor(ctx, meeting, holder.UID); err != nil {
			return err
		}
	}

	return r.MeetingRepository.ReplaceIdentity(ctx, identity, meeting.UID, revision)
}

// setPredecessor records previousUID on the still unclaimed meeting.
func (r *MeetingRegistry) setPredecessor(ctx context.Context, meeting *models.Meeting, previousUID string) error {
	stored, revision, err := r.MeetingRepository.Get(ctx, meeting.UID)
	if err != nil {
		return err
	}
	stored.PreviousMeetingUID = previousUID
	if err := r.MeetingRepository.Update(ctx, stored, revision); err != nil {
		return err
	}
	meeting.PreviousMeetingUID = previousUID
	return nil
}

// discard removes the record of a reservation that lost its identity claim.
func (r *MeetingRegistry) discard(ctx context.Context, meetingUID string) {
	_, revision, err := r.MeetingRepository.Get(ctx, meetingUID)
	if err == nil {
		err = r.MeetingRepository.Delete(ctx, meetingUID, revision)
	}
	if err != nil {
		slog.WarnContext(ctx, "error discarding unclaimed meeting", logging.ErrKey, err)
	}
}

// activeHolder converts a failed claim into the Reserve result.
func (r *MeetingRegistry) activeHolder(ctx context.Context, identity models.MeetingIdentity, claimErr error) (*models.Meeting, error) {
	if domain.GetErrorType(claimErr) != domain.ErrorTypeConflict {
		slog.ErrorContext(ctx, "error claiming meeting identity", logging.ErrKey, claimErr)
		return nil, claimErr
	}

	holder, err := r.Lookup(ctx, identity)
	if err != nil {
		slog.WarnContext(ctx, "error reading identity holder", logging.ErrKey, err)
		return nil, domain.NewConflictError(fmt.Sprintf("meeting %s is being created", identity), domain.ErrMeetingActive)
	}

	slog.InfoContext(ctx, "meeting identity already held", "holder_uid", holder.UID, "holder_state", holder.State)
	return holder, domain.NewConflictError(fmt.Sprintf("meeting %s is %s", identity, holder.State), domain.ErrMeetingActive)
}

// Get returns the meeting by uid.
func (r *MeetingRegistry) Get(ctx context.Context, meetingUID string) (*models.Meeting, error) {
	meeting, _, err := r.MeetingRepository.Get(ctx, meetingUID)
	return meeting, err
}

// Lookup returns the meeting currently holding the identity.
func (r *MeetingRegistry) Lookup(ctx context.Context, identity models.MeetingIdentity) (*models.Meeting, error) {
	if !identity.Platform.IsValid() || identity.NativeMeetingID == "" {
		return nil, domain.NewValidationError(fmt.Sprintf("invalid meeting %s", identity), domain.ErrValidationFailed)
	}

	meetingUID, _, err := r.MeetingRepository.GetIdentity(ctx, identity)
	if err != nil {
		if domain.GetErrorType(err) == domain.ErrorTypeNotFound {
			return nil, domain.NewNotFoundError(fmt.Sprintf("meeting %s not found", identity), domain.ErrMeetingNotFound)
		}
		return nil, err
	}

	return r.Get(ctx, meetingUID)
}

// SessionFor returns the meeting on holder's identity whose upstream session is
// upstreamMeetingID, starting at holder and walking back through its predecessors.
func (r *MeetingRegistry) SessionFor(ctx context.Context, holder *models.Meeting, upstreamMeetingID string) (*models.Meeting, error) {
	meeting := holder
	for range maxPredecessors {
		if meeting.UpstreamMeetingID == upstreamMeetingID {
			return meeting, nil
		}
		if meeting.PreviousMeetingUID == "" {
			break
		}
		previous, err := r.Get(ctx, meeting.PreviousMeetingUID)
		if err != nil {
			if domain.GetErrorType(err) == domain.ErrorTypeNotFound {
				break
			}
			return nil, err
		}
		meeting = previous
	}
	return nil, domain.NewNotFoundError(
		fmt.Sprintf("no session %s on meeting %s", upstreamMeetingID, holder.Identity()),
		domain.ErrMeetingNotFound,
	)
}

// StaleFinishing returns the FINISHING meetings that entered that state before cutoff.
func (r *MeetingRegistry) StaleFinishing(ctx context.Context, cutoff time.Time) ([]*models.Meeting, error) {
	meetings, err := r.MeetingRepository.List(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "error listing meetings", logging.ErrKey, err)
		return nil, err
	}
	return slices.DeleteFunc(meetings, func(m *models.Meeting) bool {
		return m.State != models.StateFinishing || m.FinishingSince == nil || !m.FinishingSince.Before(cutoff)
	}), nil
}

// Activate moves a PENDING meeting to LIVE once the upstream session exists.
func (r *MeetingRegistry) Activate(ctx context.Context, meetingUID, upstreamMeetingID string) (*models.Meeting, error) {
	return r.transition(ctx, meetingUID, models.StateLive, "", func(m *models.Meeting, _ time.Time) {
		m.UpstreamMeetingID = upstreamMeetingID
	}, models.StatePending)
}

// FailCreate moves a PENDING meeting to ERROR after the upstream refused the session.
func (r *MeetingRegistry) FailCreate(ctx context.Context, meetingUID, reason string) (*models.Meeting, error) {
	return r.transition(ctx, meetingUID, models.StateError, reason, nil, models.StatePending)
}

// BeginFinishing moves a LIVE meeting to FINISHING.
func (r *MeetingRegistry) BeginFinishing(ctx context.Context, meetingUID string) (*models.Meeting, error) {
	return r.transition(ctx, meetingUID, models.StateFinishing, "", func(m *models.Meeting, now time.Time) {
		m.FinishingSince = &now
	}, models.StateLive)
}

// Finish moves a FINISHING meeting to FINISHED.
func (r *MeetingRegistry) Finish(ctx context.Context, meetingUID string) (*models.Meeting, error) {
	return r.transition(ctx, meetingUID, models.StateFinished, "", func(m *models.Meeting, now time.Time) {
		m.FinalizedAt = &now
	}, models.StateFinishing)
}

// MarkError moves a FINISHING meeting to ERROR after finalization gave up.
func (r *MeetingRegistry) MarkError(ctx context.Context, meetingUID, reason string) (*models.Meeting, error) {
	return r.transition(ctx, meetingUID, models.StateError, reason, nil, models.StateFinishing)
}

// Abort moves any non-terminal meeting to ERROR on operator request.
func (r *MeetingRegistry) Abort(ctx context.Context, meetingUID, reason string) (*models.Meeting, error) {
	if strings.TrimSpace(reason) == "" {
		reason = "aborted by operator"
	}
	return r.transition(ctx, meetingUID, models.StateError, reason, nil,
		models.StatePending, models.StateLive, models.StateFinishing)
}

// transition performs a single CAS state change. A write that loses against a
// change which left state and version untouched is retried; any other race
// surfaces as a state conflict.
func (r *MeetingRegistry) transition(
	ctx context.Context,
	meetingUID string,
	to models.MeetingState,
	reason string,
	mutate func(m *models.Meeting, now time.Time),
	from ...models.MeetingState,
) (*models.Meeting, error) {
	if !r.ServiceReady() {
		slog.ErrorContext(ctx, "meeting registry not initialized", logging.PriorityCritical())
		return nil, domain.NewUnavailableError("meeting registry not ready")
	}

	ctx = logging.WithMeeting(ctx, meetingUID)

	var (
		expectedState   models.MeetingState
		expectedVersion uint64
		previous        models.MeetingState
	)

	operation := func() (*models.Meeting, error) {
		current, revision, err := r.MeetingRepository.Get(ctx, meetingUID)
		if err != nil {
			return nil, backoff.Permanent(err)
		}

		if expectedState == "" {
			expectedState, expectedVersion = current.State, current.StateVersion
		} else if current.State != expectedState || current.StateVersion != expectedVersion {
			return nil, backoff.Permanent(domain.NewConflictError(
				fmt.Sprintf("meeting moved to %s while transitioning to %s", current.State, to),
				domain.ErrStateConflict,
			))
		}

		if !slices.Contains(from, current.State) {
			return nil, backoff.Permanent(domain.NewConflictError(
				fmt.Sprintf("meeting is %s, cannot move to %s", current.State, to),
				domain.ErrStateConflict,
			))
		}
		if !models.CanTransition(current.State, to) {
			return nil, backoff.Permanent(domain.NewConflictError(
				fmt.Sprintf("%s -> %s is not allowed", current.State, to),
				domain.ErrInvalidTransition,
			))
		}

		now := r.now()
		next := *current
		next.State = to
		next.StateVersion = current.StateVersion + 1
		next.UpdatedAt = now
		if reason != "" {
			next.ErrorReason = reason
		}
		if mutate != nil {
			mutate(&next, now)
		}

		if err := r.MeetingRepository.Update(ctx, &next, revision); err != nil {
			if domain.GetErrorType(err) == domain.ErrorTypeConflict {
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}

		previous = current.State
		return &next, nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.Config.CASRetryBackoff
	if policy.InitialInterval <= 0 {
		policy.InitialInterval = 20 * time.Millisecond
	}

	meeting, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(r.Config.CASMaxRetries+1),
		backoff.WithNotify(func(err error, delay time.Duration) {
			slog.DebugContext(ctx, "retrying meeting transition", "to", to, "delay", delay, logging.ErrKey, err)
		}),
	)
	if err != nil {
		if domain.GetErrorType(err) == domain.ErrorTypeConflict && !isStateConflict(err) {
			err = domain.NewConflictError("meeting transition kept losing to concurrent writes", domain.ErrStateConflict, err)
		}
		slog.WarnContext(ctx, "meeting transition failed", "to", to, logging.ErrKey, err)
		return nil, err
	}

	slog.InfoContext(ctx, "meeting transitioned",
		"from", previous,
		"to", meeting.State,
		"state_version", meeting.StateVersion,
	)
	r.publishTransition(ctx, meeting, previous, reason)

	return meeting, nil
}

func isStateConflict(err error) bool {
	return errors.Is(err, domain.ErrStateConflict) || errors.Is(err, domain.ErrInvalidTransition)
}

// publishTransition announces a committed state change. Terminal states are
// also sent to the indexer. Publishing failures are logged and never undo the change.
func (r *MeetingRegistry) publishTransition(ctx context.Context, meeting *models.Meeting, from models.MeetingState, reason string) {
	event := models.MeetingLifecycleEvent{
		MeetingUID:      meeting.UID,
		Platform:        meeting.Platform,
		NativeMeetingID: meeting.NativeMeetingID,
		From:            from,
		To:              meeting.State,
		StateVersion:    meeting.StateVersion,
		Reason:          reason,
		OccurredAt:      meeting.UpdatedAt,
	}

	messages := []func() error{
		func() error {
			return r.MessageBuilder.SendMeetingLifecycleEvent(ctx, event)
		},
	}
	if meeting.State.IsTerminal() {
		snapshot := *meeting
		messages = append(messages, func() error {
			return r.MessageBuilder.SendIndexMeetingTranscript(ctx, models.ActionUpdated, snapshot)
		})
	}

	failures := concurrent.NewWorkerPool(len(messages)).RunAll(ctx, messages...)
	for _, err := range failures {
		slog.ErrorContext(ctx, "error publishing meeting transition", logging.ErrKey, err, "to", meeting.State)
	}
}
