// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/domain"
	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/domain/models"
	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/logging"
	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/middleware"
	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/service"
	"github.com/linuxfoundation/lfx-v2-transcript-service/pkg/constants"
)

// retryAfterSeconds is advertised on every 503.
const retryAfterSeconds = 5

// TranscriptAPI implements the tenant HTTP API and the webhook endpoint.
type TranscriptAPI struct {
	meetingService  *service.MeetingService
	router          *service.TranscriptRouter
	webhooks        *service.WebhookProcessor
	authService     *service.TenantAuthService
	meetingHandler  domain.MessageHandler
	readinessChecks []func() error
}

// NewTranscriptAPI creates a new TranscriptAPI.
func NewTranscriptAPI(
	meetingService *service.MeetingService,
	router *service.TranscriptRouter,
	webhooks *service.WebhookProcessor,
	authService *service.TenantAuthService,
	meetingHandler domain.MessageHandler,
	readinessChecks ...func() error,
) *TranscriptAPI {
	return &TranscriptAPI{
		meetingService:  meetingService,
		router:          router,
		webhooks:        webhooks,
		authService:     authService,
		meetingHandler:  meetingHandler,
		readinessChecks: readinessChecks,
	}
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type webhookResponse struct {
	Outcome models.WebhookOutcome `json:"outcome"`
}

type meetingsResponse struct {
	Meetings []*models.Meeting `json:"meetings"`
}

type runningBotsResponse struct {
	RunningBots []models.UpstreamSession `json:"running_bots"`
}

// statusForError maps a domain error to its HTTP status.
func statusForError(err error) int {
	switch domain.GetErrorType(err) {
	case domain.ErrorTypeValidation:
		return http.StatusBadRequest
	case domain.ErrorTypeUnauthenticated, domain.ErrorTypeSignatureInvalid:
		return http.StatusUnauthorized
	case domain.ErrorTypeAccessDenied:
		return http.StatusForbidden
	case domain.ErrorTypeNotFound:
		return http.StatusNotFound
	case domain.ErrorTypeConflict:
		return http.StatusConflict
	case domain.ErrorTypeUpstreamAuth:
		return http.StatusBadGateway
	case domain.ErrorTypeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// messageForError returns the client-facing message. Internal failures are not described.
func messageForError(err error) string {
	var domainErr *domain.DomainError
	if domain.GetErrorType(err) == domain.ErrorTypeInternal || !errors.As(err, &domainErr) {
		return "internal error"
	}
	return domainErr.Message
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.ErrorContext(ctx, "error encoding response", logging.ErrKey, err)
	}
}

func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(ctx, "request failed", logging.ErrKey, err, "status", status)
	} else {
		slog.DebugContext(ctx, "request rejected", logging.ErrKey, err, "status", status)
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set(constants.RetryAfterHeader, strconv.Itoa(retryAfterSeconds))
	}
	writeJSON(ctx, w, status, errorResponse{
		Code:    domain.GetErrorType(err).String(),
		Message: messageForError(err),
	})
}

// userID returns the tenant set by the auth middleware.
func userID(r *http.Request) (string, error) {
	id, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		return "", domain.NewUnauthenticatedError("authentication required", domain.ErrUnauthenticated)
	}
	return id, nil
}

func identityFromPath(r *http.Request) models.MeetingIdentity {
	return models.MeetingIdentity{
		Platform:        models.Platform(chi.URLParam(r, "platform")),
		NativeMeetingID: chi.URLParam(r, "nativeMeetingID"),
	}
}

// Livez always answers once the process serves HTTP.
func (s *TranscriptAPI) Livez(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "OK\n")
}

// Readyz checks the services and the NATS connection.
func (s *TranscriptAPI) Readyz(w http.ResponseWriter, r *http.Request) {
	ready := s.meetingService.ServiceReady() &&
		s.router.ServiceReady() &&
		s.webhooks.ServiceReady() &&
		s.authService.ServiceReady() &&
		s.meetingHandler.HandlerReady()
	if !ready {
		writeError(r.Context(), w, domain.NewUnavailableError("service not ready"))
		return
	}
	for _, check := range s.readinessChecks {
		if err := check(); err != nil {
			writeError(r.Context(), w, domain.NewUnavailableError("dependency not ready", err))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "OK\n")
}

// CreateBot starts a bot for the caller, or links them to the meeting's active bot.
func (s *TranscriptAPI) CreateBot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, err := userID(r)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	var req models.CreateMeetingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(ctx, w, domain.NewValidationError("invalid request body", domain.ErrUnmarshal, err))
		return
	}

	meeting, created, err := s.meetingService.CreateMeeting(ctx, user, req)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(ctx, w, status, meeting)
}

// RunningBots lists the upstream sessions of the caller's live meetings.
func (s *TranscriptAPI) RunningBots(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, err := userID(r)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	sessions, err := s.meetingService.RunningBots(ctx, user)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, runningBotsResponse{RunningBots: sessions})
}

// DeleteBot stops a live bot, or forgets an ended meeting for the caller.
func (s *TranscriptAPI) DeleteBot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, err := userID(r)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	outcome, err := s.meetingService.DeleteMeeting(ctx, user, identityFromPath(r))
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	if outcome == service.DeleteOutcomeStopRequested {
		writeJSON(ctx, w, http.StatusAccepted, map[string]string{"outcome": string(outcome)})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListMeetings lists the caller's meetings, newest first.
func (s *TranscriptAPI) ListMeetings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, err := userID(r)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	meetings, err := s.meetingService.ListMeetings(ctx, user)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, meetingsResponse{Meetings: meetings})
}

// GetTranscript returns the transcript from the source the meeting state selects.
func (s *TranscriptAPI) GetTranscript(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, err := userID(r)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	view, err := s.router.GetTranscript(ctx, user, identityFromPath(r))
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, view)
}

// MeetingFinishedWebhook handles the upstream's meeting-finished notification.
func (s *TranscriptAPI) MeetingFinishedWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, ok := middleware.GetRawBodyFromContext(ctx)
	if !ok {
		writeError(ctx, w, domain.NewValidationError("missing request body"))
		return
	}

	outcome, err := s.webhooks.Process(ctx, body, r.Header.Get(constants.WebhookSignatureHeader))
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, webhookResponse{Outcome: outcome})
}
