// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/sony/gobreaker/v2"

	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/domain"
)

// errCallerGone marks a request abandoned because the caller's context ended.
var errCallerGone = errors.New("caller context ended")

// maxErrorBodyBytes caps how much of an error response is kept for the message.
const maxErrorBodyBytes = 512

// statusError maps a non-2xx upstream response to a domain error.
// Only 5xx and 429 are reported as unavailable; those are the failures the
// breaker counts.
func statusError(statusCode int, body []byte) error {
	msg := fmt.Sprintf("upstream returned status %d: %s", statusCode, parseErrorResponse(body))

	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return domain.NewUpstreamAuthError(msg, domain.ErrUpstreamAuth)
	case statusCode == http.StatusNotFound:
		return domain.NewNotFoundError(msg)
	case statusCode == http.StatusTooManyRequests || statusCode >= http.StatusInternalServerError:
		return domain.NewUnavailableError(msg, domain.ErrUpstreamUnavailable)
	default:
		return domain.NewValidationError(msg)
	}
}

// transportError maps a failed round trip to a domain error.
func transportError(err error) error {
	return domain.NewUnavailableError("upstream request failed", domain.ErrUpstreamUnavailable, err)
}

// callerGoneError maps a round trip cut short by the caller.
func callerGoneError(err error) error {
	return domain.NewUnavailableError("upstream request abandoned", domain.ErrUpstreamUnavailable, errCallerGone, err)
}

// breakerError maps a rejection by an open breaker to a domain error.
func breakerError(err error) error {
	return domain.NewUnavailableError("upstream circuit breaker is open", domain.ErrUpstreamUnavailable, err)
}

// countsAsFailure reports whether err should move the breaker toward OPEN.
// A caller giving up is not an upstream failure.
func countsAsFailure(err error) bool {
	if err == nil || errors.Is(err, errCallerGone) || errors.Is(err, context.Canceled) {
		return false
	}
	return domain.GetErrorType(err) == domain.ErrorTypeUnavailable
}

// isBreakerRejection reports whether err came from the breaker rather than the network.
func isBreakerRejection(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// parseErrorResponse extracts a readable message from an upstream error body.
func parseErrorResponse(body []byte) string {
	var errResp struct {
		Detail  any    `json:"detail"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &errResp); err == nil {
		if errResp.Message != "" {
			return errResp.Message
		}
		if detail, ok := errResp.Detail.(string); ok && detail != "" {
			return detail
		}
	}
	if len(body) > maxErrorBodyBytes {
		body = body[:maxErrorBodyBytes]
	}
	return string(body)
}
