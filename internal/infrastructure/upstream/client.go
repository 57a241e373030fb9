// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"

	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/domain"
	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/domain/models"
	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/logging"
	"github.com/linuxfoundation/lfx-v2-transcript-service/pkg/constants"
)

const (
	// BaseURL is the default upstream gateway
	BaseURL = "https://gateway.dev.vexa.ai"
	// DefaultCallTimeout bounds a single upstream attempt
	DefaultCallTimeout = 10 * time.Second
	// Default retry configuration for idempotent calls
	DefaultMaxRetries        = 2
	DefaultInitialBackoff    = 200 * time.Millisecond
	DefaultMaxBackoff        = 5 * time.Second
	DefaultBackoffMultiplier = 2.0
)

// Config holds the configuration for the upstream client
type Config struct {
	// APIKey is the single system credential for every upstream call
	APIKey string
	// Optional: override base URL
	BaseURL string
	// Optional: override the per-attempt timeout
	CallTimeout time.Duration
	// Optional: retry configuration for idempotent calls
	MaxRetries        int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	// Optional: breaker configuration
	Breaker BreakerConfig
	// Optional: base transport, wrapped with tracing and authentication
	Transport http.RoundTripper
}

// Client calls the upstream bot and transcription service.
type Client struct {
	httpClient *http.Client
	config     Config
	breaker    *gobreaker.CircuitBreaker[*http.Response]
}

var _ domain.UpstreamClient = (*Client)(nil)

// NewClient creates a new upstream client
func NewClient(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = BaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.CallTimeout == 0 {
		config.CallTimeout = DefaultCallTimeout
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.InitialBackoff == 0 {
		config.InitialBackoff = DefaultInitialBackoff
	}
	if config.MaxBackoff == 0 {
		config.MaxBackoff = DefaultMaxBackoff
	}
	if config.BackoffMultiplier == 0 {
		config.BackoffMultiplier = DefaultBackoffMultiplier
	}
	if config.Breaker.FailureThreshold == 0 {
		config.Breaker.FailureThreshold = DefaultBreakerFailureThreshold
	}
	if config.Breaker.Window == 0 {
		config.Breaker.Window = DefaultBreakerWindow
	}
	if config.Breaker.Cooldown == 0 {
		config.Breaker.Cooldown = DefaultBreakerCooldown
	}

	base := config.Transport
	if base == nil {
		base = http.DefaultTransport
	}

	return &Client{
		httpClient: &http.Client{
			Transport: &oauth2.Transport{
				Base:   otelhttp.NewTransport(base),
				Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: config.APIKey, TokenType: "Bearer"}),
			},
		},
		config:  config,
		breaker: newBreaker(config.Breaker),
	}
}

// BreakerState returns the current state of the circuit breaker.
func (c *Client) BreakerState() BreakerState {
	return toBreakerState(c.breaker.State())
}

type createBotRequest struct {
	Platform        models.Platform `json:"platform"`
	NativeMeetingID string          `json:"native_meeting_id"`
	BotName         string          `json:"bot_name,omitempty"`
	Language        string          `json:"language,omitempty"`
	Task            string          `json:"task,omitempty"`
}

type createBotResponse struct {
	ID        flexibleID `json:"id"`
	MeetingID flexibleID `json:"meeting_id"`
}

// flexibleID accepts an id sent either as a JSON number or a string.
type flexibleID string

func (f *flexibleID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexibleID(n.String())
	return nil
}

type transcriptResponse struct {
	Segments []models.TranscriptSegment `json:"segments"`
}

type botStatusResponse struct {
	RunningBots []models.UpstreamSession `json:"running_bots"`
}

// CreateSession asks the upstream to send a bot into the meeting.
// It is not retried: a retry after an ambiguous failure could start a second bot.
func (c *Client) CreateSession(ctx context.Context, platform models.Platform, nativeMeetingID string, params models.SessionParams) (string, error) {
	body := createBotRequest{
		Platform:        platform,
		NativeMeetingID: nativeMeetingID,
		BotName:         params.BotName,
		Language:        params.Language,
		Task:            params.Task,
	}

	var created createBotResponse
	if err := c.doRequest(ctx, http.MethodPost, "/bots", body, false, &created); err != nil {
		return "", err
	}

	id := string(created.ID)
	if id == "" {
		id = string(created.MeetingID)
	}
	if id == "" {
		return "", domain.NewUnavailableError("upstream create response carried no meeting id", domain.ErrUpstreamUnavailable)
	}
	return id, nil
}

// FetchTranscript returns the upstream transcript ordered by start time.
func (c *Client) FetchTranscript(ctx context.Context, platform models.Platform, nativeMeetingID string) ([]models.TranscriptSegment, error) {
	var transcript transcriptResponse
	if err := c.doRequest(ctx, http.MethodGet, meetingPath("/transcripts", platform, nativeMeetingID), nil, true, &transcript); err != nil {
		return nil, err
	}
	segments := transcript.Segments
	if segments == nil {
		segments = []models.TranscriptSegment{}
	}
	models.SortSegments(segments)
	return segments, nil
}

// DeleteSession stops the bot and releases the upstream session.
// A session the upstream no longer knows about counts as deleted.
func (c *Client) DeleteSession(ctx context.Context, platform models.Platform, nativeMeetingID string) error {
	err := c.doRequest(ctx, http.MethodDelete, meetingPath("/bots", platform, nativeMeetingID), nil, true, nil)
	if domain.GetErrorType(err) == domain.ErrorTypeNotFound {
		slog.DebugContext(ctx, "upstream session already gone",
			"platform", platform,
			"native_meeting_id", nativeMeetingID,
		)
		return nil
	}
	return err
}

// ListSessions returns the bots the upstream is currently running.
func (c *Client) ListSessions(ctx context.Context) ([]models.UpstreamSession, error) {
	var status botStatusResponse
	if err := c.doRequest(ctx, http.MethodGet, "/bots/status", nil, true, &status); err != nil {
		return nil, err
	}
	if status.RunningBots == nil {
		return []models.UpstreamSession{}, nil
	}
	return status.RunningBots, nil
}

func meetingPath(prefix string, platform models.Platform, nativeMeetingID string) string {
	return prefix + "/" + url.PathEscape(string(platform)) + "/" + url.PathEscape(nativeMeetingID)
}

// doRequest performs an upstream request through the breaker, retrying
// unavailable errors when the call is idempotent, and decodes a 2xx body into out.
func (c *Client) doRequest(ctx context.Context, method, path string, body any, idempotent bool, out any) error {
	jsonBody, err := c.marshalRequestBody(body)
	if err != nil {
		return err
	}

	maxRetries := 0
	if idempotent {
		maxRetries = c.config.MaxRetries
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		c.logRequestAttempt(ctx, method, path, attempt, maxRetries)

		startTime := time.Now()
		lastErr = c.attempt(ctx, method, path, jsonBody, out)
		duration := time.Since(startTime)

		if lastErr == nil {
			slog.DebugContext(ctx, "upstream request completed",
				"method", method,
				"path", path,
				"duration", duration.String(),
				"attempt", attempt+1,
			)
			return nil
		}

		if !shouldRetry(ctx, lastErr) {
			slog.WarnContext(ctx, "upstream request failed (not retryable)",
				"method", method,
				"path", path,
				"duration", duration.String(),
				"attempt", attempt+1,
				logging.ErrKey, lastErr,
			)
			return lastErr
		}

		if attempt < maxRetries {
			if err := c.handleRetryDelay(ctx, method, path, attempt, lastErr); err != nil {
				return lastErr
			}
		}
	}

	slog.ErrorContext(ctx, "upstream request failed after all retries",
		"method", method,
		"path", path,
		"attempts", maxRetries+1,
		logging.ErrKey, lastErr,
	)
	return lastErr
}

// attempt runs a single round trip under the breaker and the per-call timeout.
func (c *Client) attempt(ctx context.Context, method, path string, jsonBody []byte, out any) error {
	callCtx, cancel := context.WithTimeout(ctx, c.config.CallTimeout)
	defer cancel()

	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		req, err := c.createRequest(callCtx, method, c.config.BaseURL+path, jsonBody)
		if err != nil {
			return nil, err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, callerGoneError(ctx.Err())
			}
			return nil, transportError(err)
		}

		if resp.StatusCode >= http.StatusBadRequest {
			errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
			_ = resp.Body.Close()
			return nil, statusError(resp.StatusCode, errBody)
		}
		return resp, nil
	})
	if err != nil {
		if isBreakerRejection(err) {
			return breakerError(err)
		}
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return domain.NewUnavailableError("undecodable upstream response", domain.ErrUpstreamUnavailable, err)
	}
	return nil
}

// shouldRetry reports whether err is worth another attempt.
func shouldRetry(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if isBreakerRejection(err) {
		return false
	}
	return domain.GetErrorType(err) == domain.ErrorTypeUnavailable
}

// calculateBackoff calculates the backoff duration for a retry attempt with jitter
func (c *Client) calculateBackoff(attempt int) time.Duration {
	if attempt <= 0 {
		return c.config.InitialBackoff
	}

	backoff := float64(c.config.InitialBackoff) * math.Pow(c.config.BackoffMultiplier, float64(attempt))
	if time.Duration(backoff) > c.config.MaxBackoff {
		backoff = float64(c.config.MaxBackoff)
	}

	// ±25% jitter
	jitter := backoff * 0.25 * (rand.Float64()*2 - 1)
	backoffWithJitter := time.Duration(backoff + jitter)
	if backoffWithJitter < c.config.InitialBackoff {
		backoffWithJitter = c.config.InitialBackoff
	}

	return backoffWithJitter
}

// marshalRequestBody marshals the request body to JSON
func (c *Client) marshalRequestBody(body any) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, domain.NewInternalError("failed to marshal upstream request body", err)
	}
	return jsonBody, nil
}

// createRequest creates a new HTTP request with the given parameters
func (c *Client) createRequest(ctx context.Context, method, url string, jsonBody []byte) (*http.Request, error) {
	var bodyReader io.Reader
	if jsonBody != nil {
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, domain.NewInternalError(fmt.Sprintf("failed to create upstream request for %s", url), err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(constants.APIKeyHeader, c.config.APIKey)
	return req, nil
}

// logRequestAttempt logs the request attempt
func (c *Client) logRequestAttempt(ctx context.Context, method, path string, attempt, maxRetries int) {
	if attempt == 0 {
		slog.DebugContext(ctx, "making upstream request",
			"method", method,
			"path", path,
			"max_retries", maxRetries,
		)
	} else {
		slog.DebugContext(ctx, "retrying upstream request",
			"method", method,
			"path", path,
			"attempt", attempt,
			"max_retries", maxRetries,
		)
	}
}

// handleRetryDelay waits before the next attempt unless ctx ends first
func (c *Client) handleRetryDelay(ctx context.Context, method, path string, attempt int, err error) error {
	backoff := c.calculateBackoff(attempt)
	slog.WarnContext(ctx, "upstream request failed, retrying",
		"method", method,
		"path", path,
		"attempt", attempt+1,
		"backoff", backoff.String(),
		logging.ErrKey, err)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(backoff):
		return nil
	}
}
