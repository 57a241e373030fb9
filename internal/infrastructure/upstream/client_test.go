// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/domain"
	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/domain/models"
)

func newTestClient(serverURL string, mutate func(*Config)) *Client {
	config := Config{
		APIKey:         "system-key",
		BaseURL:        serverURL,
		CallTimeout:    time.Second,
		MaxRetries:     0,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Breaker: BreakerConfig{
			FailureThreshold: 100,
			Window:           time.Minute,
			Cooldown:         time.Minute,
		},
	}
	if mutate != nil {
		mutate(&config)
	}
	return NewClient(config)
}

func TestNewClient_Defaults(t *testing.T) {
	client := NewClient(Config{APIKey: "k"})

	assert.Equal(t, BaseURL, client.config.BaseURL)
	assert.Equal(t, DefaultCallTimeout, client.config.CallTimeout)
	assert.Equal(t, uint32(DefaultBreakerFailureThreshold), client.config.Breaker.FailureThreshold)
	assert.Equal(t, DefaultBreakerCooldown, client.config.Breaker.Cooldown)
	assert.Equal(t, BreakerClosed, client.BreakerState())

	trimmed := NewClient(Config{APIKey: "k", BaseURL: "http://upstream.local/"})
	assert.Equal(t, "http://upstream.local", trimmed.config.BaseURL)
}

func TestClient_CreateSession(t *testing.T) {
	var received createBotRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/bots", r.URL.Path)
		assert.Equal(t, "Bearer system-key", r.Header.Get("Authorization"))
		assert.Equal(t, "system-key", r.Header.Get("X-API-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id": 555, "status": "requested"}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, nil)
	id, err := client.CreateSession(context.Background(), models.PlatformGoogleMeet, "abc-defg-hij", models.SessionParams{BotName: "Notes", Language: "en"})

	require.NoError(t, err)
	assert.Equal(t, "555", id)
	assert.Equal(t, models.PlatformGoogleMeet, received.Platform)
	assert.Equal(t, "abc-defg-hij", received.NativeMeetingID)
	assert.Equal(t, "Notes", received.BotName)
	assert.Equal(t, "en", received.Language)
}

func TestClient_CreateSession_StringID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id": "u-42"}`))
	}))
	defer server.Close()

	id, err := newTestClient(server.URL, nil).CreateSession(context.Background(), models.PlatformZoom, "871", models.SessionParams{})

	require.NoError(t, err)
	assert.Equal(t, "u-42", id)
}

func TestClient_CreateSession_NotRetried(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := newTestClient(server.URL, func(c *Config) { c.MaxRetries = 3 })
	_, err := client.CreateSession(context.Background(), models.PlatformGoogleMeet, "abc-defg-hij", models.SessionParams{})

	assert.Equal(t, domain.ErrorTypeUnavailable, domain.GetErrorType(err))
	assert.Equal(t, int32(1), hits.Load())
}

func TestClient_FetchTranscript_RetriesThenSucceeds(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transcripts/google_meet/abc-defg-hij", r.URL.Path)
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"segments": [
			{"start_time": 4.0, "end_time": 5.0, "text": "later", "speaker": "B"},
			{"start_time": 1.0, "end_time": 2.0, "text": "first", "speaker": "A", "language": "en"}
		]}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, func(c *Config) { c.MaxRetries = 2 })
	segments, err := client.FetchTranscript(context.Background(), models.PlatformGoogleMeet, "abc-defg-hij")

	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
	require.Len(t, segments, 2)
	assert.Equal(t, "first", segments[0].Text)
	assert.Equal(t, "en", segments[0].Language)
	assert.Equal(t, "later", segments[1].Text)
}

func TestClient_StatusMapping(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		body         string
		expectedType domain.ErrorType
	}{
		{"unauthorized", http.StatusUnauthorized, `{"detail":"bad key"}`, domain.ErrorTypeUpstreamAuth},
		{"forbidden", http.StatusForbidden, ``, domain.ErrorTypeUpstreamAuth},
		{"not found", http.StatusNotFound, `{"detail":"no meeting"}`, domain.ErrorTypeNotFound},
		{"unprocessable", http.StatusUnprocessableEntity, `{"detail":[{"loc":["body"]}]}`, domain.ErrorTypeValidation},
		{"rate limited", http.StatusTooManyRequests, ``, domain.ErrorTypeUnavailable},
		{"server error", http.StatusInternalServerError, `oops`, domain.ErrorTypeUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := newTestClient(server.URL, nil).FetchTranscript(context.Background(), models.PlatformZoom, "871")

			assert.Equal(t, tt.expectedType, domain.GetErrorType(err))
		})
	}
}

func TestClient_DeleteSession(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		expectError bool
	}{
		{"accepted", http.StatusAccepted, false},
		{"already gone", http.StatusNotFound, false},
		{"server error", http.StatusInternalServerError, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodDelete, r.Method)
				assert.Equal(t, "/bots/zoom/871", r.URL.Path)
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			err := newTestClient(server.URL, nil).DeleteSession(context.Background(), models.PlatformZoom, "871")

			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestClient_ListSessions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bots/status", r.URL.Path)
		_, _ = w.Write([]byte(`{"running_bots": [{"meeting_id": "555", "platform": "google_meet", "native_meeting_id": "abc-defg-hij", "status": "Up 3 minutes"}]}`))
	}))
	defer server.Close()

	sessions, err := newTestClient(server.URL, nil).ListSessions(context.Background())

	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "555", sessions[0].UpstreamMeetingID)
	assert.Equal(t, models.PlatformGoogleMeet, sessions[0].Platform)
}

func TestClient_BreakerOpensAndRecovers(t *testing.T) {
	var hits atomic.Int32
	var healthy atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if !healthy.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"segments": []}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, func(c *Config) {
		c.Breaker = BreakerConfig{FailureThreshold: 2, Window: time.Minute, Cooldown: 50 * time.Millisecond}
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := client.FetchTranscript(ctx, models.PlatformZoom, "871")
		assert.Equal(t, domain.ErrorTypeUnavailable, domain.GetErrorType(err))
	}
	assert.Equal(t, BreakerOpen, client.BreakerState())

	_, err := client.FetchTranscript(ctx, models.PlatformZoom, "871")
	assert.Equal(t, domain.ErrorTypeUnavailable, domain.GetErrorType(err))
	assert.Equal(t, int32(2), hits.Load(), "open breaker must not reach the network")

	healthy.Store(true)
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, BreakerHalfOpen, client.BreakerState())

	_, err = client.FetchTranscript(ctx, models.PlatformZoom, "871")
	require.NoError(t, err)
	assert.Equal(t, BreakerClosed, client.BreakerState())
}

func TestClient_BreakerIgnoresClientErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := newTestClient(server.URL, func(c *Config) {
		c.Breaker = BreakerConfig{FailureThreshold: 1, Window: time.Minute, Cooldown: time.Minute}
	})

	for i := 0; i < 3; i++ {
		_, err := client.FetchTranscript(context.Background(), models.PlatformZoom, "871")
		assert.Equal(t, domain.ErrorTypeUpstreamAuth, domain.GetErrorType(err))
	}
	assert.Equal(t, BreakerClosed, client.BreakerState())
}

func TestClient_CallTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer server.Close()

	client := newTestClient(server.URL, func(c *Config) {
		c.CallTimeout = 20 * time.Millisecond
		c.Breaker = BreakerConfig{FailureThreshold: 1, Window: time.Minute, Cooldown: time.Minute}
	})

	_, err := client.FetchTranscript(context.Background(), models.PlatformZoom, "871")

	assert.Equal(t, domain.ErrorTypeUnavailable, domain.GetErrorType(err))
	assert.Equal(t, BreakerOpen, client.BreakerState(), "timeouts count as failures")
}

func TestClient_CallerCancellationDoesNotTrip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	client := newTestClient(server.URL, func(c *Config) {
		c.Breaker = BreakerConfig{FailureThreshold: 1, Window: time.Minute, Cooldown: time.Minute}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := client.FetchTranscript(ctx, models.PlatformZoom, "871")

	assert.Error(t, err)
	assert.Equal(t, BreakerClosed, client.BreakerState())
}

func TestClient_calculateBackoff(t *testing.T) {
	client := NewClient(Config{
		APIKey:            "k",
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        time.Second,
		BackoffMultiplier: 2,
	})

	assert.Equal(t, 100*time.Millisecond, client.calculateBackoff(0))
	for attempt := 1; attempt < 10; attempt++ {
		backoff := client.calculateBackoff(attempt)
		assert.GreaterOrEqual(t, backoff, 100*time.Millisecond)
		assert.LessOrEqual(t, backoff, 1250*time.Millisecond)
	}
}
