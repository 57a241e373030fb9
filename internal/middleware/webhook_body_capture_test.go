// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package middleware

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestWebhookBodyCaptureMiddleware(t *testing.T) {
	const payload = `{"event_id":"evt-1","platform":"google_meet","native_meeting_id":"abc-defg-hij","meeting_id":555}`

	tests := []struct {
		name         string
		path         string
		body         io.Reader
		wantStatus   int
		wantCaptured bool
		wantBody     string
	}{
		{
			name:         "webhook body is captured and still readable",
			path:         WebhookPath,
			body:         strings.NewReader(payload),
			wantStatus:   http.StatusOK,
			wantCaptured: true,
			wantBody:     payload,
		},
		{
			name:         "empty webhook body",
			path:         WebhookPath,
			body:         strings.NewReader(""),
			wantStatus:   http.StatusOK,
			wantCaptured: true,
		},
		{
			name:       "other paths are not captured",
			path:       "/bots",
			body:       strings.NewReader(`{"platform":"zoom"}`),
			wantStatus: http.StatusOK,
			wantBody:   `{"platform":"zoom"}`,
		},
		{
			name:       "oversized webhook body",
			path:       WebhookPath,
			body:       strings.NewReader(strings.Repeat("x", maxWebhookBodyBytes+1)),
			wantStatus: http.StatusRequestEntityTooLarge,
		},
		{
			name:       "unreadable webhook body",
			path:       WebhookPath,
			body:       failingReader{},
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var (
				called   bool
				captured []byte
				hasBody  bool
				readBody string
			)
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				captured, hasBody = GetRawBodyFromContext(r.Context())
				data, err := io.ReadAll(r.Body)
				require.NoError(t, err)
				readBody = string(data)
				w.WriteHeader(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodPost, tt.path, tt.body)
			w := httptest.NewRecorder()
			WebhookBodyCaptureMiddleware()(next).ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus != http.StatusOK {
				assert.False(t, called)
				return
			}
			require.True(t, called)
			assert.Equal(t, tt.wantCaptured, hasBody)
			assert.Equal(t, tt.wantBody, readBody)
			if tt.wantCaptured {
				assert.Equal(t, tt.wantBody, string(captured))
			}
		})
	}
}

func TestGetRawBodyFromContext(t *testing.T) {
	_, ok := GetRawBodyFromContext(context.Background())
	assert.False(t, ok)

	ctx := context.WithValue(context.Background(), WebhookBodyContextKey{}, "not bytes")
	_, ok = GetRawBodyFromContext(ctx)
	assert.False(t, ok)

	ctx = context.WithValue(context.Background(), WebhookBodyContextKey{}, []byte("{}"))
	body, ok := GetRawBodyFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, []byte("{}"), body)
}
