// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/domain"
)

func TestSignatureValidator_ValidateSignature(t *testing.T) {
	secret := "test-secret"
	body := []byte(`{"event_id":"E1","platform":"google_meet","native_meeting_id":"abc-defg-hij","meeting_id":"U1"}`)

	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	valid := hex.EncodeToString(h.Sum(nil))

	tests := []struct {
		name        string
		secret      string
		body        []byte
		signature   string
		expectError bool
		errorType   domain.ErrorType
	}{
		{
			name:      "valid signature",
			secret:    secret,
			body:      body,
			signature: valid,
		},
		{
			name:      "valid signature with prefix",
			secret:    secret,
			body:      body,
			signature: "sha256=" + valid,
		},
		{
			name:        "body modified",
			secret:      secret,
			body:        append([]byte(" "), body...),
			signature:   valid,
			expectError: true,
			errorType:   domain.ErrorTypeSignatureInvalid,
		},
		{
			name:        "wrong secret",
			secret:      "other-secret",
			body:        body,
			signature:   valid,
			expectError: true,
			errorType:   domain.ErrorTypeSignatureInvalid,
		},
		{
			name:        "missing signature",
			secret:      secret,
			body:        body,
			signature:   "",
			expectError: true,
			errorType:   domain.ErrorTypeSignatureInvalid,
		},
		{
			name:        "not hex",
			secret:      secret,
			body:        body,
			signature:   "zz-not-hex",
			expectError: true,
			errorType:   domain.ErrorTypeSignatureInvalid,
		},
		{
			name:        "secret not configured",
			secret:      "",
			body:        body,
			signature:   valid,
			expectError: true,
			errorType:   domain.ErrorTypeInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			validator := NewSignatureValidator(tt.secret)
			err := validator.ValidateSignature(tt.body, tt.signature)

			if !tt.expectError {
				assert.NoError(t, err)
				return
			}
			assert.Error(t, err)
			assert.Equal(t, tt.errorType, domain.GetErrorType(err))
		})
	}
}

func TestSignatureValidator_Sign(t *testing.T) {
	validator := NewSignatureValidator("test-secret")
	body := []byte("payload")

	signature := validator.Sign(body)

	assert.Len(t, signature, 64)
	assert.NoError(t, validator.ValidateSignature(body, signature))
}
