// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/domain"
)

const signaturePrefix = "sha256="

// SignatureValidator checks the HMAC-SHA256 signature of meeting-finished
// notifications. The signature is computed over the raw request body with the
// shared webhook secret and sent hex encoded, optionally prefixed "sha256=".
type SignatureValidator struct {
	secret []byte
}

// NewSignatureValidator creates a validator for the shared secret.
func NewSignatureValidator(secret string) *SignatureValidator {
	return &SignatureValidator{
		secret: []byte(secret),
	}
}

// Sign returns the hex signature of body.
func (v *SignatureValidator) Sign(body []byte) string {
	h := hmac.New(sha256.New, v.secret)
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// ValidateSignature verifies signature against body in constant time.
func (v *SignatureValidator) ValidateSignature(body []byte, signature string) error {
	if len(v.secret) == 0 {
		return domain.NewInternalError("webhook secret not configured")
	}

	signature = strings.TrimSpace(signature)
	if signature == "" {
		return domain.NewSignatureInvalidError("missing webhook signature", domain.ErrWebhookSignatureInvalid)
	}
	signature = strings.TrimPrefix(strings.ToLower(signature), signaturePrefix)

	provided, err := hex.DecodeString(signature)
	if err != nil {
		return domain.NewSignatureInvalidError("webhook signature is not hex encoded", domain.ErrWebhookSignatureInvalid)
	}

	h := hmac.New(sha256.New, v.secret)
	h.Write(body)
	if !hmac.Equal(provided, h.Sum(nil)) {
		return domain.NewSignatureInvalidError("webhook signature does not match", domain.ErrWebhookSignatureInvalid)
	}

	return nil
}
