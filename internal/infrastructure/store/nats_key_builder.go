// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package store

import (
	"crypto/sha256"
	"strings"

	"github.com/akamensky/base58"
	"github.com/nats-io/nats.go"
)

// Common key prefixes
const (
	KeyPrefixMeeting  = "meeting"
	KeyPrefixIdentity = "identity"
	KeyPrefixLink     = "link"
	KeyPrefixSegment  = "segment"
	KeyPrefixEvent    = "event"
	KeyPrefixToken    = "token"
	KeyPrefixCleanup  = "cleanup"

	// keySeparator is the NATS subject token separator, so that keys can be
	// listed with wildcard filters.
	keySeparator = "."
)

// KeyBuilder provides utilities for building consistent NATS KV keys.
// Keys are dot-separated tokens; values that may contain characters NATS
// rejects in keys are base58 encoded first.
type KeyBuilder struct{}

// NewKeyBuilder creates a new key builder
func NewKeyBuilder() *KeyBuilder {
	return &KeyBuilder{}
}

// Key joins already-safe tokens into a key (e.g. "meeting.<uid>").
func (kb *KeyBuilder) Key(parts ...string) string {
	return strings.Join(parts, keySeparator)
}

// Filter builds a wildcard filter matching every key under the given tokens.
func (kb *KeyBuilder) Filter(parts ...string) string {
	return kb.Key(append(parts, "*")...)
}

// EncodePart makes an arbitrary value safe to use as a single key token.
func (kb *KeyBuilder) EncodePart(value string) string {
	return base58.Encode([]byte(value))
}

// DecodePart reverses [KeyBuilder.EncodePart].
func (kb *KeyBuilder) DecodePart(token string) (string, error) {
	if token == "" {
		return "", nats.ErrInvalidKey
	}
	raw, err := base58.Decode(token)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// DigestPart hashes a value into a fixed-length key token. Used for values
// that can be long or whose original form never needs to be recovered.
func (kb *KeyBuilder) DigestPart(value string) string {
	sum := sha256.Sum256([]byte(value))
	return base58.Encode(sum[:])
}

// LastPart returns the final token of a key.
func (kb *KeyBuilder) LastPart(key string) string {
	if i := strings.LastIndex(key, keySeparator); i >= 0 {
		return key[i+1:]
	}
	return key
}

// EncodeKey validates that every token of a key is non-empty.
func (kb *KeyBuilder) EncodeKey(parts ...string) (string, error) {
	for _, part := range parts {
		if part == "" || strings.ContainsAny(part, " .*>") {
			return "", nats.ErrInvalidKey
		}
	}
	return kb.Key(parts...), nil
}
