// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package service

import (
	"time"

	"go.opentelemetry.io/otel"
)

const meterName = "github.com/linuxfoundation/lfx-v2-transcript-service/internal/service"

var meter = otel.Meter(meterName)

type Service interface {
	ServiceReady() bool
}

// ServiceConfig is the configuration for the Services.
type ServiceConfig struct {
	// IdentityCooldown is how long an ERROR meeting keeps its identity reserved.
	IdentityCooldown time.Duration
	// CASMaxRetries bounds the retries of a state transition that lost a storage-level race.
	CASMaxRetries uint
	// CASRetryBackoff is the initial delay between those retries.
	CASRetryBackoff time.Duration

	// FinalizeMaxAttempts bounds the final transcript pull attempts.
	FinalizeMaxAttempts uint
	// FinalizeMaxWindow caps the wall-clock time spent on the final pull.
	FinalizeMaxWindow time.Duration
	// FinalizeInitialBackoff is the first delay between final pull attempts.
	FinalizeInitialBackoff time.Duration

	// CleanupInterval is the period of the cleanup sweep and the base retry delay of a task.
	CleanupInterval time.Duration
	// CleanupMaxAttempts is the number of upstream deletes tried before a task is abandoned.
	CleanupMaxAttempts int
	// CleanupWorkers bounds the concurrent deletes of one sweep.
	CleanupWorkers int
}

// DefaultServiceConfig returns the configuration used when nothing is overridden.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		IdentityCooldown:       5 * time.Minute,
		CASMaxRetries:          3,
		CASRetryBackoff:        20 * time.Millisecond,
		FinalizeMaxAttempts:    3,
		FinalizeMaxWindow:      2 * time.Minute,
		FinalizeInitialBackoff: 500 * time.Millisecond,
		CleanupInterval:        30 * time.Second,
		CleanupMaxAttempts:     10,
		CleanupWorkers:         4,
	}
}

// clock returns the current time. Tests replace it to control cooldowns and schedules.
type clock func() time.Time

func utcNow() time.Time {
	return time.Now().UTC()
}
