// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package upstream

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/logging"
)

const meterName = "github.com/linuxfoundation/lfx-v2-transcript-service/internal/infrastructure/upstream"

// BreakerConfig holds the circuit breaker settings.
type BreakerConfig struct {
	// FailureThreshold consecutive failures open the breaker.
	FailureThreshold uint32
	// Window is the closed-state period after which failure counts reset.
	Window time.Duration
	// Cooldown is how long the breaker stays open before a half-open trial request.
	Cooldown time.Duration
}

// Default breaker configuration
const (
	DefaultBreakerFailureThreshold = 5
	DefaultBreakerWindow           = 60 * time.Second
	DefaultBreakerCooldown         = 30 * time.Second
)

// BreakerState is the observable state of the upstream breaker.
type BreakerState string

// Breaker states.
const (
	BreakerClosed   BreakerState = "closed"
	BreakerHalfOpen BreakerState = "half_open"
	BreakerOpen     BreakerState = "open"
)

func toBreakerState(s gobreaker.State) BreakerState {
	switch s {
	case gobreaker.StateOpen:
		return BreakerOpen
	case gobreaker.StateHalfOpen:
		return BreakerHalfOpen
	default:
		return BreakerClosed
	}
}

// newBreaker builds the breaker that guards every upstream attempt.
// Half-open admits a single trial request.
func newBreaker(config BreakerConfig) *gobreaker.CircuitBreaker[*http.Response] {
	transitions, err := otel.Meter(meterName).Int64Counter(
		"transcript.upstream.breaker.transitions",
		metric.WithDescription("Upstream circuit breaker state changes"),
	)
	if err != nil {
		slog.Warn("unable to create breaker transition counter", logging.ErrKey, err)
	}

	threshold := config.FailureThreshold
	return gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        "upstream",
		MaxRequests: 1,
		Interval:    config.Window,
		Timeout:     config.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return !countsAsFailure(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			level := slog.LevelInfo
			if to == gobreaker.StateOpen {
				level = slog.LevelWarn
			}
			slog.Log(context.Background(), level, "upstream circuit breaker state changed",
				"breaker", name,
				"from", toBreakerState(from),
				"to", toBreakerState(to),
			)
			if transitions != nil {
				transitions.Add(context.Background(), 1, metric.WithAttributes(
					attribute.String("from", string(toBreakerState(from))),
					attribute.String("to", string(toBreakerState(to))),
				))
			}
		},
	})
}
