// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package main

import (
	"errors"
	"flag"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/infrastructure/upstream"
	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/logging"
	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/service"
	"github.com/linuxfoundation/lfx-v2-transcript-service/pkg/utils"
)

// flags are the command line flags for the transcript service.
type flags struct {
	Debug bool
	Port  string
	Bind  string
}

// environment are the environment variables for the transcript service.
type environment struct {
	Port string

	NATSURL           string
	NATSTimeout       time.Duration
	NATSMaxReconnect  int
	NATSReconnectWait time.Duration

	Upstream      upstream.Config
	Service       service.ServiceConfig
	WebhookSecret string

	StaticAPITokens string
}

// parseFlags parses command line flags for the transcript service
func parseFlags(defaultPort string) flags {
	var debug = flag.Bool("d", false, "enable debug logging")
	var port = flag.String("p", defaultPort, "listen port")
	var bind = flag.String("bind", "*", "interface to bind on")

	flag.Usage = func() {
		flag.PrintDefaults()
		os.Exit(2)
	}
	flag.Parse()

	// Based on the debug flag, set the log level environment variable used by [logging.InitStructureLogConfig]
	if *debug {
		err := os.Setenv("LOG_LEVEL", "debug")
		if err != nil {
			slog.With(logging.ErrKey, err).Error("error setting log level")
			os.Exit(1)
		}
	}

	return flags{
		Debug: *debug,
		Port:  *port,
		Bind:  *bind,
	}
}

// parseEnv parses environment variables for the transcript service
func parseEnv() (environment, error) {
	defaults := service.DefaultServiceConfig()

	env := environment{
		Port: utils.CoalesceString(os.Getenv("PORT"), "8080"),

		NATSURL:           os.Getenv("NATS_URL"),
		NATSTimeout:       envDuration("NATS_TIMEOUT", 10*time.Second),
		NATSMaxReconnect:  envInt("NATS_MAX_RECONNECT", 3),
		NATSReconnectWait: envDuration("NATS_RECONNECT_WAIT", 2*time.Second),

		Upstream: upstream.Config{
			APIKey:      os.Getenv("UPSTREAM_API_KEY"),
			BaseURL:     utils.CoalesceString(os.Getenv("UPSTREAM_API_URL"), upstream.BaseURL),
			CallTimeout: envDuration("UPSTREAM_CALL_TIMEOUT", upstream.DefaultCallTimeout),
			MaxRetries:  envInt("UPSTREAM_MAX_RETRIES", upstream.DefaultMaxRetries),
			Breaker: upstream.BreakerConfig{
				FailureThreshold: uint32(envInt("BREAKER_FAILURE_THRESHOLD", upstream.DefaultBreakerFailureThreshold)),
				Window:           envDuration("BREAKER_WINDOW", upstream.DefaultBreakerWindow),
				Cooldown:         envDuration("BREAKER_COOLDOWN", upstream.DefaultBreakerCooldown),
			},
		},

		Service: service.ServiceConfig{
			IdentityCooldown:       envDuration("IDENTITY_COOLDOWN", defaults.IdentityCooldown),
			CASMaxRetries:          uint(envInt("CAS_MAX_RETRIES", int(defaults.CASMaxRetries))),
			CASRetryBackoff:        defaults.CASRetryBackoff,
			FinalizeMaxAttempts:    uint(envInt("FINALIZE_MAX_ATTEMPTS", int(defaults.FinalizeMaxAttempts))),
			FinalizeMaxWindow:      envDuration("FINALIZE_MAX_WINDOW", defaults.FinalizeMaxWindow),
			FinalizeInitialBackoff: defaults.FinalizeInitialBackoff,
			CleanupInterval:        envDuration("CLEANUP_INTERVAL", defaults.CleanupInterval),
			CleanupMaxAttempts:     envInt("CLEANUP_MAX_ATTEMPTS", defaults.CleanupMaxAttempts),
			CleanupWorkers:         envInt("CLEANUP_WORKERS", defaults.CleanupWorkers),
		},

		WebhookSecret:   os.Getenv("WEBHOOK_SECRET"),
		StaticAPITokens: os.Getenv("STATIC_API_TOKENS"),
	}

	return env, env.validate()
}

func (e environment) validate() error {
	var errs []error
	if e.Upstream.APIKey == "" {
		errs = append(errs, errors.New("UPSTREAM_API_KEY environment variable is required but not set"))
	}
	if e.WebhookSecret == "" {
		errs = append(errs, errors.New("WEBHOOK_SECRET environment variable is required but not set"))
	}
	if _, err := url.ParseRequestURI(e.Upstream.BaseURL); err != nil {
		errs = append(errs, errors.New("UPSTREAM_API_URL is not a valid URL"))
	}
	if e.Service.FinalizeMaxAttempts == 0 {
		errs = append(errs, errors.New("FINALIZE_MAX_ATTEMPTS must be positive"))
	}
	return errors.Join(errs...)
}

// envDuration reads a Go duration, falling back to def when unset or invalid.
func envDuration(key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		slog.With("key", key, "value", raw).Warn("invalid duration, using default", "default", def.String())
		return def
	}
	return d
}

// envInt reads a non-negative integer, falling back to def when unset or invalid.
func envInt(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		slog.With("key", key, "value", raw).Warn("invalid integer, using default", "default", def)
		return def
	}
	return n
}
