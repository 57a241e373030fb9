// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

// Package main is the transcript service API. It sends transcription bots into
// meetings, finalizes transcripts when the upstream reports a meeting finished,
// and serves them to the tenants linked to each meeting.
package main

import (
	"context"
	"errors"
	_ "expvar"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/nats-io/nats.go"

	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/handlers"
	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/infrastructure/auth"
	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/infrastructure/messaging"
	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/infrastructure/store"
	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/infrastructure/upstream"
	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/infrastructure/webhook"
	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/logging"
	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/service"
	"github.com/linuxfoundation/lfx-v2-transcript-service/pkg/utils"
)

func main() {
	env, envErr := parseEnv()
	flags := parseFlags(env.Port)

	logging.InitStructureLogConfig()

	if envErr != nil {
		slog.With(logging.ErrKey, envErr).Error("invalid configuration")
		os.Exit(1)
	}

	otelShutdown, err := utils.SetupOTelSDK(context.Background())
	if err != nil {
		slog.With(logging.ErrKey, err).Error("error setting up OpenTelemetry SDK")
		os.Exit(1)
	}
	defer func() {
		if err := otelShutdown(context.Background()); err != nil {
			slog.With(logging.ErrKey, err).Error("error shutting down OpenTelemetry SDK")
		}
	}()

	// Set up JWT validator for bearer tenant credentials.
	jwtAuth, err := setupJWTAuth()
	if err != nil {
		slog.With(logging.ErrKey, err).Error("error setting up JWT authentication")
		os.Exit(1)
	}

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	gracefulCloseWG := sync.WaitGroup{}

	var (
		natsConn        *nats.Conn
		repos           *store.Repositories
		publisher       messaging.INatsConn = discardConn{}
		readinessChecks []func() error
	)
	if env.NATSURL == "" {
		slog.Warn("NATS_URL is not set, running with in-memory storage")
		repos = store.NewMemoryRepositories()
	} else {
		natsConn, err = setupNATS(ctx, env, &gracefulCloseWG, done)
		if err != nil {
			slog.With(logging.ErrKey, err).Error("error setting up NATS")
			return
		}
		repos, err = getKeyValueStores(ctx, natsConn)
		if err != nil {
			slog.With(logging.ErrKey, err).Error("error getting key-value stores")
			return
		}
		publisher = natsConn
		readinessChecks = append(readinessChecks, func() error {
			if !natsConn.IsConnected() {
				return errors.New("NATS is not connected")
			}
			return nil
		})
	}

	// Initialize services
	messageBuilder := messaging.NewMessageBuilder(publisher)
	upstreamClient := upstream.NewClient(env.Upstream)
	registry := service.NewMeetingRegistry(repos.Meeting, messageBuilder, env.Service)
	accessControl := service.NewAccessControl(repos.Link, registry)
	transcriptStore := service.NewTranscriptStore(repos.Segment)
	transcriptRouter := service.NewTranscriptRouter(accessControl, upstreamClient, transcriptStore)
	cleanupService := service.NewCleanupService(repos.CleanupTask, upstreamClient, env.Service)
	webhookProcessor := service.NewWebhookProcessor(
		webhook.NewSignatureValidator(env.WebhookSecret),
		registry,
		upstreamClient,
		transcriptStore,
		repos.WebhookEvent,
		cleanupService,
		env.Service,
	)
	cleanupService.Finalizer = webhookProcessor
	meetingService := service.NewMeetingService(registry, accessControl, upstreamClient, env.Service)
	authService := service.NewTenantAuthService(repos.APIToken, jwtAuth)

	seeded, err := authService.SeedStaticTokens(ctx, env.StaticAPITokens)
	if err != nil {
		slog.With(logging.ErrKey, err).Error("error seeding static API tokens")
		return
	}
	if seeded > 0 {
		slog.With("count", seeded).Info("seeded static API tokens")
	}

	// Initialize handlers
	meetingHandler := handlers.NewMeetingHandler(registry)

	svc := NewTranscriptAPI(
		meetingService,
		transcriptRouter,
		webhookProcessor,
		authService,
		meetingHandler,
		readinessChecks...,
	)

	httpServer := setupHTTPServer(flags, svc, &gracefulCloseWG)

	gracefulCloseWG.Add(1)
	go func() {
		defer gracefulCloseWG.Done()
		cleanupService.Run(ctx)
	}()

	// Create NATS subscriptions for the service.
	if natsConn != nil {
		err = createNatsSubcriptions(ctx, meetingHandler, natsConn)
		if err != nil {
			slog.With(logging.ErrKey, err).Error("error creating NATS subscriptions")
			return
		}
	}

	// This next line blocks until SIGINT or SIGTERM is received.
	<-done

	gracefulShutdown(httpServer, natsConn, &gracefulCloseWG, cancel)
}

// setupJWTAuth configures JWT authentication for bearer credentials
func setupJWTAuth() (*auth.JWTAuth, error) {
	jwtAuthConfig := auth.JWTAuthConfig{
		JWKSURL:            os.Getenv("JWKS_URL"),
		Audience:           os.Getenv("JWT_AUDIENCE"),
		MockLocalPrincipal: os.Getenv("JWT_AUTH_DISABLED_MOCK_LOCAL_PRINCIPAL"),
	}
	return auth.NewJWTAuth(jwtAuthConfig)
}
