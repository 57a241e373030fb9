// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package main

import (
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/logging"
	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/middleware"
)

// newRouter mounts the API routes behind the service middleware.
func newRouter(svc *TranscriptAPI) http.Handler {
	r := chi.NewRouter()

	// Note: Order matters - RequestIDMiddleware runs first so every later
	// middleware logs with the request id.
	r.Use(middleware.RequestIDMiddleware())
	r.Use(middleware.RequestLoggerMiddleware())
	r.Use(middleware.TenantAuthMiddleware(svc.authService))
	r.Use(middleware.WebhookBodyCaptureMiddleware())

	r.Get("/livez", svc.Livez)
	r.Get("/readyz", svc.Readyz)

	r.Post("/bots", svc.CreateBot)
	r.Get("/bots/status", svc.RunningBots)
	r.Delete("/bots/{platform}/{nativeMeetingID}", svc.DeleteBot)
	r.Get("/meetings", svc.ListMeetings)
	r.Get("/transcripts/{platform}/{nativeMeetingID}", svc.GetTranscript)
	r.Post(middleware.WebhookPath, svc.MeetingFinishedWebhook)

	return otelhttp.NewHandler(r, "transcript-api")
}

// setupHTTPServer configures and starts the HTTP server
func setupHTTPServer(flags flags, svc *TranscriptAPI, gracefulCloseWG *sync.WaitGroup) *http.Server {
	var addr string
	if flags.Bind == "*" {
		addr = ":" + flags.Port
	} else {
		addr = flags.Bind + ":" + flags.Port
	}
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           newRouter(svc),
		ReadHeaderTimeout: 3 * time.Second,
	}
	gracefulCloseWG.Add(1)
	go func() {
		slog.With("addr", addr).Debug("starting http server, listening on port " + flags.Port)
		err := httpServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			slog.With(logging.ErrKey, err).Error("http listener error")
			os.Exit(1)
		}
		// Because ErrServerClosed is *immediately* returned when Shutdown is
		// called, not when when Shutdown completes, this must not yet decrement
		// the wait group.
	}()

	return httpServer
}
