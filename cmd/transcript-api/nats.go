// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/domain"
	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/domain/models"
	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/infrastructure/messaging"
	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/infrastructure/store"
	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/logging"
)

const (
	// gracefulShutdownSeconds should be higher than NATS client
	// request timeout, and lower than the pod or liveness check's
	// terminationGracePeriodSeconds.
	gracefulShutdownSeconds = 25

	// segmentBucketHistory keeps only the latest value; segments are write-once.
	segmentBucketHistory = 1
	// meetingBucketHistory keeps a few revisions of each meeting for debugging CAS races.
	meetingBucketHistory = 5
)

// setupNATS connects to NATS and arranges for done to be signalled when the
// connection is closed for good.
func setupNATS(ctx context.Context, env environment, gracefulCloseWG *sync.WaitGroup, done chan os.Signal) (*nats.Conn, error) {
	slog.With("nats_url", env.NATSURL).InfoContext(ctx, "attempting to connect to NATS")

	natsConn, err := nats.Connect(
		env.NATSURL,
		nats.Name("lfx-v2-transcript-service"),
		nats.Timeout(env.NATSTimeout),
		nats.MaxReconnects(env.NATSMaxReconnect),
		nats.ReconnectWait(env.NATSReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.With(logging.ErrKey, err).Warn("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			slog.With("nats_url", conn.ConnectedUrl()).Info("NATS reconnected")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			attrs := []any{logging.ErrKey, err}
			if sub != nil {
				attrs = append(attrs, "subject", sub.Subject, "queue", sub.Queue)
			}
			slog.With(attrs...).Error("async NATS error")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if ctx.Err() != nil {
				// Expected during graceful shutdown.
				gracefulCloseWG.Done()
				return
			}
			slog.Error("permanently lost NATS connection", logging.PriorityCritical())
			done <- os.Interrupt
			gracefulCloseWG.Done()
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("error creating NATS client: %w", err)
	}
	gracefulCloseWG.Add(1)

	slog.With("nats_url", natsConn.ConnectedUrl()).InfoContext(ctx, "NATS connection established")
	return natsConn, nil
}

// getKeyValueStores opens every service bucket, creating the ones that do not exist yet.
func getKeyValueStores(ctx context.Context, natsConn *nats.Conn) (*store.Repositories, error) {
	js, err := jetstream.New(natsConn)
	if err != nil {
		return nil, fmt.Errorf("error creating JetStream context: %w", err)
	}

	buckets := make(map[string]store.INatsKeyValue, len(store.BucketNames))
	for _, name := range store.BucketNames {
		kv, err := js.KeyValue(ctx, name)
		if errors.Is(err, jetstream.ErrBucketNotFound) {
			slog.With("bucket", name).InfoContext(ctx, "creating NATS KV bucket")
			kv, err = js.CreateKeyValue(ctx, bucketConfig(name))
		}
		if err != nil {
			return nil, fmt.Errorf("error opening NATS KV bucket %s: %w", name, err)
		}
		buckets[name] = kv
	}

	return store.NewRepositories(buckets), nil
}

func bucketConfig(name string) jetstream.KeyValueConfig {
	config := jetstream.KeyValueConfig{
		Bucket:  name,
		History: 1,
		Storage: jetstream.FileStorage,
	}
	switch name {
	case store.KVStoreNameMeetings:
		config.History = meetingBucketHistory
	case store.KVStoreNameSegments:
		config.History = segmentBucketHistory
	}
	return config
}

// createNatsSubcriptions subscribes the ops handler to its subjects in the service queue group.
func createNatsSubcriptions(ctx context.Context, handler domain.MessageHandler, natsConn *nats.Conn) error {
	subjects := []string{
		models.MeetingAbortSubject,
		models.MeetingGetStateSubject,
	}

	for _, subject := range subjects {
		_, err := natsConn.QueueSubscribe(subject, models.TranscriptServiceQueue, func(msg *nats.Msg) {
			handler.HandleMessage(ctx, messaging.NewNatsMessage(msg))
		})
		if err != nil {
			return fmt.Errorf("error subscribing to %s: %w", subject, err)
		}
		slog.With("subject", subject, "queue", models.TranscriptServiceQueue).DebugContext(ctx, "subscribed to NATS subject")
	}

	return nil
}

// gracefulShutdown stops the HTTP server, drains NATS and waits for the
// background workers to return.
func gracefulShutdown(httpServer *http.Server, natsConn *nats.Conn, gracefulCloseWG *sync.WaitGroup, cancel context.CancelFunc) {
	slog.Info("graceful shutdown started")

	// Cancelling first lets the NATS closed handler tell a drain from a lost connection.
	cancel()

	ctx, shutdownCancel := context.WithTimeout(context.Background(), gracefulShutdownSeconds*time.Second)
	defer shutdownCancel()

	go func() {
		if err := httpServer.Shutdown(ctx); err != nil {
			slog.With(logging.ErrKey, err).Error("http shutdown error")
		}
		gracefulCloseWG.Done()
	}()

	if natsConn != nil && !natsConn.IsClosed() && !natsConn.IsDraining() {
		slog.Info("draining NATS connections")
		if err := natsConn.Drain(); err != nil {
			slog.With(logging.ErrKey, err).Error("error draining NATS connection")
			// Drain will not close the connection, so the closed handler never runs.
			gracefulCloseWG.Done()
		}
	}

	waitDone := make(chan struct{})
	go func() {
		gracefulCloseWG.Wait()
		close(waitDone)
	}()

	select {
	case <-waitDone:
		slog.Info("graceful shutdown complete")
	case <-ctx.Done():
		slog.With(logging.ErrKey, ctx.Err()).Error("graceful shutdown timed out")
	}
}

// discardConn stands in for NATS when the service runs without a server.
type discardConn struct{}

func (discardConn) IsConnected() bool { return true }

func (discardConn) Publish(subject string, _ []byte) error {
	slog.Debug("discarding NATS publish in memory mode", "subject", subject)
	return nil
}
