// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package messaging

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/go-viper/mapstructure/v2"

	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/domain"
	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/domain/models"
	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/logging"
	"github.com/linuxfoundation/lfx-v2-transcript-service/pkg/constants"
)

// INatsConn is a NATS connection interface needed for the [MessageBuilder].
type INatsConn interface {
	IsConnected() bool
	Publish(subj string, data []byte) error
}

// MessageBuilder is the builder for the message and sends it to the NATS server.
type MessageBuilder struct {
	NatsConn INatsConn
}

// NewMessageBuilder creates a new MessageBuilder.
func NewMessageBuilder(natsConn INatsConn) *MessageBuilder {
	return &MessageBuilder{
		NatsConn: natsConn,
	}
}

var _ domain.MessageBuilder = (*MessageBuilder)(nil)

// LifecycleSubject returns the subject a transition into state is published on.
func LifecycleSubject(state models.MeetingState) string {
	return models.MeetingLifecycleSubjectPrefix + strings.ToLower(string(state))
}

// sendMessage sends the message to the NATS server.
func (m *MessageBuilder) sendMessage(ctx context.Context, subject string, data []byte) error {
	err := m.NatsConn.Publish(subject, data)
	if err != nil {
		slog.ErrorContext(ctx, "error sending message to NATS", logging.ErrKey, err, "subject", subject)
		return err
	}
	slog.DebugContext(ctx, "sent message to NATS", "subject", subject)
	return nil
}

// sendIndexerMessage sends the message to the NATS server for the indexer.
func (m *MessageBuilder) sendIndexerMessage(ctx context.Context, subject string, action models.MessageAction, data []byte, tags []string) error {
	headers := make(map[string]string)
	if authorization, ok := ctx.Value(constants.AuthorizationContextID).(string); ok {
		headers[constants.AuthorizationHeader] = authorization
	} else {
		// Webhook-driven finalization has no caller credential, and the
		// indexer requires an authorization header.
		headers[constants.AuthorizationHeader] = "Bearer transcript-service"
	}
	if principal, ok := ctx.Value(constants.PrincipalContextID).(string); ok {
		headers[constants.XOnBehalfOfHeader] = principal
	}

	var payload any
	switch action {
	case models.ActionCreated, models.ActionUpdated:
		var jsonData any
		if err := json.Unmarshal(data, &jsonData); err != nil {
			slog.ErrorContext(ctx, "error unmarshalling data into JSON", logging.ErrKey, err, "subject", subject)
			return err
		}

		// The indexer expects a map[string]any.
		config := mapstructure.DecoderConfig{
			TagName: "json",
			Result:  &payload,
		}
		decoder, err := mapstructure.NewDecoder(&config)
		if err != nil {
			slog.ErrorContext(ctx, "error creating decoder", logging.ErrKey, err, "subject", subject)
			return err
		}
		if err := decoder.Decode(jsonData); err != nil {
			slog.ErrorContext(ctx, "error decoding data", logging.ErrKey, err, "subject", subject)
			return err
		}
	case models.ActionDeleted:
		// The data is the uid being deleted.
		payload = string(data)
	}

	message := models.MeetingIndexerMessage{
		Action:  action,
		Headers: headers,
		Data:    payload,
		Tags:    tags,
	}

	messageBytes, err := json.Marshal(message)
	if err != nil {
		slog.ErrorContext(ctx, "error marshalling message into JSON", logging.ErrKey, err, "subject", subject)
		return err
	}

	slog.DebugContext(ctx, "constructed indexer message",
		"subject", subject,
		"action", action,
		"tags_count", len(tags),
	)

	return m.sendMessage(ctx, subject, messageBytes)
}

// SendIndexMeetingTranscript sends the finalized meeting to the indexer.
func (m *MessageBuilder) SendIndexMeetingTranscript(ctx context.Context, action models.MessageAction, data models.Meeting) error {
	if action == models.ActionDeleted {
		return m.sendIndexerMessage(ctx, models.IndexMeetingTranscriptSubject, action, []byte(data.UID), nil)
	}

	dataBytes, err := json.Marshal(data)
	if err != nil {
		slog.ErrorContext(ctx, "error marshalling data into JSON", logging.ErrKey, err)
		return err
	}

	return m.sendIndexerMessage(ctx, models.IndexMeetingTranscriptSubject, action, dataBytes, data.Tags())
}

// SendMeetingLifecycleEvent publishes a committed state transition.
func (m *MessageBuilder) SendMeetingLifecycleEvent(ctx context.Context, event models.MeetingLifecycleEvent) error {
	dataBytes, err := json.Marshal(event)
	if err != nil {
		slog.ErrorContext(ctx, "error marshalling lifecycle event into JSON", logging.ErrKey, err)
		return err
	}

	return m.sendMessage(ctx, LifecycleSubject(event.To), dataBytes)
}
