// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

// Package logging configures slog for the transcript service and carries
// request and meeting attributes through the context.
package logging

import (
	"context"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	slogotel "github.com/remychantenay/slog-otel"
)

type ctxKey string

// Attribute keys shared across the service.
const (
	ErrKey        = "error"
	MeetingUIDKey = "meeting_uid"
	IdentityKey   = "identity"
	PriorityKey   = "priority"
)

const (
	slogFields      ctxKey = "slog_fields"
	logLevelDefault        = slog.LevelDebug

	// priorityCritical marks records that should be escalated, such as a
	// finalization that gave up or a cleanup task that ran out of attempts.
	priorityCritical = "critical"
)

var logLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

type contextHandler struct {
	slog.Handler
}

// Handle copies the context attributes onto the record.
func (h contextHandler) Handle(ctx context.Context, r slog.Record) error {
	if attrs, ok := ctx.Value(slogFields).([]slog.Attr); ok {
		r.AddAttrs(attrs...)
	}
	return h.Handler.Handle(ctx, r)
}

// AppendCtx returns a context whose log records carry attrs in addition to
// any attributes already on parent.
func AppendCtx(parent context.Context, attrs ...slog.Attr) context.Context {
	if parent == nil {
		parent = context.Background()
	}

	existing, _ := parent.Value(slogFields).([]slog.Attr)
	// Copy so sibling contexts never share a backing array.
	merged := make([]slog.Attr, 0, len(existing)+len(attrs))
	merged = append(merged, existing...)
	merged = append(merged, attrs...)
	return context.WithValue(parent, slogFields, merged)
}

// WithMeeting tags the context with the meeting being worked on.
func WithMeeting(ctx context.Context, meetingUID string) context.Context {
	return AppendCtx(ctx, slog.String(MeetingUIDKey, meetingUID))
}

// ParseLevel maps a LOG_LEVEL value to a slog level, defaulting to debug.
func ParseLevel(value string) slog.Level {
	if level, ok := logLevels[strings.ToLower(strings.TrimSpace(value))]; ok {
		return level
	}
	return logLevelDefault
}

// NewHandler builds the JSON handler chain used by the service: context
// attributes, then the active span's trace_id and span_id, then JSON to w.
func NewHandler(w io.Writer, opts *slog.HandlerOptions) slog.Handler {
	return contextHandler{slogotel.OtelHandler{Next: slog.NewJSONHandler(w, opts)}}
}

// InitStructureLogConfig installs the service handler as the slog default.
// LOG_LEVEL and LOG_ADD_SOURCE tune it.
func InitStructureLogConfig() slog.Handler {
	addSource := os.Getenv("LOG_ADD_SOURCE")
	logOptions := &slog.HandlerOptions{
		Level:     ParseLevel(os.Getenv("LOG_LEVEL")),
		AddSource: addSource == "true" || addSource == "t" || addSource == "1",
	}

	h := NewHandler(os.Stdout, logOptions)
	log.SetFlags(log.Llongfile)
	slog.SetDefault(slog.New(h))

	slog.Info("log config",
		"logLevel", logOptions.Level,
		"addSource", logOptions.AddSource,
	)

	return h
}

// Priority creates a slog.Attr for error priority classification
func Priority(level string) slog.Attr {
	return slog.String(PriorityKey, level)
}

// PriorityCritical flags records that should be escalated to the team.
func PriorityCritical() slog.Attr {
	return Priority(priorityCritical)
}
