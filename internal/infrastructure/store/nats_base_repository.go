// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/vmihailenco/msgpack/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/domain"
	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/logging"
)

// tracerName is the instrumentation name for the store package.
const tracerName = "github.com/linuxfoundation/lfx-v2-transcript-service/internal/infrastructure/store"

// Codec encodes entities into KV values.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

type msgpackCodec struct{}

func (msgpackCodec) Marshal(v any) ([]byte, error)      { return msgpack.Marshal(v) }
func (msgpackCodec) Unmarshal(data []byte, v any) error { return msgpack.Unmarshal(data, v) }

// JSONCodec stores values as JSON documents.
var JSONCodec Codec = jsonCodec{}

// MsgpackCodec stores values as msgpack, for high-volume records.
var MsgpackCodec Codec = msgpackCodec{}

// NatsBaseRepository provides common NATS KV operations that can be reused across all repositories
type NatsBaseRepository[T any] struct {
	kvStore    INatsKeyValue
	entityName string // Used in error messages (e.g., "meeting", "segment")
	codec      Codec
}

// NewNatsBaseRepository creates a new base repository for NATS KV operations using JSON values
func NewNatsBaseRepository[T any](kvStore INatsKeyValue, entityName string) *NatsBaseRepository[T] {
	return NewNatsBaseRepositoryWithCodec[T](kvStore, entityName, JSONCodec)
}

// NewNatsBaseRepositoryWithCodec creates a new base repository with an explicit value codec
func NewNatsBaseRepositoryWithCodec[T any](kvStore INatsKeyValue, entityName string, codec Codec) *NatsBaseRepository[T] {
	return &NatsBaseRepository[T]{
		kvStore:    kvStore,
		entityName: entityName,
		codec:      codec,
	}
}

// IsReady checks if the repository is ready for use
func (r *NatsBaseRepository[T]) IsReady() bool {
	return r.kvStore != nil
}

// startSpan opens a client span for a KV operation.
func (r *NatsBaseRepository[T]) startSpan(ctx context.Context, operation, key string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append([]attribute.KeyValue{
		attribute.String("db.system", "nats"),
		attribute.String("db.operation", operation),
		attribute.String("db.nats.entity", r.entityName),
	}, attrs...)
	if key != "" {
		attrs = append(attrs, attribute.String("db.nats.key", key))
	}
	return otel.Tracer(tracerName).Start(ctx, "nats.kv."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
}

// endSpan records the outcome of a KV operation on the span and returns err unchanged.
func endSpan(span trace.Span, err error) error {
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return nil
	}
	span.RecordError(err)
	switch domain.GetErrorType(err) {
	case domain.ErrorTypeNotFound:
		span.SetStatus(codes.Error, "not found")
	case domain.ErrorTypeConflict:
		span.SetStatus(codes.Error, "conflict")
	default:
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (r *NatsBaseRepository[T]) unavailable() error {
	return domain.NewUnavailableError(fmt.Sprintf("%s repository is not available", r.entityName))
}

// isRevisionConflict reports whether a KV error is an optimistic concurrency failure.
func isRevisionConflict(err error) bool {
	return errors.Is(err, jetstream.ErrKeyExists) || strings.Contains(err.Error(), "wrong last sequence")
}

// mapWriteError converts a NATS write error into a domain error.
func (r *NatsBaseRepository[T]) mapWriteError(ctx context.Context, op, key string, err error) error {
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return domain.NewNotFoundError(fmt.Sprintf("%s not found", r.entityName), err)
	}
	if isRevisionConflict(err) {
		return domain.NewConflictError(fmt.Sprintf("%s has been modified", r.entityName), domain.ErrRevisionMismatch, err)
	}
	slog.ErrorContext(ctx, fmt.Sprintf("error during %s of %s in NATS KV", op, r.entityName),
		logging.ErrKey, err, "key", key)
	return domain.NewInternalError(fmt.Sprintf("failed to %s %s in store", op, r.entityName), err)
}

// GetRaw retrieves a raw entry from NATS KV store
func (r *NatsBaseRepository[T]) GetRaw(ctx context.Context, key string) (jetstream.KeyValueEntry, error) {
	ctx, span := r.startSpan(ctx, "get", key)
	defer span.End()

	if !r.IsReady() {
		return nil, endSpan(span, r.unavailable())
	}

	entry, err := r.kvStore.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, endSpan(span, domain.NewNotFoundError(
				fmt.Sprintf("%s with key '%s' not found", r.entityName, key), err))
		}
		slog.ErrorContext(ctx, fmt.Sprintf("error getting %s from NATS KV", r.entityName),
			logging.ErrKey, err, "key", key)
		return nil, endSpan(span, domain.NewInternalError(
			fmt.Sprintf("failed to retrieve %s from store", r.entityName), err))
	}

	return entry, endSpan(span, nil)
}

// Get retrieves and decodes an entity from NATS KV store
func (r *NatsBaseRepository[T]) Get(ctx context.Context, key string) (*T, error) {
	entity, _, err := r.GetWithRevision(ctx, key)
	return entity, err
}

// GetWithRevision retrieves an entity with its revision from NATS KV store
func (r *NatsBaseRepository[T]) GetWithRevision(ctx context.Context, key string) (*T, uint64, error) {
	entry, err := r.GetRaw(ctx, key)
	if err != nil {
		return nil, 0, err
	}

	entity, err := r.Unmarshal(ctx, entry)
	if err != nil {
		return nil, 0, domain.NewInternalError(
			fmt.Sprintf("failed to unmarshal %s data", r.entityName), domain.ErrUnmarshal, err)
	}

	return entity, entry.Revision(), nil
}

// Unmarshal decodes a NATS KV entry into the entity type
func (r *NatsBaseRepository[T]) Unmarshal(ctx context.Context, entry jetstream.KeyValueEntry) (*T, error) {
	var entity T
	err := r.codec.Unmarshal(entry.Value(), &entity)
	if err != nil {
		slog.ErrorContext(ctx, fmt.Sprintf("error unmarshaling %s", r.entityName),
			logging.ErrKey, err)
		return nil, err
	}

	return &entity, nil
}

// Marshal encodes an entity with the repository codec
func (r *NatsBaseRepository[T]) Marshal(ctx context.Context, entity *T) ([]byte, error) {
	data, err := r.codec.Marshal(entity)
	if err != nil {
		slog.ErrorContext(ctx, fmt.Sprintf("error marshaling %s", r.entityName),
			logging.ErrKey, err)
		return nil, err
	}

	return data, nil
}

// Exists checks if an entity exists in the store
func (r *NatsBaseRepository[T]) Exists(ctx context.Context, key string) (bool, error) {
	_, err := r.GetRaw(ctx, key)
	if err != nil {
		if domain.GetErrorType(err) == domain.ErrorTypeNotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Create stores a new entity only if the key does not exist yet.
// An existing key yields a conflict error.
func (r *NatsBaseRepository[T]) Create(ctx context.Context, key string, entity *T) (uint64, error) {
	ctx, span := r.startSpan(ctx, "create", key)
	defer span.End()

	if !r.IsReady() {
		return 0, endSpan(span, r.unavailable())
	}

	data, err := r.Marshal(ctx, entity)
	if err != nil {
		return 0, endSpan(span, domain.NewInternalError(fmt.Sprintf("failed to marshal %s", r.entityName), err))
	}

	revision, err := r.kvStore.Create(ctx, key, data)
	if err != nil {
		return 0, endSpan(span, r.mapWriteError(ctx, "create", key, err))
	}

	return revision, endSpan(span, nil)
}

// Put stores an entity unconditionally
func (r *NatsBaseRepository[T]) Put(ctx context.Context, key string, entity *T) error {
	ctx, span := r.startSpan(ctx, "put", key)
	defer span.End()

	if !r.IsReady() {
		return endSpan(span, r.unavailable())
	}

	data, err := r.Marshal(ctx, entity)
	if err != nil {
		return endSpan(span, domain.NewInternalError(fmt.Sprintf("failed to marshal %s", r.entityName), err))
	}

	if _, err := r.kvStore.Put(ctx, key, data); err != nil {
		return endSpan(span, r.mapWriteError(ctx, "put", key, err))
	}

	return endSpan(span, nil)
}

// Update updates an existing entity in the store with optimistic concurrency control
func (r *NatsBaseRepository[T]) Update(ctx context.Context, key string, entity *T, revision uint64) (uint64, error) {
	ctx, span := r.startSpan(ctx, "update", key, attribute.Int64("db.nats.revision", int64(revision)))
	defer span.End()

	if !r.IsReady() {
		return 0, endSpan(span, r.unavailable())
	}

	data, err := r.Marshal(ctx, entity)
	if err != nil {
		return 0, endSpan(span, domain.NewInternalError(fmt.Sprintf("failed to marshal %s", r.entityName), err))
	}

	newRevision, err := r.kvStore.Update(ctx, key, data, revision)
	if err != nil {
		return 0, endSpan(span, r.mapWriteError(ctx, "update", key, err))
	}

	return newRevision, endSpan(span, nil)
}

// Delete removes an entity from the store with optimistic concurrency control
func (r *NatsBaseRepository[T]) Delete(ctx context.Context, key string, revision uint64) error {
	ctx, span := r.startSpan(ctx, "delete", key, attribute.Int64("db.nats.revision", int64(revision)))
	defer span.End()

	if !r.IsReady() {
		return endSpan(span, r.unavailable())
	}

	if err := r.kvStore.Delete(ctx, key, jetstream.LastRevision(revision)); err != nil {
		return endSpan(span, r.mapWriteError(ctx, "delete", key, err))
	}

	return endSpan(span, nil)
}

// DeleteWithoutRevision removes an entity from the store without revision checking.
// A missing key is not an error.
func (r *NatsBaseRepository[T]) DeleteWithoutRevision(ctx context.Context, key string) error {
	ctx, span := r.startSpan(ctx, "delete", key)
	defer span.End()

	if !r.IsReady() {
		return endSpan(span, r.unavailable())
	}

	err := r.kvStore.Delete(ctx, key)
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return endSpan(span, r.mapWriteError(ctx, "delete", key, err))
	}

	return endSpan(span, nil)
}

// ListKeys lists the keys matching the subject-style filter (e.g. "segment.<uid>.*").
// An empty filter lists every key in the bucket.
func (r *NatsBaseRepository[T]) ListKeys(ctx context.Context, filter string) ([]string, error) {
	ctx, span := r.startSpan(ctx, "list_keys", "", attribute.String("db.nats.filter", filter))
	defer span.End()

	if !r.IsReady() {
		return nil, endSpan(span, r.unavailable())
	}

	var (
		lister jetstream.KeyLister
		err    error
	)
	if filter == "" {
		lister, err = r.kvStore.ListKeys(ctx)
	} else {
		lister, err = r.kvStore.ListKeysFiltered(ctx, filter)
	}
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, endSpan(span, nil)
		}
		slog.ErrorContext(ctx, fmt.Sprintf("error listing %s keys from NATS KV", r.entityName),
			logging.ErrKey, err)
		return nil, endSpan(span, domain.NewInternalError(
			fmt.Sprintf("failed to list %s keys from store", r.entityName), err))
	}

	var keys []string
	for key := range lister.Keys() {
		keys = append(keys, key)
	}

	span.SetAttributes(attribute.Int("db.nats.keys_count", len(keys)))
	return keys, endSpan(span, nil)
}

// ListEntities lists all entities whose keys match the filter.
// Entries that disappear or fail to decode between listing and reading are skipped.
func (r *NatsBaseRepository[T]) ListEntities(ctx context.Context, filter string) ([]*T, error) {
	keys, err := r.ListKeys(ctx, filter)
	if err != nil {
		return nil, err
	}

	entities := make([]*T, 0, len(keys))
	for _, key := range keys {
		entity, err := r.Get(ctx, key)
		if err != nil {
			if domain.GetErrorType(err) == domain.ErrorTypeUnavailable {
				return nil, err
			}
			slog.WarnContext(ctx, fmt.Sprintf("failed to get %s, skipping", r.entityName),
				"key", key, logging.ErrKey, err)
			continue
		}

		entities = append(entities, entity)
	}

	return entities, nil
}
