// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// Operations that can be made to fail on a [MemoryKeyValue].
const (
	MemoryOpGet    = "get"
	MemoryOpPut    = "put"
	MemoryOpCreate = "create"
	MemoryOpUpdate = "update"
	MemoryOpDelete = "delete"
	MemoryOpList   = "list"
)

// memoryEntry implements jetstream.KeyValueEntry
type memoryEntry struct {
	bucket   string
	key      string
	value    []byte
	revision uint64
	created  time.Time
}

func (e *memoryEntry) Key() string                     { return e.key }
func (e *memoryEntry) Value() []byte                   { return e.value }
func (e *memoryEntry) Revision() uint64                { return e.revision }
func (e *memoryEntry) Created() time.Time              { return e.created }
func (e *memoryEntry) Delta() uint64                   { return 0 }
func (e *memoryEntry) Operation() jetstream.KeyValueOp { return jetstream.KeyValuePut }
func (e *memoryEntry) Bucket() string                  { return e.bucket }

// memoryKeyLister implements jetstream.KeyLister
type memoryKeyLister struct {
	keys []string
}

func (l *memoryKeyLister) Keys() <-chan string {
	ch := make(chan string, len(l.keys))
	for _, key := range l.keys {
		ch <- key
	}
	close(ch)
	return ch
}

func (l *memoryKeyLister) Stop() error { return nil }

// MemoryKeyValue is an in-process implementation of [INatsKeyValue] with the
// same revision semantics as a JetStream bucket. It backs tests and the
// local development mode that runs without a NATS server.
// Delete ignores revision options.
type MemoryKeyValue struct {
	mu       sync.RWMutex
	bucket   string
	entries  map[string]*memoryEntry
	sequence uint64
	failures map[string]error
}

// NewMemoryKeyValue creates an empty in-memory bucket.
func NewMemoryKeyValue(bucket string) *MemoryKeyValue {
	return &MemoryKeyValue{
		bucket:   bucket,
		entries:  make(map[string]*memoryEntry),
		failures: make(map[string]error),
	}
}

// SetError makes every subsequent call of op fail with err. A nil err clears it.
func (m *MemoryKeyValue) SetError(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, op)
		return
	}
	m.failures[op] = err
}

// Len returns the number of live keys.
func (m *MemoryKeyValue) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *MemoryKeyValue) write(key string, value []byte) uint64 {
	m.sequence++
	stored := make([]byte, len(value))
	copy(stored, value)
	m.entries[key] = &memoryEntry{
		bucket:   m.bucket,
		key:      key,
		value:    stored,
		revision: m.sequence,
		created:  time.Now(),
	}
	return m.sequence
}

func (m *MemoryKeyValue) ListKeys(ctx context.Context, opts ...jetstream.WatchOpt) (jetstream.KeyLister, error) {
	return m.ListKeysFiltered(ctx)
}

func (m *MemoryKeyValue) ListKeysFiltered(ctx context.Context, filters ...string) (jetstream.KeyLister, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failures[MemoryOpList]; err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(m.entries))
	for key := range m.entries {
		if len(filters) == 0 || matchesAnyFilter(key, filters) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return &memoryKeyLister{keys: keys}, nil
}

func (m *MemoryKeyValue) Get(ctx context.Context, key string) (jetstream.KeyValueEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failures[MemoryOpGet]; err != nil {
		return nil, err
	}

	entry, ok := m.entries[key]
	if !ok {
		return nil, jetstream.ErrKeyNotFound
	}
	copied := *entry
	return &copied, nil
}

func (m *MemoryKeyValue) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures[MemoryOpPut]; err != nil {
		return 0, err
	}
	return m.write(key, value), nil
}

func (m *MemoryKeyValue) Create(ctx context.Context, key string, value []byte, opts ...jetstream.KVCreateOpt) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures[MemoryOpCreate]; err != nil {
		return 0, err
	}
	if _, ok := m.entries[key]; ok {
		return 0, jetstream.ErrKeyExists
	}
	return m.write(key, value), nil
}

func (m *MemoryKeyValue) Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures[MemoryOpUpdate]; err != nil {
		return 0, err
	}

	var current uint64
	if entry, ok := m.entries[key]; ok {
		current = entry.revision
	}
	if current != revision {
		return 0, fmt.Errorf("nats: wrong last sequence: %d", current)
	}
	return m.write(key, value), nil
}

func (m *MemoryKeyValue) Delete(ctx context.Context, key string, opts ...jetstream.KVDeleteOpt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures[MemoryOpDelete]; err != nil {
		return err
	}
	if _, ok := m.entries[key]; !ok {
		return jetstream.ErrKeyNotFound
	}
	delete(m.entries, key)
	return nil
}

// matchesAnyFilter applies NATS subject wildcard rules: "*" matches one
// token and a trailing ">" matches one or more tokens.
func matchesAnyFilter(key string, filters []string) bool {
	for _, filter := range filters {
		if matchesFilter(key, filter) {
			return true
		}
	}
	return false
}

func matchesFilter(key, filter string) bool {
	keyTokens := strings.Split(key, keySeparator)
	filterTokens := strings.Split(filter, keySeparator)
	for i, ft := range filterTokens {
		if ft == ">" {
			return len(keyTokens) > i
		}
		if i >= len(keyTokens) {
			return false
		}
		if ft != "*" && ft != keyTokens[i] {
			return false
		}
	}
	return len(keyTokens) == len(filterTokens)
}
