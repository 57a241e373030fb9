// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package mocks

import (
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/linuxfoundation/lfx-v2-transcript-service/internal/domain"
)

// MockMessage implements domain.Message for testing. Replies passed to
// Respond are recorded in addition to the usual mock bookkeeping.
type MockMessage struct {
	mock.Mock
	data    []byte
	subject string

	mu      sync.Mutex
	replies [][]byte
}

var _ domain.Message = (*MockMessage)(nil)

// NewMockMessage creates a mock message for testing
func NewMockMessage(data []byte, subject string) *MockMessage {
	return &MockMessage{
		data:    data,
		subject: subject,
	}
}

// NewMockRequest creates a request message that accepts any reply.
func NewMockRequest(data []byte, subject string) *MockMessage {
	msg := NewMockMessage(data, subject)
	msg.On("HasReply").Return(true)
	msg.On("Respond", mock.Anything).Return(nil)
	return msg
}

func (m *MockMessage) Subject() string {
	return m.subject
}

func (m *MockMessage) Data() []byte {
	return m.data
}

func (m *MockMessage) HasReply() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockMessage) Respond(data []byte) error {
	m.mu.Lock()
	m.replies = append(m.replies, data)
	m.mu.Unlock()

	args := m.Called(data)
	return args.Error(0)
}

// Replies returns every payload passed to Respond, in order.
func (m *MockMessage) Replies() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.replies...)
}
