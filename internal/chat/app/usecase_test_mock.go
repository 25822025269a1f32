package app

import (
	"context"
	"io"
	"time"

	"chat_stream_service/internal/chat/domain"

	"github.com/stretchr/testify/mock"
)

// MockMessageRepository Mock MessageRepository
type MockMessageRepository struct {
	mock.Mock
}

func entriesArg(args mock.Arguments) ([]domain.MessageEntry, error) {
	if args.Get(0) != nil {
		return args.Get(0).([]domain.MessageEntry), args.Error(1)
	}
	return nil, args.Error(1)
}

// FindLatest moke latest page
func (m *MockMessageRepository) FindLatest(ctx context.Context, conversationID string, limit int) ([]domain.MessageEntry, error) {
	return entriesArg(m.Called(ctx, conversationID, limit))
}

// FindBefore moke older page
func (m *MockMessageRepository) FindBefore(ctx context.Context, conversationID string, before domain.MessageID, limit int) ([]domain.MessageEntry, error) {
	return entriesArg(m.Called(ctx, conversationID, before, limit))
}

// FindAfter moke newer page
func (m *MockMessageRepository) FindAfter(ctx context.Context, conversationID string, after domain.MessageID, limit int) ([]domain.MessageEntry, error) {
	return entriesArg(m.Called(ctx, conversationID, after, limit))
}

// FindByIDs moke lookup
func (m *MockMessageRepository) FindByIDs(ctx context.Context, conversationID string, ids []domain.MessageID) ([]domain.MessageEntry, error) {
	return entriesArg(m.Called(ctx, conversationID, ids))
}

// FindByID moke find one
func (m *MockMessageRepository) FindByID(ctx context.Context, id domain.MessageID) (*domain.MessageEntry, error) {
	args := m.Called(ctx, id)
	if args.Get(0) != nil {
		return args.Get(0).(*domain.MessageEntry), args.Error(1)
	}
	return nil, args.Error(1)
}

// Insert moke insert msg
func (m *MockMessageRepository) Insert(ctx context.Context, entry *domain.MessageEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

// UpdateContent moke edit
func (m *MockMessageRepository) UpdateContent(ctx context.Context, id domain.MessageID, content string, editedAt time.Time) error {
	args := m.Called(ctx, id, content, editedAt)
	return args.Error(0)
}

// SoftDelete moke delete
func (m *MockMessageRepository) SoftDelete(ctx context.Context, id domain.MessageID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// AddReaction moke add reaction
func (m *MockMessageRepository) AddReaction(ctx context.Context, id domain.MessageID, r domain.Reaction) (bool, error) {
	args := m.Called(ctx, id, r)
	return args.Bool(0), args.Error(1)
}

// RemoveReaction moke remove reaction
func (m *MockMessageRepository) RemoveReaction(ctx context.Context, id domain.MessageID, r domain.Reaction) (bool, error) {
	args := m.Called(ctx, id, r)
	return args.Bool(0), args.Error(1)
}

// MarkRead moke mark read
func (m *MockMessageRepository) MarkRead(ctx context.Context, conversationID, profileID string) error {
	args := m.Called(ctx, conversationID, profileID)
	return args.Error(0)
}

// MockPubSub Mock PubSub
type MockPubSub struct {
	mock.Mock
}

// Publish moke publish
func (m *MockPubSub) Publish(ctx context.Context, event *domain.Event) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

// Subscribe moke subscribe
func (m *MockPubSub) Subscribe(ctx context.Context, conversationID string, handler func(ev domain.Event)) error {
	args := m.Called(ctx, conversationID, handler)
	return args.Error(0)
}

// MockAttachmentRepository Mock AttachmentRepository
type MockAttachmentRepository struct {
	mock.Mock
}

// Put moke upload
func (m *MockAttachmentRepository) Put(ctx context.Context, objectName string, r io.Reader, size int64, contentType string) (string, error) {
	args := m.Called(ctx, objectName, r, size, contentType)
	return args.String(0), args.Error(1)
}
