package reconcile

import (
	"context"

	"chat_stream_service/internal/chat/domain"
)

// MessageStore consumed message store; every page is ascending by id
type MessageStore interface {
	FetchInitialPage(ctx context.Context, conversationID string, limit int) ([]domain.MessageEntry, error)
	// FetchOlderPage empty result means history is exhausted
	FetchOlderPage(ctx context.Context, conversationID string, beforeID domain.MessageID, limit int) ([]domain.MessageEntry, error)
	FetchNewerPage(ctx context.Context, conversationID string, afterID domain.MessageID, limit int) ([]domain.MessageEntry, error)
	FetchByIDs(ctx context.Context, conversationID string, ids []domain.MessageID) ([]domain.MessageEntry, error)
	SendMessage(ctx context.Context, req domain.SendRequest) (*domain.MessageEntry, error)
	EditMessage(ctx context.Context, id domain.MessageID, content string) (*domain.MessageEntry, error)
	DeleteMessage(ctx context.Context, id domain.MessageID) error
	AddReaction(ctx context.Context, conversationID string, messageID domain.MessageID, profileID, emoji string) error
	RemoveReaction(ctx context.Context, conversationID string, messageID domain.MessageID, profileID, emoji string) error
	MarkRead(ctx context.Context, conversationID, profileID string) error
	UploadAttachment(ctx context.Context, conversationID, filename string, body []byte) (string, error)
}

// Subscription live topic subscription
type Subscription interface {
	Close() error
}

// EventBus consumed live event bus, topic = conversation id
type EventBus interface {
	// Subscribe handler may be called from any goroutine
	Subscribe(ctx context.Context, conversationID string, handler func(ev domain.Event)) (Subscription, error)
	PublishTyping(ctx context.Context, conversationID, username string) error
}

// Executor runs blocking jobs off the owner's goroutine and posts completions back onto it
type Executor interface {
	Go(job func())
	Post(done func())
}
