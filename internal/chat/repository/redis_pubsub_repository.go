package repository

import (
	"context"
	"encoding/json"

	"chat_stream_service/internal/chat/domain"
	"chat_stream_service/pkg/logger"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// PubSub definition conversation topic pub/sub
type PubSub interface {
	Publish(ctx context.Context, event *domain.Event) error
	// Subscribe delivers events until ctx is cancelled
	Subscribe(ctx context.Context, conversationID string, handler func(ev domain.Event)) error
}

// RedisPubSub definition redis pub/sub
type RedisPubSub struct {
	client *redis.Client
}

// NewRedisPubSub create RedisPubSub
func NewRedisPubSub(client *redis.Client) *RedisPubSub {
	return &RedisPubSub{client: client}
}

// Publish 將 event 序列化後，發布到 conversation topic
func (r *RedisPubSub) Publish(ctx context.Context, event *domain.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, domain.TopicName(event.ConversationID), data).Err()
}

// Subscribe 訂閱 conversation topic，收到訊息後呼叫 handler 處理
func (r *RedisPubSub) Subscribe(ctx context.Context, conversationID string, handler func(ev domain.Event)) error {
	channel := domain.TopicName(conversationID)
	sub := r.client.Subscribe(ctx, channel)
	// wait for the subscription confirmation so nothing published after return is missed
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return err
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()

		for {
			select {
			case m, ok := <-ch:
				if !ok {
					return
				}

				ev, err := domain.DecodeEvent([]byte(m.Payload))
				if err != nil {
					logger.Log.Warn("drop malformed event",
						zap.String("channel", channel),
						zap.Error(err),
					)
					continue
				}
				handler(*ev)
			case <-ctx.Done():
				logger.Log.Debug("sub close", zap.String("channel", channel))
				return
			}
		}
	}()
	return nil
}
