package app

import (
	"context"
	"time"

	"chat_stream_service/internal/chat/domain"
	"chat_stream_service/internal/chat/repository"
	"chat_stream_service/pkg/logger"
	"chat_stream_service/pkg/metrics"

	"github.com/forPelevin/gomoji"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	// DefaultPageSize page size when the request gives none
	DefaultPageSize = 50
	// MaxPageSize upper bound of one page
	MaxPageSize = 200
)

// MessageUseCase message store operations plus live event fan-out
type MessageUseCase struct {
	msgRepo repository.MessageRepository
	pubSub  repository.PubSub
	now     func() time.Time
}

// NewMessageUseCase create MessageUseCase
func NewMessageUseCase(msgRepo repository.MessageRepository, pubSub repository.PubSub) *MessageUseCase {
	return &MessageUseCase{
		msgRepo: msgRepo,
		pubSub:  pubSub,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// storeErr not found passes through, everything else is the store being unavailable
func storeErr(op string, err error) error {
	if errors.Is(err, domain.ErrMessageNotFound) {
		return err
	}
	metrics.StoreErrors.WithLabelValues(op).Inc()
	return errors.Wrapf(domain.ErrStoreUnavailable, "%s: %v", op, err)
}

// ValidateReaction checks that the reaction only contains a single emoji
func ValidateReaction(reaction string) error {
	if len(gomoji.RemoveEmojis(reaction)) > 0 {
		return domain.ErrInvalidReaction
	}
	if len(gomoji.CollectAll(reaction)) != 1 {
		return domain.ErrInvalidReaction
	}
	return nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageSize
	}
	if limit > MaxPageSize {
		return MaxPageSize
	}
	return limit
}

// publish 發布失敗只記錄, the store already holds the change
func (uc *MessageUseCase) publish(ctx context.Context, t domain.EventType, conversationID string, payload any) {
	ev, err := domain.NewEvent(t, conversationID, payload)
	if err == nil {
		err = uc.pubSub.Publish(ctx, ev)
	}
	if err != nil {
		metrics.EventPublishErrors.WithLabelValues(string(t)).Inc()
		logger.Log.Error("publish event failed",
			zap.String("type", string(t)),
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
		return
	}
	metrics.EventsPublished.WithLabelValues(string(t)).Inc()
}

// Latest the newest page
func (uc *MessageUseCase) Latest(ctx context.Context, conversationID string, limit int) ([]domain.MessageEntry, error) {
	entries, err := uc.msgRepo.FindLatest(ctx, conversationID, clampLimit(limit))
	if err != nil {
		return nil, storeErr("find_latest", err)
	}
	return entries, nil
}

// Before the page strictly older than before, empty means exhausted
func (uc *MessageUseCase) Before(ctx context.Context, conversationID string, before domain.MessageID, limit int) ([]domain.MessageEntry, error) {
	entries, err := uc.msgRepo.FindBefore(ctx, conversationID, before, clampLimit(limit))
	if err != nil {
		return nil, storeErr("find_before", err)
	}
	return entries, nil
}

// After the page strictly newer than after
func (uc *MessageUseCase) After(ctx context.Context, conversationID string, after domain.MessageID, limit int) ([]domain.MessageEntry, error) {
	entries, err := uc.msgRepo.FindAfter(ctx, conversationID, after, clampLimit(limit))
	if err != nil {
		return nil, storeErr("find_after", err)
	}
	return entries, nil
}

// Lookup entries by id, unknown ids are skipped
func (uc *MessageUseCase) Lookup(ctx context.Context, conversationID string, ids []domain.MessageID) ([]domain.MessageEntry, error) {
	entries, err := uc.msgRepo.FindByIDs(ctx, conversationID, ids)
	if err != nil {
		return nil, storeErr("find_by_ids", err)
	}
	return entries, nil
}

// Send insert a message, a reply copies the parent's snapshot
func (uc *MessageUseCase) Send(ctx context.Context, req domain.SendRequest) (*domain.MessageEntry, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	entry := &domain.MessageEntry{
		ConversationID: req.ConversationID,
		Kind:           domain.KindMessage,
		Content:        req.Content,
		ImageURL:       req.ImageURL,
		SenderID:       req.SenderID,
		SenderUsername: req.SenderUsername,
		SenderAvatar:   req.SenderAvatar,
		CreatedAt:      uc.now(),
	}

	if req.ParentID != nil {
		parent, err := uc.msgRepo.FindByID(ctx, *req.ParentID)
		if err != nil {
			return nil, storeErr("find_parent", err)
		}
		if parent.ConversationID != req.ConversationID {
			return nil, errors.Wrapf(domain.ErrMessageNotFound, "parent %s", *req.ParentID)
		}
		pid := parent.ID
		entry.ParentID = &pid
		entry.ParentSnapshot = parent.Snapshot()
	}

	if err := uc.msgRepo.Insert(ctx, entry); err != nil {
		return nil, storeErr("insert", err)
	}

	uc.publish(ctx, domain.EventMessage, entry.ConversationID, entry)
	return entry, nil
}

// owned load a live message and check profileID sent it
func (uc *MessageUseCase) owned(ctx context.Context, profileID string, id domain.MessageID) (*domain.MessageEntry, error) {
	entry, err := uc.msgRepo.FindByID(ctx, id)
	if err != nil {
		return nil, storeErr("find_by_id", err)
	}
	if entry.SenderID != profileID {
		return nil, domain.ErrNotMessageOwner
	}
	return entry, nil
}

// inConversation load a message that must belong to conversationID
func (uc *MessageUseCase) inConversation(ctx context.Context, conversationID string, id domain.MessageID) (*domain.MessageEntry, error) {
	entry, err := uc.msgRepo.FindByID(ctx, id)
	if err != nil {
		return nil, storeErr("find_by_id", err)
	}
	if entry.ConversationID != conversationID {
		return nil, errors.Wrapf(domain.ErrMessageNotFound, "id %s not in conversation %s", id, conversationID)
	}
	return entry, nil
}

// Edit replace content, sender only
func (uc *MessageUseCase) Edit(ctx context.Context, profileID string, id domain.MessageID, content string) (*domain.MessageEntry, error) {
	entry, err := uc.owned(ctx, profileID, id)
	if err != nil {
		return nil, err
	}
	if entry.Deleted {
		return nil, errors.Wrapf(domain.ErrMessageNotFound, "id %s deleted", id)
	}
	if content == "" && entry.ImageURL == "" {
		return nil, domain.ErrEmptyMessage
	}

	editedAt := uc.now()
	if err := uc.msgRepo.UpdateContent(ctx, id, content, editedAt); err != nil {
		return nil, storeErr("update_content", err)
	}
	entry.Content = content
	entry.EditedAt = &editedAt

	uc.publish(ctx, domain.EventMessageEdited, entry.ConversationID, domain.MessageEditedPayload{
		ID:       id,
		Content:  content,
		EditedAt: editedAt,
	})
	return entry, nil
}

// Delete soft delete, sender only; deleting twice is a no-op
func (uc *MessageUseCase) Delete(ctx context.Context, profileID string, id domain.MessageID) error {
	entry, err := uc.owned(ctx, profileID, id)
	if err != nil {
		return err
	}
	if entry.Deleted {
		return nil
	}
	if err := uc.msgRepo.SoftDelete(ctx, id); err != nil {
		return storeErr("soft_delete", err)
	}
	uc.publish(ctx, domain.EventMessageDeleted, entry.ConversationID, domain.MessageDeletedPayload{ID: id})
	return nil
}

// React add a reaction, repeating it changes nothing and publishes nothing
func (uc *MessageUseCase) React(ctx context.Context, conversationID string, id domain.MessageID, profileID, emoji string) error {
	if err := ValidateReaction(emoji); err != nil {
		return err
	}
	entry, err := uc.inConversation(ctx, conversationID, id)
	if err != nil {
		return err
	}
	changed, err := uc.msgRepo.AddReaction(ctx, id, domain.Reaction{Emoji: emoji, ProfileID: profileID})
	if err != nil {
		return storeErr("add_reaction", err)
	}
	if changed {
		uc.publish(ctx, domain.EventReactionAdded, entry.ConversationID, domain.ReactionPayload{
			MessageID: id, Emoji: emoji, ProfileID: profileID,
		})
	}
	return nil
}

// Unreact remove a reaction
func (uc *MessageUseCase) Unreact(ctx context.Context, conversationID string, id domain.MessageID, profileID, emoji string) error {
	if emoji == "" {
		return domain.ErrInvalidReaction
	}
	entry, err := uc.inConversation(ctx, conversationID, id)
	if err != nil {
		return err
	}
	changed, err := uc.msgRepo.RemoveReaction(ctx, id, domain.Reaction{Emoji: emoji, ProfileID: profileID})
	if err != nil {
		return storeErr("remove_reaction", err)
	}
	if changed {
		uc.publish(ctx, domain.EventReactionRemoved, entry.ConversationID, domain.ReactionPayload{
			MessageID: id, Emoji: emoji, ProfileID: profileID,
		})
	}
	return nil
}

// MarkRead mark every message of the conversation read by profileID
func (uc *MessageUseCase) MarkRead(ctx context.Context, conversationID, profileID string) error {
	if err := uc.msgRepo.MarkRead(ctx, conversationID, profileID); err != nil {
		return storeErr("mark_read", err)
	}
	return nil
}

// Typing broadcast user_typing, nothing is stored
func (uc *MessageUseCase) Typing(ctx context.Context, conversationID, profileID, username string) error {
	ev, err := domain.NewEvent(domain.EventUserTyping, conversationID, domain.TypingPayload{
		ProfileID: profileID,
		Username:  username,
	})
	if err != nil {
		return err
	}
	return uc.pubSub.Publish(ctx, ev)
}
