package domain

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// EventType live event type on a conversation topic
type EventType string

const (
	// EventMessage new message
	EventMessage EventType = "message"
	// EventMessageEdited content edited
	EventMessageEdited EventType = "message_edited"
	// EventMessageDeleted message soft deleted
	EventMessageDeleted EventType = "message_deleted"
	// EventReactionAdded reaction added
	EventReactionAdded EventType = "reaction_added"
	// EventReactionRemoved reaction removed
	EventReactionRemoved EventType = "reaction_removed"
	// EventUserTyping someone is composing
	EventUserTyping EventType = "user_typing"
)

// Known check event type is one we handle
func (t EventType) Known() bool {
	switch t {
	case EventMessage, EventMessageEdited, EventMessageDeleted,
		EventReactionAdded, EventReactionRemoved, EventUserTyping:
		return true
	}
	return false
}

// Event envelope for everything published on a conversation topic
type Event struct {
	Type           EventType       `json:"type"`
	ConversationID string          `json:"conversation_id"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Timestamp      int64           `json:"ts,omitempty"`
}

// MessageEditedPayload payload of message_edited
type MessageEditedPayload struct {
	ID       MessageID `json:"id"`
	Content  string    `json:"content"`
	EditedAt time.Time `json:"edited_at"`
}

// MessageDeletedPayload payload of message_deleted
type MessageDeletedPayload struct {
	ID MessageID `json:"id"`
}

// ReactionPayload payload of reaction_added / reaction_removed
type ReactionPayload struct {
	MessageID MessageID `json:"message_id"`
	Emoji     string    `json:"emoji"`
	ProfileID string    `json:"profile_id"`
}

// TypingPayload payload of user_typing
type TypingPayload struct {
	ProfileID string `json:"profile_id"`
	Username  string `json:"username"`
}

// NewEvent creates an event with the current timestamp
func NewEvent(t EventType, conversationID string, payload any) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Event{
		Type:           t,
		ConversationID: conversationID,
		Payload:        data,
		Timestamp:      time.Now().UnixMilli(),
	}, nil
}

// DecodeEvent parse an envelope, unknown types are parse failures
func DecodeEvent(data []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, errors.Wrap(ErrEventParse, err.Error())
	}
	if !ev.Type.Known() {
		return nil, errors.Wrapf(ErrEventParse, "unknown event type %q", ev.Type)
	}
	return &ev, nil
}

// DecodePayload unmarshal payload into v
func (e *Event) DecodePayload(v any) error {
	if len(e.Payload) == 0 {
		return errors.Wrapf(ErrEventParse, "%s: empty payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return errors.Wrapf(ErrEventParse, "%s: %v", e.Type, err)
	}
	return nil
}
