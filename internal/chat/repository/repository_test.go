package repository

import (
	"testing"
	"time"

	"chat_stream_service/internal/chat/domain"

	"github.com/stretchr/testify/assert"
)

func TestObjectURL(t *testing.T) {
	assert.Equal(t, "http://localhost:9000/chat/c1/a.png", ObjectURL("http://localhost:9000/", "chat", "c1/a.png"))
}

func TestReverse(t *testing.T) {
	entries := []domain.MessageEntry{{ID: 3}, {ID: 2}, {ID: 1}}
	reverse(entries)
	assert.Equal(t, domain.MessageID(1), entries[0].ID)
	assert.Equal(t, domain.MessageID(3), entries[2].ID)
}

func TestRowRoundTripKeepsParentSnapshot(t *testing.T) {
	parent := domain.MessageID(4)
	edited := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	entry := domain.MessageEntry{
		ID:             9,
		ConversationID: "c1",
		Kind:           domain.KindMessage,
		Content:        "reply",
		SenderID:       "p1",
		EditedAt:       &edited,
		ParentID:       &parent,
		ParentSnapshot: &domain.ParentSnapshot{ID: parent, Content: "hi", SenderUsername: "bob"},
	}

	got := fromRow(*toRow(&entry))

	assert.Equal(t, entry.ID, got.ID)
	assert.Equal(t, entry.Content, got.Content)
	assert.Equal(t, edited, *got.EditedAt)
	assert.Equal(t, *entry.ParentSnapshot, *got.ParentSnapshot)
}

func TestRowWithoutParent(t *testing.T) {
	got := fromRow(*toRow(&domain.MessageEntry{ID: 1, Kind: domain.KindSystemInfo, Content: "joined"}))
	assert.Nil(t, got.ParentID)
	assert.Nil(t, got.ParentSnapshot)
	assert.Equal(t, domain.KindSystemInfo, got.Kind)
}
