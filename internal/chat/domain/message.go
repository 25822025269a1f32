package domain

import (
	"strconv"
	"time"
)

// MessageID store assigned id, increasing in creation order
type MessageID int64

// String decimal form used on the wire and in topic names
func (id MessageID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// ParseMessageID parse decimal string id
func ParseMessageID(s string) (MessageID, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return MessageID(v), nil
}

// MarshalJSON ids travel as strings so 64-bit values survive JS clients
func (id MessageID) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(id.String())), nil
}

// UnmarshalJSON accept "123" and 123
func (id *MessageID) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" {
		return nil
	}
	if len(s) >= 2 && s[0] == '"' {
		unq, err := strconv.Unquote(s)
		if err != nil {
			return err
		}
		s = unq
	}
	v, err := ParseMessageID(s)
	if err != nil {
		return err
	}
	*id = v
	return nil
}

// MessageKind definition entry kind
type MessageKind string

const (
	// KindMessage user message
	KindMessage MessageKind = "message"
	// KindSystemInfo system line (e.g. "user joined"), no sender
	KindSystemInfo MessageKind = "system_info"
)

// Reaction one emoji from one profile
type Reaction struct {
	Emoji     string `bson:"emoji" json:"emoji"`
	ProfileID string `bson:"profile_id" json:"profile_id"`
}

// ReactionGroup reactions of the same emoji, used for rendering
type ReactionGroup struct {
	Emoji    string   `json:"emoji"`
	Count    int      `json:"count"`
	Profiles []string `json:"profiles"`
}

// ParentSnapshot copy of the replied-to message taken at reply time.
// Later edits or deletes of the parent do not change it.
type ParentSnapshot struct {
	ID             MessageID `bson:"id" json:"id"`
	Content        string    `bson:"content,omitempty" json:"content,omitempty"`
	ImageURL       string    `bson:"image_url,omitempty" json:"image_url,omitempty"`
	SenderID       string    `bson:"sender_id,omitempty" json:"sender_id,omitempty"`
	SenderUsername string    `bson:"sender_username,omitempty" json:"sender_username,omitempty"`
}

// MessageEntry 聊天訊息 (one unit in the message stream)
type MessageEntry struct {
	ID             MessageID       `bson:"_id" json:"id"`
	ConversationID string          `bson:"conversation_id" json:"conversation_id"`
	Kind           MessageKind     `bson:"kind" json:"kind"`
	Content        string          `bson:"content,omitempty" json:"content,omitempty"`
	ImageURL       string          `bson:"image_url,omitempty" json:"image_url,omitempty"`
	SenderID       string          `bson:"sender_id,omitempty" json:"sender_id,omitempty"`
	SenderUsername string          `bson:"sender_username,omitempty" json:"sender_username,omitempty"`
	SenderAvatar   string          `bson:"sender_avatar,omitempty" json:"sender_avatar,omitempty"`
	CreatedAt      time.Time       `bson:"created_at" json:"created_at"`
	EditedAt       *time.Time      `bson:"edited_at,omitempty" json:"edited_at,omitempty"`
	Deleted        bool            `bson:"deleted" json:"deleted"`
	ParentID       *MessageID      `bson:"parent_id,omitempty" json:"parent_id,omitempty"`
	ParentSnapshot *ParentSnapshot `bson:"parent_snapshot,omitempty" json:"parent_snapshot,omitempty"`
	Reactions      []Reaction      `bson:"reactions,omitempty" json:"reactions,omitempty"`
	Reads          []string        `bson:"reads,omitempty" json:"reads,omitempty"`

	// local only
	Pending    bool   `bson:"-" json:"-"`
	LocalToken string `bson:"-" json:"-"`
	SendFailed bool   `bson:"-" json:"-"`
}

// MessagePatch partial update, nil fields are left untouched
type MessagePatch struct {
	ID       MessageID
	Content  *string
	ImageURL *string
	EditedAt *time.Time
}

// SendRequest body of a send call
type SendRequest struct {
	ConversationID string     `json:"conversation_id"`
	SenderID       string     `json:"sender_id"`
	SenderUsername string     `json:"sender_username,omitempty"`
	SenderAvatar   string     `json:"sender_avatar,omitempty"`
	Content        string     `json:"content,omitempty"`
	ImageURL       string     `json:"image_url,omitempty"`
	ParentID       *MessageID `json:"parent_id,omitempty"`
}

// Validate check a new message carries text or an image
func (r SendRequest) Validate() error {
	if r.Content == "" && r.ImageURL == "" {
		return ErrEmptyMessage
	}
	return nil
}

// Clone deep copy, buffers hand out clones so callers can't mutate state
func (m MessageEntry) Clone() MessageEntry {
	c := m
	if m.EditedAt != nil {
		t := *m.EditedAt
		c.EditedAt = &t
	}
	if m.ParentID != nil {
		p := *m.ParentID
		c.ParentID = &p
	}
	if m.ParentSnapshot != nil {
		s := *m.ParentSnapshot
		c.ParentSnapshot = &s
	}
	if m.Reactions != nil {
		c.Reactions = append([]Reaction(nil), m.Reactions...)
	}
	if m.Reads != nil {
		c.Reads = append([]string(nil), m.Reads...)
	}
	return c
}

// Snapshot build the parent snapshot stored on replies
func (m MessageEntry) Snapshot() *ParentSnapshot {
	return &ParentSnapshot{
		ID:             m.ID,
		Content:        m.Content,
		ImageURL:       m.ImageURL,
		SenderID:       m.SenderID,
		SenderUsername: m.SenderUsername,
	}
}

// HasReaction check {emoji, profile} pair present
func (m *MessageEntry) HasReaction(emoji, profileID string) bool {
	for _, r := range m.Reactions {
		if r.Emoji == emoji && r.ProfileID == profileID {
			return true
		}
	}
	return false
}

// AddReaction returns false when the pair already exists
func (m *MessageEntry) AddReaction(emoji, profileID string) bool {
	if m.HasReaction(emoji, profileID) {
		return false
	}
	m.Reactions = append(m.Reactions, Reaction{Emoji: emoji, ProfileID: profileID})
	return true
}

// RemoveReaction returns false when the pair is absent
func (m *MessageEntry) RemoveReaction(emoji, profileID string) bool {
	for i, r := range m.Reactions {
		if r.Emoji == emoji && r.ProfileID == profileID {
			m.Reactions = append(m.Reactions[:i], m.Reactions[i+1:]...)
			return true
		}
	}
	return false
}

// HasRead check profile in read set
func (m *MessageEntry) HasRead(profileID string) bool {
	for _, r := range m.Reads {
		if r == profileID {
			return true
		}
	}
	return false
}

// AddRead returns false when already read
func (m *MessageEntry) AddRead(profileID string) bool {
	if m.HasRead(profileID) {
		return false
	}
	m.Reads = append(m.Reads, profileID)
	return true
}

// ReactionGroups group reactions by emoji in first-seen order
func (m MessageEntry) ReactionGroups() []ReactionGroup {
	var groups []ReactionGroup
	pos := map[string]int{}
	for _, r := range m.Reactions {
		i, ok := pos[r.Emoji]
		if !ok {
			i = len(groups)
			pos[r.Emoji] = i
			groups = append(groups, ReactionGroup{Emoji: r.Emoji})
		}
		groups[i].Count++
		groups[i].Profiles = append(groups[i].Profiles, r.ProfileID)
	}
	return groups
}

// CountsAsUnread entry that can carry an unread marker for profileID
func (m MessageEntry) CountsAsUnread(profileID string) bool {
	if m.Kind == KindSystemInfo || m.Pending || m.Deleted {
		return false
	}
	return m.SenderID != profileID && !m.HasRead(profileID)
}
