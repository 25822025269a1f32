package repository

import (
	"context"
	"time"

	"chat_stream_service/internal/chat/domain"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type messageRow struct {
	ID             int64  `gorm:"primaryKey;autoIncrement"`
	ConversationID string `gorm:"index:idx_conv_id,priority:1;not null"`
	Kind           string `gorm:"not null"`
	Content        string
	ImageURL       string
	SenderID       string `gorm:"index"`
	SenderUsername string
	SenderAvatar   string
	CreatedAt      time.Time
	EditedAt       *time.Time
	Deleted        bool
	ParentID       *int64

	ParentContent        string
	ParentImageURL       string
	ParentSenderID       string
	ParentSenderUsername string
}

func (messageRow) TableName() string { return "messages" }

type reactionRow struct {
	MessageID int64  `gorm:"primaryKey;autoIncrement:false"`
	Emoji     string `gorm:"primaryKey"`
	ProfileID string `gorm:"primaryKey"`
	CreatedAt time.Time
}

func (reactionRow) TableName() string { return "message_reactions" }

type readRow struct {
	MessageID int64  `gorm:"primaryKey;autoIncrement:false"`
	ProfileID string `gorm:"primaryKey"`
}

func (readRow) TableName() string { return "message_reads" }

type gormMessageRepository struct {
	db *gorm.DB
}

// NewGormMessageRepository create a postgres MessageRepository, tables are migrated on creation
func NewGormMessageRepository(db *gorm.DB) (MessageRepository, error) {
	if err := db.AutoMigrate(&messageRow{}, &reactionRow{}, &readRow{}); err != nil {
		return nil, errors.Wrap(err, "migrate message tables")
	}
	return &gormMessageRepository{db: db}, nil
}

func toRow(e *domain.MessageEntry) *messageRow {
	row := &messageRow{
		ID:             int64(e.ID),
		ConversationID: e.ConversationID,
		Kind:           string(e.Kind),
		Content:        e.Content,
		ImageURL:       e.ImageURL,
		SenderID:       e.SenderID,
		SenderUsername: e.SenderUsername,
		SenderAvatar:   e.SenderAvatar,
		CreatedAt:      e.CreatedAt,
		EditedAt:       e.EditedAt,
		Deleted:        e.Deleted,
	}
	if e.ParentID != nil {
		p := int64(*e.ParentID)
		row.ParentID = &p
	}
	if s := e.ParentSnapshot; s != nil {
		row.ParentContent = s.Content
		row.ParentImageURL = s.ImageURL
		row.ParentSenderID = s.SenderID
		row.ParentSenderUsername = s.SenderUsername
	}
	return row
}

func fromRow(row messageRow) domain.MessageEntry {
	e := domain.MessageEntry{
		ID:             domain.MessageID(row.ID),
		ConversationID: row.ConversationID,
		Kind:           domain.MessageKind(row.Kind),
		Content:        row.Content,
		ImageURL:       row.ImageURL,
		SenderID:       row.SenderID,
		SenderUsername: row.SenderUsername,
		SenderAvatar:   row.SenderAvatar,
		CreatedAt:      row.CreatedAt,
		EditedAt:       row.EditedAt,
		Deleted:        row.Deleted,
	}
	if row.ParentID != nil {
		p := domain.MessageID(*row.ParentID)
		e.ParentID = &p
		e.ParentSnapshot = &domain.ParentSnapshot{
			ID:             p,
			Content:        row.ParentContent,
			ImageURL:       row.ParentImageURL,
			SenderID:       row.ParentSenderID,
			SenderUsername: row.ParentSenderUsername,
		}
	}
	return e
}

// load rows plus their reactions and reads, ascending by id
func (r *gormMessageRepository) load(ctx context.Context, q *gorm.DB, desc bool) ([]domain.MessageEntry, error) {
	order := "id ASC"
	if desc {
		order = "id DESC"
	}
	var rows []messageRow
	if err := q.WithContext(ctx).Order(order).Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "find messages")
	}

	entries := make([]domain.MessageEntry, 0, len(rows))
	if len(rows) == 0 {
		return entries, nil
	}

	ids := make([]int64, len(rows))
	index := make(map[int64]int, len(rows))
	for i, row := range rows {
		ids[i] = row.ID
		index[row.ID] = i
		entries = append(entries, fromRow(row))
	}

	var reactions []reactionRow
	if err := r.db.WithContext(ctx).Where("message_id IN ?", ids).Order("created_at ASC").Find(&reactions).Error; err != nil {
		return nil, errors.Wrap(err, "find reactions")
	}
	for _, re := range reactions {
		i := index[re.MessageID]
		entries[i].Reactions = append(entries[i].Reactions, domain.Reaction{Emoji: re.Emoji, ProfileID: re.ProfileID})
	}

	var reads []readRow
	if err := r.db.WithContext(ctx).Where("message_id IN ?", ids).Find(&reads).Error; err != nil {
		return nil, errors.Wrap(err, "find reads")
	}
	for _, rd := range reads {
		i := index[rd.MessageID]
		entries[i].Reads = append(entries[i].Reads, rd.ProfileID)
	}

	if desc {
		reverse(entries)
	}
	return entries, nil
}

func (r *gormMessageRepository) FindLatest(ctx context.Context, conversationID string, limit int) ([]domain.MessageEntry, error) {
	q := r.db.Where("conversation_id = ?", conversationID).Limit(limit)
	return r.load(ctx, q, true)
}

func (r *gormMessageRepository) FindBefore(ctx context.Context, conversationID string, before domain.MessageID, limit int) ([]domain.MessageEntry, error) {
	q := r.db.Where("conversation_id = ? AND id < ?", conversationID, int64(before)).Limit(limit)
	return r.load(ctx, q, true)
}

func (r *gormMessageRepository) FindAfter(ctx context.Context, conversationID string, after domain.MessageID, limit int) ([]domain.MessageEntry, error) {
	q := r.db.Where("conversation_id = ? AND id > ?", conversationID, int64(after)).Limit(limit)
	return r.load(ctx, q, false)
}

func (r *gormMessageRepository) FindByIDs(ctx context.Context, conversationID string, ids []domain.MessageID) ([]domain.MessageEntry, error) {
	if len(ids) == 0 {
		return []domain.MessageEntry{}, nil
	}
	raw := make([]int64, len(ids))
	for i, id := range ids {
		raw[i] = int64(id)
	}
	q := r.db.Where("conversation_id = ? AND id IN ?", conversationID, raw)
	return r.load(ctx, q, false)
}

func (r *gormMessageRepository) FindByID(ctx context.Context, id domain.MessageID) (*domain.MessageEntry, error) {
	entries, err := r.load(ctx, r.db.Where("id = ?", int64(id)), false)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, errors.Wrapf(domain.ErrMessageNotFound, "id %s", id)
	}
	return &entries[0], nil
}

func (r *gormMessageRepository) Insert(ctx context.Context, entry *domain.MessageEntry) error {
	row := toRow(entry)
	row.ID = 0
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return errors.Wrap(err, "insert message")
	}
	entry.ID = domain.MessageID(row.ID)
	return nil
}

func (r *gormMessageRepository) updates(ctx context.Context, id domain.MessageID, values map[string]interface{}) error {
	res := r.db.WithContext(ctx).Model(&messageRow{}).Where("id = ?", int64(id)).Updates(values)
	if res.Error != nil {
		return errors.Wrap(res.Error, "update message")
	}
	if res.RowsAffected == 0 {
		return errors.Wrapf(domain.ErrMessageNotFound, "id %s", id)
	}
	return nil
}

func (r *gormMessageRepository) UpdateContent(ctx context.Context, id domain.MessageID, content string, editedAt time.Time) error {
	return r.updates(ctx, id, map[string]interface{}{"content": content, "edited_at": editedAt})
}

func (r *gormMessageRepository) SoftDelete(ctx context.Context, id domain.MessageID) error {
	return r.updates(ctx, id, map[string]interface{}{"deleted": true, "content": "", "image_url": ""})
}

func (r *gormMessageRepository) exists(ctx context.Context, id domain.MessageID) error {
	var count int64
	if err := r.db.WithContext(ctx).Model(&messageRow{}).Where("id = ?", int64(id)).Count(&count).Error; err != nil {
		return errors.Wrap(err, "find message")
	}
	if count == 0 {
		return errors.Wrapf(domain.ErrMessageNotFound, "id %s", id)
	}
	return nil
}

func (r *gormMessageRepository) AddReaction(ctx context.Context, id domain.MessageID, reaction domain.Reaction) (bool, error) {
	if err := r.exists(ctx, id); err != nil {
		return false, err
	}
	row := reactionRow{MessageID: int64(id), Emoji: reaction.Emoji, ProfileID: reaction.ProfileID, CreatedAt: time.Now()}
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return false, errors.Wrap(res.Error, "add reaction")
	}
	return res.RowsAffected > 0, nil
}

func (r *gormMessageRepository) RemoveReaction(ctx context.Context, id domain.MessageID, reaction domain.Reaction) (bool, error) {
	if err := r.exists(ctx, id); err != nil {
		return false, err
	}
	res := r.db.WithContext(ctx).
		Where("message_id = ? AND emoji = ? AND profile_id = ?", int64(id), reaction.Emoji, reaction.ProfileID).
		Delete(&reactionRow{})
	if res.Error != nil {
		return false, errors.Wrap(res.Error, "remove reaction")
	}
	return res.RowsAffected > 0, nil
}

func (r *gormMessageRepository) MarkRead(ctx context.Context, conversationID, profileID string) error {
	err := r.db.WithContext(ctx).Exec(
		`INSERT INTO message_reads (message_id, profile_id)
		 SELECT id, ? FROM messages WHERE conversation_id = ? AND sender_id <> ?
		 ON CONFLICT DO NOTHING`,
		profileID, conversationID, profileID,
	).Error
	return errors.Wrap(err, "mark read")
}
