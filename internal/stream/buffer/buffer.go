// Package buffer holds the ordered entries of one open conversation.
//
// Confirmed entries are kept sorted ascending by id with unique ids and a
// monotone tombstone. Pending (optimistic) entries live in a separate tail
// that is rendered after the confirmed entries and never takes part in the
// ordering.
package buffer

import (
	"sort"
	"time"

	"chat_stream_service/internal/chat/domain"

	"github.com/pkg/errors"
)

// Buffer is not safe for concurrent use; its owner serializes access.
type Buffer struct {
	entries []domain.MessageEntry
	pending []domain.MessageEntry
}

// New create an empty buffer
func New() *Buffer {
	return &Buffer{}
}

func strictlyAscending(entries []domain.MessageEntry) bool {
	for i := 1; i < len(entries); i++ {
		if entries[i].ID <= entries[i-1].ID {
			return false
		}
	}
	return true
}

func cloneAll(entries []domain.MessageEntry) []domain.MessageEntry {
	out := make([]domain.MessageEntry, len(entries))
	for i := range entries {
		out[i] = entries[i].Clone()
		out[i].Pending = false
		out[i].LocalToken = ""
		out[i].SendFailed = false
	}
	return out
}

// InsertInitial replace the confirmed entries. Input must be strictly ascending.
func (b *Buffer) InsertInitial(entries []domain.MessageEntry) error {
	if !strictlyAscending(entries) {
		return errors.Wrap(domain.ErrOutOfOrderData, "initial page")
	}
	b.entries = cloneAll(entries)
	return nil
}

// Prepend insert older entries at the head. Every id must be below the
// current minimum and the page strictly ascending.
func (b *Buffer) Prepend(entries []domain.MessageEntry) error {
	if len(entries) == 0 {
		return nil
	}
	if !strictlyAscending(entries) {
		return errors.Wrap(domain.ErrOutOfOrderData, "older page not ascending")
	}
	if min, ok := b.MinID(); ok && entries[len(entries)-1].ID >= min {
		return errors.Wrapf(domain.ErrOutOfOrderData, "older page reaches id %s, buffer starts at %s",
			entries[len(entries)-1].ID, min)
	}
	b.entries = append(cloneAll(entries), b.entries...)
	return nil
}

func (b *Buffer) search(id domain.MessageID) (int, bool) {
	i := sort.Search(len(b.entries), func(i int) bool { return b.entries[i].ID >= id })
	return i, i < len(b.entries) && b.entries[i].ID == id
}

func (b *Buffer) get(id domain.MessageID) *domain.MessageEntry {
	if i, ok := b.search(id); ok {
		return &b.entries[i]
	}
	return nil
}

// newerEdit reports whether an edit stamped at incoming may replace one stamped at current
func newerEdit(current, incoming *time.Time) bool {
	if current == nil {
		return true
	}
	if incoming == nil {
		return false
	}
	return !incoming.Before(*current)
}

// merge patch src into dst. Zero fields of src are treated as absent.
func merge(dst *domain.MessageEntry, src domain.MessageEntry) {
	if newerEdit(dst.EditedAt, src.EditedAt) {
		if src.Content != "" {
			dst.Content = src.Content
		}
		if src.ImageURL != "" {
			dst.ImageURL = src.ImageURL
		}
		if src.EditedAt != nil {
			t := *src.EditedAt
			dst.EditedAt = &t
		}
	}
	if src.ConversationID != "" {
		dst.ConversationID = src.ConversationID
	}
	if src.Kind != "" {
		dst.Kind = src.Kind
	}
	if src.SenderID != "" {
		dst.SenderID = src.SenderID
	}
	if src.SenderUsername != "" {
		dst.SenderUsername = src.SenderUsername
	}
	if src.SenderAvatar != "" {
		dst.SenderAvatar = src.SenderAvatar
	}
	if dst.CreatedAt.IsZero() {
		dst.CreatedAt = src.CreatedAt
	}
	if dst.ParentID == nil && src.ParentID != nil {
		p := *src.ParentID
		dst.ParentID = &p
	}
	if dst.ParentSnapshot == nil && src.ParentSnapshot != nil {
		s := *src.ParentSnapshot
		dst.ParentSnapshot = &s
	}
	for _, r := range src.Reactions {
		dst.AddReaction(r.Emoji, r.ProfileID)
	}
	for _, p := range src.Reads {
		dst.AddRead(p)
	}
	dst.Deleted = dst.Deleted || src.Deleted
}

// Upsert merge into an existing id or insert at its sorted position.
// Returns true when the entry was new.
func (b *Buffer) Upsert(entry domain.MessageEntry) bool {
	i, ok := b.search(entry.ID)
	if ok {
		merge(&b.entries[i], entry)
		return false
	}
	e := entry.Clone()
	e.Pending, e.LocalToken, e.SendFailed = false, "", false
	b.entries = append(b.entries, domain.MessageEntry{})
	copy(b.entries[i+1:], b.entries[i:])
	b.entries[i] = e
	return true
}

// Replace overwrite an existing id with the store's copy. The tombstone stays
// set and a newer local edit is kept. Returns false when the id is absent.
func (b *Buffer) Replace(entry domain.MessageEntry) bool {
	i, ok := b.search(entry.ID)
	if !ok {
		return false
	}
	cur := b.entries[i]
	e := entry.Clone()
	e.Pending, e.LocalToken, e.SendFailed = false, "", false
	e.Deleted = e.Deleted || cur.Deleted
	if cur.Deleted && e.Content == "" && e.ImageURL == "" {
		e.Content, e.ImageURL = cur.Content, cur.ImageURL
	}
	if cur.EditedAt != nil && !newerEdit(cur.EditedAt, entry.EditedAt) {
		t := *cur.EditedAt
		e.Content, e.ImageURL, e.EditedAt = cur.Content, cur.ImageURL, &t
	}
	b.entries[i] = e
	return true
}

// Patch apply an edit; edits older than the current editedAt are ignored.
// Returns false when the id is absent.
func (b *Buffer) Patch(p domain.MessagePatch) bool {
	e := b.get(p.ID)
	if e == nil {
		return false
	}
	if !newerEdit(e.EditedAt, p.EditedAt) {
		return true
	}
	if p.Content != nil {
		e.Content = *p.Content
	}
	if p.ImageURL != nil {
		e.ImageURL = *p.ImageURL
	}
	if p.EditedAt != nil {
		t := *p.EditedAt
		e.EditedAt = &t
	}
	return true
}

// MarkDeleted set the tombstone, content stays in memory
func (b *Buffer) MarkDeleted(id domain.MessageID) bool {
	e := b.get(id)
	if e == nil {
		return false
	}
	e.Deleted = true
	return true
}

// PatchReaction add or remove one {emoji, profile} pair; repeating it is a no-op.
// Returns false when the id is absent.
func (b *Buffer) PatchReaction(id domain.MessageID, emoji, profileID string, add bool) bool {
	e := b.get(id)
	if e == nil {
		return false
	}
	if add {
		e.AddReaction(emoji, profileID)
	} else {
		e.RemoveReaction(emoji, profileID)
	}
	return true
}

// MarkAllRead add profileID to the reads of every confirmed entry, returns how many changed
func (b *Buffer) MarkAllRead(profileID string) int {
	n := 0
	for i := range b.entries {
		if b.entries[i].AddRead(profileID) {
			n++
		}
	}
	return n
}

// MarkRead add profileID to the reads of one confirmed entry.
// Returns false when the id is absent.
func (b *Buffer) MarkRead(id domain.MessageID, profileID string) bool {
	e := b.get(id)
	if e == nil {
		return false
	}
	e.AddRead(profileID)
	return true
}

// AddPending append an optimistic entry identified by entry.LocalToken
func (b *Buffer) AddPending(entry domain.MessageEntry) {
	e := entry.Clone()
	e.Pending = true
	e.SendFailed = false
	b.pending = append(b.pending, e)
}

func (b *Buffer) pendingIndex(token string) int {
	for i := range b.pending {
		if b.pending[i].LocalToken == token {
			return i
		}
	}
	return -1
}

// ConfirmPending drop the pending entry for token and upsert the confirmed one.
// Returns false when no pending entry carries token; the entry is upserted anyway.
func (b *Buffer) ConfirmPending(token string, entry domain.MessageEntry) bool {
	i := b.pendingIndex(token)
	if i >= 0 {
		b.pending = append(b.pending[:i], b.pending[i+1:]...)
	}
	b.Upsert(entry)
	return i >= 0
}

// FailPending flag the pending entry for token as failed
func (b *Buffer) FailPending(token string) bool {
	i := b.pendingIndex(token)
	if i < 0 {
		return false
	}
	b.pending[i].SendFailed = true
	return true
}

// Entries confirmed entries followed by pending ones, as copies
func (b *Buffer) Entries() []domain.MessageEntry {
	out := make([]domain.MessageEntry, 0, len(b.entries)+len(b.pending))
	for i := range b.entries {
		out = append(out, b.entries[i].Clone())
	}
	for i := range b.pending {
		out = append(out, b.pending[i].Clone())
	}
	return out
}

// Len confirmed plus pending entries
func (b *Buffer) Len() int {
	return len(b.entries) + len(b.pending)
}

// PendingLen number of optimistic entries
func (b *Buffer) PendingLen() int {
	return len(b.pending)
}

// Find a confirmed entry by id
func (b *Buffer) Find(id domain.MessageID) (domain.MessageEntry, bool) {
	if e := b.get(id); e != nil {
		return e.Clone(), true
	}
	return domain.MessageEntry{}, false
}

// MinID smallest confirmed id
func (b *Buffer) MinID() (domain.MessageID, bool) {
	if len(b.entries) == 0 {
		return 0, false
	}
	return b.entries[0].ID, true
}

// MaxID largest confirmed id
func (b *Buffer) MaxID() (domain.MessageID, bool) {
	if len(b.entries) == 0 {
		return 0, false
	}
	return b.entries[len(b.entries)-1].ID, true
}

// IDs confirmed ids ascending
func (b *Buffer) IDs() []domain.MessageID {
	ids := make([]domain.MessageID, len(b.entries))
	for i := range b.entries {
		ids[i] = b.entries[i].ID
	}
	return ids
}

// Normalize sort a page ascending by id and collapse repeated ids into one merged entry
func Normalize(entries []domain.MessageEntry) []domain.MessageEntry {
	sorted := make([]domain.MessageEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	out := sorted[:0]
	for _, e := range sorted {
		if n := len(out); n > 0 && out[n-1].ID == e.ID {
			merge(&out[n-1], e)
			continue
		}
		out = append(out, e.Clone())
	}
	return out
}
