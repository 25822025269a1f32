package buffer

import (
	"testing"
	"time"

	"chat_stream_service/internal/chat/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func msg(id domain.MessageID) domain.MessageEntry {
	return domain.MessageEntry{ID: id, ConversationID: "c1", Kind: domain.KindMessage, SenderID: "bob", Content: "m"}
}

func page(ids ...domain.MessageID) []domain.MessageEntry {
	out := make([]domain.MessageEntry, len(ids))
	for i, id := range ids {
		out[i] = msg(id)
	}
	return out
}

func TestInsertInitialRejectsDisorder(t *testing.T) {
	b := New()
	require.NoError(t, b.InsertInitial(page(1, 2, 3)))

	assert.ErrorIs(t, b.InsertInitial(page(3, 2)), domain.ErrOutOfOrderData)
	assert.ErrorIs(t, b.InsertInitial(page(1, 1)), domain.ErrOutOfOrderData)
	assert.Equal(t, []domain.MessageID{1, 2, 3}, b.IDs(), "rejected input leaves the buffer untouched")
}

func TestPrepend(t *testing.T) {
	b := New()
	require.NoError(t, b.InsertInitial(page(5, 6, 7)))

	require.NoError(t, b.Prepend(page(2, 3, 4)))
	assert.Equal(t, []domain.MessageID{2, 3, 4, 5, 6, 7}, b.IDs())

	assert.ErrorIs(t, b.Prepend(page(1, 2)), domain.ErrOutOfOrderData)
	assert.ErrorIs(t, b.Prepend(page(1, 0)), domain.ErrOutOfOrderData)
	assert.NoError(t, b.Prepend(nil))
	assert.Equal(t, []domain.MessageID{2, 3, 4, 5, 6, 7}, b.IDs())
}

func TestUpsertInsertsSorted(t *testing.T) {
	b := New()
	require.NoError(t, b.InsertInitial(page(1, 4, 9)))

	assert.True(t, b.Upsert(msg(6)))
	assert.True(t, b.Upsert(msg(10)))
	assert.True(t, b.Upsert(msg(0)))
	assert.False(t, b.Upsert(msg(4)))

	assert.Equal(t, []domain.MessageID{0, 1, 4, 6, 9, 10}, b.IDs())
}

func TestUpsertMergePreservesFields(t *testing.T) {
	b := New()
	base := msg(1)
	base.Content = "hello"
	base.Reactions = []domain.Reaction{{Emoji: "👍", ProfileID: "a"}}
	require.NoError(t, b.InsertInitial([]domain.MessageEntry{base}))

	b.Upsert(domain.MessageEntry{ID: 1, Reactions: []domain.Reaction{{Emoji: "🎉", ProfileID: "b"}}, Reads: []string{"me"}})

	got, ok := b.Find(1)
	require.True(t, ok)
	assert.Equal(t, "hello", got.Content)
	assert.Len(t, got.Reactions, 2)
	assert.True(t, got.HasRead("me"))
}

func TestUpsertKeepsNewerLocalEdit(t *testing.T) {
	b := New()
	require.NoError(t, b.InsertInitial(page(1)))
	later := time.Now()
	content := "edited"
	b.Patch(domain.MessagePatch{ID: 1, Content: &content, EditedAt: &later})

	stale := msg(1)
	stale.Content = "original"
	b.Upsert(stale)

	got, _ := b.Find(1)
	assert.Equal(t, "edited", got.Content)
}

func TestPatchLastWriteWins(t *testing.T) {
	b := New()
	require.NoError(t, b.InsertInitial(page(1)))
	t1 := time.Date(2024, 1, 1, 0, 0, 2, 0, time.UTC)
	t0 := t1.Add(-time.Second)
	newer, older := "newer", "older"

	assert.True(t, b.Patch(domain.MessagePatch{ID: 1, Content: &newer, EditedAt: &t1}))
	assert.True(t, b.Patch(domain.MessagePatch{ID: 1, Content: &older, EditedAt: &t0}))
	assert.False(t, b.Patch(domain.MessagePatch{ID: 99, Content: &newer}))

	got, _ := b.Find(1)
	assert.Equal(t, "newer", got.Content)
	assert.Equal(t, t1, *got.EditedAt)
}

// P2
func TestPatchReactionIdempotent(t *testing.T) {
	b := New()
	require.NoError(t, b.InsertInitial(page(1)))

	b.PatchReaction(1, "👍", "P", true)
	b.PatchReaction(1, "👍", "P", true)
	got, _ := b.Find(1)
	assert.Equal(t, []domain.Reaction{{Emoji: "👍", ProfileID: "P"}}, got.Reactions)

	b.PatchReaction(1, "👍", "P", false)
	b.PatchReaction(1, "👍", "P", false)
	got, _ = b.Find(1)
	assert.Empty(t, got.Reactions)

	assert.False(t, b.PatchReaction(2, "👍", "P", true))
}

// P3
func TestTombstoneMonotone(t *testing.T) {
	b := New()
	require.NoError(t, b.InsertInitial(page(1)))
	require.True(t, b.MarkDeleted(1))

	revived := msg(1)
	revived.Deleted = false
	b.Upsert(revived)
	b.Replace(revived)

	got, _ := b.Find(1)
	assert.True(t, got.Deleted)

	blanked := msg(1)
	blanked.Content = ""
	blanked.Deleted = true
	b.Replace(blanked)
	got, _ = b.Find(1)
	assert.Equal(t, "m", got.Content, "content retained in memory")
}

func TestReplaceIsStoreAuthoritative(t *testing.T) {
	b := New()
	base := msg(1)
	base.Reactions = []domain.Reaction{{Emoji: "👍", ProfileID: "a"}}
	require.NoError(t, b.InsertInitial([]domain.MessageEntry{base}))

	fromStore := msg(1)
	fromStore.Content = "store copy"
	assert.True(t, b.Replace(fromStore))
	assert.False(t, b.Replace(msg(2)))

	got, _ := b.Find(1)
	assert.Equal(t, "store copy", got.Content)
	assert.Empty(t, got.Reactions)
}

func TestReplaceKeepsNewerLocalEdit(t *testing.T) {
	b := New()
	require.NoError(t, b.InsertInitial(page(1, 2)))
	at := time.Date(2024, 5, 1, 14, 0, 0, 0, time.UTC)
	newer := "live edit"
	require.True(t, b.Patch(domain.MessagePatch{ID: 1, Content: &newer, EditedAt: &at}))

	// read before the edit
	assert.True(t, b.Replace(msg(1)))
	got, _ := b.Find(1)
	assert.Equal(t, "live edit", got.Content)
	require.NotNil(t, got.EditedAt)
	assert.True(t, at.Equal(*got.EditedAt))

	// read after a later edit
	later := at.Add(time.Minute)
	fromStore := msg(1)
	fromStore.Content, fromStore.EditedAt = "later edit", &later
	assert.True(t, b.Replace(fromStore))
	got, _ = b.Find(1)
	assert.Equal(t, "later edit", got.Content)
}

func TestMarkRead(t *testing.T) {
	b := New()
	require.NoError(t, b.InsertInitial(page(1, 2)))

	assert.True(t, b.MarkRead(2, "me"))
	assert.True(t, b.MarkRead(2, "me"))
	assert.False(t, b.MarkRead(9, "me"))

	one, _ := b.Find(1)
	two, _ := b.Find(2)
	assert.Empty(t, one.Reads)
	assert.Equal(t, []string{"me"}, two.Reads)
}

func TestPendingLifecycle(t *testing.T) {
	b := New()
	require.NoError(t, b.InsertInitial(page(1, 2)))

	b.AddPending(domain.MessageEntry{LocalToken: "tok-a", Content: "a"})
	b.AddPending(domain.MessageEntry{LocalToken: "tok-b", Content: "b"})

	entries := b.Entries()
	require.Len(t, entries, 4)
	assert.True(t, entries[2].Pending)
	assert.Equal(t, []domain.MessageID{1, 2}, b.IDs(), "pending entries are not confirmed ids")

	assert.True(t, b.FailPending("tok-b"))
	assert.False(t, b.FailPending("nope"))

	confirmed := msg(3)
	confirmed.Content = "a"
	assert.True(t, b.ConfirmPending("tok-a", confirmed))

	entries = b.Entries()
	require.Len(t, entries, 4)
	assert.Equal(t, domain.MessageID(3), entries[2].ID)
	assert.False(t, entries[2].Pending)
	assert.True(t, entries[3].SendFailed)
	assert.Equal(t, 1, b.PendingLen())
}

func TestMarkAllRead(t *testing.T) {
	b := New()
	require.NoError(t, b.InsertInitial(page(1, 2)))

	assert.Equal(t, 2, b.MarkAllRead("me"))
	assert.Equal(t, 0, b.MarkAllRead("me"))
}

func TestEntriesAreCopies(t *testing.T) {
	b := New()
	require.NoError(t, b.InsertInitial(page(1)))

	entries := b.Entries()
	entries[0].Content = "mutated"

	got, _ := b.Find(1)
	assert.Equal(t, "m", got.Content)
}

func TestNormalize(t *testing.T) {
	in := page(3, 1, 2, 3)
	in[3].Reactions = []domain.Reaction{{Emoji: "👍", ProfileID: "a"}}

	out := Normalize(in)

	require.Len(t, out, 3)
	assert.Equal(t, domain.MessageID(1), out[0].ID)
	assert.Equal(t, domain.MessageID(3), out[2].ID)
	assert.Len(t, out[2].Reactions, 1)
}

func TestMinMax(t *testing.T) {
	b := New()
	_, ok := b.MinID()
	assert.False(t, ok)

	require.NoError(t, b.InsertInitial(page(4, 8)))
	min, _ := b.MinID()
	max, _ := b.MaxID()
	assert.Equal(t, domain.MessageID(4), min)
	assert.Equal(t, domain.MessageID(8), max)
}
