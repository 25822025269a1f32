package view

import (
	"context"
	"testing"
	"time"

	"chat_stream_service/internal/chat/domain"
	"chat_stream_service/internal/stream/reconcile"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	poll    = 5 * time.Millisecond
)

func (f *fixture) open(t *testing.T) {
	t.Helper()
	require.NoError(t, f.view.Open(context.Background()))
	t.Cleanup(f.view.Close)
	f.eventually(t, func(s Snapshot) bool { return s.InitialDone && s.Scroll.InitialScrollDone })
}

func (f *fixture) eventually(t *testing.T, cond func(s Snapshot) bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		s, err := f.view.Snapshot()
		return err == nil && cond(s)
	}, waitFor, poll)
}

func (f *fixture) snap(t *testing.T) Snapshot {
	t.Helper()
	s, err := f.view.Snapshot()
	require.NoError(t, err)
	return s
}

func TestView_OpenScrollsToFirstUnread(t *testing.T) {
	entries := append(peerRange(1, 15, "P"), peerRange(16, 20)...)
	f := newFixture(newStore(entries...), Options{})
	f.open(t)

	s := f.snap(t)
	assert.Len(t, s.Entries, 20)
	assert.Equal(t, 15, s.Unread.FirstUnreadIndex)
	assert.Equal(t, domain.MessageID(16), s.Unread.FirstUnreadID)
	assert.Equal(t, 5, s.Unread.Count)
	assert.Equal(t, 1300.0, f.pres.top(), "first unread row centered")
}

func TestView_OpenWithoutUnreadScrollsToBottom(t *testing.T) {
	f := newFixture(newStore(peerRange(1, 10, "P")...), Options{})
	f.open(t)

	assert.Equal(t, 500.0, f.pres.top())
	assert.Equal(t, 0, f.snap(t).Unread.Count)
}

func withImages(entries []domain.MessageEntry, idx ...int) []domain.MessageEntry {
	for _, i := range idx {
		entries[i].ImageURL = "http://files/" + entries[i].ID.String() + ".png"
	}
	return entries
}

func (f *fixture) openLoading(t *testing.T) {
	t.Helper()
	require.NoError(t, f.view.Open(context.Background()))
	t.Cleanup(f.view.Close)
	f.eventually(t, func(s Snapshot) bool { return s.InitialDone })
	require.False(t, f.pres.snapshot().Scroll.InitialScrollDone, "waiting for images")
}

func TestView_LastImageFinishesInitialScroll(t *testing.T) {
	f := newFixture(newStore(withImages(peerRange(1, 6, "P"), 4, 5)...), Options{})
	f.openLoading(t)

	f.view.ImageLoaded()
	f.view.ImageLoaded()
	require.Eventually(t, func() bool {
		return f.pres.snapshot().Scroll.InitialScrollDone
	}, waitFor, poll, "presenter sees the finished initial scroll")
	assert.Equal(t, 100.0, f.pres.top())
}

func TestView_ImageFallbackFinishesInitialScroll(t *testing.T) {
	f := newFixture(newStore(withImages(peerRange(1, 6, "P"), 5)...), Options{})
	f.openLoading(t)

	f.clock.Advance(2 * time.Second)
	require.Eventually(t, func() bool {
		return f.pres.snapshot().Scroll.InitialScrollDone
	}, waitFor, poll)
}

func TestView_LiveMessageFollowsLiveEdge(t *testing.T) {
	f := newFixture(newStore(peerRange(1, 10, "P")...), Options{})
	f.open(t)

	f.bus.emit(mustEvent(domain.EventMessage, entry(11, "peer")))
	f.eventually(t, func(s Snapshot) bool { return len(s.Entries) == 11 })
	require.Eventually(t, func() bool { return f.pres.top() == 600 }, waitFor, poll)
}

func TestView_ScrollAwayThenBackCommitsUnread(t *testing.T) {
	f := newFixture(newStore(peerRange(1, 10, "P")...), Options{})
	f.open(t)
	f.clock.Advance(time.Second)

	f.pres.setTop(100)
	f.view.Scroll()
	f.clock.Advance(200 * time.Millisecond)
	f.eventually(t, func(s Snapshot) bool { return s.Scroll.UserHasScrolled })

	f.bus.emit(mustEvent(domain.EventMessage, entry(11, "peer")))
	f.eventually(t, func(s Snapshot) bool { return s.Unread.Count == 1 })
	assert.Equal(t, 100.0, f.pres.top(), "no auto-scroll while away")
	assert.Equal(t, 0, f.store.markReadCount())

	f.pres.setTop(600)
	f.view.Scroll()
	f.clock.Advance(200 * time.Millisecond)
	f.eventually(t, func(s Snapshot) bool { return !s.Scroll.UserHasScrolled && s.Unread.Count == 0 })
	require.Eventually(t, func() bool { return f.store.markReadCount() == 1 }, waitFor, poll)

	last := f.snap(t).Entries[10]
	assert.True(t, last.HasRead("P"))
}

func TestView_DismissUnread(t *testing.T) {
	f := newFixture(newStore(peerRange(1, 3)...), Options{})
	f.open(t)
	require.Equal(t, 3, f.snap(t).Unread.Count)

	f.view.DismissUnread()
	s := f.snap(t)
	assert.Equal(t, 0, s.Unread.Count)
	assert.Equal(t, -1, s.Unread.FirstUnreadIndex)
	for _, e := range s.Entries {
		assert.True(t, e.HasRead("P"))
	}
	require.Eventually(t, func() bool { return f.store.markReadCount() == 1 }, waitFor, poll)
}

func TestView_ReachingTopLoadsOlderAndPreservesPosition(t *testing.T) {
	f := newFixture(newStore(peerRange(1, 120, "P")...), Options{})
	f.open(t)
	require.Len(t, f.snap(t).Entries, 50)
	f.clock.Advance(time.Second)

	f.pres.setTop(0)
	f.view.Scroll()

	f.eventually(t, func(s Snapshot) bool { return len(s.Entries) == 100 && !s.Loading })
	assert.Equal(t, 5000.0, f.pres.top())
	assert.Equal(t, domain.MessageID(21), f.snap(t).Entries[0].ID)
}

func TestView_LoadMoreUntilExhausted(t *testing.T) {
	f := newFixture(newStore(peerRange(1, 60, "P")...), Options{})
	f.open(t)

	require.True(t, f.view.LoadMore())
	f.eventually(t, func(s Snapshot) bool { return len(s.Entries) == 60 && !s.Loading })
	require.True(t, f.view.LoadMore())
	f.eventually(t, func(s Snapshot) bool { return s.Exhausted })
	assert.False(t, f.view.LoadMore())
}

func TestView_SendAndJumpToLatest(t *testing.T) {
	f := newFixture(newStore(peerRange(1, 10, "P")...), Options{})
	f.open(t)

	token, err := f.view.Send("hello", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	f.eventually(t, func(s Snapshot) bool {
		return len(s.Entries) == 11 && !s.Entries[10].Pending && s.Entries[10].ID == 11
	})
	require.Eventually(t, func() bool { return f.pres.top() == 600 }, waitFor, poll)

	_, err = f.view.Send("", nil)
	assert.ErrorIs(t, err, domain.ErrEmptyMessage)
}

func TestView_SendWithAttachment(t *testing.T) {
	f := newFixture(newStore(peerRange(1, 2, "P")...), Options{})
	f.open(t)

	_, err := f.view.SendWithAttachment(context.Background(), "look", "cat.png", []byte("png"), nil)
	require.NoError(t, err)
	f.eventually(t, func(s Snapshot) bool {
		return len(s.Entries) == 3 && s.Entries[2].ImageURL == "http://files/conv-1/cat.png" && !s.Entries[2].Pending
	})
}

func TestView_SendWithAttachmentUploadFailure(t *testing.T) {
	store := newStore(peerRange(1, 2, "P")...)
	store.uploadErr = errors.New("bucket unavailable")
	f := newFixture(store, Options{})
	f.open(t)

	_, err := f.view.SendWithAttachment(context.Background(), "look", "cat.png", []byte("png"), nil)
	assert.ErrorIs(t, err, domain.ErrUploadFailure)

	s := f.snap(t)
	assert.Len(t, s.Entries, 2, "no pending entry")
}

func TestView_TypingIndicator(t *testing.T) {
	f := newFixture(newStore(peerRange(1, 2, "P")...), Options{TypingExpiry: time.Second})
	f.open(t)

	f.bus.emit(mustEvent(domain.EventUserTyping, domain.TypingPayload{ProfileID: "Q", Username: "pat"}))
	f.bus.emit(mustEvent(domain.EventUserTyping, domain.TypingPayload{ProfileID: "P", Username: "me"}))
	f.eventually(t, func(s Snapshot) bool { return len(s.Typers) == 1 && s.Typers[0] == "pat" })

	f.clock.Advance(2 * time.Second)
	f.eventually(t, func(s Snapshot) bool { return len(s.Typers) == 0 })
	require.Eventually(t, func() bool { return len(f.pres.snapshot().Typers) == 0 }, waitFor, poll)
}

func TestView_TypingThrottle(t *testing.T) {
	f := newFixture(newStore(peerRange(1, 2, "P")...), Options{})
	f.open(t)

	assert.True(t, f.view.Typing())
	assert.False(t, f.view.Typing())
	f.clock.Advance(2 * time.Second)
	assert.True(t, f.view.Typing())

	_, err := f.view.Send("done", nil)
	require.NoError(t, err)
	assert.True(t, f.view.Typing(), "a send starts a new session")
	require.Eventually(t, func() bool { return f.bus.typingCount() == 3 }, waitFor, poll)
}

func TestView_EditDeleteReact(t *testing.T) {
	store := newStore(entry(1, "P"), entry(2, "peer", "P"))
	f := newFixture(store, Options{})
	f.open(t)

	assert.True(t, f.view.Edit(1, "fixed"))
	assert.True(t, f.view.React(2, "👍"))
	assert.True(t, f.view.Delete(1))
	assert.False(t, f.view.Edit(42, "missing"))

	s := f.snap(t)
	assert.Equal(t, "fixed", s.Entries[0].Content)
	assert.True(t, s.Entries[0].Deleted)
	assert.True(t, s.Entries[1].HasReaction("👍", "P"))
}

func TestView_FocusRefetches(t *testing.T) {
	store := newStore(peerRange(1, 3, "P")...)
	f := newFixture(store, Options{})
	f.open(t)

	store.mu.Lock()
	store.msgs = append(store.msgs, entry(4, "peer"), entry(5, "peer"))
	store.msgs[0].Content = "changed"
	store.mu.Unlock()

	assert.True(t, f.view.Focus())
	f.eventually(t, func(s Snapshot) bool {
		return len(s.Entries) == 5 && s.Entries[0].Content == "changed" && !s.Loading
	})
}

func TestView_Close(t *testing.T) {
	f := newFixture(newStore(peerRange(1, 3)...), Options{})
	require.NoError(t, f.view.Open(context.Background()))

	f.view.Close()
	f.view.Close()

	_, err := f.view.Snapshot()
	assert.ErrorIs(t, err, reconcile.ErrClosed)
	_, err = f.view.Send("late", nil)
	assert.ErrorIs(t, err, reconcile.ErrClosed)
	assert.False(t, f.view.LoadMore())
	assert.ErrorIs(t, f.view.Open(context.Background()), reconcile.ErrClosed)
}
