// Package view runs one open conversation: the reconciliation engine, scroll,
// unread and typing state live on a single loop goroutine and every input is
// posted onto it.
package view

import (
	"context"
	"slices"
	"sync"
	"time"

	"chat_stream_service/internal/chat/domain"
	"chat_stream_service/internal/stream/reconcile"
	"chat_stream_service/internal/stream/scroll"
	"chat_stream_service/internal/stream/typing"
	"chat_stream_service/internal/stream/unread"
	"chat_stream_service/pkg/logger"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// DefaultTickInterval loop timer resolution for debounce, expiry and fallbacks
const DefaultTickInterval = 50 * time.Millisecond

// Presenter renders snapshots and exposes the scrollable surface.
// Render is called on the loop goroutine and must update the layout before
// returning so Metrics reflects it.
type Presenter interface {
	scroll.Viewport
	Render(s Snapshot)
}

// Snapshot read-only state for the presentation layer
type Snapshot struct {
	Entries     []domain.MessageEntry
	Unread      unread.Boundary
	Typers      []string
	Scroll      scroll.State
	Exhausted   bool
	Loading     bool
	InitialDone bool
}

// Options view tunables, zero values use the package defaults
type Options struct {
	PageSize        int
	MaxOrphans      int
	MaxRefetchPages int
	Scroll          scroll.Config
	TypingExpiry    time.Duration
	TypingThrottle  time.Duration
	TickInterval    time.Duration
	Logger          *logger.LogInfo
	Now             func() time.Time
}

type effects struct {
	dirty    bool
	initial  bool
	prepend  bool
	appended int
	sent     bool
}

// View ConversationView
type View struct {
	conv   string
	me     reconcile.Identity
	store  reconcile.MessageStore
	pres   Presenter
	now    func() time.Time
	log    *logger.LogInfo
	engine *reconcile.Engine
	scroll *scroll.Coordinator
	unread *unread.Tracker
	typing *typing.Tracker

	fx         effects
	lastTypers []string

	ops       chan func()
	done      chan struct{}
	closeOnce sync.Once
	openOnce  sync.Once
}

// loopExecutor jobs on their own goroutine, completions onto the loop
type loopExecutor struct {
	v *View
}

func (e loopExecutor) Go(job func()) { go job() }

func (e loopExecutor) Post(done func()) {
	select {
	case e.v.ops <- done:
	case <-e.v.done:
	}
}

// New create a View and start its loop; call Open to load the conversation
func New(conversationID string, me reconcile.Identity, store reconcile.MessageStore, bus reconcile.EventBus, pres Presenter, opts Options) *View {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logger.Log
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}

	v := &View{
		conv:   conversationID,
		me:     me,
		store:  store,
		pres:   pres,
		now:    opts.Now,
		log:    opts.Logger.With(zap.String("conversation_id", conversationID)),
		typing: typing.New(me.ProfileID, opts.TypingExpiry, opts.TypingThrottle),
		ops:    make(chan func(), 64),
		done:   make(chan struct{}),
	}

	v.engine = reconcile.New(conversationID, me, store, bus, loopExecutor{v: v}, reconcile.Options{
		PageSize:        opts.PageSize,
		MaxOrphans:      opts.MaxOrphans,
		MaxRefetchPages: opts.MaxRefetchPages,
		Logger:          opts.Logger,
		Now:             opts.Now,
		Hooks: reconcile.Hooks{
			InitialLoaded: func() { v.fx.initial = true },
			BeforePrepend: func() { v.scroll.BeforePrepend() },
			AfterPrepend:  func(int) { v.fx.prepend = true },
			Appended:      func(n int) { v.fx.appended += n },
			Typing: func(p domain.TypingPayload) {
				if v.typing.Observe(p, v.now()) {
					v.fx.dirty = true
				}
			},
			Changed: func() { v.fx.dirty = true },
		},
	})
	v.scroll = scroll.New(pres, opts.Scroll, scroll.Handlers{
		UserScrolledChanged: func(scrolled bool) {
			v.unread.ScrollChanged(scrolled)
			v.fx.dirty = true
		},
		ReachedTop: func() { v.engine.LoadOlder() },
	})
	v.unread = unread.New(me.ProfileID, v.engine)

	go v.run(opts.TickInterval)
	return v
}

func (v *View) run(tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case f := <-v.ops:
			f()
			v.settle()
		case <-ticker.C:
			v.tick()
			v.settle()
		case <-v.done:
			return
		}
	}
}

// do run f on the loop and wait for it
func (v *View) do(f func()) error {
	ran := make(chan struct{})
	select {
	case v.ops <- func() { f(); close(ran) }:
	case <-v.done:
		return reconcile.ErrClosed
	}
	select {
	case <-ran:
		return nil
	case <-v.done:
		return reconcile.ErrClosed
	}
}

func (v *View) tick() {
	now := v.now()
	before := v.scroll.State()
	v.scroll.Tick(now)
	typers := v.typing.Typers(now)
	if v.scroll.State() != before || !slices.Equal(typers, v.lastTypers) {
		v.fx.dirty = true
	}
}

func countImages(entries []domain.MessageEntry) int {
	n := 0
	for i := range entries {
		if entries[i].ImageURL != "" && !entries[i].Deleted {
			n++
		}
	}
	return n
}

// settle render once per loop turn, then apply the scroll effects the turn produced
func (v *View) settle() {
	fx := v.fx
	v.fx = effects{}
	if fx == (effects{}) {
		return
	}

	entries := v.engine.Buffer().Entries()
	boundary := v.unread.Recompute(entries)
	before := v.scroll.State()
	v.render(entries)

	now := v.now()
	if fx.prepend {
		v.scroll.AfterPrepend(now)
	}
	if fx.initial {
		var target *domain.MessageID
		if boundary.Count > 0 {
			id := boundary.FirstUnreadID
			target = &id
		}
		v.scroll.InitialLoaded(target, countImages(entries), now)
	}
	if fx.appended > 0 {
		v.scroll.Appended(fx.appended, now)
	}
	if fx.sent {
		v.scroll.JumpToLatest(now)
	}

	// a commit from the scroll handlers changes the buffer again
	if v.fx.dirty || v.scroll.State() != before {
		v.fx = effects{}
		v.render(v.engine.Buffer().Entries())
	}
}

func (v *View) snapshot(entries []domain.MessageEntry) Snapshot {
	return Snapshot{
		Entries:     entries,
		Unread:      v.unread.Recompute(entries),
		Typers:      v.typing.Typers(v.now()),
		Scroll:      v.scroll.State(),
		Exhausted:   v.engine.Exhausted(),
		Loading:     v.engine.Loading(),
		InitialDone: v.engine.InitialDone(),
	}
}

func (v *View) render(entries []domain.MessageEntry) {
	s := v.snapshot(entries)
	v.lastTypers = s.Typers
	v.pres.Render(s)
}

// Open subscribe and load the newest page
func (v *View) Open(ctx context.Context) error {
	var err error = reconcile.ErrClosed
	v.openOnce.Do(func() {
		err = v.do(func() { v.engine.Open(ctx) })
	})
	return err
}

// Close tear down; late completions are dropped. Safe to call more than once.
func (v *View) Close() {
	v.closeOnce.Do(func() {
		_ = v.do(func() {
			v.engine.Close()
			v.scroll.Reset()
			v.unread.Reset()
			v.typing.Reset()
			v.fx = effects{}
		})
		close(v.done)
		v.log.Debug("view closed")
	})
}

// Snapshot current state
func (v *View) Snapshot() (Snapshot, error) {
	var s Snapshot
	err := v.do(func() { s = v.snapshot(v.engine.Buffer().Entries()) })
	return s, err
}

// Send text message, optionally replying to parentID. Returns the pending entry's token.
func (v *View) Send(content string, parentID *domain.MessageID) (string, error) {
	return v.send(content, "", parentID)
}

func (v *View) send(content, imageURL string, parentID *domain.MessageID) (string, error) {
	var token string
	var sendErr error
	err := v.do(func() {
		token, sendErr = v.engine.Send(content, imageURL, parentID)
		if sendErr == nil {
			v.typing.NewSession()
			v.fx.sent = true
		}
	})
	if err != nil {
		return "", err
	}
	return token, sendErr
}

// SendWithAttachment upload the image, then send it. An upload failure is
// returned and no pending entry is created.
func (v *View) SendWithAttachment(ctx context.Context, content, filename string, body []byte, parentID *domain.MessageID) (string, error) {
	url, err := v.store.UploadAttachment(ctx, v.conv, filename, body)
	if err != nil {
		if !errors.Is(err, domain.ErrUploadFailure) {
			err = errors.Wrap(domain.ErrUploadFailure, err.Error())
		}
		v.log.Warn("attachment upload failed", zap.String("filename", filename), zap.Error(err))
		return "", err
	}
	return v.send(content, url, parentID)
}

// Edit own message content
func (v *View) Edit(id domain.MessageID, content string) bool {
	var ok bool
	_ = v.do(func() { ok = v.engine.Edit(id, content) })
	return ok
}

// Delete own message
func (v *View) Delete(id domain.MessageID) bool {
	var ok bool
	_ = v.do(func() { ok = v.engine.Delete(id) })
	return ok
}

// React toggle the local user's emoji on a message
func (v *View) React(id domain.MessageID, emoji string) bool {
	var ok bool
	_ = v.do(func() { ok = v.engine.ToggleReaction(id, emoji) })
	return ok
}

// LoadMore request older history, false when ignored
func (v *View) LoadMore() bool {
	var ok bool
	_ = v.do(func() { ok = v.engine.LoadOlder() })
	return ok
}

// DismissUnread mark everything read now
func (v *View) DismissUnread() {
	_ = v.do(func() {
		v.unread.Dismiss()
		v.fx.dirty = true
	})
}

// Scroll the viewport reported a scroll event
func (v *View) Scroll() {
	_ = v.do(func() {
		before := v.scroll.State()
		v.scroll.OnScroll(v.now())
		if v.scroll.State() != before {
			v.fx.dirty = true
		}
	})
}

// ImageLoaded an image finished loading
func (v *View) ImageLoaded() {
	_ = v.do(func() {
		before := v.scroll.State()
		v.scroll.ImageLoaded(v.now())
		if v.scroll.State() != before {
			v.fx.dirty = true
		}
	})
}

// LayoutSettled the presentation's layout is final
func (v *View) LayoutSettled() {
	_ = v.do(func() {
		v.scroll.LayoutSettled(v.now())
		v.fx.dirty = true
	})
}

// Focus the view regained focus, catch up with the store
func (v *View) Focus() bool {
	var ok bool
	_ = v.do(func() { ok = v.engine.Refetch() })
	return ok
}

// Typing the local user is composing; announcements are throttled
func (v *View) Typing() bool {
	var sent bool
	_ = v.do(func() {
		if v.typing.Allow(v.now()) {
			v.engine.PublishTyping()
			sent = true
		}
	})
	return sent
}
