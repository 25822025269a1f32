// Package reconcile merges the initial page, backward pagination, refocus
// refetches, optimistic sends and live events into one conversation buffer.
//
// The Engine is a synchronous state machine: every method, and every
// completion it posts through the Executor, must run on the owner's
// goroutine. Store and bus calls run as Executor jobs and come back tagged
// with the generation they were issued under; completions from an older
// generation are discarded.
package reconcile

import (
	"context"

	"chat_stream_service/internal/chat/domain"
	"chat_stream_service/internal/stream/buffer"
	"chat_stream_service/pkg/logger"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ErrClosed operation on an engine that is not open
var ErrClosed = errors.New("conversation is not open")

// Identity the local profile
type Identity struct {
	ProfileID string
	Username  string
	Avatar    string
}

// Engine reconciliation state of one conversation
type Engine struct {
	conv  string
	me    Identity
	store MessageStore
	bus   EventBus
	exec  Executor
	opts  Options
	log   *logger.LogInfo

	ctx    context.Context
	cancel context.CancelFunc

	buf        *buffer.Buffer
	orphans    *orphanStore
	queued     []domain.Event
	replay     []func()
	sub        Subscription
	generation uint64

	opened          bool
	initialDone     bool
	initialInFlight bool
	loadingOlder    bool
	exhausted       bool
	refetching      bool
}

// New create an Engine, call Open to start loading
func New(conversationID string, me Identity, store MessageStore, bus EventBus, exec Executor, opts Options) *Engine {
	opts.withDefaults()
	return &Engine{
		conv:    conversationID,
		me:      me,
		store:   store,
		bus:     bus,
		exec:    exec,
		opts:    opts,
		log:     opts.Logger.With(zap.String("conversation_id", conversationID)),
		buf:     buffer.New(),
		orphans: newOrphanStore(opts.MaxOrphans),
	}
}

// Buffer read access for the owner, mutate only through the engine
func (e *Engine) Buffer() *buffer.Buffer { return e.buf }

// Generation current generation, bumped on every Open and Close
func (e *Engine) Generation() uint64 { return e.generation }

// ConversationID the conversation this engine reconciles
func (e *Engine) ConversationID() string { return e.conv }

// InitialDone initial page loaded
func (e *Engine) InitialDone() bool { return e.initialDone }

// Exhausted no older history left
func (e *Engine) Exhausted() bool { return e.exhausted }

// LoadingOlder an older page is in flight
func (e *Engine) LoadingOlder() bool { return e.loadingOlder }

// Loading any fetch in flight
func (e *Engine) Loading() bool {
	return e.initialInFlight || e.loadingOlder || e.refetching
}

// OrphanCount events waiting for their base entry
func (e *Engine) OrphanCount() int { return e.orphans.len() }

func (e *Engine) changed() {
	if e.opts.Hooks.Changed != nil {
		e.opts.Hooks.Changed()
	}
}

func (e *Engine) appended(n int) {
	if n > 0 && e.opts.Hooks.Appended != nil {
		e.opts.Hooks.Appended(n)
	}
}

// Open subscribe to the live topic, then fetch the newest page.
// Events that arrive before the page are queued and replayed after it.
func (e *Engine) Open(ctx context.Context) {
	if e.opened {
		return
	}
	e.opened = true
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.generation++
	e.log.Debug("open", zap.Uint64("generation", e.generation))
	e.startInitial(true)
}

// Close unsubscribe and discard all state; late completions are ignored
func (e *Engine) Close() {
	if !e.opened {
		return
	}
	e.opened = false
	e.generation++
	e.cancel()
	if e.sub != nil {
		if err := e.sub.Close(); err != nil {
			e.log.Warn("unsubscribe failed", zap.Error(err))
		}
		e.sub = nil
	}
	e.buf = buffer.New()
	e.orphans.reset()
	e.queued = nil
	e.replay = nil
	e.initialDone, e.initialInFlight = false, false
	e.loadingOlder, e.exhausted, e.refetching = false, false, false
	e.log.Debug("closed", zap.Uint64("generation", e.generation))
}

// subscribe runs inside a job
func (e *Engine) subscribe(ctx context.Context, gen uint64) {
	sub, err := e.bus.Subscribe(ctx, e.conv, func(ev domain.Event) {
		e.exec.Post(func() { e.onEvent(gen, ev) })
	})
	e.exec.Post(func() { e.onSubscribed(gen, sub, err) })
}

func (e *Engine) onSubscribed(gen uint64, sub Subscription, err error) {
	if gen != e.generation {
		if sub != nil {
			_ = sub.Close()
		}
		return
	}
	if err != nil {
		e.log.Warn("live subscription failed, refocus will retry", zap.Error(err))
		return
	}
	e.sub = sub
}

func (e *Engine) startInitial(subscribe bool) {
	e.initialInFlight = true
	gen, ctx, limit := e.generation, e.ctx, e.opts.PageSize
	e.exec.Go(func() {
		if subscribe {
			e.subscribe(ctx, gen)
		}
		entries, err := e.store.FetchInitialPage(ctx, e.conv, limit)
		e.exec.Post(func() { e.onInitial(gen, entries, err) })
	})
	e.changed()
}

func (e *Engine) retryInitial() bool {
	if e.initialInFlight {
		return false
	}
	e.startInitial(e.sub == nil)
	return true
}

func (e *Engine) onInitial(gen uint64, entries []domain.MessageEntry, err error) {
	if gen != e.generation {
		return
	}
	e.initialInFlight = false
	if err != nil {
		e.log.Warn("initial load failed", zap.Error(err))
		e.changed()
		return
	}

	if ierr := e.buf.InsertInitial(entries); ierr != nil {
		e.log.Warn("initial page anomaly, normalizing", zap.Error(ierr), zap.Int("rows", len(entries)))
		_ = e.buf.InsertInitial(buffer.Normalize(entries))
	}
	if _, ok := e.buf.MinID(); !ok {
		e.exhausted = true
	}
	e.initialDone = true

	for _, id := range e.buf.IDs() {
		e.applyOrphans(id)
	}
	queued := e.queued
	e.queued = nil
	for _, ev := range queued {
		e.apply(ev)
	}

	e.log.Debug("initial load done",
		zap.Int("rows", len(entries)),
		zap.Int("replayed", len(queued)),
		zap.Uint64("generation", gen),
	)
	if e.opts.Hooks.InitialLoaded != nil {
		e.opts.Hooks.InitialLoaded()
	}
	e.changed()
}

// LoadOlder request the page before the current minimum id. Ignored while
// one is in flight or history is exhausted. Before the initial page has
// loaded it retries the initial load instead.
func (e *Engine) LoadOlder() bool {
	if !e.opened {
		return false
	}
	if !e.initialDone {
		return e.retryInitial()
	}
	if e.loadingOlder || e.exhausted {
		return false
	}
	min, ok := e.buf.MinID()
	if !ok {
		e.exhausted = true
		e.changed()
		return false
	}

	e.loadingOlder = true
	gen, ctx, limit := e.generation, e.ctx, e.opts.PageSize
	e.exec.Go(func() {
		entries, err := e.store.FetchOlderPage(ctx, e.conv, min, limit)
		e.exec.Post(func() { e.onOlder(gen, entries, err) })
	})
	e.changed()
	return true
}

func (e *Engine) onOlder(gen uint64, entries []domain.MessageEntry, err error) {
	if gen != e.generation {
		return
	}
	e.loadingOlder = false
	defer e.changed()

	if err != nil {
		e.log.Warn("older page failed", zap.Error(err))
		return
	}
	if len(entries) == 0 {
		e.exhausted = true
		e.log.Debug("history exhausted")
		return
	}

	if e.opts.Hooks.BeforePrepend != nil {
		e.opts.Hooks.BeforePrepend()
	}
	if perr := e.buf.Prepend(entries); perr != nil {
		e.log.Warn("older page anomaly, dropped", zap.Error(perr), zap.Int("rows", len(entries)))
		return
	}
	for _, en := range entries {
		e.applyOrphans(en.ID)
	}
	if e.opts.Hooks.AfterPrepend != nil {
		e.opts.Hooks.AfterPrepend(len(entries))
	}
}

// Refetch re-read every buffered id and the pages after the newest one.
// Used when the view regains focus. It also restores a failed subscription.
func (e *Engine) Refetch() bool {
	if !e.opened {
		return false
	}
	if !e.initialDone {
		return e.retryInitial()
	}
	if e.refetching {
		return false
	}

	ids := e.buf.IDs()
	last, _ := e.buf.MaxID()
	resubscribe := e.sub == nil
	e.refetching = true
	gen, ctx := e.generation, e.ctx

	e.exec.Go(func() {
		if resubscribe {
			e.subscribe(ctx, gen)
		}
		var known, newer []domain.MessageEntry
		var err error
		if len(ids) > 0 {
			known, err = e.store.FetchByIDs(ctx, e.conv, ids)
		}
		if err == nil {
			newer, err = e.fetchNewer(ctx, last)
		}
		e.exec.Post(func() { e.onRefetch(gen, known, newer, err) })
	})
	e.changed()
	return true
}

// fetchNewer runs inside a job
func (e *Engine) fetchNewer(ctx context.Context, after domain.MessageID) ([]domain.MessageEntry, error) {
	var all []domain.MessageEntry
	for i := 0; i < e.opts.MaxRefetchPages; i++ {
		page, err := e.store.FetchNewerPage(ctx, e.conv, after, e.opts.PageSize)
		if err != nil {
			return all, err
		}
		all = append(all, page...)
		if len(page) < e.opts.PageSize {
			break
		}
		after = page[len(page)-1].ID
	}
	return all, nil
}

func (e *Engine) onRefetch(gen uint64, known, newer []domain.MessageEntry, err error) {
	if gen != e.generation {
		return
	}
	e.refetching = false
	replay := e.replay
	e.replay = nil
	defer e.changed()

	if err != nil {
		e.log.Warn("refetch failed", zap.Error(err))
		return
	}

	for _, en := range known {
		if e.buf.Replace(en) {
			e.applyOrphans(en.ID)
		}
	}
	n := 0
	for _, en := range newer {
		if !e.buf.Replace(en) {
			n += e.upsert(en)
		}
	}
	// the store copies may predate what was applied while they were read
	for _, f := range replay {
		f()
	}
	e.appended(n)
}

// remember a buffer mutation the refetch in flight may not have seen
func (e *Engine) remember(f func()) {
	if e.refetching {
		e.replay = append(e.replay, f)
	}
}

// upsert returns 1 when the entry is new and landed at the tail
func (e *Engine) upsert(entry domain.MessageEntry) int {
	max, hadMax := e.buf.MaxID()
	inserted := e.buf.Upsert(entry)
	e.remember(func() { e.buf.Upsert(entry) })
	e.applyOrphans(entry.ID)
	if inserted && (!hadMax || entry.ID > max) {
		return 1
	}
	return 0
}

func (e *Engine) onEvent(gen uint64, ev domain.Event) {
	if gen != e.generation {
		return
	}
	if ev.Type == domain.EventUserTyping {
		var p domain.TypingPayload
		if err := ev.DecodePayload(&p); err != nil {
			e.log.Warn("drop malformed event", zap.String("type", string(ev.Type)), zap.Error(err))
			return
		}
		if e.opts.Hooks.Typing != nil {
			e.opts.Hooks.Typing(p)
		}
		return
	}
	if !e.initialDone {
		e.queued = append(e.queued, ev)
		if len(e.queued) > e.opts.MaxOrphans {
			e.queued = e.queued[1:]
			e.log.Warn("pre-load event queue full, dropped oldest")
		}
		return
	}
	e.appended(e.apply(ev))
	e.changed()
}

func (e *Engine) keepOrphan(id domain.MessageID, ev domain.Event) {
	if !e.orphans.add(id, ev) {
		e.log.Debug("orphan store full, dropped oldest")
	}
	e.log.Debug("event for unknown id kept", zap.String("message_id", id.String()), zap.String("type", string(ev.Type)))
}

func (e *Engine) applyOrphans(id domain.MessageID) {
	for _, ev := range e.orphans.take(id) {
		e.apply(ev)
	}
}

// apply one live event to the buffer, returns the number of entries appended at the tail
func (e *Engine) apply(ev domain.Event) int {
	var err error
	switch ev.Type {
	case domain.EventMessage:
		var entry domain.MessageEntry
		if err = ev.DecodePayload(&entry); err == nil && entry.ID == 0 {
			err = errors.Wrap(domain.ErrEventParse, "message without id")
		}
		if err == nil {
			// below the loaded window: pagination will bring it, inserting now would leave a hole
			if min, ok := e.buf.MinID(); ok && !e.exhausted && entry.ID < min {
				e.log.Debug("message below loaded window skipped", zap.String("message_id", entry.ID.String()))
				return 0
			}
			return e.upsert(entry)
		}

	case domain.EventMessageEdited:
		var p domain.MessageEditedPayload
		if err = ev.DecodePayload(&p); err == nil {
			content, editedAt := p.Content, p.EditedAt
			e.patch(domain.MessagePatch{ID: p.ID, Content: &content, EditedAt: &editedAt}, ev)
		}

	case domain.EventMessageDeleted:
		var p domain.MessageDeletedPayload
		if err = ev.DecodePayload(&p); err == nil {
			if !e.markDeleted(p.ID) {
				e.keepOrphan(p.ID, ev)
			}
		}

	case domain.EventReactionAdded, domain.EventReactionRemoved:
		var p domain.ReactionPayload
		if err = ev.DecodePayload(&p); err == nil {
			add := ev.Type == domain.EventReactionAdded
			if !e.patchReaction(p.MessageID, p.Emoji, p.ProfileID, add) {
				e.keepOrphan(p.MessageID, ev)
			}
		}

	default:
		err = errors.Wrapf(domain.ErrEventParse, "unknown event type %q", ev.Type)
	}

	if err != nil {
		e.log.Warn("drop malformed event", zap.String("type", string(ev.Type)), zap.Error(err))
	}
	return 0
}

func (e *Engine) patch(p domain.MessagePatch, ev domain.Event) {
	if !e.buf.Patch(p) {
		e.keepOrphan(p.ID, ev)
		return
	}
	e.remember(func() { e.buf.Patch(p) })
}

func (e *Engine) markDeleted(id domain.MessageID) bool {
	if !e.buf.MarkDeleted(id) {
		return false
	}
	e.remember(func() { e.buf.MarkDeleted(id) })
	return true
}

func (e *Engine) patchReaction(id domain.MessageID, emoji, profileID string, add bool) bool {
	if !e.buf.PatchReaction(id, emoji, profileID, add) {
		return false
	}
	e.remember(func() { e.buf.PatchReaction(id, emoji, profileID, add) })
	return true
}

// Send append a pending entry and send it; the confirmed entry replaces it.
// Returns the correlation token of the pending entry.
func (e *Engine) Send(content, imageURL string, parentID *domain.MessageID) (string, error) {
	if !e.opened {
		return "", ErrClosed
	}
	req := domain.SendRequest{
		ConversationID: e.conv,
		SenderID:       e.me.ProfileID,
		SenderUsername: e.me.Username,
		SenderAvatar:   e.me.Avatar,
		Content:        content,
		ImageURL:       imageURL,
		ParentID:       parentID,
	}
	if err := req.Validate(); err != nil {
		return "", err
	}

	token := uuid.New().String()
	pending := domain.MessageEntry{
		ConversationID: e.conv,
		Kind:           domain.KindMessage,
		Content:        content,
		ImageURL:       imageURL,
		SenderID:       e.me.ProfileID,
		SenderUsername: e.me.Username,
		SenderAvatar:   e.me.Avatar,
		CreatedAt:      e.opts.Now(),
		ParentID:       parentID,
		LocalToken:     token,
	}
	if parentID != nil {
		if parent, ok := e.buf.Find(*parentID); ok {
			pending.ParentSnapshot = parent.Snapshot()
		}
	}
	e.buf.AddPending(pending)
	e.appended(1)
	e.changed()

	gen, ctx := e.generation, e.ctx
	e.exec.Go(func() {
		entry, err := e.store.SendMessage(ctx, req)
		e.exec.Post(func() { e.onSent(gen, token, entry, err) })
	})
	return token, nil
}

func (e *Engine) onSent(gen uint64, token string, entry *domain.MessageEntry, err error) {
	if gen != e.generation {
		return
	}
	defer e.changed()
	if err != nil {
		e.buf.FailPending(token)
		e.log.Warn("send failed", zap.String("token", token), zap.Error(err))
		return
	}
	e.buf.ConfirmPending(token, *entry)
	e.applyOrphans(entry.ID)
}

// Edit apply the new content locally and send it; failures are logged, not rolled back
func (e *Engine) Edit(id domain.MessageID, content string) bool {
	if !e.opened {
		return false
	}
	if _, ok := e.buf.Find(id); !ok {
		return false
	}
	now := e.opts.Now()
	p := domain.MessagePatch{ID: id, Content: &content, EditedAt: &now}
	e.buf.Patch(p)
	e.remember(func() { e.buf.Patch(p) })
	e.changed()

	gen, ctx := e.generation, e.ctx
	e.exec.Go(func() {
		entry, err := e.store.EditMessage(ctx, id, content)
		e.exec.Post(func() { e.onEdited(gen, id, entry, err) })
	})
	return true
}

func (e *Engine) onEdited(gen uint64, id domain.MessageID, entry *domain.MessageEntry, err error) {
	if gen != e.generation {
		return
	}
	if err != nil {
		e.log.Warn("edit failed", zap.String("message_id", id.String()), zap.Error(err))
		return
	}
	if entry != nil && entry.EditedAt != nil {
		p := domain.MessagePatch{ID: id, Content: &entry.Content, EditedAt: entry.EditedAt}
		e.buf.Patch(p)
		e.remember(func() { e.buf.Patch(p) })
		e.changed()
	}
}

// Delete tombstone locally and delete in the store
func (e *Engine) Delete(id domain.MessageID) bool {
	if !e.opened || !e.markDeleted(id) {
		return false
	}
	e.changed()

	ctx := e.ctx
	e.exec.Go(func() {
		if err := e.store.DeleteMessage(ctx, id); err != nil {
			e.log.Warn("delete failed", zap.String("message_id", id.String()), zap.Error(err))
		}
	})
	return true
}

// ToggleReaction add the local profile's reaction, or remove it when present
func (e *Engine) ToggleReaction(id domain.MessageID, emoji string) bool {
	if !e.opened {
		return false
	}
	entry, ok := e.buf.Find(id)
	if !ok {
		return false
	}
	add := !entry.HasReaction(emoji, e.me.ProfileID)
	e.patchReaction(id, emoji, e.me.ProfileID, add)
	e.changed()

	ctx, profileID := e.ctx, e.me.ProfileID
	e.exec.Go(func() {
		var err error
		if add {
			err = e.store.AddReaction(ctx, e.conv, id, profileID, emoji)
		} else {
			err = e.store.RemoveReaction(ctx, e.conv, id, profileID, emoji)
		}
		if err != nil {
			e.log.Warn("reaction failed", zap.String("message_id", id.String()), zap.Bool("add", add), zap.Error(err))
		}
	})
	return true
}

// MarkAllRead mark every loaded entry read locally and commit to the store
func (e *Engine) MarkAllRead() int {
	if !e.opened {
		return 0
	}
	n := e.buf.MarkAllRead(e.me.ProfileID)
	ids, me := e.buf.IDs(), e.me.ProfileID
	e.remember(func() {
		for _, id := range ids {
			e.buf.MarkRead(id, me)
		}
	})
	e.changed()

	ctx, profileID := e.ctx, e.me.ProfileID
	e.exec.Go(func() {
		if err := e.store.MarkRead(ctx, e.conv, profileID); err != nil {
			e.log.Warn("mark read failed", zap.Error(err))
		}
	})
	return n
}

// PublishTyping announce the local user is composing
func (e *Engine) PublishTyping() {
	if !e.opened {
		return
	}
	ctx, username := e.ctx, e.me.Username
	e.exec.Go(func() {
		if err := e.bus.PublishTyping(ctx, e.conv, username); err != nil {
			e.log.Debug("typing publish failed", zap.Error(err))
		}
	})
}
