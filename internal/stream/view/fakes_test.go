package view

import (
	"context"
	"sort"
	"sync"
	"time"

	"chat_stream_service/internal/chat/domain"
	"chat_stream_service/internal/stream/reconcile"
	"chat_stream_service/internal/stream/scroll"
)

const testConv = "conv-1"

var baseTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *fakeClock { return &fakeClock{t: baseTime} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fakePresenter lays entries out as fixed height rows
type fakePresenter struct {
	mu     sync.Mutex
	row    float64
	m      scroll.Metrics
	ids    []domain.MessageID
	last   Snapshot
	render int
}

func newPresenter() *fakePresenter {
	return &fakePresenter{row: 100, m: scroll.Metrics{ClientHeight: 500}}
}

func (p *fakePresenter) Render(s Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ids = p.ids[:0]
	for _, e := range s.Entries {
		p.ids = append(p.ids, e.ID)
	}
	p.m.ScrollHeight = float64(len(s.Entries)) * p.row
	p.last = s
	p.render++
}

func (p *fakePresenter) Metrics() scroll.Metrics {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.m
}

func (p *fakePresenter) scrollTo(top float64) {
	if max := p.m.ScrollHeight - p.m.ClientHeight; top > max {
		top = max
	}
	if top < 0 {
		top = 0
	}
	p.m.ScrollTop = top
}

func (p *fakePresenter) ScrollTo(top float64, smooth bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scrollTo(top)
}

func (p *fakePresenter) ScrollToEntry(id domain.MessageID, center, smooth bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, got := range p.ids {
		if got != id {
			continue
		}
		top := float64(i) * p.row
		if center {
			top += p.row/2 - p.m.ClientHeight/2
		}
		p.scrollTo(top)
		return true
	}
	return false
}

func (p *fakePresenter) setTop(top float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.m.ScrollTop = top
}

func (p *fakePresenter) top() float64 {
	return p.Metrics().ScrollTop
}

func (p *fakePresenter) snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

type fakeSub struct {
	bus *fakeBus
}

func (s *fakeSub) Close() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	s.bus.handler = nil
	return nil
}

type fakeBus struct {
	mu      sync.Mutex
	handler func(domain.Event)
	typing  []string
}

func (b *fakeBus) Subscribe(ctx context.Context, conversationID string, handler func(ev domain.Event)) (reconcile.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = handler
	return &fakeSub{bus: b}, nil
}

func (b *fakeBus) PublishTyping(ctx context.Context, conversationID, username string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.typing = append(b.typing, username)
	return nil
}

func (b *fakeBus) emit(ev domain.Event) {
	b.mu.Lock()
	h := b.handler
	b.mu.Unlock()
	if h != nil {
		h(ev)
	}
}

func (b *fakeBus) typingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.typing)
}

func mustEvent(t domain.EventType, payload any) domain.Event {
	ev, err := domain.NewEvent(t, testConv, payload)
	if err != nil {
		panic(err)
	}
	return *ev
}

// gate blocks a store call until released
type gate struct {
	started chan struct{}
	release chan struct{}
}

func newGate() *gate {
	return &gate{started: make(chan struct{}), release: make(chan struct{})}
}

func (g *gate) wait() {
	if g == nil {
		return
	}
	close(g.started)
	<-g.release
}

type fakeStore struct {
	mu        sync.Mutex
	msgs      []domain.MessageEntry
	nextID    domain.MessageID
	initial   []domain.MessageEntry
	older     map[domain.MessageID][]domain.MessageEntry
	uploadErr error
	uploads   []string
	markRead  int
	olderHits int

	initialGate *gate
	olderGate   *gate
}

func entry(id int64, sender string, reads ...string) domain.MessageEntry {
	return domain.MessageEntry{
		ID:             domain.MessageID(id),
		ConversationID: testConv,
		Kind:           domain.KindMessage,
		Content:        "m" + domain.MessageID(id).String(),
		SenderID:       sender,
		SenderUsername: sender,
		CreatedAt:      baseTime.Add(time.Duration(id) * time.Second),
		Reads:          reads,
	}
}

func newStore(entries ...domain.MessageEntry) *fakeStore {
	s := &fakeStore{msgs: entries, nextID: 1, older: map[domain.MessageID][]domain.MessageEntry{}}
	for _, e := range entries {
		if e.ID >= s.nextID {
			s.nextID = e.ID + 1
		}
	}
	return s
}

func peerRange(from, to int64, reads ...string) []domain.MessageEntry {
	var out []domain.MessageEntry
	for i := from; i <= to; i++ {
		out = append(out, entry(i, "peer", reads...))
	}
	return out
}

func clones(in []domain.MessageEntry) []domain.MessageEntry {
	out := make([]domain.MessageEntry, len(in))
	for i := range in {
		out[i] = in[i].Clone()
	}
	return out
}

func (s *fakeStore) FetchInitialPage(ctx context.Context, conversationID string, limit int) ([]domain.MessageEntry, error) {
	s.initialGate.wait()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initial != nil {
		return clones(s.initial), nil
	}
	from := len(s.msgs) - limit
	if from < 0 {
		from = 0
	}
	return clones(s.msgs[from:]), nil
}

func (s *fakeStore) FetchOlderPage(ctx context.Context, conversationID string, beforeID domain.MessageID, limit int) ([]domain.MessageEntry, error) {
	s.olderGate.wait()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.olderHits++
	if page, ok := s.older[beforeID]; ok {
		return clones(page), nil
	}
	end := sort.Search(len(s.msgs), func(i int) bool { return s.msgs[i].ID >= beforeID })
	from := end - limit
	if from < 0 {
		from = 0
	}
	return clones(s.msgs[from:end]), nil
}

func (s *fakeStore) FetchNewerPage(ctx context.Context, conversationID string, afterID domain.MessageID, limit int) ([]domain.MessageEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	from := sort.Search(len(s.msgs), func(i int) bool { return s.msgs[i].ID > afterID })
	end := from + limit
	if end > len(s.msgs) {
		end = len(s.msgs)
	}
	return clones(s.msgs[from:end]), nil
}

func (s *fakeStore) FetchByIDs(ctx context.Context, conversationID string, ids []domain.MessageID) ([]domain.MessageEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.MessageEntry
	for _, m := range s.msgs {
		for _, id := range ids {
			if m.ID == id {
				out = append(out, m.Clone())
			}
		}
	}
	return out, nil
}

func (s *fakeStore) SendMessage(ctx context.Context, req domain.SendRequest) (*domain.MessageEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := entry(int64(s.nextID), req.SenderID)
	s.nextID++
	e.Content, e.ImageURL, e.ParentID = req.Content, req.ImageURL, req.ParentID
	s.msgs = append(s.msgs, e)
	return &e, nil
}

func (s *fakeStore) EditMessage(ctx context.Context, id domain.MessageID, content string) (*domain.MessageEntry, error) {
	return nil, nil
}

func (s *fakeStore) DeleteMessage(ctx context.Context, id domain.MessageID) error { return nil }

func (s *fakeStore) AddReaction(ctx context.Context, conversationID string, messageID domain.MessageID, profileID, emoji string) error {
	return nil
}

func (s *fakeStore) RemoveReaction(ctx context.Context, conversationID string, messageID domain.MessageID, profileID, emoji string) error {
	return nil
}

func (s *fakeStore) MarkRead(ctx context.Context, conversationID, profileID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markRead++
	return nil
}

func (s *fakeStore) markReadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.markRead
}

func (s *fakeStore) UploadAttachment(ctx context.Context, conversationID, filename string, body []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.uploadErr != nil {
		return "", s.uploadErr
	}
	s.uploads = append(s.uploads, filename)
	return "http://files/" + conversationID + "/" + filename, nil
}

type fixture struct {
	view  *View
	store *fakeStore
	bus   *fakeBus
	pres  *fakePresenter
	clock *fakeClock
}

func newFixture(store *fakeStore, opts Options) *fixture {
	f := &fixture{store: store, bus: &fakeBus{}, pres: newPresenter(), clock: newClock()}
	opts.Now = f.clock.Now
	if opts.TickInterval == 0 {
		opts.TickInterval = 2 * time.Millisecond
	}
	me := reconcile.Identity{ProfileID: "P", Username: "me"}
	f.view = New(testConv, me, store, f.bus, f.pres, opts)
	return f
}
