package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"chat_stream_service/internal/chat/domain"
	"chat_stream_service/internal/stream/reconcile"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	poll    = 5 * time.Millisecond
)

// recorder collects events delivered to one handler
type recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) handle(ev domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) all() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Event(nil), r.events...)
}

func (r *recorder) count() int {
	return len(r.all())
}

func TestWSBus_SubscribeReceivesEvents(t *testing.T) {
	srv := newTestServer(t)
	bus := srv.bus(t, BusOptions{})
	rec := &recorder{}

	sub, err := bus.Subscribe(context.Background(), "conv-1", rec.handle)
	require.NoError(t, err)
	require.Equal(t, 1, srv.pub.subscribers("conv-1"), "the ack arrives after the server subscribed")

	srv.pub.emit(t, domain.EventMessage, "conv-1", storedEntry(1, "Q"))
	srv.pub.emit(t, domain.EventMessageDeleted, "conv-1", domain.MessageDeletedPayload{ID: 1})
	srv.pub.emit(t, domain.EventMessage, "conv-2", storedEntry(2, "Q"))

	require.Eventually(t, func() bool { return rec.count() == 2 }, waitFor, poll)
	events := rec.all()
	assert.Equal(t, domain.EventMessage, events[0].Type)
	assert.Equal(t, domain.EventMessageDeleted, events[1].Type)

	var entry domain.MessageEntry
	require.NoError(t, events[0].DecodePayload(&entry))
	assert.Equal(t, domain.MessageID(1), entry.ID)

	require.NoError(t, sub.Close())
	require.Eventually(t, func() bool { return srv.pub.subscribers("conv-1") == 0 }, waitFor, poll)
}

func TestWSBus_SharedTopic(t *testing.T) {
	srv := newTestServer(t)
	bus := srv.bus(t, BusOptions{})
	a, b := &recorder{}, &recorder{}

	subA, err := bus.Subscribe(context.Background(), "conv-1", a.handle)
	require.NoError(t, err)
	subB, err := bus.Subscribe(context.Background(), "conv-1", b.handle)
	require.NoError(t, err)
	assert.Equal(t, 1, srv.pub.subscribers("conv-1"), "one server subscription per topic")

	srv.pub.emit(t, domain.EventMessage, "conv-1", storedEntry(1, "Q"))
	require.Eventually(t, func() bool { return a.count() == 1 && b.count() == 1 }, waitFor, poll)

	require.NoError(t, subA.Close())
	require.NoError(t, subA.Close())
	srv.pub.emit(t, domain.EventMessage, "conv-1", storedEntry(2, "Q"))
	require.Eventually(t, func() bool { return b.count() == 2 }, waitFor, poll)
	assert.Equal(t, 1, a.count())
	assert.Equal(t, 1, srv.pub.subscribers("conv-1"))

	require.NoError(t, subB.Close())
	require.Eventually(t, func() bool { return srv.pub.subscribers("conv-1") == 0 }, waitFor, poll)
}

func TestWSBus_MalformedEventDropped(t *testing.T) {
	srv := newTestServer(t)
	bus := srv.bus(t, BusOptions{})
	rec := &recorder{}

	_, err := bus.Subscribe(context.Background(), "conv-1", rec.handle)
	require.NoError(t, err)

	require.NoError(t, srv.pub.Publish(context.Background(), &domain.Event{
		Type:           "bogus",
		ConversationID: "conv-1",
		Payload:        []byte(`{}`),
	}))
	srv.pub.emit(t, domain.EventMessage, "conv-1", storedEntry(1, "Q"))

	require.Eventually(t, func() bool { return rec.count() == 1 }, waitFor, poll)
	assert.Equal(t, domain.EventMessage, rec.all()[0].Type)
}

func TestWSBus_PublishTyping(t *testing.T) {
	srv := newTestServer(t)
	bus := srv.bus(t, BusOptions{})
	rec := &recorder{}

	_, err := bus.Subscribe(context.Background(), "conv-1", rec.handle)
	require.NoError(t, err)
	require.NoError(t, bus.PublishTyping(context.Background(), "conv-1", "mia"))

	require.Eventually(t, func() bool { return rec.count() == 1 }, waitFor, poll)
	ev := rec.all()[0]
	require.Equal(t, domain.EventUserTyping, ev.Type)

	var p domain.TypingPayload
	require.NoError(t, ev.DecodePayload(&p))
	assert.Equal(t, "P", p.ProfileID)
	assert.Equal(t, "mia", p.Username)
}

func TestWSBus_ReconnectResubscribes(t *testing.T) {
	srv := newTestServer(t)
	reconnected := make(chan struct{}, 1)
	bus := srv.bus(t, BusOptions{
		RetryInterval: 10 * time.Millisecond,
		OnReconnect:   func() { reconnected <- struct{}{} },
	})
	rec := &recorder{}

	_, err := bus.Subscribe(context.Background(), "conv-1", rec.handle)
	require.NoError(t, err)

	bus.mu.Lock()
	conn := bus.conn
	bus.mu.Unlock()
	require.NoError(t, conn.Close())

	select {
	case <-reconnected:
	case <-time.After(waitFor):
		t.Fatal("bus never reconnected")
	}

	require.Eventually(t, func() bool {
		srv.pub.emit(t, domain.EventMessage, "conv-1", storedEntry(1, "Q"))
		return rec.count() > 0
	}, waitFor, 20*time.Millisecond)
}

func TestWSBus_Close(t *testing.T) {
	srv := newTestServer(t)
	bus := srv.bus(t, BusOptions{})

	_, err := bus.Subscribe(context.Background(), "conv-1", func(domain.Event) {})
	require.NoError(t, err)
	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())

	_, err = bus.Subscribe(context.Background(), "conv-1", func(domain.Event) {})
	assert.ErrorIs(t, err, ErrBusClosed)
	assert.ErrorIs(t, bus.PublishTyping(context.Background(), "conv-1", "me"), ErrBusClosed)
	require.Eventually(t, func() bool { return srv.pub.subscribers("conv-1") == 0 }, waitFor, poll)
}

type subResult struct {
	sub reconcile.Subscription
	err error
}

func subscribeAsync(bus *WSBus, conv string, rec *recorder) <-chan subResult {
	out := make(chan subResult, 1)
	go func() {
		sub, err := bus.Subscribe(context.Background(), conv, rec.handle)
		out <- subResult{sub, err}
	}()
	return out
}

func (b *WSBus) handlerCount(conv string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[conv])
}

func waitResult(t *testing.T, ch <-chan subResult) subResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(waitFor):
		t.Fatal("subscribe did not return")
		return subResult{}
	}
}

func TestWSBus_JoinerWaitsForAck(t *testing.T) {
	srv := newTestServer(t)
	gate := make(chan struct{})
	srv.pub.hold(gate, nil)
	bus := srv.bus(t, BusOptions{})
	a, b := &recorder{}, &recorder{}

	first := subscribeAsync(bus, "conv-1", a)
	require.Eventually(t, func() bool { return bus.handlerCount("conv-1") == 1 }, waitFor, poll)
	second := subscribeAsync(bus, "conv-1", b)
	require.Eventually(t, func() bool { return bus.handlerCount("conv-1") == 2 }, waitFor, poll)

	select {
	case <-second:
		t.Fatal("second handler returned before the server acked")
	case <-time.After(50 * time.Millisecond):
	}

	close(gate)
	require.NoError(t, waitResult(t, first).err)
	require.NoError(t, waitResult(t, second).err)

	srv.pub.emit(t, domain.EventMessage, "conv-1", storedEntry(1, "Q"))
	require.Eventually(t, func() bool { return a.count() == 1 && b.count() == 1 }, waitFor, poll)
}

func TestWSBus_FailedSubscribeFailsJoiners(t *testing.T) {
	srv := newTestServer(t)
	gate := make(chan struct{})
	srv.pub.hold(gate, errors.New("redis down"))
	bus := srv.bus(t, BusOptions{})
	a, b := &recorder{}, &recorder{}

	first := subscribeAsync(bus, "conv-1", a)
	require.Eventually(t, func() bool { return bus.handlerCount("conv-1") == 1 }, waitFor, poll)
	second := subscribeAsync(bus, "conv-1", b)
	require.Eventually(t, func() bool { return bus.handlerCount("conv-1") == 2 }, waitFor, poll)

	close(gate)
	r1, r2 := waitResult(t, first), waitResult(t, second)
	assert.Error(t, r1.err)
	assert.Nil(t, r1.sub)
	assert.Error(t, r2.err)
	assert.Nil(t, r2.sub)
	assert.Equal(t, 0, bus.handlerCount("conv-1"), "no handler stays without a server subscription")

	// the next subscribe starts over
	srv.pub.hold(nil, nil)
	sub, err := bus.Subscribe(context.Background(), "conv-1", b.handle)
	require.NoError(t, err)
	defer sub.Close()
	srv.pub.emit(t, domain.EventMessage, "conv-1", storedEntry(2, "Q"))
	require.Eventually(t, func() bool { return b.count() == 1 }, waitFor, poll)
	assert.Equal(t, 0, a.count())
}
