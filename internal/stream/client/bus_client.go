package client

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"
	"time"

	"chat_stream_service/internal/chat/domain"
	"chat_stream_service/internal/stream/reconcile"
	"chat_stream_service/pkg/logger"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ErrBusClosed the bus was closed
var ErrBusClosed = errors.New("event bus closed")

// BusOptions websocket bus tunables, zero values use the defaults
type BusOptions struct {
	Dialer        *websocket.Dialer
	AckTimeout    time.Duration
	WriteTimeout  time.Duration
	RetryCount    int
	RetryInterval time.Duration
	// OnReconnect called after a dropped connection was restored and every
	// topic resubscribed; events published during the gap were missed
	OnReconnect func()
	Logger      *logger.LogInfo
}

// WSBus EventBus over one websocket to the chat service, shared by every subscription
type WSBus struct {
	url   string
	token string
	opts  BusOptions
	log   *logger.LogInfo

	mu     sync.Mutex
	conn   *websocket.Conn
	subs   map[string]map[uint64]func(domain.Event)
	acks   map[string][]chan domain.WSResponse
	joins  map[string]*topicJoin
	nextID uint64
	closed bool
	done   chan struct{}

	writeMu sync.Mutex
}

// NewWSBus wsURL is the service's websocket endpoint, e.g. ws://host:8080/ws
func NewWSBus(wsURL, token string, opts BusOptions) *WSBus {
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = 5 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	if opts.RetryCount <= 0 {
		opts.RetryCount = 5
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logger.Log
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	return &WSBus{
		url:   wsURL,
		token: token,
		opts:  opts,
		log:   opts.Logger,
		subs:  map[string]map[uint64]func(domain.Event){},
		acks:  map[string][]chan domain.WSResponse{},
		joins: map[string]*topicJoin{},
		done:  make(chan struct{}),
	}
}

// connLocked dial on first use; b.mu must be held
func (b *WSBus) connLocked(ctx context.Context) (*websocket.Conn, error) {
	if b.closed {
		return nil, ErrBusClosed
	}
	if b.conn != nil {
		return b.conn, nil
	}
	conn, _, err := b.opts.Dialer.DialContext(ctx, b.url+"?auth="+url.QueryEscape(b.token), nil)
	if err != nil {
		return nil, errors.Wrap(err, "websocket dial")
	}
	conn.SetPingHandler(func(appData string) error {
		b.log.Debug("received ping")
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(b.opts.WriteTimeout))
	})
	b.conn = conn
	go b.readLoop(conn)
	b.log.Info("websocket connected", zap.String("url", b.url))
	return conn, nil
}

func (b *WSBus) write(conn *websocket.Conn, req domain.WSRequest) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(b.opts.WriteTimeout))
	return conn.WriteJSON(req)
}

type wsSubscription struct {
	bus  *WSBus
	conv string
	id   uint64
	once sync.Once
	err  error
}

func (s *wsSubscription) Close() error {
	s.once.Do(func() { s.err = s.bus.release(s.conv, s.id) })
	return s.err
}

// topicJoin outcome of a topic's first subscribe, later handlers wait on it
type topicJoin struct {
	done chan struct{}
	err  error
}

// Subscribe register handler for a conversation; the first handler of a
// topic sends the subscribe action and waits for the server's ack, handlers
// joining before the ack share its outcome
func (b *WSBus) Subscribe(ctx context.Context, conversationID string, handler func(ev domain.Event)) (reconcile.Subscription, error) {
	b.mu.Lock()
	conn, err := b.connLocked(ctx)
	if err != nil {
		b.mu.Unlock()
		return nil, err
	}
	b.nextID++
	id := b.nextID
	hs, active := b.subs[conversationID]
	if !active {
		hs = map[uint64]func(domain.Event){}
		b.subs[conversationID] = hs
	}
	hs[id] = handler
	join := b.joins[conversationID]
	var ack chan domain.WSResponse
	if !active {
		join = &topicJoin{done: make(chan struct{})}
		b.joins[conversationID] = join
		ack = make(chan domain.WSResponse, 1)
		b.acks[conversationID] = append(b.acks[conversationID], ack)
	}
	b.mu.Unlock()

	sub := &wsSubscription{bus: b, conv: conversationID, id: id}
	if active {
		if join == nil {
			return sub, nil
		}
		return b.awaitJoin(ctx, sub, join)
	}

	fail := func(err error) (reconcile.Subscription, error) {
		b.dropAck(conversationID, ack)
		b.abandon(conversationID, join, err)
		return nil, err
	}

	req := domain.WSRequest{Action: string(domain.Subscribe), ConversationID: conversationID}
	if err := b.write(conn, req); err != nil {
		return fail(errors.Wrap(err, "send subscribe"))
	}

	timer := time.NewTimer(b.opts.AckTimeout)
	defer timer.Stop()
	select {
	case resp := <-ack:
		if !resp.Success {
			return fail(errors.Errorf("subscribe %s: %s", conversationID, resp.Error))
		}
	case <-timer.C:
		return fail(errors.Errorf("subscribe %s: no ack", conversationID))
	case <-ctx.Done():
		return fail(ctx.Err())
	case <-b.done:
		return fail(ErrBusClosed)
	}

	b.mu.Lock()
	if b.joins[conversationID] == join {
		delete(b.joins, conversationID)
	}
	b.mu.Unlock()
	close(join.done)
	b.log.Debug("subscribed", zap.String("conversation_id", conversationID))
	return sub, nil
}

func (b *WSBus) awaitJoin(ctx context.Context, sub *wsSubscription, join *topicJoin) (reconcile.Subscription, error) {
	select {
	case <-join.done:
		if join.err != nil {
			return nil, join.err
		}
		return sub, nil
	case <-ctx.Done():
		_ = sub.Close()
		return nil, ctx.Err()
	case <-b.done:
		return nil, ErrBusClosed
	}
}

// abandon drop a topic whose first subscribe failed, with every handler that joined it
func (b *WSBus) abandon(conv string, join *topicJoin, err error) {
	b.mu.Lock()
	if b.joins[conv] == join {
		delete(b.joins, conv)
		delete(b.subs, conv)
	}
	conn := b.conn
	b.mu.Unlock()

	join.err = err
	close(join.done)
	if conn != nil {
		// the server may still have subscribed after a missed ack
		_ = b.write(conn, domain.WSRequest{Action: string(domain.Unsubscribe), ConversationID: conv})
	}
}

func (b *WSBus) dropAck(conv string, ack chan domain.WSResponse) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.acks[conv]
	for i, ch := range list {
		if ch == ack {
			b.acks[conv] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(b.acks[conv]) == 0 {
		delete(b.acks, conv)
	}
}

// release remove one handler, the last one of a topic unsubscribes
func (b *WSBus) release(conv string, id uint64) error {
	b.mu.Lock()
	hs := b.subs[conv]
	if hs == nil {
		b.mu.Unlock()
		return nil
	}
	delete(hs, id)
	if len(hs) > 0 {
		b.mu.Unlock()
		return nil
	}
	delete(b.subs, conv)
	conn := b.conn
	b.mu.Unlock()

	if conn == nil {
		return nil
	}
	return b.write(conn, domain.WSRequest{Action: string(domain.Unsubscribe), ConversationID: conv})
}

// PublishTyping announce the local user is typing
func (b *WSBus) PublishTyping(ctx context.Context, conversationID, username string) error {
	b.mu.Lock()
	conn, err := b.connLocked(ctx)
	b.mu.Unlock()
	if err != nil {
		return err
	}
	return b.write(conn, domain.WSRequest{
		Action:         string(domain.Typing),
		ConversationID: conversationID,
		Username:       username,
	})
}

// Close the connection; subscriptions stop receiving events
func (b *WSBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.done)
	conn := b.conn
	b.conn = nil
	b.mu.Unlock()

	if conn == nil {
		return nil
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(b.opts.WriteTimeout))
	return conn.Close()
}

func (b *WSBus) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			b.connLost(conn, err)
			return
		}
		b.dispatch(data)
	}
}

// dispatch server frames are either event envelopes or action responses
func (b *WSBus) dispatch(data []byte) {
	var frame struct {
		Type   string `json:"type"`
		Action string `json:"action"`
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		b.log.Warn("drop malformed frame", zap.Error(err))
		return
	}

	if frame.Type != "" {
		ev, err := domain.DecodeEvent(data)
		if err != nil {
			b.log.Warn("drop malformed event", zap.String("type", frame.Type), zap.Error(err))
			return
		}
		b.mu.Lock()
		handlers := make([]func(domain.Event), 0, len(b.subs[ev.ConversationID]))
		for _, h := range b.subs[ev.ConversationID] {
			handlers = append(handlers, h)
		}
		b.mu.Unlock()
		for _, h := range handlers {
			h(*ev)
		}
		return
	}

	var resp domain.WSResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		b.log.Warn("drop malformed response", zap.Error(err))
		return
	}
	switch domain.Action(resp.Action) {
	case domain.Subscribe:
		conv, _ := resp.Payload["conversation_id"].(string)
		b.mu.Lock()
		list := b.acks[conv]
		if len(list) > 0 {
			list[0] <- resp
			b.acks[conv] = list[1:]
			if len(b.acks[conv]) == 0 {
				delete(b.acks, conv)
			}
		}
		b.mu.Unlock()
	default:
		if !resp.Success {
			b.log.Warn("websocket request failed", zap.String("action", resp.Action), zap.String("err", resp.Error))
		}
	}
}

// connLost fail pending acks and reconnect while topics are still wanted
func (b *WSBus) connLost(conn *websocket.Conn, err error) {
	b.mu.Lock()
	if b.conn != conn {
		b.mu.Unlock()
		return
	}
	b.conn = nil
	for conv, list := range b.acks {
		for _, ch := range list {
			ch <- domain.WSResponse{Action: string(domain.Subscribe), Error: "connection lost"}
		}
		delete(b.acks, conv)
	}
	wanted := len(b.subs) > 0
	closed := b.closed
	b.mu.Unlock()

	_ = conn.Close()
	if closed {
		return
	}
	b.log.Warn("websocket connection lost", zap.Error(err))
	if wanted {
		go b.reconnect()
	}
}

func (b *WSBus) reconnect() {
	for attempt := 1; attempt <= b.opts.RetryCount; attempt++ {
		select {
		case <-b.done:
			return
		case <-time.After(b.opts.RetryInterval):
		}

		ctx, cancel := context.WithTimeout(context.Background(), b.opts.AckTimeout)
		b.mu.Lock()
		conn, err := b.connLocked(ctx)
		convs := make([]string, 0, len(b.subs))
		for conv := range b.subs {
			convs = append(convs, conv)
		}
		b.mu.Unlock()
		cancel()

		if errors.Is(err, ErrBusClosed) {
			return
		}
		if err != nil {
			b.log.Warn("websocket reconnect failed", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}

		// 重新訂閱, the acks arrive with no waiter and are ignored
		for _, conv := range convs {
			if err := b.write(conn, domain.WSRequest{Action: string(domain.Subscribe), ConversationID: conv}); err != nil {
				b.log.Warn("resubscribe failed", zap.String("conversation_id", conv), zap.Error(err))
			}
		}
		b.log.Info("websocket reconnected", zap.Int("topics", len(convs)))
		if b.opts.OnReconnect != nil {
			b.opts.OnReconnect()
		}
		return
	}
	b.log.Error("websocket reconnect gave up", zap.Int("attempts", b.opts.RetryCount))
}
