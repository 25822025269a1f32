package app

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"chat_stream_service/internal/chat/domain"
	"chat_stream_service/internal/chat/repository"
	"chat_stream_service/pkg/logger"
	"chat_stream_service/pkg/metrics"
	"chat_stream_service/pkg/middlewares"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
)

const pingInterval = 30 * time.Second

// ChatWebsocketHandler live topic subscriptions over one websocket per client
type ChatWebsocketHandler struct {
	messageUC *MessageUseCase
	pubSub    repository.PubSub
}

// NewChatWebsocketHandler create ChatWebsocketHandler
func NewChatWebsocketHandler(messageUC *MessageUseCase, pubSub repository.PubSub) *ChatWebsocketHandler {
	return &ChatWebsocketHandler{
		messageUC: messageUC,
		pubSub:    pubSub,
	}
}

type wsWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// wsSession state of one connection, writes are serialized by mu
type wsSession struct {
	conn      wsWriter
	profileID string
	username  string

	mu   sync.Mutex
	subs map[string]context.CancelFunc
}

func newWSSession(conn wsWriter, profileID, username string) *wsSession {
	return &wsSession{
		conn:      conn,
		profileID: profileID,
		username:  username,
		subs:      map[string]context.CancelFunc{},
	}
}

func (s *wsSession) write(messageType int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(messageType, data)
}

func (s *wsSession) send(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		logger.Log.Error("websocket marshal error", zap.Error(err))
		return
	}
	if err := s.write(websocket.TextMessage, b); err != nil {
		logger.Log.Warn("write message error", zap.String("profile_id", s.profileID), zap.Error(err))
	}
}

func (s *wsSession) sendError(errorMsg string) {
	s.send(domain.WSResponse{
		Action:  string(domain.ActionError),
		Success: false,
		Error:   errorMsg,
	})
}

func (s *wsSession) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conv, cancel := range s.subs {
		cancel()
		delete(s.subs, conv)
		metrics.Subscriptions.Dec()
	}
}

// HandleConnection 是 WebSocket 連線的進入點
func (h *ChatWebsocketHandler) HandleConnection(ctx context.Context, conn *websocket.Conn) {
	profileID, _ := conn.Locals(middlewares.TokenProfileID).(string)
	username, _ := conn.Locals(middlewares.TokenUsername).(string)
	logger.Log.Info("websocket open", zap.String("profile_id", profileID))

	metrics.WebsocketConnections.Inc()
	s := newWSSession(conn, profileID, username)
	ticker := time.NewTicker(pingInterval)
	ctxClose, cancel := context.WithCancel(ctx)

	defer func() {
		ticker.Stop()
		cancel()
		s.closeAll()
		metrics.WebsocketConnections.Dec()
		logger.Log.Info("websocket close", zap.String("profile_id", profileID))
		conn.Close()
	}()

	//server發出ping之後client連線正常會回pong
	conn.SetPongHandler(func(appData string) error {
		logger.Log.Debug("received pong", zap.String("profile_id", profileID))
		return nil
	})

	// 定期發送 Ping
	go func() {
		for {
			select {
			case <-ticker.C:
				if err := s.write(websocket.PingMessage, []byte("ping")); err != nil {
					logger.Log.Warn("ping error", zap.String("profile_id", profileID), zap.Error(err))
					return
				}
			case <-ctxClose.Done():
				return
			}
		}
	}()

	for {
		mt, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logger.Log.Debug("connection closed", zap.String("profile_id", profileID))
			} else {
				//直接斷線 1006
				logger.Log.Warn("websocket read error", zap.String("profile_id", profileID), zap.Error(err))
			}
			return
		}
		if mt != websocket.TextMessage {
			s.sendError("unknown message type")
			continue
		}
		h.handleText(ctxClose, s, message)
	}
}

func (h *ChatWebsocketHandler) handleText(ctx context.Context, s *wsSession, msg []byte) {
	var req domain.WSRequest
	if err := json.Unmarshal(msg, &req); err != nil {
		s.sendError("invalid request")
		return
	}
	if req.ConversationID == "" {
		s.sendError("conversation_id is required")
		return
	}

	resp := domain.WSResponse{
		Action:  req.Action,
		Payload: map[string]interface{}{"conversation_id": req.ConversationID},
	}

	switch domain.Action(req.Action) {
	case domain.Subscribe:
		if err := h.subscribe(ctx, s, req.ConversationID); err != nil {
			resp.Error = err.Error()
		} else {
			resp.Success = true
		}

	case domain.Unsubscribe:
		h.unsubscribe(s, req.ConversationID)
		resp.Success = true

	case domain.Typing:
		username := req.Username
		if username == "" {
			username = s.username
		}
		if err := h.messageUC.Typing(ctx, req.ConversationID, s.profileID, username); err != nil {
			resp.Error = err.Error()
		} else {
			resp.Success = true
		}

	default:
		s.sendError("unknown action")
		return
	}

	if resp.Error != "" {
		logger.Log.Error("websocket err",
			zap.String("profile_id", s.profileID),
			zap.String("action", req.Action),
			zap.String("err", resp.Error),
		)
	}
	s.send(resp)
}

// subscribe 訂閱 conversation topic, events are forwarded as envelopes; subscribing twice is a no-op
func (h *ChatWebsocketHandler) subscribe(ctx context.Context, s *wsSession, conversationID string) error {
	s.mu.Lock()
	_, exists := s.subs[conversationID]
	s.mu.Unlock()
	if exists {
		return nil
	}

	subCtx, cancel := context.WithCancel(ctx)
	err := h.pubSub.Subscribe(subCtx, conversationID, func(ev domain.Event) {
		s.send(ev)
	})
	if err != nil {
		cancel()
		return err
	}

	s.mu.Lock()
	s.subs[conversationID] = cancel
	s.mu.Unlock()
	metrics.Subscriptions.Inc()
	return nil
}

func (h *ChatWebsocketHandler) unsubscribe(s *wsSession, conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.subs[conversationID]; ok {
		cancel()
		delete(s.subs, conversationID)
		metrics.Subscriptions.Dec()
	}
}
