// Package ws 提供基于 WebSocket 的实时对话通道。
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	chathandler "github.com/zhouzirui/xiaohao/backend/internal/handler/chat"
	"github.com/zhouzirui/xiaohao/backend/internal/middleware"
	"github.com/zhouzirui/xiaohao/backend/internal/service/assistant"
	"github.com/zhouzirui/xiaohao/backend/pkg/log"
)

const (
	defaultReadTimeout = 60 * time.Second
	writeTimeout       = 10 * time.Second
	inboxSize          = 8
)

// Message types.
const (
	TypeText   = "text"
	TypeConfig = "config"
	TypeResult = "result"
	TypeError  = "error"
	TypeReady  = "connected"
)

// WebSocketHandler WebSocket对话处理器
type WebSocketHandler struct {
	assistant   *assistant.Service
	upgrader    websocket.Upgrader
	readTimeout time.Duration
}

// Option 调整处理器参数
type Option func(*WebSocketHandler)

// WithReadTimeout 设置等待客户端消息或 pong 的最长时间，ping 间隔取其九成。
func WithReadTimeout(d time.Duration) Option {
	return func(h *WebSocketHandler) {
		if d > 0 {
			h.readTimeout = d
		}
	}
}

// NewWebSocketHandler 创建WebSocket处理器
func NewWebSocketHandler(assistantSvc *assistant.Service, opts ...Option) *WebSocketHandler {
	h := &WebSocketHandler{
		assistant: assistantSvc,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		readTimeout: defaultReadTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *WebSocketHandler) pingInterval() time.Duration {
	return h.readTimeout * 9 / 10
}

// RegisterRoutes 注册WebSocket路由
func (h *WebSocketHandler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/chats/{chatID}", h.handleWebSocket)
}

type inboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// TextMessage 文本消息
type TextMessage struct {
	Text string `json:"text"`
}

// ConfigMessage 配置消息
type ConfigMessage struct {
	PersonaID    string `json:"personaId"`
	DeepThinking *bool  `json:"deepThinking,omitempty"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	ChatID    string      `json:"chatId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// conn serialises writes; gorilla connections allow one concurrent writer.
type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) send(msg outgoingMessage) error {
	msg.Timestamp = time.Now().Unix()
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteJSON(msg)
}

func (c *conn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

// handleWebSocket 处理WebSocket连接
func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	sess := assistant.Session{UserID: id.UserID, Username: id.Username}
	sess, _, err := h.assistant.SelectChat(r.Context(), sess, chi.URLParam(r, "chatID"))
	if err != nil {
		chathandler.RespondServiceError(w, err)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnw("[websocket] upgrade failed", "chatID", sess.ChatID, "error", err)
		return
	}
	defer ws.Close()

	c := &conn{ws: ws}
	log.Infow("[websocket] connection opened", "chatID", sess.ChatID, "user", sess.UserID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	_ = ws.SetReadDeadline(time.Now().Add(h.readTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.readTimeout))
	})

	go h.pingLoop(ctx, c)

	_ = c.send(outgoingMessage{
		Type:   TypeReady,
		ChatID: sess.ChatID,
		Data:   map[string]any{"personaId": sess.PersonaID, "deepThinking": sess.DeepThinking},
	})

	chatID := sess.ChatID

	// Messages are handled one at a time off the read loop, so pongs keep
	// the read deadline alive while a reply is being generated.
	inbox := make(chan inboundMessage, inboxSize)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range inbox {
			sess = h.handleMessage(ctx, c, sess, &msg)
		}
	}()
	defer func() {
		close(inbox)
		cancel()
		<-done
	}()

	for {
		var msg inboundMessage
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warnw("[websocket] read error", "chatID", chatID, "error", err)
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(h.readTimeout))

		select {
		case inbox <- msg:
		default:
			h.sendError(c, chatID, "消息过多，请稍后再试")
		}
	}
}

func (h *WebSocketHandler) handleMessage(ctx context.Context, c *conn, sess assistant.Session, msg *inboundMessage) assistant.Session {
	switch msg.Type {
	case TypeText:
		var text TextMessage
		if err := json.Unmarshal(msg.Data, &text); err != nil {
			h.sendError(c, sess.ChatID, "invalid text payload")
			return sess
		}
		return h.handleText(ctx, c, sess, text.Text)
	case TypeConfig:
		var cfg ConfigMessage
		if err := json.Unmarshal(msg.Data, &cfg); err != nil {
			h.sendError(c, sess.ChatID, "invalid config payload")
			return sess
		}
		return h.applyConfig(ctx, c, sess, cfg)
	default:
		h.sendError(c, sess.ChatID, "unsupported message type")
		return sess
	}
}

func (h *WebSocketHandler) handleText(ctx context.Context, c *conn, sess assistant.Session, text string) assistant.Session {
	next, reply, err := h.assistant.SendMessage(ctx, sess, text)
	if err != nil {
		if errors.Is(err, assistant.ErrEmptyMessage) {
			h.sendError(c, sess.ChatID, "消息不能为空")
		} else {
			log.Warnw("[websocket] send message failed", "chatID", sess.ChatID, "error", err)
			h.sendError(c, sess.ChatID, "消息处理失败")
		}
		return sess
	}

	if err := c.send(outgoingMessage{
		Type:   TypeResult,
		ChatID: reply.ChatID,
		Data:   map[string]string{"content": reply.Content, "personaId": next.PersonaID},
	}); err != nil {
		log.Warnw("[websocket] write result failed", "chatID", reply.ChatID, "error", err)
	}
	return next
}

func (h *WebSocketHandler) applyConfig(ctx context.Context, c *conn, sess assistant.Session, cfg ConfigMessage) assistant.Session {
	if cfg.PersonaID != "" {
		next, err := h.assistant.SelectPersona(ctx, sess, cfg.PersonaID)
		if err != nil {
			h.sendError(c, sess.ChatID, "人设不存在")
			return sess
		}
		sess = next
	}
	if cfg.DeepThinking != nil {
		sess = h.assistant.SetDeepThinking(sess, *cfg.DeepThinking)
	}

	_ = c.send(outgoingMessage{
		Type:   TypeConfig,
		ChatID: sess.ChatID,
		Data:   map[string]any{"personaId": sess.PersonaID, "deepThinking": sess.DeepThinking},
	})
	return sess
}

func (h *WebSocketHandler) sendError(c *conn, chatID, message string) {
	if err := c.send(outgoingMessage{
		Type:   TypeError,
		ChatID: chatID,
		Data:   map[string]string{"message": message},
	}); err != nil {
		log.Warnw("[websocket] write error failed", "chatID", chatID, "error", err)
	}
}

// pingLoop 定期发送ping消息
func (h *WebSocketHandler) pingLoop(ctx context.Context, c *conn) {
	ticker := time.NewTicker(h.pingInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.ping(); err != nil {
				return
			}
		}
	}
}
