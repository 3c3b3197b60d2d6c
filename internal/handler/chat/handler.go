package chat

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/xiaohao/backend/internal/middleware"
	"github.com/zhouzirui/xiaohao/backend/internal/model/chat"
	"github.com/zhouzirui/xiaohao/backend/internal/service/assistant"
	chatservice "github.com/zhouzirui/xiaohao/backend/internal/service/chat"
	"github.com/zhouzirui/xiaohao/backend/pkg/utils"
)

// Chats 聊天管理接口
type Chats interface {
	ListForUser(ctx context.Context, userID string) []chat.Summary
	LoadForOwner(ctx context.Context, userID, chatID string) (*chat.Chat, error)
	Rename(ctx context.Context, userID, chatID, title string) (*chat.Chat, error)
}

// Handler 聊天服务的HTTP处理器
type Handler struct {
	chats     Chats
	assistant *assistant.Service
}

// New 创建聊天处理器
func New(chats Chats, assistantSvc *assistant.Service) *Handler {
	return &Handler{chats: chats, assistant: assistantSvc}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/chats", h.handleListChats)
	r.Post("/chats", h.handleCreateChat)
	r.Get("/chats/{chatID}", h.handleGetChat)
	r.Patch("/chats/{chatID}", h.handleUpdateChat)
	r.Post("/chats/{chatID}/messages", h.handleSendMessage)
}

func (h *Handler) handleListChats(w http.ResponseWriter, r *http.Request) {
	sess, ok := session(w, r)
	if !ok {
		return
	}
	utils.RespondJSON(w, http.StatusOK, h.chats.ListForUser(r.Context(), sess.UserID))
}

// handleCreateChat 创建会话
func (h *Handler) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	sess, ok := session(w, r)
	if !ok {
		return
	}

	var payload struct {
		PersonaID string `json:"personaId"`
	}
	// 请求体可省略，此时使用默认人设
	if r.ContentLength != 0 {
		if err := utils.DecodeJSON(w, r, &payload); err != nil && !errors.Is(err, io.EOF) {
			utils.RespondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	if payload.PersonaID != "" {
		var err error
		if sess, err = h.assistant.SelectPersona(r.Context(), sess, payload.PersonaID); err != nil {
			RespondServiceError(w, err)
			return
		}
	}

	_, c, err := h.assistant.NewChat(r.Context(), sess)
	if err != nil {
		RespondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, c)
}

func (h *Handler) handleGetChat(w http.ResponseWriter, r *http.Request) {
	sess, ok := session(w, r)
	if !ok {
		return
	}

	c, err := h.chats.LoadForOwner(r.Context(), sess.UserID, chi.URLParam(r, "chatID"))
	if err != nil {
		RespondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, c)
}

// handleUpdateChat 修改标题或人设
func (h *Handler) handleUpdateChat(w http.ResponseWriter, r *http.Request) {
	sess, ok := session(w, r)
	if !ok {
		return
	}

	var payload struct {
		Title     *string `json:"title"`
		PersonaID *string `json:"personaId"`
	}
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.Title == nil && payload.PersonaID == nil {
		utils.RespondError(w, http.StatusBadRequest, "title or personaId is required")
		return
	}

	// 先校验人设，避免标题已改而请求整体失败
	if payload.PersonaID != nil {
		if err := h.assistant.CheckPersona(*payload.PersonaID); err != nil {
			RespondServiceError(w, err)
			return
		}
	}

	chatID := chi.URLParam(r, "chatID")
	if payload.Title != nil {
		if _, err := h.chats.Rename(r.Context(), sess.UserID, chatID, *payload.Title); err != nil {
			RespondServiceError(w, err)
			return
		}
	}
	if payload.PersonaID != nil {
		sess.ChatID = chatID
		if _, err := h.assistant.SelectPersona(r.Context(), sess, *payload.PersonaID); err != nil {
			RespondServiceError(w, err)
			return
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleSendMessage 发送消息并返回助手回复
func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	sess, ok := session(w, r)
	if !ok {
		return
	}

	var payload struct {
		Content      string `json:"content"`
		PersonaID    string `json:"personaId"`
		DeepThinking bool   `json:"deepThinking"`
	}
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess.ChatID = chi.URLParam(r, "chatID")
	if _, err := h.chats.LoadForOwner(r.Context(), sess.UserID, sess.ChatID); err != nil {
		RespondServiceError(w, err)
		return
	}

	var err error
	if payload.PersonaID != "" {
		if sess, err = h.assistant.SelectPersona(r.Context(), sess, payload.PersonaID); err != nil {
			RespondServiceError(w, err)
			return
		}
	}
	sess = h.assistant.SetDeepThinking(sess, payload.DeepThinking)

	_, reply, err := h.assistant.SendMessage(r.Context(), sess, payload.Content)
	if err != nil {
		RespondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, reply)
}

func session(w http.ResponseWriter, r *http.Request) (assistant.Session, bool) {
	id, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "未登录")
		return assistant.Session{}, false
	}
	return assistant.Session{UserID: id.UserID, Username: id.Username}, true
}

// RespondServiceError 将业务错误映射为HTTP状态码。外人的会话与不存在的会话
// 同样返回 404。
func RespondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chatservice.ErrChatNotFound), errors.Is(err, chatservice.ErrNotOwner):
		utils.RespondError(w, http.StatusNotFound, "会话不存在")
	case errors.Is(err, assistant.ErrNotAuthenticated):
		utils.RespondError(w, http.StatusUnauthorized, "未登录")
	case errors.Is(err, assistant.ErrEmptyMessage):
		utils.RespondError(w, http.StatusBadRequest, "消息不能为空")
	case errors.Is(err, assistant.ErrUnknownPersona):
		utils.RespondError(w, http.StatusBadRequest, "人设不存在")
	case errors.Is(err, chatservice.ErrTitleRequired):
		utils.RespondError(w, http.StatusBadRequest, "标题不能为空")
	case errors.Is(err, chatservice.ErrPersonaRequired):
		utils.RespondError(w, http.StatusBadRequest, "人设不能为空")
	default:
		utils.RespondError(w, http.StatusInternalServerError, "服务器内部错误")
	}
}
