package persona

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/xiaohao/backend/internal/middleware"
	"github.com/zhouzirui/xiaohao/backend/internal/model/persona"
	"github.com/zhouzirui/xiaohao/backend/internal/service/assistant"
	personaservice "github.com/zhouzirui/xiaohao/backend/internal/service/persona"
	"github.com/zhouzirui/xiaohao/backend/pkg/utils"
)

// Personas persona 查询接口，创建统一走 assistant。
type Personas interface {
	persona.Store
}

// Handler persona服务的HTTP处理器
type Handler struct {
	personas  Personas
	assistant *assistant.Service
}

// New 创建persona处理器
func New(personas Personas, assistantSvc *assistant.Service) *Handler {
	return &Handler{personas: personas, assistant: assistantSvc}
}

// RegisterRoutes 注册persona相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/personas", h.handleListPersonas)
	r.Post("/personas", h.handleCreatePersona)
}

// handleListPersonas 列出所有persona
func (h *Handler) handleListPersonas(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.personas.List())
}

// handleCreatePersona 创建自定义persona
func (h *Handler) handleCreatePersona(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ID           string `json:"id"`
		Name         string `json:"name"`
		Description  string `json:"description"`
		SystemPrompt string `json:"systemPrompt"`
	}
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var sess assistant.Session
	if id, ok := middleware.IdentityFrom(r.Context()); ok {
		sess = assistant.Session{UserID: id.UserID, Username: id.Username}
	}

	_, p, err := h.assistant.CreatePersona(r.Context(), sess, payload.ID, payload.Name, payload.Description, payload.SystemPrompt)
	switch {
	case err == nil:
		utils.RespondJSON(w, http.StatusCreated, p)
	case errors.Is(err, assistant.ErrNotAuthenticated):
		utils.RespondError(w, http.StatusUnauthorized, "未登录")
	case errors.Is(err, personaservice.ErrInvalidPersona):
		utils.RespondError(w, http.StatusBadRequest, "id、名称和系统提示词不能为空")
	case errors.Is(err, personaservice.ErrPersonaExists):
		utils.RespondError(w, http.StatusConflict, "人设ID已存在")
	default:
		utils.RespondError(w, http.StatusInternalServerError, "保存人设失败")
	}
}
