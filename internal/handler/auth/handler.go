package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	authservice "github.com/zhouzirui/xiaohao/backend/internal/service/auth"
	"github.com/zhouzirui/xiaohao/backend/pkg/log"
	"github.com/zhouzirui/xiaohao/backend/pkg/utils"
)

// Users 用户管理接口
type Users interface {
	Register(ctx context.Context, username, password string) (string, error)
	Authenticate(ctx context.Context, username, password string) (string, error)
}

// TokenIssuer 签发登录凭证
type TokenIssuer interface {
	Generate(userID, username string) (string, error)
}

// Handler 注册与登录的HTTP处理器
type Handler struct {
	users  Users
	tokens TokenIssuer
}

// New 创建认证处理器
func New(users Users, tokens TokenIssuer) *Handler {
	return &Handler{users: users, tokens: tokens}
}

// RegisterRoutes 注册认证路由，limit 可为空
func (h *Handler) RegisterRoutes(r chi.Router, limit func(http.Handler) http.Handler) {
	r.Group(func(r chi.Router) {
		if limit != nil {
			r.Use(limit)
		}
		r.Post("/auth/register", h.handleRegister)
		r.Post("/auth/login", h.handleLogin)
	})
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var payload credentials
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	userID, err := h.users.Register(r.Context(), payload.Username, payload.Password)
	switch {
	case err == nil:
		utils.RespondJSON(w, http.StatusCreated, map[string]string{"userId": userID})
	case errors.Is(err, authservice.ErrInvalidInput):
		utils.RespondError(w, http.StatusBadRequest, "用户名或密码格式不正确")
	case errors.Is(err, authservice.ErrUsernameTaken):
		utils.RespondError(w, http.StatusConflict, "用户名已存在")
	default:
		utils.RespondError(w, http.StatusInternalServerError, "注册失败，请稍后再试")
	}
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var payload credentials
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	userID, err := h.users.Authenticate(r.Context(), payload.Username, payload.Password)
	if err != nil {
		utils.RespondError(w, http.StatusUnauthorized, "用户名或密码错误")
		return
	}

	token, err := h.tokens.Generate(userID, payload.Username)
	if err != nil {
		log.Error("[auth] failed to sign token", err)
		utils.RespondError(w, http.StatusInternalServerError, "登录失败，请稍后再试")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{
		"userId":   userID,
		"username": payload.Username,
		"token":    token,
	})
}
