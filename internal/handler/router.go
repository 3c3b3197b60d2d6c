package handler

import (
	"net/http"
	"net/netip"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	authhandler "github.com/zhouzirui/xiaohao/backend/internal/handler/auth"
	chathandler "github.com/zhouzirui/xiaohao/backend/internal/handler/chat"
	personahandler "github.com/zhouzirui/xiaohao/backend/internal/handler/persona"
	"github.com/zhouzirui/xiaohao/backend/internal/handler/ws"
	"github.com/zhouzirui/xiaohao/backend/internal/metrics"
	middlewarePkg "github.com/zhouzirui/xiaohao/backend/internal/middleware"
	"github.com/zhouzirui/xiaohao/backend/internal/service/assistant"
	"github.com/zhouzirui/xiaohao/backend/pkg/utils"
)

// Deps 路由依赖的服务
type Deps struct {
	Users     authhandler.Users
	Tokens    TokenService
	Personas  personahandler.Personas
	Chats     chathandler.Chats
	Assistant *assistant.Service

	// AuthLimiter 限制注册与登录频率，可为空
	AuthLimiter *middlewarePkg.RateLimiter

	// TrustedProxies 允许改写客户端地址的反向代理
	TrustedProxies []netip.Prefix
}

// TokenService 同时负责签发与校验
type TokenService interface {
	authhandler.TokenIssuer
	middlewarePkg.TokenVerifier
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middlewarePkg.TrustedRealIP(deps.TrustedProxies))
	r.Use(middlewarePkg.RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)
	r.Use(middlewarePkg.Metrics)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	var authLimit func(http.Handler) http.Handler
	if deps.AuthLimiter != nil {
		authLimit = deps.AuthLimiter.Handler
	}

	r.Route("/api", func(api chi.Router) {
		authhandler.New(deps.Users, deps.Tokens).RegisterRoutes(api, authLimit)

		api.Group(func(protected chi.Router) {
			protected.Use(middlewarePkg.RequireAuth(deps.Tokens))

			personahandler.New(deps.Personas, deps.Assistant).RegisterRoutes(protected)
			chathandler.New(deps.Chats, deps.Assistant).RegisterRoutes(protected)
			ws.NewWebSocketHandler(deps.Assistant).RegisterRoutes(protected)
		})
	})

	return r
}
