package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/xiaohao/backend/internal/config"
	"github.com/zhouzirui/xiaohao/backend/internal/handler"
	"github.com/zhouzirui/xiaohao/backend/internal/middleware"
	chatmodel "github.com/zhouzirui/xiaohao/backend/internal/model/chat"
	"github.com/zhouzirui/xiaohao/backend/internal/service/ai"
	"github.com/zhouzirui/xiaohao/backend/internal/service/assistant"
	"github.com/zhouzirui/xiaohao/backend/internal/service/auth"
	"github.com/zhouzirui/xiaohao/backend/internal/service/chat"
	"github.com/zhouzirui/xiaohao/backend/internal/service/persona"
	"github.com/zhouzirui/xiaohao/backend/internal/storage"
	"github.com/zhouzirui/xiaohao/backend/pkg/log"
	"github.com/zhouzirui/xiaohao/backend/pkg/token"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 配置加载前先使用默认 logger，保证启动错误可见
	_ = log.Init("info", "console", "")
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load configuration", err)
	}

	if err := log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.Output); err != nil {
		log.Fatal("failed to initialise logger", err)
	}
	defer log.Sync()

	if envErr != nil {
		log.Warnw("failed to load .env file, continuing with system environment variables only", "error", envErr)
	}

	store, err := storage.NewOS(cfg.Storage.DataDir)
	if err != nil {
		log.Fatal("failed to open data directory", err)
	}
	log.Infow("storage ready", "root", store.Root())

	personaService := persona.NewService(store)
	if n := personaService.EnsureDefaults(ctx); n > 0 {
		log.Infow("built-in personas written", "count", n)
	}
	chatService := chat.NewService(store)
	userService := auth.NewService(store)

	backend, backendErr := ai.NewBackend(ctx, cfg.AI)
	if backendErr != nil {
		// 回复会降级为错误提示，其余功能照常可用
		log.Warnw("LLM backend unavailable, replies will report the error", "provider", cfg.AI.Provider, "error", backendErr)
		backend = ai.BackendFunc(func(context.Context, []chatmodel.Message, ai.Options) (*ai.Response, error) {
			return nil, backendErr
		})
	} else {
		log.Infow("LLM backend initialised", "provider", cfg.AI.Provider)
	}
	responder := ai.NewMessageHandler(backend, ai.ProfilesFromConfig(cfg.AI))
	assistantService := assistant.NewService(chatService, personaService, responder)

	secret := cfg.Auth.JWTSecret
	if secret == "" {
		secret = randomSecret()
		log.Warnw("JWT_SECRET not set, using an ephemeral secret; tokens will not survive a restart")
	}

	router := handler.NewRouter(handler.Deps{
		Users:          userService,
		Tokens:         token.NewManager(secret, cfg.Auth.TokenExpiry),
		Personas:       personaService,
		Chats:          chatService,
		Assistant:      assistantService,
		AuthLimiter:    middleware.NewRateLimiter(cfg.Server.RateRPS, cfg.Server.RateBurst, middleware.KeyByUserOrIP),
		TrustedProxies: cfg.Server.TrustedProxies,
	})

	startServer(ctx, cfg.Server, router)
}

func randomSecret() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		log.Fatal("failed to generate JWT secret", err)
	}
	return hex.EncodeToString(buf)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Infow("XiaoHao backend listening", "addr", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatal("server error", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
