package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/xiaohao/backend/internal/config"
	"github.com/zhouzirui/xiaohao/backend/internal/model/persona"
	"github.com/zhouzirui/xiaohao/backend/internal/service/ai"
	personaservice "github.com/zhouzirui/xiaohao/backend/internal/service/persona"
	"github.com/zhouzirui/xiaohao/backend/internal/storage"
	"github.com/zhouzirui/xiaohao/backend/pkg/log"
)

func main() {
	personaID := flag.String("persona", persona.DefaultID, "人设 ID")
	deep := flag.Bool("deep", false, "启用深度思考模式")
	message := flag.String("message", "", "发送给模型的消息")
	timeout := flag.Duration("timeout", 2*time.Minute, "请求超时时间")
	level := flag.String("log", "warn", "日志级别")
	flag.Parse()
	_ = log.Init(*level, "console", "")

	if err := godotenv.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "[WARN] 无法加载 .env，改用系统环境变量: %v\n", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("配置加载失败", err)
	}
	defer log.Sync()

	text := strings.TrimSpace(*message)
	if text == "" {
		text = strings.TrimSpace(strings.Join(flag.Args(), " "))
	}
	if text == "" {
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	p := resolvePersona(cfg.Storage.DataDir, *personaID)

	backend, err := ai.NewBackend(ctx, cfg.AI)
	if err != nil {
		log.Fatal("模型初始化失败", err)
	}
	handler := ai.NewMessageHandler(backend, ai.ProfilesFromConfig(cfg.AI))

	start := time.Now()
	reply := handler.Respond(ctx, text, nil, p.SystemPrompt, *deep)

	fmt.Printf("[%s | %s | deep=%t | %s]\n", cfg.AI.Provider, p.ID, *deep, time.Since(start).Round(time.Millisecond))
	fmt.Println(reply)
}

// resolvePersona 优先读取数据目录中的人设，目录不可用时使用内置人设。
func resolvePersona(dataDir, id string) persona.Persona {
	store, err := storage.NewOS(dataDir)
	if err == nil {
		return personaservice.NewService(store).Resolve(id)
	}

	log.Warnw("数据目录不可用，使用内置人设", "dir", dataDir, "error", err)
	for _, p := range persona.Seed() {
		if p.ID == id {
			return p
		}
	}
	return persona.Fallback()
}
