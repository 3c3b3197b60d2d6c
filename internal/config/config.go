package config

import (
	"context"
	"fmt"
	"net/http"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino-ext/components/model/ollama"
	"github.com/cloudwego/eino/components/model"
	"github.com/ollama/ollama/api"
)

// LLM providers.
const (
	ProviderOllama = "ollama"
	ProviderArk    = "ark"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	Log     LogConfig
	Auth    AuthConfig
	AI      AIConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	auth, err := loadAuthConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:  server,
		Storage: StorageConfig{DataDir: getEnvOrDefault("DATA_DIR", "data")},
		Log: LogConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "console"),
			Output: strings.TrimSpace(os.Getenv("LOG_OUTPUT")),
		},
		Auth: auth,
		AI:   ai,
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr      string
	RateRPS   float64
	RateBurst int
	// TrustedProxies 列出允许设置 X-Forwarded-For / X-Real-IP 的对端地址段。
	TrustedProxies []netip.Prefix
}

// StorageConfig 描述数据目录。
type StorageConfig struct {
	DataDir string
}

// LogConfig 描述日志输出。
type LogConfig struct {
	Level  string
	Format string
	Output string
}

// AuthConfig 描述 JWT 签发参数。
type AuthConfig struct {
	JWTSecret   string
	TokenExpiry time.Duration
}

// loadServerConfig 解析服务器监听地址与限流参数。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	rps, err := parseOptionalFloatEnv("RATE_RPS")
	if err != nil {
		return ServerConfig{}, err
	}
	burst, err := parseOptionalIntEnv("RATE_BURST")
	if err != nil {
		return ServerConfig{}, err
	}

	proxies, err := parseTrustedProxies(os.Getenv("TRUSTED_PROXIES"))
	if err != nil {
		return ServerConfig{}, err
	}

	cfg := ServerConfig{RateRPS: 2, RateBurst: 5, TrustedProxies: proxies}
	if rps != nil {
		cfg.RateRPS = *rps
	}
	if burst != nil {
		cfg.RateBurst = *burst
	}

	switch {
	case strings.Contains(port, " "):
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	case strings.Contains(port, ":"):
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		cfg.Addr = port
	default:
		cfg.Addr = ":" + port
	}
	return cfg, nil
}

// parseTrustedProxies 解析逗号分隔的 IP 或 CIDR 列表。
func parseTrustedProxies(raw string) ([]netip.Prefix, error) {
	var prefixes []netip.Prefix
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if strings.Contains(item, "/") {
			prefix, err := netip.ParsePrefix(item)
			if err != nil {
				return nil, fmt.Errorf("invalid TRUSTED_PROXIES entry %q: %w", item, err)
			}
			prefixes = append(prefixes, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(item)
		if err != nil {
			return nil, fmt.Errorf("invalid TRUSTED_PROXIES entry %q: %w", item, err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

func loadAuthConfig() (AuthConfig, error) {
	hours, err := parseOptionalIntEnv("JWT_EXPIRE_HOURS")
	if err != nil {
		return AuthConfig{}, err
	}

	expiry := 24 * time.Hour
	if hours != nil {
		if *hours < 1 {
			return AuthConfig{}, fmt.Errorf("invalid JWT_EXPIRE_HOURS value %d: must be positive", *hours)
		}
		expiry = time.Duration(*hours) * time.Hour
	}

	return AuthConfig{
		JWTSecret:   strings.TrimSpace(os.Getenv("JWT_SECRET")),
		TokenExpiry: expiry,
	}, nil
}

// GenerationProfile 对应一组生成参数。
type GenerationProfile struct {
	Temperature float64
	TopP        float64
	TopK        int
	MaxTokens   int
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	Provider string
	Timeout  time.Duration

	OllamaHost  string
	OllamaModel string

	APIKey    string
	AccessKey string
	SecretKey string
	Model     string
	BaseURL   string
	Region    string

	Normal GenerationProfile
	Deep   GenerationProfile
}

// ArkEnabled 表示是否提供了 Ark 所需的密钥与模型。
func (c AIConfig) ArkEnabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个 Ark 模型实例。生成参数按请求下发，这里不设置默认值。
func (c AIConfig) NewChatModel(ctx context.Context) (model.BaseChatModel, error) {
	if !c.ArkEnabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + Model 或 AK/SK 组合")
	}

	timeout := c.Timeout
	cfg := &ark.ChatModelConfig{
		BaseURL:   c.BaseURL,
		Region:    c.Region,
		APIKey:    c.APIKey,
		AccessKey: c.AccessKey,
		SecretKey: c.SecretKey,
		Model:     c.Model,
		Timeout:   &timeout,
	}

	return ark.NewChatModel(ctx, cfg)
}

// NewOllamaChatModel 创建一个 Ollama 模型实例。top_k 与 num_predict 只能通过
// 模型选项下发，因此每组生成参数对应一个实例。
func (c AIConfig) NewOllamaChatModel(ctx context.Context, p GenerationProfile) (model.BaseChatModel, error) {
	if c.OllamaHost == "" || c.OllamaModel == "" {
		return nil, fmt.Errorf("Ollama 地址或模型未配置")
	}

	return ollama.NewChatModel(ctx, &ollama.ChatModelConfig{
		BaseURL:    c.OllamaHost,
		HTTPClient: &http.Client{Timeout: c.Timeout},
		Model:      c.OllamaModel,
		Options: &api.Options{
			Temperature: float32(p.Temperature),
			TopP:        float32(p.TopP),
			TopK:        p.TopK,
			NumPredict:  p.MaxTokens,
		},
	})
}

func loadAIConfig() (AIConfig, error) {
	provider := strings.ToLower(getEnvOrDefault("LLM_PROVIDER", ProviderOllama))
	if provider != ProviderOllama && provider != ProviderArk {
		return AIConfig{}, fmt.Errorf("invalid LLM_PROVIDER value %q: want %q or %q", provider, ProviderOllama, ProviderArk)
	}

	timeout, err := parseDurationEnv("LLM_TIMEOUT", 120*time.Second)
	if err != nil {
		return AIConfig{}, err
	}

	normal := GenerationProfile{Temperature: 0.7, TopP: 0.9, TopK: 40, MaxTokens: 1024}
	if v, err := parseOptionalFloatEnv("LLM_TEMPERATURE"); err != nil {
		return AIConfig{}, err
	} else if v != nil {
		normal.Temperature = *v
	}
	if v, err := parseOptionalFloatEnv("LLM_TOP_P"); err != nil {
		return AIConfig{}, err
	} else if v != nil {
		normal.TopP = *v
	}
	if v, err := parseOptionalIntEnv("LLM_TOP_K"); err != nil {
		return AIConfig{}, err
	} else if v != nil {
		normal.TopK = *v
	}
	if v, err := parseOptionalIntEnv("LLM_MAX_TOKENS"); err != nil {
		return AIConfig{}, err
	} else if v != nil {
		normal.MaxTokens = *v
	}

	deep := normal
	deep.MaxTokens = 2048
	if v, err := parseOptionalIntEnv("LLM_DEEP_MAX_TOKENS"); err != nil {
		return AIConfig{}, err
	} else if v != nil {
		deep.MaxTokens = *v
	}

	return AIConfig{
		Provider:    provider,
		Timeout:     timeout,
		OllamaHost:  getEnvOrDefault("OLLAMA_HOST", "http://localhost:11434"),
		OllamaModel: getEnvOrDefault("OLLAMA_MODEL", "deepseek-r1:7b"),
		APIKey:      strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:   strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:   strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:       strings.TrimSpace(os.Getenv("Model")),
		BaseURL:     getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:      getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Normal:      normal,
		Deep:        deep,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
