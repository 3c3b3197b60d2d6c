package ai

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"

	"github.com/zhouzirui/xiaohao/backend/internal/config"
	"github.com/zhouzirui/xiaohao/backend/pkg/log"
)

// NewBackend builds the backend selected by cfg.Provider. Both providers run
// through an eino chain.
func NewBackend(ctx context.Context, cfg config.AIConfig) (Backend, error) {
	switch cfg.Provider {
	case config.ProviderArk:
		chatModel, err := cfg.NewChatModel(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create chat model: %w", err)
		}
		log.Infow("[ai] using Ark backend", "model", cfg.Model)
		return NewEinoBackend(config.ProviderArk, StaticModel(chatModel))
	case config.ProviderOllama, "":
		log.Infow("[ai] using Ollama backend", "host", cfg.OllamaHost, "model", cfg.OllamaModel)
		// Ollama reads top_k and num_predict from the model options, so each
		// profile gets its own model.
		return NewEinoBackend(config.ProviderOllama, func(ctx context.Context, opts Options) (model.BaseChatModel, error) {
			return cfg.NewOllamaChatModel(ctx, toProfile(opts))
		})
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.Provider)
	}
}

// ProfilesFromConfig converts the configured generation profiles.
func ProfilesFromConfig(cfg config.AIConfig) Profiles {
	convert := func(p config.GenerationProfile) Options {
		return Options{
			Temperature:     p.Temperature,
			TopP:            p.TopP,
			TopK:            p.TopK,
			MaxOutputTokens: p.MaxTokens,
		}
	}
	return Profiles{Normal: convert(cfg.Normal), Deep: convert(cfg.Deep)}
}

func toProfile(opts Options) config.GenerationProfile {
	return config.GenerationProfile{
		Temperature: opts.Temperature,
		TopP:        opts.TopP,
		TopK:        opts.TopK,
		MaxTokens:   opts.MaxOutputTokens,
	}
}
