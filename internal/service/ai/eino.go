package ai

import (
	"context"
	"fmt"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/xiaohao/backend/internal/model/chat"
)

// ModelFactory builds the chat model that serves one set of generation
// options. Providers that accept every option per call can ignore opts.
type ModelFactory func(ctx context.Context, opts Options) (model.BaseChatModel, error)

// StaticModel serves every profile with the same chat model.
func StaticModel(chatModel model.BaseChatModel) ModelFactory {
	return func(context.Context, Options) (model.BaseChatModel, error) {
		return chatModel, nil
	}
}

type chatChain = compose.Runnable[[]*schema.Message, *schema.Message]

// EinoBackend runs completions through a single-node eino chain around a
// chat model. One chain is compiled per distinct Options value.
type EinoBackend struct {
	name    string
	factory ModelFactory

	mu     sync.Mutex
	chains map[Options]chatChain
}

// NewEinoBackend wraps factory. name only labels errors and logs.
func NewEinoBackend(name string, factory ModelFactory) (*EinoBackend, error) {
	if factory == nil {
		return nil, fmt.Errorf("%s: model factory is required", name)
	}
	return &EinoBackend{name: name, factory: factory, chains: make(map[Options]chatChain)}, nil
}

func (b *EinoBackend) chain(ctx context.Context, opts Options) (chatChain, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if runnable, ok := b.chains[opts]; ok {
		return runnable, nil
	}

	chatModel, err := b.factory(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create chat model: %w", b.name, err)
	}
	if chatModel == nil {
		return nil, fmt.Errorf("%s: chat model is required", b.name)
	}

	chain := compose.NewChain[[]*schema.Message, *schema.Message]()
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to compile chat chain: %w", b.name, err)
	}

	b.chains[opts] = runnable
	return runnable, nil
}

// Complete implements Backend. TopK has no eino common option; providers
// that support it take it from the model built by the factory.
func (b *EinoBackend) Complete(ctx context.Context, messages []chat.Message, opts Options) (*Response, error) {
	runnable, err := b.chain(ctx, opts)
	if err != nil {
		return nil, err
	}

	out, err := runnable.Invoke(ctx, toSchemaMessages(messages), compose.WithChatModelOption(
		model.WithTemperature(float32(opts.Temperature)),
		model.WithTopP(float32(opts.TopP)),
		model.WithMaxTokens(opts.MaxOutputTokens),
	))
	if err != nil {
		return nil, fmt.Errorf("%s: failed to run chat chain: %w", b.name, err)
	}
	if out == nil {
		return &Response{}, nil
	}

	reply := chat.AssistantMessage(out.Content)
	return &Response{Message: &reply}, nil
}

func toSchemaMessages(messages []chat.Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case chat.RoleSystem:
			out = append(out, schema.SystemMessage(msg.Content))
		case chat.RoleAssistant:
			out = append(out, schema.AssistantMessage(msg.Content, nil))
		default:
			out = append(out, schema.UserMessage(msg.Content))
		}
	}
	return out
}
