package ai

import (
	"context"
	"fmt"

	"github.com/zhouzirui/xiaohao/backend/internal/metrics"
	"github.com/zhouzirui/xiaohao/backend/internal/model/chat"
	"github.com/zhouzirui/xiaohao/backend/pkg/log"
)

const (
	// FallbackReply is returned when the backend answers without a message.
	FallbackReply = "抱歉，我无法生成回复。请稍后再试。"
	// ErrorReplyPrefix precedes the error text when the backend fails.
	ErrorReplyPrefix = "抱歉，发生了错误: "
)

// MessageHandler turns a user message into the assistant's rendered reply.
// It holds no conversation state.
type MessageHandler struct {
	backend  Backend
	profiles Profiles
}

// NewMessageHandler wires a backend with its generation profiles.
func NewMessageHandler(backend Backend, profiles Profiles) *MessageHandler {
	return &MessageHandler{backend: backend, profiles: profiles}
}

// Respond always returns displayable text; backend failures become
// apology strings.
func (h *MessageHandler) Respond(ctx context.Context, userMessage string, history []chat.Message, systemPrompt string, deep bool) string {
	messages := BuildMessages(systemPrompt, history, userMessage, deep)
	log.Infow("[ai] requesting reply", "messages", len(messages), "deep", deep)

	resp, err := h.complete(ctx, messages, h.profiles.For(deep))
	if err != nil {
		log.Error("[ai] backend call failed", err)
		metrics.ObserveReply(deep, metrics.OutcomeError)
		return ErrorReplyPrefix + err.Error()
	}

	if resp == nil || resp.Message == nil {
		log.Errorw("[ai] backend returned no reply message", "deep", deep)
		metrics.ObserveReply(deep, metrics.OutcomeFallback)
		return FallbackReply
	}

	metrics.ObserveReply(deep, metrics.OutcomeOK)
	log.Infow("[ai] reply received", "length", len(resp.Message.Content), "deep", deep)
	return RenderReasoning(resp.Message.Content, deep)
}

func (h *MessageHandler) complete(ctx context.Context, messages []chat.Message, opts Options) (resp *Response, err error) {
	if h.backend == nil {
		return nil, fmt.Errorf("no language model backend configured")
	}

	defer func() {
		if r := recover(); r != nil {
			resp = nil
			err = fmt.Errorf("backend panic: %v", r)
		}
	}()

	return h.backend.Complete(ctx, messages, opts)
}
