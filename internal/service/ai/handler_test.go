package ai

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/xiaohao/backend/internal/model/chat"
)

type recordingBackend struct {
	messages []chat.Message
	opts     Options
	reply    *chat.Message
	err      error
}

func (b *recordingBackend) Complete(_ context.Context, messages []chat.Message, opts Options) (*Response, error) {
	b.messages = messages
	b.opts = opts
	if b.err != nil {
		return nil, b.err
	}
	return &Response{Message: b.reply}, nil
}

func reply(content string) *chat.Message {
	msg := chat.AssistantMessage(content)
	return &msg
}

func TestRespondBuildsMessageSequence(t *testing.T) {
	backend := &recordingBackend{reply: reply("你好")}
	h := NewMessageHandler(backend, DefaultProfiles())

	history := []chat.Message{chat.UserMessage("q1"), chat.AssistantMessage("a1")}
	got := h.Respond(context.Background(), "q2", history, "你是一个乐于助人的AI助手。", false)

	assert.Equal(t, "你好", got)
	require.Len(t, backend.messages, 4)
	assert.Equal(t, chat.SystemMessage("你是一个乐于助人的AI助手。"), backend.messages[0])
	assert.Equal(t, history, backend.messages[1:3])
	assert.Equal(t, chat.UserMessage("q2"), backend.messages[3])
	assert.Equal(t, Options{Temperature: 0.7, TopP: 0.9, TopK: 40, MaxOutputTokens: 1024}, backend.opts)
}

func TestRespondDeepModeUsesDeepProfileAndInstruction(t *testing.T) {
	backend := &recordingBackend{reply: reply("<think>嗯</think>结论")}
	h := NewMessageHandler(backend, DefaultProfiles())

	got := h.Respond(context.Background(), "q", nil, "base prompt", true)

	assert.Equal(t, 2048, backend.opts.MaxOutputTokens)
	system := backend.messages[0]
	assert.Equal(t, chat.RoleSystem, system.Role)
	assert.True(t, strings.HasPrefix(system.Content, "base prompt"))
	assert.Contains(t, system.Content, "<think>")
	assert.Contains(t, got, "> 嗯")
	assert.True(t, strings.HasSuffix(got, "结论"))
}

func TestRespondStripsReasoningInNormalMode(t *testing.T) {
	backend := &recordingBackend{reply: reply("<think>secret</think>\n答案")}
	h := NewMessageHandler(backend, DefaultProfiles())

	assert.Equal(t, "答案", h.Respond(context.Background(), "q", nil, "p", false))
	assert.NotContains(t, backend.messages[0].Content, "<think>")
}

func TestRespondFallbackWithoutMessage(t *testing.T) {
	h := NewMessageHandler(&recordingBackend{}, DefaultProfiles())
	assert.Equal(t, FallbackReply, h.Respond(context.Background(), "q", nil, "p", false))
}

func TestRespondBackendError(t *testing.T) {
	h := NewMessageHandler(&recordingBackend{err: errors.New("connection refused")}, DefaultProfiles())
	assert.Equal(t, "抱歉，发生了错误: connection refused", h.Respond(context.Background(), "q", nil, "p", true))
}

func TestRespondRecoversBackendPanic(t *testing.T) {
	backend := BackendFunc(func(context.Context, []chat.Message, Options) (*Response, error) {
		panic("boom")
	})
	h := NewMessageHandler(backend, DefaultProfiles())

	var got string
	require.NotPanics(t, func() {
		got = h.Respond(context.Background(), "q", nil, "p", false)
	})
	assert.True(t, strings.HasPrefix(got, ErrorReplyPrefix))
	assert.Contains(t, got, "boom")
}

func TestRespondWithoutBackend(t *testing.T) {
	h := NewMessageHandler(nil, DefaultProfiles())
	assert.True(t, strings.HasPrefix(h.Respond(context.Background(), "q", nil, "p", false), ErrorReplyPrefix))
}

func TestBuildSystemPrompt(t *testing.T) {
	assert.Equal(t, "p", BuildSystemPrompt("p", false))
	assert.Equal(t, "p\n\n"+ReasoningInstruction, BuildSystemPrompt("p", true))
	assert.Equal(t, ReasoningInstruction, BuildSystemPrompt("", true))
}
