package ai

import (
	"strings"

	"github.com/zhouzirui/xiaohao/backend/internal/model/chat"
)

// ReasoningInstruction is appended to the system prompt in deep mode.
const ReasoningInstruction = "请在回答之前进行深入、逐步的思考，并把完整的思考过程放在 <think> 和 </think> 标签之间，然后在标签之后给出最终回答。"

// BuildSystemPrompt returns the effective system prompt for the mode.
func BuildSystemPrompt(systemPrompt string, deep bool) string {
	if !deep {
		return systemPrompt
	}
	if strings.TrimSpace(systemPrompt) == "" {
		return ReasoningInstruction
	}
	return systemPrompt + "\n\n" + ReasoningInstruction
}

// BuildMessages assembles [system] + history + [user].
func BuildMessages(systemPrompt string, history []chat.Message, userMessage string, deep bool) []chat.Message {
	messages := make([]chat.Message, 0, len(history)+2)
	messages = append(messages, chat.SystemMessage(BuildSystemPrompt(systemPrompt, deep)))
	messages = append(messages, history...)
	messages = append(messages, chat.UserMessage(userMessage))
	return messages
}
