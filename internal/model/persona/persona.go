package persona

import "time"

// DefaultID 是内置通用助手的标识，也是悬空引用的回退目标。
const DefaultID = "default"

// Persona 是一段可选择的系统提示词，用于引导模型的回答风格。
type Persona struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	SystemPrompt string    `json:"systemPrompt"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Seed returns the built-in personas written on first run.
func Seed() []Persona {
	return []Persona{
		{
			ID:           DefaultID,
			Name:         "通用助手",
			Description:  "一个通用的AI助手，可以回答各种问题。",
			SystemPrompt: "你是一个乐于助人的AI助手。",
		},
		{
			ID:           "medical",
			Name:         "医疗助手",
			Description:  "专注于医疗健康领域的AI助手。",
			SystemPrompt: "你是一个医疗领域的AI助手，提供健康相关的信息。注意：你不应该提供医疗诊断或治疗建议，仅提供一般性的医疗信息。",
		},
		{
			ID:           "legal",
			Name:         "法律助手",
			Description:  "专注于法律领域的AI助手。",
			SystemPrompt: "你是一个法律领域的AI助手，提供法律相关的信息。注意：你不应该提供具体的法律建议，仅提供一般性的法律信息。",
		},
	}
}

// Fallback returns the built-in default persona.
func Fallback() Persona {
	return Seed()[0]
}
