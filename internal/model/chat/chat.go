package chat

import (
	"maps"
	"time"
)

// Metadata keys every chat carries.
const (
	MetaOwnerUserID = "owner_user_id"
	MetaTitle       = "title"
	MetaPersonaID   = "persona_id"
)

const (
	DefaultTitle     = "无标题对话"
	DefaultPersonaID = "default"
)

// Chat 是一段持久化的对话，归属于创建它的用户。
type Chat struct {
	ID        string            `json:"chat_id"`
	Messages  []Message         `json:"messages"`
	Metadata  map[string]string `json:"metadata"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// OwnerUserID returns the immutable owner recorded at creation.
func (c *Chat) OwnerUserID() string {
	return c.Metadata[MetaOwnerUserID]
}

// Title returns the display title, falling back to DefaultTitle.
func (c *Chat) Title() string {
	if title := c.Metadata[MetaTitle]; title != "" {
		return title
	}
	return DefaultTitle
}

// PersonaID returns the persona reference, falling back to DefaultPersonaID.
func (c *Chat) PersonaID() string {
	if id := c.Metadata[MetaPersonaID]; id != "" {
		return id
	}
	return DefaultPersonaID
}

// Summary projects the chat into its list form.
func (c *Chat) Summary() Summary {
	return Summary{
		ChatID:    c.ID,
		Title:     c.Title(),
		UpdatedAt: c.UpdatedAt,
		PersonaID: c.PersonaID(),
	}
}

// Clone returns a deep copy so callers can mutate without aliasing.
func (c *Chat) Clone() *Chat {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Messages = append([]Message(nil), c.Messages...)
	clone.Metadata = maps.Clone(c.Metadata)
	if clone.Metadata == nil {
		clone.Metadata = make(map[string]string)
	}
	return &clone
}

// Summary 是聊天列表中的一项。
type Summary struct {
	ChatID    string    `json:"chat_id"`
	Title     string    `json:"title"`
	UpdatedAt time.Time `json:"updated_at"`
	PersonaID string    `json:"persona_id"`
}
