package storage

import "github.com/zhouzirui/xiaohao/backend/internal/model/chat"

// SaveChat writes the chat record and refreshes its entry in the owner index.
func (s *FileStorage) SaveChat(c *chat.Chat) bool {
	if c == nil {
		return false
	}
	if !s.save(entityChat, chatsDir, c.ID, c) {
		return false
	}

	s.mu.Lock()
	s.chats[c.ID] = indexEntry{owner: c.OwnerUserID(), summary: c.Summary()}
	s.mu.Unlock()
	return true
}

// LoadChat reads the chat record. Messages and Metadata are never nil on
// a successful load.
func (s *FileStorage) LoadChat(chatID string) (*chat.Chat, bool) {
	var c chat.Chat
	if !s.load(entityChat, chatsDir, chatID, &c) {
		return nil, false
	}
	if c.ID == "" {
		c.ID = chatID
	}
	if c.Messages == nil {
		c.Messages = []chat.Message{}
	}
	if c.Metadata == nil {
		c.Metadata = make(map[string]string)
	}
	return &c, true
}

// ChatExists reports whether a chat record exists for chatID.
func (s *FileStorage) ChatExists(chatID string) bool {
	return s.exists(chatsDir, chatID)
}

// ListChatsByOwner returns summaries of every chat owned by userID, newest
// first. Chats with equal UpdatedAt are ordered by ChatID.
func (s *FileStorage) ListChatsByOwner(userID string) []chat.Summary {
	if userID == "" {
		return []chat.Summary{}
	}

	s.mu.RLock()
	items := make([]chat.Summary, 0, 8)
	for _, entry := range s.chats {
		if entry.owner == userID {
			items = append(items, entry.summary)
		}
	}
	s.mu.RUnlock()

	sortSummaries(items)
	return items
}
