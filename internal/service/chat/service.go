package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/xiaohao/backend/internal/model/chat"
	"github.com/zhouzirui/xiaohao/backend/pkg/log"
)

var (
	ErrOwnerRequired   = errors.New("owner user id is required")
	ErrPersonaRequired = errors.New("persona id is required")
	ErrTitleRequired   = errors.New("title is required")
	ErrChatNotFound    = errors.New("chat not found")
	ErrNotOwner        = errors.New("chat belongs to another user")
	ErrInvalidRole     = errors.New("invalid message role")
	ErrPersistFailed   = errors.New("failed to persist chat")
)

const titleLayout = "2006-01-02 15:04"

// Store is the subset of storage the chat manager needs.
type Store interface {
	SaveChat(c *chat.Chat) bool
	LoadChat(chatID string) (*chat.Chat, bool)
	ListChatsByOwner(userID string) []chat.Summary
}

// Option customises a Service.
type Option func(*Service)

// WithClock replaces time.Now as the source of creation and update times.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// Service manages the chat lifecycle on top of the file store.
//
// Methods taking a userID enforce ownership. AppendMessage and UpdateMetadata
// are unchecked primitives for callers that already proved ownership.
type Service struct {
	store Store
	now   func() time.Time

	// mu serialises read-modify-write cycles inside this process.
	mu sync.Mutex
}

// NewService builds the chat manager.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{store: store, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create provisions an empty chat owned by ownerUserID. An empty personaID
// selects the default persona.
func (s *Service) Create(_ context.Context, ownerUserID, personaID string) (*chat.Chat, error) {
	if ownerUserID == "" {
		return nil, ErrOwnerRequired
	}
	if personaID == "" {
		personaID = chat.DefaultPersonaID
	}

	now := s.now()
	c := &chat.Chat{
		ID:       uuid.NewString(),
		Messages: make([]chat.Message, 0, 16),
		Metadata: map[string]string{
			chat.MetaOwnerUserID: ownerUserID,
			chat.MetaTitle:       "新对话 " + now.Format(titleLayout),
			chat.MetaPersonaID:   personaID,
		},
		UpdatedAt: now.UTC(),
	}

	if !s.store.SaveChat(c) {
		return nil, ErrPersistFailed
	}

	log.Infow("[chat] created", "chatID", c.ID, "owner", ownerUserID, "persona", personaID)
	return c, nil
}

// Load fetches a chat without any ownership check.
func (s *Service) Load(_ context.Context, chatID string) (*chat.Chat, bool) {
	return s.store.LoadChat(chatID)
}

// LoadForOwner fetches a chat only when userID owns it.
func (s *Service) LoadForOwner(_ context.Context, userID, chatID string) (*chat.Chat, error) {
	return s.loadOwned(userID, chatID)
}

// ListForUser returns the user's chat summaries, newest first.
func (s *Service) ListForUser(_ context.Context, userID string) []chat.Summary {
	return s.store.ListChatsByOwner(userID)
}

// AppendMessage appends one message without an ownership check.
func (s *Service) AppendMessage(_ context.Context, chatID string, role chat.Role, content string) (*chat.Chat, error) {
	if !role.Valid() {
		return nil, ErrInvalidRole
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.store.LoadChat(chatID)
	if !ok {
		return nil, ErrChatNotFound
	}
	return s.appendAndSave(c, role, content)
}

// AppendOwnedMessage appends one message after checking that userID owns the chat.
func (s *Service) AppendOwnedMessage(_ context.Context, userID, chatID string, role chat.Role, content string) (*chat.Chat, error) {
	if !role.Valid() {
		return nil, ErrInvalidRole
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.loadOwned(userID, chatID)
	if err != nil {
		return nil, err
	}
	return s.appendAndSave(c, role, content)
}

// ReplaceMessages overwrites the message list of an owned chat. A non-empty
// personaID also replaces the chat's persona.
func (s *Service) ReplaceMessages(_ context.Context, userID, chatID string, messages []chat.Message, personaID string) (*chat.Chat, error) {
	for _, msg := range messages {
		if !msg.Role.Valid() {
			return nil, ErrInvalidRole
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.loadOwned(userID, chatID)
	if err != nil {
		return nil, err
	}

	c.Messages = append(make([]chat.Message, 0, len(messages)), messages...)
	if personaID != "" {
		c.Metadata[chat.MetaPersonaID] = personaID
	}
	return s.touchAndSave(c)
}

// UpdateMetadata shallow-merges partial into the chat metadata without an
// ownership check. The owner entry cannot be changed.
func (s *Service) UpdateMetadata(_ context.Context, chatID string, partial map[string]string) (*chat.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.store.LoadChat(chatID)
	if !ok {
		return nil, ErrChatNotFound
	}
	return s.mergeAndSave(c, partial)
}

// UpdatePersona switches the persona of an owned chat.
func (s *Service) UpdatePersona(_ context.Context, userID, chatID, personaID string) (*chat.Chat, error) {
	if personaID == "" {
		return nil, ErrPersonaRequired
	}
	return s.updateOwnedMetadata(userID, chatID, map[string]string{chat.MetaPersonaID: personaID})
}

// Rename changes the title of an owned chat.
func (s *Service) Rename(_ context.Context, userID, chatID, title string) (*chat.Chat, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, ErrTitleRequired
	}
	return s.updateOwnedMetadata(userID, chatID, map[string]string{chat.MetaTitle: title})
}

func (s *Service) updateOwnedMetadata(userID, chatID string, partial map[string]string) (*chat.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.loadOwned(userID, chatID)
	if err != nil {
		return nil, err
	}
	return s.mergeAndSave(c, partial)
}

func (s *Service) loadOwned(userID, chatID string) (*chat.Chat, error) {
	c, ok := s.store.LoadChat(chatID)
	if !ok {
		return nil, ErrChatNotFound
	}
	if userID == "" || c.OwnerUserID() != userID {
		log.Warnw("[chat] ownership check failed", "chatID", chatID, "user", userID)
		return nil, ErrNotOwner
	}
	return c, nil
}

func (s *Service) appendAndSave(c *chat.Chat, role chat.Role, content string) (*chat.Chat, error) {
	c.Messages = append(c.Messages, chat.Message{Role: role, Content: content})
	return s.touchAndSave(c)
}

func (s *Service) mergeAndSave(c *chat.Chat, partial map[string]string) (*chat.Chat, error) {
	for key, value := range partial {
		if key == chat.MetaOwnerUserID {
			log.Warnw("[chat] ignoring attempt to change owner", "chatID", c.ID)
			continue
		}
		c.Metadata[key] = value
	}
	return s.touchAndSave(c)
}

// touchAndSave advances UpdatedAt strictly past its previous value and persists.
func (s *Service) touchAndSave(c *chat.Chat) (*chat.Chat, error) {
	next := s.now().UTC()
	if !next.After(c.UpdatedAt) {
		next = c.UpdatedAt.Add(time.Nanosecond)
	}
	c.UpdatedAt = next

	if !s.store.SaveChat(c) {
		return nil, ErrPersistFailed
	}
	return c, nil
}
