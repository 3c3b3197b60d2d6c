// Package assistant drives one user's conversation flow: choosing chats and
// personas, toggling deep thinking and sending messages. All per-user state
// travels in the Session value, so a single Service serves every caller.
package assistant

import (
	"context"
	"errors"
	"strings"

	"github.com/zhouzirui/xiaohao/backend/internal/model/chat"
	"github.com/zhouzirui/xiaohao/backend/internal/model/persona"
	"github.com/zhouzirui/xiaohao/backend/pkg/log"
)

var (
	ErrNotAuthenticated = errors.New("no authenticated user in session")
	ErrEmptyMessage     = errors.New("message is empty")
	ErrUnknownPersona   = errors.New("persona not found")
)

// Session is the caller's conversation state.
type Session struct {
	UserID       string `json:"userId"`
	Username     string `json:"username"`
	ChatID       string `json:"chatId,omitempty"`
	PersonaID    string `json:"personaId,omitempty"`
	DeepThinking bool   `json:"deepThinking"`
}

// Reply is the outcome of SendMessage.
type Reply struct {
	ChatID  string     `json:"chatId"`
	Content string     `json:"content"`
	Chat    *chat.Chat `json:"chat"`
}

// Chats is the chat manager surface the orchestrator relies on.
type Chats interface {
	Create(ctx context.Context, ownerUserID, personaID string) (*chat.Chat, error)
	LoadForOwner(ctx context.Context, userID, chatID string) (*chat.Chat, error)
	ReplaceMessages(ctx context.Context, userID, chatID string, messages []chat.Message, personaID string) (*chat.Chat, error)
	UpdatePersona(ctx context.Context, userID, chatID, personaID string) (*chat.Chat, error)
}

// Personas is the persona manager surface the orchestrator relies on.
type Personas interface {
	FindByID(id string) (persona.Persona, bool)
	Resolve(id string) persona.Persona
	Register(ctx context.Context, id, name, description, systemPrompt string) (*persona.Persona, error)
}

// Responder produces the assistant's reply text.
type Responder interface {
	Respond(ctx context.Context, userMessage string, history []chat.Message, systemPrompt string, deep bool) string
}

// Service orchestrates chats, personas and the message handler.
type Service struct {
	chats     Chats
	personas  Personas
	responder Responder
}

// NewService wires the orchestrator.
func NewService(chats Chats, personas Personas, responder Responder) *Service {
	return &Service{chats: chats, personas: personas, responder: responder}
}

// NewChat creates a chat with the session's persona and makes it current.
func (s *Service) NewChat(ctx context.Context, sess Session) (Session, *chat.Chat, error) {
	if sess.UserID == "" {
		return sess, nil, ErrNotAuthenticated
	}

	c, err := s.chats.Create(ctx, sess.UserID, sess.PersonaID)
	if err != nil {
		return sess, nil, err
	}

	sess.ChatID = c.ID
	sess.PersonaID = c.PersonaID()
	return sess, c, nil
}

// SelectChat makes an owned chat current and adopts its persona.
func (s *Service) SelectChat(ctx context.Context, sess Session, chatID string) (Session, *chat.Chat, error) {
	if sess.UserID == "" {
		return sess, nil, ErrNotAuthenticated
	}

	c, err := s.chats.LoadForOwner(ctx, sess.UserID, chatID)
	if err != nil {
		return sess, nil, err
	}

	sess.ChatID = c.ID
	sess.PersonaID = c.PersonaID()
	return sess, c, nil
}

// SelectPersona switches persona and, when a chat is current, records the
// choice on that chat.
func (s *Service) SelectPersona(ctx context.Context, sess Session, personaID string) (Session, error) {
	if sess.UserID == "" {
		return sess, ErrNotAuthenticated
	}
	if err := s.CheckPersona(personaID); err != nil {
		return sess, err
	}

	if sess.ChatID != "" {
		if _, err := s.chats.UpdatePersona(ctx, sess.UserID, sess.ChatID, personaID); err != nil {
			return sess, err
		}
	}

	sess.PersonaID = personaID
	return sess, nil
}

// CheckPersona reports ErrUnknownPersona for ids no persona answers to.
func (s *Service) CheckPersona(personaID string) error {
	if _, ok := s.personas.FindByID(personaID); !ok {
		return ErrUnknownPersona
	}
	return nil
}

// SetDeepThinking toggles the reasoning presentation mode.
func (s *Service) SetDeepThinking(sess Session, enabled bool) Session {
	sess.DeepThinking = enabled
	return sess
}

// CreatePersona registers a persona and selects it for the session.
func (s *Service) CreatePersona(ctx context.Context, sess Session, id, name, description, systemPrompt string) (Session, *persona.Persona, error) {
	if sess.UserID == "" {
		return sess, nil, ErrNotAuthenticated
	}

	p, err := s.personas.Register(ctx, id, name, description, systemPrompt)
	if err != nil {
		return sess, nil, err
	}

	sess.PersonaID = p.ID
	return sess, p, nil
}

// SendMessage runs one conversational turn: it creates a chat when none is
// current, asks the responder for a reply under the selected persona and
// persists the user message together with the reply.
func (s *Service) SendMessage(ctx context.Context, sess Session, text string) (Session, Reply, error) {
	if sess.UserID == "" {
		return sess, Reply{}, ErrNotAuthenticated
	}
	if strings.TrimSpace(text) == "" {
		return sess, Reply{}, ErrEmptyMessage
	}

	if sess.ChatID == "" {
		var err error
		if sess, _, err = s.NewChat(ctx, sess); err != nil {
			return sess, Reply{}, err
		}
	}

	c, err := s.chats.LoadForOwner(ctx, sess.UserID, sess.ChatID)
	if err != nil {
		return sess, Reply{}, err
	}

	personaID := sess.PersonaID
	if personaID == "" {
		personaID = c.PersonaID()
	}
	p := s.personas.Resolve(personaID)

	log.Infow("[assistant] handling message", "chatID", c.ID, "persona", p.ID, "deep", sess.DeepThinking)

	history := c.Messages
	content := s.responder.Respond(ctx, text, history, p.SystemPrompt, sess.DeepThinking)

	messages := make([]chat.Message, 0, len(history)+2)
	messages = append(messages, history...)
	messages = append(messages, chat.UserMessage(text), chat.AssistantMessage(content))

	updated, err := s.chats.ReplaceMessages(ctx, sess.UserID, c.ID, messages, p.ID)
	if err != nil {
		return sess, Reply{}, err
	}

	sess.ChatID = updated.ID
	sess.PersonaID = p.ID
	return sess, Reply{ChatID: updated.ID, Content: content, Chat: updated}, nil
}
