package persona

import (
	"context"
	"errors"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/zhouzirui/xiaohao/backend/internal/model/persona"
	"github.com/zhouzirui/xiaohao/backend/pkg/log"
)

var (
	// ErrInvalidPersona is returned when the id, name or system prompt is unusable.
	ErrInvalidPersona = errors.New("invalid persona")
	// ErrPersonaExists is returned when registering an id that is taken.
	ErrPersonaExists = errors.New("persona already exists")
	// ErrPersistFailed is returned when storage refuses the new persona.
	ErrPersistFailed = errors.New("failed to persist persona")
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Store is the subset of storage the persona manager needs.
type Store interface {
	SavePersona(p *persona.Persona) bool
	LoadPersona(id string) (*persona.Persona, bool)
	PersonaExists(id string) bool
	LoadAllPersonas() map[string]persona.Persona
}

// Service registers and looks up personas. It satisfies persona.Store.
type Service struct {
	store Store
	now   func() time.Time
	mu    sync.Mutex
}

var _ persona.Store = (*Service)(nil)

// NewService builds the persona manager.
func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

// EnsureDefaults writes the built-in personas when storage holds none and
// returns how many were written.
func (s *Service) EnsureDefaults(_ context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.store.LoadAllPersonas()) > 0 {
		return 0
	}

	written := 0
	now := s.now().UTC()
	for _, p := range persona.Seed() {
		p.CreatedAt = now
		if s.store.SavePersona(&p) {
			written++
			continue
		}
		log.Errorw("[persona] failed to seed built-in persona", "id", p.ID)
	}

	log.Infow("[persona] seeded built-in personas", "count", written)
	return written
}

// Register validates and persists a new persona.
func (s *Service) Register(_ context.Context, id, name, description, systemPrompt string) (*persona.Persona, error) {
	id = strings.TrimSpace(id)
	name = strings.TrimSpace(name)
	systemPrompt = strings.TrimSpace(systemPrompt)
	if !idPattern.MatchString(id) || name == "" || systemPrompt == "" {
		return nil, ErrInvalidPersona
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.store.PersonaExists(id) {
		return nil, ErrPersonaExists
	}

	p := &persona.Persona{
		ID:           id,
		Name:         name,
		Description:  strings.TrimSpace(description),
		SystemPrompt: systemPrompt,
		CreatedAt:    s.now().UTC(),
	}
	if !s.store.SavePersona(p) {
		return nil, ErrPersistFailed
	}

	log.Infow("[persona] registered", "id", id, "name", name)
	return p, nil
}

// List returns every persona: built-ins first in seed order, then the rest by id.
func (s *Service) List() []persona.Persona {
	all := s.store.LoadAllPersonas()

	items := make([]persona.Persona, 0, len(all))
	for _, seed := range persona.Seed() {
		if p, ok := all[seed.ID]; ok {
			items = append(items, p)
			delete(all, seed.ID)
		}
	}

	custom := make([]persona.Persona, 0, len(all))
	for _, p := range all {
		custom = append(custom, p)
	}
	slices.SortFunc(custom, func(a, b persona.Persona) int {
		return strings.Compare(a.ID, b.ID)
	})
	return append(items, custom...)
}

// FindByID looks up a persona by identifier.
func (s *Service) FindByID(id string) (persona.Persona, bool) {
	p, ok := s.store.LoadPersona(id)
	if !ok {
		return persona.Persona{}, false
	}
	return *p, true
}

// Resolve returns the persona for id, falling back to the stored default
// persona and then to the built-in default.
func (s *Service) Resolve(id string) persona.Persona {
	if p, ok := s.FindByID(id); ok {
		return p
	}
	if id != persona.DefaultID {
		log.Warnw("[persona] unknown persona, using default", "id", id)
		if p, ok := s.FindByID(persona.DefaultID); ok {
			return p
		}
	}
	return persona.Fallback()
}
