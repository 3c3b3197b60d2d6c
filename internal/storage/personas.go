package storage

import (
	"time"

	"github.com/zhouzirui/xiaohao/backend/internal/metrics"
	"github.com/zhouzirui/xiaohao/backend/internal/model/persona"
	"github.com/zhouzirui/xiaohao/backend/pkg/log"
)

// personaRecord is the on-disk body; the id is the file name.
type personaRecord struct {
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	SystemPrompt string    `json:"system_prompt"`
	CreatedAt    time.Time `json:"created_at"`
}

// SavePersona writes the persona record keyed by its id.
func (s *FileStorage) SavePersona(p *persona.Persona) bool {
	if p == nil {
		return false
	}
	record := personaRecord{
		Name:         p.Name,
		Description:  p.Description,
		SystemPrompt: p.SystemPrompt,
		CreatedAt:    p.CreatedAt,
	}
	return s.save(entityPersona, personasDir, p.ID, record)
}

// LoadPersona reads the persona record for id.
func (s *FileStorage) LoadPersona(id string) (*persona.Persona, bool) {
	var record personaRecord
	if !s.load(entityPersona, personasDir, id, &record) {
		return nil, false
	}
	return &persona.Persona{
		ID:           id,
		Name:         record.Name,
		Description:  record.Description,
		SystemPrompt: record.SystemPrompt,
		CreatedAt:    record.CreatedAt,
	}, true
}

// PersonaExists reports whether a persona record exists for id.
func (s *FileStorage) PersonaExists(id string) bool {
	return s.exists(personasDir, id)
}

// LoadAllPersonas returns every readable persona keyed by id. Unreadable
// records are skipped.
func (s *FileStorage) LoadAllPersonas() map[string]persona.Persona {
	ids, err := s.listKeys(personasDir)
	if err != nil {
		metrics.StorageFailure(entityPersona, "list")
		log.Error("[storage] failed to list personas", err)
		return map[string]persona.Persona{}
	}

	items := make(map[string]persona.Persona, len(ids))
	for _, id := range ids {
		if p, ok := s.LoadPersona(id); ok {
			items[id] = *p
		}
	}
	return items
}
