package persona

// Store exposes persona retrieval for HTTP handlers and the prompt builder.
type Store interface {
	List() []Persona
	FindByID(id string) (Persona, bool)
}
