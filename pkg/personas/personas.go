// Personas loader - worker persona catalog from YAML
package personas

import (
	"fmt"
	"log"
	"os"

	"gopkg.in/yaml.v3"
)

// Persona defines the prompt and model settings for one worker role
type Persona struct {
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description"`
	SystemPrompt string   `yaml:"system_prompt"`
	Model        string   `yaml:"model"`       // Model override (optional)
	Provider     string   `yaml:"provider"`    // Provider override (optional)
	Temperature  *float64 `yaml:"temperature"` // Temperature override (optional)
	Tools        []string `yaml:"tools"`       // Tool names this persona may call
}

// Catalog is the on-disk persona file layout
type Catalog struct {
	Personas []Persona `yaml:"personas"`
}

// Registry holds loaded personas keyed by name
type Registry struct {
	personas map[string]*Persona
	path     string
}

// NewRegistry creates a persona registry backed by a catalog file
func NewRegistry(path string) *Registry {
	return &Registry{
		personas: make(map[string]*Persona),
		path:     path,
	}
}

// Load reads the catalog file, falling back to built-in defaults when
// the file is missing. Built-ins are always present; the file can
// override them by name or add new ones.
func (r *Registry) Load() error {
	for _, p := range builtinPersonas() {
		cp := p
		r.personas[p.Name] = &cp
	}

	if r.path == "" {
		log.Printf("[personas] Using built-in catalog (%d personas)", len(r.personas))
		return nil
	}

	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("[personas] Catalog not found at %s, using built-ins", r.path)
			return nil
		}
		return fmt.Errorf("read personas: %w", err)
	}

	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return fmt.Errorf("parse personas: %w", err)
	}

	for _, p := range catalog.Personas {
		if p.Name == "" {
			log.Printf("[WARN] Skipping persona with empty name in %s", r.path)
			continue
		}
		cp := p
		r.personas[p.Name] = &cp
		log.Printf("[personas] Loaded: %s (%s)", p.Name, p.Description)
	}

	log.Printf("[personas] Total loaded: %d from %s", len(r.personas), r.path)
	return nil
}

// Get returns a persona by name
func (r *Registry) Get(name string) *Persona {
	return r.personas[name]
}

// List returns all personas
func (r *Registry) List() []*Persona {
	var result []*Persona
	for _, p := range r.personas {
		result = append(result, p)
	}
	return result
}

// builtinPersonas returns the default worker roles
func builtinPersonas() []Persona {
	return []Persona{
		{
			Name:        "supervisor",
			Description: "Routes each turn to the right worker",
			SystemPrompt: "You are a supervisor coordinating a team of assistants. " +
				"Given the conversation so far, decide which worker should act next: " +
				"Researcher for questions needing document lookup, " +
				"KnowledgeActionWorker for saving or updating stored notes, " +
				"GeneralAssistant for everything else. " +
				"Respond with FINISH when the user's request has been answered.",
		},
		{
			Name:        "researcher",
			Description: "Answers questions from the knowledge base",
			SystemPrompt: "You are a research assistant. Use the kb_search tool to find " +
				"relevant passages before answering. Cite what you found. " +
				"If nothing relevant turns up, say so plainly.",
			Tools: []string{"kb_search", "web_search", "memory_recall", "current_time"},
		},
		{
			Name:         "general",
			Description:  "Handles chit-chat and general questions",
			SystemPrompt: "You are a helpful assistant. Answer directly and concisely.",
		},
		{
			Name:        "knowledge",
			Description: "Creates and updates stored notes",
			SystemPrompt: "You are a note-keeping assistant. Use the provided tools to " +
				"create or update notes exactly as the user asks. Updates need the exact " +
				"title of an existing note; use note_search first when unsure. Confirm " +
				"what you did and do not invoke a tool again after it has succeeded.",
			Tools: []string{"note_save", "note_update", "note_search", "kb_search"},
		},
		{
			Name:        "summarizer",
			Description: "Compresses old conversation history",
			SystemPrompt: "Summarize the conversation below into a short paragraph that " +
				"preserves names, decisions, and open questions. Merge with the previous " +
				"summary if one is given.",
		},
	}
}
