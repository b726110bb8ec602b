// ABOUTME: Persona registry: system-prompt templates selectable per deployment.
// ABOUTME: Ships built-in personas and loads TOML overrides from a directory.

package prompt

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Persona describes one selectable system prompt.
type Persona struct {
	Name        string `toml:"name"`
	Description string `toml:"description"`
	System      string `toml:"system"`
}

// DefaultPersona is used when configuration names no persona.
const DefaultPersona = "assistant"

// Registry holds the available personas. Built-ins can be shadowed by TOML
// files loaded after construction.
type Registry struct {
	personas map[string]Persona
}

// NewRegistry returns a registry preloaded with the built-in personas.
func NewRegistry() *Registry {
	r := &Registry{personas: make(map[string]Persona)}
	for _, p := range builtins {
		r.personas[p.Name] = p
	}
	return r
}

// LoadDir reads every *.toml file in dir as a Persona definition. Files with
// a name matching a built-in replace it.
func (r *Registry) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading persona directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".toml") {
			continue
		}
		path := filepath.Join(dir, entry.Name())

		var p Persona
		if _, err := toml.DecodeFile(path, &p); err != nil {
			return fmt.Errorf("parsing persona %s: %w", path, err)
		}
		if p.Name == "" || p.System == "" {
			return fmt.Errorf("persona %s: name and system are required", path)
		}
		r.personas[p.Name] = p
	}
	return nil
}

// Get returns the persona with the given name.
func (r *Registry) Get(name string) (Persona, bool) {
	p, ok := r.personas[name]
	return p, ok
}

// System returns the system prompt for the named persona, falling back to
// the default persona for unknown names.
func (r *Registry) System(name string) string {
	if p, ok := r.personas[name]; ok {
		return p.System
	}
	return r.personas[DefaultPersona].System
}

// Names returns the available persona names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.personas))
	for name := range r.personas {
		names = append(names, name)
	}
	return names
}

var builtins = []Persona{
	{
		Name:        "assistant",
		Description: "General-purpose conversational assistant",
		System: "You are a professional, helpful assistant chatting with a user " +
			"on a messaging platform. Be concise and warm. Answer in the language " +
			"the user writes in. If you are unsure about something, say so rather " +
			"than guessing.",
	},
	{
		Name:        "expert",
		Description: "Domain expert with a precise, structured style",
		System: "You are a domain expert. Give precise, well-structured answers, " +
			"state your assumptions explicitly, and cite the limits of your " +
			"knowledge. Prefer short worked examples over abstract explanations.",
	},
}
