package policy

import (
	"fmt"
	"sort"

	"github.com/metraton/warden/internal/model"
)

// Persona is a registered delegation target with its tier cap.
type Persona struct {
	Name        string
	Description string
	MaxTier     model.Tier
}

// PersonaRegistry is the closed set of personas delegation may address.
// An unknown persona is blocked, never guessed at.
type PersonaRegistry struct {
	personas map[string]Persona
}

// NewPersonaRegistry builds the registry from validated configuration.
// A persona without an explicit max_tier is held to simulate; realize
// capability is always an explicit grant in the config.
func NewPersonaRegistry(configs []model.PersonaConfig) (*PersonaRegistry, error) {
	r := &PersonaRegistry{personas: make(map[string]Persona, len(configs))}
	for _, pc := range configs {
		maxTier := model.TierSimulate
		if pc.MaxTier != "" {
			t, err := model.ParseTier(pc.MaxTier)
			if err != nil {
				return nil, fmt.Errorf("persona %s: %w", pc.Name, err)
			}
			maxTier = t
		}
		r.personas[pc.Name] = Persona{
			Name:        pc.Name,
			Description: pc.Description,
			MaxTier:     maxTier,
		}
	}
	return r, nil
}

// Lookup returns the persona and whether it is registered.
func (r *PersonaRegistry) Lookup(name string) (Persona, bool) {
	p, ok := r.personas[name]
	return p, ok
}

// Names returns the registered persona names, sorted.
func (r *PersonaRegistry) Names() []string {
	names := make([]string, 0, len(r.personas))
	for name := range r.personas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *PersonaRegistry) Len() int { return len(r.personas) }
