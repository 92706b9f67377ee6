package model

import "fmt"

// DelegationKind distinguishes the two delegation variants.
type DelegationKind string

const (
	DelegationNewTask DelegationKind = "new_task"
	DelegationResume  DelegationKind = "resume"
)

// DelegationRequest asks the mediator to authorize handing work to a
// persona. NewTask starts fresh work; Resume continues a previously
// planned, approved episode.
type DelegationRequest struct {
	Kind DelegationKind `json:"kind"`

	// NewTask fields.
	Persona  string            `json:"persona,omitempty"`
	Prompt   string            `json:"prompt,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`

	// Resume fields.
	EpisodeID string `json:"episode_id,omitempty"`
}

// Validate checks structural well-formedness only. Episode-id shape and
// persona registration are policy concerns, checked by the engine.
func (r DelegationRequest) Validate() error {
	switch r.Kind {
	case DelegationNewTask:
		if r.Persona == "" {
			return fmt.Errorf("new_task delegation requires a persona")
		}
		if r.Prompt == "" {
			return fmt.Errorf("new_task delegation requires a prompt")
		}
	case DelegationResume:
		if r.EpisodeID == "" {
			return fmt.Errorf("resume delegation requires an episode_id")
		}
	default:
		return fmt.Errorf("unknown delegation kind: %q", r.Kind)
	}
	return nil
}
