package policy

import (
	"errors"
	"fmt"

	"github.com/metraton/warden/internal/episode"
	"github.com/metraton/warden/internal/model"
)

// EvaluateDelegation decides a delegation request. New tasks are judged
// by persona registration and inferred tier; resumes are judged against
// the approval ledger. Like the bash path, it always returns a decision.
func (e *Engine) EvaluateDelegation(req model.DelegationRequest) model.Decision {
	if err := req.Validate(); err != nil {
		return model.Block(model.TierRealize, err.Error())
	}

	switch req.Kind {
	case model.DelegationNewTask:
		return e.evaluateNewTask(req)
	case model.DelegationResume:
		return e.evaluateResume(req)
	}
	return model.Block(model.TierRealize, fmt.Sprintf("unknown delegation kind %q", req.Kind))
}

func (e *Engine) evaluateNewTask(req model.DelegationRequest) model.Decision {
	persona, ok := e.personas.Lookup(req.Persona)
	if !ok {
		return model.Block(model.TierRealize,
			fmt.Sprintf("%v: %q is not registered", ErrUnknownPersona, req.Persona))
	}

	tier, rule := e.classifier.ClassifyDelegation(req.Prompt, req.Metadata)
	var d model.Decision
	switch {
	case tier > persona.MaxTier:
		d = model.Block(tier,
			fmt.Sprintf("persona %q is capped at tier %s; task classified tier %s (rule %s)",
				persona.Name, persona.MaxTier, tier, rule))
	case tier == model.TierRealize:
		// Planning is allowed; execution is not. Side effects inside
		// the planning turn still pass through the bash path, and an
		// episode only comes into being once a concrete plan lands.
		d = model.Allow(tier,
			fmt.Sprintf("task classified tier realize (rule %s): planning only, execution requires an approved episode", rule))
	default:
		d = model.Allow(tier,
			fmt.Sprintf("delegation to %q classified tier %s (rule %s)", persona.Name, tier, rule))
	}
	d.MatchedRule = rule
	return d
}

// evaluateResume validates the id shape before any ledger access, then
// consumes the approved episode. Consumption is the replay guard: a
// resumed approval is spent and cannot authorize a second turn.
func (e *Engine) evaluateResume(req model.DelegationRequest) model.Decision {
	if !model.ValidateEpisodeID(req.EpisodeID) {
		return model.Block(model.TierRealize,
			fmt.Sprintf("%v: %q", ErrMalformedEpisodeID, req.EpisodeID))
	}

	ep, err := e.episodes.Get(req.EpisodeID)
	if err != nil {
		return model.Block(model.TierRealize,
			fmt.Sprintf("episode %s: %v", req.EpisodeID, err))
	}
	if ep.Expired(e.now(), e.retention) {
		return model.Block(ep.Tier,
			fmt.Sprintf("episode %s expired before resume, stale approvals are never honored", req.EpisodeID))
	}
	switch ep.State {
	case model.ApprovalUnapproved:
		return model.Block(ep.Tier, fmt.Sprintf("episode %s awaits approval", req.EpisodeID))
	case model.ApprovalRejected:
		return model.Block(ep.Tier, fmt.Sprintf("episode %s was rejected", req.EpisodeID))
	}

	consumed, err := e.episodes.Consume(req.EpisodeID)
	switch {
	case errors.Is(err, episode.ErrConsumed):
		return model.Block(ep.Tier, fmt.Sprintf("episode %s already consumed by an earlier resume", req.EpisodeID))
	case errors.Is(err, episode.ErrNotApproved):
		return model.Block(ep.Tier, fmt.Sprintf("episode %s is not approved", req.EpisodeID))
	case err != nil:
		return model.Block(ep.Tier, fmt.Sprintf("episode %s: %v", req.EpisodeID, err))
	}

	return model.Allow(consumed.Tier,
		fmt.Sprintf("resuming episode %s (persona %s), approved by %s", consumed.ID, consumed.Persona, consumed.DecidedBy))
}

// RecordPlan opens an episode for a realize-tier plan a persona just
// produced. The episode starts unapproved; nothing executes under it
// until a confirmation moves it to approved.
func (e *Engine) RecordPlan(personaName, plan string) (*model.Episode, error) {
	if _, ok := e.personas.Lookup(personaName); !ok {
		return nil, fmt.Errorf("%w: %q is not registered", ErrUnknownPersona, personaName)
	}
	if plan == "" {
		return nil, fmt.Errorf("refusing to open an episode for an empty plan")
	}

	id, err := model.GenerateEpisodeID()
	if err != nil {
		return nil, fmt.Errorf("generate episode id: %w", err)
	}

	ep := &model.Episode{
		ID:         id,
		Persona:    personaName,
		Tier:       model.TierRealize,
		State:      model.ApprovalUnapproved,
		Plan:       plan,
		PlanDigest: model.DigestPlan(plan),
		CreatedAt:  e.now().UTC(),
	}
	if err := e.episodes.Create(ep); err != nil {
		return nil, fmt.Errorf("record plan: %w", err)
	}
	return ep, nil
}

// Decide records a human confirmation against an episode. Expiry is
// checked here, not in the store: a confirmation that arrives after the
// retention window cannot revive a stale plan.
func (e *Engine) Decide(conf model.Confirmation) (*model.Episode, error) {
	ep, err := e.episodes.Get(conf.EpisodeID)
	if err != nil {
		return nil, err
	}
	if ep.Expired(e.now(), e.retention) {
		return nil, episode.ErrExpired
	}
	return e.episodes.Decide(conf)
}

// SweepExpired purges episodes that fell out of the retention window.
// The daemon calls this on a timer; zero retention disables sweeping.
func (e *Engine) SweepExpired() (int, error) {
	if e.retention <= 0 {
		return 0, nil
	}
	return e.episodes.Purge(e.now().Add(-e.retention))
}
