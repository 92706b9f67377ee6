// Package policy combines per-segment classifications into one decision
// per intercepted action and gates realize-tier work behind approved
// episodes. Every failure inside the engine resolves to a block
// decision: the mediator always answers, and never answers allow by
// accident.
package policy

import (
	"errors"
	"fmt"
	"time"

	"github.com/metraton/warden/internal/classify"
	"github.com/metraton/warden/internal/episode"
	"github.com/metraton/warden/internal/model"
	"github.com/metraton/warden/internal/shell"
)

var (
	ErrUnknownPersona     = errors.New("unknown persona")
	ErrMalformedEpisodeID = errors.New("malformed episode id")
)

// Engine is the decision core. It owns no transport and performs no
// side effects beyond the episode ledger; callers record the returned
// decisions to the audit trail.
type Engine struct {
	classifier *classify.Classifier
	episodes   episode.Store
	personas   *PersonaRegistry
	retention  time.Duration

	now func() time.Time
}

func NewEngine(classifier *classify.Classifier, episodes episode.Store, personas *PersonaRegistry, retention time.Duration) *Engine {
	return &Engine{
		classifier: classifier,
		episodes:   episodes,
		personas:   personas,
		retention:  retention,
		now:        time.Now,
	}
}

// BashContext carries per-invocation workflow state for the bash path.
type BashContext struct {
	// EpisodeID, when set, names the episode the caller claims licenses
	// realize-tier work in this command.
	EpisodeID string
}

// EvaluateBash decides one raw command line. It never returns an error:
// anything that cannot be judged is blocked with a reason.
func (e *Engine) EvaluateBash(raw string, ctx BashContext) model.Decision {
	parsed, err := shell.Parse(raw)
	if err != nil {
		// Fail closed. A line the parser cannot fully understand is
		// treated as realize-tier, never as readable.
		return model.Block(model.TierRealize,
			fmt.Sprintf("%v; unparseable commands are treated as tier realize", err))
	}

	aggregate := model.TierRead
	results := make([]model.ClassificationResult, len(parsed.Segments))
	worst := 0
	for i, seg := range parsed.Segments {
		results[i] = e.classifier.Classify(seg)
		if results[i].Tier > aggregate {
			aggregate = results[i].Tier
			worst = i
		}
	}

	// A destructive segment can never hide behind benign neighbors in a
	// pipeline: the whole line is judged at the maximum tier.
	if aggregate == model.TierRealize {
		d := e.licenseRealize(parsed.Segments[worst], results[worst], ctx)
		d.MatchedRule = results[worst].MatchedRule
		return d
	}

	for i, res := range results {
		if res.Ask {
			d := model.Ask(aggregate, fmt.Sprintf("%q matched rule %s (tier %s): confirmation required",
				parsed.Segments[i].Raw, res.MatchedRule, res.Tier))
			d.MatchedRule = res.MatchedRule
			return d
		}
	}

	d := model.Allow(aggregate, fmt.Sprintf("all segments within tier %s", aggregate))
	d.MatchedRule = results[worst].MatchedRule
	return d
}

// licenseRealize checks whether an attached episode licenses the
// realize-tier segment. The episode must be approved, inside its
// retention window, and cover the tier. Consumption is not checked here:
// at-most-once consumption gates the resume delegation, while a consumed
// episode keeps licensing the commands of the turn it opened.
func (e *Engine) licenseRealize(seg model.SubCommand, res model.ClassificationResult, ctx BashContext) model.Decision {
	offense := fmt.Sprintf("%q is tier realize (rule %s)", seg.Raw, res.MatchedRule)

	if ctx.EpisodeID == "" {
		return model.Block(model.TierRealize, offense+"; approval required and no episode attached")
	}
	if !model.ValidateEpisodeID(ctx.EpisodeID) {
		return model.Block(model.TierRealize,
			fmt.Sprintf("%s; %v: %q", offense, ErrMalformedEpisodeID, ctx.EpisodeID))
	}

	ep, err := e.episodes.Get(ctx.EpisodeID)
	if err != nil {
		return model.Block(model.TierRealize,
			fmt.Sprintf("%s; episode %s: %v", offense, ctx.EpisodeID, err))
	}
	if ep.Expired(e.now(), e.retention) {
		return model.Block(model.TierRealize,
			fmt.Sprintf("%s; episode %s expired, stale approvals are never honored", offense, ctx.EpisodeID))
	}
	if ep.State != model.ApprovalApproved {
		return model.Block(model.TierRealize,
			fmt.Sprintf("%s; episode %s is %s, not approved", offense, ctx.EpisodeID, ep.State))
	}
	if ep.Tier < model.TierRealize {
		return model.Block(model.TierRealize,
			fmt.Sprintf("%s; episode %s licenses tier %s only", offense, ctx.EpisodeID, ep.Tier))
	}

	return model.Allow(model.TierRealize,
		fmt.Sprintf("%s, licensed by approved episode %s", offense, ctx.EpisodeID))
}

// Retention exposes the configured episode retention window.
func (e *Engine) Retention() time.Duration { return e.retention }
