package daemon

import (
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/metraton/warden/internal/audit"
	"github.com/metraton/warden/internal/classify"
	"github.com/metraton/warden/internal/episode"
	"github.com/metraton/warden/internal/model"
	"github.com/metraton/warden/internal/policy"
)

// Core bundles the evaluation pipeline: rule loader, classifier, policy
// engine, episode store, and audit log. The daemon and the one-shot CLI
// paths are both built on it, so every decision passes through the same
// audit append no matter how it was requested.
type Core struct {
	Loader     *classify.Loader
	Classifier *classify.Classifier
	Episodes   episode.Store
	Personas   *policy.PersonaRegistry
	Engine     *policy.Engine
	Audit      *audit.Logger
}

// NewCore assembles the pipeline from a loaded configuration. A rule
// table that does not compile is fatal here: a mediator with no rules
// must not start.
func NewCore(wardenDir string, cfg *model.Config) (*Core, error) {
	loader := classify.NewLoader(resolvePath(wardenDir, cfg.Classifier.RulesFile))
	table, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load rule table: %w", err)
	}

	classifier := classify.New(table,
		cfg.Classifier.CacheSize,
		time.Duration(cfg.Classifier.CacheTTLSec)*time.Second)

	var store episode.Store
	if cfg.Episodes.StorePath == ":memory:" {
		store = episode.NewMemory()
	} else {
		store, err = episode.NewSQLite(resolvePath(wardenDir, cfg.Episodes.StorePath))
		if err != nil {
			return nil, fmt.Errorf("open episode store: %w", err)
		}
	}

	personas, err := policy.NewPersonaRegistry(cfg.Personas)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("persona registry: %w", err)
	}

	retention := time.Duration(cfg.Episodes.RetentionHours) * time.Hour
	engine := policy.NewEngine(classifier, store, personas, retention)

	var auditLog *audit.Logger
	if cfg.Audit.Enabled {
		auditLog, err = audit.New(filepath.Join(wardenDir, "logs", "decisions.jsonl"), cfg.Audit.MaxSizeBytes)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("open audit log: %w", err)
		}
	}

	return &Core{
		Loader:     loader,
		Classifier: classifier,
		Episodes:   store,
		Personas:   personas,
		Engine:     engine,
		Audit:      auditLog,
	}, nil
}

func resolvePath(wardenDir, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(wardenDir, p)
}

// EvaluateBash judges one raw command line and appends the decision to
// the audit trail before returning it.
func (c *Core) EvaluateBash(raw string, ctx policy.BashContext) model.Decision {
	d := c.Engine.EvaluateBash(raw, ctx)
	c.recordDecision("bash", raw, d, "", ctx.EpisodeID)
	return d
}

// EvaluateDelegation judges a delegation request and appends the
// decision to the audit trail before returning it.
func (c *Core) EvaluateDelegation(req model.DelegationRequest) model.Decision {
	d := c.Engine.EvaluateDelegation(req)
	c.recordDecision("delegation", req.Prompt, d, req.Persona, req.EpisodeID)
	return d
}

func (c *Core) recordDecision(kind, rawInput string, d model.Decision, persona, episodeID string) {
	rec := audit.Record{
		Kind:        kind,
		InputDigest: audit.Digest(rawInput),
		Decision:    d.Outcome,
		Tier:        d.Tier.String(),
		Reason:      d.Reason,
		MatchedRule: d.MatchedRule,
		Persona:     persona,
		EpisodeID:   episodeID,
	}
	// An unwritable audit line must not change the verdict.
	if err := c.Audit.RecordDecision(rec); err != nil {
		log.Printf("audit write failed: %v", err)
	}
}

func (c *Core) Close() error {
	var firstErr error
	if err := c.Episodes.Close(); err != nil {
		firstErr = err
	}
	if err := c.Audit.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
