// Package classify maps sub-commands to risk tiers through an ordered,
// data-driven rule table plus a builtin always-realize set that no
// configuration can override. Classification is pure with respect to the
// loaded table, which makes results cacheable by normalized signature.
package classify

import (
	"sort"

	"github.com/metraton/warden/internal/model"
)

// RuleTable is the on-disk schema of rules.yaml. Rule order is the
// contract: evaluation is strictly top-to-bottom, first match wins, and
// two engines given the same table must agree on every command.
type RuleTable struct {
	SchemaVersion int              `yaml:"schema_version"`
	Rules         []RuleDefinition `yaml:"rules"`
	Delegation    []DelegationRule `yaml:"delegation,omitempty"`
	Defaults      DefaultRule      `yaml:"defaults,omitempty"`
}

// RuleDefinition matches a sub-command by program name, optionally
// narrowed by subcommand (first positional argument) and by flag
// presence. A rule with flags listed matches only when at least one of
// those flags is on the command line.
type RuleDefinition struct {
	ID          string   `yaml:"id"`
	Programs    []string `yaml:"programs"`
	Subcommands []string `yaml:"subcommands,omitempty"`
	Flags       []string `yaml:"flags,omitempty"`
	Tier        string   `yaml:"tier"`
	Ask         bool     `yaml:"ask,omitempty"`
	Destructive bool     `yaml:"destructive,omitempty"`
}

// DelegationRule infers a tier for a new-task delegation from keywords
// in the prompt and metadata, mirroring the first-match-wins discipline
// of command rules.
type DelegationRule struct {
	ID       string   `yaml:"id"`
	Keywords []string `yaml:"keywords"`
	Tier     string   `yaml:"tier"`
}

// DefaultRule applies when nothing matched. An unrecognized program is
// never silently readable.
type DefaultRule struct {
	Tier string `yaml:"tier,omitempty"`
	Ask  *bool  `yaml:"ask,omitempty"`
}

type compiledRule struct {
	id          string
	programs    map[string]bool
	subcommands map[string]bool
	flags       []string
	tier        model.Tier
	ask         bool
	destructive bool
}

type compiledDelegation struct {
	id       string
	keywords []string
	tier     model.Tier
}

// CompiledTable is an immutable, validated, pre-indexed rule table.
// Reloads build a fresh table and swap it in whole.
type CompiledTable struct {
	rules     []*compiledRule
	byProgram map[string][]*compiledRule

	delegation []*compiledDelegation

	defaultTier model.Tier
	defaultAsk  bool

	// subSensitive marks programs whose classification reads the first
	// positional argument, so the cache signature includes it.
	subSensitive map[string]bool

	checksum string
}

// Checksum is the sha256 of the table's source bytes, used to tell
// which table produced a decision and to verify hot reloads.
func (t *CompiledTable) Checksum() string { return t.checksum }

// RuleCount reports how many command rules the table holds.
func (t *CompiledTable) RuleCount() int { return len(t.rules) }

// DelegationRuleCount reports how many delegation rules the table holds.
func (t *CompiledTable) DelegationRuleCount() int { return len(t.delegation) }

// Defaults reports the tier and ask posture applied when no rule
// matches.
func (t *CompiledTable) Defaults() (model.Tier, bool) {
	return t.defaultTier, t.defaultAsk
}

// RuleSummary is a read-only view of one compiled rule, for inspection
// surfaces like the rules CLI. Program and subcommand sets come back
// sorted.
type RuleSummary struct {
	ID          string
	Programs    []string
	Subcommands []string
	Flags       []string
	Tier        model.Tier
	Ask         bool
	Destructive bool
}

// DelegationSummary mirrors RuleSummary for delegation rules.
type DelegationSummary struct {
	ID       string
	Keywords []string
	Tier     model.Tier
}

// Summaries returns the command rules in evaluation order.
func (t *CompiledTable) Summaries() []RuleSummary {
	out := make([]RuleSummary, 0, len(t.rules))
	for _, r := range t.rules {
		out = append(out, RuleSummary{
			ID:          r.id,
			Programs:    sortedKeys(r.programs),
			Subcommands: sortedKeys(r.subcommands),
			Flags:       append([]string(nil), r.flags...),
			Tier:        r.tier,
			Ask:         r.ask,
			Destructive: r.destructive,
		})
	}
	return out
}

// DelegationSummaries returns the delegation rules in evaluation order.
func (t *CompiledTable) DelegationSummaries() []DelegationSummary {
	out := make([]DelegationSummary, 0, len(t.delegation))
	for _, d := range t.delegation {
		out = append(out, DelegationSummary{
			ID:       d.id,
			Keywords: append([]string(nil), d.keywords...),
			Tier:     d.tier,
		})
	}
	return out
}

func sortedKeys(set map[string]bool) []string {
	if len(set) == 0 {
		return nil
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (t *CompiledTable) matchRule(program, subcommand string, flags []string) *compiledRule {
	for _, r := range t.byProgram[program] {
		if len(r.subcommands) > 0 && !r.subcommands[subcommand] {
			continue
		}
		if len(r.flags) > 0 && !anyFlagPresent(r.flags, flags) {
			continue
		}
		return r
	}
	return nil
}

func anyFlagPresent(want []string, have []string) bool {
	for _, w := range want {
		for _, h := range have {
			if matchesFlag(w, h) {
				return true
			}
		}
	}
	return false
}
