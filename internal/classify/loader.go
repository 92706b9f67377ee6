package classify

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/metraton/warden/internal/model"
)

// Loader reads, validates, and compiles the rule table. It remembers the
// file's modification time so the daemon can cheaply skip reloads when
// nothing changed.
type Loader struct {
	path string

	mu       sync.Mutex
	lastLoad time.Time
}

func NewLoader(path string) *Loader {
	return &Loader{path: path}
}

func (l *Loader) Path() string { return l.path }

// Load reads and compiles the table from disk. Any failure leaves the
// previously compiled table (held by the caller) untouched.
func (l *Loader) Load() (*CompiledTable, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loadLocked()
}

func (l *Loader) loadLocked() (*CompiledTable, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("read rule table: %w", err)
	}

	table, err := parseRuleTable(data)
	if err != nil {
		return nil, fmt.Errorf("parse rule table %s: %w", l.path, err)
	}
	if err := validateRuleTable(table); err != nil {
		return nil, fmt.Errorf("invalid rule table %s: %w", l.path, err)
	}
	applyTableDefaults(table)

	compiled, err := compileRuleTable(table, data)
	if err != nil {
		return nil, fmt.Errorf("compile rule table %s: %w", l.path, err)
	}

	if info, err := os.Stat(l.path); err == nil {
		l.lastLoad = info.ModTime()
	}
	return compiled, nil
}

// Reload re-reads the table only if the file changed since the last
// load. The bool reports whether a new table was produced.
func (l *Loader) Reload() (*CompiledTable, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	info, err := os.Stat(l.path)
	if err != nil {
		return nil, false, fmt.Errorf("stat rule table: %w", err)
	}
	if !l.lastLoad.IsZero() && !info.ModTime().After(l.lastLoad) {
		return nil, false, nil
	}
	table, err := l.loadLocked()
	if err != nil {
		return nil, false, err
	}
	return table, true, nil
}

func parseRuleTable(data []byte) (*RuleTable, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // fail on unknown fields
	var table RuleTable
	if err := decoder.Decode(&table); err != nil {
		return nil, err
	}
	return &table, nil
}

func validateRuleTable(table *RuleTable) error {
	if table.SchemaVersion != 1 {
		return fmt.Errorf("unsupported schema_version: %d", table.SchemaVersion)
	}

	ids := make(map[string]bool)
	for i, rule := range table.Rules {
		if rule.ID == "" {
			return fmt.Errorf("rule %d: missing id", i)
		}
		if ids[rule.ID] {
			return fmt.Errorf("duplicate rule id: %s", rule.ID)
		}
		ids[rule.ID] = true

		if len(rule.Programs) == 0 {
			return fmt.Errorf("rule %s: at least one program is required", rule.ID)
		}
		for _, p := range rule.Programs {
			if p == "" || strings.ContainsRune(p, '/') {
				return fmt.Errorf("rule %s: invalid program %q", rule.ID, p)
			}
		}
		if _, err := model.ParseTier(rule.Tier); err != nil {
			return fmt.Errorf("rule %s: %w", rule.ID, err)
		}
		for _, f := range rule.Flags {
			if !strings.HasPrefix(f, "-") {
				return fmt.Errorf("rule %s: flag %q must start with '-'", rule.ID, f)
			}
		}
		for _, s := range rule.Subcommands {
			if s == "" {
				return fmt.Errorf("rule %s: empty subcommand", rule.ID)
			}
		}
	}

	for i, rule := range table.Delegation {
		if rule.ID == "" {
			return fmt.Errorf("delegation rule %d: missing id", i)
		}
		if ids[rule.ID] {
			return fmt.Errorf("duplicate rule id: %s", rule.ID)
		}
		ids[rule.ID] = true
		if len(rule.Keywords) == 0 {
			return fmt.Errorf("delegation rule %s: at least one keyword is required", rule.ID)
		}
		if _, err := model.ParseTier(rule.Tier); err != nil {
			return fmt.Errorf("delegation rule %s: %w", rule.ID, err)
		}
	}

	if table.Defaults.Tier != "" {
		if _, err := model.ParseTier(table.Defaults.Tier); err != nil {
			return fmt.Errorf("defaults: %w", err)
		}
	}
	return nil
}

func applyTableDefaults(table *RuleTable) {
	if table.Defaults.Tier == "" {
		table.Defaults.Tier = model.TierSimulate.String()
	}
	if table.Defaults.Ask == nil {
		ask := true
		table.Defaults.Ask = &ask
	}
}

func compileRuleTable(table *RuleTable, source []byte) (*CompiledTable, error) {
	checksum := sha256.Sum256(source)

	defaultTier, err := model.ParseTier(table.Defaults.Tier)
	if err != nil {
		return nil, err
	}

	compiled := &CompiledTable{
		byProgram:    make(map[string][]*compiledRule),
		subSensitive: make(map[string]bool, len(builtinSubSensitive)),
		defaultTier:  defaultTier,
		defaultAsk:   *table.Defaults.Ask,
		checksum:     hex.EncodeToString(checksum[:]),
	}
	for p := range builtinSubSensitive {
		compiled.subSensitive[p] = true
	}

	for _, def := range table.Rules {
		tier, err := model.ParseTier(def.Tier)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", def.ID, err)
		}
		rule := &compiledRule{
			id:          def.ID,
			programs:    make(map[string]bool, len(def.Programs)),
			tier:        tier,
			ask:         def.Ask,
			destructive: def.Destructive,
			flags:       append([]string(nil), def.Flags...),
		}
		if len(def.Subcommands) > 0 {
			rule.subcommands = make(map[string]bool, len(def.Subcommands))
			for _, s := range def.Subcommands {
				rule.subcommands[s] = true
			}
		}
		for _, p := range def.Programs {
			rule.programs[p] = true
			compiled.byProgram[p] = append(compiled.byProgram[p], rule)
			if len(def.Subcommands) > 0 {
				compiled.subSensitive[p] = true
			}
		}
		compiled.rules = append(compiled.rules, rule)
	}

	for _, def := range table.Delegation {
		tier, err := model.ParseTier(def.Tier)
		if err != nil {
			return nil, fmt.Errorf("delegation rule %s: %w", def.ID, err)
		}
		keywords := make([]string, 0, len(def.Keywords))
		for _, kw := range def.Keywords {
			keywords = append(keywords, strings.ToLower(kw))
		}
		compiled.delegation = append(compiled.delegation, &compiledDelegation{
			id:       def.ID,
			keywords: keywords,
			tier:     tier,
		})
	}

	return compiled, nil
}
