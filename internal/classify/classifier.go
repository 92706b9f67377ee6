package classify

import (
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/metraton/warden/internal/model"
)

// Classifier assigns a tier to command segments using the compiled rule
// table. Results are cached by normalized signature, so classification
// must depend only on the signature: never on argument values the
// signature drops, the environment, or the clock.
type Classifier struct {
	mu           sync.RWMutex
	table        *CompiledTable
	cache        *resultCache
	singleflight *singleflight.Group

	cacheSize int
	cacheTTL  time.Duration
}

// New creates a classifier over the given table. cacheSize <= 0 disables
// the result cache.
func New(table *CompiledTable, cacheSize int, cacheTTL time.Duration) *Classifier {
	return &Classifier{
		table:        table,
		cache:        newResultCache(cacheSize, cacheTTL),
		singleflight: &singleflight.Group{},
		cacheSize:    cacheSize,
		cacheTTL:     cacheTTL,
	}
}

// SetTable atomically swaps in a new rule table. The result cache is
// replaced because cached entries record decisions of the old table.
func (c *Classifier) SetTable(table *CompiledTable) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.table = table
	c.cache = newResultCache(c.cacheSize, c.cacheTTL)
}

// Checksum returns the checksum of the active rule table.
func (c *Classifier) Checksum() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.table.Checksum()
}

// RuleCount returns the number of command rules in the active table.
func (c *Classifier) RuleCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.table.RuleCount()
}

// CacheInfo reports the occupancy of the active result cache.
func (c *Classifier) CacheInfo() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cache.Stats()
}

// Classify assigns a tier to a single command segment.
func (c *Classifier) Classify(sub model.SubCommand) model.ClassificationResult {
	c.mu.RLock()
	table := c.table
	cache := c.cache
	c.mu.RUnlock()

	feats := extractFeatures(sub, table.subSensitive)
	key := feats.signature()

	if result, ok := cache.Get(key); ok {
		return result
	}

	// The table checksum is part of the singleflight key so that an
	// in-flight classification against an old table is never handed to
	// callers holding the new one.
	sfKey := table.checksum + "|" + key
	v, _, _ := c.singleflight.Do(sfKey, func() (interface{}, error) {
		result := classifySegment(table, feats)
		cache.Set(key, result)
		return result, nil
	})
	return v.(model.ClassificationResult)
}

// Signature exposes the normalized cache signature of a segment. Used by
// the inspection commands and in tests.
func (c *Classifier) Signature(sub model.SubCommand) string {
	c.mu.RLock()
	table := c.table
	c.mu.RUnlock()
	return extractFeatures(sub, table.subSensitive).signature()
}

// classifySegment is the uncached classification path. The decision
// order is fixed: builtin always-realize checks, then the configured
// rules in file order, then the default, with the write-target floor
// applied last.
func classifySegment(table *CompiledTable, feats features) model.ClassificationResult {
	if name, ok := alwaysRealize(feats); ok {
		return model.ClassificationResult{
			Tier:          model.TierRealize,
			MatchedRule:   name,
			IsDestructive: true,
		}
	}

	result := model.ClassificationResult{
		Tier:        table.defaultTier,
		MatchedRule: "default",
		Ask:         table.defaultAsk,
	}
	if rule := table.matchRule(feats.program, feats.subcommand, feats.flags); rule != nil {
		result = model.ClassificationResult{
			Tier:          rule.tier,
			MatchedRule:   rule.id,
			IsDestructive: rule.destructive,
			Ask:           rule.ask,
		}
	}

	// A redirection that writes a file is at least a validate-tier
	// action even when the program alone would be read-only. System
	// path targets were already caught by the builtin set above.
	if feats.writeClass == writeClassPlain && result.Tier < model.TierValidate {
		result.Tier = model.TierValidate
	}

	return result
}

// ClassifyDelegation infers a tier for a delegation request from its
// prompt and metadata. Delegation rules match case-insensitive keywords;
// without a match the request is treated as validate-tier work.
func (c *Classifier) ClassifyDelegation(prompt string, metadata map[string]string) (model.Tier, string) {
	c.mu.RLock()
	table := c.table
	c.mu.RUnlock()

	var b strings.Builder
	b.WriteString(strings.ToLower(prompt))
	// Metadata values join the haystack in key order so the scan is
	// deterministic.
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteByte('\n')
		b.WriteString(strings.ToLower(metadata[k]))
	}
	haystack := b.String()

	for _, rule := range table.delegation {
		for _, keyword := range rule.keywords {
			if strings.Contains(haystack, keyword) {
				return rule.tier, rule.id
			}
		}
	}
	return model.TierValidate, "delegation-default"
}
