// Package model defines the data structures for Warden's parsed commands,
// risk tiers, delegation requests, approval episodes, and decisions.
package model

import "fmt"

// Tier is the ordered risk classification of a command or delegation.
// Higher tiers are strictly more dangerous; the tier of a composite
// command line is the maximum tier over its segments.
type Tier int

const (
	TierRead     Tier = iota // read-only inspection
	TierValidate             // verification, lint, status checks
	TierSimulate             // previews and plans, no mutation
	TierRealize              // irreversible side effects
)

var tierNames = map[Tier]string{
	TierRead:     "read",
	TierValidate: "validate",
	TierSimulate: "simulate",
	TierRealize:  "realize",
}

var tierValues = map[string]Tier{
	"read":     TierRead,
	"validate": TierValidate,
	"simulate": TierSimulate,
	"realize":  TierRealize,
}

func (t Tier) String() string {
	if name, ok := tierNames[t]; ok {
		return name
	}
	return fmt.Sprintf("tier(%d)", int(t))
}

func (t Tier) Valid() bool {
	_, ok := tierNames[t]
	return ok
}

// ParseTier converts the wire/config spelling of a tier into its value.
func ParseTier(s string) (Tier, error) {
	t, ok := tierValues[s]
	if !ok {
		return 0, fmt.Errorf("unknown tier: %q", s)
	}
	return t, nil
}

// MaxTier returns the more dangerous of two tiers.
func MaxTier(a, b Tier) Tier {
	if b > a {
		return b
	}
	return a
}

// MarshalText renders the tier name for JSON/YAML output.
func (t Tier) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid tier value: %d", int(t))
	}
	return []byte(tierNames[t]), nil
}

func (t *Tier) UnmarshalText(data []byte) error {
	parsed, err := ParseTier(string(data))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
