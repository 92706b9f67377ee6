package model

// ClassificationResult is the classifier's verdict for one sub-command.
// Results are cached keyed by the normalized (program, relevant-flags)
// signature, so every field must be derivable from that signature alone.
type ClassificationResult struct {
	Tier          Tier   `json:"tier"`
	MatchedRule   string `json:"matched_rule,omitempty"`
	IsDestructive bool   `json:"is_destructive"`

	// Ask marks simulate-tier matches that want interactive
	// confirmation instead of a silent allow.
	Ask bool `json:"ask"`
}
