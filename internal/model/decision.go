package model

// Outcome is the verdict Warden returns to the host for one intercepted
// action. There is no fourth value: anything the mediator cannot judge
// resolves to OutcomeBlock.
type Outcome string

const (
	OutcomeAllow Outcome = "allow"
	OutcomeAsk   Outcome = "ask"
	OutcomeBlock Outcome = "block"
)

func (o Outcome) Valid() bool {
	switch o {
	case OutcomeAllow, OutcomeAsk, OutcomeBlock:
		return true
	}
	return false
}

// Decision is the single output type of the mediator. It never carries
// side-effecting instructions, only the verdict and a reason a human can
// act on. MatchedRule names the rule that set the decisive tier, when
// one did; it feeds the audit trail.
type Decision struct {
	Outcome     Outcome `json:"decision"`
	Reason      string  `json:"reason"`
	Tier        Tier    `json:"tier"`
	MatchedRule string  `json:"matched_rule,omitempty"`
}

func Allow(tier Tier, reason string) Decision {
	return Decision{Outcome: OutcomeAllow, Reason: reason, Tier: tier}
}

func Ask(tier Tier, reason string) Decision {
	return Decision{Outcome: OutcomeAsk, Reason: reason, Tier: tier}
}

func Block(tier Tier, reason string) Decision {
	return Decision{Outcome: OutcomeBlock, Reason: reason, Tier: tier}
}
