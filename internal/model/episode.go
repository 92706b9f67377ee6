package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// ApprovalState is the lifecycle position of an episode's plan.
type ApprovalState string

const (
	ApprovalUnapproved ApprovalState = "unapproved"
	ApprovalApproved   ApprovalState = "approved"
	ApprovalRejected   ApprovalState = "rejected"
)

var terminalApprovalStates = map[ApprovalState]bool{
	ApprovalApproved: true,
	ApprovalRejected: true,
}

// Approval transitions: unapproved is the only non-terminal state, and a
// decided episode never changes its mind.
var validApprovalTransitions = map[ApprovalState]map[ApprovalState]bool{
	ApprovalUnapproved: {
		ApprovalApproved: true,
		ApprovalRejected: true,
	},
	ApprovalApproved: {},
	ApprovalRejected: {},
}

func (s ApprovalState) Valid() bool {
	switch s {
	case ApprovalUnapproved, ApprovalApproved, ApprovalRejected:
		return true
	}
	return false
}

func (s ApprovalState) Terminal() bool {
	return terminalApprovalStates[s]
}

// ValidateApprovalTransition reports whether from → to is a legal move in
// the approval state machine.
func ValidateApprovalTransition(from, to ApprovalState) error {
	allowed, ok := validApprovalTransitions[from]
	if !ok {
		return fmt.Errorf("unknown approval state: %q", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid approval transition: %s -> %s", from, to)
	}
	return nil
}

// Episode is the persisted record of a realize-tier plan awaiting or
// holding human approval. It is created at planning time (when the
// persona returns a concrete plan), approved or rejected exactly once by
// a recorded confirmation, and consumed by at most one resume.
type Episode struct {
	ID         string        `json:"id" yaml:"id"`
	Persona    string        `json:"persona" yaml:"persona"`
	Tier       Tier          `json:"tier" yaml:"tier"`
	State      ApprovalState `json:"state" yaml:"state"`
	Plan       string        `json:"plan,omitempty" yaml:"plan,omitempty"`
	PlanDigest string        `json:"plan_digest" yaml:"plan_digest"`
	CreatedAt  time.Time     `json:"created_at" yaml:"created_at"`
	DecidedAt  time.Time     `json:"decided_at,omitempty" yaml:"decided_at,omitempty"`
	// DecidedBy and DecisionEvent record who approved or rejected the
	// plan and under which confirmation event, so every terminal state
	// is attributable.
	DecidedBy     string `json:"decided_by,omitempty" yaml:"decided_by,omitempty"`
	DecisionEvent string `json:"decision_event,omitempty" yaml:"decision_event,omitempty"`
	Consumed      bool   `json:"consumed" yaml:"consumed"`
}

// Expired reports whether the episode fell out of its retention window.
// A stale plan is never honored even if its row still exists: reads treat
// an expired episode as rejected, and the sweeper purges it.
func (e Episode) Expired(now time.Time, retention time.Duration) bool {
	return retention > 0 && now.Sub(e.CreatedAt) > retention
}

// Confirmation is the attributable human decision event that moves an
// episode out of unapproved. PlanDigest must match the episode's digest
// so a generic "yes" can never approve a plan the human did not see.
type Confirmation struct {
	EventID    string    `json:"event_id"`
	EpisodeID  string    `json:"episode_id"`
	Actor      string    `json:"actor"`
	PlanDigest string    `json:"plan_digest"`
	Approved   bool      `json:"approved"`
	At         time.Time `json:"at"`
}

// DigestPlan fingerprints plan content for confirmation correlation.
func DigestPlan(plan string) string {
	sum := sha256.Sum256([]byte(plan))
	return hex.EncodeToString(sum[:])
}
