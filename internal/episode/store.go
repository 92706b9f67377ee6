// Package episode persists the approval ledger for realize-tier plans.
// An episode is created when a persona produces a plan, decided exactly
// once by an attributable confirmation, and consumed by at most one
// resume. The store enforces the at-most-once property; tier policy is
// the caller's business.
package episode

import (
	"errors"
	"time"

	"github.com/metraton/warden/internal/model"
)

// Ledger errors. Each maps to a distinct block reason at the policy
// layer, so callers match with errors.Is rather than string checks.
var (
	ErrNotFound       = errors.New("episode not found")
	ErrNotApproved    = errors.New("episode not approved")
	ErrConsumed       = errors.New("episode already consumed")
	ErrExpired        = errors.New("episode expired")
	ErrDigestMismatch = errors.New("plan digest mismatch")
	ErrAlreadyDecided = errors.New("episode already decided")
	ErrUnattributed   = errors.New("confirmation requires an actor and event id")
)

// ListFilter narrows List results.
type ListFilter struct {
	// State keeps only episodes in the given approval state when set.
	State model.ApprovalState
	// Limit caps the number of returned episodes. Zero means no cap.
	Limit int
}

// Store is the episode ledger. Implementations must make Consume an
// atomic compare-and-set: of any number of concurrent consumers of an
// approved episode, exactly one wins.
type Store interface {
	// Create inserts a new episode. The caller assigns the id and the
	// initial state.
	Create(ep *model.Episode) error

	// Get returns the episode or ErrNotFound. Expiry is a read-side
	// concern: Get returns expired rows as stored and the caller
	// decides whether to honor them.
	Get(id string) (*model.Episode, error)

	// Decide moves an unapproved episode to approved or rejected
	// according to the confirmation. Approvals require the
	// confirmation's plan digest to match the episode's.
	Decide(conf model.Confirmation) (*model.Episode, error)

	// Consume marks an approved episode consumed. It fails with
	// ErrNotApproved or ErrConsumed when the episode is not in a
	// consumable state, and never consumes the same episode twice.
	Consume(id string) (*model.Episode, error)

	// List returns episodes newest first.
	List(filter ListFilter) ([]*model.Episode, error)

	// Purge deletes episodes created before the cutoff and reports how
	// many rows went away.
	Purge(createdBefore time.Time) (int, error)

	Close() error
}

// checkConfirmation validates the parts of a confirmation every backend
// needs before touching state.
func checkConfirmation(conf model.Confirmation) error {
	if conf.Actor == "" || conf.EventID == "" {
		return ErrUnattributed
	}
	return nil
}
