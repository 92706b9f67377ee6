package episode

import (
	"sort"
	"sync"
	"time"

	"github.com/metraton/warden/internal/model"
)

// MemoryStore is an in-process episode ledger with the same semantics as
// the SQLite store. It backs tests and ephemeral (no state directory)
// runs; approvals in it do not survive a restart.
type MemoryStore struct {
	mu       sync.Mutex
	episodes map[string]*model.Episode
}

func NewMemory() *MemoryStore {
	return &MemoryStore{episodes: make(map[string]*model.Episode)}
}

func (s *MemoryStore) Create(ep *model.Episode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.episodes[ep.ID]; exists {
		return &idExistsError{id: ep.ID}
	}
	stored := *ep
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	if stored.State == "" {
		stored.State = model.ApprovalUnapproved
	}
	s.episodes[ep.ID] = &stored
	return nil
}

func (s *MemoryStore) Get(id string) (*model.Episode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ep, exists := s.episodes[id]
	if !exists {
		return nil, ErrNotFound
	}
	cp := *ep
	return &cp, nil
}

func (s *MemoryStore) Decide(conf model.Confirmation) (*model.Episode, error) {
	if err := checkConfirmation(conf); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ep, exists := s.episodes[conf.EpisodeID]
	if !exists {
		return nil, ErrNotFound
	}

	target := model.ApprovalRejected
	if conf.Approved {
		target = model.ApprovalApproved
	}
	if err := model.ValidateApprovalTransition(ep.State, target); err != nil {
		if ep.State.Terminal() {
			return nil, ErrAlreadyDecided
		}
		return nil, err
	}
	if conf.Approved && conf.PlanDigest != ep.PlanDigest {
		return nil, ErrDigestMismatch
	}

	ep.State = target
	ep.DecidedBy = conf.Actor
	ep.DecisionEvent = conf.EventID
	ep.DecidedAt = conf.At
	if ep.DecidedAt.IsZero() {
		ep.DecidedAt = time.Now().UTC()
	}

	cp := *ep
	return &cp, nil
}

func (s *MemoryStore) Consume(id string) (*model.Episode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ep, exists := s.episodes[id]
	if !exists {
		return nil, ErrNotFound
	}
	if ep.State != model.ApprovalApproved {
		return nil, ErrNotApproved
	}
	if ep.Consumed {
		return nil, ErrConsumed
	}

	ep.Consumed = true
	cp := *ep
	return &cp, nil
}

func (s *MemoryStore) List(filter ListFilter) ([]*model.Episode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var episodes []*model.Episode
	for _, ep := range s.episodes {
		if filter.State != "" && ep.State != filter.State {
			continue
		}
		cp := *ep
		episodes = append(episodes, &cp)
	}
	sort.Slice(episodes, func(i, j int) bool {
		return episodes[i].CreatedAt.After(episodes[j].CreatedAt)
	})
	if filter.Limit > 0 && len(episodes) > filter.Limit {
		episodes = episodes[:filter.Limit]
	}
	return episodes, nil
}

func (s *MemoryStore) Purge(createdBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	purged := 0
	for id, ep := range s.episodes {
		if ep.CreatedAt.Before(createdBefore) {
			delete(s.episodes, id)
			purged++
		}
	}
	return purged, nil
}

func (s *MemoryStore) Close() error { return nil }

type idExistsError struct{ id string }

func (e *idExistsError) Error() string { return "episode id " + e.id + " already exists" }
