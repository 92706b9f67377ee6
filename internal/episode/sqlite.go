package episode

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/metraton/warden/internal/model"
)

// SQLiteStore is the durable episode ledger. Approvals must survive a
// daemon restart: a human decision that vanished on restart would force
// re-approval of work they already signed off on.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens (creating if needed) the episode database and runs
// migrations.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// WAL mode for better concurrency
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// migrate runs idempotent schema migrations.
func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS episodes (
		id TEXT PRIMARY KEY,
		persona TEXT NOT NULL,
		tier TEXT NOT NULL,
		state TEXT NOT NULL DEFAULT 'unapproved',
		plan TEXT NOT NULL DEFAULT '',
		plan_digest TEXT NOT NULL,
		decided_by TEXT,
		decision_event TEXT,
		created_at DATETIME NOT NULL,
		decided_at DATETIME,
		consumed INTEGER NOT NULL DEFAULT 0,
		consumed_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_episodes_state ON episodes(state);
	CREATE INDEX IF NOT EXISTS idx_episodes_created_at ON episodes(created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Create(ep *model.Episode) error {
	if ep.CreatedAt.IsZero() {
		ep.CreatedAt = time.Now().UTC()
	}
	if ep.State == "" {
		ep.State = model.ApprovalUnapproved
	}

	_, err := s.db.Exec(
		`INSERT INTO episodes (id, persona, tier, state, plan, plan_digest, created_at, consumed) VALUES (?, ?, ?, ?, ?, ?, ?, 0)`,
		ep.ID, ep.Persona, ep.Tier.String(), string(ep.State), ep.Plan, ep.PlanDigest, ep.CreatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") || strings.Contains(err.Error(), "unique constraint") {
			return fmt.Errorf("episode id %s already exists", ep.ID)
		}
		return fmt.Errorf("insert episode: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(id string) (*model.Episode, error) {
	return scanEpisode(s.db.QueryRow(
		`SELECT id, persona, tier, state, plan, plan_digest, decided_by, decision_event, created_at, decided_at, consumed FROM episodes WHERE id = ?`,
		id,
	))
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEpisode(row rowScanner) (*model.Episode, error) {
	ep := &model.Episode{}
	var tier, state string
	var decidedBy, decisionEvent sql.NullString
	var decidedAt sql.NullTime

	err := row.Scan(&ep.ID, &ep.Persona, &tier, &state, &ep.Plan, &ep.PlanDigest,
		&decidedBy, &decisionEvent, &ep.CreatedAt, &decidedAt, &ep.Consumed)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan episode: %w", err)
	}

	t, err := model.ParseTier(tier)
	if err != nil {
		return nil, fmt.Errorf("episode %s: %w", ep.ID, err)
	}
	ep.Tier = t
	ep.State = model.ApprovalState(state)
	if decidedBy.Valid {
		ep.DecidedBy = decidedBy.String
	}
	if decisionEvent.Valid {
		ep.DecisionEvent = decisionEvent.String
	}
	if decidedAt.Valid {
		ep.DecidedAt = decidedAt.Time
	}
	return ep, nil
}

// Decide applies a confirmation to an unapproved episode in a single
// transaction. The guarded UPDATE (state = 'unapproved') makes the
// decision first-writer-wins even across processes.
func (s *SQLiteStore) Decide(conf model.Confirmation) (*model.Episode, error) {
	if err := checkConfirmation(conf); err != nil {
		return nil, err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	ep, err := scanEpisode(tx.QueryRow(
		`SELECT id, persona, tier, state, plan, plan_digest, decided_by, decision_event, created_at, decided_at, consumed FROM episodes WHERE id = ?`,
		conf.EpisodeID,
	))
	if err != nil {
		return nil, err
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
	// A generic "yes" must never approve a plan the approver did not
	// see: approvals carry the digest of the plan as shown.
	if conf.Approved && conf.PlanDigest != ep.PlanDigest {
		return nil, ErrDigestMismatch
	}

	decidedAt := conf.At
	if decidedAt.IsZero() {
		decidedAt = time.Now().UTC()
	}

	result, err := tx.Exec(
		`UPDATE episodes SET state = ?, decided_by = ?, decision_event = ?, decided_at = ? WHERE id = ? AND state = 'unapproved'`,
		string(target), conf.Actor, conf.EventID, decidedAt, conf.EpisodeID,
	)
	if err != nil {
		return nil, fmt.Errorf("update episode: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("check rows affected: %w", err)
	}
	if affected == 0 {
		return nil, ErrAlreadyDecided
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	ep.State = target
	ep.DecidedBy = conf.Actor
	ep.DecisionEvent = conf.EventID
	ep.DecidedAt = decidedAt
	return ep, nil
}

// Consume marks an approved episode consumed. The guarded UPDATE is the
// at-most-once gate: of any number of concurrent resumes, exactly one
// sees a row flip.
func (s *SQLiteStore) Consume(id string) (*model.Episode, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	ep, err := scanEpisode(tx.QueryRow(
		`SELECT id, persona, tier, state, plan, plan_digest, decided_by, decision_event, created_at, decided_at, consumed FROM episodes WHERE id = ?`,
		id,
	))
	if err != nil {
		return nil, err
	}
	if ep.State != model.ApprovalApproved {
		return nil, ErrNotApproved
	}
	if ep.Consumed {
		return nil, ErrConsumed
	}

	result, err := tx.Exec(
		`UPDATE episodes SET consumed = 1, consumed_at = ? WHERE id = ? AND state = 'approved' AND consumed = 0`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("consume episode: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("check rows affected: %w", err)
	}
	if affected == 0 {
		// Another consumer won between our read and the update.
		return nil, ErrConsumed
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	ep.Consumed = true
	return ep, nil
}

func (s *SQLiteStore) List(filter ListFilter) ([]*model.Episode, error) {
	query := `SELECT id, persona, tier, state, plan, plan_digest, decided_by, decision_event, created_at, decided_at, consumed FROM episodes`
	var args []interface{}

	if filter.State != "" {
		query += ` WHERE state = ?`
		args = append(args, string(filter.State))
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query episodes: %w", err)
	}
	defer rows.Close()

	var episodes []*model.Episode
	for rows.Next() {
		ep, err := scanEpisode(rows)
		if err != nil {
			return nil, err
		}
		episodes = append(episodes, ep)
	}
	return episodes, rows.Err()
}

func (s *SQLiteStore) Purge(createdBefore time.Time) (int, error) {
	result, err := s.db.Exec(`DELETE FROM episodes WHERE created_at < ?`, createdBefore)
	if err != nil {
		return 0, fmt.Errorf("purge episodes: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check rows affected: %w", err)
	}
	return int(affected), nil
}
