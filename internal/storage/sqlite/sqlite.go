// Package sqlite persists scheduling state in a single-file database.
package sqlite

import (
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mistakeknot/concord/internal/core"
	"github.com/mistakeknot/concord/internal/storage"
)

//go:embed schema.sql
var schema string

type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

func New(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("db path required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := applySchema(db); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func NewInMemory() (*Store, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := applySchema(db); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) SaveProposal(p core.SchedulingProposal, status core.ProposalStatus) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal proposal: %w", err)
	}
	var deadline string
	if !p.Deadline.IsZero() {
		deadline = p.Deadline.UTC().Format(time.RFC3339Nano)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	return RetryOnDBLock(func() error {
		_, err := s.db.Exec(
			`INSERT INTO proposals (proposal_id, from_agent_id, to_agent_id, status, deadline, payload_json, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(proposal_id) DO UPDATE SET status=excluded.status, payload_json=excluded.payload_json, updated_at=excluded.updated_at`,
			p.ProposalID, p.FromAgentID, p.ToAgentID, string(status), deadline, string(payload),
			p.CreatedAt.UTC().Format(time.RFC3339Nano), now,
		)
		if err != nil {
			return fmt.Errorf("upsert proposal: %w", err)
		}
		return nil
	})
}

func (s *Store) UpdateProposalStatus(proposalID string, status core.ProposalStatus) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	return RetryOnDBLock(func() error {
		res, err := s.db.Exec(
			`UPDATE proposals SET status = ?, updated_at = ? WHERE proposal_id = ?`,
			string(status), now, proposalID,
		)
		if err != nil {
			return fmt.Errorf("update proposal: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if n == 0 {
			return storage.ErrNotFound
		}
		return nil
	})
}

func (s *Store) Proposal(proposalID string) (core.SchedulingProposal, core.ProposalStatus, error) {
	var payload, status string
	err := s.db.QueryRow(
		`SELECT payload_json, status FROM proposals WHERE proposal_id = ?`, proposalID,
	).Scan(&payload, &status)
	if err == sql.ErrNoRows {
		return core.SchedulingProposal{}, "", storage.ErrNotFound
	}
	if err != nil {
		return core.SchedulingProposal{}, "", fmt.Errorf("query proposal: %w", err)
	}
	var p core.SchedulingProposal
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return core.SchedulingProposal{}, "", fmt.Errorf("decode proposal: %w", err)
	}
	return p, core.ProposalStatus(status), nil
}

func (s *Store) ListProposals(status core.ProposalStatus) ([]core.SchedulingProposal, error) {
	query := `SELECT payload_json FROM proposals ORDER BY created_at ASC`
	args := []any{}
	if status != "" {
		query = `SELECT payload_json FROM proposals WHERE status = ? ORDER BY created_at ASC`
		args = append(args, string(status))
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query proposals: %w", err)
	}
	defer rows.Close()

	var out []core.SchedulingProposal
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan proposal: %w", err)
		}
		var p core.SchedulingProposal
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return nil, fmt.Errorf("decode proposal: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func (s *Store) AppendObservation(obs core.MeetingObservation) error {
	return RetryOnDBLock(func() error {
		_, err := s.db.Exec(
			`INSERT INTO observations (user_id, start_time, duration_minutes, accepted) VALUES (?, ?, ?, ?)`,
			obs.UserID, obs.Start.UTC().Format(time.RFC3339Nano), obs.DurationMinutes, boolToInt(obs.Accepted),
		)
		if err != nil {
			return fmt.Errorf("insert observation: %w", err)
		}
		return nil
	})
}

func (s *Store) ObservationsForUser(userID string) ([]core.MeetingObservation, error) {
	rows, err := s.db.Query(
		`SELECT start_time, duration_minutes, accepted FROM observations WHERE user_id = ? ORDER BY id ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query observations: %w", err)
	}
	defer rows.Close()

	var out []core.MeetingObservation
	for rows.Next() {
		var (
			start    string
			duration int
			accepted int
		)
		if err := rows.Scan(&start, &duration, &accepted); err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		parsed, _ := time.Parse(time.RFC3339Nano, start)
		out = append(out, core.MeetingObservation{
			UserID:          userID,
			Start:           parsed,
			DurationMinutes: duration,
			Accepted:        accepted != 0,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func (s *Store) AppendFeedback(fb core.MeetingFeedback) error {
	var ws, we string
	if !fb.WindowStart.IsZero() {
		ws = fb.WindowStart.UTC().Format(time.RFC3339Nano)
	}
	if !fb.WindowEnd.IsZero() {
		we = fb.WindowEnd.UTC().Format(time.RFC3339Nano)
	}
	return RetryOnDBLock(func() error {
		_, err := s.db.Exec(
			`INSERT INTO feedback (user_id, rating, window_start, window_end, comment) VALUES (?, ?, ?, ?, ?)`,
			fb.UserID, fb.Rating, ws, we, fb.Comment,
		)
		if err != nil {
			return fmt.Errorf("insert feedback: %w", err)
		}
		return nil
	})
}

func (s *Store) FeedbackForUser(userID string) ([]core.MeetingFeedback, error) {
	rows, err := s.db.Query(
		`SELECT rating, window_start, window_end, comment FROM feedback WHERE user_id = ? ORDER BY id ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query feedback: %w", err)
	}
	defer rows.Close()

	var out []core.MeetingFeedback
	for rows.Next() {
		var (
			rating         int
			ws, we, commnt string
		)
		if err := rows.Scan(&rating, &ws, &we, &commnt); err != nil {
			return nil, fmt.Errorf("scan feedback: %w", err)
		}
		fb := core.MeetingFeedback{UserID: userID, Rating: rating, Comment: commnt}
		if ws != "" {
			fb.WindowStart, _ = time.Parse(time.RFC3339Nano, ws)
		}
		if we != "" {
			fb.WindowEnd, _ = time.Parse(time.RFC3339Nano, we)
		}
		out = append(out, fb)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func (s *Store) AppendConflict(analysis core.ConflictAnalysis) error {
	payload, err := json.Marshal(analysis)
	if err != nil {
		return fmt.Errorf("marshal conflict: %w", err)
	}
	detected := analysis.DetectedAt
	if detected.IsZero() {
		detected = time.Now().UTC()
	}
	return RetryOnDBLock(func() error {
		_, err := s.db.Exec(
			`INSERT INTO conflicts (conflict_type, severity, detected_at, payload_json) VALUES (?, ?, ?, ?)`,
			analysis.Type, analysis.Severity, detected.UTC().Format(time.RFC3339Nano), string(payload),
		)
		if err != nil {
			return fmt.Errorf("insert conflict: %w", err)
		}
		return nil
	})
}

func (s *Store) RecentConflicts(limit int) ([]core.ConflictAnalysis, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(
		`SELECT payload_json FROM (
		   SELECT id, payload_json FROM conflicts ORDER BY id DESC LIMIT ?
		 ) ORDER BY id ASC`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query conflicts: %w", err)
	}
	defer rows.Close()

	var out []core.ConflictAnalysis
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan conflict: %w", err)
		}
		var analysis core.ConflictAnalysis
		if err := json.Unmarshal([]byte(payload), &analysis); err != nil {
			return nil, fmt.Errorf("decode conflict: %w", err)
		}
		out = append(out, analysis)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func (s *Store) ExpirePendingProposals(before time.Time) ([]string, error) {
	cutoff := before.UTC().Format(time.RFC3339Nano)
	rows, err := s.db.Query(
		`SELECT proposal_id FROM proposals
		 WHERE status = ? AND deadline != '' AND deadline < ?
		 ORDER BY proposal_id ASC`,
		string(core.ProposalReceived), cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("query expired proposals: %w", err)
	}
	var expired []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan expired proposal: %w", err)
		}
		expired = append(expired, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("rows: %w", err)
	}
	rows.Close()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, id := range expired {
		err := RetryOnDBLock(func() error {
			_, err := s.db.Exec(
				`UPDATE proposals SET status = ?, updated_at = ? WHERE proposal_id = ?`,
				string(core.ProposalError), now, id,
			)
			return err
		})
		if err != nil {
			return expired, fmt.Errorf("expire proposal %s: %w", id, err)
		}
	}
	return expired, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
