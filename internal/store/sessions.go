package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const timeFmt = "2006-01-02 15:04:05"

// Session is one agent run, from startSession to finalization.
type Session struct {
	ID        string
	StartedAt time.Time
	EndedAt   *time.Time
	Status    string // running | stopped | error
	TurnCount int
	CostUSD   float64
}

// Usage aggregates session history for the monitor endpoint.
type Usage struct {
	Sessions   int     `json:"sessions"`
	TotalTurns int     `json:"total_turns"`
	TotalUSD   float64 `json:"total_usd"`
}

func parseTime(s string) time.Time {
	for _, fmt := range []string{timeFmt, time.RFC3339, "2006-01-02T15:04:05Z"} {
		if t, err := time.Parse(fmt, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func (s *Store) CreateSession(id string, startedAt time.Time) error {
	_, err := s.db.Exec(
		"INSERT INTO sessions (id, started_at, status) VALUES (?, ?, 'running')",
		id, startedAt.UTC().Format(timeFmt))
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func scanSession(scan func(...any) error) (*Session, error) {
	var sess Session
	var started string
	var ended *string
	if err := scan(&sess.ID, &started, &ended, &sess.Status, &sess.TurnCount, &sess.CostUSD); err != nil {
		return nil, err
	}
	sess.StartedAt = parseTime(started)
	if ended != nil {
		t := parseTime(*ended)
		sess.EndedAt = &t
	}
	return &sess, nil
}

func (s *Store) GetSession(id string) (*Session, error) {
	row := s.db.QueryRow(
		"SELECT id, started_at, ended_at, status, turn_count, cost_usd FROM sessions WHERE id = ?", id)
	sess, err := scanSession(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// RecordResult folds one agent result message into the session row.
func (s *Store) RecordResult(id string, turnCount int, costUSD float64) error {
	_, err := s.db.Exec(
		"UPDATE sessions SET turn_count = ?, cost_usd = ? WHERE id = ?",
		turnCount, costUSD, id)
	if err != nil {
		return fmt.Errorf("record result: %w", err)
	}
	return nil
}

// FinishSession stamps ended_at and the terminal status.
func (s *Store) FinishSession(id, status string, endedAt time.Time) error {
	_, err := s.db.Exec(
		"UPDATE sessions SET ended_at = ?, status = ? WHERE id = ?",
		endedAt.UTC().Format(timeFmt), status, id)
	if err != nil {
		return fmt.Errorf("finish session: %w", err)
	}
	return nil
}

// ListSessions returns the most recent sessions, newest first.
func (s *Store) ListSessions(limit int) ([]*Session, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		"SELECT id, started_at, ended_at, status, turn_count, cost_usd FROM sessions ORDER BY started_at DESC, id DESC LIMIT ?",
		limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		sess, err := scanSession(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// UsageTotals sums cost and turns across all recorded sessions.
func (s *Store) UsageTotals() (Usage, error) {
	var u Usage
	row := s.db.QueryRow("SELECT COUNT(*), COALESCE(SUM(turn_count), 0), COALESCE(SUM(cost_usd), 0) FROM sessions")
	if err := row.Scan(&u.Sessions, &u.TotalTurns, &u.TotalUSD); err != nil {
		return Usage{}, fmt.Errorf("usage totals: %w", err)
	}
	return u, nil
}
