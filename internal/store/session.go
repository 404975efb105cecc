package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/taleweave/taleweave/internal/game"
)

// timeFormat is RFC 3339 with nanoseconds, stored as TEXT for portability.
const timeFormat = time.RFC3339Nano

// CreateSession atomically persists a new session record and its opening
// log entries. The session must arrive at version 1 with the opening scene
// already in its log; campaign, state, and log are committed together or
// not at all.
func (s *Store) CreateSession(ctx context.Context, sess *game.Session) error {
	campaignJSON, stateJSON, actionsJSON, completedJSON, err := marshalSessionColumns(sess)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("create session: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	now := s.clock().Format(timeFormat)
	result, err := tx.ExecContext(ctx, `
		INSERT INTO sessions
		(id, owner_id, campaign, state, available_actions, completed_plot_points,
		 turns_since_progress, version, started, concluded, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		sess.ID,
		sess.OwnerID,
		campaignJSON,
		stateJSON,
		actionsJSON,
		completedJSON,
		sess.TurnsSinceProgress,
		sess.Version,
		boolToInt(sess.Started),
		boolToInt(sess.Concluded),
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("create session: insert: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("create session: rows affected: %w", err)
	}
	if rows == 0 {
		return ErrAlreadyExists
	}

	for _, entry := range sess.Log {
		if err := insertLogEntry(ctx, tx, sess.ID, entry); err != nil {
			return fmt.Errorf("create session: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("create session: commit: %w", err)
	}
	return nil
}

// LoadSession reads a session record and its full ordered log.
// Returns ErrNotFound if no session exists with the given ID.
func (s *Store) LoadSession(ctx context.Context, id string) (*game.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, campaign, state, available_actions, completed_plot_points,
		       turns_since_progress, version, started, concluded, created_at, updated_at
		FROM sessions
		WHERE id = ?
	`, id)

	var (
		sess          game.Session
		campaignJSON  string
		stateJSON     string
		actionsJSON   string
		completedJSON string
		started       int
		concluded     int
		createdAt     string
		updatedAt     string
	)
	err := row.Scan(
		&sess.ID,
		&sess.OwnerID,
		&campaignJSON,
		&stateJSON,
		&actionsJSON,
		&completedJSON,
		&sess.TurnsSinceProgress,
		&sess.Version,
		&started,
		&concluded,
		&createdAt,
		&updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}

	if err := json.Unmarshal([]byte(campaignJSON), &sess.Campaign); err != nil {
		return nil, fmt.Errorf("load session %s: decode campaign: %w", id, err)
	}
	if err := json.Unmarshal([]byte(stateJSON), &sess.State); err != nil {
		return nil, fmt.Errorf("load session %s: decode state: %w", id, err)
	}
	if err := json.Unmarshal([]byte(actionsJSON), &sess.AvailableActions); err != nil {
		return nil, fmt.Errorf("load session %s: decode actions: %w", id, err)
	}
	if err := json.Unmarshal([]byte(completedJSON), &sess.CompletedPlotPoints); err != nil {
		return nil, fmt.Errorf("load session %s: decode plot points: %w", id, err)
	}
	sess.Started = started != 0
	sess.Concluded = concluded != 0
	if sess.State == nil {
		sess.State = map[string]any{}
	}
	if sess.CreatedAt, err = time.Parse(timeFormat, createdAt); err != nil {
		return nil, fmt.Errorf("load session %s: parse created_at: %w", id, err)
	}
	if sess.UpdatedAt, err = time.Parse(timeFormat, updatedAt); err != nil {
		return nil, fmt.Errorf("load session %s: parse updated_at: %w", id, err)
	}

	sess.Log, err = s.readLog(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	return &sess, nil
}

// SaveSession persists a committed turn: the whole session row plus the
// turn's new narrative entries, in one transaction. The update is guarded
// by a version check; a save that would not strictly advance the persisted
// version returns ErrVersionConflict and writes nothing.
func (s *Store) SaveSession(ctx context.Context, sess *game.Session, newEntries []game.LogEntry) error {
	_, stateJSON, actionsJSON, completedJSON, err := marshalSessionColumns(sess)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save session: begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE sessions
		SET state = ?, available_actions = ?, completed_plot_points = ?,
		    turns_since_progress = ?, version = ?, updated_at = ?
		WHERE id = ? AND version < ?
	`,
		stateJSON,
		actionsJSON,
		completedJSON,
		sess.TurnsSinceProgress,
		sess.Version,
		s.clock().Format(timeFormat),
		sess.ID,
		sess.Version,
	)
	if err != nil {
		return fmt.Errorf("save session: update: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("save session: rows affected: %w", err)
	}
	if rows == 0 {
		// Either the session is missing or the version guard refused the
		// write. Distinguish for the caller.
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE id = ?`, sess.ID).Scan(&exists); err != nil {
			return fmt.Errorf("save session: check existence: %w", err)
		}
		if exists == 0 {
			return ErrNotFound
		}
		return ErrVersionConflict
	}

	for _, entry := range newEntries {
		if err := insertLogEntry(ctx, tx, sess.ID, entry); err != nil {
			return fmt.Errorf("save session: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save session: commit: %w", err)
	}
	return nil
}

// AppendAction durably records a raw player action independently of any
// turn commit, together with the session's turns-since-progress counter.
// This write succeeds or fails on its own: a later generation or commit
// failure never takes the player's action with it.
func (s *Store) AppendAction(ctx context.Context, sessionID string, entry game.LogEntry, turnsSinceProgress int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append action: begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := insertLogEntry(ctx, tx, sessionID, entry); err != nil {
		return fmt.Errorf("append action: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE sessions
		SET turns_since_progress = ?, updated_at = ?
		WHERE id = ?
	`, turnsSinceProgress, s.clock().Format(timeFormat), sessionID)
	if err != nil {
		return fmt.Errorf("append action: update counter: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("append action: rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("append action: commit: %w", err)
	}
	return nil
}

// MarkStarted flips the session's started flag. Idempotent.
func (s *Store) MarkStarted(ctx context.Context, sessionID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET started = 1, updated_at = ?
		WHERE id = ?
	`, s.clock().Format(timeFormat), sessionID)
	if err != nil {
		return fmt.Errorf("mark started: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark started: rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkConcluded flips the session's terminal flag at the given version.
func (s *Store) MarkConcluded(ctx context.Context, sessionID string, version int64) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET concluded = 1, updated_at = ?
		WHERE id = ? AND version = ?
	`, s.clock().Format(timeFormat), sessionID, version)
	if err != nil {
		return fmt.Errorf("mark concluded: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark concluded: rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// readLog returns the full ordered log for a session.
// Ordering is deterministic: seq ASC with id as tiebreaker.
func (s *Store) readLog(ctx context.Context, sessionID string) ([]game.LogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seq, kind, member_id, body, created_at
		FROM log_entries
		WHERE session_id = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query log: %w", err)
	}
	defer rows.Close()

	var entries []game.LogEntry
	for rows.Next() {
		var (
			entry     game.LogEntry
			kind      string
			createdAt string
		)
		if err := rows.Scan(&entry.ID, &entry.Seq, &kind, &entry.MemberID, &entry.Body, &createdAt); err != nil {
			return nil, fmt.Errorf("scan log entry: %w", err)
		}
		entry.Kind = game.LogKind(kind)
		if entry.CreatedAt, err = time.Parse(timeFormat, createdAt); err != nil {
			return nil, fmt.Errorf("parse log entry time: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate log: %w", err)
	}

	if entries == nil {
		entries = []game.LogEntry{}
	}
	return entries, nil
}

// insertLogEntry appends one log entry inside an open transaction.
// Duplicate IDs and duplicate (session, seq) pairs are silently ignored so
// replayed writes stay idempotent.
func insertLogEntry(ctx context.Context, tx *sql.Tx, sessionID string, entry game.LogEntry) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO log_entries
		(id, session_id, seq, kind, member_id, body, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		entry.ID,
		sessionID,
		entry.Seq,
		string(entry.Kind),
		entry.MemberID,
		entry.Body,
		entry.CreatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("insert log entry %s: %w", entry.ID, err)
	}
	return nil
}

func marshalSessionColumns(sess *game.Session) (campaign, state, actions, completed string, err error) {
	campaignBytes, err := json.Marshal(sess.Campaign)
	if err != nil {
		return "", "", "", "", fmt.Errorf("marshal campaign: %w", err)
	}
	if sess.State == nil {
		sess.State = map[string]any{}
	}
	stateBytes, err := json.Marshal(sess.State)
	if err != nil {
		return "", "", "", "", fmt.Errorf("marshal state: %w", err)
	}
	if sess.AvailableActions == nil {
		sess.AvailableActions = []string{}
	}
	actionsBytes, err := json.Marshal(sess.AvailableActions)
	if err != nil {
		return "", "", "", "", fmt.Errorf("marshal actions: %w", err)
	}
	if sess.CompletedPlotPoints == nil {
		sess.CompletedPlotPoints = []string{}
	}
	completedBytes, err := json.Marshal(sess.CompletedPlotPoints)
	if err != nil {
		return "", "", "", "", fmt.Errorf("marshal plot points: %w", err)
	}
	return string(campaignBytes), string(stateBytes), string(actionsBytes), string(completedBytes), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
