package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/BTreeMap/TriageChat/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanSession scans id, channel, external_id, state, created_at, updated_at.
func scanSession(row rowScanner) (models.Session, error) {
	var sess models.Session
	var externalID sql.NullString
	var stateJSON []byte
	if err := row.Scan(&sess.ID, &sess.Channel, &externalID, &stateJSON, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
		return sess, err
	}
	sess.ExternalID = externalID.String
	if err := json.Unmarshal(stateJSON, &sess.State); err != nil {
		return sess, fmt.Errorf("decode state of session %s: %w", sess.ID, err)
	}
	return sess, nil
}

// scanTurn scans session_id, turn, user_text, assistant_message, phase, path, intent, created_at.
func scanTurn(row rowScanner) (models.Turn, error) {
	var t models.Turn
	err := row.Scan(&t.SessionID, &t.Turn, &t.UserText, &t.AssistantMessage, &t.Phase, &t.Path, &t.Intent, &t.CreatedAt)
	if err != nil {
		return t, fmt.Errorf("scan turn failed: %w", err)
	}
	return t, nil
}

// scanOutboxMessage scans an OutboxMessage from sql.Rows.
func scanOutboxMessage(rows *sql.Rows) (OutboxMessage, error) {
	var m OutboxMessage
	var dedupeKey, lastError sql.NullString
	var nextAttemptAt, lockedAt sql.NullTime
	err := rows.Scan(
		&m.ID, &m.SessionID, &m.Recipient, &m.Body, &m.Status, &m.Attempts,
		&nextAttemptAt, &dedupeKey, &lockedAt, &lastError, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return m, fmt.Errorf("scan outbox message failed: %w", err)
	}
	m.DedupeKey = dedupeKey.String
	m.LastError = lastError.String
	if nextAttemptAt.Valid {
		m.NextAttemptAt = &nextAttemptAt.Time
	}
	if lockedAt.Valid {
		m.LockedAt = &lockedAt.Time
	}
	return m, nil
}
