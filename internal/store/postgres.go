package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/TriageChat/internal/models"
	"github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore is a PostgreSQL-backed Store.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) CreateSession(sess models.Session) error {
	if err := sess.Validate(); err != nil {
		return err
	}
	stateJSON, err := json.Marshal(sess.State)
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO sessions (id, channel, external_id, state_json, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		sess.ID, sess.Channel, nilIfEmpty(sess.ExternalID), string(stateJSON), sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		slog.Error("PostgresStore CreateSession failed", "error", err, "sessionID", sess.ID)
		return fmt.Errorf("failed to insert session %s: %w", sess.ID, err)
	}
	slog.Debug("PostgresStore CreateSession succeeded", "sessionID", sess.ID, "channel", sess.Channel)
	return nil
}

func (s *PostgresStore) GetSession(id string) (models.Session, error) {
	row := s.db.QueryRow(
		`SELECT id, channel, external_id, state_json, created_at, updated_at FROM sessions WHERE id = $1`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Session{}, ErrSessionNotFound
	}
	if err != nil {
		slog.Error("PostgresStore GetSession failed", "error", err, "sessionID", id)
		return models.Session{}, err
	}
	return sess, nil
}

func (s *PostgresStore) FindSessionByExternalID(channel models.Channel, externalID string) (models.Session, error) {
	row := s.db.QueryRow(
		`SELECT id, channel, external_id, state_json, created_at, updated_at FROM sessions
		 WHERE channel = $1 AND external_id = $2 ORDER BY updated_at DESC LIMIT 1`, channel, externalID)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Session{}, ErrSessionNotFound
	}
	if err != nil {
		slog.Error("PostgresStore FindSessionByExternalID failed", "error", err, "channel", channel)
		return models.Session{}, err
	}
	return sess, nil
}

func (s *PostgresStore) SaveSessionState(id string, state models.State) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	res, err := s.db.Exec(`UPDATE sessions SET state_json = $1, updated_at = $2 WHERE id = $3`, string(stateJSON), time.Now(), id)
	if err != nil {
		slog.Error("PostgresStore SaveSessionState failed", "error", err, "sessionID", id)
		return fmt.Errorf("failed to update session %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSessionNotFound
	}
	slog.Debug("PostgresStore SaveSessionState succeeded", "sessionID", id, "phase", state.Phase, "turn", state.Turn)
	return nil
}

// DeleteSession removes the session; turns are removed by the foreign key cascade.
func (s *PostgresStore) DeleteSession(id string) error {
	res, err := s.db.Exec(`DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		slog.Error("PostgresStore DeleteSession failed", "error", err, "sessionID", id)
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *PostgresStore) AppendTurn(t models.Turn) error {
	_, err := s.db.Exec(
		`INSERT INTO turns (session_id, turn, user_text, assistant_message, phase, path, intent, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (session_id, turn) DO UPDATE SET user_text = EXCLUDED.user_text,
		   assistant_message = EXCLUDED.assistant_message, phase = EXCLUDED.phase,
		   path = EXCLUDED.path, intent = EXCLUDED.intent, created_at = EXCLUDED.created_at`,
		t.SessionID, t.Turn, t.UserText, t.AssistantMessage, t.Phase, t.Path, t.Intent, t.CreatedAt,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrSessionNotFound
		}
		slog.Error("PostgresStore AppendTurn failed", "error", err, "sessionID", t.SessionID, "turn", t.Turn)
		return fmt.Errorf("failed to insert turn %d of %s: %w", t.Turn, t.SessionID, err)
	}
	return nil
}

func (s *PostgresStore) ListTurns(sessionID string) ([]models.Turn, error) {
	if _, err := s.GetSession(sessionID); err != nil {
		return nil, err
	}
	rows, err := s.db.Query(
		`SELECT session_id, turn, user_text, assistant_message, phase, path, intent, created_at
		 FROM turns WHERE session_id = $1 ORDER BY turn ASC`, sessionID)
	if err != nil {
		slog.Error("PostgresStore ListTurns query failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()

	turns := []models.Turn{}
	for rows.Next() {
		t, err := scanTurn(rows)
		if err != nil {
			return nil, err
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate turn rows: %w", err)
	}
	return turns, nil
}

// isForeignKeyViolation reports a 23503 error, which here means the session
// does not exist.
func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23503"
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	return s.db.Close()
}
